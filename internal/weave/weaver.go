package weave

import (
	"ctorweave/internal/il"
	"ctorweave/internal/scan"
)

// Rewrite is the replacement a Weaver produces for one call site. The argument region of the site
// stays in place between the two parts.
type Rewrite struct {
	// Alloc replaces the allocation prefix (new, dup).
	Alloc []*il.Instr
	// Invoke replaces the constructor invocation.
	Invoke []*il.Instr
}

// Weaver turns an eligible call site into its replacement.
type Weaver interface {
	Weave(site *scan.CallSite) (Rewrite, error)
}

// WeaverFunc adapts a function to the Weaver interface.
type WeaverFunc func(site *scan.CallSite) (Rewrite, error)

// Weave calls f(site).
func (f WeaverFunc) Weave(site *scan.CallSite) (Rewrite, error) {
	return f(site)
}
