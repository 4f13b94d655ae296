package weave

import (
	"errors"
	"fmt"

	"ctorweave/internal/il"
	"ctorweave/internal/scan"
)

// ErrFactorySignature is returned when a configured factory cannot stand in for a constructor.
var ErrFactorySignature = errors.New("factory signature does not match constructor")

var (
	// ObjectType is the static type returned by the default activation entry point.
	ObjectType = il.TypeRef{Namespace: "Runtime", Name: "Object"}
	// TypeTokenType is the type of the token pushed by ldtype.
	TypeTokenType = il.TypeRef{Namespace: "Runtime", Name: "Type"}

	// DefaultActivator is the activation entry point used when none is configured. It receives the
	// type token followed by the evaluated constructor arguments.
	DefaultActivator = il.MethodRef{
		DeclaringType: il.TypeRef{Namespace: "Runtime.Activation", Name: "Activator"},
		Name:          "CreateInstance",
		Params:        []il.TypeRef{TypeTokenType},
		Return:        ObjectType,
	}
)

// Redirector is the default Weaver: it routes construction through an activation service.
//
//	new T; dup; <args>; callctor T::.ctor
//
// becomes
//
//	ldtype T; <args>; activate Entry for T::.ctor; castclass T
//
// When Factories holds a static method for T, the site is bound at weave time instead:
//
//	<args>; call Factory
type Redirector struct {
	Entry il.MethodRef
	// Factories maps a type key (or full name) to a static factory method.
	Factories map[string]il.MethodRef
}

// NewRedirector creates a Redirector calling entry. A zero entry selects DefaultActivator.
func NewRedirector(entry il.MethodRef) *Redirector {
	if entry.Name == "" {
		entry = DefaultActivator
	}
	return &Redirector{Entry: entry}
}

// Weave implements Weaver.
func (r *Redirector) Weave(site *scan.CallSite) (Rewrite, error) {
	if f, ok := r.factory(site.Type); ok {
		if err := checkFactory(f, site.Ctor); err != nil {
			return Rewrite{}, err
		}
		invoke := []*il.Instr{il.WithMethod(il.OpCall, f)}
		if !f.Return.Same(site.Type) {
			invoke = append(invoke, il.WithType(il.OpCastClass, site.Type))
		}
		return Rewrite{Invoke: invoke}, nil
	}

	entry := r.Entry
	if entry.Name == "" {
		entry = DefaultActivator
	}
	invoke := []*il.Instr{il.Activate(entry, site.Ctor)}
	if !entry.Return.Same(site.Type) {
		invoke = append(invoke, il.WithType(il.OpCastClass, site.Type))
	}
	return Rewrite{
		Alloc:  []*il.Instr{il.WithType(il.OpLdType, site.Type)},
		Invoke: invoke,
	}, nil
}

func (r *Redirector) factory(t il.TypeRef) (il.MethodRef, bool) {
	if len(r.Factories) == 0 {
		return il.MethodRef{}, false
	}
	if f, ok := r.Factories[t.Key()]; ok {
		return f, true
	}
	f, ok := r.Factories[t.FullName()]
	return f, ok
}

func checkFactory(f, ctor il.MethodRef) error {
	if f.HasThis {
		return fmt.Errorf("%w: %s is not static", ErrFactorySignature, f.Key())
	}
	if f.Return.IsZero() {
		return fmt.Errorf("%w: %s returns nothing", ErrFactorySignature, f.Key())
	}
	if f.Arity() != ctor.Arity() {
		return fmt.Errorf("%w: %s takes %d arguments, %s takes %d",
			ErrFactorySignature, f.Key(), f.Arity(), ctor.Key(), ctor.Arity())
	}
	for i := range f.Params {
		if !f.Params[i].Same(ctor.Params[i]) {
			return fmt.Errorf("%w: %s parameter %d is %s, want %s",
				ErrFactorySignature, f.Key(), i, f.Params[i], ctor.Params[i])
		}
	}
	return nil
}
