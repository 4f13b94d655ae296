package weave

import (
	"errors"
	"fmt"

	"ctorweave/internal/il"
	"ctorweave/internal/scan"
)

// ErrRewriteInvariant marks a replacement that would break the body it is committed to.
var ErrRewriteInvariant = errors.New("rewrite breaks body invariant")

// RewriteError reports a rejected replacement. The body is unchanged unless Committed is set.
type RewriteError struct {
	Site      string
	Reason    string
	Committed bool // the replacement was placed and the resulting body failed il.Validate
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Site, ErrRewriteInvariant, e.Reason)
}

// Is matches ErrRewriteInvariant.
func (e *RewriteError) Is(target error) bool {
	return target == ErrRewriteInvariant
}

// Apply validates rw against site and commits it to the enclosing body. The body must pass
// il.Validate before the commit and is validated again after it. References to the
// allocation are relinked to the first replacement instruction, or to the first argument
// instruction when Alloc is empty.
func Apply(site *scan.CallSite, rw Rewrite) error {
	if site == nil || site.Method == nil || site.Method.Body == nil {
		return &RewriteError{Site: "<nil>", Reason: "site has no body"}
	}
	body := site.Method.Body
	if err := il.Validate(body); err != nil {
		return fmt.Errorf("%s: body invalid before rewrite: %w", site, err)
	}
	if reason := checkRewrite(body, site, rw); reason != "" {
		return &RewriteError{Site: site.String(), Reason: reason}
	}

	// Invoke first: it sits after the allocation, so the allocation index stays valid.
	if err := body.Replace(site.InvokeIndex(), 1, rw.Invoke...); err != nil {
		return fmt.Errorf("%s: commit invoke: %w", site, err)
	}
	if err := body.Replace(site.Start, 2, rw.Alloc...); err != nil {
		return fmt.Errorf("%s: commit alloc: %w", site, err)
	}
	if err := il.Validate(body); err != nil {
		return &RewriteError{Site: site.String(), Reason: err.Error(), Committed: true}
	}
	return nil
}

// checkRewrite returns a non-empty reason when rw must not be committed.
func checkRewrite(body *il.Body, site *scan.CallSite, rw Rewrite) string {
	// 1. The site still describes the body
	alloc, dup, invoke := body.At(site.Start), body.At(site.Start+1), body.At(site.InvokeIndex())
	if alloc == nil || alloc.Op != il.OpNew || dup == nil || dup.Op != il.OpDup ||
		invoke == nil || invoke.Op != il.OpCallCtor || site.Count < 3 {
		return "site no longer matches the body"
	}

	if len(rw.Invoke) == 0 {
		return "empty invoke replacement"
	}

	// 2. Fresh, well-formed instructions without control transfer
	seen := make(map[*il.Instr]bool, len(rw.Alloc)+len(rw.Invoke))
	for _, part := range [][]*il.Instr{rw.Alloc, rw.Invoke} {
		for _, ins := range part {
			if ins == nil {
				return "nil instruction in replacement"
			}
			if seen[ins] || body.IndexOf(ins) >= 0 {
				return fmt.Sprintf("instruction %s is already placed", ins)
			}
			seen[ins] = true
			if err := il.CheckOperand(ins); err != nil {
				return err.Error()
			}
			if ins.Op.TransfersControl() {
				return fmt.Sprintf("%s introduces a control-flow edge", ins.Op)
			}
		}
	}

	// 3. Stack shape: the expression still leaves exactly one value
	depth, at, ok := il.Simulate(rw.Alloc, 0)
	if !ok {
		return fmt.Sprintf("alloc underflows at %s", rw.Alloc[at])
	}
	depth, at, ok = il.Simulate(rw.Invoke, depth+site.Ctor.Arity())
	if !ok {
		return fmt.Sprintf("invoke underflows at %s", rw.Invoke[at])
	}
	if depth != 1 {
		return fmt.Sprintf("expression leaves %d values, want 1", depth)
	}

	// 4. Same static type as the original expression
	last := rw.Invoke[len(rw.Invoke)-1]
	got, known := il.ResultType(last)
	if !known || !got.Same(site.Type) {
		return fmt.Sprintf("expression yields %s, want %s", got, site.Type)
	}
	return ""
}
