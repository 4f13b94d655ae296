package weave

import (
	"context"
	"errors"
	"fmt"

	"ctorweave/internal/trace"
	"ctorweave/internal/unit"
)

// ErrNilEntry is returned when a traversal starts from an absent unit.
var ErrNilEntry = errors.New("nil entry point")

// MethodFunc is called once for every method reached by a visit.
type MethodFunc func(ctx context.Context, m *unit.Method) error

// VisitProgram calls fn for every method of p in declaration order. The first error stops the
// traversal and is returned.
func VisitProgram(ctx context.Context, p *unit.Program, fn MethodFunc) error {
	if p == nil {
		return fmt.Errorf("visit program: %w", ErrNilEntry)
	}
	for _, m := range p.Modules {
		if err := VisitModule(ctx, m, fn); err != nil {
			return err
		}
	}
	return nil
}

// VisitModule calls fn for every method of m in declaration order.
func VisitModule(ctx context.Context, m *unit.Module, fn MethodFunc) error {
	if m == nil {
		return fmt.Errorf("visit module: %w", ErrNilEntry)
	}
	ctx, span := trace.Start(ctx, trace.ScopeModule, "module:"+m.Name)
	var err error
	defer func() { leave(span, err) }()

	for _, t := range m.Types {
		if err = VisitType(ctx, t, fn); err != nil {
			return err
		}
	}
	return nil
}

// VisitType calls fn for every method of t in declaration order.
func VisitType(ctx context.Context, t *unit.Type, fn MethodFunc) error {
	if t == nil {
		return fmt.Errorf("visit type: %w", ErrNilEntry)
	}
	ctx, span := trace.Start(ctx, trace.ScopeType, "type:"+t.FullName())
	var err error
	defer func() { leave(span, err) }()

	for _, mt := range t.Methods {
		if err = VisitMethod(ctx, mt, fn); err != nil {
			return err
		}
	}
	return nil
}

// VisitMethod calls fn for m.
func VisitMethod(ctx context.Context, m *unit.Method, fn MethodFunc) error {
	if m == nil {
		return fmt.Errorf("visit method: %w", ErrNilEntry)
	}
	if err := fn(ctx, m); err != nil {
		return fmt.Errorf("%s: %w", m, err)
	}
	return nil
}

// leave closes a structural span. The failure itself is recorded by the method and session spans.
func leave(span *trace.Span, err error) {
	if err != nil {
		span.End("aborted")
		return
	}
	span.End("")
}
