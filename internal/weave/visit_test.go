package weave_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"ctorweave/internal/il"
	"ctorweave/internal/unit"
	"ctorweave/internal/weave"
)

func TestVisitOrderAndEarlyStop(t *testing.T) {
	p := unit.NewProgram("p")
	a := p.NewModule("a")
	t1 := a.NewType("N", "T1")
	t1.NewMethod("m1", true, il.TypeRef{})
	t1.NewMethod("m2", true, il.TypeRef{})
	p.NewModule("b").NewType("N", "T2").NewMethod("m3", true, il.TypeRef{})

	var seen []string
	record := func(_ context.Context, m *unit.Method) error {
		seen = append(seen, m.Name)
		return nil
	}
	if err := weave.VisitProgram(context.Background(), p, record); err != nil {
		t.Fatalf("visit: %v", err)
	}
	if want := []string{"m1", "m2", "m3"}; !slices.Equal(seen, want) {
		t.Fatalf("visited %v, want %v", seen, want)
	}

	seen = nil
	stop := errors.New("stop")
	err := weave.VisitProgram(context.Background(), p, func(ctx context.Context, m *unit.Method) error {
		seen = append(seen, m.Name)
		if m.Name == "m2" {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || !slices.Equal(seen, []string{"m1", "m2"}) {
		t.Fatalf("early stop: err=%v seen=%v", err, seen)
	}

	if err := weave.VisitType(context.Background(), nil, record); !errors.Is(err, weave.ErrNilEntry) {
		t.Fatalf("expected ErrNilEntry, got %v", err)
	}
}
