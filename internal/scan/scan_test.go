package scan_test

import (
	"errors"
	"testing"

	"ctorweave/internal/il"
	"ctorweave/internal/scan"
	"ctorweave/internal/testkit"
)

func collect(t *testing.T, cur *scan.Cursor) ([]scan.CallSite, []scan.MalformedError) {
	t.Helper()
	var skipped []scan.MalformedError
	cur.OnSkip = func(e *scan.MalformedError) { skipped = append(skipped, *e) }
	var sites []scan.CallSite
	for {
		site, ok := cur.Next()
		if !ok {
			return sites, skipped
		}
		sites = append(sites, site)
	}
}

func TestSingleSite(t *testing.T) {
	f := testkit.NewFixture()
	typ, ctor := f.Class("Bar", testkit.Int32, testkit.Int32)
	m := f.Method("Make", typ, testkit.Seq(
		testkit.Construction(typ, ctor, il.Int(1), il.Int(2)),
		[]*il.Instr{il.Simple(il.OpRet)},
	)...)

	sites, skipped := collect(t, scan.NewCursor(m))
	if len(skipped) != 0 || len(sites) != 1 {
		t.Fatalf("sites=%d skipped=%v", len(sites), skipped)
	}
	s := sites[0]
	if s.Start != 0 || s.Count != 5 || s.ArgStart != 2 || s.ArgCount != 2 || s.InvokeIndex() != 4 {
		t.Fatalf("unexpected geometry: %+v", s)
	}
	if !s.Type.Same(typ) || !s.Ctor.Same(ctor) || !s.Caller.Same(m.Ref()) || s.Method != m {
		t.Fatalf("unexpected references: %s", &s)
	}
}

func TestBaseConstructorChainIsNotASite(t *testing.T) {
	f := testkit.NewFixture()
	_, base := f.Class("Base")
	derived := f.Module.NewType("App", "Derived")
	ctor := derived.NewConstructor()
	ctor.Body = il.NewBody(
		il.Slot(il.OpLdArg, 0),
		il.WithMethod(il.OpCallCtor, base),
		il.Simple(il.OpRet),
	)

	sites, skipped := collect(t, scan.NewCursor(ctor))
	if len(sites) != 0 || len(skipped) != 0 {
		t.Fatalf("chained constructor call classified: sites=%v skipped=%v", sites, skipped)
	}
}

func TestNestedSitesFollowEnclosing(t *testing.T) {
	f := testkit.NewFixture()
	inner, innerCtor := f.Class("Inner", testkit.Int32)
	outer, outerCtor := f.Class("Outer", inner, testkit.Int32)
	m := f.Method("Make", outer, testkit.Seq(
		testkit.Construction(outer, outerCtor,
			testkit.Seq(testkit.Construction(inner, innerCtor, il.Int(1)), []*il.Instr{il.Int(2)})...),
		[]*il.Instr{il.Simple(il.OpRet)},
	)...)

	var got []string
	for s := range scan.Sites(m) {
		got = append(got, s.Type.Name)
	}
	if len(got) != 2 || got[0] != "Outer" || got[1] != "Inner" {
		t.Fatalf("sites = %v, want [Outer Inner]", got)
	}
}

func TestMalformedCandidates(t *testing.T) {
	f := testkit.NewFixture()
	typ, ctor := f.Class("Widget", testkit.Int32)
	_, otherCtor := f.Class("Other", testkit.Int32)

	tests := []struct {
		name   string
		body   func() []*il.Instr
		reason scan.Reason
	}{
		{
			name: "no dup",
			body: func() []*il.Instr {
				return []*il.Instr{il.WithType(il.OpNew, typ), il.Simple(il.OpPop), il.Simple(il.OpRet)}
			},
			reason: scan.ReasonNoDup,
		},
		{
			name: "branch in arguments",
			body: func() []*il.Instr {
				ret := il.Simple(il.OpRet)
				return []*il.Instr{
					il.WithType(il.OpNew, typ), il.Simple(il.OpDup),
					il.Slot(il.OpLdArg, 0), il.Branch(il.OpBrTrue, ret),
					il.Int(1), il.WithMethod(il.OpCallCtor, ctor), ret,
				}
			},
			reason: scan.ReasonControlFlow,
		},
		{
			name: "jump into arguments",
			body: func() []*il.Instr {
				arg := il.Int(1)
				return []*il.Instr{
					il.Branch(il.OpBr, arg),
					il.WithType(il.OpNew, typ), il.Simple(il.OpDup),
					arg, il.WithMethod(il.OpCallCtor, ctor), il.Simple(il.OpRet),
				}
			},
			reason: scan.ReasonJumpInto,
		},
		{
			name: "constructor of another type",
			body: func() []*il.Instr {
				return []*il.Instr{
					il.WithType(il.OpNew, typ), il.Simple(il.OpDup),
					il.Int(1), il.WithMethod(il.OpCallCtor, otherCtor), il.Simple(il.OpRet),
				}
			},
			reason: scan.ReasonCtorMismatch,
		},
		{
			name: "storage consumed by pop",
			body: func() []*il.Instr {
				return []*il.Instr{
					il.WithType(il.OpNew, typ), il.Simple(il.OpDup),
					il.Simple(il.OpPop), il.Simple(il.OpPop), il.Simple(il.OpRet),
				}
			},
			reason: scan.ReasonStack,
		},
		{
			name: "unterminated",
			body: func() []*il.Instr {
				return []*il.Instr{il.WithType(il.OpNew, typ), il.Simple(il.OpDup), il.Int(1)}
			},
			reason: scan.ReasonUnterminated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := f.Method("M_"+tt.name, il.TypeRef{}, tt.body()...)
			sites, skipped := collect(t, scan.NewCursor(m))
			if len(sites) != 0 {
				t.Fatalf("malformed candidate classified: %v", sites)
			}
			if len(skipped) != 1 || skipped[0].Reason != tt.reason {
				t.Fatalf("skipped = %v, want one %s", skipped, tt.reason)
			}
			if err := error(&skipped[0]); !errors.Is(err, scan.ErrMalformedPattern) {
				t.Fatalf("skip error does not match ErrMalformedPattern: %v", err)
			}
		})
	}
}

func TestEmptyAndMissingBodies(t *testing.T) {
	f := testkit.NewFixture()
	empty := f.Method("Empty", il.TypeRef{})
	if _, ok := scan.NewCursor(empty).Next(); ok {
		t.Fatalf("site found in empty body")
	}
	abstract := f.Caller.NewMethod("Abstract", false, il.TypeRef{})
	if _, ok := scan.NewCursor(abstract).Next(); ok {
		t.Fatalf("site found in method without body")
	}
}

func TestSeekRescansLiveBody(t *testing.T) {
	f := testkit.NewFixture()
	typ, ctor := f.Class("Widget")
	m := f.Method("Twice", il.TypeRef{}, testkit.Seq(
		testkit.Construction(typ, ctor),
		[]*il.Instr{il.Simple(il.OpPop)},
		testkit.Construction(typ, ctor),
		[]*il.Instr{il.Simple(il.OpPop), il.Simple(il.OpRet)},
	)...)

	cur := scan.NewCursor(m)
	first, ok := cur.Next()
	if !ok || first.Start != 0 {
		t.Fatalf("first site: %v %v", first, ok)
	}
	// Drop the first construction; the second one moves to index 1.
	if err := m.Body.Replace(0, 3, il.Simple(il.OpLdNull)); err != nil {
		t.Fatalf("replace: %v", err)
	}
	cur.Seek(1)
	second, ok := cur.Next()
	if !ok || second.Start != 2 {
		t.Fatalf("second site: %v %v", second, ok)
	}
}
