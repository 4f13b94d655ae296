package ctorweave_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ctorweave"
	"ctorweave/internal/il"
	"ctorweave/internal/testkit"
	"ctorweave/internal/trace"
)

func fooOnly(_ ctorweave.MethodRef, typ ctorweave.TypeRef, _ ctorweave.MethodRef) (bool, error) {
	return typ.Name == "Foo", nil
}

func TestEntryPointGranularity(t *testing.T) {
	build := func() (*testkit.Fixture, *ctorweave.Method) {
		f := testkit.NewFixture()
		foo, ctor := f.Class("Foo")
		m := f.Method("Make", foo, testkit.Seq(testkit.Construction(foo, ctor), []*il.Instr{il.Simple(il.OpRet)})...)
		return f, m
	}
	ctx := context.Background()
	entries := map[string]func(f *testkit.Fixture, m *ctorweave.Method) (*ctorweave.Report, error){
		"program": func(f *testkit.Fixture, _ *ctorweave.Method) (*ctorweave.Report, error) {
			return ctorweave.InterceptProgram(ctx, f.Program, fooOnly)
		},
		"module": func(f *testkit.Fixture, _ *ctorweave.Method) (*ctorweave.Report, error) {
			return ctorweave.InterceptModule(ctx, f.Module, fooOnly)
		},
		"type": func(f *testkit.Fixture, _ *ctorweave.Method) (*ctorweave.Report, error) {
			return ctorweave.InterceptType(ctx, f.Caller, fooOnly)
		},
		"method": func(_ *testkit.Fixture, m *ctorweave.Method) (*ctorweave.Report, error) {
			return ctorweave.InterceptMethod(ctx, m, fooOnly)
		},
	}
	var want string
	for _, name := range []string{"program", "module", "type", "method"} {
		f, m := build()
		report, err := entries[name](f, m)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got := report.Totals().Woven; got != 1 {
			t.Fatalf("%s: woven = %d", name, got)
		}
		dump := il.DumpString(m.Body)
		if want == "" {
			want = dump
		} else if dump != want {
			t.Fatalf("%s: result differs from program-level weave\n%s", name, dump)
		}
	}
}

func TestOptions(t *testing.T) {
	f := testkit.NewFixture()
	foo, ctor := f.Class("Foo", testkit.Int32)
	factory := f.Static("MakeFoo", foo, testkit.Int32)
	m := f.Method("Make", foo, testkit.Seq(testkit.Construction(foo, ctor, il.Int(1)), []*il.Instr{il.Simple(il.OpRet)})...)
	skipped := f.Method("Skip", foo, testkit.Seq(testkit.Construction(foo, ctor, il.Int(2)), []*il.Instr{il.Simple(il.OpRet)})...)

	ring := trace.NewRing(64, trace.LevelDebug)
	report, err := ctorweave.InterceptType(context.Background(), f.Caller, fooOnly,
		ctorweave.WithFactories(map[string]ctorweave.MethodRef{"App.Foo": factory}),
		ctorweave.WithMethodFilter(func(mr ctorweave.MethodRef) (bool, error) { return mr.Name != "Skip", nil }),
		ctorweave.WithJobs(2),
		ctorweave.WithTracer(ring),
	)
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if m.Body.At(1).Op != il.OpCall || skipped.Body.At(0).Op != il.OpNew {
		t.Fatalf("options not applied:\n%s\n%s", il.DumpString(m.Body), il.DumpString(skipped.Body))
	}
	if report.Totals().Admitted != 1 {
		t.Fatalf("admitted = %d", report.Totals().Admitted)
	}
	if len(ring.Snapshot()) == 0 {
		t.Fatalf("tracer received no events")
	}
}

func TestCustomWeaverAndActivator(t *testing.T) {
	f := testkit.NewFixture()
	foo, ctor := f.Class("Foo")
	m := f.Method("Make", foo, testkit.Seq(testkit.Construction(foo, ctor), []*il.Instr{il.Simple(il.OpRet)})...)
	entry := ctorweave.MethodRef{
		DeclaringType: ctorweave.TypeRef{Namespace: "Di", Name: "Container"},
		Name:          "Get",
		Return:        foo,
	}
	if _, err := ctorweave.InterceptMethod(context.Background(), m, nil, ctorweave.WithActivator(entry)); err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if a := m.Body.At(1).Operand.Activation; a == nil || !a.Entry.Same(entry) {
		t.Fatalf("activator not used:\n%s", il.DumpString(m.Body))
	}

	boom := errors.New("weaver down")
	g := testkit.NewFixture()
	gfoo, gctor := g.Class("Foo")
	gm := g.Method("Make", gfoo, testkit.Seq(testkit.Construction(gfoo, gctor), []*il.Instr{il.Simple(il.OpRet)})...)
	w := ctorweave.WeaverFunc(func(*ctorweave.CallSite) (ctorweave.Rewrite, error) { return ctorweave.Rewrite{}, boom })
	if _, err := ctorweave.InterceptMethod(context.Background(), gm, nil, ctorweave.WithWeaver(w)); !errors.Is(err, boom) {
		t.Fatalf("expected weaver error, got %v", err)
	}
}

func TestNilEntry(t *testing.T) {
	if _, err := ctorweave.InterceptModule(context.Background(), nil, fooOnly); !errors.Is(err, ctorweave.ErrNilEntry) {
		t.Fatalf("expected ErrNilEntry, got %v", err)
	}
}

func TestConfigOptions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weave.toml")
	content := "jobs = 2\n[types]\ninclude = [\"App.Foo\"]\n[trace]\nlevel = \"phase\"\nmode = \"ring\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := ctorweave.LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	typeFilter, opts, err := ctorweave.ConfigOptions(cfg)
	if err != nil {
		t.Fatalf("options: %v", err)
	}

	f := testkit.NewFixture()
	foo, fooCtor := f.Class("Foo")
	bar, barCtor := f.Class("Bar")
	m := f.Method("Make", il.TypeRef{}, testkit.Seq(
		testkit.Construction(foo, fooCtor), []*il.Instr{il.Simple(il.OpPop)},
		testkit.Construction(bar, barCtor), []*il.Instr{il.Simple(il.OpPop), il.Simple(il.OpRet)},
	)...)
	report, err := ctorweave.InterceptProgram(context.Background(), f.Program, typeFilter, opts...)
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}
	if mr, ok := report.Lookup(m.String()); !ok || mr.Woven != 1 || mr.Rejected != 1 {
		t.Fatalf("unexpected report: %+v", mr)
	}
}
