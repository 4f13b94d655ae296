package unit_test

import (
	"errors"
	"slices"
	"testing"

	"ctorweave/internal/il"
	"ctorweave/internal/unit"
)

var int32Ref = il.TypeRef{Namespace: "Runtime", Name: "Int32"}

func TestOwnershipIsExclusive(t *testing.T) {
	p := unit.NewProgram("p")
	a := p.NewModule("a")
	b := p.NewModule("b")
	typ := a.NewType("App", "Widget")

	if err := b.AddType(typ); !errors.Is(err, unit.ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned, got %v", err)
	}
	if err := unit.NewProgram("q").AddModule(a); !errors.Is(err, unit.ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned for module, got %v", err)
	}
	m := typ.NewMethod("Run", true, il.TypeRef{})
	if err := b.NewType("App", "Other").AddMethod(m); !errors.Is(err, unit.ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned for method, got %v", err)
	}
	if m.Type != typ || typ.Module != a || a.Program != p {
		t.Fatalf("back-references not set")
	}
}

func TestRefsAndLookup(t *testing.T) {
	p := unit.NewProgram("p")
	mod := p.NewModule("core")
	typ := mod.NewType("App", "Widget")
	ctor := typ.NewConstructor(int32Ref)
	build := typ.NewMethod("Build", true, typ.Ref(), int32Ref)

	if got := typ.Ref().Key(); got != "[core]App.Widget" {
		t.Fatalf("type key = %q", got)
	}
	if !ctor.IsConstructor() || !ctor.Ref().IsConstructor() {
		t.Fatalf("constructor not recognized")
	}
	if build.IsConstructor() {
		t.Fatalf("static method reported as constructor")
	}
	if got := ctor.String(); got != "[core]App.Widget::.ctor(Runtime.Int32)" {
		t.Fatalf("ctor key = %q", got)
	}

	found, ok := p.LookupType(il.TypeRef{Module: "core", Namespace: "App", Name: "Widget"})
	if !ok || found != typ {
		t.Fatalf("LookupType failed")
	}
	if _, ok := p.LookupType(il.TypeRef{Namespace: "App", Name: "Widget"}); ok {
		t.Fatalf("lookup without module should miss")
	}
	if got, ok := p.LookupMethod(ctor.Ref()); !ok || got != ctor {
		t.Fatalf("LookupMethod failed")
	}
	instance := build.Ref()
	instance.HasThis = true
	if _, ok := p.LookupMethod(instance); ok {
		t.Fatalf("static method resolved as instance method")
	}

	ref := ctor.Ref()
	ref.Params[0] = il.TypeRef{Namespace: "Runtime", Name: "String"}
	if ctor.Params[0] != int32Ref {
		t.Fatalf("reference shares the parameter list of its method")
	}

	late := typ.NewMethod("Late", true, il.TypeRef{})
	if _, ok := p.LookupMethod(late.Ref()); !ok {
		t.Fatalf("index not refreshed after AddMethod")
	}
}

func TestDeclarationOrder(t *testing.T) {
	p := unit.NewProgram("p")
	a := p.NewModule("a")
	t1 := a.NewType("N", "T1")
	t1.NewMethod("m1", true, il.TypeRef{})
	t1.NewConstructor()
	b := p.NewModule("b")
	b.NewType("N", "T2").NewMethod("m2", true, il.TypeRef{})

	var names []string
	for m := range p.Methods() {
		names = append(names, m.Name)
	}
	if want := []string{"m1", il.CtorName, "m2"}; !slices.Equal(names, want) {
		t.Fatalf("methods = %v, want %v", names, want)
	}
	var ctors int
	for range t1.Constructors() {
		ctors++
	}
	if ctors != 1 {
		t.Fatalf("constructors = %d, want 1", ctors)
	}
}
