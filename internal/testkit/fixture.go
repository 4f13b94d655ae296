package testkit

import (
	"ctorweave/internal/il"
	"ctorweave/internal/unit"
)

// Common type references used by fixtures.
var (
	Int32  = il.TypeRef{Namespace: "Runtime", Name: "Int32"}
	String = il.TypeRef{Namespace: "Runtime", Name: "String"}
)

// Fixture is a one-module program with a caller type whose methods hold the bodies under test,
// plus any number of constructible types.
type Fixture struct {
	Program *unit.Program
	Module  *unit.Module
	Caller  *unit.Type
}

// NewFixture creates program "test" with module "app" and caller type App.Caller.
func NewFixture() *Fixture {
	p := unit.NewProgram("test")
	m := p.NewModule("app")
	return &Fixture{Program: p, Module: m, Caller: m.NewType("App", "Caller")}
}

// Class declares App.<name> with one instance constructor taking params.
func (f *Fixture) Class(name string, params ...il.TypeRef) (il.TypeRef, il.MethodRef) {
	t := f.Module.NewType("App", name)
	ctor := t.NewConstructor(params...)
	return t.Ref(), ctor.Ref()
}

// Method declares a static method on the caller type with the given body.
func (f *Fixture) Method(name string, ret il.TypeRef, instrs ...*il.Instr) *unit.Method {
	mt := f.Caller.NewMethod(name, true, ret, Int32)
	mt.Body = il.NewBody(instrs...)
	return mt
}

// Static declares a host method App.Host::<name> and returns its reference.
func (f *Fixture) Static(name string, ret il.TypeRef, params ...il.TypeRef) il.MethodRef {
	host, ok := f.Program.LookupType(il.TypeRef{Module: f.Module.Name, Namespace: "App", Name: "Host"})
	if !ok {
		host = f.Module.NewType("App", "Host")
	}
	return host.NewMethod(name, true, ret, params...).Ref()
}

// Construction returns the canonical pattern new T; dup; args...; callctor ctor.
func Construction(typ il.TypeRef, ctor il.MethodRef, args ...*il.Instr) []*il.Instr {
	out := make([]*il.Instr, 0, len(args)+3)
	out = append(out, il.WithType(il.OpNew, typ), il.Simple(il.OpDup))
	out = append(out, args...)
	return append(out, il.WithMethod(il.OpCallCtor, ctor))
}

// Seq concatenates instruction groups.
func Seq(groups ...[]*il.Instr) []*il.Instr {
	var out []*il.Instr
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
