// Package unit models the structural tree of a compiled program: a Program owns Modules, a Module
// owns Types, a Type owns Methods, and a Method owns its instruction body.
//
// Ownership is strict. Every node carries a non-owning back-reference to its parent, and the
// Add* methods refuse nodes that already belong to another parent. References between methods and
// types of different modules never go through ownership; they are il.TypeRef / il.MethodRef keys
// resolved with Program.LookupType and Program.LookupMethod.
package unit

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"ctorweave/internal/il"
)

// ErrAlreadyOwned is returned when adding a node that already has a parent.
var ErrAlreadyOwned = errors.New("unit already owned")

// Program is the top-level compiled artifact.
type Program struct {
	Name    string
	Modules []*Module

	types   map[string]*Type
	methods map[string]*Method
}

// Module is one compiled module of a program.
type Module struct {
	Name    string
	Program *Program
	Types   []*Type
}

// Type is a type declared in a module.
type Type struct {
	Namespace string
	Name      string
	Base      *il.TypeRef
	Module    *Module
	Methods   []*Method
}

// Method is a method or constructor declared by a type. Body is nil for methods without code.
type Method struct {
	Name   string
	Type   *Type
	Params []il.TypeRef
	Return il.TypeRef
	Static bool
	Body   *il.Body
}

// NewProgram creates an empty program.
func NewProgram(name string) *Program {
	return &Program{Name: name}
}

// NewModule creates a module and appends it to the program.
func (p *Program) NewModule(name string) *Module {
	m := &Module{Name: name}
	_ = p.AddModule(m) //nolint:errcheck // fresh module has no owner
	return m
}

// AddModule appends an unowned module.
func (p *Program) AddModule(m *Module) error {
	if m == nil {
		return fmt.Errorf("add module: nil module")
	}
	if m.Program != nil {
		return fmt.Errorf("module %s: %w by program %s", m.Name, ErrAlreadyOwned, m.Program.Name)
	}
	m.Program = p
	p.Modules = append(p.Modules, m)
	p.invalidate()
	return nil
}

// NewType creates a type and appends it to the module.
func (m *Module) NewType(namespace, name string) *Type {
	t := &Type{Namespace: namespace, Name: name}
	_ = m.AddType(t) //nolint:errcheck // fresh type has no owner
	return t
}

// AddType appends an unowned type.
func (m *Module) AddType(t *Type) error {
	if t == nil {
		return fmt.Errorf("add type: nil type")
	}
	if t.Module != nil {
		return fmt.Errorf("type %s: %w by module %s", t.FullName(), ErrAlreadyOwned, t.Module.Name)
	}
	t.Module = m
	m.Types = append(m.Types, t)
	if m.Program != nil {
		m.Program.invalidate()
	}
	return nil
}

// NewMethod creates a method and appends it to the type.
func (t *Type) NewMethod(name string, static bool, ret il.TypeRef, params ...il.TypeRef) *Method {
	mt := &Method{Name: name, Static: static, Return: ret, Params: params}
	_ = t.AddMethod(mt) //nolint:errcheck // fresh method has no owner
	return mt
}

// NewConstructor creates an instance constructor and appends it to the type.
func (t *Type) NewConstructor(params ...il.TypeRef) *Method {
	return t.NewMethod(il.CtorName, false, il.TypeRef{}, params...)
}

// AddMethod appends an unowned method.
func (t *Type) AddMethod(mt *Method) error {
	if mt == nil {
		return fmt.Errorf("add method: nil method")
	}
	if mt.Type != nil {
		return fmt.Errorf("method %s: %w by type %s", mt.Name, ErrAlreadyOwned, mt.Type.FullName())
	}
	mt.Type = t
	t.Methods = append(t.Methods, mt)
	if t.Module != nil && t.Module.Program != nil {
		t.Module.Program.invalidate()
	}
	return nil
}

// FullName returns Namespace.Name.
func (t *Type) FullName() string {
	return t.Ref().FullName()
}

// Ref returns a reference to the type.
func (t *Type) Ref() il.TypeRef {
	ref := il.TypeRef{Namespace: t.Namespace, Name: t.Name}
	if t.Module != nil {
		ref.Module = t.Module.Name
	}
	return ref
}

// Constructors yields the instance constructors of the type in declaration order.
func (t *Type) Constructors() iter.Seq[*Method] {
	return func(yield func(*Method) bool) {
		for _, mt := range t.Methods {
			if mt.IsConstructor() && !yield(mt) {
				return
			}
		}
	}
}

// IsConstructor reports whether the method is an instance constructor.
func (mt *Method) IsConstructor() bool {
	return mt.Name == il.CtorName && !mt.Static
}

// Ref returns a reference to the method. The reference owns its parameter list.
func (mt *Method) Ref() il.MethodRef {
	ref := il.MethodRef{
		Name:    mt.Name,
		Params:  slices.Clone(mt.Params),
		Return:  mt.Return,
		HasThis: !mt.Static,
	}
	if mt.Type != nil {
		ref.DeclaringType = mt.Type.Ref()
	}
	return ref
}

// String returns the method key.
func (mt *Method) String() string {
	return mt.Ref().Key()
}

// Methods yields every method of the program in declaration order.
func (p *Program) Methods() iter.Seq[*Method] {
	return func(yield func(*Method) bool) {
		for _, m := range p.Modules {
			for mt := range m.Methods() {
				if !yield(mt) {
					return
				}
			}
		}
	}
}

// Methods yields every method of the module in declaration order.
func (m *Module) Methods() iter.Seq[*Method] {
	return func(yield func(*Method) bool) {
		for _, t := range m.Types {
			for _, mt := range t.Methods {
				if !yield(mt) {
					return
				}
			}
		}
	}
}

func (p *Program) invalidate() {
	p.types = nil
	p.methods = nil
}

func (p *Program) buildIndex() {
	p.types = make(map[string]*Type)
	p.methods = make(map[string]*Method)
	for _, m := range p.Modules {
		for _, t := range m.Types {
			p.types[t.Ref().Key()] = t
			for _, mt := range t.Methods {
				p.methods[mt.Ref().Key()] = mt
			}
		}
	}
}

// LookupType resolves a type reference against every module of the program.
func (p *Program) LookupType(ref il.TypeRef) (*Type, bool) {
	if p.types == nil {
		p.buildIndex()
	}
	t, ok := p.types[ref.Key()]
	return t, ok
}

// LookupMethod resolves a method reference against every module of the program.
func (p *Program) LookupMethod(ref il.MethodRef) (*Method, bool) {
	if p.methods == nil {
		p.buildIndex()
	}
	mt, ok := p.methods[ref.Key()]
	if !ok || mt.Static == ref.HasThis {
		return nil, false
	}
	return mt, true
}
