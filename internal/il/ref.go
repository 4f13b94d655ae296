package il

import "strings"

// CtorName is the method name reserved for instance constructors.
const CtorName = ".ctor"

// TypeRef is a non-owning reference to a type, possibly declared in another module.
// References are compared by Key, never by pointer identity.
type TypeRef struct {
	Module    string
	Namespace string
	Name      string
}

// IsZero reports whether the reference names no type (void results).
func (t TypeRef) IsZero() bool {
	return t.Name == ""
}

// FullName returns Namespace.Name, or Name when the namespace is empty.
func (t TypeRef) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Key identifies the type across modules.
func (t TypeRef) Key() string {
	if t.Module == "" {
		return t.FullName()
	}
	return "[" + t.Module + "]" + t.FullName()
}

// Same reports whether both references resolve to the same type.
func (t TypeRef) Same(other TypeRef) bool {
	return t.Key() == other.Key()
}

func (t TypeRef) String() string {
	if t.IsZero() {
		return "void"
	}
	return t.Key()
}

// MethodRef is a non-owning reference to a method or constructor.
type MethodRef struct {
	DeclaringType TypeRef
	Name          string
	Params        []TypeRef
	Return        TypeRef // zero for void
	HasThis       bool
}

// IsConstructor reports whether the reference names an instance constructor.
func (m MethodRef) IsConstructor() bool {
	return m.Name == CtorName && m.HasThis
}

// Arity is the number of explicit parameters.
func (m MethodRef) Arity() int {
	return len(m.Params)
}

// Key identifies the method, including its parameter list so overloads stay distinct.
func (m MethodRef) Key() string {
	var sb strings.Builder
	sb.WriteString(m.DeclaringType.Key())
	sb.WriteString("::")
	sb.WriteString(m.Name)
	sb.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.Key())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Same reports whether both references resolve to the same method.
func (m MethodRef) Same(other MethodRef) bool {
	return m.HasThis == other.HasThis && m.Key() == other.Key()
}

func (m MethodRef) String() string {
	var sb strings.Builder
	if !m.HasThis {
		sb.WriteString("static ")
	}
	sb.WriteString(m.Return.String())
	sb.WriteByte(' ')
	sb.WriteString(m.Key())
	return sb.String()
}
