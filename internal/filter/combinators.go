package filter

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"ctorweave/internal/il"
)

// AnyType admits every construction.
func AnyType() TypeFilter {
	return TypeFunc(func(il.MethodRef, il.TypeRef, il.MethodRef) bool { return true })
}

// AnyMethod admits every method.
func AnyMethod() MethodFilter {
	return MethodFunc(func(il.MethodRef) bool { return true })
}

// TypeNamed admits constructions whose type full name (or key) is one of names.
func TypeNamed(names ...string) TypeFilter {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return TypeFunc(func(_ il.MethodRef, typ il.TypeRef, _ il.MethodRef) bool {
		if _, ok := set[typ.FullName()]; ok {
			return true
		}
		_, ok := set[typ.Key()]
		return ok
	})
}

// TypeMatch admits constructions whose type full name matches one of the glob patterns
// (path.Match syntax, '*' does not cross '/').
func TypeMatch(patterns ...string) (TypeFilter, error) {
	if err := checkPatterns(patterns); err != nil {
		return nil, err
	}
	return TypeFunc(func(_ il.MethodRef, typ il.TypeRef, _ il.MethodRef) bool {
		return matchAny(patterns, typ.FullName())
	}), nil
}

// InModule admits constructions of types declared in one of the named modules.
func InModule(modules ...string) TypeFilter {
	return TypeFunc(func(_ il.MethodRef, typ il.TypeRef, _ il.MethodRef) bool {
		return slices.Contains(modules, typ.Module)
	})
}

// AllTypes admits a construction when every filter does. Evaluation stops at the first rejection
// or error.
func AllTypes(filters ...TypeFilter) TypeFilter {
	return func(ctor il.MethodRef, typ il.TypeRef, caller il.MethodRef) (bool, error) {
		for _, f := range filters {
			ok, err := f(ctor, typ, caller)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// AnyOfTypes admits a construction when one filter does.
func AnyOfTypes(filters ...TypeFilter) TypeFilter {
	return func(ctor il.MethodRef, typ il.TypeRef, caller il.MethodRef) (bool, error) {
		for _, f := range filters {
			ok, err := f(ctor, typ, caller)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// NotType inverts a type filter.
func NotType(f TypeFilter) TypeFilter {
	return func(ctor il.MethodRef, typ il.TypeRef, caller il.MethodRef) (bool, error) {
		ok, err := f(ctor, typ, caller)
		return !ok && err == nil, err
	}
}

// MethodNamed admits methods whose key or "Type::Name" is one of names.
func MethodNamed(names ...string) MethodFilter {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return MethodFunc(func(m il.MethodRef) bool {
		if _, ok := set[methodPath(m)]; ok {
			return true
		}
		_, ok := set[m.Key()]
		return ok
	})
}

// MethodMatch admits methods whose "Namespace.Type::Name" matches one of the glob patterns.
func MethodMatch(patterns ...string) (MethodFilter, error) {
	if err := checkPatterns(patterns); err != nil {
		return nil, err
	}
	return MethodFunc(func(m il.MethodRef) bool {
		return matchAny(patterns, methodPath(m))
	}), nil
}

// SkipConstructors rejects instance constructors.
func SkipConstructors() MethodFilter {
	return MethodFunc(func(m il.MethodRef) bool { return !m.IsConstructor() })
}

// AllMethods admits a method when every filter does.
func AllMethods(filters ...MethodFilter) MethodFilter {
	return func(m il.MethodRef) (bool, error) {
		for _, f := range filters {
			ok, err := f(m)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// AnyOfMethods admits a method when one filter does.
func AnyOfMethods(filters ...MethodFilter) MethodFilter {
	return func(m il.MethodRef) (bool, error) {
		for _, f := range filters {
			ok, err := f(m)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// NotMethod inverts a method filter.
func NotMethod(f MethodFilter) MethodFilter {
	return func(m il.MethodRef) (bool, error) {
		ok, err := f(m)
		return !ok && err == nil, err
	}
}

// Rules is an include/exclude list of glob patterns. An empty include list admits everything
// that is not excluded.
type Rules struct {
	Include []string
	Exclude []string
}

func (r Rules) admit(name string) bool {
	if len(r.Include) > 0 && !matchAny(r.Include, name) {
		return false
	}
	return !matchAny(r.Exclude, name)
}

func (r Rules) check() error {
	if err := checkPatterns(r.Include); err != nil {
		return fmt.Errorf("include: %w", err)
	}
	if err := checkPatterns(r.Exclude); err != nil {
		return fmt.Errorf("exclude: %w", err)
	}
	return nil
}

// TypeRules compiles rules over constructed type full names.
func TypeRules(r Rules) (TypeFilter, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return TypeFunc(func(_ il.MethodRef, typ il.TypeRef, _ il.MethodRef) bool {
		return r.admit(typ.FullName())
	}), nil
}

// MethodRules compiles rules over "Namespace.Type::Name" method paths.
func MethodRules(r Rules) (MethodFilter, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return MethodFunc(func(m il.MethodRef) bool {
		return r.admit(methodPath(m))
	}), nil
}

func methodPath(m il.MethodRef) string {
	return m.DeclaringType.FullName() + "::" + m.Name
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

func checkPatterns(patterns []string) error {
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty pattern")
		}
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("pattern %q: %w", p, err)
		}
	}
	return nil
}
