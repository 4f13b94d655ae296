package filter

import (
	"errors"
	"fmt"

	"ctorweave/internal/il"
	"ctorweave/internal/scan"
)

// ErrPredicate marks errors raised by caller-supplied predicates.
var ErrPredicate = errors.New("filter predicate failed")

// TypeFilter decides whether a construction of typ through ctor inside caller may be woven.
type TypeFilter func(ctor il.MethodRef, typ il.TypeRef, caller il.MethodRef) (bool, error)

// MethodFilter decides whether the body of m is scanned at all.
type MethodFilter func(m il.MethodRef) (bool, error)

// TypeFunc adapts a predicate that cannot fail.
func TypeFunc(fn func(ctor il.MethodRef, typ il.TypeRef, caller il.MethodRef) bool) TypeFilter {
	return func(ctor il.MethodRef, typ il.TypeRef, caller il.MethodRef) (bool, error) {
		return fn(ctor, typ, caller), nil
	}
}

// MethodFunc adapts a predicate that cannot fail.
func MethodFunc(fn func(m il.MethodRef) bool) MethodFilter {
	return func(m il.MethodRef) (bool, error) {
		return fn(m), nil
	}
}

// PredicateError wraps an error returned by a predicate with what it was asked about.
type PredicateError struct {
	Subject string
	Err     error
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("%s: %v", e.Subject, e.Err)
}

// Is matches ErrPredicate.
func (e *PredicateError) Is(target error) bool {
	return target == ErrPredicate
}

func (e *PredicateError) Unwrap() error {
	return e.Err
}

// Evaluator applies the caller's predicates. A nil predicate admits everything.
type Evaluator struct {
	Type   TypeFilter
	Method MethodFilter
}

// AdmitSite evaluates the type filter once for site, with the references recorded in it.
func (e *Evaluator) AdmitSite(site *scan.CallSite) (bool, error) {
	if e == nil || e.Type == nil {
		return true, nil
	}
	ok, err := e.Type(site.Ctor, site.Type, site.Caller)
	if err != nil {
		return false, &PredicateError{Subject: "type filter on " + site.String(), Err: err}
	}
	return ok, nil
}

// AdmitMethod evaluates the method filter for m.
func (e *Evaluator) AdmitMethod(m il.MethodRef) (bool, error) {
	if e == nil || e.Method == nil {
		return true, nil
	}
	ok, err := e.Method(m)
	if err != nil {
		return false, &PredicateError{Subject: "method filter on " + m.Key(), Err: err}
	}
	return ok, nil
}
