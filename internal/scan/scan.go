package scan

import (
	"errors"
	"fmt"
	"iter"

	"ctorweave/internal/il"
	"ctorweave/internal/unit"
)

// ErrMalformedPattern marks an instruction shape that starts like a construction expression but
// cannot be classified safely. Such shapes are skipped, never rewritten.
var ErrMalformedPattern = errors.New("malformed construction pattern")

// Reason tells why a candidate allocation was not classified as a call site.
type Reason uint8

const (
	// ReasonNoDup means the allocation is not immediately duplicated.
	ReasonNoDup Reason = iota + 1
	// ReasonControlFlow means a branch, return or throw sits inside the pattern.
	ReasonControlFlow
	// ReasonJumpInto means a branch target or handler boundary sits inside the pattern.
	ReasonJumpInto
	// ReasonStack means the argument region underflows the allocated storage or has an unknown effect.
	ReasonStack
	// ReasonCtorMismatch means the storage is consumed by something other than a constructor of the allocated type.
	ReasonCtorMismatch
	// ReasonUnterminated means the body ends before the storage is consumed.
	ReasonUnterminated
	// ReasonOperand means the allocation carries no usable type.
	ReasonOperand
)

func (r Reason) String() string {
	switch r {
	case ReasonNoDup:
		return "no-dup"
	case ReasonControlFlow:
		return "control-flow"
	case ReasonJumpInto:
		return "jump-into"
	case ReasonStack:
		return "stack"
	case ReasonCtorMismatch:
		return "ctor-mismatch"
	case ReasonUnterminated:
		return "unterminated"
	case ReasonOperand:
		return "operand"
	default:
		return "unknown"
	}
}

// MalformedError describes a skipped candidate.
type MalformedError struct {
	Method il.MethodRef
	Index  int // index of the allocation
	At     int // index of the offending instruction
	Reason Reason
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: new at %d: %s at %d", e.Method.Key(), e.Index, e.Reason, e.At)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformedPattern
}

// CallSite is one recognized construction expression:
//
//	Start:            new T
//	Start+1:          dup
//	ArgStart...:      argument evaluation (ArgCount instructions)
//	Start+Count-1:    callctor T::.ctor(...)
type CallSite struct {
	Ctor     il.MethodRef
	Type     il.TypeRef
	Caller   il.MethodRef
	Method   *unit.Method
	Start    int
	Count    int
	ArgStart int
	ArgCount int
}

// InvokeIndex is the index of the constructor invocation.
func (s *CallSite) InvokeIndex() int {
	return s.Start + s.Count - 1
}

// End is the index just past the site.
func (s *CallSite) End() int {
	return s.Start + s.Count
}

func (s *CallSite) String() string {
	return fmt.Sprintf("%s@%d: new %s via %s", s.Caller.Key(), s.Start, s.Type.Key(), s.Ctor.Key())
}

// Cursor walks one method body and yields call sites in ascending start order. It reads the live
// body, so a caller may rewrite a yielded site and then Seek past the rewritten allocation.
type Cursor struct {
	method *unit.Method
	pos    int
	refs   map[*il.Instr]int

	// OnSkip, when set, receives every candidate allocation that was not classified.
	OnSkip func(*MalformedError)
}

// NewCursor creates a cursor at the first instruction of m.
func NewCursor(m *unit.Method) *Cursor {
	return &Cursor{method: m}
}

// Pos returns the index the next search starts from.
func (c *Cursor) Pos() int {
	return c.pos
}

// Seek moves the cursor to index pos. The body may have changed since the last call.
func (c *Cursor) Seek(pos int) {
	c.pos = pos
	c.refs = nil
}

// Next returns the next call site at or after the cursor.
func (c *Cursor) Next() (CallSite, bool) {
	if c.method == nil || c.method.Body == nil {
		return CallSite{}, false
	}
	body := c.method.Body
	if c.refs == nil {
		c.refs = body.Referrers()
	}
	for c.pos < body.Len() {
		i := c.pos
		c.pos++
		if body.At(i).Op != il.OpNew {
			continue
		}
		site, bad := match(c.method, body, i, c.refs)
		if bad != nil {
			if c.OnSkip != nil {
				c.OnSkip(bad)
			}
			continue
		}
		return site, true
	}
	return CallSite{}, false
}

// Sites lazily yields the call sites of m without modifying it. Sites nested in the argument
// region of another site follow the enclosing one.
func Sites(m *unit.Method) iter.Seq[CallSite] {
	return func(yield func(CallSite) bool) {
		c := NewCursor(m)
		for {
			site, ok := c.Next()
			if !ok || !yield(site) {
				return
			}
		}
	}
}

// match classifies the allocation at index i.
func match(m *unit.Method, body *il.Body, i int, refs map[*il.Instr]int) (CallSite, *MalformedError) {
	fail := func(at int, r Reason) (CallSite, *MalformedError) {
		return CallSite{}, &MalformedError{Method: m.Ref(), Index: i, At: at, Reason: r}
	}

	alloc := body.At(i)
	if alloc.Operand.Type == nil || alloc.Operand.Type.IsZero() {
		return fail(i, ReasonOperand)
	}
	typ := *alloc.Operand.Type

	dup := body.At(i + 1)
	if dup == nil || dup.Op != il.OpDup {
		return fail(i+1, ReasonNoDup)
	}
	if refs[dup] > 0 {
		return fail(i+1, ReasonJumpInto)
	}

	// depth counts values above the duplicated storage.
	depth := 0
	for k := i + 2; k < body.Len(); k++ {
		ins := body.At(k)
		if refs[ins] > 0 {
			return fail(k, ReasonJumpInto)
		}
		if ins.Op == il.OpCallCtor && ins.Operand.Method != nil && depth == ins.Operand.Method.Arity() {
			ctor := *ins.Operand.Method
			if !ctor.IsConstructor() || !ctor.DeclaringType.Same(typ) {
				return fail(k, ReasonCtorMismatch)
			}
			return CallSite{
				Ctor:     ctor,
				Type:     typ,
				Caller:   m.Ref(),
				Method:   m,
				Start:    i,
				Count:    k - i + 1,
				ArgStart: i + 2,
				ArgCount: k - i - 2,
			}, nil
		}
		if ins.Op.TransfersControl() {
			return fail(k, ReasonControlFlow)
		}
		pops, pushes, ok := il.StackEffect(ins)
		if !ok || pops > depth {
			return fail(k, ReasonStack)
		}
		depth += pushes - pops
	}
	return fail(body.Len(), ReasonUnterminated)
}
