package testkit

import (
	"errors"
	"fmt"
	"strings"

	"ctorweave/internal/il"
)

// ErrStepLimit is returned when a body runs longer than Machine.MaxSteps.
var ErrStepLimit = errors.New("step limit exceeded")

// Object is a heap value produced by construction.
type Object struct {
	Type il.TypeRef
	Args []any // constructor arguments
}

// TypeToken is the value pushed by ldtype.
type TypeToken struct {
	Type il.TypeRef
}

// Exception is a thrown value surfaced as an error.
type Exception struct {
	Value any
}

func (e *Exception) Error() string {
	return fmt.Sprintf("unhandled exception: %v", e.Value)
}

// CallFunc implements a called method. args includes the receiver for instance methods.
type CallFunc func(args []any) (any, error)

// ActivateFunc implements an activation entry point.
type ActivateFunc func(typ il.TypeRef, ctor il.MethodRef, args []any) (any, error)

// Machine is a small reference interpreter for il bodies. It records observable effects in Log:
// every constructor run and every host call, in execution order. Exception handlers are not
// modelled; throw aborts the run.
type Machine struct {
	Calls      map[string]CallFunc     // by method key
	Activators map[string]ActivateFunc // by entry key; missing entries construct directly
	MaxSteps   int
	Log        []string
}

// NewMachine creates a machine with no host methods.
func NewMachine() *Machine {
	return &Machine{
		Calls:      make(map[string]CallFunc),
		Activators: make(map[string]ActivateFunc),
		MaxSteps:   10000,
	}
}

// Construct allocates an object of typ and runs ctor on it, logging the constructor run.
func (vm *Machine) Construct(typ il.TypeRef, ctor il.MethodRef, args []any) *Object {
	obj := &Object{Type: typ, Args: append([]any(nil), args...)}
	vm.logf("init %s(%s)", ctor.Key(), formatValues(args))
	return obj
}

// Run executes b with the given arguments and returns the value left by ret, if any.
func (vm *Machine) Run(b *il.Body, args ...any) (any, error) {
	index := make(map[*il.Instr]int, b.Len())
	for i, ins := range b.Instrs {
		index[ins] = i
	}
	jump := func(target *il.Instr) (int, error) {
		pc, ok := index[target]
		if !ok {
			return 0, fmt.Errorf("branch to instruction outside the body")
		}
		return pc, nil
	}

	locals := make([]any, len(b.Locals))
	params := append([]any(nil), args...)
	var stack []any
	pop := func(n int) ([]any, error) {
		if len(stack) < n {
			return nil, fmt.Errorf("stack underflow")
		}
		out := append([]any(nil), stack[len(stack)-n:]...)
		stack = stack[:len(stack)-n]
		return out, nil
	}
	push := func(v any) { stack = append(stack, v) }

	limit := vm.MaxSteps
	if limit <= 0 {
		limit = 10000
	}
	pc := 0
	for step := 0; ; step++ {
		if step >= limit {
			return nil, ErrStepLimit
		}
		if pc >= b.Len() {
			return nil, fmt.Errorf("fell off the end of the body")
		}
		ins := b.Instrs[pc]
		next := pc + 1
		fail := func(err error) (any, error) {
			return nil, fmt.Errorf("IL_%04x %s: %w", ins.Offset, ins.Op, err)
		}

		switch ins.Op {
		case il.OpNop:
		case il.OpLdNull:
			push(nil)
		case il.OpLdInt:
			push(ins.Operand.Int)
		case il.OpLdFloat:
			push(ins.Operand.Float)
		case il.OpLdStr:
			push(ins.Operand.Str)
		case il.OpLdArg:
			i := ins.Operand.Index
			if i >= len(params) {
				return fail(fmt.Errorf("argument %d out of range", i))
			}
			push(params[i])
		case il.OpStArg:
			v, err := pop(1)
			if err != nil {
				return fail(err)
			}
			i := ins.Operand.Index
			if i >= len(params) {
				return fail(fmt.Errorf("argument %d out of range", i))
			}
			params[i] = v[0]
		case il.OpLdLoc:
			i := ins.Operand.Index
			if i >= len(locals) {
				locals = append(locals, make([]any, i+1-len(locals))...)
			}
			push(locals[i])
		case il.OpStLoc:
			v, err := pop(1)
			if err != nil {
				return fail(err)
			}
			i := ins.Operand.Index
			if i >= len(locals) {
				locals = append(locals, make([]any, i+1-len(locals))...)
			}
			locals[i] = v[0]
		case il.OpDup:
			v, err := pop(1)
			if err != nil {
				return fail(err)
			}
			push(v[0])
			push(v[0])
		case il.OpPop:
			if _, err := pop(1); err != nil {
				return fail(err)
			}
		case il.OpNew:
			push(&Object{Type: *ins.Operand.Type})
		case il.OpCallCtor:
			ctor := ins.Operand.Method
			vals, err := pop(1 + ctor.Arity())
			if err != nil {
				return fail(err)
			}
			obj, ok := vals[0].(*Object)
			if !ok {
				return fail(fmt.Errorf("constructor receiver is %T", vals[0]))
			}
			built := vm.Construct(obj.Type, *ctor, vals[1:])
			obj.Args = built.Args
		case il.OpCall, il.OpCallVirt:
			m := ins.Operand.Method
			n := m.Arity()
			if m.HasThis {
				n++
			}
			vals, err := pop(n)
			if err != nil {
				return fail(err)
			}
			res, err := vm.call(*m, vals)
			if err != nil {
				return fail(err)
			}
			if !m.Return.IsZero() {
				push(res)
			}
		case il.OpLdType:
			push(TypeToken{Type: *ins.Operand.Type})
		case il.OpActivate:
			a := ins.Operand.Activation
			vals, err := pop(1 + a.Ctor.Arity())
			if err != nil {
				return fail(err)
			}
			tok, ok := vals[0].(TypeToken)
			if !ok {
				return fail(fmt.Errorf("activation token is %T", vals[0]))
			}
			res, err := vm.activate(a, tok.Type, vals[1:])
			if err != nil {
				return fail(err)
			}
			push(res)
		case il.OpCastClass:
			v, err := pop(1)
			if err != nil {
				return fail(err)
			}
			if v[0] != nil {
				obj, ok := v[0].(*Object)
				if !ok || !obj.Type.Same(*ins.Operand.Type) {
					return fail(fmt.Errorf("invalid cast of %v to %s", v[0], ins.Operand.Type))
				}
			}
			push(v[0])
		case il.OpBr, il.OpLeave:
			to, err := jump(ins.Operand.Target)
			if err != nil {
				return fail(err)
			}
			next = to
		case il.OpBrTrue, il.OpBrFalse:
			v, err := pop(1)
			if err != nil {
				return fail(err)
			}
			if truthy(v[0]) == (ins.Op == il.OpBrTrue) {
				to, err := jump(ins.Operand.Target)
				if err != nil {
					return fail(err)
				}
				next = to
			}
		case il.OpSwitch:
			v, err := pop(1)
			if err != nil {
				return fail(err)
			}
			if i, ok := v[0].(int64); ok && i >= 0 && i < int64(len(ins.Operand.Targets)) {
				to, err := jump(ins.Operand.Targets[i])
				if err != nil {
					return fail(err)
				}
				next = to
			}
		case il.OpRet:
			if len(stack) == 0 {
				return nil, nil
			}
			return stack[len(stack)-1], nil
		case il.OpThrow:
			v, err := pop(1)
			if err != nil {
				return fail(err)
			}
			return nil, &Exception{Value: v[0]}
		case il.OpRethrow, il.OpEndFinally:
			return fail(fmt.Errorf("exception handlers are not supported"))
		default:
			return fail(fmt.Errorf("unknown opcode"))
		}
		pc = next
	}
}

func (vm *Machine) call(m il.MethodRef, args []any) (any, error) {
	vm.logf("call %s(%s)", m.Key(), formatValues(args))
	fn, ok := vm.Calls[m.Key()]
	if !ok {
		return nil, fmt.Errorf("no host implementation for %s", m.Key())
	}
	return fn(args)
}

func (vm *Machine) activate(a *il.Activation, typ il.TypeRef, args []any) (any, error) {
	if fn, ok := vm.Activators[a.Entry.Key()]; ok {
		return fn(typ, a.Ctor, args)
	}
	return vm.Construct(typ, a.Ctor, args), nil
}

func (vm *Machine) logf(format string, args ...any) {
	vm.Log = append(vm.Log, fmt.Sprintf(format, args...))
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case int64:
		return x != 0
	case float64:
		return x != 0
	case bool:
		return x
	default:
		return true
	}
}

func formatValues(vals []any) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		switch x := v.(type) {
		case *Object:
			parts[i] = x.Type.Key() + "{" + formatValues(x.Args) + "}"
		case string:
			parts[i] = fmt.Sprintf("%q", x)
		default:
			parts[i] = fmt.Sprint(x)
		}
	}
	return strings.Join(parts, ",")
}
