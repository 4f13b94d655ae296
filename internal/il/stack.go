package il

// StackEffect returns how many values ins pops and pushes. ok is false when the effect depends on
// context the instruction does not carry (ret, leave) or the operand is malformed.
func StackEffect(ins *Instr) (pops, pushes int, ok bool) {
	if ins == nil {
		return 0, 0, false
	}
	switch ins.Op {
	case OpNop, OpBr, OpRethrow, OpEndFinally:
		return 0, 0, true
	case OpLdNull, OpLdInt, OpLdFloat, OpLdStr, OpLdArg, OpLdLoc, OpLdType, OpNew:
		return 0, 1, true
	case OpStArg, OpStLoc, OpPop, OpBrTrue, OpBrFalse, OpSwitch, OpThrow:
		return 1, 0, true
	case OpDup:
		return 1, 2, true
	case OpCastClass:
		return 1, 1, true
	case OpCallCtor:
		m := ins.Operand.Method
		if m == nil {
			return 0, 0, false
		}
		return 1 + m.Arity(), 0, true
	case OpCall, OpCallVirt:
		m := ins.Operand.Method
		if m == nil {
			return 0, 0, false
		}
		pops = m.Arity()
		if m.HasThis {
			pops++
		}
		if !m.Return.IsZero() {
			pushes = 1
		}
		return pops, pushes, true
	case OpActivate:
		a := ins.Operand.Activation
		if a == nil {
			return 0, 0, false
		}
		return 1 + a.Ctor.Arity(), 1, true
	}
	return 0, 0, false
}

// ResultType returns the static type of the value ins leaves on top of the stack, when the
// instruction itself determines it.
func ResultType(ins *Instr) (TypeRef, bool) {
	if ins == nil {
		return TypeRef{}, false
	}
	switch ins.Op {
	case OpNew, OpCastClass:
		if ins.Operand.Type != nil {
			return *ins.Operand.Type, true
		}
	case OpCall, OpCallVirt:
		if m := ins.Operand.Method; m != nil && !m.Return.IsZero() {
			return m.Return, true
		}
	case OpActivate:
		if a := ins.Operand.Activation; a != nil && !a.Entry.Return.IsZero() {
			return a.Entry.Return, true
		}
	}
	return TypeRef{}, false
}

// Simulate runs the stack effects of seq starting at depth and returns the final depth.
// It reports the index of the first instruction that underflows or has no known effect.
func Simulate(seq []*Instr, depth int) (final, failedAt int, ok bool) {
	for i, ins := range seq {
		pops, pushes, known := StackEffect(ins)
		if !known || depth < pops {
			return depth, i, false
		}
		depth += pushes - pops
	}
	return depth, -1, true
}
