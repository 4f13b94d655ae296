package il

// Opcode enumerates instruction operation codes.
type Opcode uint8

const (
	// OpNop does nothing.
	OpNop Opcode = iota
	// OpLdNull pushes a null reference.
	OpLdNull
	// OpLdInt pushes an integer literal.
	OpLdInt
	// OpLdFloat pushes a floating point literal.
	OpLdFloat
	// OpLdStr pushes a string literal.
	OpLdStr
	// OpLdArg pushes an argument of the enclosing method.
	OpLdArg
	// OpStArg stores into an argument slot.
	OpStArg
	// OpLdLoc pushes a local variable.
	OpLdLoc
	// OpStLoc stores into a local variable.
	OpStLoc
	// OpDup duplicates the top of the stack.
	OpDup
	// OpPop discards the top of the stack.
	OpPop
	// OpNew allocates uninitialised storage for a type.
	OpNew
	// OpCallCtor runs an instance constructor against previously allocated storage.
	OpCallCtor
	// OpCall calls a method without virtual dispatch.
	OpCall
	// OpCallVirt calls a method with virtual dispatch.
	OpCallVirt
	// OpLdType pushes a runtime type token.
	OpLdType
	// OpActivate asks an activation service for an instance of a type.
	OpActivate
	// OpCastClass checks the top of the stack against a type, failing on mismatch.
	OpCastClass
	// OpBr branches unconditionally.
	OpBr
	// OpBrTrue branches when the popped value is true or non-null.
	OpBrTrue
	// OpBrFalse branches when the popped value is false or null.
	OpBrFalse
	// OpSwitch branches through a jump table.
	OpSwitch
	// OpLeave exits a protected region.
	OpLeave
	// OpRet returns from the method.
	OpRet
	// OpThrow raises the popped exception object.
	OpThrow
	// OpRethrow re-raises the exception being handled.
	OpRethrow
	// OpEndFinally ends a finally or fault handler.
	OpEndFinally

	opCount
)

var opNames = [...]string{
	OpNop:        "nop",
	OpLdNull:     "ldnull",
	OpLdInt:      "ldint",
	OpLdFloat:    "ldfloat",
	OpLdStr:      "ldstr",
	OpLdArg:      "ldarg",
	OpStArg:      "starg",
	OpLdLoc:      "ldloc",
	OpStLoc:      "stloc",
	OpDup:        "dup",
	OpPop:        "pop",
	OpNew:        "new",
	OpCallCtor:   "callctor",
	OpCall:       "call",
	OpCallVirt:   "callvirt",
	OpLdType:     "ldtype",
	OpActivate:   "activate",
	OpCastClass:  "castclass",
	OpBr:         "br",
	OpBrTrue:     "brtrue",
	OpBrFalse:    "brfalse",
	OpSwitch:     "switch",
	OpLeave:      "leave",
	OpRet:        "ret",
	OpThrow:      "throw",
	OpRethrow:    "rethrow",
	OpEndFinally: "endfinally",
}

// String returns the mnemonic of the opcode.
func (op Opcode) String() string {
	if op < opCount {
		return opNames[op]
	}
	return "op?"
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	return op < opCount
}

// FlowKind classifies how an opcode transfers control.
type FlowKind uint8

const (
	// FlowNext falls through to the next instruction.
	FlowNext FlowKind = iota
	// FlowCall falls through after invoking code elsewhere.
	FlowCall
	// FlowBranch transfers control unconditionally.
	FlowBranch
	// FlowCondBranch may fall through or branch.
	FlowCondBranch
	// FlowReturn leaves the method.
	FlowReturn
	// FlowThrow raises an exception.
	FlowThrow
)

// Flow returns the control-flow kind of op.
func (op Opcode) Flow() FlowKind {
	switch op {
	case OpCallCtor, OpCall, OpCallVirt, OpActivate:
		return FlowCall
	case OpBr, OpLeave, OpEndFinally:
		return FlowBranch
	case OpBrTrue, OpBrFalse, OpSwitch:
		return FlowCondBranch
	case OpRet:
		return FlowReturn
	case OpThrow, OpRethrow:
		return FlowThrow
	default:
		return FlowNext
	}
}

// TransfersControl reports whether op can move execution anywhere other than the next instruction
// (calls excluded).
func (op Opcode) TransfersControl() bool {
	switch op.Flow() {
	case FlowBranch, FlowCondBranch, FlowReturn, FlowThrow:
		return true
	}
	return false
}

// OperandKindOf returns the operand kind an opcode requires.
func OperandKindOf(op Opcode) OperandKind {
	switch op {
	case OpLdInt:
		return OperandInt
	case OpLdFloat:
		return OperandFloat
	case OpLdStr:
		return OperandString
	case OpLdArg, OpStArg, OpLdLoc, OpStLoc:
		return OperandIndex
	case OpNew, OpLdType, OpCastClass:
		return OperandType
	case OpCallCtor, OpCall, OpCallVirt:
		return OperandMethod
	case OpActivate:
		return OperandActivation
	case OpBr, OpBrTrue, OpBrFalse, OpLeave:
		return OperandTarget
	case OpSwitch:
		return OperandTargets
	default:
		return OperandNone
	}
}
