package il

import (
	"fmt"
	"strconv"
)

// OperandKind distinguishes operand types.
type OperandKind uint8

const (
	// OperandNone marks an instruction without operand.
	OperandNone OperandKind = iota
	// OperandInt is an integer literal.
	OperandInt
	// OperandFloat is a floating point literal.
	OperandFloat
	// OperandString is a string literal.
	OperandString
	// OperandIndex is an argument or local slot.
	OperandIndex
	// OperandType references a type.
	OperandType
	// OperandMethod references a method or constructor.
	OperandMethod
	// OperandActivation describes an activation-service call.
	OperandActivation
	// OperandTarget is a single branch target.
	OperandTarget
	// OperandTargets is a switch jump table.
	OperandTargets
)

func (k OperandKind) String() string {
	switch k {
	case OperandNone:
		return "none"
	case OperandInt:
		return "int"
	case OperandFloat:
		return "float"
	case OperandString:
		return "string"
	case OperandIndex:
		return "index"
	case OperandType:
		return "type"
	case OperandMethod:
		return "method"
	case OperandActivation:
		return "activation"
	case OperandTarget:
		return "target"
	case OperandTargets:
		return "targets"
	default:
		return "unknown"
	}
}

// Activation is the operand of OpActivate: the service entry point to call and the constructor
// whose arguments were evaluated for it.
type Activation struct {
	Entry MethodRef
	Ctor  MethodRef
}

// Operand is a tagged instruction operand.
type Operand struct {
	Kind OperandKind

	Int        int64
	Float      float64
	Str        string
	Index      int
	Type       *TypeRef
	Method     *MethodRef
	Activation *Activation
	Target     *Instr
	Targets    []*Instr
}

// Instr is one instruction of a method body. Instructions are identified by pointer: branch
// operands and handler boundaries point at instructions, not at indices.
type Instr struct {
	Op      Opcode
	Operand Operand

	// Offset is the byte offset assigned by Body.Renumber.
	Offset uint32
}

// Simple builds an instruction without operand.
func Simple(op Opcode) *Instr {
	return &Instr{Op: op}
}

// Int builds an OpLdInt instruction.
func Int(v int64) *Instr {
	return &Instr{Op: OpLdInt, Operand: Operand{Kind: OperandInt, Int: v}}
}

// Float builds an OpLdFloat instruction.
func Float(v float64) *Instr {
	return &Instr{Op: OpLdFloat, Operand: Operand{Kind: OperandFloat, Float: v}}
}

// Str builds an OpLdStr instruction.
func Str(v string) *Instr {
	return &Instr{Op: OpLdStr, Operand: Operand{Kind: OperandString, Str: v}}
}

// Slot builds an argument or local access instruction.
func Slot(op Opcode, index int) *Instr {
	return &Instr{Op: op, Operand: Operand{Kind: OperandIndex, Index: index}}
}

// WithType builds an instruction referencing a type.
func WithType(op Opcode, t TypeRef) *Instr {
	return &Instr{Op: op, Operand: Operand{Kind: OperandType, Type: &t}}
}

// WithMethod builds an instruction referencing a method.
func WithMethod(op Opcode, m MethodRef) *Instr {
	return &Instr{Op: op, Operand: Operand{Kind: OperandMethod, Method: &m}}
}

// Activate builds an OpActivate instruction.
func Activate(entry, ctor MethodRef) *Instr {
	return &Instr{Op: OpActivate, Operand: Operand{Kind: OperandActivation, Activation: &Activation{Entry: entry, Ctor: ctor}}}
}

// Branch builds a branch instruction towards target. The target may be nil while a body is
// being assembled and patched later with SetTarget.
func Branch(op Opcode, target *Instr) *Instr {
	return &Instr{Op: op, Operand: Operand{Kind: OperandTarget, Target: target}}
}

// Switch builds an OpSwitch instruction.
func Switch(targets ...*Instr) *Instr {
	return &Instr{Op: OpSwitch, Operand: Operand{Kind: OperandTargets, Targets: targets}}
}

// SetTarget patches the branch target of ins.
func (ins *Instr) SetTarget(target *Instr) {
	ins.Operand.Target = target
}

// Clone returns a shallow copy of the instruction with its own operand tables.
// Referenced instructions are shared.
func (ins *Instr) Clone() *Instr {
	c := *ins
	if ins.Operand.Targets != nil {
		c.Operand.Targets = append([]*Instr(nil), ins.Operand.Targets...)
	}
	if ins.Operand.Type != nil {
		t := *ins.Operand.Type
		c.Operand.Type = &t
	}
	if ins.Operand.Method != nil {
		m := *ins.Operand.Method
		c.Operand.Method = &m
	}
	if ins.Operand.Activation != nil {
		a := *ins.Operand.Activation
		c.Operand.Activation = &a
	}
	return &c
}

// CheckOperand verifies that the operand matches what the opcode requires.
func CheckOperand(ins *Instr) error {
	if ins == nil {
		return fmt.Errorf("nil instruction")
	}
	if !ins.Op.Valid() {
		return fmt.Errorf("unknown opcode %d", ins.Op)
	}
	want := OperandKindOf(ins.Op)
	if ins.Operand.Kind != want {
		return fmt.Errorf("%s: operand kind %s, want %s", ins.Op, ins.Operand.Kind, want)
	}
	switch want {
	case OperandIndex:
		if ins.Operand.Index < 0 {
			return fmt.Errorf("%s: negative slot %d", ins.Op, ins.Operand.Index)
		}
	case OperandType:
		if ins.Operand.Type == nil || ins.Operand.Type.IsZero() {
			return fmt.Errorf("%s: missing type reference", ins.Op)
		}
	case OperandMethod:
		if ins.Operand.Method == nil || ins.Operand.Method.Name == "" {
			return fmt.Errorf("%s: missing method reference", ins.Op)
		}
		if ins.Op == OpCallCtor && !ins.Operand.Method.IsConstructor() {
			return fmt.Errorf("%s: %s is not a constructor", ins.Op, ins.Operand.Method.Key())
		}
	case OperandActivation:
		a := ins.Operand.Activation
		if a == nil || a.Entry.Name == "" {
			return fmt.Errorf("%s: missing activation entry", ins.Op)
		}
		if !a.Ctor.IsConstructor() {
			return fmt.Errorf("%s: %s is not a constructor", ins.Op, a.Ctor.Key())
		}
	case OperandTarget:
		if ins.Operand.Target == nil {
			return fmt.Errorf("%s: missing branch target", ins.Op)
		}
	case OperandTargets:
		for i, t := range ins.Operand.Targets {
			if t == nil {
				return fmt.Errorf("%s: missing target #%d", ins.Op, i)
			}
		}
	}
	return nil
}

func (ins *Instr) String() string {
	if ins == nil {
		return "<nil>"
	}
	return formatInstr(ins, nil)
}

func formatOperand(op Operand, label func(*Instr) string) string {
	if label == nil {
		label = func(t *Instr) string {
			if t == nil {
				return "?"
			}
			return fmt.Sprintf("IL_%04x", t.Offset)
		}
	}
	switch op.Kind {
	case OperandInt:
		return strconv.FormatInt(op.Int, 10)
	case OperandFloat:
		return strconv.FormatFloat(op.Float, 'g', -1, 64)
	case OperandString:
		return strconv.Quote(op.Str)
	case OperandIndex:
		return strconv.Itoa(op.Index)
	case OperandType:
		if op.Type == nil {
			return "?"
		}
		return op.Type.Key()
	case OperandMethod:
		if op.Method == nil {
			return "?"
		}
		return op.Method.Key()
	case OperandActivation:
		if op.Activation == nil {
			return "?"
		}
		return op.Activation.Entry.Key() + " for " + op.Activation.Ctor.Key()
	case OperandTarget:
		return label(op.Target)
	case OperandTargets:
		s := "("
		for i, t := range op.Targets {
			if i > 0 {
				s += ", "
			}
			s += label(t)
		}
		return s + ")"
	}
	return ""
}

func formatInstr(ins *Instr, label func(*Instr) string) string {
	operand := formatOperand(ins.Operand, label)
	if operand == "" {
		return ins.Op.String()
	}
	return ins.Op.String() + " " + operand
}
