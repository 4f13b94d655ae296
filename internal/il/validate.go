package il

import (
	"errors"
	"fmt"
)

// Validate checks body invariants.
// Returns error if any invariant is violated.
func Validate(b *Body) error {
	if b == nil {
		return nil
	}

	index, err := indexBody(b)
	if err != nil {
		return err
	}

	var errs []error

	// 1. Operands match opcodes
	if err := validateOperands(b); err != nil {
		errs = append(errs, err)
	}

	// 2. Branch targets live in this body
	if err := validateTargets(b, index); err != nil {
		errs = append(errs, err)
	}

	// 3. Handler regions are well formed
	if err := validateHandlers(b, index); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func indexBody(b *Body) (map[*Instr]int, error) {
	index := make(map[*Instr]int, len(b.Instrs))
	var errs []error
	for i, ins := range b.Instrs {
		if ins == nil {
			errs = append(errs, fmt.Errorf("instr %d: nil instruction", i))
			continue
		}
		if prev, dup := index[ins]; dup {
			errs = append(errs, fmt.Errorf("instr %d: same instruction already at %d", i, prev))
			continue
		}
		index[ins] = i
	}
	return index, errors.Join(errs...)
}

// validateOperands checks every operand against its opcode.
func validateOperands(b *Body) error {
	var errs []error
	for i, ins := range b.Instrs {
		if err := CheckOperand(ins); err != nil {
			errs = append(errs, fmt.Errorf("instr %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// validateTargets checks that every branch target is an instruction of the body.
func validateTargets(b *Body, index map[*Instr]int) error {
	var errs []error
	for i, ins := range b.Instrs {
		switch ins.Operand.Kind {
		case OperandTarget:
			if t := ins.Operand.Target; t != nil {
				if _, ok := index[t]; !ok {
					errs = append(errs, fmt.Errorf("instr %d: %s target is not in the body", i, ins.Op))
				}
			}
		case OperandTargets:
			for j, t := range ins.Operand.Targets {
				if t == nil {
					continue
				}
				if _, ok := index[t]; !ok {
					errs = append(errs, fmt.Errorf("instr %d: switch case %d target is not in the body", i, j))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// validateHandlers checks boundary membership and ordering of exception regions.
func validateHandlers(b *Body, index map[*Instr]int) error {
	var errs []error
	end := len(b.Instrs)

	pos := func(p *Instr, allowNil bool, what string, h int) (int, bool) {
		if p == nil {
			if allowNil {
				return end, true
			}
			errs = append(errs, fmt.Errorf("handler %d: missing %s", h, what))
			return 0, false
		}
		i, ok := index[p]
		if !ok {
			errs = append(errs, fmt.Errorf("handler %d: %s is not in the body", h, what))
			return 0, false
		}
		return i, true
	}

	for h, hd := range b.Handlers {
		if hd == nil {
			errs = append(errs, fmt.Errorf("handler %d: nil handler", h))
			continue
		}
		tryStart, ok1 := pos(hd.TryStart, false, "try start", h)
		tryEnd, ok2 := pos(hd.TryEnd, true, "try end", h)
		hStart, ok3 := pos(hd.HandlerStart, false, "handler start", h)
		hEnd, ok4 := pos(hd.HandlerEnd, true, "handler end", h)
		if ok1 && ok2 && tryStart >= tryEnd {
			errs = append(errs, fmt.Errorf("handler %d: empty try region [%d,%d)", h, tryStart, tryEnd))
		}
		if ok3 && ok4 && hStart >= hEnd {
			errs = append(errs, fmt.Errorf("handler %d: empty handler region [%d,%d)", h, hStart, hEnd))
		}
		if ok1 && ok2 && ok3 && ok4 && hStart < tryEnd && tryStart < hEnd {
			errs = append(errs, fmt.Errorf("handler %d: try and handler regions overlap", h))
		}
		switch hd.Kind {
		case HandlerCatch:
			if hd.CatchType == nil || hd.CatchType.IsZero() {
				errs = append(errs, fmt.Errorf("handler %d: catch without type", h))
			}
		case HandlerFilter:
			if fs, ok := pos(hd.FilterStart, false, "filter start", h); ok && ok3 && fs >= hStart {
				errs = append(errs, fmt.Errorf("handler %d: filter must precede handler", h))
			}
		}
	}
	return errors.Join(errs...)
}
