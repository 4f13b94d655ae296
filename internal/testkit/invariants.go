package testkit

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"ctorweave/internal/il"
	"ctorweave/internal/unit"
)

// CheckTreeInvariants runs the structural invariants of a program tree:
// 1) every node's back-reference points at the node that owns it
// 2) every body passes il.Validate
// 3) no instruction is shared between two bodies
// 4) instruction offsets increase strictly and fit the encoded code size
func CheckTreeInvariants(p *unit.Program) error {
	if p == nil {
		return fmt.Errorf("nil program")
	}
	owner := make(map[*il.Instr]string)
	var errs []error
	for _, m := range p.Modules {
		if m == nil {
			errs = append(errs, fmt.Errorf("nil module in program %s", p.Name))
			continue
		}
		// 1) back-references
		if m.Program != p {
			errs = append(errs, fmt.Errorf("module %s: wrong program back-reference", m.Name))
		}
		for _, t := range m.Types {
			if t == nil {
				errs = append(errs, fmt.Errorf("module %s: nil type", m.Name))
				continue
			}
			if t.Module != m {
				errs = append(errs, fmt.Errorf("type %s: wrong module back-reference", t.FullName()))
			}
			for _, mt := range t.Methods {
				if mt == nil {
					errs = append(errs, fmt.Errorf("type %s: nil method", t.FullName()))
					continue
				}
				if mt.Type != t {
					errs = append(errs, fmt.Errorf("method %s: wrong type back-reference", mt.Name))
				}
				if mt.Body == nil {
					continue
				}
				if err := checkBody(mt, owner); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func checkBody(mt *unit.Method, owner map[*il.Instr]string) error {
	name := mt.String()
	// 2) structural validity
	if err := il.Validate(mt.Body); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	// 3) exclusive ownership
	for _, ins := range mt.Body.Instrs {
		if prev, ok := owner[ins]; ok {
			return fmt.Errorf("%s: instruction %s also placed in %s", name, ins, prev)
		}
		owner[ins] = name
	}
	// 4) offsets
	size, err := safecast.Conv[uint32](mt.Body.CodeSize())
	if err != nil {
		return fmt.Errorf("%s: code size overflow: %w", name, err)
	}
	for i, ins := range mt.Body.Instrs {
		if i > 0 && ins.Offset <= mt.Body.Instrs[i-1].Offset {
			return fmt.Errorf("%s: offset of %s does not increase", name, ins)
		}
		if ins.Offset >= size {
			return fmt.Errorf("%s: offset of %s beyond code size %d", name, ins, size)
		}
	}
	return nil
}
