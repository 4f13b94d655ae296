package il

import (
	"errors"
	"fmt"

	"fortio.org/safecast"
)

// ErrDanglingReference is returned by edits that would leave a branch target or handler start
// pointing at an instruction that no longer exists.
var ErrDanglingReference = errors.New("edit leaves dangling instruction reference")

// HandlerKind distinguishes exception handler flavours.
type HandlerKind uint8

const (
	// HandlerCatch runs when an exception of CatchType escapes the try region.
	HandlerCatch HandlerKind = iota
	// HandlerFilter runs FilterStart code to decide whether to handle.
	HandlerFilter
	// HandlerFinally always runs when leaving the try region.
	HandlerFinally
	// HandlerFault runs only when leaving the try region by exception.
	HandlerFault
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerCatch:
		return "catch"
	case HandlerFilter:
		return "filter"
	case HandlerFinally:
		return "finally"
	case HandlerFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Handler is an exception-handling region. Start boundaries are inclusive, end boundaries are
// exclusive; a nil end means the region runs to the end of the body.
type Handler struct {
	Kind         HandlerKind
	TryStart     *Instr
	TryEnd       *Instr
	HandlerStart *Instr
	HandlerEnd   *Instr
	FilterStart  *Instr
	CatchType    *TypeRef
}

// Boundaries returns the non-nil instructions this handler points at.
func (h *Handler) Boundaries() []*Instr {
	out := make([]*Instr, 0, 5)
	for _, p := range []*Instr{h.TryStart, h.TryEnd, h.HandlerStart, h.HandlerEnd, h.FilterStart} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Body is the ordered, mutable instruction sequence of one method.
type Body struct {
	Instrs   []*Instr
	Handlers []*Handler
	Locals   []TypeRef
}

// NewBody creates a body from instructions and assigns offsets.
func NewBody(instrs ...*Instr) *Body {
	b := &Body{Instrs: instrs}
	_ = b.Renumber() //nolint:errcheck // only fails past 4GiB of code
	return b
}

// Len returns the number of instructions.
func (b *Body) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Instrs)
}

// At returns the instruction at index i, or nil when out of range.
func (b *Body) At(i int) *Instr {
	if b == nil || i < 0 || i >= len(b.Instrs) {
		return nil
	}
	return b.Instrs[i]
}

// IndexOf returns the index of ins, or -1.
func (b *Body) IndexOf(ins *Instr) int {
	if b == nil || ins == nil {
		return -1
	}
	for i, cur := range b.Instrs {
		if cur == ins {
			return i
		}
	}
	return -1
}

// Append adds instructions at the end of the body.
func (b *Body) Append(ins ...*Instr) {
	b.Instrs = append(b.Instrs, ins...)
	_ = b.Renumber() //nolint:errcheck // only fails past 4GiB of code
}

// Insert places instructions before index at. References to the instruction previously at that
// index keep pointing at it, so branches into it skip the inserted code.
func (b *Body) Insert(at int, ins ...*Instr) error {
	if at < 0 || at > len(b.Instrs) {
		return fmt.Errorf("insert at %d: out of range [0,%d]", at, len(b.Instrs))
	}
	if len(ins) == 0 {
		return nil
	}
	out := make([]*Instr, 0, len(b.Instrs)+len(ins))
	out = append(out, b.Instrs[:at]...)
	out = append(out, ins...)
	out = append(out, b.Instrs[at:]...)
	b.Instrs = out
	return b.Renumber()
}

// Remove deletes n instructions starting at index at. References to removed instructions are
// relinked to the first instruction after the removed range.
func (b *Body) Remove(at, n int) error {
	return b.Replace(at, n)
}

// Replace substitutes n instructions starting at index at with repl. Every branch operand, switch
// entry and handler boundary that pointed at a removed instruction is relinked to repl[0], or to
// the successor of the removed range when repl is empty. The body is unchanged when an error is
// returned.
func (b *Body) Replace(at, n int, repl ...*Instr) error {
	if at < 0 || n < 0 || at+n > len(b.Instrs) {
		return fmt.Errorf("replace [%d,%d): out of range [0,%d]", at, at+n, len(b.Instrs))
	}
	removed := make(map[*Instr]struct{}, n)
	for _, ins := range b.Instrs[at : at+n] {
		removed[ins] = struct{}{}
	}
	var successor *Instr
	switch {
	case len(repl) > 0:
		successor = repl[0]
	case at+n < len(b.Instrs):
		successor = b.Instrs[at+n]
	}
	if successor == nil && len(removed) > 0 {
		if err := b.checkNoStartRefs(removed); err != nil {
			return err
		}
	}

	out := make([]*Instr, 0, len(b.Instrs)-n+len(repl))
	out = append(out, b.Instrs[:at]...)
	out = append(out, repl...)
	out = append(out, b.Instrs[at+n:]...)
	b.Instrs = out

	if len(removed) > 0 {
		b.relink(removed, successor)
	}
	return b.Renumber()
}

// checkNoStartRefs fails when removing the tail of the body would orphan a branch target or a
// region start. Region ends may become nil (end of body).
func (b *Body) checkNoStartRefs(removed map[*Instr]struct{}) error {
	gone := func(p *Instr) bool {
		if p == nil {
			return false
		}
		_, ok := removed[p]
		return ok
	}
	for _, ins := range b.Instrs {
		if _, ok := removed[ins]; ok {
			continue
		}
		if gone(ins.Operand.Target) {
			return fmt.Errorf("%w: branch at IL_%04x", ErrDanglingReference, ins.Offset)
		}
		for _, t := range ins.Operand.Targets {
			if gone(t) {
				return fmt.Errorf("%w: switch at IL_%04x", ErrDanglingReference, ins.Offset)
			}
		}
	}
	for i, h := range b.Handlers {
		if gone(h.TryStart) || gone(h.HandlerStart) || gone(h.FilterStart) {
			return fmt.Errorf("%w: handler #%d", ErrDanglingReference, i)
		}
	}
	return nil
}

func (b *Body) relink(removed map[*Instr]struct{}, to *Instr) {
	swap := func(p **Instr) {
		if *p == nil {
			return
		}
		if _, ok := removed[*p]; ok {
			*p = to
		}
	}
	for _, ins := range b.Instrs {
		switch ins.Operand.Kind {
		case OperandTarget:
			swap(&ins.Operand.Target)
		case OperandTargets:
			for i := range ins.Operand.Targets {
				swap(&ins.Operand.Targets[i])
			}
		}
	}
	for _, h := range b.Handlers {
		swap(&h.TryStart)
		swap(&h.TryEnd)
		swap(&h.HandlerStart)
		swap(&h.HandlerEnd)
		swap(&h.FilterStart)
	}
}

// Referrers counts, for every instruction that is the target of a branch or a handler boundary,
// how many references point at it.
func (b *Body) Referrers() map[*Instr]int {
	refs := make(map[*Instr]int)
	if b == nil {
		return refs
	}
	for _, ins := range b.Instrs {
		switch ins.Operand.Kind {
		case OperandTarget:
			if ins.Operand.Target != nil {
				refs[ins.Operand.Target]++
			}
		case OperandTargets:
			for _, t := range ins.Operand.Targets {
				if t != nil {
					refs[t]++
				}
			}
		}
	}
	for _, h := range b.Handlers {
		for _, p := range h.Boundaries() {
			refs[p]++
		}
	}
	return refs
}

// Renumber recomputes instruction byte offsets.
func (b *Body) Renumber() error {
	if b == nil {
		return nil
	}
	total := 0
	for _, ins := range b.Instrs {
		off, err := safecast.Conv[uint32](total)
		if err != nil {
			return fmt.Errorf("offset overflow at instruction %s: %w", ins.Op, err)
		}
		ins.Offset = off
		total += EncodedSize(ins)
	}
	return nil
}

// CodeSize returns the encoded size of the body in bytes.
func (b *Body) CodeSize() int {
	total := 0
	if b == nil {
		return total
	}
	for _, ins := range b.Instrs {
		total += EncodedSize(ins)
	}
	return total
}

// EncodedSize returns the size of one instruction in the container encoding: one opcode byte
// followed by the operand.
func EncodedSize(ins *Instr) int {
	size := 1
	switch ins.Operand.Kind {
	case OperandInt, OperandFloat, OperandActivation:
		size += 8
	case OperandString, OperandType, OperandMethod, OperandTarget:
		size += 4
	case OperandIndex:
		size += 2
	case OperandTargets:
		size += 4 + 4*len(ins.Operand.Targets)
	}
	return size
}

// Clone deep-copies the body, remapping internal references onto the copied instructions.
func (b *Body) Clone() *Body {
	if b == nil {
		return nil
	}
	mapping := make(map[*Instr]*Instr, len(b.Instrs))
	out := &Body{
		Instrs: make([]*Instr, len(b.Instrs)),
		Locals: append([]TypeRef(nil), b.Locals...),
	}
	for i, ins := range b.Instrs {
		c := ins.Clone()
		mapping[ins] = c
		out.Instrs[i] = c
	}
	remap := func(p *Instr) *Instr {
		if p == nil {
			return nil
		}
		if c, ok := mapping[p]; ok {
			return c
		}
		return p
	}
	for _, c := range out.Instrs {
		c.Operand.Target = remap(c.Operand.Target)
		for i := range c.Operand.Targets {
			c.Operand.Targets[i] = remap(c.Operand.Targets[i])
		}
	}
	for _, h := range b.Handlers {
		hc := *h
		hc.TryStart = remap(h.TryStart)
		hc.TryEnd = remap(h.TryEnd)
		hc.HandlerStart = remap(h.HandlerStart)
		hc.HandlerEnd = remap(h.HandlerEnd)
		hc.FilterStart = remap(h.FilterStart)
		out.Handlers = append(out.Handlers, &hc)
	}
	return out
}
