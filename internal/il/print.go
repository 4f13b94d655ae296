package il

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
)

// DumpOptions configures body dumping.
type DumpOptions struct {
	// Marked instructions are prefixed with '*' (e.g. instructions produced by a rewrite).
	Marked map[*Instr]bool
}

const mnemonicColumn = 11

// Dump writes a human-readable listing of a body.
func Dump(w io.Writer, b *Body, opts DumpOptions) error {
	if w == nil || b == nil {
		return nil
	}
	label := func(t *Instr) string {
		if t == nil {
			return "end"
		}
		return fmt.Sprintf("IL_%04x", t.Offset)
	}

	if len(b.Locals) > 0 {
		names := make([]string, len(b.Locals))
		for i, l := range b.Locals {
			names[i] = l.String()
		}
		if _, err := fmt.Fprintf(w, "  .locals (%s)\n", strings.Join(names, ", ")); err != nil {
			return err
		}
	}

	for _, ins := range b.Instrs {
		mark := " "
		if opts.Marked[ins] {
			mark = "*"
		}
		line := mark + " " + label(ins) + ": " + runewidth.FillRight(ins.Op.String(), mnemonicColumn)
		if operand := formatOperand(ins.Operand, label); operand != "" {
			line += operand
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(line, " ")); err != nil {
			return err
		}
	}

	for _, h := range b.Handlers {
		head := fmt.Sprintf("  .try %s to %s %s", label(h.TryStart), label(h.TryEnd), h.Kind)
		if h.Kind == HandlerCatch && h.CatchType != nil {
			head += " " + h.CatchType.String()
		}
		if h.Kind == HandlerFilter {
			head += " " + label(h.FilterStart)
		}
		head += fmt.Sprintf(" handler %s to %s", label(h.HandlerStart), label(h.HandlerEnd))
		if _, err := fmt.Fprintln(w, head); err != nil {
			return err
		}
	}
	return nil
}

// DumpString renders a body with Dump.
func DumpString(b *Body) string {
	var sb strings.Builder
	_ = Dump(&sb, b, DumpOptions{}) //nolint:errcheck // strings.Builder never fails
	return sb.String()
}
