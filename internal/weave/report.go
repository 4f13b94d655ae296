package weave

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"ctorweave/internal/il"
	"ctorweave/internal/scan"
)

// MethodReport records what one weave did to one method.
type MethodReport struct {
	Method   il.MethodRef
	Admitted bool // passed the method filter
	Sites    int  // call sites found
	Woven    int  // call sites rewritten
	Rejected int  // call sites refused by the type filter
	Skipped  []scan.MalformedError
	Before   il.Digest
	After    il.Digest
}

// Changed reports whether the body encoding differs after the weave.
func (r *MethodReport) Changed() bool {
	return r.Before != r.After
}

// Report collects method reports in declaration order.
type Report struct {
	Methods []MethodReport
}

// Totals aggregates a report.
type Totals struct {
	Methods  int
	Admitted int
	Changed  int
	Sites    int
	Woven    int
	Rejected int
	Skipped  int
}

// Totals sums the method reports.
func (r *Report) Totals() Totals {
	var t Totals
	if r == nil {
		return t
	}
	for i := range r.Methods {
		m := &r.Methods[i]
		t.Methods++
		if m.Admitted {
			t.Admitted++
		}
		if m.Changed() {
			t.Changed++
		}
		t.Sites += m.Sites
		t.Woven += m.Woven
		t.Rejected += m.Rejected
		t.Skipped += len(m.Skipped)
	}
	return t
}

// Lookup finds the report of a method by key.
func (r *Report) Lookup(key string) (*MethodReport, bool) {
	if r == nil {
		return nil, false
	}
	for i := range r.Methods {
		if r.Methods[i].Method.Key() == key {
			return &r.Methods[i], true
		}
	}
	return nil, false
}

// PrintOptions configures Report.Print.
type PrintOptions struct {
	Color   bool
	Verbose bool // include untouched methods and skip details
}

// Print writes a per-method table followed by totals.
func (r *Report) Print(w io.Writer, opts PrintOptions) error {
	if r == nil {
		return nil
	}
	woven := color.New(color.FgGreen, color.Bold)
	skipped := color.New(color.FgYellow)
	dim := color.New(color.Faint)
	for _, c := range []*color.Color{woven, skipped, dim} {
		if opts.Color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	width := 0
	for i := range r.Methods {
		width = max(width, runewidth.StringWidth(r.Methods[i].Method.Key()))
	}

	for i := range r.Methods {
		m := &r.Methods[i]
		if !opts.Verbose && m.Woven == 0 && len(m.Skipped) == 0 {
			continue
		}
		name := runewidth.FillRight(m.Method.Key(), width)
		var line string
		switch {
		case !m.Admitted:
			line = dim.Sprint(name + "  filtered")
		default:
			line = fmt.Sprintf("%s  sites=%d %s rejected=%d %s",
				name, m.Sites,
				woven.Sprintf("woven=%d", m.Woven),
				m.Rejected,
				skipped.Sprintf("skipped=%d", len(m.Skipped)))
			if m.Changed() {
				line += dim.Sprintf("  %s→%s", m.Before.Short(), m.After.Short())
			}
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		if opts.Verbose {
			for _, s := range m.Skipped {
				if _, err := fmt.Fprintln(w, "    "+skipped.Sprintf("skip new@%d: %s at %d", s.Index, s.Reason, s.At)); err != nil {
					return err
				}
			}
		}
	}

	t := r.Totals()
	summary := []string{
		fmt.Sprintf("methods=%d", t.Methods),
		fmt.Sprintf("admitted=%d", t.Admitted),
		fmt.Sprintf("changed=%d", t.Changed),
		fmt.Sprintf("sites=%d", t.Sites),
		woven.Sprintf("woven=%d", t.Woven),
		fmt.Sprintf("rejected=%d", t.Rejected),
		skipped.Sprintf("skipped=%d", t.Skipped),
	}
	_, err := fmt.Fprintln(w, "total: "+strings.Join(summary, " "))
	return err
}
