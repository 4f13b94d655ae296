package weave

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"ctorweave/internal/filter"
	"ctorweave/internal/il"
	"ctorweave/internal/scan"
	"ctorweave/internal/trace"
	"ctorweave/internal/unit"
)

// Options tunes a Session.
type Options struct {
	// Jobs bounds the number of methods rewritten concurrently. Values <= 1 weave sequentially.
	// With Jobs > 1 the type filter and the weaver must be safe for concurrent use.
	Jobs int
}

// Session weaves construction sites with one set of predicates and one Weaver.
type Session struct {
	Filter  filter.Evaluator
	Weaver  Weaver
	Options Options
}

// NewSession creates a session. A nil weaver selects a Redirector with DefaultActivator.
func NewSession(eval filter.Evaluator, w Weaver, opts Options) *Session {
	if w == nil {
		w = NewRedirector(il.MethodRef{})
	}
	return &Session{Filter: eval, Weaver: w, Options: opts}
}

// Program weaves every method of p.
func (s *Session) Program(ctx context.Context, p *unit.Program) (*Report, error) {
	if p == nil {
		return &Report{}, fmt.Errorf("weave program: %w", ErrNilEntry)
	}
	return s.run(ctx, "program:"+p.Name, func(ctx context.Context, fn MethodFunc) error {
		return VisitProgram(ctx, p, fn)
	})
}

// Module weaves every method of m.
func (s *Session) Module(ctx context.Context, m *unit.Module) (*Report, error) {
	if m == nil {
		return &Report{}, fmt.Errorf("weave module: %w", ErrNilEntry)
	}
	return s.run(ctx, "module:"+m.Name, func(ctx context.Context, fn MethodFunc) error {
		return VisitModule(ctx, m, fn)
	})
}

// Type weaves every method of t.
func (s *Session) Type(ctx context.Context, t *unit.Type) (*Report, error) {
	if t == nil {
		return &Report{}, fmt.Errorf("weave type: %w", ErrNilEntry)
	}
	return s.run(ctx, "type:"+t.FullName(), func(ctx context.Context, fn MethodFunc) error {
		return VisitType(ctx, t, fn)
	})
}

// Method weaves m.
func (s *Session) Method(ctx context.Context, m *unit.Method) (*Report, error) {
	if m == nil {
		return &Report{}, fmt.Errorf("weave method: %w", ErrNilEntry)
	}
	return s.run(ctx, "method:"+m.String(), func(ctx context.Context, fn MethodFunc) error {
		return VisitMethod(ctx, m, fn)
	})
}

// job is one admitted method waiting for a worker.
type job struct {
	method *unit.Method
	slot   int
}

func (s *Session) run(ctx context.Context, name string, visit func(context.Context, MethodFunc) error) (*Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := trace.Start(ctx, trace.ScopeSession, "weave "+name)

	report := &Report{}
	var err error
	if s.Options.Jobs > 1 {
		err = s.runParallel(ctx, report, visit)
	} else {
		err = visit(ctx, func(ctx context.Context, m *unit.Method) error {
			admitted, err := s.Filter.AdmitMethod(m.Ref())
			if err != nil {
				report.Methods = append(report.Methods, MethodReport{Method: m.Ref()})
				return err
			}
			if !admitted {
				report.Methods = append(report.Methods, filteredReport(m))
				return nil
			}
			mr, err := s.weaveMethod(ctx, m)
			report.Methods = append(report.Methods, mr)
			return err
		})
	}

	t := report.Totals()
	span.Set("methods", strconv.Itoa(t.Methods)).
		Set("woven", strconv.Itoa(t.Woven)).
		Set("skipped", strconv.Itoa(t.Skipped))
	if err != nil {
		span.Fail(err)
		span.End("aborted")
		return report, err
	}
	span.End("")
	return report, nil
}

// runParallel evaluates the method filter in declaration order, then rewrites admitted methods
// on a bounded worker group. Each method is owned by exactly one worker. Method spans are
// children of the session span. After a failure, admitted methods that no worker rewrote are
// dropped from the report.
func (s *Session) runParallel(ctx context.Context, report *Report, visit func(context.Context, MethodFunc) error) error {
	var jobs []job
	err := visit(ctx, func(_ context.Context, m *unit.Method) error {
		admitted, err := s.Filter.AdmitMethod(m.Ref())
		if err != nil {
			report.Methods = append(report.Methods, MethodReport{Method: m.Ref()})
			return err
		}
		if !admitted {
			report.Methods = append(report.Methods, filteredReport(m))
			return nil
		}
		report.Methods = append(report.Methods, MethodReport{Method: m.Ref(), Admitted: true})
		jobs = append(jobs, job{method: m, slot: len(report.Methods) - 1})
		return nil
	})
	if err != nil {
		dropUnprocessed(report, jobs, make([]bool, len(jobs)))
		return err
	}
	if len(jobs) == 0 {
		return nil
	}

	workers := min(s.Options.Jobs, len(jobs))
	free := make(chan int, workers)
	for w := 1; w <= workers; w++ {
		free <- w
	}

	// Slots are unique per job, so workers write the report without locking.
	ran := make([]bool, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, j := range jobs {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			w := <-free
			defer func() { free <- w }()
			mr, err := s.weaveMethod(trace.WithWorker(ctx, w), j.method)
			report.Methods[j.slot] = mr
			ran[i] = true
			if err != nil {
				return fmt.Errorf("%s: %w", j.method, err)
			}
			return nil
		})
	}
	err = g.Wait()
	if err != nil {
		dropUnprocessed(report, jobs, ran)
	}
	return err
}

func dropUnprocessed(report *Report, jobs []job, ran []bool) {
	skip := make(map[int]bool)
	for i, j := range jobs {
		if !ran[i] {
			skip[j.slot] = true
		}
	}
	kept := report.Methods[:0]
	for slot, mr := range report.Methods {
		if !skip[slot] {
			kept = append(kept, mr)
		}
	}
	report.Methods = kept
}

func filteredReport(m *unit.Method) MethodReport {
	mr := MethodReport{Method: m.Ref()}
	if m.Body != nil {
		d, _ := il.Fingerprint(m.Body) //nolint:errcheck // zero digest for unencodable bodies
		mr.Before, mr.After = d, d
	}
	return mr
}

// weaveMethod runs the scan, filter, weave and commit pipeline over one method body.
func (s *Session) weaveMethod(ctx context.Context, m *unit.Method) (MethodReport, error) {
	mr := MethodReport{Method: m.Ref(), Admitted: true}
	if m.Body == nil {
		return mr, nil
	}

	_, span := trace.Start(ctx, trace.ScopeMethod, "method:"+m.String())
	mr.Before, _ = il.Fingerprint(m.Body) //nolint:errcheck // zero digest for unencodable bodies

	cur := scan.NewCursor(m)
	cur.OnSkip = func(e *scan.MalformedError) {
		mr.Skipped = append(mr.Skipped, *e)
		span.Point("site:skipped", e.Reason.String(),
			map[string]string{"at": strconv.Itoa(e.At), "new": strconv.Itoa(e.Index)})
	}

	err := s.weaveSites(cur, &mr, func(site *scan.CallSite, what string) {
		span.Point("site:"+what, site.Type.Key(),
			map[string]string{"at": strconv.Itoa(site.Start), "ctor": site.Ctor.Key()})
	})

	mr.After, _ = il.Fingerprint(m.Body) //nolint:errcheck // zero digest for unencodable bodies
	span.Set("sites", strconv.Itoa(mr.Sites)).Set("woven", strconv.Itoa(mr.Woven))
	if err != nil {
		span.Fail(err)
		span.End("aborted")
		return mr, err
	}
	span.End("")
	return mr, nil
}

func (s *Session) weaveSites(cur *scan.Cursor, mr *MethodReport, note func(*scan.CallSite, string)) error {
	for {
		site, ok := cur.Next()
		if !ok {
			return nil
		}
		mr.Sites++

		admitted, err := s.Filter.AdmitSite(&site)
		if err != nil {
			return err
		}
		if !admitted {
			mr.Rejected++
			note(&site, "rejected")
			continue
		}

		rw, err := s.Weaver.Weave(&site)
		if err != nil {
			return fmt.Errorf("weave %s: %w", &site, err)
		}
		if err := Apply(&site, rw); err != nil {
			return err
		}
		mr.Woven++
		note(&site, "woven")

		// Nested constructions in the argument region come next.
		cur.Seek(site.Start + len(rw.Alloc))
	}
}
