package trace

import (
	"context"
	"time"
)

type tracerKey struct{}

type spanKey struct{}

type workerKey struct{}

// WithTracer attaches t to ctx.
func WithTracer(ctx context.Context, t Tracer) context.Context {
	if t == nil {
		t = Nop
	}
	return context.WithValue(ctx, tracerKey{}, t)
}

// FromContext returns the tracer attached to ctx, or Nop.
func FromContext(ctx context.Context) Tracer {
	if ctx != nil {
		if t, ok := ctx.Value(tracerKey{}).(Tracer); ok {
			return t
		}
	}
	return Nop
}

// WithWorker tags events emitted under ctx with a parallel worker slot.
func WithWorker(ctx context.Context, worker int) context.Context {
	return context.WithValue(ctx, workerKey{}, worker)
}

// Current returns the span opened most recently under ctx, or nil.
func Current(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// Span is an open unit of work. A nil *Span ignores every call.
type Span struct {
	tracer  Tracer
	id      uint64
	parent  uint64
	worker  int
	scope   Scope
	name    string
	started time.Time
	attrs   map[string]string
	quiet   bool // below the tracer level; only failures are emitted
}

// Start opens a span named name under the span carried by ctx and returns a context carrying
// the new span. With tracing disabled ctx is returned unchanged with a nil span.
func Start(ctx context.Context, scope Scope, name string) (context.Context, *Span) {
	t := FromContext(ctx)
	if !Enabled(t) {
		return ctx, nil
	}
	s := &Span{
		tracer:  t,
		id:      spans.Add(1),
		scope:   scope,
		name:    name,
		started: time.Now(),
		quiet:   !t.Level().Covers(scope),
	}
	if parent := Current(ctx); parent != nil {
		s.parent = parent.id
	}
	s.worker, _ = ctx.Value(workerKey{}).(int)
	s.emit(KindBegin, s.started, name, "", nil)
	return context.WithValue(ctx, spanKey{}, s), s
}

// ID returns the span identifier, 0 for a nil span.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.id
}

// Set records an attribute reported when the span ends.
func (s *Span) Set(key, value string) *Span {
	if s == nil {
		return nil
	}
	if s.attrs == nil {
		s.attrs = make(map[string]string)
	}
	s.attrs[key] = value
	return s
}

// Point records an instant event inside the span.
func (s *Span) Point(name, detail string, attrs map[string]string) {
	if s == nil {
		return
	}
	s.emit(KindPoint, time.Now(), name, detail, attrs)
}

// Fail records err against the span. Failures are kept at every level but off.
func (s *Span) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.tracer.Emit(s.event(KindError, time.Now(), s.name, err.Error(), nil))
}

// End closes the span and returns its duration.
func (s *Span) End(detail string) time.Duration {
	if s == nil {
		return 0
	}
	now := time.Now()
	s.emit(KindEnd, now, s.name, detail, s.attrs)
	return now.Sub(s.started)
}

func (s *Span) emit(kind Kind, at time.Time, name, detail string, attrs map[string]string) {
	if s.quiet {
		return
	}
	s.tracer.Emit(s.event(kind, at, name, detail, attrs))
}

func (s *Span) event(kind Kind, at time.Time, name, detail string, attrs map[string]string) *Event {
	return &Event{
		Time:   at,
		Kind:   kind,
		Scope:  s.scope,
		Span:   s.id,
		Parent: s.parent,
		Worker: s.worker,
		Name:   name,
		Detail: detail,
		Attrs:  attrs,
	}
}
