package trace

import (
	"errors"
	"io"
	"sync"
)

type nop struct{}

func (nop) Emit(*Event)  {}
func (nop) Level() Level { return LevelOff }
func (nop) Close() error { return nil }

// Nop records nothing.
var Nop Tracer = nop{}

// Stream formats every accepted event and writes it at once.
type Stream struct {
	mu     sync.Mutex
	w      io.Writer
	level  Level
	format Format
}

// NewStream creates a stream tracer writing to w.
func NewStream(w io.Writer, level Level, format Format) *Stream {
	return &Stream{w: w, level: level, format: format}
}

func (t *Stream) Emit(ev *Event) {
	if !t.level.accepts(ev) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ev.Seq = nextSeq()
	_, _ = t.w.Write(FormatEvent(ev, t.format)) //nolint:errcheck // tracing never fails a weave
}

func (t *Stream) Level() Level { return t.level }

// Close closes the writer when it is an io.Closer.
func (t *Stream) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Ring keeps the newest accepted events in a fixed-size buffer.
type Ring struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
	level  Level
}

// NewRing creates a ring holding up to capacity events.
func NewRing(capacity int, level Level) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{events: make([]Event, capacity), level: level}
}

func (t *Ring) Emit(ev *Event) {
	if !t.level.accepts(ev) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	stored := *ev
	stored.Seq = nextSeq()
	t.events[t.next] = stored
	t.next = (t.next + 1) % len(t.events)
	t.full = t.full || t.next == 0
}

func (t *Ring) Level() Level { return t.level }
func (t *Ring) Close() error { return nil }

// Snapshot returns the stored events, oldest first.
func (t *Ring) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]Event(nil), t.events[:t.next]...)
	}
	out := make([]Event, 0, len(t.events))
	out = append(out, t.events[t.next:]...)
	return append(out, t.events[:t.next]...)
}

// Dump writes the snapshot to w.
func (t *Ring) Dump(w io.Writer, format Format) error {
	for _, ev := range t.Snapshot() {
		if _, err := w.Write(FormatEvent(&ev, format)); err != nil {
			return err
		}
	}
	return nil
}

type fanout struct {
	level   Level
	tracers []Tracer
}

// Fanout emits every event to all tracers. Each tracer still applies its own level.
func Fanout(level Level, tracers ...Tracer) Tracer {
	return &fanout{level: level, tracers: tracers}
}

func (f *fanout) Emit(ev *Event) {
	for _, t := range f.tracers {
		t.Emit(ev)
	}
}

func (f *fanout) Level() Level { return f.level }

func (f *fanout) Close() error {
	var errs []error
	for _, t := range f.tracers {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}
