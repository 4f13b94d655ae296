package trace_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"ctorweave/internal/trace"
)

func names(events []trace.Event) string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Kind.String() + ":" + ev.Name
	}
	return strings.Join(out, " ")
}

func TestLevelFiltering(t *testing.T) {
	ring := trace.NewRing(16, trace.LevelPhase)
	ctx := trace.WithTracer(context.Background(), ring)

	ctx, session := trace.Start(ctx, trace.ScopeSession, "weave")
	tctx, typ := trace.Start(ctx, trace.ScopeType, "type:App.Foo")
	_, method := trace.Start(tctx, trace.ScopeMethod, "method:Make")
	method.Point("site:woven", "", nil)
	method.Fail(errors.New("boom"))
	method.End("")
	typ.End("")
	session.End("")

	want := "begin:weave error:method:Make end:weave"
	if got := names(ring.Snapshot()); got != want {
		t.Fatalf("events = %q, want %q", got, want)
	}
}

func TestParentsAndWorkers(t *testing.T) {
	ring := trace.NewRing(16, trace.LevelDebug)
	ctx := trace.WithTracer(context.Background(), ring)
	ctx, session := trace.Start(ctx, trace.ScopeSession, "weave")
	_, method := trace.Start(trace.WithWorker(ctx, 3), trace.ScopeMethod, "method:Make")
	method.End("")
	session.End("")

	events := ring.Snapshot()
	if len(events) != 4 {
		t.Fatalf("got %d events", len(events))
	}
	begin := events[1]
	if begin.Parent != session.ID() || begin.Span != method.ID() || begin.Worker != 3 {
		t.Fatalf("method begin = %+v", begin)
	}
	if events[0].Worker != 0 {
		t.Fatalf("session worker = %d", events[0].Worker)
	}
}

func TestDisabledSpansAreNil(t *testing.T) {
	ctx := context.Background()
	got, span := trace.Start(ctx, trace.ScopeSession, "weave")
	if span != nil || got != ctx {
		t.Fatalf("disabled tracing opened a span")
	}
	span.Set("k", "v").Point("p", "", nil)
	span.Fail(errors.New("ignored"))
	if span.End("") != 0 || span.ID() != 0 {
		t.Fatalf("nil span reported values")
	}
}

func TestRingWrapsAround(t *testing.T) {
	ring := trace.NewRing(3, trace.LevelDebug)
	ctx := trace.WithTracer(context.Background(), ring)
	_, span := trace.Start(ctx, trace.ScopeMethod, "m")
	for _, name := range []string{"a", "b", "c", "d"} {
		span.Point(name, "", nil)
	}
	events := ring.Snapshot()
	if got := names(events); got != "point:b point:c point:d" {
		t.Fatalf("snapshot = %q", got)
	}
	if events[0].Seq >= events[2].Seq {
		t.Fatalf("sequence not increasing: %d, %d", events[0].Seq, events[2].Seq)
	}
}

func TestStreamFormats(t *testing.T) {
	var text bytes.Buffer
	ctx := trace.WithTracer(context.Background(), trace.NewStream(&text, trace.LevelDebug, trace.FormatText))
	_, span := trace.Start(trace.WithWorker(ctx, 2), trace.ScopeModule, "module:app")
	span.Set("woven", "2").End("")
	out := text.String()
	if !strings.Contains(out, "→ module:app @w2") || !strings.Contains(out, "← module:app {woven=2} @w2") {
		t.Fatalf("text output:\n%s", out)
	}

	var nd bytes.Buffer
	ctx = trace.WithTracer(context.Background(), trace.NewStream(&nd, trace.LevelDebug, trace.FormatNDJSON))
	_, span = trace.Start(ctx, trace.ScopeMethod, "method:Make")
	nd.Reset()
	span.Point("site:skipped", "no-dup", map[string]string{"at": "3"})
	var decoded map[string]any
	if err := json.Unmarshal(nd.Bytes(), &decoded); err != nil {
		t.Fatalf("ndjson: %v\n%s", err, nd.String())
	}
	if decoded["name"] != "site:skipped" || decoded["scope"] != "method" || decoded["span"] != float64(span.ID()) {
		t.Fatalf("decoded = %v", decoded)
	}
}

func TestNew(t *testing.T) {
	off, err := trace.New(trace.Config{Level: trace.LevelOff})
	if err != nil || trace.Enabled(off) {
		t.Fatalf("off tracer: %v %v", off, err)
	}

	var buf bytes.Buffer
	both, err := trace.New(trace.Config{Level: trace.LevelDebug, Mode: trace.ModeBoth, Output: &buf})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, span := trace.Start(trace.WithTracer(context.Background(), both), trace.ScopeSession, "hello")
	span.End("")
	if err := both.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("stream part did not write: %q", buf.String())
	}

	if _, err := trace.New(trace.Config{Level: trace.LevelDebug}); err == nil {
		t.Fatalf("expected error for missing mode")
	}
}

func TestParse(t *testing.T) {
	if l, err := trace.ParseLevel("Detail"); err != nil || l != trace.LevelDetail {
		t.Fatalf("ParseLevel = %v, %v", l, err)
	}
	if _, err := trace.ParseLevel("loud"); err == nil {
		t.Fatalf("expected level error")
	}
	if m, err := trace.ParseMode("ring"); err != nil || m != trace.ModeRing {
		t.Fatalf("ParseMode = %v, %v", m, err)
	}
	if _, err := trace.ParseMode(""); err == nil {
		t.Fatalf("expected mode error")
	}
	if f, err := trace.ParseFormat("json"); err != nil || f != trace.FormatNDJSON {
		t.Fatalf("ParseFormat = %v, %v", f, err)
	}
}
