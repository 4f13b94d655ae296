// Package trace records what a weaving session did.
//
// A session opens nested spans for itself and for every module, type and method it walks, and
// drops point events for every construction site it rewrites, rejects or skips. Events go to a
// Tracer: a Stream writes them as they happen, a Ring keeps the most recent ones in memory, and
// Fanout feeds several tracers at once.
//
// The tracer and the current span travel in the context:
//
//	ctx = trace.WithTracer(ctx, trace.NewRing(1024, trace.LevelDebug))
//	ctx, span := trace.Start(ctx, trace.ScopeModule, "module:app")
//	defer span.End("")
//
// Spans are nil-safe, so callers never check whether tracing is on.
package trace
