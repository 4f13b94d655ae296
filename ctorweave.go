// Package ctorweave rewrites object-construction call sites in compiled method bodies so that
// construction is routed through an activation service instead of a direct constructor call.
//
// A construction site is the sequence
//
//	new T; dup; <argument code>; callctor T::.ctor
//
// Every site whose constructed type passes the caller's type filter becomes
//
//	ldtype T; <argument code>; activate Entry for T::.ctor; castclass T
//
// The argument code is never moved or re-evaluated, so side effects keep their order. Sites that
// do not match the pattern exactly (stray branches into the middle, control flow inside the
// argument code, mismatched constructors) are skipped and listed in the returned Report.
//
// The four entry points differ only in the granularity of the unit they start from:
//
//	services := func(_ ctorweave.MethodRef, typ ctorweave.TypeRef, _ ctorweave.MethodRef) (bool, error) {
//		return typ.Namespace == "App.Services", nil
//	}
//	report, err := ctorweave.InterceptModule(ctx, mod, services)
package ctorweave

import (
	"context"

	"ctorweave/internal/config"
	"ctorweave/internal/filter"
	"ctorweave/internal/il"
	"ctorweave/internal/scan"
	"ctorweave/internal/trace"
	"ctorweave/internal/unit"
	"ctorweave/internal/weave"
)

type (
	TypeRef   = il.TypeRef
	MethodRef = il.MethodRef
	Body      = il.Body
	Instr     = il.Instr

	Program = unit.Program
	Module  = unit.Module
	Type    = unit.Type
	Method  = unit.Method

	CallSite     = scan.CallSite
	TypeFilter   = filter.TypeFilter
	MethodFilter = filter.MethodFilter
	Weaver       = weave.Weaver
	WeaverFunc   = weave.WeaverFunc
	Rewrite      = weave.Rewrite
	Report       = weave.Report
	MethodReport = weave.MethodReport

	Tracer      = trace.Tracer
	TraceConfig = trace.Config
	Config      = config.Config
)

// DefaultActivator is the activation entry point used unless WithActivator is given.
var DefaultActivator = weave.DefaultActivator

// Sentinel errors re-exported for errors.Is.
var (
	ErrNilEntry         = weave.ErrNilEntry
	ErrPredicate        = filter.ErrPredicate
	ErrRewriteInvariant = weave.ErrRewriteInvariant
	ErrMalformedPattern = scan.ErrMalformedPattern
	ErrFactorySignature = weave.ErrFactorySignature
)

type options struct {
	weaver    weave.Weaver
	method    filter.MethodFilter
	activator il.MethodRef
	factories map[string]il.MethodRef
	jobs      int
	tracer    trace.Tracer
}

// Option customizes a weave.
type Option func(*options)

// WithWeaver replaces the default Redirector.
func WithWeaver(w Weaver) Option {
	return func(o *options) { o.weaver = w }
}

// WithMethodFilter restricts which method bodies are scanned.
func WithMethodFilter(f MethodFilter) Option {
	return func(o *options) { o.method = f }
}

// WithActivator sets the activation entry point of the default Redirector.
func WithActivator(entry MethodRef) Option {
	return func(o *options) { o.activator = entry }
}

// WithFactories binds types, by key or full name, to static factory methods. Sites constructing
// those types call the factory directly instead of the activation entry point.
func WithFactories(factories map[string]MethodRef) Option {
	return func(o *options) { o.factories = factories }
}

// WithJobs weaves up to n methods concurrently. Predicates and the weaver must then be safe for
// concurrent use.
func WithJobs(n int) Option {
	return func(o *options) { o.jobs = n }
}

// WithTracer records weave events on t.
func WithTracer(t Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// InterceptProgram rewrites every admitted construction site in every method of p.
func InterceptProgram(ctx context.Context, p *Program, typeFilter TypeFilter, opts ...Option) (*Report, error) {
	ctx, s := newSession(ctx, typeFilter, opts)
	return s.Program(ctx, p)
}

// InterceptModule rewrites every admitted construction site in every method of m.
func InterceptModule(ctx context.Context, m *Module, typeFilter TypeFilter, opts ...Option) (*Report, error) {
	ctx, s := newSession(ctx, typeFilter, opts)
	return s.Module(ctx, m)
}

// InterceptType rewrites every admitted construction site in every method of t.
func InterceptType(ctx context.Context, t *Type, typeFilter TypeFilter, opts ...Option) (*Report, error) {
	ctx, s := newSession(ctx, typeFilter, opts)
	return s.Type(ctx, t)
}

// InterceptMethod rewrites every admitted construction site in m.
func InterceptMethod(ctx context.Context, m *Method, typeFilter TypeFilter, opts ...Option) (*Report, error) {
	ctx, s := newSession(ctx, typeFilter, opts)
	return s.Method(ctx, m)
}

func newSession(ctx context.Context, typeFilter TypeFilter, opts []Option) (context.Context, *weave.Session) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if o.tracer != nil {
		ctx = trace.WithTracer(ctx, o.tracer)
	}
	w := o.weaver
	if w == nil {
		r := weave.NewRedirector(o.activator)
		r.Factories = o.factories
		w = r
	}
	eval := filter.Evaluator{Type: typeFilter, Method: o.method}
	return ctx, weave.NewSession(eval, w, weave.Options{Jobs: o.jobs})
}

// NewTracer creates a tracer for WithTracer.
func NewTracer(cfg TraceConfig) (Tracer, error) {
	return trace.New(cfg)
}

// LoadConfig reads a weave.toml file. An empty path searches upwards from the working directory
// and yields an empty configuration when no file exists.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return config.Discover(".")
	}
	return config.Load(path)
}

// ConfigOptions turns cfg into the type filter and options of an Intercept call. The tracer is
// created from the [trace] section when it enables tracing; the caller closes it.
func ConfigOptions(cfg *Config) (TypeFilter, []Option, error) {
	eval, err := cfg.Evaluator()
	if err != nil {
		return nil, nil, err
	}
	w, err := cfg.Weaver()
	if err != nil {
		return nil, nil, err
	}
	opts := []Option{WithWeaver(w), WithJobs(cfg.Jobs)}
	if eval.Method != nil {
		opts = append(opts, WithMethodFilter(eval.Method))
	}
	tc, err := cfg.TraceConfig()
	if err != nil {
		return nil, nil, err
	}
	if tc.Level != trace.LevelOff {
		t, err := trace.New(tc)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, WithTracer(t))
	}
	return eval.Type, opts, nil
}
