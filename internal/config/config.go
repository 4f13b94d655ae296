// Package config loads weave.toml, the declarative description of a weaving pass.
//
//	jobs = 4
//
//	[activator]
//	type   = "Runtime.Activation.Activator"
//	method = "CreateInstance"
//	params = ["Runtime.Type"]
//	return = "Runtime.Object"
//
//	[factories."App.Widget"]
//	type   = "App.WidgetFactory"
//	method = "Create"
//	params = ["Runtime.Int32"]
//	return = "App.Widget"
//
//	[types]
//	include = ["App.*"]
//	exclude = ["App.Internal*"]
//
//	[methods]
//	exclude = ["*::.ctor"]
//
//	[trace]
//	level  = "detail"
//	mode   = "stream"
//	format = "text"
//	output = "-"
//
// Type names are "Namespace.Name", optionally prefixed by "[module]".
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"ctorweave/internal/filter"
	"ctorweave/internal/il"
	"ctorweave/internal/trace"
	"ctorweave/internal/weave"
)

// FileName is the configuration file looked up by FindConfig.
const FileName = "weave.toml"

var (
	// ErrActivatorIncomplete indicates that [activator] names no type or no method.
	ErrActivatorIncomplete = errors.New("[activator] requires type and method")
	// ErrFactoryIncomplete indicates that a [factories] entry names no type or no method.
	ErrFactoryIncomplete = errors.New("factory requires type and method")
	// ErrInvalidJobs indicates a negative jobs value.
	ErrInvalidJobs = errors.New("jobs must not be negative")
	// ErrInvalidTypeName indicates a type name that cannot be split into namespace and name.
	ErrInvalidTypeName = errors.New("invalid type name")
)

// MethodSpec names a static method by declaring type, name and signature.
type MethodSpec struct {
	Type   string   `toml:"type"`
	Method string   `toml:"method"`
	Params []string `toml:"params"`
	Return string   `toml:"return"`
}

// RuleSpec is an include/exclude glob list.
type RuleSpec struct {
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

// TraceSpec mirrors trace.Config in text form.
type TraceSpec struct {
	Level    string `toml:"level"`
	Mode     string `toml:"mode"`
	Format   string `toml:"format"`
	Output   string `toml:"output"`
	RingSize int    `toml:"ring_size"`
}

// Config is a decoded weave.toml.
type Config struct {
	Path      string                `toml:"-"`
	Jobs      int                   `toml:"jobs"`
	Activator *MethodSpec           `toml:"activator"`
	Factories map[string]MethodSpec `toml:"factories"`
	Types     RuleSpec              `toml:"types"`
	Methods   RuleSpec              `toml:"methods"`
	Trace     TraceSpec             `toml:"trace"`
}

// Load parses and checks the file at path.
func Load(path string) (*Config, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	if meta.IsDefined("activator") && cfg.Activator == nil {
		cfg.Activator = &MethodSpec{}
	}
	cfg.Path = path
	if err := cfg.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// FindConfig walks up from startDir to locate weave.toml.
func FindConfig(startDir string) (path string, ok bool, err error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Discover loads the nearest weave.toml above startDir. It returns a zero Config when none exists.
func Discover(startDir string) (*Config, error) {
	path, ok, err := FindConfig(startDir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Config{}, nil
	}
	return Load(path)
}

func (c *Config) check() error {
	var errs []error
	if c.Jobs < 0 {
		errs = append(errs, ErrInvalidJobs)
	}
	if c.Activator != nil {
		if _, err := c.Activator.ref(ErrActivatorIncomplete); err != nil {
			errs = append(errs, fmt.Errorf("[activator]: %w", err))
		}
	}
	for key, f := range c.Factories {
		if _, err := ParseTypeRef(key); err != nil {
			errs = append(errs, fmt.Errorf("[factories] %q: %w", key, err))
			continue
		}
		if _, err := f.ref(ErrFactoryIncomplete); err != nil {
			errs = append(errs, fmt.Errorf("[factories] %q: %w", key, err))
		}
	}
	if _, err := filter.TypeRules(c.Types.rules()); err != nil {
		errs = append(errs, fmt.Errorf("[types]: %w", err))
	}
	if _, err := filter.MethodRules(c.Methods.rules()); err != nil {
		errs = append(errs, fmt.Errorf("[methods]: %w", err))
	}
	if _, err := c.TraceConfig(); err != nil {
		errs = append(errs, fmt.Errorf("[trace]: %w", err))
	}
	return errors.Join(errs...)
}

// Evaluator builds the type and method filters from [types] and [methods].
func (c *Config) Evaluator() (filter.Evaluator, error) {
	var eval filter.Evaluator
	if len(c.Types.Include)+len(c.Types.Exclude) > 0 {
		f, err := filter.TypeRules(c.Types.rules())
		if err != nil {
			return filter.Evaluator{}, fmt.Errorf("[types]: %w", err)
		}
		eval.Type = f
	}
	if len(c.Methods.Include)+len(c.Methods.Exclude) > 0 {
		f, err := filter.MethodRules(c.Methods.rules())
		if err != nil {
			return filter.Evaluator{}, fmt.Errorf("[methods]: %w", err)
		}
		eval.Method = f
	}
	return eval, nil
}

// Weaver builds the Redirector described by [activator] and [factories].
func (c *Config) Weaver() (*weave.Redirector, error) {
	var entry il.MethodRef
	if c.Activator != nil {
		ref, err := c.Activator.ref(ErrActivatorIncomplete)
		if err != nil {
			return nil, fmt.Errorf("[activator]: %w", err)
		}
		entry = ref
	}
	r := weave.NewRedirector(entry)
	if len(c.Factories) == 0 {
		return r, nil
	}
	r.Factories = make(map[string]il.MethodRef, len(c.Factories))
	for key, f := range c.Factories {
		typ, err := ParseTypeRef(key)
		if err != nil {
			return nil, fmt.Errorf("[factories] %q: %w", key, err)
		}
		ref, err := f.ref(ErrFactoryIncomplete)
		if err != nil {
			return nil, fmt.Errorf("[factories] %q: %w", key, err)
		}
		r.Factories[typ.Key()] = ref
	}
	return r, nil
}

// TraceConfig converts [trace]. An absent section yields a disabled tracer configuration.
func (c *Config) TraceConfig() (trace.Config, error) {
	level, err := trace.ParseLevel(c.Trace.Level)
	if err != nil {
		return trace.Config{}, err
	}
	mode := trace.ModeStream
	if c.Trace.Mode != "" {
		if mode, err = trace.ParseMode(c.Trace.Mode); err != nil {
			return trace.Config{}, err
		}
	}
	format, err := trace.ParseFormat(c.Trace.Format)
	if err != nil {
		return trace.Config{}, err
	}
	return trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: c.Trace.Output,
		RingSize:   c.Trace.RingSize,
	}, nil
}

// Options returns the session options.
func (c *Config) Options() weave.Options {
	return weave.Options{Jobs: c.Jobs}
}

// Session builds a weave.Session from the whole file.
func (c *Config) Session() (*weave.Session, error) {
	eval, err := c.Evaluator()
	if err != nil {
		return nil, err
	}
	w, err := c.Weaver()
	if err != nil {
		return nil, err
	}
	return weave.NewSession(eval, w, c.Options()), nil
}

func (r RuleSpec) rules() filter.Rules {
	return filter.Rules{Include: r.Include, Exclude: r.Exclude}
}

func (m *MethodSpec) ref(missing error) (il.MethodRef, error) {
	if strings.TrimSpace(m.Type) == "" || strings.TrimSpace(m.Method) == "" {
		return il.MethodRef{}, missing
	}
	decl, err := ParseTypeRef(m.Type)
	if err != nil {
		return il.MethodRef{}, err
	}
	ref := il.MethodRef{DeclaringType: decl, Name: strings.TrimSpace(m.Method)}
	for _, p := range m.Params {
		t, err := ParseTypeRef(p)
		if err != nil {
			return il.MethodRef{}, err
		}
		ref.Params = append(ref.Params, t)
	}
	if strings.TrimSpace(m.Return) != "" {
		if ref.Return, err = ParseTypeRef(m.Return); err != nil {
			return il.MethodRef{}, err
		}
	}
	return ref, nil
}

// ParseTypeRef parses "[module]Namespace.Name" or "Namespace.Name". A name without a dot has an
// empty namespace.
func ParseTypeRef(s string) (il.TypeRef, error) {
	s = strings.TrimSpace(s)
	var ref il.TypeRef
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return il.TypeRef{}, fmt.Errorf("%w: %q", ErrInvalidTypeName, s)
		}
		ref.Module = s[1:end]
		s = s[end+1:]
	}
	if s == "" || strings.HasSuffix(s, ".") || strings.HasPrefix(s, ".") {
		return il.TypeRef{}, fmt.Errorf("%w: %q", ErrInvalidTypeName, s)
	}
	if dot := strings.LastIndexByte(s, '.'); dot >= 0 {
		ref.Namespace, ref.Name = s[:dot], s[dot+1:]
	} else {
		ref.Name = s
	}
	return ref, nil
}
