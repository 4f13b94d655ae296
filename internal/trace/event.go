package trace

import (
	"sync/atomic"
	"time"
)

// Kind is the type of an event.
type Kind uint8

const (
	KindBegin Kind = iota + 1 // span opened
	KindEnd                   // span closed
	KindPoint                 // instant event inside a span
	KindError                 // failure, recorded at every level but off
)

var kindNames = [...]string{KindBegin: "begin", KindEnd: "end", KindPoint: "point", KindError: "error"}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Scope is the granularity of an event. Coarser scopes have smaller values.
type Scope uint8

const (
	ScopeSession Scope = iota + 1
	ScopeModule
	ScopeType
	ScopeMethod // method pipeline and its call sites
)

var scopeNames = [...]string{ScopeSession: "session", ScopeModule: "module", ScopeType: "type", ScopeMethod: "method"}

func (s Scope) String() string {
	if int(s) < len(scopeNames) && scopeNames[s] != "" {
		return scopeNames[s]
	}
	return "unknown"
}

// Event is one trace record.
type Event struct {
	Time   time.Time
	Seq    uint64 // assigned by the tracer that stores the event
	Kind   Kind
	Scope  Scope
	Span   uint64 // span the event belongs to; for points, the enclosing span
	Parent uint64
	Worker int // parallel worker slot, 0 on the calling goroutine
	Name   string
	Detail string
	Attrs  map[string]string
}

var seq, spans atomic.Uint64

func nextSeq() uint64 { return seq.Add(1) }
