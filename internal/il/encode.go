package il

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"
)

// Current schema version - increment when the snapshot layout changes
const snapshotSchemaVersion uint16 = 1

const noRef int32 = -1

// Digest is a sha256 fingerprint of an encoded body.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex digits.
func (d Digest) Short() string {
	return d.String()[:12]
}

type snapshot struct {
	Schema   uint16
	Instrs   []snapInstr
	Handlers []snapHandler
	Locals   []TypeRef
}

type snapInstr struct {
	Op         Opcode
	Kind       OperandKind
	Int        int64
	Float      float64
	Str        string
	Index      int
	Type       *TypeRef
	Method     *MethodRef
	Activation *Activation
	Target     int32
	Targets    []int32
}

type snapHandler struct {
	Kind         HandlerKind
	TryStart     int32
	TryEnd       int32
	HandlerStart int32
	HandlerEnd   int32
	FilterStart  int32
	CatchType    *TypeRef
}

// Encode serializes a body into its canonical msgpack snapshot. Two bodies encode to the same bytes
// exactly when they hold the same instructions, operands, handlers and locals.
func Encode(b *Body) ([]byte, error) {
	if b == nil {
		b = &Body{}
	}
	index := make(map[*Instr]int32, len(b.Instrs))
	for i, ins := range b.Instrs {
		pos, err := safecast.Conv[int32](i)
		if err != nil {
			return nil, fmt.Errorf("instruction index overflow: %w", err)
		}
		index[ins] = pos
	}
	ref := func(p *Instr) (int32, error) {
		if p == nil {
			return noRef, nil
		}
		pos, ok := index[p]
		if !ok {
			return noRef, fmt.Errorf("reference to instruction %s outside the body", p.Op)
		}
		return pos, nil
	}

	snap := snapshot{
		Schema: snapshotSchemaVersion,
		Instrs: make([]snapInstr, len(b.Instrs)),
		Locals: b.Locals,
	}
	for i, ins := range b.Instrs {
		si := snapInstr{
			Op:         ins.Op,
			Kind:       ins.Operand.Kind,
			Int:        ins.Operand.Int,
			Float:      ins.Operand.Float,
			Str:        ins.Operand.Str,
			Index:      ins.Operand.Index,
			Type:       ins.Operand.Type,
			Method:     ins.Operand.Method,
			Activation: ins.Operand.Activation,
		}
		var err error
		if si.Target, err = ref(ins.Operand.Target); err != nil {
			return nil, fmt.Errorf("instr %d: %w", i, err)
		}
		for _, t := range ins.Operand.Targets {
			pos, err := ref(t)
			if err != nil {
				return nil, fmt.Errorf("instr %d: %w", i, err)
			}
			si.Targets = append(si.Targets, pos)
		}
		snap.Instrs[i] = si
	}
	for i, h := range b.Handlers {
		var sh snapHandler
		sh.Kind = h.Kind
		sh.CatchType = h.CatchType
		for _, f := range []struct {
			dst *int32
			src *Instr
		}{
			{&sh.TryStart, h.TryStart},
			{&sh.TryEnd, h.TryEnd},
			{&sh.HandlerStart, h.HandlerStart},
			{&sh.HandlerEnd, h.HandlerEnd},
			{&sh.FilterStart, h.FilterStart},
		} {
			pos, err := ref(f.src)
			if err != nil {
				return nil, fmt.Errorf("handler %d: %w", i, err)
			}
			*f.dst = pos
		}
		snap.Handlers = append(snap.Handlers, sh)
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(&snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode rebuilds a body from an Encode snapshot.
func Decode(data []byte) (*Body, error) {
	var snap snapshot
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&snap); err != nil {
		return nil, err
	}
	if snap.Schema != snapshotSchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema %d (want %d)", snap.Schema, snapshotSchemaVersion)
	}

	b := &Body{
		Instrs: make([]*Instr, len(snap.Instrs)),
		Locals: snap.Locals,
	}
	for i := range snap.Instrs {
		b.Instrs[i] = &Instr{}
	}
	at := func(pos int32) (*Instr, error) {
		if pos == noRef {
			return nil, nil
		}
		if pos < 0 || int(pos) >= len(b.Instrs) {
			return nil, fmt.Errorf("reference %d out of range", pos)
		}
		return b.Instrs[pos], nil
	}

	for i, si := range snap.Instrs {
		ins := b.Instrs[i]
		ins.Op = si.Op
		ins.Operand = Operand{
			Kind:       si.Kind,
			Int:        si.Int,
			Float:      si.Float,
			Str:        si.Str,
			Index:      si.Index,
			Type:       si.Type,
			Method:     si.Method,
			Activation: si.Activation,
		}
		var err error
		if ins.Operand.Target, err = at(si.Target); err != nil {
			return nil, fmt.Errorf("instr %d: %w", i, err)
		}
		if si.Targets != nil {
			ins.Operand.Targets = make([]*Instr, len(si.Targets))
			for j, pos := range si.Targets {
				if ins.Operand.Targets[j], err = at(pos); err != nil {
					return nil, fmt.Errorf("instr %d: %w", i, err)
				}
			}
		}
	}
	for i, sh := range snap.Handlers {
		h := &Handler{Kind: sh.Kind, CatchType: sh.CatchType}
		for _, f := range []struct {
			dst **Instr
			src int32
		}{
			{&h.TryStart, sh.TryStart},
			{&h.TryEnd, sh.TryEnd},
			{&h.HandlerStart, sh.HandlerStart},
			{&h.HandlerEnd, sh.HandlerEnd},
			{&h.FilterStart, sh.FilterStart},
		} {
			p, err := at(f.src)
			if err != nil {
				return nil, fmt.Errorf("handler %d: %w", i, err)
			}
			*f.dst = p
		}
		b.Handlers = append(b.Handlers, h)
	}
	if err := b.Renumber(); err != nil {
		return nil, err
	}
	return b, nil
}

// Fingerprint hashes the canonical encoding of a body.
func Fingerprint(b *Body) (Digest, error) {
	data, err := Encode(b)
	if err != nil {
		return Digest{}, err
	}
	return sha256.Sum256(data), nil
}
