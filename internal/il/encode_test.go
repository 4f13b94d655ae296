package il_test

import (
	"bytes"
	"testing"

	"ctorweave/internal/il"
)

func sampleBody() *il.Body {
	ctor := il.MethodRef{DeclaringType: widget, Name: il.CtorName, Params: []il.TypeRef{{Namespace: "Runtime", Name: "Int32"}}, HasThis: true}
	ret := il.Simple(il.OpRet)
	tryStart := il.WithType(il.OpNew, widget)
	handler := il.Simple(il.OpPop)
	b := il.NewBody(
		tryStart,
		il.Simple(il.OpDup),
		il.Int(42),
		il.WithMethod(il.OpCallCtor, ctor),
		il.Slot(il.OpStLoc, 0),
		il.Switch(ret, handler),
		il.Branch(il.OpLeave, ret),
		handler,
		ret,
	)
	b.Locals = []il.TypeRef{widget}
	b.Handlers = []*il.Handler{{
		Kind:         il.HandlerCatch,
		TryStart:     tryStart,
		TryEnd:       handler,
		HandlerStart: handler,
		HandlerEnd:   ret,
		CatchType:    &il.TypeRef{Namespace: "Runtime", Name: "Exception"},
	}}
	return b
}

func TestEncodeDecodePreservesStructure(t *testing.T) {
	b := sampleBody()
	data, err := il.Encode(b)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := il.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if il.DumpString(got) != il.DumpString(b) {
		t.Fatalf("decoded body differs\n got:\n%s\nwant:\n%s", il.DumpString(got), il.DumpString(b))
	}
	if err := il.Validate(got); err != nil {
		t.Fatalf("decoded body invalid: %v", err)
	}
	again, err := il.Encode(got)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Fatalf("encoding is not canonical")
	}
}

func TestFingerprintTracksEdits(t *testing.T) {
	a, b := sampleBody(), sampleBody()
	fa, err := il.Fingerprint(a)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	fb, err := il.Fingerprint(b)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if fa != fb {
		t.Fatalf("identical bodies have different fingerprints")
	}
	b.At(2).Operand.Int = 43
	fb, err = il.Fingerprint(b)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if fa == fb {
		t.Fatalf("edit not reflected in fingerprint")
	}
	if len(fa.Short()) != 12 {
		t.Fatalf("short digest %q", fa.Short())
	}
}

func TestEncodeRejectsForeignTarget(t *testing.T) {
	foreign := il.Simple(il.OpRet)
	b := il.NewBody(il.Branch(il.OpBr, foreign))
	if _, err := il.Encode(b); err == nil {
		t.Fatalf("expected error for target outside the body")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := il.Decode([]byte{0xc1}); err == nil {
		t.Fatalf("expected decode error")
	}
}
