package testkit_test

import (
	"errors"
	"strings"
	"testing"

	"ctorweave/internal/il"
	"ctorweave/internal/testkit"
)

func TestMachineRunsConstruction(t *testing.T) {
	f := testkit.NewFixture()
	foo, ctor := f.Class("Foo", testkit.Int32, testkit.String)
	m := f.Method("Make", foo, testkit.Seq(
		testkit.Construction(foo, ctor, il.Slot(il.OpLdArg, 0), il.Str("x")),
		[]*il.Instr{il.Simple(il.OpRet)},
	)...)

	vm := testkit.NewMachine()
	res, err := vm.Run(m.Body, int64(5))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	obj, ok := res.(*testkit.Object)
	if !ok || !obj.Type.Same(foo) || len(obj.Args) != 2 || obj.Args[0] != int64(5) || obj.Args[1] != "x" {
		t.Fatalf("result = %#v", res)
	}
	if len(vm.Log) != 1 || !strings.HasPrefix(vm.Log[0], "init "+ctor.Key()) {
		t.Fatalf("log = %v", vm.Log)
	}
}

func TestMachineBranchesAndLocals(t *testing.T) {
	f := testkit.NewFixture()
	end := il.Slot(il.OpLdLoc, 0)
	loop := il.Slot(il.OpLdLoc, 0)
	// local0 = 3; while local0 != 0 { local0-- via host call }; return local0
	dec := f.Static("Dec", testkit.Int32, testkit.Int32)
	m := f.Method("Count", testkit.Int32,
		il.Int(3),
		il.Slot(il.OpStLoc, 0),
		loop,
		il.Branch(il.OpBrFalse, end),
		il.Slot(il.OpLdLoc, 0),
		il.WithMethod(il.OpCall, dec),
		il.Slot(il.OpStLoc, 0),
		il.Branch(il.OpBr, loop),
		end,
		il.Simple(il.OpRet),
	)

	vm := testkit.NewMachine()
	vm.Calls[dec.Key()] = func(args []any) (any, error) { return args[0].(int64) - 1, nil }
	res, err := vm.Run(m.Body, int64(0))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res != int64(0) || len(vm.Log) != 3 {
		t.Fatalf("res=%v log=%v", res, vm.Log)
	}
}

func TestMachineFailures(t *testing.T) {
	f := testkit.NewFixture()
	foo, _ := f.Class("Foo")
	bar, _ := f.Class("Bar")

	cast := f.Method("Cast", bar, il.WithType(il.OpNew, foo), il.WithType(il.OpCastClass, bar), il.Simple(il.OpRet))
	if _, err := testkit.NewMachine().Run(cast.Body); err == nil || !strings.Contains(err.Error(), "invalid cast") {
		t.Fatalf("expected cast failure, got %v", err)
	}

	throw := f.Method("Throw", il.TypeRef{}, il.Str("bad"), il.Simple(il.OpThrow))
	var exc *testkit.Exception
	if _, err := testkit.NewMachine().Run(throw.Body); !errors.As(err, &exc) || exc.Value != "bad" {
		t.Fatalf("expected exception, got %v", err)
	}

	spin := il.Simple(il.OpNop)
	loop := f.Method("Spin", il.TypeRef{}, spin, il.Branch(il.OpBr, spin))
	vm := testkit.NewMachine()
	vm.MaxSteps = 50
	if _, err := vm.Run(loop.Body); !errors.Is(err, testkit.ErrStepLimit) {
		t.Fatalf("expected step limit, got %v", err)
	}
}

func TestCheckTreeInvariants(t *testing.T) {
	f := testkit.NewFixture()
	shared := il.Simple(il.OpRet)
	f.Method("A", il.TypeRef{}, shared)
	if err := testkit.CheckTreeInvariants(f.Program); err != nil {
		t.Fatalf("valid tree rejected: %v", err)
	}
	f.Method("B", il.TypeRef{}, shared)
	if err := testkit.CheckTreeInvariants(f.Program); err == nil || !strings.Contains(err.Error(), "also placed") {
		t.Fatalf("shared instruction not detected: %v", err)
	}
}
