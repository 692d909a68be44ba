package bytecode

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// ============ Stack Operation Tests ============

func TestVMPushAndPrint(t *testing.T) {
	code := program(
		Instruction{OpPush, 42},
		Instruction{OpPrint, 0},
		Instruction{OpHalt, 0},
	)
	out, status, err := run(t, code)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if out != "42\n" {
		t.Errorf("output = %q, want %q", out, "42\n")
	}
	if status != 0 {
		t.Errorf("status = %d, want 0", status)
	}
}

func TestVMArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		a, b int64
		want []int64
	}{
		{"add", OpAdd, 2, 3, []int64{5}},
		{"sub", OpSub, 10, 3, []int64{7}},
		{"mul", OpMul, -4, 6, []int64{-24}},
		{"divmod", OpDivMod, 17, 5, []int64{3, 2}},
		{"divmod negative dividend", OpDivMod, -7, 2, []int64{-4, 1}},
		{"divmod negative divisor", OpDivMod, 7, -2, []int64{-4, -1}},
		{"divmod both negative", OpDivMod, -7, -2, []int64{3, -1}},
		{"divmod exact negative", OpDivMod, -6, 3, []int64{-2, 0}},
		{"lt", OpLt, 1, 2, []int64{1}},
		{"gt", OpGt, 1, 2, []int64{0}},
		{"eq", OpEq, 4, 4, []int64{1}},
		{"shl", OpShl, 1, 10, []int64{1024}},
		{"shr logical", OpShr, -1, 60, []int64{15}},
		{"or", OpOr, 0b1010, 0b0101, []int64{0b1111}},
		{"and", OpAnd, 0b1100, 0b1010, []int64{0b1000}},
		{"xor", OpXor, 0b1100, 0b1010, []int64{0b0110}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm := NewVM(program(
				Instruction{OpPush, tt.a},
				Instruction{OpPush, tt.b},
				Instruction{tt.op, 0},
				Instruction{OpHalt, 0},
			))
			if _, err := vm.Run(context.Background()); err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if got := vm.Stack(); !equalInts(got, tt.want) {
				t.Errorf("stack = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVMNot(t *testing.T) {
	vm := NewVM(program(Instruction{OpPush, 0}, Instruction{OpNot, 0}, Instruction{OpHalt, 0}))
	if _, err := vm.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := vm.Stack(); !equalInts(got, []int64{-1}) {
		t.Errorf("stack = %v, want [-1]", got)
	}
}

// ============ Control Flow Tests ============

func TestVMJumpIfNot(t *testing.T) {
	// 0 JMP_IF_NOT skips the first print
	code := program(
		Instruction{OpPush, 0},
		Instruction{OpJmpIfNot, 4},
		Instruction{OpPush, 1},
		Instruction{OpPrint, 0},
		Instruction{OpPush, 2},
		Instruction{OpPrint, 0},
		Instruction{OpHalt, 0},
	)
	out, _, err := run(t, code)
	if err != nil {
		t.Fatal(err)
	}
	if out != "2\n" {
		t.Errorf("output = %q, want %q", out, "2\n")
	}
}

func TestVMCallAndReturn(t *testing.T) {
	code := program(
		Instruction{OpCall, 3},
		Instruction{OpCall, 3},
		Instruction{OpHalt, 5},
		Instruction{OpPush, 9}, // 3: callee
		Instruction{OpPrint, 0},
		Instruction{OpRet, 0},
	)
	out, status, err := run(t, code)
	if err != nil {
		t.Fatal(err)
	}
	if out != "9\n9\n" {
		t.Errorf("output = %q", out)
	}
	if status != 5 {
		t.Errorf("status = %d, want 5", status)
	}
}

func TestVMExitStatus(t *testing.T) {
	_, status, err := run(t, program(Instruction{OpPush, 3}, Instruction{OpExit, 0}))
	if err != nil {
		t.Fatal(err)
	}
	if status != 3 {
		t.Errorf("status = %d, want 3", status)
	}

	_, status, _ = run(t, program(Instruction{OpHalt, -1}))
	if status != -1 {
		t.Errorf("HALT -1 status = %d", status)
	}
}

// ============ Binding Tests ============

func TestVMBindings(t *testing.T) {
	vm := NewVM(program(
		Instruction{OpPush, 10},
		Instruction{OpPush, 20},
		Instruction{OpBind, 0},
		Instruction{OpBind, 0},
		Instruction{OpPush, 0},
		Instruction{OpPushBind, 0},
		Instruction{OpPush, 1},
		Instruction{OpPushBind, 0},
		Instruction{OpUnbind, 0},
		Instruction{OpUnbind, 0},
		Instruction{OpHalt, 0},
	))
	if _, err := vm.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := vm.Stack(); !equalInts(got, []int64{10, 20}) {
		t.Errorf("stack = %v, want [10 20]", got)
	}
	if len(vm.binds) != 0 {
		t.Errorf("%d bindings left", len(vm.binds))
	}
}

// ============ Memory and I/O Tests ============

func TestVMMemory(t *testing.T) {
	code := &ByteCode{
		StaticSize: 2,
		Instr: []Instruction{
			{OpPush, 300}, // truncated to one byte
			{OpPush, 1},
			{OpWrite, 0},
			{OpPush, 1},
			{OpRead, 0},
			{OpHalt, 0},
		},
	}
	vm := NewVM(code)
	if _, err := vm.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := vm.Stack(); !equalInts(got, []int64{44}) {
		t.Errorf("stack = %v, want [44]", got)
	}
	if vm.Memory()[1] != 44 {
		t.Errorf("memory[1] = %d", vm.Memory()[1])
	}
}

func TestVMTextSegment(t *testing.T) {
	code := &ByteCode{
		StaticSize: 3,
		TextSize:   8,
		Text:       []string{"hey\n", "you\n"},
		Instr: []Instruction{
			{OpPush, 4}, {OpPush, 7}, {OpPuts, 0},
			{OpPush, 4}, {OpPush, 3}, {OpPuts, 0},
			{OpHalt, 0},
		},
	}
	out, _, err := run(t, code)
	if err != nil {
		t.Fatal(err)
	}
	if out != "you\nhey\n" {
		t.Errorf("output = %q", out)
	}
	if len(NewVM(code).Memory()) != 11 {
		t.Errorf("memory size = %d, want 11", len(NewVM(code).Memory()))
	}
}

func TestVMCharacterOutput(t *testing.T) {
	code := program(
		Instruction{OpPush, 'h'}, Instruction{OpPutch, 0},
		Instruction{OpPush, 0xE9}, Instruction{OpPutch, 0},
		Instruction{OpPush, -1}, Instruction{OpPutu, 0},
		Instruction{OpPush, 1}, Instruction{OpPush, 2}, Instruction{OpDumpStack, 0},
		Instruction{OpHalt, 0},
	)
	out, _, err := run(t, code)
	if err != nil {
		t.Fatal(err)
	}
	want := "hé18446744073709551615stack: [1 2]\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

// ============ Fault Tests ============

func TestVMRuntimeErrors(t *testing.T) {
	tests := []struct {
		name string
		code *ByteCode
		want error
		ip   int
	}{
		{"stack underflow", program(Instruction{OpAdd, 0}), ErrStackUnderflow, 0},
		{"divide by zero", program(Instruction{OpPush, 1}, Instruction{OpPush, 0}, Instruction{OpDivMod, 0}), ErrDivideByZero, 2},
		{"read out of bounds", program(Instruction{OpPush, 100}, Instruction{OpRead, 0}), ErrMemoryAccess, 1},
		{"write out of bounds", program(Instruction{OpPush, 1}, Instruction{OpPush, -1}, Instruction{OpWrite, 0}), ErrMemoryAccess, 2},
		{"puts out of bounds", program(Instruction{OpPush, 5}, Instruction{OpPush, 0}, Instruction{OpPuts, 0}), ErrMemoryAccess, 2},
		{"return without call", program(Instruction{OpRet, 0}), ErrReturnUnderflow, 0},
		{"unbind without bind", program(Instruction{OpUnbind, 0}), ErrBindingUnderflow, 0},
		{"binding depth", program(Instruction{OpPush, 0}, Instruction{OpPushBind, 0}), ErrBindingUnderflow, 1},
		{"infinite recursion", program(Instruction{OpCall, 0}), ErrCallDepth, 0},
		{"fall off the end", program(Instruction{OpNop, 0}), ErrInstructionPtr, 1},
		{"unknown opcode", program(Instruction{Opcode(0xEE), 0}), ErrUnknownOpcode, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.code)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			var rt *RuntimeError
			if !errors.As(err, &rt) {
				t.Fatalf("error %T is not a *RuntimeError", err)
			}
			if rt.IP != tt.ip {
				t.Errorf("IP = %d, want %d", rt.IP, tt.ip)
			}
		})
	}
}

func TestVMCallDepthOption(t *testing.T) {
	_, _, err := run(t, program(Instruction{OpCall, 0}), WithCallDepth(8))
	if !errors.Is(err, ErrCallDepth) {
		t.Fatalf("error = %v, want ErrCallDepth", err)
	}
	if !strings.Contains(err.Error(), "(8)") {
		t.Errorf("error %q does not mention the limit", err)
	}
}

func TestVMContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewVM(program(Instruction{OpJmp, 0})).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestVMWriteFailure(t *testing.T) {
	code := program(Instruction{OpPush, 1}, Instruction{OpPrint, 0}, Instruction{OpHalt, 0})
	_, err := NewVM(code, WithOutput(failingWriter{})).Run(context.Background())
	var rt *RuntimeError
	if !errors.As(err, &rt) || rt.Op != OpPrint {
		t.Fatalf("error = %v, want a fault at PRINT", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error %q lost the cause", err)
	}
}
