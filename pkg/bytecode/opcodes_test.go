package bytecode

import (
	"strings"
	"testing"

	"github.com/chazu/stck/compiler"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	// Ensure every defined opcode has metadata
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
		if byte(op) == terminator {
			t.Errorf("Opcode %s uses the terminator byte", info.Name)
		}
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpPush, "PUSH"},
		{OpDup, "DUP"},
		{OpAdd, "ADD"},
		{OpDivMod, "DIVMOD"},
		{OpJmpIfNot, "JMP_IF_NOT"},
		{OpPushBind, "PUSH_BIND"},
		{OpHalt, "HALT"},
	}

	for _, tt := range tests {
		got := tt.op.String()
		if got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0xEE) // Not defined
	got := op.String()
	if !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
	if op.IsValid() {
		t.Error("0xEE should not be valid")
	}
}

func TestOpcodeOperandLen(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpNop, 0},
		{OpPush, 4},     // i32 immediate
		{OpJmp, 4},      // u32 target
		{OpJmpIfNot, 4}, // u32 target
		{OpCall, 4},     // u32 target
		{OpHalt, 1},     // i8 status
		{OpRet, 0},
		{OpPushBind, 0},
	}

	for _, tt := range tests {
		got := tt.op.OperandLen()
		if got != tt.want {
			t.Errorf("%s.OperandLen() = %d, want %d", tt.op, got, tt.want)
		}
		if tt.op.InstructionLen() != tt.want+1 {
			t.Errorf("%s.InstructionLen() = %d, want %d", tt.op, tt.op.InstructionLen(), tt.want+1)
		}
	}
}

func TestOpcodeCategories(t *testing.T) {
	for _, op := range []Opcode{OpJmp, OpJmpIfNot, OpCall} {
		if !op.IsJump() {
			t.Errorf("%s.IsJump() = false", op)
		}
	}
	if OpRet.IsJump() {
		t.Error("RET.IsJump() = true")
	}
	for _, op := range []Opcode{OpJmp, OpRet, OpHalt, OpExit} {
		if !op.IsTerminal() {
			t.Errorf("%s.IsTerminal() = false", op)
		}
	}
	if OpJmpIfNot.IsTerminal() {
		t.Error("JMP_IF_NOT.IsTerminal() = true")
	}
}

func TestEveryIntrinsicHasAnOpcode(t *testing.T) {
	for _, name := range compiler.IntrinsicNames() {
		in, _ := compiler.LookupIntrinsic(name)
		if _, ok := intrinsicOps[in]; !ok {
			t.Errorf("intrinsic %q has no opcode", name)
		}
	}
}

func TestShuffleOpcodesMatchCheckerEffects(t *testing.T) {
	shuffles := map[compiler.Intrinsic]Opcode{
		compiler.IntrinsicDup:   OpDup,
		compiler.IntrinsicDrop:  OpDrop,
		compiler.IntrinsicSwap:  OpSwap,
		compiler.IntrinsicRot:   OpRot,
		compiler.IntrinsicOver:  OpOver,
		compiler.IntrinsicDup2:  OpDup2,
		compiler.IntrinsicSwap2: OpSwap2,
	}
	for in, op := range shuffles {
		arity, result, ok := compiler.ShuffleOf(in)
		if !ok {
			t.Fatalf("%s is not a shuffle", in)
		}
		info := GetOpcodeInfo(op)
		if info.StackPop != arity || info.StackPush != len(result) {
			t.Errorf("%s pops %d pushes %d, checker says %d -> %d",
				op, info.StackPop, info.StackPush, arity, len(result))
		}

		// Run the opcode on 10 20 30 40 and compare with the permutation.
		vm := NewVM(&ByteCode{Instr: []Instruction{{Op: OpHalt}}})
		base := []int64{10, 20, 30, 40}
		vm.stack = append(vm.stack, base...)
		if op == OpDrop {
			vm.stack = vm.stack[:len(vm.stack)-1]
		} else {
			vm.shuffle(op)
		}
		want := append([]int64(nil), base[:len(base)-arity]...)
		for _, i := range result {
			want = append(want, base[len(base)-arity+i])
		}
		if got := vm.Stack(); !equalInts(got, want) {
			t.Errorf("%s: stack = %v, want %v", op, got, want)
		}
	}
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
