package bytecode

import (
	"fmt"
	"strings"
)

// Version is the current bytecode format version.
// Increment when making incompatible changes to the format.
const Version byte = 1

// Magic bytes opening every encoded program: "STCK" and 0xFF.
var Magic = [5]byte{'S', 'T', 'C', 'K', 0xFF}

// terminator ends the instruction stream. No opcode uses this byte.
const terminator byte = 0xFF

// Instruction is one decoded instruction. Operand is meaningful only for
// opcodes that carry one; jump operands are absolute instruction indices.
type Instruction struct {
	Op      Opcode
	Operand int64
}

// String renders the instruction the way the disassembler prints it.
func (in Instruction) String() string {
	if GetOpcodeInfo(in.Op).Operand == OperandNone {
		return in.Op.String()
	}
	return fmt.Sprintf("%-12s %d", in.Op, in.Operand)
}

// ByteCode is a fully linked program: every jump and call target is an
// instruction index.
type ByteCode struct {
	// Text holds the interned string data in first-use order. Each
	// string is loaded at StaticSize plus the total length of the
	// strings before it.
	Text  []string
	Instr []Instruction

	// StaticSize is the byte size of all named memories.
	StaticSize uint32
	// TextSize is the total byte length of Text.
	TextSize uint32
}

// MemorySize returns the size of the flat memory the VM allocates.
func (b *ByteCode) MemorySize() int {
	return int(b.StaticSize) + int(b.TextSize)
}

// TextAddresses returns the memory address of each string in Text.
func (b *ByteCode) TextAddresses() []uint32 {
	addrs := make([]uint32, len(b.Text))
	at := b.StaticSize
	for i, s := range b.Text {
		addrs[i] = at
		at += uint32(len(s))
	}
	return addrs
}

// Validate checks the invariants the VM relies on: known opcodes, operands
// within their encoded range and jump targets inside the program.
func (b *ByteCode) Validate() error {
	var total uint32
	for _, s := range b.Text {
		total += uint32(len(s))
	}
	if total != b.TextSize {
		return fmt.Errorf("text size %d does not match the %d bytes of text", b.TextSize, total)
	}
	for i, in := range b.Instr {
		info, ok := opcodeInfoTable[in.Op]
		if !ok {
			return fmt.Errorf("%w: 0x%02X at instruction %d", ErrUnknownOpcode, byte(in.Op), i)
		}
		if err := checkOperand(info.Operand, in.Operand); err != nil {
			return fmt.Errorf("instruction %d (%s): %w", i, in.Op, err)
		}
		if in.Op.IsJump() && in.Operand >= int64(len(b.Instr)) {
			return fmt.Errorf("instruction %d (%s): %w: target %d outside %d instructions",
				i, in.Op, ErrBadOperand, in.Operand, len(b.Instr))
		}
	}
	return nil
}

func checkOperand(kind OperandKind, v int64) error {
	var lo, hi int64
	switch kind {
	case OperandNone:
		return nil
	case OperandI32:
		lo, hi = -1<<31, 1<<31-1
	case OperandU32:
		lo, hi = 0, 1<<32-1
	case OperandI8:
		lo, hi = -1<<7, 1<<7-1
	}
	if v < lo || v > hi {
		return fmt.Errorf("%w: %d does not fit in [%d, %d]", ErrBadOperand, v, lo, hi)
	}
	return nil
}

// String returns a compact one-instruction-per-line listing.
func (b *ByteCode) String() string {
	var sb strings.Builder
	for i, in := range b.Instr {
		fmt.Fprintf(&sb, "%04d  %s\n", i, in)
	}
	return sb.String()
}
