package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop   Opcode = 0x00 // No operation
	OpPush  Opcode = 0x01 // Push immediate: OpPush <value:i32>
	OpDrop  Opcode = 0x02 // Pop top of stack
	OpDup   Opcode = 0x03 // a -> a a
	OpSwap  Opcode = 0x04 // a b -> b a
	OpRot   Opcode = 0x05 // a b c -> b c a
	OpOver  Opcode = 0x06 // a b -> a b a
	OpDup2  Opcode = 0x07 // a b -> a b a b
	OpSwap2 Opcode = 0x08 // a b c d -> d c b a

	// ========================================================================
	// Arithmetic (0x10-0x1F)
	// ========================================================================

	OpAdd    Opcode = 0x10 // Pop two, push sum
	OpSub    Opcode = 0x11 // Pop two, push difference (a - b where b is TOS)
	OpMul    Opcode = 0x12 // Pop two, push product
	OpDivMod Opcode = 0x13 // Pop two, push quotient then remainder

	// ========================================================================
	// Comparison (0x20-0x2F)
	// ========================================================================

	OpLt Opcode = 0x20 // Pop two, push 1 if a < b, 0 otherwise
	OpEq Opcode = 0x21 // Pop two, push 1 if equal
	OpGt Opcode = 0x22 // Pop two, push 1 if a > b

	// ========================================================================
	// Bitwise operations (0x30-0x3F)
	// ========================================================================

	OpShl Opcode = 0x30 // a << b
	OpShr Opcode = 0x31 // a >> b (logical)
	OpNot Opcode = 0x32 // ^a
	OpOr  Opcode = 0x33 // a | b
	OpAnd Opcode = 0x34 // a & b
	OpXor Opcode = 0x35 // a ^ b

	// ========================================================================
	// Memory (0x40-0x4F)
	// ========================================================================

	OpWrite Opcode = 0x40 // value ptr -> (stores one byte)
	OpRead  Opcode = 0x41 // ptr -> value (loads one byte)

	// ========================================================================
	// Bindings (0x50-0x5F)
	// ========================================================================

	OpBind     Opcode = 0x50 // Move TOS to the binding stack
	OpUnbind   Opcode = 0x51 // Drop the top binding
	OpPushBind Opcode = 0x52 // depth -> value of the binding at depth

	// ========================================================================
	// Control flow (0x60-0x6F)
	// ========================================================================

	OpJmp      Opcode = 0x60 // Jump: OpJmp <target:u32>
	OpJmpIfNot Opcode = 0x61 // Pop, jump if zero: OpJmpIfNot <target:u32>
	OpCall     Opcode = 0x62 // Push return address and jump: OpCall <target:u32>
	OpRet      Opcode = 0x63 // Pop return address and jump to it

	// ========================================================================
	// I/O (0x70-0x7F)
	// ========================================================================

	OpPrint Opcode = 0x70 // Write signed decimal and newline
	OpPutch Opcode = 0x71 // Write one character
	OpPutu  Opcode = 0x72 // Write unsigned decimal
	OpPuts  Opcode = 0x73 // len ptr -> (writes len bytes of memory)

	// ========================================================================
	// Program (0xE0-0xFE); 0xFF is the instruction stream terminator
	// ========================================================================

	OpHalt      Opcode = 0xE0 // Stop with status: OpHalt <status:i8>
	OpExit      Opcode = 0xE1 // Pop status and stop
	OpDumpStack Opcode = 0xE2 // Write the operand stack
)

// OperandKind describes the immediate that follows an opcode in the
// binary format.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandI32
	OperandU32
	OperandI8
)

// Len returns the encoded size of the operand in bytes.
func (k OperandKind) Len() int {
	switch k {
	case OperandI32, OperandU32:
		return 4
	case OperandI8:
		return 1
	}
	return 0
}

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name      string      // Human-readable name
	StackPop  int         // How many values popped from stack
	StackPush int         // How many values pushed to stack
	Operand   OperandKind // Immediate following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:   {"NOP", 0, 0, OperandNone},
	OpPush:  {"PUSH", 0, 1, OperandI32},
	OpDrop:  {"DROP", 1, 0, OperandNone},
	OpDup:   {"DUP", 1, 2, OperandNone},
	OpSwap:  {"SWAP", 2, 2, OperandNone},
	OpRot:   {"ROT", 3, 3, OperandNone},
	OpOver:  {"OVER", 2, 3, OperandNone},
	OpDup2:  {"DUP2", 2, 4, OperandNone},
	OpSwap2: {"SWAP2", 4, 4, OperandNone},

	// Arithmetic
	OpAdd:    {"ADD", 2, 1, OperandNone},
	OpSub:    {"SUB", 2, 1, OperandNone},
	OpMul:    {"MUL", 2, 1, OperandNone},
	OpDivMod: {"DIVMOD", 2, 2, OperandNone},

	// Comparison
	OpLt: {"LT", 2, 1, OperandNone},
	OpEq: {"EQ", 2, 1, OperandNone},
	OpGt: {"GT", 2, 1, OperandNone},

	// Bitwise
	OpShl: {"SHL", 2, 1, OperandNone},
	OpShr: {"SHR", 2, 1, OperandNone},
	OpNot: {"NOT", 1, 1, OperandNone},
	OpOr:  {"OR", 2, 1, OperandNone},
	OpAnd: {"AND", 2, 1, OperandNone},
	OpXor: {"XOR", 2, 1, OperandNone},

	// Memory
	OpWrite: {"WRITE", 2, 0, OperandNone},
	OpRead:  {"READ", 1, 1, OperandNone},

	// Bindings
	OpBind:     {"BIND", 1, 0, OperandNone},
	OpUnbind:   {"UNBIND", 0, 0, OperandNone},
	OpPushBind: {"PUSH_BIND", 1, 1, OperandNone},

	// Control flow
	OpJmp:      {"JMP", 0, 0, OperandU32},
	OpJmpIfNot: {"JMP_IF_NOT", 1, 0, OperandU32},
	OpCall:     {"CALL", 0, 0, OperandU32},
	OpRet:      {"RET", 0, 0, OperandNone},

	// I/O
	OpPrint: {"PRINT", 1, 0, OperandNone},
	OpPutch: {"PUTCH", 1, 0, OperandNone},
	OpPutu:  {"PUTU", 1, 0, OperandNone},
	OpPuts:  {"PUTS", 2, 0, OperandNone},

	// Program
	OpHalt:      {"HALT", 0, 0, OperandI8},
	OpExit:      {"EXIT", 1, 0, OperandNone},
	OpDumpStack: {"DUMP_STACK", 0, 0, OperandNone},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).Operand.Len()
}

// InstructionLen returns the total encoded length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if the operand of this opcode is an instruction index.
func (op Opcode) IsJump() bool {
	return op == OpJmp || op == OpJmpIfNot || op == OpCall
}

// IsTerminal returns true if control never falls through this opcode.
func (op Opcode) IsTerminal() bool {
	return op == OpJmp || op == OpRet || op == OpHalt || op == OpExit
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
