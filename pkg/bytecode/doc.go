// Package bytecode compiles checked stck programs to a linear instruction
// stream, stores them in a compact binary format and runs them on a small
// stack machine.
//
// # Architecture Overview
//
//   - Opcodes: one instruction per intrinsic plus control flow (JMP,
//     JMP_IF_NOT, CALL, RET), binding stack access (BIND, UNBIND,
//     PUSH_BIND) and program termination (HALT, EXIT).
//
//   - ByteCode: the linked program. Text holds interned strings in
//     first-use order; Instr holds instructions whose jump operands are
//     absolute instruction indices.
//
//   - Compiler: walks the IR from main, compiling only reachable
//     procedures. Control flow is emitted against dense integer markers
//     that are resolved in a final pass. Inline procedures are expanded at
//     each call site and recursive inlining is rejected.
//
//   - Serialize/Deserialize: the .stbin format, little-endian, with a
//     5-byte magic, a version byte, memory sizes, the string table and the
//     instruction stream closed by a 0xFF terminator.
//
//   - DebugInfo: procedure symbols and an instruction to source map,
//     encoded as canonical CBOR in a .stdbg file.
//
//   - VM: an interpreter over a flat byte memory sized to the static
//     buffers plus the text segment. There is no heap.
//
// # Memory Layout
//
//	0                  StaticSize            StaticSize+TextSize
//	| named memories   | interned strings    |
//
// A `memory` word pushes its offset. A string literal pushes its length
// and the address of its bytes; a c-string pushes only the address of its
// NUL-terminated bytes.
package bytecode
