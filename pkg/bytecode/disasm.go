package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the program.
func (b *ByteCode) Disassemble() string {
	return b.DisassembleWithDebug(nil)
}

// DisassembleWithDebug returns a listing annotated with procedure labels and
// source positions from dbg, which may be nil.
func (b *ByteCode) DisassembleWithDebug(dbg *DebugInfo) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("; stck bytecode v%d\n", Version))
	sb.WriteString(fmt.Sprintf("; Memory: %d static + %d text bytes\n", b.StaticSize, b.TextSize))
	sb.WriteString(fmt.Sprintf("; Instructions: %d\n", len(b.Instr)))
	sb.WriteString("\n")

	// Text segment
	if len(b.Text) > 0 {
		sb.WriteString("; Text:\n")
		for i, addr := range b.TextAddresses() {
			// Truncate long strings for readability
			display := b.Text[i]
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%6d] %q\n", addr, display))
		}
		sb.WriteString("\n")
	}

	labels := dbg.Labels()
	targets := b.jumpTargets()

	// Code section
	sb.WriteString("; Code:\n")
	for i := range b.Instr {
		if name, ok := labels[i]; ok {
			if i > 0 {
				sb.WriteString("\n")
			}
			sig := ""
			if p, ok := dbg.ProcAt(i); ok && p.Signature != "" {
				sig = " " + p.Signature
			}
			sb.WriteString(fmt.Sprintf("%s:%s\n", name, sig))
		} else if targets[i] {
			sb.WriteString(fmt.Sprintf("L%d:\n", i))
		}

		line := b.DisassembleInstruction(i, labels)
		if pos, ok := dbg.Lookup(i); ok && pos.Line > 0 {
			sb.WriteString(fmt.Sprintf("%04d  %-30s ; line %d:%d\n", i, line, pos.Line, pos.Column))
		} else {
			sb.WriteString(fmt.Sprintf("%04d  %s\n", i, line))
		}
	}

	return sb.String()
}

// DisassembleInstruction returns a human-readable representation of a single
// instruction. labels, which may be nil, names call targets.
func (b *ByteCode) DisassembleInstruction(i int, labels map[int]string) string {
	if i < 0 || i >= len(b.Instr) {
		return "<end of code>"
	}
	in := b.Instr[i]

	switch in.Op {
	case OpJmp, OpJmpIfNot:
		return fmt.Sprintf("%-12s -> %04d", in.Op, in.Operand)

	case OpCall:
		if name, ok := labels[int(in.Operand)]; ok {
			return fmt.Sprintf("%-12s %04d ; %s", in.Op, in.Operand, name)
		}
		return fmt.Sprintf("%-12s %04d", in.Op, in.Operand)

	case OpPush:
		if s, ok := b.stringAt(in.Operand); ok {
			if len(s) > 20 {
				s = s[:17] + "..."
			}
			return fmt.Sprintf("%-12s %d ; %q", in.Op, in.Operand, s)
		}
	}
	return in.String()
}

// jumpTargets returns the instruction indices reached by Jmp or JmpIfNot.
func (b *ByteCode) jumpTargets() map[int]bool {
	targets := make(map[int]bool)
	for _, in := range b.Instr {
		if in.Op == OpJmp || in.Op == OpJmpIfNot {
			targets[int(in.Operand)] = true
		}
	}
	return targets
}

// stringAt returns the interned string starting at addr, if any.
func (b *ByteCode) stringAt(addr int64) (string, bool) {
	if addr < int64(b.StaticSize) || len(b.Text) == 0 {
		return "", false
	}
	for i, a := range b.TextAddresses() {
		if int64(a) == addr {
			return b.Text[i], true
		}
	}
	return "", false
}

// DisassembleToLines returns the disassembly as a slice of lines, one per
// instruction.
func (b *ByteCode) DisassembleToLines() []string {
	lines := make([]string, len(b.Instr))
	for i := range b.Instr {
		lines[i] = fmt.Sprintf("%04d  %s", i, b.DisassembleInstruction(i, nil))
	}
	return lines
}
