package bytecode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Errors returned by Deserialize. Each is fatal; no partial program is
// ever returned.
var (
	ErrBadMagic           = errors.New("invalid bytecode magic")
	ErrUnsupportedVersion = errors.New("unsupported bytecode version")
	ErrUnknownOpcode      = errors.New("unknown opcode")
	ErrTruncated          = errors.New("unexpected end of bytecode")
	ErrBadOperand         = errors.New("operand out of range")
)

// IsBytecode reports whether data starts with the bytecode magic.
func IsBytecode(data []byte) bool {
	return len(data) >= len(Magic) && bytes.Equal(data[:len(Magic)], Magic[:])
}

// Serialize encodes the program for storage/transport.
// Format (little-endian):
//
//	[magic:5] [version:1]
//	[static_size:4] [text_size:4]
//	[string_count:2] ([len:2] [bytes...])*
//	([opcode:1] [operand:0|1|4])* [0xFF]
func (b *ByteCode) Serialize() ([]byte, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if len(b.Text) > math.MaxUint16 {
		return nil, fmt.Errorf("too many strings: %d", len(b.Text))
	}

	estimatedSize := 16 + int(b.TextSize) + 2*len(b.Text) + 5*len(b.Instr) + 1
	buf := make([]byte, 0, estimatedSize)

	buf = append(buf, Magic[:]...)
	buf = append(buf, Version)
	buf = binary.LittleEndian.AppendUint32(buf, b.StaticSize)
	buf = binary.LittleEndian.AppendUint32(buf, b.TextSize)

	// Strings
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(b.Text)))
	for i, s := range b.Text {
		if len(s) > math.MaxUint16 {
			return nil, fmt.Errorf("string %d is too long: %d bytes", i, len(s))
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
		buf = append(buf, s...)
	}

	// Instructions
	for _, in := range b.Instr {
		buf = append(buf, byte(in.Op))
		switch GetOpcodeInfo(in.Op).Operand {
		case OperandI32:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(in.Operand)))
		case OperandU32:
			buf = binary.LittleEndian.AppendUint32(buf, uint32(in.Operand))
		case OperandI8:
			buf = append(buf, byte(int8(in.Operand)))
		}
	}
	buf = append(buf, terminator)

	return buf, nil
}

// reader walks an encoded program, reporting truncation with the name of
// the field being read.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) take(n int, what string) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("%w reading %s at pos %d", ErrTruncated, what, r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u8(what string) (byte, error) {
	b, err := r.take(1, what)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16(what string) (uint16, error) {
	b, err := r.take(2, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32(what string) (uint32, error) {
	b, err := r.take(4, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Deserialize decodes a program from bytes.
func Deserialize(data []byte) (*ByteCode, error) {
	r := &reader{data: data}

	magic, err := r.take(len(Magic), "magic")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, Magic[:]) {
		return nil, fmt.Errorf("%w: expected % X, got % X", ErrBadMagic, Magic[:], magic)
	}

	version, err := r.u8("version")
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, fmt.Errorf("%w: %d (this build reads version %d)", ErrUnsupportedVersion, version, Version)
	}

	b := &ByteCode{}
	if b.StaticSize, err = r.u32("static memory size"); err != nil {
		return nil, err
	}
	if b.TextSize, err = r.u32("text memory size"); err != nil {
		return nil, err
	}

	// Strings
	count, err := r.u16("string count")
	if err != nil {
		return nil, err
	}
	if count > 0 {
		b.Text = make([]string, count)
	}
	for i := range b.Text {
		n, err := r.u16(fmt.Sprintf("string %d length", i))
		if err != nil {
			return nil, err
		}
		s, err := r.take(int(n), fmt.Sprintf("string %d", i))
		if err != nil {
			return nil, err
		}
		b.Text[i] = string(s)
	}

	// Instructions
	for {
		opByte, err := r.u8("opcode")
		if err != nil {
			return nil, err
		}
		if opByte == terminator {
			break
		}
		op := Opcode(opByte)
		info, ok := opcodeInfoTable[op]
		if !ok {
			return nil, fmt.Errorf("%w: 0x%02X at pos %d", ErrUnknownOpcode, opByte, r.pos-1)
		}

		in := Instruction{Op: op}
		what := fmt.Sprintf("operand of %s", info.Name)
		switch info.Operand {
		case OperandI32:
			v, err := r.u32(what)
			if err != nil {
				return nil, err
			}
			in.Operand = int64(int32(v))
		case OperandU32:
			v, err := r.u32(what)
			if err != nil {
				return nil, err
			}
			in.Operand = int64(v)
		case OperandI8:
			v, err := r.u8(what)
			if err != nil {
				return nil, err
			}
			in.Operand = int64(int8(v))
		}
		b.Instr = append(b.Instr, in)
	}

	if r.pos != len(data) {
		return nil, fmt.Errorf("%d bytes of trailing data after the terminator", len(data)-r.pos)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}
