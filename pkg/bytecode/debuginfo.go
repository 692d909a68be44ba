package bytecode

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"
)

// DebugInfoVersion is bumped whenever the layout of DebugInfo changes.
const DebugInfoVersion = 1

// cborEncMode uses canonical mode so identical programs produce identical
// debug files.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// DebugInfo maps a compiled program back to its source. It is written next
// to the .stbin file and is never needed to run a program.
type DebugInfo struct {
	Version uint8        `cbor:"1,keyasint"`
	Files   []string     `cbor:"2,keyasint"`
	Procs   []ProcSymbol `cbor:"3,keyasint"`
	Lines   []LineEntry  `cbor:"4,keyasint,omitempty"`
}

// ProcSymbol records where a compiled procedure starts.
type ProcSymbol struct {
	Name      string `cbor:"1,keyasint"`
	Entry     uint32 `cbor:"2,keyasint"`
	Signature string `cbor:"3,keyasint,omitempty"`
	File      uint32 `cbor:"4,keyasint"`
	Line      uint32 `cbor:"5,keyasint"`
	Column    uint32 `cbor:"6,keyasint"`
}

// LineEntry says that instructions from Instr up to the next entry come
// from the given source position.
type LineEntry struct {
	Instr  uint32 `cbor:"1,keyasint"`
	File   uint32 `cbor:"2,keyasint"`
	Line   uint32 `cbor:"3,keyasint"`
	Column uint32 `cbor:"4,keyasint"`
}

// SourcePos is a resolved source position.
type SourcePos struct {
	File   string
	Line   int
	Column int
}

func (p SourcePos) String() string {
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// MarshalDebugInfo serializes debug info to CBOR bytes.
func MarshalDebugInfo(d *DebugInfo) ([]byte, error) {
	return cborEncMode.Marshal(d)
}

// UnmarshalDebugInfo deserializes debug info from CBOR bytes.
func UnmarshalDebugInfo(data []byte) (*DebugInfo, error) {
	var d DebugInfo
	if err := cbor.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal debug info: %w", err)
	}
	if d.Version != DebugInfoVersion {
		return nil, fmt.Errorf("bytecode: debug info version %d, want %d", d.Version, DebugInfoVersion)
	}
	return &d, nil
}

// Lookup returns the source position of instruction ip.
func (d *DebugInfo) Lookup(ip int) (SourcePos, bool) {
	if d == nil {
		return SourcePos{}, false
	}
	i := sort.Search(len(d.Lines), func(i int) bool {
		return int(d.Lines[i].Instr) > ip
	}) - 1
	if i < 0 {
		return SourcePos{}, false
	}
	e := d.Lines[i]
	return SourcePos{File: d.file(e.File), Line: int(e.Line), Column: int(e.Column)}, true
}

// ProcAt returns the procedure containing instruction ip.
func (d *DebugInfo) ProcAt(ip int) (ProcSymbol, bool) {
	if d == nil {
		return ProcSymbol{}, false
	}
	i := sort.Search(len(d.Procs), func(i int) bool {
		return int(d.Procs[i].Entry) > ip
	}) - 1
	if i < 0 {
		return ProcSymbol{}, false
	}
	return d.Procs[i], true
}

// Labels returns procedure names keyed by entry instruction.
func (d *DebugInfo) Labels() map[int]string {
	labels := make(map[int]string)
	if d == nil {
		return labels
	}
	for _, p := range d.Procs {
		labels[int(p.Entry)] = p.Name
	}
	return labels
}

// Position returns where a procedure is defined.
func (d *DebugInfo) Position(p ProcSymbol) SourcePos {
	return SourcePos{File: d.file(p.File), Line: int(p.Line), Column: int(p.Column)}
}

func (d *DebugInfo) file(i uint32) string {
	if int(i) < len(d.Files) {
		return d.Files[i]
	}
	return "<unknown>"
}
