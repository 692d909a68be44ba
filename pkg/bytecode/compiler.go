package bytecode

import (
	"github.com/tliron/commonlog"

	"github.com/chazu/stck/compiler"
)

// intrinsicOps maps intrinsics that compile to exactly one opcode.
var intrinsicOps = map[compiler.Intrinsic]Opcode{
	compiler.IntrinsicAdd:       OpAdd,
	compiler.IntrinsicSub:       OpSub,
	compiler.IntrinsicMul:       OpMul,
	compiler.IntrinsicDivMod:    OpDivMod,
	compiler.IntrinsicLt:        OpLt,
	compiler.IntrinsicEq:        OpEq,
	compiler.IntrinsicGt:        OpGt,
	compiler.IntrinsicShl:       OpShl,
	compiler.IntrinsicShr:       OpShr,
	compiler.IntrinsicNot:       OpNot,
	compiler.IntrinsicOr:        OpOr,
	compiler.IntrinsicAnd:       OpAnd,
	compiler.IntrinsicXor:       OpXor,
	compiler.IntrinsicDup:       OpDup,
	compiler.IntrinsicDrop:      OpDrop,
	compiler.IntrinsicSwap:      OpSwap,
	compiler.IntrinsicRot:       OpRot,
	compiler.IntrinsicOver:      OpOver,
	compiler.IntrinsicDup2:      OpDup2,
	compiler.IntrinsicSwap2:     OpSwap2,
	compiler.IntrinsicPrint:     OpPrint,
	compiler.IntrinsicPutch:     OpPutch,
	compiler.IntrinsicPutu:      OpPutu,
	compiler.IntrinsicPuts:      OpPuts,
	compiler.IntrinsicWrite:     OpWrite,
	compiler.IntrinsicRead:      OpRead,
	compiler.IntrinsicExit:      OpExit,
	compiler.IntrinsicDumpStack: OpDumpStack,
}

// noMarker is the marker of an instruction whose operand is final.
const noMarker = -1

// markedInstruction is an instruction whose operand may still be a marker.
type markedInstruction struct {
	Instruction
	marker int
	loc    compiler.Location
}

// inlineFrame is one level of inline procedure expansion.
type inlineFrame struct {
	proc *compiler.Proc
	loc  compiler.Location
}

// Compiler converts a checked program to bytecode. Only procedures
// reachable from main through calls are compiled.
type Compiler struct {
	prog *compiler.Program
	log  commonlog.Logger

	instr []markedInstruction

	// markers holds the instruction index of each marker, or -1 while
	// the marker is undefined.
	markers     []int
	procMarkers map[string]int

	// Interned strings, in first-use order, with offsets into the
	// text segment.
	text      map[string]uint32
	textOrder []string
	textSize  uint32

	compiled map[string]bool
	queue    []*compiler.Proc

	// bindings is the compile-time view of the binding stack of the
	// procedure or inline expansion being compiled, bottom to top.
	bindings []string
	inlining []inlineFrame

	entries []procEntry
}

type procEntry struct {
	proc  *compiler.Proc
	index int
}

// NewCompiler creates a compiler for a lowered, checked program.
func NewCompiler(prog *compiler.Program) *Compiler {
	return &Compiler{
		prog:        prog,
		log:         commonlog.GetLogger("stck.bytecode"),
		procMarkers: make(map[string]int),
		text:        make(map[string]uint32),
		compiled:    make(map[string]bool),
	}
}

// Compile compiles prog starting from main.
func Compile(prog *compiler.Program) (*ByteCode, error) {
	return NewCompiler(prog).Compile()
}

// Compile emits main, then every procedure main transitively calls, and
// resolves all markers.
func (c *Compiler) Compile() (*ByteCode, error) {
	main, ok := c.prog.Procs["main"]
	if !ok {
		return nil, compiler.Errorf(compiler.KindResolution, c.prog.File.Location(compiler.Span{}), "no main procedure")
	}

	if err := c.compileProc(main); err != nil {
		return nil, err
	}
	for len(c.queue) > 0 {
		proc := c.queue[0]
		c.queue = c.queue[1:]
		if err := c.compileProc(proc); err != nil {
			return nil, err
		}
	}

	code := &ByteCode{
		Text:       c.textOrder,
		Instr:      make([]Instruction, len(c.instr)),
		StaticSize: uint32(c.prog.StaticSize),
		TextSize:   c.textSize,
	}
	for i, in := range c.instr {
		if in.marker != noMarker {
			target := c.markers[in.marker]
			if target < 0 {
				return nil, compiler.Errorf(compiler.KindInternal, in.loc,
					"marker %d used by %s was never defined", in.marker, in.Op)
			}
			in.Operand = int64(target)
		}
		code.Instr[i] = in.Instruction
	}

	c.log.Debugf("compiled %d procedures into %d instructions, %d markers resolved",
		len(c.entries), len(code.Instr), len(c.markers))
	return code, nil
}

// DebugInfo describes the program produced by the last Compile.
func (c *Compiler) DebugInfo() *DebugInfo {
	d := &DebugInfo{Version: DebugInfoVersion}
	files := make(map[string]uint32)
	fileIndex := func(loc compiler.Location) uint32 {
		path := "<unknown>"
		if loc.File != nil {
			path = loc.File.Path
		}
		if i, ok := files[path]; ok {
			return i
		}
		i := uint32(len(d.Files))
		files[path] = i
		d.Files = append(d.Files, path)
		return i
	}

	for _, e := range c.entries {
		pos := e.proc.Loc.Start()
		d.Procs = append(d.Procs, ProcSymbol{
			Name:      e.proc.Name,
			Entry:     uint32(e.index),
			Signature: signatureString(e.proc.Signature),
			File:      fileIndex(e.proc.Loc),
			Line:      uint32(pos.Line),
			Column:    uint32(pos.Column),
		})
	}

	var last LineEntry
	for i, in := range c.instr {
		pos := in.loc.Start()
		entry := LineEntry{Instr: uint32(i), File: fileIndex(in.loc), Line: uint32(pos.Line), Column: uint32(pos.Column)}
		if i > 0 && entry.File == last.File && entry.Line == last.Line && entry.Column == last.Column {
			continue
		}
		d.Lines = append(d.Lines, entry)
		last = entry
	}
	return d
}

func signatureString(sig *compiler.Signature) string {
	if sig == nil {
		return ""
	}
	return sig.String()
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (c *Compiler) emit(op Opcode, operand int64, loc compiler.Location) {
	c.instr = append(c.instr, markedInstruction{
		Instruction: Instruction{Op: op, Operand: operand},
		marker:      noMarker,
		loc:         loc,
	})
}

func (c *Compiler) emitJump(op Opcode, marker int, loc compiler.Location) {
	c.instr = append(c.instr, markedInstruction{
		Instruction: Instruction{Op: op},
		marker:      marker,
		loc:         loc,
	})
}

func (c *Compiler) newMarker() int {
	c.markers = append(c.markers, -1)
	return len(c.markers) - 1
}

func (c *Compiler) define(marker int) {
	c.markers[marker] = len(c.instr)
}

// procMarker returns the entry marker of proc, queueing it for
// compilation on first use.
func (c *Compiler) procMarker(proc *compiler.Proc) int {
	if m, ok := c.procMarkers[proc.Name]; ok {
		return m
	}
	m := c.newMarker()
	c.procMarkers[proc.Name] = m
	if !c.compiled[proc.Name] {
		c.queue = append(c.queue, proc)
	}
	return m
}

// emitInt pushes v. Values outside the i32 operand range are assembled
// from 32- and 16-bit pieces.
func (c *Compiler) emitInt(v int64, loc compiler.Location) {
	if v >= -1<<31 && v <= 1<<31-1 {
		c.emit(OpPush, v, loc)
		return
	}
	hi := v >> 32
	lo := uint32(v)
	c.emit(OpPush, hi, loc)
	c.emit(OpPush, 32, loc)
	c.emit(OpShl, 0, loc)
	c.emit(OpPush, int64(lo>>16), loc)
	c.emit(OpPush, 16, loc)
	c.emit(OpShl, 0, loc)
	c.emit(OpOr, 0, loc)
	c.emit(OpPush, int64(lo&0xFFFF), loc)
	c.emit(OpOr, 0, loc)
}

// intern returns the memory address of s, adding it to the text segment on
// first use.
func (c *Compiler) intern(s string) int64 {
	off, ok := c.text[s]
	if !ok {
		off = c.textSize
		c.text[s] = off
		c.textOrder = append(c.textOrder, s)
		c.textSize += uint32(len(s))
	}
	return int64(c.prog.StaticSize) + int64(off)
}

// ---------------------------------------------------------------------------
// Procedures and bodies
// ---------------------------------------------------------------------------

func (c *Compiler) compileProc(proc *compiler.Proc) error {
	if c.compiled[proc.Name] {
		return nil
	}
	c.compiled[proc.Name] = true

	c.define(c.procMarker(proc))
	c.entries = append(c.entries, procEntry{proc: proc, index: len(c.instr)})
	c.log.Debugf("compiling %s at %d", proc.Name, len(c.instr))

	c.bindings = nil
	if err := c.compileBody(proc.Body); err != nil {
		return err
	}

	end := proc.Loc
	if proc.Name == "main" {
		c.emit(OpHalt, 0, end)
	} else {
		c.emit(OpRet, 0, end)
	}
	return nil
}

func (c *Compiler) compileBody(body []compiler.Expr) error {
	for _, e := range body {
		if err := c.compileExpr(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileExpr(e compiler.Expr) error {
	switch n := e.(type) {
	case *compiler.Literal:
		return c.compileLiteral(n)

	case *compiler.Word:
		return c.compileWord(n)

	case *compiler.If:
		if err := c.compileBody(n.Cond); err != nil {
			return err
		}
		end := c.newMarker()
		if len(n.Else) == 0 {
			c.emitJump(OpJmpIfNot, end, n.Location)
			if err := c.compileBody(n.Then); err != nil {
				return err
			}
			c.define(end)
			return nil
		}
		els := c.newMarker()
		c.emitJump(OpJmpIfNot, els, n.Location)
		if err := c.compileBody(n.Then); err != nil {
			return err
		}
		c.emitJump(OpJmp, end, n.ElseLoc)
		c.define(els)
		if err := c.compileBody(n.Else); err != nil {
			return err
		}
		c.define(end)
		return nil

	case *compiler.While:
		start, end := c.newMarker(), c.newMarker()
		c.define(start)
		if err := c.compileBody(n.Cond); err != nil {
			return err
		}
		c.emitJump(OpJmpIfNot, end, n.Location)
		if err := c.compileBody(n.Body); err != nil {
			return err
		}
		c.emitJump(OpJmp, start, n.Location)
		c.define(end)
		return nil

	case *compiler.Let:
		for range n.Names {
			c.emit(OpBind, 0, n.Location)
		}
		// The last name was bound first, so it sits deepest.
		for i := len(n.Names) - 1; i >= 0; i-- {
			c.bindings = append(c.bindings, n.Names[i])
		}
		if err := c.compileBody(n.Body); err != nil {
			return err
		}
		c.bindings = c.bindings[:len(c.bindings)-len(n.Names)]
		for range n.Names {
			c.emit(OpUnbind, 0, n.Location)
		}
		return nil

	case *compiler.Cast:
		return nil
	}
	return compiler.Errorf(compiler.KindInternal, e.Loc(), "cannot compile %T to bytecode", e)
}

func (c *Compiler) compileLiteral(n *compiler.Literal) error {
	switch n.Type {
	case compiler.LitInt, compiler.LitBool:
		c.emitInt(n.Int, n.Location)
	case compiler.LitStr:
		c.emitInt(int64(len(n.Str)), n.Location)
		c.emitInt(c.intern(n.Str), n.Location)
	case compiler.LitCStr:
		c.emitInt(c.intern(n.Str+"\x00"), n.Location)
	case compiler.LitAsm:
		return compiler.Errorf(compiler.KindStructural, n.Location, "assembly blocks are not supported for this target")
	}
	return nil
}

func (c *Compiler) compileWord(w *compiler.Word) error {
	switch w.Kind {
	case compiler.WordIntrinsic:
		in, _ := compiler.LookupIntrinsic(w.Name)
		if in == compiler.IntrinsicNot && w.Logical {
			c.emit(OpPush, 1, w.Location)
			c.emit(OpXor, 0, w.Location)
			return nil
		}
		op, ok := intrinsicOps[in]
		if !ok {
			return compiler.Errorf(compiler.KindInternal, w.Location, "no opcode for intrinsic `%s`", w.Name)
		}
		c.emit(op, 0, w.Location)
		return nil

	case compiler.WordProc:
		proc := c.prog.Procs[w.Name]
		if proc.Inline {
			return c.expandInline(proc, w.Location)
		}
		c.emitJump(OpCall, c.procMarker(proc), w.Location)
		return nil

	case compiler.WordMemory:
		c.emitInt(int64(c.prog.Memories[w.Name].Offset), w.Location)
		return nil

	case compiler.WordBinding:
		for i := len(c.bindings) - 1; i >= 0; i-- {
			if c.bindings[i] == w.Name {
				c.emit(OpPush, int64(len(c.bindings)-1-i), w.Location)
				c.emit(OpPushBind, 0, w.Location)
				return nil
			}
		}
		return compiler.Errorf(compiler.KindInternal, w.Location, "binding `%s` is not in scope", w.Name)
	}
	return compiler.Errorf(compiler.KindInternal, w.Location, "word `%s` was not resolved", w.Name)
}

// expandInline compiles the body of proc in place of a call.
func (c *Compiler) expandInline(proc *compiler.Proc, loc compiler.Location) error {
	for i, f := range c.inlining {
		if f.proc != proc {
			continue
		}
		d := compiler.Errorf(compiler.KindExpansion, loc, "recursive expansion of inline procedure `%s`", proc.Name).
			WithNote(f.loc, "first expansion of %s", proc.Name)
		for j := i + 1; j < len(c.inlining); j++ {
			d.WithNote(c.inlining[j].loc, "%s lead to the expansion of %s", c.inlining[j-1].proc.Name, c.inlining[j].proc.Name)
		}
		d.WithNote(loc, "%s expanded again here", proc.Name)
		return d
	}

	c.inlining = append(c.inlining, inlineFrame{proc: proc, loc: loc})
	saved := c.bindings
	c.bindings = nil
	err := c.compileBody(proc.Body)
	c.bindings = saved
	c.inlining = c.inlining[:len(c.inlining)-1]
	return err
}
