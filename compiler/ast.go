package compiler

import "sort"

// ---------------------------------------------------------------------------
// AST: program and expression nodes
// ---------------------------------------------------------------------------

// WordKind is what a word resolved to during lowering.
type WordKind int

const (
	WordUnresolved WordKind = iota
	WordIntrinsic
	WordProc
	WordMemory
	WordBinding
)

var wordKindNames = map[WordKind]string{
	WordUnresolved: "unresolved",
	WordIntrinsic:  "intrinsic",
	WordProc:       "proc",
	WordMemory:     "memory",
	WordBinding:    "binding",
}

func (k WordKind) String() string {
	return wordKindNames[k]
}

// LiteralType distinguishes literal payloads.
type LiteralType int

const (
	LitInt LiteralType = iota
	LitBool
	LitStr  // pushes (length, pointer)
	LitCStr // pushes pointer to NUL-terminated data
	LitAsm
)

// Expr is the interface for expression nodes.
type Expr interface {
	Loc() Location
	expr() // marker method
}

// Word is a reference to an intrinsic, procedure, memory, constant or binding.
type Word struct {
	Name     string
	Kind     WordKind
	Location Location

	// Logical is set by the checker on a `not` applied to a Bool.
	Logical bool
}

func (n *Word) Loc() Location { return n.Location }
func (n *Word) expr()         {}

// Literal pushes a value known at compile time.
type Literal struct {
	Type     LiteralType
	Int      int64  // LitInt, LitBool
	Str      string // LitStr, LitCStr, LitAsm
	Location Location
}

func (n *Literal) Loc() Location { return n.Location }
func (n *Literal) expr()         {}

// If pops a Bool produced by Cond (or by the code before it when Cond is
// empty) and runs Then or Else.
type If struct {
	Cond     []Expr
	Then     []Expr
	Else     []Expr
	Location Location
	ElseLoc  Location
}

func (n *If) Loc() Location { return n.Location }
func (n *If) expr()         {}

// While repeats Body as long as Cond leaves true.
type While struct {
	Cond     []Expr
	Body     []Expr
	Location Location
}

func (n *While) Loc() Location { return n.Location }
func (n *While) expr()         {}

// Let binds the top len(Names) values for the duration of Body. The first
// name takes the deepest value.
type Let struct {
	Names    []string
	NameLocs []Location
	Body     []Expr
	Location Location
}

func (n *Let) Loc() Location { return n.Location }
func (n *Let) expr()         {}

// Cast retypes the top len(Types) stack slots.
type Cast struct {
	Types    []TypeFrame
	Location Location
}

func (n *Cast) Loc() Location { return n.Location }
func (n *Cast) expr()         {}

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

// Signature is the stack effect of a procedure. Both sides are listed
// bottom to top.
type Signature struct {
	Ins  []TypeFrame
	Outs []TypeFrame
}

// Proc is a procedure definition.
type Proc struct {
	Name      string
	Body      []Expr
	Signature *Signature
	Inferred  bool
	Inline    bool
	Unsafe    bool
	Loc       Location
	Index     int // declaration order
}

// Const is a compile-time constant.
type Const struct {
	Name  string
	Body  []Expr
	Value *Literal   // set once evaluated
	Type  *TypeFrame // evaluated type
	Loc   Location
	Index int

	evaluating bool
}

// Memory is a named static buffer.
type Memory struct {
	Name     string
	SizeExpr []Expr
	Size     int64
	Offset   int // assigned during lowering, in declaration order
	Resolved bool
	Loc      Location
	Index    int
}

// Assertion is a compile-time check.
type Assertion struct {
	Message string
	Body    []Expr
	Loc     Location
}

// Program is the symbol table produced by the parser. Entries are never
// added after parsing; later stages only annotate them.
type Program struct {
	File       *File
	Procs      map[string]*Proc
	Macros     map[string]*Macro
	Consts     map[string]*Const
	Memories   map[string]*Memory
	Assertions []*Assertion

	// StaticSize is the total byte size of all memories.
	StaticSize int
}

// NewProgram creates an empty program.
func NewProgram(file *File) *Program {
	return &Program{
		File:     file,
		Procs:    make(map[string]*Proc),
		Macros:   make(map[string]*Macro),
		Consts:   make(map[string]*Const),
		Memories: make(map[string]*Memory),
	}
}

// OrderedProcs returns procedures in declaration order.
func (p *Program) OrderedProcs() []*Proc {
	procs := make([]*Proc, 0, len(p.Procs))
	for _, proc := range p.Procs {
		procs = append(procs, proc)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Index < procs[j].Index })
	return procs
}

// OrderedMemories returns memories in declaration order.
func (p *Program) OrderedMemories() []*Memory {
	mems := make([]*Memory, 0, len(p.Memories))
	for _, m := range p.Memories {
		mems = append(mems, m)
	}
	sort.Slice(mems, func(i, j int) bool { return mems[i].Index < mems[j].Index })
	return mems
}

// OrderedConsts returns constants in declaration order.
func (p *Program) OrderedConsts() []*Const {
	consts := make([]*Const, 0, len(p.Consts))
	for _, c := range p.Consts {
		consts = append(consts, c)
	}
	sort.Slice(consts, func(i, j int) bool { return consts[i].Index < consts[j].Index })
	return consts
}

// Definition returns the location of a top-level definition named name.
func (p *Program) Definition(name string) (Location, bool) {
	if proc, ok := p.Procs[name]; ok {
		return proc.Loc, true
	}
	if c, ok := p.Consts[name]; ok {
		return c.Loc, true
	}
	if m, ok := p.Memories[name]; ok {
		return m.Loc, true
	}
	if m, ok := p.Macros[name]; ok {
		return m.Loc, true
	}
	return Location{}, false
}
