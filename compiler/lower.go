package compiler

import (
	"math"

	"github.com/tliron/commonlog"
)

// MaxStaticSize is the largest total size of all memories; the bytecode
// header stores it in 32 bits.
const MaxStaticSize = math.MaxUint32

// ---------------------------------------------------------------------------
// Lowering: word resolution, constants, memories and assertions
// ---------------------------------------------------------------------------

// Lower resolves every word in prog, evaluates constants, lays out memories
// and runs the compile-time assertions. Procedure bodies are rewritten in
// place; no definitions are added.
func Lower(prog *Program) error {
	l := &lowerer{prog: prog, log: commonlog.GetLogger("stck.checker")}

	var offset int64
	for _, m := range prog.OrderedMemories() {
		if err := l.evalMemory(m); err != nil {
			return err
		}
		if offset+m.Size > MaxStaticSize {
			return newError(KindType, m.Loc, "static memory exceeds %d bytes with `%s`", int64(MaxStaticSize), m.Name).
				hint("the memories before it take %d bytes", offset)
		}
		m.Offset = int(offset)
		offset += m.Size
	}
	prog.StaticSize = int(offset)

	for _, c := range prog.OrderedConsts() {
		if err := l.evalConst(c, c.Loc); err != nil {
			return err
		}
	}

	for _, a := range prog.Assertions {
		if err := l.runAssertion(a); err != nil {
			return err
		}
	}

	for _, proc := range prog.OrderedProcs() {
		body, err := l.lowerBody(proc.Body, scope{})
		if err != nil {
			return err
		}
		proc.Body = body
	}
	l.log.Debugf("lowered %d procs, static memory %d bytes", len(prog.Procs), prog.StaticSize)
	return nil
}

type lowerer struct {
	prog *Program
	log  commonlog.Logger
}

// scope maps the visible binding names to where they were bound.
type scope map[string]Location

func (s scope) with(names []string, locs []Location) scope {
	next := make(scope, len(s)+len(names))
	for k, v := range s {
		next[k] = v
	}
	for i, name := range names {
		next[name] = locs[i]
	}
	return next
}

func (l *lowerer) lowerBody(body []Expr, sc scope) ([]Expr, error) {
	out := make([]Expr, 0, len(body))
	for _, e := range body {
		switch n := e.(type) {
		case *Word:
			lowered, err := l.lowerWord(n, sc)
			if err != nil {
				return nil, err
			}
			out = append(out, lowered...)

		case *If:
			var err error
			if n.Cond, err = l.lowerBody(n.Cond, sc); err != nil {
				return nil, err
			}
			if n.Then, err = l.lowerBody(n.Then, sc); err != nil {
				return nil, err
			}
			if n.Else, err = l.lowerBody(n.Else, sc); err != nil {
				return nil, err
			}
			out = append(out, n)

		case *While:
			var err error
			if n.Cond, err = l.lowerBody(n.Cond, sc); err != nil {
				return nil, err
			}
			if n.Body, err = l.lowerBody(n.Body, sc); err != nil {
				return nil, err
			}
			out = append(out, n)

		case *Let:
			for i, name := range n.Names {
				if prev, ok := sc[name]; ok {
					return nil, newError(KindStructural, n.NameLocs[i], "binding `%s` is already declared", name).
						note(prev, "previously bound here")
				}
			}
			body, err := l.lowerBody(n.Body, sc.with(n.Names, n.NameLocs))
			if err != nil {
				return nil, err
			}
			n.Body = body
			out = append(out, n)

		default:
			out = append(out, e)
		}
	}
	return out, nil
}

// lowerWord resolves a word. Bindings shadow global names. Constants are
// replaced by their value.
func (l *lowerer) lowerWord(w *Word, sc scope) ([]Expr, error) {
	if w.Kind != WordUnresolved {
		return []Expr{w}, nil
	}
	if _, ok := sc[w.Name]; ok {
		w.Kind = WordBinding
		return []Expr{w}, nil
	}
	if _, ok := intrinsics[w.Name]; ok {
		w.Kind = WordIntrinsic
		return []Expr{w}, nil
	}
	if _, ok := l.prog.Procs[w.Name]; ok {
		w.Kind = WordProc
		return []Expr{w}, nil
	}
	if _, ok := l.prog.Memories[w.Name]; ok {
		w.Kind = WordMemory
		return []Expr{w}, nil
	}
	if c, ok := l.prog.Consts[w.Name]; ok {
		if err := l.evalConst(c, w.Location); err != nil {
			return nil, err
		}
		return constExprs(c, w.Location), nil
	}
	return nil, newError(KindResolution, w.Location, "unknown word `%s`", w.Name)
}

// constExprs renders an evaluated constant at loc.
func constExprs(c *Const, loc Location) []Expr {
	lit := &Literal{Type: c.Value.Type, Int: c.Value.Int, Location: loc}
	if c.Type.Kind == TypeInt || c.Type.Kind == TypeBool {
		return []Expr{lit}
	}
	return []Expr{lit, &Cast{Types: []TypeFrame{c.Type.at(loc)}, Location: loc}}
}

// ---------------------------------------------------------------------------
// Compile-time evaluation
// ---------------------------------------------------------------------------

func (l *lowerer) evalConst(c *Const, use Location) error {
	if c.Value != nil {
		return nil
	}
	if c.evaluating {
		return newError(KindResolution, use, "recursive definition of constant `%s`", c.Name).
			note(c.Loc, "`%s` is defined here", c.Name)
	}
	c.evaluating = true
	defer func() { c.evaluating = false }()

	t, v, err := l.evalSingle(c.Body, c.Loc, "constant")
	if err != nil {
		return err
	}
	litType := LitInt
	if t.Kind == TypeBool {
		litType = LitBool
	}
	c.Type = &t
	c.Value = &Literal{Type: litType, Int: v, Location: c.Loc}
	l.log.Debugf("constant %s = %d (%s)", c.Name, v, t)
	return nil
}

func (l *lowerer) evalMemory(m *Memory) error {
	t, v, err := l.evalSingle(m.SizeExpr, m.Loc, "memory size")
	if err != nil {
		return err
	}
	if t.Kind != TypeInt {
		return newError(KindType, m.Loc, "memory size must be an `int`, got `%s`", t).
			note(t.Loc, "value produced here")
	}
	if v < 0 {
		return newError(KindType, m.Loc, "memory size must not be negative, got %d", v)
	}
	m.Size = v
	m.Resolved = true
	return nil
}

func (l *lowerer) runAssertion(a *Assertion) error {
	t, v, err := l.evalSingle(a.Body, a.Loc, "assertion")
	if err != nil {
		return err
	}
	if t.Kind != TypeBool {
		return newError(KindType, a.Loc, "assertion must produce a `bool`, got `%s`", t).
			note(t.Loc, "value produced here")
	}
	if v == 0 {
		return newError(KindType, a.Loc, "assertion failed: %s", a.Message)
	}
	return nil
}

// evalSingle runs a compile-time body that must leave exactly one value.
func (l *lowerer) evalSingle(body []Expr, loc Location, what string) (TypeFrame, int64, error) {
	ctx := newContext()
	var values []int64
	if err := l.eval(body, ctx, &values); err != nil {
		return TypeFrame{}, 0, err
	}
	if ctx.len() != 1 {
		d := newError(KindType, loc, "%s must leave exactly one value on the stack, got %d", what, ctx.len())
		return TypeFrame{}, 0, ctx.describe(d, "stack")
	}
	return ctx.stack[0], values[0], nil
}

// eval interprets a restricted body. Types are tracked on ctx with the same
// rules as the checker, values on the parallel values slice.
func (l *lowerer) eval(body []Expr, ctx *Context, values *[]int64) error {
	for _, e := range body {
		switch n := e.(type) {
		case *Literal:
			switch n.Type {
			case LitInt:
				ctx.push(IntType(n.Location), n.Location)
			case LitBool:
				ctx.push(BoolType(n.Location), n.Location)
			default:
				return newError(KindType, n.Location, "string literals are not allowed in compile-time expressions")
			}
			*values = append(*values, n.Int)

		case *Cast:
			if err := checkCast(ctx, n); err != nil {
				return err
			}

		case *Word:
			if err := l.evalWord(n, ctx, values); err != nil {
				return err
			}

		default:
			return newError(KindType, e.Loc(), "control flow is not allowed in compile-time expressions")
		}
	}
	return nil
}

func (l *lowerer) evalWord(w *Word, ctx *Context, values *[]int64) error {
	if c, ok := l.prog.Consts[w.Name]; ok {
		if err := l.evalConst(c, w.Location); err != nil {
			return err
		}
		ctx.push(*c.Type, w.Location)
		*values = append(*values, c.Value.Int)
		return nil
	}

	in, ok := intrinsics[w.Name]
	if !ok || !constIntrinsics[in] {
		if _, known := l.prog.Definition(w.Name); !known && !ok {
			return newError(KindResolution, w.Location, "unknown word `%s`", w.Name)
		}
		return newError(KindType, w.Location, "`%s` is not allowed in compile-time expressions", w.Name)
	}
	if err := checkIntrinsic(ctx, in, w.Location); err != nil {
		return err
	}

	vs := *values
	if arity, result, ok := ShuffleOf(in); ok {
		group := append([]int64(nil), vs[len(vs)-arity:]...)
		vs = vs[:len(vs)-arity]
		for _, idx := range result {
			vs = append(vs, group[idx])
		}
		*values = vs
		return nil
	}

	a, b := vs[len(vs)-2], vs[len(vs)-1]
	vs = vs[:len(vs)-2]
	switch in {
	case IntrinsicAdd:
		vs = append(vs, a+b)
	case IntrinsicSub:
		vs = append(vs, a-b)
	case IntrinsicMul:
		vs = append(vs, a*b)
	case IntrinsicDivMod:
		if b == 0 {
			return newError(KindType, w.Location, "division by zero in compile-time expression")
		}
		q, r := DivMod(a, b)
		vs = append(vs, q, r)
	case IntrinsicLt:
		vs = append(vs, boolValue(a < b))
	case IntrinsicEq:
		vs = append(vs, boolValue(a == b))
	case IntrinsicGt:
		vs = append(vs, boolValue(a > b))
	}
	*values = vs
	return nil
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
