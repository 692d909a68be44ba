package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Signature inference
// ---------------------------------------------------------------------------
//
// A body is simulated forward with two stacks. outs holds values produced
// by the body itself; popping from an empty outs takes a value from the
// caller instead, which is recorded at the bottom of ins as a placeholder.
// Placeholders are bound when a typed input consumes them. Whatever is left
// unbound becomes a generic of the final signature.

// placeholderPrefix marks labels that cannot be written in source.
const placeholderPrefix = "'"

type inferState struct {
	ins      []TypeFrame
	outs     []TypeFrame
	bindings map[string]TypeFrame
	subst    map[string]TypeFrame
	counter  *int
	loc      Location

	// defaults are applied to placeholders still unbound at the end.
	defaults map[string]TypeFrame
}

func newInferState(loc Location) *inferState {
	return &inferState{
		bindings: make(map[string]TypeFrame),
		subst:    make(map[string]TypeFrame),
		counter:  new(int),
		loc:      loc,
		defaults: make(map[string]TypeFrame),
	}
}

func (s *inferState) clone() *inferState {
	c := &inferState{
		ins:      append([]TypeFrame(nil), s.ins...),
		outs:     append([]TypeFrame(nil), s.outs...),
		bindings: make(map[string]TypeFrame, len(s.bindings)),
		subst:    make(map[string]TypeFrame, len(s.subst)),
		counter:  s.counter,
		loc:      s.loc,
		defaults: make(map[string]TypeFrame, len(s.defaults)),
	}
	for k, v := range s.bindings {
		c.bindings[k] = v
	}
	for k, v := range s.subst {
		c.subst[k] = v
	}
	for k, v := range s.defaults {
		c.defaults[k] = v
	}
	return c
}

func isPlaceholder(t TypeFrame) bool {
	return t.Kind == TypeGeneric && strings.HasPrefix(t.Label, placeholderPrefix)
}

func (s *inferState) fresh() TypeFrame {
	*s.counter++
	return GenericType(fmt.Sprintf("%s%d", placeholderPrefix, *s.counter), s.loc)
}

// resolve follows placeholder bindings.
func (s *inferState) resolve(t TypeFrame) TypeFrame {
	switch {
	case isPlaceholder(t):
		if bound, ok := s.subst[t.Label]; ok {
			return s.resolve(bound)
		}
	case t.Kind == TypePtrTo:
		return PtrToType(s.resolve(*t.Elem), t.Loc)
	}
	return t
}

func (s *inferState) bind(p TypeFrame, t TypeFrame) {
	if isPlaceholder(t) && t.Label == p.Label {
		return
	}
	s.subst[p.Label] = t
}

func (s *inferState) pop() TypeFrame {
	if n := len(s.outs); n > 0 {
		t := s.outs[n-1]
		s.outs = s.outs[:n-1]
		return t
	}
	p := s.fresh()
	s.ins = append([]TypeFrame{p}, s.ins...)
	return p
}

// take pops n values and returns them deepest first, resolved.
func (s *inferState) take(n int) []TypeFrame {
	vals := make([]TypeFrame, n)
	for i := n - 1; i >= 0; i-- {
		vals[i] = s.pop()
	}
	for i := range vals {
		vals[i] = s.resolve(vals[i])
	}
	return vals
}

func (s *inferState) push(t TypeFrame) {
	s.outs = append(s.outs, t)
}

// instantiate substitutes u into t, creating placeholders for unbound
// generics.
func (s *inferState) instantiate(t TypeFrame, u unifier) TypeFrame {
	switch t.Kind {
	case TypeGeneric:
		if bound, ok := u[t.Label]; ok {
			return s.resolve(bound)
		}
		p := s.fresh()
		u[t.Label] = p
		return p
	case TypePtrTo:
		return PtrToType(s.instantiate(*t.Elem, u), t.Loc)
	}
	return t
}

// match is typeFrameEquals extended with placeholder binding.
func (s *inferState) match(want, got TypeFrame, u unifier) bool {
	got = s.resolve(got)
	if isPlaceholder(got) {
		switch want.Kind {
		case TypeUnknown:
		case TypeGeneric:
			if bound, ok := u[want.Label]; ok {
				s.bind(got, s.resolve(bound))
			} else {
				u[want.Label] = got
			}
		default:
			s.bind(got, s.instantiate(want, u))
		}
		return true
	}
	if want.Kind == TypeGeneric {
		if bound, ok := u[want.Label]; ok {
			if b := s.resolve(bound); isPlaceholder(b) {
				s.bind(b, got)
				return true
			}
		}
	}
	if want.Kind == TypePtrTo && got.Kind == TypePtrTo {
		return s.match(*want.Elem, *got.Elem, u)
	}
	return typeFrameEquals(want, got, u)
}

func (s *inferState) apply(name string, sig *Signature, loc Location) error {
	args := s.take(len(sig.Ins))
	u := unifier{}
	for i, want := range sig.Ins {
		if !s.match(want, args[i], u) {
			return newError(KindType, loc, "unexpected data on the stack for `%s`", name).
				hint("expected: [%s]", formatTypes(sig.Ins)).
				hint("found: [%s]", formatTypes(s.resolveAll(args))).
				note(args[i].Loc, "expected `%s`, found `%s`", want, s.resolve(args[i]))
		}
	}
	for _, out := range sig.Outs {
		s.push(s.instantiate(out, u).at(loc))
	}
	return nil
}

func (s *inferState) resolveAll(types []TypeFrame) []TypeFrame {
	out := make([]TypeFrame, len(types))
	for i, t := range types {
		out[i] = s.resolve(t)
	}
	return out
}

// signature renames the remaining placeholders to a, b, ... in the order
// they appear.
func (s *inferState) signature() *Signature {
	for label, t := range s.defaults {
		if p := s.resolve(GenericType(label, s.loc)); isPlaceholder(p) {
			s.bind(p, t)
		}
	}

	names := make(map[string]string)
	var rename func(t TypeFrame) TypeFrame
	rename = func(t TypeFrame) TypeFrame {
		t = s.resolve(t)
		switch {
		case isPlaceholder(t):
			name, ok := names[t.Label]
			if !ok {
				name = genericName(len(names))
				names[t.Label] = name
			}
			return GenericType(name, s.loc)
		case t.Kind == TypePtrTo:
			return PtrToType(rename(*t.Elem), t.Loc)
		}
		return t
	}
	sig := &Signature{}
	for _, t := range s.ins {
		sig.Ins = append(sig.Ins, rename(t))
	}
	for _, t := range s.outs {
		sig.Outs = append(sig.Outs, rename(t))
	}
	return sig
}

func genericName(i int) string {
	if i < 26 {
		return string(rune('a' + i))
	}
	return fmt.Sprintf("<T%d>", i)
}

// ---------------------------------------------------------------------------
// Checker entry point
// ---------------------------------------------------------------------------

// infer computes and memoizes the signature of proc.
func (c *Checker) infer(proc *Proc, use Location) (*Signature, error) {
	for i, call := range c.inferring {
		if call.proc != proc {
			continue
		}
		d := newError(KindType, use, "recursive calls of procedures without signatures are not supported")
		for _, frame := range c.inferring[i:] {
			d.note(frame.loc, "while inferring the signature of `%s`", frame.proc.Name)
		}
		d.note(use, "`%s` called again here", proc.Name)
		return nil, d.hint("declare the signature of `%s` explicitly", proc.Name)
	}
	c.inferring = append(c.inferring, inferCall{proc: proc, loc: use})
	defer func() { c.inferring = c.inferring[:len(c.inferring)-1] }()

	st := newInferState(proc.Loc)
	if err := c.inferBody(proc.Body, st); err != nil {
		return nil, err
	}
	sig := st.signature()
	proc.Signature = sig
	proc.Inferred = true

	if !sig.isConcrete() {
		c.warn(newWarning(proc.Loc, "ambiguous signature inferred for `%s`: %s", proc.Name, sig).
			hint("declare the signature explicitly"))
	}
	c.log.Debugf("inferred %s %s", proc.Name, sig)
	return sig, nil
}

func (c *Checker) inferBody(body []Expr, st *inferState) error {
	for _, e := range body {
		if err := c.inferExpr(e, st); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) inferExpr(e Expr, st *inferState) error {
	switch n := e.(type) {
	case *Literal:
		switch n.Type {
		case LitInt:
			st.push(IntType(n.Location))
		case LitBool:
			st.push(BoolType(n.Location))
		case LitStr:
			st.push(IntType(n.Location))
			st.push(PtrType(n.Location))
		case LitCStr:
			st.push(PtrType(n.Location))
		case LitAsm:
			return newError(KindType, n.Location, "assembly blocks are only allowed in unsafe procedures")
		}
		return nil

	case *Word:
		return c.inferWord(n, st)

	case *If:
		if err := c.inferBody(n.Cond, st); err != nil {
			return err
		}
		if err := st.apply("if", &Signature{Ins: []TypeFrame{BoolType(n.Location)}}, n.Location); err != nil {
			return err
		}
		then, els := st.clone(), st.clone()
		if err := c.inferBody(n.Then, then); err != nil {
			return err
		}
		if err := c.inferBody(n.Else, els); err != nil {
			return err
		}
		winner, loser := then, els
		if len(els.ins) > len(then.ins) {
			winner, loser = els, then
		}
		for k, v := range loser.subst {
			if _, ok := winner.subst[k]; !ok {
				winner.subst[k] = v
			}
		}
		for k, v := range loser.defaults {
			if _, ok := winner.defaults[k]; !ok {
				winner.defaults[k] = v
			}
		}
		*st = *winner
		return nil

	case *While:
		if err := c.inferBody(n.Cond, st); err != nil {
			return err
		}
		if err := st.apply("while", &Signature{Ins: []TypeFrame{BoolType(n.Location)}}, n.Location); err != nil {
			return err
		}
		return c.inferBody(n.Body, st)

	case *Let:
		vals := st.take(len(n.Names))
		for i, name := range n.Names {
			st.bindings[name] = vals[i]
		}
		err := c.inferBody(n.Body, st)
		for _, name := range n.Names {
			delete(st.bindings, name)
		}
		return err

	case *Cast:
		st.take(len(n.Types))
		for _, t := range n.Types {
			st.push(t.at(n.Location))
		}
		return nil
	}
	return newError(KindInternal, e.Loc(), "unexpected expression %T", e)
}

func (c *Checker) inferWord(w *Word, st *inferState) error {
	switch w.Kind {
	case WordIntrinsic:
		return c.inferIntrinsic(intrinsics[w.Name], w.Location, st)

	case WordProc:
		sig, err := c.signatureOf(c.prog.Procs[w.Name], w.Location)
		if err != nil {
			return err
		}
		return st.apply(w.Name, sig, w.Location)

	case WordMemory:
		st.push(PtrType(w.Location))
		return nil

	case WordBinding:
		st.push(st.bindings[w.Name])
		return nil
	}
	return newError(KindInternal, w.Location, "word `%s` was not resolved", w.Name)
}

func (c *Checker) inferIntrinsic(in Intrinsic, loc Location, st *inferState) error {
	if arity, result, ok := ShuffleOf(in); ok {
		group := st.take(arity)
		for _, i := range result {
			st.push(group[i])
		}
		return nil
	}
	if sig, ok := fixedSignatures[in]; ok {
		return st.apply(in.String(), &sig, loc)
	}
	if in == IntrinsicDumpStack {
		return nil
	}

	op := operators[in]
	args := st.take(op.arity)
	var result TypeFrame
	var ok bool
	if in == IntrinsicAdd || in == IntrinsicSub {
		result, ok = st.arith(in, args[0], args[1], loc)
	} else {
		bindOperands(in, args, st, loc)
		args = st.resolveAll(args)
		result, ok = op.result(args, loc)
	}
	if !ok {
		return newError(KindType, loc, "unexpected data on the stack for `%s`", in).
			hint("expected: %s", op.expected).
			hint("found: [%s]", formatTypes(args))
	}
	st.push(result)
	return nil
}

// arith infers add and sub. A placeholder added to an integer may still
// turn out to be a pointer, so it is passed through and only defaults to
// int if nothing else binds it.
func (s *inferState) arith(in Intrinsic, a, b TypeFrame, loc Location) (TypeFrame, bool) {
	if isPlaceholder(b) {
		s.bind(b, IntType(loc))
		b = IntType(loc)
	}
	if isPlaceholder(a) {
		if !b.isPointer() {
			s.defaults[a.Label] = IntType(loc)
			return a, true
		}
		if in == IntrinsicAdd {
			s.bind(a, IntType(loc))
		} else {
			s.bind(a, PtrType(loc))
		}
		a = s.resolve(a)
	}
	return operators[in].result([]TypeFrame{a, b}, loc)
}

// bindOperands picks concrete types for placeholder operands of the
// remaining overloaded intrinsics. Integers are assumed unless another
// operand decides otherwise.
func bindOperands(in Intrinsic, args []TypeFrame, st *inferState, loc Location) {
	switch in {
	case IntrinsicEq:
		a, b := args[0], args[1]
		switch {
		case isPlaceholder(a):
			st.bind(a, b)
		case isPlaceholder(b):
			st.bind(b, a)
		}

	case IntrinsicAnd, IntrinsicOr, IntrinsicXor:
		kind := IntType(loc)
		for _, t := range args {
			if t.Kind == TypeBool {
				kind = BoolType(loc)
			}
		}
		for _, t := range args {
			if isPlaceholder(t) {
				st.bind(t, kind)
			}
		}

	default:
		for _, t := range args {
			if isPlaceholder(t) {
				st.bind(t, IntType(loc))
			}
		}
	}
}
