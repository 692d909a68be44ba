package compiler

import (
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Type checker: abstract interpretation of stack effects
// ---------------------------------------------------------------------------

// Checker validates procedure bodies against their signatures, inferring
// the signatures that were not declared.
type Checker struct {
	prog *Program
	warn WarningSink
	log  commonlog.Logger

	// inferring is the chain of procedures whose signatures are being
	// inferred, with the location of each nested call.
	inferring []inferCall
}

type inferCall struct {
	proc *Proc
	loc  Location
}

// NewChecker creates a checker for a lowered program. warn may be nil.
func NewChecker(prog *Program, warn WarningSink) *Checker {
	if warn == nil {
		warn = func(*Diagnostic) {}
	}
	return &Checker{prog: prog, warn: warn, log: commonlog.GetLogger("stck.checker")}
}

// Check type-checks every safe procedure of a lowered program.
func Check(prog *Program, warn WarningSink) error {
	return NewChecker(prog, warn).Run()
}

// Run checks procedures in declaration order.
func (c *Checker) Run() error {
	for _, proc := range c.prog.OrderedProcs() {
		if proc.Unsafe {
			c.log.Debugf("skipping unsafe proc %s", proc.Name)
			continue
		}
		sig, err := c.signatureOf(proc, proc.Loc)
		if err != nil {
			return err
		}
		if proc.Name == "main" && (len(sig.Ins) > 0 || len(sig.Outs) > 0) {
			return newError(KindType, proc.Loc, "`main` must not take or return values").
				hint("signature is %s", sig)
		}
		if err := c.checkProc(proc); err != nil {
			return err
		}
	}
	return nil
}

// signatureOf returns the declared or inferred signature of proc.
func (c *Checker) signatureOf(proc *Proc, use Location) (*Signature, error) {
	if proc.Signature != nil {
		return proc.Signature, nil
	}
	if proc.Unsafe {
		return nil, newError(KindType, use, "unsafe procedure `%s` must declare a signature to be called from safe code", proc.Name).
			note(proc.Loc, "`%s` is defined here", proc.Name)
	}
	return c.infer(proc, use)
}

func (c *Checker) checkProc(proc *Proc) error {
	sig := proc.Signature

	inLabels := make(map[string]bool)
	for _, t := range sig.Ins {
		collectGenerics(t, inLabels)
	}
	outLabels := make(map[string]bool)
	for _, t := range sig.Outs {
		collectGenerics(t, outLabels)
	}
	for label := range outLabels {
		if !inLabels[label] {
			return newError(KindType, proc.Loc, "generic `%s` of `%s` appears only in the outputs", label, proc.Name).
				hint("signature is %s", sig)
		}
	}

	ctx := newContext()
	for _, t := range sig.Ins {
		loc := t.Loc
		if loc.IsZero() {
			loc = proc.Loc
		}
		ctx.push(t, loc)
	}
	if err := c.checkBody(proc.Body, ctx); err != nil {
		return err
	}

	u := unifier{}
	for label := range inLabels {
		u[label] = GenericType(label, proc.Loc)
	}
	ok := ctx.len() == len(sig.Outs)
	for i := 0; ok && i < len(sig.Outs); i++ {
		ok = typeFrameEquals(sig.Outs[i], ctx.stack[i], u)
	}
	if !ok {
		msg := "unhandled data on the stack at the end of `%s`"
		if ctx.len() < len(sig.Outs) {
			msg = "insufficient data on the stack at the end of `%s`"
		}
		d := newError(KindType, proc.Loc, msg, proc.Name).
			hint("expected: [%s]", formatTypes(sig.Outs))
		return ctx.describe(d, "found")
	}
	c.log.Debugf("checked %s %s", proc.Name, sig)
	return nil
}

func collectGenerics(t TypeFrame, into map[string]bool) {
	switch t.Kind {
	case TypeGeneric:
		into[t.Label] = true
	case TypePtrTo:
		collectGenerics(*t.Elem, into)
	}
}

func (c *Checker) checkBody(body []Expr, ctx *Context) error {
	for _, e := range body {
		if err := c.checkExpr(e, ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) checkExpr(e Expr, ctx *Context) error {
	switch n := e.(type) {
	case *Literal:
		return checkLiteral(n, ctx)

	case *Word:
		return c.checkWord(n, ctx)

	case *If:
		if err := c.checkBody(n.Cond, ctx); err != nil {
			return err
		}
		if err := popCondition(ctx, "if", n.Location); err != nil {
			return err
		}
		if n.Else == nil {
			branch := ctx.fork()
			if err := c.checkBody(n.Then, branch); err != nil {
				return err
			}
			if !sameStack(branch.stack, ctx.stack) {
				d := newError(KindType, n.Location, "unhandled data on the stack: an `if` without `else` must leave the stack unchanged").
					hint("before: [%s]", formatTypes(ctx.stack))
				return branch.describe(d, "after")
			}
			return nil
		}
		other := ctx.fork()
		if err := c.checkBody(n.Then, ctx); err != nil {
			return err
		}
		if err := c.checkBody(n.Else, other); err != nil {
			return err
		}
		if !sameStack(ctx.stack, other.stack) {
			d := newError(KindType, n.Location, "both branches of this `if` must leave the same stack").
				note(n.ElseLoc, "else branch starts here").
				hint("then branch: [%s]", formatTypes(ctx.stack)).
				hint("else branch: [%s]", formatTypes(other.stack))
			return other.describe(d, "else branch")
		}
		return nil

	case *While:
		before := ctx.Stack()
		if err := c.checkBody(n.Cond, ctx); err != nil {
			return err
		}
		if err := popCondition(ctx, "while", n.Location); err != nil {
			return err
		}
		if !sameStack(ctx.stack, before) {
			d := newError(KindType, n.Location, "the condition of this `while` must only push a `bool`").
				hint("before: [%s]", formatTypes(before))
			return ctx.describe(d, "after")
		}
		if err := c.checkBody(n.Body, ctx); err != nil {
			return err
		}
		if !sameStack(ctx.stack, before) {
			d := newError(KindType, n.Location, "unhandled data on the stack: the body of this `while` must leave the stack unchanged").
				hint("before: [%s]", formatTypes(before))
			return ctx.describe(d, "after")
		}
		return nil

	case *Let:
		if ctx.len() < len(n.Names) {
			d := newError(KindType, n.Location, "insufficient data on the stack for `let`").
				hint("expected %d values", len(n.Names))
			return ctx.describe(d, "found")
		}
		values, _ := ctx.popN(len(n.Names))
		for i, name := range n.Names {
			ctx.bindings[name] = values[i]
		}
		err := c.checkBody(n.Body, ctx)
		for _, name := range n.Names {
			delete(ctx.bindings, name)
		}
		return err

	case *Cast:
		return checkCast(ctx, n)
	}
	return newError(KindInternal, e.Loc(), "unexpected expression %T", e)
}

func checkLiteral(n *Literal, ctx *Context) error {
	switch n.Type {
	case LitInt:
		ctx.push(IntType(n.Location), n.Location)
	case LitBool:
		ctx.push(BoolType(n.Location), n.Location)
	case LitStr:
		ctx.push(IntType(n.Location), n.Location)
		ctx.push(PtrType(n.Location), n.Location)
	case LitCStr:
		ctx.push(PtrType(n.Location), n.Location)
	case LitAsm:
		return newError(KindType, n.Location, "assembly blocks are only allowed in unsafe procedures")
	}
	return nil
}

func (c *Checker) checkWord(w *Word, ctx *Context) error {
	switch w.Kind {
	case WordIntrinsic:
		in := intrinsics[w.Name]
		if in == IntrinsicDumpStack {
			c.log.Noticef("%s: stack [%s]", w.Location, formatTypes(ctx.stack))
			return nil
		}
		if in == IntrinsicNot && ctx.len() > 0 {
			w.Logical = ctx.top(1)[0].Kind == TypeBool
		}
		return checkIntrinsic(ctx, in, w.Location)

	case WordProc:
		callee := c.prog.Procs[w.Name]
		sig, err := c.signatureOf(callee, w.Location)
		if err != nil {
			return err
		}
		return applySignature(ctx, w.Name, sig, w.Location)

	case WordMemory:
		ctx.push(PtrType(w.Location), w.Location)
		return nil

	case WordBinding:
		t, ok := ctx.bindings[w.Name]
		if !ok {
			return newError(KindInternal, w.Location, "binding `%s` is not in scope", w.Name)
		}
		ctx.push(t, w.Location)
		return nil
	}
	return newError(KindInternal, w.Location, "word `%s` was not resolved", w.Name)
}

// ---------------------------------------------------------------------------
// Stack effects shared by the checker and the constant evaluator
// ---------------------------------------------------------------------------

func insufficient(ctx *Context, name string, expected string, loc Location) *Diagnostic {
	d := newError(KindType, loc, "insufficient data on the stack for `%s`", name).
		hint("expected: %s", expected)
	return ctx.describe(d, "found")
}

func unexpected(ctx *Context, name string, expected string, loc Location) *Diagnostic {
	d := newError(KindType, loc, "unexpected data on the stack for `%s`", name).
		hint("expected: %s", expected)
	return ctx.describe(d, "found")
}

func popCondition(ctx *Context, keyword string, loc Location) error {
	if ctx.len() < 1 {
		return insufficient(ctx, keyword, "[bool]", loc)
	}
	if !typeFrameEquals(BoolType(loc), ctx.top(1)[0], unifier{}) {
		return unexpected(ctx, keyword, "[bool]", loc)
	}
	ctx.popN(1)
	return nil
}

// applySignature pops sig.Ins and pushes sig.Outs with generics bound by
// this application.
func applySignature(ctx *Context, name string, sig *Signature, loc Location) error {
	if ctx.len() < len(sig.Ins) {
		return insufficient(ctx, name, "["+formatTypes(sig.Ins)+"]", loc)
	}
	u := unifier{}
	args := ctx.top(len(sig.Ins))
	for i, want := range sig.Ins {
		if !typeFrameEquals(want, args[i], u) {
			return unexpected(ctx, name, "["+formatTypes(sig.Ins)+"]", loc).
				note(ctx.locations[ctx.len()-len(sig.Ins)+i], "expected `%s`, found `%s`", want, args[i])
		}
	}
	ctx.popN(len(sig.Ins))
	for _, out := range sig.Outs {
		ctx.push(substitute(out, u), loc)
	}
	return nil
}

func checkCast(ctx *Context, n *Cast) error {
	if ctx.len() < len(n.Types) {
		return insufficient(ctx, "cast", "["+formatTypes(n.Types)+"]", n.Location)
	}
	ctx.popN(len(n.Types))
	for _, t := range n.Types {
		ctx.push(t, n.Location)
	}
	return nil
}

func intLike(t TypeFrame) bool {
	return t.Kind == TypeInt || t.Kind == TypeUnknown
}

func boolLike(t TypeFrame) bool {
	return t.Kind == TypeBool || t.Kind == TypeUnknown
}

// operator describes an intrinsic whose result type depends on its operands.
type operator struct {
	arity    int
	expected string
	result   func(args []TypeFrame, loc Location) (TypeFrame, bool)
}

var operators = map[Intrinsic]operator{
	IntrinsicAdd: {2, "[int int] or [ptr int] or [int ptr]", func(args []TypeFrame, loc Location) (TypeFrame, bool) {
		a, b := args[0], args[1]
		switch {
		case intLike(a) && intLike(b):
			return IntType(loc), true
		case a.isPointer() && intLike(b):
			return a.at(loc), true
		case intLike(a) && b.isPointer():
			return b.at(loc), true
		}
		return TypeFrame{}, false
	}},
	IntrinsicSub: {2, "[int int] or [ptr int] or [ptr ptr]", func(args []TypeFrame, loc Location) (TypeFrame, bool) {
		a, b := args[0], args[1]
		switch {
		case intLike(a) && intLike(b):
			return IntType(loc), true
		case a.isPointer() && intLike(b):
			return a.at(loc), true
		case a.isPointer() && b.isPointer():
			return IntType(loc), true
		}
		return TypeFrame{}, false
	}},
	IntrinsicNot: {1, "[int] or [bool]", func(args []TypeFrame, loc Location) (TypeFrame, bool) {
		if intLike(args[0]) || args[0].Kind == TypeBool {
			return args[0].at(loc), true
		}
		return TypeFrame{}, false
	}},
	IntrinsicAnd: {2, "[int int] or [bool bool]", logicResult},
	IntrinsicOr:  {2, "[int int] or [bool bool]", logicResult},
	IntrinsicXor: {2, "[int int] or [bool bool]", logicResult},
	IntrinsicEq: {2, "[a a]", func(args []TypeFrame, loc Location) (TypeFrame, bool) {
		a, b := args[0], args[1]
		if sameType(a, b) || a.isPointer() && b.isPointer() {
			return BoolType(loc), true
		}
		return TypeFrame{}, false
	}},
}

func logicResult(args []TypeFrame, loc Location) (TypeFrame, bool) {
	a, b := args[0], args[1]
	switch {
	case intLike(a) && intLike(b):
		return IntType(loc), true
	case boolLike(a) && boolLike(b):
		return BoolType(loc), true
	}
	return TypeFrame{}, false
}

// checkIntrinsic applies the stack effect of a built-in word.
func checkIntrinsic(ctx *Context, in Intrinsic, loc Location) error {
	name := in.String()

	if arity, result, ok := ShuffleOf(in); ok {
		if ctx.len() < arity {
			return insufficient(ctx, name, "["+formatTypes(genericRun(arity))+"]", loc)
		}
		group, locs := ctx.popN(arity)
		for _, i := range result {
			ctx.push(group[i], locs[i])
		}
		return nil
	}

	if sig, ok := fixedSignatures[in]; ok {
		return applySignature(ctx, name, &sig, loc)
	}

	if in == IntrinsicDumpStack {
		return nil
	}

	op, ok := operators[in]
	if !ok {
		return newError(KindInternal, loc, "no stack effect for intrinsic `%s`", name)
	}
	if ctx.len() < op.arity {
		return insufficient(ctx, name, op.expected, loc)
	}
	result, ok := op.result(ctx.top(op.arity), loc)
	if !ok {
		return unexpected(ctx, name, op.expected, loc)
	}
	ctx.popN(op.arity)
	ctx.push(result, loc)
	return nil
}

func genericRun(n int) []TypeFrame {
	types := make([]TypeFrame, n)
	for i := range types {
		types[i] = GenericType(string(rune('a'+i)), Location{})
	}
	return types
}
