package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckValidPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"arithmetic", `proc main do 2 3 add print end`},
		{"strings", `proc main do "hello\n" puts c"raw" drop end`},
		{"if else", `proc main do 1 2 lt if 10 else 20 end print end`},
		{"bodyless if", `proc main do 5 dup 3 gt if dup print end drop end`},
		{"while", `proc main do 0 while dup 10 lt do dup print 1 add end drop end`},
		{"shuffles", `proc main do 1 2 3 rot swap over dup2 swap2 drop drop drop drop drop drop end`},
		{"let", `proc main do 1 2 let a b do b a sub print end end`},
		{"pointer arithmetic", `memory buf 8 end proc main do 65 buf 1 add write buf read print end`},
		{"logic", `proc main do true false or 1 2 lt and not drop 6 3 xor print end`},
		{"eq", `memory m 1 end proc main do m m eq 1 1 eq and drop end`},
		{"generic call", `proc pick :: a a bool -> a do if drop else swap drop end end proc main do 1 2 true pick print end`},
		{"ptr-to", `proc deref :: ptr-to int -> int do cast ptr end read end memory m 1 end proc main do m cast ptr-to int end deref print end`},
		{"recursion with signature", `proc count :: int do dup 0 gt if dup print 1 sub count else drop end end proc main do 3 count end`},
		{"unsafe callee with signature", `unsafe proc raw -> int do asm mov end 7 end proc main do raw print end`},
		{"if star", `proc sign :: int -> int do dup 0 lt if drop -1 else dup 0 eq if* drop 0 else drop 1 end end proc main do 5 sign print end`},
		{"exit", `proc main do 3 exit end`},
		{"dump stack", `proc main do 1 <dump-stack> drop end`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := analyzeSource(t, tc.src, nil, Options{})
			assert.NoError(t, err)
		})
	}
}

func TestCheckErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		msg  string
	}{
		{"bodyless if with int condition", `proc main do 1 if 2 end end`, "unexpected data on the stack for `if`"},
		{"bodyless if changes stack", `proc f :: bool do if 2 end end proc main do true f end`, "an `if` without `else` must leave the stack unchanged"},
		{"branch mismatch", `proc f :: bool -> int do if 1 else true end end proc main do true f print end`, "both branches of this `if` must leave the same stack"},
		{"loop changes stack", `proc f :: int do while dup 10 lt do dup end drop end proc main do 0 f end`, "the body of this `while` must leave the stack unchanged"},
		{"loop condition", `proc f do while 1 true do end end proc main do f end`, "the condition of this `while` must only push a `bool`"},
		{"insufficient", `proc f -> int do add end proc main do f print end`, "insufficient data on the stack for `add`"},
		{"wrong type", `proc main do true print end`, "unexpected data on the stack for `print`"},
		{"main returns", `proc main do 1 end`, "`main` must not take or return values"},
		{"main takes", `proc main :: int do drop end`, "`main` must not take or return values"},
		{"declared outs unmet", `proc f -> int do end proc main do f print end`, "insufficient data on the stack at the end of `f`"},
		{"declared outs exceeded", `proc f -> int do 1 2 end proc main do f print end`, "unhandled data on the stack at the end of `f`"},
		{"generic binding stability", `proc same :: a a -> a do drop end proc main do 1 true same drop end`, "unexpected data on the stack for `same`"},
		{"generic only in outputs", `unsafe proc u -> int do 1 end proc f -> a do u end proc main do f drop end`, "appears only in the outputs"},
		{"ptr-to mismatch", `proc f :: ptr-to int do drop end memory m 1 end proc main do m f end`, "unexpected data on the stack for `f`"},
		{"asm in safe proc", `proc main do asm nop end end`, "assembly blocks are only allowed in unsafe procedures"},
		{"unsafe without signature", `unsafe proc raw do end proc main do raw end`, "must declare a signature"},
		{"recursion without signature", `proc f do f end proc main do f end`, "recursive calls of procedures without signatures are not supported"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := analyzeError(t, tc.src)
			assert.Equal(t, KindType, d.Kind)
			assert.Contains(t, d.Message, tc.msg)
		})
	}
}

func TestNoMainProcedure(t *testing.T) {
	d := analyzeError(t, `proc helper do end`)
	assert.Equal(t, KindResolution, d.Kind)
	assert.Contains(t, d.Message, "no main procedure")
}

func TestUnsafeOptionSkipsChecking(t *testing.T) {
	_, _, err := analyzeSource(t, `proc main do 1 if 2 end end`, nil, Options{Unsafe: true})
	assert.NoError(t, err)
}

func TestUnsafeProcIsNotChecked(t *testing.T) {
	mustAnalyze(t, `unsafe proc junk do add add add end proc main do end`)
}

func TestErrorCarriesStackNotes(t *testing.T) {
	d := analyzeError(t, "proc f :: do\n  true\n  print\nend\nproc main do f end")
	assert.Equal(t, "/proj/main.stck:3:3", d.Location.String())
	var found bool
	for _, n := range d.Notes {
		if n.Message == "`bool` pushed here" {
			found = true
			assert.Equal(t, 2, n.Location.Start().Line)
		}
	}
	assert.True(t, found, "notes: %v", noteMessages(d))
}

func TestRecursiveInferenceNotes(t *testing.T) {
	d := analyzeError(t, `proc a do b end proc b do a end proc main do a end`)
	msgs := noteMessages(d)
	assert.Contains(t, msgs, "while inferring the signature of `a`")
	assert.Contains(t, msgs, "while inferring the signature of `b`")
	assert.Contains(t, msgs, "`a` called again here")
}

func TestTypeFrameEquals(t *testing.T) {
	var loc Location
	intT, boolT, ptrT := IntType(loc), BoolType(loc), PtrType(loc)
	ptrInt := PtrToType(intT, loc)
	ptrBool := PtrToType(boolT, loc)
	a := GenericType("a", loc)

	tests := []struct {
		name             string
		expected, actual TypeFrame
		want             bool
	}{
		{"same concrete", intT, intT, true},
		{"different concrete", intT, boolT, false},
		{"unknown expected", UnknownType(loc), boolT, true},
		{"unknown actual", intT, UnknownType(loc), true},
		{"ptr accepts ptr-to", ptrT, ptrInt, true},
		{"ptr-to rejects ptr", ptrInt, ptrT, false},
		{"ptr-to elem mismatch", ptrInt, ptrBool, false},
		{"generic binds", a, boolT, true},
		{"actual generic needs generic", intT, a, false},
	}
	for _, tc := range tests {
		got := typeFrameEquals(tc.expected, tc.actual, unifier{})
		assert.Equal(t, tc.want, got, tc.name)
	}

	u := unifier{}
	require.True(t, typeFrameEquals(a, intT, u))
	assert.True(t, typeFrameEquals(a, intT, u), "bound generic matches its binding")
	assert.False(t, typeFrameEquals(a, boolT, u), "bound generic rejects other types")
	assert.True(t, typeFrameEquals(PtrToType(a, loc), ptrInt, u))
}

func TestContextFork(t *testing.T) {
	ctx := newContext()
	ctx.push(IntType(Location{}), Location{})
	ctx.bindings["x"] = BoolType(Location{})

	branch := ctx.fork()
	branch.push(BoolType(Location{}), Location{})
	assert.Equal(t, 1, ctx.len())
	assert.Equal(t, 2, branch.len())

	branch.bindings["y"] = IntType(Location{})
	assert.Contains(t, ctx.bindings, "y", "bindings are shared between forks")
}
