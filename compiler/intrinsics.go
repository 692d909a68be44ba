package compiler

// Intrinsic identifies a built-in word.
type Intrinsic int

const (
	// Arithmetic
	IntrinsicAdd Intrinsic = iota
	IntrinsicSub
	IntrinsicMul
	IntrinsicDivMod

	// Comparison
	IntrinsicLt
	IntrinsicEq
	IntrinsicGt

	// Bitwise and logic
	IntrinsicShl
	IntrinsicShr
	IntrinsicNot
	IntrinsicOr
	IntrinsicAnd
	IntrinsicXor

	// Stack shuffles
	IntrinsicDup
	IntrinsicDrop
	IntrinsicSwap
	IntrinsicRot
	IntrinsicOver
	IntrinsicDup2
	IntrinsicSwap2

	// I/O and memory
	IntrinsicPrint
	IntrinsicPutch
	IntrinsicPutu
	IntrinsicPuts
	IntrinsicWrite
	IntrinsicRead
	IntrinsicExit

	// Debugging
	IntrinsicDumpStack
)

var intrinsicNames = [...]string{
	IntrinsicAdd:       "add",
	IntrinsicSub:       "sub",
	IntrinsicMul:       "mul",
	IntrinsicDivMod:    "divmod",
	IntrinsicLt:        "lt",
	IntrinsicEq:        "eq",
	IntrinsicGt:        "gt",
	IntrinsicShl:       "shl",
	IntrinsicShr:       "shr",
	IntrinsicNot:       "not",
	IntrinsicOr:        "or",
	IntrinsicAnd:       "and",
	IntrinsicXor:       "xor",
	IntrinsicDup:       "dup",
	IntrinsicDrop:      "drop",
	IntrinsicSwap:      "swap",
	IntrinsicRot:       "rot",
	IntrinsicOver:      "over",
	IntrinsicDup2:      "dup2",
	IntrinsicSwap2:     "swap2",
	IntrinsicPrint:     "print",
	IntrinsicPutch:     "putch",
	IntrinsicPutu:      "putu",
	IntrinsicPuts:      "puts",
	IntrinsicWrite:     "write",
	IntrinsicRead:      "read",
	IntrinsicExit:      "exit",
	IntrinsicDumpStack: "<dump-stack>",
}

var intrinsics = func() map[string]Intrinsic {
	m := make(map[string]Intrinsic, len(intrinsicNames))
	for i, name := range intrinsicNames {
		m[name] = Intrinsic(i)
	}
	return m
}()

func (i Intrinsic) String() string {
	if int(i) < len(intrinsicNames) {
		return intrinsicNames[i]
	}
	return "<invalid intrinsic>"
}

// LookupIntrinsic returns the intrinsic called name.
func LookupIntrinsic(name string) (Intrinsic, bool) {
	i, ok := intrinsics[name]
	return i, ok
}

// IntrinsicNames returns every intrinsic name in opcode order.
func IntrinsicNames() []string {
	return append([]string(nil), intrinsicNames[:]...)
}

// fixedSignatures holds the stack effect of intrinsics whose types do not
// depend on their operands. The rest are handled case by case.
var fixedSignatures = map[Intrinsic]Signature{
	IntrinsicMul:    {Ins: []TypeFrame{{Kind: TypeInt}, {Kind: TypeInt}}, Outs: []TypeFrame{{Kind: TypeInt}}},
	IntrinsicDivMod: {Ins: []TypeFrame{{Kind: TypeInt}, {Kind: TypeInt}}, Outs: []TypeFrame{{Kind: TypeInt}, {Kind: TypeInt}}},
	IntrinsicLt:     {Ins: []TypeFrame{{Kind: TypeInt}, {Kind: TypeInt}}, Outs: []TypeFrame{{Kind: TypeBool}}},
	IntrinsicGt:     {Ins: []TypeFrame{{Kind: TypeInt}, {Kind: TypeInt}}, Outs: []TypeFrame{{Kind: TypeBool}}},
	IntrinsicShl:    {Ins: []TypeFrame{{Kind: TypeInt}, {Kind: TypeInt}}, Outs: []TypeFrame{{Kind: TypeInt}}},
	IntrinsicShr:    {Ins: []TypeFrame{{Kind: TypeInt}, {Kind: TypeInt}}, Outs: []TypeFrame{{Kind: TypeInt}}},
	IntrinsicPrint:  {Ins: []TypeFrame{{Kind: TypeInt}}},
	IntrinsicPutch:  {Ins: []TypeFrame{{Kind: TypeInt}}},
	IntrinsicPutu:   {Ins: []TypeFrame{{Kind: TypeInt}}},
	IntrinsicPuts:   {Ins: []TypeFrame{{Kind: TypeInt}, {Kind: TypePtr}}},
	IntrinsicWrite:  {Ins: []TypeFrame{{Kind: TypeInt}, {Kind: TypePtr}}},
	IntrinsicRead:   {Ins: []TypeFrame{{Kind: TypePtr}}, Outs: []TypeFrame{{Kind: TypeInt}}},
	IntrinsicExit:   {Ins: []TypeFrame{{Kind: TypeInt}}},
}

// constIntrinsics may appear in constant, memory size and assertion bodies.
var constIntrinsics = map[Intrinsic]bool{
	IntrinsicAdd:    true,
	IntrinsicSub:    true,
	IntrinsicMul:    true,
	IntrinsicDivMod: true,
	IntrinsicLt:     true,
	IntrinsicEq:     true,
	IntrinsicGt:     true,
	IntrinsicDup:    true,
	IntrinsicDrop:   true,
	IntrinsicSwap:   true,
	IntrinsicRot:    true,
	IntrinsicOver:   true,
	IntrinsicDup2:   true,
	IntrinsicSwap2:  true,
}

// shuffle describes a stack permutation: the top Arity values are replaced
// by the values at the listed indices (0 is the deepest of the group).
type shuffle struct {
	Arity  int
	Result []int
}

var shuffles = map[Intrinsic]shuffle{
	IntrinsicDup:   {1, []int{0, 0}},
	IntrinsicDrop:  {1, []int{}},
	IntrinsicSwap:  {2, []int{1, 0}},
	IntrinsicRot:   {3, []int{1, 2, 0}},
	IntrinsicOver:  {2, []int{0, 1, 0}},
	IntrinsicDup2:  {2, []int{0, 1, 0, 1}},
	IntrinsicSwap2: {4, []int{3, 2, 1, 0}},
}

// ShuffleOf returns the permutation performed by a stack shuffle intrinsic.
func ShuffleOf(i Intrinsic) (arity int, result []int, ok bool) {
	s, ok := shuffles[i]
	return s.Arity, s.Result, ok
}

// DivMod returns the floored quotient and modulo of a and b, so that
// q*b + r == a and r has the sign of b. b must not be zero.
func DivMod(a, b int64) (q, r int64) {
	q, r = a/b, a%b
	if r != 0 && (r < 0) != (b < 0) {
		q--
		r += b
	}
	return q, r
}
