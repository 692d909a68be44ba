package server

// intrinsicEffects describes the stack effect of each intrinsic for hover
// and completion. Alternatives are separated by `|`.
var intrinsicEffects = map[string]string{
	"add":          ":: int int -> int | ptr int -> ptr | int ptr -> ptr",
	"sub":          ":: int int -> int | ptr int -> ptr | ptr ptr -> int",
	"mul":          ":: int int -> int",
	"divmod":       ":: int int -> int int",
	"lt":           ":: int int -> bool",
	"eq":           ":: a a -> bool",
	"gt":           ":: int int -> bool",
	"shl":          ":: int int -> int",
	"shr":          ":: int int -> int",
	"not":          ":: int -> int | bool -> bool",
	"or":           ":: int int -> int | bool bool -> bool",
	"and":          ":: int int -> int | bool bool -> bool",
	"xor":          ":: int int -> int | bool bool -> bool",
	"dup":          ":: a -> a a",
	"drop":         ":: a",
	"swap":         ":: a b -> b a",
	"rot":          ":: a b c -> b c a",
	"over":         ":: a b -> a b a",
	"dup2":         ":: a b -> a b a b",
	"swap2":        ":: a b c d -> d c b a",
	"print":        ":: int",
	"putch":        ":: int",
	"putu":         ":: int",
	"puts":         ":: int ptr",
	"write":        ":: int ptr",
	"read":         ":: ptr -> int",
	"exit":         ":: int",
	"<dump-stack>": "--",
}
