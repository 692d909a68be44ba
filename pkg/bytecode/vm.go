package bytecode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tliron/commonlog"

	"github.com/chazu/stck/compiler"
)

// DefaultCallDepth is the maximum number of pending return addresses.
const DefaultCallDepth = 4096

// checkInterval is how many instructions run between context checks.
const checkInterval = 1 << 12

// Runtime faults. They are wrapped in a *RuntimeError carrying the
// faulting instruction.
var (
	ErrStackUnderflow   = errors.New("stack underflow")
	ErrCallDepth        = errors.New("maximum call depth exceeded")
	ErrReturnUnderflow  = errors.New("return without a call")
	ErrBindingUnderflow = errors.New("binding stack underflow")
	ErrMemoryAccess     = errors.New("memory access out of bounds")
	ErrDivideByZero     = errors.New("division by zero")
	ErrInstructionPtr   = errors.New("instruction pointer out of range")
)

// RuntimeError is a fault raised while executing an instruction.
type RuntimeError struct {
	IP  int
	Op  Opcode
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error at instruction %d (%s): %v", e.IP, e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// VM executes a ByteCode program. It owns a flat byte memory holding the
// static buffers followed by the text segment, an operand stack, a return
// stack and a binding stack.
type VM struct {
	code   *ByteCode
	memory []byte

	ip      int
	stack   []int64
	returns []int
	binds   []int64

	out       io.Writer
	callDepth int
	log       commonlog.Logger

	// Trace logs every instruction at debug level.
	Trace bool
}

// Option configures a VM.
type Option func(*VM)

// WithOutput sets where I/O instructions write. The default is os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithCallDepth overrides DefaultCallDepth.
func WithCallDepth(n int) Option {
	return func(vm *VM) { vm.callDepth = n }
}

// WithTrace enables instruction tracing.
func WithTrace(on bool) Option {
	return func(vm *VM) { vm.Trace = on }
}

// NewVM creates a VM for code and loads the text segment into memory.
func NewVM(code *ByteCode, opts ...Option) *VM {
	vm := &VM{
		code:      code,
		memory:    make([]byte, code.MemorySize()),
		stack:     make([]int64, 0, 256),
		returns:   make([]int, 0, 64),
		out:       os.Stdout,
		callDepth: DefaultCallDepth,
		log:       commonlog.GetLogger("stck.vm"),
	}
	for _, opt := range opts {
		opt(vm)
	}

	at := int(code.StaticSize)
	for _, s := range code.Text {
		at += copy(vm.memory[at:], s)
	}
	return vm
}

// Memory exposes the VM memory for inspection.
func (vm *VM) Memory() []byte {
	return vm.memory
}

// Stack returns a copy of the operand stack, bottom first.
func (vm *VM) Stack() []int64 {
	return append([]int64(nil), vm.stack...)
}

// Run executes from instruction 0 until Halt or Exit and returns the exit
// status. ctx is polled periodically so a runaway program can be stopped.
func (vm *VM) Run(ctx context.Context) (status int, err error) {
	vm.ip = 0
	defer func() {
		if r := recover(); r != nil {
			err = vm.fault(fmt.Errorf("panic: %v", r))
		}
	}()

	steps := 0
	for {
		if steps++; steps%checkInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}

		if vm.ip < 0 || vm.ip >= len(vm.code.Instr) {
			return 0, &RuntimeError{IP: vm.ip, Err: ErrInstructionPtr}
		}
		in := vm.code.Instr[vm.ip]
		info := GetOpcodeInfo(in.Op)
		if vm.Trace {
			vm.log.Debugf("[%04d] %-16s sp=%d", vm.ip, info.Name, len(vm.stack))
		}
		if len(vm.stack) < info.StackPop {
			return 0, vm.fault(ErrStackUnderflow)
		}
		next := vm.ip + 1

		switch in.Op {
		// ============ Stack Operations ============
		case OpNop:
			// Do nothing

		case OpPush:
			vm.push(in.Operand)

		case OpDrop:
			vm.stack = vm.stack[:len(vm.stack)-1]

		case OpDup, OpSwap, OpRot, OpOver, OpDup2, OpSwap2:
			vm.shuffle(in.Op)

		// ============ Arithmetic ============
		case OpAdd:
			a, b := vm.pop2()
			vm.push(a + b)

		case OpSub:
			a, b := vm.pop2()
			vm.push(a - b)

		case OpMul:
			a, b := vm.pop2()
			vm.push(a * b)

		case OpDivMod:
			a, b := vm.pop2()
			if b == 0 {
				return 0, vm.fault(ErrDivideByZero)
			}
			q, r := compiler.DivMod(a, b)
			vm.push(q)
			vm.push(r)

		// ============ Comparison ============
		case OpLt:
			a, b := vm.pop2()
			vm.pushBool(a < b)

		case OpEq:
			a, b := vm.pop2()
			vm.pushBool(a == b)

		case OpGt:
			a, b := vm.pop2()
			vm.pushBool(a > b)

		// ============ Bitwise ============
		case OpShl:
			a, b := vm.pop2()
			vm.push(a << uint64(b))

		case OpShr:
			a, b := vm.pop2()
			vm.push(int64(uint64(a) >> uint64(b)))

		case OpNot:
			vm.push(^vm.pop())

		case OpOr:
			a, b := vm.pop2()
			vm.push(a | b)

		case OpAnd:
			a, b := vm.pop2()
			vm.push(a & b)

		case OpXor:
			a, b := vm.pop2()
			vm.push(a ^ b)

		// ============ Memory ============
		case OpWrite:
			value, ptr := vm.pop2()
			if !vm.inBounds(ptr, 1) {
				return 0, vm.fault(fmt.Errorf("%w: write at %d", ErrMemoryAccess, ptr))
			}
			vm.memory[ptr] = byte(value)

		case OpRead:
			ptr := vm.pop()
			if !vm.inBounds(ptr, 1) {
				return 0, vm.fault(fmt.Errorf("%w: read at %d", ErrMemoryAccess, ptr))
			}
			vm.push(int64(vm.memory[ptr]))

		// ============ Bindings ============
		case OpBind:
			vm.binds = append(vm.binds, vm.pop())

		case OpUnbind:
			if len(vm.binds) == 0 {
				return 0, vm.fault(ErrBindingUnderflow)
			}
			vm.binds = vm.binds[:len(vm.binds)-1]

		case OpPushBind:
			depth := vm.pop()
			if depth < 0 || depth >= int64(len(vm.binds)) {
				return 0, vm.fault(fmt.Errorf("%w: depth %d", ErrBindingUnderflow, depth))
			}
			vm.push(vm.binds[len(vm.binds)-1-int(depth)])

		// ============ Control Flow ============
		case OpJmp:
			next = int(in.Operand)

		case OpJmpIfNot:
			if vm.pop() == 0 {
				next = int(in.Operand)
			}

		case OpCall:
			if len(vm.returns) >= vm.callDepth {
				return 0, vm.fault(fmt.Errorf("%w (%d)", ErrCallDepth, vm.callDepth))
			}
			vm.returns = append(vm.returns, next)
			next = int(in.Operand)

		case OpRet:
			if len(vm.returns) == 0 {
				return 0, vm.fault(ErrReturnUnderflow)
			}
			next = vm.returns[len(vm.returns)-1]
			vm.returns = vm.returns[:len(vm.returns)-1]

		// ============ I/O ============
		case OpPrint:
			if err := vm.write(strconv.FormatInt(vm.pop(), 10) + "\n"); err != nil {
				return 0, err
			}

		case OpPutch:
			if err := vm.write(string(utf8.AppendRune(nil, rune(vm.pop())))); err != nil {
				return 0, err
			}

		case OpPutu:
			if err := vm.write(strconv.FormatUint(uint64(vm.pop()), 10)); err != nil {
				return 0, err
			}

		case OpPuts:
			length, ptr := vm.pop2()
			if length < 0 || !vm.inBounds(ptr, length) {
				return 0, vm.fault(fmt.Errorf("%w: %d bytes at %d", ErrMemoryAccess, length, ptr))
			}
			if err := vm.write(string(vm.memory[ptr : ptr+length])); err != nil {
				return 0, err
			}

		// ============ Program ============
		case OpHalt:
			return int(in.Operand), nil

		case OpExit:
			return int(vm.pop()), nil

		case OpDumpStack:
			if err := vm.write(formatStack(vm.stack)); err != nil {
				return 0, err
			}

		default:
			return 0, vm.fault(fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, byte(in.Op)))
		}

		vm.ip = next
	}
}

func (vm *VM) fault(err error) *RuntimeError {
	e := &RuntimeError{IP: vm.ip, Err: err}
	if vm.ip >= 0 && vm.ip < len(vm.code.Instr) {
		e.Op = vm.code.Instr[vm.ip].Op
	}
	return e
}

func (vm *VM) push(v int64) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pushBool(b bool) {
	if b {
		vm.push(1)
	} else {
		vm.push(0)
	}
}

func (vm *VM) pop() int64 {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

// pop2 pops b (the top) and then a.
func (vm *VM) pop2() (a, b int64) {
	n := len(vm.stack)
	a, b = vm.stack[n-2], vm.stack[n-1]
	vm.stack = vm.stack[:n-2]
	return a, b
}

// shuffle applies a stack permutation opcode.
func (vm *VM) shuffle(op Opcode) {
	s := vm.stack
	n := len(s)
	switch op {
	case OpDup:
		vm.push(s[n-1])
	case OpSwap:
		s[n-2], s[n-1] = s[n-1], s[n-2]
	case OpRot:
		s[n-3], s[n-2], s[n-1] = s[n-2], s[n-1], s[n-3]
	case OpOver:
		vm.push(s[n-2])
	case OpDup2:
		vm.push(s[n-2])
		vm.push(s[n-1])
	case OpSwap2:
		s[n-4], s[n-3], s[n-2], s[n-1] = s[n-1], s[n-2], s[n-3], s[n-4]
	}
}

func (vm *VM) inBounds(ptr, n int64) bool {
	return ptr >= 0 && n >= 0 && ptr+n <= int64(len(vm.memory))
}

func (vm *VM) write(s string) error {
	if _, err := io.WriteString(vm.out, s); err != nil {
		return vm.fault(fmt.Errorf("write failed: %w", err))
	}
	return nil
}

func formatStack(stack []int64) string {
	parts := make([]string, len(stack))
	for i, v := range stack {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return "stack: [" + strings.Join(parts, " ") + "]\n"
}

// Execute runs code on a fresh VM and returns its exit status.
func Execute(ctx context.Context, code *ByteCode, opts ...Option) (int, error) {
	return NewVM(code, opts...).Run(ctx)
}
