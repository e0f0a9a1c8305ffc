package machine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mna/calamus/lang/compiler"
)

// Bounded resources of a machine.
const (
	// FramesMax is the maximum call depth; exceeding it is the
	// "Stack overflow." runtime error.
	FramesMax = 64
	// StackMax is the value stack depth.
	StackMax = FramesMax * 256
)

// Sentinel errors for the two failure taxonomies of Interpret.
var (
	ErrCompile = errors.New("compile error")
	ErrRuntime = errors.New("runtime error")
)

// A CompileError wraps the compiler's error list; errors.Is(err,
// ErrCompile) reports true for it.
type CompileError struct {
	Errs compiler.ErrorList
}

func (e *CompileError) Error() string        { return e.Errs.Error() }
func (e *CompileError) Is(target error) bool { return target == ErrCompile }
func (e *CompileError) Unwrap() error        { return e.Errs }

// A RuntimeError carries the formatted message and the stack trace, one
// "[line N] in <name>" entry per frame from the innermost out;
// errors.Is(err, ErrRuntime) reports true for it.
type RuntimeError struct {
	Msg   string
	Trace []string
}

func (e *RuntimeError) Error() string {
	if len(e.Trace) == 0 {
		return e.Msg
	}
	return e.Msg + "\n" + strings.Join(e.Trace, "\n")
}

func (e *RuntimeError) Is(target error) bool { return target == ErrRuntime }

type callFrame struct {
	closure *Closure
	ip      int
	slots   int // stack index of the callee; slot 0 of the frame
}

// A Machine is a single-threaded execution context: the value and frame
// stacks, the globals, the interned strings and the managed heap. It is
// not safe for concurrent use.
type Machine struct {
	// Stdout and Stderr are the standard output abstractions; if nil,
	// os.Stdout and os.Stderr are used.
	Stdout io.Writer
	Stderr io.Writer

	cfg Config

	stack      []Value
	sp         int
	frames     [FramesMax]callFrame
	frameCount int

	globals      *table
	strings      *table // intern set, weak keys
	initString   *String
	openUpvalues *Upvalue

	// heap state
	objects        Object
	bytesAllocated int
	nextGC         int
	grays          []Object
	gcRunning      bool
}

// New returns a machine ready to interpret programs with the given
// configuration.
func New(cfg Config) *Machine {
	if cfg.GCInitialNext <= 0 {
		cfg.GCInitialNext = 1 << 20
	}
	m := &Machine{
		cfg:    cfg,
		stack:  make([]Value, StackMax),
		nextGC: cfg.GCInitialNext,
	}
	m.globals = newTable(m)
	m.strings = newTable(m)
	m.initString = m.Intern("init")
	return m
}

func (m *Machine) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

func (m *Machine) stderr() io.Writer {
	if m.Stderr != nil {
		return m.Stderr
	}
	return os.Stderr
}

// Interpret compiles and runs source text in one step. The returned
// error, if any, matches either ErrCompile or ErrRuntime.
func (m *Machine) Interpret(src string) error {
	fn, err := compiler.Compile(src)
	if err != nil {
		var el compiler.ErrorList
		errors.As(err, &el)
		return &CompileError{Errs: el}
	}
	return m.RunProgram(fn)
}

// RunProgram converts the compiled function graph to runtime objects,
// wraps the top-level function in a closure and executes it until the
// outermost frame returns.
func (m *Machine) RunProgram(cfn *compiler.Function) error {
	fn := m.loadFunction(cfn)
	m.push(ObjectValue(fn))
	closure := m.newClosure(fn)
	m.pop()
	m.push(ObjectValue(closure))
	if err := m.call(closure, 0); err != nil {
		return err
	}
	return m.run()
}

// DefineNative registers a host function under name in the globals.
func (m *Machine) DefineNative(name string, fn NativeFn) {
	str := m.Intern(name)
	m.push(ObjectValue(str))
	native := m.newNative(name, fn)
	m.push(ObjectValue(native))
	m.globals.set(str, m.peek(0))
	m.pop()
	m.pop()
}

// Push pushes v on the value stack; part of the embedding surface for
// natives.
func (m *Machine) Push(v Value) { m.push(v) }

// Pop pops and returns the top of the value stack.
func (m *Machine) Pop() Value { return m.pop() }

func (m *Machine) push(v Value) {
	m.stack[m.sp] = v
	m.sp++
}

func (m *Machine) pop() Value {
	m.sp--
	return m.stack[m.sp]
}

func (m *Machine) peek(n int) Value { return m.stack[m.sp-1-n] }

// loadFunction converts a compiled function to its runtime form,
// interning string constants and recursing into nested functions. Every
// object is pinned on the stack before the next allocation so a
// collection triggered mid-conversion cannot reclaim it.
func (m *Machine) loadFunction(cfn *compiler.Function) *Function {
	var name *String
	if cfn.Name != "" {
		name = m.Intern(cfn.Name)
		m.push(ObjectValue(name))
	}

	fn := &Function{
		name:         name,
		arity:        cfn.Arity,
		upvalueCount: cfn.UpvalueCount,
		kind:         cfn.Kind,
		code:         cfn.Chunk.Code,
		lines:        cfn.Chunk.Lines,
	}
	size := sizeFunction + len(fn.code) + 8*len(fn.lines) + sizeValue*len(cfn.Chunk.Constants)
	m.register(fn, size)
	if name != nil {
		m.pop()
	}

	m.push(ObjectValue(fn))
	fn.constants = make([]Value, 0, len(cfn.Chunk.Constants))
	for _, cst := range cfn.Chunk.Constants {
		switch cst := cst.(type) {
		case float64:
			fn.constants = append(fn.constants, NumberValue(cst))
		case string:
			fn.constants = append(fn.constants, ObjectValue(m.Intern(cst)))
		case *compiler.Function:
			sub := m.loadFunction(cst)
			fn.constants = append(fn.constants, ObjectValue(sub))
		default:
			panic(fmt.Sprintf("unexpected constant %T: %[1]v", cst))
		}
	}
	m.pop()
	return fn
}

// runtimeError formats the message, captures the stack trace and resets
// the machine stacks.
func (m *Machine) runtimeError(format string, args ...interface{}) error {
	e := &RuntimeError{Msg: fmt.Sprintf(format, args...)}
	for i := m.frameCount - 1; i >= 0; i-- {
		fr := &m.frames[i]
		fn := fr.closure.fn
		line := fn.lines[fr.ip-1]
		name := "script"
		if fn.name != nil {
			name = fn.name.s + "()"
		}
		e.Trace = append(e.Trace, fmt.Sprintf("[line %d] in %s", line, name))
	}

	m.sp = 0
	m.frameCount = 0
	m.openUpvalues = nil
	return e
}

func (m *Machine) call(closure *Closure, argc int) error {
	if argc != closure.fn.arity {
		return m.runtimeError("Expected %d arguments but got %d.", closure.fn.arity, argc)
	}
	if m.frameCount == FramesMax {
		return m.runtimeError("Stack overflow.")
	}
	fr := &m.frames[m.frameCount]
	m.frameCount++
	fr.closure = closure
	fr.ip = 0
	fr.slots = m.sp - argc - 1
	return nil
}

func (m *Machine) callValue(callee Value, argc int) error {
	switch obj := callee.AsObject().(type) {
	case *Closure:
		return m.call(obj, argc)

	case *BoundMethod:
		// the bound receiver takes slot 0 of the frame
		m.stack[m.sp-argc-1] = obj.receiver
		return m.call(obj.method, argc)

	case *Class:
		inst := m.newInstance(obj)
		m.stack[m.sp-argc-1] = ObjectValue(inst)
		if init, ok := obj.methods.get(m.initString); ok {
			return m.call(init.AsObject().(*Closure), argc)
		}
		if argc != 0 {
			return m.runtimeError("Expected 0 arguments but got %d.", argc)
		}
		return nil

	case *Native:
		args := m.stack[m.sp-argc : m.sp]
		result := obj.fn(args)
		m.sp -= argc + 1
		m.push(result)
		return nil
	}
	return m.runtimeError("Can only call functions and classes.")
}

func (m *Machine) invoke(name *String, argc int) error {
	receiver := m.peek(argc)
	inst, ok := receiver.AsObject().(*Instance)
	if !ok {
		return m.runtimeError("Only instances have methods.")
	}
	if v, ok := inst.fields.get(name); ok {
		// a field shadowing a method: a plain call of the field value
		m.stack[m.sp-argc-1] = v
		return m.callValue(v, argc)
	}
	return m.invokeFromClass(inst.class, name, argc)
}

func (m *Machine) invokeFromClass(class *Class, name *String, argc int) error {
	method, ok := class.methods.get(name)
	if !ok {
		return m.runtimeError("Undefined property '%s'.", name.s)
	}
	return m.call(method.AsObject().(*Closure), argc)
}

func (m *Machine) bindMethod(class *Class, name *String) error {
	method, ok := class.methods.get(name)
	if !ok {
		return m.runtimeError("Undefined property '%s'.", name.s)
	}
	bound := m.newBoundMethod(m.peek(0), method.AsObject().(*Closure))
	m.pop()
	m.push(ObjectValue(bound))
	return nil
}

// captureUpvalue returns the open upvalue for the stack slot, sharing an
// existing one when the slot is already captured. The open list is
// sorted strictly decreasing by slot with no duplicates.
func (m *Machine) captureUpvalue(slot int) *Upvalue {
	var prev *Upvalue
	uv := m.openUpvalues
	for uv != nil && uv.slot > slot {
		prev = uv
		uv = uv.next
	}
	if uv != nil && uv.slot == slot {
		return uv
	}

	created := m.newUpvalue(slot)
	created.next = uv
	if prev == nil {
		m.openUpvalues = created
	} else {
		prev.next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above the stack slot:
// the value moves inside the upvalue and location repoints at it.
func (m *Machine) closeUpvalues(last int) {
	for m.openUpvalues != nil && m.openUpvalues.slot >= last {
		uv := m.openUpvalues
		uv.closed = *uv.location
		uv.location = &uv.closed
		uv.slot = -1
		m.openUpvalues = uv.next
		uv.next = nil
	}
}

func (m *Machine) readByte(fr *callFrame) byte {
	b := fr.closure.fn.code[fr.ip]
	fr.ip++
	return b
}

func (m *Machine) readShort(fr *callFrame) int {
	hi := int(fr.closure.fn.code[fr.ip])
	lo := int(fr.closure.fn.code[fr.ip+1])
	fr.ip += 2
	return hi<<8 | lo
}

func (m *Machine) readConstant(fr *callFrame) Value {
	return fr.closure.fn.constants[m.readByte(fr)]
}

func (m *Machine) readStringConst(fr *callFrame) *String {
	return m.readConstant(fr).AsObject().(*String)
}

// run is the dispatch loop: it executes the current frame's code until
// the outermost frame returns or a runtime error unwinds the machine.
func (m *Machine) run() error {
	for {
		fr := &m.frames[m.frameCount-1]
		op := compiler.Opcode(m.readByte(fr))

		switch op {
		case compiler.CONSTANT:
			m.push(m.readConstant(fr))

		case compiler.NIL:
			m.push(Nil)
		case compiler.TRUE:
			m.push(True)
		case compiler.FALSE:
			m.push(False)
		case compiler.POP:
			m.pop()

		case compiler.GET_LOCAL:
			slot := int(m.readByte(fr))
			m.push(m.stack[fr.slots+slot])

		case compiler.SET_LOCAL:
			slot := int(m.readByte(fr))
			m.stack[fr.slots+slot] = m.peek(0)

		case compiler.GET_GLOBAL:
			name := m.readStringConst(fr)
			v, ok := m.globals.get(name)
			if !ok {
				return m.runtimeError("Undefined variable '%s'.", name.s)
			}
			m.push(v)

		case compiler.DEFINE_GLOBAL:
			name := m.readStringConst(fr)
			m.globals.set(name, m.peek(0))
			m.pop()

		case compiler.SET_GLOBAL:
			name := m.readStringConst(fr)
			if m.globals.set(name, m.peek(0)) {
				// assignment must not create: undo and report
				m.globals.delete(name)
				return m.runtimeError("Undefined variable '%s'.", name.s)
			}

		case compiler.GET_UPVALUE:
			slot := int(m.readByte(fr))
			m.push(*fr.closure.upvalues[slot].location)

		case compiler.SET_UPVALUE:
			slot := int(m.readByte(fr))
			*fr.closure.upvalues[slot].location = m.peek(0)

		case compiler.GET_PROPERTY:
			inst, ok := m.peek(0).AsObject().(*Instance)
			if !ok {
				return m.runtimeError("Only instances have properties.")
			}
			name := m.readStringConst(fr)
			if v, ok := inst.fields.get(name); ok {
				m.pop()
				m.push(v)
				break
			}
			if err := m.bindMethod(inst.class, name); err != nil {
				return err
			}

		case compiler.SET_PROPERTY:
			inst, ok := m.peek(1).AsObject().(*Instance)
			if !ok {
				return m.runtimeError("Only instances have fields.")
			}
			name := m.readStringConst(fr)
			inst.fields.set(name, m.peek(0))
			value := m.pop()
			m.pop()
			m.push(value)

		case compiler.GET_SUPER:
			name := m.readStringConst(fr)
			superclass := m.pop().AsObject().(*Class)
			if err := m.bindMethod(superclass, name); err != nil {
				return err
			}

		case compiler.GET_INDEX:
			if err := m.getIndex(); err != nil {
				return err
			}

		case compiler.SET_INDEX:
			if err := m.setIndex(); err != nil {
				return err
			}

		case compiler.EQUAL:
			y, x := m.pop(), m.pop()
			m.push(BoolValue(Equal(x, y)))

		case compiler.GREATER:
			if !m.peek(0).IsNumber() || !m.peek(1).IsNumber() {
				return m.runtimeError("Operands must be numbers.")
			}
			y, x := m.pop(), m.pop()
			m.push(BoolValue(x.AsNumber() > y.AsNumber()))

		case compiler.LESS:
			if !m.peek(0).IsNumber() || !m.peek(1).IsNumber() {
				return m.runtimeError("Operands must be numbers.")
			}
			y, x := m.pop(), m.pop()
			m.push(BoolValue(x.AsNumber() < y.AsNumber()))

		case compiler.ADD:
			if err := m.add(); err != nil {
				return err
			}

		case compiler.SUB, compiler.MUL, compiler.DIV:
			if !m.peek(0).IsNumber() || !m.peek(1).IsNumber() {
				return m.runtimeError("Operands must be numbers.")
			}
			y, x := m.pop().AsNumber(), m.pop().AsNumber()
			switch op {
			case compiler.SUB:
				m.push(NumberValue(x - y))
			case compiler.MUL:
				m.push(NumberValue(x * y))
			case compiler.DIV:
				m.push(NumberValue(x / y))
			}

		case compiler.NOT:
			m.push(BoolValue(!Truth(m.pop())))

		case compiler.NEGATE:
			if !m.peek(0).IsNumber() {
				return m.runtimeError("Operand must be a number.")
			}
			m.push(NumberValue(-m.pop().AsNumber()))

		case compiler.PRINT:
			v := m.pop()
			if !m.cfg.SuppressPrint {
				fmt.Fprintln(m.stdout(), v)
			}

		case compiler.JUMP:
			off := m.readShort(fr)
			fr.ip += off

		case compiler.JUMP_IF_FALSE:
			off := m.readShort(fr)
			if !Truth(m.peek(0)) {
				fr.ip += off
			}

		case compiler.LOOP:
			off := m.readShort(fr)
			fr.ip -= off

		case compiler.CALL:
			argc := int(m.readByte(fr))
			if err := m.callValue(m.peek(argc), argc); err != nil {
				return err
			}

		case compiler.INVOKE:
			name := m.readStringConst(fr)
			argc := int(m.readByte(fr))
			if err := m.invoke(name, argc); err != nil {
				return err
			}

		case compiler.SUPER_INVOKE:
			name := m.readStringConst(fr)
			argc := int(m.readByte(fr))
			superclass := m.pop().AsObject().(*Class)
			if err := m.invokeFromClass(superclass, name, argc); err != nil {
				return err
			}

		case compiler.CLOSURE:
			fn := m.readConstant(fr).AsObject().(*Function)
			closure := m.newClosure(fn)
			m.push(ObjectValue(closure))
			for i := 0; i < fn.upvalueCount; i++ {
				isLocal := m.readByte(fr)
				index := int(m.readByte(fr))
				if isLocal == 1 {
					closure.upvalues[i] = m.captureUpvalue(fr.slots + index)
				} else {
					closure.upvalues[i] = fr.closure.upvalues[index]
				}
			}

		case compiler.CLOSE_UPVALUE:
			m.closeUpvalues(m.sp - 1)
			m.pop()

		case compiler.RETURN:
			result := m.pop()
			m.closeUpvalues(fr.slots)
			m.frameCount--
			m.sp = fr.slots
			if m.frameCount == 0 {
				return nil
			}
			m.push(result)

		case compiler.CLASS:
			name := m.readStringConst(fr)
			m.push(ObjectValue(m.newClass(name)))

		case compiler.INHERIT:
			superclass, ok := m.peek(1).AsObject().(*Class)
			if !ok {
				return m.runtimeError("Superclass must be a class.")
			}
			subclass := m.peek(0).AsObject().(*Class)
			subclass.methods.addAll(superclass.methods)
			m.pop()

		case compiler.METHOD:
			name := m.readStringConst(fr)
			method := m.peek(0)
			class := m.peek(1).AsObject().(*Class)
			class.methods.set(name, method)
			m.pop()

		case compiler.ARRAY_EMPTY:
			m.push(ObjectValue(m.NewArray(nil)))

		case compiler.ARRAY_PUSH:
			n := int(m.pop().AsNumber())
			arr, ok := m.peek(n).AsObject().(*Array)
			if !ok {
				return m.runtimeError("internal error: ARRAY_PUSH without an array")
			}
			// the values sit bottom-to-top in source order already
			m.ArrayAppend(arr, m.stack[m.sp-n:m.sp]...)
			m.sp -= n

		case compiler.ARRAY_RANGE:
			if err := m.arrayRange(); err != nil {
				return err
			}

		case compiler.BREAK, compiler.CONTINUE, compiler.CASE_FALLTHROUGH:
			return m.runtimeError("internal error: unpatched %s opcode reached the machine", op)

		default:
			panic(fmt.Sprintf("unimplemented opcode: %s", op))
		}
	}
}

// add implements ADD: numeric addition when both operands are numbers,
// string concatenation when either operand is a string (the other is
// stringified), a runtime error otherwise.
func (m *Machine) add() error {
	x, y := m.peek(1), m.peek(0)
	switch {
	case x.IsNumber() && y.IsNumber():
		m.pop()
		m.pop()
		m.push(NumberValue(x.AsNumber() + y.AsNumber()))
		return nil

	case isString(x) || isString(y):
		// concatenate while both operands are still rooted on the stack
		s := m.Intern(stringify(x) + stringify(y))
		m.pop()
		m.pop()
		m.push(ObjectValue(s))
		return nil
	}
	return m.runtimeError("Operands must be two numbers or two strings.")
}

func isString(v Value) bool {
	_, ok := v.AsString()
	return ok
}

func (m *Machine) getIndex() error {
	key, container := m.pop(), m.pop()
	switch obj := container.AsObject().(type) {
	case *Array:
		idx, err := m.arrayIndex(obj, key)
		if err != nil {
			return err
		}
		m.push(obj.elems[idx])
		return nil

	case *Table:
		str, ok := key.AsString()
		if !ok {
			return m.runtimeError("Table key must be a string.")
		}
		v, _ := obj.entries.get(str) // missing keys read as nil
		m.push(v)
		return nil
	}
	return m.runtimeError("Only arrays and tables can be indexed.")
}

func (m *Machine) setIndex() error {
	value, key, container := m.pop(), m.pop(), m.pop()
	switch obj := container.AsObject().(type) {
	case *Array:
		idx, err := m.arrayIndex(obj, key)
		if err != nil {
			return err
		}
		obj.elems[idx] = value
		m.push(value)
		return nil

	case *Table:
		str, ok := key.AsString()
		if !ok {
			return m.runtimeError("Table key must be a string.")
		}
		obj.entries.set(str, value)
		m.push(value)
		return nil
	}
	return m.runtimeError("Only arrays and tables can be indexed.")
}

func (m *Machine) arrayIndex(a *Array, key Value) (int, error) {
	if !key.IsNumber() {
		return 0, m.runtimeError("Array index must be a number.")
	}
	f := key.AsNumber()
	idx := int(f)
	if float64(idx) != f {
		return 0, m.runtimeError("Array index must be an integer.")
	}
	if idx < 0 || idx >= len(a.elems) {
		return 0, m.runtimeError("Array index out of bounds.")
	}
	return idx, nil
}

// arrayRange implements a[start:end] slicing: the bounds are numbers or
// nil meaning "from the start" / "to the end", validated as
// 0 <= start <= end <= len, and the result is a new array copy.
func (m *Machine) arrayRange() error {
	endV, startV := m.pop(), m.pop()
	arr, ok := m.peek(0).AsObject().(*Array)
	if !ok {
		return m.runtimeError("Can only slice arrays.")
	}

	start, err := m.sliceBound(startV, 0)
	if err != nil {
		return err
	}
	end, err := m.sliceBound(endV, len(arr.elems))
	if err != nil {
		return err
	}
	if start < 0 || start > end || end > len(arr.elems) {
		return m.runtimeError("Array slice out of range.")
	}

	elems := append([]Value(nil), arr.elems[start:end]...)
	slice := m.NewArray(elems)
	m.stack[m.sp-1] = ObjectValue(slice)
	return nil
}

func (m *Machine) sliceBound(v Value, dflt int) (int, error) {
	if v.IsNil() {
		return dflt, nil
	}
	if !v.IsNumber() {
		return 0, m.runtimeError("Array slice bound must be a number.")
	}
	f := v.AsNumber()
	idx := int(f)
	if float64(idx) != f {
		return 0, m.runtimeError("Array slice bound must be an integer.")
	}
	return idx, nil
}
