package machine

import (
	"strings"

	"github.com/mna/calamus/lang/compiler"
)

// Object is the interface implemented by every heap-managed value. All
// implementations embed objHeader, which threads the object into the
// machine's allocation list and carries the collector's mark bit.
type Object interface {
	// Type returns a short string describing the object's type.
	Type() string
	// String returns the display representation of the object.
	String() string

	header() *objHeader
}

// objHeader is embedded in every heap object.
type objHeader struct {
	marked bool
	size   int // accounted allocation size, subtracted on sweep
	next   Object
}

func (h *objHeader) header() *objHeader { return h }

// Rough per-object allocation sizes for the collector's heap
// accounting; variable-length payloads add to these at allocation time.
const (
	sizeString      = 40
	sizeFunction    = 96
	sizeNative      = 32
	sizeClosure     = 40
	sizeUpvalue     = 56
	sizeClass       = 48
	sizeInstance    = 48
	sizeBoundMethod = 48
	sizeTable       = 48
	sizeArray       = 40
	sizeError       = 40
	sizeValue       = 24
	sizeEntry       = 32
)

// A String is an interned, immutable string with its FNV-1a hash
// computed once at creation. Two byte-equal strings are always the same
// object, so string equality is pointer equality.
type String struct {
	objHeader
	hash uint32
	s    string
}

func (s *String) Type() string   { return "string" }
func (s *String) String() string { return s.s }

// Len returns the byte length of the string.
func (s *String) Len() int { return len(s.s) }

// Value returns the Go string content.
func (s *String) Value() string { return s.s }

func hashString(s string) uint32 {
	// FNV-1a
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// A Function is the runtime form of a compiled function: its bytecode,
// line table and constant pool converted to runtime values. It is only
// callable once wrapped in a Closure.
type Function struct {
	objHeader
	arity        int
	upvalueCount int
	kind         compiler.FuncKind
	name         *String // nil for the top-level script
	code         []byte
	lines        []int
	constants    []Value
}

func (f *Function) Type() string { return "function" }
func (f *Function) String() string {
	if f.name == nil {
		return "<script>"
	}
	return "<fn " + f.name.s + ">"
}

// NativeFn is the host-function contract: it receives the argument
// values, which live on the machine stack and are therefore reachable by
// the collector, and returns a single result value. A native must not
// suspend or re-enter the machine; it may allocate through the machine's
// constructors, which may trigger a collection.
type NativeFn func(args []Value) Value

// A Native wraps a host-provided function registered in the globals.
type Native struct {
	objHeader
	name string
	fn   NativeFn
}

func (n *Native) Type() string   { return "native" }
func (n *Native) String() string { return "<native fn>" }

// A Closure pairs a function with the storage for the variables it
// captured from enclosing scopes.
type Closure struct {
	objHeader
	fn       *Function
	upvalues []*Upvalue
}

func (c *Closure) Type() string   { return "closure" }
func (c *Closure) String() string { return c.fn.String() }

// An Upvalue is a captured variable. While the variable still lives on
// the value stack the upvalue is open: location points at the stack slot
// and slot records its index, keeping the machine's open-upvalue list
// sorted. When the slot is about to leave the stack the value moves into
// closed and location is repointed at it, so reads and writes go through
// the same code path either way.
type Upvalue struct {
	objHeader
	location *Value
	closed   Value
	slot     int // stack slot while open, -1 once closed
	next     *Upvalue
}

func (u *Upvalue) Type() string   { return "upvalue" }
func (u *Upvalue) String() string { return "upvalue" }

// A Class holds the methods shared by its instances. The method table
// maps interned names to closures only.
type Class struct {
	objHeader
	name    *String
	methods *table
}

func (c *Class) Type() string   { return "class" }
func (c *Class) String() string { return c.name.s }

// An Instance holds per-object fields keyed by interned names.
type Instance struct {
	objHeader
	class  *Class
	fields *table
}

func (i *Instance) Type() string   { return "instance" }
func (i *Instance) String() string { return i.class.name.s + " instance" }

// A BoundMethod pairs a receiver with a method closure, so the method
// can be passed around and called later with this bound.
type BoundMethod struct {
	objHeader
	receiver Value
	method   *Closure
}

func (b *BoundMethod) Type() string   { return "bound method" }
func (b *BoundMethod) String() string { return b.method.String() }

// A Table is a mutable string-keyed map. Missing keys read as nil.
type Table struct {
	objHeader
	entries *table
}

func (t *Table) Type() string   { return "table" }
func (t *Table) String() string { return "<table>" }

// An Array is a dynamic vector of values with amortized growth.
type Array struct {
	objHeader
	elems []Value
}

func (a *Array) Type() string { return "array" }
func (a *Array) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range a.elems {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(v.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.elems) }

// At returns the element at index i, which must be in range.
func (a *Array) At(i int) Value { return a.elems[i] }

// An Error is the value returned by natives to report failure: a
// message and an optional enclosing cause. The machine does not treat
// Error values specially; testing for them is the caller's choice.
type Error struct {
	objHeader
	msg   *String
	cause *Error
}

func (e *Error) Type() string   { return "error" }
func (e *Error) String() string { return "<error: " + e.msg.s + ">" }

// Message returns the error message.
func (e *Error) Message() string { return e.msg.s }

// Cause returns the enclosing error, or nil.
func (e *Error) Cause() *Error { return e.cause }
