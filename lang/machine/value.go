// Package machine implements the virtual machine that executes compiled
// bytecode: the value and object model, the interned-string table, the
// heap with its tracing mark-sweep collector, the dispatch loop and the
// native-function ABI.
package machine

import "strconv"

type valueKind uint8

const (
	kindNil valueKind = iota
	kindBool
	kindNumber
	kindObject
)

// A Value is the tagged union manipulated by the machine: nil, a
// boolean, a 64-bit float number, or a reference to a heap object.
// Numbers and booleans are immediate, they never allocate.
type Value struct {
	kind valueKind
	num  float64
	obj  Object
}

// The singleton immediate values.
var (
	Nil   = Value{kind: kindNil}
	True  = Value{kind: kindBool, num: 1}
	False = Value{kind: kindBool}
)

// BoolValue returns the boolean value for b.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// NumberValue returns the number value for f.
func NumberValue(f float64) Value { return Value{kind: kindNumber, num: f} }

// ObjectValue returns a value referencing o.
func ObjectValue(o Object) Value { return Value{kind: kindObject, obj: o} }

func (v Value) IsNil() bool    { return v.kind == kindNil }
func (v Value) IsBool() bool   { return v.kind == kindBool }
func (v Value) IsNumber() bool { return v.kind == kindNumber }
func (v Value) IsObject() bool { return v.kind == kindObject }

// AsBool returns the boolean payload; only meaningful when IsBool.
func (v Value) AsBool() bool { return v.num != 0 }

// AsNumber returns the number payload; only meaningful when IsNumber.
func (v Value) AsNumber() float64 { return v.num }

// AsObject returns the object payload, or nil for non-object values.
func (v Value) AsObject() Object {
	if v.kind != kindObject {
		return nil
	}
	return v.obj
}

// AsString returns the string object payload, if any.
func (v Value) AsString() (*String, bool) {
	s, ok := v.obj.(*String)
	return s, ok && v.kind == kindObject
}

// Truth reports the truthiness of v: nil and false are falsy, everything
// else is truthy.
func Truth(v Value) bool {
	switch v.kind {
	case kindNil:
		return false
	case kindBool:
		return v.AsBool()
	}
	return true
}

// Equal reports value equality: the types must match and the payloads
// must match. Numbers compare by IEEE-754 equality; strings and other
// objects compare by pointer identity, which is consistent for strings
// because they are interned.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case kindNil:
		return true
	case kindBool:
		return a.AsBool() == b.AsBool()
	case kindNumber:
		return a.num == b.num
	}
	return a.obj == b.obj
}

// String renders the value the way the print statement displays it.
func (v Value) String() string {
	switch v.kind {
	case kindNil:
		return "nil"
	case kindBool:
		if v.AsBool() {
			return "true"
		}
		return "false"
	case kindNumber:
		return formatNumber(v.num)
	}
	return v.obj.String()
}

// stringify converts a value for string concatenation: string content,
// shortest-float numbers, the words true/false/nil, and <object> for
// anything else on the heap.
func stringify(v Value) string {
	switch v.kind {
	case kindNil, kindBool, kindNumber:
		return v.String()
	}
	if s, ok := v.obj.(*String); ok {
		return s.s
	}
	return "<object>"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
