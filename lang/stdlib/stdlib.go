// Package stdlib provides the host bindings available to every program:
// math, string, array and system helpers, registered in the machine's
// globals through the native-function contract. Natives validate their
// arguments and return an Error value on misuse; they never unwind the
// machine.
package stdlib

import (
	"math"
	"strings"
	"time"

	"github.com/mna/calamus/lang/compiler"
	"github.com/mna/calamus/lang/machine"
	xmaps "golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Register installs every standard binding in m's globals.
func Register(m *machine.Machine) {
	natives := map[string]machine.NativeFn{
		// math
		"sqrt":  math1(m, "sqrt", math.Sqrt),
		"floor": math1(m, "floor", math.Floor),
		"ceil":  math1(m, "ceil", math.Ceil),
		"abs":   math1(m, "abs", math.Abs),
		"pow":   math2(m, "pow", math.Pow),
		"min":   math2(m, "min", math.Min),
		"max":   math2(m, "max", math.Max),

		// strings
		"upper":  str1(m, "upper", strings.ToUpper),
		"lower":  str1(m, "lower", strings.ToLower),
		"substr": substr(m),
		"find":   find(m),
		"chr":    chr(m),
		"ord":    ord(m),

		// arrays
		"len":      length(m),
		"push":     push(m),
		"pop":      pop(m),
		"contains": contains(m),

		// system
		"clock":   clock(),
		"version": version(m),
	}

	// deterministic registration order
	names := xmaps.Keys(natives)
	slices.Sort(names)
	for _, name := range names {
		m.DefineNative(name, natives[name])
	}
}

func argErr(m *machine.Machine, msg string) machine.Value {
	return m.NewError(msg, nil)
}

func math1(m *machine.Machine, name string, fn func(float64) float64) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		if len(args) != 1 || !args[0].IsNumber() {
			return argErr(m, name+": expected one number argument")
		}
		return machine.NumberValue(fn(args[0].AsNumber()))
	}
}

func math2(m *machine.Machine, name string, fn func(float64, float64) float64) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		if len(args) != 2 || !args[0].IsNumber() || !args[1].IsNumber() {
			return argErr(m, name+": expected two number arguments")
		}
		return machine.NumberValue(fn(args[0].AsNumber(), args[1].AsNumber()))
	}
}

func str1(m *machine.Machine, name string, fn func(string) string) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		if len(args) != 1 {
			return argErr(m, name+": expected one string argument")
		}
		s, ok := args[0].AsString()
		if !ok {
			return argErr(m, name+": expected one string argument")
		}
		return m.NewString(fn(s.Value()))
	}
}

// substr(s, start, end) returns s[start:end], bounds-checked.
func substr(m *machine.Machine) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		if len(args) != 3 {
			return argErr(m, "substr: expected a string and two numbers")
		}
		s, ok := args[0].AsString()
		if !ok || !args[1].IsNumber() || !args[2].IsNumber() {
			return argErr(m, "substr: expected a string and two numbers")
		}
		start, end := int(args[1].AsNumber()), int(args[2].AsNumber())
		if start < 0 || start > end || end > s.Len() {
			return argErr(m, "substr: range out of bounds")
		}
		return m.NewString(s.Value()[start:end])
	}
}

// find(s, sub) returns the byte index of sub in s, or -1.
func find(m *machine.Machine) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		if len(args) != 2 {
			return argErr(m, "find: expected two string arguments")
		}
		s, ok1 := args[0].AsString()
		sub, ok2 := args[1].AsString()
		if !ok1 || !ok2 {
			return argErr(m, "find: expected two string arguments")
		}
		return machine.NumberValue(float64(strings.Index(s.Value(), sub.Value())))
	}
}

// chr(n) returns the one-byte string for code n.
func chr(m *machine.Machine) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		if len(args) != 1 || !args[0].IsNumber() {
			return argErr(m, "chr: expected one number argument")
		}
		n := int(args[0].AsNumber())
		if n < 0 || n > 255 {
			return argErr(m, "chr: code out of range")
		}
		return m.NewString(string([]byte{byte(n)}))
	}
}

// ord(s) returns the code of the first byte of s.
func ord(m *machine.Machine) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		if len(args) != 1 {
			return argErr(m, "ord: expected one string argument")
		}
		s, ok := args[0].AsString()
		if !ok || s.Len() == 0 {
			return argErr(m, "ord: expected one non-empty string argument")
		}
		return machine.NumberValue(float64(s.Value()[0]))
	}
}

// len(x) returns the length of a string or array.
func length(m *machine.Machine) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		if len(args) != 1 {
			return argErr(m, "len: expected one argument")
		}
		switch o := args[0].AsObject().(type) {
		case *machine.String:
			return machine.NumberValue(float64(o.Len()))
		case *machine.Array:
			return machine.NumberValue(float64(o.Len()))
		}
		return argErr(m, "len: expected a string or an array")
	}
}

// push(arr, v) appends v and returns the array.
func push(m *machine.Machine) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		if len(args) != 2 {
			return argErr(m, "push: expected an array and a value")
		}
		arr, ok := args[0].AsObject().(*machine.Array)
		if !ok {
			return argErr(m, "push: expected an array and a value")
		}
		m.ArrayAppend(arr, args[1])
		return args[0]
	}
}

// pop(arr) removes and returns the last element.
func pop(m *machine.Machine) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		if len(args) != 1 {
			return argErr(m, "pop: expected one array argument")
		}
		arr, ok := args[0].AsObject().(*machine.Array)
		if !ok {
			return argErr(m, "pop: expected one array argument")
		}
		v, ok := m.ArrayPop(arr)
		if !ok {
			return argErr(m, "pop: array is empty")
		}
		return v
	}
}

// contains(arr, v) reports whether v equals any element.
func contains(m *machine.Machine) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		if len(args) != 2 {
			return argErr(m, "contains: expected an array and a value")
		}
		arr, ok := args[0].AsObject().(*machine.Array)
		if !ok {
			return argErr(m, "contains: expected an array and a value")
		}
		for i := 0; i < arr.Len(); i++ {
			if machine.Equal(arr.At(i), args[1]) {
				return machine.True
			}
		}
		return machine.False
	}
}

// clock() returns elapsed seconds since the natives were registered.
func clock() machine.NativeFn {
	start := time.Now()
	return func(args []machine.Value) machine.Value {
		return machine.NumberValue(time.Since(start).Seconds())
	}
}

// version() returns the tool version string.
func version(m *machine.Machine) machine.NativeFn {
	return func(args []machine.Value) machine.Value {
		return m.NewString(compiler.ToolVersion)
	}
}
