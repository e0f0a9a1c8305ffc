package machine

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runSource(t *testing.T, cfg Config, src string) (*Machine, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	m := New(cfg)
	m.Stdout = &out
	m.Stderr = &errOut
	err := m.Interpret(src)
	return m, out.String(), err
}

func runOK(t *testing.T, src string) string {
	t.Helper()
	_, out, err := runSource(t, Config{}, src)
	require.NoError(t, err)
	return out
}

func lines(out string) []string {
	out = strings.TrimSuffix(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestClosuresCloseOverVariables(t *testing.T) {
	out := runOK(t, `
fun makeCounter() { var i = 0; fun c() { i = i + 1; print i; } return c; }
var c = makeCounter(); c(); c(); c();
`)
	assert.Equal(t, []string{"1", "2", "3"}, lines(out))
}

func TestMethodDispatchAndInitializerReturn(t *testing.T) {
	out := runOK(t, `
class A { init(x) { this.x = x; } get() { return this.x; } }
var a = A(42); print a.get();
`)
	assert.Equal(t, []string{"42"}, lines(out))
}

func TestSuperclassMethodViaSuper(t *testing.T) {
	out := runOK(t, `
class P { greet() { print "P"; } }
class C < P { greet() { super.greet(); print "C"; } }
C().greet();
`)
	assert.Equal(t, []string{"P", "C"}, lines(out))
}

func TestBreakExitsInnermostLoopOnly(t *testing.T) {
	out := runOK(t, `
for (var i = 0; i < 3; i = i + 1) { for (var j = 0; j < 3; j = j + 1) { if (j == 1) break; print j; } print i; }
`)
	assert.Equal(t, []string{"0", "0", "0", "1", "0", "2"}, lines(out))
}

func TestDeferRunsAtReturnFIFO(t *testing.T) {
	out := runOK(t, `
fun f() { defer { print "a"; } defer { print "b"; } print "body"; }
f();
`)
	assert.Equal(t, []string{"body", "a", "b"}, lines(out))
}

func TestMixedAddStringifies(t *testing.T) {
	out := runOK(t, `print "n=" + 3; print 1 + 2;`)
	assert.Equal(t, []string{"n=3", "3"}, lines(out))
}

func TestDeferRunsOnExplicitReturn(t *testing.T) {
	out := runOK(t, `
fun f(x) {
  defer { print "cleanup"; }
  if (x) { return "early"; }
  return "late";
}
print f(true);
print f(false);
`)
	assert.Equal(t, []string{"cleanup", "early", "cleanup", "late"}, lines(out))
}

func TestDeferInNestedBlockFires(t *testing.T) {
	out := runOK(t, `
fun f() {
  var a = "x";
  { defer { print "inner"; } }
  print a;
}
f();
`)
	assert.Equal(t, []string{"x", "inner"}, lines(out))
}

func TestDeferAtTopLevel(t *testing.T) {
	out := runOK(t, `defer { print "bye"; } print "hi";`)
	assert.Equal(t, []string{"hi", "bye"}, lines(out))
}

func TestContinueSkipsIteration(t *testing.T) {
	out := runOK(t, `
for (var i = 0; i < 5; i = i + 1) { if (i == 2) continue; print i; }
`)
	assert.Equal(t, []string{"0", "1", "3", "4"}, lines(out))
}

func TestWhileContinueAndBreak(t *testing.T) {
	out := runOK(t, `
var i = 0;
while (true) {
  i = i + 1;
  if (i == 2) continue;
  if (i > 4) break;
  print i;
}
`)
	assert.Equal(t, []string{"1", "3", "4"}, lines(out))
}

func TestSwitchDispatch(t *testing.T) {
	out := runOK(t, `
fun pick(x) {
  switch (x) {
  case 1: print "one";
  case 2: print "two";
  default: print "many";
  }
}
pick(1); pick(2); pick(7);
`)
	assert.Equal(t, []string{"one", "two", "many"}, lines(out))
}

func TestSwitchFallthroughOnEmptyCase(t *testing.T) {
	out := runOK(t, `
fun pick(x) {
  switch (x) {
  case 1:
  case 2: print "one or two";
  default: print "other";
  }
}
pick(1); pick(2); pick(3);
`)
	assert.Equal(t, []string{"one or two", "one or two", "other"}, lines(out))
}

func TestSwitchBreakInCase(t *testing.T) {
	out := runOK(t, `
switch (1) {
case 1:
  print "before";
  break;
  print "after";
default: print "nope";
}
`)
	assert.Equal(t, []string{"before"}, lines(out))
}

func TestSwitchOnStrings(t *testing.T) {
	out := runOK(t, `
var s = "b";
switch (s) {
case "a": print 1;
case "b": print 2;
}
`)
	assert.Equal(t, []string{"2"}, lines(out))
}

func TestUpvalueSharingAndClosing(t *testing.T) {
	out := runOK(t, `
var set; var get;
{
  var x = "init";
  fun s(v) { x = v; }
  fun g() { return x; }
  set = s; get = g;
}
print get();
set("changed");
print get();
`)
	assert.Equal(t, []string{"init", "changed"}, lines(out))
}

func TestClosedUpvalueKeepsValueAtClose(t *testing.T) {
	out := runOK(t, `
var fns = [nil, nil, nil];
for (var i = 0; i < 3; i = i + 1) {
  var j = i;
  fun f() { print j; }
  fns[i] = f;
}
fns[0](); fns[1](); fns[2]();
`)
	assert.Equal(t, []string{"0", "1", "2"}, lines(out))
}

func TestArrays(t *testing.T) {
	out := runOK(t, `
var a = [1, "two", true];
print a[0];
print a[1];
a[2] = nil;
print a[2];
print a;
`)
	assert.Equal(t, []string{"1", "two", "nil", "[1, two, nil]"}, lines(out))
}

func TestArraySlicing(t *testing.T) {
	out := runOK(t, `
var a = [0, 1, 2, 3, 4];
print a[1:3];
print a[:2];
print a[3:];
print a[:];
`)
	assert.Equal(t, []string{"[1, 2]", "[0, 1]", "[3, 4]", "[0, 1, 2, 3, 4]"}, lines(out))
}

func TestLogicalOperators(t *testing.T) {
	out := runOK(t, `
print true and "yes";
print false and "yes";
print nil or "fallback";
print 1 or 2;
`)
	assert.Equal(t, []string{"yes", "false", "fallback", "1"}, lines(out))
}

func TestNumberFormatting(t *testing.T) {
	out := runOK(t, `
print 1;
print 1.5;
print 2 / 4;
print 10000000;
print 0 - 2.5;
`)
	assert.Equal(t, []string{"1", "1.5", "0.5", "1e+07", "-2.5"}, lines(out))
}

func TestFieldsShadowMethods(t *testing.T) {
	out := runOK(t, `
fun free() { print "field wins"; }
class A { m() { print "method"; } }
var a = A();
a.m();
a.m = free;
a.m();
`)
	assert.Equal(t, []string{"method", "field wins"}, lines(out))
}

func TestBoundMethodCarriesReceiver(t *testing.T) {
	out := runOK(t, `
class A { init(n) { this.n = n; } show() { print this.n; } }
var bound = A(7).show;
bound();
`)
	assert.Equal(t, []string{"7"}, lines(out))
}

func TestInheritanceChain(t *testing.T) {
	out := runOK(t, `
class A { a() { return "a"; } }
class B < A { b() { return this.a() + "b"; } }
class C < B { c() { return this.b() + "c"; } }
print C().c();
`)
	assert.Equal(t, []string{"abc"}, lines(out))
}

func TestMultilineString(t *testing.T) {
	out := runOK(t, "print \"l1\nl2\";")
	assert.Equal(t, []string{"l1", "l2"}, lines(out))
}

func TestRuntimeErrors(t *testing.T) {
	cases := []struct {
		name, src, want string
	}{
		{"add-mismatch", "print 1 + true;", "Operands must be two numbers or two strings."},
		{"sub-mismatch", `print "a" - 1;`, "Operands must be numbers."},
		{"negate", "print -true;", "Operand must be a number."},
		{"compare", `print 1 < "a";`, "Operands must be numbers."},
		{"undefined-var", "print missing;", "Undefined variable 'missing'."},
		{"assign-undefined", "missing = 1;", "Undefined variable 'missing'."},
		{"call-noncallable", "var x = 1; x();", "Can only call functions and classes."},
		{"arity", "fun f(a, b) {} f(1);", "Expected 2 arguments but got 1."},
		{"class-arity", "class A {} A(1);", "Expected 0 arguments but got 1."},
		{"undefined-prop", "class A {} print A().nope;", "Undefined property 'nope'."},
		{"prop-nonInstance", "print true.x;", "Only instances have properties."},
		{"field-nonInstance", "1 .x = 2;", "Only instances have fields."},
		{"method-nonInstance", `"s".m();`, "Only instances have methods."},
		{"bad-superclass", "var NotAClass = 1; class A < NotAClass {}", "Superclass must be a class."},
		{"index-nonIndexable", "print 1[0];", "Only arrays and tables can be indexed."},
		{"index-bounds", "var a = [1]; print a[1];", "Array index out of bounds."},
		{"index-noninteger", "var a = [1]; print a[0.5];", "Array index must be an integer."},
		{"slice-range", "var a = [1, 2]; print a[1:5];", "Array slice out of range."},
		{"slice-nonarray", "print 1[0:1];", "Can only slice arrays."},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, _, err := runSource(t, Config{}, c.src)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRuntime)
			assert.Contains(t, err.Error(), c.want)
		})
	}
}

func TestStackOverflow(t *testing.T) {
	_, _, err := runSource(t, Config{}, `fun f() { f(); } f();`)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRuntime)
	assert.Contains(t, err.Error(), "Stack overflow.")
}

func TestFrameDepthBoundary(t *testing.T) {
	// the script frame occupies one slot, so 63 more nested calls fit
	// and the next one overflows
	src := `
var depth = 0;
fun rec(n) { depth = n; if (n > 1) { rec(n - 1); } }
rec(63);
print depth;
`
	out := runOK(t, src)
	assert.Equal(t, []string{"1"}, lines(out))

	_, _, err := runSource(t, Config{}, `
fun rec(n) { if (n > 1) { rec(n - 1); } }
rec(64);
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Stack overflow.")
}

func TestRuntimeErrorTrace(t *testing.T) {
	_, _, err := runSource(t, Config{}, `
fun inner() { return 1 + nil; }
fun outer() { return inner(); }
outer();
`)
	require.Error(t, err)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	require.Len(t, re.Trace, 3)
	assert.Equal(t, "[line 2] in inner()", re.Trace[0])
	assert.Equal(t, "[line 3] in outer()", re.Trace[1])
	assert.Equal(t, "[line 4] in script", re.Trace[2])
}

func TestMachineStateResetAfterRuntimeError(t *testing.T) {
	m, _, err := runSource(t, Config{}, "print 1 + nil;")
	require.Error(t, err)
	assert.Zero(t, m.sp)
	assert.Zero(t, m.frameCount)
	assert.Nil(t, m.openUpvalues)
}

func TestCompileErrorKind(t *testing.T) {
	_, _, err := runSource(t, Config{}, "var 1;")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompile)
	assert.NotErrorIs(t, err, ErrRuntime)
	assert.Contains(t, err.Error(), "[line 1] Error at '1': Expect variable name.")
}

func TestGlobalsPersistAcrossInterprets(t *testing.T) {
	var out bytes.Buffer
	m := New(Config{})
	m.Stdout = &out
	require.NoError(t, m.Interpret("var x = 41;"))
	require.NoError(t, m.Interpret("x = x + 1;"))
	require.NoError(t, m.Interpret("print x;"))
	assert.Equal(t, []string{"42"}, lines(out.String()))
}

func TestSuppressPrint(t *testing.T) {
	_, out, err := runSource(t, Config{SuppressPrint: true}, `print "quiet";`)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNativeFunctions(t *testing.T) {
	var out bytes.Buffer
	m := New(Config{})
	m.Stdout = &out
	m.DefineNative("double", func(args []Value) Value {
		if len(args) != 1 || !args[0].IsNumber() {
			return m.NewError("double: expected one number", nil)
		}
		return NumberValue(2 * args[0].AsNumber())
	})
	require.NoError(t, m.Interpret(`print double(21);`))
	assert.Equal(t, []string{"42"}, lines(out.String()))
}

func TestNativeErrorValue(t *testing.T) {
	var out bytes.Buffer
	m := New(Config{})
	m.Stdout = &out
	m.DefineNative("fail", func(args []Value) Value {
		return m.NewError("boom", nil)
	})
	// an Error value is an ordinary value, the machine does not unwind
	require.NoError(t, m.Interpret(`var e = fail(); print e;`))
	assert.Equal(t, []string{"<error: boom>"}, lines(out.String()))
}

func TestPushPopSurface(t *testing.T) {
	m := New(Config{})
	m.Push(NumberValue(1))
	m.Push(m.NewString("two"))
	s := m.Pop()
	str, ok := s.AsString()
	require.True(t, ok)
	assert.Equal(t, "two", str.Value())
	assert.Equal(t, 1.0, m.Pop().AsNumber())
}

func TestTableValues(t *testing.T) {
	var out bytes.Buffer
	m := New(Config{})
	m.Stdout = &out
	m.DefineNative("table", func(args []Value) Value {
		return ObjectValue(m.NewTable())
	})
	require.NoError(t, m.Interpret(`
var t = table();
t["k"] = 42;
print t["k"];
print t["missing"];
t["k"] = t["k"] + 1;
print t["k"];
`))
	assert.Equal(t, []string{"42", "nil", "43"}, lines(out.String()))
}

func TestTableKeyMustBeString(t *testing.T) {
	m := New(Config{})
	m.DefineNative("table", func(args []Value) Value {
		return ObjectValue(m.NewTable())
	})
	err := m.Interpret(`var t = table(); t[1] = 2;`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Table key must be a string.")
}

func TestEverythingUnderGCStress(t *testing.T) {
	// every allocation collects; any missing root would corrupt or crash
	_, out, err := runSource(t, Config{GCStress: true}, `
class Animal {
  init(name) { this.name = name; }
  speak() { return this.name + " speaks"; }
}
class Dog < Animal {
  speak() { return super.speak() + " woof"; }
}
fun makeCounter() { var i = 0; fun c() { i = i + 1; return i; } return c; }
var c = makeCounter();
c(); c();
var d = Dog("rex");
print d.speak();
print c();
var parts = ["a", "b", "c"];
var s = "";
for (var i = 0; i < 3; i = i + 1) { s = s + parts[i]; }
print s;
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"rex speaks woof", "3", "abc"}, lines(out))
}
