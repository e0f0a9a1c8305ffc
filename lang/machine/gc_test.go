package machine

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// objectListContains walks the allocation list looking for o.
func objectListContains(m *Machine, o Object) bool {
	for cur := m.objects; cur != nil; cur = cur.header().next {
		if cur == o {
			return true
		}
	}
	return false
}

func TestCollectFreesUnreachable(t *testing.T) {
	m := New(Config{})

	// rooted on the stack: must survive
	kept := m.Intern("kept")
	m.push(ObjectValue(kept))

	// unrooted: only the intern table references it, which is weak
	lost := m.Intern("lost")
	require.True(t, objectListContains(m, lost))

	before := m.bytesAllocated
	m.collect()

	assert.True(t, objectListContains(m, kept))
	assert.False(t, objectListContains(m, lost), "unreachable string must be swept")
	assert.Less(t, m.bytesAllocated, before)

	// the intern table entry was removed before the sweep
	assert.Nil(t, m.strings.findString("lost", hashString("lost")))
	assert.Same(t, kept, m.strings.findString("kept", hashString("kept")))
}

func TestCollectKeepsGlobals(t *testing.T) {
	m := New(Config{})
	name := m.Intern("g")
	m.push(ObjectValue(name))
	val := m.Intern("value")
	m.globals.set(name, ObjectValue(val))
	m.pop()

	m.collect()
	assert.True(t, objectListContains(m, name))
	assert.True(t, objectListContains(m, val))
}

func TestCollectClearsMarks(t *testing.T) {
	m := New(Config{})
	s := m.Intern("twice")
	m.push(ObjectValue(s))
	m.collect()
	assert.False(t, s.marked, "marks must be cleared for the next cycle")
	m.collect()
	assert.True(t, objectListContains(m, s), "object must survive repeated cycles")
}

func TestNextGCDoubles(t *testing.T) {
	m := New(Config{})
	m.collect()
	assert.Equal(t, m.bytesAllocated*2, m.nextGC)
}

func TestCollectTracesDeepGraphs(t *testing.T) {
	// instance -> fields -> instance chains with a cycle must be traced
	// through the worklist without recursion and must survive
	m := New(Config{})
	var out bytes.Buffer
	m.Stdout = &out
	require.NoError(t, m.Interpret(`
class Node { init(v) { this.v = v; this.next = nil; } }
var head = Node(0);
var cur = head;
for (var i = 1; i < 50; i = i + 1) {
  var n = Node(i);
  cur.next = n;
  cur = n;
}
// a cycle back to the head
cur.next = head;
`))

	m.collect()

	out.Reset()
	require.NoError(t, m.Interpret(`
var sum = 0;
var it = head;
for (var i = 0; i < 50; i = i + 1) { sum = sum + it.v; it = it.next; }
print sum;
`))
	assert.Equal(t, "1225\n", out.String())
}

func TestGCLogOutput(t *testing.T) {
	m := New(Config{GCLog: true})
	var errOut bytes.Buffer
	m.Stderr = &errOut
	m.collect()
	assert.Contains(t, errOut.String(), "-- gc begin")
	assert.Contains(t, errOut.String(), "-- gc end")
}

func TestStressInterpreterAllocatesAndFrees(t *testing.T) {
	m := New(Config{GCStress: true, SuppressPrint: true})
	require.NoError(t, m.Interpret(`
var keep = "";
for (var i = 0; i < 50; i = i + 1) {
  var garbage = "tmp" + i;
  keep = "k" + i;
}
print keep;
`))

	// every "tmp..." concatenation is garbage by now; a collection must
	// drop them all from the intern table
	m.collect()
	for i := 0; i < 50; i++ {
		s := fmt.Sprintf("tmp%d", i)
		assert.Nil(t, m.strings.findString(s, hashString(s)), "%s still interned", s)
	}
	kept := "k49"
	assert.NotNil(t, m.strings.findString(kept, hashString(kept)))
}

func TestOpenUpvaluesAreRoots(t *testing.T) {
	_, out, err := runSource(t, Config{GCStress: true}, `
fun outer() {
  var captured = "alive";
  fun inner() { return captured; }
  // force allocations while the upvalue is open
  var junk = "";
  for (var i = 0; i < 20; i = i + 1) { junk = junk + i; }
  return inner;
}
print outer()();
`)
	require.NoError(t, err)
	assert.Equal(t, "alive\n", out)
}
