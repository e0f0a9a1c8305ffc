package machine

import "fmt"

// Tri-color mark-sweep collection. White objects are unmarked, gray
// objects are marked and sitting on the worklist, black objects are
// marked with their references already traced. The worklist keeps large
// object graphs from recursing through Go stack frames.

func (m *Machine) collect() {
	if m.gcRunning {
		// allocations made by the collector itself must not re-enter it
		return
	}
	m.gcRunning = true
	before := m.bytesAllocated
	if m.cfg.GCLog {
		fmt.Fprintln(m.stderr(), "-- gc begin")
	}

	m.markRoots()
	m.traceReferences()
	// drop intern entries whose key is about to be swept, before the
	// sweep frees them: the intern table is a weak set of its keys
	m.strings.removeWhite()
	m.sweep()

	m.nextGC = m.bytesAllocated * 2
	if m.cfg.GCLog {
		fmt.Fprintf(m.stderr(), "-- gc end: %d -> %d bytes, next at %d\n",
			before, m.bytesAllocated, m.nextGC)
	}
	m.gcRunning = false
}

func (m *Machine) markRoots() {
	for i := 0; i < m.sp; i++ {
		m.markValue(m.stack[i])
	}
	for i := 0; i < m.frameCount; i++ {
		m.markObject(m.frames[i].closure)
	}
	for uv := m.openUpvalues; uv != nil; uv = uv.next {
		m.markObject(uv)
	}
	m.globals.mark(m)
	m.markName(m.initString)
}

func (m *Machine) markValue(v Value) {
	if v.kind == kindObject {
		m.markObject(v.obj)
	}
}

func (m *Machine) markObject(o Object) {
	if o == nil || o.header().marked {
		return
	}
	o.header().marked = true
	m.grays = append(m.grays, o)
}

func (m *Machine) traceReferences() {
	for len(m.grays) > 0 {
		o := m.grays[len(m.grays)-1]
		m.grays = m.grays[:len(m.grays)-1]
		m.blacken(o)
	}
}

// blacken traces the references owned by o.
func (m *Machine) blacken(o Object) {
	switch o := o.(type) {
	case *String, *Native:
		// leaves

	case *Function:
		m.markName(o.name)
		for _, c := range o.constants {
			m.markValue(c)
		}

	case *Closure:
		m.markObject(o.fn)
		for _, uv := range o.upvalues {
			// slots still nil while the CLOSURE instruction fills them
			if uv != nil {
				m.markObject(uv)
			}
		}

	case *Upvalue:
		m.markValue(o.closed)

	case *Class:
		m.markObject(o.name)
		o.methods.mark(m)

	case *Instance:
		m.markObject(o.class)
		o.fields.mark(m)

	case *BoundMethod:
		m.markValue(o.receiver)
		m.markObject(o.method)

	case *Table:
		o.entries.mark(m)

	case *Array:
		for _, v := range o.elems {
			m.markValue(v)
		}

	case *Error:
		m.markObject(o.msg)
		if o.cause != nil {
			m.markObject(o.cause)
		}

	default:
		panic(fmt.Sprintf("unexpected object %T in gc", o))
	}
}

// markName guards the nillable *String references (a function's name, and
// the init string while New is still interning it): a typed nil *String
// would slip past markObject's interface nil check.
func (m *Machine) markName(name *String) {
	if name != nil {
		m.markObject(name)
	}
}

// sweep unlinks and un-accounts every unmarked object, clearing the
// mark on survivors for the next cycle.
func (m *Machine) sweep() {
	var prev Object
	o := m.objects
	for o != nil {
		h := o.header()
		if h.marked {
			h.marked = false
			prev = o
			o = h.next
			continue
		}

		// unreachable: splice out of the list and drop the accounting;
		// the Go runtime reclaims the memory once nothing references it
		unreached := o
		o = h.next
		if prev == nil {
			m.objects = o
		} else {
			prev.header().next = o
		}
		m.account(-unreached.header().size)
		unreached.header().next = nil
	}
}
