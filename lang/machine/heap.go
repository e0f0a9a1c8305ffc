package machine

// Allocation helpers. Every heap object is created here: it is linked
// into the machine's allocation list, its size is added to the heap
// accounting, and the allocation may trigger a collection first, so any
// object held across one of these calls must be reachable from a root
// (in practice: pushed on the value stack, the push-then-store pattern).

// account records a raw (re)allocation delta against the collection
// threshold.
func (m *Machine) account(n int) {
	m.bytesAllocated += n
}

// register links o into the allocation list after a possible collection.
func (m *Machine) register(o Object, size int) {
	if m.cfg.GCStress || m.bytesAllocated > m.nextGC {
		m.collect()
	}
	h := o.header()
	h.size = size
	h.next = m.objects
	m.objects = o
	m.account(size)
}

// Intern returns the unique String object for s, creating and
// registering it on first use. Two byte-equal strings always intern to
// the same object.
func (m *Machine) Intern(s string) *String {
	hash := hashString(s)
	if interned := m.strings.findString(s, hash); interned != nil {
		return interned
	}

	str := &String{hash: hash, s: s}
	m.register(str, sizeString+len(s))
	// keep the new string reachable while the intern table stores it
	m.push(ObjectValue(str))
	m.strings.set(str, True)
	m.pop()
	return str
}

func (m *Machine) newFunction(name *String, arity, upvalueCount int) *Function {
	fn := &Function{name: name, arity: arity, upvalueCount: upvalueCount}
	m.register(fn, sizeFunction)
	return fn
}

func (m *Machine) newNative(name string, fn NativeFn) *Native {
	n := &Native{name: name, fn: fn}
	m.register(n, sizeNative)
	return n
}

func (m *Machine) newClosure(fn *Function) *Closure {
	c := &Closure{fn: fn, upvalues: make([]*Upvalue, fn.upvalueCount)}
	m.register(c, sizeClosure+fn.upvalueCount*8)
	return c
}

func (m *Machine) newUpvalue(slot int) *Upvalue {
	u := &Upvalue{location: &m.stack[slot], slot: slot}
	m.register(u, sizeUpvalue)
	return u
}

func (m *Machine) newClass(name *String) *Class {
	c := &Class{name: name}
	m.register(c, sizeClass)
	c.methods = newTable(m)
	return c
}

func (m *Machine) newInstance(class *Class) *Instance {
	i := &Instance{class: class}
	m.register(i, sizeInstance)
	i.fields = newTable(m)
	return i
}

func (m *Machine) newBoundMethod(receiver Value, method *Closure) *BoundMethod {
	b := &BoundMethod{receiver: receiver, method: method}
	m.register(b, sizeBoundMethod)
	return b
}

// NewTable returns a new empty table object, for natives.
func (m *Machine) NewTable() *Table {
	t := &Table{}
	m.register(t, sizeTable)
	t.entries = newTable(m)
	return t
}

// NewArray returns a new array object holding elems, for natives. The
// slice is owned by the array afterwards.
func (m *Machine) NewArray(elems []Value) *Array {
	a := &Array{elems: elems}
	m.register(a, sizeArray+len(elems)*sizeValue)
	return a
}

// NewString returns the value of the interned string for s, for natives.
func (m *Machine) NewString(s string) Value {
	return ObjectValue(m.Intern(s))
}

// NewError returns a new error object with the message and an optional
// cause, for natives reporting failure.
func (m *Machine) NewError(msg string, cause *Error) Value {
	str := m.Intern(msg)
	// protect the message across the error allocation
	m.push(ObjectValue(str))
	e := &Error{msg: str, cause: cause}
	m.register(e, sizeError)
	m.pop()
	return ObjectValue(e)
}

// ArrayAppend grows the array and accounts the added storage.
func (m *Machine) ArrayAppend(a *Array, vs ...Value) {
	a.elems = append(a.elems, vs...)
	m.account(len(vs) * sizeValue)
}

// ArrayPop removes and returns the last element, or false when the
// array is empty.
func (m *Machine) ArrayPop(a *Array) (Value, bool) {
	if len(a.elems) == 0 {
		return Nil, false
	}
	v := a.elems[len(a.elems)-1]
	a.elems[len(a.elems)-1] = Nil
	a.elems = a.elems[:len(a.elems)-1]
	return v, true
}
