package vm

// ---------------------------------------------------------------------------
// Heap handlers
// ---------------------------------------------------------------------------

func handleHeapAlloc(st *State) error {
	capacity, err := st.pop()
	if err != nil {
		return err
	}
	handle, ok := st.heap.alloc(int(capacity))
	if !ok {
		return st.fault(HeapExhausted)
	}
	return st.push(uint64(handle))
}

func handleHeapFree(st *State) error {
	handle, err := st.pop()
	if err != nil {
		return err
	}
	if !st.heap.free(Handle(handle)) {
		return st.fault(BadHandle)
	}
	return nil
}

func handleHeapLoad8(st *State) error  { return heapLoad(st, 1) }
func handleHeapLoad16(st *State) error { return heapLoad(st, 2) }
func handleHeapLoad32(st *State) error { return heapLoad(st, 4) }
func handleHeapLoad64(st *State) error { return heapLoad(st, 8) }

func heapLoad(st *State, width int) error {
	handle, off, err := st.pop2()
	if err != nil {
		return err
	}
	a := st.heap.lookup(Handle(handle))
	if a == nil {
		return st.fault(BadHandle)
	}
	v, ok := st.heap.loadAt(a, int(off), width)
	if !ok {
		return st.fault(HeapOutOfRange)
	}
	return st.push(v)
}

func handleHeapStore8(st *State) error  { return heapStore(st, 1) }
func handleHeapStore16(st *State) error { return heapStore(st, 2) }
func handleHeapStore32(st *State) error { return heapStore(st, 4) }
func handleHeapStore64(st *State) error { return heapStore(st, 8) }

func heapStore(st *State, width int) error {
	v, err := st.pop()
	if err != nil {
		return err
	}
	handle, off, err := st.pop2()
	if err != nil {
		return err
	}
	a := st.heap.lookup(Handle(handle))
	if a == nil {
		return st.fault(BadHandle)
	}
	if !st.heap.storeAt(a, int(off), width, v) {
		return st.fault(HeapOutOfRange)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Byte-run handlers
// ---------------------------------------------------------------------------

func handleLen(st *State) error {
	a, err := popRun(st)
	if err != nil {
		return err
	}
	return st.push(uint64(a.len))
}

func handleIsEmpty(st *State) error {
	a, err := popRun(st)
	if err != nil {
		return err
	}
	return st.push(boolWord(a.len == 0))
}

func handleGetIdx(st *State) error {
	handle, idx, err := st.pop2()
	if err != nil {
		return err
	}
	a := st.heap.lookup(Handle(handle))
	if a == nil {
		return st.fault(BadHandle)
	}
	if idx >= uint64(a.len) {
		return st.fault(HeapOutOfRange)
	}
	return st.push(uint64(st.heap.run(a)[idx]))
}

func handleSetIdx(st *State) error {
	elem, err := st.pop()
	if err != nil {
		return err
	}
	handle, idx, err := st.pop2()
	if err != nil {
		return err
	}
	a := st.heap.lookup(Handle(handle))
	if a == nil {
		return st.fault(BadHandle)
	}
	if idx >= uint64(a.len) {
		return st.fault(HeapOutOfRange)
	}
	st.heap.run(a)[idx] = byte(elem)
	return nil
}

func handlePushElt(st *State) error {
	handle, elem, err := st.pop2()
	if err != nil {
		return err
	}
	a := st.heap.lookup(Handle(handle))
	if a == nil {
		return st.fault(BadHandle)
	}
	if !st.heap.pushElt(a, byte(elem)) {
		return st.fault(HeapOutOfRange)
	}
	return nil
}

func handlePopElt(st *State) error {
	a, err := popRun(st)
	if err != nil {
		return err
	}
	b, ok := st.heap.popElt(a)
	if !ok {
		return st.fault(HeapOutOfRange)
	}
	return st.push(uint64(b))
}

func handleConcat(st *State) error {
	h1, h2, err := st.pop2()
	if err != nil {
		return err
	}
	a1 := st.heap.lookup(Handle(h1))
	a2 := st.heap.lookup(Handle(h2))
	if a1 == nil || a2 == nil {
		return st.fault(BadHandle)
	}
	handle, ok := st.heap.alloc(a1.len + a2.len)
	if !ok {
		return st.fault(HeapExhausted)
	}
	// Re-resolve after alloc: the backing slice may have been reallocated,
	// but offsets stay stable so the lookups remain valid.
	out := st.heap.lookup(handle)
	n := copy(st.heap.bytes(out), st.heap.run(a1))
	copy(st.heap.bytes(out)[n:], st.heap.run(a2))
	out.len = a1.len + a2.len
	return st.push(uint64(handle))
}

func handleHash(st *State) error {
	a, err := popRun(st)
	if err != nil {
		return err
	}
	h := st.fnvOffset
	for _, b := range st.heap.run(a) {
		h ^= uint64(b)
		h *= st.fnvPrime
	}
	return st.push(h)
}

func handleEqBytes(st *State) error {
	h1, h2, err := st.pop2()
	if err != nil {
		return err
	}
	a1 := st.heap.lookup(Handle(h1))
	a2 := st.heap.lookup(Handle(h2))
	if a1 == nil || a2 == nil {
		return st.fault(BadHandle)
	}
	if a1.len != a2.len {
		return st.push(0)
	}
	r1, r2 := st.heap.run(a1), st.heap.run(a2)
	for i := range r1 {
		if r1[i] != r2[i] {
			return st.push(0)
		}
	}
	return st.push(1)
}

func popRun(st *State) (*allocation, error) {
	handle, err := st.pop()
	if err != nil {
		return nil, err
	}
	a := st.heap.lookup(Handle(handle))
	if a == nil {
		return nil, st.fault(BadHandle)
	}
	return a, nil
}
