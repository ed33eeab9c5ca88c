package engine

// ref addresses an arena slot. A ref whose generation no longer matches the
// slot is stale.
type ref struct {
	index uint32
	gen   uint32
}

func (r ref) valid() bool { return r.gen != 0 }

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// arena owns records of one kind. Slots are heap-allocated individually so
// pointers returned by get stay valid across later allocations.
type arena[T any] struct {
	slots []*slot[T]
	free  []uint32
}

func (a *arena[T]) alloc(v T) ref {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := a.slots[idx]
		s.live = true
		s.val = v
		return ref{index: idx, gen: s.gen}
	}
	a.slots = append(a.slots, &slot[T]{gen: 1, live: true, val: v})
	return ref{index: uint32(len(a.slots) - 1), gen: 1}
}

func (a *arena[T]) get(r ref) *T {
	if !r.valid() || int(r.index) >= len(a.slots) {
		return nil
	}
	s := a.slots[r.index]
	if !s.live || s.gen != r.gen {
		return nil
	}
	return &s.val
}

func (a *arena[T]) release(r ref) {
	if a.get(r) == nil {
		return
	}
	s := a.slots[r.index]
	var zero T
	s.val = zero
	s.live = false
	s.gen++
	a.free = append(a.free, r.index)
}

func (a *arena[T]) releaseAll() {
	for i, s := range a.slots {
		if s.live {
			a.release(ref{index: uint32(i), gen: s.gen})
		}
	}
}

func (a *arena[T]) each(fn func(ref, *T)) {
	for i, s := range a.slots {
		if s.live {
			fn(ref{index: uint32(i), gen: s.gen}, &s.val)
		}
	}
}
