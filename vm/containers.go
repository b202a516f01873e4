package vm

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

// List is a mutable sequence.
type List struct {
	items []Value
}

// NewList returns a list value holding a copy of items.
func NewList(items ...Value) Value {
	l := &List{items: make([]Value, len(items))}
	copy(l.items, items)
	return Value{kind: KindList, ref: l}
}

func (l *List) Len() int { return len(l.items) }

// Items returns the backing slice. Callers must not retain it across
// mutations.
func (l *List) Items() []Value { return l.items }

// Get returns the element at i. Negative indices count from the end.
func (l *List) Get(i int) (Value, bool) {
	i, ok := normIndex(i, len(l.items))
	if !ok {
		return None, false
	}
	return l.items[i], true
}

// Set replaces the element at i and reports whether i was in range.
func (l *List) Set(i int, v Value) bool {
	i, ok := normIndex(i, len(l.items))
	if !ok {
		return false
	}
	l.items[i] = v
	return true
}

func (l *List) Append(v Value) { l.items = append(l.items, v) }

// Pop removes and returns the last element.
func (l *List) Pop() (Value, bool) {
	n := len(l.items)
	if n == 0 {
		return None, false
	}
	v := l.items[n-1]
	l.items[n-1] = None
	l.items = l.items[:n-1]
	return v, true
}

// ---------------------------------------------------------------------------
// Tuple
// ---------------------------------------------------------------------------

// Tuple is an immutable sequence.
type Tuple struct {
	items []Value
}

// NewTuple returns a tuple value holding a copy of items.
func NewTuple(items ...Value) Value {
	t := &Tuple{items: make([]Value, len(items))}
	copy(t.items, items)
	return Value{kind: KindTuple, ref: t}
}

func (t *Tuple) Len() int       { return len(t.items) }
func (t *Tuple) Items() []Value { return t.items }

// Get returns the element at i. Negative indices count from the end.
func (t *Tuple) Get(i int) (Value, bool) {
	i, ok := normIndex(i, len(t.items))
	if !ok {
		return None, false
	}
	return t.items[i], true
}

func normIndex(i, n int) (int, bool) {
	if i < 0 {
		i += n
	}
	return i, i >= 0 && i < n
}

// ---------------------------------------------------------------------------
// Dict
// ---------------------------------------------------------------------------

// Dict is an insertion-ordered mapping from any Value to any Value.
// Lookups go through a hash index; keys and values are kept in parallel
// slices so iteration follows insertion order.
type Dict struct {
	keys  []Value
	vals  []Value
	index map[uint64][]int
}

// NewDict returns an empty dict value.
func NewDict() Value {
	return Value{kind: KindDict, ref: newDict()}
}

func newDict() *Dict {
	return &Dict{index: make(map[uint64][]int)}
}

func (d *Dict) Len() int { return len(d.keys) }

func (d *Dict) find(k Value) (uint64, int) {
	h := Hash(k)
	for _, i := range d.index[h] {
		if Equal(d.keys[i], k) {
			return h, i
		}
	}
	return h, -1
}

// Get returns the value stored under k.
func (d *Dict) Get(k Value) (Value, bool) {
	if _, i := d.find(k); i >= 0 {
		return d.vals[i], true
	}
	return None, false
}

// Set inserts k or overwrites its value in place.
func (d *Dict) Set(k, v Value) {
	h, i := d.find(k)
	if i >= 0 {
		d.vals[i] = v
		return
	}
	d.index[h] = append(d.index[h], len(d.keys))
	d.keys = append(d.keys, k)
	d.vals = append(d.vals, v)
}

// SetStr is Set with a string key.
func (d *Dict) SetStr(k string, v Value) { d.Set(Str(k), v) }

// GetStr is Get with a string key.
func (d *Dict) GetStr(k string) (Value, bool) { return d.Get(Str(k)) }

// Delete removes k and reports whether it was present.
func (d *Dict) Delete(k Value) bool {
	_, i := d.find(k)
	if i < 0 {
		return false
	}
	d.keys = append(d.keys[:i], d.keys[i+1:]...)
	d.vals = append(d.vals[:i], d.vals[i+1:]...)
	d.reindex()
	return true
}

func (d *Dict) reindex() {
	d.index = make(map[uint64][]int, len(d.keys))
	for i, k := range d.keys {
		h := Hash(k)
		d.index[h] = append(d.index[h], i)
	}
}

// Keys returns a snapshot of the keys in insertion order.
func (d *Dict) Keys() []Value {
	out := make([]Value, len(d.keys))
	copy(out, d.keys)
	return out
}

// Values returns a snapshot of the values in insertion order.
func (d *Dict) Values() []Value {
	out := make([]Value, len(d.vals))
	copy(out, d.vals)
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (d *Dict) Range(fn func(k, v Value) bool) {
	for i := 0; i < len(d.keys); i++ {
		if !fn(d.keys[i], d.vals[i]) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Set
// ---------------------------------------------------------------------------

// Set is an insertion-ordered collection of distinct values.
type Set struct {
	d *Dict
}

// NewSet returns a set value holding the distinct elements of items.
func NewSet(items ...Value) Value {
	s := &Set{d: newDict()}
	for _, it := range items {
		s.Add(it)
	}
	return Value{kind: KindSet, ref: s}
}

func (s *Set) Add(v Value)      { s.d.Set(v, None) }
func (s *Set) Has(v Value) bool { _, ok := s.d.Get(v); return ok }
func (s *Set) Len() int         { return s.d.Len() }
func (s *Set) Items() []Value   { return s.d.Keys() }
