package vm

import "math"

// Iterator yields values until it returns StopIteration. An exhausted
// iterator keeps returning StopIteration.
type Iterator interface {
	Next() Value
}

// RangeIterator counts from Start toward Stop by Step.
type RangeIterator struct {
	cur, stop, step int64
}

// NewRange returns an iterator over [start, stop) by step. A zero step
// yields nothing.
func NewRange(start, stop, step int64) *RangeIterator {
	return &RangeIterator{cur: start, stop: stop, step: step}
}

func (r *RangeIterator) Next() Value {
	if r.step == 0 || (r.step > 0 && r.cur >= r.stop) || (r.step < 0 && r.cur <= r.stop) {
		return StopIteration
	}
	v := r.cur
	if (r.step > 0 && v > math.MaxInt64-r.step) || (r.step < 0 && v < math.MinInt64-r.step) {
		// The next value is not representable, so it is past stop.
		r.cur = r.stop
	} else {
		r.cur += r.step
	}
	return Int(v)
}

// SeqIterator walks a snapshot of a list, tuple or key set.
type SeqIterator struct {
	items []Value
	pos   int
}

func (s *SeqIterator) Next() Value {
	if s.pos >= len(s.items) {
		return StopIteration
	}
	v := s.items[s.pos]
	s.items[s.pos] = None
	s.pos++
	return v
}

// CharIterator yields the characters of a string one at a time.
type CharIterator struct {
	runes []rune
	pos   int
}

func (c *CharIterator) Next() Value {
	if c.pos >= len(c.runes) {
		return StopIteration
	}
	c.pos++
	return Str(string(c.runes[c.pos-1]))
}

// Iter returns an iterator over v: a range of items for sequences, keys for
// dicts and sets, characters for strings. Iterators iterate themselves.
func Iter(v Value) (Iterator, *Fault) {
	switch v.kind {
	case KindIterator:
		return v.AsIterator(), nil
	case KindList, KindTuple:
		items := v.Items()
		snap := make([]Value, len(items))
		copy(snap, items)
		return &SeqIterator{items: snap}, nil
	case KindDict:
		return &SeqIterator{items: v.AsDict().Keys()}, nil
	case KindSet:
		return &SeqIterator{items: v.AsSet().Items()}, nil
	case KindStr:
		return &CharIterator{runes: []rune(v.ref.(string))}, nil
	case KindBytes:
		s := v.ref.(string)
		items := make([]Value, len(s))
		for i := 0; i < len(s); i++ {
			items[i] = Int(int64(s[i]))
		}
		return &SeqIterator{items: items}, nil
	}
	return nil, faultf(TypeError, "'%s' object is not iterable", v.TypeName())
}

// Collect drains an iterable into a slice.
func Collect(v Value) ([]Value, *Fault) {
	if v.IsSequence() {
		items := v.Items()
		out := make([]Value, len(items))
		copy(out, items)
		return out, nil
	}
	it, f := Iter(v)
	if f != nil {
		return nil, f
	}
	var out []Value
	for x := it.Next(); !x.IsStop(); x = it.Next() {
		out = append(out, x)
	}
	return out, nil
}
