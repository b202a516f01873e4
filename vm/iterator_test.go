package vm

import (
	"math"
	"testing"
)

func TestRangeIterator(t *testing.T) {
	tests := []struct {
		start, stop, step int64
		want              []int64
	}{
		{0, 5, 1, []int64{0, 1, 2, 3, 4}},
		{5, 0, -2, []int64{5, 3, 1}},
		{3, 3, 1, nil},
		{0, 3, 0, nil},
		{math.MaxInt64 - 7, math.MaxInt64, 5, []int64{math.MaxInt64 - 7, math.MaxInt64 - 2}},
		{math.MaxInt64 - 1, math.MaxInt64, math.MaxInt64, []int64{math.MaxInt64 - 1}},
		{math.MinInt64 + 7, math.MinInt64, -5, []int64{math.MinInt64 + 7, math.MinInt64 + 2}},
		{math.MinInt64 + 1, math.MinInt64, math.MinInt64, []int64{math.MinInt64 + 1}},
	}
	for _, tt := range tests {
		it := NewRange(tt.start, tt.stop, tt.step)
		var got []int64
		for v := it.Next(); !v.IsStop(); v = it.Next() {
			got = append(got, v.AsInt())
		}
		if len(got) != len(tt.want) {
			t.Fatalf("range(%d, %d, %d) = %v, want %v", tt.start, tt.stop, tt.step, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("range(%d, %d, %d)[%d] = %d, want %d", tt.start, tt.stop, tt.step, i, got[i], tt.want[i])
			}
		}
	}
}

func TestExhaustedIteratorStaysExhausted(t *testing.T) {
	for _, src := range []Value{NewList(Int(1)), Str("a"), IteratorValue(NewRange(0, 1, 1))} {
		it, f := Iter(src)
		if f != nil {
			t.Fatalf("Iter(%s): %v", src.Repr(), f)
		}
		it.Next()
		for i := 0; i < 3; i++ {
			if v := it.Next(); !v.IsStop() {
				t.Errorf("Iter(%s) after exhaustion returned %s", src.Repr(), v.Repr())
			}
		}
	}
}

func TestSequenceIteratorSnapshot(t *testing.T) {
	l := NewList(Int(1), Int(2))
	it, _ := Iter(l)
	l.AsList().Append(Int(3))
	n := 0
	for v := it.Next(); !v.IsStop(); v = it.Next() {
		n++
	}
	if n != 2 {
		t.Errorf("iterated %d items, want the 2 present when iteration began", n)
	}
}

func TestIterDictYieldsKeysInOrder(t *testing.T) {
	d := NewDict()
	d.AsDict().SetStr("b", Int(1))
	d.AsDict().SetStr("a", Int(2))
	items, f := Collect(d)
	if f != nil {
		t.Fatal(f)
	}
	if !Equal(NewList(items...), NewList(Str("b"), Str("a"))) {
		t.Errorf("keys = %s", NewList(items...).Repr())
	}
}

func TestIterNotIterable(t *testing.T) {
	if _, f := Iter(Int(3)); f == nil || f.Kind != TypeError {
		t.Errorf("Iter(3) fault = %v, want TypeError", f)
	}
}
