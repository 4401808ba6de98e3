package sortedarray_test

import (
	"testing"

	"github.com/oncefs/oncefs/internal/sortedarray"
)

func intCmp(a, b int) int { return a - b }

func TestSortedInsertKeepsOrder(t *testing.T) {
	a := sortedarray.New(intCmp)
	for _, v := range []int{5, 1, 3, 3, 2, 4} {
		a.SortedInsert(v)
	}

	want := []int{1, 2, 3, 3, 4, 5}
	if a.Len() != len(want) {
		t.Fatalf("len = %d, want %d", a.Len(), len(want))
	}
	for i, w := range want {
		if got := a.At(i); got != w {
			t.Fatalf("at %d: got %d want %d", i, got, w)
		}
	}
}

func TestSortedFirstLastEach(t *testing.T) {
	a := sortedarray.New(intCmp)
	for _, v := range []int{1, 2, 2, 2, 3, 4} {
		a.SortedInsert(v)
	}

	filter := func(key int) func(int) int {
		return func(other int) int { return key - other }
	}

	first, idx, ok := a.SortedFirst(filter(2))
	if !ok || first != 2 || idx != 1 {
		t.Fatalf("SortedFirst(2) = %d,%d,%v", first, idx, ok)
	}
	last, idx, ok := a.SortedLast(filter(2))
	if !ok || last != 2 || idx != 3 {
		t.Fatalf("SortedLast(2) = %d,%d,%v", last, idx, ok)
	}

	var seen []int
	a.SortedEach(filter(2), func(_ int, v int) { seen = append(seen, v) })
	if len(seen) != 3 {
		t.Fatalf("SortedEach visited %d entries, want 3", len(seen))
	}

	if _, _, ok := a.SortedFirst(filter(99)); ok {
		t.Fatalf("expected no match for 99")
	}
}

func TestDeleteWhere(t *testing.T) {
	a := sortedarray.New(intCmp)
	for _, v := range []int{1, 2, 3, 4, 5} {
		a.SortedInsert(v)
	}

	removed := a.DeleteWhere(func(v int) bool { return v%2 == 0 })
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	var got []int
	a.Each(func(v int) { got = append(got, v) })
	want := []int{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestResortAfterMutation(t *testing.T) {
	a := sortedarray.New(intCmp)
	a.Append(3)
	a.Append(1)
	a.Append(2)

	a.Resort(nil)
	want := []int{1, 2, 3}
	for i, w := range want {
		if got := a.At(i); got != w {
			t.Fatalf("at %d: got %d want %d", i, got, w)
		}
	}
}
