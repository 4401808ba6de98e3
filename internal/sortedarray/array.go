// Package sortedarray implements a generic growable array that keeps its
// entries in comparator order, supporting binary-search based lookups over
// a contiguous range of matches.
//
// A filter passed to SortedFirst/SortedLast/SortedEach is a closure that
// captures whatever "key" the caller is searching for and returns the
// three-way comparison of that key against the entry it is given. The
// filter must be monotone with respect to the array's sort order: every
// entry for which filter returns 0 must form a single contiguous run.
package sortedarray

import "sort"

// Array is a comparator-ordered slice of T.
type Array[T any] struct {
	entries []T
	cmp     func(a, b T) int
}

// New creates an Array sorted with cmp. cmp may be nil for an array that
// will only ever be appended to (e.g. a row store with no ordering of its
// own).
func New[T any](cmp func(a, b T) int) *Array[T] {
	return &Array[T]{cmp: cmp}
}

// Len returns the number of entries.
func (a *Array[T]) Len() int { return len(a.entries) }

// At returns the entry at index i.
func (a *Array[T]) At(i int) T { return a.entries[i] }

// Ptr returns a pointer to the entry at index i, for in-place mutation.
func (a *Array[T]) Ptr(i int) *T { return &a.entries[i] }

// Set overwrites the entry at index i.
func (a *Array[T]) Set(i int, v T) { a.entries[i] = v }

// Append adds v to the end, unsorted, and returns its index.
func (a *Array[T]) Append(v T) int {
	a.entries = append(a.entries, v)
	return len(a.entries) - 1
}

// Each visits every entry in storage order.
func (a *Array[T]) Each(cb func(T)) {
	for _, v := range a.entries {
		cb(v)
	}
}

// Resort re-sorts the array. If cmp is non-nil it replaces the stored
// comparator.
func (a *Array[T]) Resort(cmp func(a, b T) int) {
	if cmp != nil {
		a.cmp = cmp
	}
	sort.SliceStable(a.entries, func(i, j int) bool {
		return a.cmp(a.entries[i], a.entries[j]) < 0
	})
}

// SortedInsert finds v's place via binary search against the stored
// comparator and inserts it there, returning the index it landed at.
func (a *Array[T]) SortedInsert(v T) int {
	low, high := 0, len(a.entries)
	for low < high {
		mid := low + (high-low)/2
		r := a.cmp(v, a.entries[mid])
		if r < 0 {
			high = mid
		} else if r > 0 {
			low = mid + 1
		} else {
			low = mid
			break
		}
	}

	dest := low
	a.entries = append(a.entries, v)
	copy(a.entries[dest+1:], a.entries[dest:])
	a.entries[dest] = v
	return dest
}

// findIndex implements the shared binary search behind SortedFirst and
// SortedLast: it locates the left (reverse=false) or right (reverse=true)
// edge of the contiguous run for which filter returns 0.
func (a *Array[T]) findIndex(filter func(T) int, reverse bool) (int, bool) {
	low, high := 0, len(a.entries)
	valid := false

	for low < high {
		mid := low + (high-low)/2

		var r int
		if reverse {
			r = -filter(a.entries[len(a.entries)-1-mid])
		} else {
			r = filter(a.entries[mid])
		}

		if r == 0 {
			high = mid
			valid = true
		} else if r < 0 {
			high = mid
			valid = false
		} else {
			low = mid + 1
		}
	}

	if !valid {
		return 0, false
	}
	if reverse {
		return len(a.entries) - 1 - high, true
	}
	return high, true
}

// SortedFirst returns the leftmost entry for which filter returns 0.
func (a *Array[T]) SortedFirst(filter func(T) int) (T, int, bool) {
	idx, ok := a.findIndex(filter, false)
	if !ok {
		var zero T
		return zero, 0, false
	}
	return a.entries[idx], idx, true
}

// SortedLast returns the rightmost entry for which filter returns 0.
func (a *Array[T]) SortedLast(filter func(T) int) (T, int, bool) {
	idx, ok := a.findIndex(filter, true)
	if !ok {
		var zero T
		return zero, 0, false
	}
	return a.entries[idx], idx, true
}

// SortedEach invokes cb, with each entry's index, once per entry in the
// contiguous run for which filter returns 0.
func (a *Array[T]) SortedEach(filter func(T) int, cb func(int, T)) {
	first, ok := a.findIndex(filter, false)
	if !ok {
		return
	}
	last, _ := a.findIndex(filter, true)

	for i := first; i <= last; i++ {
		cb(i, a.entries[i])
	}
}

// DeleteWhere compacts out every entry for which match returns true,
// preserving the relative order of the rest, and returns the count removed.
func (a *Array[T]) DeleteWhere(match func(T) bool) int {
	cursor := 0
	for _, v := range a.entries {
		if match(v) {
			continue
		}
		a.entries[cursor] = v
		cursor++
	}
	removed := len(a.entries) - cursor
	a.entries = a.entries[:cursor]
	return removed
}
