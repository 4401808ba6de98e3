// Package table implements a generic in-memory row store with multiple
// comparator-ordered indexes, modelled after a single-writer table where
// every index is kept consistent on every mutation.
//
// Index 0, registered by New, is the primary index: Insert and
// InsertOrReplace use it to detect an existing row. Every other index is
// added with AddIndex and is otherwise queried the same way.
//
// Query filters follow the same closure convention as sortedarray: a
// filter is `func(T) int` returning the three-way comparison of whatever
// key the caller is searching for against the row it is given.
package table

import (
	"errors"

	"github.com/oncefs/oncefs/internal/sortedarray"
)

// ErrNotFound is returned by QueryFirst/QueryLast when no row matches.
var ErrNotFound = errors.New("table: not found")

// ErrExists is returned by Insert when a row already occupies the primary
// index's slot.
var ErrExists = errors.New("table: already exists")

// Comparator is a three-way comparison between two rows.
type Comparator[T any] func(a, b T) int

type index[T any] struct {
	t   *Table[T]
	cmp Comparator[T]
	arr *sortedarray.Array[int]
}

func newIndex[T any](t *Table[T], cmp Comparator[T]) *index[T] {
	ix := &index[T]{t: t, cmp: cmp}
	ix.arr = sortedarray.New(func(a, b int) int {
		return ix.cmp(t.rows[a], t.rows[b])
	})
	return ix
}

func (ix *index[T]) wrapFilter(filter func(T) int) func(int) int {
	return func(pos int) int { return filter(ix.t.rows[pos]) }
}

// Table is a row store plus N ordered indexes over it.
type Table[T any] struct {
	rows    []T
	indexes []*index[T]
}

// New creates a Table whose index 0 (the primary index) is ordered by
// primaryCmp.
func New[T any](primaryCmp Comparator[T]) *Table[T] {
	t := &Table[T]{}
	t.indexes = append(t.indexes, newIndex(t, primaryCmp))
	return t
}

// AddIndex registers an additional index ordered by cmp and returns its id.
// Must be called before any row is inserted.
func (t *Table[T]) AddIndex(cmp Comparator[T]) int {
	t.indexes = append(t.indexes, newIndex(t, cmp))
	return len(t.indexes) - 1
}

// Insert adds row, failing with ErrExists if the primary index already has
// a matching row.
func (t *Table[T]) Insert(row T) error {
	return t.insert(row, false)
}

// InsertOrReplace adds row, overwriting any row the primary index already
// matches and re-sorting every index.
func (t *Table[T]) InsertOrReplace(row T) error {
	return t.insert(row, true)
}

func (t *Table[T]) insert(row T, replace bool) error {
	primary := t.indexes[0]
	filter := func(other T) int { return primary.cmp(row, other) }

	if pos, _, ok := primary.arr.SortedFirst(primary.wrapFilter(filter)); ok {
		if !replace {
			return ErrExists
		}
		t.rows[pos] = row
		for _, ix := range t.indexes {
			ix.arr.Resort(nil)
		}
		return nil
	}

	pos := len(t.rows)
	t.rows = append(t.rows, row)
	for _, ix := range t.indexes {
		ix.arr.SortedInsert(pos)
	}
	return nil
}

// IndexComparator exposes the comparator an index was built with, for
// callers that want an exact-match filter (a query key compared directly
// against rows via the index's own ordering, rather than a looser filter).
func (t *Table[T]) IndexComparator(indexID int) Comparator[T] {
	return t.indexes[indexID].cmp
}

// QueryFirst returns the leftmost row for which filter returns 0 on the
// named index.
func (t *Table[T]) QueryFirst(indexID int, filter func(T) int) (T, error) {
	ix := t.indexes[indexID]
	pos, _, ok := ix.arr.SortedFirst(ix.wrapFilter(filter))
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return t.rows[pos], nil
}

// QueryLast returns the rightmost row for which filter returns 0 on the
// named index.
func (t *Table[T]) QueryLast(indexID int, filter func(T) int) (T, error) {
	ix := t.indexes[indexID]
	pos, _, ok := ix.arr.SortedLast(ix.wrapFilter(filter))
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return t.rows[pos], nil
}

// QueryAll visits every row for which filter returns 0 on the named index,
// in index order.
func (t *Table[T]) QueryAll(indexID int, filter func(T) int, cb func(T)) {
	ix := t.indexes[indexID]
	ix.arr.SortedEach(ix.wrapFilter(filter), func(_ int, pos int) { cb(t.rows[pos]) })
}

// QueryCount returns the number of rows for which filter returns 0 on the
// named index.
func (t *Table[T]) QueryCount(indexID int, filter func(T) int) int {
	n := 0
	t.QueryAll(indexID, filter, func(T) { n++ })
	return n
}

// QueryOrderBy visits every row matching filter on the named index, but in
// orderBy order rather than the named index's own order.
func (t *Table[T]) QueryOrderBy(indexID int, filter func(T) int, orderBy Comparator[T], cb func(T)) {
	tmp := sortedarray.New(orderBy)
	t.QueryAll(indexID, filter, func(row T) { tmp.SortedInsert(row) })
	tmp.Each(cb)
}

// QueryUpdate applies mutate, in place, to every row for which filter
// returns 0 on the named index, then re-sorts every index.
func (t *Table[T]) QueryUpdate(indexID int, filter func(T) int, mutate func(*T)) {
	ix := t.indexes[indexID]

	var positions []int
	ix.arr.SortedEach(ix.wrapFilter(filter), func(_ int, pos int) { positions = append(positions, pos) })
	if len(positions) == 0 {
		return
	}

	for _, pos := range positions {
		mutate(&t.rows[pos])
	}
	for _, other := range t.indexes {
		other.arr.Resort(nil)
	}
}

// QueryDelete removes every row for which filter returns 0 on the named
// index from every index. The underlying row storage is never compacted,
// so positions referenced by other in-flight queries stay valid.
func (t *Table[T]) QueryDelete(indexID int, filter func(T) int) {
	ix := t.indexes[indexID]

	toDelete := make(map[int]bool)
	ix.arr.SortedEach(ix.wrapFilter(filter), func(_ int, pos int) { toDelete[pos] = true })
	if len(toDelete) == 0 {
		return
	}

	for _, other := range t.indexes {
		other.arr.DeleteWhere(func(pos int) bool { return toDelete[pos] })
	}
}

// Dump visits every row in the named index's order, for debugging.
func (t *Table[T]) Dump(indexID int, cb func(T)) {
	ix := t.indexes[indexID]
	for i := 0; i < ix.arr.Len(); i++ {
		cb(t.rows[ix.arr.At(i)])
	}
}
