package table_test

import (
	"testing"

	"github.com/oncefs/oncefs/internal/table"
)

type person struct {
	id   int
	name string
	age  int
}

func byID(a, b person) int    { return a.id - b.id }
func byName(a, b person) int {
	if a.name != b.name {
		if a.name < b.name {
			return -1
		}
		return 1
	}
	return 0
}

func TestInsertAndQuery(t *testing.T) {
	tb := table.New[person](byID)
	byNameIdx := tb.AddIndex(byName)

	if err := tb.Insert(person{id: 1, name: "bob", age: 30}); err != nil {
		t.Fatalf("Insert: %s", err)
	}
	if err := tb.Insert(person{id: 2, name: "alice", age: 25}); err != nil {
		t.Fatalf("Insert: %s", err)
	}

	if err := tb.Insert(person{id: 1, name: "bob2"}); err != table.ErrExists {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	got, err := tb.QueryFirst(byNameIdx, func(p person) int {
		if p.name == "alice" {
			return 0
		}
		if p.name < "alice" {
			return 1
		}
		return -1
	})
	if err != nil {
		t.Fatalf("QueryFirst: %s", err)
	}
	if got.id != 2 {
		t.Fatalf("got id %d, want 2", got.id)
	}
}

func TestInsertOrReplaceResortsIndexes(t *testing.T) {
	tb := table.New[person](byID)
	nameIdx := tb.AddIndex(byName)

	if err := tb.InsertOrReplace(person{id: 1, name: "zed"}); err != nil {
		t.Fatalf("InsertOrReplace: %s", err)
	}
	if err := tb.InsertOrReplace(person{id: 1, name: "aaron"}); err != nil {
		t.Fatalf("InsertOrReplace: %s", err)
	}

	var names []string
	tb.QueryAll(nameIdx, func(person) int { return 0 }, func(p person) { names = append(names, p.name) })
	if len(names) != 1 || names[0] != "aaron" {
		t.Fatalf("got %v, want [aaron]", names)
	}
}

func TestQueryDeleteLeavesRowsUntouchedElsewhere(t *testing.T) {
	tb := table.New[person](byID)

	for i := 1; i <= 5; i++ {
		if err := tb.Insert(person{id: i, name: "x", age: i}); err != nil {
			t.Fatalf("Insert: %s", err)
		}
	}

	tb.QueryDelete(0, func(p person) int { return 3 - p.id })

	if _, err := tb.QueryFirst(0, func(p person) int { return 3 - p.id }); err != table.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	count := tb.QueryCount(0, func(person) int { return 0 })
	if count != 4 {
		t.Fatalf("count = %d, want 4", count)
	}
}

func TestQueryUpdateResorts(t *testing.T) {
	tb := table.New[person](byID)
	nameIdx := tb.AddIndex(byName)

	tb.Insert(person{id: 1, name: "bob"})
	tb.Insert(person{id: 2, name: "alice"})

	tb.QueryUpdate(0, func(p person) int { return 1 - p.id }, func(p *person) { p.name = "aaa" })

	var names []string
	tb.QueryAll(nameIdx, func(person) int { return 0 }, func(p person) { names = append(names, p.name) })
	if len(names) != 2 || names[0] != "aaa" || names[1] != "alice" {
		t.Fatalf("got %v", names)
	}
}

func TestQueryOrderBy(t *testing.T) {
	tb := table.New[person](byID)

	tb.Insert(person{id: 1, name: "a", age: 30})
	tb.Insert(person{id: 2, name: "b", age: 10})
	tb.Insert(person{id: 3, name: "c", age: 20})

	var ages []int
	tb.QueryOrderBy(0, func(person) int { return 0 }, func(a, b person) int { return a.age - b.age }, func(p person) {
		ages = append(ages, p.age)
	})

	want := []int{10, 20, 30}
	for i, w := range want {
		if ages[i] != w {
			t.Fatalf("got %v want %v", ages, want)
		}
	}
}
