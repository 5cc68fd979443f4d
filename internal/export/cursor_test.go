package export

import (
	"errors"
	"testing"
)

type owned struct {
	owner int64
	seq   int
}

func ownedRows(owners ...int64) *sliceCursor[owned] {
	rows := make([]owned, len(owners))
	for i, o := range owners {
		rows[i] = owned{owner: o, seq: i + 1}
	}
	return &sliceCursor[owned]{rows: rows}
}

func TestChildrenTake(t *testing.T) {
	c := newChildren[owned](ownedRows(1, 1, 3, 3, 3, 7), func(r owned) int64 { return r.owner })

	tests := []struct {
		parent int64
		want   []int
	}{
		{1, []int{1, 2}},
		{2, nil},
		{3, []int{3, 4, 5}},
		{5, nil},
		{7, []int{6}},
		{9, nil},
	}

	for _, tt := range tests {
		rows, err := c.take(tt.parent)
		if err != nil {
			t.Fatalf("take(%d): unexpected error: %v", tt.parent, err)
		}
		if len(rows) != len(tt.want) {
			t.Fatalf("take(%d): expected %d rows, got %d", tt.parent, len(tt.want), len(rows))
		}
		for i, r := range rows {
			if r.owner != tt.parent || r.seq != tt.want[i] {
				t.Errorf("take(%d)[%d]: expected seq %d, got %+v", tt.parent, i, tt.want[i], r)
			}
		}
	}

	orphans, err := c.drain()
	if err != nil || orphans != 0 {
		t.Errorf("expected no orphans, got %d (%v)", orphans, err)
	}
}

func TestChildrenOrphans(t *testing.T) {
	c := newChildren[owned](ownedRows(1, 2, 2, 4, 8, 9), func(r owned) int64 { return r.owner })

	if rows, _ := c.take(2); len(rows) != 2 {
		t.Fatalf("expected 2 rows for owner 2, got %d", len(rows))
	}
	if rows, _ := c.take(4); len(rows) != 1 {
		t.Fatalf("expected 1 row for owner 4, got %d", len(rows))
	}

	orphans, err := c.drain()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// owner 1 precedes every parent; 8 and 9 follow the last one
	if orphans != 3 {
		t.Errorf("expected 3 orphans, got %d", orphans)
	}
}

func TestChildrenCursorError(t *testing.T) {
	cur := ownedRows(1)
	cur.err = errCursor
	c := newChildren[owned](cur, func(r owned) int64 { return r.owner })

	if _, err := c.take(1); !errors.Is(err, errCursor) {
		t.Errorf("expected cursor error, got %v", err)
	}
}
