package export

// Cursor walks the rows of one query in order
type Cursor[T any] interface {
	Next() bool
	Row() T
	Err() error
	Close()
}

// children hands out the rows of a child table grouped by owner. The cursor
// must be ordered by owner id, like the parent cursor it is merged with.
type children[T any] struct {
	cur     Cursor[T]
	owner   func(T) int64
	pending bool
	orphans int64
}

func newChildren[T any](cur Cursor[T], owner func(T) int64) *children[T] {
	return &children[T]{cur: cur, owner: owner}
}

// take returns the rows owned by id. Rows of smaller owner ids have no
// parent row and are counted as orphans.
func (c *children[T]) take(id int64) ([]T, error) {
	var rows []T
	for {
		if !c.pending {
			if !c.cur.Next() {
				return rows, c.cur.Err()
			}
			c.pending = true
		}

		row := c.cur.Row()
		switch owner := c.owner(row); {
		case owner < id:
			c.orphans++
		case owner == id:
			rows = append(rows, row)
		default:
			return rows, nil
		}
		c.pending = false
	}
}

// drain counts the rows left after the last parent as orphans
func (c *children[T]) drain() (int64, error) {
	if c.pending {
		c.orphans++
		c.pending = false
	}
	for c.cur.Next() {
		c.orphans++
	}
	return c.orphans, c.cur.Err()
}
