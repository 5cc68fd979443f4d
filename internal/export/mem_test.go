package export

import (
	"context"
	"errors"

	"github.com/paulmach/osm"

	"github.com/wegman-software/osmload/internal/schema"
)

type sliceCursor[T any] struct {
	rows   []T
	i      int
	err    error // returned once the rows are exhausted
	closed bool
}

func (c *sliceCursor[T]) Next() bool {
	if c.i >= len(c.rows) {
		return false
	}
	c.i++
	return true
}

func (c *sliceCursor[T]) Row() T {
	return c.rows[c.i-1]
}

func (c *sliceCursor[T]) Err() error {
	if c.i >= len(c.rows) {
		return c.err
	}
	return nil
}

func (c *sliceCursor[T]) Close() {
	c.closed = true
}

// memSource serves rows from slices that are already in query order
type memSource struct {
	nodes     []schema.NodeRow
	ways      []schema.WayRow
	relations []schema.RelationRow
	wayNodes  []schema.WayNodeRow
	members   []schema.MemberRow
	tags      map[osm.Type][]schema.TagRow

	failTags error
}

func (s *memSource) Nodes(ctx context.Context) (Cursor[schema.NodeRow], error) {
	return &sliceCursor[schema.NodeRow]{rows: s.nodes}, nil
}

func (s *memSource) Ways(ctx context.Context) (Cursor[schema.WayRow], error) {
	return &sliceCursor[schema.WayRow]{rows: s.ways}, nil
}

func (s *memSource) Relations(ctx context.Context) (Cursor[schema.RelationRow], error) {
	return &sliceCursor[schema.RelationRow]{rows: s.relations}, nil
}

func (s *memSource) WayNodes(ctx context.Context) (Cursor[schema.WayNodeRow], error) {
	return &sliceCursor[schema.WayNodeRow]{rows: s.wayNodes}, nil
}

func (s *memSource) Members(ctx context.Context) (Cursor[schema.MemberRow], error) {
	return &sliceCursor[schema.MemberRow]{rows: s.members}, nil
}

func (s *memSource) Tags(ctx context.Context, owner osm.Type) (Cursor[schema.TagRow], error) {
	if s.failTags != nil {
		return nil, s.failTags
	}
	return &sliceCursor[schema.TagRow]{rows: s.tags[owner]}, nil
}

var errCursor = errors.New("connection reset")
