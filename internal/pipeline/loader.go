package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/wegman-software/osmload/internal/docstream"
	"github.com/wegman-software/osmload/internal/logger"
	"github.com/wegman-software/osmload/internal/schema"
	"github.com/wegman-software/osmload/internal/transform"
)

// SupportedVersion is the OSM API version the schema is modelled on
const SupportedVersion = "0.6"

// EventSource yields document events; *docstream.Stream satisfies it
type EventSource interface {
	Next() (docstream.Event, error)
}

// ImportStats holds the row counts of an import run
type ImportStats struct {
	Nodes     int64
	Ways      int64
	Relations int64
	WayNodes  int64
	Members   int64
	Tags      int64
	// SkippedRelationMembers counts relation-typed members, which the
	// schema has no table for
	SkippedRelationMembers int64
	// IgnoredEntities counts node, way and relation elements that are not
	// direct children of the root, e.g. the contents of an osmChange
	// create/modify/delete block
	IgnoredEntities int64
	VersionMismatch bool
	Writer          WriterStats
}

// Loader drives a single forward pass over the document, writing each
// entity as soon as its element closes
type Loader struct {
	src   EventSource
	w     *Writer
	stats ImportStats
	log   *zap.Logger
}

// NewLoader creates a loader reading from src and writing through w
func NewLoader(src EventSource, w *Writer) *Loader {
	return &Loader{
		src: src,
		w:   w,
		log: logger.Get(),
	}
}

// Run streams the whole document into the store. On error the batch since
// the last checkpoint is rolled back and nothing else is retried.
func (l *Loader) Run(ctx context.Context) (*ImportStats, error) {
	if err := l.w.Start(ctx); err != nil {
		return nil, err
	}

	if err := l.run(ctx); err != nil {
		l.w.Abort(ctx)
		return nil, err
	}

	if err := l.w.Finish(ctx); err != nil {
		return nil, err
	}

	l.stats.Writer = l.w.Stats()
	return &l.stats, nil
}

func (l *Loader) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := l.src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		el := ev.Element
		if ev.Kind == docstream.ElementOpened {
			if el.Name == "osm" {
				l.checkVersion(el)
			}
			continue
		}

		switch el.Name {
		case "node", "way", "relation":
			if el.Depth != 1 {
				l.ignore(el)
				continue
			}
			if err := l.entity(ctx, el); err != nil {
				return err
			}
		case "tag", "nd", "member":
			// Buffered until the owning entity closes. Strays outside an
			// entity have nothing to attach to.
			if el.Depth < 2 {
				el.Release()
			}
		default:
			el.Release()
		}
	}
}

func (l *Loader) checkVersion(el *docstream.Element) {
	version, _ := el.Attr("version")
	if version != SupportedVersion {
		l.stats.VersionMismatch = true
		l.log.Warn("OSM data version must be "+SupportedVersion,
			zap.String("version", version))
	}
}

func (l *Loader) ignore(el *docstream.Element) {
	if l.stats.IgnoredEntities == 0 {
		l.log.Warn("Ignoring nested OSM entities; only direct children of the root are loaded",
			zap.String("element", el.Name),
			zap.Int("depth", el.Depth))
	}
	l.stats.IgnoredEntities++
	el.Release()
}

// entity writes one closed top-level element and releases its subtree
func (l *Loader) entity(ctx context.Context, el *docstream.Element) error {
	var err error
	switch el.Name {
	case "node":
		err = l.node(ctx, el)
	case "way":
		err = l.way(ctx, el)
	case "relation":
		err = l.relation(ctx, el)
	}
	if err != nil {
		if err = l.w.EntityFailed(ctx, err); err != nil {
			return err
		}
	}

	el.Release()
	return l.w.EntityDone(ctx)
}

func (l *Loader) node(ctx context.Context, el *docstream.Element) error {
	e, err := transform.Node(el)
	if err != nil {
		return err
	}
	if err := l.w.BeginEntity(ctx); err != nil {
		return err
	}
	if err := l.w.Insert(ctx, schema.InsertNode, e.Node.Args()...); err != nil {
		return fmt.Errorf("node %d: %w", e.Node.ID, err)
	}
	if err := l.tags(ctx, e.Tags); err != nil {
		return fmt.Errorf("node %d: %w", e.Node.ID, err)
	}
	l.stats.Nodes++
	return nil
}

func (l *Loader) way(ctx context.Context, el *docstream.Element) error {
	e, err := transform.Way(el)
	if err != nil {
		return err
	}
	if err := l.w.BeginEntity(ctx); err != nil {
		return err
	}
	if err := l.w.Insert(ctx, schema.InsertWay, e.Way.Args()...); err != nil {
		return fmt.Errorf("way %d: %w", e.Way.ID, err)
	}
	for _, wn := range e.Nodes {
		if err := l.w.Insert(ctx, schema.InsertWayNode, wn.Args()...); err != nil {
			return fmt.Errorf("way %d: %w", e.Way.ID, err)
		}
	}
	if err := l.tags(ctx, e.Tags); err != nil {
		return fmt.Errorf("way %d: %w", e.Way.ID, err)
	}
	l.stats.Ways++
	l.stats.WayNodes += int64(len(e.Nodes))
	return nil
}

func (l *Loader) relation(ctx context.Context, el *docstream.Element) error {
	e, err := transform.Relation(el)
	if err != nil {
		return err
	}
	if err := l.w.BeginEntity(ctx); err != nil {
		return err
	}
	if err := l.w.Insert(ctx, schema.InsertRelation, e.Relation.Args()...); err != nil {
		return fmt.Errorf("relation %d: %w", e.Relation.ID, err)
	}
	for _, m := range e.Members {
		stmt, err := schema.MemberStatement(m.Type)
		if err != nil {
			return fmt.Errorf("relation %d: %w", e.Relation.ID, err)
		}
		if err := l.w.Insert(ctx, stmt, m.Args()...); err != nil {
			return fmt.Errorf("relation %d: %w", e.Relation.ID, err)
		}
	}
	if err := l.tags(ctx, e.Tags); err != nil {
		return fmt.Errorf("relation %d: %w", e.Relation.ID, err)
	}
	l.stats.Relations++
	l.stats.Members += int64(len(e.Members))
	l.stats.SkippedRelationMembers += int64(e.SkippedMembers)
	return nil
}

func (l *Loader) tags(ctx context.Context, tags []schema.TagRow) error {
	for _, t := range tags {
		stmt, err := schema.TagStatement(t.Owner)
		if err != nil {
			return err
		}
		if err := l.w.Insert(ctx, stmt, t.Args()...); err != nil {
			return err
		}
	}
	l.stats.Tags += int64(len(tags))
	return nil
}
