// Package export reads the normalized tables back out as an OSM XML
// document. Way nodes and relation members are written in sequence order,
// so an exported file re-imports to the same rows.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/osmload/internal/logger"
	"github.com/wegman-software/osmload/internal/schema"
)

// AllTypes is the default selection, in output order
var AllTypes = []osm.Type{osm.TypeNode, osm.TypeWay, osm.TypeRelation}

// Options selects what an export writes
type Options struct {
	// Types limits the output to these entity kinds; empty means AllTypes
	Types []osm.Type
}

// Stats holds the counts of an export run
type Stats struct {
	Nodes     int64
	Ways      int64
	Relations int64
	WayNodes  int64
	Members   int64
	Tags      int64
	// Orphans counts child rows whose parent row does not exist
	Orphans int64
}

// Exporter writes the contents of a Source as OSM XML
type Exporter struct {
	src   Source
	types []osm.Type
	stats Stats
	log   *zap.Logger
}

// New creates an exporter reading from src
func New(src Source, opts Options) *Exporter {
	types := opts.Types
	if len(types) == 0 {
		types = AllTypes
	}
	return &Exporter{
		src:   src,
		types: types,
		log:   logger.Get(),
	}
}

// ParseTypes turns names such as "node" or "ways" into entity kinds in
// output order, dropping duplicates
func ParseTypes(names []string) ([]osm.Type, error) {
	want := make(map[osm.Type]bool)
	for _, name := range names {
		t := osm.Type(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), "s"))
		switch t {
		case osm.TypeNode, osm.TypeWay, osm.TypeRelation:
			want[t] = true
		default:
			return nil, fmt.Errorf("unknown entity type %q", name)
		}
	}

	var types []osm.Type
	for _, t := range AllTypes {
		if want[t] {
			types = append(types, t)
		}
	}
	return types, nil
}

// Plan returns the queries an export of types runs, in execution order
func Plan(types []osm.Type) []schema.Query {
	if len(types) == 0 {
		types = AllTypes
	}
	var plan []schema.Query
	for _, t := range types {
		switch t {
		case osm.TypeNode:
			plan = append(plan, schema.SelectNodes, schema.SelectNodeTags)
		case osm.TypeWay:
			plan = append(plan, schema.SelectWays, schema.SelectWayNodes, schema.SelectWayTags)
		case osm.TypeRelation:
			plan = append(plan, schema.SelectRelations, schema.SelectMembers, schema.SelectRelationTags)
		}
	}
	return plan
}

// Run writes one complete document to out
func (e *Exporter) Run(ctx context.Context, out io.Writer) (*Stats, error) {
	x := newXMLWriter(out)
	x.header()

	for _, t := range e.types {
		e.log.Info("Exporting", zap.String("type", string(t)))
		var err error
		switch t {
		case osm.TypeNode:
			err = e.nodes(ctx, x)
		case osm.TypeWay:
			err = e.ways(ctx, x)
		case osm.TypeRelation:
			err = e.relations(ctx, x)
		default:
			err = fmt.Errorf("unknown entity type %q", t)
		}
		if err != nil {
			return nil, err
		}
		if x.err != nil {
			return nil, fmt.Errorf("failed to write output: %w", x.err)
		}
	}

	if err := x.footer(); err != nil {
		return nil, fmt.Errorf("failed to write output: %w", err)
	}
	if e.stats.Orphans > 0 {
		e.log.Warn("Skipped child rows without a parent row", zap.Int64("rows", e.stats.Orphans))
	}
	return &e.stats, nil
}

func (e *Exporter) nodes(ctx context.Context, x *xmlWriter) error {
	nodes, err := e.src.Nodes(ctx)
	if err != nil {
		return err
	}
	defer nodes.Close()
	tags, err := e.tags(ctx, osm.TypeNode)
	if err != nil {
		return err
	}
	defer tags.cur.Close()

	for nodes.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := nodes.Row()
		t, err := tags.take(int64(n.ID))
		if err != nil {
			return err
		}
		x.node(n, t)
		e.stats.Nodes++
		e.stats.Tags += int64(len(t))
	}
	if err := nodes.Err(); err != nil {
		return err
	}
	return e.finish(tags)
}

func (e *Exporter) ways(ctx context.Context, x *xmlWriter) error {
	ways, err := e.src.Ways(ctx)
	if err != nil {
		return err
	}
	defer ways.Close()
	wayNodes, err := e.src.WayNodes(ctx)
	if err != nil {
		return err
	}
	defer wayNodes.Close()
	nds := newChildren(wayNodes, func(r schema.WayNodeRow) int64 { return int64(r.WayID) })
	tags, err := e.tags(ctx, osm.TypeWay)
	if err != nil {
		return err
	}
	defer tags.cur.Close()

	for ways.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		w := ways.Row()
		n, err := nds.take(int64(w.ID))
		if err != nil {
			return err
		}
		t, err := tags.take(int64(w.ID))
		if err != nil {
			return err
		}
		x.way(w, n, t)
		e.stats.Ways++
		e.stats.WayNodes += int64(len(n))
		e.stats.Tags += int64(len(t))
	}
	if err := ways.Err(); err != nil {
		return err
	}
	if err := e.finish(nds); err != nil {
		return err
	}
	return e.finish(tags)
}

func (e *Exporter) relations(ctx context.Context, x *xmlWriter) error {
	relations, err := e.src.Relations(ctx)
	if err != nil {
		return err
	}
	defer relations.Close()
	memberRows, err := e.src.Members(ctx)
	if err != nil {
		return err
	}
	defer memberRows.Close()
	members := newChildren(memberRows, func(r schema.MemberRow) int64 { return int64(r.RelationID) })
	tags, err := e.tags(ctx, osm.TypeRelation)
	if err != nil {
		return err
	}
	defer tags.cur.Close()

	for relations.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		r := relations.Row()
		m, err := members.take(int64(r.ID))
		if err != nil {
			return err
		}
		t, err := tags.take(int64(r.ID))
		if err != nil {
			return err
		}
		x.relation(r, m, t)
		e.stats.Relations++
		e.stats.Members += int64(len(m))
		e.stats.Tags += int64(len(t))
	}
	if err := relations.Err(); err != nil {
		return err
	}
	if err := e.finish(members); err != nil {
		return err
	}
	return e.finish(tags)
}

func (e *Exporter) tags(ctx context.Context, owner osm.Type) (*children[schema.TagRow], error) {
	cur, err := e.src.Tags(ctx, owner)
	if err != nil {
		return nil, err
	}
	return newChildren(cur, func(r schema.TagRow) int64 { return r.OwnerID }), nil
}

type drainer interface {
	drain() (int64, error)
}

func (e *Exporter) finish(c drainer) error {
	n, err := c.drain()
	e.stats.Orphans += n
	return err
}
