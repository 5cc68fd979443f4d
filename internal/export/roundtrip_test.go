package export

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/paulmach/osm"

	"github.com/wegman-software/osmload/internal/docstream"
	"github.com/wegman-software/osmload/internal/pgxtest"
	"github.com/wegman-software/osmload/internal/pipeline"
	"github.com/wegman-software/osmload/internal/schema"
)

const roundTripDoc = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
  <bounds minlat="43.72" minlon="7.40" maxlat="43.75" maxlon="7.44"/>
  <node id="3" lat="43.7301" lon="7.4199" timestamp="2024-01-15T12:00:03Z" uid="7" user="b" visible="false" version="1" changeset="5"/>
  <node id="1" lat="43.7384" lon="7.4246" timestamp="2024-01-15T12:00:00Z" uid="42" user="a &amp; b" visible="true" version="2" changeset="9">
    <tag k="name" v="Test Node"/>
    <tag k="amenity" v="cafe"/>
  </node>
  <way id="100" timestamp="2024-01-15T12:00:00Z">
    <nd ref="3"/>
    <nd ref="1"/>
    <nd ref="3"/>
    <tag k="highway" v="residential"/>
  </way>
  <relation id="200" timestamp="2024-01-15T12:00:00Z" version="4">
    <member type="way" ref="100" role="outer"/>
    <member type="relation" ref="201" role="sub"/>
    <member type="node" ref="1" role=""/>
    <member type="node" ref="3"/>
    <tag k="type" v="multipolygon"/>
  </relation>
</osm>`

func load(t *testing.T, doc string) *pgxtest.Recorder {
	t.Helper()
	rec := pgxtest.New()
	src := docstream.NewStream(strings.NewReader(doc), int64(len(doc)))
	if _, err := pipeline.NewLoader(src, pipeline.NewWriter(rec, pipeline.WriterOptions{})).Run(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return rec
}

func meta(args []any) schema.Meta {
	return schema.Meta{
		Timestamp: args[0].(pgtype.Timestamp).Time,
		UID:       args[1].(pgtype.Int8),
		User:      args[2].(pgtype.Text),
		Visible:   args[3].(pgtype.Bool),
		Version:   args[4].(pgtype.Int8),
		Changeset: args[5].(pgtype.Int8),
	}
}

// sourceOf turns committed inserts back into rows served in query order
func sourceOf(rec *pgxtest.Recorder) *memSource {
	src := &memSource{tags: make(map[osm.Type][]schema.TagRow)}
	for _, e := range rec.Committed {
		a := e.Args
		switch e.Table {
		case "nodes":
			src.nodes = append(src.nodes, schema.NodeRow{
				ID: osm.NodeID(a[0].(int64)), Lat: a[1].(pgtype.Float8), Lon: a[2].(pgtype.Float8), Meta: meta(a[3:]),
			})
		case "ways":
			src.ways = append(src.ways, schema.WayRow{ID: osm.WayID(a[0].(int64)), Meta: meta(a[1:])})
		case "relations":
			src.relations = append(src.relations, schema.RelationRow{ID: osm.RelationID(a[0].(int64)), Meta: meta(a[1:])})
		case "way_constituent_nodes":
			src.wayNodes = append(src.wayNodes, schema.WayNodeRow{
				WayID: osm.WayID(a[0].(int64)), Sequence: a[1].(int64), NodeID: a[2].(pgtype.Int8),
			})
		case "relation_constituent_nodes", "relation_constituent_ways":
			typ := osm.TypeNode
			if e.Table == "relation_constituent_ways" {
				typ = osm.TypeWay
			}
			src.members = append(src.members, schema.MemberRow{
				RelationID: osm.RelationID(a[0].(int64)), Sequence: a[1].(int64), Type: typ,
				Ref: a[2].(pgtype.Int8), Role: a[3].(pgtype.Text),
			})
		case "node_tags", "way_tags", "relation_tags":
			owner := osm.Type(strings.TrimSuffix(e.Table, "_tags"))
			src.tags[owner] = append(src.tags[owner], schema.TagRow{
				Owner: owner, OwnerID: a[0].(int64), Key: a[1].(pgtype.Text), Value: a[2].(pgtype.Text),
			})
		}
	}

	slices.SortFunc(src.nodes, func(a, b schema.NodeRow) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(src.ways, func(a, b schema.WayRow) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(src.relations, func(a, b schema.RelationRow) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(src.wayNodes, func(a, b schema.WayNodeRow) int {
		return cmpOr(cmp.Compare(a.WayID, b.WayID), cmp.Compare(a.Sequence, b.Sequence))
	})
	slices.SortFunc(src.members, func(a, b schema.MemberRow) int {
		return cmpOr(cmp.Compare(a.RelationID, b.RelationID), cmp.Compare(a.Sequence, b.Sequence))
	})
	for owner, tags := range src.tags {
		slices.SortFunc(tags, func(a, b schema.TagRow) int {
			return cmpOr(cmp.Compare(a.OwnerID, b.OwnerID), cmp.Compare(a.Key.String, b.Key.String))
		})
		src.tags[owner] = tags
	}
	return src
}

// rowSet renders committed rows in a comparable, order-independent form
func rowSet(rec *pgxtest.Recorder) []string {
	var rows []string
	for _, e := range rec.Committed {
		rows = append(rows, fmt.Sprintf("%s %v", e.Table, e.Args))
	}
	slices.Sort(rows)
	return rows
}

func TestExportReimportsToSameRows(t *testing.T) {
	first := load(t, roundTripDoc)

	var buf bytes.Buffer
	stats, err := New(sourceOf(first), Options{}).Run(context.Background(), &buf)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if stats.Nodes != 2 || stats.Ways != 1 || stats.Relations != 1 || stats.WayNodes != 3 || stats.Members != 3 {
		t.Errorf("unexpected export stats %+v", stats)
	}

	second := load(t, buf.String())

	want, got := rowSet(first), rowSet(second)
	if !slices.Equal(want, got) {
		t.Errorf("re-import differs\nfirst:\n%s\nsecond:\n%s\nexported:\n%s",
			strings.Join(want, "\n"), strings.Join(got, "\n"), buf.String())
	}
}

func TestExportKeepsSequenceOrder(t *testing.T) {
	var buf bytes.Buffer
	if _, err := New(sourceOf(load(t, roundTripDoc)), Options{}).Run(context.Background(), &buf); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	out := buf.String()

	way := out[strings.Index(out, "<way"):strings.Index(out, "</way>")]
	if got := strings.Count(way, "<nd "); got != 3 {
		t.Fatalf("expected 3 nd elements, got %d", got)
	}
	if !strings.Contains(way, `<nd ref="3"/>
    <nd ref="1"/>
    <nd ref="3"/>`) {
		t.Errorf("way nodes out of sequence:\n%s", way)
	}

	relation := out[strings.Index(out, "<relation"):strings.Index(out, "</relation>")]
	outer := strings.Index(relation, `type="way" ref="100"`)
	first := strings.Index(relation, `type="node" ref="1"`)
	last := strings.Index(relation, `type="node" ref="3"`)
	if outer < 0 || !(outer < first && first < last) {
		t.Errorf("members not merged by sequence:\n%s", relation)
	}
}

// cmpOr returns the first non-zero comparison result, like cmp.Or (Go 1.22+).
func cmpOr(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
