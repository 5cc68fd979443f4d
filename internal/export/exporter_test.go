package export

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/paulmach/osm"

	"github.com/wegman-software/osmload/internal/schema"
)

var ts = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

func text(s string) pgtype.Text  { return pgtype.Text{String: s, Valid: true} }
func bigint(n int64) pgtype.Int8 { return pgtype.Int8{Int64: n, Valid: true} }

func sampleSource() *memSource {
	return &memSource{
		nodes: []schema.NodeRow{
			{
				ID:  1,
				Lat: pgtype.Float8{Float64: 43.7384, Valid: true},
				Lon: pgtype.Float8{Float64: 7.4246, Valid: true},
				Meta: schema.Meta{
					Timestamp: ts,
					UID:       bigint(42),
					User:      text("mapper"),
					Visible:   pgtype.Bool{Bool: true, Valid: true},
					Version:   bigint(3),
					Changeset: bigint(99),
				},
			},
			{ID: 2, Meta: schema.Meta{Timestamp: ts}},
		},
		ways: []schema.WayRow{
			{ID: 10, Meta: schema.Meta{Timestamp: ts}},
			{ID: 11, Meta: schema.Meta{Timestamp: ts}},
		},
		wayNodes: []schema.WayNodeRow{
			{WayID: 10, Sequence: 1, NodeID: bigint(2)},
			{WayID: 10, Sequence: 2, NodeID: bigint(1)},
		},
		relations: []schema.RelationRow{
			{ID: 20, Meta: schema.Meta{Timestamp: ts}},
		},
		members: []schema.MemberRow{
			{RelationID: 20, Sequence: 1, Type: osm.TypeWay, Ref: bigint(10), Role: text("outer")},
			{RelationID: 20, Sequence: 2, Type: osm.TypeNode, Ref: bigint(1)},
		},
		tags: map[osm.Type][]schema.TagRow{
			osm.TypeNode: {
				{Owner: osm.TypeNode, OwnerID: 1, Key: text("name"), Value: text(`Café "<Monaco>" & co`)},
			},
			osm.TypeRelation: {
				{Owner: osm.TypeRelation, OwnerID: 20, Key: text("type"), Value: text("multipolygon")},
				{Owner: osm.TypeRelation, OwnerID: 20, Key: text("note")},
			},
		},
	}
}

func runExport(t *testing.T, src Source, opts Options) (string, *Stats) {
	t.Helper()
	var buf bytes.Buffer
	stats, err := New(src, opts).Run(context.Background(), &buf)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	return buf.String(), stats
}

func TestExportDocument(t *testing.T) {
	out, stats := runExport(t, sampleSource(), Options{})

	want := `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="osmload">
  <node id="1" lat="43.7384" lon="7.4246" timestamp="2024-01-15T12:00:00Z" uid="42" user="mapper" visible="true" version="3" changeset="99">
    <tag k="name" v="Café &#34;&lt;Monaco&gt;&#34; &amp; co"/>
  </node>
  <node id="2" timestamp="2024-01-15T12:00:00Z"/>
  <way id="10" timestamp="2024-01-15T12:00:00Z">
    <nd ref="2"/>
    <nd ref="1"/>
  </way>
  <way id="11" timestamp="2024-01-15T12:00:00Z"/>
  <relation id="20" timestamp="2024-01-15T12:00:00Z">
    <member type="way" ref="10" role="outer"/>
    <member type="node" ref="1"/>
    <tag k="type" v="multipolygon"/>
    <tag k="note"/>
  </relation>
</osm>
`
	if out != want {
		t.Errorf("unexpected document:\n%s\nexpected:\n%s", out, want)
	}

	expected := Stats{Nodes: 2, Ways: 2, Relations: 1, WayNodes: 2, Members: 2, Tags: 3}
	if *stats != expected {
		t.Errorf("expected stats %+v, got %+v", expected, *stats)
	}
}

func TestExportTypeSelection(t *testing.T) {
	out, stats := runExport(t, sampleSource(), Options{Types: []osm.Type{osm.TypeWay}})

	if strings.Contains(out, "<node") || strings.Contains(out, "<relation") {
		t.Errorf("expected ways only, got:\n%s", out)
	}
	if stats.Ways != 2 || stats.Nodes != 0 || stats.Relations != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestExportCountsOrphans(t *testing.T) {
	src := sampleSource()
	src.wayNodes = append(src.wayNodes, schema.WayNodeRow{WayID: 12, Sequence: 1, NodeID: bigint(1)})

	_, stats := runExport(t, src, Options{})
	if stats.Orphans != 1 {
		t.Errorf("expected 1 orphan, got %d", stats.Orphans)
	}
}

func TestExportErrors(t *testing.T) {
	src := sampleSource()
	src.failTags = errCursor
	if _, err := New(src, Options{}).Run(context.Background(), &bytes.Buffer{}); !errors.Is(err, errCursor) {
		t.Errorf("expected tag query error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(sampleSource(), Options{}).Run(ctx, &bytes.Buffer{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestParseTypes(t *testing.T) {
	tests := []struct {
		names   []string
		want    []osm.Type
		wantErr bool
	}{
		{[]string{"relation", "node"}, []osm.Type{osm.TypeNode, osm.TypeRelation}, false},
		{[]string{"ways", "Way"}, []osm.Type{osm.TypeWay}, false},
		{[]string{" nodes "}, []osm.Type{osm.TypeNode}, false},
		{[]string{"area"}, nil, true},
		{nil, nil, false},
	}

	for _, tt := range tests {
		got, err := ParseTypes(tt.names)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseTypes(%v): error = %v, wantErr %v", tt.names, err, tt.wantErr)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("ParseTypes(%v) = %v, expected %v", tt.names, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseTypes(%v)[%d] = %s, expected %s", tt.names, i, got[i], tt.want[i])
			}
		}
	}
}

func TestPlan(t *testing.T) {
	all := Plan(nil)
	if len(all) != 8 {
		t.Fatalf("expected 8 queries, got %d", len(all))
	}
	if all[0] != schema.SelectNodes || all[len(all)-1] != schema.SelectRelationTags {
		t.Errorf("unexpected order: first %s, last %s", all[0].Table, all[len(all)-1].Table)
	}

	ways := Plan([]osm.Type{osm.TypeWay})
	if len(ways) != 3 || ways[1] != schema.SelectWayNodes {
		t.Errorf("unexpected way plan %v", ways)
	}
	if !strings.Contains(schema.SelectMembers.SQL, "ORDER BY relation_id, member_sequence") {
		t.Error("members must be merged in sequence order")
	}
}
