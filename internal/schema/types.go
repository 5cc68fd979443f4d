package schema

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/paulmach/osm"
)

// Meta holds the editing metadata shared by nodes, ways and relations.
// Every field except Timestamp is NULL when the source omits it.
type Meta struct {
	Timestamp time.Time
	UID       pgtype.Int8
	User      pgtype.Text
	Visible   pgtype.Bool
	Version   pgtype.Int8
	Changeset pgtype.Int8
}

// NodeRow is a row of the nodes table
type NodeRow struct {
	ID  osm.NodeID
	Lat pgtype.Float8
	Lon pgtype.Float8
	Meta
}

// Args returns the insert arguments in InsertNode column order
func (r NodeRow) Args() []any {
	return []any{int64(r.ID), r.Lat, r.Lon, timestamp(r.Timestamp), r.UID, r.User, r.Visible, r.Version, r.Changeset}
}

// WayRow is a row of the ways table
type WayRow struct {
	ID osm.WayID
	Meta
}

// Args returns the insert arguments in InsertWay column order
func (r WayRow) Args() []any {
	return []any{int64(r.ID), timestamp(r.Timestamp), r.UID, r.User, r.Visible, r.Version, r.Changeset}
}

// RelationRow is a row of the relations table
type RelationRow struct {
	ID osm.RelationID
	Meta
}

// Args returns the insert arguments in InsertRelation column order
func (r RelationRow) Args() []any {
	return []any{int64(r.ID), timestamp(r.Timestamp), r.UID, r.User, r.Visible, r.Version, r.Changeset}
}

// WayNodeRow places one node reference at a 1-based position in a way
type WayNodeRow struct {
	WayID    osm.WayID
	Sequence int64
	NodeID   pgtype.Int8
}

// Args returns the insert arguments in InsertWayNode column order
func (r WayNodeRow) Args() []any {
	return []any{int64(r.WayID), r.Sequence, r.NodeID}
}

// MemberRow places one node or way member at a 1-based position in a
// relation. Node and way members of one relation share the position space.
type MemberRow struct {
	RelationID osm.RelationID
	Sequence   int64
	Type       osm.Type // osm.TypeNode or osm.TypeWay
	Ref        pgtype.Int8
	Role       pgtype.Text
}

// Args returns the insert arguments in member insert column order
func (r MemberRow) Args() []any {
	return []any{int64(r.RelationID), r.Sequence, r.Ref, r.Role}
}

// TagRow is a key/value pair attached to a node, way or relation
type TagRow struct {
	Owner   osm.Type
	OwnerID int64
	Key     pgtype.Text
	Value   pgtype.Text
}

// Args returns the insert arguments in tag insert column order
func (r TagRow) Args() []any {
	return []any{r.OwnerID, r.Key, r.Value}
}

func timestamp(t time.Time) pgtype.Timestamp {
	return pgtype.Timestamp{Time: t.UTC(), Valid: true}
}
