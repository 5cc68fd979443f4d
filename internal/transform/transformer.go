// Package transform converts closed OSM elements into typed rows. It does
// no I/O; a coercion failure anywhere in an entity fails the entity before
// any of its rows exist.
package transform

import (
	"fmt"

	"github.com/paulmach/osm"

	"github.com/wegman-software/osmload/internal/docstream"
	"github.com/wegman-software/osmload/internal/errs"
	"github.com/wegman-software/osmload/internal/schema"
)

// NodeEntity holds the rows produced by one node element
type NodeEntity struct {
	Node schema.NodeRow
	Tags []schema.TagRow
}

// WayEntity holds the rows produced by one way element
type WayEntity struct {
	Way   schema.WayRow
	Nodes []schema.WayNodeRow // in document order, Sequence 1..N
	Tags  []schema.TagRow
}

// RelationEntity holds the rows produced by one relation element
type RelationEntity struct {
	Relation schema.RelationRow
	Members  []schema.MemberRow // node and way members in document order, Sequence 1..M
	Tags     []schema.TagRow
	// SkippedMembers counts relation-typed members, which have no table
	SkippedMembers int
}

// Metadata parses the editing attributes common to all entities
func Metadata(el *docstream.Element) (schema.Meta, error) {
	var (
		m   schema.Meta
		err error
	)
	if m.Timestamp, err = Timestamp(el); err != nil {
		return m, err
	}
	if m.UID, err = Int(el, "uid"); err != nil {
		return m, err
	}
	if m.Visible, err = Visible(el); err != nil {
		return m, err
	}
	if m.Version, err = Int(el, "version"); err != nil {
		return m, err
	}
	if m.Changeset, err = Int(el, "changeset"); err != nil {
		return m, err
	}
	m.User = Text(el, "user")
	return m, nil
}

// Node transforms a closed node element
func Node(el *docstream.Element) (*NodeEntity, error) {
	id, err := ID(el)
	if err != nil {
		return nil, err
	}
	meta, err := Metadata(el)
	if err != nil {
		return nil, err
	}
	lat, err := Decimal(el, "lat")
	if err != nil {
		return nil, err
	}
	lon, err := Decimal(el, "lon")
	if err != nil {
		return nil, err
	}

	e := &NodeEntity{
		Node: schema.NodeRow{ID: osm.NodeID(id), Lat: lat, Lon: lon, Meta: meta},
	}
	for _, child := range el.Children {
		if child.Name == "tag" {
			e.Tags = append(e.Tags, tag(child, osm.TypeNode, id))
		}
	}
	return e, nil
}

// Way transforms a closed way element. Node references are numbered in
// document order starting at 1.
func Way(el *docstream.Element) (*WayEntity, error) {
	id, err := ID(el)
	if err != nil {
		return nil, err
	}
	meta, err := Metadata(el)
	if err != nil {
		return nil, err
	}

	e := &WayEntity{
		Way: schema.WayRow{ID: osm.WayID(id), Meta: meta},
	}
	seq := NewSequencer()
	for _, child := range el.Children {
		switch child.Name {
		case "nd":
			ref, err := Ref(child, "ref")
			if err != nil {
				return nil, fmt.Errorf("way %d: %w", id, err)
			}
			e.Nodes = append(e.Nodes, schema.WayNodeRow{
				WayID:    osm.WayID(id),
				Sequence: seq.Next(),
				NodeID:   ref,
			})
		case "tag":
			e.Tags = append(e.Tags, tag(child, osm.TypeWay, id))
		}
	}
	return e, nil
}

// Relation transforms a closed relation element. Node and way members share
// one sequence in document order.
func Relation(el *docstream.Element) (*RelationEntity, error) {
	id, err := ID(el)
	if err != nil {
		return nil, err
	}
	meta, err := Metadata(el)
	if err != nil {
		return nil, err
	}

	e := &RelationEntity{
		Relation: schema.RelationRow{ID: osm.RelationID(id), Meta: meta},
	}
	seq := NewSequencer()
	for _, child := range el.Children {
		switch child.Name {
		case "member":
			typ, _ := child.Attr("type")
			switch osm.Type(typ) {
			case osm.TypeNode, osm.TypeWay:
			case osm.TypeRelation:
				e.SkippedMembers++
				continue
			default:
				_, present := child.Attr("type")
				return nil, fmt.Errorf("relation %d: %w", id,
					attrError(errs.ErrTypeCoercion, child, "type", typ, present, nil))
			}
			ref, err := Ref(child, "ref")
			if err != nil {
				return nil, fmt.Errorf("relation %d: %w", id, err)
			}
			e.Members = append(e.Members, schema.MemberRow{
				RelationID: osm.RelationID(id),
				Sequence:   seq.Next(),
				Type:       osm.Type(typ),
				Ref:        ref,
				Role:       Text(child, "role"),
			})
		case "tag":
			e.Tags = append(e.Tags, tag(child, osm.TypeRelation, id))
		}
	}
	return e, nil
}

func tag(el *docstream.Element, owner osm.Type, ownerID int64) schema.TagRow {
	return schema.TagRow{
		Owner:   owner,
		OwnerID: ownerID,
		Key:     Text(el, "k"),
		Value:   Text(el, "v"),
	}
}
