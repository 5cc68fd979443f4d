package schema

import (
	"fmt"

	"github.com/paulmach/osm"
)

// Query is a read over one table, ordered so that child rows arrive grouped
// by owner id in the same order as their parents
type Query struct {
	Table string
	SQL   string
}

var (
	SelectNodes = Query{"nodes", `
		SELECT id, lat::float8, lon::float8, timestamp, uid, usr, visible, version, changeset
		FROM nodes
		ORDER BY id`}
	SelectWays = Query{"ways", `
		SELECT id, timestamp, uid, usr, visible, version, changeset
		FROM ways
		ORDER BY id`}
	SelectRelations = Query{"relations", `
		SELECT id, timestamp, uid, usr, visible, version, changeset
		FROM relations
		ORDER BY id`}
	SelectWayNodes = Query{"way_constituent_nodes", `
		SELECT way_id, node_sequence, node_id
		FROM way_constituent_nodes
		ORDER BY way_id, node_sequence`}
	// SelectMembers merges node and way members back into one sequence
	SelectMembers = Query{"relation_constituent_nodes+relation_constituent_ways", `
		SELECT relation_id, member_sequence, 'node' AS type, node_id AS ref, role
		FROM relation_constituent_nodes
		UNION ALL
		SELECT relation_id, member_sequence, 'way' AS type, way_id AS ref, role
		FROM relation_constituent_ways
		ORDER BY relation_id, member_sequence`}
	SelectNodeTags = Query{"node_tags", `
		SELECT node_id, key, value
		FROM node_tags
		ORDER BY node_id, key`}
	SelectWayTags = Query{"way_tags", `
		SELECT way_id, key, value
		FROM way_tags
		ORDER BY way_id, key`}
	SelectRelationTags = Query{"relation_tags", `
		SELECT relation_id, key, value
		FROM relation_tags
		ORDER BY relation_id, key`}
)

// TagQuery returns the tag read for entities of type t
func TagQuery(t osm.Type) (Query, error) {
	switch t {
	case osm.TypeNode:
		return SelectNodeTags, nil
	case osm.TypeWay:
		return SelectWayTags, nil
	case osm.TypeRelation:
		return SelectRelationTags, nil
	default:
		return Query{}, fmt.Errorf("no tag table for type %q", t)
	}
}
