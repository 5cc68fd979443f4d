// Package schema owns the normalized OSM table layout: the one-time DDL,
// the row types and the insert statements that target it.
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/osmload/internal/errs"
	"github.com/wegman-software/osmload/internal/logger"
)

// Table describes one table of the schema and the statement creating it
type Table struct {
	Name   string
	Create string
}

// Tables lists the schema in creation order; parents precede the tables
// whose foreign keys reference them.
var Tables = []Table{
	{
		Name: "nodes",
		Create: `
			CREATE TABLE nodes (
				id BIGINT PRIMARY KEY NOT NULL,
				lat DECIMAL(9, 7),
				lon DECIMAL(10, 7),
				timestamp TIMESTAMP(0),
				uid BIGINT,
				usr VARCHAR(255),
				visible BOOL,
				version BIGINT,
				changeset BIGINT
			)`,
	},
	{
		Name: "ways",
		Create: `
			CREATE TABLE ways (
				id BIGINT PRIMARY KEY NOT NULL,
				timestamp TIMESTAMP(0),
				uid BIGINT,
				usr VARCHAR(255),
				visible BOOL,
				version BIGINT,
				changeset BIGINT
			)`,
	},
	{
		Name: "way_constituent_nodes",
		Create: `
			CREATE TABLE way_constituent_nodes (
				way_id BIGINT NOT NULL,
				node_sequence BIGINT NOT NULL CHECK (node_sequence > 0),
				node_id BIGINT NOT NULL,
				PRIMARY KEY (way_id, node_sequence),
				FOREIGN KEY (way_id) REFERENCES ways(id)
			)`,
	},
	{
		Name: "relations",
		Create: `
			CREATE TABLE relations (
				id BIGINT PRIMARY KEY NOT NULL,
				timestamp TIMESTAMP(0),
				uid BIGINT,
				usr VARCHAR(255),
				visible BOOL,
				version BIGINT,
				changeset BIGINT
			)`,
	},
	{
		Name: "relation_constituent_nodes",
		Create: `
			CREATE TABLE relation_constituent_nodes (
				relation_id BIGINT NOT NULL,
				member_sequence BIGINT NOT NULL CHECK (member_sequence > 0),
				node_id BIGINT NOT NULL,
				role VARCHAR(255),
				PRIMARY KEY (relation_id, member_sequence),
				FOREIGN KEY (relation_id) REFERENCES relations(id)
			)`,
	},
	{
		Name: "relation_constituent_ways",
		Create: `
			CREATE TABLE relation_constituent_ways (
				relation_id BIGINT NOT NULL,
				member_sequence BIGINT NOT NULL CHECK (member_sequence > 0),
				way_id BIGINT NOT NULL,
				role VARCHAR(255),
				PRIMARY KEY (relation_id, member_sequence),
				FOREIGN KEY (relation_id) REFERENCES relations(id)
			)`,
	},
	{
		Name: "node_tags",
		Create: `
			CREATE TABLE node_tags (
				node_id BIGINT NOT NULL,
				key VARCHAR(255) NOT NULL,
				value VARCHAR(255),
				PRIMARY KEY (node_id, key),
				FOREIGN KEY (node_id) REFERENCES nodes(id)
			)`,
	},
	{
		Name: "way_tags",
		Create: `
			CREATE TABLE way_tags (
				way_id BIGINT NOT NULL,
				key VARCHAR(255) NOT NULL,
				value VARCHAR(255),
				PRIMARY KEY (way_id, key),
				FOREIGN KEY (way_id) REFERENCES ways(id)
			)`,
	},
	{
		Name: "relation_tags",
		Create: `
			CREATE TABLE relation_tags (
				relation_id BIGINT NOT NULL,
				key VARCHAR(255) NOT NULL,
				value VARCHAR(255),
				PRIMARY KEY (relation_id, key),
				FOREIGN KEY (relation_id) REFERENCES relations(id)
			)`,
	},
}

// Execer is the subset of *pgx.Conn used to create the schema
type Execer interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Create executes the DDL for every table in one transaction. It is not
// idempotent: running it against an initialized database fails because the
// tables already exist.
func Create(ctx context.Context, db Execer) error {
	log := logger.Get()

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", errs.ErrSchemaInit, err)
	}
	defer tx.Rollback(ctx)

	for _, t := range Tables {
		log.Debug("Creating table", zap.String("table", t.Name))
		if _, err := tx.Exec(ctx, t.Create); err != nil {
			return fmt.Errorf("%w: create table %s: %w", errs.ErrSchemaInit, t.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", errs.ErrSchemaInit, err)
	}

	log.Info("Tables were initialized", zap.Int("tables", len(Tables)))
	return nil
}

// Statement is a parameterized single-row insert
type Statement struct {
	Table string
	SQL   string
}

var (
	InsertNode = Statement{"nodes", `
		INSERT INTO nodes (id, lat, lon, timestamp, uid, usr, visible, version, changeset)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`}
	InsertWay = Statement{"ways", `
		INSERT INTO ways (id, timestamp, uid, usr, visible, version, changeset)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`}
	InsertWayNode = Statement{"way_constituent_nodes", `
		INSERT INTO way_constituent_nodes (way_id, node_sequence, node_id)
		VALUES ($1, $2, $3)`}
	InsertRelation = Statement{"relations", `
		INSERT INTO relations (id, timestamp, uid, usr, visible, version, changeset)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`}
	InsertRelationNode = Statement{"relation_constituent_nodes", `
		INSERT INTO relation_constituent_nodes (relation_id, member_sequence, node_id, role)
		VALUES ($1, $2, $3, $4)`}
	InsertRelationWay = Statement{"relation_constituent_ways", `
		INSERT INTO relation_constituent_ways (relation_id, member_sequence, way_id, role)
		VALUES ($1, $2, $3, $4)`}
	InsertNodeTag = Statement{"node_tags", `
		INSERT INTO node_tags (node_id, key, value)
		VALUES ($1, $2, $3)`}
	InsertWayTag = Statement{"way_tags", `
		INSERT INTO way_tags (way_id, key, value)
		VALUES ($1, $2, $3)`}
	InsertRelationTag = Statement{"relation_tags", `
		INSERT INTO relation_tags (relation_id, key, value)
		VALUES ($1, $2, $3)`}
)

// MemberStatement returns the insert for a relation member of type t
func MemberStatement(t osm.Type) (Statement, error) {
	switch t {
	case osm.TypeNode:
		return InsertRelationNode, nil
	case osm.TypeWay:
		return InsertRelationWay, nil
	default:
		return Statement{}, fmt.Errorf("no member table for type %q", t)
	}
}

// TagStatement returns the tag insert for entities of type t
func TagStatement(t osm.Type) (Statement, error) {
	switch t {
	case osm.TypeNode:
		return InsertNodeTag, nil
	case osm.TypeWay:
		return InsertWayTag, nil
	case osm.TypeRelation:
		return InsertRelationTag, nil
	default:
		return Statement{}, fmt.Errorf("no tag table for type %q", t)
	}
}

// IsConstraintViolation reports whether err is a PostgreSQL integrity
// constraint violation (SQLSTATE class 23).
func IsConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "23"
	}
	return false
}
