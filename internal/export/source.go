package export

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/paulmach/osm"

	"github.com/wegman-software/osmload/internal/schema"
)

// Source opens ordered cursors over the loaded tables
type Source interface {
	Nodes(ctx context.Context) (Cursor[schema.NodeRow], error)
	Ways(ctx context.Context) (Cursor[schema.WayRow], error)
	Relations(ctx context.Context) (Cursor[schema.RelationRow], error)
	WayNodes(ctx context.Context) (Cursor[schema.WayNodeRow], error)
	Members(ctx context.Context) (Cursor[schema.MemberRow], error)
	Tags(ctx context.Context, owner osm.Type) (Cursor[schema.TagRow], error)
}

// Querier runs a read; *pgxpool.Pool satisfies it. Each open cursor holds
// its own connection, so the pool must allow MaxOpenCursors of them.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// MaxOpenCursors is the number of cursors an export holds open at once:
// parents, their ordered children and their tags
const MaxOpenCursors = 3

// PgSource reads the tables through pgx
type PgSource struct {
	db Querier
}

// NewPgSource creates a source over db
func NewPgSource(db Querier) *PgSource {
	return &PgSource{db: db}
}

func (s *PgSource) Nodes(ctx context.Context) (Cursor[schema.NodeRow], error) {
	return query(ctx, s.db, schema.SelectNodes, scanNode)
}

func (s *PgSource) Ways(ctx context.Context) (Cursor[schema.WayRow], error) {
	return query(ctx, s.db, schema.SelectWays, scanWay)
}

func (s *PgSource) Relations(ctx context.Context) (Cursor[schema.RelationRow], error) {
	return query(ctx, s.db, schema.SelectRelations, scanRelation)
}

func (s *PgSource) WayNodes(ctx context.Context) (Cursor[schema.WayNodeRow], error) {
	return query(ctx, s.db, schema.SelectWayNodes, scanWayNode)
}

func (s *PgSource) Members(ctx context.Context) (Cursor[schema.MemberRow], error) {
	return query(ctx, s.db, schema.SelectMembers, scanMember)
}

func (s *PgSource) Tags(ctx context.Context, owner osm.Type) (Cursor[schema.TagRow], error) {
	q, err := schema.TagQuery(owner)
	if err != nil {
		return nil, err
	}
	return query(ctx, s.db, q, func(rows pgx.Rows) (schema.TagRow, error) {
		r := schema.TagRow{Owner: owner}
		err := rows.Scan(&r.OwnerID, &r.Key, &r.Value)
		return r, err
	})
}

func query[T any](ctx context.Context, db Querier, q schema.Query, scan func(pgx.Rows) (T, error)) (Cursor[T], error) {
	rows, err := db.Query(ctx, q.SQL)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Table, err)
	}
	return &rowsCursor[T]{rows: rows, table: q.Table, scan: scan}, nil
}

type rowsCursor[T any] struct {
	rows  pgx.Rows
	table string
	scan  func(pgx.Rows) (T, error)
	row   T
	err   error
}

func (c *rowsCursor[T]) Next() bool {
	if c.err != nil || !c.rows.Next() {
		return false
	}
	row, err := c.scan(c.rows)
	if err != nil {
		c.err = fmt.Errorf("failed to scan %s: %w", c.table, err)
		return false
	}
	c.row = row
	return true
}

func (c *rowsCursor[T]) Row() T {
	return c.row
}

func (c *rowsCursor[T]) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.rows.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", c.table, err)
	}
	return nil
}

func (c *rowsCursor[T]) Close() {
	c.rows.Close()
}

func scanNode(rows pgx.Rows) (schema.NodeRow, error) {
	var (
		r  schema.NodeRow
		id int64
		ts pgtype.Timestamp
	)
	err := rows.Scan(&id, &r.Lat, &r.Lon, &ts, &r.UID, &r.User, &r.Visible, &r.Version, &r.Changeset)
	r.ID = osm.NodeID(id)
	r.Timestamp = timestampOf(ts)
	return r, err
}

func scanWay(rows pgx.Rows) (schema.WayRow, error) {
	var (
		r  schema.WayRow
		id int64
	)
	meta, err := scanMeta(rows, &id)
	r.ID = osm.WayID(id)
	r.Meta = meta
	return r, err
}

func scanRelation(rows pgx.Rows) (schema.RelationRow, error) {
	var (
		r  schema.RelationRow
		id int64
	)
	meta, err := scanMeta(rows, &id)
	r.ID = osm.RelationID(id)
	r.Meta = meta
	return r, err
}

func scanMeta(rows pgx.Rows, id *int64) (schema.Meta, error) {
	var (
		m  schema.Meta
		ts pgtype.Timestamp
	)
	err := rows.Scan(id, &ts, &m.UID, &m.User, &m.Visible, &m.Version, &m.Changeset)
	m.Timestamp = timestampOf(ts)
	return m, err
}

func scanWayNode(rows pgx.Rows) (schema.WayNodeRow, error) {
	var (
		r  schema.WayNodeRow
		id int64
	)
	err := rows.Scan(&id, &r.Sequence, &r.NodeID)
	r.WayID = osm.WayID(id)
	return r, err
}

func scanMember(rows pgx.Rows) (schema.MemberRow, error) {
	var (
		r   schema.MemberRow
		id  int64
		typ string
	)
	err := rows.Scan(&id, &r.Sequence, &typ, &r.Ref, &r.Role)
	r.RelationID = osm.RelationID(id)
	r.Type = osm.Type(typ)
	return r, err
}

// timestampOf maps a NULL timestamp to the zero time, which is not written
func timestampOf(ts pgtype.Timestamp) time.Time {
	if !ts.Valid {
		return time.Time{}
	}
	return ts.Time.UTC()
}
