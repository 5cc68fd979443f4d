package export

import (
	"bufio"
	"encoding/xml"
	"io"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wegman-software/osmload/internal/schema"
	"github.com/wegman-software/osmload/internal/transform"
)

// Generator is written into the root element of every export
const Generator = "osmload"

type attr struct {
	name  string
	value string
}

// xmlWriter writes OSM XML one element at a time. NULL columns become
// absent attributes so that a re-import reproduces them.
type xmlWriter struct {
	w   *bufio.Writer
	err error
}

func newXMLWriter(w io.Writer) *xmlWriter {
	return &xmlWriter{w: bufio.NewWriterSize(w, 64*1024)}
}

func (x *xmlWriter) header() {
	x.raw(xml.Header)
	x.start("osm", []attr{{"version", "0.6"}, {"generator", Generator}}, 0, false)
}

func (x *xmlWriter) footer() error {
	x.end("osm", 0)
	if x.err != nil {
		return x.err
	}
	return x.w.Flush()
}

func (x *xmlWriter) node(n schema.NodeRow, tags []schema.TagRow) {
	attrs := []attr{{"id", strconv.FormatInt(int64(n.ID), 10)}}
	attrs = appendFloat(attrs, "lat", n.Lat)
	attrs = appendFloat(attrs, "lon", n.Lon)
	attrs = appendMeta(attrs, n.Meta)

	empty := len(tags) == 0
	x.start("node", attrs, 1, empty)
	if empty {
		return
	}
	x.tags(tags)
	x.end("node", 1)
}

func (x *xmlWriter) way(w schema.WayRow, nodes []schema.WayNodeRow, tags []schema.TagRow) {
	attrs := appendMeta([]attr{{"id", strconv.FormatInt(int64(w.ID), 10)}}, w.Meta)

	empty := len(nodes) == 0 && len(tags) == 0
	x.start("way", attrs, 1, empty)
	if empty {
		return
	}
	for _, nd := range nodes {
		x.start("nd", appendInt([]attr{}, "ref", nd.NodeID), 2, true)
	}
	x.tags(tags)
	x.end("way", 1)
}

func (x *xmlWriter) relation(r schema.RelationRow, members []schema.MemberRow, tags []schema.TagRow) {
	attrs := appendMeta([]attr{{"id", strconv.FormatInt(int64(r.ID), 10)}}, r.Meta)

	empty := len(members) == 0 && len(tags) == 0
	x.start("relation", attrs, 1, empty)
	if empty {
		return
	}
	for _, m := range members {
		ma := appendInt([]attr{{"type", string(m.Type)}}, "ref", m.Ref)
		ma = appendText(ma, "role", m.Role)
		x.start("member", ma, 2, true)
	}
	x.tags(tags)
	x.end("relation", 1)
}

func (x *xmlWriter) tags(tags []schema.TagRow) {
	for _, t := range tags {
		x.start("tag", appendText(appendText([]attr{}, "k", t.Key), "v", t.Value), 2, true)
	}
}

func (x *xmlWriter) start(name string, attrs []attr, depth int, selfClose bool) {
	x.indent(depth)
	x.raw("<" + name)
	for _, a := range attrs {
		x.raw(" " + a.name + `="`)
		x.escape(a.value)
		x.raw(`"`)
	}
	if selfClose {
		x.raw("/>\n")
	} else {
		x.raw(">\n")
	}
}

func (x *xmlWriter) end(name string, depth int) {
	x.indent(depth)
	x.raw("</" + name + ">\n")
}

func (x *xmlWriter) indent(depth int) {
	for i := 0; i < depth; i++ {
		x.raw("  ")
	}
}

func (x *xmlWriter) raw(s string) {
	if x.err != nil {
		return
	}
	_, x.err = x.w.WriteString(s)
}

func (x *xmlWriter) escape(s string) {
	if x.err != nil {
		return
	}
	x.err = xml.EscapeText(x.w, []byte(s))
}

func appendMeta(attrs []attr, m schema.Meta) []attr {
	if !m.Timestamp.IsZero() {
		attrs = append(attrs, attr{"timestamp", m.Timestamp.UTC().Format(transform.TimestampLayout)})
	}
	attrs = appendInt(attrs, "uid", m.UID)
	attrs = appendText(attrs, "user", m.User)
	if m.Visible.Valid {
		attrs = append(attrs, attr{"visible", strconv.FormatBool(m.Visible.Bool)})
	}
	attrs = appendInt(attrs, "version", m.Version)
	attrs = appendInt(attrs, "changeset", m.Changeset)
	return attrs
}

func appendInt(attrs []attr, name string, v pgtype.Int8) []attr {
	if !v.Valid {
		return attrs
	}
	return append(attrs, attr{name, strconv.FormatInt(v.Int64, 10)})
}

func appendFloat(attrs []attr, name string, v pgtype.Float8) []attr {
	if !v.Valid {
		return attrs
	}
	return append(attrs, attr{name, strconv.FormatFloat(v.Float64, 'f', -1, 64)})
}

func appendText(attrs []attr, name string, v pgtype.Text) []attr {
	if !v.Valid {
		return attrs
	}
	return append(attrs, attr{name, v.String})
}
