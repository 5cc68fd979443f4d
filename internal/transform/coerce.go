package transform

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/wegman-software/osmload/internal/docstream"
	"github.com/wegman-software/osmload/internal/errs"
)

// TimestampLayout is the only accepted timestamp encoding (UTC, literal Z)
const TimestampLayout = "2006-01-02T15:04:05Z"

func attrError(kind error, el *docstream.Element, attr, value string, present bool, cause error) error {
	id, _ := el.Attr("id")
	return &errs.AttrError{
		Kind:    kind,
		Element: el.Name,
		ID:      id,
		Attr:    attr,
		Value:   value,
		Present: present,
		Err:     cause,
	}
}

// ID returns the required, non-negative id attribute of el
func ID(el *docstream.Element) (int64, error) {
	v, ok := el.Attr("id")
	if !ok {
		return 0, attrError(errs.ErrTypeCoercion, el, "id", "", false, nil)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, attrError(errs.ErrTypeCoercion, el, "id", v, true, err)
	}
	if id < 0 {
		return 0, attrError(errs.ErrTypeCoercion, el, "id", v, true, nil)
	}
	return id, nil
}

// Int parses an optional integer attribute; absent maps to NULL
func Int(el *docstream.Element, name string) (pgtype.Int8, error) {
	v, ok := el.Attr(name)
	if !ok {
		return pgtype.Int8{}, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return pgtype.Int8{}, attrError(errs.ErrTypeCoercion, el, name, v, true, err)
	}
	return pgtype.Int8{Int64: n, Valid: true}, nil
}

// Ref parses an optional reference to another entity. References are ids,
// so a present value must be a non-negative integer.
func Ref(el *docstream.Element, name string) (pgtype.Int8, error) {
	n, err := Int(el, name)
	if err != nil {
		return pgtype.Int8{}, err
	}
	if n.Valid && n.Int64 < 0 {
		v, _ := el.Attr(name)
		return pgtype.Int8{}, attrError(errs.ErrTypeCoercion, el, name, v, true, nil)
	}
	return n, nil
}

// Decimal parses an optional coordinate attribute; absent maps to NULL
func Decimal(el *docstream.Element, name string) (pgtype.Float8, error) {
	v, ok := el.Attr(name)
	if !ok {
		return pgtype.Float8{}, nil
	}
	if isHexFloat(v) {
		return pgtype.Float8{}, attrError(errs.ErrTypeCoercion, el, name, v, true, nil)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return pgtype.Float8{}, attrError(errs.ErrTypeCoercion, el, name, v, true, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return pgtype.Float8{}, attrError(errs.ErrTypeCoercion, el, name, v, true, nil)
	}
	return pgtype.Float8{Float64: f, Valid: true}, nil
}

// isHexFloat reports whether v uses the 0x mantissa form ParseFloat accepts
func isHexFloat(v string) bool {
	v = strings.TrimLeft(v, "+-")
	return len(v) > 1 && v[0] == '0' && (v[1] == 'x' || v[1] == 'X')
}

// Timestamp parses the mandatory timestamp attribute. time.Parse tolerates
// fractional seconds the layout does not name, so the length is checked too.
func Timestamp(el *docstream.Element) (time.Time, error) {
	v, ok := el.Attr("timestamp")
	if !ok {
		return time.Time{}, attrError(errs.ErrTimestampFormat, el, "timestamp", "", false, nil)
	}
	t, err := time.Parse(TimestampLayout, v)
	if err != nil {
		return time.Time{}, attrError(errs.ErrTimestampFormat, el, "timestamp", v, true, err)
	}
	if len(v) != len(TimestampLayout) {
		return time.Time{}, attrError(errs.ErrTimestampFormat, el, "timestamp", v, true, nil)
	}
	return t, nil
}

// Visible maps "true", "false" and absence onto a nullable boolean. Any
// other literal is rejected.
func Visible(el *docstream.Element) (pgtype.Bool, error) {
	v, ok := el.Attr("visible")
	if !ok {
		return pgtype.Bool{}, nil
	}
	switch v {
	case "true":
		return pgtype.Bool{Bool: true, Valid: true}, nil
	case "false":
		return pgtype.Bool{Bool: false, Valid: true}, nil
	default:
		return pgtype.Bool{}, attrError(errs.ErrTypeCoercion, el, "visible", v, true, nil)
	}
}

// Text returns an optional string attribute; absent maps to NULL
func Text(el *docstream.Element, name string) pgtype.Text {
	v, ok := el.Attr(name)
	return pgtype.Text{String: v, Valid: ok}
}
