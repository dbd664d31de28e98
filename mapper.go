package trino

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValueMapper decodes one column's wire representation into its native
// value. A mapper is built once per column from the column's type
// signature and reused for every row.
type ValueMapper interface {
	Map(value any) (any, error)
}

// newValueMapper builds the decoder tree for one type signature.
func newValueMapper(ts *TypeSignature) (ValueMapper, error) {
	switch ts.RawType {
	case "boolean":
		return booleanMapper{}, nil
	case "tinyint", "smallint", "integer", "bigint":
		return integerMapper{}, nil
	case "double", "real":
		return doubleMapper{}, nil
	case "decimal":
		return decimalMapper{}, nil
	case "varchar", "char", "json":
		return stringMapper{}, nil
	case "varbinary":
		return binaryMapper{}, nil
	case "date":
		return dateMapper{}, nil
	case "time":
		return timeMapper{precision: temporalPrecision(ts)}, nil
	case "time with time zone":
		return timeWithTimeZoneMapper{precision: temporalPrecision(ts)}, nil
	case "timestamp":
		return timestampMapper{precision: temporalPrecision(ts)}, nil
	case "timestamp with time zone":
		return timestampWithTimeZoneMapper{precision: temporalPrecision(ts)}, nil
	case "uuid":
		return uuidMapper{}, nil
	case "array":
		if len(ts.Arguments) != 1 {
			return nil, fmt.Errorf("array type signature has %d arguments", len(ts.Arguments))
		}
		elem, err := ts.Arguments[0].typeSignature()
		if err != nil {
			return nil, err
		}
		elemMapper, err := newValueMapper(elem)
		if err != nil {
			return nil, err
		}
		return arrayMapper{element: elemMapper}, nil
	case "map":
		if len(ts.Arguments) != 2 {
			return nil, fmt.Errorf("map type signature has %d arguments", len(ts.Arguments))
		}
		keySig, err := ts.Arguments[0].typeSignature()
		if err != nil {
			return nil, err
		}
		valueSig, err := ts.Arguments[1].typeSignature()
		if err != nil {
			return nil, err
		}
		keyMapper, err := newValueMapper(keySig)
		if err != nil {
			return nil, err
		}
		valueMapper, err := newValueMapper(valueSig)
		if err != nil {
			return nil, err
		}
		return mapMapper{key: keyMapper, value: valueMapper}, nil
	case "row":
		fields := make([]ValueMapper, 0, len(ts.Arguments))
		names := make([]string, 0, len(ts.Arguments))
		for i := range ts.Arguments {
			nt, err := ts.Arguments[i].namedType()
			if err != nil {
				return nil, err
			}
			fieldMapper, err := newValueMapper(&nt.TypeSignature)
			if err != nil {
				return nil, err
			}
			fields = append(fields, fieldMapper)
			name := ""
			if nt.FieldName != nil {
				name = nt.FieldName.Name
			}
			names = append(names, name)
		}
		return rowValueMapper{fields: fields, names: names}, nil
	default:
		// Unknown and connector-specific types pass through unchanged.
		return noOpMapper{}, nil
	}
}

// temporalPrecision extracts the declared precision from a temporal type
// signature. Types without an explicit precision default to 3.
func temporalPrecision(ts *TypeSignature) int32 {
	if len(ts.Arguments) == 0 {
		return 3
	}
	p, err := ts.Arguments[0].long()
	if err != nil {
		return 3
	}
	return int32(p)
}

type noOpMapper struct{}

func (noOpMapper) Map(value any) (any, error) { return value, nil }

type booleanMapper struct{}

func (booleanMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(v) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return nil, fmt.Errorf("unexpected value %v for boolean", value)
}

type integerMapper struct{}

func (integerMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case json.Number:
		return v.Int64()
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		// Map keys arrive as JSON object keys.
		return strconv.ParseInt(v, 10, 64)
	}
	return nil, fmt.Errorf("unexpected value %v for integer", value)
}

// doubleMapper recognizes the literal sentinels the server uses for
// non-finite doubles in addition to numeric literals.
type doubleMapper struct{}

func (doubleMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case json.Number:
		return v.Float64()
	case float64:
		return v, nil
	case string:
		switch v {
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		case "NaN":
			return math.NaN(), nil
		}
		return strconv.ParseFloat(v, 64)
	}
	return nil, fmt.Errorf("unexpected value %v for double", value)
}

// decimalMapper converts exactly from the wire string, never through a
// float.
type decimalMapper struct{}

func (decimalMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch v := value.(type) {
	case string:
		return decimal.NewFromString(v)
	case json.Number:
		return decimal.NewFromString(v.String())
	}
	return nil, fmt.Errorf("unexpected value %v for decimal", value)
}

type stringMapper struct{}

func (stringMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", value), nil
}

type binaryMapper struct{}

func (binaryMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected value %v for varbinary", value)
	}
	return base64.StdEncoding.DecodeString(s)
}

type dateMapper struct{}

func (dateMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected value %v for date", value)
	}
	return time.Parse(time.DateOnly, s)
}

type uuidMapper struct{}

func (uuidMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected value %v for uuid", value)
	}
	return uuid.Parse(s)
}

// timeReferenceDate anchors time-of-day values; a fraction that rounds up
// to a full second past 23:59:59 rolls over to the next day.
var timeReferenceDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

const timeLiteralLen = len("15:04:05")
const timestampLiteralLen = len("2006-01-02 15:04:05")

type timeMapper struct {
	precision int32
}

func (m timeMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected value %v for time", value)
	}
	return parseTimeLiteral(s, m.precision, time.UTC)
}

type timeWithTimeZoneMapper struct {
	precision int32
}

func (m timeWithTimeZoneMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected value %v for time with time zone", value)
	}
	// The zone is a fixed "±HH:MM" suffix.
	if len(s) < 6 {
		return nil, fmt.Errorf("malformed time with time zone %q", s)
	}
	loc, err := parseZoneOffset(s[len(s)-6:])
	if err != nil {
		return nil, err
	}
	return parseTimeLiteral(strings.TrimSpace(s[:len(s)-6]), m.precision, loc)
}

// parseTimeLiteral splits "HH:MM:SS[.fraction]" into the whole-second
// value and the exact fractional remainder, then rounds to the declared
// precision.
func parseTimeLiteral(s string, precision int32, loc *time.Location) (time.Time, error) {
	if len(s) < timeLiteralLen {
		return time.Time{}, fmt.Errorf("malformed time %q", s)
	}
	whole, err := time.ParseInLocation("15:04:05", s[:timeLiteralLen], loc)
	if err != nil {
		return time.Time{}, err
	}
	whole = whole.AddDate(timeReferenceDate.Year()-whole.Year(), 0, 0)
	var digits string
	if len(s) > timeLiteralLen+1 {
		digits = s[timeLiteralLen+1:]
	}
	fraction, err := fractionToDecimal(digits)
	if err != nil {
		return time.Time{}, err
	}
	return temporalValue{whole: whole, fraction: fraction}.round(precision).toTime(), nil
}

type timestampMapper struct {
	precision int32
}

func (m timestampMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected value %v for timestamp", value)
	}
	return parseTimestampLiteral(s, m.precision, time.UTC)
}

type timestampWithTimeZoneMapper struct {
	precision int32
}

func (m timestampWithTimeZoneMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected value %v for timestamp with time zone", value)
	}
	idx := strings.LastIndexByte(s, ' ')
	if idx < 0 {
		return nil, fmt.Errorf("malformed timestamp with time zone %q", s)
	}
	zone := s[idx+1:]
	var loc *time.Location
	var err error
	if strings.HasPrefix(zone, "+") || strings.HasPrefix(zone, "-") {
		loc, err = parseZoneOffset(zone)
	} else {
		loc, err = time.LoadLocation(zone)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed time zone in %q: %w", s, err)
	}
	return parseTimestampLiteral(s[:idx], m.precision, loc)
}

// parseTimestampLiteral splits "YYYY-MM-DD HH:MM:SS[.fraction]" into the
// whole-second value and the exact fractional remainder, then rounds.
func parseTimestampLiteral(s string, precision int32, loc *time.Location) (time.Time, error) {
	if len(s) < timestampLiteralLen {
		return time.Time{}, fmt.Errorf("malformed timestamp %q", s)
	}
	whole, err := time.ParseInLocation(time.DateTime, s[:timestampLiteralLen], loc)
	if err != nil {
		return time.Time{}, err
	}
	var digits string
	if len(s) > timestampLiteralLen+1 {
		digits = s[timestampLiteralLen+1:]
	}
	fraction, err := fractionToDecimal(digits)
	if err != nil {
		return time.Time{}, err
	}
	return temporalValue{whole: whole, fraction: fraction}.round(precision).toTime(), nil
}

// parseZoneOffset parses a "±HH:MM" zone suffix into a fixed location.
func parseZoneOffset(zone string) (*time.Location, error) {
	if len(zone) != 6 || (zone[0] != '+' && zone[0] != '-') || zone[3] != ':' {
		return nil, fmt.Errorf("malformed zone offset %q", zone)
	}
	var hours, minutes int
	if _, err := fmt.Sscanf(zone[1:], "%02d:%02d", &hours, &minutes); err != nil {
		return nil, fmt.Errorf("malformed zone offset %q: %w", zone, err)
	}
	offset := hours*3600 + minutes*60
	if zone[0] == '-' {
		offset = -offset
	}
	return time.FixedZone(zone, offset), nil
}

// arrayMapper decodes arrays element-wise; null elements pass through.
type arrayMapper struct {
	element ValueMapper
}

func (m arrayMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	elems, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected value %v for array", value)
	}
	out := make([]any, len(elems))
	for i, e := range elems {
		mapped, err := m.element.Map(e)
		if err != nil {
			return nil, err
		}
		out[i] = mapped
	}
	return out, nil
}

// mapMapper decodes keys and values independently. JSON object keys
// arrive as strings and are decoded through the key mapper.
type mapMapper struct {
	key   ValueMapper
	value ValueMapper
}

func (m mapMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected value %v for map", value)
	}
	out := make(map[any]any, len(obj))
	for k, v := range obj {
		mappedKey, err := m.key.Map(k)
		if err != nil {
			return nil, err
		}
		mappedValue, err := m.value.Map(v)
		if err != nil {
			return nil, err
		}
		out[mappedKey] = mappedValue
	}
	return out, nil
}

// rowValueMapper decodes row fields in order into a Row value.
type rowValueMapper struct {
	fields []ValueMapper
	names  []string
}

func (m rowValueMapper) Map(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	elems, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected value %v for row", value)
	}
	if len(elems) != len(m.fields) {
		return nil, fmt.Errorf("row has %d values for %d declared fields", len(elems), len(m.fields))
	}
	values := make([]any, len(elems))
	for i, e := range elems {
		mapped, err := m.fields[i].Map(e)
		if err != nil {
			return nil, err
		}
		values[i] = mapped
	}
	return newRow(values, m.names), nil
}

// RowMapper decodes raw wire rows using one ValueMapper per column. It is
// built once, when the result schema becomes known.
type RowMapper struct {
	columns []ValueMapper
	types   []string
}

// newRowMapper builds the per-column decoders from the result schema.
func newRowMapper(columns []Column) (*RowMapper, error) {
	mappers := make([]ValueMapper, len(columns))
	types := make([]string, len(columns))
	for i := range columns {
		m, err := newValueMapper(&columns[i].TypeSignature)
		if err != nil {
			return nil, fmt.Errorf("trino: cannot build decoder for column %s: %w", columns[i].Name, err)
		}
		mappers[i] = m
		types[i] = columns[i].Type
	}
	return &RowMapper{columns: mappers, types: types}, nil
}

// MapRow decodes one raw wire row. Numbers are decoded with
// json.Number so integer and decimal digits survive intact.
func (m *RowMapper) MapRow(raw json.RawMessage) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row []any
	if err := dec.Decode(&row); err != nil {
		return nil, &DataError{Value: string(raw), TargetType: "row", Cause: err}
	}
	if len(row) != len(m.columns) {
		return nil, &DataError{Value: string(raw), TargetType: "row",
			Cause: fmt.Errorf("row has %d values for %d columns", len(row), len(m.columns))}
	}
	out := make([]any, len(row))
	for i, v := range row {
		mapped, err := m.columns[i].Map(v)
		if err != nil {
			return nil, &DataError{Value: v, TargetType: m.types[i], Cause: err}
		}
		out[i] = mapped
	}
	return out, nil
}

// MapRows decodes a page of raw rows.
func (m *RowMapper) MapRows(raw []json.RawMessage) ([][]any, error) {
	rows := make([][]any, len(raw))
	for i, r := range raw {
		row, err := m.MapRow(r)
		if err != nil {
			return nil, err
		}
		rows[i] = row
	}
	return rows, nil
}
