package trino

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// columnFromJSON builds a column descriptor from its wire JSON.
func columnFromJSON(t *testing.T, raw string) Column {
	t.Helper()
	var col Column
	require.NoError(t, json.Unmarshal([]byte(raw), &col))
	return col
}

// mapOne decodes a single one-column row through a fresh RowMapper.
func mapOne(t *testing.T, colJSON, rowJSON string) (any, error) {
	t.Helper()
	mapper, err := newRowMapper([]Column{columnFromJSON(t, colJSON)})
	require.NoError(t, err)
	row, err := mapper.MapRow(json.RawMessage(rowJSON))
	if err != nil {
		return nil, err
	}
	require.Len(t, row, 1)
	return row[0], nil
}

func TestMapperScalars(t *testing.T) {
	v, err := mapOne(t, `{"name":"b","type":"boolean","typeSignature":{"rawType":"boolean"}}`, `[true]`)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = mapOne(t, `{"name":"i","type":"bigint","typeSignature":{"rawType":"bigint"}}`, `[9007199254740993]`)
	require.NoError(t, err)
	// Integers above 2^53 survive because rows decode through json.Number.
	assert.Equal(t, int64(9007199254740993), v)

	v, err = mapOne(t, `{"name":"d","type":"double","typeSignature":{"rawType":"double"}}`, `[1.5]`)
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	v, err = mapOne(t, `{"name":"s","type":"varchar","typeSignature":{"rawType":"varchar"}}`, `["héllo"]`)
	require.NoError(t, err)
	assert.Equal(t, "héllo", v)

	v, err = mapOne(t, `{"name":"n","type":"varchar","typeSignature":{"rawType":"varchar"}}`, `[null]`)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMapperDoubleSentinels(t *testing.T) {
	v, err := mapOne(t, `{"name":"d","type":"double","typeSignature":{"rawType":"double"}}`, `["Infinity"]`)
	require.NoError(t, err)
	assert.True(t, math.IsInf(v.(float64), 1))

	v, err = mapOne(t, `{"name":"d","type":"double","typeSignature":{"rawType":"double"}}`, `["-Infinity"]`)
	require.NoError(t, err)
	assert.True(t, math.IsInf(v.(float64), -1))

	v, err = mapOne(t, `{"name":"d","type":"double","typeSignature":{"rawType":"double"}}`, `["NaN"]`)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v.(float64)))
}

func TestMapperDecimalExact(t *testing.T) {
	col := `{"name":"d","type":"decimal(20,18)","typeSignature":{"rawType":"decimal","arguments":[{"kind":"LONG","value":20},{"kind":"LONG","value":18}]}}`
	v, err := mapOne(t, col, `["0.123456789123456789"]`)
	require.NoError(t, err)
	d, ok := v.(decimal.Decimal)
	require.True(t, ok)
	// Every digit survives; a float64 round trip would lose the tail.
	assert.Equal(t, "0.123456789123456789", d.String())
}

func TestMapperVarbinary(t *testing.T) {
	v, err := mapOne(t, `{"name":"b","type":"varbinary","typeSignature":{"rawType":"varbinary"}}`, `["aGVsbG8="]`)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), v)
}

func TestMapperUUID(t *testing.T) {
	v, err := mapOne(t, `{"name":"u","type":"uuid","typeSignature":{"rawType":"uuid"}}`, `["12151fd2-7586-11e9-8f9e-2a86e4085a59"]`)
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("12151fd2-7586-11e9-8f9e-2a86e4085a59"), v)
}

func TestMapperDate(t *testing.T) {
	v, err := mapOne(t, `{"name":"d","type":"date","typeSignature":{"rawType":"date"}}`, `["2001-08-22"]`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2001, time.August, 22, 0, 0, 0, 0, time.UTC), v)
}

func timeCol(precision int) string {
	return fmt.Sprintf(`{"name":"t","type":"time","typeSignature":{"rawType":"time","arguments":[{"kind":"LONG","value":%d}]}}`, precision)
}

func TestMapperTimeRounding(t *testing.T) {
	// Rounds half up and carries across the midnight boundary.
	v, err := mapOne(t, timeCol(6), `["23:59:59.9999995"]`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(1, time.January, 2, 0, 0, 0, 0, time.UTC), v)

	// Below the half point the fraction rounds down to exact midnight.
	v, err = mapOne(t, timeCol(6), `["00:00:00.0000004"]`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC), v)

	// At the half point it rounds up to one microsecond.
	v, err = mapOne(t, timeCol(6), `["00:00:00.0000005"]`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(1, time.January, 1, 0, 0, 0, 1000, time.UTC), v)
}

func TestMapperTimeDefaultPrecision(t *testing.T) {
	col := `{"name":"t","type":"time","typeSignature":{"rawType":"time"}}`
	v, err := mapOne(t, col, `["12:34:56.111"]`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(1, time.January, 1, 12, 34, 56, 111000000, time.UTC), v)
}

func TestMapperTimeWithTimeZone(t *testing.T) {
	col := `{"name":"t","type":"time with time zone","typeSignature":{"rawType":"time with time zone","arguments":[{"kind":"LONG","value":3}]}}`
	v, err := mapOne(t, col, `["01:02:03.456 -08:00"]`)
	require.NoError(t, err)
	tv, ok := v.(time.Time)
	require.True(t, ok)
	_, offset := tv.Zone()
	assert.Equal(t, -8*3600, offset)
	assert.Equal(t, 1, tv.Hour())
	assert.Equal(t, 456000000, tv.Nanosecond())
}

func TestMapperTimestamp(t *testing.T) {
	col := `{"name":"ts","type":"timestamp(6)","typeSignature":{"rawType":"timestamp","arguments":[{"kind":"LONG","value":6}]}}`
	v, err := mapOne(t, col, `["2001-08-22 03:04:05.321001"]`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2001, time.August, 22, 3, 4, 5, 321001000, time.UTC), v)

	// A fraction of exactly half a microsecond carries into the date.
	v, err = mapOne(t, col, `["2001-12-31 23:59:59.9999995"]`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2002, time.January, 1, 0, 0, 0, 0, time.UTC), v)
}

func TestMapperTimestampPrecisionClamp(t *testing.T) {
	// Precision 12 exceeds nanoseconds and is clamped to 9.
	col := `{"name":"ts","type":"timestamp(12)","typeSignature":{"rawType":"timestamp","arguments":[{"kind":"LONG","value":12}]}}`
	v, err := mapOne(t, col, `["2001-08-22 03:04:05.123456789999"]`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2001, time.August, 22, 3, 4, 5, 123456790, time.UTC), v)
}

func TestMapperTimestampWithTimeZone(t *testing.T) {
	col := `{"name":"ts","type":"timestamp with time zone","typeSignature":{"rawType":"timestamp with time zone","arguments":[{"kind":"LONG","value":3}]}}`
	v, err := mapOne(t, col, `["2001-08-22 03:04:05.321 +07:09"]`)
	require.NoError(t, err)
	tv, ok := v.(time.Time)
	require.True(t, ok)
	_, offset := tv.Zone()
	assert.Equal(t, 7*3600+9*60, offset)
	assert.Equal(t, 321000000, tv.Nanosecond())

	v, err = mapOne(t, col, `["2001-08-22 03:04:05.321 UTC"]`)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2001, time.August, 22, 3, 4, 5, 321000000, time.UTC), v.(time.Time).In(time.UTC))
}

func TestMapperArray(t *testing.T) {
	col := `{"name":"a","type":"array(integer)","typeSignature":{"rawType":"array","arguments":[{"kind":"TYPE","value":{"rawType":"integer"}}]}}`
	v, err := mapOne(t, col, `[[1,2,null,4]]`)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), nil, int64(4)}, v)
}

func TestMapperMap(t *testing.T) {
	col := `{"name":"m","type":"map(integer, varchar)","typeSignature":{"rawType":"map","arguments":[{"kind":"TYPE","value":{"rawType":"integer"}},{"kind":"TYPE","value":{"rawType":"varchar"}}]}}`
	v, err := mapOne(t, col, `[{"1":"a","2":"b"}]`)
	require.NoError(t, err)
	assert.Equal(t, map[any]any{int64(1): "a", int64(2): "b"}, v)
}

const rowColJSON = `{"name":"r","type":"row(x integer, y varchar)","typeSignature":{"rawType":"row","arguments":[
	{"kind":"NAMED_TYPE","value":{"fieldName":{"name":"x"},"typeSignature":{"rawType":"integer"}}},
	{"kind":"NAMED_TYPE","value":{"fieldName":{"name":"y"},"typeSignature":{"rawType":"varchar"}}}]}}`

func TestMapperRow(t *testing.T) {
	v, err := mapOne(t, rowColJSON, `[[7,"seven"]]`)
	require.NoError(t, err)
	row, ok := v.(*Row)
	require.True(t, ok)

	assert.Equal(t, 2, row.Len())
	assert.Equal(t, int64(7), row.Field(0))

	y, err := row.FieldByName("y")
	require.NoError(t, err)
	assert.Equal(t, "seven", y)

	_, err = row.FieldByName("z")
	assert.ErrorContains(t, err, "no field named")
}

func TestMapperRowAmbiguousField(t *testing.T) {
	col := `{"name":"r","type":"row(x integer, x varchar)","typeSignature":{"rawType":"row","arguments":[
		{"kind":"NAMED_TYPE","value":{"fieldName":{"name":"x"},"typeSignature":{"rawType":"integer"}}},
		{"kind":"NAMED_TYPE","value":{"fieldName":{"name":"x"},"typeSignature":{"rawType":"varchar"}}}]}}`
	v, err := mapOne(t, col, `[[1,"one"]]`)
	require.NoError(t, err)
	row := v.(*Row)

	// Positional access always works.
	assert.Equal(t, int64(1), row.Field(0))
	assert.Equal(t, "one", row.Field(1))

	_, err = row.FieldByName("x")
	assert.ErrorContains(t, err, "ambiguous")
}

func TestMapperUnknownTypePassesThrough(t *testing.T) {
	col := `{"name":"g","type":"HyperLogLog","typeSignature":{"rawType":"HyperLogLog"}}`
	v, err := mapOne(t, col, `["opaque"]`)
	require.NoError(t, err)
	assert.Equal(t, "opaque", v)
}

func TestMapperConversionFailure(t *testing.T) {
	_, err := mapOne(t, `{"name":"u","type":"uuid","typeSignature":{"rawType":"uuid"}}`, `["not-a-uuid"]`)
	require.Error(t, err)
	var de *DataError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "uuid", de.TargetType)
	assert.Equal(t, "not-a-uuid", de.Value)
}

func TestMapperColumnCountMismatch(t *testing.T) {
	mapper, err := newRowMapper([]Column{
		columnFromJSON(t, `{"name":"a","type":"integer","typeSignature":{"rawType":"integer"}}`),
		columnFromJSON(t, `{"name":"b","type":"integer","typeSignature":{"rawType":"integer"}}`),
	})
	require.NoError(t, err)
	_, err = mapper.MapRow(json.RawMessage(`[1]`))
	var de *DataError
	require.ErrorAs(t, err, &de)
}

func TestMapperMapRowsPage(t *testing.T) {
	mapper, err := newRowMapper([]Column{columnFromJSON(t,
		`{"name":"n","type":"integer","typeSignature":{"rawType":"integer"}}`)})
	require.NoError(t, err)

	rows, err := mapper.MapRows([]json.RawMessage{
		json.RawMessage(`[1]`), json.RawMessage(`[2]`), json.RawMessage(`[3]`),
	})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1)}, {int64(2)}, {int64(3)}}, rows)
}
