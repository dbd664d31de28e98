package trino

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemporalValueRoundAndCarry(t *testing.T) {
	base := time.Date(2001, time.August, 22, 23, 59, 59, 0, time.UTC)

	fraction, err := fractionToDecimal("9999995")
	require.NoError(t, err)
	tv := temporalValue{whole: base, fraction: fraction}.round(6)
	// 0.9999995 rounds up to a full second and carries into the next day.
	assert.Equal(t, time.Date(2001, time.August, 23, 0, 0, 0, 0, time.UTC), tv.toTime())

	fraction, err = fractionToDecimal("0000004")
	require.NoError(t, err)
	tv = temporalValue{whole: base, fraction: fraction}.round(6)
	assert.Equal(t, base, tv.toTime())
}

func TestTemporalValueNoRoundingBelowPrecision(t *testing.T) {
	base := time.Date(2001, time.August, 22, 0, 0, 0, 0, time.UTC)
	fraction, err := fractionToDecimal("5")
	require.NoError(t, err)
	tv := temporalValue{whole: base, fraction: fraction}.round(3)
	assert.Equal(t, base.Add(500*time.Millisecond), tv.toTime())
}

func TestTemporalValuePrecisionClamp(t *testing.T) {
	base := time.Date(2001, time.August, 22, 0, 0, 0, 0, time.UTC)
	fraction, err := fractionToDecimal("1234567894")
	require.NoError(t, err)
	// Precision above nanoseconds clamps to 9.
	tv := temporalValue{whole: base, fraction: fraction}.round(15)
	assert.Equal(t, base.Add(123456789*time.Nanosecond), tv.toTime())
}

func TestFractionToDecimal(t *testing.T) {
	d, err := fractionToDecimal("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	d, err = fractionToDecimal("25")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("0.25")))

	_, err = fractionToDecimal("12a")
	assert.Error(t, err)
}

func TestRowPositionalAccess(t *testing.T) {
	r := newRow([]any{int64(1), "two", nil}, []string{"a", "b", ""})

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, int64(1), r.Field(0))
	assert.Equal(t, "two", r.Field(1))
	assert.Nil(t, r.Field(2))
	assert.Equal(t, []any{int64(1), "two", nil}, r.Values())
}

func TestRowFieldByName(t *testing.T) {
	r := newRow([]any{int64(1), "two"}, []string{"a", "b"})

	v, err := r.FieldByName("b")
	require.NoError(t, err)
	assert.Equal(t, "two", v)

	_, err = r.FieldByName("missing")
	assert.ErrorContains(t, err, "no field named")
}

func TestRowDuplicateAndAnonymousNames(t *testing.T) {
	r := newRow([]any{1, 2, 3}, []string{"x", "x", ""})

	_, err := r.FieldByName("x")
	assert.ErrorContains(t, err, "ambiguous")

	// The anonymous field is only reachable by position.
	_, err = r.FieldByName("")
	assert.Error(t, err)
	assert.Equal(t, 3, r.Field(2))
}

func TestRowString(t *testing.T) {
	r := newRow([]any{int64(7), "x", true}, []string{"n", "", "n2"})
	assert.Equal(t, "(n: 7, x, n2: true)", r.String())

	dup := newRow([]any{1, 2}, []string{"d", "d"})
	// Duplicate names are omitted from the rendering.
	assert.Equal(t, "(1, 2)", dup.String())
}
