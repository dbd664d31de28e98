package trino

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MaxTemporalPrecision is the highest fractional-second precision a Go
// time.Time can carry (nanoseconds). Server-declared precisions above it
// are clamped before rounding.
const MaxTemporalPrecision = 9

// temporalValue decomposes a time or timestamp wire value into a native
// whole-second value plus the fractional seconds as an exact decimal.
// Rounding and carry are deferred until conversion to time.Time, so no
// precision is lost while the wire precision exceeds the native one.
type temporalValue struct {
	whole    time.Time
	fraction decimal.Decimal
}

// round rounds the fractional remainder to the target precision using
// round-half-up (away from zero), not banker's rounding. A remainder that
// reaches exactly one full second carries into the whole value at
// conversion time, possibly rolling over a minute, hour or day boundary.
func (t temporalValue) round(precision int32) temporalValue {
	if precision > MaxTemporalPrecision {
		precision = MaxTemporalPrecision
	}
	if t.fraction.Exponent() < -precision {
		// decimal.Round is round-half-away-from-zero, which equals
		// round-half-up for the non-negative fractions seen here.
		return temporalValue{whole: t.whole, fraction: t.fraction.Round(precision)}
	}
	return t
}

// toTime converts to a time.Time, applying the (possibly rounded)
// fraction. A fraction of exactly 1 adds a full second to the whole
// value, carrying across date boundaries.
func (t temporalValue) toTime() time.Time {
	if t.fraction.IsZero() {
		return t.whole
	}
	nanos := t.fraction.Shift(MaxTemporalPrecision).IntPart()
	return t.whole.Add(time.Duration(nanos) * time.Nanosecond)
}

// fractionToDecimal converts the digits after the decimal point of a
// temporal literal into an exact decimal in [0, 1).
func fractionToDecimal(digits string) (decimal.Decimal, error) {
	if digits == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString("0." + digits)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid fractional seconds %q: %w", digits, err)
	}
	return d, nil
}

// Row is a structural row value supporting both positional and name-based
// field access. Field names come from the declared row type; they may be
// absent or duplicated, in which case access by that name fails while
// positional access keeps working.
type Row struct {
	values []any
	names  []string // "" where the declared type has no field name
	byName map[string][]int
}

// newRow builds a Row, indexing field names once at construction.
func newRow(values []any, names []string) *Row {
	byName := make(map[string][]int, len(names))
	for i, name := range names {
		if name != "" {
			byName[name] = append(byName[name], i)
		}
	}
	return &Row{values: values, names: names, byName: byName}
}

// Len returns the number of fields.
func (r *Row) Len() int { return len(r.values) }

// Field returns the value at position i.
func (r *Row) Field(i int) any { return r.values[i] }

// Values returns the ordered field values.
func (r *Row) Values() []any { return r.values }

// FieldByName returns the value of the uniquely-named field. A name that
// is absent, or declared for more than one field, is an error.
func (r *Row) FieldByName(name string) (any, error) {
	indices := r.byName[name]
	switch len(indices) {
	case 1:
		return r.values[indices[0]], nil
	case 0:
		return nil, fmt.Errorf("trino: row has no field named %q", name)
	default:
		return nil, fmt.Errorf("trino: ambiguous row field reference %q", name)
	}
}

// String renders the row with field names where they are unique.
func (r *Row) String() string {
	out := "("
	for i, v := range r.values {
		if i > 0 {
			out += ", "
		}
		if name := r.names[i]; name != "" && len(r.byName[name]) == 1 {
			out += name + ": "
		}
		out += fmt.Sprintf("%v", v)
	}
	return out + ")"
}
