package trino

import (
	"encoding/json"
	"fmt"
)

// Column describes one column of a result schema.
type Column struct {
	// Name is the column name.
	Name string `json:"name"`

	// Type is the declared Trino type as a string, e.g. "decimal(10,2)".
	Type string `json:"type"`

	// TypeSignature is the recursive type tree used to build a decoder.
	TypeSignature TypeSignature `json:"typeSignature"`
}

// TypeSignature is a node in the recursive type tree: the raw type name
// plus its ordered arguments. Structural types (array, map, row) nest
// recursively through the arguments.
type TypeSignature struct {
	RawType   string                  `json:"rawType"`
	Arguments []TypeSignatureArgument `json:"arguments,omitempty"`
}

// Argument kinds used on the wire.
const (
	argumentKindType      = "TYPE"
	argumentKindNamedType = "NAMED_TYPE"
	argumentKindLong      = "LONG"
)

// TypeSignatureArgument is one argument of a type signature. Its value's
// shape depends on Kind: a nested type signature (TYPE), a named row
// field (NAMED_TYPE), or a numeric parameter such as precision (LONG).
type TypeSignatureArgument struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// typeSignature decodes the argument as a nested type signature.
func (a *TypeSignatureArgument) typeSignature() (*TypeSignature, error) {
	if a.Kind != argumentKindType {
		return nil, fmt.Errorf("type signature argument has kind %s, not %s", a.Kind, argumentKindType)
	}
	var ts TypeSignature
	if err := json.Unmarshal(a.Value, &ts); err != nil {
		return nil, fmt.Errorf("malformed TYPE argument: %w", err)
	}
	return &ts, nil
}

// namedTypeSignature is a row field: an optional field name plus the
// field's type signature. Field names may be absent or duplicated.
type namedTypeSignature struct {
	FieldName *struct {
		Name string `json:"name"`
	} `json:"fieldName,omitempty"`
	TypeSignature TypeSignature `json:"typeSignature"`
}

// namedType decodes the argument as a row field.
func (a *TypeSignatureArgument) namedType() (*namedTypeSignature, error) {
	if a.Kind != argumentKindNamedType {
		return nil, fmt.Errorf("type signature argument has kind %s, not %s", a.Kind, argumentKindNamedType)
	}
	var nt namedTypeSignature
	if err := json.Unmarshal(a.Value, &nt); err != nil {
		return nil, fmt.Errorf("malformed NAMED_TYPE argument: %w", err)
	}
	return &nt, nil
}

// long decodes the argument as a numeric type parameter.
func (a *TypeSignatureArgument) long() (int64, error) {
	if a.Kind != argumentKindLong {
		return 0, fmt.Errorf("type signature argument has kind %s, not %s", a.Kind, argumentKindLong)
	}
	var n int64
	if err := json.Unmarshal(a.Value, &n); err != nil {
		return 0, fmt.Errorf("malformed LONG argument: %w", err)
	}
	return n, nil
}
