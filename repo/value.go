// Package repo holds record values, record envelopes, and the firehose
// event model shared by every backend.
package repo

import (
	"encoding/json"

	"github.com/atkit-dev/atkit/aterr"
	"github.com/atkit-dev/atkit/syntax"
)

// Value is a record body: a JSON object carrying a "$type" field naming
// its lexicon type. Construct via NewValue or ValueWithType; both
// enforce the $type requirement so invalid values cannot circulate.
type Value struct {
	fields map[string]any
}

// NewValue validates m as a record value. m must contain a non-empty
// string "$type" field that parses as an NSID.
func NewValue(m map[string]any) (Value, error) {
	if err := validateType(m); err != nil {
		return Value{}, err
	}
	return Value{fields: m}, nil
}

// ValueWithType builds a value from collection and fields, setting
// "$type" to the collection NSID. Any existing "$type" in fields is
// overwritten.
func ValueWithType(collection syntax.NSID, fields map[string]any) Value {
	m := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		m[k] = v
	}
	m["$type"] = collection.String()
	return Value{fields: m}
}

func validateType(m map[string]any) error {
	raw, ok := m["$type"]
	if !ok {
		return aterr.NewInvalidInput("record value: missing required field \"$type\"")
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return aterr.NewInvalidInput("record value: \"$type\" must be a non-empty string")
	}
	if _, err := syntax.ParseNSID(s); err != nil {
		return aterr.Invalidf("record value: \"$type\" %q is not a valid NSID", s)
	}
	return nil
}

// Type returns the value's "$type" NSID.
func (v Value) Type() syntax.NSID {
	s, _ := v.fields["$type"].(string)
	return syntax.NSID(s)
}

// Get returns the named field and whether it is present.
func (v Value) Get(key string) (any, bool) {
	val, ok := v.fields[key]
	return val, ok
}

// AsMap returns a copy of the underlying fields.
func (v Value) AsMap() map[string]any {
	m := make(map[string]any, len(v.fields))
	for k, val := range v.fields {
		m[k] = val
	}
	return m
}

// IsZero reports whether the value is unset.
func (v Value) IsZero() bool { return v.fields == nil }

// MarshalJSON serializes the value as a plain JSON object.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.fields)
}

// UnmarshalJSON parses and validates a record value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return aterr.Invalidf("record value: invalid JSON: %v", err)
	}
	if err := validateType(m); err != nil {
		return err
	}
	v.fields = m
	return nil
}
