package snapshot

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
)

// Record is one decoded unit of a channel's content. Numbers are kept as
// json.Number so large microsecond timestamps survive exactly.
type Record struct {
	fields map[string]any
	raw    json.RawMessage
}

// LatestRecord parses a channel's latest_content, a comma-joined sequence of
// JSON objects without the enclosing brackets, and returns the last object.
func LatestRecord(content string) (Record, error) {
	wrapped := make([]byte, 0, len(content)+2)
	wrapped = append(wrapped, '[')
	wrapped = append(wrapped, content...)
	wrapped = append(wrapped, ']')

	var elems []json.RawMessage
	if err := json.Unmarshal(wrapped, &elems); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(elems) == 0 {
		return Record{}, ErrEmptyPayload
	}
	return NewRecord(elems[len(elems)-1])
}

// NewRecord decodes a single JSON object into a Record.
func NewRecord(raw []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Record{}, fmt.Errorf("%w: record is not an object: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return Record{}, fmt.Errorf("%w: record is null", ErrMalformedPayload)
	}
	return Record{fields: fields, raw: append(json.RawMessage(nil), raw...)}, nil
}

// IsZero reports whether the record was never populated.
func (r Record) IsZero() bool {
	return r.fields == nil
}

// Field returns the raw decoded value of a field.
func (r Record) Field(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Fields returns the field names in no particular order.
func (r Record) Fields() []string {
	names := make([]string, 0, len(r.fields))
	for k := range r.fields {
		names = append(names, k)
	}
	return names
}

// Number returns a field parsed as a float. Strings holding a number are
// accepted; anything else (missing, null, bool, object) is not numeric.
func (r Record) Number(name string) (float64, bool) {
	v, ok := r.fields[name]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Decode unmarshals the record into a typed view.
func (r Record) Decode(v any) error {
	if r.raw == nil {
		return fmt.Errorf("%w: empty record", ErrMalformedPayload)
	}
	if err := json.Unmarshal(r.raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && !math.IsNaN(f)
	case float64:
		return n, !math.IsNaN(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f)
	default:
		return 0, false
	}
}
