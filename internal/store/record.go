package store

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field is one column/value pair of a Record.
type Field struct {
	Column string
	Value  Value
}

// Record is an ordered mapping from column name to Value.
//
// For query results the order is the store's column order. For caller
// input it is the order the caller supplied, and JSON decoding keeps the
// key order of the object. Setting an existing column replaces its value
// in place.
type Record struct {
	fields []Field
}

// NewRecord builds a Record from fields, in order.
func NewRecord(fields ...Field) Record {
	var r Record
	for _, f := range fields {
		r.Set(f.Column, f.Value)
	}
	return r
}

// Len returns the number of columns.
func (r Record) Len() int { return len(r.fields) }

// IsEmpty reports whether the record has no columns.
func (r Record) IsEmpty() bool { return len(r.fields) == 0 }

// Fields returns the column/value pairs in order.
func (r Record) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Columns returns the column names in order.
func (r Record) Columns() []string {
	cols := make([]string, len(r.fields))
	for i, f := range r.fields {
		cols[i] = f.Column
	}
	return cols
}

// Args returns the values as driver arguments, in column order.
func (r Record) Args() []any {
	args := make([]any, len(r.fields))
	for i, f := range r.fields {
		args[i] = f.Value.Arg()
	}
	return args
}

// Get returns the value for column.
func (r Record) Get(column string) (Value, bool) {
	for _, f := range r.fields {
		if f.Column == column {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Set adds column or replaces its value.
func (r *Record) Set(column string, v Value) {
	for i := range r.fields {
		if r.fields[i].Column == column {
			r.fields[i].Value = v
			return
		}
	}
	r.fields = append(r.fields, Field{Column: column, Value: v})
}

// MarshalJSON encodes r as a JSON object in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Column)
		if err != nil {
			return nil, err
		}
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Column, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order. A JSON null
// decodes to an empty record.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	if tok == nil {
		*r = Record{}
		return nil
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("decoding record: expected object, got %v", tok)
	}

	var out Record
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decoding record: %w", err)
		}
		key, _ := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decoding record column %q: %w", key, err)
		}
		var v Value
		if err := v.fromToken(dec, valTok); err != nil {
			return fmt.Errorf("decoding record column %q: %w", key, err)
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}

	*r = out
	return nil
}
