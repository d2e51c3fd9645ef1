package store

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind identifies which scalar a Value holds.
type Kind uint8

// Value kinds, one per SQLite storage class.
const (
	KindNull Kind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

// String returns the SQLite storage class name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindInteger:
		return "INTEGER"
	case KindReal:
		return "REAL"
	case KindText:
		return "TEXT"
	case KindBlob:
		return "BLOB"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// blobKey marks a blob in JSON: {"$blob": "<base64>"}.
const blobKey = "$blob"

// Value is a single scalar bound to, or read from, the store.
// The zero Value is NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// Null returns the NULL value.
func Null() Value { return Value{} }

// Integer returns an INTEGER value.
func Integer(i int64) Value { return Value{kind: KindInteger, i: i} }

// Real returns a REAL value.
func Real(f float64) Value { return Value{kind: KindReal, f: f} }

// Text returns a TEXT value.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Blob returns a BLOB value. A nil slice is stored as an empty blob.
func Blob(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindBlob, b: b}
}

// Kind reports which scalar v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int returns the integer payload; ok is false for other kinds.
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInteger }

// Float returns the real payload; ok is false for other kinds.
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindReal }

// Str returns the text payload; ok is false for other kinds.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindText }

// Bytes returns the blob payload; ok is false for other kinds.
func (v Value) Bytes() ([]byte, bool) { return v.b, v.kind == KindBlob }

// Arg returns the native driver argument for binding to a placeholder.
func (v Value) Arg() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindReal:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		return v.b
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == o.i
	case KindReal:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	default:
		return true
	}
}

// String renders v for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindReal:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return strconv.Quote(v.s)
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.b)
	default:
		return "NULL"
	}
}

// FromDriver converts a value scanned from go-sqlite3 into a Value.
//
// go-sqlite3 hands back int64, float64, string, []byte, bool (for BOOLEAN
// declared columns), time.Time (for DATE/DATETIME/TIMESTAMP declared
// columns) or nil. Times are rendered as RFC3339 text and booleans as 0/1.
func FromDriver(src any) (Value, error) {
	switch x := src.(type) {
	case nil:
		return Null(), nil
	case int64:
		return Integer(x), nil
	case int:
		return Integer(int64(x)), nil
	case float64:
		return Real(x), nil
	case string:
		return Text(x), nil
	case []byte:
		return Blob(append([]byte(nil), x...)), nil
	case bool:
		if x {
			return Integer(1), nil
		}
		return Integer(0), nil
	case time.Time:
		return Text(x.Format(time.RFC3339Nano)), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, src)
	}
}

// MarshalJSON encodes v as a JSON scalar, or {"$blob": base64} for blobs.
// JSON has no non-finite numbers, so NaN and ±Inf REALs are written as the
// strings "NaN", "Infinity" and "-Infinity".
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInteger:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindReal:
		switch {
		case math.IsNaN(v.f):
			return []byte(`"NaN"`), nil
		case math.IsInf(v.f, 1):
			return []byte(`"Infinity"`), nil
		case math.IsInf(v.f, -1):
			return []byte(`"-Infinity"`), nil
		}
		return json.Marshal(v.f)
	case KindText:
		return json.Marshal(v.s)
	case KindBlob:
		return json.Marshal(map[string]string{blobKey: base64.StdEncoding.EncodeToString(v.b)})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar into v.
//
// Integral numbers become INTEGER, other numbers REAL, strings TEXT, null
// NULL and booleans INTEGER 0/1. Objects of the form {"$blob": base64}
// become BLOB. Arrays and other objects are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	return v.fromToken(dec, tok)
}

// fromToken fills v from the first token of a JSON value, reading further
// tokens from dec when the value is a blob object.
func (v *Value) fromToken(dec *json.Decoder, tok json.Token) error {
	switch x := tok.(type) {
	case nil:
		*v = Null()
	case bool:
		if x {
			*v = Integer(1)
		} else {
			*v = Integer(0)
		}
	case string:
		*v = Text(x)
	case json.Number:
		return v.fromNumber(x)
	case json.Delim:
		if x != '{' {
			return fmt.Errorf("%w: arrays are not scalar values", ErrUnsupportedValue)
		}
		return v.fromBlobObject(dec)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, tok)
	}
	return nil
}

func (v *Value) fromNumber(n json.Number) error {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*v = Integer(i)
		return nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return fmt.Errorf("%w: number %s", ErrUnsupportedValue, n)
	}
	*v = Real(f)
	return nil
}

func (v *Value) fromBlobObject(dec *json.Decoder) error {
	keyTok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding blob: %w", err)
	}
	key, ok := keyTok.(string)
	if !ok || key != blobKey {
		return fmt.Errorf("%w: objects must have the single key %q", ErrUnsupportedValue, blobKey)
	}
	var encoded string
	if err := dec.Decode(&encoded); err != nil {
		return fmt.Errorf("decoding blob: %w", err)
	}
	end, err := dec.Token()
	if err != nil || end != json.Delim('}') {
		return fmt.Errorf("%w: objects must have the single key %q", ErrUnsupportedValue, blobKey)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: blob is not base64: %w", ErrUnsupportedValue, err)
	}
	*v = Blob(raw)
	return nil
}
