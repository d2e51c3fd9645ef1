package store

import (
	"encoding/json"
	"fmt"
)

// EnvelopeKind tags which variant of an Envelope is populated.
type EnvelopeKind string

// Envelope variants.
const (
	EnvelopeRows       EnvelopeKind = "rows"
	EnvelopeAffected   EnvelopeKind = "affected"
	EnvelopeInsertedID EnvelopeKind = "inserted_id"
	EnvelopeAck        EnvelopeKind = "ack"
	EnvelopeTables     EnvelopeKind = "tables"
	EnvelopeSchema     EnvelopeKind = "schema"
	EnvelopeFailure    EnvelopeKind = "failure"
)

// Failure describes why an operation did not succeed.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Envelope is the uniform outcome of every engine operation.
//
// Exactly one variant is populated, selected by Kind. Callers switch on
// Kind; the other fields hold their zero values.
type Envelope struct {
	Kind EnvelopeKind

	// EnvelopeRows
	Columns []string
	Rows    []Record

	// EnvelopeAffected
	Affected int64

	// EnvelopeInsertedID
	InsertedID int64

	// EnvelopeAck
	Message string

	// EnvelopeTables
	Tables []string

	// EnvelopeSchema
	Schema []TableSchema

	// EnvelopeFailure
	Failure *Failure
}

// RowsResult wraps a materialized result set.
func RowsResult(columns []string, rows []Record) Envelope {
	if columns == nil {
		columns = []string{}
	}
	if rows == nil {
		rows = []Record{}
	}
	return Envelope{Kind: EnvelopeRows, Columns: columns, Rows: rows}
}

// AffectedResult wraps a write's affected-row count.
func AffectedResult(n int64) Envelope {
	return Envelope{Kind: EnvelopeAffected, Affected: n}
}

// InsertedIDResult wraps the rowid generated by an insert.
func InsertedIDResult(id int64) Envelope {
	return Envelope{Kind: EnvelopeInsertedID, InsertedID: id}
}

// AckResult wraps a confirmation message.
func AckResult(message string) Envelope {
	return Envelope{Kind: EnvelopeAck, Message: message}
}

// TablesResult wraps a list of table names.
func TablesResult(tables []string) Envelope {
	if tables == nil {
		tables = []string{}
	}
	return Envelope{Kind: EnvelopeTables, Tables: tables}
}

// SchemaResult wraps per-table column definitions.
func SchemaResult(schema []TableSchema) Envelope {
	if schema == nil {
		schema = []TableSchema{}
	}
	return Envelope{Kind: EnvelopeSchema, Schema: schema}
}

// FailureResult wraps a classified failure.
func FailureResult(kind ErrorKind, message string) Envelope {
	return Envelope{Kind: EnvelopeFailure, Failure: &Failure{Kind: kind, Message: message}}
}

// Normalize converts err into a Failure envelope. It is the single place
// where errors from validation, identifiers and the driver become results.
func Normalize(err error) Envelope {
	kind, msg := classify(err)
	return FailureResult(kind, msg)
}

// OK reports whether e is not a failure.
func (e Envelope) OK() bool { return e.Kind != EnvelopeFailure }

// Err returns the failure as an error, or nil.
func (e Envelope) Err() error {
	if e.Failure == nil {
		return nil
	}
	return fmt.Errorf("%s: %s", e.Failure.Kind, e.Failure.Message)
}

// Count is the number of rows returned or affected, for metrics.
func (e Envelope) Count() int64 {
	switch e.Kind {
	case EnvelopeRows:
		return int64(len(e.Rows))
	case EnvelopeAffected:
		return e.Affected
	case EnvelopeInsertedID:
		return 1
	default:
		return 0
	}
}

// Outcome is the envelope kind, or the failure kind for failures.
func (e Envelope) Outcome() string {
	if e.Failure != nil {
		return string(e.Failure.Kind)
	}
	return string(e.Kind)
}

// envelopeJSON is the wire form of an Envelope.
type envelopeJSON struct {
	Kind       EnvelopeKind  `json:"kind"`
	Columns    []string      `json:"columns,omitempty"`
	Rows       []Record      `json:"rows,omitempty"`
	Affected   *int64        `json:"rows_affected,omitempty"`
	InsertedID *int64        `json:"inserted_id,omitempty"`
	Message    string        `json:"message,omitempty"`
	Tables     []string      `json:"tables,omitempty"`
	Schema     []TableSchema `json:"schema,omitempty"`
	Error      *Failure      `json:"error,omitempty"`
}

// MarshalJSON emits the tag plus only the fields of the populated variant.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := envelopeJSON{Kind: e.Kind}
	switch e.Kind {
	case EnvelopeRows:
		// Empty result sets still carry their (possibly empty) arrays.
		type rowsJSON struct {
			Kind    EnvelopeKind `json:"kind"`
			Columns []string     `json:"columns"`
			Rows    []Record     `json:"rows"`
		}
		r := rowsJSON{Kind: e.Kind, Columns: e.Columns, Rows: e.Rows}
		if r.Columns == nil {
			r.Columns = []string{}
		}
		if r.Rows == nil {
			r.Rows = []Record{}
		}
		return json.Marshal(r)
	case EnvelopeAffected:
		n := e.Affected
		out.Affected = &n
	case EnvelopeInsertedID:
		id := e.InsertedID
		out.InsertedID = &id
	case EnvelopeAck:
		out.Message = e.Message
	case EnvelopeTables:
		type tablesJSON struct {
			Kind   EnvelopeKind `json:"kind"`
			Tables []string     `json:"tables"`
		}
		t := tablesJSON{Kind: e.Kind, Tables: e.Tables}
		if t.Tables == nil {
			t.Tables = []string{}
		}
		return json.Marshal(t)
	case EnvelopeSchema:
		type schemaJSON struct {
			Kind   EnvelopeKind  `json:"kind"`
			Schema []TableSchema `json:"schema"`
		}
		s := schemaJSON{Kind: e.Kind, Schema: e.Schema}
		if s.Schema == nil {
			s.Schema = []TableSchema{}
		}
		return json.Marshal(s)
	case EnvelopeFailure:
		out.Error = e.Failure
	default:
		return nil, fmt.Errorf("marshalling envelope: unknown kind %q", e.Kind)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var in envelopeJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}
	switch in.Kind {
	case EnvelopeRows:
		*e = RowsResult(in.Columns, in.Rows)
	case EnvelopeAffected:
		if in.Affected == nil {
			return fmt.Errorf("decoding envelope: %s without rows_affected", in.Kind)
		}
		*e = AffectedResult(*in.Affected)
	case EnvelopeInsertedID:
		if in.InsertedID == nil {
			return fmt.Errorf("decoding envelope: %s without inserted_id", in.Kind)
		}
		*e = InsertedIDResult(*in.InsertedID)
	case EnvelopeAck:
		*e = AckResult(in.Message)
	case EnvelopeTables:
		*e = TablesResult(in.Tables)
	case EnvelopeSchema:
		*e = SchemaResult(in.Schema)
	case EnvelopeFailure:
		if in.Error == nil {
			return fmt.Errorf("decoding envelope: %s without error", in.Kind)
		}
		*e = FailureResult(in.Error.Kind, in.Error.Message)
	default:
		return fmt.Errorf("decoding envelope: unknown kind %q", in.Kind)
	}
	return nil
}
