package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is one row of the source dataset: an ordered mapping from column name
// to value. Columns preserves the order the source produced them in, which is
// also the key order of the serialized JSON object.
type Record struct {
	// Index is the zero-based position of the row in the source sequence.
	Index int
	// Columns lists the column names in source order.
	Columns []string
	// Values holds the value for each column. A nil value serializes as null.
	Values map[string]any
}

// NewRecord creates an empty record for the row at the given index.
func NewRecord(index int, capacity int) Record {
	return Record{
		Index:   index,
		Columns: make([]string, 0, capacity),
		Values:  make(map[string]any, capacity),
	}
}

// Set assigns a value to a column, appending the column if it is new.
func (r *Record) Set(column string, value any) {
	if r.Values == nil {
		r.Values = make(map[string]any)
	}
	if _, ok := r.Values[column]; !ok {
		r.Columns = append(r.Columns, column)
	}
	r.Values[column] = value
}

// Get returns the value of a column and whether the column exists.
func (r Record) Get(column string) (any, bool) {
	v, ok := r.Values[column]
	return v, ok
}

// Len returns the number of columns in the record.
func (r Record) Len() int {
	return len(r.Columns)
}

// Clone returns a copy whose column list and value map can be modified
// without affecting the original.
func (r Record) Clone() Record {
	c := Record{
		Index:   r.Index,
		Columns: make([]string, len(r.Columns)),
		Values:  make(map[string]any, len(r.Values)),
	}
	copy(c.Columns, r.Columns)
	for k, v := range r.Values {
		c.Values[k] = v
	}
	return c
}

// MarshalJSON renders the record as a JSON object with keys in column order.
// It fails for values encoding/json cannot represent, such as NaN or channels.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.Values[col])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
