package vitis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Value is a scalar cell: string, float64 or nil.
type Value = any

// Row holds one value per column, in column order.
type Row []Value

// RecordSet is an ordered table with a uniform column set.
// Treat a RecordSet returned by the Extractor as read-only; it may be shared
// between concurrent callers.
type RecordSet struct {
	Columns []string
	Rows    []Row
}

// NewRecordSet returns an empty record set with the given columns.
func NewRecordSet(columns ...string) *RecordSet {
	return &RecordSet{Columns: columns, Rows: []Row{}}
}

// Append adds a row. It fails if the row width differs from the column count
// or a value is not a supported scalar.
func (rs *RecordSet) Append(values ...Value) error {
	if len(values) != len(rs.Columns) {
		return fmt.Errorf("row has %d values, want %d", len(values), len(rs.Columns))
	}
	for i, v := range values {
		norm, err := normalizeValue(v)
		if err != nil {
			return fmt.Errorf("column %q: %w", rs.Columns[i], err)
		}
		values[i] = norm
	}
	rs.Rows = append(rs.Rows, Row(values))
	return nil
}

// Len returns the number of rows.
func (rs *RecordSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// checkShape reports the first row whose width differs from the column count.
func (rs *RecordSet) checkShape() error {
	for i, row := range rs.Rows {
		if len(row) != len(rs.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(rs.Columns))
		}
	}
	return nil
}

// Records returns the rows as column-name to value maps.
func (rs *RecordSet) Records() []map[string]Value {
	out := make([]map[string]Value, len(rs.Rows))
	for i, row := range rs.Rows {
		m := make(map[string]Value, len(rs.Columns))
		for j, col := range rs.Columns {
			m[col] = row[j]
		}
		out[i] = m
	}
	return out
}

// Clone returns a deep copy.
func (rs *RecordSet) Clone() *RecordSet {
	if rs == nil {
		return nil
	}
	out := &RecordSet{
		Columns: slices.Clone(rs.Columns),
		Rows:    make([]Row, len(rs.Rows)),
	}
	for i, row := range rs.Rows {
		out.Rows[i] = slices.Clone(row)
	}
	return out
}

// Equal reports row-for-row, column-for-column equality, including value types.
func (rs *RecordSet) Equal(other *RecordSet) bool {
	if rs == nil || other == nil {
		return rs == other
	}
	if !slices.Equal(rs.Columns, other.Columns) || len(rs.Rows) != len(other.Rows) {
		return false
	}
	for i := range rs.Rows {
		if len(rs.Rows[i]) != len(other.Rows[i]) {
			return false
		}
		for j := range rs.Rows[i] {
			if rs.Rows[i][j] != other.Rows[i][j] {
				return false
			}
		}
	}
	return true
}

// MarshalJSON encodes the set as an array of objects whose keys follow
// column order.
func (rs *RecordSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range rs.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, col := range rs.Columns {
			if j > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(col)
			if err != nil {
				return nil, err
			}
			buf.Write(name)
			buf.WriteByte(':')
			val, err := json.Marshal(row[j])
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", col, err)
			}
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// normalizeValue widens integer types to float64 and rejects non-scalars.
func normalizeValue(v Value) (Value, error) {
	switch x := v.(type) {
	case nil, string, float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
