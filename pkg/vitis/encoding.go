package vitis

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Record sets are persisted as a google.protobuf.Struct:
//
//	{"columns": ["Produto", "Quantidade (L.)"], "rows": [["VINHO DE MESA", 169762429], ...]}
//
// string, number and null values survive the round trip unchanged.
const (
	fieldColumns = "columns"
	fieldRows    = "rows"
)

// MarshalRecordSet encodes rs deterministically.
func MarshalRecordSet(rs *RecordSet) ([]byte, error) {
	cols := make([]*structpb.Value, len(rs.Columns))
	for i, c := range rs.Columns {
		cols[i] = structpb.NewStringValue(c)
	}

	if err := rs.checkShape(); err != nil {
		return nil, err
	}
	rows := make([]*structpb.Value, len(rs.Rows))
	for i, row := range rs.Rows {
		cells := make([]*structpb.Value, len(row))
		for j, v := range row {
			cell, err := encodeValue(v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, rs.Columns[j], err)
			}
			cells[j] = cell
		}
		rows[i] = structpb.NewListValue(&structpb.ListValue{Values: cells})
	}

	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldColumns: structpb.NewListValue(&structpb.ListValue{Values: cols}),
		fieldRows:    structpb.NewListValue(&structpb.ListValue{Values: rows}),
	}}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record set: %w", err)
	}
	return data, nil
}

// UnmarshalRecordSet decodes bytes written by MarshalRecordSet.
func UnmarshalRecordSet(data []byte) (*RecordSet, error) {
	msg := &structpb.Struct{}
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record set: %w", err)
	}

	rs := &RecordSet{Rows: []Row{}}
	for _, c := range msg.GetFields()[fieldColumns].GetListValue().GetValues() {
		s, ok := c.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("column name is %T, want string", c.GetKind())
		}
		rs.Columns = append(rs.Columns, s.StringValue)
	}

	for i, r := range msg.GetFields()[fieldRows].GetListValue().GetValues() {
		cells := r.GetListValue().GetValues()
		if len(cells) != len(rs.Columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(cells), len(rs.Columns))
		}
		row := make(Row, len(cells))
		for j, cell := range cells {
			v, err := decodeValue(cell)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, rs.Columns[j], err)
			}
			row[j] = v
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

func encodeValue(v Value) (*structpb.Value, error) {
	switch x := v.(type) {
	case nil:
		return structpb.NewNullValue(), nil
	case string:
		return structpb.NewStringValue(x), nil
	case float64:
		return structpb.NewNumberValue(x), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func decodeValue(v *structpb.Value) (Value, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_NumberValue:
		return k.NumberValue, nil
	default:
		return nil, fmt.Errorf("unsupported cell kind %T", k)
	}
}
