package schema

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
)

const microsPerDay = int64(24 * time.Hour / time.Microsecond)

// Leveled places v at column col of a flat row, setting the definition
// level expected by parquet writers for that field.
func (s Schema) Leveled(col int, v parquet.Value) parquet.Value {
	if v.IsNull() {
		return parquet.Value{}.Level(0, 0, col)
	}
	definitionLevel := 0
	if s.fields[col].Nullable {
		definitionLevel = 1
	}
	return v.Level(0, definitionLevel, col)
}

// MakeRow builds a row from Go values. A nil value is a null.
func (s Schema) MakeRow(values ...any) (parquet.Row, error) {
	if len(values) != len(s.fields) {
		return nil, errors.Errorf("expected %d values, got %d", len(s.fields), len(values))
	}
	row := make(parquet.Row, len(values))
	for i, v := range values {
		pv, err := valueOf(s.fields[i], v)
		if err != nil {
			return nil, err
		}
		row[i] = s.Leveled(i, pv)
	}
	return row, nil
}

// MustMakeRow is like MakeRow but panics on invalid values.
func (s Schema) MustMakeRow(values ...any) parquet.Row {
	row, err := s.MakeRow(values...)
	if err != nil {
		panic(err)
	}
	return row
}

func valueOf(f Field, v any) (parquet.Value, error) {
	if v == nil {
		return parquet.Value{}, nil
	}
	switch f.Type {
	case Boolean:
		if b, ok := v.(bool); ok {
			return parquet.BooleanValue(b), nil
		}
	case Int8, Int16, Int32:
		if n, ok := asInt64(v); ok && n >= math.MinInt32 && n <= math.MaxInt32 {
			return parquet.Int32Value(int32(n)), nil
		}
	case Int64:
		if n, ok := asInt64(v); ok {
			return parquet.Int64Value(n), nil
		}
	case Float32:
		switch x := v.(type) {
		case float32:
			return parquet.FloatValue(x), nil
		case float64:
			return parquet.FloatValue(float32(x)), nil
		}
	case Float64:
		switch x := v.(type) {
		case float32:
			return parquet.DoubleValue(float64(x)), nil
		case float64:
			return parquet.DoubleValue(x), nil
		}
	case String, Binary:
		switch x := v.(type) {
		case string:
			return parquet.ByteArrayValue([]byte(x)), nil
		case []byte:
			return parquet.ByteArrayValue(x), nil
		}
	case Date:
		switch x := v.(type) {
		case time.Time:
			secs := x.Unix()
			days := secs / 86400
			if secs%86400 < 0 {
				days--
			}
			return parquet.Int32Value(int32(days)), nil
		default:
			if n, ok := asInt64(v); ok {
				return parquet.Int32Value(int32(n)), nil
			}
		}
	case Timestamp:
		switch x := v.(type) {
		case time.Time:
			return parquet.Int64Value(x.UnixMicro()), nil
		default:
			if n, ok := asInt64(v); ok {
				return parquet.Int64Value(n), nil
			}
		}
	}
	return parquet.Value{}, errors.Errorf("field %q: cannot use %T as %s", f.Name, v, f.Type)
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	}
	return 0, false
}

// Values converts a row back into Go values, the inverse of MakeRow.
// Strings come back as string, dates and timestamps as UTC time.Time.
func (s Schema) Values(row parquet.Row) ([]any, error) {
	if len(row) != len(s.fields) {
		return nil, errors.Errorf("expected %d values, got %d", len(s.fields), len(row))
	}
	values := make([]any, len(row))
	for i, v := range row {
		if v.IsNull() {
			continue
		}
		switch s.fields[i].Type {
		case Boolean:
			values[i] = v.Boolean()
		case Int8:
			values[i] = int8(v.Int32())
		case Int16:
			values[i] = int16(v.Int32())
		case Int32:
			values[i] = v.Int32()
		case Int64:
			values[i] = v.Int64()
		case Float32:
			values[i] = v.Float()
		case Float64:
			values[i] = v.Double()
		case String:
			values[i] = string(v.ByteArray())
		case Binary:
			values[i] = append([]byte(nil), v.ByteArray()...)
		case Date:
			values[i] = time.UnixMicro(int64(v.Int32()) * microsPerDay).UTC()
		case Timestamp:
			values[i] = time.UnixMicro(v.Int64()).UTC()
		}
	}
	return values, nil
}
