package codec

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"Shopify/parquet-arrow-bridge/schema"
)

// valueWriter appends one value to a column builder and returns an estimate
// of the bytes it added. On error nothing has been appended.
type valueWriter func(v parquet.Value) (int, error)

func newValueWriter(f schema.Field, b array.Builder) valueWriter {
	var write valueWriter
	switch f.Type {
	case schema.Boolean:
		bb := b.(*array.BooleanBuilder)
		write = func(v parquet.Value) (int, error) {
			if v.Kind() != parquet.Boolean {
				return 0, kindMismatch(v)
			}
			bb.Append(v.Boolean())
			return 1, nil
		}
	case schema.Int8:
		bb := b.(*array.Int8Builder)
		write = func(v parquet.Value) (int, error) {
			n, err := intValue(v, math.MinInt8, math.MaxInt8)
			if err != nil {
				return 0, err
			}
			bb.Append(int8(n))
			return 1, nil
		}
	case schema.Int16:
		bb := b.(*array.Int16Builder)
		write = func(v parquet.Value) (int, error) {
			n, err := intValue(v, math.MinInt16, math.MaxInt16)
			if err != nil {
				return 0, err
			}
			bb.Append(int16(n))
			return 2, nil
		}
	case schema.Int32:
		bb := b.(*array.Int32Builder)
		write = func(v parquet.Value) (int, error) {
			n, err := intValue(v, math.MinInt32, math.MaxInt32)
			if err != nil {
				return 0, err
			}
			bb.Append(int32(n))
			return 4, nil
		}
	case schema.Int64:
		bb := b.(*array.Int64Builder)
		write = func(v parquet.Value) (int, error) {
			n, err := intValue(v, math.MinInt64, math.MaxInt64)
			if err != nil {
				return 0, err
			}
			bb.Append(n)
			return 8, nil
		}
	case schema.Float32:
		bb := b.(*array.Float32Builder)
		write = func(v parquet.Value) (int, error) {
			if v.Kind() != parquet.Float {
				return 0, kindMismatch(v)
			}
			bb.Append(v.Float())
			return 4, nil
		}
	case schema.Float64:
		bb := b.(*array.Float64Builder)
		write = func(v parquet.Value) (int, error) {
			switch v.Kind() {
			case parquet.Double:
				bb.Append(v.Double())
			case parquet.Float:
				bb.Append(float64(v.Float()))
			default:
				return 0, kindMismatch(v)
			}
			return 8, nil
		}
	case schema.String:
		bb := b.(*array.StringBuilder)
		write = func(v parquet.Value) (int, error) {
			if !isByteArray(v) {
				return 0, kindMismatch(v)
			}
			data := v.ByteArray()
			if !utf8.Valid(data) {
				return 0, errors.New("value is not valid utf-8")
			}
			bb.Append(string(data))
			return len(data) + 4, nil
		}
	case schema.Binary:
		bb := b.(*array.BinaryBuilder)
		write = func(v parquet.Value) (int, error) {
			if !isByteArray(v) {
				return 0, kindMismatch(v)
			}
			data := v.ByteArray()
			bb.Append(data)
			return len(data) + 4, nil
		}
	case schema.Date:
		bb := b.(*array.Date32Builder)
		write = func(v parquet.Value) (int, error) {
			if v.Kind() != parquet.Int32 {
				return 0, kindMismatch(v)
			}
			bb.Append(arrow.Date32(v.Int32()))
			return 4, nil
		}
	case schema.Timestamp:
		bb := b.(*array.TimestampBuilder)
		write = func(v parquet.Value) (int, error) {
			n, err := intValue(v, math.MinInt64, math.MaxInt64)
			if err != nil {
				return 0, err
			}
			bb.Append(arrow.Timestamp(n))
			return 8, nil
		}
	default:
		panic(fmt.Sprintf("unsupported field type %s", f.Type))
	}

	return func(v parquet.Value) (int, error) {
		if v.IsNull() {
			if !f.Nullable {
				return 0, errors.New("null value in non-nullable field")
			}
			b.AppendNull()
			return 1, nil
		}
		return write(v)
	}
}

func intValue(v parquet.Value, min, max int64) (int64, error) {
	var n int64
	switch v.Kind() {
	case parquet.Int32:
		n = int64(v.Int32())
	case parquet.Int64:
		n = v.Int64()
	default:
		return 0, kindMismatch(v)
	}
	if n < min || n > max {
		return 0, errors.Errorf("value %d out of range [%d, %d]", n, min, max)
	}
	return n, nil
}

func isByteArray(v parquet.Value) bool {
	return v.Kind() == parquet.ByteArray || v.Kind() == parquet.FixedLenByteArray
}

func kindMismatch(v parquet.Value) error {
	return errors.Errorf("unexpected value kind %s", v.Kind())
}

// valueReader reads the non-null value at position i of a column.
type valueReader func(i int) parquet.Value

func newValueReader(f schema.Field, arr arrow.Array) (valueReader, error) {
	mismatch := errors.Errorf("column %q has arrow type %s, expected %s", f.Name, arr.DataType(), f.Type)
	switch f.Type {
	case schema.Boolean:
		a, ok := arr.(*array.Boolean)
		if !ok {
			return nil, mismatch
		}
		return func(i int) parquet.Value { return parquet.BooleanValue(a.Value(i)) }, nil
	case schema.Int8:
		a, ok := arr.(*array.Int8)
		if !ok {
			return nil, mismatch
		}
		return func(i int) parquet.Value { return parquet.Int32Value(int32(a.Value(i))) }, nil
	case schema.Int16:
		a, ok := arr.(*array.Int16)
		if !ok {
			return nil, mismatch
		}
		return func(i int) parquet.Value { return parquet.Int32Value(int32(a.Value(i))) }, nil
	case schema.Int32:
		a, ok := arr.(*array.Int32)
		if !ok {
			return nil, mismatch
		}
		return func(i int) parquet.Value { return parquet.Int32Value(a.Value(i)) }, nil
	case schema.Int64:
		a, ok := arr.(*array.Int64)
		if !ok {
			return nil, mismatch
		}
		return func(i int) parquet.Value { return parquet.Int64Value(a.Value(i)) }, nil
	case schema.Float32:
		a, ok := arr.(*array.Float32)
		if !ok {
			return nil, mismatch
		}
		return func(i int) parquet.Value { return parquet.FloatValue(a.Value(i)) }, nil
	case schema.Float64:
		a, ok := arr.(*array.Float64)
		if !ok {
			return nil, mismatch
		}
		return func(i int) parquet.Value { return parquet.DoubleValue(a.Value(i)) }, nil
	case schema.String:
		a, ok := arr.(*array.String)
		if !ok {
			return nil, mismatch
		}
		// The string references the batch buffers, which are released
		// before the row is consumed; the conversion copies it.
		return func(i int) parquet.Value { return parquet.ByteArrayValue([]byte(a.Value(i))) }, nil
	case schema.Binary:
		a, ok := arr.(*array.Binary)
		if !ok {
			return nil, mismatch
		}
		return func(i int) parquet.Value {
			return parquet.ByteArrayValue(append([]byte{}, a.Value(i)...))
		}, nil
	case schema.Date:
		a, ok := arr.(*array.Date32)
		if !ok {
			return nil, mismatch
		}
		return func(i int) parquet.Value { return parquet.Int32Value(int32(a.Value(i))) }, nil
	case schema.Timestamp:
		a, ok := arr.(*array.Timestamp)
		if !ok {
			return nil, mismatch
		}
		return func(i int) parquet.Value { return parquet.Int64Value(int64(a.Value(i))) }, nil
	}
	return nil, mismatch
}
