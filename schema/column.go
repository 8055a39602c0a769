package schema

import (
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"
	"github.com/segmentio/parquet-go/compress"
	"github.com/segmentio/parquet-go/compress/zstd"
	"github.com/segmentio/parquet-go/deprecated"
	"github.com/segmentio/parquet-go/encoding"
	"github.com/segmentio/parquet-go/format"
)

type column struct {
	parquet.Node
	name string
}

func newColumn(f Field) *column {
	var node parquet.Node
	switch f.Type {
	case Boolean:
		node = parquet.Leaf(parquet.BooleanType)
	case Int8:
		node = parquet.Int(8)
	case Int16:
		node = parquet.Int(16)
	case Int32:
		node = parquet.Encoded(parquet.Leaf(parquet.Int32Type), &parquet.DeltaBinaryPacked)
	case Int64:
		node = parquet.Encoded(parquet.Leaf(parquet.Int64Type), &parquet.DeltaBinaryPacked)
	case Float32:
		node = parquet.Leaf(parquet.FloatType)
	case Float64:
		node = parquet.Leaf(parquet.DoubleType)
	case String:
		node = parquet.Encoded(parquet.String(), &parquet.RLEDictionary)
	case Binary:
		node = parquet.Encoded(parquet.Leaf(parquet.ByteArrayType), &parquet.DeltaLengthByteArray)
		node = parquet.Compressed(node, &zstd.Codec{})
	case Date:
		node = parquet.Date()
	case Timestamp:
		node = parquet.Encoded(parquet.Timestamp(parquet.Microsecond), &parquet.DeltaBinaryPacked)
	}
	if f.Nullable {
		node = parquet.Optional(node)
	}
	return &column{Node: node, name: f.Name}
}

func (l column) Name() string { return l.name }

func (l column) Value(base reflect.Value) reflect.Value { return base }

type groupType struct {
	parquet.Type
}

func (groupType) String() string { return "group" }

func (groupType) Length() int { return 0 }

func (groupType) EstimateSize(int) int { return 0 }

func (groupType) EstimateNumValues(int) int { return 0 }

func (groupType) ColumnOrder() *format.ColumnOrder { return nil }

func (groupType) PhysicalType() *format.Type { return nil }

func (groupType) LogicalType() *format.LogicalType { return nil }

func (groupType) ConvertedType() *deprecated.ConvertedType { return nil }

// rowNode is a parquet group whose columns keep the schema field order.
// parquet.Group sorts its fields by name, which would break the mapping
// between row positions and column indexes.
type rowNode struct {
	fields []Field
}

func (r rowNode) String() string { return fmt.Sprintf("%v", r.fields) }

func (r rowNode) Type() parquet.Type { return groupType{} }

func (r rowNode) Optional() bool { return false }

func (r rowNode) Repeated() bool { return false }

func (r rowNode) Required() bool { return true }

func (r rowNode) Leaf() bool { return false }

func (r rowNode) Fields() []parquet.Field {
	fields := make([]parquet.Field, 0, len(r.fields))
	for _, f := range r.fields {
		fields = append(fields, newColumn(f))
	}
	return fields
}

func (r rowNode) Encoding() encoding.Encoding { return nil }

func (r rowNode) Compression() compress.Codec { return nil }

func (r rowNode) GoType() reflect.Type { return reflect.TypeOf(rowNode{}) }

// ParquetSchema returns a flat parquet schema with one leaf column per field.
func (s Schema) ParquetSchema() *parquet.Schema {
	return parquet.NewSchema("row", rowNode{fields: s.fields})
}

// FromParquet derives a schema from the top level leaf columns of node.
func FromParquet(node parquet.Node) (Schema, error) {
	pqFields := node.Fields()
	fields := make([]Field, 0, len(pqFields))
	for _, pf := range pqFields {
		if !pf.Leaf() || pf.Repeated() {
			return Schema{}, errors.Errorf("column %q: nested and repeated columns are not supported", pf.Name())
		}
		t, err := typeOfLeaf(pf.Type())
		if err != nil {
			return Schema{}, errors.Wrapf(err, "column %q", pf.Name())
		}
		fields = append(fields, Field{Name: pf.Name(), Type: t, Nullable: pf.Optional()})
	}
	return New(fields...)
}

func typeOfLeaf(t parquet.Type) (Type, error) {
	if lt := t.LogicalType(); lt != nil {
		switch {
		case lt.UTF8 != nil:
			return String, nil
		case lt.Date != nil:
			return Date, nil
		case lt.Timestamp != nil:
			if lt.Timestamp.Unit.Micros == nil {
				return 0, errors.New("only microsecond timestamps are supported")
			}
			return Timestamp, nil
		case lt.Integer != nil:
			switch lt.Integer.BitWidth {
			case 8:
				return Int8, nil
			case 16:
				return Int16, nil
			case 32:
				return Int32, nil
			case 64:
				return Int64, nil
			}
		}
	}
	switch t.Kind() {
	case parquet.Boolean:
		return Boolean, nil
	case parquet.Int32:
		return Int32, nil
	case parquet.Int64:
		return Int64, nil
	case parquet.Float:
		return Float32, nil
	case parquet.Double:
		return Float64, nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return Binary, nil
	}
	return 0, errors.Errorf("unsupported parquet type %s", t)
}
