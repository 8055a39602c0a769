package schema

import (
	"time"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/pkg/errors"
)

// ArrowType returns the arrow type used on the wire for t. The time zone is
// only attached to timestamp types.
func ArrowType(t Type, timeZoneID string) (arrow.DataType, error) {
	switch t {
	case Boolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case Int8:
		return arrow.PrimitiveTypes.Int8, nil
	case Int16:
		return arrow.PrimitiveTypes.Int16, nil
	case Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case Float32:
		return arrow.PrimitiveTypes.Float32, nil
	case Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case String:
		return arrow.BinaryTypes.String, nil
	case Binary:
		return arrow.BinaryTypes.Binary, nil
	case Date:
		return arrow.PrimitiveTypes.Date32, nil
	case Timestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: timeZoneID}, nil
	default:
		return nil, errors.Errorf("unsupported type %s", t)
	}
}

// ValidateTimeZone checks that id names a location known to the time package.
func ValidateTimeZone(id string) error {
	if _, err := time.LoadLocation(id); err != nil {
		return errors.Wrapf(err, "invalid time zone %q", id)
	}
	return nil
}

// ArrowSchema converts s into the arrow schema written into stream headers.
func (s Schema) ArrowSchema(timeZoneID string) (*arrow.Schema, error) {
	if err := ValidateTimeZone(timeZoneID); err != nil {
		return nil, err
	}
	fields := make([]arrow.Field, 0, len(s.fields))
	for _, f := range s.fields {
		dt, err := ArrowType(f.Type, timeZoneID)
		if err != nil {
			return nil, errors.Wrapf(err, "field %q", f.Name)
		}
		fields = append(fields, arrow.Field{Name: f.Name, Type: dt, Nullable: f.Nullable})
	}
	return arrow.NewSchema(fields, nil), nil
}

// FromArrow is the inverse of ArrowSchema. It also returns the time zone of
// the first timestamp field, if any.
func FromArrow(as *arrow.Schema) (Schema, string, error) {
	var timeZoneID string
	fields := make([]Field, 0, len(as.Fields()))
	for _, af := range as.Fields() {
		var t Type
		switch af.Type.ID() {
		case arrow.BOOL:
			t = Boolean
		case arrow.INT8:
			t = Int8
		case arrow.INT16:
			t = Int16
		case arrow.INT32:
			t = Int32
		case arrow.INT64:
			t = Int64
		case arrow.FLOAT32:
			t = Float32
		case arrow.FLOAT64:
			t = Float64
		case arrow.STRING:
			t = String
		case arrow.BINARY:
			t = Binary
		case arrow.DATE32:
			t = Date
		case arrow.TIMESTAMP:
			ts := af.Type.(*arrow.TimestampType)
			if ts.Unit != arrow.Microsecond {
				return Schema{}, "", errors.Errorf("field %q: unsupported timestamp unit %s", af.Name, ts.Unit)
			}
			if timeZoneID == "" {
				timeZoneID = ts.TimeZone
			}
			t = Timestamp
		default:
			return Schema{}, "", errors.Errorf("field %q: unsupported arrow type %s", af.Name, af.Type)
		}
		fields = append(fields, Field{Name: af.Name, Type: t, Nullable: af.Nullable})
	}
	s, err := New(fields...)
	return s, timeZoneID, err
}
