package schema

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Type is the logical type of a field.
type Type int

const (
	Boolean Type = iota + 1
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
	String
	Binary
	Date
	// Timestamp values are microseconds since the unix epoch in UTC.
	Timestamp
)

var typeNames = map[Type]string{
	Boolean:   "boolean",
	Int8:      "int8",
	Int16:     "int16",
	Int32:     "int32",
	Int64:     "int64",
	Float32:   "float32",
	Float64:   "float64",
	String:    "string",
	Binary:    "binary",
	Date:      "date",
	Timestamp: "timestamp",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType parses the lower case type names used in configuration files.
func ParseType(name string) (Type, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	switch name {
	case "bool":
		return Boolean, nil
	case "float", "real":
		return Float32, nil
	case "double":
		return Float64, nil
	case "utf8":
		return String, nil
	case "bytes":
		return Binary, nil
	}
	return 0, errors.Errorf("unknown field type %q", name)
}

type Field struct {
	Name     string
	Type     Type
	Nullable bool
}

func (f Field) String() string {
	if f.Nullable {
		return fmt.Sprintf("%s: %s nullable", f.Name, f.Type)
	}
	return fmt.Sprintf("%s: %s", f.Name, f.Type)
}

// Schema is an ordered list of fields. A Schema is never modified once
// created, so it can be shared between encoders and decoders.
type Schema struct {
	fields []Field
	index  map[string]int
}

// New validates fields and returns a schema preserving their order.
func New(fields ...Field) (Schema, error) {
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return Schema{}, errors.Errorf("field %d has no name", i)
		}
		if _, ok := typeNames[f.Type]; !ok {
			return Schema{}, errors.Errorf("field %q has invalid type %s", f.Name, f.Type)
		}
		if _, ok := index[f.Name]; ok {
			return Schema{}, errors.Errorf("duplicated field name %q", f.Name)
		}
		index[f.Name] = i
	}
	return Schema{fields: slices.Clone(fields), index: index}, nil
}

// MustNew is like New but panics on invalid fields.
func MustNew(fields ...Field) Schema {
	s, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s Schema) Len() int { return len(s.fields) }

func (s Schema) Field(i int) Field { return s.fields[i] }

// Fields returns a copy of the schema fields.
func (s Schema) Fields() []Field { return slices.Clone(s.fields) }

// Lookup returns the position of the named field.
func (s Schema) Lookup(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

func (s Schema) Equal(other Schema) bool {
	return slices.Equal(s.fields, other.fields)
}

func (s Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		parts[i] = f.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
