package types

import (
	"fmt"
	"strings"
)

// PrimitiveType is the logical type of a schema field.
type PrimitiveType string

const (
	TypeBoolean   PrimitiveType = "boolean"
	TypeInt       PrimitiveType = "int"
	TypeLong      PrimitiveType = "long"
	TypeFloat     PrimitiveType = "float"
	TypeDouble    PrimitiveType = "double"
	TypeDate      PrimitiveType = "date"
	TypeTimestamp PrimitiveType = "timestamp"
	TypeString    PrimitiveType = "string"
	TypeBinary    PrimitiveType = "binary"
)

// ParsePrimitiveType parses a type name such as "long" or "STRING".
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	t := PrimitiveType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TypeBoolean, TypeInt, TypeLong, TypeFloat, TypeDouble,
		TypeDate, TypeTimestamp, TypeString, TypeBinary:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Field is a single column of a table schema.
type Field struct {
	// ID is the globally unique, positive field id
	ID int `json:"id" yaml:"id"`

	// Name is the column name
	Name string `json:"name" yaml:"name"`

	// Type is the primitive type of the column
	Type PrimitiveType `json:"type" yaml:"type"`

	// Required marks the column as non-nullable
	Required bool `json:"required" yaml:"required"`

	// Doc is an optional description
	Doc string `json:"doc,omitempty" yaml:"doc,omitempty"`
}

// NewOptionalField returns a nullable field.
func NewOptionalField(id int, name string, typ PrimitiveType) Field {
	return Field{ID: id, Name: name, Type: typ}
}

// NewRequiredField returns a non-nullable field.
func NewRequiredField(id int, name string, typ PrimitiveType) Field {
	return Field{ID: id, Name: name, Type: typ, Required: true}
}

// Schema is an ordered, immutable list of fields with unique ids and names.
// Use SchemaBuilder to create one; derived schemas are always new values.
type Schema struct {
	fields    []Field
	byID      map[int]int
	byName    map[string]int
	highestID int
}

// EmptySchema returns a schema without fields.
func EmptySchema() *Schema {
	s, _ := NewSchemaBuilder().Build()
	return s
}

// Fields returns a copy of the schema's fields in order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Len returns the number of fields.
func (s *Schema) Len() int {
	return len(s.fields)
}

// Field returns the i-th field.
func (s *Schema) Field(i int) Field {
	return s.fields[i]
}

// FieldByID looks up a field by id.
func (s *Schema) FieldByID(id int) (Field, bool) {
	idx, ok := s.byID[id]
	if !ok {
		return Field{}, false
	}
	return s.fields[idx], true
}

// FieldByName looks up a field by name.
func (s *Schema) FieldByName(name string) (Field, bool) {
	idx, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[idx], true
}

// HighestFieldID returns the largest field id in the schema, 0 when empty.
func (s *Schema) HighestFieldID() int {
	return s.highestID
}

// Names returns the field names in schema order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Equal reports whether both schemas have the same fields in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.fields) != len(other.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

// Builder returns a builder pre-populated with this schema's fields.
func (s *Schema) Builder() *SchemaBuilder {
	return NewSchemaBuilder().WithFields(s.fields...)
}

// String returns a compact representation, e.g. "1:id:long!,2:name:string".
func (s *Schema) String() string {
	parts := make([]string, len(s.fields))
	for i, f := range s.fields {
		req := ""
		if f.Required {
			req = "!"
		}
		parts[i] = fmt.Sprintf("%d:%s:%s%s", f.ID, f.Name, f.Type, req)
	}
	return strings.Join(parts, ",")
}

// SchemaBuilder accumulates fields and validates them on Build.
type SchemaBuilder struct {
	fields []Field
}

// NewSchemaBuilder creates an empty builder.
func NewSchemaBuilder() *SchemaBuilder {
	return &SchemaBuilder{}
}

// WithFields appends fields to the builder.
func (b *SchemaBuilder) WithFields(fields ...Field) *SchemaBuilder {
	b.fields = append(b.fields, fields...)
	return b
}

// Build validates the accumulated fields and returns the schema.
func (b *SchemaBuilder) Build() (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(b.fields)),
		byID:   make(map[int]int, len(b.fields)),
		byName: make(map[string]int, len(b.fields)),
	}
	copy(s.fields, b.fields)

	for i, f := range s.fields {
		if f.ID <= 0 {
			return nil, fmt.Errorf("%w: %d (field %q)", ErrInvalidFieldID, f.ID, f.Name)
		}
		if f.Name == "" {
			return nil, fmt.Errorf("%w: field id %d", ErrEmptyFieldName, f.ID)
		}
		if _, ok := s.byID[f.ID]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateFieldID, f.ID)
		}
		if _, ok := s.byName[f.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateFieldName, f.Name)
		}
		if _, err := ParsePrimitiveType(string(f.Type)); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		s.byID[f.ID] = i
		s.byName[f.Name] = i
		if f.ID > s.highestID {
			s.highestID = f.ID
		}
	}
	return s, nil
}
