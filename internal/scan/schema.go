// Package scan turns file scan tasks into queryable tables.
package scan

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"

	cerrors "github.com/arkilian/compactor/internal/errors"
	"github.com/arkilian/compactor/pkg/types"
)

// FieldIDKey is the arrow field metadata key carrying the logical field id.
const FieldIDKey = "PARQUET:field_id"

// ArrowType maps a primitive type to its arrow type.
func ArrowType(t types.PrimitiveType) (arrow.DataType, error) {
	switch t {
	case types.TypeBoolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case types.TypeInt:
		return arrow.PrimitiveTypes.Int32, nil
	case types.TypeLong:
		return arrow.PrimitiveTypes.Int64, nil
	case types.TypeFloat:
		return arrow.PrimitiveTypes.Float32, nil
	case types.TypeDouble:
		return arrow.PrimitiveTypes.Float64, nil
	case types.TypeDate:
		return arrow.FixedWidthTypes.Date32, nil
	case types.TypeTimestamp:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case types.TypeString:
		return arrow.BinaryTypes.String, nil
	case types.TypeBinary:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownType, t)
	}
}

// ToArrowSchema converts a logical schema to the engine schema. Optional
// fields become nullable.
func ToArrowSchema(s *types.Schema) (*arrow.Schema, error) {
	fields := make([]arrow.Field, s.Len())
	for i, f := range s.Fields() {
		dt, err := ArrowType(f.Type)
		if err != nil {
			return nil, cerrors.NewSchemaError(cerrors.CodeInvalidField,
				fmt.Sprintf("field %q cannot be converted", f.Name), err)
		}
		fields[i] = arrow.Field{
			Name:     f.Name,
			Type:     dt,
			Nullable: !f.Required,
			Metadata: arrow.NewMetadata([]string{FieldIDKey}, []string{strconv.Itoa(f.ID)}),
		}
	}
	return arrow.NewSchema(fields, nil), nil
}

// FieldID returns the logical field id recorded on f.
func FieldID(f arrow.Field) (int, bool) {
	idx := f.Metadata.FindKey(FieldIDKey)
	if idx < 0 {
		return 0, false
	}
	id, err := strconv.Atoi(f.Metadata.Values()[idx])
	if err != nil {
		return 0, false
	}
	return id, true
}
