package executor

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// SQLiteType returns the column type used when materializing an arrow
// column into SQLite. Dates and timestamps are stored as integers (days
// and microseconds since the epoch) so the driver hands them back as int64.
func SQLiteType(dt arrow.DataType) (string, error) {
	switch dt.ID() {
	case arrow.BOOL, arrow.INT32, arrow.INT64, arrow.DATE32, arrow.TIMESTAMP:
		return "INTEGER", nil
	case arrow.FLOAT32, arrow.FLOAT64:
		return "REAL", nil
	case arrow.STRING:
		return "TEXT", nil
	case arrow.BINARY:
		return "BLOB", nil
	default:
		return "", fmt.Errorf("executor: unsupported column type %s", dt)
	}
}

// ValueAt returns row i of arr as a database/sql friendly value.
func ValueAt(arr arrow.Array, i int) (interface{}, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		if a.Value(i) {
			return int64(1), nil
		}
		return int64(0), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Date32:
		return int64(a.Value(i)), nil
	case *array.Timestamp:
		return int64(a.Value(i)), nil
	case *array.String:
		return a.Value(i), nil
	case *array.Binary:
		// Copy: the value aliases the array buffer.
		v := a.Value(i)
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	default:
		return nil, fmt.Errorf("executor: unsupported array type %s", arr.DataType())
	}
}

// AppendValue appends a value scanned from SQLite to b.
func AppendValue(b array.Builder, v interface{}) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	switch bb := b.(type) {
	case *array.BooleanBuilder:
		switch x := v.(type) {
		case bool:
			bb.Append(x)
			return nil
		case int64:
			bb.Append(x != 0)
			return nil
		}
	case *array.Int32Builder:
		if x, ok := v.(int64); ok {
			bb.Append(int32(x))
			return nil
		}
	case *array.Int64Builder:
		switch x := v.(type) {
		case int64:
			bb.Append(x)
			return nil
		case bool:
			if x {
				bb.Append(1)
			} else {
				bb.Append(0)
			}
			return nil
		}
	case *array.Float32Builder:
		switch x := v.(type) {
		case float64:
			bb.Append(float32(x))
			return nil
		case int64:
			bb.Append(float32(x))
			return nil
		}
	case *array.Float64Builder:
		switch x := v.(type) {
		case float64:
			bb.Append(x)
			return nil
		case int64:
			bb.Append(float64(x))
			return nil
		}
	case *array.Date32Builder:
		switch x := v.(type) {
		case int64:
			bb.Append(arrow.Date32(x))
			return nil
		case time.Time:
			bb.Append(arrow.Date32FromTime(x))
			return nil
		}
	case *array.TimestampBuilder:
		switch x := v.(type) {
		case int64:
			bb.Append(arrow.Timestamp(x))
			return nil
		case time.Time:
			bb.Append(arrow.Timestamp(x.UnixMicro()))
			return nil
		}
	case *array.StringBuilder:
		switch x := v.(type) {
		case string:
			bb.Append(x)
			return nil
		case []byte:
			bb.Append(string(x))
			return nil
		}
	case *array.BinaryBuilder:
		switch x := v.(type) {
		case []byte:
			bb.Append(x)
			return nil
		case string:
			bb.AppendString(x)
			return nil
		}
	}
	return fmt.Errorf("executor: cannot append %T to %s column", v, b.Type())
}
