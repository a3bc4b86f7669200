package types

// Transform names a partition transform applied to a source column.
type Transform string

const (
	TransformIdentity Transform = "identity"
	TransformBucket   Transform = "bucket"
	TransformTruncate Transform = "truncate"
	TransformYear     Transform = "year"
	TransformMonth    Transform = "month"
	TransformDay      Transform = "day"
	TransformHour     Transform = "hour"
	TransformVoid     Transform = "void"
)

// PartitionField derives one partition value from a source column.
type PartitionField struct {
	// SourceID is the field id of the source column in the table schema
	SourceID int `json:"source_id" yaml:"source_id"`

	// FieldID is the partition field id
	FieldID int `json:"field_id" yaml:"field_id"`

	// Name is the partition field name
	Name string `json:"name" yaml:"name"`

	// Transform is the transform applied to the source value
	Transform Transform `json:"transform" yaml:"transform"`
}

// PartitionSpec is the destination table's rule for grouping output rows.
type PartitionSpec struct {
	// SpecID identifies the spec within the table metadata
	SpecID int `json:"spec_id" yaml:"spec_id"`

	// Fields lists the partition fields in order
	Fields []PartitionField `json:"fields" yaml:"fields"`
}

// UnpartitionedSpec returns a spec without partition fields.
func UnpartitionedSpec() *PartitionSpec {
	return &PartitionSpec{}
}

// IsUnpartitioned reports whether the spec has no partition fields.
func (p *PartitionSpec) IsUnpartitioned() bool {
	return p == nil || len(p.Fields) == 0
}
