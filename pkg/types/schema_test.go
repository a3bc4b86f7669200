package types

import (
	"errors"
	"testing"
)

func TestSchemaBuilder_Build(t *testing.T) {
	s, err := NewSchemaBuilder().WithFields(
		NewRequiredField(1, "id", TypeLong),
		NewOptionalField(4, "name", TypeString),
		NewOptionalField(2, "ts", TypeTimestamp),
	).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if s.Len() != 3 {
		t.Fatalf("expected 3 fields, got %d", s.Len())
	}
	if s.HighestFieldID() != 4 {
		t.Fatalf("expected highest field id 4, got %d", s.HighestFieldID())
	}
	f, ok := s.FieldByID(4)
	if !ok || f.Name != "name" {
		t.Fatalf("expected field 4 to be name, got %+v (found=%v)", f, ok)
	}
	if _, ok := s.FieldByName("missing"); ok {
		t.Fatal("expected missing field lookup to fail")
	}
	names := s.Names()
	if len(names) != 3 || names[0] != "id" || names[1] != "name" || names[2] != "ts" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestSchemaBuilder_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields []Field
		want   error
	}{
		{"duplicate id", []Field{NewOptionalField(1, "a", TypeInt), NewOptionalField(1, "b", TypeInt)}, ErrDuplicateFieldID},
		{"duplicate name", []Field{NewOptionalField(1, "a", TypeInt), NewOptionalField(2, "a", TypeInt)}, ErrDuplicateFieldName},
		{"zero id", []Field{NewOptionalField(0, "a", TypeInt)}, ErrInvalidFieldID},
		{"empty name", []Field{NewOptionalField(1, "", TypeInt)}, ErrEmptyFieldName},
		{"bad type", []Field{{ID: 1, Name: "a", Type: "decimal"}}, ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchemaBuilder().WithFields(tt.fields...).Build()
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSchema_BuilderDoesNotMutate(t *testing.T) {
	base, err := NewSchemaBuilder().WithFields(NewOptionalField(1, "id", TypeLong)).Build()
	if err != nil {
		t.Fatal(err)
	}

	derived, err := base.Builder().WithFields(NewOptionalField(2, SysHiddenSeqNum, TypeLong)).Build()
	if err != nil {
		t.Fatal(err)
	}

	if base.Len() != 1 {
		t.Fatalf("base schema mutated: %s", base)
	}
	if derived.Len() != 2 || derived.HighestFieldID() != 2 {
		t.Fatalf("unexpected derived schema: %s", derived)
	}
	if base.Equal(derived) {
		t.Fatal("expected schemas to differ")
	}
}

func TestEmptySchema(t *testing.T) {
	s := EmptySchema()
	if s.Len() != 0 || s.HighestFieldID() != 0 {
		t.Fatalf("expected empty schema, got %s", s)
	}
}

func TestIsHiddenColumn(t *testing.T) {
	for _, name := range HiddenColumns() {
		if !IsHiddenColumn(name) {
			t.Fatalf("expected %s to be hidden", name)
		}
	}
	if IsHiddenColumn("id") {
		t.Fatal("id is not a hidden column")
	}
}

func TestSameEqualityIDs(t *testing.T) {
	if !SameEqualityIDs([]int{1, 2}, []int{1, 2}) {
		t.Fatal("identical lists should match")
	}
	if SameEqualityIDs([]int{1, 2}, []int{2, 1}) {
		t.Fatal("order matters")
	}
	if SameEqualityIDs([]int{1}, nil) {
		t.Fatal("different lengths should not match")
	}
}

func TestPartitionSpec_IsUnpartitioned(t *testing.T) {
	if !UnpartitionedSpec().IsUnpartitioned() {
		t.Fatal("expected unpartitioned")
	}
	var nilSpec *PartitionSpec
	if !nilSpec.IsUnpartitioned() {
		t.Fatal("nil spec should be unpartitioned")
	}
	spec := &PartitionSpec{Fields: []PartitionField{{SourceID: 1, FieldID: 1000, Name: "id_bucket", Transform: TransformBucket}}}
	if spec.IsUnpartitioned() {
		t.Fatal("expected partitioned")
	}
}
