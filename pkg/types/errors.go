package types

import "errors"

// Schema construction errors
var (
	// ErrInvalidFieldID is returned when a field id is not a positive integer
	ErrInvalidFieldID = errors.New("invalid field id")

	// ErrDuplicateFieldID is returned when two fields of a schema share an id
	ErrDuplicateFieldID = errors.New("duplicate field id")

	// ErrDuplicateFieldName is returned when two fields of a schema share a name
	ErrDuplicateFieldName = errors.New("duplicate field name")

	// ErrEmptyFieldName is returned when a field has no name
	ErrEmptyFieldName = errors.New("empty field name")

	// ErrUnknownType is returned when a primitive type name cannot be parsed
	ErrUnknownType = errors.New("unknown primitive type")
)
