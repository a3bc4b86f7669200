package compaction

import (
	"fmt"

	cerrors "github.com/arkilian/compactor/internal/errors"
)

type slotState uint8

const (
	slotAbsent slotState = iota
	slotPresent
	slotConsumed
)

// slot holds an optional value that can be taken at most once.
type slot[T any] struct {
	state slotState
	value T
}

func presentSlot[T any](v T) slot[T] {
	return slot[T]{state: slotPresent, value: v}
}

// take returns the value and marks the slot consumed. An absent slot yields
// ok == false. Taking a consumed slot is an error.
func (s *slot[T]) take(name string) (v T, ok bool, err error) {
	switch s.state {
	case slotPresent:
		v = s.value
		var zero T
		s.value = zero
		s.state = slotConsumed
		return v, true, nil
	case slotConsumed:
		return v, false, cerrors.NewConfigError(cerrors.CodeAlreadyConsumed,
			fmt.Sprintf("%s has already been consumed", name))
	default:
		return v, false, nil
	}
}

// peek returns the value without consuming it.
func (s *slot[T]) peek() (T, bool) {
	return s.value, s.state == slotPresent
}
