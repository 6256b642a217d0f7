// internal/model/optional.go
package model

import (
	"encoding/json"
	"fmt"
)

// Optional holds a reading that may be unavailable. The zero value is
// unavailable, so a legitimate zero reading is never mistaken for "not read".
type Optional[T any] struct {
	value T
	valid bool
}

// Some wraps an available value
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, valid: true}
}

// None returns an unavailable value
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is available
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.valid
}

// Valid reports whether a value is available
func (o Optional[T]) Valid() bool {
	return o.valid
}

// OrElse returns the value or fallback when unavailable
func (o Optional[T]) OrElse(fallback T) T {
	if !o.valid {
		return fallback
	}
	return o.value
}

// Set stores an available value
func (o *Optional[T]) Set(v T) {
	o.value = v
	o.valid = true
}

// Clear marks the value unavailable
func (o *Optional[T]) Clear() {
	var zero T
	o.value = zero
	o.valid = false
}

func (o Optional[T]) String() string {
	if !o.valid {
		return "unavailable"
	}
	return fmt.Sprint(o.value)
}

// MarshalJSON encodes an unavailable value as null
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null as unavailable
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		o.Clear()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Set(v)
	return nil
}
