package statestore

// ConditionalValue is a value that may be absent. It distinguishes "key
// absent" from "value is the zero value".
type ConditionalValue[T any] struct {
	Value    T
	HasValue bool
}

// Some wraps a present value.
func Some[T any](v T) ConditionalValue[T] {
	return ConditionalValue[T]{Value: v, HasValue: true}
}

// None returns an absent value.
func None[T any]() ConditionalValue[T] {
	return ConditionalValue[T]{}
}

// Get returns the value and whether it is present.
func (c ConditionalValue[T]) Get() (T, bool) {
	return c.Value, c.HasValue
}

// OrElse returns the value when present, otherwise def.
func (c ConditionalValue[T]) OrElse(def T) T {
	if c.HasValue {
		return c.Value
	}
	return def
}
