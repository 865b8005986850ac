package di

import "fmt"

// Resolve resolves a component with type safety, returning an error on
// failure or type mismatch.
func Resolve[T any](c Container, key string) (T, error) {
	var zero T
	instance, err := c.Resolve(key)
	if err != nil {
		return zero, err
	}
	result, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("di: component %q is %T, expected %T", key, instance, zero)
	}
	return result, nil
}

// MustResolve resolves a component with type safety and panics on failure.
func MustResolve[T any](c Container, key string) T {
	result, err := Resolve[T](c, key)
	if err != nil {
		panic(err)
	}
	return result
}

// TryResolve resolves a component, returning false when it is missing or of
// the wrong type. Use for optional dependencies.
func TryResolve[T any](c Container, key string) (T, bool) {
	result, err := Resolve[T](c, key)
	return result, err == nil
}
