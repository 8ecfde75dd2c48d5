package result

// Of carries either a value or an error out of a concurrently run task.
type Of[T any] struct {
	v   T
	err error
}

// Value returns the carried value even when the result holds an error.
// Producers that degrade instead of failing put their fallback value there.
func (r Of[T]) Value() T {
	return r.v
}

func (r Of[T]) Err() error {
	return r.err
}

// Degraded carries a usable value alongside the error that caused it. A nil
// err makes it a plain successful result.
func Degraded[T any](v T, err error) Of[T] {
	return Of[T]{v: v, err: err}
}
