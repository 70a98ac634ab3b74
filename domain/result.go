package domain

// Result is the outcome of an operation at the tool boundary: either a value
// or an error, never both.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail wraps an error.
func Fail[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// From builds a Result from a conventional (value, error) pair.
func From[T any](v T, err error) Result[T] {
	if err != nil {
		return Fail[T](err)
	}
	return Ok(v)
}

// IsOK reports whether the result holds a value.
func (r Result[T]) IsOK() bool { return r.err == nil }

// Value returns the value; it is the zero value on failure.
func (r Result[T]) Value() T { return r.value }

// Err returns the error, or nil on success.
func (r Result[T]) Err() error { return r.err }
