package mcpclient

// Result is a sum-typed outcome for an MCP call: exactly one of Ok, Absent,
// or Err holds. Call sites never see a raised exception; any HTTP, network,
// decode, or shape error collapses to Absent (or Err for config-level
// failures that should never be retried).
type Result[T any] struct {
	value  T
	absent bool
	err    error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] { return Result[T]{value: v} }

// Absent represents "no value available" — the normal, expected outcome of
// a transient external failure or a registry miss.
func Absent[T any]() Result[T] { return Result[T]{absent: true} }

// Err represents a configuration-level failure that should surface to the
// caller rather than be silently treated as absent.
func Err[T any](err error) Result[T] { return Result[T]{err: err} }

// IsOk reports whether the result carries a value.
func (r Result[T]) IsOk() bool { return !r.absent && r.err == nil }

// IsAbsent reports whether the result is the no-value-available outcome.
func (r Result[T]) IsAbsent() bool { return r.absent }

// Error returns the wrapped error, if any.
func (r Result[T]) Error() error { return r.err }

// Value returns the wrapped value and whether it was present.
func (r Result[T]) Value() (T, bool) { return r.value, r.IsOk() }
