package shrike

import "time"

// Option carries an optional override for an instance default. The
// zero value is "unspecified": distinct from an explicitly supplied
// zero, so callers can override a default with 0 or "" when they mean
// it. Used for per-call overrides on Connect.
type Option[T any] struct {
	value T
	set   bool
}

// Some returns an Option carrying an explicit value.
func Some[T any](v T) Option[T] {
	return Option[T]{value: v, set: true}
}

// IsSet reports whether a value was explicitly supplied.
func (o Option[T]) IsSet() bool {
	return o.set
}

// Or returns the carried value, or def when unspecified.
func (o Option[T]) Or(def T) T {
	if o.set {
		return o.value
	}
	return def
}

// ConnectOverrides overrides client defaults for a single Connect
// call. Unspecified fields fall back to the ClientConfig values.
type ConnectOverrides struct {
	Hostname Option[string]
	Port     Option[int]
	UseTLS   Option[bool]
	Timeout  Option[time.Duration]
}
