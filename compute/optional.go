package compute

// Optional is the Go-native replacement for PFQ's "Maybe u64 via tag bit"
// property return convention (NOTHING=0, JUST(x)=high-bit-set). DESIGN
// NOTES calls the tag-bit encoding "fragile across languages" and asks for
// a proper tagged option on the property path; this is that type.
type Optional[T any] struct {
	value T
	ok    bool
}

// Just wraps a present value.
func Just[T any](v T) Optional[T] { return Optional[T]{value: v, ok: true} }

// Nothing returns the absent value.
func Nothing[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it was present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.ok }

// IsJust reports whether the option holds a value.
func (o Optional[T]) IsJust() bool { return o.ok }
