package compute

// Arg is one calling-convention slot: a scalar value stored inline when it
// fits in 8 bytes, or a boxed Go value (pointer, slice, struct) otherwise.
// This is the memory-safe replacement for the C source's ptrdiff_t
// value-or-pointer union (§4.4, DESIGN NOTES "typed functional tree with
// erased arguments").
type Arg struct {
	raw   uint64 // inline scalar storage, little-endian bit pattern
	size  uint32 // byte width of the inline scalar; 0 means "boxed"
	nelem uint32 // > 0 for array-valued arguments
	boxed any
}

// Arguments is the fixed 8-slot argument block passed to every functional
// node at evaluation time, mirroring struct pfq_functional's arg[8].
type Arguments struct {
	Slots [8]Arg
}

// Scalar is the set of types storable inline in an Arg (≤ 8 bytes).
type Scalar interface {
	~bool | ~int8 | ~uint8 | ~int16 | ~uint16 |
		~int32 | ~uint32 | ~int64 | ~uint64 | ~int | ~uint
}

// SetScalar stores v by value in slot i.
func SetScalar[T Scalar](a *Arguments, i int, v T) {
	a.Slots[i] = Arg{raw: toUint64(v), size: sizeOf[T]()}
}

func toUint64[T Scalar](v T) uint64 {
	switch x := any(v).(type) {
	case int8:
		return uint64(uint8(x))
	case uint8:
		return uint64(x)
	case int16:
		return uint64(uint16(x))
	case uint16:
		return uint64(x)
	case int32:
		return uint64(uint32(x))
	case uint32:
		return uint64(x)
	case int64:
		return uint64(x)
	case uint64:
		return x
	case int:
		return uint64(x)
	case uint:
		return uint64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	}
	return 0
}

func sizeOf[T Scalar]() uint32 {
	var v T
	switch any(v).(type) {
	case bool, int8, uint8:
		return 1
	case int16, uint16:
		return 2
	case int32, uint32:
		return 4
	default:
		return 8
	}
}

// GetScalar reads slot i as T. Returns the zero value if the slot holds no
// scalar; a scalar stored with a different width is converted from its raw
// 64-bit value (truncated or widened) rather than rejected.
func GetScalar[T Scalar](a *Arguments, i int) T {
	var zero T
	s := a.Slots[i]
	if s.size == 0 {
		return zero
	}
	switch any(zero).(type) {
	case bool:
		return any(s.raw != 0).(T)
	case int8:
		return any(int8(s.raw)).(T)
	case uint8:
		return any(uint8(s.raw)).(T)
	case int16:
		return any(int16(s.raw)).(T)
	case uint16:
		return any(uint16(s.raw)).(T)
	case int32:
		return any(int32(s.raw)).(T)
	case uint32:
		return any(uint32(s.raw)).(T)
	case int64:
		return any(int64(s.raw)).(T)
	case uint64:
		return any(s.raw).(T)
	case int:
		return any(int(s.raw)).(T)
	case uint:
		return any(uint(s.raw)).(T)
	}
	return zero
}

// SetBoxed stores a large or pointer-shaped argument (or an array, with
// nelem > 0) in slot i.
func SetBoxed(a *Arguments, i int, v any, nelem uint32) {
	a.Slots[i] = Arg{boxed: v, nelem: nelem}
}

// Boxed retrieves slot i's boxed value as T.
func Boxed[T any](a *Arguments, i int) T {
	v, _ := a.Slots[i].boxed.(T)
	return v
}

// Len returns the element count of an array-valued argument in slot i.
func Len(a *Arguments, i int) int { return int(a.Slots[i].nelem) }
