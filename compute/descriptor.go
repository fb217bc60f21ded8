package compute

import "encoding/binary"

// Kind is the 4-valued node kind tag for a computation graph node.
type Kind uint32

const (
	KindMonadic Kind = iota
	KindHighOrder
	KindPredicate
	KindCombinator
)

func (k Kind) String() string {
	switch k {
	case KindMonadic:
		return "monadic_fn"
	case KindHighOrder:
		return "high_order_fn"
	case KindPredicate:
		return "predicate"
	case KindCombinator:
		return "combinator"
	default:
		return "unknown"
	}
}

// Category groups symbols in the registry, per §4.4's fixed category list.
type Category string

const (
	CategoryFilter     Category = "filter"
	CategoryBloom      Category = "bloom"
	CategoryVlan       Category = "vlan"
	CategoryForward    Category = "forward"
	CategorySteering   Category = "steering"
	CategoryPredicate  Category = "predicate"
	CategoryCombinator Category = "combinator"
	CategoryProperty   Category = "property"
	CategoryHighOrder  Category = "high_order"
	CategoryMisc       Category = "misc"
)

// Absent marks an absent child index (§4.4: "Index -1 means 'absent'").
const Absent int32 = -1

// MaxSymbolLen bounds the wire symbol name, matching functional_descr's
// char[64].
const MaxSymbolLen = 64

// DescArg is one wire-format argument slot: {value, size, nelem}.
type DescArg struct {
	Value uint64
	Size  uint32
	NElem uint32
}

// Descriptor is the wire form of one computation node
// (pfq_computation_tree's pfq_functional_node), submitted flat by the
// control plane and compiled into a Computation. Next mirrors the
// reference struct's own next pointer — the main pipeline's sequencing is
// explicit per node, not inferred from array position, since a node may
// be referenced as a combinator/high-order child without also being a
// step of the top-level chain.
type Descriptor struct {
	Kind   Kind
	Symbol string
	Args   [8]DescArg
	LIndex int32
	RIndex int32
	Next   int32
}

const descArgWire = 8 + 4 + 4 // value + size + nelem
const descriptorWireSize = 4 + MaxSymbolLen + 8*descArgWire + 4 + 4 + 4

// MarshalBinary encodes one descriptor little-endian, per §6.
func (d Descriptor) MarshalBinary() []byte {
	b := make([]byte, descriptorWireSize)
	off := 0
	binary.LittleEndian.PutUint32(b[off:], uint32(d.Kind))
	off += 4
	sym := make([]byte, MaxSymbolLen)
	copy(sym, d.Symbol)
	copy(b[off:], sym)
	off += MaxSymbolLen
	for _, a := range d.Args {
		binary.LittleEndian.PutUint64(b[off:], a.Value)
		off += 8
		binary.LittleEndian.PutUint32(b[off:], a.Size)
		off += 4
		binary.LittleEndian.PutUint32(b[off:], a.NElem)
		off += 4
	}
	binary.LittleEndian.PutUint32(b[off:], uint32(d.LIndex))
	off += 4
	binary.LittleEndian.PutUint32(b[off:], uint32(d.RIndex))
	off += 4
	binary.LittleEndian.PutUint32(b[off:], uint32(d.Next))
	return b
}

// UnmarshalDescriptor decodes one little-endian wire descriptor.
func UnmarshalDescriptor(b []byte) Descriptor {
	var d Descriptor
	off := 0
	d.Kind = Kind(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	end := off + MaxSymbolLen
	sym := b[off:end]
	n := 0
	for n < len(sym) && sym[n] != 0 {
		n++
	}
	d.Symbol = string(sym[:n])
	off = end
	for i := range d.Args {
		d.Args[i].Value = binary.LittleEndian.Uint64(b[off:])
		off += 8
		d.Args[i].Size = binary.LittleEndian.Uint32(b[off:])
		off += 4
		d.Args[i].NElem = binary.LittleEndian.Uint32(b[off:])
		off += 4
	}
	d.LIndex = int32(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	d.RIndex = int32(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	d.Next = int32(binary.LittleEndian.Uint32(b[off:]))
	return d
}
