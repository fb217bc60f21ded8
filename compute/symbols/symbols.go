// Package symbols registers the builtin computation primitives named in
// §4.4's category table (filter, bloom, vlan, forward, steering,
// predicate, combinator, property, high_order, misc) against
// compute.Global. Importing this package for its side effect is what
// makes a control-plane-submitted computation resolvable at Compile time,
// mirroring how the reference kernel module links its builtin
// pfq_lang_functions table in at module-init time.
package symbols

import (
	"encoding/binary"

	"github.com/pfq-io/pfq-go/compute"
)

const (
	etherTypeIPv4 = 0x0800
	etherTypeVLAN = 0x8100
	protoTCP      = 6
	protoUDP      = 17
)

func etherType(data []byte) (uint16, int) {
	if len(data) < 14 {
		return 0, 0
	}
	et := binary.BigEndian.Uint16(data[12:14])
	if et == etherTypeVLAN && len(data) >= 18 {
		return binary.BigEndian.Uint16(data[16:18]), 18
	}
	return et, 14
}

func ipv4Proto(data []byte, l3 int) (int, bool) {
	if len(data) < l3+10 {
		return 0, false
	}
	return int(data[l3+9]), true
}

func vlanTag(data []byte) (uint16, bool) {
	if len(data) < 16 {
		return 0, false
	}
	if binary.BigEndian.Uint16(data[12:14]) != etherTypeVLAN {
		return 0, false
	}
	return binary.BigEndian.Uint16(data[14:16]) & 0x0fff, true
}

// hash32 is an FNV-1a fold, used for steer_flow's 5-tuple hash and
// steer_ip's source/destination hash — deterministic, cheap, no external
// dependency needed for a demonstration hash function.
func hash32(b []byte) uint32 {
	h := uint32(2166136261)
	for _, c := range b {
		h ^= uint32(c)
		h *= 16777619
	}
	return h
}

func init() {
	registerPredicates()
	registerSteering()
	registerVlan()
	registerMisc()
	registerCombinators()
}

func registerPredicates() {
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryPredicate, Symbol: "ip", Kind: compute.KindPredicate,
		Signature: "() -> bool",
		Pred: func(_ *compute.Arguments, pkt *compute.Packet) bool {
			et, _ := etherType(pkt.Data)
			return et == etherTypeIPv4
		},
	})
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryPredicate, Symbol: "tcp", Kind: compute.KindPredicate,
		Signature: "() -> bool",
		Pred: func(_ *compute.Arguments, pkt *compute.Packet) bool {
			et, l3 := etherType(pkt.Data)
			if et != etherTypeIPv4 {
				return false
			}
			proto, ok := ipv4Proto(pkt.Data, l3)
			return ok && proto == protoTCP
		},
	})
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryPredicate, Symbol: "udp", Kind: compute.KindPredicate,
		Signature: "() -> bool",
		Pred: func(_ *compute.Arguments, pkt *compute.Packet) bool {
			et, l3 := etherType(pkt.Data)
			if et != etherTypeIPv4 {
				return false
			}
			proto, ok := ipv4Proto(pkt.Data, l3)
			return ok && proto == protoUDP
		},
	})
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryPredicate, Symbol: "vlan", Kind: compute.KindPredicate,
		Signature: "() -> bool",
		Pred: func(_ *compute.Arguments, pkt *compute.Packet) bool {
			_, ok := vlanTag(pkt.Data)
			return ok
		},
	})
}

func registerSteering() {
	compute.Global.Register(compute.Entry{
		Category: compute.CategorySteering, Symbol: "steer_ip", Kind: compute.KindMonadic,
		Signature: "() -> action",
		Fn: func(_ *compute.Arguments, pkt *compute.Packet) compute.Action {
			et, l3 := etherType(pkt.Data)
			if et != etherTypeIPv4 || len(pkt.Data) < l3+20 {
				return compute.Drop()
			}
			h := hash32(pkt.Data[l3+12 : l3+20]) // src+dst addr
			return compute.Steer(h, pkt.Cb.Class)
		},
	})
	compute.Global.Register(compute.Entry{
		Category: compute.CategorySteering, Symbol: "steer_flow", Kind: compute.KindMonadic,
		Signature: "() -> action",
		Fn: func(_ *compute.Arguments, pkt *compute.Packet) compute.Action {
			et, l3 := etherType(pkt.Data)
			if et != etherTypeIPv4 || len(pkt.Data) < l3+24 {
				return compute.Drop()
			}
			// 5-tuple: src/dst addr (8B) + src/dst port (4B), proto folded in.
			tuple := make([]byte, 0, 13)
			tuple = append(tuple, pkt.Data[l3+9]) // proto
			tuple = append(tuple, pkt.Data[l3+12:l3+20]...)
			tuple = append(tuple, pkt.Data[l3+20:l3+24]...)
			h := hash32(tuple)
			return compute.Steer(h, pkt.Cb.Class)
		},
	})
	compute.Global.Register(compute.Entry{
		Category: compute.CategorySteering, Symbol: "broadcast", Kind: compute.KindMonadic,
		Signature: "() -> action",
		Fn: func(_ *compute.Arguments, pkt *compute.Packet) compute.Action {
			return compute.Copy(^uint64(0), pkt.Cb.Class)
		},
	})
}

func registerVlan() {
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryVlan, Symbol: "vlan_id", Kind: compute.KindMonadic,
		Signature: "() -> action",
		Fn: func(_ *compute.Arguments, pkt *compute.Packet) compute.Action {
			if tag, ok := vlanTag(pkt.Data); ok {
				pkt.Cb.VlanTag = tag
			}
			return compute.Pass()
		},
	})
}

func registerMisc() {
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryMisc, Symbol: "drop", Kind: compute.KindMonadic,
		Signature: "() -> action",
		Fn: func(_ *compute.Arguments, _ *compute.Packet) compute.Action {
			return compute.Drop()
		},
	})
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryMisc, Symbol: "class", Kind: compute.KindMonadic,
		Signature: "(int) -> action",
		Fn: func(args *compute.Arguments, pkt *compute.Packet) compute.Action {
			pkt.Cb.Class = int(compute.GetScalar[int32](args, 0))
			return compute.Pass()
		},
	})
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryMisc, Symbol: "dummy", Kind: compute.KindMonadic,
		Signature: "() -> action",
		Fn: func(_ *compute.Arguments, _ *compute.Packet) compute.Action {
			return compute.Pass()
		},
	})
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryMisc, Symbol: "counter", Kind: compute.KindMonadic,
		Signature: "() -> action",
		Fn: func(_ *compute.Arguments, _ *compute.Packet) compute.Action {
			// Counting itself is delegated to the caller's stats.Ring; this
			// primitive exists purely as a pass-through pipeline marker.
			return compute.Pass()
		},
	})
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryForward, Symbol: "forward", Kind: compute.KindMonadic,
		Signature: "(string, int) -> action",
		Fn: func(args *compute.Arguments, pkt *compute.Packet) compute.Action {
			dev := compute.Boxed[string](args, 0)
			queue := int(compute.GetScalar[int32](args, 1))
			pkt.Cb.Log.Forward(dev, queue)
			return compute.Pass()
		},
	})
}

func registerCombinators() {
	for _, sym := range []string{"and", "or", "xor"} {
		compute.Global.Register(compute.Entry{
			Category: compute.CategoryCombinator, Symbol: sym, Kind: compute.KindCombinator,
			Signature: "(bool, bool) -> bool",
		})
	}
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryCombinator, Symbol: "not", Kind: compute.KindCombinator,
		Signature: "(bool) -> bool",
	})
	compute.Global.Register(compute.Entry{
		Category: compute.CategoryHighOrder, Symbol: "when", Kind: compute.KindHighOrder,
		Signature: "(bool, computation) -> action",
	})
}
