package compute

// ActionKind is the small sum type a monadic function returns for one
// packet (§4.4).
type ActionKind int

const (
	ActionPass ActionKind = iota
	ActionDrop
	ActionSteer
	ActionCopy
	ActionToKernel
	ActionSink
)

func (k ActionKind) String() string {
	switch k {
	case ActionPass:
		return "pass"
	case ActionDrop:
		return "drop"
	case ActionSteer:
		return "steer"
	case ActionCopy:
		return "copy"
	case ActionToKernel:
		return "to_kernel"
	case ActionSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Action is the evaluator's per-packet fanout decision.
type Action struct {
	Kind  ActionKind
	Hash  uint32 // valid for ActionSteer
	Mask  uint64 // valid for ActionCopy
	Class int    // fanout lane, set by the "class" primitive
}

// Pass continues to the next node in the chain.
func Pass() Action { return Action{Kind: ActionPass} }

// Drop discards the packet (data-plane drop counter).
func Drop() Action { return Action{Kind: ActionDrop} }

// Steer picks exactly one class member via hash.
func Steer(hash uint32, class int) Action {
	return Action{Kind: ActionSteer, Hash: hash, Class: class}
}

// Copy delivers to every member in mask.
func Copy(mask uint64, class int) Action {
	return Action{Kind: ActionCopy, Mask: mask, Class: class}
}

// ToKernel marks the packet for continued kernel-stack delivery in
// addition to any lazy forwarding already logged.
func ToKernel() Action { return Action{Kind: ActionToKernel} }

// Sink discards with no fanout resolution at all. It is a separate action
// kind from Drop so that callers can tell an explicit sink from a
// computation drop apart.
func Sink() Action { return Action{Kind: ActionSink} }

// ControlBuffer is the per-packet "monad state" (pfq_cb) carried alongside
// a Packet across the whole evaluation of one node chain: annotations set
// by one node and read by a later one, and the lazy-forwarding log
// consulted by the Tx engine after the batch completes.
type ControlBuffer struct {
	ToKernel bool
	Class    int
	VlanTag  uint16
	Log      LazyLog
}

// LazyLog accumulates (dev, queue) forwarding targets appended by
// forward/steering primitives during evaluation, executed at the batch
// boundary by the Tx engine's lazy exec path (§4.5, §9 GC log).
type LazyLog struct {
	Targets  []LazyTarget
	XmitTodo int
}

// LazyTarget names one forwarding destination.
type LazyTarget struct {
	Dev   string
	Queue int
}

// MaxLazyTargets bounds one packet's forwarding fan-out, per
// Q_GC_LOG_QUEUE_LEN in the reference implementation.
const MaxLazyTargets = 8

// Forward appends a lazy forwarding target, silently dropping the
// annotation once MaxLazyTargets is reached (mirrors pfq_lazy_xmit's
// "too many annotation" guard).
func (l *LazyLog) Forward(dev string, queue int) bool {
	if len(l.Targets) >= MaxLazyTargets {
		return false
	}
	l.Targets = append(l.Targets, LazyTarget{Dev: dev, Queue: queue})
	l.XmitTodo++
	return true
}

// Packet is one frame under evaluation: its bytes plus its control buffer.
type Packet struct {
	Data []byte
	Gid  int
	Cb   *ControlBuffer
}
