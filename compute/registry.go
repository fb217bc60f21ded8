package compute

import "fmt"

// MonadicFn is a monadic node's evaluator: consumes the packet, returns a
// fanout Action, and may annotate the packet's ControlBuffer.
type MonadicFn func(args *Arguments, pkt *Packet) Action

// PredicateFn is a predicate leaf's evaluator.
type PredicateFn func(args *Arguments, pkt *Packet) bool

// PropertyFn produces a 64-bit optional value from a packet, used by
// monadic/predicate primitives that key off a computed property (e.g.
// steer_flow hashing the 5-tuple) rather than being composable as a
// standalone wire node kind themselves.
type PropertyFn func(args *Arguments, pkt *Packet) Optional[uint64]

// InitFn/FiniFn are the per-node lifecycle hooks (§4.4 "Lifecycle").
type InitFn func(args *Arguments) error
type FiniFn func(args *Arguments) error

// Entry is one registered primitive.
type Entry struct {
	Category  Category
	Symbol    string
	Kind      Kind
	Signature string
	Fn        MonadicFn
	Pred      PredicateFn
	Init      InitFn
	Fini      FiniFn
}

// Registry resolves (category, symbol) to a registered primitive, per
// §4.4 "A registry maps (category, symbol) -> {fn_ptr, signature, init,
// fini}."
type Registry struct {
	entries map[Category]map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Category]map[string]Entry)}
}

// Register adds e to the registry. It panics on a duplicate
// (category,symbol) pair — registration happens once at process init from
// compute/symbols, so a duplicate is a programming error, not a runtime
// condition.
func (r *Registry) Register(e Entry) {
	m, ok := r.entries[e.Category]
	if !ok {
		m = make(map[string]Entry)
		r.entries[e.Category] = m
	}
	if _, dup := m[e.Symbol]; dup {
		panic(fmt.Sprintf("compute: duplicate symbol %s/%s", e.Category, e.Symbol))
	}
	m[e.Symbol] = e
}

// Lookup finds symbol within category.
func (r *Registry) Lookup(category Category, symbol string) (Entry, bool) {
	m, ok := r.entries[category]
	if !ok {
		return Entry{}, false
	}
	e, ok := m[symbol]
	return e, ok
}

// Find searches every category for symbol, matching the descriptor's Kind.
// Descriptors do not carry an explicit category on the wire (§6); the
// engine resolves purely by symbol name plus the 4-valued kind tag, which
// is enough because no two categories register the same symbol for the
// same kind.
func (r *Registry) Find(symbol string, kind Kind) (Entry, bool) {
	for _, m := range r.entries {
		if e, ok := m[symbol]; ok && e.Kind == kind {
			return e, true
		}
	}
	return Entry{}, false
}

// Global is the process-wide registry populated by compute/symbols'
// init(). Kept as a package var (mirroring pfq_lang_functions' global
// list in the reference kernel module) rather than threading a Registry
// through every Compile call, since the primitive set is fixed at build
// time.
var Global = NewRegistry()
