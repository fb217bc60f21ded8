package compute

import "fmt"

// Node is one compiled, resolved computation node: its Descriptor's
// arguments plus the registry Entry it was resolved against.
type Node struct {
	Kind   Kind
	Symbol string
	Args   Arguments
	Entry  Entry
	LIndex int32
	RIndex int32
	next   int32 // explicit chain successor, Absent at the tail
}

// Computation is a compiled, validated functional tree ready for
// evaluation. Nodes are stored flat, index-addressed, exactly as they
// arrive on the wire (§4.4 "flat array of nodes, indices instead of
// pointers" — chosen for the same reason the reference kernel module
// avoids embedding real pointers in a structure copied from userspace).
type Computation struct {
	Nodes []Node
	Entry int32 // index of the first node to evaluate
}

// compileArgs converts wire DescArg slots into a runtime Arguments block.
// Scalar slots (nelem == 0, size > 0) are copied as raw scalars; anything
// else is left zero since box-valued arguments are only ever set
// programmatically via compute.Builder, never parsed off the wire.
func compileArgs(d Descriptor) Arguments {
	var a Arguments
	for i, s := range d.Args {
		if s.NElem == 0 && s.Size > 0 {
			a.Slots[i] = Arg{raw: s.Value, size: s.Size}
		}
	}
	return a
}

// Compile validates a flat descriptor array and links it into a
// Computation. Validation enforces §4.4's structural invariants:
//   - every LIndex/RIndex is Absent or in range
//   - a combinator's children must themselves be predicate or combinator
//     kind (booleans compose only with booleans)
//   - a high-order node's LIndex (the guard) must be a predicate or
//     combinator
//   - every symbol must resolve in the registry against a matching Kind
//   - the graph reachable from entry must be acyclic (a malformed or
//     adversarial descriptor list must not hang the evaluator)
func Compile(descs []Descriptor, entry int32) (*Computation, error) {
	n := len(descs)
	nodes := make([]Node, n)
	for i, d := range descs {
		if d.LIndex != Absent && (d.LIndex < 0 || int(d.LIndex) >= n) {
			return nil, fmt.Errorf("compute: node %d: l_index %d out of range", i, d.LIndex)
		}
		if d.RIndex != Absent && (d.RIndex < 0 || int(d.RIndex) >= n) {
			return nil, fmt.Errorf("compute: node %d: r_index %d out of range", i, d.RIndex)
		}
		e, ok := Global.Find(d.Symbol, d.Kind)
		if !ok {
			return nil, fmt.Errorf("compute: node %d: unknown %s symbol %q", i, d.Kind, d.Symbol)
		}
		if d.Next != Absent && (d.Next < 0 || int(d.Next) >= n) {
			return nil, fmt.Errorf("compute: node %d: next %d out of range", i, d.Next)
		}
		nodes[i] = Node{
			Kind:   d.Kind,
			Symbol: d.Symbol,
			Args:   compileArgs(d),
			Entry:  e,
			LIndex: d.LIndex,
			RIndex: d.RIndex,
			next:   d.Next,
		}
	}
	if entry != Absent && (entry < 0 || int(entry) >= n) {
		return nil, fmt.Errorf("compute: entry index %d out of range", entry)
	}
	for i, nd := range nodes {
		switch nd.Kind {
		case KindCombinator:
			for _, child := range []int32{nd.LIndex, nd.RIndex} {
				if child == Absent {
					continue
				}
				ck := nodes[child].Kind
				if ck != KindPredicate && ck != KindCombinator {
					return nil, fmt.Errorf("compute: node %d: combinator child %d has non-boolean kind %s", i, child, ck)
				}
			}
		case KindHighOrder:
			if nd.LIndex == Absent {
				return nil, fmt.Errorf("compute: node %d: high_order_fn requires l_index (guard)", i)
			}
			if gk := nodes[nd.LIndex].Kind; gk != KindPredicate && gk != KindCombinator {
				return nil, fmt.Errorf("compute: node %d: high_order_fn l_index %d has non-boolean kind %s", i, nd.LIndex, gk)
			}
		}
	}
	if entry != Absent {
		if err := checkAcyclic(nodes, entry); err != nil {
			return nil, err
		}
	}
	return &Computation{Nodes: nodes, Entry: entry}, nil
}

const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

// checkAcyclic walks the graph reachable from entry via LIndex/RIndex/next
// edges with standard DFS three-coloring.
func checkAcyclic(nodes []Node, entry int32) error {
	color := make([]int, len(nodes))
	var visit func(i int32) error
	visit = func(i int32) error {
		if i == Absent {
			return nil
		}
		switch color[i] {
		case colorGray:
			return fmt.Errorf("compute: cycle detected at node %d", i)
		case colorBlack:
			return nil
		}
		color[i] = colorGray
		nd := nodes[i]
		for _, child := range []int32{nd.LIndex, nd.RIndex, nd.next} {
			if err := visit(child); err != nil {
				return err
			}
		}
		color[i] = colorBlack
		return nil
	}
	return visit(entry)
}
