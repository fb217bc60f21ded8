package compute

// Builder assembles a Descriptor list in Kleisli composition order and
// resolves it into a Computation, replacing the reference language's
// operator-overloaded `>>` chain (pfq-lang.hpp) with plain method calls,
// per DESIGN NOTES' call for "a typed builder instead of operator abuse".
//
// The builder tracks two things separately: the main pipeline chain
// (head/tail, linked via each node's explicit Next) and off-chain
// predicate/branch subtrees appended only as some chain node's LIndex or
// RIndex child. Mixing the two into one array-position-implies-next
// scheme (as an earlier revision of this builder did) breaks as soon as
// a guard predicate is appended before the branch it guards.
type Builder struct {
	descs []Descriptor
	head  int32 // first node of the main chain, Absent if empty
	tail  int32 // last-appended main-chain node, whose Next gets patched forward
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{head: Absent, tail: Absent} }

// appendChain appends d as the next main-pipeline step.
func (b *Builder) appendChain(d Descriptor) int32 {
	d.LIndex, d.RIndex, d.Next = Absent, Absent, Absent
	idx := int32(len(b.descs))
	b.descs = append(b.descs, d)
	if b.tail != Absent {
		b.descs[b.tail].Next = idx
	} else {
		b.head = idx
	}
	b.tail = idx
	return idx
}

// appendOffChain appends d without linking it into the main chain,
// returning its index for use as some other node's LIndex/RIndex.
func (b *Builder) appendOffChain(d Descriptor) int32 {
	d.LIndex, d.RIndex, d.Next = Absent, Absent, Absent
	idx := int32(len(b.descs))
	b.descs = append(b.descs, d)
	return idx
}

// Then appends a monadic step to the main chain.
func (b *Builder) Then(symbol string, args Arguments) *Builder {
	d := Descriptor{Kind: KindMonadic, Symbol: symbol}
	copyArgs(&d, args)
	b.appendChain(d)
	return b
}

// Filter appends a bare predicate to the main chain as an implicit
// filter step (true continues, false drops — see Computation.Eval).
func (b *Builder) Filter(symbol string, args Arguments) *Builder {
	d := Descriptor{Kind: KindPredicate, Symbol: symbol}
	copyArgs(&d, args)
	b.appendChain(d)
	return b
}

// PredRef is a handle to a predicate/combinator subtree built off the
// main chain, for use as a When guard or combinator operand.
type PredRef struct {
	idx int32
}

// Pred appends a standalone predicate leaf, off-chain, and returns a
// reference to it.
func (b *Builder) Pred(symbol string, args Arguments) PredRef {
	d := Descriptor{Kind: KindPredicate, Symbol: symbol}
	copyArgs(&d, args)
	return PredRef{idx: b.appendOffChain(d)}
}

// And, Or and Xor combine two predicate subtrees into one, serializing
// left then right (§4.4 Open Questions: the reference C++ Pred2::compile
// serializes p.left_ into both slots, dropping the right operand — that
// bug is fixed here, not reproduced).
func (b *Builder) And(l, r PredRef) PredRef { return b.combine("and", l, r) }
func (b *Builder) Or(l, r PredRef) PredRef  { return b.combine("or", l, r) }
func (b *Builder) Xor(l, r PredRef) PredRef { return b.combine("xor", l, r) }

// Not negates a single predicate subtree.
func (b *Builder) Not(p PredRef) PredRef {
	idx := b.appendOffChain(Descriptor{Kind: KindCombinator, Symbol: "not"})
	b.descs[idx].LIndex = p.idx
	return PredRef{idx: idx}
}

func (b *Builder) combine(symbol string, l, r PredRef) PredRef {
	idx := b.appendOffChain(Descriptor{Kind: KindCombinator, Symbol: symbol})
	b.descs[idx].LIndex = l.idx // left operand, correctly distinct from RIndex
	b.descs[idx].RIndex = r.idx // right operand
	return PredRef{idx: idx}
}

// When inserts a high-order conditional into the main chain: if guard
// holds, evaluation continues into thenBranch's chain; otherwise it falls
// through to whatever is appended to b after this call.
func (b *Builder) When(guard PredRef, thenBranch *Builder) *Builder {
	offset := int32(len(b.descs))
	for _, d := range thenBranch.descs {
		shifted := d
		if d.LIndex != Absent {
			shifted.LIndex += offset
		}
		if d.RIndex != Absent {
			shifted.RIndex += offset
		}
		if d.Next != Absent {
			shifted.Next += offset
		}
		b.descs = append(b.descs, shifted)
	}
	branchEntry := int32(Absent)
	if thenBranch.head != Absent {
		branchEntry = thenBranch.head + offset
	}
	d := Descriptor{Kind: KindHighOrder, Symbol: "when"}
	idx := b.appendChain(d)
	b.descs[idx].LIndex = guard.idx
	b.descs[idx].RIndex = branchEntry
	return b
}

// Compile finalizes the builder into a Computation whose entry is the
// first node of the main chain.
func (b *Builder) Compile() (*Computation, error) {
	return Compile(b.descs, b.head)
}

func copyArgs(d *Descriptor, args Arguments) {
	for i, s := range args.Slots {
		d.Args[i] = DescArg{Value: s.raw, Size: s.size, NElem: s.nelem}
	}
}
