package compute

// Eval runs pkt through c starting at c.Entry, returning the final fanout
// Action. A nil or absent-entry Computation passes the packet through
// unchanged, matching an unattached group's default policy (§4.3).
func (c *Computation) Eval(pkt *Packet) Action {
	if c == nil || c.Entry == Absent {
		return Pass()
	}
	return c.evalFrom(c.Entry, pkt)
}

func (c *Computation) evalFrom(i int32, pkt *Packet) Action {
	if i == Absent {
		return Pass()
	}
	nd := &c.Nodes[i]
	switch nd.Kind {
	case KindMonadic:
		if nd.Entry.Fn == nil {
			return c.evalFrom(nd.next, pkt)
		}
		act := nd.Entry.Fn(&nd.Args, pkt)
		if act.Kind != ActionPass {
			return act
		}
		return c.evalFrom(nd.next, pkt)

	case KindPredicate:
		// A predicate reached directly during traversal (rather than as a
		// combinator/high-order child) evaluates as an implicit filter:
		// true continues the chain, false drops. This matches how the
		// reference language treats a bare Q_EVAL of a bool functional
		// spliced into the pipeline.
		if c.evalPredicate(i, pkt) {
			return c.evalFrom(nd.next, pkt)
		}
		return Drop()

	case KindCombinator:
		if c.evalPredicate(i, pkt) {
			return c.evalFrom(nd.next, pkt)
		}
		return Drop()

	case KindHighOrder:
		// l_index is the guard predicate; r_index is the true-branch
		// sub-computation entry, next is the false-branch/fallthrough
		// continuation (an implementation decision recorded in DESIGN.md:
		// the wire format only specifies l_index's role as the guard).
		if c.evalPredicate(nd.LIndex, pkt) {
			return c.evalFrom(nd.RIndex, pkt)
		}
		return c.evalFrom(nd.next, pkt)

	default:
		return Drop()
	}
}

// evalPredicate resolves node i (a KindPredicate leaf or a KindCombinator
// and/or/xor of two boolean children) to a boolean.
func (c *Computation) evalPredicate(i int32, pkt *Packet) bool {
	if i == Absent {
		return false
	}
	nd := &c.Nodes[i]
	switch nd.Kind {
	case KindPredicate:
		if nd.Entry.Pred == nil {
			return false
		}
		return nd.Entry.Pred(&nd.Args, pkt)
	case KindCombinator:
		l := c.evalPredicate(nd.LIndex, pkt)
		r := c.evalPredicate(nd.RIndex, pkt)
		switch nd.Symbol {
		case "and":
			return l && r
		case "or":
			return l || r
		case "xor":
			return l != r
		case "not":
			return !l
		default:
			return false
		}
	default:
		return false
	}
}
