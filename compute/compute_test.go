package compute_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfq-io/pfq-go/compute"
	_ "github.com/pfq-io/pfq-go/compute/symbols"
)

func ipv4Packet(proto byte) *compute.Packet {
	data := make([]byte, 40)
	data[12], data[13] = 0x08, 0x00 // IPv4 ethertype
	data[14+9] = proto
	return &compute.Packet{Data: data, Cb: &compute.ControlBuffer{}}
}

func TestEvalDeterministic(t *testing.T) {
	pkt := ipv4Packet(6)
	b := compute.NewBuilder()
	b.Then("class", scalarArgs(3)).Then("steer_flow", compute.Arguments{})
	comp, err := b.Compile()
	require.NoError(t, err)

	a1 := comp.Eval(pkt)
	a2 := comp.Eval(pkt)
	assert.Equal(t, a1, a2, "evaluating the same packet twice must yield the same action")
}

func TestFilterDropsNonMatching(t *testing.T) {
	pkt := ipv4Packet(17) // UDP, not TCP
	b := compute.NewBuilder()
	b.Filter("tcp", compute.Arguments{}).Then("drop", compute.Arguments{})
	comp, err := b.Compile()
	require.NoError(t, err)

	act := comp.Eval(pkt)
	assert.Equal(t, compute.ActionDrop, act.Kind)
}

func TestCombinatorSerializesBothOperandsDistinctly(t *testing.T) {
	// Regression for the reference Pred2::compile bug that serialized the
	// left operand into both wire slots. On a UDP packet, or(tcp, udp)
	// must evaluate true; the buggy encoding would collapse this to
	// or(tcp, tcp), which is false for a UDP-only packet.
	udpPkt := ipv4Packet(17)
	descs := []compute.Descriptor{
		{Kind: compute.KindPredicate, Symbol: "tcp", LIndex: compute.Absent, RIndex: compute.Absent, Next: compute.Absent},
		{Kind: compute.KindPredicate, Symbol: "udp", LIndex: compute.Absent, RIndex: compute.Absent, Next: compute.Absent},
		{Kind: compute.KindCombinator, Symbol: "or", LIndex: 0, RIndex: 1, Next: compute.Absent},
	}
	comp, err := compute.Compile(descs, 2)
	require.NoError(t, err)

	act := comp.Eval(udpPkt)
	assert.Equal(t, compute.ActionPass, act.Kind, "or(tcp, udp) must pass a UDP packet, not drop it as or(tcp, tcp) would")
}

func TestWhenBranchesOnGuard(t *testing.T) {
	tcpPkt := ipv4Packet(6)
	udpPkt := ipv4Packet(17)

	main := compute.NewBuilder()
	guard := main.Pred("tcp", compute.Arguments{})
	branch := compute.NewBuilder()
	branch.Then("drop", compute.Arguments{})
	main.When(guard, branch)
	comp, err := main.Compile()
	require.NoError(t, err)

	assert.Equal(t, compute.ActionDrop, comp.Eval(tcpPkt).Kind)
	assert.Equal(t, compute.ActionPass, comp.Eval(udpPkt).Kind)
}

func TestCompileRejectsOutOfRangeIndex(t *testing.T) {
	descs := []compute.Descriptor{
		{Kind: compute.KindHighOrder, Symbol: "when", LIndex: 5, RIndex: compute.Absent, Next: compute.Absent},
	}
	_, err := compute.Compile(descs, 0)
	assert.Error(t, err)
}

func TestCompileRejectsCycle(t *testing.T) {
	descs := []compute.Descriptor{
		{Kind: compute.KindCombinator, Symbol: "and", LIndex: 1, RIndex: compute.Absent, Next: compute.Absent},
		{Kind: compute.KindCombinator, Symbol: "or", LIndex: 0, RIndex: compute.Absent, Next: compute.Absent},
	}
	_, err := compute.Compile(descs, 0)
	assert.Error(t, err)
}

func TestCompileRejectsUnknownSymbol(t *testing.T) {
	descs := []compute.Descriptor{
		{Kind: compute.KindMonadic, Symbol: "not_a_real_primitive", LIndex: compute.Absent, RIndex: compute.Absent, Next: compute.Absent},
	}
	_, err := compute.Compile(descs, 0)
	assert.Error(t, err)
}

func scalarArgs(class int32) compute.Arguments {
	var a compute.Arguments
	compute.SetScalar(&a, 0, class)
	return a
}
