package ledmesh

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testTick = 20 * time.Millisecond

type testDisplay struct {
	nbShows    int
	nbClears   int
	last       *Frame
	brightness uint8

	mu sync.Mutex
}

func (d *testDisplay) Show(frame *Frame, brightness uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.last = NewFrame(frame.Len())
	frame.CopyTo(d.last)
	d.brightness = brightness
	d.nbShows++

	return nil
}

func (d *testDisplay) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nbClears++

	return nil
}

func (d *testDisplay) NbShows() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.nbShows
}

type testRenderer struct {
	nbRenders int
}

func (r *testRenderer) Render(frame *Frame, ctx RenderContext) {
	r.nbRenders++
	frame.Fill(Color{R: uint8(r.nbRenders), G: 255, B: 128})
}

type testNode struct {
	*Node

	transport *MemoryTransport
	display   *testDisplay
	renderer  *testRenderer
}

func newTestNode(t *testing.T, nw *MemoryNetwork, clock Clock, token Token) *testNode {
	transport := nw.NewTransport()
	display := testDisplay{}
	renderer := testRenderer{}

	cfg := NodeCfg{
		Token:     token,
		Transport: transport,
		Clock:     clock,

		Display:  &display,
		Renderer: &renderer,

		Brightness: 255,

		RandSource: rand.NewSource(int64(token)),
	}

	node, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("cannot create node: %v", err)
	}

	transport.SetReceiveFunc(node.HandleDatagram)

	return &testNode{
		Node: node,

		transport: transport,
		display:   &display,
		renderer:  &renderer,
	}
}

func runNodes(clock *ManualClock, until time.Duration, nodes ...*testNode) {
	for clock.Now() < until {
		clock.Advance(testTick)

		for _, n := range nodes {
			n.Tick()
		}
	}
}

func TestNodeSingleNodeElection(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	n := newTestNode(t, nw, clock, 0x000042)

	if role := n.Role(); role != RoleFollower {
		t.Fatalf("initial role = %s, want %s", role, RoleFollower)
	}

	// Two timeout ticks are not enough
	runNodes(clock, 1540*time.Millisecond, n)

	if role := n.Role(); role != RoleFollower {
		t.Fatalf("role = %s after two missed ticks, want %s",
			role, RoleFollower)
	}

	runNodes(clock, 1560*time.Millisecond, n)

	if role := n.Role(); role != RoleElecting {
		t.Fatalf("role = %s after three missed ticks, want %s",
			role, RoleElecting)
	}

	if highest := n.HighestTokenSeen(); highest != n.Token {
		t.Errorf("highest token seen = %v, want %v", highest, n.Token)
	}

	runNodes(clock, 2*time.Second, n)

	if role := n.Role(); role != RoleLeader {
		t.Fatalf("role = %s, want %s", role, RoleLeader)
	}

	if v := testutil.ToFloat64(n.Metrics.Elections); v != 1.0 {
		t.Errorf("elections = %v, want 1", v)
	}

	if n.display.NbShows() == 0 {
		t.Errorf("leader did not show any frame")
	}
}

func TestNodeElectionHighestTokenWins(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	low := newTestNode(t, nw, clock, 0x000005)
	high := newTestNode(t, nw, clock, 0x0000ff)

	runNodes(clock, 1560*time.Millisecond, low, high)

	if low.Role() != RoleElecting || high.Role() != RoleElecting {
		t.Fatalf("roles = %s, %s, want both %s",
			low.Role(), high.Role(), RoleElecting)
	}

	runNodes(clock, 2*time.Second, low, high)

	if role := high.Role(); role != RoleLeader {
		t.Errorf("node %v role = %s, want %s", high.Token, role, RoleLeader)
	}

	if role := low.Role(); role != RoleFollower {
		t.Errorf("node %v role = %s, want %s", low.Token, role, RoleFollower)
	}

	// The follower must stay a follower and display the leader's frames
	runNodes(clock, 6*time.Second, low, high)

	if role := low.Role(); role != RoleFollower {
		t.Errorf("node %v role = %s, want %s", low.Token, role, RoleFollower)
	}

	if role := high.Role(); role != RoleLeader {
		t.Errorf("node %v role = %s, want %s", high.Token, role, RoleLeader)
	}

	if low.display.NbShows() == 0 {
		t.Fatalf("follower did not show any frame")
	}

	if low.renderer.nbRenders > 0 {
		t.Errorf("follower rendered %d frames", low.renderer.nbRenders)
	}

	if c := low.display.last.Pixels[0]; c.G != 255 || c.B != 128 {
		t.Errorf("follower shows %v, want a frame rendered by the leader", c)
	}
}

func TestNodeBroadcastDelay(t *testing.T) {
	nw := NewMemoryNetwork()

	delay := func(token Token) time.Duration {
		node, err := NewNode(NodeCfg{
			Token:     token,
			Transport: nw.NewTransport(),
			Display:   &testDisplay{},

			ElectionBaseDelay: 200 * time.Millisecond,
			ElectionJitter:    time.Nanosecond,
		})
		if err != nil {
			t.Fatalf("cannot create node: %v", err)
		}

		return node.broadcastDelay()
	}

	// Higher tokens announce themselves first
	tests := []struct {
		token Token
		delay time.Duration
	}{
		{0x000000, 200 * time.Millisecond},
		{0x000005, 199999940 * time.Nanosecond},
		{0x800000, 99999994 * time.Nanosecond},
		{0xffff00, 3039 * time.Nanosecond},
		{MaxToken, 0},
	}

	for _, test := range tests {
		if d := delay(test.token); d != test.delay {
			t.Errorf("broadcast delay for %v = %v, want %v",
				test.token, d, test.delay)
		}
	}

	if delay(0xffff00) >= delay(0x000005) {
		t.Errorf("token %v broadcasts after token %v",
			Token(0xffff00), Token(0x000005))
	}
}

func TestNodeZeroToken(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	_, err := NewNode(NodeCfg{
		Token:     MaxToken + 1,
		Transport: nw.NewTransport(),
		Display:   &testDisplay{},
	})
	if err == nil {
		t.Errorf("token %v accepted", MaxToken+1)
	}

	alone := newTestNode(t, nw, clock, 0x000000)

	runNodes(clock, 2*time.Second, alone)

	if role := alone.Role(); role != RoleLeader {
		t.Fatalf("node %v role = %s, want %s", alone.Token, role, RoleLeader)
	}

	// Any other node wins the election
	nw = NewMemoryNetwork()
	clock = &ManualClock{}

	zero := newTestNode(t, nw, clock, 0x000000)
	other := newTestNode(t, nw, clock, 0x000001)

	runNodes(clock, 4*time.Second, zero, other)

	if role := other.Role(); role != RoleLeader {
		t.Errorf("node %v role = %s, want %s", other.Token, role, RoleLeader)
	}

	if role := zero.Role(); role != RoleFollower {
		t.Errorf("node %v role = %s, want %s", zero.Token, role, RoleFollower)
	}

	if zero.display.NbShows() == 0 {
		t.Errorf("follower did not show any frame")
	}
}

func TestNodeConvergenceWithLoss(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	tokens := []Token{0x0000a1, 0x00b2c3, 0x000001, 0x7f0000, 0x00ffff}

	var nodes []*testNode
	for _, token := range tokens {
		nodes = append(nodes, newTestNode(t, nw, clock, token))
	}

	// Lose a datagram out of ten for a while
	nbDatagrams := 0
	nw.SetDropFunc(func(from, to int, data []byte) bool {
		nbDatagrams++
		return nbDatagrams%10 == 0
	})

	runNodes(clock, 3*time.Second, nodes...)

	nw.SetDropFunc(nil)

	// One election window plus one leader timeout period
	runNodes(clock, 3*time.Second+300*time.Millisecond+1500*time.Millisecond+
		4*testTick, nodes...)

	runNodes(clock, 8*time.Second, nodes...)

	for _, n := range nodes {
		expected := RoleFollower
		if n.Token == 0x7f0000 {
			expected = RoleLeader
		}

		if role := n.Role(); role != expected {
			t.Errorf("node %v role = %s, want %s", n.Token, role, expected)
		}
	}
}

func TestNodeStepDownOnHigherToken(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	n := newTestNode(t, nw, clock, 0x000010)

	runNodes(clock, 2*time.Second, n)

	if role := n.Role(); role != RoleLeader {
		t.Fatalf("role = %s, want %s", role, RoleLeader)
	}

	data, _ := EncodeMsg(&TokenMsg{Token: 0x000020})
	n.HandleDatagram(data)

	if highest := n.HighestTokenSeen(); highest != 0x000020 {
		t.Errorf("highest token seen = %v, want 0x000020", highest)
	}

	nbClears := n.display.nbClears

	runNodes(clock, clock.Now()+testTick, n)

	if role := n.Role(); role != RoleFollower {
		t.Fatalf("role = %s, want %s", role, RoleFollower)
	}

	if n.display.nbClears <= nbClears {
		t.Errorf("display was not cleared on step down")
	}

	v := testutil.ToFloat64(n.Metrics.StepDowns.WithLabelValues("higherToken"))
	if v != 1.0 {
		t.Errorf("step downs = %v, want 1", v)
	}

	// The grace period starts at the step down
	status := n.Status()
	if status.MissCount != 0 {
		t.Errorf("miss count = %d, want 0", status.MissCount)
	}
}

func TestNodeStepDownOnConflictingLeader(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	n := newTestNode(t, nw, clock, 0x000010)

	runNodes(clock, 2*time.Second, n)

	if role := n.Role(); role != RoleLeader {
		t.Fatalf("role = %s, want %s", role, RoleLeader)
	}

	// Chunks from a lower token are ignored
	lower := testChunk(NewFrame(334), 0, 0x000001, 0)
	data, _ := EncodeMsg(lower)
	n.HandleDatagram(data)

	if role := n.Role(); role != RoleLeader {
		t.Fatalf("role = %s after lower token chunk, want %s",
			role, RoleLeader)
	}

	higher := testChunk(NewFrame(334), 0, 0x000011, 0)
	data, _ = EncodeMsg(higher)
	n.HandleDatagram(data)

	if role := n.Role(); role != RoleFollower {
		t.Fatalf("role = %s after higher token chunk, want %s",
			role, RoleFollower)
	}

	v := testutil.ToFloat64(n.Metrics.StepDowns.WithLabelValues("conflictingLeader"))
	if v != 1.0 {
		t.Errorf("step downs = %v, want 1", v)
	}
}

func TestNodeHighestTokenMonotonic(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	n := newTestNode(t, nw, clock, 0x000010)

	tokens := []Token{0x30, 0x10, 0x50, 0x20, 0x50, 0x01}

	var previous Token
	for _, token := range tokens {
		data, _ := EncodeMsg(&TokenMsg{Token: token})
		n.HandleDatagram(data)

		highest := n.HighestTokenSeen()
		if highest < previous {
			t.Fatalf("highest token seen went from %v to %v", previous, highest)
		}

		previous = highest
	}

	if previous != 0x50 {
		t.Errorf("highest token seen = %v, want 0x000050", previous)
	}
}

func TestNodeFollowerFlush(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	n := newTestNode(t, nw, clock, 0x000001)

	frameS := filledFrame(334, Color{R: 10})
	frameS1 := filledFrame(334, Color{G: 20})

	send := func(frame *Frame, base uint32, idx int) {
		data, err := EncodeMsg(testChunk(frame, base+uint32(idx), 0x000002, idx))
		if err != nil {
			t.Fatalf("cannot encode chunk: %v", err)
		}

		n.HandleDatagram(data)
	}

	for idx := 0; idx < 5; idx++ {
		if idx != 3 {
			send(frameS, 100, idx)
		}
	}

	runNodes(clock, clock.Now()+testTick, n)

	if nb := n.display.NbShows(); nb != 0 {
		t.Fatalf("%d frames shown for an incomplete frame", nb)
	}

	for idx := 0; idx < 5; idx++ {
		send(frameS1, 105, idx)
	}

	runNodes(clock, clock.Now()+testTick, n)

	if nb := n.display.NbShows(); nb != 1 {
		t.Fatalf("%d frames shown, want 1", nb)
	}

	for i, c := range n.display.last.Pixels {
		if c != frameS1.Pixels[i] {
			t.Fatalf("pixel %d = %v, want %v", i, c, frameS1.Pixels[i])
		}
	}

	// No second flush without new chunks
	runNodes(clock, clock.Now()+5*testTick, n)

	if nb := n.display.NbShows(); nb != 1 {
		t.Errorf("%d frames shown, want 1", nb)
	}

	if v := testutil.ToFloat64(n.Metrics.FramesFlushed); v != 1.0 {
		t.Errorf("frames flushed = %v, want 1", v)
	}
}

func TestNodeBrightness(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	leader := newTestNode(t, nw, clock, 0x000002)
	follower := newTestNode(t, nw, clock, 0x000001)

	follower.SetBrightness(127)

	runNodes(clock, 3*time.Second, leader, follower)

	if follower.display.NbShows() == 0 {
		t.Fatalf("follower did not show any frame")
	}

	if b := follower.display.brightness; b != 127 {
		t.Errorf("follower brightness = %d, want 127", b)
	}

	if b := leader.display.brightness; b != 255 {
		t.Errorf("leader brightness = %d, want 255", b)
	}

	// Broadcast payloads carry full values
	if c := follower.display.last.Pixels[0]; c.G != 255 {
		t.Errorf("follower frame = %v, want unscaled values", c)
	}
}

func TestNodeForceResync(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	n := newTestNode(t, nw, clock, 0x000010)

	runNodes(clock, 2*time.Second, n)

	if role := n.Role(); role != RoleLeader {
		t.Fatalf("role = %s, want %s", role, RoleLeader)
	}

	n.ForceResync()

	status := n.Status()

	if status.Role != RoleFollower {
		t.Errorf("role = %s, want %s", status.Role, RoleFollower)
	}

	if status.HighestTokenSeen != 0 {
		t.Errorf("highest token seen = %v, want 0", status.HighestTokenSeen)
	}

	if status.ChunkMask != 0 || status.MissCount != 0 {
		t.Errorf("chunk mask = 0x%x, miss count = %d, want 0",
			status.ChunkMask, status.MissCount)
	}

	// With no leader around, the node elects itself again
	runNodes(clock, clock.Now()+2*time.Second, n)

	if role := n.Role(); role != RoleLeader {
		t.Errorf("role = %s, want %s", role, RoleLeader)
	}
}

func TestNodeModeOff(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	n := newTestNode(t, nw, clock, 0x000010)

	if err := n.SetMode("disco"); err == nil {
		t.Fatalf("invalid mode accepted")
	}

	if err := n.SetMode(ModeOff); err != nil {
		t.Fatalf("cannot set mode: %v", err)
	}

	runNodes(clock, 5*time.Second, n)

	if role := n.Role(); role != RoleFollower {
		t.Errorf("role = %s in off mode, want %s", role, RoleFollower)
	}

	data, _ := EncodeMsg(&TokenMsg{Token: 0x20})
	n.HandleDatagram(data)

	if highest := n.HighestTokenSeen(); highest != 0 {
		t.Errorf("highest token seen = %v in off mode, want 0", highest)
	}

	if nb := n.display.NbShows(); nb != 0 {
		t.Errorf("%d frames shown in off mode", nb)
	}

	if err := n.SetMode(ModeAuto); err != nil {
		t.Fatalf("cannot set mode: %v", err)
	}

	runNodes(clock, clock.Now()+2*time.Second, n)

	if role := n.Role(); role != RoleLeader {
		t.Errorf("role = %s, want %s", role, RoleLeader)
	}
}

func TestNodeOTASuspension(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	a := newTestNode(t, nw, clock, 0x000001)
	b := newTestNode(t, nw, clock, 0x000002)

	runNodes(clock, 2*time.Second, a, b)

	if role := b.Role(); role != RoleLeader {
		t.Fatalf("role = %s, want %s", role, RoleLeader)
	}

	a.SuspendMesh()

	if !a.Status().OTASuspended || !b.Status().OTASuspended {
		t.Fatalf("nodes are not suspended")
	}

	if role := b.Role(); role != RoleFollower {
		t.Errorf("suspended node role = %s, want %s", role, RoleFollower)
	}

	nbShows := b.display.NbShows()

	runNodes(clock, clock.Now()+5*time.Second, a, b)

	if b.display.NbShows() != nbShows {
		t.Errorf("suspended node showed frames")
	}

	if role := b.Role(); role != RoleFollower {
		t.Errorf("suspended node role = %s, want %s", role, RoleFollower)
	}

	a.ResumeMesh()

	if a.Status().OTASuspended || b.Status().OTASuspended {
		t.Fatalf("nodes are still suspended")
	}

	runNodes(clock, clock.Now()+3*time.Second, a, b)

	if role := b.Role(); role != RoleLeader {
		t.Errorf("role = %s after resume, want %s", role, RoleLeader)
	}
}

func TestNodeOTASuspensionDeadline(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	n := newTestNode(t, nw, clock, 0x000001)

	data, _ := EncodeMsg(&OTASuspendMsg{})
	n.HandleDatagram(data)

	if !n.Status().OTASuspended {
		t.Fatalf("node is not suspended")
	}

	clock.Advance(n.Cfg.OTASuspendDuration)
	n.Tick()

	if n.Status().OTASuspended {
		t.Errorf("node is still suspended after the deadline")
	}
}

func TestNodeMalformedDatagrams(t *testing.T) {
	nw := NewMemoryNetwork()
	clock := &ManualClock{}

	n := newTestNode(t, nw, clock, 0x000001)

	before := n.Status()

	datagrams := [][]byte{
		{},
		{0x01, 0x02},
		{0x42},
		{0x00, 1, 2, 3, 4, 5, 6, 7, 8, 0, 1},
	}

	for _, data := range datagrams {
		n.HandleDatagram(data)
	}

	after := n.Status()

	if after.HighestTokenSeen != before.HighestTokenSeen ||
		after.ChunkMask != before.ChunkMask || after.Role != before.Role {
		t.Errorf("malformed datagrams changed the node state")
	}

	malformed := testutil.ToFloat64(n.Metrics.MessagesDropped.WithLabelValues("malformed"))
	unknown := testutil.ToFloat64(n.Metrics.MessagesDropped.WithLabelValues("unknownType"))

	if malformed != 3.0 || unknown != 1.0 {
		t.Errorf("dropped messages = %v malformed, %v unknown, want 3 and 1",
			malformed, unknown)
	}
}
