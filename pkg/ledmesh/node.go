package ledmesh

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/galdor/go-ledmesh/pkg/audio"
)

// Number of consecutive ticks past the leader timeout before a follower
// starts an election.
const LeaderMissLimit = 3

type NodeCfg struct {
	Token     Token
	Transport Transport
	Clock     Clock

	Logger  Logger
	Metrics *Metrics

	Display  Display
	Renderer Renderer
	Sampler  audio.Sampler

	BeatDetector audio.BeatDetectorCfg

	NbPixels int

	Mode       Mode
	Brightness uint8

	FrameInterval      time.Duration
	LeaderTimeout      time.Duration
	ElectionBaseDelay  time.Duration
	ElectionJitter     time.Duration
	ElectionTimeout    time.Duration
	HeartbeatInterval  time.Duration
	OTASuspendDuration time.Duration
	MicBufferLength    int

	RandSource rand.Source
}

type Node struct {
	Cfg     NodeCfg
	Log     Logger
	Metrics *Metrics

	Token Token

	clock Clock

	mode       Mode
	brightness uint8

	role             Role
	highestTokenSeen Token

	// Electing only
	election *ElectionContext

	// Follower only
	sync FollowerSyncState

	// Leader only
	lastHeartbeat time.Duration

	otaSuspended bool
	otaDeadline  time.Duration

	frame     *Frame
	sender    *FrameSender
	assembler *FrameAssembler
	detector  *audio.BeatDetector
	micBuf    []int16

	randGenerator *rand.Rand

	mu sync.Mutex

	msgChan   chan []byte
	errorChan chan<- error
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewNode(cfg NodeCfg) (*Node, error) {
	if cfg.Token > MaxToken {
		return nil, fmt.Errorf("invalid token %v", cfg.Token)
	}

	if cfg.Transport == nil {
		return nil, fmt.Errorf("missing transport")
	}

	if cfg.Display == nil {
		return nil, fmt.Errorf("missing display")
	}

	if cfg.NbPixels == 0 {
		cfg.NbPixels = 334
	}

	if cfg.NbPixels < 0 || cfg.NbPixels > MaxPixelCount {
		return nil, fmt.Errorf("invalid pixel count %d (must be between 1 "+
			"and %d)", cfg.NbPixels, MaxPixelCount)
	}

	if cfg.Clock == nil {
		cfg.Clock = NewMonotonicClock()
	}

	if cfg.Logger == nil {
		cfg.Logger = nopLogger{}
	}

	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}

	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("invalid mode %q", cfg.Mode)
	}

	if cfg.FrameInterval == 0 {
		cfg.FrameInterval = 20 * time.Millisecond
	}

	if cfg.LeaderTimeout == 0 {
		cfg.LeaderTimeout = 1500 * time.Millisecond
	}

	if cfg.ElectionBaseDelay == 0 {
		cfg.ElectionBaseDelay = 200 * time.Millisecond
	}

	if cfg.ElectionJitter == 0 {
		cfg.ElectionJitter = 50 * time.Millisecond
	}

	if cfg.ElectionTimeout == 0 {
		cfg.ElectionTimeout = cfg.ElectionBaseDelay + cfg.ElectionJitter +
			50*time.Millisecond
	}

	if cfg.ElectionTimeout <= cfg.ElectionBaseDelay+cfg.ElectionJitter {
		return nil, fmt.Errorf("election timeout %v must be greater than "+
			"the maximum broadcast delay %v", cfg.ElectionTimeout,
			cfg.ElectionBaseDelay+cfg.ElectionJitter)
	}

	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 100 * time.Millisecond
	}

	if cfg.OTASuspendDuration == 0 {
		cfg.OTASuspendDuration = 300 * time.Second
	}

	if cfg.MicBufferLength == 0 {
		cfg.MicBufferLength = audio.DefaultBufferLength
	}

	if cfg.BeatDetector.Window == 0 {
		cfg.BeatDetector = audio.DefaultBeatDetectorCfg()
	}

	if cfg.RandSource == nil {
		cfg.RandSource = rand.NewSource(time.Now().UnixNano())
	}

	frame := NewFrame(cfg.NbPixels)

	n := &Node{
		Cfg:     cfg,
		Log:     cfg.Logger,
		Metrics: cfg.Metrics,

		Token: cfg.Token,

		clock: cfg.Clock,

		mode:       cfg.Mode,
		brightness: cfg.Brightness,

		role: RoleFollower,

		frame:     frame,
		sender:    NewFrameSender(cfg.Transport, cfg.Token),
		assembler: NewFrameAssembler(frame),
		detector:  audio.NewBeatDetector(cfg.BeatDetector),
		micBuf:    make([]int16, cfg.MicBufferLength),

		randGenerator: rand.New(cfg.RandSource),

		msgChan:  make(chan []byte, 64),
		stopChan: make(chan struct{}),
	}

	n.Metrics.setRole(n.role)

	return n, nil
}

func (n *Node) Start(errorChan chan<- error) error {
	n.Log.Debug(1, "starting")

	n.errorChan = errorChan

	n.Cfg.Transport.SetReceiveFunc(n.enqueueDatagram)

	n.wg.Add(1)
	go n.main()

	n.Log.Debug(1, "started")

	return nil
}

func (n *Node) Stop() {
	n.Log.Debug(1, "stopping")

	close(n.stopChan)
	n.wg.Wait()

	n.Log.Debug(1, "stopped")
}

func (n *Node) main() {
	defer n.wg.Done()

	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			n.Log.Error("panic: %s\n%s", msg, trace)

			if n.errorChan != nil {
				n.errorChan <- fmt.Errorf("panic: %s", msg)
			}

			n.shutdown()
		}
	}()

	ticker := time.NewTicker(n.Cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopChan:
			n.shutdown()
			return

		case <-ticker.C:
			n.Tick()

		case data := <-n.msgChan:
			n.HandleDatagram(data)
		}
	}
}

func (n *Node) shutdown() {
	n.Log.Debug(1, "shutting down")

	n.Cfg.Transport.SetReceiveFunc(nil)

	n.mu.Lock()
	n.clearDisplay()
	n.mu.Unlock()
}

// enqueueDatagram is called by the transport from its own goroutine. The
// queue is bounded: datagrams are dropped when the node cannot keep up.
func (n *Node) enqueueDatagram(data []byte) {
	select {
	case n.msgChan <- data:
	default:
		n.Metrics.MessagesDropped.WithLabelValues("queueFull").Inc()
	}
}

// Tick advances the state machine. It is called every frame interval by
// the main goroutine; tests call it directly.
func (n *Node) Tick() {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock.Now()

	if n.otaSuspended {
		if now >= n.otaDeadline {
			n.Log.Info("ota suspension expired, resuming")
			n.resumeFromOTA(now)
		}

		return
	}

	if n.mode != ModeAuto {
		return
	}

	switch n.role {
	case RoleFollower:
		n.tickFollower(now)

	case RoleElecting:
		n.tickElecting(now)

	case RoleLeader:
		n.tickLeader(now)

	default:
		Panicf("unknown role %q", n.role)
	}
}

func (n *Node) tickFollower(now time.Duration) {
	if n.assembler.Complete() {
		n.show()
		n.assembler.ClearMask()
	}

	elapsed := now - n.sync.LastRecv

	if elapsed > n.Cfg.LeaderTimeout {
		n.sync.MissCount++

		if n.sync.MissCount >= LeaderMissLimit {
			n.Log.Info("no message from a leader for %s", formatMs(elapsed))
			n.startElection(now)
		}
	} else if elapsed < n.Cfg.LeaderTimeout/2 {
		n.sync.MissCount = 0
	}
}

func (n *Node) startElection(now time.Duration) {
	// Do not keep showing a stale frame
	n.clearDisplay()

	n.election = &ElectionContext{
		Start:          now,
		End:            now + n.Cfg.ElectionTimeout,
		BroadcastDelay: n.broadcastDelay(),
	}

	n.highestTokenSeen = n.Token

	n.sync = FollowerSyncState{}
	n.assembler.Reset()

	n.Metrics.Elections.Inc()

	n.setRole(RoleElecting)

	n.Log.Debug(1, "broadcasting token %v in %s", n.Token,
		formatMs(n.election.BroadcastDelay))
}

// broadcastDelay is inversely proportional to the token so that nodes with
// a high token, which are going to win, announce themselves first.
func (n *Node) broadcastDelay() time.Duration {
	base := int64(n.Cfg.ElectionBaseDelay)

	delay := base * int64(MaxToken-n.Token) / int64(MaxToken)

	if jitter := int64(n.Cfg.ElectionJitter); jitter > 0 {
		delay += n.randGenerator.Int63n(jitter)
	}

	return time.Duration(delay)
}

func (n *Node) tickElecting(now time.Duration) {
	e := n.election

	if !e.Broadcasted && now >= e.Start+e.BroadcastDelay {
		n.sendToken()
		e.Broadcasted = true
	}

	if now < e.End {
		return
	}

	if n.highestTokenSeen > n.Token {
		n.Log.Info("election lost to %v", n.highestTokenSeen)
		n.becomeFollower(now)
	} else {
		n.Log.Info("election won")
		n.becomeLeader(now)
	}
}

func (n *Node) becomeFollower(now time.Duration) {
	n.election = nil

	// Give the leader a full timeout period to show up
	n.sync = FollowerSyncState{LastRecv: now}
	n.assembler.Reset()

	n.setRole(RoleFollower)
}

func (n *Node) becomeLeader(now time.Duration) {
	n.election = nil

	n.sync = FollowerSyncState{}
	n.assembler.Reset()

	// Send a heartbeat on the first leader tick
	n.lastHeartbeat = now - n.Cfg.HeartbeatInterval

	n.detector.Reset(now)

	n.setRole(RoleLeader)
}

func (n *Node) tickLeader(now time.Duration) {
	if now-n.lastHeartbeat >= n.Cfg.HeartbeatInterval {
		n.sendToken()
		n.lastHeartbeat = now
	}

	if n.highestTokenSeen > n.Token {
		n.stepDown(now, "higherToken", n.highestTokenSeen)
		return
	}

	n.render(now)

	// The frame is broadcast at full brightness, each node applies its own
	nbSent, err := n.sender.Send(n.frame)
	if err != nil {
		n.Log.Error("cannot send frame: %v", err)
	}

	n.Metrics.ChunksSent.Add(float64(nbSent))

	n.show()
}

func (n *Node) render(now time.Duration) {
	if n.Cfg.Sampler != nil && n.Cfg.Sampler.Record(n.micBuf) {
		n.detector.ProcessFrame(n.micBuf, now)
	}

	if n.detector.UpdateBPM(now) {
		n.Log.Debug(2, "bpm %.1f, audio detected: %v",
			n.detector.BPM(), n.detector.AudioDetected())

		if n.detector.AudioDetected() {
			n.Metrics.AudioDetected.Set(1.0)
		} else {
			n.Metrics.AudioDetected.Set(0.0)
		}

		n.Metrics.BPM.Set(n.detector.BPM())
	}

	if n.Cfg.Renderer == nil {
		return
	}

	ctx := RenderContext{
		Now:           now,
		AudioDetected: n.detector.AudioDetected(),
		MusicLevel:    n.detector.MusicLevel(),
	}

	n.Cfg.Renderer.Render(n.frame, ctx)
}

func (n *Node) stepDown(now time.Duration, reason string, token Token) {
	n.Log.Info("stepping down (%s, token %v)", reason, token)

	n.Metrics.StepDowns.WithLabelValues(reason).Inc()

	n.clearDisplay()
	n.becomeFollower(now)
}

func (n *Node) setRole(role Role) {
	if role == n.role {
		return
	}

	n.Log.Debug(1, "%s -> %s (token %v, highest token seen %v)",
		n.role, role, n.Token, n.highestTokenSeen)

	n.Metrics.RoleTransitions.WithLabelValues(string(n.role),
		string(role)).Inc()
	n.Metrics.setRole(role)

	n.role = role
}

func (n *Node) sendToken() {
	n.broadcastMsg(&TokenMsg{Token: n.Token})
}

func (n *Node) broadcastMsg(msg Msg) {
	n.Log.Debug(2, "broadcasting %v", msg)

	data, err := EncodeMsg(msg)
	if err != nil {
		n.Log.Error("cannot encode %v: %v", msg, err)
		return
	}

	if err := n.Cfg.Transport.Broadcast(data); err != nil {
		n.Log.Error("cannot broadcast %v: %v", msg, err)
	}
}

func (n *Node) show() {
	if err := n.Cfg.Display.Show(n.frame, n.brightness); err != nil {
		n.Log.Error("cannot show frame: %v", err)
		return
	}

	n.Metrics.FramesFlushed.Inc()
}

func (n *Node) clearDisplay() {
	n.frame.Clear()

	if err := n.Cfg.Display.Clear(); err != nil {
		n.Log.Error("cannot clear display: %v", err)
	}
}

// HandleDatagram decodes and applies a datagram received from the
// transport. Malformed datagrams are discarded.
func (n *Node) HandleDatagram(data []byte) {
	msg, err := DecodeMsg(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, ErrUnknownMsgType) {
			reason = "unknownType"
		}

		n.Metrics.MessagesDropped.WithLabelValues(reason).Inc()
		n.Log.Debug(2, "ignoring datagram: %v", err)
		return
	}

	n.Metrics.MessagesReceived.WithLabelValues(msg.GetType().String()).Inc()

	n.mu.Lock()
	defer n.mu.Unlock()

	n.onMsg(msg)
}

func (n *Node) onMsg(msg Msg) {
	now := n.clock.Now()

	if n.otaSuspended {
		if _, ok := msg.(*OTAResumeMsg); ok {
			n.Log.Info("resuming after ota")
			n.resumeFromOTA(now)
		}

		return
	}

	switch msg.(type) {
	case *OTASuspendMsg:
		n.Log.Info("suspending for ota")
		n.suspendForOTA(now)
		return

	case *OTAResumeMsg:
		return
	}

	if n.mode != ModeAuto {
		return
	}

	switch msgv := msg.(type) {
	case *TokenMsg:
		if msgv.Token > n.highestTokenSeen {
			n.highestTokenSeen = msgv.Token
		}

		if n.role == RoleFollower {
			n.sync.LastRecv = now
			n.sync.MissCount = 0
		}

	case *RawChunkMsg:
		n.onRawChunk(now, msgv)
	}
}

func (n *Node) onRawChunk(now time.Duration, msg *RawChunkMsg) {
	switch n.role {
	case RoleLeader:
		if msg.Token > n.Token {
			n.stepDown(now, "conflictingLeader", msg.Token)
		}

	case RoleFollower:
		if err := n.assembler.Apply(msg); err != nil {
			reason := "invalidChunk"
			if errors.Is(err, ErrStaleChunk) {
				reason = "staleChunk"
			}

			n.Metrics.MessagesDropped.WithLabelValues(reason).Inc()
			n.Log.Debug(2, "ignoring %v: %v", msg, err)
			return
		}

		n.sync.LastRecv = now
		n.sync.MissCount = 0
	}
}

func (n *Node) suspendForOTA(now time.Duration) {
	n.otaSuspended = true
	n.otaDeadline = now + n.Cfg.OTASuspendDuration

	n.resetToFollower()
	n.clearDisplay()
}

func (n *Node) resumeFromOTA(now time.Duration) {
	n.otaSuspended = false
	n.otaDeadline = 0

	n.resync()
}

// ForceResync drops every piece of ephemeral state and returns to the
// follower role. The node will start a new election after the leader
// timeout unless a leader shows up first.
func (n *Node) ForceResync() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.Log.Info("forcing resynchronization")

	n.resync()
}

func (n *Node) resync() {
	n.resetToFollower()
	n.clearDisplay()
}

func (n *Node) resetToFollower() {
	n.election = nil
	n.sync = FollowerSyncState{}
	n.lastHeartbeat = 0
	n.highestTokenSeen = 0
	n.assembler.Reset()

	n.setRole(RoleFollower)
}

func (n *Node) SetMode(mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q", mode)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if mode == n.mode {
		return nil
	}

	n.Log.Info("switching to mode %q", mode)

	n.mode = mode
	n.resync()

	return nil
}

func (n *Node) SetBrightness(brightness uint8) {
	n.mu.Lock()
	n.brightness = brightness
	n.mu.Unlock()
}

// SuspendMesh asks every node to stop using the radio, for example before
// a firmware update, and suspends the local node.
func (n *Node) SuspendMesh() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.broadcastMsg(&OTASuspendMsg{})

	if !n.otaSuspended {
		n.suspendForOTA(n.clock.Now())
	}
}

func (n *Node) ResumeMesh() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.broadcastMsg(&OTAResumeMsg{})

	if n.otaSuspended {
		n.resumeFromOTA(n.clock.Now())
	}
}

func (n *Node) Role() Role {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.role
}

func (n *Node) HighestTokenSeen() Token {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.highestTokenSeen
}

func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	return Status{
		Token:            n.Token,
		Role:             n.role,
		Mode:             n.mode,
		HighestTokenSeen: n.highestTokenSeen,
		MissCount:        n.sync.MissCount,
		ChunkMask:        n.assembler.Mask(),
		NbChunks:         n.assembler.NbChunks(),
		Brightness:       n.brightness,
		AudioDetected:    n.detector.AudioDetected(),
		MusicLevel:       n.detector.MusicLevel(),
		BPM:              n.detector.BPM(),
		OTASuspended:     n.otaSuspended,
		Uptime:           n.clock.Now(),
	}
}
