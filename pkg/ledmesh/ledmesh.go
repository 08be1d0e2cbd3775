package ledmesh

import (
	"fmt"
	"time"
)

// Token is the 24 bit identity of a node, derived from its hardware address.
// It is only used to break ties during elections.
type Token uint32

const MaxToken Token = 0xffffff

func (t Token) String() string {
	return fmt.Sprintf("0x%06x", uint32(t))
}

func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

type Role string

const (
	RoleFollower Role = "follower"
	RoleElecting Role = "electing"
	RoleLeader   Role = "leader"
)

type Mode string

const (
	ModeAuto Mode = "auto"
	ModeOff  Mode = "off"
)

func (m Mode) Valid() bool {
	return m == ModeAuto || m == ModeOff
}

// ElectionContext only exists while the node is electing.
type ElectionContext struct {
	Start          time.Duration
	End            time.Duration
	BroadcastDelay time.Duration
	Broadcasted    bool
}

// FollowerSyncState tracks the liveness of the current leader.
type FollowerSyncState struct {
	LastRecv  time.Duration
	MissCount int
}

type RenderContext struct {
	Now           time.Duration
	AudioDetected bool
	MusicLevel    float64
}

// Renderer produces the next frame on the leader.
type Renderer interface {
	Render(*Frame, RenderContext)
}

// Display pushes complete frames to the LED hardware. Brightness is the
// local brightness of the node and must never modify the frame itself.
type Display interface {
	Show(frame *Frame, brightness uint8) error
	Clear() error
}

type Status struct {
	Token            Token         `json:"token"`
	Role             Role          `json:"role"`
	Mode             Mode          `json:"mode"`
	HighestTokenSeen Token         `json:"highestTokenSeen"`
	MissCount        int           `json:"missCount"`
	ChunkMask        uint32        `json:"chunkMask"`
	NbChunks         int           `json:"nbChunks"`
	Brightness       uint8         `json:"brightness"`
	AudioDetected    bool          `json:"audioDetected"`
	MusicLevel       float64       `json:"musicLevel"`
	BPM              float64       `json:"bpm"`
	OTASuspended     bool          `json:"otaSuspended"`
	Uptime           time.Duration `json:"uptime"`
}
