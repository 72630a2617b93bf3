package types

import (
	"fmt"
	"time"

	"github.com/Asadullah378/MiniChain/types"
)

// Step is the per-height consensus phase of the local node.
type Step uint8

const (
	StepIdle       = Step(0x01) // entered every height
	StepProposed   = Step(0x02) // leader: proposal broadcast
	StepAcked      = Step(0x03) // follower: ack sent
	StepCommitting = Step(0x04) // leader: quorum reached, commit in flight
	StepCommitted  = Step(0x05) // block applied; terminal per height
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "Idle"
	case StepProposed:
		return "Proposed"
	case StepAcked:
		return "Acked"
	case StepCommitting:
		return "Committing"
	case StepCommitted:
		return "Committed"
	default:
		return "Unknown"
	}
}

// RoundState is the mutable engine state; the engine's mutex guards it.
type RoundState struct {
	// Height mirrors the chain tip; consensus is deciding Height+1.
	Height int64

	Step Step

	// Proposal is the block cached at Height+1, ours or the leader's. It is
	// the only block the node will commit at that height.
	Proposal *types.Block

	// LastBlockTime is the monotonic instant of the last commit.
	LastBlockTime time.Time
}

func (rs *RoundState) String() string {
	return fmt.Sprintf("RoundState{h=%d step=%v proposal=%v}", rs.Height, rs.Step, rs.Proposal)
}
