package consensus

import (
	"fmt"
	"time"

	"github.com/tendermint/tendermint/libs/log"
	tmsync "github.com/tendermint/tendermint/libs/sync"

	cstypes "github.com/Asadullah378/MiniChain/consensus/types"
	"github.com/Asadullah378/MiniChain/config"
	"github.com/Asadullah378/MiniChain/mempool"
	"github.com/Asadullah378/MiniChain/store"
	"github.com/Asadullah378/MiniChain/types"
)

// CommitDecision is returned by OnAck when a proposal reaches quorum: the
// leader must apply the block locally and broadcast COMMIT.
type CommitDecision struct {
	Height int64
	Block  *types.Block
}

// State is the round-robin proof-of-authority engine. It is passive: the
// orchestrator drives it from its tick loop and message dispatch, and it
// holds back-references to the chain store and mempool for reads only.
// All mutating operations are short and never block on I/O.
type State struct {
	config *config.ConsensusConfig

	vals   *types.ValidatorSet
	selfID string

	blockStore store.Store
	mempool    mempool.Mempool

	mtx        tmsync.Mutex
	rs         cstypes.RoundState
	votes      *cstypes.HeightVoteSet
	committing map[int64]struct{}

	logger log.Logger
	metric *consensusMetric
}

type StateOption func(*State)

func NewState(
	cfg *config.ConsensusConfig,
	selfID string,
	vals *types.ValidatorSet,
	blockStore store.Store,
	mempool mempool.Mempool,
	options ...StateOption,
) *State {
	cs := &State{
		config:     cfg,
		vals:       vals,
		selfID:     selfID,
		blockStore: blockStore,
		mempool:    mempool,
		rs: cstypes.RoundState{
			Height:        blockStore.Height(),
			Step:          cstypes.StepIdle,
			LastBlockTime: time.Now(),
		},
		votes:      cstypes.NewHeightVoteSet(),
		committing: make(map[int64]struct{}),
		logger:     log.NewNopLogger(),
		metric:     newConsensusMetric(),
	}
	for _, option := range options {
		option(cs)
	}
	return cs
}

func (cs *State) SetLogger(logger log.Logger) {
	cs.logger = logger
}

// Metric exposes the consensus metric item for registration.
func (cs *State) Metric() *consensusMetric {
	return cs.metric
}

// QuorumSize is the configured quorum, defaulting to simple majority.
func (cs *State) QuorumSize() int {
	if cs.config.QuorumSize > 0 {
		return cs.config.QuorumSize
	}
	return cs.vals.MajorityQuorum()
}

// Leader returns the scheduled proposer for height h.
func (cs *State) Leader(h int64) string {
	return cs.vals.Leader(h)
}

// IsLeader reports whether the local node is scheduled for the next height.
func (cs *State) IsLeader() bool {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	return cs.vals.Leader(cs.rs.Height+1) == cs.selfID
}

// CurrentHeight mirrors the chain tip.
func (cs *State) CurrentHeight() int64 {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	return cs.rs.Height
}

// PendingProposal returns the cached proposal, if any.
func (cs *State) PendingProposal() *types.Block {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	return cs.rs.Proposal
}

// ShouldPropose reports whether the local node must propose height h now:
// it is the scheduled leader, h is the next height, the block interval has
// elapsed, and no proposal or commit is already in flight at h.
func (cs *State) ShouldPropose(h int64, now time.Time) bool {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	if cs.vals.Leader(h) != cs.selfID {
		return false
	}
	if h != cs.rs.Height+1 {
		return false
	}
	if now.Sub(cs.rs.LastBlockTime) < cs.config.BlockInterval {
		return false
	}
	if _, ok := cs.committing[h]; ok {
		return false
	}
	if cs.rs.Proposal != nil && cs.rs.Proposal.Height == h {
		return false
	}
	return true
}

// CreateProposal assembles the block for height h from the mempool (insertion
// order, capped at max_txs_per_block) and caches it as the pending proposal.
func (cs *State) CreateProposal(h int64, now time.Time) *types.Block {
	txs := cs.mempool.Take(cs.config.MaxTxsPerBlock)
	tip := cs.blockStore.Tip()

	block := types.MakeBlock(h, tip.BlockHash, types.UnixFloat(now), txs, cs.selfID)

	cs.mtx.Lock()
	cs.rs.Proposal = block
	cs.rs.Step = cstypes.StepProposed
	cs.mtx.Unlock()

	cs.metric.MarkPropose(h)
	cs.logger.Info("created proposal", "height", h, "block_hash", block.BlockHash, "txs", len(txs))
	return block
}

// OnProposal validates a received proposal. On success it is cached as the
// only block the node will commit at that height; the caller then acks to
// the proposer. Every rejection is a silent drop for the peer.
func (cs *State) OnProposal(b *types.Block, from string) error {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	if b.Height != cs.rs.Height+1 {
		return fmt.Errorf("%w: have %d, tip %d", ErrWrongHeight, b.Height, cs.rs.Height)
	}
	tip := cs.blockStore.Tip()
	if b.PrevHash != tip.BlockHash {
		return fmt.Errorf("%w: have %s, want %s", ErrBadPrevHash, b.PrevHash, tip.BlockHash)
	}
	leader := cs.vals.Leader(b.Height)
	if !types.MatchesID(leader, b.ProposerID) || !types.MatchesID(leader, from) {
		return fmt.Errorf("%w: proposer %s, from %s, want %s", ErrWrongProposer, b.ProposerID, from, leader)
	}
	if err := b.ValidateBasic(); err != nil {
		return err
	}

	if prev := cs.rs.Proposal; prev != nil && prev.Height == b.Height {
		if prev.BlockHash == b.BlockHash {
			return ErrDuplicateProposal
		}
		// The first proposal wins; a second differently-hashed one from the
		// legitimate leader is equivocation.
		return fmt.Errorf("%w: cached %s, received %s", ErrEquivocation, prev.BlockHash, b.BlockHash)
	}

	cs.rs.Proposal = b
	if leader != cs.selfID {
		cs.rs.Step = cstypes.StepAcked
	}
	cs.logger.Info("accepted proposal", "height", b.Height, "block_hash", b.BlockHash, "proposer", b.ProposerID)
	return nil
}

// OnAck tallies a vote. Only meaningful on the scheduled leader of the ack's
// height; the leader's own vote arrives through the same path. When the
// tally reaches quorum the height is marked committing and a CommitDecision
// is returned exactly once.
func (cs *State) OnAck(height int64, blockHash, voter string, sig []byte) (*CommitDecision, error) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	if cs.vals.Leader(height) != cs.selfID {
		return nil, ErrNotProposer
	}
	canonical, ok := cs.vals.Canonical(voter)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVoter, voter)
	}
	pending := cs.rs.Proposal
	if pending == nil || pending.Height != height {
		return nil, fmt.Errorf("%w: height %d", ErrStaleAck, height)
	}
	if pending.BlockHash != blockHash {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrAckHashMismatch, blockHash, pending.BlockHash)
	}

	if added := cs.votes.AddVote(height, canonical, sig); !added {
		// Re-delivered vote; the tally is unchanged.
		return nil, nil
	}
	count := cs.votes.Count(height)
	cs.metric.MarkAck(height, count)
	cs.logger.Debug("ack tallied", "height", height, "voter", canonical, "count", count, "quorum", cs.QuorumSize())

	if count < cs.QuorumSize() {
		return nil, nil
	}
	if _, ok := cs.committing[height]; ok {
		return nil, nil
	}
	cs.committing[height] = struct{}{}
	cs.rs.Step = cstypes.StepCommitting
	return &CommitDecision{Height: height, Block: pending}, nil
}

// OnCommit resolves a COMMIT against the cached proposal. A match returns the
// block for finalization; anything else is a sync gap.
func (cs *State) OnCommit(height int64, blockHash string) (*types.Block, error) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	pending := cs.rs.Proposal
	if pending == nil || pending.Height != height || pending.BlockHash != blockHash {
		return nil, fmt.Errorf("%w: height %d hash %s", ErrNeedSync, height, blockHash)
	}
	return pending, nil
}

// OnBlockCommitted advances the engine past a committed block: the height
// mirror moves, the per-height votes and pending proposal are dropped, and
// the interval clock restarts.
func (cs *State) OnBlockCommitted(b *types.Block) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	cs.rs.Height = b.Height
	cs.rs.LastBlockTime = time.Now()
	if cs.rs.Proposal != nil && cs.rs.Proposal.Height <= b.Height {
		cs.rs.Proposal = nil
	}
	cs.votes.Clear(b.Height)
	delete(cs.committing, b.Height)
	cs.rs.Step = cstypes.StepIdle

	cs.metric.MarkCommit(b.Height, len(b.Txs))
}

// ShouldViewChange reports whether the next scheduled leader has stalled past
// proposal_timeout with nothing proposed.
//
// TODO(viewchange): only the trigger and the wire type exist; re-election
// semantics are unresolved, so firing this never changes the leader schedule.
func (cs *State) ShouldViewChange(now time.Time) bool {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	next := cs.rs.Height + 1
	if cs.vals.Leader(next) != cs.selfID {
		return false
	}
	if cs.rs.Proposal != nil && cs.rs.Proposal.Height == next {
		return false
	}
	return now.Sub(cs.rs.LastBlockTime) > cs.config.ProposalTimeout
}

// AckCount returns the current tally at height (proposer side).
func (cs *State) AckCount(height int64) int {
	return cs.votes.Count(height)
}
