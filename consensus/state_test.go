package consensus

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"

	"github.com/Asadullah378/MiniChain/config"
	mempl "github.com/Asadullah378/MiniChain/mempool"
	"github.com/Asadullah378/MiniChain/store"
	"github.com/Asadullah378/MiniChain/types"
)

var testIDs = []string{"a:48000", "b:48001", "c:48002"}

type testEnv struct {
	cs      *State
	mempool *mempl.ListMempool
	store   *store.ChainStore
	vals    *types.ValidatorSet
}

// newTestState builds an engine running as selfID over a fresh chain.
func newTestState(t *testing.T, selfID string, opts ...func(*config.ConsensusConfig)) *testEnv {
	t.Helper()

	vals, err := types.NewValidatorSet(testIDs)
	require.NoError(t, err)

	logger := log.TestingLogger()
	chainStore, err := store.LoadOrInit(
		filepath.Join(t.TempDir(), "chain.json"),
		vals,
		store.NewTxIndex(tmdb.NewMemDB()),
		logger,
	)
	require.NoError(t, err)

	cfg := config.TestConfig().Consensus
	for _, opt := range opts {
		opt(cfg)
	}

	mem := mempl.NewListMempool(config.DefaultMempoolConfig())
	cs := NewState(cfg, selfID, vals, chainStore, mem)
	cs.SetLogger(logger)

	return &testEnv{cs: cs, mempool: mem, store: chainStore, vals: vals}
}

func (env *testEnv) commit(t *testing.T, b *types.Block) {
	t.Helper()
	require.NoError(t, env.store.AddBlock(b))
	env.cs.OnBlockCommitted(b)
}

func TestLeaderRotation(t *testing.T) {
	env := newTestState(t, "a:48000")

	assert.Equal(t, "b:48001", env.cs.Leader(1), "Leader(1) = validators[1 mod 3]")
	assert.Equal(t, "c:48002", env.cs.Leader(2))
	assert.Equal(t, "a:48000", env.cs.Leader(3))
	assert.Equal(t, "b:48001", env.cs.Leader(4))
}

func TestShouldProposeGating(t *testing.T) {
	now := time.Now()

	// Not the scheduled leader for height 1.
	a := newTestState(t, "a:48000")
	assert.False(t, a.cs.ShouldPropose(1, now))

	// The leader, right height, zero interval. The interval clock starts when
	// the state is built, so ask with a time taken after that.
	b := newTestState(t, "b:48001")
	assert.True(t, b.cs.ShouldPropose(1, time.Now()))
	assert.False(t, b.cs.ShouldPropose(2, now), "only the next height is proposable")

	// Interval not yet elapsed.
	slow := newTestState(t, "b:48001", func(c *config.ConsensusConfig) {
		c.BlockInterval = time.Hour
	})
	assert.False(t, slow.cs.ShouldPropose(1, now))
	assert.True(t, slow.cs.ShouldPropose(1, now.Add(2*time.Hour)))

	// A cached proposal for the height suppresses re-proposing.
	b.cs.CreateProposal(1, now)
	assert.False(t, b.cs.ShouldPropose(1, time.Now()))
}

func TestCreateProposalPacksMempoolInOrder(t *testing.T) {
	env := newTestState(t, "b:48001", func(c *config.ConsensusConfig) {
		c.MaxTxsPerBlock = 2
	})
	t1 := types.NewTx("alice", "bob", 1, 1.0)
	t2 := types.NewTx("bob", "carol", 2, 2.0)
	t3 := types.NewTx("carol", "dave", 3, 3.0)
	for _, tx := range (types.Txs{t1, t2, t3}) {
		require.NoError(t, env.mempool.Add(tx))
	}

	block := env.cs.CreateProposal(1, time.Now())

	require.Equal(t, types.Txs{t1, t2}, block.Txs, "insertion order, capped at max_txs")
	assert.Equal(t, env.store.Tip().BlockHash, block.PrevHash)
	assert.Equal(t, "b:48001", block.ProposerID)
	assert.NoError(t, block.ValidateBasic())
	assert.Equal(t, block, env.cs.PendingProposal())
	assert.Equal(t, 3, env.mempool.Size(), "proposing must not remove from the mempool")
}

func TestCreateProposalEmptyMempool(t *testing.T) {
	env := newTestState(t, "b:48001")

	block := env.cs.CreateProposal(1, time.Now())

	require.NotNil(t, block)
	assert.Empty(t, block.Txs, "an empty mempool still yields a valid empty block")
	assert.NoError(t, block.ValidateBasic())
}

func TestOnProposalFollowerAccepts(t *testing.T) {
	leader := newTestState(t, "b:48001")
	follower := newTestState(t, "a:48000")
	block := leader.cs.CreateProposal(1, time.Now())

	require.NoError(t, follower.cs.OnProposal(block, "b:48001"))
	assert.Equal(t, block, follower.cs.PendingProposal())
}

func TestOnProposalRejections(t *testing.T) {
	leader := newTestState(t, "b:48001")
	block := leader.cs.CreateProposal(1, time.Now())

	t.Run("wrong proposer claim", func(t *testing.T) {
		follower := newTestState(t, "c:48002")
		forged := types.MakeBlock(1, follower.store.Tip().BlockHash, 1.0, nil, "a:48000")
		err := follower.cs.OnProposal(forged, "a:48000")
		assert.ErrorIs(t, err, ErrWrongProposer)
		assert.Nil(t, follower.cs.PendingProposal(), "consensus state unchanged")
	})

	t.Run("relayed by a non-leader", func(t *testing.T) {
		follower := newTestState(t, "c:48002")
		err := follower.cs.OnProposal(block, "a:48000")
		assert.ErrorIs(t, err, ErrWrongProposer)
	})

	t.Run("wrong height", func(t *testing.T) {
		follower := newTestState(t, "a:48000")
		future := types.MakeBlock(2, follower.store.Tip().BlockHash, 1.0, nil, "c:48002")
		err := follower.cs.OnProposal(future, "c:48002")
		assert.ErrorIs(t, err, ErrWrongHeight)
	})

	t.Run("bad parent hash", func(t *testing.T) {
		follower := newTestState(t, "a:48000")
		orphan := types.MakeBlock(1, types.GenesisPrevHash, 1.0, nil, "b:48001")
		err := follower.cs.OnProposal(orphan, "b:48001")
		assert.ErrorIs(t, err, ErrBadPrevHash)
	})

	t.Run("tampered hash", func(t *testing.T) {
		follower := newTestState(t, "a:48000")
		tampered := types.MakeBlock(1, follower.store.Tip().BlockHash, 1.0, nil, "b:48001")
		tampered.Timestamp = 99.0
		err := follower.cs.OnProposal(tampered, "b:48001")
		assert.Error(t, err)
	})
}

func TestOnProposalEquivocation(t *testing.T) {
	follower := newTestState(t, "a:48000")
	tip := follower.store.Tip().BlockHash
	first := types.MakeBlock(1, tip, 1.0, nil, "b:48001")
	second := types.MakeBlock(1, tip, 2.0, nil, "b:48001")

	require.NoError(t, follower.cs.OnProposal(first, "b:48001"))
	err := follower.cs.OnProposal(second, "b:48001")
	assert.ErrorIs(t, err, ErrEquivocation)
	assert.Equal(t, first, follower.cs.PendingProposal(), "the first proposal wins")

	err = follower.cs.OnProposal(first, "b:48001")
	assert.ErrorIs(t, err, ErrDuplicateProposal, "acking twice per (height, proposer) is not allowed")
}

func TestOnAckQuorumBoundary(t *testing.T) {
	leader := newTestState(t, "b:48001")
	block := leader.cs.CreateProposal(1, time.Now())

	// Leader's own vote counts toward quorum.
	decision, err := leader.cs.OnAck(1, block.BlockHash, "b:48001", nil)
	require.NoError(t, err)
	assert.Nil(t, decision, "1 of 2")

	// Exactly quorum_size acks triggers exactly one commit decision.
	decision, err = leader.cs.OnAck(1, block.BlockHash, "a:48000", nil)
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, block, decision.Block)

	// The quorum_size+1-th ack is a no-op.
	decision, err = leader.cs.OnAck(1, block.BlockHash, "c:48002", nil)
	require.NoError(t, err)
	assert.Nil(t, decision)
}

func TestOnAckDuplicateVoterCountsOnce(t *testing.T) {
	leader := newTestState(t, "b:48001")
	block := leader.cs.CreateProposal(1, time.Now())

	for i := 0; i < 3; i++ {
		decision, err := leader.cs.OnAck(1, block.BlockHash, "a:48000", nil)
		require.NoError(t, err)
		assert.Nil(t, decision, "one validator never reaches a 2-quorum alone")
	}
	assert.Equal(t, 1, leader.cs.AckCount(1))
}

func TestOnAckRejections(t *testing.T) {
	leader := newTestState(t, "b:48001")
	block := leader.cs.CreateProposal(1, time.Now())

	_, err := leader.cs.OnAck(1, block.BlockHash, "mallory:66600", nil)
	assert.ErrorIs(t, err, ErrUnknownVoter)

	// Height 4 is b's again (4 mod 3), but nothing is pending there.
	_, err = leader.cs.OnAck(4, block.BlockHash, "a:48000", nil)
	assert.ErrorIs(t, err, ErrStaleAck)

	_, err = leader.cs.OnAck(1, types.GenesisPrevHash, "a:48000", nil)
	assert.ErrorIs(t, err, ErrAckHashMismatch)

	follower := newTestState(t, "a:48000")
	_, err = follower.cs.OnAck(1, block.BlockHash, "c:48002", nil)
	assert.ErrorIs(t, err, ErrNotProposer)
}

func TestOnCommit(t *testing.T) {
	follower := newTestState(t, "a:48000")
	tip := follower.store.Tip().BlockHash
	block := types.MakeBlock(1, tip, 1.0, nil, "b:48001")
	require.NoError(t, follower.cs.OnProposal(block, "b:48001"))

	got, err := follower.cs.OnCommit(1, block.BlockHash)
	require.NoError(t, err)
	assert.Equal(t, block, got)

	// A commit for anything but the cached proposal is a sync gap.
	_, err = follower.cs.OnCommit(1, types.GenesisPrevHash)
	assert.ErrorIs(t, err, ErrNeedSync)
	_, err = follower.cs.OnCommit(5, block.BlockHash)
	assert.ErrorIs(t, err, ErrNeedSync)
}

func TestOnBlockCommittedClearsHeightState(t *testing.T) {
	leader := newTestState(t, "b:48001")
	block := leader.cs.CreateProposal(1, time.Now())
	_, err := leader.cs.OnAck(1, block.BlockHash, "b:48001", nil)
	require.NoError(t, err)
	decision, err := leader.cs.OnAck(1, block.BlockHash, "a:48000", nil)
	require.NoError(t, err)
	require.NotNil(t, decision)

	leader.commit(t, block)

	assert.EqualValues(t, 1, leader.cs.CurrentHeight())
	assert.Nil(t, leader.cs.PendingProposal())
	assert.Zero(t, leader.cs.AckCount(1), "no acks survive the commit")
	assert.False(t, leader.cs.ShouldPropose(2, time.Now()), "height 2 belongs to c")
}

func TestShouldViewChange(t *testing.T) {
	cfg := func(c *config.ConsensusConfig) { c.ProposalTimeout = 10 * time.Millisecond }

	// Leader(1) is b; only b sees the stall as its own.
	b := newTestState(t, "b:48001", cfg)
	assert.False(t, b.cs.ShouldViewChange(time.Now()))
	assert.True(t, b.cs.ShouldViewChange(time.Now().Add(time.Second)))

	a := newTestState(t, "a:48000", cfg)
	assert.False(t, a.cs.ShouldViewChange(time.Now().Add(time.Second)), "not the scheduled leader")

	// A pending proposal means progress, not a stall.
	b2 := newTestState(t, "b:48001", cfg)
	b2.cs.CreateProposal(1, time.Now())
	assert.False(t, b2.cs.ShouldViewChange(time.Now().Add(time.Second)))
}

func TestQuorumSizeDefaultsToMajority(t *testing.T) {
	env := newTestState(t, "a:48000")
	assert.Equal(t, 2, env.cs.QuorumSize())

	injected := newTestState(t, "a:48000", func(c *config.ConsensusConfig) { c.QuorumSize = 3 })
	assert.Equal(t, 3, injected.cs.QuorumSize())
}
