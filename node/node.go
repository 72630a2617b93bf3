package node

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tendermint/tendermint/libs/cmap"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	tmsync "github.com/tendermint/tendermint/libs/sync"
	tmdb "github.com/tendermint/tm-db"

	"github.com/Asadullah378/MiniChain/blocksync"
	"github.com/Asadullah378/MiniChain/codec"
	"github.com/Asadullah378/MiniChain/config"
	"github.com/Asadullah378/MiniChain/consensus"
	"github.com/Asadullah378/MiniChain/libs/metric"
	mempl "github.com/Asadullah378/MiniChain/mempool"
	"github.com/Asadullah378/MiniChain/p2p"
	"github.com/Asadullah378/MiniChain/privval"
	"github.com/Asadullah378/MiniChain/store"
	"github.com/Asadullah378/MiniChain/types"
)

// Events fired on the node's event switch.
const (
	EventNewBlock = "NewBlock"
	EventNewTx    = "NewTx"

	// shutdownWait bounds how long Stop waits for workers before abandoning
	// connections.
	shutdownWait = 5 * time.Second

	// fatalDrain is the diagnostics window between a fatal error and process
	// exit; read accessors stay alive through it.
	fatalDrain = 3 * time.Second

	peerMsgQueueSize = 1024
)

type msgInfo struct {
	Msg     codec.Message
	PeerKey string
}

// Node is the orchestrator: it owns the chain store and mempool, glues the
// transport to the consensus engine, and serializes every state transition
// through one dispatcher.
type Node struct {
	service.BaseService

	config  *config.Config
	selfID  string // canonical
	vals    *types.ValidatorSet
	privVal types.PrivValidator

	sw         *p2p.Switch
	mempool    mempl.Mempool
	blockStore store.Store
	consensus  *consensus.State
	bsync      *blocksync.Reactor
	txIndexDB  tmdb.DB

	evsw    events.EventSwitch
	metrics *metric.MetricSet
	txMeter *metric.ThroughputMeter

	// mtx serializes the dispatcher, the consensus tick, and operator
	// submissions; inbound messages are handled one at a time under it.
	mtx          tmsync.Mutex
	peerMsgQueue chan msgInfo

	// stopCh releases the workers before OnStop waits on them; the
	// BaseService quit channel only closes after OnStop returns.
	stopCh chan struct{}

	peerHeights *cmap.CMap // canonical id -> int64, from heartbeats

	wg sync.WaitGroup

	fatalMtx tmsync.Mutex
	fatalErr error

	lastViewChange     time.Time
	lastProposalResend time.Time

	// exitFunc is called after the fatal drain; tests override it.
	exitFunc func(code int)
}

type Option func(*Node)

// WithTxIndexDB injects the tx index backend (tests use tmdb.NewMemDB()).
func WithTxIndexDB(db tmdb.DB) Option {
	return func(n *Node) {
		n.txIndexDB = db
	}
}

// WithExitFunc overrides process exit on fatal errors.
func WithExitFunc(f func(code int)) Option {
	return func(n *Node) {
		n.exitFunc = f
	}
}

// NewNode wires the full core from config: keys, chain, mempool, consensus,
// transport, and sync.
func NewNode(cfg *config.Config, logger log.Logger, options ...Option) (*Node, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}

	selfID, err := types.CanonicalID(cfg.Base.SelfID)
	if err != nil {
		return nil, err
	}

	raw := append([]string{cfg.Base.SelfID}, cfg.P2P.Peers...)
	vals, err := types.NewValidatorSet(raw)
	if err != nil {
		return nil, err
	}

	n := &Node{
		config:       cfg,
		selfID:       selfID,
		vals:         vals,
		evsw:         events.NewEventSwitch(),
		metrics:      metric.NewMetricSet(),
		txMeter:      metric.NewThroughputMeter(),
		peerMsgQueue: make(chan msgInfo, peerMsgQueueSize),
		stopCh:       make(chan struct{}),
		peerHeights:  cmap.NewCMap(),
		exitFunc:     os.Exit,
	}
	for _, option := range options {
		option(n)
	}

	if err := os.MkdirAll(cfg.Base.DataDir(), 0o755); err != nil {
		return nil, err
	}

	pv, err := privval.LoadOrGenFilePV(cfg.Base.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("node key: %w", err)
	}
	n.privVal = pv

	var txIndex *store.TxIndex
	if n.txIndexDB != nil {
		txIndex = store.NewTxIndex(n.txIndexDB)
	} else {
		txIndex, err = store.NewTxIndexAt(cfg.Base.DataDir())
		if err != nil {
			return nil, err
		}
	}

	chainStore, err := store.LoadOrInit(cfg.Base.ChainFile(), vals, txIndex, logger.With("module", "store"))
	if err != nil {
		return nil, err
	}
	n.blockStore = chainStore

	mem := mempl.NewListMempool(cfg.Mempool)
	mem.SetLogger(logger.With("module", "mempool"))
	n.mempool = mem

	cs := consensus.NewState(cfg.Consensus, selfID, vals, chainStore, mem)
	cs.SetLogger(logger.With("module", "consensus"))
	n.consensus = cs

	sw, err := p2p.NewSwitch(cfg.P2P, selfID, n.receiveFrame)
	if err != nil {
		return nil, err
	}
	sw.SetLogger(logger.With("module", "p2p"))
	n.sw = sw

	n.bsync = blocksync.NewReactor(cfg.Sync, chainStore, sw, n.applySyncedBlock)
	n.bsync.SetLogger(logger.With("module", "blocksync"))

	n.metrics.SetMetrics("mempool", mem.Metric())
	n.metrics.SetMetrics("consensus", cs.Metric())
	n.metrics.SetMetrics("committed_txs", n.txMeter)

	n.BaseService = *service.NewBaseService(logger, "Node", n)
	return n, nil
}

func (n *Node) OnStart() error {
	if err := n.evsw.Start(); err != nil {
		return err
	}
	if err := n.sw.Start(); err != nil {
		return err
	}
	if err := n.bsync.Start(); err != nil {
		return err
	}

	n.wg.Add(3)
	go n.dispatchRoutine()
	go n.tickRoutine()
	go n.heartbeatRoutine()

	// Best-effort initial catch-up; peers that are not up yet answer later
	// via heartbeats.
	n.bsync.RequestSync("")

	n.Logger.Info("node started",
		"self", n.selfID,
		"validators", n.vals.Size(),
		"quorum", n.consensus.QuorumSize(),
		"height", n.blockStore.Height(),
	)
	return nil
}

func (n *Node) OnStop() {
	close(n.stopCh)
	n.bsync.Stop()
	n.sw.Stop()
	n.evsw.Stop()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownWait):
		n.Logger.Error("shutdown timed out, abandoning connections")
	}

	if err := n.blockStore.Close(); err != nil {
		n.Logger.Error("closing store failed", "err", err)
	}
	n.Logger.Info("node stopped", "height", n.blockStore.Height())
}

//---------------------------------------------------------------------------
// Inbound path

// receiveFrame runs on each peer's read goroutine: decode, then hand off to
// the single dispatcher. Undecodable frames are dropped with a warning.
func (n *Node) receiveFrame(peerKey string, bz []byte) {
	msg, err := codec.Decode(bz)
	if err != nil {
		n.Logger.Info("dropping bad frame", "peer", peerKey, "reason", err)
		return
	}
	select {
	case n.peerMsgQueue <- msgInfo{Msg: msg, PeerKey: peerKey}:
	case <-n.stopCh:
	}
}

func (n *Node) dispatchRoutine() {
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		case mi := <-n.peerMsgQueue:
			n.handleMsg(mi)
		}
	}
}

// handleMsg dispatches one message under the orchestrator lock.
func (n *Node) handleMsg(mi msgInfo) {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	switch msg := mi.Msg.(type) {
	case *codec.TxMessage:
		n.handleTx(msg.Tx(), mi.PeerKey)
	case *codec.ProposeMessage:
		n.handlePropose(msg, mi.PeerKey)
	case *codec.AckMessage:
		n.handleAck(msg)
	case *codec.CommitMessage:
		n.handleCommit(msg, mi.PeerKey)
	case *codec.HelloMessage:
		n.sw.BindIdentity(mi.PeerKey, msg.NodeID)
	case *codec.HeartbeatMessage:
		n.handleHeartbeat(msg)
	case *codec.GetHeadersMessage:
		n.bsync.HandleGetHeaders(msg, mi.PeerKey)
	case *codec.HeadersMessage:
		n.bsync.HandleHeaders(msg, mi.PeerKey)
	case *codec.GetBlocksMessage:
		n.bsync.HandleGetBlocks(msg, mi.PeerKey)
	case *codec.BlockMessage:
		n.bsync.HandleBlocks(msg, mi.PeerKey)
	case *codec.ViewChangeMessage:
		// TODO(viewchange): re-election protocol is unresolved; record only.
		n.Logger.Info("view change signalled", "height", msg.Height, "new_leader", msg.NewLeaderID, "reason", msg.Reason)
	default:
		n.Logger.Error("unhandled message", "type", codec.MsgType(mi.Msg), "peer", mi.PeerKey)
	}
}

// handleTx admits and amplifies gossip. Already-seen txs die here silently.
func (n *Node) handleTx(tx *types.Tx, peerKey string) {
	if n.blockStore.HasTx(tx.TxID) {
		n.mempool.MarkSeen([]string{tx.TxID})
		return
	}
	if err := n.mempool.Add(tx); err != nil {
		if !errors.Is(err, mempl.ErrTxSeen) {
			n.Logger.Info("tx rejected", "tx_id", tx.TxID, "peer", peerKey, "reason", err)
		}
		return
	}
	n.Logger.Debug("tx admitted", "tx_id", tx.TxID, "peer", peerKey)
	n.evsw.FireEvent(EventNewTx, tx)
	if err := n.sw.Broadcast(codec.NewTxMessage(tx)); err != nil {
		n.Logger.Info("tx re-gossip incomplete", "tx_id", tx.TxID, "err", err)
	}
}

// handlePropose validates and acks directly to the proposer.
func (n *Node) handlePropose(msg *codec.ProposeMessage, peerKey string) {
	block := msg.Block()
	from := n.sw.IdentityOf(peerKey)
	if from == "" {
		from = peerKey
	}

	if err := n.consensus.OnProposal(block, from); err != nil {
		if errors.Is(err, consensus.ErrEquivocation) {
			n.Logger.Error("equivocating leader", "height", block.Height, "peer", from, "reason", err)
		} else if !errors.Is(err, consensus.ErrDuplicateProposal) {
			n.Logger.Info("proposal rejected", "height", block.Height, "block_hash", block.BlockHash, "peer", from, "reason", err)
		}
		return
	}

	sig, err := n.privVal.SignBytes(codec.AckSignBytes(block.Height, block.BlockHash, n.selfID))
	if err != nil {
		n.Logger.Error("ack signing failed", "height", block.Height, "err", err)
		sig = nil
	}
	ack := codec.NewAckMessage(block.Height, block.BlockHash, n.selfID, sig)
	if err := n.sw.SendTo(block.ProposerID, ack); err != nil {
		n.Logger.Info("ack not delivered", "height", block.Height, "proposer", block.ProposerID, "err", err)
	}
}

// handleAck tallies on the proposer; quorum commits locally and broadcasts
// COMMIT.
func (n *Node) handleAck(msg *codec.AckMessage) {
	decision, err := n.consensus.OnAck(msg.Height, msg.BlockHash, msg.VoterID, msg.Signature)
	if err != nil {
		n.Logger.Debug("ack dropped", "height", msg.Height, "voter", msg.VoterID, "reason", err)
		return
	}
	if decision == nil {
		return
	}

	if err := n.commitBlock(decision.Block); err != nil {
		n.fatal(fmt.Errorf("commit at height %d: %w", decision.Height, err))
		return
	}
	if err := n.sw.Broadcast(codec.NewCommitMessage(decision.Block, n.selfID)); err != nil {
		n.Logger.Error("commit broadcast incomplete", "height", decision.Height, "err", err)
	}
}

// handleCommit finalizes the cached proposal or flags a sync gap.
func (n *Node) handleCommit(msg *codec.CommitMessage, peerKey string) {
	if leader := n.consensus.Leader(msg.Height); !types.MatchesID(leader, msg.LeaderID) {
		n.Logger.Info("commit from wrong leader", "height", msg.Height, "leader_id", msg.LeaderID, "want", leader)
		return
	}

	block, err := n.consensus.OnCommit(msg.Height, msg.BlockHash)
	if err != nil {
		peer := n.sw.IdentityOf(peerKey)
		if peer == "" {
			peer = peerKey
		}
		n.Logger.Info("commit without proposal", "height", msg.Height, "block_hash", msg.BlockHash, "reason", err)
		n.bsync.RequestSync(peer)
		return
	}

	if err := n.commitBlock(block); err != nil {
		n.fatal(fmt.Errorf("commit at height %d: %w", block.Height, err))
	}
}

func (n *Node) handleHeartbeat(msg *codec.HeartbeatMessage) {
	id, err := types.CanonicalID(msg.NodeID)
	if err != nil {
		return
	}
	n.peerHeights.Set(id, msg.Height)
	if msg.Height > n.blockStore.Height() {
		n.bsync.RequestSync(msg.NodeID)
	}
}

// commitBlock is the single application path for every block, live or
// synced: durable append, consensus advance, mempool prune, event.
func (n *Node) commitBlock(b *types.Block) error {
	if err := n.blockStore.AddBlock(b); err != nil {
		return err
	}
	n.consensus.OnBlockCommitted(b)

	ids := b.Txs.IDs()
	n.mempool.RemoveMany(ids)
	n.mempool.MarkSeen(ids)
	n.txMeter.Mark(int64(len(ids)))

	n.evsw.FireEvent(EventNewBlock, b)
	n.Logger.Info("block committed",
		"height", b.Height,
		"block_hash", b.BlockHash,
		"txs", len(ids),
		"proposer", b.ProposerID,
	)
	return nil
}

// applySyncedBlock feeds blocksync into the shared application path under
// the orchestrator lock held by the dispatcher.
func (n *Node) applySyncedBlock(b *types.Block) error {
	return n.commitBlock(b)
}

//---------------------------------------------------------------------------
// Timers

func (n *Node) tickRoutine() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.config.Consensus.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			if n.FatalError() != nil {
				continue // halted; read accessors stay alive
			}
			n.consensusTick()
		}
	}
}

// consensusTick runs one scheduling step: propose if it is our turn, signal a
// view change if the round has stalled on us.
func (n *Node) consensusTick() {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	now := time.Now()
	next := n.consensus.CurrentHeight() + 1

	if n.consensus.ShouldPropose(next, now) {
		block := n.consensus.CreateProposal(next, now)
		if err := n.sw.Broadcast(codec.NewProposeMessage(block)); err != nil {
			n.Logger.Error("proposal broadcast incomplete", "height", next, "err", err)
		}
		// Self-ack, routed as if it came from the wire.
		sig, err := n.privVal.SignBytes(codec.AckSignBytes(block.Height, block.BlockHash, n.selfID))
		if err != nil {
			sig = nil
		}
		n.handleAck(codec.NewAckMessage(block.Height, block.BlockHash, n.selfID, sig))
		return
	}

	// A proposal is broadcast once per height, but peers that connected
	// after the send would stall the round forever; keep re-offering the
	// cached proposal until it commits. Followers ack it at most once.
	if pending := n.consensus.PendingProposal(); pending != nil &&
		pending.Height == next &&
		types.MatchesID(n.consensus.Leader(next), n.selfID) &&
		now.Sub(n.lastProposalResend) >= n.config.Consensus.BlockInterval {
		n.lastProposalResend = now
		if err := n.sw.Broadcast(codec.NewProposeMessage(pending)); err != nil {
			n.Logger.Debug("proposal re-offer incomplete", "height", next, "err", err)
		}
	}

	if n.consensus.ShouldViewChange(now) && now.Sub(n.lastViewChange) > n.config.Consensus.ProposalTimeout {
		n.lastViewChange = now
		leader := n.consensus.Leader(next)
		n.Logger.Error("round stalled, signalling view change", "height", next, "leader", leader)
		// TODO(viewchange): broadcasting is as far as the protocol goes; no
		// re-election happens yet.
		if err := n.sw.Broadcast(codec.NewViewChangeMessage(next, leader, "timeout")); err != nil {
			n.Logger.Info("view change broadcast incomplete", "height", next, "err", err)
		}
	}
}

func (n *Node) heartbeatRoutine() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.config.P2P.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			tip := n.blockStore.Tip()
			hb := codec.NewHeartbeatMessage(n.selfID, tip.Height, tip.BlockHash)
			if err := n.sw.Broadcast(hb); err != nil {
				n.Logger.Debug("heartbeat incomplete", "err", err)
			}
		}
	}
}

//---------------------------------------------------------------------------
// Failure handling

// fatal halts consensus but keeps read accessors alive, then exits after the
// drain window.
func (n *Node) fatal(err error) {
	n.fatalMtx.Lock()
	already := n.fatalErr != nil
	if !already {
		n.fatalErr = err
	}
	n.fatalMtx.Unlock()
	if already {
		return
	}

	n.Logger.Error("FATAL: consensus halted", "reason", err)
	go func() {
		time.Sleep(fatalDrain)
		n.Logger.Error("exiting after fatal drain")
		n.exitFunc(1)
	}()
}

// FatalError reports the halt reason, if any.
func (n *Node) FatalError() error {
	n.fatalMtx.Lock()
	defer n.fatalMtx.Unlock()
	return n.fatalErr
}

//---------------------------------------------------------------------------
// Operator surface (consumed by the HTTP/CLI collaborators)

// SubmitTransaction builds, admits, and gossips a transfer; it returns the
// computed tx id.
func (n *Node) SubmitTransaction(sender, recipient string, amount int64) (string, error) {
	tx := types.NewTx(sender, recipient, amount, types.UnixFloat(time.Now()))

	n.mtx.Lock()
	defer n.mtx.Unlock()

	if n.blockStore.HasTx(tx.TxID) {
		return "", mempl.ErrTxSeen
	}
	if err := n.mempool.Add(tx); err != nil {
		return "", err
	}
	n.evsw.FireEvent(EventNewTx, tx)
	if err := n.sw.Broadcast(codec.NewTxMessage(tx)); err != nil {
		n.Logger.Info("submitted tx gossip incomplete", "tx_id", tx.TxID, "err", err)
	}
	n.Logger.Info("tx submitted", "tx_id", tx.TxID, "sender", sender, "recipient", recipient)
	return tx.TxID, nil
}

// Height of the local tip.
func (n *Node) Height() int64 {
	return n.blockStore.Height()
}

// GetBlock returns the committed block at height h.
func (n *Node) GetBlock(h int64) (*types.Block, error) {
	return n.blockStore.GetBlock(h)
}

// MempoolSnapshot lists pending transactions in insertion order.
func (n *Node) MempoolSnapshot() types.Txs {
	return n.mempool.Take(-1)
}

// Peers snapshots the live connections. Advertised heights come from
// PeerHeight.
func (n *Node) Peers() []p2p.PeerStatus {
	return n.sw.Peers()
}

// PeerHeight returns the height a validator last advertised, if any.
func (n *Node) PeerHeight(id string) (int64, bool) {
	if h, ok := n.peerHeights.Get(id).(int64); ok {
		return h, true
	}
	return 0, false
}

// Leader is the validator scheduled for the next height.
func (n *Node) Leader() string {
	return n.consensus.Leader(n.consensus.CurrentHeight() + 1)
}

// IsLeader reports whether the local node is that validator.
func (n *Node) IsLeader() bool {
	return n.consensus.IsLeader()
}

// SelfID is the canonical local identity.
func (n *Node) SelfID() string {
	return n.selfID
}

// Validators is the fixed validator set.
func (n *Node) Validators() *types.ValidatorSet {
	return n.vals
}

// EventSwitch exposes the event stream to external collaborators.
func (n *Node) EventSwitch() events.EventSwitch {
	return n.evsw
}

// Metrics exposes the metric registry.
func (n *Node) Metrics() *metric.MetricSet {
	return n.metrics
}
