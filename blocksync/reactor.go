package blocksync

import (
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"

	"github.com/Asadullah378/MiniChain/codec"
	"github.com/Asadullah378/MiniChain/config"
	"github.com/Asadullah378/MiniChain/store"
	"github.com/Asadullah378/MiniChain/types"
)

// Sender is the slice of the peer registry the reactor needs.
type Sender interface {
	Broadcast(msg codec.Message) error
	SendTo(identity string, msg codec.Message) error
}

// applyFunc commits one synced block. The orchestrator owns it so every
// block, live or synced, goes through the same application path.
type applyFunc func(b *types.Block) error

// Reactor heals nodes that fell behind with pull-based catch-up: ask peers
// for headers, and when someone is taller, pull the missing blocks in batches
// and apply them in order. It is driven entirely by the orchestrator's
// dispatcher, one message at a time.
type Reactor struct {
	service.BaseService

	cfg    *config.SyncConfig
	store  store.Store
	sender Sender
	apply  applyFunc
}

func NewReactor(cfg *config.SyncConfig, st store.Store, sender Sender, apply applyFunc) *Reactor {
	r := &Reactor{
		cfg:    cfg,
		store:  st,
		sender: sender,
		apply:  apply,
	}
	r.BaseService = *service.NewBaseService(log.NewNopLogger(), "Blocksync", r)
	return r
}

func (r *Reactor) OnStart() error { return nil }
func (r *Reactor) OnStop()        {}

// RequestSync asks for headers above the local tip: from one peer when the
// gap was attributed, from everyone otherwise.
func (r *Reactor) RequestSync(peer string) {
	tip := r.store.Height()
	req := codec.NewGetHeadersMessage(tip, tip+r.cfg.BatchSize)
	var err error
	if peer == "" {
		err = r.sender.Broadcast(req)
	} else {
		err = r.sender.SendTo(peer, req)
	}
	if err != nil {
		r.Logger.Info("sync request not delivered", "peer", peer, "err", err)
		return
	}
	r.Logger.Info("sync requested", "peer", peer, "from", tip)
}

// HandleGetHeaders serves our headers, clamped to the chain and the batch
// size.
func (r *Reactor) HandleGetHeaders(m *codec.GetHeadersMessage, from string) {
	to := m.ToHeight
	if to > m.FromHeight+r.cfg.BatchSize {
		to = m.FromHeight + r.cfg.BatchSize
	}
	headers := r.store.Headers(m.FromHeight, to)
	if err := r.sender.SendTo(from, codec.NewHeadersMessage(headers)); err != nil {
		r.Logger.Info("headers response not delivered", "peer", from, "err", err)
	}
}

// HandleHeaders pulls full blocks when the remote chain is taller.
func (r *Reactor) HandleHeaders(m *codec.HeadersMessage, from string) {
	remote := int64(-1)
	for _, h := range m.Headers {
		if h.Height > remote {
			remote = h.Height
		}
	}
	tip := r.store.Height()
	if remote <= tip {
		return
	}
	to := remote
	if to > tip+r.cfg.BatchSize {
		to = tip + r.cfg.BatchSize
	}
	r.Logger.Info("peer is ahead, pulling blocks", "peer", from, "remote", remote, "tip", tip)
	if err := r.sender.SendTo(from, codec.NewGetBlocksMessage(tip+1, to)); err != nil {
		r.Logger.Info("block request not delivered", "peer", from, "err", err)
	}
}

// HandleGetBlocks serves full blocks, clamped like headers.
func (r *Reactor) HandleGetBlocks(m *codec.GetBlocksMessage, from string) {
	to := m.ToHeight
	if to > m.FromHeight+r.cfg.BatchSize {
		to = m.FromHeight + r.cfg.BatchSize
	}
	blocks := r.store.Blocks(m.FromHeight, to)
	if err := r.sender.SendTo(from, codec.NewBlockMessage(blocks)); err != nil {
		r.Logger.Info("blocks response not delivered", "peer", from, "err", err)
	}
}

// HandleBlocks applies pulled blocks strictly in order through the shared
// application path; each one passes the same validation as a live commit.
// A full batch suggests there is more, so the pull continues.
func (r *Reactor) HandleBlocks(m *codec.BlockMessage, from string) {
	applied := 0
	for i := range m.Blocks {
		b := m.Blocks[i].Block()
		if b.Height != r.store.Height()+1 {
			continue // stale or duplicate delivery
		}
		if err := r.apply(b); err != nil {
			r.Logger.Error("synced block rejected", "height", b.Height, "block_hash", b.BlockHash, "err", err)
			return
		}
		applied++
	}
	if applied == 0 {
		return
	}
	r.Logger.Info("sync applied", "blocks", applied, "new_height", r.store.Height())
	if int64(applied) >= r.cfg.BatchSize {
		r.RequestSync(from)
	}
}
