package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tendermint/tendermint/libs/log"
	tmos "github.com/tendermint/tendermint/libs/os"
	tmsync "github.com/tendermint/tendermint/libs/sync"
	"github.com/tendermint/tendermint/libs/tempfile"

	"github.com/Asadullah378/MiniChain/types"
)

// chainFile is the persisted chain document: {"blocks": [Block...]}.
type chainFile struct {
	Blocks []*types.Block `json:"blocks"`
}

// ChainStore keeps the committed chain in memory and mirrors every append to
// disk with a temp-file + fsync + atomic-rename write, so a crash at any
// point leaves either the old or the new chain, never a torn one.
type ChainStore struct {
	mtx  tmsync.RWMutex
	path string

	vals   *types.ValidatorSet
	blocks []*types.Block

	txIndex *TxIndex

	logger log.Logger
}

// LoadOrInit opens the chain at path. An existing file is re-validated block
// by block with the same checks as AddBlock; a genesis disagreement refuses
// to start. A missing file initializes a fresh chain holding genesis and
// persists it.
func LoadOrInit(path string, vals *types.ValidatorSet, txIndex *TxIndex, logger log.Logger) (*ChainStore, error) {
	cs := &ChainStore{
		path:    path,
		vals:    vals,
		txIndex: txIndex,
		logger:  logger,
	}

	if tmos.FileExists(path) {
		if err := cs.load(); err != nil {
			return nil, err
		}
		cs.logger.Info("loaded chain", "path", path, "height", cs.Height())
		return cs, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	cs.blocks = []*types.Block{types.MakeGenesisBlock()}
	if err := cs.persist(); err != nil {
		return nil, err
	}
	cs.logger.Info("initialized chain", "path", path, "genesis", cs.blocks[0].BlockHash)
	return cs, nil
}

func (cs *ChainStore) load() error {
	bz, err := os.ReadFile(cs.path)
	if err != nil {
		return err
	}
	var doc chainFile
	if err := json.Unmarshal(bz, &doc); err != nil {
		return fmt.Errorf("corrupt chain file %s: %w", cs.path, err)
	}
	if len(doc.Blocks) == 0 {
		return fmt.Errorf("corrupt chain file %s: no blocks", cs.path)
	}

	genesis := types.MakeGenesisBlock()
	if doc.Blocks[0].BlockHash != genesis.BlockHash {
		return fmt.Errorf("%w: have %s, want %s", ErrGenesisMismatch, doc.Blocks[0].BlockHash, genesis.BlockHash)
	}

	cs.blocks = doc.Blocks[:1]
	for _, b := range doc.Blocks[1:] {
		if err := cs.validateNext(b); err != nil {
			return fmt.Errorf("invalid persisted block at height %d: %w", b.Height, err)
		}
		cs.blocks = append(cs.blocks, b)
	}

	if cs.txIndex != nil {
		// The index is rebuilt from scratch; the chain file is the truth.
		if err := cs.txIndex.Reindex(cs.blocks); err != nil {
			return err
		}
	}
	return nil
}

func (cs *ChainStore) persist() error {
	bz, err := json.Marshal(chainFile{Blocks: cs.blocks})
	if err != nil {
		return err
	}
	return tempfile.WriteFileAtomic(cs.path, bz, 0o644)
}

// validateNext checks b against the current tip: consecutive height, linked
// parent hash, scheduled round-robin proposer, and a recomputing hash.
// Callers hold the lock.
func (cs *ChainStore) validateNext(b *types.Block) error {
	tip := cs.blocks[len(cs.blocks)-1]
	switch {
	case b.Height == tip.Height:
		return fmt.Errorf("%w %d", ErrAlreadyAtHeight, tip.Height)
	case b.Height != tip.Height+1:
		return fmt.Errorf("%w: have %d, tip %d", ErrBadHeight, b.Height, tip.Height)
	case b.PrevHash != tip.BlockHash:
		return fmt.Errorf("%w: have %s, want %s", ErrBadPrevHash, b.PrevHash, tip.BlockHash)
	}
	if leader := cs.vals.Leader(b.Height); !types.MatchesID(leader, b.ProposerID) {
		return fmt.Errorf("%w: have %s, want %s", ErrWrongProposer, b.ProposerID, leader)
	}
	return b.ValidateBasic()
}

func (cs *ChainStore) Height() int64 {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	return cs.blocks[len(cs.blocks)-1].Height
}

func (cs *ChainStore) Tip() *types.Block {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	return cs.blocks[len(cs.blocks)-1]
}

func (cs *ChainStore) GetBlock(h int64) (*types.Block, error) {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	if h < 0 || h >= int64(len(cs.blocks)) {
		return nil, ErrBlockNotFound
	}
	return cs.blocks[h], nil
}

func (cs *ChainStore) AddBlock(b *types.Block) error {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	if err := cs.validateNext(b); err != nil {
		return err
	}

	cs.blocks = append(cs.blocks, b)
	if err := cs.persist(); err != nil {
		// Roll the append back; disk still holds the previous chain.
		cs.blocks = cs.blocks[:len(cs.blocks)-1]
		return fmt.Errorf("persist chain: %w", err)
	}

	if cs.txIndex != nil {
		if err := cs.txIndex.IndexBlock(b); err != nil {
			cs.logger.Error("tx index write failed", "height", b.Height, "err", err)
		}
	}
	return nil
}

func (cs *ChainStore) Headers(from, to int64) []types.Header {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	from, to = cs.clamp(from, to)
	headers := make([]types.Header, 0, to-from+1)
	for h := from; h <= to; h++ {
		headers = append(headers, cs.blocks[h].Header)
	}
	return headers
}

func (cs *ChainStore) Blocks(from, to int64) []*types.Block {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	from, to = cs.clamp(from, to)
	blocks := make([]*types.Block, 0, to-from+1)
	for h := from; h <= to; h++ {
		blocks = append(blocks, cs.blocks[h])
	}
	return blocks
}

// clamp bounds [from, to] to the chain so responses are never out of range.
// A range starting above the tip is empty; a reversed range collapses to the
// single block at from. Callers hold the lock.
func (cs *ChainStore) clamp(from, to int64) (int64, int64) {
	tip := int64(len(cs.blocks)) - 1
	if from < 0 {
		from = 0
	}
	if to > tip {
		to = tip
	}
	if to < from {
		to = from
		if from > tip {
			from, to = 0, -1 // empty
		}
	}
	return from, to
}

func (cs *ChainStore) HasTx(txID string) bool {
	if cs.txIndex == nil {
		return false
	}
	has, err := cs.txIndex.Has(txID)
	if err != nil {
		cs.logger.Error("tx index read failed", "tx_id", txID, "err", err)
		return false
	}
	return has
}

func (cs *ChainStore) Close() error {
	if cs.txIndex != nil {
		return cs.txIndex.Close()
	}
	return nil
}
