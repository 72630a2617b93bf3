package store

import (
	"errors"

	"github.com/Asadullah378/MiniChain/types"
)

var (
	ErrBlockNotFound = errors.New("block not found")

	// ErrAlreadyAtHeight rejects re-adding the current tip.
	ErrAlreadyAtHeight = errors.New("already at height")

	ErrBadHeight       = errors.New("block height is not tip+1")
	ErrBadPrevHash     = errors.New("block prev_hash does not match tip")
	ErrWrongProposer   = errors.New("block proposer is not the scheduled leader")
	ErrGenesisMismatch = errors.New("persisted genesis does not match deterministic genesis")
)

// Store is the committed chain: an ordered block sequence rooted at the
// deterministic genesis, durable after every append.
type Store interface {
	// Height of the tip; genesis is 0.
	Height() int64

	// Tip returns the highest committed block.
	Tip() *types.Block

	// GetBlock returns the block at height h or ErrBlockNotFound.
	GetBlock(h int64) (*types.Block, error)

	// AddBlock validates b as the unique next block (height, parent hash,
	// scheduled proposer, hash recompute) and durably persists the chain
	// before returning nil. Rejection leaves memory and disk unchanged.
	AddBlock(b *types.Block) error

	// Headers returns the headers in [from, to], clamped to the chain.
	Headers(from, to int64) []types.Header

	// Blocks returns the blocks in [from, to], clamped to the chain.
	Blocks(from, to int64) []*types.Block

	// HasTx reports whether the tx id is in a committed block.
	HasTx(txID string) bool

	Close() error
}
