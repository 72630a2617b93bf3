package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tendermint/tendermint/crypto/tmhash"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// GenesisProposer is the proposer id of the height-0 block.
	GenesisProposer = "genesis"
)

// GenesisPrevHash is the parent hash of the genesis block.
var GenesisPrevHash = strings.Repeat("0", HashSize)

var (
	ErrBlockNoHash       = errors.New("block has no block_hash")
	ErrBlockBadPrevHash  = errors.New("block prev_hash is not a 64-hex digest")
	ErrBlockBadHeight    = errors.New("block height must be non-negative")
	ErrBlockHashMismatch = errors.New("block_hash does not recompute")
)

// Header carries the committed block fields other than the tx list.
type Header struct {
	Height     int64   `json:"height" msgpack:"height"`
	PrevHash   string  `json:"prev_hash" msgpack:"prev_hash"`
	Timestamp  float64 `json:"timestamp" msgpack:"timestamp"`
	ProposerID string  `json:"proposer_id" msgpack:"proposer_id"`
	BlockHash  string  `json:"block_hash" msgpack:"block_hash"`
}

// Block is the unit of the replicated ledger. Never mutated after commit.
type Block struct {
	Header
	Txs Txs `json:"tx_list" msgpack:"tx_list"`
}

// MakeBlock assembles a block and fills its hash.
func MakeBlock(height int64, prevHash string, timestamp float64, txs Txs, proposerID string) *Block {
	b := &Block{
		Header: Header{
			Height:     height,
			PrevHash:   prevHash,
			Timestamp:  timestamp,
			ProposerID: proposerID,
		},
		Txs: txs,
	}
	if b.Txs == nil {
		b.Txs = Txs{}
	}
	b.BlockHash = b.Hash()
	return b
}

// MakeGenesisBlock constructs the deterministic height-0 block. Every node
// with the same code produces the identical hash.
func MakeGenesisBlock() *Block {
	return MakeBlock(0, GenesisPrevHash, 0.0, Txs{}, GenesisProposer)
}

// HashPreimage is the canonical encoding hashed into block_hash: a msgpack
// array of (height, prev_hash, concatenated tx ids, timestamp, proposer_id).
func (b *Block) HashPreimage() []byte {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	_ = enc.EncodeArrayLen(5)
	_ = enc.EncodeInt(b.Height)
	_ = enc.EncodeString(b.PrevHash)
	_ = enc.EncodeString(b.Txs.ConcatIDs())
	_ = enc.EncodeFloat64(b.Timestamp)
	_ = enc.EncodeString(b.ProposerID)
	return buf.Bytes()
}

// Hash recomputes block_hash from the header and tx ids.
func (b *Block) Hash() string {
	return hex.EncodeToString(tmhash.Sum(b.HashPreimage()))
}

// ValidateBasic checks internal consistency: well-formed fields, every
// embedded tx recomputes its id, and the stored hash recomputes. Chain
// placement (parent hash, height, proposer) is the store's business.
func (b *Block) ValidateBasic() error {
	if b.Height < 0 {
		return ErrBlockBadHeight
	}
	if len(b.PrevHash) != HashSize || !isHex(b.PrevHash) {
		return ErrBlockBadPrevHash
	}
	if len(b.BlockHash) == 0 {
		return ErrBlockNoHash
	}
	for i, tx := range b.Txs {
		if err := tx.ValidateBasic(); err != nil {
			return fmt.Errorf("invalid tx #%d: %w", i, err)
		}
	}
	if b.Hash() != b.BlockHash {
		return ErrBlockHashMismatch
	}
	return nil
}

func (b *Block) String() string {
	if b == nil {
		return "Block{nil}"
	}
	return fmt.Sprintf("Block{h=%d txs=%d hash=%s prev=%s by=%s}",
		b.Height, len(b.Txs), shortHash(b.BlockHash), shortHash(b.PrevHash), b.ProposerID)
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
