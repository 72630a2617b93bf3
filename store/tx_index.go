package store

import (
	"fmt"
	"strconv"

	tmdb "github.com/tendermint/tm-db"

	"github.com/Asadullah378/MiniChain/types"
)

var txKeyPrefix = []byte("tx/")

// TxIndex maps every committed tx id to its block height. Admission consults
// it so a transaction already on chain is rejected even after a restart.
// Synced blocks are indexed through the same AddBlock path as live ones.
type TxIndex struct {
	db tmdb.DB
}

// NewTxIndex wraps a tm-db backend. Use tmdb.NewMemDB() for tests and a
// goleveldb instance for real nodes.
func NewTxIndex(db tmdb.DB) *TxIndex {
	return &TxIndex{db: db}
}

// NewTxIndexAt opens (or creates) a goleveldb-backed index under dir.
func NewTxIndexAt(dir string) (*TxIndex, error) {
	db, err := tmdb.NewGoLevelDB("tx_index", dir)
	if err != nil {
		return nil, fmt.Errorf("open tx index: %w", err)
	}
	return NewTxIndex(db), nil
}

// IndexBlock records every tx of b in one batch.
func (idx *TxIndex) IndexBlock(b *types.Block) error {
	if len(b.Txs) == 0 {
		return nil
	}
	batch := idx.db.NewBatch()
	defer batch.Close()

	height := []byte(strconv.FormatInt(b.Height, 10))
	for _, tx := range b.Txs {
		if err := batch.Set(txKey(tx.TxID), height); err != nil {
			return err
		}
	}
	return batch.Write()
}

// Reindex drops nothing and rewrites the index from the full chain; the chain
// file is authoritative after a restart.
func (idx *TxIndex) Reindex(blocks []*types.Block) error {
	for _, b := range blocks {
		if err := idx.IndexBlock(b); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether the tx id is committed.
func (idx *TxIndex) Has(txID string) (bool, error) {
	return idx.db.Has(txKey(txID))
}

// GetHeight returns the height containing txID, or ErrBlockNotFound.
func (idx *TxIndex) GetHeight(txID string) (int64, error) {
	bz, err := idx.db.Get(txKey(txID))
	if err != nil {
		return 0, err
	}
	if bz == nil {
		return 0, ErrBlockNotFound
	}
	return strconv.ParseInt(string(bz), 10, 64)
}

func (idx *TxIndex) Close() error {
	return idx.db.Close()
}

func txKey(txID string) []byte {
	return append(txKeyPrefix, txID...)
}
