package mempool

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Asadullah378/MiniChain/config"
	"github.com/Asadullah378/MiniChain/types"
)

func newTestMempool() *ListMempool {
	return NewListMempool(config.DefaultMempoolConfig())
}

func makeTxs(n int) types.Txs {
	txs := make(types.Txs, n)
	for i := 0; i < n; i++ {
		txs[i] = types.NewTx(fmt.Sprintf("sender%d", i), "bob", int64(i), float64(i)+0.5)
	}
	return txs
}

func TestAddAndTakeKeepInsertionOrder(t *testing.T) {
	mem := newTestMempool()
	txs := makeTxs(5)
	for _, tx := range txs {
		require.NoError(t, mem.Add(tx))
	}

	assert.Equal(t, 5, mem.Size())
	assert.Equal(t, txs[:3], mem.Take(3))
	assert.Equal(t, txs, mem.Take(-1), "negative n takes everything")
	assert.Equal(t, 5, mem.Size(), "Take must not remove")
}

func TestAddDuplicateRejected(t *testing.T) {
	mem := newTestMempool()
	tx := types.NewTx("alice", "bob", 10, 1.0)

	require.NoError(t, mem.Add(tx))
	err := mem.Add(tx)
	assert.ErrorIs(t, err, ErrTxSeen)
	assert.Equal(t, 1, mem.Size(), "mempool size after both calls must be 1")
}

func TestAddStructurallyInvalidRejected(t *testing.T) {
	mem := newTestMempool()

	assert.Error(t, mem.Add(types.NewTx("", "bob", 10, 1.0)))
	assert.Error(t, mem.Add(types.NewTx("alice", "bob", -1, 1.0)))
	assert.Equal(t, 0, mem.Size())
}

func TestRemoveManyKeepsSeen(t *testing.T) {
	mem := newTestMempool()
	txs := makeTxs(3)
	for _, tx := range txs {
		require.NoError(t, mem.Add(tx))
	}

	mem.RemoveMany([]string{txs[0].TxID, txs[2].TxID, "unknown-id"})

	assert.Equal(t, 1, mem.Size())
	assert.Equal(t, types.Txs{txs[1]}, mem.Take(-1))
	assert.True(t, mem.HasSeen(txs[0].TxID), "removal must not forget")
	assert.ErrorIs(t, mem.Add(txs[0]), ErrTxSeen, "a committed tx can never be re-admitted")
}

func TestMarkSeenBlocksAdmission(t *testing.T) {
	mem := newTestMempool()
	tx := types.NewTx("alice", "bob", 10, 1.0)

	mem.MarkSeen([]string{tx.TxID})
	assert.True(t, mem.HasSeen(tx.TxID))
	assert.ErrorIs(t, mem.Add(tx), ErrTxSeen)
	assert.Equal(t, 0, mem.Size())
}

func TestFlushKeepsSeen(t *testing.T) {
	mem := newTestMempool()
	txs := makeTxs(4)
	for _, tx := range txs {
		require.NoError(t, mem.Add(tx))
	}

	mem.Flush()

	assert.Equal(t, 0, mem.Size())
	assert.True(t, mem.HasSeen(txs[0].TxID))
}

func TestMempoolFull(t *testing.T) {
	mem := NewListMempool(&config.MempoolConfig{MaxSize: 2})
	txs := makeTxs(3)

	require.NoError(t, mem.Add(txs[0]))
	require.NoError(t, mem.Add(txs[1]))
	assert.ErrorIs(t, mem.Add(txs[2]), ErrMempoolFull)
}
