package mempool

import (
	"github.com/tendermint/tendermint/libs/clist"
	"github.com/tendermint/tendermint/libs/log"
	tmsync "github.com/tendermint/tendermint/libs/sync"

	"github.com/Asadullah378/MiniChain/config"
	"github.com/Asadullah378/MiniChain/types"
)

// ListMempool keeps pending transactions in a concurrent linked list for
// ordered reaping, a map for O(1) dedup/removal, and an unbounded seen set.
// One mutex protects all three; no operation blocks on I/O.
type ListMempool struct {
	config *config.MempoolConfig

	mtx    tmsync.Mutex
	txs    *clist.CList              // pending txs, insertion order
	txsMap map[string]*clist.CElement // tx_id -> element of txs
	seen   map[string]struct{}       // every tx_id ever admitted or observed committed

	logger log.Logger
	metric *memMetric
}

type ListMempoolOption func(*ListMempool)

func NewListMempool(cfg *config.MempoolConfig, options ...ListMempoolOption) *ListMempool {
	mem := &ListMempool{
		config: cfg,
		txs:    clist.New(),
		txsMap: make(map[string]*clist.CElement),
		seen:   make(map[string]struct{}),
		logger: log.NewNopLogger(),
		metric: newMemMetric(),
	}
	for _, option := range options {
		option(mem)
	}
	return mem
}

func (mem *ListMempool) SetLogger(logger log.Logger) {
	mem.logger = logger
}

// Metric exposes the mempool metric item for registration.
func (mem *ListMempool) Metric() *memMetric {
	return mem.metric
}

func (mem *ListMempool) Add(tx *types.Tx) error {
	if err := tx.ValidateBasic(); err != nil {
		return err
	}

	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	if _, ok := mem.seen[tx.TxID]; ok {
		return ErrTxSeen
	}
	if mem.config.MaxSize > 0 && mem.txs.Len() >= mem.config.MaxSize {
		return ErrMempoolFull
	}

	e := mem.txs.PushBack(tx)
	mem.txsMap[tx.TxID] = e
	mem.seen[tx.TxID] = struct{}{}

	mem.metric.MarkAdd(mem.txs.Len(), len(mem.seen))
	return nil
}

func (mem *ListMempool) Take(n int) types.Txs {
	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	if n < 0 || n > mem.txs.Len() {
		n = mem.txs.Len()
	}
	txs := make(types.Txs, 0, n)
	for e := mem.txs.Front(); e != nil && len(txs) < n; e = e.Next() {
		txs = append(txs, e.Value.(*types.Tx))
	}
	return txs
}

func (mem *ListMempool) RemoveMany(txIDs []string) {
	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	for _, id := range txIDs {
		if e, ok := mem.txsMap[id]; ok {
			mem.txs.Remove(e)
			e.DetachPrev()
			delete(mem.txsMap, id)
		}
	}
	mem.metric.MarkAdd(mem.txs.Len(), len(mem.seen))
}

func (mem *ListMempool) MarkSeen(txIDs []string) {
	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	for _, id := range txIDs {
		mem.seen[id] = struct{}{}
	}
	mem.metric.MarkAdd(mem.txs.Len(), len(mem.seen))
}

func (mem *ListMempool) HasSeen(txID string) bool {
	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	_, ok := mem.seen[txID]
	return ok
}

func (mem *ListMempool) Size() int {
	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	return mem.txs.Len()
}

func (mem *ListMempool) Flush() {
	mem.mtx.Lock()
	defer mem.mtx.Unlock()

	for id, e := range mem.txsMap {
		mem.txs.Remove(e)
		e.DetachPrev()
		delete(mem.txsMap, id)
	}
	mem.metric.MarkAdd(0, len(mem.seen))
}
