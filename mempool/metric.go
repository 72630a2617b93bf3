package mempool

import (
	jsoniter "github.com/json-iterator/go"
	"sync"
)

func newMemMetric() *memMetric {
	return &memMetric{}
}

type memMetric struct {
	mtx        sync.RWMutex
	PendingTxs int `json:"pending_txs"` // txs waiting for inclusion
	SeenTxs    int `json:"seen_txs"`    // size of the seen history
}

func (mm *memMetric) JSONString() string {
	mm.mtx.RLock()
	defer mm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(mm)
	return s
}

func (mm *memMetric) MarkAdd(pending, seen int) {
	mm.mtx.Lock()
	defer mm.mtx.Unlock()
	mm.PendingTxs = pending
	mm.SeenTxs = seen
}
