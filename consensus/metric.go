package consensus

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newConsensusMetric() *consensusMetric {
	return &consensusMetric{}
}

type consensusMetric struct {
	mtx sync.RWMutex

	Height          int64 `json:"height"`
	LastProposed    int64 `json:"last_proposed_height"`
	LastAckCount    int   `json:"last_ack_count"`
	CommittedBlocks int64 `json:"committed_blocks"`
	CommittedTxs    int64 `json:"committed_txs"`
}

func (cm *consensusMetric) JSONString() string {
	cm.mtx.RLock()
	defer cm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(cm)
	return s
}

func (cm *consensusMetric) MarkPropose(height int64) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.LastProposed = height
}

func (cm *consensusMetric) MarkAck(height int64, count int) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.LastAckCount = count
}

func (cm *consensusMetric) MarkCommit(height int64, txs int) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.Height = height
	cm.CommittedBlocks++
	cm.CommittedTxs += int64(txs)
}
