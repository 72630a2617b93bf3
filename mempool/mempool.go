package mempool

import (
	"github.com/Asadullah378/MiniChain/types"
)

// Mempool holds valid, uncommitted transactions awaiting inclusion, plus the
// full "seen" history used to suppress gossip echoes.
type Mempool interface {
	// Add admits a new transaction. It rejects txs whose id was ever seen
	// (pending, committed, or observed during sync) and txs failing
	// structural validation.
	Add(tx *types.Tx) error

	// Take returns up to n transactions in insertion order without removing
	// them; the leader packs proposals from it. Removal happens on commit.
	Take(n int) types.Txs

	// RemoveMany deletes the given tx ids from the pending set. Unknown ids
	// are a silent no-op. The ids stay in the seen history.
	RemoveMany(txIDs []string)

	// MarkSeen records ids observed in committed blocks without admitting
	// them, so sync-applied history suppresses re-admission.
	MarkSeen(txIDs []string)

	// HasSeen reports whether the id was ever admitted or observed committed.
	HasSeen(txID string) bool

	// Size returns the number of pending transactions.
	Size() int

	// Flush clears the pending set (operator clear). The seen history stays.
	Flush()
}
