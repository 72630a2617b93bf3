package mempool

import "errors"

var (
	// ErrTxSeen is returned to the client if we saw the tx id earlier.
	ErrTxSeen = errors.New("tx id already seen")
	// ErrMempoolFull is returned when the pending set is at capacity.
	ErrMempoolFull = errors.New("mempool is full")
)
