package consensus

import "errors"

var (
	// Proposal rejections. All are drop-and-log; the node never acks them.
	ErrWrongHeight       = errors.New("proposal height is not tip+1")
	ErrBadPrevHash       = errors.New("proposal prev_hash does not match tip")
	ErrWrongProposer     = errors.New("proposal is not from the scheduled leader")
	ErrDuplicateProposal = errors.New("proposal already cached for this height")
	ErrEquivocation      = errors.New("conflicting proposal from the scheduled leader")

	// Ack rejections.
	ErrNotProposer     = errors.New("ack received but local node is not the proposer")
	ErrUnknownVoter    = errors.New("ack voter is not a validator")
	ErrStaleAck        = errors.New("ack height does not match the pending proposal")
	ErrAckHashMismatch = errors.New("ack block_hash does not match the pending proposal")

	// ErrNeedSync flags a commit whose proposal was never seen; the sync
	// collaborator takes over.
	ErrNeedSync = errors.New("commit for unknown proposal, need sync")
)
