package types

import (
	tmsync "github.com/tendermint/tendermint/libs/sync"
)

// HeightVoteSet tallies distinct ack voters per height. Duplicate votes from
// one validator count once; per-height sets are garbage-collected on commit.
type HeightVoteSet struct {
	mtx   tmsync.Mutex
	votes map[int64]map[string][]byte // height -> voter id -> carried signature
}

func NewHeightVoteSet() *HeightVoteSet {
	return &HeightVoteSet{
		votes: make(map[int64]map[string][]byte),
	}
}

// AddVote records a vote; it reports false if the voter already voted at
// that height.
func (hvs *HeightVoteSet) AddVote(height int64, voter string, sig []byte) bool {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()

	set, ok := hvs.votes[height]
	if !ok {
		set = make(map[string][]byte)
		hvs.votes[height] = set
	}
	if _, dup := set[voter]; dup {
		return false
	}
	set[voter] = sig
	return true
}

// Count returns the number of distinct voters at height.
func (hvs *HeightVoteSet) Count(height int64) int {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()
	return len(hvs.votes[height])
}

// Voters lists the distinct voter ids at height.
func (hvs *HeightVoteSet) Voters(height int64) []string {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()
	voters := make([]string, 0, len(hvs.votes[height]))
	for v := range hvs.votes[height] {
		voters = append(voters, v)
	}
	return voters
}

// Clear drops the vote set at height.
func (hvs *HeightVoteSet) Clear(height int64) {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()
	delete(hvs.votes, height)
}
