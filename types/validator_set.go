// fork from github.com/tendermint/tendermint/types/validator_set.go,
// cut down to string identities and round-robin leader selection.
package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidatorSet is the fixed, sorted-deterministic set of identities allowed
// to propose and ack blocks. It is built once at startup from the self
// identity union the configured peers and never changes for the run.
//
// NOTE: Not goroutine-safe; the set is immutable after construction.
type ValidatorSet struct {
	// NOTE: persisted via reflect, must be exported.
	IDs []string `json:"ids"`
}

// NewValidatorSet canonicalizes, dedupes, and sorts the given raw identities.
// Two distinct hosts collapsing onto one canonical identity is a collision
// and refuses the set: consensus cannot tell the two nodes apart.
func NewValidatorSet(raw []string) (*ValidatorSet, error) {
	if len(raw) == 0 {
		return nil, errors.New("validator set is nil or empty")
	}
	seen := map[string]string{} // canonical -> raw first spelling
	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		id, err := CanonicalID(r)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[id]; ok {
			if !sameHost(hostOf(prev), hostOf(r)) {
				return nil, fmt.Errorf("validator identity collision: %q and %q both canonicalize to %q", prev, r, id)
			}
			continue // one host spelled twice
		}
		seen[id] = r
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &ValidatorSet{IDs: ids}, nil
}

// Size returns the number of validators.
func (vals *ValidatorSet) Size() int {
	return len(vals.IDs)
}

// Leader returns the validator scheduled to propose block height h.
func (vals *ValidatorSet) Leader(h int64) string {
	return vals.IDs[int(h%int64(len(vals.IDs)))]
}

// Contains reports whether id (raw or canonical) is in the set.
func (vals *ValidatorSet) Contains(id string) bool {
	return vals.Index(id) >= 0
}

// Index returns the position of id in the sorted set, or -1.
func (vals *ValidatorSet) Index(id string) int {
	for i, v := range vals.IDs {
		if MatchesID(v, id) {
			return i
		}
	}
	return -1
}

// Canonical maps a raw identity to its in-set canonical spelling.
func (vals *ValidatorSet) Canonical(id string) (string, bool) {
	if i := vals.Index(id); i >= 0 {
		return vals.IDs[i], true
	}
	return "", false
}

// MajorityQuorum is the default quorum: floor(n/2)+1.
func (vals *ValidatorSet) MajorityQuorum() int {
	return len(vals.IDs)/2 + 1
}

func (vals *ValidatorSet) String() string {
	return "ValidatorSet{" + strings.Join(vals.IDs, ",") + "}"
}

func hostOf(hostport string) string {
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
		return hostport[:i]
	}
	return hostport
}

// sameHost accepts two spellings of one host: byte-equal, or one being
// exactly the first label of the other (short vs. fully-qualified name).
func sameHost(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	return a == b || FirstLabel(a) == b || FirstLabel(b) == a
}
