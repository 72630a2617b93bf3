package types

import "github.com/tendermint/tendermint/crypto"

// PrivValidator signs consensus messages on behalf of the local validator.
// Signatures are carried on the wire but not yet verified by peers.
type PrivValidator interface {
	GetPubKey() (crypto.PubKey, error)

	SignBytes(msg []byte) ([]byte, error)
}
