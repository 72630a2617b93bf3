package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/tendermint/tendermint/crypto/tmhash"
	"github.com/vmihailenco/msgpack/v5"
)

// HashSize is the length of a hex-encoded sha256 digest.
const HashSize = 2 * tmhash.Size

var (
	ErrTxEmptyParty   = errors.New("tx sender and recipient must be non-empty")
	ErrTxBadAmount    = errors.New("tx amount must be non-negative")
	ErrTxBadTimestamp = errors.New("tx timestamp must be non-negative")
)

// Tx is a value transfer; it carries no signature. Amount is counted in integer subunits so the
// tx_id preimage is identical on every platform.
type Tx struct {
	Sender    string  `json:"sender" msgpack:"sender"`
	Recipient string  `json:"recipient" msgpack:"recipient"`
	Amount    int64   `json:"amount" msgpack:"amount"`
	Timestamp float64 `json:"timestamp" msgpack:"timestamp"`
	TxID      string  `json:"tx_id" msgpack:"tx_id"`
}

// NewTx builds a transaction and fills its id.
func NewTx(sender, recipient string, amount int64, timestamp float64) *Tx {
	tx := &Tx{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Timestamp: timestamp,
	}
	tx.TxID = tx.Hash()
	return tx
}

// SignBytes is the canonical preimage of the tx id: a msgpack array of the
// four body fields, each written with its explicit wire type.
func (tx *Tx) SignBytes() []byte {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	// Writes to a bytes.Buffer cannot fail.
	_ = enc.EncodeArrayLen(4)
	_ = enc.EncodeString(tx.Sender)
	_ = enc.EncodeString(tx.Recipient)
	_ = enc.EncodeInt(tx.Amount)
	_ = enc.EncodeFloat64(tx.Timestamp)
	return buf.Bytes()
}

// Hash recomputes the tx id: lowercase hex sha256 over SignBytes.
func (tx *Tx) Hash() string {
	return hex.EncodeToString(tmhash.Sum(tx.SignBytes()))
}

// ValidateBasic checks the structural rules and that the stored id recomputes.
func (tx *Tx) ValidateBasic() error {
	if tx.Sender == "" || tx.Recipient == "" {
		return ErrTxEmptyParty
	}
	if tx.Amount < 0 {
		return ErrTxBadAmount
	}
	if tx.Timestamp < 0 {
		return ErrTxBadTimestamp
	}
	if want := tx.Hash(); tx.TxID != want {
		return fmt.Errorf("tx_id mismatch: have %s, want %s", tx.TxID, want)
	}
	return nil
}

func (tx *Tx) String() string {
	return fmt.Sprintf("Tx{%s->%s %d @%v %s}", tx.Sender, tx.Recipient, tx.Amount, tx.Timestamp, shortHash(tx.TxID))
}

// Txs is an ordered transaction list.
type Txs []*Tx

// IDs returns the tx ids in list order.
func (txs Txs) IDs() []string {
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.TxID
	}
	return ids
}

// ConcatIDs joins the tx ids in order, the form used in the block hash
// preimage.
func (txs Txs) ConcatIDs() string {
	var b bytes.Buffer
	for _, tx := range txs {
		b.WriteString(tx.TxID)
	}
	return b.String()
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
