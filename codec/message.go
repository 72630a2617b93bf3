package codec

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Asadullah378/MiniChain/types"
)

// Wire message types. Every frame decodes to a map with a "type" field plus
// message-specific keys.
const (
	MsgTx         = "TX"
	MsgPropose    = "PROPOSE"
	MsgAck        = "ACK"
	MsgCommit     = "COMMIT"
	MsgHello      = "HELLO"
	MsgHeartbeat  = "HEARTBEAT"
	MsgGetHeaders = "GETHEADERS"
	MsgHeaders    = "HEADERS"
	MsgGetBlocks  = "GETBLOCKS"
	MsgBlock      = "BLOCK"
	MsgViewChange = "VIEWCHANGE"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrTypeMismatch       = errors.New("message type field does not match payload")
)

// Message is one decoded wire frame.
type Message interface {
	ValidateBasic() error
}

// messageMakers maps the type discriminant to an empty concrete message.
var messageMakers = map[string]func() Message{
	MsgTx:         func() Message { return &TxMessage{} },
	MsgPropose:    func() Message { return &ProposeMessage{} },
	MsgAck:        func() Message { return &AckMessage{} },
	MsgCommit:     func() Message { return &CommitMessage{} },
	MsgHello:      func() Message { return &HelloMessage{} },
	MsgHeartbeat:  func() Message { return &HeartbeatMessage{} },
	MsgGetHeaders: func() Message { return &GetHeadersMessage{} },
	MsgHeaders:    func() Message { return &HeadersMessage{} },
	MsgGetBlocks:  func() Message { return &GetBlocksMessage{} },
	MsgBlock:      func() Message { return &BlockMessage{} },
	MsgViewChange: func() Message { return &ViewChangeMessage{} },
}

// Encode serializes a message to its wire bytes (a flat msgpack map).
func Encode(msg Message) ([]byte, error) {
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

// Decode parses one frame. The type field is read first, then the payload is
// decoded into the matching variant and checked.
func Decode(bz []byte) (Message, error) {
	var probe struct {
		Type string `msgpack:"type"`
	}
	if err := msgpack.Unmarshal(bz, &probe); err != nil {
		return nil, fmt.Errorf("undecodable frame: %w", err)
	}
	mk, ok := messageMakers[probe.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, probe.Type)
	}
	msg := mk()
	if err := msgpack.Unmarshal(bz, msg); err != nil {
		return nil, fmt.Errorf("bad %s payload: %w", probe.Type, err)
	}
	if err := msg.ValidateBasic(); err != nil {
		return nil, err
	}
	return msg, nil
}

// MsgType returns the discriminant of an encoded-or-decoded message.
func MsgType(msg Message) string {
	switch msg.(type) {
	case *TxMessage:
		return MsgTx
	case *ProposeMessage:
		return MsgPropose
	case *AckMessage:
		return MsgAck
	case *CommitMessage:
		return MsgCommit
	case *HelloMessage:
		return MsgHello
	case *HeartbeatMessage:
		return MsgHeartbeat
	case *GetHeadersMessage:
		return MsgGetHeaders
	case *HeadersMessage:
		return MsgHeaders
	case *GetBlocksMessage:
		return MsgGetBlocks
	case *BlockMessage:
		return MsgBlock
	case *ViewChangeMessage:
		return MsgViewChange
	}
	return ""
}

// IsConsensus reports whether the message must never be dropped by a send
// queue (PROPOSE/ACK/COMMIT).
func IsConsensus(msg Message) bool {
	switch msg.(type) {
	case *ProposeMessage, *AckMessage, *CommitMessage:
		return true
	}
	return false
}

//---------------------------------------------------------------------------

// TxMessage gossips one transaction.
type TxMessage struct {
	Type      string  `msgpack:"type"`
	TxID      string  `msgpack:"tx_id"`
	Sender    string  `msgpack:"sender"`
	Recipient string  `msgpack:"recipient"`
	Amount    int64   `msgpack:"amount"`
	Timestamp float64 `msgpack:"timestamp"`
}

func NewTxMessage(tx *types.Tx) *TxMessage {
	return &TxMessage{
		Type:      MsgTx,
		TxID:      tx.TxID,
		Sender:    tx.Sender,
		Recipient: tx.Recipient,
		Amount:    tx.Amount,
		Timestamp: tx.Timestamp,
	}
}

// Tx rebuilds the transaction carried by the message.
func (m *TxMessage) Tx() *types.Tx {
	return &types.Tx{
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Amount:    m.Amount,
		Timestamp: m.Timestamp,
		TxID:      m.TxID,
	}
}

func (m *TxMessage) ValidateBasic() error {
	if m.Type != MsgTx {
		return ErrTypeMismatch
	}
	return m.Tx().ValidateBasic()
}

//---------------------------------------------------------------------------

// BlockPayload is the PROPOSE body: the full block, flattened. COMMIT and
// BLOCK reuse it so every block travels in one shape.
type BlockPayload struct {
	Height     int64       `msgpack:"height"`
	PrevHash   string      `msgpack:"prev_hash"`
	Timestamp  float64     `msgpack:"timestamp"`
	ProposerID string      `msgpack:"proposer_id"`
	BlockHash  string      `msgpack:"block_hash"`
	TxList     []*types.Tx `msgpack:"tx_list"`
}

func PayloadFromBlock(b *types.Block) BlockPayload {
	return BlockPayload{
		Height:     b.Height,
		PrevHash:   b.PrevHash,
		Timestamp:  b.Timestamp,
		ProposerID: b.ProposerID,
		BlockHash:  b.BlockHash,
		TxList:     b.Txs,
	}
}

// Block rebuilds the block carried by the payload.
func (p *BlockPayload) Block() *types.Block {
	txs := types.Txs(p.TxList)
	if txs == nil {
		txs = types.Txs{}
	}
	return &types.Block{
		Header: types.Header{
			Height:     p.Height,
			PrevHash:   p.PrevHash,
			Timestamp:  p.Timestamp,
			ProposerID: p.ProposerID,
			BlockHash:  p.BlockHash,
		},
		Txs: txs,
	}
}

func (p *BlockPayload) validateBasic() error {
	return p.Block().ValidateBasic()
}

// ProposeMessage broadcasts a candidate block from the height leader.
type ProposeMessage struct {
	Type string `msgpack:"type"`
	BlockPayload
}

func NewProposeMessage(b *types.Block) *ProposeMessage {
	return &ProposeMessage{Type: MsgPropose, BlockPayload: PayloadFromBlock(b)}
}

func (m *ProposeMessage) ValidateBasic() error {
	if m.Type != MsgPropose {
		return ErrTypeMismatch
	}
	return m.BlockPayload.validateBasic()
}

//---------------------------------------------------------------------------

// AckMessage is a follower vote for a proposal, sent to the proposer only.
// Signature is reserved; it is carried through but not verified.
type AckMessage struct {
	Type      string `msgpack:"type"`
	Height    int64  `msgpack:"height"`
	BlockHash string `msgpack:"block_hash"`
	VoterID   string `msgpack:"voter_id"`
	Signature []byte `msgpack:"signature"`
}

func NewAckMessage(height int64, blockHash, voterID string, sig []byte) *AckMessage {
	if sig == nil {
		sig = []byte{}
	}
	return &AckMessage{Type: MsgAck, Height: height, BlockHash: blockHash, VoterID: voterID, Signature: sig}
}

// SignBytes is the canonical preimage a voter signs.
func (m *AckMessage) SignBytes() []byte {
	return ackSignBytes(m.Height, m.BlockHash, m.VoterID)
}

func (m *AckMessage) ValidateBasic() error {
	if m.Type != MsgAck {
		return ErrTypeMismatch
	}
	if m.Height <= 0 {
		return errors.New("ack height must be positive")
	}
	if len(m.BlockHash) != types.HashSize {
		return errors.New("ack block_hash is not a 64-hex digest")
	}
	if m.VoterID == "" {
		return errors.New("ack voter_id must be non-empty")
	}
	return nil
}

// AckSignBytes exposes the vote preimage for signers.
func AckSignBytes(height int64, blockHash, voterID string) []byte {
	return ackSignBytes(height, blockHash, voterID)
}

func ackSignBytes(height int64, blockHash, voterID string) []byte {
	bz, _ := msgpack.Marshal([]interface{}{height, blockHash, voterID})
	return bz
}

//---------------------------------------------------------------------------

// CommitMessage finalizes a height; carries the full block so late followers
// can apply without the original PROPOSE.
type CommitMessage struct {
	Type      string       `msgpack:"type"`
	Height    int64        `msgpack:"height"`
	BlockHash string       `msgpack:"block_hash"`
	LeaderID  string       `msgpack:"leader_id"`
	Block     BlockPayload `msgpack:"block"`
}

func NewCommitMessage(b *types.Block, leaderID string) *CommitMessage {
	return &CommitMessage{
		Type:      MsgCommit,
		Height:    b.Height,
		BlockHash: b.BlockHash,
		LeaderID:  leaderID,
		Block:     PayloadFromBlock(b),
	}
}

func (m *CommitMessage) ValidateBasic() error {
	if m.Type != MsgCommit {
		return ErrTypeMismatch
	}
	if m.Height != m.Block.Height || m.BlockHash != m.Block.BlockHash {
		return errors.New("commit envelope does not match embedded block")
	}
	if m.LeaderID == "" {
		return errors.New("commit leader_id must be non-empty")
	}
	return m.Block.validateBasic()
}

//---------------------------------------------------------------------------

// HelloMessage is the first frame on every new connection; it binds the
// connection to a node identity.
type HelloMessage struct {
	Type          string `msgpack:"type"`
	NodeID        string `msgpack:"node_id"`
	ListeningPort int    `msgpack:"listening_port"`
	Version       string `msgpack:"version"`
}

func NewHelloMessage(nodeID string, port int, version string) *HelloMessage {
	return &HelloMessage{Type: MsgHello, NodeID: nodeID, ListeningPort: port, Version: version}
}

func (m *HelloMessage) ValidateBasic() error {
	if m.Type != MsgHello {
		return ErrTypeMismatch
	}
	if m.NodeID == "" {
		return errors.New("hello node_id must be non-empty")
	}
	if m.ListeningPort <= 0 || m.ListeningPort > 65535 {
		return errors.New("hello listening_port out of range")
	}
	return nil
}

// HeartbeatMessage advertises liveness and the local chain tip.
type HeartbeatMessage struct {
	Type          string `msgpack:"type"`
	NodeID        string `msgpack:"node_id"`
	Height        int64  `msgpack:"height"`
	LastBlockHash string `msgpack:"last_block_hash"`
}

func NewHeartbeatMessage(nodeID string, height int64, lastBlockHash string) *HeartbeatMessage {
	return &HeartbeatMessage{Type: MsgHeartbeat, NodeID: nodeID, Height: height, LastBlockHash: lastBlockHash}
}

func (m *HeartbeatMessage) ValidateBasic() error {
	if m.Type != MsgHeartbeat {
		return ErrTypeMismatch
	}
	if m.NodeID == "" {
		return errors.New("heartbeat node_id must be non-empty")
	}
	if m.Height < 0 {
		return errors.New("heartbeat height must be non-negative")
	}
	return nil
}

//---------------------------------------------------------------------------
// Catch-up sync messages.

// GetHeadersMessage asks a peer for its headers in [FromHeight, ToHeight].
type GetHeadersMessage struct {
	Type       string `msgpack:"type"`
	FromHeight int64  `msgpack:"from_height"`
	ToHeight   int64  `msgpack:"to_height"`
}

func NewGetHeadersMessage(from, to int64) *GetHeadersMessage {
	return &GetHeadersMessage{Type: MsgGetHeaders, FromHeight: from, ToHeight: to}
}

func (m *GetHeadersMessage) ValidateBasic() error {
	if m.Type != MsgGetHeaders {
		return ErrTypeMismatch
	}
	return validateRange(m.FromHeight, m.ToHeight)
}

// HeadersMessage answers GETHEADERS.
type HeadersMessage struct {
	Type    string         `msgpack:"type"`
	Headers []types.Header `msgpack:"headers"`
}

func NewHeadersMessage(headers []types.Header) *HeadersMessage {
	if headers == nil {
		headers = []types.Header{}
	}
	return &HeadersMessage{Type: MsgHeaders, Headers: headers}
}

func (m *HeadersMessage) ValidateBasic() error {
	if m.Type != MsgHeaders {
		return ErrTypeMismatch
	}
	return nil
}

// GetBlocksMessage asks a peer for full blocks in [FromHeight, ToHeight].
type GetBlocksMessage struct {
	Type       string `msgpack:"type"`
	FromHeight int64  `msgpack:"from_height"`
	ToHeight   int64  `msgpack:"to_height"`
}

func NewGetBlocksMessage(from, to int64) *GetBlocksMessage {
	return &GetBlocksMessage{Type: MsgGetBlocks, FromHeight: from, ToHeight: to}
}

func (m *GetBlocksMessage) ValidateBasic() error {
	if m.Type != MsgGetBlocks {
		return ErrTypeMismatch
	}
	return validateRange(m.FromHeight, m.ToHeight)
}

// BlockMessage answers GETBLOCKS with full blocks in ascending order.
type BlockMessage struct {
	Type   string         `msgpack:"type"`
	Blocks []BlockPayload `msgpack:"blocks"`
}

func NewBlockMessage(blocks []*types.Block) *BlockMessage {
	payloads := make([]BlockPayload, len(blocks))
	for i, b := range blocks {
		payloads[i] = PayloadFromBlock(b)
	}
	return &BlockMessage{Type: MsgBlock, Blocks: payloads}
}

func (m *BlockMessage) ValidateBasic() error {
	if m.Type != MsgBlock {
		return ErrTypeMismatch
	}
	for i := range m.Blocks {
		if err := m.Blocks[i].validateBasic(); err != nil {
			return fmt.Errorf("invalid block #%d: %w", i, err)
		}
	}
	return nil
}

// ViewChangeMessage is declared for the leader-timeout flow.
// TODO(viewchange): the handler protocol (new-leader recognition, whether the
// same tx set is re-proposed) is not settled; receivers only record it.
type ViewChangeMessage struct {
	Type        string `msgpack:"type"`
	Height      int64  `msgpack:"height"`
	NewLeaderID string `msgpack:"new_leader_id"`
	Reason      string `msgpack:"reason"`
}

func NewViewChangeMessage(height int64, newLeaderID, reason string) *ViewChangeMessage {
	return &ViewChangeMessage{Type: MsgViewChange, Height: height, NewLeaderID: newLeaderID, Reason: reason}
}

func (m *ViewChangeMessage) ValidateBasic() error {
	if m.Type != MsgViewChange {
		return ErrTypeMismatch
	}
	if m.Height <= 0 {
		return errors.New("viewchange height must be positive")
	}
	return nil
}

func validateRange(from, to int64) error {
	if from < 0 || to < from {
		return fmt.Errorf("invalid height range [%d,%d]", from, to)
	}
	return nil
}
