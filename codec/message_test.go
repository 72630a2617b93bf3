package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Asadullah378/MiniChain/types"
)

func testBlock(t *testing.T) *types.Block {
	t.Helper()
	genesis := types.MakeGenesisBlock()
	txs := types.Txs{
		types.NewTx("alice", "bob", 10, 1.0),
		types.NewTx("bob", "carol", 5, 2.0),
	}
	return types.MakeBlock(1, genesis.BlockHash, 1.5, txs, "b:48001")
}

func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()
	bz, err := Encode(msg)
	require.NoError(t, err)
	decoded, err := Decode(bz)
	require.NoError(t, err)
	return decoded
}

func TestTxMessageRoundTrip(t *testing.T) {
	tx := types.NewTx("alice", "bob", 10, 1.0)
	decoded := roundTrip(t, NewTxMessage(tx))

	got, ok := decoded.(*TxMessage)
	require.True(t, ok)
	assert.Equal(t, tx, got.Tx())
	assert.Equal(t, tx.TxID, got.Tx().Hash(), "decoded tx must still recompute its id")
}

func TestProposeMessageRoundTrip(t *testing.T) {
	block := testBlock(t)
	decoded := roundTrip(t, NewProposeMessage(block))

	got, ok := decoded.(*ProposeMessage)
	require.True(t, ok)
	require.Equal(t, block, got.Block())
	assert.Equal(t, block.BlockHash, got.Block().Hash(), "decoded block must still recompute its hash")
}

func TestAckMessageRoundTrip(t *testing.T) {
	ack := NewAckMessage(3, types.MakeGenesisBlock().BlockHash, "a:48000", nil)
	decoded := roundTrip(t, ack)

	got, ok := decoded.(*AckMessage)
	require.True(t, ok)
	assert.Equal(t, ack.Height, got.Height)
	assert.Equal(t, ack.VoterID, got.VoterID)
	assert.Empty(t, got.Signature, "reserved signature travels empty")
}

func TestCommitMessageRoundTrip(t *testing.T) {
	block := testBlock(t)
	decoded := roundTrip(t, NewCommitMessage(block, "b:48001"))

	got, ok := decoded.(*CommitMessage)
	require.True(t, ok)
	assert.Equal(t, block, got.Block.Block())
	assert.Equal(t, "b:48001", got.LeaderID)
}

func TestCommitMessageEnvelopeMismatch(t *testing.T) {
	block := testBlock(t)
	msg := NewCommitMessage(block, "b:48001")
	msg.Height = block.Height + 1

	_, err := Encode(msg)
	assert.Error(t, err)
}

func TestControlMessagesRoundTrip(t *testing.T) {
	hello := roundTrip(t, NewHelloMessage("a:48000", 48000, "0.1.0")).(*HelloMessage)
	assert.Equal(t, "a:48000", hello.NodeID)
	assert.Equal(t, 48000, hello.ListeningPort)

	hb := roundTrip(t, NewHeartbeatMessage("a:48000", 7, types.MakeGenesisBlock().BlockHash)).(*HeartbeatMessage)
	assert.EqualValues(t, 7, hb.Height)

	gh := roundTrip(t, NewGetHeadersMessage(1, 100)).(*GetHeadersMessage)
	assert.EqualValues(t, 100, gh.ToHeight)

	gb := roundTrip(t, NewGetBlocksMessage(2, 5)).(*GetBlocksMessage)
	assert.EqualValues(t, 2, gb.FromHeight)

	vc := roundTrip(t, NewViewChangeMessage(4, "c:48002", "timeout")).(*ViewChangeMessage)
	assert.Equal(t, "c:48002", vc.NewLeaderID)
}

func TestSyncMessagesRoundTrip(t *testing.T) {
	block := testBlock(t)

	headers := roundTrip(t, NewHeadersMessage([]types.Header{block.Header})).(*HeadersMessage)
	require.Len(t, headers.Headers, 1)
	assert.Equal(t, block.Header, headers.Headers[0])

	blocks := roundTrip(t, NewBlockMessage([]*types.Block{block})).(*BlockMessage)
	require.Len(t, blocks.Blocks, 1)
	assert.Equal(t, block, blocks.Blocks[0].Block())
}

func TestDecodeUnknownType(t *testing.T) {
	msg := NewHelloMessage("a:48000", 48000, "0.1.0")
	msg.Type = "GOSSIPGIRL"
	bz, err := Encode(msg)
	require.Error(t, err, "encode must refuse a mismatched discriminant")

	// Hand-craft the frame instead, bypassing Encode's check.
	raw := &HelloMessage{Type: "GOSSIPGIRL", NodeID: "a:48000", ListeningPort: 48000}
	bz, err = msgpack.Marshal(raw)
	require.NoError(t, err)
	_, err = Decode(bz)
	require.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = Decode([]byte{0xc0})
	assert.Error(t, err, "non-map frames must not decode")
}

func TestIsConsensus(t *testing.T) {
	block := testBlock(t)

	assert.True(t, IsConsensus(NewProposeMessage(block)))
	assert.True(t, IsConsensus(NewAckMessage(1, block.BlockHash, "a:48000", nil)))
	assert.True(t, IsConsensus(NewCommitMessage(block, "b:48001")))
	assert.False(t, IsConsensus(NewTxMessage(types.NewTx("alice", "bob", 1, 1.0))))
	assert.False(t, IsConsensus(NewHeartbeatMessage("a:48000", 0, "")))
}
