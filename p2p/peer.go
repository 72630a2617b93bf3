package p2p

import (
	"errors"
	"net"

	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	tmsync "github.com/tendermint/tendermint/libs/sync"
)

var (
	// ErrSendQueueFull surfaces backpressure for consensus traffic; those
	// frames are never silently dropped.
	ErrSendQueueFull = errors.New("peer send queue is full")

	ErrPeerNotRunning = errors.New("peer is not running")
)

// receiveFunc delivers one decoded-by-nobody raw frame upward. It must not
// block for long; the dispatcher owns serialization.
type receiveFunc func(peerKey string, msgBytes []byte)

// errorFunc reports a dead connection so the registry can close and, for
// outbound peers, schedule a reconnect.
type errorFunc func(p *Peer, err error)

// Peer owns one connection. Only its send routine touches the socket's write
// side and only its receive routine the read side. Outbound frames go through
// two bounded queues: consensus frames fail loudly when full, gossip frames
// drop oldest-first.
type Peer struct {
	service.BaseService

	conn net.Conn

	// key is the registry key, remote "host:port".
	key      string
	outbound bool

	mtx    tmsync.RWMutex
	nodeID string // validator identity learned from HELLO, "" until bound

	consensusQueue chan []byte
	gossipQueue    chan []byte

	onReceive receiveFunc
	onError   errorFunc
}

func newPeer(conn net.Conn, key string, outbound bool, queueCap int, onReceive receiveFunc, onError errorFunc) *Peer {
	p := &Peer{
		conn:           conn,
		key:            key,
		outbound:       outbound,
		consensusQueue: make(chan []byte, queueCap),
		gossipQueue:    make(chan []byte, queueCap),
		onReceive:      onReceive,
		onError:        onError,
	}
	p.BaseService = *service.NewBaseService(log.NewNopLogger(), "Peer", p)
	return p
}

// Key is the registry key ("host:port" of the remote end).
func (p *Peer) Key() string { return p.key }

// Outbound reports whether we dialed this connection.
func (p *Peer) Outbound() bool { return p.outbound }

// NodeID is the bound validator identity, or "".
func (p *Peer) NodeID() string {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.nodeID
}

func (p *Peer) bindNodeID(id string) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.nodeID = id
}

func (p *Peer) OnStart() error {
	go p.sendRoutine()
	go p.recvRoutine()
	return nil
}

func (p *Peer) OnStop() {
	p.conn.Close() // wakes both routines out of blocking I/O
}

// Send hands the frame to this peer's writer without blocking the caller.
// Consensus frames surface ErrSendQueueFull instead of being dropped; gossip
// frames evict the oldest queued gossip frame on overflow.
func (p *Peer) Send(bz []byte, consensus bool) error {
	if !p.IsRunning() {
		return ErrPeerNotRunning
	}
	if consensus {
		select {
		case p.consensusQueue <- bz:
			return nil
		default:
			return ErrSendQueueFull
		}
	}
	select {
	case p.gossipQueue <- bz:
		return nil
	default:
	}
	// Overflow: evict the oldest gossip frame and retry once.
	select {
	case <-p.gossipQueue:
		p.Logger.Debug("send queue full, dropped oldest gossip frame", "peer", p.key)
	default:
	}
	select {
	case p.gossipQueue <- bz:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// sendRoutine drains the queues, consensus frames first.
func (p *Peer) sendRoutine() {
	for {
		// Prefer pending consensus traffic.
		select {
		case bz := <-p.consensusQueue:
			if !p.writeFrame(bz) {
				return
			}
			continue
		default:
		}

		select {
		case <-p.Quit():
			return
		case bz := <-p.consensusQueue:
			if !p.writeFrame(bz) {
				return
			}
		case bz := <-p.gossipQueue:
			if !p.writeFrame(bz) {
				return
			}
		}
	}
}

func (p *Peer) writeFrame(bz []byte) bool {
	if err := WriteFrame(p.conn, bz); err != nil {
		p.onError(p, err)
		return false
	}
	return true
}

// recvRoutine reads frames and delivers them in connection order.
func (p *Peer) recvRoutine() {
	for {
		bz, err := ReadFrame(p.conn)
		if err != nil {
			p.onError(p, err)
			return
		}
		p.onReceive(p.key, bz)
	}
}
