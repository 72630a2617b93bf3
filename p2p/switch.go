package p2p

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tendermint/tendermint/libs/cmap"
	"github.com/tendermint/tendermint/libs/log"
	tmrand "github.com/tendermint/tendermint/libs/rand"
	"github.com/tendermint/tendermint/libs/service"

	"github.com/Asadullah378/MiniChain/codec"
	"github.com/Asadullah378/MiniChain/config"
	"github.com/Asadullah378/MiniChain/types"
)

var ErrPeerNotFound = errors.New("no connection for identity")

// PeerStatus is a read-only snapshot for the operator surface.
type PeerStatus struct {
	Key      string `json:"key"`
	NodeID   string `json:"node_id"`
	Outbound bool   `json:"outbound"`
}

// Switch tracks inbound accepts and outbound dials, keyed by "host:port".
// It fans broadcasts out to every active connection and resolves validator
// identities to connections for direct sends. Outbound dial failures retry
// with exponential backoff and jitter. Sends to connected peers are queue
// handoffs; only SendTo with no cached connection dials inline, bounded by
// the dial timeout.
type Switch struct {
	service.BaseService

	cfg    *config.P2PConfig
	nodeID string // canonical self identity
	hello  []byte // encoded HELLO, first frame on every connection

	listener net.Listener

	inbound  *cmap.CMap // remote "host:port" -> *Peer (accepted)
	outbound *cmap.CMap // dialed "host:port" -> *Peer
	ids      *cmap.CMap // canonical node id -> peer key
	dialing  *cmap.CMap // addr -> struct{} (reconnect loop guard)

	onReceive receiveFunc
}

func NewSwitch(cfg *config.P2PConfig, nodeID string, onReceive receiveFunc) (*Switch, error) {
	// HELLO advertises the port peers reach us on, which lives in the
	// identity, not in the (possibly ephemeral) bind address.
	_, portStr, err := net.SplitHostPort(nodeID)
	if err != nil {
		return nil, fmt.Errorf("bad node identity %q: %w", nodeID, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("bad identity port %q: %w", portStr, err)
	}

	hello, err := codec.Encode(codec.NewHelloMessage(nodeID, port, config.Version))
	if err != nil {
		return nil, err
	}

	sw := &Switch{
		cfg:       cfg,
		nodeID:    nodeID,
		hello:     hello,
		inbound:   cmap.NewCMap(),
		outbound:  cmap.NewCMap(),
		ids:       cmap.NewCMap(),
		dialing:   cmap.NewCMap(),
		onReceive: onReceive,
	}
	sw.BaseService = *service.NewBaseService(log.NewNopLogger(), "P2P Switch", sw)
	return sw, nil
}

func (sw *Switch) OnStart() error {
	l, err := net.Listen("tcp", sw.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", sw.cfg.ListenAddress, err)
	}
	sw.listener = l
	sw.Logger.Info("p2p listening", "addr", sw.cfg.ListenAddress)

	go sw.acceptRoutine()

	for _, addr := range sw.cfg.Peers {
		if types.MatchesID(sw.nodeID, addr) {
			continue
		}
		go sw.dialLoop(addr)
	}
	return nil
}

func (sw *Switch) OnStop() {
	if sw.listener != nil {
		sw.listener.Close()
	}
	for _, p := range sw.allPeers() {
		p.Stop()
	}
}

// ListenAddr is the bound address (useful when the port was chosen by the OS).
func (sw *Switch) ListenAddr() string {
	if sw.listener == nil {
		return sw.cfg.ListenAddress
	}
	return sw.listener.Addr().String()
}

func (sw *Switch) acceptRoutine() {
	for {
		conn, err := sw.listener.Accept()
		if err != nil {
			if !sw.IsRunning() {
				return
			}
			sw.Logger.Error("accept failed", "err", err)
			select {
			case <-sw.Quit():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		sw.addPeer(conn, conn.RemoteAddr().String(), false)
	}
}

// dialLoop dials addr until it succeeds, with exponential backoff from the
// configured base to the cap, jittered ±20%.
func (sw *Switch) dialLoop(addr string) {
	if sw.dialing.Has(addr) {
		return
	}
	sw.dialing.Set(addr, struct{}{})
	defer sw.dialing.Delete(addr)

	wait := sw.cfg.ReconnectBaseWait
	for sw.IsRunning() {
		if sw.outbound.Has(addr) {
			return
		}
		conn, err := net.DialTimeout("tcp", addr, sw.cfg.DialTimeout)
		if err == nil {
			sw.addPeer(conn, addr, true)
			return
		}
		sw.Logger.Info("dial failed, will retry", "peer", addr, "err", err, "wait", wait)

		select {
		case <-sw.Quit():
			return
		case <-time.After(jitter(wait)):
		}
		wait *= 2
		if wait > sw.cfg.ReconnectMaxWait {
			wait = sw.cfg.ReconnectMaxWait
		}
	}
}

// jitter spreads d by ±20%.
func jitter(d time.Duration) time.Duration {
	f := 0.8 + 0.4*tmrand.Float64()
	return time.Duration(float64(d) * f)
}

func (sw *Switch) addPeer(conn net.Conn, key string, outbound bool) {
	// Keep the first connection when a dial races a reconnect.
	if outbound && sw.outbound.Has(key) {
		conn.Close()
		return
	}
	p := newPeer(conn, key, outbound, sw.cfg.SendQueueCapacity, sw.onReceive, sw.stopPeerForError)
	p.SetLogger(sw.Logger.With("peer", key))
	if err := p.Start(); err != nil {
		sw.Logger.Error("failed to start peer", "peer", key, "err", err)
		conn.Close()
		return
	}
	if outbound {
		sw.outbound.Set(key, p)
	} else {
		sw.inbound.Set(key, p)
	}
	sw.Logger.Info("peer up", "peer", key, "outbound", outbound)

	// HELLO is always the first frame so the remote can bind this
	// connection to our identity.
	if err := p.Send(sw.hello, false); err != nil {
		sw.Logger.Error("failed to queue hello", "peer", key, "err", err)
	}
}

// stopPeerForError closes a dead connection and, for configured outbound
// peers, schedules a reconnect.
func (sw *Switch) stopPeerForError(p *Peer, err error) {
	if !sw.IsRunning() {
		return
	}
	key := p.Key()
	if p.Outbound() {
		if !sw.outbound.Has(key) {
			return // already reaped
		}
		sw.outbound.Delete(key)
	} else {
		if !sw.inbound.Has(key) {
			return
		}
		sw.inbound.Delete(key)
	}
	if id := p.NodeID(); id != "" {
		sw.ids.Delete(id)
	}
	sw.Logger.Info("peer down", "peer", key, "outbound", p.Outbound(), "err", err)
	p.Stop()

	if p.Outbound() && sw.isConfigured(key) {
		go sw.dialLoop(key)
	}
}

func (sw *Switch) isConfigured(addr string) bool {
	for _, a := range sw.cfg.Peers {
		if a == addr {
			return true
		}
	}
	return false
}

// BindIdentity attaches a validator identity (from a HELLO) to a connection.
func (sw *Switch) BindIdentity(peerKey, rawNodeID string) {
	id, err := types.CanonicalID(rawNodeID)
	if err != nil {
		sw.Logger.Error("unbindable peer identity", "peer", peerKey, "node_id", rawNodeID, "err", err)
		return
	}
	if p := sw.peerByKey(peerKey); p != nil {
		p.bindNodeID(id)
		sw.ids.Set(id, peerKey)
		sw.Logger.Debug("bound peer identity", "peer", peerKey, "node_id", id)
	}
}

// IdentityOf returns the validator identity bound to a connection, or "".
func (sw *Switch) IdentityOf(peerKey string) string {
	if p := sw.peerByKey(peerKey); p != nil {
		return p.NodeID()
	}
	return ""
}

// Broadcast fans one message out to every active connection. Backpressure on
// consensus frames is surfaced in the returned error.
func (sw *Switch) Broadcast(msg codec.Message) error {
	bz, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	consensus := codec.IsConsensus(msg)
	var firstErr error
	for _, p := range sw.allPeers() {
		if err := p.Send(bz, consensus); err != nil {
			sw.Logger.Error("broadcast send failed", "peer", p.Key(), "type", codec.MsgType(msg), "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SendTo resolves a validator identity to a connection, matching the full
// identifier or its first label, and sends. With no cached connection it
// dials the peer's configured address fresh.
func (sw *Switch) SendTo(identity string, msg codec.Message) error {
	bz, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	consensus := codec.IsConsensus(msg)

	if p := sw.resolve(identity); p != nil {
		return p.Send(bz, consensus)
	}

	// No cached connection: dial the configured address that matches.
	for _, addr := range sw.cfg.Peers {
		if !types.MatchesID(identity, addr) {
			continue
		}
		conn, err := net.DialTimeout("tcp", addr, sw.cfg.DialTimeout)
		if err != nil {
			return fmt.Errorf("dial %s for %s: %w", addr, identity, err)
		}
		sw.addPeer(conn, addr, true)
		if p := sw.peerByKey(addr); p != nil {
			return p.Send(bz, consensus)
		}
		break
	}
	return fmt.Errorf("%w: %s", ErrPeerNotFound, identity)
}

// resolve finds an active connection for identity.
func (sw *Switch) resolve(identity string) *Peer {
	// Exact id binding first.
	if id, err := types.CanonicalID(identity); err == nil {
		if keyI, ok := sw.ids.Get(id).(string); ok {
			if p := sw.peerByKey(keyI); p != nil {
				return p
			}
		}
	}
	// Fall back to scanning keys and bound ids.
	for _, p := range sw.allPeers() {
		if id := p.NodeID(); id != "" && types.MatchesID(identity, id) {
			return p
		}
		if types.MatchesID(identity, p.Key()) {
			return p
		}
	}
	return nil
}

func (sw *Switch) peerByKey(key string) *Peer {
	if p, ok := sw.outbound.Get(key).(*Peer); ok {
		return p
	}
	if p, ok := sw.inbound.Get(key).(*Peer); ok {
		return p
	}
	return nil
}

func (sw *Switch) allPeers() []*Peer {
	values := append(sw.outbound.Values(), sw.inbound.Values()...)
	peers := make([]*Peer, 0, len(values))
	for _, v := range values {
		if p, ok := v.(*Peer); ok {
			peers = append(peers, p)
		}
	}
	return peers
}

// Peers snapshots the live connections for the operator surface.
func (sw *Switch) Peers() []PeerStatus {
	all := sw.allPeers()
	statuses := make([]PeerStatus, 0, len(all))
	for _, p := range all {
		statuses = append(statuses, PeerStatus{
			Key:      p.Key(),
			NodeID:   p.NodeID(),
			Outbound: p.Outbound(),
		})
	}
	return statuses
}

// NumPeers returns the number of active connections.
func (sw *Switch) NumPeers() int {
	return sw.outbound.Size() + sw.inbound.Size()
}
