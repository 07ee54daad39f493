package cluster

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chatlink/chatlink/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// Role is fixed for the process lifetime; there is no dynamic role switching.
type Role int

const (
	RoleHub Role = iota
	RoleLeaf
)

func (r Role) String() string {
	if r == RoleHub {
		return "hub"
	}
	return "leaf"
}

// Handler consumes an envelope received from the cluster. senderID is the
// originating connection id: a peer address on the hub, HubConnID on a leaf.
type Handler func(env protocol.Envelope, senderID string)

// Config carries everything a Node needs. Addr is the listen address on the
// hub and the hub's address on a leaf.
type Config struct {
	Role   Role
	Name   string
	Addr   string
	Secret string

	// RetryDelay overrides the fixed 5s leaf reconnect interval; zero
	// means the default. Shortened in tests.
	RetryDelay   time.Duration
	PingInterval time.Duration

	Logger *logrus.Logger
}

// Node owns the role, the live connections and the subscription list. It is
// the only component that holds sockets; routers and aggregators talk to the
// cluster exclusively through it.
type Node struct {
	cfg Config
	log *logrus.Logger

	mu      sync.RWMutex
	conns   map[string]*peerConn // hub: registry of authenticated leaves
	hub     *peerConn            // leaf: upstream connection, nil when disconnected
	subs    map[uint64]Handler
	nextSub uint64

	listener net.Listener
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewNode(cfg Config) *Node {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Node{
		cfg:   cfg,
		log:   cfg.Logger,
		conns: make(map[string]*peerConn),
		subs:  make(map[uint64]Handler),
		stop:  make(chan struct{}),
	}
}

func (n *Node) Role() Role   { return n.cfg.Role }
func (n *Node) Name() string { return n.cfg.Name }

// Addr returns the hub's bound listen address once listening, falling back
// to the configured address. Useful when configured with port 0.
func (n *Node) Addr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.listener != nil {
		return n.listener.Addr().String()
	}
	return n.cfg.Addr
}

// Start brings the node online: the hub binds and accepts, the leaf begins
// its reconnect loop. It returns immediately; connection handling runs in
// per-connection goroutines.
func (n *Node) Start() error {
	switch n.cfg.Role {
	case RoleHub:
		return n.listen()
	case RoleLeaf:
		n.wg.Add(1)
		go n.reconnectLoop()
		return nil
	default:
		return fmt.Errorf("unknown role %d", n.cfg.Role)
	}
}

// Stop raises the process-wide stop flag and closes every socket, which
// unblocks pending reads and accepts. It waits for all connection
// goroutines to drain.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stop)
	})

	n.mu.Lock()
	if n.listener != nil {
		n.listener.Close()
	}
	for _, p := range n.conns {
		p.close()
	}
	if n.hub != nil {
		n.hub.close()
	}
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *Node) stopping() bool {
	select {
	case <-n.stop:
		return true
	default:
		return false
	}
}

// Subscription identifies one registered handler. Cancelling it removes
// exactly that registration, even when the same function is subscribed
// more than once.
type Subscription struct {
	id   uint64
	node *Node
}

func (s *Subscription) Cancel() {
	s.node.mu.Lock()
	defer s.node.mu.Unlock()
	delete(s.node.subs, s.id)
}

// Subscribe registers a handler for every envelope this node receives.
// Handlers run synchronously, one after another, in the receiving
// connection's goroutine.
func (n *Node) Subscribe(h Handler) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextSub++
	id := n.nextSub
	n.subs[id] = h
	return &Subscription{id: id, node: n}
}

// dispatch invokes every subscriber with the envelope. A panicking handler
// is isolated: it is logged and does not stop the loop or its siblings.
func (n *Node) dispatch(env protocol.Envelope, senderID string) {
	n.mu.RLock()
	handlers := make([]Handler, 0, len(n.subs))
	for _, h := range n.subs {
		handlers = append(handlers, h)
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					n.log.WithField("conn", senderID).Errorf("Envelope handler panicked: %v", r)
				}
			}()
			h(env, senderID)
		}()
	}
}

// SendEnvelope routes an envelope outward according to role: the hub
// broadcasts to every registered leaf except excludeID, a leaf sends to the
// hub (excludeID is ignored).
func (n *Node) SendEnvelope(env protocol.Envelope, excludeID string) error {
	if n.cfg.Role == RoleHub {
		n.Broadcast(env, excludeID)
		return nil
	}
	return n.Send(env)
}

// Broadcast sends the envelope to every connected leaf except excludeID.
// Echo-avoidance lives here: the hub passes the originating connection id
// so a leaf never receives back the message it just sent. Per-connection
// send failures are logged and do not affect the other recipients.
func (n *Node) Broadcast(env protocol.Envelope, excludeID string) {
	record := protocol.NewSyncRecord(env)

	n.mu.RLock()
	targets := make([]*peerConn, 0, len(n.conns))
	for id, p := range n.conns {
		if excludeID != "" && id == excludeID {
			continue
		}
		targets = append(targets, p)
	}
	n.mu.RUnlock()

	for _, p := range targets {
		if err := p.send(record); err != nil {
			n.log.WithField("conn", p.id).Errorf("Failed to broadcast to leaf: %v", err)
		}
	}
}

// Send delivers the envelope to the hub. It fails when the leaf is
// currently disconnected; the caller decides whether that matters.
func (n *Node) Send(env protocol.Envelope) error {
	n.mu.RLock()
	hub := n.hub
	n.mu.RUnlock()
	if hub == nil {
		return fmt.Errorf("not connected to hub")
	}
	return hub.send(protocol.NewSyncRecord(env))
}

// ConnIDs snapshots the ids of the currently registered connections.
func (n *Node) ConnIDs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]string, 0, len(n.conns))
	for id := range n.conns {
		ids = append(ids, id)
	}
	return ids
}

func (n *Node) ConnCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.conns)
}

// Connected reports whether a leaf currently has an authenticated upstream
// connection. Always false on the hub.
func (n *Node) Connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.hub != nil
}

func (n *Node) register(p *peerConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conns[p.id] = p
}

func (n *Node) deregister(p *peerConn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conns[p.id] == p {
		delete(n.conns, p.id)
	}
}
