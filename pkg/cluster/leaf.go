package cluster

import (
	"fmt"
	"net"
	"time"

	"github.com/chatlink/chatlink/pkg/protocol"
	"github.com/chatlink/chatlink/pkg/transport"
)

// reconnectLoop keeps a leaf's single upstream connection alive: dial,
// authenticate, serve until closure, wait the fixed delay, repeat. There is
// no backoff and no retry cap.
func (n *Node) reconnectLoop() {
	defer n.wg.Done()

	for {
		if n.stopping() {
			return
		}

		p, err := n.connectToHub()
		if err != nil {
			n.log.Errorf("Failed to connect to hub at %s: %v", n.cfg.Addr, err)
			if !n.sleepRetry() {
				return
			}
			continue
		}

		// Install under the lock with a stop re-check: Stop's socket sweep
		// sees either this connection or the stop flag already raised, never
		// a connection installed after the sweep.
		n.mu.Lock()
		if n.stopping() {
			n.mu.Unlock()
			p.close()
			return
		}
		n.hub = p
		n.mu.Unlock()
		n.log.Infof("Connected to hub at %s", n.cfg.Addr)

		done := make(chan struct{})
		go n.keepalive(p, done)

		n.serve(p)
		close(done)

		n.mu.Lock()
		if n.hub == p {
			n.hub = nil
		}
		n.mu.Unlock()
		p.close()
		n.log.Warn("Disconnected from hub")

		if !n.sleepRetry() {
			return
		}
	}
}

// sleepRetry waits the fixed reconnect delay, returning false when the node
// is stopping.
func (n *Node) sleepRetry() bool {
	select {
	case <-time.After(n.cfg.RetryDelay):
		return true
	case <-n.stop:
		return false
	}
}

func (n *Node) connectToHub() (*peerConn, error) {
	dialer := net.Dialer{Timeout: connTimeout}
	conn, err := dialer.Dial("tcp", n.cfg.Addr)
	if err != nil {
		return nil, err
	}

	p := newPeerConn(HubConnID, conn)
	if err := n.authenticateToHub(p); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// authenticateToHub sends the shared secret as the first frame and waits
// for the hub's verdict. Any failure is treated as a connection failure.
func (n *Node) authenticateToHub(p *peerConn) error {
	if err := p.send(protocol.NewAuthRequest(n.cfg.Secret)); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	p.conn.SetReadDeadline(time.Now().Add(authTimeout))
	defer p.conn.SetReadDeadline(time.Time{})

	var resp protocol.AuthResponse
	if err := transport.Recv(p.conn, &resp); err != nil {
		return fmt.Errorf("closed before auth response: %w", err)
	}
	if resp.Type != protocol.TypeAuthResponse || !resp.Success {
		return fmt.Errorf("hub rejected authentication")
	}
	return nil
}

// keepalive sends a liveness probe at a fixed interval while the upstream
// connection is alive. The hub answers each ping with a pong.
func (n *Node) keepalive(p *peerConn, done <-chan struct{}) {
	ticker := time.NewTicker(n.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-n.stop:
			return
		case <-ticker.C:
			if err := p.send(protocol.NewPing()); err != nil {
				return
			}
		}
	}
}
