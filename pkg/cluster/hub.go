package cluster

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/chatlink/chatlink/pkg/protocol"
	"github.com/chatlink/chatlink/pkg/transport"
)

// listen binds the hub's address and starts the acceptor loop.
func (n *Node) listen() error {
	listener, err := net.Listen("tcp", n.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.Addr, err)
	}

	n.mu.Lock()
	n.listener = listener
	n.mu.Unlock()

	n.log.Infof("Hub listening on %s", listener.Addr())

	n.wg.Add(1)
	go n.acceptLoop(listener)
	return nil
}

func (n *Node) acceptLoop(listener net.Listener) {
	defer n.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if n.stopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient accept failure: log and keep serving. The brief
			// pause avoids a tight error loop under fd exhaustion.
			n.log.Errorf("Failed to accept connection: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		n.wg.Add(1)
		go n.handleLeaf(conn)
	}
}

// handleLeaf authenticates one inbound connection and, on success, serves
// it until closure. A connection that fails authentication is never
// registered.
func (n *Node) handleLeaf(conn net.Conn) {
	defer n.wg.Done()

	id := conn.RemoteAddr().String()
	p := newPeerConn(id, conn)
	log := n.log.WithField("conn", id)

	if err := n.authenticateLeaf(p); err != nil {
		log.Warnf("Leaf authentication failed: %v", err)
		p.close()
		return
	}

	n.register(p)
	log.Info("Leaf connected")

	n.serve(p)

	n.deregister(p)
	p.close()
	log.Info("Leaf disconnected")
}

// authenticateLeaf enforces the first-frame contract: the opening frame must
// be an auth record whose password matches the hub's shared secret exactly.
// A best-effort failure response is sent before rejecting.
func (n *Node) authenticateLeaf(p *peerConn) error {
	p.conn.SetReadDeadline(time.Now().Add(authTimeout))
	defer p.conn.SetReadDeadline(time.Time{})

	payload, err := transport.ReadFrame(p.conn)
	if err != nil {
		return fmt.Errorf("closed before auth: %w", err)
	}

	recordType, err := protocol.RecordType(payload)
	if err != nil || recordType != protocol.TypeAuth {
		p.send(protocol.NewAuthResponse(false))
		return fmt.Errorf("first frame is not an auth record")
	}

	var req protocol.AuthRequest
	if err := decodeRecord(payload, &req); err != nil {
		p.send(protocol.NewAuthResponse(false))
		return fmt.Errorf("malformed auth record: %w", err)
	}

	if req.Password != n.cfg.Secret {
		p.send(protocol.NewAuthResponse(false))
		return fmt.Errorf("wrong secret")
	}

	return p.send(protocol.NewAuthResponse(true))
}
