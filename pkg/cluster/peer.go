package cluster

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/chatlink/chatlink/pkg/protocol"
	"github.com/chatlink/chatlink/pkg/transport"
)

// peerConn wraps a live socket with a write lock. Reads are owned by a
// single goroutine per connection; writes may come from any goroutine
// (broadcasts, pong replies, keepalives) and are serialized here.
type peerConn struct {
	id   string
	conn net.Conn

	mu     sync.Mutex
	closed bool
}

func newPeerConn(id string, conn net.Conn) *peerConn {
	return &peerConn{id: id, conn: conn}
}

func (p *peerConn) send(record any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return transport.ErrClosed
	}
	return transport.Send(p.conn, record)
}

// close is idempotent; the second and later calls are no-ops.
func (p *peerConn) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.conn.Close()
}

// serve reads frames from the peer until the connection is observed Closed,
// replying to pings inline and dispatching envelopes to subscribers. The
// senderID attached to dispatched envelopes is the peer's connection id.
func (n *Node) serve(p *peerConn) {
	for {
		payload, err := transport.ReadFrame(p.conn)
		if err != nil {
			return
		}

		recordType, err := protocol.RecordType(payload)
		if err != nil {
			// Malformed payload: abandon the channel, same as closure.
			n.log.WithField("conn", p.id).Warn("Dropping connection with malformed frame")
			return
		}

		switch recordType {
		case protocol.TypePing:
			if err := p.send(protocol.NewPong()); err != nil {
				n.log.WithField("conn", p.id).Debugf("Failed to reply pong: %v", err)
				return
			}
		case protocol.TypePong:
			// Liveness acknowledgement only, never dispatched.
		case protocol.TypeSync:
			env, err := decodeSync(payload)
			if err != nil {
				n.log.WithField("conn", p.id).Warn("Dropping connection with undecodable envelope")
				return
			}
			n.dispatch(env, p.id)
		default:
			n.log.WithField("conn", p.id).Warnf("Unknown record type %q", recordType)
		}
	}
}

func decodeRecord(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}

func decodeSync(payload []byte) (protocol.Envelope, error) {
	var record protocol.SyncRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return protocol.Envelope{}, err
	}
	return record.Envelope()
}
