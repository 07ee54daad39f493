package protocol

import (
	"fmt"
	"strings"
)

// Kind identifies what an envelope carries and which node role is expected
// to consume it. The numeric values are the wire values.
type Kind int

const (
	// LeafChat is a chat line reported by a leaf, consumed by the hub.
	LeafChat Kind = iota
	// LeafEvent is a join/leave/death/advancement reported by a leaf.
	LeafEvent
	// PeerChat is a chat line disseminated by the hub to leaves.
	PeerChat
	// PeerEvent is an event line disseminated by the hub to leaves.
	PeerEvent
	// GatewayChat is a message originating from the external chat gateway.
	GatewayChat
	// RosterQuery asks a leaf for its online-player roster.
	RosterQuery
	// RosterReply answers a RosterQuery; its body embeds the correlation id.
	RosterReply
)

func (k Kind) String() string {
	switch k {
	case LeafChat:
		return "leaf_chat"
	case LeafEvent:
		return "leaf_event"
	case PeerChat:
		return "peer_chat"
	case PeerEvent:
		return "peer_event"
	case GatewayChat:
		return "gateway_chat"
	case RosterQuery:
		return "roster_query"
	case RosterReply:
		return "roster_reply"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the seven known kinds.
func (k Kind) Valid() bool {
	return k >= LeafChat && k <= RosterReply
}

// Envelope is the unit of synchronization exchanged between nodes.
//
// Kind determines which fields are meaningful: chat kinds carry an Actor,
// event kinds carry an Actor and a pre-formatted description, gateway chat
// carries the gateway display name as Actor, and roster kinds carry a
// "correlationID|payload" composite in Body with no Actor. Use the
// constructors below rather than building envelopes by hand.
type Envelope struct {
	Kind   Kind
	Origin string // name of the server that produced the event
	Actor  string // player identity; empty for roster kinds
	Body   string
}

// NewChat wraps a locally produced chat line. The kind depends on the
// producing role: a leaf reports LeafChat to the hub, the hub disseminates
// PeerChat directly.
func NewChat(kind Kind, origin, player, text string) Envelope {
	return Envelope{Kind: kind, Origin: origin, Actor: player, Body: text}
}

// NewEvent wraps a locally produced event line (join/leave/death/advancement).
func NewEvent(kind Kind, origin, player, text string) Envelope {
	return Envelope{Kind: kind, Origin: origin, Actor: player, Body: text}
}

// NewGatewayChat wraps an inbound gateway message for cluster dissemination.
func NewGatewayChat(origin, displayName, text string) Envelope {
	return Envelope{Kind: GatewayChat, Origin: origin, Actor: displayName, Body: text}
}

// NewRosterQuery builds the hub's roster broadcast for the given correlation id.
func NewRosterQuery(origin, correlationID string) Envelope {
	return Envelope{Kind: RosterQuery, Origin: origin, Body: correlationID}
}

// NewRosterReply builds a leaf's answer to a roster query.
func NewRosterReply(origin, correlationID, roster string) Envelope {
	return Envelope{Kind: RosterReply, Origin: origin, Body: JoinRosterBody(correlationID, roster)}
}

// JoinRosterBody composes the roster reply body. The wire format embeds the
// correlation id before the first '|'; the payload may itself contain '|'.
func JoinRosterBody(correlationID, payload string) string {
	return correlationID + "|" + payload
}

// SplitRosterBody splits a roster reply body at the first '|' only, so a
// payload containing the delimiter survives intact.
func SplitRosterBody(body string) (correlationID, payload string) {
	correlationID, payload, _ = strings.Cut(body, "|")
	return correlationID, payload
}

// CorrelationID extracts the correlation id from a roster envelope. For a
// RosterQuery the body is the id itself; for a RosterReply it is the prefix.
func (e Envelope) CorrelationID() string {
	if e.Kind == RosterQuery {
		return e.Body
	}
	id, _ := SplitRosterBody(e.Body)
	return id
}

// RosterPayload extracts the roster text from a RosterReply body.
func (e Envelope) RosterPayload() string {
	_, payload := SplitRosterBody(e.Body)
	return payload
}
