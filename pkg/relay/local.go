package relay

import (
	"strings"

	"github.com/chatlink/chatlink/pkg/cluster"
	"github.com/chatlink/chatlink/pkg/protocol"
)

// EventCategory selects which sync toggle governs a local event.
type EventCategory int

const (
	EventJoinLeave EventCategory = iota
	EventDeath
	EventAdvancement
)

func (o Options) eventEnabled(cat EventCategory) bool {
	switch cat {
	case EventJoinLeave:
		return o.SyncJoinLeave
	case EventDeath:
		return o.SyncDeath
	case EventAdvancement:
		return o.SyncAdvancement
	default:
		return false
	}
}

// LocalChat synchronizes a chat line produced on this node. The hub wraps
// it directly as PeerChat and broadcasts (no LeafChat hop), then forwards
// to the gateway; a leaf sends a LeafChat to the hub and nothing else,
// since the hub owns all gateway traffic.
func (r *Router) LocalChat(player, text string) {
	if r.opts.Filtered(text) {
		return
	}

	if r.node.Role() == cluster.RoleHub {
		env := protocol.NewChat(protocol.PeerChat, r.opts.ServerName, player, text)
		r.node.Broadcast(env, "")
		if r.opts.ChatToGateway {
			r.toGateway(formatChat(r.opts.ChatFormat, r.opts.ServerName, player, text))
		}
		return
	}

	env := protocol.NewChat(protocol.LeafChat, r.opts.ServerName, player, text)
	if err := r.node.Send(env); err != nil {
		r.log.Warnf("Chat line not synchronized: %v", err)
	}
}

// LocalEvent synchronizes a join/leave/death/advancement line produced on
// this node, honoring the per-category toggle.
func (r *Router) LocalEvent(player, text string, cat EventCategory) {
	if !r.opts.eventEnabled(cat) {
		return
	}

	if r.node.Role() == cluster.RoleHub {
		env := protocol.NewEvent(protocol.PeerEvent, r.opts.ServerName, player, text)
		r.node.Broadcast(env, "")
		if r.opts.ChatToGateway {
			r.toGateway(formatEvent(r.opts.EventFormat, r.opts.ServerName, text))
		}
		return
	}

	env := protocol.NewEvent(protocol.LeafEvent, r.opts.ServerName, player, text)
	if err := r.node.Send(env); err != nil {
		r.log.Warnf("Event not synchronized: %v", err)
	}
}

// GatewayInbound handles a message arriving from the external gateway.
// Only the hub receives gateway traffic; it shows the message locally,
// disseminates it to every leaf and optionally mirrors it to the other
// gateway groups.
func (r *Router) GatewayInbound(sourceGroup int64, displayName, text string) {
	if r.opts.Filtered(text) {
		return
	}

	env := protocol.NewGatewayChat(r.opts.ServerName, displayName, text)
	line := formatGateway(r.opts.GatewayFormat, displayName, text)

	if r.opts.GatewayToChat {
		r.deps.Display.Show(line)
		r.node.Broadcast(env, "")
	}
	if r.opts.GatewayToGateway {
		if r.deps.Gateway == nil {
			return
		}
		for _, groupID := range r.opts.GroupIDs {
			if groupID == sourceGroup {
				continue
			}
			if err := r.deps.Gateway.SendGroupMessage(groupID, line); err != nil {
				r.log.Errorf("Failed to mirror to gateway group %d: %v", groupID, err)
			}
		}
	}
}

// LocalRoster asks the provider for the online players, substituting the
// fixed unavailable marker when it fails.
func LocalRoster(provider RosterProvider) string {
	if provider == nil {
		return RosterUnavailable
	}
	players, err := provider.ListOnlinePlayers()
	if err != nil {
		return RosterUnavailable
	}
	if len(players) == 0 {
		return "no players online"
	}
	return strings.Join(players, ", ")
}

// RosterUnavailable marks a roster that could not be computed.
const RosterUnavailable = "player list unavailable"
