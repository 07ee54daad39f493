package relay

import (
	"github.com/chatlink/chatlink/pkg/cluster"
	"github.com/chatlink/chatlink/pkg/protocol"
	"github.com/sirupsen/logrus"
)

// Cluster is the slice of the topology manager the router needs. It is
// satisfied by *cluster.Node.
type Cluster interface {
	Role() cluster.Role
	Broadcast(env protocol.Envelope, excludeID string)
	Send(env protocol.Envelope) error
	SendEnvelope(env protocol.Envelope, excludeID string) error
	Subscribe(h cluster.Handler) *cluster.Subscription
}

// Display is the local display sink: it shows one formatted line to every
// local user.
type Display interface {
	Show(text string)
}

// GatewaySender is the slice of the external chat gateway the router needs.
type GatewaySender interface {
	SendGroupMessage(groupID int64, text string) error
}

// RosterProvider lists the players currently online on this node.
type RosterProvider interface {
	ListOnlinePlayers() ([]string, error)
}

// ReplySink receives RosterReply envelopes, keyed by their embedded
// correlation id. On the hub this is the roster aggregator.
type ReplySink interface {
	HandleReply(env protocol.Envelope, senderID string)
}

// Options are the relay toggles and formats consumed by the router.
type Options struct {
	ServerName string

	ChatToChat       bool // rebroadcast chat between servers (hub)
	ChatToGateway    bool // forward chat/events to the gateway (hub)
	GatewayToChat    bool // show gateway messages in game (hub)
	GatewayToGateway bool // mirror gateway messages across groups (hub)

	SyncJoinLeave   bool
	SyncDeath       bool
	SyncAdvancement bool

	ChatFormat    string // placeholders: {server} {player} {message}
	EventFormat   string // placeholders: {server} {message}
	GatewayFormat string // placeholders: {player} {message}

	FilterPrefixes   []string
	MaxMessageLength int

	GroupIDs []int64
}

// Deps are the router's collaborators. Gateway and Replies may be nil
// (leaves have neither); Provider must be set to answer roster queries.
type Deps struct {
	Display  Display
	Gateway  GatewaySender
	Provider RosterProvider
	Replies  ReplySink
	Logger   *logrus.Logger
}

// Router interprets envelope kinds and applies the forwarding table. It
// never holds a socket; all cluster traffic goes through the node.
type Router struct {
	node Cluster
	opts Options
	deps Deps
	log  *logrus.Logger
	sub  *cluster.Subscription
}

func New(node Cluster, opts Options, deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	return &Router{node: node, opts: opts, deps: deps, log: deps.Logger}
}

// Start subscribes the router to the node's envelope stream.
func (r *Router) Start() {
	r.sub = r.node.Subscribe(r.Route)
}

// Close removes the router's subscription.
func (r *Router) Close() {
	if r.sub != nil {
		r.sub.Cancel()
		r.sub = nil
	}
}

// Route dispatches one received envelope per the forwarding table. A
// role-origin mismatch is logged and the envelope is still routed as if
// valid; availability wins over strict protocol policing here.
func (r *Router) Route(env protocol.Envelope, senderID string) {
	switch env.Kind {
	case protocol.LeafChat:
		r.expectRole(env, cluster.RoleHub)
		line := formatChat(r.opts.ChatFormat, env.Origin, env.Actor, env.Body)
		r.deps.Display.Show(line)
		if r.opts.ChatToChat {
			r.node.Broadcast(protocol.NewChat(protocol.PeerChat, env.Origin, env.Actor, env.Body), senderID)
		}
		if r.opts.ChatToGateway {
			r.toGateway(line)
		}

	case protocol.LeafEvent:
		r.expectRole(env, cluster.RoleHub)
		line := formatEvent(r.opts.EventFormat, env.Origin, env.Body)
		r.deps.Display.Show(line)
		if r.opts.ChatToChat {
			r.node.Broadcast(protocol.NewEvent(protocol.PeerEvent, env.Origin, env.Actor, env.Body), senderID)
		}
		if r.opts.ChatToGateway {
			r.toGateway(line)
		}

	case protocol.PeerChat:
		r.expectRole(env, cluster.RoleLeaf)
		r.deps.Display.Show(formatChat(r.opts.ChatFormat, env.Origin, env.Actor, env.Body))

	case protocol.PeerEvent:
		r.expectRole(env, cluster.RoleLeaf)
		r.deps.Display.Show(formatEvent(r.opts.EventFormat, env.Origin, env.Body))

	case protocol.GatewayChat:
		// Every node displays gateway traffic.
		r.deps.Display.Show(formatGateway(r.opts.GatewayFormat, env.Actor, env.Body))

	case protocol.RosterQuery:
		r.expectRole(env, cluster.RoleLeaf)
		r.answerRosterQuery(env)

	case protocol.RosterReply:
		r.expectRole(env, cluster.RoleHub)
		if r.deps.Replies != nil {
			r.deps.Replies.HandleReply(env, senderID)
		}

	default:
		r.log.Warnf("Unroutable envelope kind %v from %s", env.Kind, senderID)
	}
}

// expectRole surfaces a warning when an envelope arrives at a node whose
// role was not meant to receive it. The envelope is processed regardless.
func (r *Router) expectRole(env protocol.Envelope, want cluster.Role) {
	if r.node.Role() != want {
		r.log.Warnf("%s node received %v envelope meant for %s, routing anyway",
			r.node.Role(), env.Kind, want)
	}
}

// answerRosterQuery computes the local roster and replies with the query's
// correlation id. A failing provider yields the fixed unavailable marker
// rather than an error.
func (r *Router) answerRosterQuery(env protocol.Envelope) {
	roster := LocalRoster(r.deps.Provider)
	reply := protocol.NewRosterReply(r.opts.ServerName, env.CorrelationID(), roster)
	if err := r.node.SendEnvelope(reply, ""); err != nil {
		r.log.Errorf("Failed to send roster reply: %v", err)
	}
}

// toGateway fans a line out to every configured gateway group. Send errors
// degrade to log lines; gateway trouble never breaks cluster routing.
func (r *Router) toGateway(text string) {
	if r.deps.Gateway == nil {
		return
	}
	for _, groupID := range r.opts.GroupIDs {
		if err := r.deps.Gateway.SendGroupMessage(groupID, text); err != nil {
			r.log.Errorf("Failed to forward to gateway group %d: %v", groupID, err)
		}
	}
}
