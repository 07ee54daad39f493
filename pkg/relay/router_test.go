package relay

import (
	"errors"
	"testing"

	"github.com/chatlink/chatlink/pkg/cluster"
	"github.com/chatlink/chatlink/pkg/protocol"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type broadcastCall struct {
	env     protocol.Envelope
	exclude string
}

// fakeCluster records outbound traffic instead of touching sockets.
type fakeCluster struct {
	role       cluster.Role
	broadcasts []broadcastCall
	sent       []protocol.Envelope
	sendErr    error
}

func (f *fakeCluster) Role() cluster.Role { return f.role }

func (f *fakeCluster) Broadcast(env protocol.Envelope, excludeID string) {
	f.broadcasts = append(f.broadcasts, broadcastCall{env, excludeID})
}

func (f *fakeCluster) Send(env protocol.Envelope) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeCluster) SendEnvelope(env protocol.Envelope, excludeID string) error {
	if f.role == cluster.RoleHub {
		f.Broadcast(env, excludeID)
		return nil
	}
	return f.Send(env)
}

func (f *fakeCluster) Subscribe(h cluster.Handler) *cluster.Subscription { return nil }

type recordDisplay struct {
	lines []string
}

func (d *recordDisplay) Show(text string) {
	d.lines = append(d.lines, text)
}

type gatewayCall struct {
	groupID int64
	text    string
}

type recordGateway struct {
	calls []gatewayCall
}

func (g *recordGateway) SendGroupMessage(groupID int64, text string) error {
	g.calls = append(g.calls, gatewayCall{groupID, text})
	return nil
}

type fakeProvider struct {
	players []string
	err     error
}

func (p fakeProvider) ListOnlinePlayers() ([]string, error) {
	return p.players, p.err
}

type recordReplies struct {
	envs []protocol.Envelope
}

func (r *recordReplies) HandleReply(env protocol.Envelope, senderID string) {
	r.envs = append(r.envs, env)
}

type harness struct {
	router  *Router
	node    *fakeCluster
	display *recordDisplay
	gateway *recordGateway
	replies *recordReplies
}

func newHarness(role cluster.Role, opts Options) *harness {
	h := &harness{
		node:    &fakeCluster{role: role},
		display: &recordDisplay{},
		gateway: &recordGateway{},
		replies: &recordReplies{},
	}
	if opts.ServerName == "" {
		opts.ServerName = "local"
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	h.router = New(h.node, opts, Deps{
		Display:  h.display,
		Gateway:  h.gateway,
		Provider: fakeProvider{players: []string{"alice", "bob"}},
		Replies:  h.replies,
		Logger:   log,
	})
	return h
}

func allOn() Options {
	return Options{
		ChatToChat:       true,
		ChatToGateway:    true,
		GatewayToChat:    true,
		GatewayToGateway: true,
		SyncJoinLeave:    true,
		SyncDeath:        true,
		SyncAdvancement:  true,
		GroupIDs:         []int64{100, 200},
	}
}

func TestForwardingTable(t *testing.T) {
	chat := protocol.NewChat(protocol.LeafChat, "survival", "alice", "hi")
	event := protocol.NewEvent(protocol.LeafEvent, "survival", "alice", "alice joined the game")

	cases := []struct {
		name          string
		role          cluster.Role
		env           protocol.Envelope
		toggles       Options
		wantShown     int
		wantBroadcast int
		wantGateway   int
		rebroadcastAs protocol.Kind
	}{
		{
			name: "leaf chat on hub relays everywhere", role: cluster.RoleHub,
			env: chat, toggles: allOn(),
			wantShown: 1, wantBroadcast: 1, wantGateway: 2, rebroadcastAs: protocol.PeerChat,
		},
		{
			name: "leaf chat on hub with relays disabled", role: cluster.RoleHub,
			env: chat, toggles: Options{GroupIDs: []int64{100, 200}},
			wantShown: 1, wantBroadcast: 0, wantGateway: 0,
		},
		{
			name: "leaf event on hub relays everywhere", role: cluster.RoleHub,
			env: event, toggles: allOn(),
			wantShown: 1, wantBroadcast: 1, wantGateway: 2, rebroadcastAs: protocol.PeerEvent,
		},
		{
			name: "leaf event on hub with relays disabled", role: cluster.RoleHub,
			env: event, toggles: Options{GroupIDs: []int64{100, 200}},
			wantShown: 1, wantBroadcast: 0, wantGateway: 0,
		},
		{
			name: "peer chat on leaf shows locally only", role: cluster.RoleLeaf,
			env:     protocol.NewChat(protocol.PeerChat, "main", "bob", "hey"),
			toggles: allOn(), wantShown: 1,
		},
		{
			name: "peer event on leaf shows locally only", role: cluster.RoleLeaf,
			env:     protocol.NewEvent(protocol.PeerEvent, "main", "bob", "bob left the game"),
			toggles: allOn(), wantShown: 1,
		},
		{
			name: "gateway chat shows on hub", role: cluster.RoleHub,
			env:     protocol.NewGatewayChat("main", "carol", "hello from outside"),
			toggles: allOn(), wantShown: 1,
		},
		{
			name: "gateway chat shows on leaf", role: cluster.RoleLeaf,
			env:     protocol.NewGatewayChat("main", "carol", "hello from outside"),
			toggles: allOn(), wantShown: 1,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(tc.role, tc.toggles)
			h.router.Route(tc.env, "conn-1")

			require.Len(t, h.display.lines, tc.wantShown)
			require.Len(t, h.node.broadcasts, tc.wantBroadcast)
			require.Len(t, h.gateway.calls, tc.wantGateway)
			if tc.wantBroadcast > 0 {
				require.Equal(t, tc.rebroadcastAs, h.node.broadcasts[0].env.Kind)
				require.Equal(t, "conn-1", h.node.broadcasts[0].exclude,
					"rebroadcast must exclude the originating connection")
			}
		})
	}
}

func TestRouteRosterQueryOnLeaf(t *testing.T) {
	h := newHarness(cluster.RoleLeaf, Options{ServerName: "survival"})
	h.router.Route(protocol.NewRosterQuery("main", "query-7"), cluster.HubConnID)

	require.Empty(t, h.display.lines, "roster traffic is never displayed")
	require.Len(t, h.node.sent, 1)

	reply := h.node.sent[0]
	require.Equal(t, protocol.RosterReply, reply.Kind)
	require.Equal(t, "survival", reply.Origin)
	require.Equal(t, "query-7", reply.CorrelationID())
	require.Equal(t, "alice, bob", reply.RosterPayload())
}

func TestRosterQueryProviderFailure(t *testing.T) {
	h := newHarness(cluster.RoleLeaf, Options{ServerName: "survival"})
	h.router.deps.Provider = fakeProvider{err: errors.New("rcon down")}

	h.router.Route(protocol.NewRosterQuery("main", "query-8"), cluster.HubConnID)

	require.Len(t, h.node.sent, 1)
	require.Equal(t, RosterUnavailable, h.node.sent[0].RosterPayload())
}

func TestRouteRosterReplyOnHub(t *testing.T) {
	h := newHarness(cluster.RoleHub, Options{})
	reply := protocol.NewRosterReply("survival", "query-9", "alice")

	h.router.Route(reply, "conn-2")

	require.Empty(t, h.display.lines)
	require.Len(t, h.replies.envs, 1)
	require.Equal(t, reply, h.replies.envs[0])
}

func TestRoleViolationStillRouted(t *testing.T) {
	// A leaf receiving a hub-bound kind warns but routes it regardless.
	h := newHarness(cluster.RoleLeaf, allOn())
	h.router.Route(protocol.NewChat(protocol.LeafChat, "survival", "alice", "hi"), "conn-1")

	require.Len(t, h.display.lines, 1)
	require.Len(t, h.node.broadcasts, 1)
}

func TestLocalChatOnLeaf(t *testing.T) {
	h := newHarness(cluster.RoleLeaf, Options{ServerName: "survival"})
	h.router.LocalChat("alice", "good morning")

	require.Len(t, h.node.sent, 1)
	require.Equal(t, protocol.LeafChat, h.node.sent[0].Kind)
	require.Equal(t, "survival", h.node.sent[0].Origin)
	require.Empty(t, h.gateway.calls, "leaves never talk to the gateway directly")
}

func TestLocalChatOnHub(t *testing.T) {
	h := newHarness(cluster.RoleHub, allOn())
	h.router.LocalChat("bob", "good morning")

	require.Len(t, h.node.broadcasts, 1)
	require.Equal(t, protocol.PeerChat, h.node.broadcasts[0].env.Kind)
	require.Empty(t, h.node.broadcasts[0].exclude)
	require.Len(t, h.gateway.calls, 2)
}

func TestLocalChatFiltered(t *testing.T) {
	opts := allOn()
	opts.FilterPrefixes = []string{"/", "!"}
	opts.MaxMessageLength = 10

	h := newHarness(cluster.RoleHub, opts)
	h.router.LocalChat("alice", "/home")
	h.router.LocalChat("alice", "this line is far too long")

	require.Empty(t, h.node.broadcasts)
	require.Empty(t, h.gateway.calls)
}

func TestLocalEventCategoryToggles(t *testing.T) {
	opts := allOn()
	opts.SyncDeath = false

	h := newHarness(cluster.RoleLeaf, opts)
	h.router.LocalEvent("alice", "alice fell from a high place", EventDeath)
	require.Empty(t, h.node.sent)

	h.router.LocalEvent("alice", "alice joined the game", EventJoinLeave)
	require.Len(t, h.node.sent, 1)
	require.Equal(t, protocol.LeafEvent, h.node.sent[0].Kind)
}

func TestGatewayInbound(t *testing.T) {
	h := newHarness(cluster.RoleHub, allOn())
	h.router.GatewayInbound(100, "carol", "anyone online?")

	require.Len(t, h.display.lines, 1)
	require.Len(t, h.node.broadcasts, 1)
	require.Equal(t, protocol.GatewayChat, h.node.broadcasts[0].env.Kind)

	// Mirrored to the other group only, never echoed to the source.
	require.Len(t, h.gateway.calls, 1)
	require.Equal(t, int64(200), h.gateway.calls[0].groupID)
}

func TestGatewayInboundDisabled(t *testing.T) {
	h := newHarness(cluster.RoleHub, Options{GroupIDs: []int64{100, 200}})
	h.router.GatewayInbound(100, "carol", "anyone online?")

	require.Empty(t, h.display.lines)
	require.Empty(t, h.node.broadcasts)
	require.Empty(t, h.gateway.calls)
}

func TestChatFormatting(t *testing.T) {
	h := newHarness(cluster.RoleHub, Options{
		ChatFormat:  "[{server}] <{player}> {message}",
		EventFormat: "[{server}] {message}",
	})

	h.router.Route(protocol.NewChat(protocol.LeafChat, "survival", "alice", "hi"), "conn-1")
	h.router.Route(protocol.NewEvent(protocol.LeafEvent, "survival", "alice", "alice joined the game"), "conn-1")

	require.Equal(t, []string{
		"[survival] <alice> hi",
		"[survival] alice joined the game",
	}, h.display.lines)
}

func TestOptionsFiltered(t *testing.T) {
	opts := Options{
		FilterPrefixes:   []string{"/", "!", ".", "#"},
		MaxMessageLength: 200,
	}

	require.True(t, opts.Filtered("/tp alice"))
	require.True(t, opts.Filtered("!admin"))
	require.False(t, opts.Filtered("ordinary chat"))

	long := make([]byte, 201)
	for i := range long {
		long[i] = 'a'
	}
	require.True(t, opts.Filtered(string(long)))
}
