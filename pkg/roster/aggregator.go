// Package roster implements the hub's scatter-gather roster query: one
// correlated broadcast, replies collected from every connected leaf within
// a bounded wait, partial results on timeout.
package roster

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatlink/chatlink/pkg/protocol"
	"github.com/chatlink/chatlink/pkg/relay"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Cluster is the slice of the topology manager the aggregator needs. It is
// satisfied by *cluster.Node.
type Cluster interface {
	ConnIDs() []string
	Broadcast(env protocol.Envelope, excludeID string)
}

// Aggregator is only meaningful on the hub. It satisfies relay.ReplySink,
// so the router delivers RosterReply envelopes here instead of displaying
// them.
type Aggregator struct {
	node       Cluster
	provider   relay.RosterProvider
	serverName string
	log        *logrus.Logger

	mu      sync.Mutex
	pending map[string]*pendingQuery
}

// pendingQuery tracks one in-flight aggregation. It is created when the
// query is issued and removed unconditionally when the wait ends, so a
// stale entry can never accumulate. members is the snapshot of leaf
// connection ids taken when the query went out; only they may answer.
type pendingQuery struct {
	members map[string]struct{}
	replies map[string]reply // responder connection id -> payload
	done    chan struct{}
	closed  bool
}

type reply struct {
	origin  string
	payload string
}

func NewAggregator(node Cluster, provider relay.RosterProvider, serverName string, log *logrus.Logger) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{
		node:       node,
		provider:   provider,
		serverName: serverName,
		log:        log,
		pending:    make(map[string]*pendingQuery),
	}
}

// QueryAll collects the local roster plus one roster per currently
// connected leaf, waiting at most timeout for the replies. Leaves that do
// not answer in time are summarized in a trailing note; the call itself
// never fails.
func (a *Aggregator) QueryAll(timeout time.Duration) string {
	local := fmt.Sprintf("[%s] %s", a.serverName, relay.LocalRoster(a.provider))

	leaves := a.node.ConnIDs()
	if len(leaves) == 0 {
		return local
	}

	correlationID := uuid.NewString()
	members := make(map[string]struct{}, len(leaves))
	for _, id := range leaves {
		members[id] = struct{}{}
	}
	q := &pendingQuery{
		members: members,
		replies: make(map[string]reply, len(leaves)),
		done:    make(chan struct{}),
	}

	a.mu.Lock()
	a.pending[correlationID] = q
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, correlationID)
		a.mu.Unlock()
	}()

	a.node.Broadcast(protocol.NewRosterQuery(a.serverName, correlationID), "")

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.done:
	case <-timer.C:
	}

	a.mu.Lock()
	lines := make([]string, 0, len(q.replies)+2)
	lines = append(lines, local)
	for _, rep := range q.replies {
		lines = append(lines, fmt.Sprintf("[%s] %s", rep.origin, rep.payload))
	}
	missing := len(q.members) - len(q.replies)
	a.mu.Unlock()

	if missing > 0 {
		lines = append(lines, fmt.Sprintf("%d server(s) did not respond", missing))
	}
	return strings.Join(lines, "\n")
}

// HandleReply records one RosterReply against its pending query. A reply
// whose correlation id matches nothing, or whose sender was not connected
// when the query went out, is dropped apart from a debug line.
func (a *Aggregator) HandleReply(env protocol.Envelope, senderID string) {
	correlationID, payload := protocol.SplitRosterBody(env.Body)

	a.mu.Lock()
	defer a.mu.Unlock()

	q, ok := a.pending[correlationID]
	if !ok {
		a.log.Debugf("Stale roster reply from %s ignored", senderID)
		return
	}
	if _, ok := q.members[senderID]; !ok {
		a.log.Debugf("Roster reply from %s outside the query snapshot ignored", senderID)
		return
	}

	q.replies[senderID] = reply{origin: env.Origin, payload: payload}
	if len(q.replies) >= len(q.members) && !q.closed {
		q.closed = true
		close(q.done)
	}
}

// PendingCount reports the number of in-flight aggregations.
func (a *Aggregator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
