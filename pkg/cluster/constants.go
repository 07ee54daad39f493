package cluster

import "time"

const (
	connTimeout = 30 * time.Second
	authTimeout = 10 * time.Second

	// defaultRetryDelay is the fixed leaf reconnect interval. No backoff,
	// no jitter, no retry cap: the cluster is small and static.
	defaultRetryDelay = 5 * time.Second

	defaultPingInterval = 15 * time.Second

	// HubConnID is the sender id a leaf attaches to everything received
	// from its upstream connection.
	HubConnID = "hub"
)
