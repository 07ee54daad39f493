// Package gateway connects the hub to the external chat gateway over a
// OneBot v11 websocket. Inbound group messages are surfaced through a
// handler callback; outbound messages are send_group_msg actions. The
// connection is supervised with the same fixed-delay reconnect discipline
// as the cluster leaf.
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const defaultRetryDelay = 5 * time.Second

// MessageHandler receives one inbound gateway group message.
type MessageHandler func(groupID, userID int64, nickname, text string)

type Config struct {
	URL         string // ws:// endpoint of the gateway
	AccessToken string
	RetryDelay  time.Duration
	Logger      *logrus.Logger
}

// Client is a supervised websocket connection to the gateway.
type Client struct {
	cfg     Config
	log     *logrus.Logger
	handler MessageHandler

	mu   sync.Mutex
	conn *websocket.Conn

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewClient(cfg Config) *Client {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Client{cfg: cfg, log: cfg.Logger, stop: make(chan struct{})}
}

// OnGroupMessage registers the inbound handler. Must be called before Start.
func (c *Client) OnGroupMessage(h MessageHandler) {
	c.handler = h
}

// Start begins the connect/read/reconnect loop and returns immediately.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Close tears the connection down and stops reconnecting.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		conn, err := c.dial()
		if err != nil {
			c.log.Errorf("Failed to connect to gateway at %s: %v", c.cfg.URL, err)
		} else {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()
			c.log.Infof("Connected to gateway at %s", c.cfg.URL)

			c.readPump(conn)

			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			conn.Close()
			c.log.Warn("Gateway connection lost")
		}

		select {
		case <-time.After(c.cfg.RetryDelay):
		case <-c.stop:
			return
		}
	}
}

func (c *Client) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, header)
	return conn, err
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, ok := parseGroupMessage(payload)
		if !ok {
			continue
		}
		if c.handler != nil {
			c.handler(msg.GroupID, msg.UserID, msg.Nickname, msg.Text)
		}
	}
}

// groupMessage is the slice of a OneBot v11 group message event we consume.
type groupMessage struct {
	GroupID  int64
	UserID   int64
	Nickname string
	Text     string
}

// parseGroupMessage extracts a group chat message from a gateway event
// frame. Non-message events (heartbeats, notices, API echoes) return false.
func parseGroupMessage(payload []byte) (groupMessage, bool) {
	var event struct {
		PostType    string `json:"post_type"`
		MessageType string `json:"message_type"`
		GroupID     int64  `json:"group_id"`
		UserID      int64  `json:"user_id"`
		RawMessage  string `json:"raw_message"`
		Sender      struct {
			Nickname string `json:"nickname"`
		} `json:"sender"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return groupMessage{}, false
	}
	if event.PostType != "message" || event.MessageType != "group" {
		return groupMessage{}, false
	}
	return groupMessage{
		GroupID:  event.GroupID,
		UserID:   event.UserID,
		Nickname: event.Sender.Nickname,
		Text:     event.RawMessage,
	}, true
}

type action struct {
	Action string       `json:"action"`
	Params actionParams `json:"params"`
}

type actionParams struct {
	GroupID int64  `json:"group_id"`
	Message string `json:"message"`
}

// SendGroupMessage pushes one line to a gateway group. Writes are guarded
// by the client mutex; gorilla/websocket permits one concurrent writer.
func (c *Client) SendGroupMessage(groupID int64, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	return c.conn.WriteJSON(action{
		Action: "send_group_msg",
		Params: actionParams{GroupID: groupID, Message: text},
	})
}
