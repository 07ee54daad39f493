package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire record type tags. Every frame carries a JSON object whose "type" field
// selects one of these.
const (
	TypeAuth         = "auth"
	TypeAuthResponse = "auth_response"
	TypeSync         = "chat_sync_obj"
	TypePing         = "ping"
	TypePong         = "pong"
)

type AuthRequest struct {
	Type     string `json:"type"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
}

// SyncRecord is the carrier for an Envelope on the wire.
type SyncRecord struct {
	Type      string       `json:"type"`
	Data      envelopeData `json:"data"`
	Timestamp float64      `json:"timestamp"`
}

type envelopeData struct {
	Kind       int     `json:"kind"`
	ServerName string  `json:"server_name"`
	Player     *string `json:"player"`
	Message    string  `json:"message"`
}

type Ping struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

type Pong struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

func NewAuthRequest(secret string) AuthRequest {
	return AuthRequest{Type: TypeAuth, Password: secret}
}

func NewAuthResponse(ok bool) AuthResponse {
	return AuthResponse{Type: TypeAuthResponse, Success: ok}
}

func NewPing() Ping {
	return Ping{Type: TypePing, Timestamp: now()}
}

func NewPong() Pong {
	return Pong{Type: TypePong, Timestamp: now()}
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// NewSyncRecord wraps an envelope for transmission. The player field is null
// on the wire when the envelope has no actor.
func NewSyncRecord(env Envelope) SyncRecord {
	var player *string
	if env.Actor != "" {
		p := env.Actor
		player = &p
	}
	return SyncRecord{
		Type: TypeSync,
		Data: envelopeData{
			Kind:       int(env.Kind),
			ServerName: env.Origin,
			Player:     player,
			Message:    env.Body,
		},
		Timestamp: now(),
	}
}

// Envelope converts a received SyncRecord back into an Envelope.
func (r SyncRecord) Envelope() (Envelope, error) {
	kind := Kind(r.Data.Kind)
	if !kind.Valid() {
		return Envelope{}, fmt.Errorf("unknown envelope kind %d", r.Data.Kind)
	}
	if r.Data.ServerName == "" {
		return Envelope{}, fmt.Errorf("envelope with empty server_name")
	}
	env := Envelope{Kind: kind, Origin: r.Data.ServerName, Body: r.Data.Message}
	if r.Data.Player != nil {
		env.Actor = *r.Data.Player
	}
	return env, nil
}

// RecordType sniffs the "type" tag of a raw frame payload without decoding
// the full record.
func RecordType(payload []byte) (string, error) {
	var header struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &header); err != nil {
		return "", fmt.Errorf("malformed frame payload: %w", err)
	}
	return header.Type, nil
}
