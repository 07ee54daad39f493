// Package store persists the gateway-user to player-name bindings used by
// the hub's /bind and /unbind gateway commands.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// Bindings maps gateway user ids to player names. All mutations are
// persisted to the backing file before returning.
type Bindings struct {
	path string

	mu   sync.RWMutex
	data map[string]string
}

// ErrNotBound is returned when unbinding a user who has no binding.
var ErrNotBound = errors.New("user not bound")

// Open loads the bindings file at path, starting empty when it does not
// exist yet.
func Open(path string) (*Bindings, error) {
	b := &Bindings{
		path: path,
		data: make(map[string]string),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("failed to read bindings %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &b.data); err != nil {
		return nil, fmt.Errorf("failed to parse bindings %s: %w", path, err)
	}
	return b, nil
}

// Bind associates a gateway user with a player name, replacing any earlier
// binding for that user.
func (b *Bindings) Bind(userID, playerName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[userID] = playerName
	return b.save()
}

// Unbind removes a user's binding.
func (b *Bindings) Unbind(userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[userID]; !ok {
		return ErrNotBound
	}
	delete(b.data, userID)
	return b.save()
}

// Lookup returns the player name bound to userID.
func (b *Bindings) Lookup(userID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	name, ok := b.data[userID]
	return name, ok
}

// IsBound reports whether userID has a binding.
func (b *Bindings) IsBound(userID string) bool {
	_, ok := b.Lookup(userID)
	return ok
}

// NameTaken reports whether playerName is already bound to a different user.
func (b *Bindings) NameTaken(playerName, userID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, name := range b.data {
		if name == playerName && id != userID {
			return true
		}
	}
	return false
}

// save writes the map under b.mu.
func (b *Bindings) save() error {
	raw, err := json.MarshalIndent(b.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.path, raw, 0600); err != nil {
		return fmt.Errorf("failed to write bindings %s: %w", b.path, err)
	}
	return nil
}
