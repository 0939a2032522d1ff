package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/existflow/ecofinds/internal/db"
	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/model"
)

// KV is the persisted storage credentials live in. *db.DB implements it.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// EventKind identifies a credential change
type EventKind int

const (
	// TokenRefreshed fires after a refresh wrote a new access token
	TokenRefreshed EventKind = iota
	// SessionCleared fires after the persisted session was wiped
	SessionCleared
)

// Event is delivered to credential listeners. Seq is the sequence number of
// the write that caused it; listeners use it to drop events that arrive after
// a newer write.
type Event struct {
	Kind  EventKind
	Token string
	Seq   uint64
}

// Credentials owns the persisted session: access token, refresh token and the
// cached user.
//
// Token writes that come from a refresh carry the sequence number handed out
// by Begin. A write whose number is not newer than the last applied one is
// dropped, so a slow refresh can never replace a token obtained later by
// another refresh, a login or a logout.
type Credentials struct {
	kv KV

	mu      sync.Mutex
	issued  uint64
	applied uint64

	listenersMu sync.Mutex
	nextID      int
	listeners   map[int]func(Event)
}

// NewCredentials creates credentials backed by kv
func NewCredentials(kv KV) *Credentials {
	return &Credentials{kv: kv, listeners: make(map[int]func(Event))}
}

// Token returns the stored access token, or "" when there is none
func (c *Credentials) Token(ctx context.Context) (string, error) {
	v, _, err := c.kv.Get(ctx, db.KeyAuthToken)
	return v, err
}

// RefreshToken returns the stored refresh token, or "" when there is none
func (c *Credentials) RefreshToken(ctx context.Context) (string, error) {
	v, _, err := c.kv.Get(ctx, db.KeyRefreshToken)
	return v, err
}

// User returns the cached user, nil when absent
func (c *Credentials) User(ctx context.Context) (*model.User, error) {
	raw, ok, err := c.kv.Get(ctx, db.KeyUserData)
	if err != nil || !ok {
		return nil, err
	}
	var u model.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("failed to decode cached user: %w", err)
	}
	return &u, nil
}

// SaveUser replaces the cached user
func (c *Credentials) SaveUser(ctx context.Context, u *model.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	return c.kv.Set(ctx, db.KeyUserData, string(data))
}

// Store persists a fresh login or registration. It supersedes any refresh
// still in flight.
func (c *Credentials) Store(ctx context.Context, resp *model.AuthResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.issued++
	c.applied = c.issued

	if err := c.kv.Set(ctx, db.KeyAuthToken, resp.Token); err != nil {
		return err
	}
	if resp.RefreshToken != "" {
		if err := c.kv.Set(ctx, db.KeyRefreshToken, resp.RefreshToken); err != nil {
			return err
		}
	} else if err := c.kv.Delete(ctx, db.KeyRefreshToken); err != nil {
		// a refresh token from the previous account must not outlive it
		return err
	}
	if resp.User != nil {
		return c.SaveUser(ctx, resp.User)
	}
	return nil
}

// Current returns the stored access token together with the sequence number
// of the write that produced it
func (c *Credentials) Current(ctx context.Context) (string, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, _, err := c.kv.Get(ctx, db.KeyAuthToken)
	return v, c.applied, err
}

// Begin hands out the sequence number for a refresh about to be sent
func (c *Credentials) Begin() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.issued++
	return c.issued
}

// Commit writes the tokens from the refresh started with seq. It reports
// false, and writes nothing, when newer credentials were applied meanwhile.
func (c *Credentials) Commit(ctx context.Context, seq uint64, token, refreshToken string) (bool, error) {
	c.mu.Lock()
	if seq <= c.applied {
		c.mu.Unlock()
		logger.Debug("Discarding stale token", logger.F("seq", seq))
		return false, nil
	}
	c.applied = seq

	err := c.kv.Set(ctx, db.KeyAuthToken, token)
	if err == nil && refreshToken != "" {
		err = c.kv.Set(ctx, db.KeyRefreshToken, refreshToken)
	}
	c.mu.Unlock()

	if err != nil {
		return false, err
	}
	c.emit(Event{Kind: TokenRefreshed, Token: token, Seq: seq})
	return true, nil
}

// Clear wipes tokens and the cached user and supersedes any refresh in flight
func (c *Credentials) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.issued++
	c.applied = c.issued
	seq := c.applied
	err := c.kv.Delete(ctx, db.KeyAuthToken, db.KeyRefreshToken, db.KeyUserData)
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	c.emit(Event{Kind: SessionCleared, Seq: seq})
	return nil
}

// Subscribe registers fn for credential events and returns its cancel func.
// fn runs on the goroutine that caused the change.
func (c *Credentials) Subscribe(fn func(Event)) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Credentials) emit(ev Event) {
	c.listenersMu.Lock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenersMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
