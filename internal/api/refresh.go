package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/metrics"
	"github.com/existflow/ecofinds/internal/model"
)

var errSessionEnded = errors.New("session ended while refreshing")

// refresher lets concurrent callers share one in-flight refresh
type refresher struct {
	mu       sync.Mutex
	inflight *refreshCall
}

type refreshCall struct {
	done   chan struct{}
	shared int // callers that joined instead of sending their own request
	token  string
	err    error
}

// Refresh exchanges the stored refresh token for a new access token and
// returns the token now in effect. The 401 protocol and explicit refreshes
// both go through here.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	c.refresher.mu.Lock()
	if call := c.refresher.inflight; call != nil {
		call.shared++
		c.refresher.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	c.refresher.inflight = call
	c.refresher.mu.Unlock()

	call.token, call.err = c.refresh(ctx)

	c.refresher.mu.Lock()
	c.refresher.inflight = nil
	c.refresher.mu.Unlock()
	close(call.done)

	return call.token, call.err
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	refreshToken, err := c.creds.RefreshToken(ctx)
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		c.metrics.ObserveRefresh(metrics.OutcomeFailure)
		return "", ErrNoRefreshToken
	}

	seq := c.creds.Begin()
	req := Request{
		Method:      http.MethodPost,
		Path:        "/auth/refresh",
		Body:        map[string]string{"refreshToken": refreshToken},
		NoAuthRetry: true,
	}

	status, body, err := c.send(ctx, req, "")
	if err != nil {
		c.metrics.ObserveRefresh(metrics.OutcomeFailure)
		return "", err
	}
	var resp model.AuthResponse
	if err := decode(status, body, &resp); err != nil {
		c.metrics.ObserveRefresh(metrics.OutcomeFailure)
		return "", err
	}
	if resp.Token == "" {
		c.metrics.ObserveRefresh(metrics.OutcomeFailure)
		return "", errors.New("refresh response carried no token")
	}

	applied, err := c.creds.Commit(ctx, seq, resp.Token, resp.RefreshToken)
	if err != nil {
		c.metrics.ObserveRefresh(metrics.OutcomeFailure)
		return "", err
	}
	if !applied {
		c.metrics.ObserveRefresh(metrics.OutcomeStale)
		current, err := c.creds.Token(ctx)
		if err != nil {
			return "", err
		}
		if current == "" {
			return "", errSessionEnded
		}
		return current, nil
	}

	c.metrics.ObserveRefresh(metrics.OutcomeSuccess)
	logger.Info("Token refreshed")
	return resp.Token, nil
}
