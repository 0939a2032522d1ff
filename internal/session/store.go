package session

import (
	"context"
	"errors"
	"sync"

	"github.com/existflow/ecofinds/internal/api"
	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/model"
)

// ErrBusy is returned when an auth operation is already in flight
var ErrBusy = errors.New("another authentication request is in progress")

// ErrSessionEnded is returned when the persisted session was cleared before
// a sign in could be adopted
var ErrSessionEnded = errors.New("session ended before sign in completed")

// AuthAPI is the part of the HTTP client the store needs. *api.Client implements it.
type AuthAPI interface {
	Login(ctx context.Context, creds model.LoginCredentials) (*model.AuthResponse, error)
	Register(ctx context.Context, data model.RegisterData) (*model.AuthResponse, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*model.User, error)
	Refresh(ctx context.Context) (string, error)
	UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.User, error)
	ChangePassword(ctx context.Context, change model.PasswordChange) error
	RequestPasswordReset(ctx context.Context, req model.PasswordResetRequest) error
	ResetPassword(ctx context.Context, reset model.PasswordReset) error
	VerifyEmail(ctx context.Context, v model.EmailVerification) error
	ResendVerification(ctx context.Context) error
}

// Store owns the session state of one client
type Store struct {
	api   AuthAPI
	creds *api.Credentials

	mu       sync.Mutex
	state    State
	busy     bool
	credSeq  uint64 // newest credential write reflected in state
	subs     map[int]chan State
	nextSub  int
	onLogout []func()

	unsubscribe func()
}

// NewStore creates a store. Credential events from the HTTP client, such as a
// transparent token refresh or a forced logout, are folded into its state.
func NewStore(authAPI AuthAPI, creds *api.Credentials) *Store {
	s := &Store{
		api:   authAPI,
		creds: creds,
		subs:  make(map[int]chan State),
	}
	s.unsubscribe = creds.Subscribe(s.onCredentialEvent)
	return s
}

func (s *Store) onCredentialEvent(ev api.Event) {
	switch ev.Kind {
	case api.TokenRefreshed:
		s.dispatchAt(ev.Seq, TokenRefreshed{Token: ev.Token})
	case api.SessionCleared:
		if s.State().IsAuthenticated {
			logger.Warn("Session cleared by the server")
			s.dispatchAt(ev.Seq, AuthFailure{Message: api.MsgExpired})
		} else {
			s.observe(ev.Seq)
		}
	}
}

// State returns a snapshot of the current state
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe returns a channel that always holds the latest state. Slow
// readers skip intermediate states. Call the returned func to stop.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, 1)
	ch <- s.state
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
}

// OnLogout registers fn to run whenever an authenticated session ends,
// whether by Logout, a failed refresh or an expired token.
func (s *Store) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLogout = append(s.onLogout, fn)
}

func (s *Store) dispatch(a Action) State {
	next, _ := s.dispatchAt(0, a)
	return next
}

// observe records a credential write that needs no state change
func (s *Store) observe(seq uint64) {
	s.mu.Lock()
	if seq > s.credSeq {
		s.credSeq = seq
	}
	s.mu.Unlock()
}

// dispatchAt applies an action derived from the credential write numbered seq.
// It reports false, and changes nothing, when a newer write was already
// reflected. Seq 0 is not ordered against credential writes.
func (s *Store) dispatchAt(seq uint64, a Action) (State, bool) {
	s.mu.Lock()
	if seq != 0 {
		if current := s.credSeq; seq < current {
			st := s.state
			s.mu.Unlock()
			logger.Debug("Discarding stale session update", logger.F("seq", seq), logger.F("current", current))
			return st, false
		}
		s.credSeq = seq
	}
	prev := s.state
	s.state = Reduce(s.state, a)
	next := s.state
	for _, ch := range s.subs {
		publish(ch, next)
	}
	var hooks []func()
	if prev.IsAuthenticated && !next.IsAuthenticated {
		hooks = append(hooks, s.onLogout...)
	}
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return next, true
}

// publish replaces whatever the subscriber has not read yet
func publish(ch chan State, st State) {
	select {
	case ch <- st:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- st:
	default:
	}
}

func (s *Store) begin() error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	s.mu.Unlock()

	s.dispatch(AuthStart{})
	return nil
}

func (s *Store) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// fail records err as the session error and returns it
func (s *Store) fail(op string, err error) error {
	logger.Warn(op+" failed", logger.F("error", err))
	s.dispatch(AuthFailure{Message: api.Message(err)})
	return err
}

// Login authenticates and persists the session
func (s *Store) Login(ctx context.Context, creds model.LoginCredentials) error {
	if err := api.Validate(creds); err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	resp, err := s.api.Login(ctx, creds)
	if err != nil {
		return s.fail("Login", err)
	}
	return s.adopt(ctx, "Login", resp)
}

// Register creates an account and signs in with it. The form is checked
// locally first and nothing is sent when it is invalid.
func (s *Store) Register(ctx context.Context, data model.RegisterData) error {
	if err := api.Validate(data); err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}
	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	resp, err := s.api.Register(ctx, data)
	if err != nil {
		return s.fail("Register", err)
	}
	return s.adopt(ctx, "Register", resp)
}

func (s *Store) adopt(ctx context.Context, op string, resp *model.AuthResponse) error {
	if resp.User == nil || resp.Token == "" {
		return s.fail(op, errors.New("incomplete auth response"))
	}
	if err := s.creds.Store(ctx, resp); err != nil {
		return s.fail(op, err)
	}
	if err := s.signIn(ctx, resp.User); err != nil {
		return s.fail(op, err)
	}
	logger.Info(op+" succeeded", logger.F("user_id", resp.User.ID))
	return nil
}

// signIn adopts user with whatever token is persisted now. A refresh that
// lands between the write and the dispatch is picked up by reading again.
func (s *Store) signIn(ctx context.Context, user *model.User) error {
	for {
		token, seq, err := s.creds.Current(ctx)
		if err != nil {
			return err
		}
		if token == "" {
			return ErrSessionEnded
		}
		if _, ok := s.dispatchAt(seq, AuthSuccess{User: user, Token: token}); ok {
			return nil
		}
	}
}

// Logout ends the session. The server is told on a best-effort basis; local
// state is cleared regardless.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.api.Logout(ctx); err != nil {
		logger.Warn("Logout request failed", logger.F("error", err))
	}

	s.dispatch(AuthLogout{})
	if err := s.creds.Clear(context.WithoutCancel(ctx)); err != nil {
		logger.Error("Failed to clear session", logger.F("error", err))
		return err
	}
	logger.Info("Logged out")
	return nil
}

// Initialize restores a persisted session after checking it with the server.
// Any failure clears the persisted session so no stale identity survives.
func (s *Store) Initialize(ctx context.Context) error {
	token, err := s.creds.Token(ctx)
	if err != nil {
		return err
	}
	user, err := s.creds.User(ctx)
	if err != nil {
		logger.Warn("Discarding unreadable cached user", logger.F("error", err))
		return s.creds.Clear(ctx)
	}
	if token == "" || user == nil {
		return nil
	}

	if err := s.begin(); err != nil {
		return err
	}
	defer s.end()

	me, err := s.api.Me(ctx)
	if err != nil {
		logger.Warn("Stored session rejected", logger.F("error", err))
		s.dispatch(AuthLogout{})
		if cerr := s.creds.Clear(context.WithoutCancel(ctx)); cerr != nil {
			logger.Error("Failed to clear session", logger.F("error", cerr))
		}
		return err
	}

	if err := s.creds.SaveUser(ctx, me); err != nil {
		logger.Warn("Failed to cache user", logger.F("error", err))
	}
	// Me may have gone through a refresh
	if err := s.signIn(ctx, me); err != nil {
		return s.fail("Initialize", err)
	}
	logger.Info("Session restored", logger.F("user_id", me.ID))
	return nil
}

// RefreshToken refreshes the access token now. A failed refresh logs out,
// unless another login or logout replaced the credentials meanwhile.
func (s *Store) RefreshToken(ctx context.Context) error {
	_, start, err := s.creds.Current(ctx)
	if err != nil {
		return err
	}
	if _, err := s.api.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if _, now, cerr := s.creds.Current(ctx); cerr == nil && now != start {
			logger.Warn("Token refresh failed after the session changed", logger.F("error", err))
			return err
		}
		logger.Warn("Token refresh failed, logging out", logger.F("error", err))
		s.dispatch(AuthLogout{})
		if cerr := s.creds.Clear(context.WithoutCancel(ctx)); cerr != nil {
			logger.Error("Failed to clear session", logger.F("error", cerr))
		}
		return err
	}

	// The refresh may have lost to a newer login or logout, so take the
	// token from storage rather than from the response.
	token, seq, err := s.creds.Current(ctx)
	if err != nil {
		return err
	}
	s.dispatchAt(seq, TokenRefreshed{Token: token})
	return nil
}

// UpdateProfile changes profile fields. A failure keeps the session.
func (s *Store) UpdateProfile(ctx context.Context, update model.ProfileUpdate) error {
	user, err := s.api.UpdateProfile(ctx, update)
	if err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}
	if err := s.creds.SaveUser(ctx, user); err != nil {
		logger.Warn("Failed to cache user", logger.F("error", err))
	}
	s.dispatch(UpdateUser{User: user})
	return nil
}

// ChangePassword replaces the account password
func (s *Store) ChangePassword(ctx context.Context, current, next string) error {
	change := model.PasswordChange{CurrentPassword: current, NewPassword: next}
	if err := api.Validate(change); err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}
	if err := s.api.ChangePassword(ctx, change); err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}
	return nil
}

// RequestPasswordReset asks for a reset email. It works signed out and never
// touches the session.
func (s *Store) RequestPasswordReset(ctx context.Context, email string) error {
	req := model.PasswordResetRequest{Email: email}
	if err := api.Validate(req); err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}
	if err := s.api.RequestPasswordReset(ctx, req); err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}
	logger.Info("Password reset requested")
	return nil
}

// ResetPassword sets a new password with a token from a reset email. The
// local session is left alone; if the server revoked it, the next request
// ends it.
func (s *Store) ResetPassword(ctx context.Context, token, newPassword string) error {
	reset := model.PasswordReset{Token: token, NewPassword: newPassword}
	if err := api.Validate(reset); err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}
	if err := s.api.ResetPassword(ctx, reset); err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}
	logger.Info("Password reset")
	return nil
}

// VerifyEmail confirms the account email. A signed in user is marked
// verified right away.
func (s *Store) VerifyEmail(ctx context.Context, token string) error {
	v := model.EmailVerification{Token: token}
	if err := api.Validate(v); err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}
	if err := s.api.VerifyEmail(ctx, v); err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}

	user := s.State().User
	if user == nil {
		return nil
	}
	verified := *user
	verified.IsVerified = true
	if err := s.creds.SaveUser(ctx, &verified); err != nil {
		logger.Warn("Failed to cache user", logger.F("error", err))
	}
	s.dispatch(UpdateUser{User: &verified})
	return nil
}

// ResendVerification asks for another verification email
func (s *Store) ResendVerification(ctx context.Context) error {
	if err := s.api.ResendVerification(ctx); err != nil {
		s.dispatch(ErrorRaised{Message: api.Message(err)})
		return err
	}
	return nil
}

// ClearError dismisses the current error
func (s *Store) ClearError() {
	s.dispatch(ClearError{})
}

// Close detaches the store from credential events and ends subscriptions
func (s *Store) Close() {
	s.unsubscribe()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
