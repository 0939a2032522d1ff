// Package session holds the authenticated identity of the client.
//
// State changes go through Reduce, a pure transition function over a closed
// set of actions. Store wraps it with the I/O: API calls and persisted
// credentials.
package session

import "github.com/existflow/ecofinds/internal/model"

// State is the session as seen by views
type State struct {
	User            *model.User
	Token           string
	IsAuthenticated bool
	IsLoading       bool
	Error           string
}

// Phase names where the session is in its lifecycle
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAuthenticating
	PhaseAuthenticated
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAuthenticating:
		return "authenticating"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Phase derives the lifecycle phase from the state
func (s State) Phase() Phase {
	switch {
	case s.IsLoading:
		return PhaseAuthenticating
	case s.IsAuthenticated:
		return PhaseAuthenticated
	case s.Error != "":
		return PhaseError
	default:
		return PhaseIdle
	}
}

// Action is one of the session transitions below
type Action interface {
	sessionAction()
}

// AuthStart marks an auth operation in flight
type AuthStart struct{}

// AuthSuccess adopts an identity
type AuthSuccess struct {
	User  *model.User
	Token string
}

// AuthFailure drops any identity and records why
type AuthFailure struct {
	Message string
}

// AuthLogout returns to the initial state
type AuthLogout struct{}

// ClearError dismisses the current error
type ClearError struct{}

// UpdateUser replaces the user of an authenticated session
type UpdateUser struct {
	User *model.User
}

// TokenRefreshed swaps in a refreshed access token
type TokenRefreshed struct {
	Token string
}

// ErrorRaised records an error without touching the identity
type ErrorRaised struct {
	Message string
}

func (AuthStart) sessionAction()      {}
func (AuthSuccess) sessionAction()    {}
func (AuthFailure) sessionAction()    {}
func (AuthLogout) sessionAction()     {}
func (ClearError) sessionAction()     {}
func (UpdateUser) sessionAction()     {}
func (TokenRefreshed) sessionAction() {}
func (ErrorRaised) sessionAction()    {}

// Reduce returns the state after applying a to s.
// IsAuthenticated holds exactly when both User and Token are set.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case AuthStart:
		s.IsLoading = true
		s.Error = ""
	case AuthSuccess:
		s = State{User: a.User, Token: a.Token}
	case AuthFailure:
		s = State{Error: a.Message}
	case AuthLogout:
		s = State{}
	case ClearError:
		s.Error = ""
	case UpdateUser:
		if s.User == nil || a.User == nil {
			return s
		}
		s.User = a.User
	case TokenRefreshed:
		if s.User == nil || a.Token == "" {
			return s
		}
		s.Token = a.Token
	case ErrorRaised:
		s.IsLoading = false
		s.Error = a.Message
	}

	s.IsAuthenticated = s.User != nil && s.Token != ""
	return s
}
