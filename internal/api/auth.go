package api

import (
	"context"
	"net/http"

	"github.com/existflow/ecofinds/internal/model"
)

// Login authenticates with email and password. Persisting the returned
// credentials is the caller's job.
func (c *Client) Login(ctx context.Context, creds model.LoginCredentials) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/login", Body: creds, NoAuthRetry: true}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account and returns its first credentials
func (c *Client) Register(ctx context.Context, data model.RegisterData) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/register", Body: data, NoAuthRetry: true}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout tells the server to drop the session
func (c *Client) Logout(ctx context.Context) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/logout", NoAuthRetry: true}, nil)
}

// Me returns the user the current token belongs to
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := c.Get(ctx, "/auth/me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateProfile changes profile fields and returns the updated user
func (c *Client) UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.User, error) {
	var u model.User
	if err := c.Put(ctx, "/auth/profile", update, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ChangePassword replaces the account password
func (c *Client) ChangePassword(ctx context.Context, change model.PasswordChange) error {
	return c.Put(ctx, "/auth/change-password", change, nil)
}

// RequestPasswordReset asks the server to send a reset link to req.Email
func (c *Client) RequestPasswordReset(ctx context.Context, req model.PasswordResetRequest) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/forgot-password", Body: req, NoAuthRetry: true}, nil)
}

// ResetPassword sets a new password with the token from a reset email
func (c *Client) ResetPassword(ctx context.Context, reset model.PasswordReset) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/reset-password", Body: reset, NoAuthRetry: true}, nil)
}

// VerifyEmail confirms the account email with the token from a verification email
func (c *Client) VerifyEmail(ctx context.Context, v model.EmailVerification) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: "/auth/verify-email", Body: v, NoAuthRetry: true}, nil)
}

// ResendVerification asks for another verification email for the signed in user
func (c *Client) ResendVerification(ctx context.Context) error {
	return c.Post(ctx, "/auth/resend-verification", nil, nil)
}
