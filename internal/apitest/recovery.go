package apitest

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/existflow/ecofinds/internal/model"
)

// Tokens that a real backend would email are kept here instead, so tests can
// read them back with ResetToken and VerificationToken.

// ResetToken returns the newest unused password reset token for email
func (s *Server) ResetToken(email string) string {
	return s.mailed(s.resetTokens, email)
}

// VerificationToken returns the newest unused verification token for email
func (s *Server) VerificationToken(email string) string {
	return s.mailed(s.verifyTokens, email)
}

func (s *Server) mailed(tokens map[string]string, email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return ""
	}
	for tok, owner := range tokens {
		if owner == userID {
			return tok
		}
	}
	return ""
}

// issueOnceLocked replaces any earlier token of userID in tokens. s.mu must be held.
func issueOnceLocked(tokens map[string]string, userID string) string {
	for tok, owner := range tokens {
		if owner == userID {
			delete(tokens, tok)
		}
	}
	tok := uuid.NewString()
	tokens[tok] = userID
	return tok
}

func (s *Server) handleForgotPassword(c echo.Context) error {
	var req model.PasswordResetRequest
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return jsonError(c, http.StatusBadRequest, "email is required")
	}

	s.mu.Lock()
	// Unknown addresses get the same answer, which hides who has an account
	if userID, ok := s.byEmail[strings.ToLower(req.Email)]; ok {
		issueOnceLocked(s.resetTokens, userID)
	}
	s.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleResetPassword(c echo.Context) error {
	var req model.PasswordReset
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}
	if req.NewPassword == "" {
		return jsonError(c, http.StatusBadRequest, "new password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, "internal error")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.resetTokens[req.Token]
	if !ok {
		return jsonError(c, http.StatusBadRequest, "Reset link is invalid or has expired.")
	}
	delete(s.resetTokens, req.Token)
	s.accounts[userID].passwordHash = hash

	// A reset signs the account out everywhere
	for jti, owner := range s.liveTokens {
		if owner == userID {
			delete(s.liveTokens, jti)
		}
	}
	for rt, owner := range s.refreshTokens {
		if owner == userID {
			delete(s.refreshTokens, rt)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleVerifyEmail(c echo.Context) error {
	var req model.EmailVerification
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.verifyTokens[req.Token]
	if !ok {
		return jsonError(c, http.StatusBadRequest, "Verification link is invalid or has expired.")
	}
	delete(s.verifyTokens, req.Token)
	s.accounts[userID].user.IsVerified = true
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleResendVerification(c echo.Context) error {
	userID := c.Get("user_id").(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accounts[userID].user.IsVerified {
		return jsonError(c, http.StatusBadRequest, "Email is already verified.")
	}
	issueOnceLocked(s.verifyTokens, userID)
	return c.NoContent(http.StatusNoContent)
}
