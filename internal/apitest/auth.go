package apitest

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/existflow/ecofinds/internal/model"
)

type account struct {
	user         model.User
	passwordHash []byte
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// AddUser creates an account directly and returns its user
func (s *Server) AddUser(email, password string, u model.User) model.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = email
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.accounts[u.ID] = &account{user: u, passwordHash: hash}
	s.byEmail[strings.ToLower(email)] = u.ID
	return u
}

// issueTokensLocked creates an access and refresh token pair. s.mu must be held.
func (s *Server) issueTokensLocked(userID string) (string, string, error) {
	jti := uuid.NewString()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", err
	}
	refresh := uuid.NewString()

	s.liveTokens[jti] = userID
	s.refreshTokens[refresh] = userID
	return token, refresh, nil
}

// ExpireAccessTokens invalidates every access token issued so far.
// Refresh tokens keep working.
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveTokens = make(map[string]string)
}

// RevokeRefreshTokens invalidates every refresh token issued so far
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens = make(map[string]string)
}

// parseToken validates an access token and returns its user ID
func (s *Server) parseToken(raw string) (string, bool) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.liveTokens[claims.ID]
	return userID, ok && userID == claims.Subject
}

// authMiddleware checks the bearer token
func (s *Server) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get("Authorization")
		if auth == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid authorization format"})
		}

		userID, ok := s.parseToken(token)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
		}

		c.Set("user_id", userID)
		return next(c)
	}
}

func (s *Server) authResponse(c echo.Context, status int, userID string) error {
	s.mu.Lock()
	token, refresh, err := s.issueTokensLocked(userID)
	user := s.accounts[userID].user
	s.mu.Unlock()
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, "internal error")
	}

	return c.JSON(status, model.AuthResponse{User: &user, Token: token, RefreshToken: refresh})
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}
	if req.Email == "" || req.Password == "" || req.Username == "" {
		return jsonError(c, http.StatusBadRequest, "email, username and password are required")
	}

	s.mu.Lock()
	_, exists := s.byEmail[strings.ToLower(req.Email)]
	s.mu.Unlock()
	if exists {
		return jsonError(c, http.StatusConflict, "An account with this email already exists.")
	}

	u := s.AddUser(req.Email, req.Password, model.User{
		Username:  req.Username,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	s.mu.Lock()
	issueOnceLocked(s.verifyTokens, u.ID)
	s.mu.Unlock()
	return s.authResponse(c, http.StatusCreated, u.ID)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req model.LoginCredentials
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}

	s.mu.Lock()
	var acct *account
	if id, ok := s.byEmail[strings.ToLower(req.Email)]; ok {
		acct = s.accounts[id]
	}
	s.mu.Unlock()

	if acct == nil || bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(req.Password)) != nil {
		return jsonError(c, http.StatusUnauthorized, "Invalid email or password.")
	}
	return s.authResponse(c, http.StatusOK, acct.user.ID)
}

func (s *Server) handleRefresh(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}

	s.mu.Lock()
	userID, ok := s.refreshTokens[req.RefreshToken]
	if !ok {
		s.mu.Unlock()
		return jsonError(c, http.StatusUnauthorized, "invalid refresh token")
	}
	delete(s.refreshTokens, req.RefreshToken)
	token, refresh, err := s.issueTokensLocked(userID)
	s.mu.Unlock()
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, model.AuthResponse{Token: token, RefreshToken: refresh})
}

func (s *Server) handleLogout(c echo.Context) error {
	if userID, ok := s.parseToken(strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")); ok {
		s.mu.Lock()
		for jti, owner := range s.liveTokens {
			if owner == userID {
				delete(s.liveTokens, jti)
			}
		}
		s.mu.Unlock()
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleMe(c echo.Context) error {
	userID := c.Get("user_id").(string)

	s.mu.Lock()
	acct, ok := s.accounts[userID]
	var user model.User
	if ok {
		user = acct.user
	}
	s.mu.Unlock()

	if !ok {
		return jsonError(c, http.StatusNotFound, "user not found")
	}
	return c.JSON(http.StatusOK, user)
}

func (s *Server) handleProfile(c echo.Context) error {
	userID := c.Get("user_id").(string)

	var update model.ProfileUpdate
	if err := c.Bind(&update); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}

	s.mu.Lock()
	acct := s.accounts[userID]
	update.Apply(&acct.user)
	acct.user.UpdatedAt = time.Now().UTC()
	user := acct.user
	s.mu.Unlock()

	return c.JSON(http.StatusOK, user)
}

func (s *Server) handleChangePassword(c echo.Context) error {
	userID := c.Get("user_id").(string)

	var req model.PasswordChange
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request")
	}

	s.mu.Lock()
	acct := s.accounts[userID]
	hash := acct.passwordHash
	s.mu.Unlock()

	if bcrypt.CompareHashAndPassword(hash, []byte(req.CurrentPassword)) != nil {
		return jsonError(c, http.StatusBadRequest, "Current password is incorrect")
	}
	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, "internal error")
	}

	s.mu.Lock()
	acct.passwordHash = newHash
	s.mu.Unlock()
	return c.NoContent(http.StatusNoContent)
}
