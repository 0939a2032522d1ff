// Package apitest runs an in-memory marketplace API for tests and local
// development.
//
// It serves the auth and cart endpoints the client uses, issues real JWT
// access tokens and lets tests inject failures per route.
package apitest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/model"
)

const apiPrefix = "/api"

// Server is a fake of the marketplace REST API
type Server struct {
	echo *echo.Echo
	http *httptest.Server

	secret   []byte
	tokenTTL time.Duration

	mu            sync.Mutex
	accounts      map[string]*account // by user ID
	byEmail       map[string]string   // email -> user ID
	liveTokens    map[string]string   // access token ID -> user ID
	refreshTokens map[string]string   // refresh token -> user ID
	resetTokens   map[string]string   // password reset token -> user ID
	verifyTokens  map[string]string   // email verification token -> user ID
	products      map[string]model.CartProduct
	carts         map[string]*model.Cart // by user ID
	discounts     map[string]float64     // code -> fraction off
	applied       map[string]string      // user ID -> applied code
	orders        int

	faults faults
}

// NewServer builds an empty API without starting a listener
func NewServer() *Server {
	s := &Server{
		secret:        []byte("apitest-secret"),
		tokenTTL:      15 * time.Minute,
		accounts:      make(map[string]*account),
		byEmail:       make(map[string]string),
		liveTokens:    make(map[string]string),
		refreshTokens: make(map[string]string),
		resetTokens:   make(map[string]string),
		verifyTokens:  make(map[string]string),
		products:      make(map[string]model.CartProduct),
		carts:         make(map[string]*model.Cart),
		discounts:     map[string]float64{"ECO10": 0.10},
		applied:       make(map[string]string),
		faults:        newFaults(),
	}
	s.setupEcho()
	return s
}

// New starts a server that is closed when the test ends
func New(t testing.TB) *Server {
	t.Helper()

	s := NewServer()
	s.http = httptest.NewServer(s.echo)
	t.Cleanup(s.Close)
	return s
}

// Start serves on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops a server started with Start
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) setupEcho() {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("apitest request",
				logger.F("method", c.Request().Method),
				logger.F("uri", c.Request().RequestURI),
				logger.F("status", c.Response().Status),
				logger.F("duration", time.Since(start).String()))
			return err
		}
	})
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.faultMiddleware)

	api := e.Group(apiPrefix)

	api.POST("/auth/login", s.handleLogin)
	api.POST("/auth/register", s.handleRegister)
	api.POST("/auth/refresh", s.handleRefresh)
	api.POST("/auth/logout", s.handleLogout)
	api.POST("/auth/forgot-password", s.handleForgotPassword)
	api.POST("/auth/reset-password", s.handleResetPassword)
	api.POST("/auth/verify-email", s.handleVerifyEmail)

	protected := api.Group("")
	protected.Use(s.authMiddleware)
	protected.GET("/auth/me", s.handleMe)
	protected.PUT("/auth/profile", s.handleProfile)
	protected.PUT("/auth/change-password", s.handleChangePassword)
	protected.POST("/auth/resend-verification", s.handleResendVerification)

	protected.GET("/cart", s.handleGetCart)
	protected.DELETE("/cart", s.handleClearCart)
	protected.POST("/cart/items", s.handleAddItem)
	protected.PUT("/cart/items/:id", s.handleUpdateItem)
	protected.DELETE("/cart/items/:id", s.handleRemoveItem)
	protected.GET("/cart/summary", s.handleSummary)
	protected.GET("/cart/count", s.handleCount)
	protected.POST("/cart/sync", s.handleSync)
	protected.POST("/cart/merge", s.handleMerge)
	protected.POST("/cart/discount", s.handleApplyDiscount)
	protected.DELETE("/cart/discount", s.handleRemoveDiscount)
	protected.GET("/cart/validate", s.handleValidate)
	protected.POST("/cart/shipping", s.handleShipping)
	protected.POST("/cart/checkout", s.handleCheckout)

	s.echo = e
}

// URL returns the API root to configure clients with. Only servers made
// by New have one.
func (s *Server) URL() string {
	return s.http.URL + apiPrefix
}

// Close shuts down the test listener
func (s *Server) Close() {
	if s.http != nil {
		s.http.Close()
	}
}

func jsonError(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"message": message})
}
