package cli

import (
	"context"
	"fmt"

	"github.com/existflow/ecofinds/internal/api"
	"github.com/existflow/ecofinds/internal/cart"
	"github.com/existflow/ecofinds/internal/config"
	"github.com/existflow/ecofinds/internal/db"
	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/metrics"
	"github.com/existflow/ecofinds/internal/session"
)

// App wires the stores of one process together
type App struct {
	Config  *config.Config
	DB      *db.DB
	Creds   *api.Credentials
	Client  *api.Client
	Metrics *metrics.Metrics
	Session *session.Store
	Cart    *cart.Store
}

// userError prints as the message a user should see while still
// unwrapping to the underlying error
type userError struct {
	err error
}

func (e userError) Error() string { return api.Message(e.err) }

func (e userError) Unwrap() error { return e.err }

// NewApp opens local storage and builds the client and stores from cfg
func NewApp(cfg *config.Config) (*App, error) {
	var opts []db.Option
	if cfg.Passphrase != "" {
		opts = append(opts, db.WithPassphrase(cfg.Passphrase))
	}

	var (
		database *db.DB
		err      error
	)
	if cfg.StoragePath != "" {
		database, err = db.Open(cfg.StoragePath, opts...)
	} else {
		database, err = db.OpenDefault(opts...)
	}
	if err != nil {
		logger.Error("Failed to open database", logger.F("error", err))
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	creds := api.NewCredentials(database)
	m := metrics.New()
	client := api.NewClient(api.Config{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.Timeout(),
		RateLimit: cfg.RateLimit,
		Metrics:   m,
	}, creds)

	sess := session.NewStore(client, creds)
	carts := cart.NewStore(client, database,
		cart.WithMetrics(m),
		cart.WithBackgroundSync(cfg.SyncOnStartup))

	// No cart survives the session it belonged to
	sess.OnLogout(carts.Reset)

	return &App{
		Config:  cfg,
		DB:      database,
		Creds:   creds,
		Client:  client,
		Metrics: m,
		Session: sess,
		Cart:    carts,
	}, nil
}

// Restore brings back a persisted session. A stale session is cleared and
// reported as logged out rather than as an error.
func (a *App) Restore(ctx context.Context) bool {
	if err := a.Session.Initialize(ctx); err != nil {
		logger.Warn("Could not restore session", logger.F("error", err))
	}
	return a.Session.State().IsAuthenticated
}

// Close stops background work and closes local storage
func (a *App) Close() {
	a.Cart.Close()
	a.Session.Close()
	if err := a.DB.Close(); err != nil {
		logger.Warn("Failed to close database", logger.F("error", err))
	}
	logger.Info("Database closed")
}
