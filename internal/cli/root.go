package cli

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/existflow/ecofinds/internal/config"
	"github.com/existflow/ecofinds/internal/db"
	"github.com/existflow/ecofinds/internal/logger"
	"github.com/existflow/ecofinds/internal/tui"
)

var (
	logLevel   string
	logFile    string
	logConsole bool
	apiURL     string

	appConfig *config.Config
)

// errNotLoggedIn is returned by commands that need a session
var errNotLoggedIn = errors.New("not logged in, run 'ecofinds auth login' first")

var rootCmd = &cobra.Command{
	Use:   "ecofinds",
	Short: "EcoFinds - second-hand marketplace client",
	Long: `EcoFinds keeps your marketplace session and shopping cart in step with
the server, and falls back to the last known cart when offline.

Run 'ecofinds' without arguments to launch the interactive cart view.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load config from file (or defaults if not exists)
		cfg, err := config.Load()
		if err != nil {
			logger.Warn("Failed to load config, using defaults", logger.F("error", err))
			cfg = config.DefaultConfig()
		}

		// Flags override the file and are remembered
		configChanged := false
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
			configChanged = true
		}
		if cmd.Flags().Changed("log-file") {
			cfg.LogFile = logFile
			configChanged = true
		}
		if cmd.Flags().Changed("log-console") {
			cfg.LogConsole = logConsole
			configChanged = true
		}
		if cmd.Flags().Changed("api-url") {
			if err := cfg.Set("api_base_url", apiURL); err != nil {
				return err
			}
			configChanged = true
		}

		if configChanged {
			if err := cfg.Save(); err != nil {
				logger.Warn("Failed to save config", logger.F("error", err))
			}
		}

		logConfig := logger.Config{
			Level:      logger.ParseLevel(cfg.LogLevel),
			FilePath:   cfg.LogFile,
			MaxSize:    10 * 1024 * 1024, // 10MB
			MaxAge:     7,
			MaxBackups: 5,
			Console:    cfg.LogConsole,
		}
		if err := logger.Init(logConfig); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		appConfig = cfg
		logger.Info("EcoFinds started", logger.F("command", cmd.Name()))
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		app.Restore(ctx)

		theme := tui.ThemeSystem
		if v, ok, err := app.DB.Get(ctx, db.KeyTheme); err == nil && ok {
			if t, err := tui.ParseTheme(v); err == nil {
				theme = t
			}
		}

		logger.Info("Launching TUI")
		m := tui.NewModel(tui.Deps{
			Session:      app.Session,
			Cart:         app.Cart,
			Metrics:      app.Metrics,
			Theme:        theme,
			ShowMetrics:  app.Config.MetricsInView,
			ConfirmClear: app.Config.ConfirmClear,
		})
		defer m.Close()
		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

		if _, err := p.Run(); err != nil {
			logger.Error("TUI error", logger.F("error", err))
			return fmt.Errorf("failed to run TUI: %w", err)
		}

		logger.Info("TUI exited normally")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Info("EcoFinds exiting", logger.F("command", cmd.Name()))
	},
}

// Execute runs the root command
func Execute() error {
	defer logger.Close()
	return rootCmd.Execute()
}

func openApp() (*App, error) {
	cfg := appConfig
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return NewApp(cfg)
}

// withApp runs fn against a freshly opened app
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	app, err := openApp()
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(cmd.Context(), app)
}

// withSession is withApp for commands that need a logged in user
func withSession(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	return withApp(cmd, func(ctx context.Context, app *App) error {
		if !app.Restore(ctx) {
			return errNotLoggedIn
		}
		return fn(ctx, app)
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file")
	rootCmd.PersistentFlags().BoolVar(&logConsole, "log-console", false, "Enable console logging")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API base URL, e.g. http://localhost:8000/api")

	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(cartCmd)
	rootCmd.AddCommand(themeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
}
