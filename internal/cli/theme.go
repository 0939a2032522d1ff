package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/existflow/ecofinds/internal/db"
	"github.com/existflow/ecofinds/internal/tui"
)

var themeCmd = &cobra.Command{
	Use:       "theme [light|dark|system]",
	Short:     "Show or set the color theme",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{string(tui.ThemeLight), string(tui.ThemeDark), string(tui.ThemeSystem)},
	RunE:      runTheme,
}

func runTheme(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *App) error {
		if len(args) == 0 {
			current, ok, err := app.DB.Get(ctx, db.KeyTheme)
			if err != nil {
				return err
			}
			if !ok {
				current = string(tui.ThemeSystem)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🎨 Theme: %s\n", current)
			return nil
		}

		theme, err := tui.ParseTheme(args[0])
		if err != nil {
			return err
		}
		if err := app.DB.Set(ctx, db.KeyTheme, string(theme)); err != nil {
			return fmt.Errorf("failed to save theme: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Theme set to %s\n", theme)
		return nil
	})
}
