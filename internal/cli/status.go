package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/existflow/ecofinds/internal/api"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, cart and connection status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *App) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "🌐 API:     %s\n", app.Client.BaseURL())

			if !app.Restore(ctx) {
				fmt.Fprintln(out, "👤 Session: logged out")
				return nil
			}
			st := app.Session.State()
			fmt.Fprintf(out, "👤 Session: %s\n", st.User.DisplayName())
			if exp, ok := api.TokenExpiry(st.Token); ok {
				fmt.Fprintf(out, "   Token expires %s\n", exp.Local().Format("Jan 2 15:04"))
			}

			src, err := app.Cart.Initialize(ctx)
			if err != nil {
				fmt.Fprintf(out, "🛒 Cart:    unavailable (%s)\n", api.Message(err))
			} else {
				fmt.Fprintf(out, "🛒 Cart:    %d items (%s)\n", app.Cart.State().CartCount, src)
			}
			app.Cart.Wait()

			samples, err := app.Metrics.Snapshot()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "📊 Requests this run:")
			for _, s := range samples {
				if s.Value == 0 || !strings.HasSuffix(s.Name, "_total") {
					continue
				}
				fmt.Fprintf(out, "   %-40s %s %.0f\n", s.Name, formatLabels(s.Labels), s.Value)
			}
			return nil
		})
	},
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, 0, len(labels))
	for _, k := range []string{"method", "code", "outcome"} {
		if v, ok := labels[k]; ok {
			parts = append(parts, k+"="+v)
		}
	}
	return "{" + strings.Join(parts, ",") + "}"
}
