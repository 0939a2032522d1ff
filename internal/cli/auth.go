package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/existflow/ecofinds/internal/api"
	"github.com/existflow/ecofinds/internal/model"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage your account session",
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with email and password",
	RunE:  runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a new account and log in",
	RunE:  runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and forget the local session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged in user",
	RunE:  runWhoami,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the access token now",
	RunE:  runRefresh,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Update profile fields",
	Long: `Update profile fields. Only the flags you pass are changed.

Examples:
  ecofinds auth profile --first-name Ada --location London`,
	RunE: runProfile,
}

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Change your password",
	RunE:  runPassword,
}

var forgotCmd = &cobra.Command{
	Use:   "forgot",
	Short: "Email yourself a password reset link",
	RunE:  runForgot,
}

var resetCmd = &cobra.Command{
	Use:   "reset <token>",
	Short: "Set a new password with the token from a reset email",
	Args:  cobra.ExactArgs(1),
	RunE:  runReset,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Verify your email with the token from a verification email",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

var resendCmd = &cobra.Command{
	Use:   "resend",
	Short: "Send another verification email",
	Args:  cobra.NoArgs,
	RunE:  runResend,
}

var profileFields = []struct{ flag, usage string }{
	{"first-name", "First name"},
	{"last-name", "Last name"},
	{"username", "Username"},
	{"bio", "Short bio"},
	{"location", "Location"},
	{"phone", "Phone number"},
	{"avatar", "Avatar URL"},
}

func init() {
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(registerCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(whoamiCmd)
	authCmd.AddCommand(refreshCmd)
	authCmd.AddCommand(profileCmd)
	authCmd.AddCommand(passwordCmd)
	authCmd.AddCommand(forgotCmd)
	authCmd.AddCommand(resetCmd)
	authCmd.AddCommand(verifyCmd)
	verifyCmd.AddCommand(resendCmd)

	loginCmd.Flags().String("email", "", "Account email (prompted when empty)")
	forgotCmd.Flags().String("email", "", "Account email (prompted when empty)")
	for _, f := range profileFields {
		profileCmd.Flags().String(f.flag, "", f.usage)
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	p := newPrompter(cmd)

	email, _ := cmd.Flags().GetString("email")
	if email == "" {
		var err error
		if email, err = p.line("Email"); err != nil {
			return err
		}
	}
	password, err := p.password("Password")
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, app *App) error {
		fmt.Fprintln(cmd.OutOrStdout(), "🔄 Logging in...")
		creds := model.LoginCredentials{Email: email, Password: password}
		if err := app.Session.Login(ctx, creds); err != nil {
			return userError{err}
		}
		if err := app.Cart.MergeLocal(ctx); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "⚠️  Could not merge cart: %s\n", api.Message(err))
		}

		user := app.Session.State().User
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Logged in as %s\n", user.DisplayName())
		return nil
	})
}

func runRegister(cmd *cobra.Command, args []string) error {
	p := newPrompter(cmd)

	var data model.RegisterData
	var err error
	for _, field := range []struct {
		label  string
		dst    *string
		secret bool
	}{
		{"Email", &data.Email, false},
		{"Username", &data.Username, false},
		{"First name", &data.FirstName, false},
		{"Last name", &data.LastName, false},
		{"Password", &data.Password, true},
		{"Confirm password", &data.ConfirmPassword, true},
	} {
		if field.secret {
			*field.dst, err = p.password(field.label)
		} else {
			*field.dst, err = p.line(field.label)
		}
		if err != nil {
			return err
		}
	}

	// Checked before opening anything so a typo costs no request
	if err := api.Validate(data); err != nil {
		return userError{err}
	}

	return withApp(cmd, func(ctx context.Context, app *App) error {
		fmt.Fprintln(cmd.OutOrStdout(), "🔄 Creating account...")
		if err := app.Session.Register(ctx, data); err != nil {
			return userError{err}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Account created and logged in!")
		return nil
	})
}

func runLogout(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *App) error {
		token, err := app.Creds.Token(ctx)
		if err != nil {
			return err
		}
		if token == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "Not logged in.")
			return nil
		}

		fmt.Fprintln(cmd.OutOrStdout(), "🔄 Logging out...")
		if err := app.Session.Logout(ctx); err != nil {
			return err
		}
		// The local cart goes with the session
		app.Cart.Reset()
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Logged out successfully.")
		return nil
	})
}

func runWhoami(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, app *App) error {
		u := app.Session.State().User
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "👤 %s (@%s)\n", u.DisplayName(), u.Username)
		fmt.Fprintf(out, "   Email:    %s\n", u.Email)
		if u.Location != "" {
			fmt.Fprintf(out, "   Location: %s\n", u.Location)
		}
		if u.IsVerified {
			fmt.Fprintln(out, "   ✓ Verified")
		}
		if exp, ok := api.TokenExpiry(app.Session.State().Token); ok {
			fmt.Fprintf(out, "   Token expires %s\n", exp.Local().Format("Jan 2 15:04"))
		}
		return nil
	})
}

func runRefresh(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, app *App) error {
		if err := app.Session.RefreshToken(ctx); err != nil {
			return fmt.Errorf("refresh failed, you have been logged out: %s", api.Message(err))
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Token refreshed")
		return nil
	})
}

func runProfile(cmd *cobra.Command, args []string) error {
	var update model.ProfileUpdate
	targets := map[string]**string{
		"first-name": &update.FirstName,
		"last-name":  &update.LastName,
		"username":   &update.Username,
		"bio":        &update.Bio,
		"location":   &update.Location,
		"phone":      &update.Phone,
		"avatar":     &update.Avatar,
	}
	changed := 0
	for flag, dst := range targets {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		v, _ := cmd.Flags().GetString(flag)
		*dst = &v
		changed++
	}
	if changed == 0 {
		return fmt.Errorf("nothing to update, pass at least one field flag")
	}

	return withSession(cmd, func(ctx context.Context, app *App) error {
		if err := app.Session.UpdateProfile(ctx, update); err != nil {
			return userError{err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Profile updated for %s\n", app.Session.State().User.DisplayName())
		return nil
	})
}

func runPassword(cmd *cobra.Command, args []string) error {
	p := newPrompter(cmd)
	current, err := p.password("Current password")
	if err != nil {
		return err
	}
	next, err := p.password("New password")
	if err != nil {
		return err
	}
	confirm, err := p.password("Confirm new password")
	if err != nil {
		return err
	}
	if next != confirm {
		return errors.New("passwords don't match")
	}

	return withSession(cmd, func(ctx context.Context, app *App) error {
		if err := app.Session.ChangePassword(ctx, current, next); err != nil {
			return userError{err}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Password changed")
		return nil
	})
}

func runForgot(cmd *cobra.Command, args []string) error {
	email, _ := cmd.Flags().GetString("email")
	if email == "" {
		var err error
		if email, err = newPrompter(cmd).line("Email"); err != nil {
			return err
		}
	}

	return withApp(cmd, func(ctx context.Context, app *App) error {
		if err := app.Session.RequestPasswordReset(ctx, email); err != nil {
			return userError{err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "📧 If %s has an account, a reset link is on its way.\n", email)
		return nil
	})
}

func runReset(cmd *cobra.Command, args []string) error {
	p := newPrompter(cmd)
	next, err := p.password("New password")
	if err != nil {
		return err
	}
	confirm, err := p.password("Confirm new password")
	if err != nil {
		return err
	}
	if next != confirm {
		return errors.New("passwords don't match")
	}

	return withApp(cmd, func(ctx context.Context, app *App) error {
		if err := app.Session.ResetPassword(ctx, args[0], next); err != nil {
			return userError{err}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Password reset. Log in with your new password.")
		return nil
	})
}

func runVerify(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *App) error {
		if err := app.Session.VerifyEmail(ctx, args[0]); err != nil {
			return userError{err}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "✅ Email verified")
		return nil
	})
}

func runResend(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, app *App) error {
		if err := app.Session.ResendVerification(ctx); err != nil {
			return userError{err}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "📧 Verification email sent to %s\n", app.Session.State().User.Email)
		return nil
	})
}
