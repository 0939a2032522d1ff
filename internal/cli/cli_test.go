package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/ecofinds/internal/apitest"
	"github.com/existflow/ecofinds/internal/db"
	"github.com/existflow/ecofinds/internal/model"
)

func TestMain(m *testing.M) {
	// The logger is process wide, so every test shares one log file
	logDir, err := os.MkdirTemp("", "ecofinds-cli-logs")
	if err != nil {
		panic(err)
	}
	os.Setenv("ECOFINDS_LOG_FILE", filepath.Join(logDir, "test.log"))

	code := m.Run()
	os.RemoveAll(logDir)
	os.Exit(code)
}

func setupHome(t *testing.T, srv *apitest.Server) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("ECOFINDS_HOME", home)
	t.Setenv("ECOFINDS_API_BASE_URL", srv.URL())
	return home
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func newServer(t *testing.T) *apitest.Server {
	t.Helper()
	srv := apitest.New(t)
	srv.AddUser("a@b.com", "secret", model.User{ID: "u1", Username: "ada"})
	srv.AddProduct(model.CartProduct{ID: "p1", Title: "Linen shirt", Price: 10, OriginalPrice: 12})
	return srv
}

func TestCLI_LoginCartLogout(t *testing.T) {
	srv := newServer(t)
	home := setupHome(t, srv)

	out, err := runCLI(t, "secret\n", "auth", "login", "--email", "a@b.com")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Logged in as ada")

	out, err = runCLI(t, "", "cart", "add", "p1", "-q", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Added 2 × Linen shirt (2 in cart)")

	out, err = runCLI(t, "", "cart", "show")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Linen shirt")
	assert.Contains(t, out, "20.00")
	assert.Contains(t, out, "You save")

	out, err = runCLI(t, "", "cart", "summary")
	require.NoError(t, err, out)
	assert.Contains(t, out, "5.99")

	out, err = runCLI(t, "", "status")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Session: ada")
	assert.Contains(t, out, "2 items (server)")

	out, err = runCLI(t, "", "auth", "logout")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Logged out successfully")

	_, err = runCLI(t, "", "cart", "show")
	assert.ErrorIs(t, err, errNotLoggedIn)

	local, err := db.Open(filepath.Join(home, "ecofinds.db"))
	require.NoError(t, err)
	defer local.Close()
	keys, err := local.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCLI_LoginWrongPassword(t *testing.T) {
	srv := newServer(t)
	setupHome(t, srv)

	_, err := runCLI(t, "nope\n", "auth", "login", "--email", "a@b.com")
	require.Error(t, err)
	assert.Equal(t, "Invalid email or password.", err.Error())
}

func TestCLI_RegisterRejectsMismatchLocally(t *testing.T) {
	srv := newServer(t)
	setupHome(t, srv)

	stdin := "new@b.com\nnewbie\nNew\nUser\nSecret123\nSecret124\n"
	_, err := runCLI(t, stdin, "auth", "register")

	require.Error(t, err)
	assert.Equal(t, "Passwords don't match", err.Error())
	assert.Zero(t, srv.Calls("POST /auth/register"))
}

func TestCLI_ForgotResetVerify(t *testing.T) {
	srv := newServer(t)
	setupHome(t, srv)

	out, err := runCLI(t, "", "auth", "forgot", "--email", "a@b.com")
	require.NoError(t, err, out)
	assert.Contains(t, out, "reset link is on its way")
	token := srv.ResetToken("a@b.com")
	require.NotEmpty(t, token)

	_, err = runCLI(t, "Better123\nBetter124\n", "auth", "reset", token)
	require.Error(t, err)
	assert.Zero(t, srv.Calls("POST /auth/reset-password"))

	out, err = runCLI(t, "Better123\nBetter123\n", "auth", "reset", token)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Password reset")

	out, err = runCLI(t, "Better123\n", "auth", "login", "--email", "a@b.com")
	require.NoError(t, err, out)

	out, err = runCLI(t, "", "auth", "verify", "resend")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Verification email sent to a@b.com")

	_, err = runCLI(t, "", "auth", "verify", "bogus")
	require.Error(t, err)
	assert.Equal(t, "Verification link is invalid or has expired.", err.Error())

	out, err = runCLI(t, "", "auth", "verify", srv.VerificationToken("a@b.com"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "Email verified")

	out, err = runCLI(t, "", "auth", "whoami")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Verified")
}

func TestCLI_ThemeAndConfig(t *testing.T) {
	srv := newServer(t)
	home := setupHome(t, srv)

	out, err := runCLI(t, "", "theme")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Theme: system")

	out, err = runCLI(t, "", "theme", "dark")
	require.NoError(t, err, out)
	out, err = runCLI(t, "", "theme")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Theme: dark")

	_, err = runCLI(t, "", "theme", "blue")
	assert.Error(t, err)

	out, err = runCLI(t, "", "config", "set", "timeout_seconds", "30")
	require.NoError(t, err, out)
	data, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "timeout_seconds: 30")

	_, err = runCLI(t, "", "config", "set", "nonsense", "1")
	assert.Error(t, err)
}
