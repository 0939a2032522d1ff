package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/ecofinds/internal/api"
	"github.com/existflow/ecofinds/internal/apitest"
	"github.com/existflow/ecofinds/internal/db"
	"github.com/existflow/ecofinds/internal/model"
)

type testEnv struct {
	srv    *apitest.Server
	dbPath string
	store  *db.DB
	creds  *api.Credentials
	client *api.Client
	sess   *Store
}

func newEnv(t *testing.T, srv *apitest.Server, baseURL, dbPath string) *testEnv {
	t.Helper()
	store, err := db.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	creds := api.NewCredentials(store)
	client := api.NewClient(api.Config{BaseURL: baseURL, Timeout: 5 * time.Second}, creds)
	sess := NewStore(client, creds)
	t.Cleanup(sess.Close)

	return &testEnv{srv: srv, dbPath: dbPath, store: store, creds: creds, client: client, sess: sess}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	srv := apitest.New(t)
	srv.AddUser("a@b.com", "secret", model.User{ID: "u1", Username: "ada"})
	return newEnv(t, srv, srv.URL(), filepath.Join(t.TempDir(), "session.db"))
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	require.NoError(t, e.sess.Login(context.Background(), model.LoginCredentials{Email: "a@b.com", Password: "secret"}))
}

func storedKeys(t *testing.T, store *db.DB) []string {
	t.Helper()
	keys, err := store.Keys(context.Background())
	require.NoError(t, err)
	return keys
}

// ============================================================================
// Login Tests
// ============================================================================

func TestLogin_ConcreteResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user":{"id":"u1","email":"a@b.com"},"token":"t1","refreshToken":"r1"}`))
	}))
	defer ts.Close()
	env := newEnv(t, nil, ts.URL, filepath.Join(t.TempDir(), "concrete.db"))

	err := env.sess.Login(context.Background(), model.LoginCredentials{Email: "a@b.com", Password: "secret"})
	require.NoError(t, err)

	st := env.sess.State()
	require.NotNil(t, st.User)
	assert.Equal(t, "u1", st.User.ID)
	assert.Equal(t, "t1", st.Token)
	assert.True(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Error)

	rt, err := env.creds.RefreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", rt)
}

func TestLogin_ThenReloadRestoresIdentity(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	first := env.sess.State()

	// A new process against the same persisted storage
	reloaded := newEnv(t, env.srv, env.srv.URL(), env.dbPath)
	require.NoError(t, reloaded.sess.Initialize(context.Background()))

	st := reloaded.sess.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, first.User.ID, st.User.ID)
	assert.Equal(t, first.Token, st.Token)
	assert.Equal(t, 1, env.srv.Calls("GET /auth/me"))
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)

	err := env.sess.Login(context.Background(), model.LoginCredentials{Email: "a@b.com", Password: "wrong"})

	require.Error(t, err)
	st := env.sess.State()
	assert.False(t, st.IsAuthenticated)
	assert.False(t, st.IsLoading)
	assert.Equal(t, "Invalid email or password.", st.Error)
	assert.Equal(t, PhaseError, st.Phase())
	assert.Empty(t, storedKeys(t, env.store))
}

func TestLogin_RejectsConcurrentSubmission(t *testing.T) {
	env := newTestEnv(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	env.srv.Hook("POST /auth/login", func() {
		close(entered)
		<-release
	})

	done := make(chan error, 1)
	go func() {
		done <- env.sess.Login(context.Background(), model.LoginCredentials{Email: "a@b.com", Password: "secret"})
	}()
	<-entered

	assert.True(t, env.sess.State().IsLoading)
	err := env.sess.Login(context.Background(), model.LoginCredentials{Email: "a@b.com", Password: "secret"})
	assert.ErrorIs(t, err, ErrBusy)

	env.srv.Hook("POST /auth/login", nil)
	close(release)
	require.NoError(t, <-done)
	assert.True(t, env.sess.State().IsAuthenticated)
}

// ============================================================================
// Register Tests
// ============================================================================

func TestRegister_PasswordMismatchNeverCallsAPI(t *testing.T) {
	env := newTestEnv(t)

	err := env.sess.Register(context.Background(), model.RegisterData{
		Email:           "new@b.com",
		Password:        "Secret123",
		ConfirmPassword: "Secret321",
		Username:        "newbie",
		FirstName:       "New",
		LastName:        "User",
	})

	var valErr *api.ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "confirmPassword", valErr.Field)
	assert.Equal(t, "Passwords don't match", env.sess.State().Error)
	assert.Zero(t, env.srv.Calls("POST /auth/register"))
}

func TestRegister_Success(t *testing.T) {
	env := newTestEnv(t)

	err := env.sess.Register(context.Background(), model.RegisterData{
		Email:           "new@b.com",
		Password:        "Secret123",
		ConfirmPassword: "Secret123",
		Username:        "newbie",
		FirstName:       "New",
		LastName:        "User",
	})
	require.NoError(t, err)

	st := env.sess.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, "new@b.com", st.User.Email)

	err = env.sess.Register(context.Background(), model.RegisterData{
		Email:           "new@b.com",
		Password:        "Secret123",
		ConfirmPassword: "Secret123",
		Username:        "again",
		FirstName:       "New",
		LastName:        "User",
	})
	assert.True(t, api.IsStatus(err, http.StatusConflict))
	assert.False(t, env.sess.State().IsAuthenticated)
}

// ============================================================================
// Logout & Initialize Tests
// ============================================================================

func TestLogout_ClearsEvenWhenServerFails(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	var hooks int32
	env.sess.OnLogout(func() { atomic.AddInt32(&hooks, 1) })
	env.srv.FailNext("POST /auth/logout", http.StatusInternalServerError, "boom")

	require.NoError(t, env.sess.Logout(context.Background()))

	assert.Equal(t, State{}, env.sess.State())
	assert.Empty(t, storedKeys(t, env.store))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hooks))
	assert.Equal(t, 1, env.srv.Calls("POST /auth/logout"))
}

func TestInitialize_NothingPersisted(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.sess.Initialize(context.Background()))

	assert.Equal(t, State{}, env.sess.State())
	assert.Zero(t, env.srv.Calls("GET /auth/me"))
}

func TestInitialize_InvalidTokenClearsEverything(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.creds.Store(ctx, &model.AuthResponse{
		User:  &model.User{ID: "u1", Email: "a@b.com"},
		Token: "expired-or-forged",
	}))

	err := env.sess.Initialize(ctx)

	require.Error(t, err)
	st := env.sess.State()
	assert.False(t, st.IsAuthenticated)
	assert.Nil(t, st.User)
	assert.False(t, st.IsLoading)
	assert.Empty(t, storedKeys(t, env.store))
}

func TestInitialize_RefreshesExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	env.srv.ExpireAccessTokens()

	fresh := newEnv(t, env.srv, env.srv.URL(), filepath.Join(t.TempDir(), "other.db"))
	tok, err := env.creds.Token(context.Background())
	require.NoError(t, err)
	rt, err := env.creds.RefreshToken(context.Background())
	require.NoError(t, err)
	user, err := env.creds.User(context.Background())
	require.NoError(t, err)
	require.NoError(t, fresh.creds.Store(context.Background(), &model.AuthResponse{User: user, Token: tok, RefreshToken: rt}))

	require.NoError(t, fresh.sess.Initialize(context.Background()))

	st := fresh.sess.State()
	assert.True(t, st.IsAuthenticated)
	assert.NotEqual(t, tok, st.Token)
	assert.Equal(t, 1, env.srv.Calls("POST /auth/refresh"))
}

func TestInitialize_CorruptUserClears(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	require.NoError(t, env.store.Set(ctx, db.KeyAuthToken, "t1"))
	require.NoError(t, env.store.Set(ctx, db.KeyUserData, "{broken"))

	require.NoError(t, env.sess.Initialize(ctx))

	assert.False(t, env.sess.State().IsAuthenticated)
	assert.Empty(t, storedKeys(t, env.store))
}

// ============================================================================
// Refresh Tests
// ============================================================================

func TestTransparentRefreshUpdatesState(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	before := env.sess.State().Token

	env.srv.ExpireAccessTokens()
	_, err := env.client.GetCart(context.Background())
	require.NoError(t, err)

	st := env.sess.State()
	assert.True(t, st.IsAuthenticated)
	assert.NotEqual(t, before, st.Token)
	stored, err := env.creds.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stored, st.Token)
}

func TestUnrecoverable401EndsSession(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	var hooks int32
	env.sess.OnLogout(func() { atomic.AddInt32(&hooks, 1) })

	env.srv.ExpireAccessTokens()
	env.srv.RevokeRefreshTokens()
	_, err := env.client.GetCart(context.Background())

	assert.True(t, api.IsAuthExpired(err))
	st := env.sess.State()
	assert.False(t, st.IsAuthenticated)
	assert.Equal(t, api.MsgExpired, st.Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hooks))
	assert.Equal(t, 1, env.srv.Calls("POST /auth/refresh"))
}

func TestRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)
	before := env.sess.State().Token

	require.NoError(t, env.sess.RefreshToken(context.Background()))
	assert.NotEqual(t, before, env.sess.State().Token)

	env.srv.RevokeRefreshTokens()
	require.Error(t, env.sess.RefreshToken(context.Background()))
	assert.Equal(t, State{}, env.sess.State())
	assert.Empty(t, storedKeys(t, env.store))
}

// raceAPI serves logins from a fixed response and lets a test hold a refresh
// open after it has written its token
type raceAPI struct {
	AuthAPI
	creds   *api.Credentials
	login   *model.AuthResponse
	entered chan struct{}
	release chan struct{}
}

func (r *raceAPI) Login(ctx context.Context, _ model.LoginCredentials) (*model.AuthResponse, error) {
	return r.login, nil
}

func (r *raceAPI) Refresh(ctx context.Context) (string, error) {
	if _, err := r.creds.Commit(ctx, r.creds.Begin(), "t-refreshed", ""); err != nil {
		return "", err
	}
	close(r.entered)
	<-r.release
	return "t-refreshed", nil
}

func TestRefreshToken_LoginDuringRefreshKeepsNewToken(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := &model.User{ID: "u1", Email: "a@b.com"}
	fake := &raceAPI{
		creds:   env.creds,
		login:   &model.AuthResponse{User: user, Token: "t-login-old", RefreshToken: "r-old"},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	sess := NewStore(fake, env.creds)
	t.Cleanup(sess.Close)
	creds := model.LoginCredentials{Email: "a@b.com", Password: "secret"}
	require.NoError(t, sess.Login(ctx, creds))

	done := make(chan error, 1)
	go func() { done <- sess.RefreshToken(ctx) }()
	<-fake.entered

	fake.login = &model.AuthResponse{User: user, Token: "t-login-new", RefreshToken: "r-new"}
	require.NoError(t, sess.Login(ctx, creds))
	close(fake.release)
	require.NoError(t, <-done)

	stored, err := env.creds.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t-login-new", stored)
	assert.Equal(t, stored, sess.State().Token)
}

func TestCredentialEvent_OlderThanLoginIsIgnored(t *testing.T) {
	env := newTestEnv(t)

	// a refresh numbered before the login whose event is delivered after it
	seq := env.creds.Begin()
	env.login(t)
	loginToken := env.sess.State().Token

	env.sess.onCredentialEvent(api.Event{Kind: api.TokenRefreshed, Token: "t-refreshed", Seq: seq})

	assert.Equal(t, loginToken, env.sess.State().Token)
	assert.Equal(t, loginToken, mustStoredToken(t, env.creds))
}

func TestRefreshToken_LogoutDuringRefresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.login(t)

	var hooks int32
	env.sess.OnLogout(func() { atomic.AddInt32(&hooks, 1) })

	entered := make(chan struct{})
	release := make(chan struct{})
	env.srv.Hook("POST /auth/refresh", func() {
		close(entered)
		<-release
	})

	done := make(chan error, 1)
	go func() { done <- env.sess.RefreshToken(ctx) }()
	<-entered

	require.NoError(t, env.sess.Logout(ctx))
	env.srv.Hook("POST /auth/refresh", nil)
	close(release)
	require.Error(t, <-done)

	assert.Equal(t, State{}, env.sess.State())
	assert.Empty(t, storedKeys(t, env.store))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hooks))
}

func TestRefreshToken_LoginDuringFailedRefreshKeepsSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.login(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	env.srv.Hook("POST /auth/refresh", func() {
		close(entered)
		<-release
	})
	env.srv.FailNext("POST /auth/refresh", http.StatusUnauthorized, "Refresh token revoked")

	done := make(chan error, 1)
	go func() { done <- env.sess.RefreshToken(ctx) }()
	<-entered

	env.login(t)
	env.srv.Hook("POST /auth/refresh", nil)
	close(release)
	require.Error(t, <-done)

	st := env.sess.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, mustStoredToken(t, env.creds), st.Token)
}

func mustStoredToken(t *testing.T, c *api.Credentials) string {
	t.Helper()
	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	return tok
}

// ============================================================================
// Profile Tests
// ============================================================================

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.login(t)

	name := "Ada"
	require.NoError(t, env.sess.UpdateProfile(ctx, model.ProfileUpdate{FirstName: &name}))
	assert.Equal(t, "Ada", env.sess.State().User.FirstName)
	cached, err := env.creds.User(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", cached.FirstName)

	env.srv.FailNext("PUT /auth/profile", http.StatusBadRequest, "Username taken")
	require.Error(t, env.sess.UpdateProfile(ctx, model.ProfileUpdate{FirstName: &name}))
	st := env.sess.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, "Username taken", st.Error)

	env.sess.ClearError()
	assert.Empty(t, env.sess.State().Error)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.login(t)

	require.Error(t, env.sess.ChangePassword(ctx, "secret", "weak"))
	require.Error(t, env.sess.ChangePassword(ctx, "not-it", "Better123"))
	require.NoError(t, env.sess.ChangePassword(ctx, "secret", "Better123"))

	require.NoError(t, env.sess.Logout(ctx))
	require.NoError(t, env.sess.Login(ctx, model.LoginCredentials{Email: "a@b.com", Password: "Better123"}))
}

// ============================================================================
// Recovery & Verification Tests
// ============================================================================

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.Error(t, env.sess.RequestPasswordReset(ctx, "not-an-email"))
	assert.Zero(t, env.srv.Calls("POST /auth/forgot-password"))
	env.sess.ClearError()

	require.NoError(t, env.sess.RequestPasswordReset(ctx, "nobody@b.com"))
	require.NoError(t, env.sess.RequestPasswordReset(ctx, "a@b.com"))
	token := env.srv.ResetToken("a@b.com")
	require.NotEmpty(t, token)

	require.Error(t, env.sess.ResetPassword(ctx, token, "weak"))
	require.Error(t, env.sess.ResetPassword(ctx, "bogus", "Better123"))
	assert.Equal(t, "Reset link is invalid or has expired.", env.sess.State().Error)

	require.NoError(t, env.sess.ResetPassword(ctx, token, "Better123"))
	assert.Empty(t, env.srv.ResetToken("a@b.com"))
	assert.False(t, env.sess.State().IsAuthenticated)

	require.Error(t, env.sess.Login(ctx, model.LoginCredentials{Email: "a@b.com", Password: "secret"}))
	require.NoError(t, env.sess.Login(ctx, model.LoginCredentials{Email: "a@b.com", Password: "Better123"}))
}

func TestPasswordReset_RevokedSessionEndsOnNextRequest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.login(t)

	require.NoError(t, env.sess.RequestPasswordReset(ctx, "a@b.com"))
	require.NoError(t, env.sess.ResetPassword(ctx, env.srv.ResetToken("a@b.com"), "Better123"))
	assert.True(t, env.sess.State().IsAuthenticated)

	_, err := env.client.GetCart(ctx)
	assert.True(t, api.IsAuthExpired(err))
	assert.False(t, env.sess.State().IsAuthenticated)
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.login(t)
	require.False(t, env.sess.State().User.IsVerified)

	require.NoError(t, env.sess.ResendVerification(ctx))
	token := env.srv.VerificationToken("a@b.com")
	require.NotEmpty(t, token)

	require.Error(t, env.sess.VerifyEmail(ctx, ""))
	require.Error(t, env.sess.VerifyEmail(ctx, "bogus"))
	assert.True(t, env.sess.State().IsAuthenticated)

	require.NoError(t, env.sess.VerifyEmail(ctx, token))
	assert.True(t, env.sess.State().User.IsVerified)
	cached, err := env.creds.User(ctx)
	require.NoError(t, err)
	assert.True(t, cached.IsVerified)

	me, err := env.client.Me(ctx)
	require.NoError(t, err)
	assert.True(t, me.IsVerified)

	err = env.sess.ResendVerification(ctx)
	require.Error(t, err)
	assert.Equal(t, "Email is already verified.", env.sess.State().Error)
}

func TestVerifyEmail_SignedOut(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	require.NoError(t, env.sess.Register(ctx, model.RegisterData{
		Email:           "new@b.com",
		Password:        "Secret123",
		ConfirmPassword: "Secret123",
		Username:        "newbie",
		FirstName:       "New",
		LastName:        "Bie",
	}))
	token := env.srv.VerificationToken("new@b.com")
	require.NotEmpty(t, token)
	require.NoError(t, env.sess.Logout(ctx))

	require.NoError(t, env.sess.VerifyEmail(ctx, token))
	assert.Nil(t, env.sess.State().User)
	assert.Empty(t, env.srv.VerificationToken("new@b.com"))
}

func TestSubscribe_DeliversLatestState(t *testing.T) {
	env := newTestEnv(t)
	ch, cancel := env.sess.Subscribe()
	defer cancel()

	assert.Equal(t, State{}, <-ch)

	env.login(t)
	st := <-ch
	assert.True(t, st.IsAuthenticated)

	cancel()
	_, open := <-ch
	assert.False(t, open)
}
