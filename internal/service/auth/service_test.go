package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/events"
	"github.com/tinoosan/fintrack/internal/storage/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testConfig() Config {
	return Config{
		AccessSecret:  "access-secret-for-tests",
		RefreshSecret: "refresh-secret-for-tests",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		BcryptCost:    MinBcryptCost,
		Issuer:        "fintrack-test",
	}
}

func setup(t *testing.T) (Service, *memory.Store, *clock, *events.Recorder) {
	t.Helper()
	store := memory.New()
	clk := &clock{t: time.Date(2024, time.August, 20, 10, 0, 0, 0, time.UTC)}
	rec := &events.Recorder{}
	svc, err := New(store, store, testConfig(), WithClock(clk.Now), WithPublisher(rec))
	require.NoError(t, err)
	return svc, store, clk, rec
}

func register(t *testing.T, svc Service, email string) Result {
	t.Helper()
	res, err := svc.Register(context.Background(), RegisterInput{Email: email, Password: "password123"})
	require.NoError(t, err)
	return res
}

func TestConfigValidate(t *testing.T) {
	good := testConfig()
	require.NoError(t, good.Validate())

	cases := map[string]func(*Config){
		"missing access":  func(c *Config) { c.AccessSecret = "" },
		"missing refresh": func(c *Config) { c.RefreshSecret = "" },
		"same secrets":    func(c *Config) { c.RefreshSecret = c.AccessSecret },
		"zero ttl":        func(c *Config) { c.AccessTTL = 0 },
		"weak cost":       func(c *Config) { c.BcryptCost = 10 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := testConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
			_, err := New(memory.New(), memory.New(), c)
			assert.Error(t, err)
		})
	}
}

func TestRegister(t *testing.T) {
	svc, store, _, rec := setup(t)
	ctx := context.Background()

	res := register(t, svc, "  Jane@Example.COM ")
	assert.Equal(t, "jane@example.com", res.User.Email)
	assert.NotEqual(t, "password123", res.User.PasswordHash)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEmpty(t, res.Tokens.RefreshToken)

	bal, err := store.GetBalance(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Zero(t, bal.Current)
	_, err = store.GetSession(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Email: "jane@example.com", Password: "password456"})
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, "user already exists", errs.Message(err))
	assert.Equal(t, []events.Type{events.UserRegistered}, rec.Types())

	for _, in := range []RegisterInput{
		{Email: "not-an-email", Password: "password123"},
		{Email: "a@b", Password: "password123"},
		{Email: "short@example.com", Password: "1234567"},
	} {
		_, err := svc.Register(ctx, in)
		assert.ErrorIs(t, err, errs.ErrInvalid, in.Email)
	}
}

func TestLogin_DoesNotRevealEmail(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()
	register(t, svc, "jane@example.com")

	_, unknown := svc.Login(ctx, "nobody@example.com", "password123")
	_, wrong := svc.Login(ctx, "jane@example.com", "wrong-password")
	require.ErrorIs(t, unknown, errs.ErrUnauthenticated)
	require.ErrorIs(t, wrong, errs.ErrUnauthenticated)
	assert.Equal(t, errs.Message(unknown), errs.Message(wrong))

	res, err := svc.Login(ctx, "JANE@example.com", "password123")
	require.NoError(t, err)
	id, err := svc.VerifyAccessToken(res.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, id.UserID)
	assert.Equal(t, "jane@example.com", id.Email)
}

func TestVerifyAccessToken_FailsClosed(t *testing.T) {
	svc, _, clk, _ := setup(t)
	res := register(t, svc, "jane@example.com")

	_, err := svc.VerifyAccessToken(res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
	_, err = svc.VerifyAccessToken("not.a.token")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
	_, err = svc.VerifyAccessToken("")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)

	clk.Advance(16 * time.Minute)
	_, err = svc.VerifyAccessToken(res.Tokens.AccessToken)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestRefresh_SingleUse(t *testing.T) {
	svc, store, _, _ := setup(t)
	ctx := context.Background()
	a := register(t, svc, "jane@example.com").Tokens.RefreshToken

	b, err := svc.Refresh(ctx, a)
	require.NoError(t, err)
	assert.NotEqual(t, a, b.RefreshToken)

	_, err = svc.Refresh(ctx, a)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
	_, err = store.GetSession(ctx, a)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	c, err := svc.Refresh(ctx, b.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, c.AccessToken)
}

func TestRefresh_ConcurrentRotationHasOneWinner(t *testing.T) {
	svc, _, _, _ := setup(t)
	a := register(t, svc, "jane@example.com").Tokens.RefreshToken

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Refresh(context.Background(), a); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
}

func TestRefresh_ExpiredSessionIsDeleted(t *testing.T) {
	svc, store, clk, _ := setup(t)
	ctx := context.Background()
	tok := register(t, svc, "jane@example.com").Tokens.RefreshToken

	clk.Advance(8 * 24 * time.Hour)
	_, err := svc.Refresh(ctx, tok)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
	_, err = store.GetSession(ctx, tok)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	svc, _, _, _ := setup(t)
	res := register(t, svc, "jane@example.com")
	_, err := svc.Refresh(context.Background(), res.Tokens.AccessToken)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
	_, err = svc.Refresh(context.Background(), "")
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestLogout_Idempotent(t *testing.T) {
	svc, store, _, _ := setup(t)
	ctx := context.Background()
	tok := register(t, svc, "jane@example.com").Tokens.RefreshToken

	require.NoError(t, svc.Logout(ctx, tok))
	require.NoError(t, svc.Logout(ctx, tok))
	_, err := store.GetSession(ctx, tok)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = svc.Refresh(ctx, tok)
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestChangePassword_RevokesSessions(t *testing.T) {
	svc, store, _, rec := setup(t)
	ctx := context.Background()
	res := register(t, svc, "jane@example.com")
	second, err := svc.Login(ctx, "jane@example.com", "password123")
	require.NoError(t, err)

	_, err = svc.ChangePassword(ctx, res.User.ID, "wrong-password", "new-password-1")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
	_, err = svc.ChangePassword(ctx, res.User.ID, "password123", "short")
	assert.ErrorIs(t, err, errs.ErrInvalid)

	pair, err := svc.ChangePassword(ctx, res.User.ID, "password123", "new-password-1")
	require.NoError(t, err)
	for _, old := range []string{res.Tokens.RefreshToken, second.Tokens.RefreshToken} {
		_, err := store.GetSession(ctx, old)
		assert.ErrorIs(t, err, errs.ErrNotFound)
	}
	_, err = store.GetSession(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "jane@example.com", "password123")
	assert.ErrorIs(t, err, errs.ErrUnauthenticated)
	_, err = svc.Login(ctx, "jane@example.com", "new-password-1")
	assert.NoError(t, err)
	assert.Contains(t, rec.Types(), events.PasswordChanged)
}

func TestMeAndPurge(t *testing.T) {
	svc, store, clk, _ := setup(t)
	ctx := context.Background()
	res := register(t, svc, "jane@example.com")

	user, bal, err := svc.Me(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, res.User.Email, user.Email)
	assert.Equal(t, res.User.ID, bal.UserID)

	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(8 * 24 * time.Hour)
	n, err = svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = store.GetSession(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
