package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/fintrack/internal/config"
	"github.com/tinoosan/fintrack/internal/service/bill"
	"github.com/tinoosan/fintrack/internal/service/transaction"
)

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Auth.AccessSecret = "access-secret"
	cfg.Auth.RefreshSecret = "refresh-secret"
	return cfg
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel(" warning "))
	assert.Equal(t, slog.LevelError, parseLogLevel("err"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel(""))
}

func TestBuildLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	buildLogger(config.LogConfig{Level: "info", Format: "json"}, &buf).Info("hello", "k", "v")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), buf.String())

	buf.Reset()
	buildLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf).Info("dropped")
	assert.Empty(t, buf.String())
}

func TestReadPassword_FromPipe(t *testing.T) {
	pw, err := readPassword(strings.NewReader("s3cret-pass\nignored\n"), io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-pass", pw)

	_, err = readPassword(strings.NewReader(""), io.Discard)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestSeedDemo_Idempotent(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(), discard())
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, seedDemo(ctx, a.services, discard()))
	require.NoError(t, seedDemo(ctx, a.services, discard()))

	res, err := a.services.Auth.Login(ctx, demoEmail, demoPassword)
	require.NoError(t, err)
	userID := res.User.ID

	page, err := a.services.Transactions.List(ctx, userID, transaction.ListQuery{Limit: transaction.MaxPageSize})
	require.NoError(t, err)
	assert.Equal(t, len(demoTransactions), page.Total)

	rec, err := a.services.Transactions.Reconcile(ctx, userID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent())

	var inPots int64
	for _, p := range demoPots {
		inPots += p.total
	}
	var net int64
	for _, tx := range demoTransactions {
		net += tx.amount
	}
	bal, err := a.services.Transactions.Balance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, net-inPots, bal.Current)

	bills, err := a.services.Bills.List(ctx, userID, bill.ListQuery{})
	require.NoError(t, err)
	assert.Len(t, bills, len(demoBills))
}

func TestPurgeSessions_StopsOnCancel(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(), discard())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		purgeSessions(ctx, a.services.Auth, 5*time.Millisecond, discard())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("purger did not stop")
	}
}
