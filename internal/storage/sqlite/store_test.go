package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/fintrack/internal/errs"
	"github.com/tinoosan/fintrack/internal/ledger"
	"github.com/tinoosan/fintrack/internal/storage"
	"github.com/tinoosan/fintrack/internal/storage/storetest"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "fintrack.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return newStore(t) })
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fintrack.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	u := storetest.SeedUser(t, s, "persist@example.com")
	require.NoError(t, s.Apply(context.Background(), storetest.Deposit(u.ID, 1234)...))
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	bal, err := s.GetBalance(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), bal.Current)
}

func TestApply_CancelledContext(t *testing.T) {
	s := newStore(t)
	u := storetest.SeedUser(t, s, "cancel@example.com")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Apply(ctx, storetest.Deposit(u.ID, 500)...))

	bal, err := s.GetBalance(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Zero(t, bal.Current)
	txs, err := s.ListTransactions(context.Background(), u.ID, ledger.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestGetBalance_UnknownUser(t *testing.T) {
	s := newStore(t)
	_, err := s.GetBalance(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.GetUserByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
