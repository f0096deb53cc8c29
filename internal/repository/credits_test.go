package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishimwe-dev/docextract/internal/common"
)

// seedBalance funds an account through the ledger so balance and ledger sum
// stay consistent.
func seedBalance(t *testing.T, repo CreditsRepository, orgID uuid.UUID, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.EnsureAccount(ctx, orgID))
	_, err := repo.Refund(ctx, orgID, amount, "topup", "seed:"+orgID.String())
	require.NoError(t, err)
}

func TestDebitIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditsRepository(newTestStore(t), nil)
	orgID := uuid.New()
	seedBalance(t, repo, orgID, 10)

	res, err := repo.Debit(ctx, orgID, 7, "extraction", "debit:job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Balance)
	assert.False(t, res.AlreadyProcessed)

	// Same key again: no second charge.
	res, err = repo.Debit(ctx, orgID, 7, "extraction", "debit:job-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Balance)
	assert.True(t, res.AlreadyProcessed)

	balance, ledgerSum, err := repo.Reconcile(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)
	assert.Equal(t, balance, ledgerSum)
}

func TestDebitInsufficientLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	repo := NewCreditsRepository(store, nil)
	orgID := uuid.New()
	seedBalance(t, repo, orgID, 5)

	_, err := repo.Debit(ctx, orgID, 7, "extraction", "debit:job-2")
	require.ErrorIs(t, err, common.ErrInsufficientCredits)

	balance, err := repo.Balance(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)

	// The rolled-back attempt must not burn the idempotency key.
	var n int
	err = store.DB.QueryRow(
		`SELECT COUNT(*) FROM credits_ledger WHERE org_id = ? AND idempotency_key = ?`,
		orgID.String(), "debit:job-2").Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)

	// A later, affordable retry with the same key goes through.
	res, err := repo.Debit(ctx, orgID, 5, "extraction", "debit:job-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Balance)
	assert.False(t, res.AlreadyProcessed)
}

func TestDebitRefundRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditsRepository(newTestStore(t), nil)
	orgID := uuid.New()
	seedBalance(t, repo, orgID, 10)

	res, err := repo.Debit(ctx, orgID, 4, "extraction", "debit:job-3")
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.Balance)

	balance, err := repo.Refund(ctx, orgID, 4, "refund_extraction", "refund:job-3")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	// Replaying the refund is a no-op.
	balance, err = repo.Refund(ctx, orgID, 4, "refund_extraction", "refund:job-3")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	got, ledgerSum, err := repo.Reconcile(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)
	assert.Equal(t, got, ledgerSum)
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditsRepository(newTestStore(t), nil)
	orgID := uuid.New()

	_, err := repo.Debit(ctx, orgID, 0, "extraction", "debit:job-4")
	require.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = repo.Refund(ctx, orgID, -1, "refund", "refund:job-4")
	require.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditsRepository(newTestStore(t), nil)
	orgID := uuid.New()
	seedBalance(t, repo, orgID, 10)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Debit(ctx, orgID, 3, "extraction", "debit:conc-"+string(rune('a'+i)))
			if err == nil {
				mu.Lock()
				succeeded += 3
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	balance, err := repo.Balance(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, 10-succeeded, balance)
	assert.GreaterOrEqual(t, balance, int64(0))
}

func TestLedgerListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewCreditsRepository(newTestStore(t), nil)
	orgID := uuid.New()
	seedBalance(t, repo, orgID, 10)

	// created_at has millisecond granularity, keep the entries distinct.
	time.Sleep(2 * time.Millisecond)
	_, err := repo.Debit(ctx, orgID, 4, "extraction", "debit:ledger-1")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = repo.Refund(ctx, orgID, 4, "refund_extraction", "refund:ledger-1")
	require.NoError(t, err)

	entries, err := repo.Ledger(ctx, orgID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(4), entries[0].Delta)
	assert.Equal(t, "refund_extraction", entries[0].Reason)
	assert.Equal(t, int64(-4), entries[1].Delta)
	assert.Equal(t, "debit:ledger-1", entries[1].IdempotencyKey)
	assert.Equal(t, "topup", entries[2].Reason)
	for _, e := range entries {
		assert.Equal(t, orgID, e.OrgID)
		assert.False(t, e.CreatedAt.IsZero())
	}

	limited, err := repo.Ledger(ctx, orgID, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	empty, err := repo.Ledger(ctx, uuid.New(), 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBalanceUnknownOrgIsZero(t *testing.T) {
	repo := NewCreditsRepository(newTestStore(t), nil)
	balance, err := repo.Balance(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, balance)
}
