package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ishimwe-dev/docextract/internal/common"
	"github.com/ishimwe-dev/docextract/internal/entity"
)

// DebitResult reports the balance after a debit and whether the idempotency
// key had already been consumed by an earlier call.
type DebitResult struct {
	Balance          int64
	AlreadyProcessed bool
}

// CreditsRepository is the org credit ledger and balance engine.
//
// Debit and Refund are idempotent when given a key: the ledger row is inserted
// first so the unique (org_id, idempotency_key) index serializes duplicates,
// and the guarded balance update only lands if that insert succeeded.
type CreditsRepository interface {
	EnsureAccount(ctx context.Context, orgID uuid.UUID) error
	Balance(ctx context.Context, orgID uuid.UUID) (int64, error)
	Debit(ctx context.Context, orgID uuid.UUID, amount int64, reason, idempotencyKey string) (DebitResult, error)
	Refund(ctx context.Context, orgID uuid.UUID, amount int64, reason, idempotencyKey string) (int64, error)
	// Reconcile re-derives the balance from the sum of ledger deltas and
	// returns both values so callers can report drift.
	Reconcile(ctx context.Context, orgID uuid.UUID) (balance, ledgerSum int64, err error)
	// Ledger returns the org's most recent entries, newest first.
	Ledger(ctx context.Context, orgID uuid.UUID, limit int) ([]entity.LedgerEntry, error)
}

type creditsRepo struct {
	store *Store
	log   *slog.Logger
}

func NewCreditsRepository(store *Store, log *slog.Logger) CreditsRepository {
	if log == nil {
		log = slog.Default()
	}
	return &creditsRepo{store: store, log: log}
}

func (r *creditsRepo) EnsureAccount(ctx context.Context, orgID uuid.UUID) error {
	now := time.Now().UTC().UnixMilli()
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`INSERT INTO org_credits (org_id, balance, created_at, updated_at)
		 VALUES (?, 0, ?, ?)
		 ON CONFLICT (org_id) DO NOTHING`),
		orgID.String(), now, now)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func (r *creditsRepo) Balance(ctx context.Context, orgID uuid.UUID) (int64, error) {
	var balance int64
	err := r.store.DB.QueryRowContext(ctx, r.store.rebind(
		`SELECT balance FROM org_credits WHERE org_id = ?`), orgID.String()).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

func (r *creditsRepo) Debit(ctx context.Context, orgID uuid.UUID, amount int64, reason, idempotencyKey string) (DebitResult, error) {
	if amount <= 0 {
		return DebitResult{}, common.NewAppError("CREDITS_BAD_AMOUNT", "debit amount must be positive", common.ErrInvalidInput)
	}
	if err := r.EnsureAccount(ctx, orgID); err != nil {
		return DebitResult{}, err
	}

	tx, err := r.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return DebitResult{}, fmt.Errorf("begin debit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Insert the ledger row first; a duplicate key means the logical debit
	// already happened (or is in flight), so we must not charge again.
	if err := r.insertEntry(ctx, tx, orgID, -amount, reason, idempotencyKey); err != nil {
		if IsUniqueViolation(err) {
			// Release the tx before reading: sqlite runs on a single
			// connection and the read would otherwise wait on it.
			_ = tx.Rollback()
			bal, balErr := r.Balance(ctx, orgID)
			if balErr != nil {
				return DebitResult{}, balErr
			}
			r.log.Info("credits.debit.replay", "org_id", orgID, "key", idempotencyKey, "balance", bal)
			return DebitResult{Balance: bal, AlreadyProcessed: true}, nil
		}
		return DebitResult{}, fmt.Errorf("insert ledger entry: %w", err)
	}

	var balance int64
	err = tx.QueryRowContext(ctx, r.store.rebind(
		`UPDATE org_credits
		 SET balance = balance - ?, updated_at = ?
		 WHERE org_id = ? AND balance >= ?
		 RETURNING balance`),
		amount, time.Now().UTC().UnixMilli(), orgID.String(), amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		// Guard failed; the rollback also discards the ledger insert.
		r.log.Warn("credits.debit.insufficient", "org_id", orgID, "amount", amount, "reason", reason)
		return DebitResult{}, common.ErrInsufficientCredits
	}
	if err != nil {
		return DebitResult{}, fmt.Errorf("apply debit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return DebitResult{}, fmt.Errorf("commit debit: %w", err)
	}
	r.log.Info("credits.debit", "org_id", orgID, "amount", amount, "reason", reason, "balance", balance)
	return DebitResult{Balance: balance}, nil
}

func (r *creditsRepo) Refund(ctx context.Context, orgID uuid.UUID, amount int64, reason, idempotencyKey string) (int64, error) {
	if amount <= 0 {
		return 0, common.NewAppError("CREDITS_BAD_AMOUNT", "refund amount must be positive", common.ErrInvalidInput)
	}
	if err := r.EnsureAccount(ctx, orgID); err != nil {
		return 0, err
	}

	tx, err := r.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin refund: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := r.insertEntry(ctx, tx, orgID, amount, reason, idempotencyKey); err != nil {
		if IsUniqueViolation(err) {
			_ = tx.Rollback()
			bal, balErr := r.Balance(ctx, orgID)
			if balErr != nil {
				return 0, balErr
			}
			r.log.Info("credits.refund.replay", "org_id", orgID, "key", idempotencyKey, "balance", bal)
			return bal, nil
		}
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}

	// Credits only ever increase the balance, so no guard here.
	var balance int64
	err = tx.QueryRowContext(ctx, r.store.rebind(
		`UPDATE org_credits
		 SET balance = balance + ?, updated_at = ?
		 WHERE org_id = ?
		 RETURNING balance`),
		amount, time.Now().UTC().UnixMilli(), orgID.String()).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("apply refund: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit refund: %w", err)
	}
	r.log.Info("credits.refund", "org_id", orgID, "amount", amount, "reason", reason, "balance", balance)
	return balance, nil
}

func (r *creditsRepo) Reconcile(ctx context.Context, orgID uuid.UUID) (int64, int64, error) {
	balance, err := r.Balance(ctx, orgID)
	if err != nil {
		return 0, 0, err
	}
	var sum sql.NullInt64
	err = r.store.DB.QueryRowContext(ctx, r.store.rebind(
		`SELECT SUM(delta) FROM credits_ledger WHERE org_id = ?`), orgID.String()).Scan(&sum)
	if err != nil {
		return 0, 0, fmt.Errorf("sum ledger: %w", err)
	}
	if balance != sum.Int64 {
		r.log.Warn("credits.reconcile.drift", "org_id", orgID, "balance", balance, "ledger_sum", sum.Int64)
	}
	return balance, sum.Int64, nil
}

func (r *creditsRepo) Ledger(ctx context.Context, orgID uuid.UUID, limit int) ([]entity.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.store.DB.QueryContext(ctx, r.store.rebind(
		`SELECT id, org_id, delta, reason, idempotency_key, created_at
		 FROM credits_ledger WHERE org_id = ? ORDER BY created_at DESC LIMIT ?`),
		orgID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	var out []entity.LedgerEntry
	for rows.Next() {
		var (
			e         entity.LedgerEntry
			id, org   string
			key       sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&id, &org, &e.Delta, &e.Reason, &key, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse ledger id: %w", err)
		}
		if e.OrgID, err = uuid.Parse(org); err != nil {
			return nil, fmt.Errorf("parse org id: %w", err)
		}
		e.IdempotencyKey = key.String
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *creditsRepo) insertEntry(ctx context.Context, tx *sql.Tx, orgID uuid.UUID, delta int64, reason, idempotencyKey string) error {
	var key any
	if idempotencyKey != "" {
		key = idempotencyKey
	}
	_, err := tx.ExecContext(ctx, r.store.rebind(
		`INSERT INTO credits_ledger (id, org_id, delta, reason, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		uuid.New().String(), orgID.String(), delta, reason, key, time.Now().UTC().UnixMilli())
	return err
}
