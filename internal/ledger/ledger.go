// Package ledger owns the authoritative credit balance per user and the
// append-only transaction log. The conditional decrement inside Deduct
// is the single source of truth for "can this user pay"; the advisory
// HasSufficientBalance only short-circuits wasted upstream work.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/genstudio/genstudio-be/internal/domain"
	"github.com/genstudio/genstudio-be/shared/postgresql"
)

// Store is the PostgreSQL-backed credit ledger
type Store struct {
	client *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new ledger Store
func NewStore(client *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		client: client,
		db:     client.GetDB(),
		logger: logger,
	}
}

// HasSufficientBalance is the advisory read-only check. It may be stale
// relative to a concurrent deduct; the atomic Deduct is authoritative.
func (s *Store) HasSufficientBalance(ctx context.Context, userID string, amount int) (bool, error) {
	var credits int
	err := s.db.GetContext(ctx, &credits, `SELECT credits FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check balance: %w", err)
	}
	return credits >= amount, nil
}

// Deduct atomically verifies balance >= amount, decrements the balance
// and appends the debit transaction row in one all-or-nothing unit. Two
// concurrent deducts against the same user serialize on the row update;
// the second observes the committed balance and fails if insufficient.
func (s *Store) Deduct(ctx context.Context, userID string, amount int, correlationID string) error {
	if amount <= 0 {
		return fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	err := s.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		var remaining int
		err := tx.GetContext(ctx, &remaining, `
			UPDATE users
			SET credits = credits - $1,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $2 AND credits >= $1
			RETURNING credits
		`, amount, userID)

		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				var exists bool
				if checkErr := tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID); checkErr != nil {
					return fmt.Errorf("failed to check user existence: %w", checkErr)
				}
				if !exists {
					return domain.ErrUserNotFound
				}
				return domain.ErrInsufficientBalance
			}
			return fmt.Errorf("failed to deduct credits: %w", err)
		}

		if err := s.insertTransaction(ctx, tx, userID, domain.TransactionKindDebit, -amount, correlationID); err != nil {
			return err
		}

		s.logger.Info("Credits deducted",
			slog.String("user_id", userID),
			slog.Int("amount", amount),
			slog.Int("remaining", remaining),
			slog.String("correlation_id", correlationID),
		)
		return nil
	})

	return err
}

// Add atomically increments the balance and appends the credit
// transaction row. Used for purchased credits and for refunds.
func (s *Store) Add(ctx context.Context, userID string, amount int, correlationID string) error {
	if amount <= 0 {
		return fmt.Errorf("add amount must be positive, got %d", amount)
	}

	return s.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		var balance int
		err := tx.GetContext(ctx, &balance, `
			UPDATE users
			SET credits = credits + $1,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $2
			RETURNING credits
		`, amount, userID)

		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrUserNotFound
			}
			return fmt.Errorf("failed to add credits: %w", err)
		}

		if err := s.insertTransaction(ctx, tx, userID, domain.TransactionKindCredit, amount, correlationID); err != nil {
			return err
		}

		s.logger.Info("Credits added",
			slog.String("user_id", userID),
			slog.Int("amount", amount),
			slog.Int("balance", balance),
			slog.String("correlation_id", correlationID),
		)
		return nil
	})
}

// GetBalance returns the user's current credit balance
func (s *Store) GetBalance(ctx context.Context, userID string) (int, error) {
	var credits int
	err := s.db.GetContext(ctx, &credits, `SELECT credits FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return credits, nil
}

// ListTransactions returns the user's audit trail, newest first
func (s *Store) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}

	var txns []domain.Transaction
	err := s.db.SelectContext(ctx, &txns, `
		SELECT id, user_id, kind, amount, COALESCE(correlation_id, '') AS correlation_id, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return txns, nil
}

func (s *Store) insertTransaction(ctx context.Context, tx *sqlx.Tx, userID, kind string, amount int, correlationID string) error {
	var correlation sql.NullString
	if correlationID != "" {
		correlation = sql.NullString{String: correlationID, Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, user_id, kind, amount, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), userID, kind, amount, correlation, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}
