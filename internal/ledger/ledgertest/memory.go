// Package ledgertest provides an in-memory ledger with the same
// semantics as the PostgreSQL store, for tests that exercise the
// coordination logic without a database.
package ledgertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genstudio/genstudio-be/internal/domain"
)

type account struct {
	credits int
	version int
}

// Memory is an in-memory credit ledger. All operations are safe for
// concurrent use; Deduct serializes on a single mutex so the
// conditional decrement observes committed balances only.
type Memory struct {
	mu       sync.Mutex
	accounts map[string]*account
	txns     []domain.Transaction
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{accounts: make(map[string]*account)}
}

// Seed creates a user with the given starting balance
func (m *Memory) Seed(userID string, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[userID] = &account{credits: credits}
}

func (m *Memory) HasSufficientBalance(_ context.Context, userID string, amount int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[userID]
	if !ok {
		return false, nil
	}
	return acct.credits >= amount, nil
}

func (m *Memory) Deduct(_ context.Context, userID string, amount int, correlationID string) error {
	if amount <= 0 {
		return fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if acct.credits < amount {
		return domain.ErrInsufficientBalance
	}

	acct.credits -= amount
	acct.version++
	m.append(userID, domain.TransactionKindDebit, -amount, correlationID)
	return nil
}

func (m *Memory) Add(_ context.Context, userID string, amount int, correlationID string) error {
	if amount <= 0 {
		return fmt.Errorf("add amount must be positive, got %d", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[userID]
	if !ok {
		return domain.ErrUserNotFound
	}

	acct.credits += amount
	acct.version++
	m.append(userID, domain.TransactionKindCredit, amount, correlationID)
	return nil
}

func (m *Memory) GetBalance(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[userID]
	if !ok {
		return 0, domain.ErrUserNotFound
	}
	return acct.credits, nil
}

func (m *Memory) ListTransactions(_ context.Context, userID string, limit, offset int) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Transaction
	for i := len(m.txns) - 1; i >= 0; i-- {
		if m.txns[i].UserID == userID {
			out = append(out, m.txns[i])
		}
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Transactions returns every recorded transaction for a user, oldest
// first, for reconciliation assertions.
func (m *Memory) Transactions(userID string) []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Transaction
	for _, txn := range m.txns {
		if txn.UserID == userID {
			out = append(out, txn)
		}
	}
	return out
}

func (m *Memory) append(userID, kind string, amount int, correlationID string) {
	m.txns = append(m.txns, domain.Transaction{
		ID:            uuid.New().String(),
		UserID:        userID,
		Kind:          kind,
		Amount:        amount,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	})
}
