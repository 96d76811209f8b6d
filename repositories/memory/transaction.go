package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/upb/context-retrieval/repositories"
)

var errTxDone = errors.New("transaction already finished")

type transactionContextKey struct{}

// TransactionManager gives the memory store commit/rollback semantics by
// recording an undo step for every write made inside a transaction
type TransactionManager struct {
	store *Store
}

func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	tx := &Transaction{store: tm.store}
	tx.ctx = context.WithValue(ctx, transactionContextKey{}, tx)
	return tx, nil
}

func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, _ := tm.Begin(ctx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx.Context(), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Transaction implements repositories.Transaction
type Transaction struct {
	store *Store
	ctx   context.Context

	mu   sync.Mutex
	undo []func()
	done bool
}

func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.done = true
	t.undo = nil
	return nil
}

// Rollback reverts every write in reverse order. Rolling back a finished
// transaction is a no-op.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return nil
	}
	t.done = true
	undo := t.undo
	t.undo = nil
	t.mu.Unlock()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	return nil
}

func (t *Transaction) Context() context.Context {
	return t.ctx
}

// onRollback records an undo step. Called with the store lock held.
// A nil transaction records nothing.
func (t *Transaction) onRollback(fn func()) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.done {
		t.undo = append(t.undo, fn)
	}
}

func activeTx(ctx context.Context, bound *Transaction) *Transaction {
	if bound != nil {
		return bound
	}
	tx, _ := ctx.Value(transactionContextKey{}).(*Transaction)
	return tx
}

func boundTx(tx repositories.Transaction) *Transaction {
	if memTx, ok := tx.(*Transaction); ok {
		return memTx
	}
	return nil
}
