package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"codeatlas/internal/logging"
)

// Session is a unit-of-work handle over the store. Statements run inside a
// transaction that begins lazily on first use; Commit ends it and the next
// statement starts a fresh one. Handlers that commit per project get exactly
// that behavior from a single session.
type Session struct {
	store *Store
	ctx   context.Context
	tx    *sql.Tx
}

// Session opens a new session bound to ctx.
func (s *Store) Session(ctx context.Context) *Session {
	return &Session{store: s, ctx: ctx}
}

func (s *Session) transaction() (*sql.Tx, error) {
	if s.tx != nil {
		return s.tx, nil
	}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		s.tx, err = s.store.db.BeginTx(s.ctx, nil)
		if err == nil {
			return s.tx, nil
		}
		if !isBusy(err) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return nil, fmt.Errorf("begin transaction: %w", err)
}

// Commit commits the active transaction, if any.
func (s *Session) Commit() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the active transaction, if any.
func (s *Session) Rollback() {
	if s.tx == nil {
		return
	}
	if err := s.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		logging.Get(logging.CategoryStore).Warnf("rollback failed: %v", err)
	}
	s.tx = nil
}

// Close rolls back any uncommitted work.
func (s *Session) Close() {
	s.Rollback()
}

// exec runs a write statement with a short retry on lock contention.
func (s *Session) exec(query string, args ...interface{}) (sql.Result, error) {
	tx, err := s.transaction()
	if err != nil {
		return nil, err
	}
	var res sql.Result
	for attempt := 0; ; attempt++ {
		res, err = tx.ExecContext(s.ctx, query, args...)
		if err == nil || !isBusy(err) || attempt >= 2 {
			return res, err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
}

func (s *Session) query(query string, args ...interface{}) (*sql.Rows, error) {
	tx, err := s.transaction()
	if err != nil {
		return nil, err
	}
	return tx.QueryContext(s.ctx, query, args...)
}

func (s *Session) queryRow(query string, args ...interface{}) (*sql.Row, error) {
	tx, err := s.transaction()
	if err != nil {
		return nil, err
	}
	return tx.QueryRowContext(s.ctx, query, args...), nil
}
