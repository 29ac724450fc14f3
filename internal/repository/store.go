package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/internal/storage"
)

// Store is the PostgreSQL engine: one pool shared by the per-table repositories.
type Store struct {
	*UserRepository
	*ChatRepository
	*MessageRepository
	*ReadRepository
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		UserRepository:    NewUserRepository(pool),
		ChatRepository:    NewChatRepository(pool),
		MessageRepository: NewMessageRepository(pool),
		ReadRepository:    NewReadRepository(pool),
		pool:              pool,
	}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface{ Scan(dest ...any) error }

// pgErr wraps a driver error for op. Lost connections, serialization
// failures, deadlocks and timeouts are marked storage.ErrTransient.
func pgErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, storage.ErrTransient, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch {
		case pe.Code == "40001", // serialization_failure
			pe.Code == "40P01", // deadlock_detected
			pe.Code == "57P01", // admin_shutdown
			pe.Code == "57014", // query_canceled (statement_timeout)
			strings.HasPrefix(pe.Code, "08"):
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pe *pgconn.PgError
	return errors.As(err, &pe) && pe.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pe *pgconn.PgError
	return errors.As(err, &pe) && pe.Code == "23503"
}

// inTx runs fn in one transaction; any error rolls the whole unit back.
func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, pool, fn)
}
