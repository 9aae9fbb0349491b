package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/wip"
	"github.com/ph0rque/MakeDealCRM-sub005/platform/apperr"
)

const (
	dealNotFoundMessage = "deal not found"
	leadNotFoundMessage = "lead not found"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repo implements Store on PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new pipeline repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Store.
var _ Store = (*Repo)(nil)

// RunInTx runs fn in a transaction, committing only when fn returns nil.
func (r *Repo) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	pgTx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify("begin tx", err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	if err := fn(&txRepo{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

// txRepo implements Tx on an open pgx transaction.
type txRepo struct {
	q querier
}

var _ Tx = (*txRepo)(nil)

func (t *txRepo) Counters() wip.Counters {
	return &pgCounters{q: t.q}
}

// classify maps driver errors onto the domain sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w: %w", op, domain.ErrAlreadyExists, err)
		case pgErr.Code == "40001", pgErr.Code == "40P01", len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notFound(message string) error {
	return apperr.Wrap(apperr.KindNotFound, message, domain.ErrNotFound)
}
