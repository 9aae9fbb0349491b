package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/wip"
)

// pgCounters reserves WIP slots with conditional updates on the caller's transaction.
type pgCounters struct {
	q querier
}

var _ wip.Counters = (*pgCounters)(nil)

func (c *pgCounters) Count(ctx context.Context, key domain.WipKey) (int, error) {
	var count int
	err := c.q.QueryRow(ctx,
		`SELECT count FROM pipeline_wip_counters WHERE stage = $1 AND owner_id = $2`,
		string(key.Stage), key.OwnerID,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, classify("count wip", err)
	}
	return count, nil
}

func (c *pgCounters) ensure(ctx context.Context, key domain.WipKey) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO pipeline_wip_counters (stage, owner_id, count)
		VALUES ($1, $2, 0)
		ON CONFLICT (stage, owner_id) DO NOTHING`,
		string(key.Stage), key.OwnerID)
	return classify("ensure wip counter", err)
}

func (c *pgCounters) IncrementIfBelow(ctx context.Context, key domain.WipKey, limit int) (bool, error) {
	if err := c.ensure(ctx, key); err != nil {
		return false, err
	}
	tag, err := c.q.Exec(ctx, `
		UPDATE pipeline_wip_counters
		SET count = count + 1, updated_at = now()
		WHERE stage = $1 AND owner_id = $2 AND count < $3`,
		string(key.Stage), key.OwnerID, limit)
	if err != nil {
		return false, classify("reserve wip", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (c *pgCounters) Increment(ctx context.Context, key domain.WipKey) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO pipeline_wip_counters (stage, owner_id, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (stage, owner_id) DO UPDATE
		SET count = pipeline_wip_counters.count + 1, updated_at = now()`,
		string(key.Stage), key.OwnerID)
	return classify("increment wip", err)
}

func (c *pgCounters) Decrement(ctx context.Context, key domain.WipKey) error {
	_, err := c.q.Exec(ctx, `
		UPDATE pipeline_wip_counters
		SET count = GREATEST(count - 1, 0), updated_at = now()
		WHERE stage = $1 AND owner_id = $2`,
		string(key.Stage), key.OwnerID)
	return classify("decrement wip", err)
}

// WipSnapshot reads every stored counter.
func (r *Repo) WipSnapshot(ctx context.Context) (map[domain.WipKey]int, error) {
	return scanWipCounts(ctx, r.pool, "wip snapshot",
		`SELECT stage, owner_id, count FROM pipeline_wip_counters`)
}

// ReconcileWip runs in one transaction. EXCLUSIVE mode conflicts with the
// ROW EXCLUSIVE lock each reservation takes, so once it is held every
// reservation is either committed (and visible to the recompute) or waits
// and applies on top of the rewritten counters.
func (r *Repo) ReconcileWip(ctx context.Context, apply bool) (WipReconciliation, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return WipReconciliation{}, classify("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `LOCK TABLE pipeline_wip_counters IN EXCLUSIVE MODE`); err != nil {
		return WipReconciliation{}, classify("lock wip counters", err)
	}
	stored, err := scanWipCounts(ctx, tx, "wip snapshot",
		`SELECT stage, owner_id, count FROM pipeline_wip_counters`)
	if err != nil {
		return WipReconciliation{}, err
	}
	recomputed, err := scanWipCounts(ctx, tx, "recompute wip",
		`SELECT stage, owner_id, count(*) FROM pipeline_deals GROUP BY stage, owner_id`)
	if err != nil {
		return WipReconciliation{}, err
	}

	out := WipReconciliation{Stored: stored, Recomputed: recomputed}
	for _, n := range recomputed {
		out.Deals += n
	}
	if !apply || wip.Drift(stored, recomputed) == 0 {
		return out, classify("commit wip reconcile", tx.Commit(ctx))
	}

	if _, err := tx.Exec(ctx, `DELETE FROM pipeline_wip_counters`); err != nil {
		return WipReconciliation{}, classify("clear wip counters", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO pipeline_wip_counters (stage, owner_id, count)
		SELECT stage, owner_id, count(*) FROM pipeline_deals GROUP BY stage, owner_id`); err != nil {
		return WipReconciliation{}, classify("rewrite wip counters", err)
	}
	return out, classify("commit wip reconcile", tx.Commit(ctx))
}

func scanWipCounts(ctx context.Context, q querier, op, query string) (map[domain.WipKey]int, error) {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := make(map[domain.WipKey]int)
	for rows.Next() {
		var (
			stage string
			key   domain.WipKey
			count int
		)
		if err := rows.Scan(&stage, &key.OwnerID, &count); err != nil {
			return nil, classify(op, err)
		}
		key.Stage = domain.Stage(stage)
		out[key] = count
	}
	return out, classify(op, rows.Err())
}
