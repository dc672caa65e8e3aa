package orchestrator

import (
	"context"
	"time"

	"github.com/saadactin/Nitin-sir/internal/engine"
	"github.com/saadactin/Nitin-sir/internal/schema"
	"github.com/saadactin/Nitin-sir/internal/source"
)

// sourceAdapter lets the engine read through a database pool. The pool
// takes watermarks as driver parameters (any); the engine works with
// the decoded types.
type sourceAdapter struct {
	pool *source.Pool
}

var _ engine.Source = (*sourceAdapter)(nil)

func (a *sourceAdapter) ReadAll(ctx context.Context, t *schema.Table, batchSize int) (engine.RowIter, error) {
	it, err := a.pool.ReadAll(ctx, t, batchSize)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (a *sourceAdapter) ReadSincePK(ctx context.Context, t *schema.Table, sincePK int64, batchSize int) (engine.RowIter, error) {
	it, err := a.pool.ReadSincePK(ctx, t, sincePK, batchSize)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (a *sourceAdapter) ReadSinceTimestamp(ctx context.Context, t *schema.Table, since time.Time, batchSize int) (engine.RowIter, error) {
	it, err := a.pool.ReadSinceTimestamp(ctx, t, since, batchSize)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (a *sourceAdapter) ReadUpdatedSince(ctx context.Context, t *schema.Table, since time.Time, pkMax int64, batchSize int) (engine.RowIter, error) {
	it, err := a.pool.ReadUpdatedSince(ctx, t, since, pkMax, batchSize)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (a *sourceAdapter) ReadAllKeys(ctx context.Context, t *schema.Table, batchSize int) (engine.RowIter, error) {
	it, err := a.pool.ReadAllKeys(ctx, t, batchSize)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (a *sourceAdapter) PendingSince(ctx context.Context, t *schema.Table, column string, marker any) (int64, error) {
	return a.pool.PendingSince(ctx, t, column, marker)
}
