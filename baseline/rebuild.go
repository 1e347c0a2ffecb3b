package baseline

import (
	"context"
	"database/sql"
	"time"

	"procwatch/core"
	"procwatch/storage"
)

// BatchSource is the slice of batch storage the rebuild needs.
type BatchSource interface {
	ListBatches(ctx context.Context) ([]core.Batch, error)
	LoadNumericRows(ctx context.Context, batch *core.Batch) ([]core.NumericRow, error)
}

// Rebuild recomputes a process identity's baselines from scratch by folding
// in every successfully scored batch of that identity, oldest first. This is
// the one operation allowed to re-read history; everything else maintains
// the running aggregate incrementally. The caller supplies the transaction
// and must hold Lock(processIdentity); Invalidate after commit.
func (e *Engine) Rebuild(ctx context.Context, tx *sql.Tx, processIdentity string, batches BatchSource) error {
	all, err := batches.ListBatches(ctx)
	if err != nil {
		return err
	}

	if err := storage.DeleteBaselinesTx(tx, processIdentity); err != nil {
		return err
	}

	rebuilt := make(map[string]*core.ColumnBaseline)
	now := time.Now().UTC()

	for i := range all {
		b := &all[i]
		if b.ProcessIdentity != processIdentity || b.Status != core.BatchStatusScored {
			continue
		}
		rows, err := batches.LoadNumericRows(ctx, b)
		if err != nil {
			return err
		}
		for column, s := range AccumulateRows(rows, b.Schema.NumericColumns()) {
			if s.Count == 0 {
				continue
			}
			cb, ok := rebuilt[column]
			if !ok {
				cb = &core.ColumnBaseline{
					ProcessIdentity: processIdentity,
					Column:          column,
				}
				rebuilt[column] = cb
			}
			merge(cb, s)
			cb.LastBatchID = b.ID
		}
	}

	for _, cb := range rebuilt {
		cb.Derive(e.sigma)
		cb.UpdatedAt = now
		if err := storage.UpsertBaselineTx(tx, cb); err != nil {
			return err
		}
	}

	e.logger.Infow("Rebuilt baselines",
		"process_identity", processIdentity,
		"columns", len(rebuilt))
	return nil
}
