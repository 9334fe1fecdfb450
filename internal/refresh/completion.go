package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/infra/repos/lists"
	"github.com/mmrzaf/listmat/internal/logging"
	"github.com/mmrzaf/listmat/internal/metrics"
)

// errStale rolls back a completion whose generation lost the in-progress pointer
// between the read and the conditional write.
var errStale = errors.New("generation is no longer the list's in-progress generation")

// Completion finalizes generations against their list. Each handler loads the
// list, compares its in-progress pointer with the generation and commits only on
// a match; the generation's own rows are dropped whenever it does not become
// the list's success generation.
type Completion struct {
	store   Store
	metrics *metrics.Metrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewCompletion(store Store, m *metrics.Metrics, logger *logging.Logger) *Completion {
	return &Completion{
		store:   store,
		metrics: m,
		logger:  logger.WithComponent("refresh"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// OnSuccess reports whether the generation became the list's success generation.
func (c *Completion) OnSuccess(ctx context.Context, listID, generationID string, recordCount int64, timings domain.StageTimings) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	started := c.now()
	applied := false

	err := c.store.InTx(ctx, func(tx lists.Tx) error {
		l, err := tx.GetList(ctx, listID)
		if err != nil {
			return err
		}
		if l.InProgressGenerationID != generationID {
			return c.settleStale(ctx, tx, generationID)
		}
		g, err := tx.GetGeneration(ctx, generationID)
		if err != nil {
			return err
		}

		var prevVersion int64
		if prev := l.SuccessGenerationID; prev != "" && prev != generationID {
			pg, err := tx.GetGeneration(ctx, prev)
			switch {
			case err == nil:
				prevVersion = pg.ContentVersion
			case !errors.Is(err, domain.ErrNotFound):
				return err
			}
			if _, err := tx.DeleteContent(ctx, listID, prev); err != nil {
				return fmt.Errorf("delete content of previous generation %s: %w", prev, err)
			}
		}

		at := c.now()
		g.Status = domain.StatusSuccess
		g.CompletedAt = &at
		g.RecordCount = recordCount
		g.ContentVersion = prevVersion + 1
		g.ErrorCode, g.ErrorMessage = "", ""
		g.Timings = mergeTimings(g.Timings, timings, at.Sub(started))
		if err := tx.UpdateGeneration(ctx, g); err != nil {
			return err
		}

		l.SuccessGenerationID = generationID
		l.InProgressGenerationID = ""
		l.UpdatedAt = at
		ok, err := tx.UpdateListPointers(ctx, l, generationID)
		if err != nil {
			return err
		}
		if !ok {
			return errStale
		}
		applied = true
		return nil
	})
	if errors.Is(err, errStale) {
		applied, err = false, nil
	}
	if err != nil {
		return false, fmt.Errorf("complete generation %s: %w", generationID, err)
	}

	if !applied {
		c.metrics.StaleCompletion()
		c.discard(ctx, listID, generationID)
		return false, nil
	}
	c.metrics.GenerationFinished(string(domain.StatusSuccess))
	c.logger.Infow("refresh.succeeded", map[string]any{
		"list_id": listID, "generation_id": generationID, "record_count": recordCount,
	})
	return true, nil
}

// OnFailure marks the generation CANCELLED when cause is a cancellation and
// FAILED otherwise, provided it is still the list's in-progress generation. It
// reports whether the list was updated. The generation's rows are deleted
// either way.
func (c *Completion) OnFailure(ctx context.Context, listID, generationID string, cause error, timings domain.StageTimings) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	if cause == nil {
		cause = errors.New("refresh failed without a cause")
	}
	started := c.now()
	status := domain.StatusFailed
	if errors.Is(cause, domain.ErrCancelled) {
		status = domain.StatusCancelled
	}
	applied := false

	err := c.store.InTx(ctx, func(tx lists.Tx) error {
		l, err := tx.GetList(ctx, listID)
		if err != nil {
			return err
		}
		if l.InProgressGenerationID != generationID {
			return c.settleStale(ctx, tx, generationID)
		}
		g, err := tx.GetGeneration(ctx, generationID)
		if err != nil {
			return err
		}

		at := c.now()
		g.Status = status
		g.CompletedAt = &at
		g.ErrorCode = domain.CodeOf(cause)
		g.ErrorMessage = cause.Error()
		g.Timings = mergeTimings(g.Timings, timings, at.Sub(started))
		if err := tx.UpdateGeneration(ctx, g); err != nil {
			return err
		}

		if status == domain.StatusFailed {
			l.FailureGenerationID = generationID
		}
		l.InProgressGenerationID = ""
		l.UpdatedAt = at
		ok, err := tx.UpdateListPointers(ctx, l, generationID)
		if err != nil {
			return err
		}
		if !ok {
			return errStale
		}
		applied = true
		return nil
	})
	if errors.Is(err, errStale) {
		applied, err = false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fail generation %s: %w", generationID, err)
	}

	c.discard(ctx, listID, generationID)
	if !applied {
		c.metrics.StaleCompletion()
		return false, nil
	}
	c.metrics.GenerationFinished(string(status))
	c.logger.Warnw("refresh.failed", map[string]any{
		"list_id": listID, "generation_id": generationID,
		"status": string(status), "error_code": domain.CodeOf(cause), "error": cause.Error(),
	})
	return true, nil
}

// settleStale closes a generation that lost its list pointer without being
// finalized. Generations already in a terminal state are left as they are.
func (c *Completion) settleStale(ctx context.Context, tx lists.Tx, generationID string) error {
	g, err := tx.GetGeneration(ctx, generationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if g.Status.Terminal() {
		return nil
	}
	at := c.now()
	g.Status = domain.StatusCancelled
	g.CompletedAt = &at
	g.ErrorCode = domain.CodeSuperseded
	g.ErrorMessage = "superseded by a newer refresh"
	return tx.UpdateGeneration(ctx, g)
}

func (c *Completion) discard(ctx context.Context, listID, generationID string) {
	n, err := c.store.DeleteContent(ctx, listID, generationID)
	if err != nil {
		c.logger.Errorw("refresh.cleanup_failed", map[string]any{
			"list_id": listID, "generation_id": generationID, "error": err.Error(),
		})
		return
	}
	c.logger.Infow("refresh.rows_discarded", map[string]any{
		"list_id": listID, "generation_id": generationID, "rows": n,
	})
}

func mergeTimings(stored, run domain.StageTimings, finalize time.Duration) domain.StageTimings {
	out := make(domain.StageTimings, len(stored)+len(run)+1)
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range run {
		out[k] = v
	}
	out[domain.StageFinalize] = finalize.Milliseconds()
	return out
}
