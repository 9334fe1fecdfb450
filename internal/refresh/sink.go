package refresh

import (
	"context"
	"fmt"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/metrics"
)

// Sink appends the batches of one generation as content rows. It is owned by a
// single orchestrator run and is not safe for concurrent use.
type Sink struct {
	store        Store
	listID       string
	generationID string
	maxSize      int64
	pollEvery    int
	metrics      *metrics.Metrics

	cursor  int64
	batches int
	halted  error
}

func NewSink(store Store, listID, generationID string, maxSize int64, pollEvery int, m *metrics.Metrics) *Sink {
	if pollEvery <= 0 {
		pollEvery = 10
	}
	return &Sink{
		store:        store,
		listID:       listID,
		generationID: generationID,
		maxSize:      maxSize,
		pollEvery:    pollEvery,
		metrics:      m,
	}
}

// Count is the number of rows persisted so far.
func (s *Sink) Count() int64 { return s.cursor }

// Accept persists ids with sort sequences [cursor, cursor+len(ids)). It returns
// ErrCancelled once a status poll finds the generation cancelled and
// ErrListSizeExceeded when the batch would cross the size limit; either way
// nothing of the batch is written and every later call returns the same error.
func (s *Sink) Accept(ctx context.Context, ids []string) error {
	if s.halted != nil {
		return s.halted
	}
	if s.batches%s.pollEvery == 0 {
		if err := s.checkStatus(ctx); err != nil {
			return err
		}
	}
	s.batches++

	next := s.cursor + int64(len(ids))
	if s.maxSize > 0 && next > s.maxSize {
		s.halted = fmt.Errorf("%w: %d rows would exceed the limit of %d", domain.ErrListSizeExceeded, next, s.maxSize)
		return s.halted
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.store.AppendContent(ctx, s.listID, s.generationID, s.cursor, ids); err != nil {
		return fmt.Errorf("append batch at seq %d: %w", s.cursor, err)
	}
	s.cursor = next
	s.metrics.BatchIngested(len(ids))
	return nil
}

func (s *Sink) checkStatus(ctx context.Context) error {
	st, err := s.store.GenerationStatus(ctx, s.generationID)
	if err != nil {
		return fmt.Errorf("poll generation status: %w", err)
	}
	switch st {
	case domain.StatusInProgress:
		return nil
	case domain.StatusCancelled:
		s.halted = domain.ErrCancelled
	default:
		s.halted = fmt.Errorf("%w: status %s", domain.ErrGenerationFinalized, st)
	}
	return s.halted
}
