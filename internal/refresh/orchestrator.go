package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/hashing"
	"github.com/mmrzaf/listmat/internal/identity"
	"github.com/mmrzaf/listmat/internal/infra/repos/lists"
	"github.com/mmrzaf/listmat/internal/logging"
	"github.com/mmrzaf/listmat/internal/metrics"
	"github.com/mmrzaf/listmat/internal/shutdown"
	"github.com/mmrzaf/listmat/internal/worker"
)

// Dispatcher runs background work off the caller's goroutine.
type Dispatcher interface {
	Submit(name string, fn worker.Task) error
}

type Config struct {
	BatchSize   int
	MaxListSize int64
	PollEvery   int
}

// Orchestrator drives refresh generations: it installs a generation as the
// list's in-progress generation, streams the producer into a Sink on a worker
// and hands the outcome to the Completion handlers.
type Orchestrator struct {
	store      Store
	producer   Producer
	dispatcher Dispatcher
	registry   *shutdown.Registry
	completion *Completion
	cfg        Config
	metrics    *metrics.Metrics
	logger     *logging.Logger
	now        func() time.Time
}

func NewOrchestrator(
	store Store,
	producer Producer,
	dispatcher Dispatcher,
	registry *shutdown.Registry,
	cfg Config,
	m *metrics.Metrics,
	logger *logging.Logger,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10000
	}
	return &Orchestrator{
		store:      store,
		producer:   producer,
		dispatcher: dispatcher,
		registry:   registry,
		completion: NewCompletion(store, m, logger),
		cfg:        cfg,
		metrics:    m,
		logger:     logger.WithComponent("refresh"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) Completion() *Completion { return o.completion }

// Start creates a generation for listID, makes it the list's in-progress
// generation and schedules its run. A generation already in progress is
// cancelled as superseded in the same transaction. The returned generation is
// the initial IN_PROGRESS state; the terminal state is written asynchronously.
func (o *Orchestrator) Start(ctx context.Context, listID string) (*domain.RefreshGeneration, error) {
	id := identity.FromContext(ctx)
	queuedAt := o.now()
	g := &domain.RefreshGeneration{
		ID:        uuid.NewString(),
		ListID:    listID,
		Status:    domain.StatusInProgress,
		StartedAt: queuedAt,
		CreatedBy: id.UserID,
	}

	var list *domain.List
	err := o.store.InTx(ctx, func(tx lists.Tx) error {
		l, err := tx.GetList(ctx, listID)
		if err != nil {
			return err
		}
		g.QueryHash = hashing.HashQuery(l.EntityType, l.Query)

		prev := l.InProgressGenerationID
		if prev != "" {
			if err := o.supersede(ctx, tx, prev); err != nil {
				return err
			}
		}
		if err := tx.CreateGeneration(ctx, g); err != nil {
			return err
		}
		l.InProgressGenerationID = g.ID
		l.UpdatedAt = queuedAt
		ok, err := tx.UpdateListPointers(ctx, l, prev)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: list %s changed while starting a refresh", domain.ErrConflict, listID)
		}
		list = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	initial := *g

	handle, err := o.registry.Register(id, "refresh:"+g.ID, func(ctx context.Context) error {
		_, err := o.completion.OnFailure(ctx, listID, g.ID, domain.ErrShutdownDuringRefresh, nil)
		return err
	})
	if err != nil {
		_, _ = o.completion.OnFailure(ctx, listID, g.ID, domain.ErrShutdownDuringRefresh, nil)
		return nil, fmt.Errorf("register shutdown task: %w", err)
	}

	runID := id
	err = o.dispatcher.Submit("refresh:"+g.ID, func(taskCtx context.Context) {
		o.run(identity.NewContext(taskCtx, runID), list, g.ID, handle, queuedAt)
	})
	if err != nil {
		handle.Release()
		_, _ = o.completion.OnFailure(ctx, listID, g.ID, fmt.Errorf("schedule refresh: %w", err), nil)
		return nil, fmt.Errorf("schedule refresh: %w", err)
	}

	o.logger.Infow("refresh.started", map[string]any{
		"list_id": listID, "generation_id": g.ID, "tenant_id": id.TenantID, "user_id": id.UserID,
	})
	return &initial, nil
}

func (o *Orchestrator) supersede(ctx context.Context, tx lists.Tx, generationID string) error {
	pg, err := tx.GetGeneration(ctx, generationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if pg.Status.Terminal() {
		return nil
	}
	at := o.now()
	pg.Status = domain.StatusCancelled
	pg.CompletedAt = &at
	pg.ErrorCode = domain.CodeSuperseded
	pg.ErrorMessage = "superseded by a newer refresh"
	if err := tx.UpdateGeneration(ctx, pg); err != nil {
		return err
	}
	o.logger.Infow("refresh.superseded", map[string]any{"list_id": pg.ListID, "generation_id": pg.ID})
	return nil
}

// Cancel marks the list's in-progress generation CANCELLED and clears the
// pointer. The running pipeline notices at its next status poll; its rows are
// dropped by the completion handler.
func (o *Orchestrator) Cancel(ctx context.Context, listID string) (*domain.RefreshGeneration, error) {
	var out *domain.RefreshGeneration
	err := o.store.InTx(ctx, func(tx lists.Tx) error {
		l, err := tx.GetList(ctx, listID)
		if err != nil {
			return err
		}
		cur := l.InProgressGenerationID
		if cur == "" {
			return domain.ErrNoRefreshInProgress
		}
		g, err := tx.GetGeneration(ctx, cur)
		if err != nil {
			return err
		}
		at := o.now()
		g.Status = domain.StatusCancelled
		g.CompletedAt = &at
		g.ErrorCode = domain.CodeCancelled
		g.ErrorMessage = domain.ErrCancelled.Error()
		if err := tx.UpdateGeneration(ctx, g); err != nil {
			return err
		}
		l.InProgressGenerationID = ""
		l.UpdatedAt = at
		ok, err := tx.UpdateListPointers(ctx, l, cur)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: list %s changed while cancelling", domain.ErrConflict, listID)
		}
		out = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.metrics.GenerationFinished(string(domain.StatusCancelled))
	o.logger.Infow("refresh.cancel_requested", map[string]any{"list_id": listID, "generation_id": out.ID})
	return out, nil
}

// GC deletes content rows of the list that belong neither to its success
// generation nor to its in-progress generation.
func (o *Orchestrator) GC(ctx context.Context, listID string) (int64, error) {
	l, err := o.store.GetList(ctx, listID)
	if err != nil {
		return 0, err
	}
	return o.store.DeleteStaleContent(ctx, listID, l.SuccessGenerationID, l.InProgressGenerationID)
}

func (o *Orchestrator) run(ctx context.Context, l *domain.List, generationID string, h *shutdown.Handle, queuedAt time.Time) {
	defer h.Release()
	log := o.logger.With(map[string]any{"list_id": l.ID, "generation_id": generationID})
	timings := domain.StageTimings{domain.StageQueueWait: o.now().Sub(queuedAt).Milliseconds()}

	if n, err := o.gcKeeping(ctx, l.ID, generationID); err != nil {
		log.Warnw("refresh.gc_failed", map[string]any{"error": err.Error()})
	} else if n > 0 {
		log.Infow("refresh.gc", map[string]any{"rows": n})
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ingestStarted := o.now()
	q := Query{ListID: l.ID, GenerationID: generationID, EntityType: l.EntityType, Text: l.Query}
	events, err := o.execute(pctx, q)
	if err != nil {
		o.fail(ctx, log, l.ID, generationID, err, timings)
		return
	}

	sink := NewSink(o.store, l.ID, generationID, o.cfg.MaxListSize, o.cfg.PollEvery, o.metrics)
	for ev := range events {
		switch ev.Kind {
		case EventBatch:
			if err := sink.Accept(pctx, ev.IDs); err != nil {
				cancel()
				go drain(events)
				log.Warnw("refresh.batch_rejected", map[string]any{"error": err.Error(), "rows": sink.Count()})
				timings[domain.StageIngest] = o.now().Sub(ingestStarted).Milliseconds()
				o.fail(ctx, log, l.ID, generationID, err, timings)
				return
			}
		case EventSuccess:
			cancel()
			go drain(events)
			timings[domain.StageIngest] = o.now().Sub(ingestStarted).Milliseconds()
			if ev.Count != sink.Count() {
				log.Warnw("refresh.count_mismatch", map[string]any{"reported": ev.Count, "ingested": sink.Count()})
			}
			if _, err := o.completion.OnSuccess(ctx, l.ID, generationID, ev.Count, timings); err != nil {
				log.Errorw("refresh.complete_failed", map[string]any{"error": err.Error()})
			}
			return
		case EventFailure:
			cancel()
			go drain(events)
			timings[domain.StageIngest] = o.now().Sub(ingestStarted).Milliseconds()
			o.fail(ctx, log, l.ID, generationID, producerError(ev.Err), timings)
			return
		}
	}

	timings[domain.StageIngest] = o.now().Sub(ingestStarted).Milliseconds()
	cause := domain.ErrProducerIncomplete
	if ctx.Err() != nil {
		cause = domain.ErrShutdownDuringRefresh
	}
	o.fail(ctx, log, l.ID, generationID, cause, timings)
}

func (o *Orchestrator) gcKeeping(ctx context.Context, listID, generationID string) (int64, error) {
	l, err := o.store.GetList(ctx, listID)
	if err != nil {
		return 0, err
	}
	return o.store.DeleteStaleContent(ctx, listID, l.SuccessGenerationID, l.InProgressGenerationID, generationID)
}

func (o *Orchestrator) execute(ctx context.Context, q Query) (events <-chan Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("query producer panicked: %v", r)
		}
	}()
	events, err = o.producer.Execute(ctx, q, o.cfg.BatchSize)
	if err == nil && events == nil {
		err = domain.ErrProducerIncomplete
	}
	return events, err
}

func (o *Orchestrator) fail(ctx context.Context, log *logging.Logger, listID, generationID string, cause error, timings domain.StageTimings) {
	if _, err := o.completion.OnFailure(ctx, listID, generationID, cause, timings); err != nil {
		log.Errorw("refresh.complete_failed", map[string]any{"error": err.Error(), "cause": cause.Error()})
	}
}

// producerError maps a producer-reported context cancellation onto ErrCancelled.
func producerError(err error) error {
	switch {
	case err == nil:
		return errors.New("query producer reported failure without an error")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", domain.ErrCancelled, err)
	default:
		return err
	}
}

func drain(events <-chan Event) {
	for range events {
	}
}
