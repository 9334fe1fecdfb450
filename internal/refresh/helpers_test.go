package refresh

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/infra/repos/lists"
	"github.com/mmrzaf/listmat/internal/logging"
	"github.com/mmrzaf/listmat/internal/metrics"
	"github.com/mmrzaf/listmat/internal/shutdown"
	"github.com/mmrzaf/listmat/internal/worker"
)

func quietLogger() *logging.Logger { return logging.NewLoggerWithWriter("error", io.Discard) }

func newStore(t *testing.T) *lists.Repository {
	t.Helper()
	repo := lists.NewSQLiteRepository(filepath.Join(t.TempDir(), "listmat.db"))
	require.NoError(t, repo.Init(context.Background()))
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func seedList(t *testing.T, repo *lists.Repository) *domain.List {
	t.Helper()
	now := time.Now().UTC()
	l := &domain.List{
		ID: uuid.NewString(), Name: "vip", EntityType: "contacts", Query: "score > 10",
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.CreateList(context.Background(), l))
	return l
}

// seedGeneration inserts a generation and, for IN_PROGRESS or SUCCESS, points
// the list at it. rows content rows are appended with sequences 0..rows-1.
func seedGeneration(t *testing.T, repo *lists.Repository, l *domain.List, status domain.Status, version int64, rows int) *domain.RefreshGeneration {
	t.Helper()
	ctx := context.Background()
	g := &domain.RefreshGeneration{
		ID: uuid.NewString(), ListID: l.ID, Status: status, StartedAt: time.Now().UTC(), ContentVersion: version,
	}
	require.NoError(t, repo.CreateGeneration(ctx, g))

	cur, err := repo.GetList(ctx, l.ID)
	require.NoError(t, err)
	expected := cur.InProgressGenerationID
	switch status {
	case domain.StatusInProgress:
		cur.InProgressGenerationID = g.ID
	case domain.StatusSuccess:
		cur.SuccessGenerationID = g.ID
	}
	ok, err := repo.UpdateListPointers(ctx, cur, expected)
	require.NoError(t, err)
	require.True(t, ok)

	if rows > 0 {
		ids := make([]string, rows)
		for i := range ids {
			ids[i] = uuid.NewString()
		}
		require.NoError(t, repo.AppendContent(ctx, l.ID, g.ID, 0, ids))
	}
	return g
}

func contentIDs(t *testing.T, repo *lists.Repository, listID, generationID string) []domain.ContentRow {
	t.Helper()
	rows, err := repo.ContentPage(context.Background(), listID, generationID, -1, 1_000_000)
	require.NoError(t, err)
	return rows
}

// trackingDispatcher runs each task on its own goroutine and lets tests wait
// for all of them.
type trackingDispatcher struct {
	wg sync.WaitGroup
}

func (d *trackingDispatcher) Submit(_ string, fn worker.Task) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn(context.Background())
	}()
	return nil
}

func (d *trackingDispatcher) Wait() { d.wg.Wait() }

// scriptedProducer hands out one pre-built event channel per Execute call.
type scriptedProducer struct {
	mu      sync.Mutex
	streams []chan Event
	calls   []Query
}

func (p *scriptedProducer) push() chan Event {
	ch := make(chan Event)
	p.mu.Lock()
	p.streams = append(p.streams, ch)
	p.mu.Unlock()
	return ch
}

func (p *scriptedProducer) Execute(_ context.Context, q Query, _ int) (<-chan Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := p.streams[0]
	p.streams = p.streams[1:]
	p.calls = append(p.calls, q)
	return ch, nil
}

// staticProducer emits the batches then a success with the total count.
func staticProducer(batches ...[]string) Producer {
	return ProducerFunc(func(ctx context.Context, _ Query, _ int) (<-chan Event, error) {
		ch := make(chan Event)
		go func() {
			defer close(ch)
			var n int64
			for _, b := range batches {
				select {
				case ch <- Batch(b):
					n += int64(len(b))
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- Success(n):
			case <-ctx.Done():
			}
		}()
		return ch, nil
	})
}

type env struct {
	repo       *lists.Repository
	registry   *shutdown.Registry
	dispatcher *trackingDispatcher
	orch       *Orchestrator
}

func newEnv(t *testing.T, producer Producer, cfg Config) *env {
	t.Helper()
	repo := newStore(t)
	e := &env{
		repo:       repo,
		registry:   shutdown.NewRegistry(nil, quietLogger()),
		dispatcher: &trackingDispatcher{},
	}
	e.orch = NewOrchestrator(repo, producer, e.dispatcher, e.registry, cfg, metrics.New(), quietLogger())
	return e
}
