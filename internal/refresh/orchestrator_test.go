package refresh

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/listmat/internal/domain"
	"github.com/mmrzaf/listmat/internal/identity"
)

func TestRefreshReplacesPreviousSuccessEndToEnd(t *testing.T) {
	e := newEnv(t, staticProducer([]string{"n1", "n2"}, []string{"n3"}), Config{BatchSize: 2, PollEvery: 10})
	ctx := identity.NewContext(context.Background(), identity.Identity{TenantID: "t1", UserID: "u1"})
	l := seedList(t, e.repo)
	old := seedGeneration(t, e.repo, l, domain.StatusSuccess, 3, 3)

	g, err := e.orch.Start(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, g.Status)
	assert.Equal(t, "u1", g.CreatedBy)
	assert.NotEmpty(t, g.QueryHash)
	e.dispatcher.Wait()

	got, err := e.repo.GetList(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, got.InProgressGenerationID)
	assert.Equal(t, g.ID, got.SuccessGenerationID)

	done, err := e.repo.GetGeneration(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, done.Status)
	assert.Equal(t, int64(4), done.ContentVersion)
	assert.Equal(t, int64(3), done.RecordCount)
	assert.Contains(t, done.Timings, domain.StageQueueWait)
	assert.Contains(t, done.Timings, domain.StageIngest)

	assert.Empty(t, contentIDs(t, e.repo, l.ID, old.ID))
	rows := contentIDs(t, e.repo, l.ID, g.ID)
	require.Len(t, rows, 3)
	for i, want := range []string{"n1", "n2", "n3"} {
		assert.Equal(t, int64(i), rows[i].SortSeq)
		assert.Equal(t, want, rows[i].ContentID)
	}
	assert.Zero(t, e.registry.Len(), "shutdown task released")
}

func TestRefreshFailsWhenSizeLimitIsCrossed(t *testing.T) {
	e := newEnv(t, staticProducer([]string{"a", "b"}, []string{"c", "d"}, []string{"e"}), Config{MaxListSize: 3})
	l := seedList(t, e.repo)

	g, err := e.orch.Start(context.Background(), l.ID)
	require.NoError(t, err)
	e.dispatcher.Wait()

	failed, err := e.repo.GetGeneration(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, domain.CodeListSizeExceeded, failed.ErrorCode)
	assert.Empty(t, contentIDs(t, e.repo, l.ID, g.ID))

	got, err := e.repo.GetList(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.FailureGenerationID)
	assert.Empty(t, got.InProgressGenerationID)
}

func TestCancelBetweenBatchesLeavesNoRows(t *testing.T) {
	p := &scriptedProducer{}
	stream := p.push()
	e := newEnv(t, p, Config{PollEvery: 10})
	ctx := context.Background()
	l := seedList(t, e.repo)

	g, err := e.orch.Start(ctx, l.ID)
	require.NoError(t, err)

	stream <- Batch([]string{"k-0"})
	cancelled, err := e.orch.Cancel(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, cancelled.ID)

	for i := 1; i <= 10; i++ {
		stream <- Batch([]string{fmt.Sprintf("k-%d", i)})
	}
	close(stream)
	e.dispatcher.Wait()

	got, err := e.repo.GetGeneration(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, got.Status)
	assert.Equal(t, domain.CodeCancelled, got.ErrorCode)
	assert.Empty(t, contentIDs(t, e.repo, l.ID, g.ID))

	list, err := e.repo.GetList(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, list.InProgressGenerationID)
	assert.Empty(t, list.FailureGenerationID)
}

func TestCancelWithoutRefresh(t *testing.T) {
	e := newEnv(t, staticProducer(), Config{})
	l := seedList(t, e.repo)

	_, err := e.orch.Cancel(context.Background(), l.ID)
	assert.ErrorIs(t, err, domain.ErrNoRefreshInProgress)
}

func TestNewerRefreshSupersedesRunningOne(t *testing.T) {
	p := &scriptedProducer{}
	first := p.push()
	second := p.push()
	e := newEnv(t, p, Config{})
	ctx := context.Background()
	l := seedList(t, e.repo)

	g1, err := e.orch.Start(ctx, l.ID)
	require.NoError(t, err)
	first <- Batch([]string{"a", "b"})

	g2, err := e.orch.Start(ctx, l.ID)
	require.NoError(t, err)

	superseded, err := e.repo.GetGeneration(ctx, g1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, superseded.Status)
	assert.Equal(t, domain.CodeSuperseded, superseded.ErrorCode)

	second <- Batch([]string{"x"})
	second <- Success(1)
	close(second)

	first <- Success(2)
	close(first)
	e.dispatcher.Wait()

	list, err := e.repo.GetList(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, g2.ID, list.SuccessGenerationID)
	assert.Empty(t, list.InProgressGenerationID)
	assert.Empty(t, contentIDs(t, e.repo, l.ID, g1.ID))
	assert.Len(t, contentIDs(t, e.repo, l.ID, g2.ID), 1)

	again, err := e.repo.GetGeneration(ctx, g1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, again.Status, "stale success does not revive the generation")
}

func TestProducerPanicIsRoutedToFailure(t *testing.T) {
	panicky := ProducerFunc(func(context.Context, Query, int) (<-chan Event, error) {
		panic("engine exploded")
	})
	e := newEnv(t, panicky, Config{})
	l := seedList(t, e.repo)

	g, err := e.orch.Start(context.Background(), l.ID)
	require.NoError(t, err)
	e.dispatcher.Wait()

	failed, err := e.repo.GetGeneration(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, domain.CodeUnexpected, failed.ErrorCode)
	assert.Contains(t, failed.ErrorMessage, "engine exploded")
}

func TestProducerFailureEventAndIncompleteStream(t *testing.T) {
	p := &scriptedProducer{}
	failing := p.push()
	truncated := p.push()
	e := newEnv(t, p, Config{})
	ctx := context.Background()
	l := seedList(t, e.repo)

	g1, err := e.orch.Start(ctx, l.ID)
	require.NoError(t, err)
	failing <- Batch([]string{"a"})
	failing <- Failure(fmt.Errorf("bad query: %w", domain.ErrInvalidRequest))
	close(failing)
	e.dispatcher.Wait()

	got, err := e.repo.GetGeneration(ctx, g1.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, domain.CodeInvalidRequest, got.ErrorCode)

	g2, err := e.orch.Start(ctx, l.ID)
	require.NoError(t, err)
	truncated <- Batch([]string{"a"})
	close(truncated)
	e.dispatcher.Wait()

	got, err = e.repo.GetGeneration(ctx, g2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, domain.CodeProducerIncomplete, got.ErrorCode)
	assert.Empty(t, contentIDs(t, e.repo, l.ID, g2.ID))
}

func TestShutdownFailsRunningRefresh(t *testing.T) {
	p := &scriptedProducer{}
	stream := p.push()
	e := newEnv(t, p, Config{})
	ctx := identity.NewContext(context.Background(), identity.Identity{TenantID: "t9"})
	l := seedList(t, e.repo)

	g, err := e.orch.Start(ctx, l.ID)
	require.NoError(t, err)
	stream <- Batch([]string{"a", "b"})
	require.Equal(t, 1, e.registry.Len())

	e.registry.Shutdown(context.Background())

	got, err := e.repo.GetGeneration(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, domain.CodeShutdownRefresh, got.ErrorCode)

	stream <- Success(2)
	close(stream)
	e.dispatcher.Wait()

	list, err := e.repo.GetList(ctx, l.ID)
	require.NoError(t, err)
	assert.Empty(t, list.SuccessGenerationID, "late success is stale")
	assert.Empty(t, contentIDs(t, e.repo, l.ID, g.ID))

	_, err = e.orch.Start(ctx, l.ID)
	assert.Error(t, err, "no new refresh once shutdown began")
}

func TestGCRemovesOrphanedRows(t *testing.T) {
	e := newEnv(t, staticProducer(), Config{})
	ctx := context.Background()
	l := seedList(t, e.repo)
	keep := seedGeneration(t, e.repo, l, domain.StatusSuccess, 1, 2)
	require.NoError(t, e.repo.AppendContent(ctx, l.ID, "crashed-gen", 0, []string{"x", "y", "z"}))

	n, err := e.orch.GC(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Len(t, contentIDs(t, e.repo, l.ID, keep.ID), 2)
}
