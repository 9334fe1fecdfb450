package shutdown

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/listmat/internal/identity"
	"github.com/mmrzaf/listmat/internal/logging"
	"github.com/mmrzaf/listmat/internal/metrics"
)

func newTestRegistry() *Registry {
	return NewRegistry(nil, logging.NewLoggerWithWriter("error", io.Discard))
}

func TestShutdownRunsInRegistrationOrderUnderIdentity(t *testing.T) {
	r := newTestRegistry()

	var got []string
	for i := 0; i < 5; i++ {
		id := identity.Identity{TenantID: fmt.Sprintf("t%d", i)}
		_, err := r.Register(id, fmt.Sprintf("task-%d", i), func(ctx context.Context) error {
			got = append(got, identity.FromContext(ctx).TenantID)
			return nil
		})
		require.NoError(t, err)
	}

	r.Shutdown(context.Background())

	assert.Equal(t, []string{"t0", "t1", "t2", "t3", "t4"}, got)
	assert.Equal(t, 0, r.Len())
}

func TestReleasedActionDoesNotRun(t *testing.T) {
	r := newTestRegistry()

	ran := false
	h, err := r.Register(identity.Identity{}, "released", func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)

	assert.True(t, h.Release())
	assert.False(t, h.Release(), "second release is a no-op")
	assert.Equal(t, 0, r.Len())

	r.Shutdown(context.Background())
	assert.False(t, ran)
}

func TestFailingActionDoesNotStopLaterActions(t *testing.T) {
	r := newTestRegistry()

	var got []string
	_, _ = r.Register(identity.Identity{}, "fails", func(context.Context) error {
		got = append(got, "fails")
		return errors.New("boom")
	})
	_, _ = r.Register(identity.Identity{}, "panics", func(context.Context) error {
		got = append(got, "panics")
		panic("kaboom")
	})
	_, _ = r.Register(identity.Identity{}, "ok", func(context.Context) error {
		got = append(got, "ok")
		return nil
	})

	r.Shutdown(context.Background())
	assert.Equal(t, []string{"fails", "panics", "ok"}, got)
}

func TestShutdownRunsEachActionOnce(t *testing.T) {
	r := newTestRegistry()

	calls := 0
	h, _ := r.Register(identity.Identity{}, "once", func(context.Context) error {
		calls++
		return nil
	})

	r.Shutdown(context.Background())
	r.Shutdown(context.Background())

	assert.Equal(t, 1, calls)
	assert.False(t, h.Release(), "release after the action ran reports false")

	_, err := r.Register(identity.Identity{}, "late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentRegisterAndRelease(t *testing.T) {
	r := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Register(identity.Identity{}, "job", func(context.Context) error { return nil })
			if err != nil {
				t.Error(err)
				return
			}
			h.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, r.Len())
}

func TestShutdownCountsActionsRun(t *testing.T) {
	m := metrics.New()
	r := NewRegistry(m, logging.NewLoggerWithWriter("error", io.Discard))

	_, _ = r.Register(identity.Identity{}, "fails", func(context.Context) error { return errors.New("boom") })
	_, _ = r.Register(identity.Identity{}, "ok", func(context.Context) error { return nil })
	h, _ := r.Register(identity.Identity{}, "released", func(context.Context) error { return nil })
	require.True(t, h.Release())

	r.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "listmat_shutdown_actions_total 2")
}
