package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the order in which components are stopped.
type recorder struct {
	mu      sync.Mutex
	stopped []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, name)
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stopped...)
}

// blocking serves until its context is cancelled, or fails immediately when
// failWith is set.
func blocking(name string, rec *recorder, failWith error) Component {
	return Listener(name,
		func(ctx context.Context) error {
			if failWith != nil {
				return failWith
			}
			<-ctx.Done()
			return nil
		},
		func(ctx context.Context) error {
			rec.add(name)
			return nil
		},
	)
}

func TestServe_StopsInReverseOrderOnCancel(t *testing.T) {
	rec := &recorder{}
	srv := New(time.Second)

	started := make(chan struct{})
	require.NoError(t, srv.Add(Worker("health",
		func(context.Context) { close(started) },
		func(context.Context) error { rec.add("health"); return nil },
	)))
	require.NoError(t, srv.Add(blocking("metrics", rec, nil)))
	require.NoError(t, srv.Add(blocking("api", rec, nil)))
	assert.Equal(t, []string{"health", "metrics", "api"}, srv.Components())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
	assert.Equal(t, []string{"api", "metrics", "health"}, rec.order())
}

func TestServe_ComponentFailureStopsOthers(t *testing.T) {
	rec := &recorder{}
	srv := New(time.Second)

	boom := errors.New("listen tcp :8080: address already in use")
	require.NoError(t, srv.Add(blocking("metrics", rec, nil)))
	require.NoError(t, srv.Add(blocking("api", rec, boom)))

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "api component error")
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after a component failure")
	}
	assert.Equal(t, []string{"api", "metrics"}, rec.order())
}

func TestServe_NoComponents(t *testing.T) {
	err := New(0).Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no components registered")
}

func TestServe_OnlyOnce(t *testing.T) {
	srv := New(time.Second)
	require.NoError(t, srv.Add(blocking("api", &recorder{}, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, srv.Serve(ctx), context.Canceled)

	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already been called")
}

func TestAdd_DuplicateName(t *testing.T) {
	srv := New(time.Second)
	require.NoError(t, srv.Add(blocking("api", &recorder{}, nil)))

	err := srv.Add(blocking("api", &recorder{}, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestAdd_AfterServePanics(t *testing.T) {
	srv := New(time.Second)
	require.NoError(t, srv.Add(blocking("api", &recorder{}, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = srv.Serve(ctx)

	assert.Panics(t, func() { _ = srv.Add(blocking("metrics", &recorder{}, nil)) })
}

func TestNew_DefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultShutdownTimeout, New(0).shutdownTimeout)
	assert.Equal(t, time.Second, New(time.Second).shutdownTimeout)
}
