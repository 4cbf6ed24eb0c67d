package server

import "context"

// listener adapts servers whose Start blocks until the context is cancelled,
// such as api.Server and metrics.Server.
type listener struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

// Listener wraps a blocking start function and its stop function.
func Listener(name string, start, stop func(ctx context.Context) error) Component {
	return &listener{name: name, start: start, stop: stop}
}

func (l *listener) Name() string { return l.name }

func (l *listener) Serve(ctx context.Context) error { return l.start(ctx) }

func (l *listener) Stop(ctx context.Context) error { return l.stop(ctx) }

// worker adapts background workers whose Start returns immediately, such as
// health.Checker and gc.Collector.
type worker struct {
	name  string
	start func(ctx context.Context)
	stop  func(ctx context.Context) error
}

// Worker wraps a non-blocking start function and its stop function. Serve
// starts the worker and then parks until ctx is cancelled.
func Worker(name string, start func(ctx context.Context), stop func(ctx context.Context) error) Component {
	return &worker{name: name, start: start, stop: stop}
}

func (w *worker) Name() string { return w.name }

func (w *worker) Serve(ctx context.Context) error {
	w.start(ctx)
	<-ctx.Done()
	return ctx.Err()
}

func (w *worker) Stop(ctx context.Context) error { return w.stop(ctx) }
