// Package pool owns one authenticated connection per named cluster:
// created lazily on first use, reused thereafter, torn down on explicit
// disconnect or disposal. Pooling avoids repeated handshakes and, for
// MSK IAM, repeated token generation.
package pool

import (
	"context"
	"log/slog"
	"sync"
)

// Endpoint is one connectable sub-client of a cluster connection.
type Endpoint interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Client is the admin/producer capability pair the pool manages. The
// pool assumes no concrete transport behind it.
type Client interface {
	Admin() Endpoint
	Producer() Endpoint
}

// Factory produces a raw, unconnected client for one cluster.
type Factory func(ctx context.Context) (Client, error)

type entry struct {
	client Client
	err    error
	ready  chan struct{} // closed once connect settles
}

// Pool caches at most one connected Client per cluster name. Concurrent
// Get calls for the same name share a single connect sequence; a failed
// connect leaves no entry behind, so the cluster can be retried from a
// clean state.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger
}

// New returns an empty pool.
func New(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Get returns the pooled client for name, establishing it on first use.
// The first caller runs factory and connects the admin and producer
// endpoints; callers arriving while that is in flight wait for the same
// outcome instead of starting a second connect. Connection errors
// propagate unmodified and nothing is cached on failure.
func (p *Pool) Get(ctx context.Context, name string, factory Factory) (Client, error) {
	p.mu.Lock()
	if e, ok := p.entries[name]; ok {
		p.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.client, nil
	}

	e := &entry{ready: make(chan struct{})}
	p.entries[name] = e
	p.mu.Unlock()

	client, err := p.connect(ctx, name, factory)
	if err != nil {
		// Record the failure for in-flight waiters, then clear the
		// entry so the next Get starts fresh.
		e.err = err
		p.mu.Lock()
		if p.entries[name] == e {
			delete(p.entries, name)
		}
		p.mu.Unlock()
		close(e.ready)
		return nil, err
	}

	e.client = client
	close(e.ready)

	p.logger.Debug("connection pooled", "cluster", name)

	return client, nil
}

func (p *Pool) connect(ctx context.Context, name string, factory Factory) (Client, error) {
	client, err := factory(ctx)
	if err != nil {
		return nil, err
	}

	if err := client.Admin().Connect(ctx); err != nil {
		return nil, err
	}

	if err := client.Producer().Connect(ctx); err != nil {
		// Admin connected; undo it best-effort before reporting.
		if dErr := client.Admin().Disconnect(ctx); dErr != nil {
			p.logger.Warn("admin disconnect after failed producer connect",
				"cluster", name, "error", dErr)
		}
		return nil, err
	}

	return client, nil
}

// Disconnect tears down the pooled connection for name. Unknown names
// are a no-op. Disconnect errors are logged, never returned: cleanup is
// best-effort and the entry is removed regardless.
func (p *Pool) Disconnect(ctx context.Context, name string) {
	p.mu.Lock()
	e, ok := p.entries[name]
	if ok {
		delete(p.entries, name)
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	// Wait out an in-flight connect so we never disconnect a half-built
	// client.
	<-e.ready
	if e.err != nil {
		return
	}

	p.teardown(ctx, name, e.client)
}

// Dispose disconnects every pooled entry. Safe on an empty pool and
// idempotent.
func (p *Pool) Dispose(ctx context.Context) {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	for name, e := range entries {
		<-e.ready
		if e.err != nil {
			continue
		}
		p.teardown(ctx, name, e.client)
	}
}

func (p *Pool) teardown(ctx context.Context, name string, client Client) {
	if err := client.Admin().Disconnect(ctx); err != nil {
		p.logger.Warn("admin disconnect failed", "cluster", name, "error", err)
	}
	if err := client.Producer().Disconnect(ctx); err != nil {
		p.logger.Warn("producer disconnect failed", "cluster", name, "error", err)
	}
}

// Len reports the number of pooled entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
