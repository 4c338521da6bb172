// Package pool manages a bounded set of mock server instances for parallel
// test execution. Instances are created lazily on first demand, up to the
// configured maximum; afterwards Acquire blocks until a release. A released
// instance is reset to pristine state but keeps its listener bound, so its
// port stays stable for the life of the process.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/alexliesenfeld/httpmock/pkg/logging"
	"github.com/alexliesenfeld/httpmock/pkg/server"
)

// DefaultMaxInstances bounds the pool when no explicit maximum is set.
const DefaultMaxInstances = 25

// ErrClosed is returned by Acquire after the pool has been closed.
var ErrClosed = errors.New("pool is closed")

// Pool hands out mock server instances. Safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	max     int
	created int
	all     []*Instance
	closed  bool

	idle chan *Instance
	done chan struct{}

	log      *slog.Logger
	coreOpts []server.Option
}

// Option configures a Pool.
type Option func(*Pool)

// WithMaxInstances bounds how many instances the pool may create.
// Non-positive values select DefaultMaxInstances.
func WithMaxInstances(n int) Option {
	return func(p *Pool) { p.max = n }
}

// WithLogger sets the pool logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Pool) { p.log = log }
}

// WithCoreOptions passes options to every instance's server core.
func WithCoreOptions(opts ...server.Option) Option {
	return func(p *Pool) { p.coreOpts = append(p.coreOpts, opts...) }
}

// New creates an empty pool. No listener is bound until the first Acquire.
func New(opts ...Option) *Pool {
	p := &Pool{max: DefaultMaxInstances, log: logging.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.max <= 0 {
		p.max = DefaultMaxInstances
	}
	p.idle = make(chan *Instance, p.max)
	p.done = make(chan struct{})
	return p
}

// Instance is one pooled mock server bound to a loopback port.
type Instance struct {
	core *server.Core
	srv  *http.Server
	ln   net.Listener
	port int
	pool *Pool
}

// Acquire returns an idle instance, creating one if the pool is not yet at
// its maximum. When every instance is checked out, it blocks until a
// release or until ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Instance, error) {
	select {
	case inst := <-p.idle:
		return inst, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.created < p.max {
		p.created++
		p.mu.Unlock()

		inst, err := p.spawn()
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}
		return inst, nil
	}
	p.mu.Unlock()

	select {
	case inst := <-p.idle:
		return inst, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release resets the instance and returns it to the pool. The listener
// stays bound; the next acquirer sees the same port with no rules, no hit
// counters, and no history.
func (p *Pool) Release(inst *Instance) {
	inst.core.Reset()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		inst.shutdown()
		return
	}
	p.idle <- inst
}

// Created returns how many instances the pool has started.
func (p *Pool) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Close tears down every instance listener. Blocked Acquire calls return
// ErrClosed. Intended for process shutdown.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	all := append([]*Instance(nil), p.all...)
	p.mu.Unlock()

	close(p.done)
drain:
	for {
		select {
		case <-p.idle:
		default:
			break drain
		}
	}
	for _, inst := range all {
		inst.shutdown()
	}
	p.log.Debug("pool closed", "instances", len(all))
}

func (p *Pool) spawn() (*Instance, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("binding mock server listener: %w", err)
	}

	core := server.New(p.coreOpts...)
	inst := &Instance{
		core: core,
		srv:  &http.Server{Handler: core},
		ln:   ln,
		port: ln.Addr().(*net.TCPAddr).Port,
		pool: p,
	}
	go func() {
		if err := inst.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Error("mock server stopped", "port", inst.port, "error", err)
		}
	}()

	p.mu.Lock()
	p.all = append(p.all, inst)
	p.mu.Unlock()

	p.log.Debug("mock server started", "port", inst.port)
	return inst, nil
}

func (inst *Instance) shutdown() {
	_ = inst.srv.Close()
}

// Core returns the instance's server core, giving access to its registry,
// history, forwarding router, and recorder.
func (inst *Instance) Core() *server.Core { return inst.core }

// Port returns the loopback port the instance listens on. It never changes
// for the life of the process.
func (inst *Instance) Port() int { return inst.port }

// URL returns the instance base URL, e.g. "http://127.0.0.1:39021".
func (inst *Instance) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", inst.port)
}

// Release returns the instance to its pool. Shorthand for Pool.Release.
func (inst *Instance) Release() {
	inst.pool.Release(inst)
}
