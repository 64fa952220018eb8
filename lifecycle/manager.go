// Package lifecycle closes the experiment down on user or host request.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/opssat/sidloc"
	"github.com/opssat/sidloc/metrics"
)

// Stage names a step of the close sequence.
type Stage string

const (
	StageUnsubscribe        Stage = "unsubscribe"
	StageReleaseConnections Stage = "release_connections"
	StageShutdown           Stage = "shutdown"
)

// Subscription is the part of the telemetry subscriber the close sequence needs.
type Subscription interface {
	Subscribed() bool
	Unsubscribe(ctx context.Context) error
}

// ConnectionReleaser drops the consumer connections to the supervisor.
type ConnectionReleaser interface {
	CloseConnections() error
}

// CloseResult carries the failures recorded during a close.
type CloseResult struct {
	Failures map[Stage]error
}

func (r CloseResult) Success() bool { return len(r.Failures) == 0 }

// ExitCode is the process exit code for a host triggered close.
func (r CloseResult) ExitCode() int {
	if r.Success() {
		return 0
	}
	return 1
}

func (r CloseResult) clone() CloseResult {
	f := make(map[Stage]error, len(r.Failures))
	for s, err := range r.Failures {
		f[s] = err
	}
	return CloseResult{Failures: f}
}

func (r CloseResult) String() string {
	if r.Success() {
		return "ok"
	}
	stages := make([]string, 0, len(r.Failures))
	for s, err := range r.Failures {
		stages = append(stages, fmt.Sprintf("%s: %v", s, err))
	}
	sort.Strings(stages)
	return strings.Join(stages, "; ")
}

// Manager runs the close sequence. Concurrent closes are serialized: the
// release stages run once and later closes reuse their result.
type Manager struct {
	sub      Subscription
	releaser ConnectionReleaser
	shutdown func(ctx context.Context) error
	exit     func(code int)
	logger   *log.Logger
	metrics  *metrics.Collectors

	closeMu sync.Mutex
	done    *CloseResult
	stopped bool

	mu    sync.Mutex
	state sidloc.LifecycleState
}

type Option func(*Manager)

func WithLogger(l *log.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithMetrics(c *metrics.Collectors) Option { return func(m *Manager) { m.metrics = c } }

// WithExit replaces os.Exit, used for host triggered closes.
func WithExit(fn func(code int)) Option { return func(m *Manager) { m.exit = fn } }

// WithShutdown adds a stage run before a host triggered exit, typically the
// front door server's Shutdown.
func WithShutdown(fn func(ctx context.Context) error) Option {
	return func(m *Manager) { m.shutdown = fn }
}

// NewManager builds a Manager. sub may be nil when no telemetry subscriber runs.
func NewManager(sub Subscription, releaser ConnectionReleaser, opts ...Option) *Manager {
	m := &Manager{sub: sub, releaser: releaser, exit: os.Exit, logger: log.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) State() sidloc.LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s sidloc.LifecycleState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Close stops the supervisor subscription and releases the consumer
// connections, attempting every step. When requestedByUser is false the
// front door is shut down and the process exits with 0 on success, 1
// otherwise.
func (m *Manager) Close(ctx context.Context, requestedByUser bool) CloseResult {
	m.closeMu.Lock()
	if m.done == nil {
		res := m.release(ctx)
		m.done = &res
	} else {
		m.logger.Printf("close requested again (by user: %t), already %s", requestedByUser, m.State())
	}
	if !requestedByUser && m.shutdown != nil && !m.stopped {
		m.stopped = true
		if err := m.shutdown(ctx); err != nil {
			m.done.Failures[StageShutdown] = err
			m.metrics.CloseFailure(string(StageShutdown))
		}
	}
	res := m.done.clone()
	m.closeMu.Unlock()

	if !requestedByUser {
		m.exit(res.ExitCode())
	}
	return res
}

func (m *Manager) release(ctx context.Context) CloseResult {
	m.setState(sidloc.Closing)
	res := CloseResult{Failures: map[Stage]error{}}

	if m.sub != nil && m.sub.Subscribed() {
		if err := m.sub.Unsubscribe(ctx); err != nil {
			res.Failures[StageUnsubscribe] = err
		}
	}
	if m.releaser != nil {
		if err := m.releaser.CloseConnections(); err != nil {
			res.Failures[StageReleaseConnections] = err
		}
	}
	for s := range res.Failures {
		m.metrics.CloseFailure(string(s))
	}

	m.setState(sidloc.Closed)
	m.logger.Printf("closed application successfully: %t (%s)", res.Success(), res)
	return res
}
