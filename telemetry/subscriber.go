// Package telemetry subscribes to supervisor parameter values and keeps the
// latest of each in a store.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/opssat/sidloc"
	"github.com/opssat/sidloc/metrics"
	"github.com/opssat/sidloc/store"
)

// ArrivalFunc is invoked by the transport for every pushed parameter value.
// A nil value means the supervisor had no value to report.
type ArrivalFunc func(name string, value interface{})

// Consumer is the supervisor side of the parameter feed.
type Consumer interface {
	ToggleParameterGeneration(ctx context.Context, names []string, enable bool) error
	AddDataReceivedListener(fn ArrivalFunc)
}

// Subscriber owns the subscription state of the supervisor feed.
type Subscriber struct {
	consumer Consumer
	store    *store.Store
	logger   *log.Logger
	metrics  *metrics.Collectors
	now      func() time.Time

	mu         sync.Mutex
	state      sidloc.SubscriptionState
	names      []string
	registered bool
}

type Option func(*Subscriber)

func WithLogger(l *log.Logger) Option { return func(s *Subscriber) { s.logger = l } }

func WithMetrics(m *metrics.Collectors) Option { return func(s *Subscriber) { s.metrics = m } }

// WithClock overrides the timestamp source of stored values.
func WithClock(now func() time.Time) Option { return func(s *Subscriber) { s.now = now } }

func NewSubscriber(consumer Consumer, st *store.Store, opts ...Option) *Subscriber {
	s := &Subscriber{consumer: consumer, store: st, logger: log.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.store == nil {
		s.store = store.New()
	}
	return s
}

// Subscribe asks the supervisor to push names. It is a no-op while already
// subscribed. The arrival handler is registered on the first success only.
func (s *Subscriber) Subscribe(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: nothing to enable in supervisor", sidloc.ErrEmptyList)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == sidloc.Subscribed {
		return nil
	}
	err := s.consumer.ToggleParameterGeneration(ctx, names, true)
	s.metrics.Toggle(true, err)
	if err != nil {
		s.logger.Printf("error: toggling supervisor parameters generation: %v", err)
		return fmt.Errorf("%w: %v", sidloc.ErrRemoteToggleFailed, err)
	}
	s.names = append([]string(nil), names...)
	s.store.Fix(s.names)
	if !s.registered {
		s.consumer.AddDataReceivedListener(s.handleArrival)
		s.registered = true
		s.logger.Printf("started fetching %d parameters from supervisor", len(s.names))
	}
	s.state = sidloc.Subscribed
	return nil
}

// Unsubscribe turns the supervisor feed off. It is a no-op while already
// unsubscribed. The arrival handler stays registered and goes idle.
func (s *Subscriber) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.names) == 0 {
		return fmt.Errorf("%w: no parameters were subscribed", sidloc.ErrEmptyList)
	}
	if s.state == sidloc.Unsubscribed {
		return nil
	}
	err := s.consumer.ToggleParameterGeneration(ctx, s.names, false)
	s.metrics.Toggle(false, err)
	if err != nil {
		s.logger.Printf("error: disabling supervisor parameters generation: %v", err)
		return fmt.Errorf("%w: %v", sidloc.ErrRemoteToggleFailed, err)
	}
	s.state = sidloc.Unsubscribed
	s.logger.Printf("stopped fetching parameters from supervisor")
	return nil
}

func (s *Subscriber) State() sidloc.SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) Subscribed() bool { return s.State() == sidloc.Subscribed }

// Snapshot returns the latest value of every subscribed parameter.
func (s *Subscriber) Snapshot() map[string]string { return s.store.Snapshot() }

func (s *Subscriber) Store() *store.Store { return s.store }

func (s *Subscriber) handleArrival(name string, value interface{}) {
	if value == nil {
		s.logger.Printf("warning: received null value for parameter %s", name)
		s.metrics.ParameterArrival("null")
		return
	}
	v := fmt.Sprint(value)
	if err := s.store.Set(name, v, s.now()); err != nil {
		s.logger.Printf("warning: dropping value %s: %v", v, err)
		s.metrics.ParameterArrival("unknown")
		return
	}
	s.metrics.ParameterArrival("stored")
}
