package telemetry

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/opssat/sidloc"
	"github.com/opssat/sidloc/store"
)

type fakeConsumer struct {
	mu        sync.Mutex
	toggles   []bool
	lastNames []string
	listeners []ArrivalFunc
	err       error
}

func (f *fakeConsumer) ToggleParameterGeneration(_ context.Context, names []string, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, enable)
	f.lastNames = names
	return f.err
}

func (f *fakeConsumer) AddDataReceivedListener(fn ArrivalFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeConsumer) push(name string, value interface{}) {
	f.mu.Lock()
	ls := append([]ArrivalFunc(nil), f.listeners...)
	f.mu.Unlock()
	for _, l := range ls {
		l(name, value)
	}
}

func quiet() Option { return WithLogger(log.New(io.Discard, "", 0)) }

func TestSubscribeEmptyList(t *testing.T) {
	fc := &fakeConsumer{}
	s := NewSubscriber(fc, nil, quiet())
	if err := s.Subscribe(context.Background(), nil); !errors.Is(err, sidloc.ErrEmptyList) {
		t.Fatalf("expected ErrEmptyList, got %v", err)
	}
	if len(fc.toggles) != 0 {
		t.Fatalf("remote toggled on empty list")
	}
	if s.Subscribed() {
		t.Fatalf("should stay unsubscribed")
	}
}

func TestSubscribeDefaultsThenArrival(t *testing.T) {
	fc := &fakeConsumer{}
	s := NewSubscriber(fc, store.New(), quiet())
	if err := s.Subscribe(context.Background(), []string{"p1", "p2"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	snap := s.Snapshot()
	if snap["p1"] != "x" || snap["p2"] != "x" || len(snap) != 2 {
		t.Fatalf("expected defaults, got %v", snap)
	}
	fc.push("p1", "3.14")
	snap = s.Snapshot()
	if snap["p1"] != "3.14" || snap["p2"] != "x" {
		t.Fatalf("unexpected snapshot %v", snap)
	}
	fc.push("p2", 42)
	if got := s.Snapshot()["p2"]; got != "42" {
		t.Fatalf("expected stringified 42, got %q", got)
	}
}

func TestNullArrivalKeepsEntry(t *testing.T) {
	fc := &fakeConsumer{}
	at := time.Unix(100, 0)
	s := NewSubscriber(fc, nil, quiet(), WithClock(func() time.Time { return at }))
	if err := s.Subscribe(context.Background(), []string{"p1"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	fc.push("p1", "1")
	fc.push("p1", nil)
	e, err := s.Store().Lookup("p1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if e.Value != "1" || !e.ObservedAt.Equal(at) {
		t.Fatalf("null arrival changed entry: %+v", e)
	}
	fc.push("other", "9")
	if _, ok := s.Snapshot()["other"]; ok {
		t.Fatalf("unsubscribed name stored")
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	fc := &fakeConsumer{}
	s := NewSubscriber(fc, nil, quiet())
	names := []string{"p1", "p2"}
	for i := 0; i < 2; i++ {
		if err := s.Subscribe(context.Background(), names); err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
	}
	if len(fc.toggles) != 1 {
		t.Fatalf("expected a single remote toggle, got %d", len(fc.toggles))
	}
	if len(fc.listeners) != 1 {
		t.Fatalf("expected a single listener, got %d", len(fc.listeners))
	}
}

func TestUnsubscribeAndResubscribe(t *testing.T) {
	fc := &fakeConsumer{}
	s := NewSubscriber(fc, nil, quiet())
	ctx := context.Background()
	if err := s.Unsubscribe(ctx); !errors.Is(err, sidloc.ErrEmptyList) {
		t.Fatalf("expected ErrEmptyList before subscribe, got %v", err)
	}
	if err := s.Subscribe(ctx, []string{"p1"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.Unsubscribe(ctx); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if s.State() != sidloc.Unsubscribed {
		t.Fatalf("expected unsubscribed")
	}
	if err := s.Subscribe(ctx, []string{"p1"}); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if len(fc.toggles) != 3 || fc.toggles[1] {
		t.Fatalf("unexpected toggles %v", fc.toggles)
	}
	if len(fc.listeners) != 1 {
		t.Fatalf("handler re-registered: %d", len(fc.listeners))
	}
}

func TestUnsubscribeWhileUnsubscribedIsNoop(t *testing.T) {
	fc := &fakeConsumer{}
	s := NewSubscriber(fc, nil, quiet())
	ctx := context.Background()
	if err := s.Subscribe(ctx, []string{"p1"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Unsubscribe(ctx); err != nil {
			t.Fatalf("unsubscribe %d: %v", i, err)
		}
	}
	if len(fc.toggles) != 2 {
		t.Fatalf("expected one enable and one disable, got %v", fc.toggles)
	}
}

func TestRemoteToggleFailure(t *testing.T) {
	fc := &fakeConsumer{err: errors.New("supervisor unreachable")}
	s := NewSubscriber(fc, nil, quiet())
	if err := s.Subscribe(context.Background(), []string{"p1"}); !errors.Is(err, sidloc.ErrRemoteToggleFailed) {
		t.Fatalf("expected ErrRemoteToggleFailed, got %v", err)
	}
	if s.Subscribed() || len(fc.listeners) != 0 {
		t.Fatalf("failed subscribe must not register or change state")
	}
}
