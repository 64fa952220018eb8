package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opssat/sidloc"
)

func TestSnapshotDefaults(t *testing.T) {
	s := New("p1", "p2")
	snap := s.Snapshot()
	if len(snap) != 2 || snap["p1"] != DefaultValue || snap["p2"] != DefaultValue {
		t.Fatalf("unexpected snapshot %v", snap)
	}
}

func TestSetThenSnapshot(t *testing.T) {
	s := New("p1", "p2")
	now := time.Now()
	if err := s.Set("p1", "3.14", now); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap := s.Snapshot()
	if snap["p1"] != "3.14" || snap["p2"] != DefaultValue {
		t.Fatalf("unexpected snapshot %v", snap)
	}
	e, err := s.Lookup("p1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !e.ObservedAt.Equal(now) {
		t.Fatalf("timestamp not stored: %v", e.ObservedAt)
	}
	d, err := s.Lookup("p2")
	if err != nil || d.Value != DefaultValue || !d.ObservedAt.IsZero() {
		t.Fatalf("expected default entry, got %+v %v", d, err)
	}
}

func TestUnknownName(t *testing.T) {
	s := New("p1")
	if _, err := s.Lookup("nope"); !errors.Is(err, sidloc.ErrUnknownParameter) {
		t.Fatalf("expected ErrUnknownParameter, got %v", err)
	}
	if err := s.Set("nope", "1", time.Now()); !errors.Is(err, sidloc.ErrUnknownParameter) {
		t.Fatalf("expected ErrUnknownParameter, got %v", err)
	}
	if _, ok := s.Snapshot()["nope"]; ok {
		t.Fatalf("unknown name leaked into snapshot")
	}
}

func TestFixKeepsSurvivors(t *testing.T) {
	s := New("a", "b")
	_ = s.Set("a", "1", time.Now())
	_ = s.Set("b", "2", time.Now())
	s.Fix([]string{"a", "c", "a"})
	snap := s.Snapshot()
	if len(snap) != 2 || snap["a"] != "1" || snap["c"] != DefaultValue {
		t.Fatalf("unexpected snapshot after fix %v", snap)
	}
	if err := s.Set("b", "3", time.Now()); !errors.Is(err, sidloc.ErrUnknownParameter) {
		t.Fatalf("b should be dropped, got %v", err)
	}
	if got := s.Names(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("unexpected names %v", got)
	}
}

// Writers store value i with timestamp base+i; readers check both always match.
func TestConcurrentSnapshotConsistency(t *testing.T) {
	s := New("p1", "p2")
	base := time.Unix(1_600_000_000, 0)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for w := 0; w < 2; w++ {
		name := fmt.Sprintf("p%d", w+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				_ = s.Set(name, fmt.Sprint(i), base.Add(time.Duration(i)*time.Second))
			}
		}()
	}

	errCh := make(chan error, 4)
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 2000; i++ {
				for name, e := range s.Entries() {
					if e.Value == DefaultValue {
						if !e.ObservedAt.IsZero() {
							errCh <- fmt.Errorf("%s: default value with timestamp %v", name, e.ObservedAt)
							return
						}
						continue
					}
					want := fmt.Sprint(int64(e.ObservedAt.Sub(base) / time.Second))
					if e.Value != want {
						errCh <- fmt.Errorf("%s: value %s does not match timestamp (want %s)", name, e.Value, want)
						return
					}
				}
				_ = s.Snapshot()
			}
		}()
	}

	done := make(chan struct{})
	go func() { readers.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("readers deadlocked")
	}
	close(stop)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
