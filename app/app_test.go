package app

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/opssat/sidloc"
	"github.com/opssat/sidloc/config"
	"github.com/opssat/sidloc/lifecycle"
	"github.com/opssat/sidloc/radio"
	"github.com/opssat/sidloc/telemetry"
)

var discard = log.New(io.Discard, "", 0)

type fakeSDR struct {
	calls int
	err   error
}

func (f *fakeSDR) AsyncEnableSDR(context.Context, sidloc.SDRConfiguration, time.Duration, sidloc.SDREventSink) error {
	f.calls++
	return f.err
}

type fakeSupervisor struct {
	toggles  []bool
	listener telemetry.ArrivalFunc
	closed   int
	closeErr error
}

func (f *fakeSupervisor) ToggleParameterGeneration(_ context.Context, _ []string, enable bool) error {
	f.toggles = append(f.toggles, enable)
	return nil
}

func (f *fakeSupervisor) AddDataReceivedListener(fn telemetry.ArrivalFunc) { f.listener = fn }

func (f *fakeSupervisor) CloseConnections() error {
	f.closed++
	return f.closeErr
}

type fakeRunner struct {
	runs int
	err  error
}

func (f *fakeRunner) Run(context.Context) error {
	f.runs++
	return f.err
}

type harness struct {
	app      *App
	sdr      *fakeSDR
	sup      *fakeSupervisor
	runner   *fakeRunner
	exitCode int
	exited   bool
	exits    int
	mu       sync.Mutex
}

func newHarness(t *testing.T, props config.MapSource) *harness {
	t.Helper()
	rec, err := config.Resolve(props)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	h := &harness{sdr: &fakeSDR{}, sup: &fakeSupervisor{}, runner: &fakeRunner{}, exitCode: -1}
	ctrl, err := radio.NewController(h.sdr, rec, radio.WithLogger(discard))
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	sub := telemetry.NewSubscriber(h.sup, nil, telemetry.WithLogger(discard))
	lc := lifecycle.NewManager(sub, h.sup, lifecycle.WithLogger(discard),
		lifecycle.WithExit(func(code int) {
			h.mu.Lock()
			h.exited, h.exitCode = true, code
			h.exits++
			h.mu.Unlock()
		}))
	h.app, err = New(Config{
		Record:     rec,
		Controller: ctrl,
		Subscriber: sub,
		Lifecycle:  lc,
		Launcher:   h.runner,
		Logger:     discard,
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	return h
}

func baseProps() config.MapSource {
	return config.MapSource{config.KeySampRate: "1.5", config.KeyFrequency: "443.0", config.KeyParamsToEnable: "p1,p2"}
}

func TestStartEnablesThenLaunches(t *testing.T) {
	h := newHarness(t, baseProps())
	if err := h.app.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if h.sdr.calls != 1 || h.runner.runs != 1 {
		t.Fatalf("expected enable and launch, got %d/%d", h.sdr.calls, h.runner.runs)
	}
	if len(h.sup.toggles) != 0 {
		t.Fatalf("subscription must stay off by default")
	}
}

func TestStartDoesNotLaunchOnEnableFailure(t *testing.T) {
	h := newHarness(t, baseProps())
	h.sdr.err = errors.New("no route to platform")
	if err := h.app.Start(context.Background()); !errors.Is(err, sidloc.ErrTransportFailure) {
		t.Fatalf("expected ErrTransportFailure, got %v", err)
	}
	if h.runner.runs != 0 {
		t.Fatalf("binary launched after failed enable")
	}
}

func TestStartSwallowsSpawnFailure(t *testing.T) {
	h := newHarness(t, baseProps())
	h.runner.err = errors.New("exec format error")
	if err := h.app.Start(context.Background()); err != nil {
		t.Fatalf("spawn failure must not propagate: %v", err)
	}
}

func TestFetchingAndClose(t *testing.T) {
	h := newHarness(t, baseProps())
	ctx := context.Background()
	if err := h.app.StartFetchingData(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if h.app.SubscriptionState() != sidloc.Subscribed {
		t.Fatalf("expected subscribed")
	}
	h.sup.listener("p1", "3.14")
	if p := h.app.Parameters(); p["p1"] != "3.14" || p["p2"] != "x" {
		t.Fatalf("unexpected parameters %v", p)
	}
	if !h.app.OnClose(true) {
		t.Fatalf("expected clean close")
	}
	if h.exited {
		t.Fatalf("user close must not exit")
	}
	if len(h.sup.toggles) != 2 || h.sup.toggles[1] || h.sup.closed != 1 {
		t.Fatalf("close did not unsubscribe and release: %v %d", h.sup.toggles, h.sup.closed)
	}
}

func TestExperimentDoneExits(t *testing.T) {
	h := newHarness(t, baseProps())
	h.sup.closeErr = errors.New("already gone")
	h.app.ExperimentDone(nil)
	if !h.exited || h.exitCode != 1 {
		t.Fatalf("expected exit 1, got exited=%t code=%d", h.exited, h.exitCode)
	}
}

func TestFetchWithoutNames(t *testing.T) {
	props := baseProps()
	delete(props, config.KeyParamsToEnable)
	h := newHarness(t, props)
	if err := h.app.StartFetchingData(context.Background()); !errors.Is(err, sidloc.ErrEmptyList) {
		t.Fatalf("expected ErrEmptyList, got %v", err)
	}
}

func TestNewRequiresController(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestExperimentDoneRacesSignalClose(t *testing.T) {
	h := newHarness(t, baseProps())
	if err := h.app.StartFetchingData(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.app.ExperimentDone(nil)
	}()
	go func() {
		defer wg.Done()
		h.app.OnClose(false)
	}()
	wg.Wait()

	if len(h.sup.toggles) != 2 || h.sup.toggles[1] || h.sup.closed != 1 {
		t.Fatalf("close stages ran more than once: toggles=%v closed=%d", h.sup.toggles, h.sup.closed)
	}
	if h.exits != 2 || h.exitCode != 0 {
		t.Fatalf("expected two clean exits, got %d with code %d", h.exits, h.exitCode)
	}
}

func TestStatusReportsAcquisition(t *testing.T) {
	h := newHarness(t, baseProps())
	st := h.app.Status()
	if st.Reports != 0 || st.LastReportAt != nil || st.Lifecycle != "running" || len(st.Parameters) != 0 {
		t.Fatalf("unexpected initial status %+v", st)
	}
	if st.Configuration.CenterFrequency != 443.0 || st.ReportingInterval != 0.2 {
		t.Fatalf("unexpected configuration %+v / %g", st.Configuration, st.ReportingInterval)
	}

	if err := h.app.StartFetchingData(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	h.app.cfg.Controller.HandleSDRData(sidloc.SDRReport{ReceivedAt: at, Sequence: 7, Samples: 512})
	h.app.cfg.Controller.HandleSDRError(errors.New("overrun"))

	st = h.app.Status()
	if st.Reports != 1 || st.LastSequence != 7 || st.LastReportAt == nil || !st.LastReportAt.Equal(at) {
		t.Fatalf("unexpected report status %+v", st)
	}
	if st.LastError != "overrun" || st.Subscription != "subscribed" {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(st.Parameters) != 2 || st.Parameters[0] != "p1" || st.Parameters[1] != "p2" {
		t.Fatalf("unexpected parameters %v", st.Parameters)
	}
}
