// Package app wires the radio controller, the telemetry subscriber, the
// lifecycle manager and the experiment launcher into the application exposed
// to the NMF host.
package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/opssat/sidloc"
	"github.com/opssat/sidloc/config"
	"github.com/opssat/sidloc/lifecycle"
	"github.com/opssat/sidloc/radio"
	"github.com/opssat/sidloc/telemetry"
)

// Runner starts the experiment binary without waiting for it.
type Runner interface {
	Run(ctx context.Context) error
}

// Config lists the components of an App. Subscriber and Launcher are optional.
type Config struct {
	Record     config.Record
	Controller *radio.Controller
	Subscriber *telemetry.Subscriber
	Lifecycle  *lifecycle.Manager
	Launcher   Runner
	Logger     *log.Logger

	// FetchOnStart subscribes to the configured parameters once acquisition is requested.
	FetchOnStart bool
	CloseTimeout time.Duration
}

// App implements sidloc.FrontDoor.
type App struct {
	cfg Config
	log *log.Logger
}

var _ sidloc.FrontDoor = (*App)(nil)

var errNoController = errors.New("app: radio controller is nil")

func New(cfg Config) (*App, error) {
	if cfg.Controller == nil {
		return nil, errNoController
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Lifecycle == nil {
		var sub lifecycle.Subscription
		if cfg.Subscriber != nil {
			sub = cfg.Subscriber
		}
		cfg.Lifecycle = lifecycle.NewManager(sub, nil, lifecycle.WithLogger(cfg.Logger))
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 10 * time.Second
	}
	return &App{cfg: cfg, log: cfg.Logger}, nil
}

// Start requests SDR acquisition and, once accepted, spawns the experiment
// binary. A spawn failure is logged only.
func (a *App) Start(ctx context.Context) error {
	a.log.Printf("starting OPS-SAT SIDLOC")
	if err := a.RecordSDRData(ctx); err != nil {
		return err
	}
	if a.cfg.FetchOnStart && len(a.cfg.Record.ParameterNames()) > 0 {
		if err := a.StartFetchingData(ctx); err != nil {
			a.log.Printf("error: fetching supervisor parameters: %v", err)
		}
	}
	if a.cfg.Launcher != nil {
		if err := a.cfg.Launcher.Run(ctx); err != nil {
			a.log.Printf("error: executing experiment's binary: %v", err)
		}
	}
	return nil
}

// RecordSDRData submits the SDR enable request.
func (a *App) RecordSDRData(ctx context.Context) error {
	return a.cfg.Controller.Enable(ctx)
}

// StartFetchingData subscribes to the parameters named in the configuration.
func (a *App) StartFetchingData(ctx context.Context) error {
	if a.cfg.Subscriber == nil {
		return sidloc.ErrEmptyList
	}
	return a.cfg.Subscriber.Subscribe(ctx, a.cfg.Record.ParameterNames())
}

func (a *App) StopFetchingData(ctx context.Context) error {
	if a.cfg.Subscriber == nil {
		return sidloc.ErrEmptyList
	}
	return a.cfg.Subscriber.Unsubscribe(ctx)
}

// Parameters returns the latest supervisor values, empty when nothing is subscribed.
func (a *App) Parameters() map[string]string {
	if a.cfg.Subscriber == nil {
		return map[string]string{}
	}
	return a.cfg.Subscriber.Snapshot()
}

func (a *App) SubscriptionState() sidloc.SubscriptionState {
	if a.cfg.Subscriber == nil {
		return sidloc.Unsubscribed
	}
	return a.cfg.Subscriber.State()
}

// Status reports the SDR configuration, the reports received so far and the
// subscribed parameter names.
func (a *App) Status() sidloc.Status {
	last, n := a.cfg.Controller.LastReport()
	st := sidloc.Status{
		Lifecycle:         a.cfg.Lifecycle.State().String(),
		Subscription:      a.SubscriptionState().String(),
		Configuration:     a.cfg.Controller.Configuration(),
		ReportingInterval: a.cfg.Controller.Interval().Seconds(),
		Reports:           n,
		Parameters:        []string{},
	}
	if n > 0 {
		at := last.ReceivedAt
		st.LastSequence = last.Sequence
		st.LastReportAt = &at
	}
	if err := a.cfg.Controller.LastError(); err != nil {
		st.LastError = err.Error()
	}
	if a.cfg.Subscriber != nil {
		st.Parameters = a.cfg.Subscriber.Store().Names()
	}
	return st
}

// OnClose runs the close sequence and reports whether every step succeeded.
// A close not requested by the user terminates the process.
func (a *App) OnClose(requestedByUser bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CloseTimeout)
	defer cancel()
	return a.cfg.Lifecycle.Close(ctx, requestedByUser).Success()
}

// ExperimentDone is the launcher exit callback: the experiment is over, so
// the close is not a user one.
func (a *App) ExperimentDone(err error) {
	if err != nil {
		a.log.Printf("warning: experiment finished with error: %v", err)
	}
	a.OnClose(false)
}
