// Package radio drives the platform SDR service for the experiment.
package radio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/opssat/sidloc"
	"github.com/opssat/sidloc/config"
	"github.com/opssat/sidloc/metrics"
)

// Service submits SDR enable requests. AsyncEnableSDR returns once the
// request is accepted or rejected; data is later delivered to sink.
type Service interface {
	AsyncEnableSDR(ctx context.Context, cfg sidloc.SDRConfiguration, interval time.Duration, sink sidloc.SDREventSink) error
}

// Controller builds the SDR configuration from the experiment record and
// receives the data the device pushes afterwards.
type Controller struct {
	service  Service
	cfg      sidloc.SDRConfiguration
	interval time.Duration
	logger   *log.Logger
	metrics  *metrics.Collectors

	mu      sync.Mutex
	reports uint64
	last    sidloc.SDRReport
	lastErr error
}

type Option func(*Controller)

func WithLogger(l *log.Logger) Option { return func(c *Controller) { c.logger = l } }

func WithMetrics(m *metrics.Collectors) Option { return func(c *Controller) { c.metrics = m } }

// NewController validates the SDR configuration derived from rec.
func NewController(service Service, rec config.Record, opts ...Option) (*Controller, error) {
	c := &Controller{
		service:  service,
		cfg:      rec.SDRConfiguration(),
		interval: rec.ReportingInterval,
		logger:   log.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if err := validate(c.cfg, c.interval); err != nil {
		return nil, err
	}
	if c.cfg.SamplingFrequency < 2*c.cfg.LPFBandwidth {
		c.logger.Printf("warning: sampling frequency %g below twice the filter bandwidth %g", c.cfg.SamplingFrequency, c.cfg.LPFBandwidth)
	}
	return c, nil
}

func validate(cfg sidloc.SDRConfiguration, interval time.Duration) error {
	fields := map[string]float64{
		"center frequency":   cfg.CenterFrequency,
		"filter bandwidth":   cfg.LPFBandwidth,
		"sampling frequency": cfg.SamplingFrequency,
		"rx gain":            float64(cfg.RxGain),
	}
	for name, v := range fields {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s must be finite and non-negative, got %g", sidloc.ErrParseFailure, name, v)
		}
	}
	if interval <= 0 {
		return fmt.Errorf("%w: reporting interval must be positive, got %v", sidloc.ErrParseFailure, interval)
	}
	return nil
}

// Configuration returns the SDR configuration sent on Enable.
func (c *Controller) Configuration() sidloc.SDRConfiguration { return c.cfg }

// Interval returns the reporting interval sent on Enable.
func (c *Controller) Interval() time.Duration { return c.interval }

// Enable submits the SDR configuration and registers the controller as the
// data sink. It does not wait for acquisition. Calls are not deduplicated.
func (c *Controller) Enable(ctx context.Context) error {
	c.logger.Printf("enabling SDR: fc=%g Hz fs=%g Hz bw=%g Hz gain=%d interval=%v",
		c.cfg.CenterFrequency, c.cfg.SamplingFrequency, c.cfg.LPFBandwidth, c.cfg.RxGain, c.interval)
	err := c.service.AsyncEnableSDR(ctx, c.cfg, c.interval, c)
	c.metrics.EnableRequest(err)
	if err == nil {
		return nil
	}
	c.logger.Printf("error: SDR enable request failed: %v", err)
	if errors.Is(err, sidloc.ErrIOFailure) || errors.Is(err, sidloc.ErrTransportFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", sidloc.ErrTransportFailure, err)
}

// HandleSDRData implements sidloc.SDREventSink.
func (c *Controller) HandleSDRData(report sidloc.SDRReport) {
	c.metrics.SDRReport()
	c.mu.Lock()
	c.reports++
	c.last = report
	n := c.reports
	c.mu.Unlock()
	if n == 1 {
		c.logger.Printf("first SDR report received: %d samples", report.Samples)
	}
}

// HandleSDRError implements sidloc.SDREventSink.
func (c *Controller) HandleSDRError(err error) {
	c.metrics.SDRError()
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Printf("error: SDR reported: %v", err)
}

// LastReport returns the latest report and how many were received.
func (c *Controller) LastReport() (sidloc.SDRReport, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.reports
}

// LastError returns the latest error pushed by the device, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
