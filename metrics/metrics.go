// Package metrics holds the prometheus collectors of the experiment adapter.
// A nil *Collectors is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sidloc"

// Collectors groups every metric exported by the adapter.
type Collectors struct {
	enableRequests    *prometheus.CounterVec // by outcome
	sdrReports        prometheus.Counter
	sdrErrors         prometheus.Counter
	parameterArrivals *prometheus.CounterVec // by outcome
	toggleCalls       *prometheus.CounterVec // by enable, outcome
	closeFailures     *prometheus.CounterVec // by stage
	launches          *prometheus.CounterVec // by outcome
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		enableRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sdr_enable_requests_total",
			Help:      "SDR enable requests by outcome.",
		}, []string{"outcome"}),
		sdrReports: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sdr_reports_total",
			Help:      "SDR data reports received from the platform.",
		}),
		sdrErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sdr_errors_total",
			Help:      "SDR error notifications received from the platform.",
		}),
		parameterArrivals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parameter_arrivals_total",
			Help:      "Supervisor parameter values by outcome (stored, null, unknown).",
		}, []string{"outcome"}),
		toggleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parameter_toggle_calls_total",
			Help:      "Remote parameter generation toggles.",
		}, []string{"enable", "outcome"}),
		closeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "close_stage_failures_total",
			Help:      "Failed close stages.",
		}, []string{"stage"}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "experiment_launches_total",
			Help:      "Experiment binary spawns by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(
			c.enableRequests,
			c.sdrReports,
			c.sdrErrors,
			c.parameterArrivals,
			c.toggleCalls,
			c.closeFailures,
			c.launches,
		)
	}
	return c
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collectors) EnableRequest(err error) {
	if c == nil {
		return
	}
	c.enableRequests.WithLabelValues(outcome(err)).Inc()
}

func (c *Collectors) SDRReport() {
	if c == nil {
		return
	}
	c.sdrReports.Inc()
}

func (c *Collectors) SDRError() {
	if c == nil {
		return
	}
	c.sdrErrors.Inc()
}

// ParameterArrival records a supervisor value; outcome is "stored", "null" or "unknown".
func (c *Collectors) ParameterArrival(result string) {
	if c == nil {
		return
	}
	c.parameterArrivals.WithLabelValues(result).Inc()
}

func (c *Collectors) Toggle(enable bool, err error) {
	if c == nil {
		return
	}
	e := "false"
	if enable {
		e = "true"
	}
	c.toggleCalls.WithLabelValues(e, outcome(err)).Inc()
}

func (c *Collectors) CloseFailure(stage string) {
	if c == nil {
		return
	}
	c.closeFailures.WithLabelValues(stage).Inc()
}

func (c *Collectors) Launch(err error) {
	if c == nil {
		return
	}
	c.launches.WithLabelValues(outcome(err)).Inc()
}
