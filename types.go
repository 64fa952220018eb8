package sidloc

import (
	"context"
	"time"
)

// SDRConfiguration is the receive chain setup sent to the platform SDR service.
// Frequencies are in Hz, the gain unit is device specific.
type SDRConfiguration struct {
	CenterFrequency   float64 `json:"centerFrequency"`
	RxGain            int     `json:"rxGain"`
	LPFBandwidth      float64 `json:"lpfBandwidth"`
	SamplingFrequency float64 `json:"samplingFrequency"`
}

// SDRReport is a unit of data pushed by the SDR service after enable.
type SDRReport struct {
	ReceivedAt time.Time
	Sequence   uint64
	Samples    int
	Payload    []byte
}

// SDREventSink receives out-of-band SDR data once an enable request is accepted.
type SDREventSink interface {
	HandleSDRData(report SDRReport)
	HandleSDRError(err error)
}

// FrontDoor is the monitoring & control surface exposed to the ground.
type FrontDoor interface {
	RecordSDRData(ctx context.Context) error
	StartFetchingData(ctx context.Context) error
	StopFetchingData(ctx context.Context) error
	Parameters() map[string]string
	SubscriptionState() SubscriptionState
	Status() Status
	OnClose(requestedByUser bool) bool
}

// Status summarises acquisition and subscription for the ground.
type Status struct {
	Lifecycle         string           `json:"lifecycle"`
	Subscription      string           `json:"subscription"`
	Configuration     SDRConfiguration `json:"configuration"`
	ReportingInterval float64          `json:"reportingInterval"`
	Reports           uint64           `json:"reports"`
	LastSequence      uint64           `json:"lastSequence,omitempty"`
	LastReportAt      *time.Time       `json:"lastReportAt,omitempty"`
	LastError         string           `json:"lastError,omitempty"`
	Parameters        []string         `json:"parameters"`
}

type SubscriptionState int

const (
	Unsubscribed SubscriptionState = iota
	Subscribed
)

func (s SubscriptionState) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

type LifecycleState int

const (
	Running LifecycleState = iota
	Closing
	Closed
)

func (s LifecycleState) String() string {
	switch s {
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "running"
	}
}
