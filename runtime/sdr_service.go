package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opssat/sidloc"
	"github.com/opssat/sidloc/translate"
)

// SDRService is the platform software defined radio service reached through a Client.
type SDRService struct {
	client *Client
	now    func() time.Time

	mu   sync.RWMutex
	sink sidloc.SDREventSink
}

func NewSDRService(client *Client) *SDRService {
	s := &SDRService{client: client, now: time.Now}
	client.OnNotification(translate.NotifySDRData, s.onData)
	client.OnNotification(translate.NotifySDRError, s.onError)
	return s
}

type enableAck struct {
	Accepted *bool  `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// AsyncEnableSDR submits the configuration and returns once the platform has
// accepted or rejected it. Device data is delivered to sink afterwards.
func (s *SDRService) AsyncEnableSDR(ctx context.Context, cfg sidloc.SDRConfiguration, interval time.Duration, sink sidloc.SDREventSink) error {
	params, err := translate.BuildEnableSDR(cfg, interval)
	if err != nil {
		return fmt.Errorf("%w: %v", sidloc.ErrIOFailure, err)
	}
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()

	res, err := s.client.Call(ctx, translate.MethodEnableSDR, params)
	if err != nil {
		return err
	}
	var ack enableAck
	if len(res) > 0 && json.Unmarshal(res, &ack) == nil && ack.Accepted != nil && !*ack.Accepted {
		return fmt.Errorf("%w: enable rejected: %s", sidloc.ErrTransportFailure, ack.Reason)
	}
	return nil
}

func (s *SDRService) currentSink() sidloc.SDREventSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sink
}

func (s *SDRService) onData(params json.RawMessage) {
	sink := s.currentSink()
	if sink == nil {
		return
	}
	report, err := translate.DecodeSDRReport(params, s.now())
	if err != nil {
		sink.HandleSDRError(fmt.Errorf("%w: sdr data: %v", sidloc.ErrIOFailure, err))
		return
	}
	sink.HandleSDRData(report)
}

func (s *SDRService) onError(params json.RawMessage) {
	sink := s.currentSink()
	if sink == nil {
		return
	}
	if err := translate.DecodeSDRError(params); err != nil {
		sink.HandleSDRError(err)
	}
}
