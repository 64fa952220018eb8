package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/opssat/sidloc"
	"github.com/opssat/sidloc/telemetry"
	"github.com/opssat/sidloc/translate"
)

// SupervisorConsumer consumes the NMF supervisor parameter service.
type SupervisorConsumer struct {
	client *Client
	logger *log.Logger

	mu        sync.RWMutex
	listeners []telemetry.ArrivalFunc
}

func NewSupervisorConsumer(client *Client, logger *log.Logger) *SupervisorConsumer {
	if logger == nil {
		logger = log.Default()
	}
	s := &SupervisorConsumer{client: client, logger: logger}
	client.OnNotification(translate.NotifyParameterReceived, s.onParameter)
	return s
}

// ToggleParameterGeneration enables or disables the push of names in the supervisor.
func (s *SupervisorConsumer) ToggleParameterGeneration(ctx context.Context, names []string, enable bool) error {
	params, err := translate.BuildToggleParameters(names, enable)
	if err != nil {
		return fmt.Errorf("%w: %v", sidloc.ErrIOFailure, err)
	}
	_, err = s.client.Call(ctx, translate.MethodToggleParameters, params)
	return err
}

// AddDataReceivedListener registers fn for every parameter value pushed by the supervisor.
func (s *SupervisorConsumer) AddDataReceivedListener(fn telemetry.ArrivalFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// CloseConnections releases the consumer connection to the supervisor.
func (s *SupervisorConsumer) CloseConnections() error {
	return s.client.Close()
}

func (s *SupervisorConsumer) onParameter(params json.RawMessage) {
	name, value, err := translate.DecodeParameterValue(params)
	if err != nil {
		s.logger.Printf("warning: malformed parameter notification: %v", err)
		return
	}
	s.mu.RLock()
	ls := append([]telemetry.ArrivalFunc(nil), s.listeners...)
	s.mu.RUnlock()
	for _, fn := range ls {
		fn(name, value)
	}
}
