package translate

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/opssat/sidloc"
)

// Remote method and notification names spoken by the NMF gateway.
const (
	MethodEnableSDR         = "sdr.asyncEnable"
	MethodToggleParameters  = "supervisor.toggleParametersGeneration"
	NotifySDRData           = "sdr.data"
	NotifySDRError          = "sdr.error"
	NotifyParameterReceived = "supervisor.parameterData"
)

var (
	errEmptyNames   = errors.New("translate: empty names")
	errBlankName    = errors.New("translate: blank parameter name")
	errBadInterval  = errors.New("translate: reporting interval must be positive")
	errMissingField = errors.New("translate: missing field")
)

// EnableSDRParams is the params object of MethodEnableSDR.
type EnableSDRParams struct {
	Enable            bool                    `json:"enable"`
	Configuration     sidloc.SDRConfiguration `json:"configuration"`
	ReportingInterval float64                 `json:"reportingInterval"` // seconds
}

// ToggleParams is the params object of MethodToggleParameters.
type ToggleParams struct {
	Names  []string `json:"names"`
	Enable bool     `json:"enable"`
}

// BuildEnableSDR constructs the enable request params.
func BuildEnableSDR(cfg sidloc.SDRConfiguration, interval time.Duration) ([]byte, error) {
	for _, v := range []float64{cfg.CenterFrequency, cfg.LPFBandwidth, cfg.SamplingFrequency} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("translate: invalid sdr configuration value %g", v)
		}
	}
	if cfg.RxGain < 0 {
		return nil, fmt.Errorf("translate: invalid rx gain %d", cfg.RxGain)
	}
	if interval <= 0 {
		return nil, errBadInterval
	}
	return json.Marshal(EnableSDRParams{Enable: true, Configuration: cfg, ReportingInterval: interval.Seconds()})
}

// BuildToggleParameters constructs the parameter generation toggle params.
func BuildToggleParameters(names []string, enable bool) ([]byte, error) {
	if len(names) == 0 {
		return nil, errEmptyNames
	}
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			return nil, errBlankName
		}
	}
	return json.Marshal(ToggleParams{Names: names, Enable: enable})
}

type sdrDataNote struct {
	Sequence   uint64 `json:"sequence"`
	Samples    int    `json:"samples"`
	Data       string `json:"data,omitempty"` // base64
	ReceivedAt int64  `json:"timestamp,omitempty"`
}

// DecodeSDRReport parses the params of an NotifySDRData notification.
func DecodeSDRReport(raw json.RawMessage, now time.Time) (sidloc.SDRReport, error) {
	var n sdrDataNote
	if err := json.Unmarshal(raw, &n); err != nil {
		return sidloc.SDRReport{}, err
	}
	r := sidloc.SDRReport{Sequence: n.Sequence, Samples: n.Samples, ReceivedAt: now}
	if n.ReceivedAt > 0 {
		r.ReceivedAt = time.UnixMilli(n.ReceivedAt)
	}
	if n.Data != "" {
		b, err := base64.StdEncoding.DecodeString(n.Data)
		if err != nil {
			return sidloc.SDRReport{}, fmt.Errorf("translate: sdr data: %w", err)
		}
		r.Payload = b
	}
	return r, nil
}

// DecodeSDRError parses the params of a NotifySDRError notification.
func DecodeSDRError(raw json.RawMessage) error {
	var n struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	return fmt.Errorf("sdr error %d: %s", n.Code, n.Message)
}

// DecodeParameterValue parses the params of a NotifyParameterReceived
// notification. A JSON null or absent value yields a nil value.
func DecodeParameterValue(raw json.RawMessage) (string, interface{}, error) {
	var n struct {
		Name  string          `json:"name"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", nil, err
	}
	if n.Name == "" {
		return "", nil, fmt.Errorf("%w: name", errMissingField)
	}
	if len(n.Value) == 0 || string(n.Value) == "null" {
		return n.Name, nil, nil
	}
	var v interface{}
	dec := json.NewDecoder(strings.NewReader(string(n.Value)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", nil, err
	}
	return n.Name, v, nil
}
