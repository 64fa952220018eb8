// Package config resolves the experiment properties into an immutable Record.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opssat/sidloc"
)

// Property keys as written in opssat-sidloc.properties.
const (
	KeyFrequency            = "esa.mo.nmf.apps.OPSSATSIDLOC.frequency"
	KeySampRate             = "esa.mo.nmf.apps.OPSSATSIDLOC.samp_rate"
	KeyGain                 = "esa.mo.nmf.apps.OPSSATSIDLOC.gain"
	KeyLPFBandwidth         = "esa.mo.nmf.apps.OPSSATSIDLOC.lpf_bw"
	KeyReportingInterval    = "esa.mo.nmf.apps.OPSSATSIDLOC.reporting_interval"
	KeyParamsReportInterval = "esa.mo.nmf.apps.OPSSATSIDLOC.params_report_interval"
	KeyParamsToEnable       = "esa.mo.nmf.apps.OrbitAI.params_to_enable"
)

const (
	DefaultGain                 = 10
	DefaultLPFBandwidth         = 0.75
	DefaultReportingInterval    = 200 * time.Millisecond
	DefaultParamsReportInterval = 5 * time.Second
)

// Source is a flat key to string property lookup.
type Source interface {
	Lookup(key string) (string, bool)
}

// MapSource is a Source backed by a plain map.
type MapSource map[string]string

func (m MapSource) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Record holds resolved experiment values. It is built once at startup and
// passed by value to the components that need it.
type Record struct {
	SamplingRate         float64
	CenterFrequency      float64
	Gain                 int
	LPFBandwidth         float64
	ReportingInterval    time.Duration
	ParamsReportInterval time.Duration

	parameterNames []string
}

// ParameterNames returns a copy of the names to subscribe to.
func (r Record) ParameterNames() []string {
	return append([]string(nil), r.parameterNames...)
}

// SDRConfiguration derives the radio configuration from the record.
func (r Record) SDRConfiguration() sidloc.SDRConfiguration {
	return sidloc.SDRConfiguration{
		CenterFrequency:   r.CenterFrequency,
		RxGain:            r.Gain,
		LPFBandwidth:      r.LPFBandwidth,
		SamplingFrequency: r.SamplingRate,
	}
}

// Resolve reads src once and returns the record. Missing required keys yield
// sidloc.ErrMissingKey, unparseable or out of range values sidloc.ErrParseFailure.
func Resolve(src Source) (Record, error) {
	var (
		r   Record
		err error
	)
	if r.SamplingRate, err = requiredFloat(src, KeySampRate); err != nil {
		return Record{}, err
	}
	if r.CenterFrequency, err = requiredFloat(src, KeyFrequency); err != nil {
		return Record{}, err
	}
	if r.LPFBandwidth, err = optionalFloat(src, KeyLPFBandwidth, DefaultLPFBandwidth); err != nil {
		return Record{}, err
	}
	if r.Gain, err = optionalInt(src, KeyGain, DefaultGain); err != nil {
		return Record{}, err
	}
	if r.ReportingInterval, err = optionalSeconds(src, KeyReportingInterval, DefaultReportingInterval); err != nil {
		return Record{}, err
	}
	if r.ParamsReportInterval, err = optionalSeconds(src, KeyParamsReportInterval, DefaultParamsReportInterval); err != nil {
		return Record{}, err
	}
	if content, ok := src.Lookup(KeyParamsToEnable); ok {
		r.parameterNames = SplitNames(content)
	}
	return r, nil
}

// SplitNames parses a comma separated list, dropping blank entries.
func SplitNames(content string) []string {
	names := []string{}
	for _, n := range strings.Split(content, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func requiredFloat(src Source, key string) (float64, error) {
	raw, ok := src.Lookup(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", sidloc.ErrMissingKey, key)
	}
	return parseFloat(key, raw)
}

func optionalFloat(src Source, key string, def float64) (float64, error) {
	raw, ok := src.Lookup(key)
	if !ok {
		return def, nil
	}
	return parseFloat(key, raw)
}

func parseFloat(key, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", sidloc.ErrParseFailure, key, raw, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("%w: %s=%q: must be finite and non-negative", sidloc.ErrParseFailure, key, raw)
	}
	return v, nil
}

func optionalInt(src Source, key string, def int) (int, error) {
	raw, ok := src.Lookup(key)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q: %v", sidloc.ErrParseFailure, key, raw, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %s=%q: must be non-negative", sidloc.ErrParseFailure, key, raw)
	}
	return v, nil
}

func optionalSeconds(src Source, key string, def time.Duration) (time.Duration, error) {
	raw, ok := src.Lookup(key)
	if !ok {
		return def, nil
	}
	secs, err := parseFloat(key, raw)
	if err != nil {
		return 0, err
	}
	if secs == 0 {
		return 0, fmt.Errorf("%w: %s=%q: must be strictly positive", sidloc.ErrParseFailure, key, raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
