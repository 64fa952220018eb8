package sidloc

import "errors"

var (
	// configuration
	ErrMissingKey   = errors.New("missing key")
	ErrParseFailure = errors.New("parse failure")

	// radio
	ErrTransportFailure = errors.New("transport failure")
	ErrIOFailure        = errors.New("io failure")

	// telemetry subscription
	ErrEmptyList          = errors.New("empty parameter list")
	ErrRemoteToggleFailed = errors.New("remote toggle failed")

	ErrUnknownParameter   = errors.New("unknown parameter")
	ErrNotConnected       = errors.New("not connected")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrServiceNotFound    = errors.New("service not found")
	ErrBackendUnavailable = errors.New("backend unavailable")
)
