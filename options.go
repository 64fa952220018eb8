package sidloc

import (
	"time"
)

// AuthStrategy acquires an authorization header value (e.g., "Basic ..." or "Bearer ...").
type AuthStrategy interface {
	AuthorizationValue() (string, error)
}

// StaticAuth implements AuthStrategy using a pre-specified token value.
type StaticAuth struct{ Value string }

func (s StaticAuth) AuthorizationValue() (string, error) { return s.Value, nil }

// Framing selects how JSON-RPC messages travel over the websocket.
type Framing string

const (
	FramingJSON Framing = "json" // text frames carrying raw JSON-RPC
	FramingWRP  Framing = "wrp"  // binary msgpack WRP frames carrying JSON-RPC payloads
)

// Options configures the connections of the experiment adapter.
type Options struct {
	DirectoryURL  string // central directory, used when the URIs below are empty
	ProviderURI   string // platform services (SDR) websocket URI
	SupervisorURI string // supervisor consumer websocket URI
	AppName       string // WRP source / service name

	Auth    AuthStrategy
	Framing Framing

	CallTimeout      time.Duration
	HandshakeTimeout time.Duration

	Launcher      LauncherConfig
	FrontDoorAddr string
}

type LauncherConfig struct {
	Binary      string
	OutputFile  string
	Dir         string
	GroundDir   string
	CloseOnExit bool
}

// DefaultOptions gives baseline defaults matching the onboard layout.
func DefaultOptions() Options {
	return Options{
		AppName:          "opssat-sidloc",
		Framing:          FramingJSON,
		CallTimeout:      5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Launcher: LauncherConfig{
			Binary:     "./app",
			OutputFile: "out.txt",
			Dir:        ".",
			GroundDir:  "toGround",
		},
		FrontDoorAddr: ":8090",
	}
}
