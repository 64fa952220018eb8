package runtime

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/opssat/sidloc"
	"github.com/xmidt-org/wrp-go/v3"
)

const jsonContentType = "application/json"

type framer interface {
	encodeRequest(id string, payload []byte) (int, []byte, error)
	decode(msgType int, data []byte) ([]byte, error)
}

func newFramer(f sidloc.Framing, appName, uri string) framer {
	if f == sidloc.FramingWRP {
		return &wrpFramer{source: "dns:" + appName, destination: wrpDestination(uri)}
	}
	return jsonFramer{}
}

// jsonFramer sends JSON-RPC as websocket text frames.
type jsonFramer struct{}

func (jsonFramer) encodeRequest(_ string, payload []byte) (int, []byte, error) {
	return websocket.TextMessage, payload, nil
}

func (jsonFramer) decode(_ int, data []byte) ([]byte, error) { return data, nil }

// wrpFramer wraps JSON-RPC in msgpack WRP messages sent as binary frames.
// Calls are SimpleRequestResponse messages keyed by the JSON-RPC id,
// notifications arrive as SimpleEvent messages.
type wrpFramer struct {
	source      string
	destination string
}

func (w *wrpFramer) encodeRequest(id string, payload []byte) (int, []byte, error) {
	msg := wrp.Message{
		Type:            wrp.SimpleRequestResponseMessageType,
		Source:          w.source,
		Destination:     w.destination,
		TransactionUUID: id,
		ContentType:     jsonContentType,
		Payload:         payload,
	}
	var out []byte
	if err := wrp.NewEncoderBytes(&out, wrp.Msgpack).Encode(&msg); err != nil {
		return 0, nil, err
	}
	return websocket.BinaryMessage, out, nil
}

func (w *wrpFramer) decode(msgType int, data []byte) ([]byte, error) {
	if msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("wrp: unexpected frame type %d", msgType)
	}
	var msg wrp.Message
	if err := wrp.NewDecoderBytes(data, wrp.Msgpack).Decode(&msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case wrp.SimpleRequestResponseMessageType, wrp.SimpleEventMessageType:
	default:
		return nil, fmt.Errorf("wrp: unsupported message type %s", msg.Type)
	}
	if msg.ContentType != "" && !strings.HasPrefix(msg.ContentType, jsonContentType) {
		return nil, fmt.Errorf("wrp: unsupported content type %q", msg.ContentType)
	}
	return msg.Payload, nil
}

// wrpDestination derives the WRP service locator from the last path element of uri.
func wrpDestination(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return "dns:nmf"
	}
	svc := strings.Trim(u.Path, "/")
	if i := strings.LastIndex(svc, "/"); i >= 0 {
		svc = svc[i+1:]
	}
	if svc == "" {
		return "dns:" + u.Hostname()
	}
	return "dns:" + u.Hostname() + "/" + svc
}
