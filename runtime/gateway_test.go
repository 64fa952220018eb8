package runtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/xmidt-org/wrp-go/v3"
)

type jsonrpcNotification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// gatewayConn is the server side of one websocket accepted by the fake NMF gateway.
type gatewayConn struct {
	t   *testing.T
	wrp bool
	mu  sync.Mutex
	c   *websocket.Conn
}

func (g *gatewayConn) write(v interface{}, msgType wrp.MessageType, id string) {
	b, _ := json.Marshal(v)
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.wrp {
		_ = g.c.WriteMessage(websocket.TextMessage, b)
		return
	}
	msg := wrp.Message{Type: msgType, Source: "dns:gateway", Destination: "dns:opssat-sidloc", TransactionUUID: id, ContentType: jsonContentType, Payload: b}
	var out []byte
	if err := wrp.NewEncoderBytes(&out, wrp.Msgpack).Encode(&msg); err != nil {
		g.t.Errorf("encode wrp: %v", err)
		return
	}
	_ = g.c.WriteMessage(websocket.BinaryMessage, out)
}

func (g *gatewayConn) respond(id string, result interface{}) {
	raw, _ := json.Marshal(result)
	g.write(rpcMessage{JSONRPC: "2.0", ID: id, Result: raw}, wrp.SimpleRequestResponseMessageType, id)
}

func (g *gatewayConn) fail(id string, code int, message string) {
	g.write(rpcMessage{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}, wrp.SimpleRequestResponseMessageType, id)
}

func (g *gatewayConn) notify(method string, params interface{}) {
	raw, _ := json.Marshal(params)
	g.write(jsonrpcNotification{JSONRPC: "2.0", Method: method, Params: raw}, wrp.SimpleEventMessageType, "")
}

// newGateway starts a websocket server calling handle for every request and
// returns its ws:// URL.
func newGateway(t *testing.T, useWRP bool, handle func(g *gatewayConn, req jsonrpcRequest)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		g := &gatewayConn{t: t, wrp: useWRP, c: c}
		for {
			msgType, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			payload := data
			if useWRP {
				if msgType != websocket.BinaryMessage {
					t.Errorf("expected binary frame, got %d", msgType)
					return
				}
				var m wrp.Message
				if err := wrp.NewDecoderBytes(data, wrp.Msgpack).Decode(&m); err != nil {
					t.Errorf("decode wrp: %v", err)
					return
				}
				if m.Type != wrp.SimpleRequestResponseMessageType || m.TransactionUUID == "" {
					t.Errorf("unexpected wrp envelope %+v", m)
				}
				payload = m.Payload
			}
			var req jsonrpcRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				t.Errorf("bad req: %v", err)
				return
			}
			handle(g, req)
		}
	}))
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/nmf/supervisor"
	return u.String()
}
