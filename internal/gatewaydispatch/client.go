// Package gatewaydispatch relays Clawboard chat turns to an external
// OpenClaw-style agent gateway over a connect/request/response WebSocket
// protocol, and reconciles any gateway-side history Clawboard might have
// missed. Grounded on original_source/backend/app/openclaw_gateway.py's
// gateway_rpc handshake, ported from Python asyncio/websockets to
// github.com/coder/websocket, matching the teacher's own ws_client.go usage
// of that library.
package gatewaydispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/sirouk/clawboard/internal/config"
	"github.com/sirouk/clawboard/pkg/protocol"
)

// Frame is the wire envelope for both requests and the events/responses the
// gateway sends back.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Client holds one connected gateway session: dialed, challenged, connected.
// Callers issue one or more RPCs then Close it.
type Client struct {
	conn *websocket.Conn
}

const (
	clientID      = "clawboard"
	clientVersion = "0.0.0"
	protocolMin   = 3
	protocolMax   = 3
)

// Dial connects to cfg.WSURL (deriving it from BaseURL when unset), waits for
// the connect.challenge event, and completes the connect handshake with the
// configured token and the requested RPC scopes.
func Dial(ctx context.Context, cfg config.GatewayDispatchConfig, scopes []string) (*Client, error) {
	wsURL := resolveWSURL(cfg)
	if wsURL == "" {
		return nil, fmt.Errorf("gatewaydispatch: no gateway URL configured")
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("gatewaydispatch: dial: %w", err)
	}
	conn.SetReadLimit(8 << 20) // 8MB, matches the Python client's max_size
	c := &Client{conn: conn}

	if err := c.awaitChallenge(ctx); err != nil {
		c.Close()
		return nil, err
	}

	if len(scopes) == 0 {
		scopes = []string{"operator.read"}
	}
	connectParams := map[string]any{
		"minProtocol": protocolMin,
		"maxProtocol": protocolMax,
		"client": map[string]any{
			"id":       clientID,
			"version":  clientVersion,
			"platform": "server",
			"mode":     "operator",
		},
		"role":        "operator",
		"scopes":      scopes,
		"caps":        []string{},
		"commands":    []string{},
		"permissions": map[string]any{},
		"auth":        map[string]any{"token": cfg.Token},
		"locale":      "en-US",
		"userAgent":   clientID + "/" + clientVersion,
	}
	if _, err := c.call(ctx, protocol.MethodConnect, connectParams); err != nil {
		c.Close()
		return nil, fmt.Errorf("gatewaydispatch: connect handshake: %w", err)
	}
	return c, nil
}

// resolveWSURL mirrors the Python _derive_ws_url: prefer an explicit WSURL,
// otherwise derive ws(s):// from BaseURL's http(s):// scheme.
func resolveWSURL(cfg config.GatewayDispatchConfig) string {
	if cfg.WSURL != "" {
		return cfg.WSURL
	}
	base := cfg.BaseURL
	switch {
	case hasPrefix(base, "https://"):
		return "wss://" + base[len("https://"):]
	case hasPrefix(base, "http://"):
		return "ws://" + base[len("http://"):]
	case hasPrefix(base, "ws://"), hasPrefix(base, "wss://"):
		return base
	case base != "":
		return "ws://" + base
	default:
		return ""
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (c *Client) awaitChallenge(ctx context.Context) error {
	var f Frame
	if err := wsjson.Read(ctx, c.conn, &f); err != nil {
		return fmt.Errorf("gatewaydispatch: read challenge: %w", err)
	}
	if f.Type != "event" || f.Event != "connect.challenge" {
		return fmt.Errorf("gatewaydispatch: expected connect.challenge, got type=%q event=%q", f.Type, f.Event)
	}
	return nil
}

// Call sends a domain RPC method and waits for its matching response,
// ignoring interleaved frames with a different id.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.call(ctx, method, params)
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("gatewaydispatch: marshal params: %w", err)
	}
	id := uuid.NewString()
	req := Frame{Type: "req", ID: id, Method: method, Params: raw}
	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		return nil, fmt.Errorf("gatewaydispatch: write %s: %w", method, err)
	}

	for {
		var f Frame
		if err := wsjson.Read(ctx, c.conn, &f); err != nil {
			return nil, fmt.Errorf("gatewaydispatch: read %s response: %w", method, err)
		}
		if f.Type != "res" || f.ID != id {
			continue
		}
		if !f.OK {
			return nil, fmt.Errorf("gatewaydispatch: %s failed: %s", method, string(f.Error))
		}
		return f.Payload, nil
	}
}

func (c *Client) Close() {
	c.conn.Close(websocket.StatusNormalClosure, "")
}

// dialTimeout bounds how long Dial itself (TCP connect + handshake) may run.
const dialTimeout = 15 * time.Second

// DialWithTimeout is a convenience wrapper applying dialTimeout to Dial.
func DialWithTimeout(ctx context.Context, cfg config.GatewayDispatchConfig, scopes []string) (*Client, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	return Dial(dctx, cfg, scopes)
}
