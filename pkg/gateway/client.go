// Copyright 2024-2026 Aiku AI

// Package gateway maintains the websocket connections to upstream game
// gateways. Each connection delivers decoded chat lines for one guild;
// the client tags every payload with its origin and hands it to the
// coordinator.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.mau.fi/util/random"

	"github.com/aiku/guildbridge/pkg/bridge"
)

// Sink consumes raw gateway payloads. *bridge.Coordinator satisfies it.
type Sink interface {
	Process(raw any, originID string) bridge.Result
}

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute

	// writeWait bounds control frame writes on a possibly dead peer.
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second

	maxFrameSize = 64 * 1024
)

// Client is one upstream gateway connection. It reconnects forever with
// capped exponential backoff until its context is cancelled.
type Client struct {
	origin  string
	url     string
	session string
	sink    Sink
	dialer  *websocket.Dialer
	log     zerolog.Logger
}

// NewClient creates a gateway client for one configured connection.
func NewClient(cfg bridge.GatewayConfig, sink Sink, log zerolog.Logger) *Client {
	return &Client{
		origin:  cfg.Origin,
		url:     httpToWS(cfg.URL),
		session: random.String(16),
		sink:    sink,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		log: log.With().
			Str("component", "gateway").
			Str("origin", cfg.Origin).
			Logger(),
	}
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// Run connects and consumes the gateway feed until ctx is cancelled.
// Connection loss is not an error; it is retried with backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		delivered, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if delivered {
			backoff = initialBackoff
		}
		if err != nil {
			c.log.Warn().Err(err).Dur("backoff", backoff).Msg("Gateway disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runOnce dials the gateway and reads frames until the connection dies or
// ctx is cancelled. It reports whether the connection delivered at least
// one frame, which resets the caller's backoff.
func (c *Client) runOnce(ctx context.Context) (delivered bool, _ error) {
	header := http.Header{}
	header.Set("X-Session-ID", c.session)

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return false, fmt.Errorf("failed to dial gateway: %w", err)
	}
	c.log.Info().Str("url", c.url).Str("session", c.session).Msg("Gateway connected")

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The reader owns conn teardown; the pinger and the ctx watcher only
	// ever close, which unblocks ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				_ = conn.Close()
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return delivered, nil
			}
			return delivered, fmt.Errorf("gateway read failed: %w", err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if len(payload) == 0 {
			continue
		}
		delivered = true
		c.sink.Process(decodeFrame(payload), c.origin)
	}
}

// decodeFrame turns one websocket frame into the value the coordinator
// normalizes: a rich-text component tree for JSON object frames, the raw
// bytes otherwise. A frame that merely looks like JSON but does not parse
// is passed through as text.
func decodeFrame(payload []byte) any {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var tree map[string]any
		if err := json.Unmarshal(trimmed, &tree); err == nil {
			return tree
		}
	}
	return payload
}

// Pool runs one client per configured gateway and fails together: the
// first client to return an error tears the rest down through the shared
// context.
type Pool struct {
	clients []*Client
	log     zerolog.Logger
}

// NewPool builds clients for every configured gateway.
func NewPool(cfgs []bridge.GatewayConfig, sink Sink, log zerolog.Logger) (*Pool, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("no gateways configured")
	}
	p := &Pool{log: log}
	for _, cfg := range cfgs {
		p.clients = append(p.clients, NewClient(cfg, sink, log))
	}
	return p, nil
}

// Clients exposes the pool members for supervision.
func (p *Pool) Clients() []*Client {
	return p.clients
}
