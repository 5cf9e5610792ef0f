// Package monitor connects to the Discord gateway, watches the configured
// alert channel, and feeds raw messages into the validation pipeline.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// intentGuildMessages and intentMessageContent are the gateway intents
	// needed to receive message bodies from guild channels.
	intentGuildMessages  = 1 << 9
	intentMessageContent = 1 << 15
)

// Gateway opcodes (Discord gateway v10).
const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opHello        = 10
	opHeartbeatACK = 11
)

// ChannelMessage is a chat message as seen on the gateway, reduced to the
// fields the pipeline cares about.
type ChannelMessage struct {
	ChannelID string
	AuthorID  string
	AuthorBot bool
	Content   string
}

// MessageHandler consumes gateway messages.
type MessageHandler func(ctx context.Context, msg ChannelMessage)

// GatewayClient maintains a Discord gateway session: identify, heartbeat,
// and dispatch of MESSAGE_CREATE events to the registered handler. It
// reconnects with exponential backoff on disconnect.
type GatewayClient struct {
	url       string
	token     string
	onMessage MessageHandler
	logger    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewGatewayClient creates a client for the given gateway URL (e.g.
// "wss://gateway.discord.gg/?v=10&encoding=json") and bot token.
func NewGatewayClient(url, token string, onMessage MessageHandler, logger *slog.Logger) *GatewayClient {
	return &GatewayClient{
		url:       url,
		token:     token,
		onMessage: onMessage,
		logger:    logger.With(slog.String("component", "discord_gateway")),
		done:      make(chan struct{}),
	}
}

// gatewayPayload is the outer gateway frame.
type gatewayPayload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

// Run connects and processes gateway events until ctx is cancelled or Close
// is called. Disconnects trigger a reconnect with exponential backoff; the
// delay resets after a session that got past the handshake.
func (g *GatewayClient) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.done:
			return nil
		default:
		}

		sessionStart := time.Now()
		err := g.runSession(ctx)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-g.done:
			return nil
		default:
		}

		if time.Since(sessionStart) > time.Minute {
			delay = reconnectDelay
		}
		g.logger.Warn("gateway session ended, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the client; a running Run returns after the current read.
func (g *GatewayClient) Close() {
	g.closeOnce.Do(func() { close(g.done) })
}

// runSession performs one full gateway session: dial, HELLO, IDENTIFY, then
// the read loop. Returns when the connection drops or ctx is cancelled.
func (g *GatewayClient) runSession(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("monitor: dial gateway: %w", err)
	}
	defer conn.Close()

	// The server opens with HELLO carrying the heartbeat interval.
	interval, err := readHello(conn)
	if err != nil {
		return err
	}

	if err := g.identify(conn); err != nil {
		return err
	}
	g.logger.Info("gateway session established",
		slog.Duration("heartbeat_interval", interval),
	)

	var seqMu sync.Mutex
	var lastSeq *int64

	// Heartbeat loop. Writes are serialized with writeMu because identify
	// and heartbeats share the connection.
	var writeMu sync.Mutex
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-g.done:
				return
			case <-ticker.C:
				seqMu.Lock()
				seq := lastSeq
				seqMu.Unlock()
				beat, _ := json.Marshal(seq)
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteJSON(gatewayPayload{Op: opHeartbeat, Data: beat})
				writeMu.Unlock()
				if err != nil {
					g.logger.Warn("heartbeat write failed", slog.String("error", err.Error()))
					conn.Close()
					return
				}
			}
		}
	}()

	// Close the connection when ctx ends so the blocking read returns.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-sessionDone:
			return
		case <-ctx.Done():
		case <-g.done:
		}
		writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		conn.Close()
	}()

	for {
		var payload gatewayPayload
		if err := conn.ReadJSON(&payload); err != nil {
			return fmt.Errorf("monitor: gateway read: %w", err)
		}
		if payload.Seq != nil {
			seqMu.Lock()
			lastSeq = payload.Seq
			seqMu.Unlock()
		}

		switch payload.Op {
		case opDispatch:
			if payload.Type == "MESSAGE_CREATE" {
				g.dispatchMessage(ctx, payload.Data)
			}
		case opHeartbeat:
			// Server requested an immediate heartbeat.
			seqMu.Lock()
			seq := lastSeq
			seqMu.Unlock()
			beat, _ := json.Marshal(seq)
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteJSON(gatewayPayload{Op: opHeartbeat, Data: beat})
			writeMu.Unlock()
			if err != nil {
				return fmt.Errorf("monitor: requested heartbeat: %w", err)
			}
		case opHeartbeatACK:
			// Keep-alive confirmed; nothing to do.
		}
	}
}

// readHello reads the initial HELLO frame and returns the heartbeat interval.
func readHello(conn *websocket.Conn) (time.Duration, error) {
	conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	var payload gatewayPayload
	if err := conn.ReadJSON(&payload); err != nil {
		return 0, fmt.Errorf("monitor: read hello: %w", err)
	}
	if payload.Op != opHello {
		return 0, fmt.Errorf("monitor: expected hello opcode %d, got %d", opHello, payload.Op)
	}

	var hello struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(payload.Data, &hello); err != nil {
		return 0, fmt.Errorf("monitor: decode hello: %w", err)
	}
	if hello.HeartbeatInterval <= 0 {
		return 0, fmt.Errorf("monitor: hello carried no heartbeat interval")
	}
	return time.Duration(hello.HeartbeatInterval) * time.Millisecond, nil
}

// identify sends the IDENTIFY frame with the intents needed to read channel
// message content.
func (g *GatewayClient) identify(conn *websocket.Conn) error {
	identify := map[string]any{
		"token":   g.token,
		"intents": intentGuildMessages | intentMessageContent,
		"properties": map[string]string{
			"os":      "linux",
			"browser": "tradegate",
			"device":  "tradegate",
		},
	}
	data, err := json.Marshal(identify)
	if err != nil {
		return fmt.Errorf("monitor: marshal identify: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(gatewayPayload{Op: opIdentify, Data: data}); err != nil {
		return fmt.Errorf("monitor: send identify: %w", err)
	}
	return nil
}

// dispatchMessage decodes a MESSAGE_CREATE event and hands it to the handler.
func (g *GatewayClient) dispatchMessage(ctx context.Context, raw json.RawMessage) {
	var event struct {
		ChannelID string `json:"channel_id"`
		Content   string `json:"content"`
		Author    struct {
			ID  string `json:"id"`
			Bot bool   `json:"bot"`
		} `json:"author"`
	}
	if err := json.Unmarshal(raw, &event); err != nil {
		g.logger.Debug("dropping undecodable message event", slog.String("error", err.Error()))
		return
	}
	if g.onMessage == nil {
		return
	}
	g.onMessage(ctx, ChannelMessage{
		ChannelID: event.ChannelID,
		AuthorID:  event.Author.ID,
		AuthorBot: event.Author.Bot,
		Content:   event.Content,
	})
}
