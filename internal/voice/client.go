package voice

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxline-ai/voxline/internal/config"
	"github.com/voxline-ai/voxline/pkg/protocol"
)

// Client implements Session over a WebSocket connection to the voice
// gateway. One Client serves one call; a new call gets a new Client.
type Client struct {
	cfg    config.GatewayConfig
	userID string
	mic    bool
	ev     Events
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	callID string
	ended  bool

	speaking atomic.Bool
}

// NewClient creates a session client for one call.
func NewClient(cfg config.GatewayConfig, userID string, micEnabled bool, ev Events, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		userID: userID,
		mic:    micEnabled,
		ev:     ev,
		logger: logger.With("component", "voice-client"),
	}
}

// Start dials the gateway, requests the conversation, and waits for the
// accept. On success the read loop runs until the call ends.
func (c *Client) Start(ctx context.Context, agentID string) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout.Duration,
	}
	if c.cfg.TLSSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial voice gateway: %w", err)
	}

	start := protocol.Envelope{
		Type:      protocol.TypeCallStart,
		Timestamp: time.Now(),
		Payload: protocol.CallStart{
			AgentID:    agentID,
			UserID:     c.userID,
			MicEnabled: c.mic,
		},
	}
	if err := conn.WriteJSON(start); err != nil {
		conn.Close()
		return fmt.Errorf("send call start: %w", err)
	}

	// The gateway answers with call.accepted or call.rejected before any
	// other traffic.
	acceptTimeout := c.cfg.AcceptTimeout.Duration
	if acceptTimeout == 0 {
		acceptTimeout = 15 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(acceptTimeout))
	var env protocol.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return fmt.Errorf("await call accept: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch env.Type {
	case protocol.TypeCallAccepted:
		var acc protocol.CallAccepted
		decodePayload(env.Payload, &acc)
		c.mu.Lock()
		if c.ended {
			// End() arrived while the handshake was in flight. The
			// gateway just went live, so hang up instead of orphaning
			// the call.
			c.mu.Unlock()
			c.hangup(conn, acc.CallID)
			return fmt.Errorf("session ended during call setup")
		}
		c.conn = conn
		c.callID = acc.CallID
		c.mu.Unlock()
	case protocol.TypeCallRejected:
		var rej protocol.CallRejected
		decodePayload(env.Payload, &rej)
		conn.Close()
		return fmt.Errorf("call rejected by gateway: %s", rej.Reason)
	default:
		conn.Close()
		return fmt.Errorf("unexpected gateway message %q during call start", env.Type)
	}

	c.logger.Info("call connected", "call_id", c.callID, "agent_id", agentID)
	go c.readLoop(conn)

	if c.ev.OnConnect != nil {
		c.ev.OnConnect()
	}
	return nil
}

// End terminates the session. Best-effort: the gateway may already be gone.
func (c *Client) End() error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return nil
	}
	c.ended = true
	conn := c.conn
	callID := c.callID
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.hangup(conn, callID)
}

// hangup notifies the gateway that the call is over and drops the
// connection.
func (c *Client) hangup(conn *websocket.Conn, callID string) error {
	end := protocol.Envelope{
		Type:      protocol.TypeCallEnd,
		CallID:    callID,
		Timestamp: time.Now(),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = conn.WriteJSON(end)
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"))
	return conn.Close()
}

// IsSpeaking reports whether the voice agent is currently talking.
func (c *Client) IsSpeaking() bool {
	return c.speaking.Load()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if c.endedByUs() {
				return
			}
			c.logger.Warn("gateway connection lost", "error", err)
			c.markEnded()
			if c.ev.OnError != nil {
				c.ev.OnError(fmt.Errorf("gateway connection lost: %w", err))
			}
			return
		}

		switch env.Type {
		case protocol.TypeAgentSpeaking:
			var sp protocol.AgentSpeaking
			decodePayload(env.Payload, &sp)
			c.speaking.Store(sp.Speaking)

		case protocol.TypeCallEnded:
			var ended protocol.CallEnded
			decodePayload(env.Payload, &ended)
			c.speaking.Store(false)
			c.logger.Info("call ended by gateway", "reason", ended.Reason)
			c.markEnded()
			conn.Close()
			if c.ev.OnDisconnect != nil {
				c.ev.OnDisconnect(ended.Reason)
			}
			return

		case protocol.TypeCallError:
			var ce protocol.CallError
			decodePayload(env.Payload, &ce)
			c.speaking.Store(false)
			c.markEnded()
			conn.Close()
			if c.ev.OnError != nil {
				c.ev.OnError(errors.New("gateway error: " + ce.Message))
			}
			return

		default:
			c.logger.Debug("ignoring gateway message", "type", env.Type)
		}
	}
}

func (c *Client) endedByUs() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *Client) markEnded() {
	c.mu.Lock()
	c.ended = true
	c.conn = nil
	c.mu.Unlock()
}

// decodePayload re-marshals an envelope payload into a concrete message.
func decodePayload(payload any, dst any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, dst)
}
