// Package client maintains a board session over the synchronization channel:
// it applies local operations optimistically, reconciles them against server
// broadcasts, throttles presence traffic, and reconnects with backoff when
// the transport fails.
package client

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/boardsync/internal/backoff"
	"github.com/haasonsaas/boardsync/internal/throttle"
	"github.com/haasonsaas/boardsync/pkg/models"
)

var (
	// ErrAuthFailed means the server rejected the access token. Retrying
	// with the same credentials cannot succeed, so no reconnect is attempted.
	ErrAuthFailed = errors.New("client: authentication rejected")
	// ErrClosed means the client was explicitly disconnected.
	ErrClosed = errors.New("client: closed")
	// ErrNotConnected means the channel is currently down.
	ErrNotConnected = errors.New("client: not connected")
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Callbacks deliver server events to the application. All callbacks run on
// the client's dispatch goroutine; handlers must not block.
type Callbacks struct {
	// OnOperations delivers accepted remote operations in version order.
	OnOperations func([]models.Operation)
	// OnCursor delivers a peer's throttled cursor position.
	OnCursor func(models.CursorUpdatePayload)
	// OnSelection delivers a peer's selection change.
	OnSelection func(models.SelectionUpdatePayload)
	// OnUserJoined fires when a peer joins the board.
	OnUserJoined func(models.Member)
	// OnUserLeft fires once per peer departure.
	OnUserLeft func(userID string)
	// OnStateChange fires on every connection state transition.
	OnStateChange func(State)
	// OnResyncRequired fires when the server pruned history past this
	// client's parent version; local state must be rebuilt from a snapshot.
	OnResyncRequired func()
	// OnError delivers explicit error acknowledgments from the server.
	OnError func(models.ErrorPayload)
}

// Config configures a board session client.
type Config struct {
	// URL is the channel endpoint, e.g. "ws://host:8080/ws".
	URL string
	// Token is the access token presented at admission.
	Token string
	// BoardID is the board to join.
	BoardID string
	// DisplayName is the presence name shown to peers.
	DisplayName string

	// HeartbeatInterval is the application ping cadence.
	HeartbeatInterval time.Duration
	// PongTimeout is how long after the last pong the connection is
	// declared dead and reconnection begins.
	PongTimeout time.Duration
	// QueueTTL bounds how long an unacknowledged outbound operation stays
	// queued for retransmission.
	QueueTTL time.Duration
	// PresenceThrottle is the trailing-edge window for cursor and selection
	// updates.
	PresenceThrottle time.Duration
	// Reconnect is the backoff policy for transport failures.
	Reconnect backoff.Policy

	Logger *slog.Logger
	Dialer *websocket.Dialer
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = c.HeartbeatInterval + 15*time.Second
	}
	if c.QueueTTL <= 0 {
		c.QueueTTL = 5 * time.Second
	}
	if c.PresenceThrottle <= 0 {
		c.PresenceThrottle = 30 * time.Millisecond
	}
	if c.Reconnect.BaseDelay == 0 {
		c.Reconnect = backoff.ReconnectPolicy()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
}

// Client is one user's live connection to one board.
type Client struct {
	cfg    Config
	logger *slog.Logger
	cb     Callbacks

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	generation   int
	reconnecting bool
	closed       bool
	version      int64
	pending      []pendingOp
	lastPong     time.Time
	lastRTT      time.Duration

	writeMu sync.Mutex

	cursor    *throttle.Throttler[models.Point]
	selection *throttle.Throttler[[]string]

	nowFunc func() time.Time
}

// New creates a client. Connect starts the session.
func New(cfg Config, cb Callbacks) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "client", "board_id", cfg.BoardID),
		cb:      cb,
		nowFunc: time.Now,
	}
	c.cursor = throttle.New(cfg.PresenceThrottle, func(p models.Point) {
		c.writeFrame(models.MsgCursor, models.CursorPayload{Position: p})
	})
	c.selection = throttle.New(cfg.PresenceThrottle, func(ids []string) {
		c.writeFrame(models.MsgSelection, models.SelectionPayload{ElementIDs: ids})
	})
	return c
}

// Connect dials the channel and joins the board. An authentication rejection
// is returned as ErrAuthFailed and is terminal; transport failures after a
// successful Connect trigger automatic reconnection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	c.setState(StateConnecting)
	if err := c.dial(ctx); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	return nil
}

// dial establishes one transport, joins the board, and launches the per-
// connection pumps.
func (c *Client) dial(ctx context.Context) error {
	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL+"?token="+c.cfg.Token, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrAuthFailed
		}
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.generation++
	gen := c.generation
	c.lastPong = c.nowFunc()
	lastVersion := c.version
	c.mu.Unlock()

	c.setState(StateConnected)

	go c.readLoop(conn, gen)
	go c.heartbeat(gen)

	if err := c.writeFrame(models.MsgJoin, models.JoinPayload{
		BoardID:     c.cfg.BoardID,
		DisplayName: c.cfg.DisplayName,
		LastVersion: lastVersion,
	}); err != nil {
		return err
	}
	c.resendPending()
	return nil
}

// Disconnect closes the session permanently. No reconnection follows.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cursor.Stop()
	c.selection.Stop()

	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.TextMessage, mustEncode(models.MsgLeave, models.LeavePayload{BoardID: c.cfg.BoardID}))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.setState(StateDisconnected)
}

// SendOperation applies a local edit to the channel. The operation is parented
// on the latest version this client has applied, queued until acknowledged,
// and retransmitted across reconnects until the queue TTL lapses.
func (c *Client) SendOperation(opType models.OperationType, elementID string, data map[string]any) (models.Operation, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.Operation{}, ErrClosed
	}
	op := models.Operation{
		ID:            uuid.NewString(),
		Type:          opType,
		BoardID:       c.cfg.BoardID,
		ElementID:     elementID,
		Timestamp:     c.nowFunc().UnixMilli(),
		ParentVersion: c.version,
		Data:          data,
	}
	c.pending = append(c.pending, pendingOp{op: op, queuedAt: c.nowFunc()})
	connected := c.state == StateConnected
	c.mu.Unlock()

	if connected {
		if err := c.writeFrame(models.MsgOperation, operationPayload(op)); err != nil {
			// The queue holds the operation; the reconnect path resends it.
			c.logger.Debug("send operation deferred", "op_id", op.ID, "error", err)
		}
	}
	return op, nil
}

// UpdateCursor reports the local cursor position. Calls are coalesced so at
// most one update per throttle window reaches the wire, always the latest.
func (c *Client) UpdateCursor(p models.Point) {
	c.cursor.Set(p)
}

// UpdateSelection reports the local selection, coalesced like cursor moves.
func (c *Client) UpdateSelection(elementIDs []string) {
	c.selection.Set(elementIDs)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Version returns the latest board version this client has applied.
func (c *Client) Version() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// RTT returns the most recent heartbeat round-trip time.
func (c *Client) RTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRTT
}

// PendingCount returns the number of unacknowledged outbound operations.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// readLoop is the dispatch goroutine for one transport generation.
func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onTransportDown(gen)
			return
		}
		frame, err := models.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("undecodable frame from server", "error", err)
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame *models.Frame) {
	switch frame.Type {
	case models.MsgJoined:
		var payload models.JoinedPayload
		if err := models.DecodePayload(frame, &payload); err != nil {
			return
		}
		c.handleRemoteOps(payload.Operations)
		c.mu.Lock()
		if payload.Version > c.version {
			c.version = payload.Version
		}
		c.mu.Unlock()
		if c.cb.OnUserJoined != nil {
			for _, m := range payload.Users {
				c.cb.OnUserJoined(m)
			}
		}

	case models.MsgOperationsBatch:
		var payload models.OperationsBatchPayload
		if err := models.DecodePayload(frame, &payload); err != nil {
			return
		}
		c.handleRemoteOps(payload.Operations)

	case models.MsgCursorUpdate:
		var payload models.CursorUpdatePayload
		if err := models.DecodePayload(frame, &payload); err != nil {
			return
		}
		if c.cb.OnCursor != nil {
			c.cb.OnCursor(payload)
		}

	case models.MsgSelectionUpdate:
		var payload models.SelectionUpdatePayload
		if err := models.DecodePayload(frame, &payload); err != nil {
			return
		}
		if c.cb.OnSelection != nil {
			c.cb.OnSelection(payload)
		}

	case models.MsgUserJoined:
		var payload models.UserJoinedPayload
		if err := models.DecodePayload(frame, &payload); err != nil {
			return
		}
		if c.cb.OnUserJoined != nil {
			c.cb.OnUserJoined(payload.User)
		}

	case models.MsgUserLeft:
		var payload models.UserLeftPayload
		if err := models.DecodePayload(frame, &payload); err != nil {
			return
		}
		if c.cb.OnUserLeft != nil {
			c.cb.OnUserLeft(payload.UserID)
		}

	case models.MsgPong:
		var payload models.PongPayload
		if err := models.DecodePayload(frame, &payload); err != nil {
			return
		}
		now := c.nowFunc()
		c.mu.Lock()
		c.lastPong = now
		if payload.Timestamp > 0 {
			c.lastRTT = now.Sub(time.UnixMilli(payload.Timestamp))
		}
		c.mu.Unlock()

	case models.MsgError:
		var payload models.ErrorPayload
		if err := models.DecodePayload(frame, &payload); err != nil {
			return
		}
		if payload.Code == models.ErrCodeResyncRequired {
			c.mu.Lock()
			c.pending = nil
			c.mu.Unlock()
			if c.cb.OnResyncRequired != nil {
				c.cb.OnResyncRequired()
			}
		}
		if c.cb.OnError != nil {
			c.cb.OnError(payload)
		}
	}
}

// heartbeat sends an application ping each interval and declares the
// connection dead when pongs stop arriving. Queue expiry rides the same tick
// so stale entries do not wait for the next broadcast.
func (c *Client) heartbeat(gen int) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stale := c.generation != gen || c.closed
		silent := c.nowFunc().Sub(c.lastPong) > c.cfg.PongTimeout
		conn := c.conn
		c.mu.Unlock()
		if stale {
			return
		}
		if silent {
			c.logger.Warn("heartbeat timed out, forcing reconnect")
			if conn != nil {
				conn.Close()
			}
			return
		}
		c.expirePending()
		c.writeFrame(models.MsgPing, models.PingPayload{Timestamp: c.nowFunc().UnixMilli()})
	}
}

// onTransportDown starts the reconnect loop for a failed generation, unless
// the client was closed or a newer generation already took over.
func (c *Client) onTransportDown(gen int) {
	c.mu.Lock()
	if c.closed || c.generation != gen || c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.conn = nil
	c.mu.Unlock()

	c.setState(StateConnecting)
	go c.reconnectLoop()
}

// reconnectLoop retries with exponential backoff until the budget is spent.
// A successful connection resets the attempt counter for the next outage.
func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 0; ; attempt++ {
		if c.cfg.Reconnect.Exhausted(attempt) {
			c.logger.Warn("reconnect budget exhausted", "attempts", attempt)
			c.setState(StateDisconnected)
			return
		}
		delay := c.cfg.Reconnect.Delay(attempt)
		c.logger.Info("reconnecting", "attempt", attempt+1, "delay", delay)
		time.Sleep(delay)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		err := c.dial(context.Background())
		if err == nil {
			c.logger.Info("reconnected", "attempt", attempt+1)
			return
		}
		if errors.Is(err, ErrAuthFailed) {
			c.logger.Error("reconnect rejected by auth, giving up")
			c.setState(StateDisconnected)
			return
		}
		c.logger.Warn("reconnect attempt failed", "attempt", attempt+1, "error", err)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if c.cb.OnStateChange != nil {
		c.cb.OnStateChange(s)
	}
}

// writeFrame serializes writes to the current transport.
func (c *Client) writeFrame(t models.MessageType, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := models.EncodeFrame(t, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func operationPayload(op models.Operation) models.OperationPayload {
	return models.OperationPayload{
		ID:            op.ID,
		Type:          op.Type,
		ElementID:     op.ElementID,
		ParentVersion: op.ParentVersion,
		Timestamp:     op.Timestamp,
		Data:          op.Data,
	}
}

func mustEncode(t models.MessageType, payload any) []byte {
	data, err := models.EncodeFrame(t, payload)
	if err != nil {
		return nil
	}
	return data
}
