package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/boardsync/internal/transform"
	"github.com/haasonsaas/boardsync/pkg/models"
)

const (
	maxFrameSize  = 256 * 1024
	writeTimeout  = 10 * time.Second
	sendQueueSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browsers send an Origin header; non-browser clients are trusted to the
	// extent their access token is.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn is one admitted synchronization channel connection. All outbound
// traffic goes through the send queue so only the write pump touches the
// socket for writes.
type wsConn struct {
	server  *Server
	conn    *websocket.Conn
	logger  *slog.Logger
	id      string
	session *models.Session

	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	unsubscribe func()

	mu     sync.Mutex
	board  string
	joined bool

	// knownVersion is the highest board version the client has demonstrably
	// applied; history below the board-wide minimum is safe to prune.
	knownVersion atomic.Int64
}

// handleWS authenticates and admits a synchronization channel connection.
// Admission control runs before the upgrade so rejections are plain HTTP.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	session, err := s.sessions.ValidateSession(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid or expired token")
		return
	}

	if ok, retryAfter := s.limiters.Sync.Allow(session.UserID); !ok {
		s.metrics.RateLimitedTotal.WithLabelValues("sync").Inc()
		w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
		writeError(w, http.StatusTooManyRequests, models.ErrCodeRateLimited, "too many connection attempts")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		server:  s,
		conn:    conn,
		id:      uuid.NewString(),
		session: session,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}
	c.logger = s.logger.With("conn_id", c.id, "user_id", session.UserID)

	s.registerConn(c)
	c.logger.Info("connection admitted")

	go c.writePump()
	c.readPump(r.Context())
}

func (c *wsConn) boardID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board
}

// readPump owns all reads. It returns when the transport dies, the read
// deadline lapses with no pong, or the client leaves.
func (c *wsConn) readPump(ctx context.Context) {
	defer c.close()

	pongTimeout := c.server.config.Sync.PongTimeout
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("connection read error", "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		if done := c.handleFrame(ctx, data); done {
			return
		}
	}
}

// writePump owns all writes, including heartbeat pings.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.server.config.Sync.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleFrame validates and dispatches one inbound frame. The per-user
// channel budget runs before any processing; a malformed or rejected message
// always gets an explicit error reply, never silence. Returns true when the
// connection should close.
func (c *wsConn) handleFrame(ctx context.Context, data []byte) bool {
	if ok, retryAfter := c.server.limiters.Channel.Allow(c.session.UserID); !ok {
		c.server.metrics.RateLimitedTotal.WithLabelValues("channel").Inc()
		c.sendError(models.ErrCodeRateLimited, "message budget exhausted", retryAfter.Milliseconds())
		return false
	}
	if err := validateFrame(data); err != nil {
		c.sendError(models.ErrCodeInvalidFrame, err.Error(), 0)
		return false
	}
	frame, err := models.DecodeFrame(data)
	if err != nil {
		c.sendError(models.ErrCodeInvalidFrame, err.Error(), 0)
		return false
	}

	c.mu.Lock()
	joined := c.joined
	c.mu.Unlock()
	if !joined && frame.Type != models.MsgJoin {
		c.sendError(models.ErrCodeJoinRequired, "join a board before sending messages", 0)
		return false
	}

	switch frame.Type {
	case models.MsgJoin:
		c.handleJoin(ctx, frame)
	case models.MsgOperation:
		c.handleOperation(ctx, frame)
	case models.MsgCursor:
		c.handleCursor(frame)
	case models.MsgSelection:
		c.handleSelection(frame)
	case models.MsgPing:
		c.handlePing(frame)
	case models.MsgLeave:
		return true
	default:
		c.sendError(models.ErrCodeInvalidFrame, "unknown message type", 0)
	}
	return false
}

func (c *wsConn) handleJoin(ctx context.Context, frame *models.Frame) {
	var payload models.JoinPayload
	if err := models.DecodePayload(frame, &payload); err != nil {
		c.sendError(models.ErrCodeInvalidFrame, err.Error(), 0)
		return
	}
	if payload.BoardID == "" {
		c.sendError(models.ErrCodeInvalidFrame, "join requires boardId", 0)
		return
	}

	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		c.sendError(models.ErrCodeInvalidFrame, "already joined a board", 0)
		return
	}
	c.board = payload.BoardID
	c.joined = true
	c.mu.Unlock()

	c.server.seedBoard(ctx, payload.BoardID)

	displayName := c.session.DisplayName
	if payload.DisplayName != "" {
		displayName = payload.DisplayName
	}
	member := models.Member{
		UserID:      c.session.UserID,
		DisplayName: displayName,
		JoinedAt:    time.Now(),
	}

	c.unsubscribe = c.server.hub.Subscribe(payload.BoardID, c.id, c.send)
	users := c.server.hub.Join(payload.BoardID, c.id, member)

	backfill := c.server.transformer.OpsSince(payload.BoardID, payload.LastVersion)
	current := c.server.transformer.CurrentVersion(payload.BoardID)
	c.knownVersion.Store(current)

	c.sendFrame(models.MsgJoined, models.JoinedPayload{
		BoardID:    payload.BoardID,
		Users:      users,
		Operations: backfill,
		Version:    current,
	})

	if joined, err := models.EncodeFrame(models.MsgUserJoined, models.UserJoinedPayload{
		BoardID: payload.BoardID,
		User:    member,
	}); err == nil {
		c.server.hub.Publish(payload.BoardID, c.id, joined)
	}

	c.logger.Info("joined board", "board_id", payload.BoardID,
		"members", len(users), "backfill", len(backfill))
}

func (c *wsConn) handleOperation(ctx context.Context, frame *models.Frame) {
	if ok, retryAfter := c.server.limiters.API.Allow("ws:" + c.session.UserID); !ok {
		c.server.metrics.RateLimitedTotal.WithLabelValues("api").Inc()
		c.sendError(models.ErrCodeRateLimited, "operation budget exhausted", retryAfter.Milliseconds())
		return
	}

	var payload models.OperationPayload
	if err := models.DecodePayload(frame, &payload); err != nil {
		c.sendError(models.ErrCodeInvalidFrame, err.Error(), 0)
		return
	}
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}

	board := c.boardID()
	op := models.Operation{
		ID:            payload.ID,
		Type:          payload.Type,
		BoardID:       board,
		ElementID:     payload.ElementID,
		UserID:        c.session.UserID,
		Timestamp:     payload.Timestamp,
		ParentVersion: payload.ParentVersion,
		Data:          payload.Data,
	}

	opCtx, span := c.server.tracer.Start(ctx, "operation.apply",
		attribute.String("board.id", board),
		attribute.String("operation.type", string(op.Type)),
	)
	accepted, transformed, err := c.server.transformer.Apply(board, op)
	span.End()
	if err != nil {
		if errors.Is(err, transform.ErrVersionPruned) {
			c.server.metrics.ResyncRequiredTotal.Inc()
			c.sendError(models.ErrCodeResyncRequired,
				"parent version no longer in history, rejoin with a fresh snapshot", 0)
			return
		}
		if errors.Is(err, transform.ErrVersionAhead) {
			c.sendError(models.ErrCodeInvalidFrame,
				"parentVersion ahead of board version", 0)
			return
		}
		c.logger.Error("apply operation", "error", err)
		c.sendError(models.ErrCodeInvalidFrame, "operation rejected", 0)
		return
	}

	c.server.metrics.OperationsTotal.WithLabelValues(string(accepted.Type)).Inc()
	if transformed {
		c.server.metrics.TransformsTotal.Inc()
	}
	// knownVersion feeds the pruning watermark and must never outrun what
	// the board has actually assigned.
	if pv := min(payload.ParentVersion, accepted.Version-1); pv > c.knownVersion.Load() {
		c.knownVersion.Store(pv)
	}

	if err := c.server.store.AppendOperation(opCtx, accepted); err != nil {
		c.logger.Error("persist operation", "op_id", accepted.ID, "error", err)
	}

	batch, err := models.EncodeFrame(models.MsgOperationsBatch, models.OperationsBatchPayload{
		Operations: []models.Operation{accepted},
	})
	if err != nil {
		c.logger.Error("encode batch", "error", err)
		return
	}
	c.server.hub.Publish(board, c.id, batch)
	c.server.metrics.BroadcastsTotal.Inc()
}

func (c *wsConn) handleCursor(frame *models.Frame) {
	var payload models.CursorPayload
	if err := models.DecodePayload(frame, &payload); err != nil {
		c.sendError(models.ErrCodeInvalidFrame, err.Error(), 0)
		return
	}
	out, err := models.EncodeFrame(models.MsgCursorUpdate, models.CursorUpdatePayload{
		UserID:   c.session.UserID,
		Position: payload.Position,
	})
	if err != nil {
		return
	}
	c.server.hub.Publish(c.boardID(), c.id, out)
}

func (c *wsConn) handleSelection(frame *models.Frame) {
	var payload models.SelectionPayload
	if err := models.DecodePayload(frame, &payload); err != nil {
		c.sendError(models.ErrCodeInvalidFrame, err.Error(), 0)
		return
	}
	out, err := models.EncodeFrame(models.MsgSelectionUpdate, models.SelectionUpdatePayload{
		UserID:     c.session.UserID,
		ElementIDs: payload.ElementIDs,
	})
	if err != nil {
		return
	}
	c.server.hub.Publish(c.boardID(), c.id, out)
}

func (c *wsConn) handlePing(frame *models.Frame) {
	var payload models.PingPayload
	// A bare ping without payload is fine; echo zero.
	models.DecodePayload(frame, &payload)
	c.sendFrame(models.MsgPong, models.PongPayload{
		Timestamp:  payload.Timestamp,
		ServerTime: time.Now().UnixMilli(),
	})
}

// sendFrame queues a frame for the write pump. Slow consumers lose frames
// rather than stalling the handler.
func (c *wsConn) sendFrame(t models.MessageType, payload any) {
	data, err := models.EncodeFrame(t, payload)
	if err != nil {
		c.logger.Error("encode frame", "type", string(t), "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.server.metrics.DroppedFramesTotal.Inc()
	}
}

func (c *wsConn) sendError(code, message string, retryAfterMs int64) {
	c.sendFrame(models.MsgError, models.ErrorPayload{
		Code:         code,
		Message:      message,
		RetryAfterMs: retryAfterMs,
	})
}

// close tears the connection down exactly once: membership leaves the hub,
// peers get one user_left, the write pump drains, and the socket closes.
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		if c.unsubscribe != nil {
			c.unsubscribe()
		}
		board := c.boardID()
		if board != "" {
			if member, wasMember := c.server.hub.Leave(board, c.id); wasMember {
				if left, err := models.EncodeFrame(models.MsgUserLeft, models.UserLeftPayload{
					BoardID: board,
					UserID:  member.UserID,
				}); err == nil {
					c.server.hub.Publish(board, c.id, left)
				}
			}
		}
		c.server.unregisterConn(c)
		close(c.done)
		c.conn.Close()
		c.logger.Info("connection closed", "board_id", board)
	})
}

// shutdown is close() for server-initiated teardown.
func (c *wsConn) shutdown() {
	c.close()
}
