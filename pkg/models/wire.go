package models

import (
	"encoding/json"
	"fmt"
)

// MessageType tags a frame on the synchronization channel.
type MessageType string

// Client to server.
const (
	MsgJoin      MessageType = "join"
	MsgOperation MessageType = "operation"
	MsgCursor    MessageType = "cursor"
	MsgSelection MessageType = "selection"
	MsgPing      MessageType = "ping"
	MsgLeave     MessageType = "leave"
)

// Server to client.
const (
	MsgJoined          MessageType = "joined"
	MsgOperationsBatch MessageType = "operations_batch"
	MsgCursorUpdate    MessageType = "cursor_update"
	MsgSelectionUpdate MessageType = "selection_update"
	MsgUserJoined      MessageType = "user_joined"
	MsgUserLeft        MessageType = "user_left"
	MsgPong            MessageType = "pong"
	MsgError           MessageType = "error"
)

// Frame is the envelope for every message on the channel.
type Frame struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload opens a board session on a fresh transport.
type JoinPayload struct {
	BoardID     string `json:"boardId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	// LastVersion is the highest board version the client has applied;
	// the joined reply carries everything accepted since.
	LastVersion int64 `json:"lastVersion,omitempty"`
}

// JoinedPayload confirms admission and backfills missed operations.
type JoinedPayload struct {
	BoardID    string      `json:"boardId"`
	Users      []Member    `json:"users"`
	Operations []Operation `json:"operations"`
	Version    int64       `json:"version"`
}

// OperationPayload is a client-submitted operation before the server attaches
// identity and assigns a version.
type OperationPayload struct {
	ID            string         `json:"id"`
	Type          OperationType  `json:"type"`
	ElementID     string         `json:"elementId,omitempty"`
	ParentVersion int64          `json:"parentVersion"`
	Timestamp     int64          `json:"timestamp"`
	Data          map[string]any `json:"data,omitempty"`
}

// OperationsBatchPayload fans accepted operations out to board members.
type OperationsBatchPayload struct {
	Operations []Operation `json:"operations"`
}

type CursorPayload struct {
	Position Point `json:"position"`
}

type CursorUpdatePayload struct {
	UserID   string `json:"userId"`
	Position Point  `json:"position"`
}

type SelectionPayload struct {
	ElementIDs []string `json:"elementIds"`
}

type SelectionUpdatePayload struct {
	UserID     string   `json:"userId"`
	ElementIDs []string `json:"elementIds"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type PongPayload struct {
	Timestamp  int64 `json:"timestamp"`
	ServerTime int64 `json:"serverTime"`
}

type LeavePayload struct {
	BoardID string `json:"boardId"`
}

type UserJoinedPayload struct {
	BoardID string `json:"boardId"`
	User    Member `json:"user"`
}

type UserLeftPayload struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
}

// Error codes surfaced on the channel.
const (
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeInvalidFrame   = "invalid_frame"
	ErrCodeResyncRequired = "resync_required"
	ErrCodeJoinRequired   = "join_required"
)

// ErrorPayload is an explicit error acknowledgment; the channel never drops a
// malformed or rejected message silently.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

// EncodeFrame marshals a payload into a tagged frame.
func EncodeFrame(t MessageType, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		raw = data
	}
	return json.Marshal(Frame{Type: t, Payload: raw})
}

// DecodeFrame parses the envelope without touching the payload.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("decode frame: missing type")
	}
	return &f, nil
}

// DecodePayload unmarshals a frame payload into dst.
func DecodePayload(f *Frame, dst any) error {
	if f == nil || len(f.Payload) == 0 {
		return fmt.Errorf("frame has no payload")
	}
	if err := json.Unmarshal(f.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}
