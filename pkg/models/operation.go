package models

// OperationType classifies a board operation.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
	OpMove   OperationType = "move"
	OpResize OperationType = "resize"
	OpStyle  OperationType = "style"
)

// Operation is an atomic, versioned description of one change to one board
// element. Operations are immutable once created; transformation produces a
// new Operation value rather than mutating in place.
type Operation struct {
	ID        string        `json:"id"`
	Type      OperationType `json:"type"`
	BoardID   string        `json:"boardId"`
	ElementID string        `json:"elementId,omitempty"`
	UserID    string        `json:"userId"`
	// Timestamp is the originating client's wall clock in milliseconds.
	// Used only for tie-breaks, never for ordering.
	Timestamp int64 `json:"timestamp"`
	// ParentVersion is the board version the operation was authored against.
	ParentVersion int64 `json:"parentVersion"`
	// Version is assigned by the server when the operation is accepted.
	Version int64          `json:"version,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// CloneData returns a shallow copy of the operation's data payload.
func (o Operation) CloneData() map[string]any {
	if o.Data == nil {
		return nil
	}
	out := make(map[string]any, len(o.Data))
	for k, v := range o.Data {
		out[k] = v
	}
	return out
}

// DataNumber reads a numeric field from the operation payload. JSON decoding
// yields float64, but locally constructed operations may carry ints.
func (o Operation) DataNumber(key string) (float64, bool) {
	v, ok := o.Data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
