package models

import "time"

// Session is a server-issued authorization object. A user may hold multiple
// concurrent sessions (multi-device); each is independent.
type Session struct {
	ID           string            `json:"id"`
	UserID       string            `json:"userId"`
	Email        string            `json:"email,omitempty"`
	DisplayName  string            `json:"displayName,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	ExpiresAt    time.Time         `json:"expiresAt"`
	LastActivity time.Time         `json:"lastActivity"`
	RefreshToken string            `json:"-"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return s != nil && !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Member is a board presence entry.
type Member struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Point is a cursor position on the board.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
