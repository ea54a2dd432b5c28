package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Domain validation errors translated to sentinel errors at the store
// boundary.
var (
	ErrLinkAlreadyUsed = errors.New("magic link already used")
	ErrLinkExpired     = errors.New("magic link expired")
)

// ReasonSessionEvicted is the machine-readable reason attached to a 401 when
// the session lost the per-user concurrency race. The client distinguishes it
// from ordinary credential expiry.
const ReasonSessionEvicted = "session_evicted"

// SessionStatus tracks the lifecycle of a server-side session.
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusEvicted SessionStatus = "evicted"
	SessionStatusRevoked SessionStatus = "revoked"
)

// SessionRecord is the server-side session backing one refresh cookie.
type SessionRecord struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Status     SessionStatus
	Device     string
	IPAddress  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastSeenAt time.Time
}

// SessionsResult wraps the session list response.
type SessionsResult struct {
	Sessions []SessionSummary `json:"sessions"`
}

// SessionSummary is the user-facing view of one live session.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	Device       string    `json:"device"`
	IPAddress    string    `json:"ip_address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IsCurrent    bool      `json:"is_current"`
}
