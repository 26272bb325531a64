// Package session defines the live registry entry (C1's data model): a
// session's identity, lifecycle flags, and the Socket it owns.
package session

import (
	"sync/atomic"
	"time"
)

// Source distinguishes the two origination paths spec.md §1 describes.
type Source string

const (
	SourceTelegram Source = "telegram"
	SourceWeb      Source = "web"
)

// Status is one of the connectionStatus values from spec.md §3.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusReconnecting Status = "reconnecting"
	StatusAuthMissing  Status = "auth_missing"
	StatusFailed       Status = "failed"
	StatusError        Status = "error"
)

// Callbacks are erased on persistence (spec.md §3); they exist only for
// the lifetime of the in-memory Session value.
type Callbacks struct {
	OnConnected func()
	OnQR        func(qr string)
	OnError     func(err error)
}

// Socket is the narrow subset of the client-library handle the Session
// type itself needs to know about; the full contract lives in
// infrastructure/wasocket.Socket. Declaring it here (rather than
// importing that package) keeps domain/session free of an
// infrastructure dependency.
type Socket interface {
	Close()
	IsConnected() bool
}

// Session is the live registry entry: identity + socket handle +
// lifecycle flags + last-activity time (spec.md §3).
type Session struct {
	SessionID   string
	UserID      string
	PhoneNumber string
	Source      Source

	Status      Status
	IsConnected bool

	// ReconnectAttempts is a monotone counter reset only on a successful
	// `connected` transition (invariant I5).
	ReconnectAttempts int32

	Callbacks Callbacks

	// Detected is always true for telegram sessions; starts false for
	// web sessions until the controller assumes ownership (C4).
	Detected bool

	// Is515Disconnected tags a session that went through the 515/516
	// post-pairing restart flow, for observation (scenario 1 in
	// spec.md §8).
	Is515Disconnected bool

	Socket Socket

	LastActivity time.Time
	CreatedAt    time.Time
}

// CanonicalSessionID returns the canonical "session_{userId}" form.
func CanonicalSessionID(userID string) string {
	return "session_" + userID
}

func (s *Session) IncrementReconnectAttempts() int32 {
	return atomic.AddInt32(&s.ReconnectAttempts, 1)
}

// ResetReconnectAttempts is called only on a successful `connected`
// transition (invariant I5).
func (s *Session) ResetReconnectAttempts() {
	atomic.StoreInt32(&s.ReconnectAttempts, 0)
}

func (s *Session) RecordActivity() {
	s.LastActivity = time.Now()
}
