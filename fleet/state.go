// Package fleet is the session fleet controller: C1 owns the live
// registry and the flag sets this file consolidates; C2-C6 each hold a
// pointer back into the same FleetState so every component observes
// the same truth without a shared global.
package fleet

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/wafleet/sessionfleet/domain/session"
)

// ReconnectionInfo records one in-flight reconnection attempt, keyed by
// sessionId in FleetState.activeReconnections (spec.md §4.2).
type ReconnectionInfo struct {
	StartTime time.Time
	Attempt   int
	Type      string // "reconnect" | "515-restart" | "515-restart-complex"
	Code      int
	Token     string
}

// ReconnectAttempt is the public, read-only view of one in-flight
// reconnection, returned by Snapshot for inspection/diagnostics.
type ReconnectAttempt struct {
	SessionID string
	Attempt   int
	StartedAt time.Time
	Code      int
	Token     string
}

// FleetState consolidates the global mutable sets spec.md §9 calls out
// (`voluntarilyDisconnected`, `initializing`, `detectedWebSessions`,
// `sessions515Disconnect`) plus the reconnection-lock table and C4's
// `processingNow` guard, each as an independently-locked concurrent map
// rather than one map behind one mutex, so 150+ sessions don't serialize
// on unrelated flag checks.
type FleetState struct {
	sessions *xsync.MapOf[string, *session.Session]

	voluntarilyDisconnected *xsync.MapOf[string, struct{}]
	initializing            *xsync.MapOf[string, struct{}]
	detectedWebSessions     *xsync.MapOf[string, struct{}]
	sessions515Disconnect   *xsync.MapOf[string, struct{}]

	reconnectionLocks   *xsync.MapOf[string, time.Time]
	activeReconnections *xsync.MapOf[string, ReconnectionInfo]

	processingNow *xsync.MapOf[string, struct{}] // C3 reinit / C4 takeover in-flight guard
}

// NewFleetState builds an empty FleetState.
func NewFleetState() *FleetState {
	return &FleetState{
		sessions:                xsync.NewMapOf[string, *session.Session](),
		voluntarilyDisconnected: xsync.NewMapOf[string, struct{}](),
		initializing:            xsync.NewMapOf[string, struct{}](),
		detectedWebSessions:     xsync.NewMapOf[string, struct{}](),
		sessions515Disconnect:   xsync.NewMapOf[string, struct{}](),
		reconnectionLocks:       xsync.NewMapOf[string, time.Time](),
		activeReconnections:     xsync.NewMapOf[string, ReconnectionInfo](),
		processingNow:           xsync.NewMapOf[string, struct{}](),
	}
}

// --- live registry ---

func (fs *FleetState) GetSession(sessionID string) (*session.Session, bool) {
	return fs.sessions.Load(sessionID)
}

func (fs *FleetState) PutSession(sess *session.Session) {
	fs.sessions.Store(sess.SessionID, sess)
}

func (fs *FleetState) DeleteSession(sessionID string) {
	fs.sessions.Delete(sessionID)
}

// MutateSession loads the current snapshot, applies mutate to a copy,
// and stores the copy back. Callers that need atomicity across
// multiple fields rely on per-session single-ownership (invariant I4:
// a session is never concurrently owned by `initializing` and a live
// reconnection), not on this function serializing writers itself.
func (fs *FleetState) MutateSession(sessionID string, mutate func(s *session.Session)) (*session.Session, bool) {
	cur, ok := fs.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	next := *cur
	mutate(&next)
	fs.sessions.Store(sessionID, &next)
	return &next, true
}

func (fs *FleetState) AllSessions() []*session.Session {
	out := make([]*session.Session, 0, fs.sessions.Size())
	fs.sessions.Range(func(_ string, v *session.Session) bool {
		out = append(out, v)
		return true
	})
	return out
}

func (fs *FleetState) SessionCount() int {
	return fs.sessions.Size()
}

// --- flag sets ---

func markSet(m *xsync.MapOf[string, struct{}], id string) { m.Store(id, struct{}{}) }
func clearSet(m *xsync.MapOf[string, struct{}], id string) { m.Delete(id) }
func hasSet(m *xsync.MapOf[string, struct{}], id string) bool {
	_, ok := m.Load(id)
	return ok
}

func (fs *FleetState) MarkVoluntarilyDisconnected(sessionID string) { markSet(fs.voluntarilyDisconnected, sessionID) }
func (fs *FleetState) ClearVoluntarilyDisconnected(sessionID string) { clearSet(fs.voluntarilyDisconnected, sessionID) }
func (fs *FleetState) IsVoluntarilyDisconnected(sessionID string) bool { return hasSet(fs.voluntarilyDisconnected, sessionID) }

func (fs *FleetState) MarkInitializing(sessionID string) { markSet(fs.initializing, sessionID) }
func (fs *FleetState) ClearInitializing(sessionID string) { clearSet(fs.initializing, sessionID) }
func (fs *FleetState) IsInitializing(sessionID string) bool { return hasSet(fs.initializing, sessionID) }

func (fs *FleetState) MarkDetectedWebSession(sessionID string) { markSet(fs.detectedWebSessions, sessionID) }
func (fs *FleetState) ClearDetectedWebSession(sessionID string) { clearSet(fs.detectedWebSessions, sessionID) }
func (fs *FleetState) IsDetectedWebSession(sessionID string) bool { return hasSet(fs.detectedWebSessions, sessionID) }

func (fs *FleetState) Mark515Disconnect(sessionID string) { markSet(fs.sessions515Disconnect, sessionID) }
func (fs *FleetState) Clear515Disconnect(sessionID string) { clearSet(fs.sessions515Disconnect, sessionID) }
func (fs *FleetState) Is515Disconnect(sessionID string) bool { return hasSet(fs.sessions515Disconnect, sessionID) }

func (fs *FleetState) MarkProcessing(sessionID string) bool {
	_, loaded := fs.processingNow.LoadOrStore(sessionID, struct{}{})
	return !loaded
}
func (fs *FleetState) ClearProcessing(sessionID string) { fs.processingNow.Delete(sessionID) }

// SweepStaleFlags drops flag entries for sessions no longer in the live
// registry (C1's 60s background sweep, spec.md §4.1).
func (fs *FleetState) SweepStaleFlags() {
	sweepOne := func(m *xsync.MapOf[string, struct{}]) {
		m.Range(func(id string, _ struct{}) bool {
			if _, live := fs.sessions.Load(id); !live {
				m.Delete(id)
			}
			return true
		})
	}
	sweepOne(fs.initializing)
	sweepOne(fs.detectedWebSessions)
	sweepOne(fs.sessions515Disconnect)
	// voluntarilyDisconnected intentionally NOT swept here: a voluntary
	// disconnect drops the registry entry by design, so "no longer
	// live" is the expected steady state, not staleness.
}

// --- reconnection lock ---

// staleLockAfter is how long a reconnection lock is honored before a
// new attempt is allowed to force-acquire it (spec.md §4.2: "becomes
// stale and is force-released after 120s").
const staleLockAfter = 120 * time.Second

// TryLockReconnection acquires the per-session reconnection lock,
// force-releasing a stale one first. Returns false if a live lock is
// already held by someone else.
func (fs *FleetState) TryLockReconnection(sessionID string) bool {
	now := time.Now()
	won := false
	fs.reconnectionLocks.Compute(sessionID, func(since time.Time, loaded bool) (time.Time, bool) {
		if !loaded || now.Sub(since) > staleLockAfter {
			won = true
			return now, false
		}
		won = false
		return since, false
	})
	return won
}

func (fs *FleetState) HasReconnectionLock(sessionID string) bool {
	since, ok := fs.reconnectionLocks.Load(sessionID)
	if !ok {
		return false
	}
	return time.Since(since) <= staleLockAfter
}

func (fs *FleetState) ReleaseReconnectionLock(sessionID string) {
	fs.reconnectionLocks.Delete(sessionID)
	fs.activeReconnections.Delete(sessionID)
}

func (fs *FleetState) SetActiveReconnection(sessionID string, info ReconnectionInfo) {
	fs.activeReconnections.Store(sessionID, info)
}

func (fs *FleetState) GetActiveReconnection(sessionID string) (ReconnectionInfo, bool) {
	return fs.activeReconnections.Load(sessionID)
}

// Snapshot returns every in-flight reconnection attempt, for diagnostics
// and the fleet-wide health view.
func (fs *FleetState) Snapshot() []ReconnectAttempt {
	out := make([]ReconnectAttempt, 0, fs.activeReconnections.Size())
	fs.activeReconnections.Range(func(sessionID string, info ReconnectionInfo) bool {
		out = append(out, ReconnectAttempt{
			SessionID: sessionID,
			Attempt:   info.Attempt,
			StartedAt: info.StartTime,
			Code:      info.Code,
			Token:     info.Token,
		})
		return true
	})
	return out
}

// CanReinitialize reports whether C3 may attempt a reinitialization of
// sessionID: false while C2 holds a live reconnection lock for it
// (spec.md §4.2's canReinitialize guard, called from C3).
func (fs *FleetState) CanReinitialize(sessionID string) bool {
	return !fs.HasReconnectionLock(sessionID)
}
