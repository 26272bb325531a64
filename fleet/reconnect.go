package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wafleet/sessionfleet/config"
	"github.com/wafleet/sessionfleet/domain/policy"
	"github.com/wafleet/sessionfleet/domain/session"
	"github.com/wafleet/sessionfleet/infrastructure/chatbot"
	"github.com/wafleet/sessionfleet/infrastructure/wasocket"
	"github.com/wafleet/sessionfleet/pkg/fleetmonitor"
	"github.com/wafleet/sessionfleet/storage/authstore"
	"github.com/wafleet/sessionfleet/storage/metastore"
)

// Reconnector is C2: the sole authority for scheduling reconnections,
// driven by each socket's connection.update stream. spec.md §4.2.
type Reconnector struct {
	state   *FleetState
	manager *Manager
	meta    *metastore.Store
	auth    authstore.Store
	notify  chatbot.Sink

	// StopMonitoring lets C3 unregister its per-session inactivity
	// probe the moment C2 takes ownership of a close event; wired by
	// the top-level bootstrap once the health monitor exists.
	StopMonitoring func(sessionID string)

	// OnConnectionOpen lets C6 enqueue the channel auto-follow the
	// moment a session reaches connection:open (spec.md §4.6); wired by
	// the top-level bootstrap once the batch operator exists.
	OnConnectionOpen func(sessionID string)

	log *logrus.Entry
}

func NewReconnector(state *FleetState, manager *Manager, meta *metastore.Store, auth authstore.Store, notify chatbot.Sink) *Reconnector {
	return &Reconnector{
		state:   state,
		manager: manager,
		meta:    meta,
		auth:    auth,
		notify:  notify,
		log:     logrus.WithField("component", "fleet.reconnect"),
	}
}

// HandleConnectionUpdate is the entry point the event router calls for
// every connection.update event (spec.md §4.5: "always delegates close
// to C2"). open marks the session connected, resets its reconnect
// attempts and refreshes activity; close runs the full disconnect
// routing; connecting and other transient states are ignored.
func (r *Reconnector) HandleConnectionUpdate(ctx context.Context, sessionID string, update *wasocket.ConnectionUpdate) {
	if update == nil {
		return
	}
	switch update.Connection {
	case "open":
		r.handleOpen(ctx, sessionID)
	case "close":
		r.handleClose(ctx, sessionID, update)
	default:
		// "connecting" and any other transient state: no routing.
	}
}

func (r *Reconnector) handleOpen(ctx context.Context, sessionID string) {
	r.state.ReleaseReconnectionLock(sessionID)
	sess, ok := r.state.MutateSession(sessionID, func(s *session.Session) {
		s.Status = session.StatusConnected
		s.IsConnected = true
		s.LastActivity = time.Now()
		s.ResetReconnectAttempts() // invariant I5
	})
	if !ok {
		return
	}
	if err := r.meta.UpdateSession(ctx, sessionID, map[string]interface{}{
		"is_connected":       true,
		"status":             string(session.StatusConnected),
		"reconnect_attempts": 0,
	}); err != nil {
		r.log.WithError(err).WithField("session_id", sessionID).Warn("[RECONNECT] persist open transition failed")
	}
	if sess.Callbacks.OnConnected != nil {
		sess.Callbacks.OnConnected()
	}
	if r.OnConnectionOpen != nil {
		r.OnConnectionOpen(sessionID)
	}
}

func (r *Reconnector) handleClose(ctx context.Context, sessionID string, update *wasocket.ConnectionUpdate) {
	// 405 is skipped entirely: no state change, no reconnect, no cleanup.
	if update.StatusCode == policy.CodeMethodNotAllowed {
		return
	}

	// Step 1: idempotency — a live reconnection lock means this close
	// is already being handled.
	if r.state.HasReconnectionLock(sessionID) {
		return
	}

	// Step 2: stop health monitoring for this session.
	if r.StopMonitoring != nil {
		r.StopMonitoring(sessionID)
	}

	sess, ok := r.state.GetSession(sessionID)
	source := session.SourceTelegram
	if ok {
		source = sess.Source
	}

	code := update.StatusCode
	reason := update.Reason

	// Step 4: persist disconnected state.
	r.state.MutateSession(sessionID, func(s *session.Session) {
		s.Status = session.StatusDisconnected
		s.IsConnected = false
	})
	if err := r.meta.UpdateSession(ctx, sessionID, map[string]interface{}{
		"is_connected": false,
		"status":       string(session.StatusDisconnected),
	}); err != nil {
		r.log.WithError(err).WithField("session_id", sessionID).Warn("[RECONNECT] persist close transition failed")
	}

	entry := policy.GetDisconnectConfig(code, reason)

	fleetmonitor.Record(fleetmonitor.Event{
		SessionID:  sessionID,
		Source:     string(source),
		Stage:      "disconnect",
		StatusCode: code,
		Status:     "ok",
		Metadata:   map[string]string{"policy": entry.Name},
	})

	switch {
	case entry.Supports515Flow:
		r.state.Mark515Disconnect(sessionID)
		restartKind := "515-restart"
		if config.Enable515Flow {
			restartKind = "515-restart-complex"
		}
		r.scheduleReconnection(ctx, sessionID, entry, 0, restartKind)
		return

	case code == policy.CodeBadSession:
		r.wipeNonCredAuth(ctx, sessionID)
		r.scheduleReconnection(ctx, sessionID, entry, 0, "reconnect")
		return

	case entry.IsPermanent:
		r.handlePermanent(ctx, sessionID, source, entry)
		return

	case entry.ShouldReconnect:
		attempts := int32(0)
		if sess != nil {
			attempts = sess.ReconnectAttempts
		}
		if int(attempts) >= entry.MaxAttempts {
			r.log.WithField("session_id", sessionID).Info("[RECONNECT] max attempts reached, giving up")
			return
		}
		if entry.RequiresAuthClear {
			r.wipeNonCredAuth(ctx, sessionID)
		}
		r.scheduleReconnection(ctx, sessionID, entry, int(attempts), "reconnect")
		return

	default:
		// shouldReconnect==false and not permanent: nothing further to do.
	}
}

func (r *Reconnector) handlePermanent(ctx context.Context, sessionID string, source session.Source, entry policy.Entry) {
	switch entry.Code {
	case policy.CodeLoggedOut:
		if source == session.SourceWeb {
			if r.auth != nil {
				if err := r.auth.DeleteBySession(ctx, sessionID); err != nil {
					r.log.WithError(err).WithField("session_id", sessionID).Warn("[RECONNECT] failed to erase auth on web logout")
				}
			}
			r.manager.cleanupSocketInMemoryOnly(sessionID)
		} else {
			_ = r.manager.CompleteCleanup(ctx, sessionID)
		}
		r.notifyUser(ctx, sessionID, entry)
	case policy.CodeForbidden, policy.CodeTimedOut:
		_ = r.manager.CompleteCleanup(ctx, sessionID)
		r.notifyUser(ctx, sessionID, entry)
	default:
		if entry.RequiresCleanup {
			_ = r.manager.CompleteCleanup(ctx, sessionID)
		}
		if entry.RequiresNotification {
			r.notifyUser(ctx, sessionID, entry)
		}
	}
}

func (r *Reconnector) notifyUser(ctx context.Context, sessionID string, entry policy.Entry) {
	sess, ok := r.state.GetSession(sessionID)
	userID := sessionID
	if ok {
		userID = sess.UserID
	}
	text := entry.Message
	if entry.UserAction != "" {
		text = fmt.Sprintf("%s\n%s", entry.Message, entry.UserAction)
	}
	if err := r.notify.SendMessage(ctx, userID, text, ""); err != nil {
		r.log.WithError(err).WithField("session_id", sessionID).Warn("[RECONNECT] notification failed")
	}
}

func (r *Reconnector) wipeNonCredAuth(ctx context.Context, sessionID string) {
	if r.auth == nil {
		return
	}
	if err := r.auth.DeleteBySessionExcept(ctx, sessionID, authstore.RootCredentialFilename); err != nil {
		r.log.WithError(err).WithField("session_id", sessionID).Warn("[RECONNECT] failed to wipe non-credential auth blobs")
	}
}

// scheduleReconnection acquires the reconnection lock and launches the
// delayed attempt in the background; cancelReconnection (a voluntary
// disconnect) is honored lazily by checking the voluntary flag right
// before the attempt fires.
func (r *Reconnector) scheduleReconnection(ctx context.Context, sessionID string, entry policy.Entry, attempt int, kind string) {
	if !r.state.TryLockReconnection(sessionID) {
		return
	}
	// Use the resolved entry's own delay: re-resolving code 500 without
	// its reason would always pick INTERNAL_SERVER_ERROR over BAD_SESSION.
	delay := entry.ReconnectDelay
	if entry.UseExponentialBackoff {
		delay = policy.GetReconnectDelay(entry.Code, "", attempt)
	}
	r.state.SetActiveReconnection(sessionID, ReconnectionInfo{
		StartTime: time.Now(),
		Attempt:   attempt,
		Type:      kind,
		Code:      entry.Code,
		Token:     uuid.NewString(),
	})

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			r.state.ReleaseReconnectionLock(sessionID)
			return
		case <-timer.C:
		}
		r.attemptReconnect(sessionID)
	}()
}

// CancelReconnection is called by a voluntary disconnect to release a
// pending reconnection without waiting for its timer.
func (r *Reconnector) CancelReconnection(sessionID string) {
	r.state.ReleaseReconnectionLock(sessionID)
}

func (r *Reconnector) attemptReconnect(sessionID string) {
	if r.state.IsVoluntarilyDisconnected(sessionID) {
		r.state.ReleaseReconnectionLock(sessionID)
		return
	}

	ctx := context.Background()
	row, err := r.meta.GetSession(ctx, sessionID)
	if err != nil || row == nil {
		r.state.ReleaseReconnectionLock(sessionID)
		_ = r.manager.CompleteCleanup(ctx, sessionID)
		return
	}

	row.IncrementReconnectAttempts()
	_ = r.meta.UpdateSession(ctx, sessionID, map[string]interface{}{
		"status":             string(session.StatusConnecting),
		"reconnect_attempts": row.ReconnectAttempts,
	})

	if _, err := r.manager.Create(ctx, row.UserID, row.PhoneNumber, session.Callbacks{}, true, row.Source, false); err != nil {
		r.log.WithError(err).WithField("session_id", sessionID).Warn("[RECONNECT] reconnection attempt failed")
		// Release before rescheduling: scheduleReconnection re-acquires
		// the lock itself, and a held lock would make that acquire fail.
		r.state.ReleaseReconnectionLock(sessionID)
		entry := policy.GetDisconnectConfig(0, "")
		r.scheduleReconnection(ctx, sessionID, entry, int(row.ReconnectAttempts), "reconnect")
		return
	}
	r.state.ReleaseReconnectionLock(sessionID)
}

// CanReinitialize implements C3's canReinitialize(sessionId) guard.
func (r *Reconnector) CanReinitialize(sessionID string) bool {
	return r.state.CanReinitialize(sessionID)
}
