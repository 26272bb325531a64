package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"github.com/wafleet/sessionfleet/config"
	"github.com/wafleet/sessionfleet/infrastructure/wasocket"
)

const (
	healthSweepInterval  = 10 * time.Minute
	healthProbeInterval  = 60 * time.Second
	inactivityThreshold  = 30 * time.Minute
	selfPingTimeout      = 15 * time.Second
	maxFailedSelfPings   = 3
	reinitCooldown       = 60 * time.Second
	reinitTombstoneTTL   = 5 * time.Second
	simulatedPermanentCode = 401
)

// sessionProbe is C3's per-session inactivity bookkeeping. Activity
// itself lives on session.Session.LastActivity (owned by C1); this only
// tracks the self-ping round trip and the reinit cooldown.
type sessionProbe struct {
	mu                sync.Mutex
	pinging           bool
	pingSentAt        time.Time
	failedPings       int
	stopped           bool // set after maxFailedSelfPings; no further self-pings
	lastReinitAttempt time.Time
}

// HealthMonitor is C3: it detects silent-failure sessions a clean
// connection.update close never surfaces, and repairs them without
// racing C2's reconnection state machine. spec.md §4.3.
type HealthMonitor struct {
	state       *FleetState
	manager     *Manager
	reconnector *Reconnector

	probes *xsync.MapOf[string, *sessionProbe]

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	log *logrus.Entry
}

func NewHealthMonitor(state *FleetState, manager *Manager, reconnector *Reconnector) *HealthMonitor {
	return &HealthMonitor{
		state:       state,
		manager:     manager,
		reconnector: reconnector,
		probes:      xsync.NewMapOf[string, *sessionProbe](),
		stopCh:      make(chan struct{}),
		log:         logrus.WithField("component", "fleet.health"),
	}
}

func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(2)
	go h.sweepLoop(ctx)
	go h.probeLoop(ctx)
}

func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
}

// StopMonitoring drops a session's probe state; wired into
// Reconnector.StopMonitoring so C2 taking ownership of a close event
// stops C3's local inactivity tracking for it immediately.
func (h *HealthMonitor) StopMonitoring(sessionID string) {
	h.probes.Delete(sessionID)
}

func (h *HealthMonitor) probeFor(sessionID string) *sessionProbe {
	if p, ok := h.probes.Load(sessionID); ok {
		return p
	}
	p, _ := h.probes.LoadOrStore(sessionID, &sessionProbe{})
	return p
}

// sweepLoop classifies every live session every 10 minutes into
// {healthy, partial, closed} and routes `partial` through C2 as a
// simulated permanent disconnect (spec.md §4.3).
func (h *HealthMonitor) sweepLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(healthSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.runSweep(ctx)
		}
	}
}

func (h *HealthMonitor) runSweep(ctx context.Context) {
	for _, sess := range h.manager.GetAllSessions() {
		sock, ok := sess.Socket.(*wasocket.Socket)
		if !ok || sock == nil {
			continue
		}
		if !sock.IsConnected() {
			// closed: let the client library's own reconnect event surface.
			continue
		}
		if sock.OwnJID() == "" {
			// partial: wire is alive but pairing never produced an
			// identity. Route through the same unified close path as a
			// real permanent disconnect would take.
			h.reconnector.HandleConnectionUpdate(ctx, sess.SessionID, &wasocket.ConnectionUpdate{
				Connection: "close",
				StatusCode: simulatedPermanentCode,
				Reason:     "health monitor: partial session, no identity after pairing",
			})
			continue
		}
		// healthy: nothing to do.
	}
}

// probeLoop runs the 60s inactivity check and fires a self-ping once a
// session has been silent for 30 minutes.
func (h *HealthMonitor) probeLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.runProbeTick(ctx)
		}
	}
}

func (h *HealthMonitor) runProbeTick(ctx context.Context) {
	for _, sess := range h.manager.GetAllSessions() {
		sock, ok := sess.Socket.(*wasocket.Socket)
		if !ok || sock == nil {
			continue
		}
		p := h.probeFor(sess.SessionID)

		p.mu.Lock()
		alreadyPinging := p.pinging || p.stopped
		p.mu.Unlock()
		if alreadyPinging {
			continue
		}

		if time.Since(sess.LastActivity) <= inactivityThreshold {
			continue
		}

		ownJID := sock.OwnJID()
		if ownJID == "" {
			continue
		}

		p.mu.Lock()
		p.pinging = true
		p.pingSentAt = time.Now()
		p.mu.Unlock()

		go h.selfPing(ctx, sess.SessionID, sock, ownJID, p)
	}
}

// selfPing sends a warning plus a synthetic ping command to the
// session's own JID, then waits pingTimeout to see whether any inbound
// activity reactivated the session (spec.md §4.3).
func (h *HealthMonitor) selfPing(ctx context.Context, sessionID string, sock *wasocket.Socket, ownJID string, p *sessionProbe) {
	if _, err := sock.SendMessage(ctx, ownJID, "Health check: this session has been idle for a while, sending a self-ping.", "", ""); err != nil {
		h.log.WithError(err).WithField("session_id", sessionID).Warn("[HEALTH] self-ping warning send failed")
	}
	if _, err := sock.SendMessage(ctx, ownJID, config.CommandPrefix+"ping", "", ""); err != nil {
		h.log.WithError(err).WithField("session_id", sessionID).Warn("[HEALTH] self-ping command send failed")
	}

	sentAt := p.pingSentAt
	time.Sleep(selfPingTimeout)

	sess, ok := h.state.GetSession(sessionID)
	reactivated := ok && sess.LastActivity.After(sentAt)

	p.mu.Lock()
	p.pinging = false
	if reactivated {
		p.failedPings = 0
	} else {
		p.failedPings++
	}
	failed := p.failedPings
	if failed >= maxFailedSelfPings {
		p.stopped = true
	}
	p.mu.Unlock()

	if failed >= maxFailedSelfPings {
		h.log.WithField("session_id", sessionID).Warn("[HEALTH] self-ping failed repeatedly, stopping local monitoring")
	}
}

// ReinitializeSession implements _reinitializeSession: a cooldown- and
// lock-gated reconnect used by callers (e.g. an admin API) that detect
// a session needs a kick without waiting for the next sweep.
func (h *HealthMonitor) ReinitializeSession(ctx context.Context, sessionID string) {
	p := h.probeFor(sessionID)
	p.mu.Lock()
	if time.Since(p.lastReinitAttempt) < reinitCooldown {
		p.mu.Unlock()
		return
	}
	p.lastReinitAttempt = time.Now()
	p.mu.Unlock()

	if !h.state.MarkProcessing(sessionID) {
		return // already reinitializing
	}
	defer func() {
		go func() {
			time.Sleep(reinitTombstoneTTL)
			h.state.ClearProcessing(sessionID)
		}()
	}()

	if !h.reconnector.CanReinitialize(sessionID) {
		return
	}

	sess, ok := h.state.GetSession(sessionID)
	if !ok {
		return
	}
	if sock, ok := sess.Socket.(*wasocket.Socket); ok && sock != nil {
		sock.DisconnectWireOnly()
	}
	time.Sleep(2 * time.Second)

	if _, err := h.manager.Create(ctx, sess.UserID, sess.PhoneNumber, sess.Callbacks, true, sess.Source, false); err != nil {
		h.log.WithError(err).WithField("session_id", sessionID).Warn("[HEALTH] reinitialize failed")
	}
}
