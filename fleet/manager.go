package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wafleet/sessionfleet/domain/session"
	pkgerror "github.com/wafleet/sessionfleet/pkg/error"
	"github.com/wafleet/sessionfleet/pkg/fleetmonitor"
	"github.com/wafleet/sessionfleet/storage/authstore"
	"github.com/wafleet/sessionfleet/storage/metastore"

	"github.com/wafleet/sessionfleet/infrastructure/wasocket"
)

// InitResult summarizes a boot-time initializeExistingSessions pass
// (spec.md §4.1).
type InitResult struct {
	Initialized int
	Total       int
	Failed      int
}

// Manager is C1: the authoritative owner of the live session registry.
// It composes the client-library factory and the two storage adapters,
// and exposes the full create/destroy contract spec.md §4.1 names.
//
// EventHandler is wired by the top-level bootstrap after construction
// (fleet.New) to the event Router's Handle method — Manager
// itself does not know about event routing semantics, only that every
// socket it creates needs exactly one handler installed.
type Manager struct {
	state      *FleetState
	meta       *metastore.Store
	auth       authstore.Store
	sockets    *wasocket.Factory
	maxSessions int

	EventHandler func(sessionID string, ev wasocket.Event)

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	log *logrus.Entry
}

func NewManager(state *FleetState, meta *metastore.Store, auth authstore.Store, sockets *wasocket.Factory, maxSessions int) *Manager {
	if maxSessions <= 0 {
		maxSessions = 200
	}
	return &Manager{
		state:       state,
		meta:        meta,
		auth:        auth,
		sockets:     sockets,
		maxSessions: maxSessions,
		stopCh:      make(chan struct{}),
		log:         logrus.WithField("component", "fleet.manager"),
	}
}

// Initialize prepares storage; the document store may already be a
// no-op FileStore in file mode, so this only needs to run the
// relational migration (the auth-blob migration, if any, already ran
// in storage/authstore.New).
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.meta.Init(ctx); err != nil {
		return pkgerror.StorageUnavailableError(fmt.Sprintf("metastore init: %v", err))
	}
	return nil
}

// InitializeExistingSessions reads every persisted row and reconnects
// up to maxSessions of them with bounded parallelism (3 concurrent,
// 800ms intra-batch stagger, 1500ms inter-batch delay — spec.md §4.1).
func (m *Manager) InitializeExistingSessions(ctx context.Context) (InitResult, error) {
	rows, err := m.meta.GetAllSessions(ctx)
	if err != nil {
		return InitResult{}, fmt.Errorf("fleet: list sessions: %w", err)
	}
	if len(rows) > m.maxSessions {
		rows = rows[:m.maxSessions]
	}

	result := InitResult{Total: len(rows)}
	const batchSize = 3
	const stagger = 800 * time.Millisecond
	const interBatch = 1500 * time.Millisecond

	var failed []session.Session
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		var batchWg sync.WaitGroup
		var mu sync.Mutex
		for j, row := range rows[i:end] {
			batchWg.Add(1)
			row := row
			delay := time.Duration(j) * stagger
			go func() {
				defer batchWg.Done()
				if delay > 0 {
					time.Sleep(delay)
				}
				if _, err := m.initializeOne(ctx, row); err != nil {
					mu.Lock()
					failed = append(failed, row)
					mu.Unlock()
				}
			}()
		}
		batchWg.Wait()
		if end < len(rows) {
			time.Sleep(interBatch)
		}
	}

	// One-at-a-time retry of failures.
	for _, row := range failed {
		if _, err := m.initializeOne(ctx, row); err != nil {
			result.Failed++
			m.log.WithError(err).WithField("session_id", row.SessionID).Warn("[FLEET] failed to initialize existing session after retry")
			continue
		}
	}
	result.Initialized = result.Total - result.Failed
	return result, nil
}

func (m *Manager) initializeOne(ctx context.Context, row session.Session) (*wasocket.Socket, error) {
	return m.Create(ctx, row.UserID, row.PhoneNumber, session.Callbacks{}, true, row.Source, false)
}

// Create is the canonical session-creation entry point (spec.md §4.1).
func (m *Manager) Create(ctx context.Context, userID, phoneNumber string, callbacks session.Callbacks, isReconnect bool, source session.Source, allowPairing bool) (*wasocket.Socket, error) {
	sessionID := session.CanonicalSessionID(userID)

	if m.state.SessionCount() >= m.maxSessions {
		if _, exists := m.state.GetSession(sessionID); !exists {
			return nil, pkgerror.MaxSessionsReachedError(fmt.Sprintf("fleet: max sessions (%d) reached", m.maxSessions))
		}
	}

	if m.state.IsInitializing(sessionID) {
		if sess, ok := m.state.GetSession(sessionID); ok {
			if sock, ok := sess.Socket.(*wasocket.Socket); ok {
				return sock, nil
			}
		}
		return nil, nil
	}

	if sess, ok := m.state.GetSession(sessionID); ok {
		if sock, ok := sess.Socket.(*wasocket.Socket); ok {
			if sock.IsConnected() {
				return sock, nil
			}
			m.cleanupSocketInMemoryOnly(sessionID)
		}
	}

	// On the reconnect path, disk auth must never be cleared (spec.md
	// §4.1): full cleanup is reserved for a genuine fresh-pairing call.
	if allowPairing && !isReconnect {
		if err := m.completeCleanupInternal(ctx, sessionID, source); err != nil {
			m.log.WithError(err).WithField("session_id", sessionID).Warn("[FLEET] pre-pairing cleanup reported an error, continuing")
		}
	}

	m.state.MarkInitializing(sessionID)
	defer m.state.ClearInitializing(sessionID)

	sock, err := m.sockets.NewConnection(ctx, sessionID)
	if err != nil {
		return nil, pkgerror.FactoryFailedError(fmt.Sprintf("fleet: socket factory failed for %s: %v", sessionID, err))
	}

	if !allowPairing && !sock.IsLoggedIn() {
		sock.Close()
		return nil, pkgerror.FactoryFailedError(fmt.Sprintf("fleet: %s has no stored credentials and pairing is not allowed", sessionID))
	}

	if m.EventHandler != nil {
		sock.AddEventHandler(func(ev wasocket.Event) {
			m.EventHandler(sessionID, ev)
		})
	}

	if err := sock.Connect(); err != nil {
		sock.Close()
		return nil, pkgerror.FactoryFailedError(fmt.Sprintf("fleet: connect failed for %s: %v", sessionID, err))
	}

	now := time.Now()
	sess := &session.Session{
		SessionID:         sessionID,
		UserID:            userID,
		PhoneNumber:       phoneNumber,
		Source:            source,
		Status:            session.StatusConnected,
		IsConnected:       true,
		ReconnectAttempts: 0,
		Callbacks:         callbacks,
		Detected:          source == session.SourceTelegram,
		Socket:            sock,
		LastActivity:      now,
		CreatedAt:         now,
	}
	m.state.PutSession(sess)

	if err := m.meta.SaveSession(ctx, sess); err != nil {
		m.log.WithError(err).WithField("session_id", sessionID).Error("[FLEET] persist failed after socket creation")
		m.cleanupSocketInMemoryOnly(sessionID)
		return nil, pkgerror.PersistFailedError(fmt.Sprintf("fleet: persist session %s: %v", sessionID, err))
	}

	fleetmonitor.Record(fleetmonitor.Event{
		SessionID: sessionID,
		Source:    string(source),
		Stage:     "create",
		Status:    "ok",
	})
	return sock, nil
}

// Disconnect handles a voluntary disconnect (spec.md §4.1).
func (m *Manager) Disconnect(ctx context.Context, sessionID string, forceCleanup bool) error {
	m.state.ReleaseReconnectionLock(sessionID)
	m.state.MarkVoluntarilyDisconnected(sessionID)

	if forceCleanup {
		return m.CompleteCleanup(ctx, sessionID)
	}

	sess, ok := m.state.GetSession(sessionID)
	if !ok {
		return nil
	}
	m.cleanupSocketInMemoryOnly(sessionID)

	fleetmonitor.Record(fleetmonitor.Event{SessionID: sessionID, Source: string(sess.Source), Stage: "disconnect", Status: "ok"})

	if sess.Source == session.SourceWeb {
		return m.meta.DeleteSessionKeepUser(ctx, sessionID)
	}
	return m.meta.DeleteSession(ctx, sessionID)
}

// CompleteCleanup is the only path permitted to erase on-disk auth
// (spec.md §4.1). Every step is best-effort; failures are logged, not
// surfaced, matching the storage-adapter consistency note in §4.7.
func (m *Manager) CompleteCleanup(ctx context.Context, sessionID string) error {
	sess, _ := m.state.GetSession(sessionID)
	source := session.SourceTelegram
	if sess != nil {
		source = sess.Source
	}
	err := m.completeCleanupInternal(ctx, sessionID, source)
	fleetmonitor.Record(fleetmonitor.Event{SessionID: sessionID, Source: string(source), Stage: "cleanup", Status: status(err)})
	return err
}

func (m *Manager) completeCleanupInternal(ctx context.Context, sessionID string, source session.Source) error {
	m.cleanupSocketInMemoryOnly(sessionID)

	if m.auth != nil {
		if err := m.auth.DeleteBySession(ctx, sessionID); err != nil {
			m.log.WithError(err).WithField("session_id", sessionID).Warn("[FLEET] failed to erase auth blobs during cleanup")
		}
	}

	if source == session.SourceWeb {
		if err := m.meta.DeleteSessionKeepUser(ctx, sessionID); err != nil {
			m.log.WithError(err).WithField("session_id", sessionID).Warn("[FLEET] failed to retain web session row during cleanup")
		}
		return nil
	}
	if err := m.meta.CompletelyDeleteSession(ctx, sessionID); err != nil {
		m.log.WithError(err).WithField("session_id", sessionID).Warn("[FLEET] failed to delete session row during cleanup")
	}
	return nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// cleanupSocketInMemoryOnly closes the wire and drops the registry
// entry without touching persisted auth (spec.md §4.1).
func (m *Manager) cleanupSocketInMemoryOnly(sessionID string) {
	sess, ok := m.state.GetSession(sessionID)
	if ok && sess.Socket != nil {
		sess.Socket.Close()
	}
	m.state.DeleteSession(sessionID)
}

func (m *Manager) GetSession(sessionID string) (*session.Session, bool) {
	return m.state.GetSession(sessionID)
}

func (m *Manager) GetAllSessions() []*session.Session {
	return m.state.AllSessions()
}

func (m *Manager) GetSessionInfo(sessionID string) (*session.Session, bool) {
	return m.state.GetSession(sessionID)
}

// IsReallyConnected checks the live wire state, not the persisted flag.
func (m *Manager) IsReallyConnected(sessionID string) bool {
	sess, ok := m.state.GetSession(sessionID)
	if !ok || sess.Socket == nil {
		return false
	}
	return sess.Socket.IsConnected()
}

func (m *Manager) IsSessionConnected(sessionID string) bool {
	sess, ok := m.state.GetSession(sessionID)
	return ok && sess.IsConnected
}

// Start launches the background maintenance loops (spec.md §4.1): a
// 60s stale-flag sweep and a 300s reconnect retry.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(2)
	go m.staleFlagSweepLoop(ctx)
	go m.retrySweepLoop(ctx)
}

func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Manager) staleFlagSweepLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.state.SweepStaleFlags()
		}
	}
}

// retrySweepLoop re-attempts sessions whose status is not disconnected,
// not voluntarily disconnected, not in the live registry, and whose
// reconnectAttempts is below 10 — processing at most 3 per tick with
// 2s spacing (spec.md §4.1).
func (m *Manager) retrySweepLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(300 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runRetrySweep(ctx)
		}
	}
}

func (m *Manager) runRetrySweep(ctx context.Context) {
	rows, err := m.meta.GetAllSessions(ctx)
	if err != nil {
		m.log.WithError(err).Warn("[FLEET] retry sweep: failed to list sessions")
		return
	}
	processed := 0
	for _, row := range rows {
		if processed >= 3 {
			return
		}
		if row.Status == session.StatusDisconnected {
			continue
		}
		if m.state.IsVoluntarilyDisconnected(row.SessionID) {
			continue
		}
		if _, live := m.state.GetSession(row.SessionID); live {
			continue
		}
		if row.ReconnectAttempts >= 10 {
			continue
		}
		processed++
		if _, err := m.Create(ctx, row.UserID, row.PhoneNumber, session.Callbacks{}, true, row.Source, false); err != nil {
			m.log.WithError(err).WithField("session_id", row.SessionID).Warn("[FLEET] retry sweep: recreate failed")
		}
		time.Sleep(2 * time.Second)
	}
}
