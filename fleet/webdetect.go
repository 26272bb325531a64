package fleet

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wafleet/sessionfleet/domain/session"
	"github.com/wafleet/sessionfleet/storage/metastore"
)

const webDetectPollInterval = 10 * time.Second

// WebDetector is C4: it assumes ownership of sessions whose credentials
// were written by an external web frontend but are not yet managed by
// this fleet. spec.md §4.4.
type WebDetector struct {
	state   *FleetState
	manager *Manager
	meta    *metastore.Store

	detectionErrMu   sync.Mutex
	detectionError   map[string]error
	lastDetectionAt  map[string]time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	log *logrus.Entry
}

func NewWebDetector(state *FleetState, manager *Manager, meta *metastore.Store) *WebDetector {
	return &WebDetector{
		state:           state,
		manager:         manager,
		meta:            meta,
		detectionError:  make(map[string]error),
		lastDetectionAt: make(map[string]time.Time),
		stopCh:          make(chan struct{}),
		log:             logrus.WithField("component", "fleet.webdetect"),
	}
}

func (w *WebDetector) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.pollLoop(ctx)
}

func (w *WebDetector) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *WebDetector) pollLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(webDetectPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.runPoll(ctx)
		}
	}
}

func (w *WebDetector) runPoll(ctx context.Context) {
	rows, err := w.meta.GetUndetectedWebSessions(ctx)
	if err != nil {
		w.log.WithError(err).Warn("[WEBDETECT] failed to list undetected web sessions")
		return
	}
	for _, row := range rows {
		w.takeOver(ctx, row, false)
	}
}

// ForceTakeover bypasses the "already detected" guard: it clears any
// in-memory ownership for sessionID and retries detection unconditionally
// (spec.md §4.4: "a forced takeover API").
func (w *WebDetector) ForceTakeover(ctx context.Context, sessionID string) error {
	row, err := w.meta.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if row == nil {
		return nil
	}
	w.state.ClearDetectedWebSession(sessionID)
	return w.takeOver(ctx, *row, true)
}

// takeOver processes a single undetected row, guaranteeing at most one
// in-flight takeover per sessionId via FleetState's processingNow set.
func (w *WebDetector) takeOver(ctx context.Context, row session.Session, forced bool) error {
	sessionID := row.SessionID
	if !w.state.MarkProcessing(sessionID) {
		return nil // already being taken over by a concurrent poll/force call
	}
	defer w.state.ClearProcessing(sessionID)

	if !forced && w.state.IsDetectedWebSession(sessionID) {
		return nil
	}

	if w.manager.IsReallyConnected(sessionID) {
		if err := w.meta.MarkSessionAsDetected(ctx, sessionID); err != nil {
			w.recordFailure(sessionID, err)
			return err
		}
		w.state.MarkDetectedWebSession(sessionID)
		w.clearFailure(sessionID)
		return nil
	}

	callbacks := session.Callbacks{
		OnConnected: func() {
			_ = w.meta.MarkSessionAsDetected(ctx, sessionID)
			w.state.MarkDetectedWebSession(sessionID)
		},
	}
	if _, err := w.manager.Create(ctx, row.UserID, row.PhoneNumber, callbacks, true, session.SourceWeb, false); err != nil {
		w.recordFailure(sessionID, err)
		return err
	}
	w.clearFailure(sessionID)
	return nil
}

func (w *WebDetector) recordFailure(sessionID string, err error) {
	w.detectionErrMu.Lock()
	defer w.detectionErrMu.Unlock()
	w.detectionError[sessionID] = err
	w.lastDetectionAt[sessionID] = time.Now()
	w.log.WithError(err).WithField("session_id", sessionID).Warn("[WEBDETECT] takeover failed, next poll will retry")
}

func (w *WebDetector) clearFailure(sessionID string) {
	w.detectionErrMu.Lock()
	defer w.detectionErrMu.Unlock()
	delete(w.detectionError, sessionID)
	w.lastDetectionAt[sessionID] = time.Now()
}

// LastDetectionStatus reports the most recent detection attempt's error
// (nil if it succeeded or none has run yet) and when it happened.
func (w *WebDetector) LastDetectionStatus(sessionID string) (error, time.Time) {
	w.detectionErrMu.Lock()
	defer w.detectionErrMu.Unlock()
	return w.detectionError[sessionID], w.lastDetectionAt[sessionID]
}
