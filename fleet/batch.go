package fleet

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wafleet/sessionfleet/infrastructure/wasocket"
)

const (
	followBatchSize       = 10
	followInterBatchDelay = 7 * time.Second
	followInterItemDelay  = 3 * time.Second
	followSubStepDelay    = 1 * time.Second

	broadcastInterval          = 5 * time.Minute
	broadcastBatchSize         = 10
	broadcastInterBatchDelay   = 5 * time.Second
	broadcastInterMessageDelay = 2 * time.Second
	broadcastPinDelay          = 1 * time.Second

	announcementFile = "announcement.txt"
)

// BatchOperator is C6: the channel auto-follow queue and the DM
// broadcast scheduler, both riding on session lifecycle (spec.md §4.6).
type BatchOperator struct {
	state         *FleetState
	newsletterJID string
	storageDir    string
	pinAfterSend  bool

	followQueue chan string
	enqueued    sync.Map // sessionID -> struct{}, dedupes pending enqueues

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	log *logrus.Entry
}

func NewBatchOperator(state *FleetState, newsletterJID, storageDir string) *BatchOperator {
	return &BatchOperator{
		state:         state,
		newsletterJID: newsletterJID,
		storageDir:    storageDir,
		pinAfterSend:  true,
		followQueue:   make(chan string, 4096),
		stopCh:        make(chan struct{}),
		log:           logrus.WithField("component", "fleet.batch"),
	}
}

// Start launches the follow-queue worker and the broadcast scheduler.
func (b *BatchOperator) Start(ctx context.Context) {
	b.wg.Add(2)
	go b.followLoop(ctx)
	go b.broadcastLoop(ctx)
}

func (b *BatchOperator) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

// EnqueueFollow is called on connection:open (spec.md §4.6: "after each
// connection:open, enqueue (sock, sessionId) if not already followed").
// A newsletter target is required; an empty WhatsappChannelJID disables
// the feature entirely.
func (b *BatchOperator) EnqueueFollow(sessionID string) {
	if b.newsletterJID == "" {
		return
	}
	if _, already := b.enqueued.LoadOrStore(sessionID, struct{}{}); already {
		return
	}
	select {
	case b.followQueue <- sessionID:
	case <-b.stopCh:
	default:
		b.enqueued.Delete(sessionID)
		b.log.WithField("session_id", sessionID).Warn("[BATCH] follow queue full, dropping enqueue")
	}
}

func (b *BatchOperator) followLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		batch := b.drainFollowBatch()
		if len(batch) == 0 {
			select {
			case <-b.stopCh:
				return
			case <-ctx.Done():
				return
			case sessionID := <-b.followQueue:
				batch = append(batch, sessionID)
			}
		}
		for i, sessionID := range batch {
			if i > 0 {
				if !b.sleepOrStop(ctx, followInterItemDelay) {
					return
				}
			}
			b.followOne(ctx, sessionID)
		}
		if !b.sleepOrStop(ctx, followInterBatchDelay) {
			return
		}
	}
}

func (b *BatchOperator) drainFollowBatch() []string {
	batch := make([]string, 0, followBatchSize)
	for len(batch) < followBatchSize {
		select {
		case sessionID := <-b.followQueue:
			batch = append(batch, sessionID)
		default:
			return batch
		}
	}
	return batch
}

func (b *BatchOperator) followOne(ctx context.Context, sessionID string) {
	defer b.enqueued.Delete(sessionID)

	sess, ok := b.state.GetSession(sessionID)
	if !ok {
		return
	}
	sock, ok := sess.Socket.(*wasocket.Socket)
	if !ok || sock == nil {
		return
	}

	log := b.log.WithField("session_id", sessionID).WithField("newsletter", b.newsletterJID)

	meta, err := sock.NewsletterMetadata(ctx, b.newsletterJID)
	if err == nil && meta != nil && meta.ViewerMeta != nil {
		return // already subscribed
	}

	if err := sock.NewsletterFollow(ctx, b.newsletterJID); err != nil {
		log.WithError(err).Warn("[BATCH] newsletter follow failed")
		return
	}
	if !b.sleepOrStop(ctx, followSubStepDelay) {
		return
	}
	if err := sock.NewsletterSubscribeUpdates(ctx, b.newsletterJID); err != nil {
		log.WithError(err).Warn("[BATCH] newsletter subscribe-updates failed")
		return
	}
	if !b.sleepOrStop(ctx, followSubStepDelay) {
		return
	}
	if err := sock.NewsletterUnmute(ctx, b.newsletterJID); err != nil {
		log.WithError(err).Warn("[BATCH] newsletter unmute failed")
	}
}

func (b *BatchOperator) broadcastLoop(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.runBroadcastSweep(ctx)
		}
	}
}

// runBroadcastSweep implements the 5-minute announcement pass (spec.md
// §4.6): read announcement.txt, send to every connected session's own
// JID in paced batches, truncate on completion.
func (b *BatchOperator) runBroadcastSweep(ctx context.Context) {
	path := filepath.Join(b.storageDir, announcementFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			b.log.WithError(err).Warn("[BATCH] failed to read announcement file")
		}
		return
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return
	}

	targets := b.connectedSockets()
	if len(targets) == 0 {
		return
	}

	var sent, failed int
	for i := 0; i < len(targets); i += broadcastBatchSize {
		end := i + broadcastBatchSize
		if end > len(targets) {
			end = len(targets)
		}
		for j, t := range targets[i:end] {
			if j > 0 || i > 0 {
				if !b.sleepOrStop(ctx, broadcastInterMessageDelay) {
					return
				}
			}
			if b.sendBroadcastOne(ctx, t, text) {
				sent++
			} else {
				failed++
			}
		}
		if end < len(targets) {
			if !b.sleepOrStop(ctx, broadcastInterBatchDelay) {
				return
			}
		}
	}

	b.log.WithField("sent", sent).WithField("failed", failed).Info("[BATCH] broadcast sweep complete")

	if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
		b.log.WithError(err).Warn("[BATCH] failed to truncate announcement file")
	}
}

type broadcastTarget struct {
	sessionID string
	ownJID    string
	sock      *wasocket.Socket
}

func (b *BatchOperator) connectedSockets() []broadcastTarget {
	var out []broadcastTarget
	for _, sess := range b.state.AllSessions() {
		if !sess.IsConnected {
			continue
		}
		sock, ok := sess.Socket.(*wasocket.Socket)
		if !ok || sock == nil {
			continue
		}
		ownJID := sock.OwnJID()
		if ownJID == "" {
			continue
		}
		out = append(out, broadcastTarget{sessionID: sess.SessionID, ownJID: ownJID, sock: sock})
	}
	return out
}

func (b *BatchOperator) sendBroadcastOne(ctx context.Context, t broadcastTarget, text string) bool {
	if _, err := t.sock.SendMessage(ctx, t.ownJID, text, "", ""); err != nil {
		b.log.WithError(err).WithField("session_id", t.sessionID).Warn("[BATCH] broadcast send failed")
		return false
	}
	if b.pinAfterSend {
		go func() {
			time.Sleep(broadcastPinDelay)
			if err := t.sock.ChatModify(ctx, t.ownJID, true); err != nil {
				b.log.WithError(err).WithField("session_id", t.sessionID).Debug("[BATCH] broadcast pin failed")
			}
		}()
	}
	return true
}

func (b *BatchOperator) sleepOrStop(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-b.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}
