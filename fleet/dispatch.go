package fleet

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wafleet/sessionfleet/domain/dedup"
	"github.com/wafleet/sessionfleet/domain/message"
	"github.com/wafleet/sessionfleet/domain/session"
	"github.com/wafleet/sessionfleet/infrastructure/chatbot"
	"github.com/wafleet/sessionfleet/infrastructure/wasocket"
	"github.com/wafleet/sessionfleet/pkg/msgworker"
	"github.com/wafleet/sessionfleet/pkg/plugin"
	"github.com/wafleet/sessionfleet/storage/metastore"
	"github.com/wafleet/sessionfleet/storage/prefixcache"
)

// dedupTTL bounds how long a (chat, id) pair stays claimed by whichever
// session processed it first (spec.md §5: "seconds to low minutes").
const dedupTTL = 2 * time.Minute

// placeholderResendDelay is how long the dispatcher waits before asking
// the client library to resend an undecryptable message (spec.md §4.5
// step 2).
const placeholderResendDelay = 2 * time.Second

// Dispatcher is C5: it fans every non-connection, non-creds event out
// to the right processor, running the messages.upsert pipeline off the
// hot path via an injected worker pool. spec.md §4.5.
type Dispatcher struct {
	state   *FleetState
	manager *Manager
	meta    *metastore.Store
	dedup   *dedup.Map
	prefix  *prefixcache.Cache
	plugins *plugin.Registry
	pool    *msgworker.MessageWorkerPool
	notify  chatbot.Sink

	// AntiPlugins run before command dispatch; each returns true if it
	// consumed the message (spec.md §4.5 step 11). Nil/empty by default.
	AntiPlugins []func(ctx context.Context, sock *wasocket.Socket, m *message.Message) bool

	// GameText runs when a message isn't a command (step 14); nil means
	// no game-text handling is wired.
	GameText func(ctx context.Context, sock *wasocket.Socket, m *message.Message) bool

	log *logrus.Entry
}

func NewDispatcher(state *FleetState, manager *Manager, meta *metastore.Store, dedupMap *dedup.Map, prefix *prefixcache.Cache, plugins *plugin.Registry, pool *msgworker.MessageWorkerPool, notify chatbot.Sink) *Dispatcher {
	return &Dispatcher{
		state:   state,
		manager: manager,
		meta:    meta,
		dedup:   dedupMap,
		prefix:  prefix,
		plugins: plugins,
		pool:    pool,
		notify:  notify,
		log:     logrus.WithField("component", "fleet.dispatch"),
	}
}

// Handle is everything the router forwards that isn't connection.update
// or creds.update (spec.md §4.5's event taxonomy).
func (d *Dispatcher) Handle(ctx context.Context, sessionID string, ev wasocket.Event) {
	switch ev.Kind {
	case wasocket.KindMessagesUpsert:
		d.handleMessagesUpsert(ctx, sessionID, ev)
	case wasocket.KindMessagesUpdate, wasocket.KindMessagesDelete, wasocket.KindMessagesReaction:
		d.recordActivity(sessionID)
		d.log.WithField("session_id", sessionID).WithField("kind", ev.Kind).Debug("[DISPATCH] message mutation event handed off")
	case wasocket.KindPresenceUpdate:
		d.recordActivity(sessionID)
	case wasocket.KindGroupsUpsert, wasocket.KindGroupsUpdate, wasocket.KindGroupParticipantsUpdate,
		wasocket.KindContacts, wasocket.KindChats, wasocket.KindCall,
		wasocket.KindBlocklistSet, wasocket.KindBlocklistUpdate:
		d.recordActivity(sessionID)
		d.log.WithField("session_id", sessionID).WithField("kind", ev.Kind).Debug("[DISPATCH] event handed off")
	case wasocket.KindUnknown:
		// status broadcasts and untranslatable events land here; nothing to do.
	}
}

func (d *Dispatcher) recordActivity(sessionID string) {
	d.state.MutateSession(sessionID, func(s *session.Session) {
		s.RecordActivity()
	})
}
