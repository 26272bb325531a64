package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wafleet/sessionfleet/domain/dedup"
	"github.com/wafleet/sessionfleet/domain/session"
	"github.com/wafleet/sessionfleet/infrastructure/wasocket"
	"github.com/wafleet/sessionfleet/pkg/msgworker"
	"github.com/wafleet/sessionfleet/pkg/plugin"
	"github.com/wafleet/sessionfleet/storage/prefixcache"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *FleetState) {
	t.Helper()
	r, state, meta, _, sink := newTestReconnector(t)

	dedupMap := dedup.New(time.Minute)
	t.Cleanup(dedupMap.Stop)

	prefixes := prefixcache.New(func(ctx context.Context) (map[string]string, error) {
		return map[string]string{"1": "!"}, nil
	}, nil, time.Hour)
	require.NoError(t, prefixes.Start(context.Background()))
	t.Cleanup(prefixes.Stop)

	pool := msgworker.NewMessageWorkerPool(2, 10)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	registry := plugin.New()

	return NewDispatcher(state, r.manager, meta, dedupMap, prefixes, registry, pool, sink), state
}

func TestHandle_PresenceUpdateRecordsActivity(t *testing.T) {
	d, state := newTestDispatcher(t)
	state.PutSession(&session.Session{SessionID: "session_1", UserID: "1", Source: session.SourceTelegram})

	d.Handle(context.Background(), "session_1", wasocket.Event{Kind: wasocket.KindPresenceUpdate})

	sess, ok := state.GetSession("session_1")
	require.True(t, ok)
	assert.False(t, sess.LastActivity.IsZero())
}

func TestHandle_UnknownKindIsNoop(t *testing.T) {
	d, state := newTestDispatcher(t)
	state.PutSession(&session.Session{SessionID: "session_1", UserID: "1", Source: session.SourceTelegram})

	assert.NotPanics(t, func() {
		d.Handle(context.Background(), "session_1", wasocket.Event{Kind: wasocket.KindUnknown})
	})

	sess, _ := state.GetSession("session_1")
	assert.True(t, sess.LastActivity.IsZero(), "an unknown-kind event must not be treated as activity")
}

func TestHandle_GroupEventRecordsActivity(t *testing.T) {
	d, state := newTestDispatcher(t)
	state.PutSession(&session.Session{SessionID: "session_1", UserID: "1", Source: session.SourceTelegram})

	d.Handle(context.Background(), "session_1", wasocket.Event{Kind: wasocket.KindGroupParticipantsUpdate})

	sess, _ := state.GetSession("session_1")
	assert.False(t, sess.LastActivity.IsZero())
}

func TestHandle_MessagesUpsertMissingSessionIsNoop(t *testing.T) {
	d, _ := newTestDispatcher(t)
	assert.NotPanics(t, func() {
		d.Handle(context.Background(), "does-not-exist", wasocket.Event{Kind: wasocket.KindMessagesUpsert, Raw: nil})
	})
}
