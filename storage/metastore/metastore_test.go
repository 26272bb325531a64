package metastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wafleet/sessionfleet/domain/session"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	s := New(db)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestSaveAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &session.Session{
		SessionID: "session_123",
		UserID:    "123",
		Source:    session.SourceTelegram,
		Status:    session.StatusConnected,
		Detected:  true,
	}
	require.NoError(t, s.SaveSession(ctx, sess))

	got, err := s.GetSession(ctx, "session_123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "123", got.UserID)
	assert.Equal(t, session.StatusConnected, got.Status)
	assert.True(t, got.Detected)
}

func TestGetSession_NotFoundReturnsNilNotError(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSession(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetUndetectedWebSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &session.Session{
		SessionID: "session_web1", UserID: "1000000001", Source: session.SourceWeb, Detected: false,
	}))
	require.NoError(t, s.SaveSession(ctx, &session.Session{
		SessionID: "session_web2", UserID: "1000000002", Source: session.SourceWeb, Detected: true,
	}))
	require.NoError(t, s.SaveSession(ctx, &session.Session{
		SessionID: "session_tg1", UserID: "55", Source: session.SourceTelegram, Detected: false,
	}))

	undetected, err := s.GetUndetectedWebSessions(ctx)
	require.NoError(t, err)
	require.Len(t, undetected, 1)
	assert.Equal(t, "session_web1", undetected[0].SessionID)
}

func TestMarkSessionAsDetected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &session.Session{
		SessionID: "session_web1", UserID: "1000000001", Source: session.SourceWeb, Detected: false,
	}))
	require.NoError(t, s.MarkSessionAsDetected(ctx, "session_web1"))

	got, err := s.GetSession(ctx, "session_web1")
	require.NoError(t, err)
	assert.True(t, got.Detected)
}

func TestDeleteSessionKeepUser_PreservesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &session.Session{
		SessionID: "session_web1", UserID: "1000000001", Source: session.SourceWeb,
		IsConnected: true, Status: session.StatusConnected, ReconnectAttempts: 3,
	}))
	require.NoError(t, s.DeleteSessionKeepUser(ctx, "session_web1"))

	got, err := s.GetSession(ctx, "session_web1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1000000001", got.UserID)
	assert.False(t, got.IsConnected)
	assert.Equal(t, int32(0), got.ReconnectAttempts)
}

func TestCompletelyDeleteSession_RemovesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &session.Session{SessionID: "session_gone", UserID: "1"}))
	require.NoError(t, s.CompletelyDeleteSession(ctx, "session_gone"))

	got, err := s.GetSession(ctx, "session_gone")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateSession_PartialPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &session.Session{
		SessionID: "session_1", UserID: "1", Status: session.StatusConnecting,
	}))
	require.NoError(t, s.UpdateSession(ctx, "session_1", map[string]interface{}{
		"status":       string(session.StatusConnected),
		"is_connected": true,
	}))

	got, err := s.GetSession(ctx, "session_1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusConnected, got.Status)
	assert.True(t, got.IsConnected)
}

func TestSetAndGetAllUserPrefixes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetUserPrefix(ctx, "1", "!"))
	require.NoError(t, s.SetUserPrefix(ctx, "2", "/"))

	all, err := s.GetAllUserPrefixes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "!", "2": "/"}, all)
}

func TestSetUserPrefix_OverwritesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetUserPrefix(ctx, "1", "!"))
	require.NoError(t, s.SetUserPrefix(ctx, "1", "#"))

	all, err := s.GetAllUserPrefixes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"1": "#"}, all)
}

func TestGetAllSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveSession(ctx, &session.Session{
			SessionID: session.CanonicalSessionID(string(rune('a' + i))),
			UserID:    string(rune('a' + i)),
		}))
	}
	all, err := s.GetAllSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
