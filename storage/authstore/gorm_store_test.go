package authstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wafleet/sessionfleet/pkg/crypto"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestGormStore(t *testing.T) *GormStore {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	s := NewGormStore(db)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func TestGormStore_PutGetRoundTrip(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "session_1", RootCredentialFilename, []byte(`{"registered":true}`)))

	got, err := s.Get(ctx, "session_1", RootCredentialFilename)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"registered":true}`), got)
}

func TestGormStore_Get_MissingReturnsNilNotError(t *testing.T) {
	s := newTestGormStore(t)
	got, err := s.Get(context.Background(), "session_1", "missing.json")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGormStore_DeleteBySessionExcept_KeepsRootCredential(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "session_1", RootCredentialFilename, []byte("creds")))
	require.NoError(t, s.Put(ctx, "session_1", "sender-key-1.json", []byte("key1")))
	require.NoError(t, s.Put(ctx, "session_1", "sender-key-2.json", []byte("key2")))

	require.NoError(t, s.DeleteBySessionExcept(ctx, "session_1", RootCredentialFilename))

	creds, err := s.Get(ctx, "session_1", RootCredentialFilename)
	require.NoError(t, err)
	assert.Equal(t, []byte("creds"), creds)

	key1, err := s.Get(ctx, "session_1", "sender-key-1.json")
	require.NoError(t, err)
	assert.Nil(t, key1)
}

func TestGormStore_DeleteBySession_RemovesAll(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "session_1", RootCredentialFilename, []byte("creds")))
	require.NoError(t, s.Put(ctx, "session_1", "key.json", []byte("k")))
	require.NoError(t, s.DeleteBySession(ctx, "session_1"))

	ids, err := s.ListSessionIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "session_1")
}

func TestGormStore_ListSessionIDs_Distinct(t *testing.T) {
	s := newTestGormStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "session_1", RootCredentialFilename, []byte("a")))
	require.NoError(t, s.Put(ctx, "session_1", "k1.json", []byte("b")))
	require.NoError(t, s.Put(ctx, "session_2", RootCredentialFilename, []byte("c")))

	ids, err := s.ListSessionIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session_1", "session_2"}, ids)
}

func TestGormStore_EncryptsPayloadAtRestWhenKeyConfigured(t *testing.T) {
	require.NoError(t, crypto.SetEncryptionKey("test-key-for-authstore-encryption"))
	defer func() { _ = crypto.SetEncryptionKey("") }()

	s := newTestGormStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "session_enc", RootCredentialFilename, []byte("top-secret")))

	var raw blobModel
	require.NoError(t, s.db.First(&raw, "session_id = ? AND filename = ?", "session_enc", RootCredentialFilename).Error)
	assert.NotContains(t, raw.Payload, "top-secret")

	got, err := s.Get(ctx, "session_enc", RootCredentialFilename)
	require.NoError(t, err)
	assert.Equal(t, []byte("top-secret"), got)
}
