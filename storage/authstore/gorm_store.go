package authstore

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/wafleet/sessionfleet/pkg/crypto"
	"gorm.io/gorm"
)

// blobModel is one (sessionId, filename) row. Payload is stored
// base64-encoded so it composes with crypto.Encrypt/Decrypt, which
// operate on strings, and so the column stays portable across the
// sqlite/postgres dialectors.
type blobModel struct {
	SessionID string    `gorm:"primaryKey;column:session_id"`
	Filename  string    `gorm:"primaryKey;column:filename"`
	Payload   string    `gorm:"column:payload;type:text"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (blobModel) TableName() string { return "fleet_auth_blobs" }

// GormStore is the default auth-blob adapter: a relational table keyed
// by (sessionId, filename), with payloads AES-GCM-encrypted at rest when
// a key has been configured via pkg/crypto.SetEncryptionKey.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Init(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&blobModel{})
}

func (s *GormStore) Get(ctx context.Context, sessionID, filename string) ([]byte, error) {
	var m blobModel
	err := s.db.WithContext(ctx).First(&m, "session_id = ? AND filename = ?", sessionID, filename).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	decoded, err := crypto.Decrypt(m.Payload)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(decoded)
}

func (s *GormStore) Put(ctx context.Context, sessionID, filename string, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	payload, err := crypto.Encrypt(encoded)
	if err != nil {
		return err
	}
	m := blobModel{
		SessionID: sessionID,
		Filename:  filename,
		Payload:   payload,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Save(&m).Error
}

func (s *GormStore) Delete(ctx context.Context, sessionID, filename string) error {
	return s.db.WithContext(ctx).
		Delete(&blobModel{}, "session_id = ? AND filename = ?", sessionID, filename).Error
}

func (s *GormStore) DeleteBySession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Delete(&blobModel{}, "session_id = ?", sessionID).Error
}

func (s *GormStore) DeleteBySessionExcept(ctx context.Context, sessionID, keepFilename string) error {
	return s.db.WithContext(ctx).
		Where("session_id = ? AND filename <> ?", sessionID, keepFilename).
		Delete(&blobModel{}).Error
}

func (s *GormStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&blobModel{}).
		Distinct("session_id").Pluck("session_id", &ids).Error
	return ids, err
}
