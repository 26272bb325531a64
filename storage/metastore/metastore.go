// Package metastore is the relational session-metadata store (C7): the
// authoritative on-disk record of every session row, independent of the
// in-memory registry C1 holds while a session is live.
package metastore

import (
	"context"
	"database/sql"
	"time"

	"github.com/wafleet/sessionfleet/domain/session"
	"gorm.io/gorm"
)

// sessionModel is the gorm persistence shape for domain/session.Session,
// dropping the non-serializable Callbacks and Socket fields (spec.md §3:
// "callbacks erased on persistence").
type sessionModel struct {
	SessionID         string         `gorm:"primaryKey;column:session_id"`
	UserID            string         `gorm:"column:user_id;not null;index"`
	PhoneNumber       sql.NullString `gorm:"column:phone_number"`
	Source            string         `gorm:"column:source;not null"`
	Status            string         `gorm:"column:status;not null"`
	IsConnected       bool           `gorm:"column:is_connected;default:false"`
	ReconnectAttempts int32          `gorm:"column:reconnect_attempts;default:0"`
	Detected          bool           `gorm:"column:detected;default:false"`
	Is515Disconnected bool           `gorm:"column:is_515_disconnected;default:false"`
	LastActivity      time.Time      `gorm:"column:last_activity"`
	CreatedAt         time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;not null"`
}

func (sessionModel) TableName() string { return "fleet_sessions" }

// userPrefixModel backs storage/prefixcache's Loader: each user may set a
// custom command prefix, persisted independently of any one session.
type userPrefixModel struct {
	UserID    string    `gorm:"primaryKey;column:user_id"`
	Prefix    string    `gorm:"column:prefix;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (userPrefixModel) TableName() string { return "fleet_user_prefixes" }

// Store is the gorm-backed implementation of the session metadata
// contract spec.md §4.7 names: getSession, saveSession, updateSession,
// deleteSession, deleteSessionKeepUser, completelyDeleteSession,
// getAllSessions, getUndetectedWebSessions, markSessionAsDetected.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Init runs the schema migration; safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&sessionModel{}, &userPrefixModel{})
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	var m sessionModel
	err := s.db.WithContext(ctx).First(&m, "session_id = ?", sessionID).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess := fromModel(m)
	return &sess, nil
}

func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	m := toModel(sess)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(&m).Error
}

// UpdateSession patches a subset of mutable fields without touching
// CreatedAt, matching the gorm .Updates() idiom for partial writes.
func (s *Store) UpdateSession(ctx context.Context, sessionID string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	return s.db.WithContext(ctx).Model(&sessionModel{}).
		Where("session_id = ?", sessionID).
		Updates(fields).Error
}

// DeleteSession removes the row entirely.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Delete(&sessionModel{}, "session_id = ?", sessionID).Error
}

// DeleteSessionKeepUser clears connection state but preserves the row
// (and its userId), used for web-session voluntary disconnects where
// metadata must survive so the user can reconnect later.
func (s *Store) DeleteSessionKeepUser(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Model(&sessionModel{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"is_connected":       false,
			"status":             "disconnected",
			"reconnect_attempts": 0,
			"updated_at":         time.Now(),
		}).Error
}

// CompletelyDeleteSession removes the row; best-effort (errors logged by
// the caller, not surfaced further) per spec §4.7's cross-store
// consistency note.
func (s *Store) CompletelyDeleteSession(ctx context.Context, sessionID string) error {
	return s.DeleteSession(ctx, sessionID)
}

func (s *Store) GetAllSessions(ctx context.Context) ([]session.Session, error) {
	var models []sessionModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]session.Session, len(models))
	for i, m := range models {
		out[i] = fromModel(m)
	}
	return out, nil
}

// GetUndetectedWebSessions backs C4's poll loop: rows with
// source="web", detected=false.
func (s *Store) GetUndetectedWebSessions(ctx context.Context) ([]session.Session, error) {
	var models []sessionModel
	err := s.db.WithContext(ctx).
		Where("source = ? AND detected = ?", string(session.SourceWeb), false).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]session.Session, len(models))
	for i, m := range models {
		out[i] = fromModel(m)
	}
	return out, nil
}

func (s *Store) MarkSessionAsDetected(ctx context.Context, sessionID string) error {
	return s.db.WithContext(ctx).Model(&sessionModel{}).
		Where("session_id = ?", sessionID).
		Update("detected", true).Error
}

// GetAllUserPrefixes backs prefixcache.Cache's periodic full-table reload.
func (s *Store) GetAllUserPrefixes(ctx context.Context) (map[string]string, error) {
	var models []userPrefixModel
	if err := s.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(models))
	for _, m := range models {
		out[m.UserID] = m.Prefix
	}
	return out, nil
}

// SetUserPrefix upserts a user's custom command prefix.
func (s *Store) SetUserPrefix(ctx context.Context, userID, prefix string) error {
	m := userPrefixModel{UserID: userID, Prefix: prefix, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&m).Error
}

func toModel(sess *session.Session) sessionModel {
	return sessionModel{
		SessionID:         sess.SessionID,
		UserID:            sess.UserID,
		PhoneNumber:       sql.NullString{String: sess.PhoneNumber, Valid: sess.PhoneNumber != ""},
		Source:            string(sess.Source),
		Status:            string(sess.Status),
		IsConnected:       sess.IsConnected,
		ReconnectAttempts: sess.ReconnectAttempts,
		Detected:          sess.Detected,
		Is515Disconnected: sess.Is515Disconnected,
		LastActivity:      sess.LastActivity,
		CreatedAt:         sess.CreatedAt,
	}
}

func fromModel(m sessionModel) session.Session {
	return session.Session{
		SessionID:         m.SessionID,
		UserID:            m.UserID,
		PhoneNumber:       m.PhoneNumber.String,
		Source:            session.Source(m.Source),
		Status:            session.Status(m.Status),
		IsConnected:       m.IsConnected,
		ReconnectAttempts: m.ReconnectAttempts,
		Detected:          m.Detected,
		Is515Disconnected: m.Is515Disconnected,
		LastActivity:      m.LastActivity,
		CreatedAt:         m.CreatedAt,
	}
}
