// Package config holds the fleet controller's package-level settings,
// populated from compiled-in defaults and overridden by environment
// variables in init().
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	AppVersion = "v1.0.0"
	AppPort    = "3000"
	AppDebug   = false

	PathStorages = "storages"

	// FleetDBURI is the relational session-metadata store connection
	// string. A bare "file:" DSN selects sqlite; a "postgres://" DSN
	// selects postgres.
	FleetDBURI = "file:storages/fleet.db?_foreign_keys=on"

	// FleetAuthDBURI is the auth-blob document store connection string
	// when StorageMode=="file" with a relational-backed blob table. By
	// default it reuses FleetDBURI.
	FleetAuthDBURI = ""

	// StorageMode selects the auth-blob backend: "file" (default, a
	// relational table or an on-disk tree depending on FleetStorageDir)
	// or "mongodb" (stubbed, see storage/authstore).
	StorageMode = "file"

	// FleetStorageDir is the root directory for on-disk session
	// artifacts (./sessions/session_{id}/creds.json) and the
	// announcement.txt broadcast source.
	FleetStorageDir = "storages"

	// FleetMaxSessions bounds the live registry size (spec boundary:
	// the 201st session with the default must fail).
	FleetMaxSessions = 200

	// Enable515Flow turns on the "complex" 515/516 restart path; off by
	// default, in which case 515/516 always use the simple reconnect.
	Enable515Flow = false

	// WhatsappChannelJID is the newsletter JID new sessions auto-follow.
	WhatsappChannelJID = ""

	// DefaultAdminID is a privileged chat-bot user id, loaded from
	// DEFAULT_ADMIN_ID. No component of this module reads it: it grants
	// no rate-limit exemption and no notification is sent to it.
	DefaultAdminID = ""

	// CommandPrefix composes the health monitor's self-ping probe
	// command. Inbound command parsing does not use it: each user's
	// prefix comes from storage/prefixcache, and an empty one means every
	// non-empty message is treated as a command (pkg/plugin.ParseCommand).
	CommandPrefix = "!"

	// MessageTimestampOffsetSeconds corrects (or doesn't, by default) an
	// observed timezone quirk in inbound message timestamps. See
	// DESIGN.md for the Open Question this resolves.
	MessageTimestampOffsetSeconds = 0

	// Chat-bot notification sink timeout (spec §5: NOTIFICATION_TIMEOUT).
	NotificationTimeout = 8 * time.Second

	// ChatbotWebhookURL is the HTTP endpoint infrastructure/chatbot posts
	// notifyPayload to; empty disables delivery (HTTPSink no-ops).
	ChatbotWebhookURL = ""

	// Ingress worker pool sizing.
	MessageWorkerPoolSize  = 20
	MessageWorkerQueueSize = 1000

	// AppServerID overrides the generated persistent server id used to
	// namespace Valkey keys; empty means auto-derive (see pkg/utils).
	AppServerID = ""

	ValkeyEnabled   = false
	ValkeyAddress   = "127.0.0.1:6379"
	ValkeyPassword  = ""
	ValkeyDB        = 0
	ValkeyKeyPrefix = "fleet"
)

func init() {
	// Best-effort: a missing .env is normal in production, where real
	// env vars are set by the process supervisor instead.
	_ = godotenv.Load()

	if v := os.Getenv("APP_PORT"); v != "" {
		AppPort = v
	}
	if v := os.Getenv("APP_DEBUG"); v != "" {
		AppDebug = parseBool(v, AppDebug)
	}
	if v := os.Getenv("FLEET_DB_URI"); v != "" {
		FleetDBURI = v
	}
	if v := os.Getenv("FLEET_AUTH_DB_URI"); v != "" {
		FleetAuthDBURI = v
	}
	if v := strings.TrimSpace(os.Getenv("STORAGE_MODE")); v != "" {
		StorageMode = v
	}
	if v := os.Getenv("FLEET_STORAGE_DIR"); v != "" {
		FleetStorageDir = v
	}
	if v := os.Getenv("FLEET_MAX_SESSIONS"); v != "" {
		FleetMaxSessions = parseInt(v, FleetMaxSessions)
	}
	if v := os.Getenv("ENABLE_515_FLOW"); v != "" {
		Enable515Flow = parseBool(v, Enable515Flow)
	}
	if v := os.Getenv("WHATSAPP_CHANNEL_JID"); v != "" {
		WhatsappChannelJID = v
	}
	if v := os.Getenv("DEFAULT_ADMIN_ID"); v != "" {
		DefaultAdminID = v
	}
	if v := os.Getenv("COMMAND_PREFIX"); v != "" {
		CommandPrefix = v
	}
	if v := os.Getenv("MESSAGE_TIMESTAMP_OFFSET_SECONDS"); v != "" {
		MessageTimestampOffsetSeconds = parseInt(v, MessageTimestampOffsetSeconds)
	}
	if v := os.Getenv("MESSAGE_WORKERS"); v != "" {
		MessageWorkerPoolSize = parseInt(v, MessageWorkerPoolSize)
	}
	if v := os.Getenv("MESSAGE_QUEUE_SIZE"); v != "" {
		MessageWorkerQueueSize = parseInt(v, MessageWorkerQueueSize)
	}
	if v := os.Getenv("APP_SERVER_ID"); v != "" {
		AppServerID = v
	}
	if v := os.Getenv("VALKEY_ENABLED"); v != "" {
		ValkeyEnabled = parseBool(v, ValkeyEnabled)
	}
	if v := os.Getenv("VALKEY_ADDRESS"); v != "" {
		ValkeyAddress = v
	}
	if v := os.Getenv("VALKEY_PASSWORD"); v != "" {
		ValkeyPassword = v
	}
	if v := os.Getenv("VALKEY_DB"); v != "" {
		ValkeyDB = parseInt(v, ValkeyDB)
	}
	if v := os.Getenv("VALKEY_KEY_PREFIX"); v != "" {
		ValkeyKeyPrefix = v
	}
	if v := os.Getenv("CHATBOT_WEBHOOK_URL"); v != "" {
		ChatbotWebhookURL = v
	}
}

var (
	fleetDB     *gorm.DB
	fleetDBErr  error
	fleetDBOnce sync.Once

	fleetAuthDB     *gorm.DB
	fleetAuthDBErr  error
	fleetAuthDBOnce sync.Once
)

// GetFleetDB lazily opens the relational session-metadata store,
// selecting the sqlite or postgres dialector from FleetDBURI's scheme.
func GetFleetDB() (*gorm.DB, error) {
	fleetDBOnce.Do(func() {
		fleetDB, fleetDBErr = openGormDB(FleetDBURI)
	})
	return fleetDB, fleetDBErr
}

// GetFleetAuthDB lazily opens the auth-blob document store's relational
// backend (STORAGE_MODE=="file" with no on-disk tree); defaults to
// FleetDBURI when FleetAuthDBURI is unset, sharing one connection pool.
func GetFleetAuthDB() (*gorm.DB, error) {
	fleetAuthDBOnce.Do(func() {
		uri := FleetAuthDBURI
		if uri == "" {
			uri = FleetDBURI
		}
		fleetAuthDB, fleetAuthDBErr = openGormDB(uri)
	})
	return fleetAuthDB, fleetAuthDBErr
}

func openGormDB(uri string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if strings.HasPrefix(uri, "postgres://") || strings.HasPrefix(uri, "postgresql://") {
		return gorm.Open(postgres.Open(uri), gormCfg)
	}
	return gorm.Open(sqlite.Open(uri), gormCfg)
}

func parseBool(v string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func parseInt(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}
