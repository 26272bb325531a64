package wasocket

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Factory builds Sockets backed by a per-session whatsmeow device
// store: one sqlite file per session, "storages/whatsapp-{id}.db".
type Factory struct {
	storageDir string
}

func NewFactory(storageDir string) *Factory {
	if storageDir == "" {
		storageDir = "storages"
	}
	return &Factory{storageDir: storageDir}
}

// NewConnection is the client-library factory the controller's `create`
// operation calls (spec.md §6: newConnection(authStore, clientOptions) -> Socket).
// It takes no auth store: whatsmeow owns its own sqlite device store per
// session, and none of its credential material is copied into
// storage/authstore.
func (f *Factory) NewConnection(ctx context.Context, sessionID string) (*Socket, error) {
	if err := os.MkdirAll(f.storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("wasocket: create storage dir: %w", err)
	}

	dbPath := fmt.Sprintf("file:%s/whatsapp-%s.db?_foreign_keys=on", f.storageDir, sessionID)
	dbLog := waLog.Stdout("DB-"+shortID(sessionID), "INFO", true)

	container, err := sqlstore.New(ctx, "sqlite3", dbPath, dbLog)
	if err != nil {
		return nil, fmt.Errorf("wasocket: init device store for %s: %w", sessionID, err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("wasocket: get device for %s: %w", sessionID, err)
	}
	if device == nil {
		device = container.NewDevice()
	}

	chromePlatform := waCompanionReg.DeviceProps_CHROME
	store.DeviceProps.PlatformType = &chromePlatform
	osName := os.Getenv("APP_OS")
	if osName == "" {
		osName = "Linux"
	}
	store.DeviceProps.Os = &osName

	clientLog := waLog.Stdout("Client-"+shortID(sessionID), "WARN", true)
	client := whatsmeow.NewClient(device, clientLog)
	client.EnableAutoReconnect = false // C2 owns reconnection scheduling, not the library
	client.AutoTrustIdentity = true

	sock := wrap(sessionID, client)
	logrus.WithField("session_id", sessionID).Debug("[WASOCKET] connection prepared")
	return sock, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
