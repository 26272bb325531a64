package authstore

import (
	"context"
	"fmt"

	"github.com/wafleet/sessionfleet/config"
	"gorm.io/gorm"
)

// New selects the concrete Store implementation from config.StorageMode:
// "file" (default) backs onto the relational auth-blob table when a
// database handle is available, or a directory tree
// (config.FleetStorageDir) when it is not; "mongodb" returns the stub.
func New(ctx context.Context, db *gorm.DB) (Store, error) {
	switch config.StorageMode {
	case "", "file":
		if db != nil {
			gs := NewGormStore(db)
			if err := gs.Init(ctx); err != nil {
				return nil, fmt.Errorf("authstore: migrate gorm table: %w", err)
			}
			return gs, nil
		}
		return NewFileStore(config.FleetStorageDir), nil
	case "mongodb":
		return NewMongoStore(), nil
	default:
		return nil, fmt.Errorf("authstore: unknown STORAGE_MODE %q", config.StorageMode)
	}
}
