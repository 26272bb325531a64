package authstore

import (
	"context"

	pkgerror "github.com/wafleet/sessionfleet/pkg/error"
)

// MongoStore is a placeholder for STORAGE_MODE=mongodb. No MongoDB
// driver is wired in: every call fails with StorageUnavailableError
// rather than shipping a fabricated dependency.
type MongoStore struct{}

func NewMongoStore() *MongoStore { return &MongoStore{} }

var errMongoUnavailable = pkgerror.StorageUnavailableError("mongodb auth blob store is not implemented")

func (s *MongoStore) Get(ctx context.Context, sessionID, filename string) ([]byte, error) {
	return nil, errMongoUnavailable
}

func (s *MongoStore) Put(ctx context.Context, sessionID, filename string, data []byte) error {
	return errMongoUnavailable
}

func (s *MongoStore) Delete(ctx context.Context, sessionID, filename string) error {
	return errMongoUnavailable
}

func (s *MongoStore) DeleteBySession(ctx context.Context, sessionID string) error {
	return errMongoUnavailable
}

func (s *MongoStore) DeleteBySessionExcept(ctx context.Context, sessionID, keepFilename string) error {
	return errMongoUnavailable
}

func (s *MongoStore) ListSessionIDs(ctx context.Context) ([]string, error) {
	return nil, errMongoUnavailable
}
