// Package authstore is the auth-blob document store (C7): per-session
// (filename -> bytes) documents, with `creds.json` as the distinguished
// root-credential name preserved across non-terminal disconnects. The
// client library (go.mau.fi/whatsmeow) keeps its own authoritative key
// material in a sqlite device store and exposes no API to export it as
// a standalone document, so this store does not mirror that material;
// it holds whatever auxiliary per-session artifacts other components
// do have bytes for. `put` must support tens of thousands of small
// documents per session without degrading `get` latency.
package authstore

import "context"

// RootCredentialFilename is the distinguished filename that must survive
// any non-terminal disconnect (spec.md §3, AuthBlob lifecycle).
const RootCredentialFilename = "creds.json"

// Store is the contract spec.md §4.7 names for the auth-blob document
// store: get, put, delete, deleteBySession, deleteBySessionExcept,
// listSessionIds.
type Store interface {
	Get(ctx context.Context, sessionID, filename string) ([]byte, error)
	Put(ctx context.Context, sessionID, filename string, data []byte) error
	Delete(ctx context.Context, sessionID, filename string) error
	DeleteBySession(ctx context.Context, sessionID string) error
	DeleteBySessionExcept(ctx context.Context, sessionID string, keepFilename string) error
	ListSessionIDs(ctx context.Context) ([]string, error)
}
