package fleet

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/wafleet/sessionfleet/infrastructure/wasocket"
	"github.com/wafleet/sessionfleet/storage/authstore"
)

// Router is the top-level event entry point Manager.EventHandler is
// wired to (spec.md §4.5): connection.update always goes to C2;
// creds.update is only logged here (see persistCreds); everything else
// fans out to the C5 dispatcher.
type Router struct {
	reconnector *Reconnector
	dispatcher  *Dispatcher
	auth        authstore.Store

	log *logrus.Entry
}

func NewRouter(reconnector *Reconnector, dispatcher *Dispatcher, auth authstore.Store) *Router {
	return &Router{reconnector: reconnector, dispatcher: dispatcher, auth: auth, log: logrus.WithField("component", "fleet.router")}
}

// Handle is installed once per socket via Manager.EventHandler.
func (rt *Router) Handle(sessionID string, ev wasocket.Event) {
	ctx := context.Background()
	switch ev.Kind {
	case wasocket.KindConnectionUpdate:
		rt.reconnector.HandleConnectionUpdate(ctx, sessionID, ev.Connection)
	case wasocket.KindCredsUpdate:
		rt.persistCreds(ctx, sessionID)
	default:
		if rt.dispatcher != nil {
			rt.dispatcher.Handle(ctx, sessionID, ev)
		}
	}
}

// persistCreds reacts to a credential-rotation signal (spec.md §4.5:
// "persist the updated credential blob; no further action"). The
// client library's sqlite device store is the sole authoritative
// holder of the rotated key material — whatsmeow has no API to export
// it as a standalone document, so the auth blob store's role here is
// limited to what it actually holds: `creds.json` as the marker that
// pairing has occurred, and sibling key-material files written by
// components that do have bytes to write. There is nothing to copy out
// of the client library on this event; this is a log point, not a
// write.
func (rt *Router) persistCreds(_ context.Context, sessionID string) {
	rt.log.WithField("session_id", sessionID).Info("[ROUTER] credentials rotated (pair success); authoritative copy lives in the device store")
}
