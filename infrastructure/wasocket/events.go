package wasocket

import (
	"strings"

	"go.mau.fi/whatsmeow/types/events"
)

// EventKind enumerates the event taxonomy spec.md §4.5 dispatches on.
// Kinds the controller does not special-case (Contacts, Chats, Call,
// BlocklistSet, BlocklistUpdate, GroupsUpsert, GroupsUpdate) still fan
// out through the same Event value so C5's hand-off path has one shape.
type EventKind string

const (
	KindConnectionUpdate      EventKind = "connection.update"
	KindCredsUpdate           EventKind = "creds.update"
	KindMessagesUpsert        EventKind = "messages.upsert"
	KindMessagesUpdate        EventKind = "messages.update"
	KindMessagesDelete        EventKind = "messages.delete"
	KindMessagesReaction      EventKind = "messages.reaction"
	KindGroupsUpsert          EventKind = "groups.upsert"
	KindGroupsUpdate          EventKind = "groups.update"
	KindGroupParticipantsUpdate EventKind = "group-participants.update"
	KindContacts              EventKind = "contacts"
	KindChats                 EventKind = "chats"
	KindPresenceUpdate        EventKind = "presence.update"
	KindCall                  EventKind = "call"
	KindBlocklistSet          EventKind = "blocklist.set"
	KindBlocklistUpdate       EventKind = "blocklist.update"
	KindUnknown               EventKind = "unknown"
)

// ConnectionUpdate carries the fields C2's state machine switches on
// (spec §4.2): `{connection, lastDisconnect, qr}`.
type ConnectionUpdate struct {
	Connection string // "open", "connecting", "close"
	StatusCode int    // 0 if absent (policy default applies)
	Reason     string // disconnect error text, for the 500-code disambiguation
	QR         string
}

// Event is the uniform envelope the dispatcher switches on; Raw carries
// the underlying whatsmeow event for handlers that need the full detail
// (message content, group metadata diffs, etc).
type Event struct {
	Kind       EventKind
	Connection *ConnectionUpdate
	Raw        interface{}
}

// AddEventHandler installs the translation handler exactly once per
// socket (spec §4.5: "a flag on the socket object prevents double
// installation").
func (s *Socket) AddEventHandler(handler func(Event)) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	if s.installed {
		return
	}
	s.handlerID = s.client.AddEventHandler(func(raw interface{}) {
		handler(translate(raw))
	})
	s.installed = true
}

func translate(raw interface{}) Event {
	switch v := raw.(type) {
	case *events.Connected:
		return Event{Kind: KindConnectionUpdate, Connection: &ConnectionUpdate{Connection: "open"}, Raw: v}

	case *events.Disconnected:
		return Event{Kind: KindConnectionUpdate, Connection: &ConnectionUpdate{Connection: "close"}, Raw: v}

	case *events.StreamReplaced:
		return Event{Kind: KindConnectionUpdate, Connection: &ConnectionUpdate{Connection: "close", StatusCode: 440}, Raw: v}

	case *events.LoggedOut:
		code := 401
		reason := ""
		if v.Reason != 0 {
			reason = v.Reason.String()
		}
		return Event{Kind: KindConnectionUpdate, Connection: &ConnectionUpdate{Connection: "close", StatusCode: code, Reason: reason}, Raw: v}

	case *events.ConnectFailure:
		code := 0
		if v.Reason != 0 {
			code = int(v.Reason)
		}
		return Event{Kind: KindConnectionUpdate, Connection: &ConnectionUpdate{Connection: "close", StatusCode: code, Reason: v.Message}, Raw: v}

	case *events.TemporaryBan:
		return Event{Kind: KindConnectionUpdate, Connection: &ConnectionUpdate{Connection: "close", StatusCode: 429, Reason: v.Code.String()}, Raw: v}

	case *events.CATRefreshError:
		return Event{Kind: KindConnectionUpdate, Connection: &ConnectionUpdate{Connection: "close", StatusCode: 500, Reason: v.Error()}, Raw: v}

	case *events.QR:
		qr := ""
		if len(v.Codes) > 0 {
			qr = v.Codes[0]
		}
		return Event{Kind: KindConnectionUpdate, Connection: &ConnectionUpdate{Connection: "connecting", QR: qr}, Raw: v}

	case *events.KeepAliveTimeout:
		return Event{Kind: KindConnectionUpdate, Connection: &ConnectionUpdate{Connection: "close", StatusCode: 408}, Raw: v}

	case *events.PairSuccess:
		return Event{Kind: KindCredsUpdate, Raw: v}

	case *events.Message:
		if isStatusBroadcast(v.Info.Chat.String()) {
			return Event{Kind: KindUnknown, Raw: v}
		}
		return Event{Kind: KindMessagesUpsert, Raw: v}

	case *events.UndecryptableMessage:
		return Event{Kind: KindMessagesUpsert, Raw: v}

	case *events.Receipt:
		return Event{Kind: KindMessagesUpdate, Raw: v}

	case *events.DeleteForMe:
		return Event{Kind: KindMessagesDelete, Raw: v}

	case *events.GroupInfo:
		if len(v.Join) > 0 || len(v.Leave) > 0 || len(v.Promote) > 0 || len(v.Demote) > 0 {
			return Event{Kind: KindGroupParticipantsUpdate, Raw: v}
		}
		return Event{Kind: KindGroupsUpdate, Raw: v}

	case *events.JoinedGroup:
		return Event{Kind: KindGroupsUpsert, Raw: v}

	case *events.Contact:
		return Event{Kind: KindContacts, Raw: v}

	case *events.ChatPresence, *events.Presence:
		return Event{Kind: KindPresenceUpdate, Raw: v}

	case *events.CallOffer, *events.CallAccept, *events.CallTerminate:
		return Event{Kind: KindCall, Raw: v}

	case *events.Blocklist:
		return Event{Kind: KindBlocklistUpdate, Raw: v}

	default:
		return Event{Kind: KindUnknown, Raw: v}
	}
}

func isStatusBroadcast(chatJID string) bool {
	return strings.HasPrefix(chatJID, "status@broadcast")
}
