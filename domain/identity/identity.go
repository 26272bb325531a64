// Package identity implements JID normalization (C9): canonicalizing wire
// identifiers (phone, device-suffix, group, LID) and resolving LIDs to
// their phone-form JID via the client library's group participant list.
package identity

import (
	"context"
	"strings"
)

const (
	ServerUser  = "s.whatsapp.net"
	ServerGroup = "g.us"
	ServerLID   = "lid"
)

// NormalizeJid strips a device suffix (":0", ":16", ...) from the user
// part left of "@" on any JID (phone, group or lid); the server part
// is kept unchanged.
func NormalizeJid(jid string) string {
	jid = strings.TrimSpace(jid)
	if jid == "" {
		return jid
	}
	at := strings.LastIndex(jid, "@")
	if at < 0 {
		return jid
	}
	user, server := jid[:at], jid[at+1:]
	if colon := strings.Index(user, ":"); colon >= 0 {
		user = user[:colon]
	}
	return user + "@" + server
}

func server(jid string) string {
	if at := strings.LastIndex(jid, "@"); at >= 0 {
		return jid[at+1:]
	}
	return ""
}

func IsGroup(jid string) bool { return server(jid) == ServerGroup }

func IsUser(jid string) bool { return server(jid) == ServerUser }

func IsLid(jid string) bool { return server(jid) == ServerLID }

// ExtractPhone returns the user portion (before "@") of a phone-form JID,
// after stripping any device suffix; empty for non-phone JIDs.
func ExtractPhone(jid string) string {
	if !IsUser(jid) {
		return ""
	}
	normalized := NormalizeJid(jid)
	if at := strings.Index(normalized, "@"); at >= 0 {
		return normalized[:at]
	}
	return ""
}

// ParsedJid is a lightweight decomposition; the concrete Socket adapter
// converts to/from the client library's own JID type at its boundary.
type ParsedJid struct {
	User   string
	Device string
	Server string
}

func ParseJid(jid string) ParsedJid {
	jid = strings.TrimSpace(jid)
	at := strings.LastIndex(jid, "@")
	if at < 0 {
		return ParsedJid{User: jid}
	}
	user, srv := jid[:at], jid[at+1:]
	device := ""
	if colon := strings.Index(user, ":"); colon >= 0 {
		device = user[colon+1:]
		user = user[:colon]
	}
	return ParsedJid{User: user, Device: device, Server: srv}
}

func IsSameJid(a, b string) bool {
	return NormalizeJid(a) == NormalizeJid(b)
}

// GroupParticipantLister is the narrow slice of the Socket contract
// resolveLidToJid needs: a group metadata lookup returning participant
// JID pairs (lid, phone-form). The concrete adapter is
// infrastructure/wasocket.Socket.
type GroupParticipantLister interface {
	// GroupParticipantPhoneForLid returns the phone-form JID for a LID
	// participant of the given group, or "" if not found.
	GroupParticipantPhoneForLid(ctx context.Context, groupJid, lid string) (string, error)
}

// ResolveLidToJid consults the group participant list via the client
// library and maps a LID to its phone-form JID; returns the input LID
// unchanged on any failure (spec §4.9).
func ResolveLidToJid(ctx context.Context, sock GroupParticipantLister, groupJid, lid string) string {
	if !IsLid(lid) || sock == nil {
		return lid
	}
	phone, err := sock.GroupParticipantPhoneForLid(ctx, groupJid, lid)
	if err != nil || phone == "" {
		return lid
	}
	return phone
}
