// Package message holds the in-flight message representation enriched
// during ingress (C5) and the normalization pass over its JID fields.
package message

import (
	"time"

	"github.com/wafleet/sessionfleet/domain/identity"
)

// Key identifies one message on the wire.
type Key struct {
	RemoteJid   string
	ID          string
	FromMe      bool
	Participant string // set for group messages; the sender's JID
}

// ContextInfo carries quoted-message metadata; Participant is the
// quoted message's original sender, normalized the same as Key.Participant.
type ContextInfo struct {
	QuotedMessageID string
	Participant     string
}

// Message is the in-flight envelope enriched by the dispatcher before
// handoff to the command registry.
type Message struct {
	Key         Key
	Body        string
	Timestamp   time.Time
	PushName    string
	ContextInfo *ContextInfo

	// Enriched fields, populated by the dispatcher (spec §4.5 steps 4-9).
	Chat      string
	Sender    string
	IsGroup   bool
	IsAdmin   bool
	IsCreator bool
	Command   string
	Args      []string

	// Reply forwards through the socket with {quoted: m}; installed by
	// the dispatcher, nil until then.
	Reply func(text string) error
}

// Normalize walks the key and contextInfo, normalizing every JID field
// in place (spec §4.9). It does not perform LID resolution itself —
// that requires a live socket and is done by the caller before or after
// calling Normalize, substituting resolved values into these same
// fields.
func (m *Message) Normalize() {
	m.Key.RemoteJid = identity.NormalizeJid(m.Key.RemoteJid)
	if m.Key.Participant != "" {
		m.Key.Participant = identity.NormalizeJid(m.Key.Participant)
	}
	if m.ContextInfo != nil && m.ContextInfo.Participant != "" {
		m.ContextInfo.Participant = identity.NormalizeJid(m.ContextInfo.Participant)
	}
}

// ApplyTimestampOffset adds a fixed offset to the message timestamp,
// compensating for the observed clock quirk described in spec §9. A
// zero offset (the default) is a no-op.
func (m *Message) ApplyTimestampOffset(offsetSeconds int) {
	if offsetSeconds == 0 {
		return
	}
	m.Timestamp = m.Timestamp.Add(time.Duration(offsetSeconds) * time.Second)
}
