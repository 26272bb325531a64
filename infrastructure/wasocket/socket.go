// Package wasocket is the concrete client-library adapter (spec.md §6):
// it implements the opaque Socket contract the controller depends on,
// backed by go.mau.fi/whatsmeow.
package wasocket

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// Socket wraps a single whatsmeow.Client as the controller's handle on
// one session's wire connection. It satisfies domain/session.Socket and
// domain/identity.GroupParticipantLister.
type Socket struct {
	SessionID string

	client *whatsmeow.Client

	handlersMu   sync.Mutex
	installed    bool // idempotency flag, spec §4.5
	handlerID    uint32

	identityMu  sync.RWMutex
	identityMap map[string]string // PN -> LID and "REV:"+LID -> PN, dual-cache idiom

	log *logrus.Entry
}

func wrap(sessionID string, client *whatsmeow.Client) *Socket {
	return &Socket{
		SessionID:   sessionID,
		client:      client,
		identityMap: make(map[string]string),
		log:         logrus.WithField("session_id", sessionID),
	}
}

// IsConnected reports live wire state, not login state (spec.md §3:
// isConnected is derived and persisted separately from auth validity).
func (s *Socket) IsConnected() bool {
	return s.client != nil && s.client.IsConnected()
}

// IsLoggedIn reports whether the device store holds valid credentials.
func (s *Socket) IsLoggedIn() bool {
	return s.client != nil && s.client.IsLoggedIn()
}

// Connect opens the wire connection. For a never-paired device this
// begins the QR/pairing-code flow; events surface via AddEventHandler.
func (s *Socket) Connect() error {
	if s.client == nil {
		return fmt.Errorf("wasocket: nil client for session %s", s.SessionID)
	}
	return s.client.Connect()
}

// RequestPairingCode is the side-channel pairing path spec.md §6
// permits as an alternative to the QR field on connection.update.
func (s *Socket) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("wasocket: nil client for session %s", s.SessionID)
	}
	return s.client.PairPhone(ctx, phoneNumber, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
}

// Close tears down the wire; it does not erase on-disk device state —
// that's a storage-adapter concern owned by C1's completeCleanup.
func (s *Socket) Close() {
	if s.client == nil {
		return
	}
	s.handlersMu.Lock()
	if s.installed && s.handlerID != 0 {
		s.client.RemoveEventHandler(s.handlerID)
		s.installed = false
		s.handlerID = 0
	}
	s.handlersMu.Unlock()
	s.client.Disconnect()
}

// DisconnectWireOnly tears down the wire without removing the installed
// event handler, for the health monitor's reinitialize flow (spec.md
// §4.3: "close wire only, do not detach library-internal listeners").
func (s *Socket) DisconnectWireOnly() {
	if s.client == nil {
		return
	}
	s.client.Disconnect()
}

// OwnJID returns this socket's own phone-form JID, or "" if not logged in.
func (s *Socket) OwnJID() string {
	if s.client == nil || s.client.Store == nil || s.client.Store.ID == nil {
		return ""
	}
	return s.client.Store.ID.ToNonAD().String()
}

func (s *Socket) parseJID(chatID string) (types.JID, error) {
	if strings.Contains(chatID, "@") {
		return types.ParseJID(chatID)
	}
	return types.NewJID(chatID, types.DefaultUserServer), nil
}

// SendMessage sends a text message, optionally quoting quotedID (the
// dispatcher's reply(text) helper, spec §4.5 step 7).
func (s *Socket) SendMessage(ctx context.Context, jid, text, quotedID, quotedParticipant string) (string, error) {
	target, err := s.parseJID(jid)
	if err != nil {
		return "", fmt.Errorf("wasocket: parse jid %q: %w", jid, err)
	}

	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String(text)},
	}
	if quotedID != "" {
		msg.ExtendedTextMessage.ContextInfo = &waE2E.ContextInfo{
			StanzaID:      proto.String(quotedID),
			Participant:   proto.String(quotedParticipant),
			QuotedMessage: &waE2E.Message{Conversation: proto.String("")},
		}
	}

	resp, err := s.client.SendMessage(ctx, target, msg)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (s *Socket) SendPresenceUpdate(ctx context.Context, available bool) error {
	presence := types.PresenceAvailable
	if !available {
		presence = types.PresenceUnavailable
	}
	return s.client.SendPresence(ctx, presence)
}

func (s *Socket) PresenceSubscribe(ctx context.Context, jid string) error {
	target, err := s.parseJID(jid)
	if err != nil {
		return err
	}
	return s.client.SubscribePresence(ctx, target)
}

func (s *Socket) GroupMetadata(ctx context.Context, jid string) (*types.GroupInfo, error) {
	target, err := s.parseJID(jid)
	if err != nil {
		return nil, err
	}
	return s.client.GetGroupInfo(ctx, target)
}

func (s *Socket) GroupParticipantsUpdate(ctx context.Context, jid string, participantJIDs []string, action whatsmeow.ParticipantChange) error {
	target, err := s.parseJID(jid)
	if err != nil {
		return err
	}
	participants := make([]types.JID, 0, len(participantJIDs))
	for _, p := range participantJIDs {
		pj, err := s.parseJID(p)
		if err != nil {
			continue
		}
		participants = append(participants, pj)
	}
	_, err = s.client.UpdateGroupParticipants(ctx, target, participants, action)
	return err
}

func (s *Socket) GroupInviteCode(ctx context.Context, jid string) (string, error) {
	target, err := s.parseJID(jid)
	if err != nil {
		return "", err
	}
	return s.client.GetGroupInviteLink(ctx, target, false)
}

func (s *Socket) GroupRevokeInvite(ctx context.Context, jid string) (string, error) {
	target, err := s.parseJID(jid)
	if err != nil {
		return "", err
	}
	return s.client.GetGroupInviteLink(ctx, target, true)
}

func (s *Socket) CheckStatusWa(ctx context.Context, phone string) (bool, error) {
	resp, err := s.client.IsOnWhatsApp(ctx, []string{phone})
	if err != nil {
		return false, err
	}
	if len(resp) == 0 {
		return false, nil
	}
	return resp[0].IsIn, nil
}

// ChatModify applies a chat-level mutation; currently only pin/unpin is
// wired (spec §4.6's broadcast scheduler optionally pins after send).
func (s *Socket) ChatModify(ctx context.Context, jid string, pin bool) error {
	target, err := s.parseJID(jid)
	if err != nil {
		return err
	}
	return s.client.SendAppState(ctx, appstate.BuildPin(target, pin))
}

func (s *Socket) UpdateBlockStatus(ctx context.Context, jid string, block bool) error {
	target, err := s.parseJID(jid)
	if err != nil {
		return err
	}
	action := whatsmeow.BlocklistActionUnblock
	if block {
		action = whatsmeow.BlocklistActionBlock
	}
	_, err = s.client.UpdateBlocklist(ctx, target, action)
	return err
}

// RequestPlaceholderResend reacts to an undecryptable-message stub
// (spec §4.5 step 2: schedule after a 2 s delay, do not treat the stub
// as failure). The client library already sends a retry receipt to the
// sender automatically as part of its own decrypt-failure handling;
// there is no separate application-level "request resend" call to
// make, so this is a log point the dispatcher can hang a delay on, not
// a wire operation.
func (s *Socket) RequestPlaceholderResend(messageID string) {
	s.log.WithField("message_id", messageID).Debug("[SOCKET] undecryptable message stub, awaiting library retry receipt")
}

// NewsletterFollow is the first step of C6's auto-follow triple
// (spec.md §4.6).
func (s *Socket) NewsletterFollow(ctx context.Context, jid string) error {
	target, err := s.parseJID(jid)
	if err != nil {
		return err
	}
	return s.client.FollowNewsletter(ctx, target)
}

// NewsletterSubscribeUpdates is the second step of the auto-follow
// triple: it opts the session into the newsletter's live update stream.
func (s *Socket) NewsletterSubscribeUpdates(ctx context.Context, jid string) error {
	target, err := s.parseJID(jid)
	if err != nil {
		return err
	}
	_, err = s.client.NewsletterSubscribeLiveUpdates(ctx, target)
	return err
}

// NewsletterUnmute is the third step of the auto-follow triple.
func (s *Socket) NewsletterUnmute(ctx context.Context, jid string) error {
	target, err := s.parseJID(jid)
	if err != nil {
		return err
	}
	return s.client.NewsletterToggleMute(ctx, target, false)
}

// NewsletterMetadata backs C6's idempotency check: a non-nil ViewerMeta
// means this session already has a subscriber role on the newsletter.
func (s *Socket) NewsletterMetadata(ctx context.Context, jid string) (*types.NewsletterMetadata, error) {
	target, err := s.parseJID(jid)
	if err != nil {
		return nil, err
	}
	return s.client.GetNewsletterInfo(target)
}

// GroupParticipantPhoneForLid implements domain/identity.GroupParticipantLister:
// it resolves a LID participant of a group to its phone-form JID by
// consulting the group metadata the client library caches.
func (s *Socket) GroupParticipantPhoneForLid(ctx context.Context, groupJid, lid string) (string, error) {
	group, err := s.parseJID(groupJid)
	if err != nil {
		return "", err
	}
	lidJID, err := s.parseJID(lid)
	if err != nil {
		return "", err
	}
	info, err := s.client.GetGroupInfo(ctx, group)
	if err != nil {
		return "", err
	}
	for _, p := range info.Participants {
		if p.LID.ToNonAD().String() == lidJID.ToNonAD().String() {
			return p.JID.ToNonAD().String(), nil
		}
	}
	return "", fmt.Errorf("wasocket: lid %s not found in group %s participants", lid, groupJid)
}
