package fleet

import (
	"context"
	"strings"
	"time"

	"github.com/wafleet/sessionfleet/config"
	"github.com/wafleet/sessionfleet/domain/identity"
	"github.com/wafleet/sessionfleet/domain/message"
	"github.com/wafleet/sessionfleet/infrastructure/wasocket"
	"github.com/wafleet/sessionfleet/pkg/msgworker"
	"github.com/wafleet/sessionfleet/pkg/plugin"
	"github.com/wafleet/sessionfleet/storage/prefixcache"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// handleMessagesUpsert is the messages.upsert hot path (spec.md §4.5).
// It does the cheap filtering/dedup inline and hands the rest of the
// 14-step pipeline to the worker pool so the dispatcher's own goroutine
// never blocks on a slow handler.
func (d *Dispatcher) handleMessagesUpsert(ctx context.Context, sessionID string, ev wasocket.Event) {
	switch raw := ev.Raw.(type) {
	case *events.UndecryptableMessage:
		d.scheduleStubResend(sessionID, raw.Info.ID)
		return
	case *events.Message:
		d.intakeMessage(sessionID, raw)
	}
}

// scheduleStubResend implements step 2: a ciphertext stub is not a
// failure, just a request to resend, fired 2s later.
func (d *Dispatcher) scheduleStubResend(sessionID, messageID string) {
	sess, ok := d.state.GetSession(sessionID)
	if !ok {
		return
	}
	sock, ok := sess.Socket.(*wasocket.Socket)
	if !ok || sock == nil {
		return
	}
	time.AfterFunc(placeholderResendDelay, func() {
		sock.RequestPlaceholderResend(messageID)
	})
}

// intakeMessage runs the inline portion of the pipeline (filtering,
// dedup) and dispatches the rest to the per-chat-ordered worker pool.
func (d *Dispatcher) intakeMessage(sessionID string, evt *events.Message) {
	chat := identity.NormalizeJid(evt.Info.Chat.String())

	// Step 1 (remainder): non-status broadcast lists are dropped
	// entirely; status@broadcast never reaches here (translate() routes
	// it to KindUnknown before the dispatcher sees it).
	if strings.HasSuffix(chat, "@broadcast") {
		return
	}

	d.recordActivity(sessionID)

	id := evt.Info.ID
	// Step 3: cross-session dedup.
	if d.dedup.IsDuplicate(chat, id, sessionID) {
		return
	}
	if !d.dedup.TryLock(chat, id, sessionID) {
		return
	}

	sess, ok := d.state.GetSession(sessionID)
	if !ok {
		return
	}
	sock, ok := sess.Socket.(*wasocket.Socket)
	if !ok || sock == nil {
		return
	}

	d.pool.Dispatch(msgworker.MessageJob{
		SessionID: sessionID,
		ChatJID:   chat,
		Handler: func(ctx context.Context) error {
			return d.processMessage(ctx, sessionID, sess.UserID, sock, evt, chat)
		},
	})
}

// processMessage runs steps 4-14: identity normalization, enrichment,
// persistence, anti-plugins, and command dispatch.
func (d *Dispatcher) processMessage(ctx context.Context, sessionID, userID string, sock *wasocket.Socket, evt *events.Message, chat string) error {
	sender := identity.NormalizeJid(evt.Info.Sender.String())
	// Step 4: LID resolution, propagated into contextInfo.participant too.
	if identity.IsLid(sender) {
		sender = identity.ResolveLidToJid(ctx, sock, chat, sender)
	}

	m := &message.Message{
		Key: message.Key{
			RemoteJid: chat,
			ID:        evt.Info.ID,
			FromMe:    evt.Info.IsFromMe,
		},
		Body:      extractBody(evt.Message),
		Timestamp: evt.Info.Timestamp,
		PushName:  evt.Info.PushName,
		Chat:      chat,
		Sender:    sender,
		IsGroup:   evt.Info.IsGroup,
	}
	if evt.Info.IsGroup {
		m.Key.Participant = sender
	}
	if ctxInfo := extractContextInfo(evt.Message); ctxInfo != nil {
		if identity.IsLid(ctxInfo.Participant) {
			ctxInfo.Participant = identity.ResolveLidToJid(ctx, sock, chat, ctxInfo.Participant)
		} else {
			ctxInfo.Participant = identity.NormalizeJid(ctxInfo.Participant)
		}
		m.ContextInfo = ctxInfo
	}
	m.Normalize()

	// Step 5: timestamp offset correction.
	m.ApplyTimestampOffset(config.MessageTimestampOffsetSeconds)

	// Step 7: reply helper, quoting the inbound message.
	quotedParticipant := ""
	if m.IsGroup {
		quotedParticipant = m.Sender
	}
	m.Reply = func(text string) error {
		_, err := sock.SendMessage(ctx, m.Chat, text, m.Key.ID, quotedParticipant)
		return err
	}

	// Step 8: effective command prefix for this user.
	prefix := d.prefix.GetPrefix(userID)
	if prefix == prefixcache.NoPrefix {
		prefix = ""
	}

	// Step 9: admin/owner determination.
	m.IsAdmin, m.IsCreator = d.resolveRoles(ctx, sock, m.Chat, m.Sender)

	// Step 10: persist + structured log, fire-and-forget. The storage
	// scope (C7) is session metadata + auth blobs only, so "persist the
	// message" reduces to a structured log line rather than a message
	// store write.
	d.log.WithField("session_id", sessionID).
		WithField("chat", m.Chat).
		WithField("sender", m.Sender).
		WithField("message_id", m.Key.ID).
		Info("[INGRESS] message received")

	// Step 11: anti-plugins get first refusal.
	for _, anti := range d.AntiPlugins {
		if anti(ctx, sock, m) {
			return nil
		}
	}

	// Step 12: interactive responses resolve to a synthetic command body.
	if synthetic, ok := resolveInteractiveCommand(evt.Message); ok {
		m.Body = synthetic
	}

	// Step 13/14: command dispatch, else game-text fallback.
	cmdName, args, isCommand := plugin.ParseCommand(prefix, m.Body)
	if isCommand {
		m.Command = cmdName
		m.Args = args
		if err := d.plugins.Execute(ctx, cmdName, sock, sessionID, args, m); err != nil {
			d.log.WithError(err).WithField("session_id", sessionID).WithField("command", cmdName).Debug("[INGRESS] command execution failed")
		}
		return nil
	}
	if d.GameText != nil {
		d.GameText(ctx, sock, m)
	}
	return nil
}

// extractBody prefers plain conversation text, falling back to the
// extended-text body.
func extractBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if conv := msg.GetConversation(); conv != "" {
		return conv
	}
	return msg.GetExtendedTextMessage().GetText()
}

func extractContextInfo(msg *waE2E.Message) *message.ContextInfo {
	if msg == nil {
		return nil
	}
	var ci *waE2E.ContextInfo
	if etm := msg.GetExtendedTextMessage(); etm != nil {
		ci = etm.GetContextInfo()
	}
	if ci == nil {
		return nil
	}
	stanza := ci.GetStanzaID()
	participant := ci.GetParticipant()
	if stanza == "" && participant == "" {
		return nil
	}
	return &message.ContextInfo{QuotedMessageID: stanza, Participant: participant}
}

// resolveInteractiveCommand implements step 12: a list selection,
// button reply, or native-flow reply becomes a synthetic command body,
// so the same ParseCommand/Execute path in step 13 handles it.
func resolveInteractiveCommand(msg *waE2E.Message) (string, bool) {
	if msg == nil {
		return "", false
	}
	if lrm := msg.GetListResponseMessage(); lrm != nil {
		if reply := lrm.GetSingleSelectReply(); reply != nil && reply.GetSelectedRowID() != "" {
			return reply.GetSelectedRowID(), true
		}
	}
	if brm := msg.GetButtonsResponseMessage(); brm != nil && brm.GetSelectedButtonID() != "" {
		return brm.GetSelectedButtonID(), true
	}
	if irm := msg.GetInteractiveResponseMessage(); irm != nil {
		if nfrm := irm.GetNativeFlowResponseMessage(); nfrm != nil && nfrm.GetName() != "" {
			return nfrm.GetName(), true
		}
	}
	return "", false
}

// resolveRoles implements step 9: group roles come from the group
// metadata cache via a linear participant scan; private chats are
// both-admins-true with the owner flag reserved for the socket's own
// number.
func (d *Dispatcher) resolveRoles(ctx context.Context, sock *wasocket.Socket, chat, sender string) (isAdmin, isCreator bool) {
	if !identity.IsGroup(chat) {
		isAdmin = true
		isCreator = identity.ExtractPhone(sender) != "" && identity.ExtractPhone(sender) == identity.ExtractPhone(sock.OwnJID())
		return
	}
	info, err := sock.GroupMetadata(ctx, chat)
	if err != nil || info == nil {
		return false, false
	}
	for _, p := range info.Participants {
		if identity.IsSameJid(p.JID.ToNonAD().String(), sender) {
			return p.IsAdmin || p.IsSuperAdmin, p.IsSuperAdmin
		}
	}
	return false, false
}
