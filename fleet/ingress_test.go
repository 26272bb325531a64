package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wafleet/sessionfleet/domain/message"
	"github.com/wafleet/sessionfleet/domain/session"
	"github.com/wafleet/sessionfleet/infrastructure/wasocket"
	"github.com/wafleet/sessionfleet/pkg/plugin"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

func newTestSocket(t *testing.T, sessionID string) *wasocket.Socket {
	t.Helper()
	sock, err := wasocket.NewFactory(t.TempDir()).NewConnection(context.Background(), sessionID)
	require.NoError(t, err)
	return sock
}

func TestExtractBody_PrefersConversationOverExtendedText(t *testing.T) {
	msg := &waE2E.Message{
		Conversation:        proto.String("hi there"),
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("ignored")},
	}
	assert.Equal(t, "hi there", extractBody(msg))
}

func TestExtractBody_FallsBackToExtendedText(t *testing.T) {
	msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended body")}}
	assert.Equal(t, "extended body", extractBody(msg))
}

func TestExtractBody_NilMessageReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", extractBody(nil))
}

func TestExtractContextInfo_NoQuoteReturnsNil(t *testing.T) {
	msg := &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("hi")}}
	assert.Nil(t, extractContextInfo(msg))
}

func TestExtractContextInfo_ReturnsQuotedStanzaAndParticipant(t *testing.T) {
	msg := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String("reply"),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:    proto.String("ABCD1234"),
				Participant: proto.String("5511999999999@s.whatsapp.net"),
			},
		},
	}
	ci := extractContextInfo(msg)
	require.NotNil(t, ci)
	assert.Equal(t, "ABCD1234", ci.QuotedMessageID)
	assert.Equal(t, "5511999999999@s.whatsapp.net", ci.Participant)
}

func TestResolveInteractiveCommand_ListResponse(t *testing.T) {
	msg := &waE2E.Message{
		ListResponseMessage: &waE2E.ListResponseMessage{
			SingleSelectReply: &waE2E.ListResponseMessage_SingleSelectReply{SelectedRowID: proto.String("menu_option_1")},
		},
	}
	cmd, ok := resolveInteractiveCommand(msg)
	assert.True(t, ok)
	assert.Equal(t, "menu_option_1", cmd)
}

func TestResolveInteractiveCommand_ButtonsResponse(t *testing.T) {
	msg := &waE2E.Message{
		ButtonsResponseMessage: &waE2E.ButtonsResponseMessage{SelectedButtonID: proto.String("btn_yes")},
	}
	cmd, ok := resolveInteractiveCommand(msg)
	assert.True(t, ok)
	assert.Equal(t, "btn_yes", cmd)
}

func TestResolveInteractiveCommand_PlainTextReturnsFalse(t *testing.T) {
	msg := &waE2E.Message{Conversation: proto.String("just text")}
	_, ok := resolveInteractiveCommand(msg)
	assert.False(t, ok)
}

func TestResolveRoles_PrivateChatIsAlwaysAdminButNotOwnerWithoutCredentials(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sock := newTestSocket(t, "session_1")

	isAdmin, isCreator := d.resolveRoles(context.Background(), sock, "5511999999999@s.whatsapp.net", "5511999999999@s.whatsapp.net")
	assert.True(t, isAdmin)
	assert.False(t, isCreator, "a fresh uncredentialed socket has no own JID to match against")
}

func TestResolveRoles_GroupChatReturnsFalseWhenMetadataUnavailable(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sock := newTestSocket(t, "session_1")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	isAdmin, isCreator := d.resolveRoles(ctx, sock, "120363000000000000@g.us", "5511999999999@s.whatsapp.net")
	assert.False(t, isAdmin)
	assert.False(t, isCreator)
}

func TestScheduleStubResend_NoLiveSessionIsNoop(t *testing.T) {
	d, _ := newTestDispatcher(t)
	assert.NotPanics(t, func() { d.scheduleStubResend("does-not-exist", "msg-1") })
}

func TestIntakeMessage_DropsBroadcastList(t *testing.T) {
	d, state := newTestDispatcher(t)
	sock := newTestSocket(t, "session_1")
	state.PutSession(&session.Session{SessionID: "session_1", UserID: "1", Source: session.SourceTelegram, Socket: sock})

	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat: types.NewJID("111122223333444", "broadcast"),
			},
			ID: "msg-1",
		},
		Message: &waE2E.Message{Conversation: proto.String("broadcast text")},
	}

	d.intakeMessage("session_1", evt)
	assert.False(t, d.dedup.IsDuplicate("111122223333444@broadcast", "msg-1", ""), "a dropped broadcast message must never be locked in the dedup map")
}

func TestIntakeMessage_DedupPreventsReprocessingSameMessage(t *testing.T) {
	d, state := newTestDispatcher(t)
	sock := newTestSocket(t, "session_1")
	state.PutSession(&session.Session{SessionID: "session_1", UserID: "1", Source: session.SourceTelegram, Socket: sock})

	chat := types.NewJID("5511999999999", types.DefaultUserServer)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "msg-1",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello")},
	}

	d.intakeMessage("session_1", evt)
	assert.True(t, d.dedup.IsDuplicate("5511999999999@s.whatsapp.net", "msg-1", "other-session"))
}

func TestProcessMessage_NonCommandRunsGameTextFallback(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sock := newTestSocket(t, "session_1")

	var gameTextCalled bool
	d.GameText = func(ctx context.Context, sock *wasocket.Socket, m *message.Message) bool {
		gameTextCalled = true
		return true
	}

	chat := types.NewJID("5511999999999", types.DefaultUserServer)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "msg-1",
			Timestamp:     time.Now(),
		},
		Message: &waE2E.Message{Conversation: proto.String("just chatting")},
	}

	err := d.processMessage(context.Background(), "session_1", "1", sock, evt, "5511999999999@s.whatsapp.net")
	require.NoError(t, err)
	assert.True(t, gameTextCalled)
}

func TestProcessMessage_CommandDispatchesToRegisteredPlugin(t *testing.T) {
	d, _ := newTestDispatcher(t)
	sock := newTestSocket(t, "session_1")

	var gotArgs []string
	d.plugins.Register(plugin.Command{
		Name: "ping",
		Handler: func(ctx context.Context, s plugin.Socket, sessionID string, args []string, m *message.Message) error {
			gotArgs = args
			return nil
		},
	})

	chat := types.NewJID("5511999999999", types.DefaultUserServer)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "msg-1",
			Timestamp:     time.Now(),
		},
		Message: &waE2E.Message{Conversation: proto.String("!ping one two")},
	}

	err := d.processMessage(context.Background(), "session_1", "1", sock, evt, "5511999999999@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, gotArgs)
}
