package plugin

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wafleet/sessionfleet/domain/message"
)

type fakeSocket struct {
	sent []string
}

func (f *fakeSocket) SendMessage(ctx context.Context, jid, text, quotedID, quotedParticipant string) (string, error) {
	f.sent = append(f.sent, text)
	return "msg-1", nil
}

func TestRegisterAndExecute(t *testing.T) {
	r := New()
	var called int32
	r.Register(Command{
		Name: "ping",
		Handler: func(ctx context.Context, sock Socket, sessionID string, args []string, m *message.Message) error {
			atomic.AddInt32(&called, 1)
			_, err := sock.SendMessage(ctx, "chat", "pong", "", "")
			return err
		},
	})

	sock := &fakeSocket{}
	err := r.Execute(context.Background(), "PING", sock, "session_1", nil, &message.Message{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), called)
	assert.Equal(t, []string{"pong"}, sock.sent)
}

func TestExecute_UnknownCommandErrors(t *testing.T) {
	r := New()
	err := r.Execute(context.Background(), "nope", &fakeSocket{}, "s1", nil, &message.Message{})
	assert.Error(t, err)
}

func TestRegister_AliasesResolveToSameCommand(t *testing.T) {
	r := New()
	r.Register(Command{
		Name:    "status",
		Aliases: []string{"stat", "st"},
		Handler: func(ctx context.Context, sock Socket, sessionID string, args []string, m *message.Message) error {
			return nil
		},
	})

	for _, name := range []string{"status", "stat", "st", "STATUS"} {
		_, ok := r.Lookup(name)
		assert.True(t, ok, "expected %q to resolve", name)
	}
}

func TestRegister_ReRegisteringOverwrites(t *testing.T) {
	r := New()
	r.Register(Command{Name: "ping", Description: "v1"})
	r.Register(Command{Name: "ping", Description: "v2"})

	cmd, ok := r.Lookup("ping")
	require.True(t, ok)
	assert.Equal(t, "v2", cmd.Description)
}

func TestList_DedupesAliasesAndSorts(t *testing.T) {
	r := New()
	r.Register(Command{Name: "zeta"})
	r.Register(Command{Name: "alpha", Aliases: []string{"a"}})

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "zeta", list[1].Name)
}

func TestParseCommand_EmptyPrefixTreatsEveryMessageAsCommand(t *testing.T) {
	cmd, args, ok := ParseCommand("", "ping arg1 arg2")
	require.True(t, ok)
	assert.Equal(t, "ping", cmd)
	assert.Equal(t, []string{"arg1", "arg2"}, args)
}

func TestParseCommand_RequiresConfiguredPrefix(t *testing.T) {
	_, _, ok := ParseCommand("/", "ping")
	assert.False(t, ok)

	cmd, args, ok := ParseCommand("/", "/ping arg1")
	require.True(t, ok)
	assert.Equal(t, "ping", cmd)
	assert.Equal(t, []string{"arg1"}, args)
}

func TestParseCommand_EmptyBodyIsNotACommand(t *testing.T) {
	_, _, ok := ParseCommand("/", "   ")
	assert.False(t, ok)
}

func TestParseCommand_NormalizesCommandCase(t *testing.T) {
	cmd, _, ok := ParseCommand("/", "/PING")
	require.True(t, ok)
	assert.Equal(t, "ping", cmd)
}
