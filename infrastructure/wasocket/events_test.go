package wasocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

func TestIsStatusBroadcast(t *testing.T) {
	assert.True(t, isStatusBroadcast("status@broadcast"))
	assert.False(t, isStatusBroadcast("1234567890@s.whatsapp.net"))
	assert.False(t, isStatusBroadcast(""))
}

func TestTranslate_Connected(t *testing.T) {
	evt := translate(&events.Connected{})
	assert.Equal(t, KindConnectionUpdate, evt.Kind)
	if assert.NotNil(t, evt.Connection) {
		assert.Equal(t, "open", evt.Connection.Connection)
	}
}

func TestTranslate_Disconnected(t *testing.T) {
	evt := translate(&events.Disconnected{})
	assert.Equal(t, KindConnectionUpdate, evt.Kind)
	if assert.NotNil(t, evt.Connection) {
		assert.Equal(t, "close", evt.Connection.Connection)
	}
}

func TestTranslate_StreamReplaced_Is440(t *testing.T) {
	evt := translate(&events.StreamReplaced{})
	assert.Equal(t, KindConnectionUpdate, evt.Kind)
	if assert.NotNil(t, evt.Connection) {
		assert.Equal(t, 440, evt.Connection.StatusCode)
	}
}

func TestTranslate_TemporaryBan_Is429(t *testing.T) {
	evt := translate(&events.TemporaryBan{})
	assert.Equal(t, KindConnectionUpdate, evt.Kind)
	if assert.NotNil(t, evt.Connection) {
		assert.Equal(t, 429, evt.Connection.StatusCode)
	}
}

func TestTranslate_PairSuccessRoutesToCredsUpdate(t *testing.T) {
	evt := translate(&events.PairSuccess{})
	assert.Equal(t, KindCredsUpdate, evt.Kind)
}

func TestTranslate_QR_ExtractsFirstCode(t *testing.T) {
	evt := translate(&events.QR{Codes: []string{"code-1", "code-2"}})
	assert.Equal(t, KindConnectionUpdate, evt.Kind)
	if assert.NotNil(t, evt.Connection) {
		assert.Equal(t, "code-1", evt.Connection.QR)
	}
}

func TestTranslate_UnknownEventKind(t *testing.T) {
	evt := translate(struct{}{})
	assert.Equal(t, KindUnknown, evt.Kind)
}

func TestTranslate_GroupInfo_ParticipantsChangeRoutesToParticipantsUpdate(t *testing.T) {
	evt := translate(&events.GroupInfo{Join: []types.JID{{User: "1"}}})
	assert.Equal(t, KindGroupParticipantsUpdate, evt.Kind)
}

func TestTranslate_GroupInfo_MetadataOnlyRoutesToGroupsUpdate(t *testing.T) {
	evt := translate(&events.GroupInfo{})
	assert.Equal(t, KindGroupsUpdate, evt.Kind)
}
