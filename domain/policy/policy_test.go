package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMethodNotAllowed_IsSkippedEntirely(t *testing.T) {
	e := GetDisconnectConfig(CodeMethodNotAllowed, "")
	assert.False(t, e.ShouldReconnect)
	assert.False(t, e.IsPermanent)
	assert.False(t, e.RequiresCleanup)
	assert.False(t, e.RequiresNotification)
}

func TestUnknownCode_UsesSafeDefault(t *testing.T) {
	e := GetDisconnectConfig(9999, "")
	assert.True(t, e.ShouldReconnect)
	assert.True(t, e.RequiresAuthClear)
	assert.Equal(t, 10*time.Second, e.ReconnectDelay)
	assert.Equal(t, 2, e.MaxAttempts)
}

func TestCode500_DisambiguatesByReason(t *testing.T) {
	bad := GetDisconnectConfig(CodeBadSession, "stream error: Bad MAC on decrypt")
	assert.Equal(t, "BAD_SESSION", bad.Name)
	assert.Equal(t, 2, bad.MaxAttempts)

	internal := GetDisconnectConfig(CodeInternalServerError, "internal server error")
	assert.Equal(t, "INTERNAL_SERVER_ERROR", internal.Name)
	assert.Equal(t, 5, internal.MaxAttempts)
}

func TestCode408_IsPinnedPermanent(t *testing.T) {
	e := GetDisconnectConfig(CodeTimedOut, "")
	assert.True(t, e.IsPermanent)
	assert.True(t, e.RequiresCleanup)
	assert.True(t, e.RequiresNotification)
	assert.False(t, e.ShouldReconnect)
}

func Test515And516_ScheduleWithin2To3Seconds(t *testing.T) {
	for _, code := range []int{CodeRestartRequired, CodeStreamErrorUnknown} {
		e := GetDisconnectConfig(code, "")
		assert.True(t, e.Supports515Flow)
		assert.GreaterOrEqual(t, e.ReconnectDelay, 2*time.Second)
		assert.LessOrEqual(t, e.ReconnectDelay, 3*time.Second)
	}
}

func TestGetReconnectDelay_ExponentialBackoffCapsAtMaxDelay(t *testing.T) {
	delay0 := GetReconnectDelay(CodeTooManyRequests, "", 0)
	assert.Equal(t, 5*time.Second, delay0)

	delayLarge := GetReconnectDelay(CodeTooManyRequests, "", 20)
	assert.Equal(t, 5*time.Minute, delayLarge)
}

func TestDump_IncludesUnknownDefault(t *testing.T) {
	entries := Dump()
	found := false
	for _, e := range entries {
		if e.Name == "UNKNOWN" {
			found = true
		}
	}
	assert.True(t, found)
}
