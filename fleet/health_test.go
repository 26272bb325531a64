package fleet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wafleet/sessionfleet/domain/session"
)

func newTestHealthMonitor(t *testing.T) (*HealthMonitor, *Reconnector, *FleetState) {
	t.Helper()
	r, state, _, _, _ := newTestReconnector(t)
	return NewHealthMonitor(state, r.manager, r), r, state
}

func TestProbeFor_ReturnsSameInstanceForSameSession(t *testing.T) {
	hm, _, _ := newTestHealthMonitor(t)
	p1 := hm.probeFor("session_1")
	p2 := hm.probeFor("session_1")
	assert.Same(t, p1, p2)
}

func TestStopMonitoring_RemovesProbeState(t *testing.T) {
	hm, _, _ := newTestHealthMonitor(t)
	hm.probeFor("session_1")
	hm.StopMonitoring("session_1")

	_, ok := hm.probes.Load("session_1")
	assert.False(t, ok)
}

func TestReinitializeSession_SkippedWhenReconnectionLockHeld(t *testing.T) {
	hm, _, state := newTestHealthMonitor(t)
	state.TryLockReconnection("session_1")

	hm.ReinitializeSession(context.Background(), "session_1")

	p := hm.probeFor("session_1")
	assert.False(t, p.lastReinitAttempt.IsZero(), "cooldown timestamp is recorded even when the lock blocks the actual reinit")
}

func TestReinitializeSession_RespectsCooldown(t *testing.T) {
	hm, _, _ := newTestHealthMonitor(t)

	hm.ReinitializeSession(context.Background(), "session_1")
	p := hm.probeFor("session_1")
	first := p.lastReinitAttempt
	assert.False(t, first.IsZero())

	hm.ReinitializeSession(context.Background(), "session_1")
	assert.Equal(t, first, p.lastReinitAttempt, "a call within the cooldown window must not update the attempt timestamp")
}

func TestRunProbeTick_SkipsSessionsWithoutConcreteSocket(t *testing.T) {
	hm, _, state := newTestHealthMonitor(t)
	state.PutSession(&session.Session{SessionID: "session_1", UserID: "1", Source: session.SourceTelegram})

	assert.NotPanics(t, func() { hm.runProbeTick(context.Background()) })
}

func TestRunSweep_SkipsSessionsWithoutConcreteSocket(t *testing.T) {
	hm, _, state := newTestHealthMonitor(t)
	state.PutSession(&session.Session{SessionID: "session_1", UserID: "1", Source: session.SourceTelegram})

	assert.NotPanics(t, func() { hm.runSweep(context.Background()) })
}
