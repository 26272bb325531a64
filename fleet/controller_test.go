package fleet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	fleetDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	authDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	c, err := New(context.Background(), Dependencies{FleetDB: fleetDB, AuthDB: authDB})
	require.NoError(t, err)
	return c
}

func TestNew_WiresCrossComponentHooks(t *testing.T) {
	c := newTestController(t)

	assert.NotNil(t, c.Reconnector.StopMonitoring, "C2 must be able to stop C3's probe on close")
	assert.NotNil(t, c.Reconnector.OnConnectionOpen, "C2 must be able to enqueue C6's auto-follow on open")
	assert.NotNil(t, c.Manager.EventHandler, "C1 must hand every socket's events to the router")
}

func TestStartAndStop_CleanLifecycle(t *testing.T) {
	c := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx))
	c.Shutdown()
}
