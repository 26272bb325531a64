package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wafleet/sessionfleet/config"
	"github.com/wafleet/sessionfleet/domain/dedup"
	"github.com/wafleet/sessionfleet/infrastructure/chatbot"
	"github.com/wafleet/sessionfleet/infrastructure/valkey"
	"github.com/wafleet/sessionfleet/infrastructure/wasocket"
	"github.com/wafleet/sessionfleet/pkg/msgworker"
	"github.com/wafleet/sessionfleet/pkg/plugin"
	"github.com/wafleet/sessionfleet/storage/authstore"
	"github.com/wafleet/sessionfleet/storage/metastore"
	"github.com/wafleet/sessionfleet/storage/prefixcache"
	"gorm.io/gorm"
)

// Controller is the top-level bootstrap: it constructs every component
// (C1-C9), wires the cross-component hooks spec.md §2.8-2.9 describes,
// and owns the single Start/Shutdown lifecycle the cmd package drives.
type Controller struct {
	State       *FleetState
	Manager     *Manager
	Reconnector *Reconnector
	Health      *HealthMonitor
	WebDetector *WebDetector
	Dispatcher  *Dispatcher
	Batch       *BatchOperator
	Router      *Router
	Plugins     *plugin.Registry

	meta *metastore.Store
	pool *msgworker.MessageWorkerPool
	dedup *dedup.Map
	prefix *prefixcache.Cache

	log *logrus.Entry
}

// Dependencies carries the already-opened storage handles New builds on
// (the cmd package gets them from package config's lazy
// GetFleetDB/GetFleetAuthDB); New opens no database itself.
type Dependencies struct {
	FleetDB     *gorm.DB
	AuthDB      *gorm.DB
	ChatbotSink chatbot.Sink
	Valkey      *valkey.Client
}

// New builds the full component graph. It runs the metastore and
// authstore schema migrations and starts the dedup map's expiry sweep;
// every other background loop begins only once Start runs.
func New(ctx context.Context, deps Dependencies) (*Controller, error) {
	meta := metastore.New(deps.FleetDB)
	if err := meta.Init(ctx); err != nil {
		return nil, fmt.Errorf("fleet: init metastore: %w", err)
	}

	auth, err := authstore.New(ctx, deps.AuthDB)
	if err != nil {
		return nil, fmt.Errorf("fleet: init authstore: %w", err)
	}

	state := NewFleetState()
	sockets := wasocket.NewFactory(config.FleetStorageDir)
	manager := NewManager(state, meta, auth, sockets, config.FleetMaxSessions)

	sink := deps.ChatbotSink
	if sink == nil {
		sink = chatbot.NewHTTPSink("")
	}
	reconnector := NewReconnector(state, manager, meta, auth, sink)
	health := NewHealthMonitor(state, manager, reconnector)
	reconnector.StopMonitoring = health.StopMonitoring

	webDetector := NewWebDetector(state, manager, meta)

	dedupMap := dedup.New(dedupTTL)
	prefixCache := prefixcache.New(func(ctx context.Context) (map[string]string, error) {
		return meta.GetAllUserPrefixes(ctx)
	}, deps.Valkey, 10*time.Minute)

	plugins := plugin.New()
	pool := msgworker.NewMessageWorkerPool(config.MessageWorkerPoolSize, config.MessageWorkerQueueSize)
	dispatcher := NewDispatcher(state, manager, meta, dedupMap, prefixCache, plugins, pool, sink)

	batch := NewBatchOperator(state, config.WhatsappChannelJID, config.FleetStorageDir)
	reconnector.OnConnectionOpen = batch.EnqueueFollow

	router := NewRouter(reconnector, dispatcher, auth)
	manager.EventHandler = router.Handle

	return &Controller{
		State:       state,
		Manager:     manager,
		Reconnector: reconnector,
		Health:      health,
		WebDetector: webDetector,
		Dispatcher:  dispatcher,
		Batch:       batch,
		Router:      router,
		Plugins:     plugins,
		meta:        meta,
		pool:        pool,
		dedup:       dedupMap,
		prefix:      prefixCache,
		log:         logrus.WithField("component", "fleet.controller"),
	}, nil
}

// Start runs the boot-time rehydration pass, then launches every
// background loop: health sweep/probe, web-session takeover poll,
// batch follow/broadcast, and the message worker pool.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.Manager.Initialize(ctx); err != nil {
		return err
	}
	result, err := c.Manager.InitializeExistingSessions(ctx)
	if err != nil {
		return fmt.Errorf("fleet: rehydrate existing sessions: %w", err)
	}
	c.log.WithField("initialized", result.Initialized).
		WithField("total", result.Total).
		WithField("failed", result.Failed).
		Info("[CONTROLLER] existing sessions rehydrated")

	if err := c.prefix.Start(ctx); err != nil {
		return fmt.Errorf("fleet: start prefix cache: %w", err)
	}
	c.pool.Start(ctx)
	c.Manager.Start(ctx)
	c.Health.Start(ctx)
	c.WebDetector.Start(ctx)
	c.Batch.Start(ctx)
	return nil
}

// Shutdown tears down every background loop in roughly reverse
// dependency order.
func (c *Controller) Shutdown() {
	c.Batch.Stop()
	c.WebDetector.Stop()
	c.Health.Stop()
	c.Manager.Stop()
	c.pool.Stop()
	c.prefix.Stop()
	c.dedup.Stop()
}
