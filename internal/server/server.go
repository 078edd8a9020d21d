package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/routewatch/routewatch/internal/alerts"
	"github.com/routewatch/routewatch/internal/firehose"
	"github.com/routewatch/routewatch/internal/ingest"
	"github.com/routewatch/routewatch/internal/metrics"
	"github.com/routewatch/routewatch/internal/push"
	"github.com/routewatch/routewatch/internal/registry"
	"github.com/routewatch/routewatch/internal/router"
	"github.com/routewatch/routewatch/internal/server/middleware"
	"github.com/routewatch/routewatch/internal/store"
	"github.com/routewatch/routewatch/internal/worker"
	"github.com/routewatch/routewatch/pkg/auth"
	"github.com/routewatch/routewatch/pkg/config"
	"github.com/routewatch/routewatch/pkg/geo"
	"github.com/routewatch/routewatch/pkg/state"
	"github.com/routewatch/routewatch/pkg/state/statemanager"
	"github.com/routewatch/routewatch/pkg/transport"
)

// Collaborators are the external services the core delegates to. main wires
// the real implementations; tests substitute fakes.
type Collaborators struct {
	Verifier      auth.TokenVerifier
	Stops         store.StopSource
	Subscriptions store.SubscriptionSource
	Locations     store.LocationSink
	Notifier      push.Notifier
	Firehose      *firehose.Publisher // nil disables mirroring
	RegistryStore registry.Store
}

type App struct {
	logger       *slog.Logger
	config       *config.Config
	stateManager state.Manager
	registry     *registry.Registry
	pipeline     *ingest.Pipeline
	eventRouter  *router.EventRouter
	pool         *worker.Pool
	collector    *metrics.Collector
	wg           sync.WaitGroup
	http         *http.Server

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, collab Collaborators) *App {
	collector := metrics.NewCollector()
	stateManager := statemanager.NewInMemoryManager(logger)
	pool := worker.NewPool(cfg.Workers.Size, cfg.Workers.QueueDepth, func() { collector.TasksDropped.Inc() }, logger)

	reg := registry.New(
		collab.RegistryStore,
		geo.PlanarMatcher{},
		collab.Stops,
		registry.Config{AutoRegister: cfg.Registry.AutoRegister},
		collector,
		logger,
	)

	pipeline := ingest.NewPipeline(stateManager, reg, collab.Locations, pool, collector, collab.Firehose, logger)
	alertEngine := alerts.NewEngine(
		collab.Subscriptions,
		collab.Stops,
		collab.Notifier,
		pool,
		pipeline,
		alerts.Config{LeadStops: cfg.Alerts.LeadStops, MinutesPerStop: cfg.Alerts.MinutesPerStop},
		collector,
		logger,
	)
	pipeline.SetAlertEngine(alertEngine)

	eventRouter := router.NewEventRouter(logger, stateManager, reg, pipeline, collector)

	app := &App{
		logger:       logger,
		config:       cfg,
		stateManager: stateManager,
		registry:     reg,
		pipeline:     pipeline,
		eventRouter:  eventRouter,
		pool:         pool,
		collector:    collector,
		ctx:          rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	connCounter := middleware.RiderConnectionCounter(stateManager.RiderConnectionCount)
	// Create a cycler function that closes over the stateManager and logger.
	connCycler := func(riderID string) {
		oldest, found := stateManager.FindOldestRiderConnection(riderID)
		if found {
			logger.Info("Cycling connection: closing oldest", slog.String("riderID", riderID), slog.String("connID", oldest.ID.String()))
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewAuthMiddleware(logger, collab.Verifier),
			middleware.NewConnectionLimiter(
				logger,
				connCounter,
				connCycler,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	a.pool.Run(a.ctx)

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("riderID", reqMeta.RiderID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	// register new connection
	stateConn, err := a.stateManager.RegisterConnection(conn, reqMeta.IP)
	if err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	// associate the authenticated rider with the registered connection.
	if _, err := a.stateManager.AssociateRider(stateConn.ID, reqMeta.RiderID); err != nil {
		connLogger.Error("Failed to associate rider with connection", slog.Any("error", err))
		conn.Close(err)
		return
	}
	a.collector.ActiveConnections.Inc()

	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		if dErr := a.stateManager.DeregisterConnection(id); dErr != nil {
			connLogger.Error("Failed to deregister connection from state", slog.Any("error", dErr))
		}
		a.collector.ActiveConnections.Dec()
	})

	connLogger.Info("Rider connection fully established")
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.stateManager.AllConnections() {
		conn.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.pool.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
