// Package app wires configuration, infrastructure, and every domain
// component into the two runtime modes: api (HTTP server) and worker
// (scheduled discovery + opportunistic correlation).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/singura/singura/internal/audit"
	"github.com/singura/singura/internal/config"
	"github.com/singura/singura/internal/httpserver"
	"github.com/singura/singura/internal/orgcontext"
	"github.com/singura/singura/internal/platform"
	"github.com/singura/singura/internal/telemetry"
	"github.com/singura/singura/internal/version"

	"github.com/singura/singura/pkg/automation"
	"github.com/singura/singura/pkg/connection"
	"github.com/singura/singura/pkg/connector"
	"github.com/singura/singura/pkg/connector/google"
	"github.com/singura/singura/pkg/connector/microsoft"
	"github.com/singura/singura/pkg/connector/slack"
	"github.com/singura/singura/pkg/correlation"
	"github.com/singura/singura/pkg/cryptostore"
	"github.com/singura/singura/pkg/detection"
	"github.com/singura/singura/pkg/discovery"
	"github.com/singura/singura/pkg/oauthlifecycle"
	"github.com/singura/singura/pkg/organization"
	"github.com/singura/singura/pkg/quality"
	"github.com/singura/singura/pkg/realtime"
	"github.com/singura/singura/pkg/risk"
)

// deps bundles every long-lived component built during startup, shared
// between the api and worker run modes.
type deps struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *pgxpool.Pool
	rdb    *redis.Client

	hub           *realtime.Hub
	oauthMgr      *oauthlifecycle.Manager
	organizations *organization.Store
	connections   *connection.Store
	automations   *automation.Store
	orchestrator  *discovery.Orchestrator
	pipeline      *scoringPipeline
	qualityStore  *quality.Store
	correlator    *correlation.Correlator
}

// Run is the main application entry point. It reads config, connects to
// infrastructure, and starts the appropriate mode (api or worker).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting singura", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	shutdownTracer, err := telemetry.InitTracer(ctx, "singura", version.Version, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if err := platform.VerifySchema(ctx, db); err != nil {
		return fmt.Errorf("verifying schema: %w", err)
	}
	logger.Info("migrations applied and schema verified")

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(telemetry.All()...)

	d, err := build(cfg, logger, db, rdb)
	if err != nil {
		return fmt.Errorf("wiring components: %w", err)
	}

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, d, metricsReg)
	case "worker":
		return runWorker(ctx, d)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

// build wires every domain component (A-J) from configuration and shared
// infrastructure, independent of which run mode uses them.
func build(cfg *config.Config, logger *slog.Logger, db *pgxpool.Pool, rdb *redis.Client) (*deps, error) {
	creds, err := cryptostore.New(db, cfg.MasterKeyHex, cfg.MasterKeyVersion)
	if err != nil {
		return nil, fmt.Errorf("initializing credential store: %w", err)
	}

	oauthClients := map[connector.Platform]oauthlifecycle.ClientCredentials{
		connector.PlatformGoogle:    {ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret},
		connector.PlatformSlack:     {ClientID: cfg.SlackClientID, ClientSecret: cfg.SlackClientSecret},
		connector.PlatformMicrosoft: {ClientID: cfg.MicrosoftClientID, ClientSecret: cfg.MicrosoftClientSecret},
	}

	hub := realtime.NewHub(logger)

	organizations := organization.NewStore(db)
	connections := connection.NewStore(db)
	automations := automation.NewStore(db)

	oauthMgr := oauthlifecycle.New(creds, logger, oauthClients, cfg.MicrosoftTenantID,
		cfg.RefreshMaxRetries, time.Duration(cfg.RefreshBaseDelayMs)*time.Millisecond, connections, hub)

	notifier := &realtimeNotifier{hub: hub}
	orchestrator := discovery.New(db, automations, logger,
		notifier, oauthMgr, time.Duration(cfg.DiscoveryWindowDefault)*24*time.Hour)

	detector := detection.New(logger,
		&detection.VelocityDetector{ThresholdPerSecond: cfg.VelocityEventsPerSecond},
		&detection.BatchOperationDetector{WindowSeconds: cfg.BatchWindowSeconds, MinCount: cfg.BatchMinCount},
		&detection.OffHoursDetector{StartHour: cfg.OffHoursStartHour, EndHour: cfg.OffHoursEndHour},
		&detection.RegularIntervalDetector{MaxStdDevMs: cfg.TimingVarianceMaxStdDevMs, MinSamples: 5},
		detection.NewAIProviderDetector(),
		&detection.PermissionEscalationDetector{},
		&detection.DataVolumeDetector{BaselineFactor: cfg.DataVolumeBaselineFactor},
	)

	alertSink := &realtimeAlertSink{hub: hub}
	riskEngine := risk.New(db, alertSink)

	correlationStore := correlation.NewStore(db)
	correlator := correlation.New(correlationStore, logger)

	pipeline := newScoringPipeline(detector, riskEngine, correlator, hub, logger)

	qualityStore := quality.NewStoreWithRetention(db, cfg.BaselineRetentionPerDetector)

	return &deps{
		cfg:           cfg,
		logger:        logger,
		db:            db,
		rdb:           rdb,
		hub:           hub,
		oauthMgr:      oauthMgr,
		organizations: organizations,
		connections:   connections,
		automations:   automations,
		orchestrator:  orchestrator,
		pipeline:      pipeline,
		qualityStore:  qualityStore,
		correlator:    correlator,
	}, nil
}

func runAPI(ctx context.Context, d *deps, metricsReg *prometheus.Registry) error {
	auditWriter := audit.NewWriter(d.db, d.logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	srv := httpserver.NewServer(d.cfg, d.logger, d.db, d.rdb, metricsReg)

	srv.APIRouter.Mount("/organizations", organization.NewHandler(d.organizations, d.logger).Routes())
	srv.APIRouter.Mount("/connections", connection.NewHandler(d.connections, cryptoStoreFrom(d), d.logger).Routes())
	srv.APIRouter.Mount("/automations", automation.NewHandler(d.automations, d.logger).Routes())
	srv.APIRouter.Mount("/audit-log", audit.NewHandler(d.db, d.logger).Routes())

	authSecret := []byte(d.cfg.BusAuthTokenSecret)
	realtimeHandler := realtime.NewHandler(d.hub, authSecret, d.cfg.BusSubscriberBuffer, d.logger)
	srv.APIRouter.Handle("/stream", realtimeHandler)

	srv.APIRouter.Post("/connections/{id}/discover", d.handleTriggerDiscovery)

	httpSrv := &http.Server{
		Addr:         d.cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("api server listening", "addr", d.cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		d.logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, d *deps) error {
	d.logger.Info("worker started")

	correlatorInterval, err := time.ParseDuration(d.cfg.CorrelatorInterval)
	if err != nil {
		return fmt.Errorf("parsing correlator interval %q: %w", d.cfg.CorrelatorInterval, err)
	}

	go d.runDiscoveryLoop(ctx)
	go d.runOpportunisticReconciliation(ctx, correlatorInterval)

	<-ctx.Done()
	d.logger.Info("worker stopped")
	return nil
}

// cryptoStoreFrom threads the credential store through to handlers that
// need it. It is rebuilt here rather than stored redundantly on deps
// because only connection creation/revocation (not discovery) touches it
// from the API surface.
func cryptoStoreFrom(d *deps) *cryptostore.Store {
	store, err := cryptostore.New(d.db, d.cfg.MasterKeyHex, d.cfg.MasterKeyVersion)
	if err != nil {
		// build() already validated the key during startup; a failure here
		// would mean the key changed underneath a running process.
		d.logger.Error("rebuilding credential store", "error", err)
	}
	return store
}

// handleTriggerDiscovery runs discovery synchronously against one
// connection, invoked on demand from the dashboard rather than waiting for
// the worker's scheduled loop.
func (d *deps) handleTriggerDiscovery(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgcontext.FromContext(r.Context())
	if !ok {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "no organization resolved")
		return
	}
	connectionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid connection id")
		return
	}

	conn, err := d.connections.Get(r.Context(), orgID, connectionID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "connection not found")
		return
	}

	platformConn, err := d.buildConnector(conn)
	if err != nil {
		d.logger.Error("building connector", "error", err, "connection_id", connectionID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to initialize connector")
		return
	}

	run, err := d.orchestrator.RunFor(r.Context(), orgID, connectionID, conn.Platform, platformConn, d.pipeline.onActivity, d.pipeline.onDiscovered)
	d.pipeline.finish(r.Context(), orgID)
	if err != nil {
		d.logger.Error("discovery run failed", "error", err, "connection_id", connectionID)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "discovery run failed")
		return
	}

	httpserver.Respond(w, http.StatusOK, run)
}

// buildConnector constructs the connector.Connector for a platform
// connection, backed by the OAuth lifecycle manager's token source.
func (d *deps) buildConnector(conn connection.PlatformConnection) (connector.Connector, error) {
	tokens := oauthlifecycle.NewConnectionTokenSource(d.oauthMgr, conn.ID, conn.Platform)

	switch conn.Platform {
	case connector.PlatformSlack:
		return slack.New(tokens, d.logger), nil
	case connector.PlatformGoogle:
		return google.New(tokens, conn.ExternalAccountID), nil
	case connector.PlatformMicrosoft:
		return microsoft.New(tokens), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", conn.Platform)
	}
}

// runDiscoveryLoop periodically runs discovery against every active
// connection across every organization.
func (d *deps) runDiscoveryLoop(ctx context.Context) {
	interval := time.Duration(d.cfg.DiscoveryWindowDefault) * 24 * time.Hour / 4
	if interval < time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.runAllConnections(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runAllConnections(ctx)
		}
	}
}

// runAllConnections fans a scheduled discovery pass out across every active
// connection, bounded to cfg.DiscoveryPoolSize concurrent runs so a large
// fleet of connections doesn't overwhelm downstream platform APIs or the
// database pool.
func (d *deps) runAllConnections(ctx context.Context) {
	conns, err := d.connections.ListAllActive(ctx)
	if err != nil {
		d.logger.Error("worker: listing connections for scheduled discovery", "error", err)
		return
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.DiscoveryPoolSize)

	for _, conn := range conns {
		conn := conn
		group.Go(func() error {
			d.runOneConnection(gctx, conn)
			return nil
		})
	}
	_ = group.Wait()
}

func (d *deps) runOneConnection(ctx context.Context, conn connection.PlatformConnection) {
	platformConn, err := d.buildConnector(conn)
	if err != nil {
		d.logger.Error("worker: building connector", "error", err, "connection_id", conn.ID)
		return
	}

	if _, err := d.orchestrator.RunFor(ctx, conn.OrganizationID, conn.ID, conn.Platform, platformConn, d.pipeline.onActivity, d.pipeline.onDiscovered); err != nil {
		if !errors.Is(err, discovery.ErrAlreadyRunning) {
			d.logger.Error("worker: discovery run failed", "error", err, "connection_id", conn.ID)
		}
		return
	}
	d.pipeline.finish(ctx, conn.OrganizationID)
}

// runOpportunisticReconciliation periodically checks every detector's latest
// quality baseline for drift. Correlation itself stays run-scoped (see
// scoringPipeline.finish): re-correlating automations without a fresh
// activity window would need raw events persisted independently of a
// discovery run, which nothing in this platform does yet, so there is no
// data this loop could re-correlate against between runs.
func (d *deps) runOpportunisticReconciliation(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkBaselineDrift(ctx)
		}
	}
}

// checkBaselineDrift compares each detector's two most recent baselines and
// broadcasts any alert DetectDrift raises. Baselines are only recorded when
// an operator submits a labeled evaluation (see pkg/quality), so this is a
// no-op between evaluations rather than a continuous measurement.
func (d *deps) checkBaselineDrift(ctx context.Context) {
	for _, name := range d.pipeline.detector.Names() {
		latest, ok, err := d.qualityStore.Latest(ctx, name)
		if err != nil {
			d.logger.Error("worker: loading latest baseline", "error", err, "detector", name)
			continue
		}
		if !ok {
			continue
		}

		previous, ok, err := d.qualityStore.PriorTo(ctx, name, latest.Version)
		if err != nil {
			d.logger.Error("worker: loading prior baseline", "error", err, "detector", name)
			continue
		}
		if !ok {
			continue
		}

		latestAsResult := quality.EvaluationResult{
			DetectorName: latest.DetectorName,
			SampleSize:   latest.SampleSize,
			Precision:    latest.Precision,
			Recall:       latest.Recall,
			F1:           latest.F1,
		}
		for _, alert := range quality.DetectDrift(previous, latestAsResult) {
			d.logger.Warn("worker: quality drift detected", "detector", name, "severity", alert.Severity, "message", alert.Message)
			d.hub.BroadcastAll(realtime.MessageSystemNotification, realtime.SystemNotificationPayload{
				Level:   driftSeverityToNotificationLevel(alert.Severity),
				Message: fmt.Sprintf("%s: %s", name, alert.Message),
			})
		}
	}
}

// driftSeverityToNotificationLevel maps a quality.Severity onto
// system.notification's level enum, since the bus carries no drift-specific
// message type of its own.
func driftSeverityToNotificationLevel(s quality.Severity) string {
	if s == quality.SeverityCritical {
		return "error"
	}
	return "warning"
}
