// Package server wires the worker's dependencies and owns its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/git-clone-worker/internal/api"
	"github.com/JakeFAU/git-clone-worker/internal/clock/system"
	"github.com/JakeFAU/git-clone-worker/internal/clone"
	"github.com/JakeFAU/git-clone-worker/internal/config"
	"github.com/JakeFAU/git-clone-worker/internal/coordinator"
	"github.com/JakeFAU/git-clone-worker/internal/ddp"
	"github.com/JakeFAU/git-clone-worker/internal/du"
	"github.com/JakeFAU/git-clone-worker/internal/fetcher/gitfetch"
	"github.com/JakeFAU/git-clone-worker/internal/id/uuid"
	"github.com/JakeFAU/git-clone-worker/internal/logging"
	"github.com/JakeFAU/git-clone-worker/internal/observer"
	"github.com/JakeFAU/git-clone-worker/internal/progress"
	progresssinks "github.com/JakeFAU/git-clone-worker/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/git-clone-worker/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/git-clone-worker/internal/publisher/pubsub"
	"github.com/JakeFAU/git-clone-worker/internal/queue"
	queueMemory "github.com/JakeFAU/git-clone-worker/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/git-clone-worker/internal/storage/gcs"
	localstorage "github.com/JakeFAU/git-clone-worker/internal/storage/local"
	memoryStorage "github.com/JakeFAU/git-clone-worker/internal/storage/memory"
	pgstore "github.com/JakeFAU/git-clone-worker/internal/storage/postgres"
	"github.com/JakeFAU/git-clone-worker/internal/store"
	"github.com/JakeFAU/git-clone-worker/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	workerID string

	manager   *Manager
	apiServer *api.Server
	executor  *worker.Executor
	local     *queueMemory.Coordinator

	mu     sync.Mutex
	client *ddp.Client

	progressHub  *progress.Hub
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
	runStore     *pgstore.RunStore
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger, workerID string) *App {
	type sanitizedConfig struct {
		Coordinator string `json:"coordinator"`
		Root        string `json:"root"`
		JobType     string `json:"job_type"`
		BasePath    string `json:"base_path"`
		SizeLimitKB int64  `json:"size_limit_kb"`
		Local       bool   `json:"local"`
	}
	logger.Info("Creating application", zap.Any("config", sanitizedConfig{
		Coordinator: fmt.Sprintf("%s:%d", cfg.Coordinator.Host, cfg.Coordinator.Port),
		Root:        cfg.Queue.Root,
		JobType:     cfg.Queue.JobType,
		BasePath:    cfg.Checkout.BasePath,
		SizeLimitKB: cfg.Checkout.SizeLimitKB,
		Local:       len(cfg.Queue.LocalRepos) > 0,
	}))
	return &App{
		cfg:      cfg,
		logger:   logger,
		workerID: workerID,
	}
}

// Manager exposes the lifecycle manager.
func (a *App) Manager() *Manager {
	return a.manager
}

// Run starts the HTTP surface and the lifecycle manager, and blocks until the
// worker has shut down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	stopSignals := HandleSignals(ctx, a.manager, a.logger.Named("signals"))
	defer stopSignals()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	runErr := a.manager.Run(ctx)
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	if err := a.Close(shutdownCtx); err != nil {
		a.logger.Warn("close failed", zap.Error(err))
	}
	return runErr
}

// Close releases infrastructure clients. It is safe to call after Run.
func (a *App) Close(ctx context.Context) error {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
	if err := a.logger.Sync(); err != nil {
		// Syncing stderr/stdout fails on some platforms; nothing to do.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return build(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	host, _ := os.Hostname()
	workerID, err := uuid.New().WorkerID(host)
	if err != nil {
		return nil, fmt.Errorf("worker id: %w", err)
	}
	logger = logger.With(zap.String("worker_id", workerID))
	zap.ReplaceGlobals(logger)

	app := NewApp(cfg, logger, workerID)
	app.logger.Info("building application dependencies")

	manifests, err := setupManifests(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	var runs store.RunRepository
	if app.runStore != nil {
		runs = app.runStore
	}
	emitter, err := setupProgress(ctx, app, runs, reg)
	if err != nil {
		return nil, err
	}
	app.executor, err = setupExecutor(app, publisher, manifests, emitter)
	if err != nil {
		return nil, err
	}

	if len(cfg.Queue.LocalRepos) > 0 {
		app.local = queueMemory.NewCoordinator(cfg.Queue.MaxRetries, len(cfg.Queue.LocalRepos))
		for _, repo := range cfg.Queue.LocalRepos {
			id := app.local.Add(repo)
			app.logger.Debug("queued local job", zap.String("job_id", id), zap.String("repo", repo))
		}
		app.logger.Info("using in-process coordinator", zap.Int("jobs", len(cfg.Queue.LocalRepos)))
	}

	app.manager = NewManager(app.dial, app.start, logger.Named("lifecycle"))
	app.apiServer = api.NewServer(app.manager.Ready, runs, logger.Named("api"))
	return app, nil
}

func setupManifests(ctx context.Context, app *App) (clone.BlobStore, error) {
	switch app.cfg.Manifest.Backend {
	case config.ManifestGCS:
		app.logger.Info("using GCS manifest backend", zap.String("bucket", app.cfg.Manifest.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Manifest.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.ManifestLocal:
		app.logger.Info("using local manifest backend", zap.String("path", app.cfg.Manifest.Local.BaseDir))
		blobStore, err := localstorage.New(app.cfg.Manifest.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.ManifestMemory:
		app.logger.Info("using in-memory manifest backend")
		return memoryStorage.NewBlobStore(), nil
	default:
		app.logger.Debug("manifests disabled")
		return nil, nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("No DSN specified for database, skipping run ledger")
		return nil
	}
	runStore, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:             app.cfg.Database.DSN,
		Table:           app.cfg.Database.Table,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.runStore = runStore
	app.logger.Info("run ledger initialized", zap.String("table", app.cfg.Database.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) (clone.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.publisher = gcppublisher.New(client.Topic(app.cfg.PubSub.TopicName))
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.publisher, nil
}

func setupProgress(
	ctx context.Context,
	app *App,
	runs store.RunRepository,
	reg prometheus.Registerer,
) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if runs != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(runs, app.workerID, app.logger.Named("progress_store")))
		app.logger.Debug("Added run ledger sink")
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}

func setupExecutor(
	app *App,
	publisher clone.Publisher,
	manifests clone.BlobStore,
	emitter progress.Emitter,
) (*worker.Executor, error) {
	fetcher := gitfetch.New(gitfetch.Config{
		URLTemplate: app.cfg.Checkout.URLTemplate,
		Depth:       app.cfg.Checkout.Depth,
	}, app.logger.Named("fetcher"))
	workerCfg := worker.Config{
		BasePath:       app.cfg.Checkout.BasePath,
		SizeLimitBytes: app.cfg.SizeLimitBytes(),
		Topic:          app.cfg.PubSub.TopicName,
		ManifestPrefix: app.cfg.Manifest.Prefix,
		WorkerID:       app.workerID,
	}
	app.logger.Info("executor config",
		zap.String("base_path", workerCfg.BasePath),
		zap.Int64("size_limit_bytes", workerCfg.SizeLimitBytes),
		zap.String("topic", workerCfg.Topic),
	)
	exec, err := worker.New(worker.Dependencies{
		Fetcher:   fetcher,
		Estimator: du.New(),
		Clock:     system.New(),
		Progress:  emitter,
		Publisher: publisher,
		Manifests: manifests,
	}, workerCfg, app.logger.Named("executor"))
	if err != nil {
		return nil, fmt.Errorf("executor init failed: %w", err)
	}
	return exec, nil
}

// dial opens the coordinator session. In local mode the in-process
// coordinator stands in for the DDP server.
func (a *App) dial(ctx context.Context) (Connection, error) {
	if a.local != nil {
		return newLocalConn(), nil
	}
	client, err := ddp.Dial(ctx, ddp.Config{
		Host:             a.cfg.Coordinator.Host,
		Port:             a.cfg.Coordinator.Port,
		UseSSL:           a.cfg.Coordinator.UseSSL,
		Path:             a.cfg.Coordinator.Path,
		HandshakeTimeout: a.cfg.HandshakeTimeout(),
	}, a.logger.Named("ddp"))
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.client = client
	a.mu.Unlock()
	a.logger.Info("connected to coordinator", zap.String("session", client.Session()))
	return client, nil
}

// start subscribes to the job collection and builds the queue and observer
// for a connected session.
func (a *App) start(ctx context.Context, _ Connection) (Queue, func(context.Context), error) {
	pollCfg := queue.Config{PollInterval: a.cfg.PollInterval()}
	if a.local != nil {
		runner := queue.New(a.local, a.executor, pollCfg, a.logger.Named("queue"))
		obs := observer.New(runner, a.logger.Named("observer"))
		return runner, func(ctx context.Context) { obs.Run(ctx, a.local.Changes()) }, nil
	}

	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	coord, err := coordinator.New(client, coordinator.Config{
		Root:        a.cfg.Queue.Root,
		JobType:     a.cfg.Queue.JobType,
		WorkTimeout: a.cfg.WorkTimeout(),
	}, a.logger.Named("coordinator"))
	if err != nil {
		return nil, nil, err
	}

	var userID any
	if a.cfg.Queue.UserID != "" {
		userID = a.cfg.Queue.UserID
	}
	if err := client.Subscribe(ctx, a.cfg.Queue.Subscription, userID); err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", a.cfg.Queue.Subscription, err)
	}
	a.logger.Info("subscribed to jobs", zap.String("subscription", a.cfg.Queue.Subscription))

	runner := queue.New(coord, a.executor, pollCfg, a.logger.Named("queue"))
	obs := observer.New(runner, a.logger.Named("observer"))
	observe := func(ctx context.Context) {
		obs.Run(ctx, coordinator.Statuses(ctx, client.Changes(), a.cfg.Queue.Collection))
	}
	return runner, observe, nil
}

// localConn stands in for a transport that cannot fail.
type localConn struct {
	done chan struct{}
	once sync.Once
}

func newLocalConn() *localConn {
	return &localConn{done: make(chan struct{})}
}

func (c *localConn) Done() <-chan struct{} { return c.done }

func (c *localConn) Err() error { return nil }

func (c *localConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
