package runner

import (
	"context"
	"database/sql"
	"net/http"
	"path/filepath"
	"time"

	gcs "cloud.google.com/go/storage"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/batches"
	"github.com/tendant/cutimage-pipeline/internal/batchstore"
	"github.com/tendant/cutimage-pipeline/internal/config"
	"github.com/tendant/cutimage-pipeline/internal/dbosruntime"
	"github.com/tendant/cutimage-pipeline/internal/dedupe"
	"github.com/tendant/cutimage-pipeline/internal/handlers"
	"github.com/tendant/cutimage-pipeline/internal/llm"
	"github.com/tendant/cutimage-pipeline/internal/metrics"
	"github.com/tendant/cutimage-pipeline/internal/retention"
	"github.com/tendant/cutimage-pipeline/internal/storage"
	"github.com/tendant/cutimage-pipeline/internal/workflows"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"github.com/tendant/simple-content/pkg/simplecontent/presets"
	"gitlab.com/tozd/go/errors"
)

// Config holds the configuration for initializing the pipeline
type Config = config.Config

// LoadConfig reads .env, the optional YAML file and the environment
func LoadConfig() (*Config, error) {
	return config.Load()
}

// DefaultConfig returns the built-in settings
func DefaultConfig() *Config {
	return config.Defaults()
}

// Runner assembles the stores, the batch workflow, the run queue and the
// HTTP surface of one pipeline process
type Runner struct {
	cfg     *Config
	logger  zerolog.Logger
	runtime *dbosruntime.Runtime

	runner  *workflows.WorkflowRunner
	service *batches.Service
	batch   *workflows.BatchWorkflow
	sweeper *retention.Sweeper
	metrics *metrics.Metrics
	handler http.Handler

	closers []func() error
}

// New creates and initializes the pipeline. With a DBOS database URL runs
// go through the durable queue; otherwise they run in-process.
func New(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{cfg: cfg, logger: logger, metrics: metrics.New()}
	if err := r.init(ctx); err != nil {
		_ = r.close()
		return nil, err
	}
	return r, nil
}

func (r *Runner) init(ctx context.Context) error {
	cfg := r.cfg
	ctx = r.logger.WithContext(ctx)

	assets, uploads, err := r.openStorage(ctx)
	if err != nil {
		return err
	}

	store, err := r.openBatchStore(ctx)
	if err != nil {
		return err
	}

	llmClient := llm.New(llm.Options{
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		APIKey:  cfg.OpenAIAPIKey,
	})
	generator := dedupe.NewLLMGenerator(llmClient)
	if generator.Configured() {
		r.logger.Info().Str("model", llmClient.Model()).Msg("title generation enabled")
	} else {
		r.logger.Warn().Msg("OPENAI_API_KEY not set; title rewriting reports a cell error per row")
	}

	if cfg.Durable() {
		r.runtime, err = dbosruntime.NewRuntime(ctx, dbosruntime.Config{
			DatabaseURL:        cfg.DBOSDatabaseURL,
			AppName:            cfg.DBOSAppName,
			QueueName:          cfg.DBOSQueueName,
			ApplicationVersion: cfg.DBOSAppVersion,
		})
		if err != nil {
			return errors.Errorf("failed to initialize DBOS: %w", err)
		}
		rt := r.runtime
		r.closers = append(r.closers, func() error { return rt.Shutdown(10 * time.Second) })
	}

	r.runner = workflows.NewWorkflowRunner(r.runtime,
		workflows.WithConcurrency(cfg.Concurrency),
		workflows.WithBaseContext(context.WithoutCancel(ctx)),
		workflows.WithLogger(r.logger),
	)

	r.batch = workflows.NewBatchWorkflow(workflows.BatchWorkflowConfig{
		Store:     store,
		Uploads:   uploads,
		Results:   assets,
		Cropper:   workflows.NewCropper(storage.NewHTTPFetcher(nil), assets, r.metrics),
		Generator: generator,
		Metrics:   r.metrics,
	})
	r.runner.Register(pipeline.JobCutImage, r.batch)
	r.logger.Info().Str("workflow", r.batch.Name()).Str("job", pipeline.JobCutImage).Msg("registered workflow")

	// DBOS must launch after workflow registration
	if r.runtime != nil {
		if err := r.runtime.Launch(); err != nil {
			return err
		}
		r.logger.Info().
			Str("app", r.runtime.AppName()).
			Str("queue", r.runtime.QueueName()).
			Msg("DBOS runtime initialized")
	}

	r.service = batches.NewService(batches.Config{
		Store:         store,
		Uploads:       uploads,
		Assets:        assets,
		Runner:        r.runner,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	r.sweeper = retention.NewSweeper(assets, cfg.CleanupMaxAge)
	r.handler = handlers.NewRouter(handlers.RouterConfig{
		Service: r.service,
		Metrics: r.metrics,
		Logger:  r.logger,
	})
	return nil
}

// openStorage returns the asset store and the upload store
func (r *Runner) openStorage(ctx context.Context) (storage.Store, storage.UploadStore, error) {
	cfg := r.cfg

	var bucket storage.Store
	if cfg.StorageBackend == config.BackendGCS || cfg.UploadBackend == config.BackendGCS {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, errors.Errorf("failed to create GCS client: %w", err)
		}
		r.closers = append(r.closers, client.Close)
		bucket, err = storage.NewGCSStore(client, cfg.GCSBucket, "")
		if err != nil {
			return nil, nil, err
		}
	}

	var local storage.Store
	if cfg.StorageBackend == config.BackendFilesystem || cfg.UploadBackend == config.BackendFilesystem {
		fs, err := storage.NewFilesystemStorage(cfg.StorageDir)
		if err != nil {
			return nil, nil, err
		}
		local = fs
	}

	assets := local
	if cfg.StorageBackend == config.BackendGCS {
		assets = bucket
	}

	var uploads storage.UploadStore
	switch cfg.UploadBackend {
	case config.BackendContent:
		svc, cleanup, err := presets.NewDevelopment(
			presets.WithDevStorage(filepath.Join(cfg.StorageDir, "content")),
		)
		if err != nil {
			return nil, nil, errors.Errorf("failed to initialize simple-content service: %w", err)
		}
		r.closers = append(r.closers, func() error { cleanup(); return nil })
		uploads = storage.NewContentStore(svc)
	case config.BackendGCS:
		uploads = storage.NewKeyedUploads(bucket)
	default:
		uploads = storage.NewKeyedUploads(local)
	}

	r.logger.Info().
		Str("storage_backend", cfg.StorageBackend).
		Str("upload_backend", cfg.UploadBackend).
		Str("storage_dir", cfg.StorageDir).
		Msg("storage initialized")
	return assets, uploads, nil
}

func (r *Runner) openBatchStore(ctx context.Context) (batchstore.Store, error) {
	if r.cfg.BatchDatabaseURL == "" {
		return batchstore.NewFileStore(filepath.Join(r.cfg.StorageDir, "batches"))
	}

	db, err := sql.Open("postgres", r.cfg.BatchDatabaseURL)
	if err != nil {
		return nil, errors.Errorf("failed to open batch database: %w", err)
	}
	r.closers = append(r.closers, db.Close)
	return batchstore.NewPostgresStore(ctx, db)
}

// Handler returns the HTTP routes
func (r *Runner) Handler() http.Handler {
	return r.handler
}

// Service returns the batch service
func (r *Runner) Service() *batches.Service {
	return r.service
}

// Process runs a batch synchronously in the calling goroutine
func (r *Runner) Process(ctx context.Context, batchID string) (*workflows.ProcessResult, error) {
	return r.batch.Process(ctx, batchID)
}

// Sweep runs one retention sweep
func (r *Runner) Sweep(ctx context.Context) (retention.Report, error) {
	return r.sweeper.Sweep(ctx)
}

// StartRetention sweeps periodically when CleanupInterval is positive,
// until ctx is done
func (r *Runner) StartRetention(ctx context.Context) {
	if r.cfg.CleanupInterval <= 0 {
		return
	}
	r.logger.Info().Dur("interval", r.cfg.CleanupInterval).Dur("max_age", r.cfg.CleanupMaxAge).Msg("retention sweep scheduled")
	go r.sweeper.Run(r.logger.WithContext(ctx), r.cfg.CleanupInterval)
}

// Durable reports whether runs go through DBOS
func (r *Runner) Durable() bool {
	return r.runner.Durable()
}

// Shutdown waits for in-process runs, then releases DBOS, database and
// storage resources
func (r *Runner) Shutdown() error {
	if r.runner != nil && !r.runner.Durable() {
		r.runner.Wait()
	}
	return r.close()
}

func (r *Runner) close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Error().Err(err).Msg("failed to release resource")
			if first == nil {
				first = err
			}
		}
	}
	r.closers = nil
	return first
}
