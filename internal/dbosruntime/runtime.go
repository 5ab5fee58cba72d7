package dbosruntime

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	_ "github.com/lib/pq"
	"gitlab.com/tozd/go/errors"
)

var (
	ErrDatabaseRequired = errors.New("DBOS_SYSTEM_DATABASE_URL is required")
	ErrAlreadyLaunched  = errors.New("dbos runtime already launched")
)

// Runtime owns the DBOS context, the batch queue and a plain connection used
// for status lookups against the dbos schema.
type Runtime struct {
	dbosCtx  dbos.DBOSContext
	queue    dbos.WorkflowQueue
	cfg      Config
	status   *sql.DB
	launched atomic.Bool
}

// NewRuntime connects to the system database and declares the queue.
// Workflows must be registered before Launch.
func NewRuntime(ctx context.Context, cfg Config) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, ErrDatabaseRequired
	}
	cfg.WithDefaults()

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		DatabaseURL:        cfg.DatabaseURL,
		AppName:            cfg.AppName,
		ApplicationVersion: cfg.ApplicationVersion,
	})
	if err != nil {
		return nil, errors.Errorf("failed to create DBOS context: %w", err)
	}

	status, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Errorf("failed to open status connection: %w", err)
	}
	status.SetMaxOpenConns(2)

	return &Runtime{
		dbosCtx: dbosCtx,
		queue:   dbos.NewWorkflowQueue(dbosCtx, cfg.QueueName),
		cfg:     cfg,
		status:  status,
	}, nil
}

// Launch starts the queue workers and recovers pending runs
func (r *Runtime) Launch() error {
	if !r.launched.CompareAndSwap(false, true) {
		return ErrAlreadyLaunched
	}
	if err := dbos.Launch(r.dbosCtx); err != nil {
		r.launched.Store(false)
		return errors.Errorf("failed to launch DBOS: %w", err)
	}
	return nil
}

// Shutdown stops the workers, waiting up to timeout, and closes the status
// connection. It is safe on a runtime that never launched.
func (r *Runtime) Shutdown(timeout time.Duration) error {
	if r.launched.Swap(false) {
		dbos.Shutdown(r.dbosCtx, timeout)
	}
	return r.status.Close()
}

// Context returns the DBOS context workflows are registered and run on
func (r *Runtime) Context() dbos.DBOSContext {
	return r.dbosCtx
}

// QueueName returns the batch queue name
func (r *Runtime) QueueName() string {
	return r.cfg.QueueName
}

// AppName returns the application name recorded on every run
func (r *Runtime) AppName() string {
	return r.cfg.AppName
}
