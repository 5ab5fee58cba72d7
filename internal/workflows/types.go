package workflows

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tendant/cutimage-pipeline/internal/dbosruntime"
	"github.com/tendant/cutimage-pipeline/pkg/pipeline"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/semaphore"
)

// WorkflowContext contains context for workflow execution
type WorkflowContext struct {
	Ctx     context.Context
	Request pipeline.ProcessRequest
	RunID   string
}

// WorkflowResult contains the result of workflow execution
type WorkflowResult struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// Workflow defines the interface for processing workflows
type Workflow interface {
	// Execute runs the workflow
	Execute(wctx *WorkflowContext) (*WorkflowResult, error)

	// Name returns the workflow name
	Name() string
}

// Run states reported by GetStatus
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// WorkflowStatus represents the status of a workflow execution
type WorkflowStatus struct {
	RunID      string     `json:"run_id"`
	State      string     `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// RunnerOption configures a WorkflowRunner
type RunnerOption func(*WorkflowRunner)

// WithConcurrency bounds the in-process queue
func WithConcurrency(n int) RunnerOption {
	return func(r *WorkflowRunner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithBaseContext sets the context background runs derive from. Runs do not
// inherit the cancellation of the request that enqueued them.
func WithBaseContext(ctx context.Context) RunnerOption {
	return func(r *WorkflowRunner) { r.baseCtx = ctx }
}

// DefaultStatusTTL is how long finished in-process run statuses are kept
const DefaultStatusTTL = time.Hour

// WithStatusTTL sets how long a finished in-process run stays queryable
func WithStatusTTL(ttl time.Duration) RunnerOption {
	return func(r *WorkflowRunner) {
		if ttl > 0 {
			r.statusTTL = ttl
		}
	}
}

// WithLogger sets the logger attached to run contexts
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *WorkflowRunner) { r.logger = logger }
}

// WorkflowRunner executes workflows, either through the DBOS durable queue or
// on a bounded in-process queue when no DBOS runtime is given.
type WorkflowRunner struct {
	workflows   map[string]Workflow
	dbosRuntime *dbosruntime.Runtime

	baseCtx     context.Context
	logger      zerolog.Logger
	concurrency int
	sem         *semaphore.Weighted
	wg          sync.WaitGroup

	mu        sync.Mutex
	runs      map[string]*WorkflowStatus
	statusTTL time.Duration
	now       func() time.Time
}

// NewWorkflowRunner creates a new workflow runner. With a DBOS runtime, runs
// are enqueued durably; otherwise they run in-process.
func NewWorkflowRunner(dbosRuntime *dbosruntime.Runtime, opts ...RunnerOption) *WorkflowRunner {
	runner := &WorkflowRunner{
		workflows:   make(map[string]Workflow),
		dbosRuntime: dbosRuntime,
		baseCtx:     context.Background(),
		logger:      zerolog.Nop(),
		concurrency: 4,
		runs:        make(map[string]*WorkflowStatus),
		statusTTL:   DefaultStatusTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(runner)
	}
	runner.sem = semaphore.NewWeighted(int64(runner.concurrency))

	// Register the DBOS workflow function
	if dbosRuntime != nil {
		dbos.RegisterWorkflow(dbosRuntime.Context(), runner.executeWorkflowDBOS)
	}

	return runner
}

// Register registers a workflow
func (r *WorkflowRunner) Register(job string, workflow Workflow) {
	r.workflows[job] = workflow
}

// Durable reports whether runs go through DBOS
func (r *WorkflowRunner) Durable() bool {
	return r.dbosRuntime != nil
}

// Run executes a workflow synchronously
func (r *WorkflowRunner) Run(wctx *WorkflowContext) (*WorkflowResult, error) {
	workflow, ok := r.workflows[wctx.Request.Job]
	if !ok {
		return &WorkflowResult{
			Success: false,
			Error:   ErrWorkflowNotFound.Error(),
		}, ErrWorkflowNotFound
	}

	return workflow.Execute(wctx)
}

// RunAsync enqueues a workflow and returns its run ID
func (r *WorkflowRunner) RunAsync(ctx context.Context, req pipeline.ProcessRequest) (string, error) {
	if _, ok := r.workflows[req.Job]; !ok {
		return "", errors.Errorf("%w: %s", ErrWorkflowNotFound, req.Job)
	}

	runID := fmt.Sprintf("%s-%s-%s", req.Job, req.BatchID, uuid.NewString())

	if r.dbosRuntime != nil {
		// Enqueue workflow with DBOS (generic function with type parameters)
		handle, err := dbos.RunWorkflow[pipeline.ProcessRequest, *WorkflowResult](
			r.dbosRuntime.Context(),
			r.executeWorkflowDBOS,
			req,
			dbos.WithWorkflowID(runID),
			dbos.WithQueue(r.dbosRuntime.QueueName()),
		)
		if err != nil {
			return "", errors.Errorf("failed to enqueue workflow: %w", err)
		}
		return handle.GetWorkflowID(), nil
	}

	r.setStatus(runID, func(s *WorkflowStatus) { s.State = StatePending })
	r.wg.Add(1)
	go r.runLocal(req, runID)
	return runID, nil
}

func (r *WorkflowRunner) runLocal(req pipeline.ProcessRequest, runID string) {
	defer r.wg.Done()

	ctx := r.logger.With().Str("run_id", runID).Logger().WithContext(r.baseCtx)
	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.finish(runID, err)
		return
	}
	defer r.sem.Release(1)

	r.setStatus(runID, func(s *WorkflowStatus) {
		s.State = StateRunning
		s.StartedAt = r.now()
	})

	_, err := r.Run(&WorkflowContext{Ctx: ctx, Request: req, RunID: runID})
	r.finish(runID, err)
}

func (r *WorkflowRunner) finish(runID string, err error) {
	r.setStatus(runID, func(s *WorkflowStatus) {
		now := r.now()
		s.FinishedAt = &now
		if err != nil {
			s.State = StateFailed
			s.Error = err.Error()
			return
		}
		s.State = StateSucceeded
	})
}

func (r *WorkflowRunner) setStatus(runID string, fn func(*WorkflowStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.runs[runID]
	if !ok {
		r.evictLocked()
		s = &WorkflowStatus{RunID: runID}
		r.runs[runID] = s
	}
	fn(s)
}

// evictLocked drops finished runs older than the status TTL
func (r *WorkflowRunner) evictLocked() {
	cutoff := r.now().Add(-r.statusTTL)
	for id, s := range r.runs {
		if s.FinishedAt != nil && s.FinishedAt.Before(cutoff) {
			delete(r.runs, id)
		}
	}
}

// Wait blocks until every in-process run has finished
func (r *WorkflowRunner) Wait() {
	r.wg.Wait()
}

// executeWorkflowDBOS is the DBOS workflow function that wraps registered workflows
func (r *WorkflowRunner) executeWorkflowDBOS(dbosCtx dbos.DBOSContext, req pipeline.ProcessRequest) (*WorkflowResult, error) {
	workflowID, err := dbosCtx.GetWorkflowID()
	if err != nil {
		return &WorkflowResult{
			Success: false,
			Error:   err.Error(),
		}, err
	}

	// DBOSContext implements context.Context
	ctx := r.logger.With().Str("run_id", workflowID).Logger().WithContext(dbosCtx)

	return r.Run(&WorkflowContext{
		Ctx:     ctx,
		Request: req,
		RunID:   workflowID,
	})
}

// GetStatus retrieves the status of a workflow execution
func (r *WorkflowRunner) GetStatus(ctx context.Context, runID string) (*WorkflowStatus, error) {
	if r.dbosRuntime != nil {
		info, err := r.dbosRuntime.GetWorkflowStatus(ctx, runID)
		if err != nil {
			if errors.Is(err, dbosruntime.ErrWorkflowNotFound) {
				return nil, errors.Errorf("%w: %s", ErrRunNotFound, runID)
			}
			return nil, err
		}
		status := &WorkflowStatus{
			RunID:     info.WorkflowUUID,
			State:     dbosState(info.Status),
			StartedAt: info.CreatedAt,
			Error:     info.Error,
		}
		if status.State == StateSucceeded || status.State == StateFailed {
			finished := info.UpdatedAt
			status.FinishedAt = &finished
		}
		return status, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.runs[runID]
	if !ok {
		return nil, errors.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	out := *s
	return &out, nil
}

func dbosState(status string) string {
	switch strings.ToUpper(status) {
	case "PENDING":
		return StateRunning
	case "ENQUEUED":
		return StatePending
	case "SUCCESS":
		return StateSucceeded
	default:
		return StateFailed
	}
}
