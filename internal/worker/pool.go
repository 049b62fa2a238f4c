package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/agricert/internal/batch"
	"github.com/cuongbtq/agricert/internal/domain"
	"github.com/cuongbtq/agricert/internal/issuer"
	"github.com/cuongbtq/agricert/internal/metrics"
	"github.com/cuongbtq/agricert/internal/notify"
	"github.com/cuongbtq/agricert/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/cuongbtq/agricert/internal/worker"

// ErrShutdownTimeout is returned by Run when in-flight jobs outlive ShutdownTimeout
var ErrShutdownTimeout = errors.New("worker shutdown timed out with jobs in flight")

// Config holds worker pool configuration
type Config struct {
	WorkerID          string
	PollInterval      time.Duration
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration

	// CredentialValidity sets expiresAt on new certificates; zero means no expiry
	CredentialValidity time.Duration
	UpdateBatchStatus  bool
	IssuedBy           string
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 2 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = time.Minute
	}
	if c.IssuedBy == "" {
		c.IssuedBy = "system"
	}
}

// Dependencies are the collaborators a pool drives
type Dependencies struct {
	Jobs         storage.JobStore
	Certificates storage.CertificateStore
	Batches      batch.Repository
	Issuer       issuer.Adapter
	Notifier     notify.Notifier
	Metrics      *metrics.Metrics
	Tracer       trace.Tracer
	Logger       *slog.Logger
}

// Pool polls the job store and processes up to Concurrency jobs at a time
type Pool struct {
	cfg      Config
	jobs     storage.JobStore
	certs    storage.CertificateStore
	batches  batch.Repository
	issuer   issuer.Adapter
	notifier notify.Notifier
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time

	wake chan struct{}

	// inFlight guards against dispatching the same job twice in this process
	mu       sync.Mutex
	inFlight map[string]struct{}
	cycles   sync.WaitGroup
}

// NewPool creates a new worker pool instance
func NewPool(cfg Config, deps Dependencies) (*Pool, error) {
	if cfg.WorkerID == "" {
		return nil, errors.New("worker id is required")
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	if deps.Jobs == nil || deps.Certificates == nil || deps.Batches == nil || deps.Issuer == nil {
		return nil, errors.New("job store, certificate store, batch repository and issuer are required")
	}
	cfg.applyDefaults()

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(deps.Logger)
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}

	return &Pool{
		cfg:      cfg,
		jobs:     deps.Jobs,
		certs:    deps.Certificates,
		batches:  deps.Batches,
		issuer:   deps.Issuer,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
		logger:   deps.Logger.With(slog.String("worker_id", cfg.WorkerID)),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		inFlight: make(map[string]struct{}),
	}, nil
}

// Run polls until ctx is canceled, then waits for in-flight jobs to finish.
// Jobs are never canceled by ctx; each runs to completion or JobTimeout.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("Starting worker pool",
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Duration("poll_interval", p.cfg.PollInterval),
		slog.Duration("job_timeout", p.cfg.JobTimeout),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Worker context canceled, stopping...")
			return p.drain()
		case <-ticker.C:
			p.poll(ctx)
		case <-p.wake:
			p.poll(ctx)
		}
	}
}

// Wake asks for a poll cycle now. It never blocks.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// InFlight returns the number of jobs this process currently holds
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// poll runs one cycle: reserve free slots, then launch the batch without
// waiting for it so the next tick can fill slots freed in the meantime.
func (p *Pool) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	slots := p.cfg.Concurrency - p.InFlight()
	if slots <= 0 {
		p.logger.Debug("All slots busy, skipping poll cycle")
		return
	}

	candidates, err := p.jobs.FindClaimable(ctx, slots)
	if err != nil {
		p.logger.Error("Failed to find claimable jobs", slog.String("error", err.Error()))
		return
	}

	batchIDs := make([]string, 0, len(candidates))
	for _, job := range candidates {
		if p.reserve(job.ID) {
			batchIDs = append(batchIDs, job.ID)
		}
	}
	if len(batchIDs) == 0 {
		return
	}

	p.logger.Debug("Launching poll batch",
		slog.Int("jobs", len(batchIDs)),
		slog.Int("slots", slots),
	)

	// Handlers outlive shutdown on purpose: they only stop at JobTimeout
	jobCtx := context.WithoutCancel(ctx)

	p.cycles.Add(1)
	go func() {
		defer p.cycles.Done()

		var g errgroup.Group
		g.SetLimit(len(batchIDs))
		for _, jobID := range batchIDs {
			g.Go(func() error {
				defer p.release(jobID)
				p.process(jobCtx, jobID)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (p *Pool) reserve(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, busy := p.inFlight[jobID]; busy {
		return false
	}
	if len(p.inFlight) >= p.cfg.Concurrency {
		return false
	}
	p.inFlight[jobID] = struct{}{}
	p.metrics.SetInFlight(len(p.inFlight))
	return true
}

func (p *Pool) release(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.inFlight, jobID)
	p.metrics.SetInFlight(len(p.inFlight))
}

// drain blocks until every launched job finished, logging once per second
func (p *Pool) drain() error {
	done := make(chan struct{})
	go func() {
		p.cycles.Wait()
		close(done)
	}()

	deadline := time.NewTimer(p.cfg.ShutdownTimeout)
	defer deadline.Stop()
	progress := time.NewTicker(time.Second)
	defer progress.Stop()

	for {
		select {
		case <-done:
			p.logger.Info("Worker pool stopped")
			return nil
		case <-progress.C:
			p.logger.Info("Waiting for in-flight jobs", slog.Int("in_flight", p.InFlight()))
		case <-deadline.C:
			remaining := p.InFlight()
			p.logger.Error("Shutdown timeout reached with jobs in flight", slog.Int("in_flight", remaining))
			return fmt.Errorf("%w: %d remaining", ErrShutdownTimeout, remaining)
		}
	}
}

// outcome labels for metrics and logs
const (
	outcomeSuccess  = "success"
	outcomeRequeued = "requeued"
	outcomeFailed   = "failed"
)

func outcomeOf(status domain.JobStatus) string {
	if status == domain.JobStatusPending {
		return outcomeRequeued
	}
	return outcomeFailed
}
