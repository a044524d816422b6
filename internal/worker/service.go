package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rxtech-lab/argo-stats/internal/logger"
	"github.com/rxtech-lab/argo-stats/internal/types"
	"github.com/rxtech-lab/argo-stats/pkg/errors"
)

// JobRunner executes one recomputation job to completion.
type JobRunner interface {
	Run(ctx context.Context, job types.StatsJob) error
}

// ErrorEvent describes one failed job for observability consumers. It is
// emitted before the failure is surfaced, never instead of it.
type ErrorEvent struct {
	Job       types.StatsJob `json:"job"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error"`
}

// ErrorSink receives error events.
type ErrorSink interface {
	Publish(event ErrorEvent)
}

// LogSink is the default sink: it logs the event with full job context.
type LogSink struct {
	Logger *logger.Logger
}

// Publish implements ErrorSink.
func (s *LogSink) Publish(event ErrorEvent) {
	s.Logger.Error("Stats job failed",
		zap.String("jobId", event.Job.ID()),
		zap.String("entityType", string(event.Job.Type)),
		zap.String("entityId", event.Job.EntityID.String()),
		zap.Bool("recalc", event.Job.Recalc),
		zap.Time("timestamp", event.Timestamp),
		zap.String("error", event.Error))
}

// RetryPolicy bounds the retry loop around one job execution.
type RetryPolicy struct {
	MaxRetries      uint64        `yaml:"max_retries" validate:"gte=0"`
	InitialInterval time.Duration `yaml:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `yaml:"max_interval" validate:"gte=0"`
}

// UnmarshalYAML implements custom unmarshaling for RetryPolicy so that the
// intervals accept duration strings such as "500ms". Fields omitted from the
// document keep their current values.
func (p *RetryPolicy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type rawPolicy struct {
		MaxRetries      *uint64 `yaml:"max_retries"`
		InitialInterval *string `yaml:"initial_interval"`
		MaxInterval     *string `yaml:"max_interval"`
	}

	var raw rawPolicy
	if err := unmarshal(&raw); err != nil {
		return err
	}

	if raw.MaxRetries != nil {
		p.MaxRetries = *raw.MaxRetries
	}
	if raw.InitialInterval != nil {
		interval, err := time.ParseDuration(*raw.InitialInterval)
		if err != nil {
			return err
		}
		p.InitialInterval = interval
	}
	if raw.MaxInterval != nil {
		interval, err := time.ParseDuration(*raw.MaxInterval)
		if err != nil {
			return err
		}
		p.MaxInterval = interval
	}

	return nil
}

// DefaultRetryPolicy returns the production retry tuning.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// Service admits recomputation jobs, deduplicates them by id, and executes
// them on a bounded pool with bounded retries. Deduplication enforces the
// at-most-one-concurrent-fold-per-entity precondition the engine relies on.
type Service struct {
	runner JobRunner
	pool   *Pool
	sink   ErrorSink
	retry  RetryPolicy
	logger *logger.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// ServiceOption customizes a Service at construction time.
type ServiceOption func(*Service)

// WithErrorSink replaces the default logging sink.
func WithErrorSink(sink ErrorSink) ServiceOption {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithRetryPolicy overrides the default retry tuning.
func WithRetryPolicy(policy RetryPolicy) ServiceOption {
	return func(s *Service) {
		s.retry = policy
	}
}

// NewService wires a worker service on top of a runner and a pool. The pool
// is owned by the caller; Stop drains it.
func NewService(runner JobRunner, pool *Pool, l *logger.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		runner:   runner,
		pool:     pool,
		sink:     &LogSink{Logger: l},
		retry:    DefaultRetryPolicy(),
		logger:   l,
		inFlight: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Submit admits one job for asynchronous execution. A job whose id is
// already in flight collapses into the running one and reports success.
// Queue backpressure surfaces as ErrCodeQueueFull.
func (s *Service) Submit(ctx context.Context, job types.StatsJob) error {
	id := job.ID()

	s.mu.Lock()
	if _, dup := s.inFlight[id]; dup {
		s.mu.Unlock()
		JobsRejected.WithLabelValues("duplicate").Inc()
		s.logger.Debug("Duplicate job collapsed", zap.String("jobId", id))
		return nil
	}
	s.inFlight[id] = struct{}{}
	s.mu.Unlock()

	err := s.pool.Submit(func() {
		defer s.release(id)
		s.execute(ctx, job)
	})
	if err != nil {
		s.release(id)
		if errors.HasCode(err, errors.ErrCodeWorkerStopped) {
			JobsRejected.WithLabelValues("stopped").Inc()
		} else {
			JobsRejected.WithLabelValues("queue_full").Inc()
		}
		return err
	}

	JobsStarted.WithLabelValues(string(job.Type)).Inc()

	return nil
}

// Process executes one job synchronously with the same retry and error-event
// semantics as the asynchronous path. Used by one-shot invocations.
func (s *Service) Process(ctx context.Context, job types.StatsJob) error {
	JobsStarted.WithLabelValues(string(job.Type)).Inc()

	return s.run(ctx, job)
}

// Stop drains the pool. Pending jobs finish; new submissions are rejected.
func (s *Service) Stop() {
	s.pool.Stop()
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Service) execute(ctx context.Context, job types.StatsJob) {
	// Failures are fully reported through the sink and metrics; there is no
	// caller left to return them to.
	_ = s.run(ctx, job)
}

func (s *Service) run(ctx context.Context, job types.StatsJob) error {
	start := time.Now()

	operation := func() error {
		err := s.runner.Run(ctx, job)
		if err != nil && !errors.IsRetryable(err) {
			// Validation and data errors reproduce deterministically;
			// retrying them only delays the failure report.
			return backoff.Permanent(err)
		}

		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialInterval
	policy.MaxInterval = s.retry.MaxInterval

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, s.retry.MaxRetries), ctx))

	FoldDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

	if err != nil {
		s.sink.Publish(ErrorEvent{
			Job:       job,
			Timestamp: time.Now().UTC(),
			Error:     err.Error(),
		})
		JobsFailed.WithLabelValues(string(job.Type)).Inc()
		return err
	}

	JobsSucceeded.WithLabelValues(string(job.Type)).Inc()
	s.logger.Info("Stats job completed",
		zap.String("jobId", job.ID()),
		zap.String("entityType", string(job.Type)),
		zap.String("entityId", job.EntityID.String()),
		zap.Duration("duration", time.Since(start)))

	return nil
}
