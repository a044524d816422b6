package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/argo-stats/internal/logger"
	"github.com/rxtech-lab/argo-stats/internal/types"
	"github.com/rxtech-lab/argo-stats/pkg/errors"
)

// scriptedRunner fails with the scripted errors in order, then succeeds.
type scriptedRunner struct {
	mu          sync.Mutex
	script      []error
	calls       int
	block       chan struct{}
	started     chan struct{}
	startedOnce sync.Once
}

func (r *scriptedRunner) Run(_ context.Context, _ types.StatsJob) error {
	if r.started != nil {
		r.startedOnce.Do(func() { close(r.started) })
	}
	if r.block != nil {
		<-r.block
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if len(r.script) == 0 {
		return nil
	}

	err := r.script[0]
	r.script = r.script[1:]

	return err
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.calls
}

type recordingSink struct {
	mu     sync.Mutex
	events []ErrorEvent
}

func (s *recordingSink) Publish(event ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
}

func (s *recordingSink) all() []ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]ErrorEvent(nil), s.events...)
}

type ServiceTestSuite struct {
	suite.Suite
	logger *logger.Logger
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (suite *ServiceTestSuite) SetupTest() {
	l, err := logger.NewLogger()
	suite.NoError(err)
	suite.logger = l
}

func (suite *ServiceTestSuite) fastRetry() ServiceOption {
	return WithRetryPolicy(RetryPolicy{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})
}

func (suite *ServiceTestSuite) job() types.StatsJob {
	return types.StatsJob{Type: types.EntityRobot, EntityID: uuid.New()}
}

func (suite *ServiceTestSuite) TestProcessRetriesTransientFailures() {
	runner := &scriptedRunner{script: []error{
		errors.New(errors.ErrCodeQueryFailed, "connection reset"),
		errors.New(errors.ErrCodeTransientIO, "timeout"),
	}}
	sink := &recordingSink{}
	service := NewService(runner, NewPool(1, 4), suite.logger, suite.fastRetry(), WithErrorSink(sink))
	defer service.Stop()

	err := service.Process(context.Background(), suite.job())
	suite.NoError(err)
	suite.Equal(3, runner.callCount())
	suite.Empty(sink.all())
}

func (suite *ServiceTestSuite) TestProcessDoesNotRetryValidationFailures() {
	runner := &scriptedRunner{script: []error{
		errors.New(errors.ErrCodeEmptyBatch, "at least one position expected"),
	}}
	sink := &recordingSink{}
	service := NewService(runner, NewPool(1, 4), suite.logger, suite.fastRetry(), WithErrorSink(sink))
	defer service.Stop()

	job := suite.job()
	err := service.Process(context.Background(), job)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeEmptyBatch))
	suite.Equal(1, runner.callCount())

	events := sink.all()
	suite.Len(events, 1)
	suite.Equal(job.ID(), events[0].Job.ID())
	suite.Contains(events[0].Error, "at least one position expected")
}

func (suite *ServiceTestSuite) TestProcessEmitsEventAfterRetriesExhausted() {
	runner := &scriptedRunner{script: []error{
		errors.New(errors.ErrCodePersistenceFailed, "write failed"),
		errors.New(errors.ErrCodePersistenceFailed, "write failed"),
		errors.New(errors.ErrCodePersistenceFailed, "write failed"),
	}}
	sink := &recordingSink{}
	service := NewService(runner, NewPool(1, 4), suite.logger, suite.fastRetry(), WithErrorSink(sink))
	defer service.Stop()

	err := service.Process(context.Background(), suite.job())
	suite.Error(err)
	suite.Equal(3, runner.callCount())
	suite.Len(sink.all(), 1)
}

func (suite *ServiceTestSuite) TestSubmitCollapsesDuplicateJobs() {
	block := make(chan struct{})
	runner := &scriptedRunner{block: block}
	service := NewService(runner, NewPool(1, 4), suite.logger, suite.fastRetry())

	job := suite.job()
	suite.NoError(service.Submit(context.Background(), job))

	// Same id while the first is still in flight: collapsed, not re-run.
	duplicate := job
	duplicate.Recalc = true
	suite.NoError(service.Submit(context.Background(), duplicate))

	close(block)
	service.Stop()
	suite.Equal(1, runner.callCount())
}

func (suite *ServiceTestSuite) TestSubmitReportsQueueBackpressure() {
	block := make(chan struct{})
	started := make(chan struct{})
	runner := &scriptedRunner{block: block, started: started}
	service := NewService(runner, NewPool(1, 1), suite.logger, suite.fastRetry())

	// One job occupies the worker, one fills the queue.
	suite.NoError(service.Submit(context.Background(), suite.job()))
	<-started
	suite.NoError(service.Submit(context.Background(), suite.job()))

	err := service.Submit(context.Background(), suite.job())
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeQueueFull))

	close(block)
	service.Stop()
}

func (suite *ServiceTestSuite) TestSubmitAfterStopIsRejected() {
	runner := &scriptedRunner{}
	service := NewService(runner, NewPool(1, 1), suite.logger)
	service.Stop()

	err := service.Submit(context.Background(), suite.job())
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeWorkerStopped))
}
