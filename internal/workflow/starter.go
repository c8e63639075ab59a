package workflow

import (
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"recipes/internal/domain"
	"recipes/internal/infra"
)

// JobRunner executes one job to completion. *Engine satisfies it.
type JobRunner interface {
	Run(ctx context.Context, job *domain.JobExecution) error
}

// AsyncStarter runs every job on its own goroutine in the current process.
// Jobs outlive the request that started them: the context handed to Run
// keeps ctx's values but not its cancellation.
type AsyncStarter struct {
	runner JobRunner
	logger *infra.Logger
	wg     sync.WaitGroup
}

func NewAsyncStarter(runner JobRunner, logger *infra.Logger) *AsyncStarter {
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &AsyncStarter{runner: runner, logger: logger}
}

func (s *AsyncStarter) Start(ctx context.Context, job *domain.JobExecution) error {
	jobCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Str("job_id", job.ID).Msg("job panicked")
			}
		}()
		_ = s.runner.Run(jobCtx, job)
	}()
	return nil
}

// Wait blocks until every started job returned or ctx is done.
func (s *AsyncStarter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
