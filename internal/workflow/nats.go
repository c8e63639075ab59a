package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"recipes/internal/domain"
	"recipes/internal/infra"
)

// WorkerQueue is the queue group shared by all workers so each job runs once.
const WorkerQueue = "workers"

// JobsSubject is the subject gateways send start requests on.
func JobsSubject(prefix string) string {
	return prefix + ".jobs.start"
}

// DefaultStartTimeout bounds how long a gateway waits for a worker to take a job.
const DefaultStartTimeout = 2 * time.Second

// ErrNoWorkers means no worker answered the start request.
var ErrNoWorkers = errors.New("workflow: no worker available")

// Start reply statuses.
const (
	StartAccepted = "accepted"
	StartRejected = "rejected"
	StartBusy     = "busy"
)

// StartReply is the worker's answer to a start request.
type StartReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Requester is the part of *nats.Conn the starter needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// NATSStarter hands jobs to the worker pool instead of running them locally.
// Start only succeeds once a worker has taken the job.
type NATSStarter struct {
	nc      Requester
	prefix  string
	timeout time.Duration
}

func NewNATSStarter(nc Requester, prefix string, timeout time.Duration) *NATSStarter {
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	return &NATSStarter{nc: nc, prefix: prefix, timeout: timeout}
}

func (s *NATSStarter) Start(ctx context.Context, job *domain.JobExecution) error {
	data, err := json.Marshal(job.Request())
	if err != nil {
		return fmt.Errorf("workflow: encode job: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg, err := s.nc.RequestWithContext(ctx, JobsSubject(s.prefix), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("workflow: start job %s: %w", job.ID, ErrNoWorkers)
		}
		return fmt.Errorf("workflow: start job %s: %w", job.ID, err)
	}
	var reply StartReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("workflow: decode start reply for job %s: %w", job.ID, err)
	}
	if reply.Status != StartAccepted {
		return fmt.Errorf("workflow: job %s not taken: %s %s", job.ID, reply.Status, reply.Error)
	}
	return nil
}

// QueueSubscriber is the part of *nats.Conn the consumer needs.
type QueueSubscriber interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type ConsumerOptions struct {
	Conn               QueueSubscriber
	Prefix             string
	Runner             JobRunner
	MaxJobs            int
	MaxIngredientChars int
	Logger             *infra.Logger
}

// Consumer takes jobs off the queue group and runs at most MaxJobs at once.
// A job that arrives while every slot is busy is refused with StartBusy so the
// gateway can tell the client instead of leaving the request waiting.
type Consumer struct {
	conn     QueueSubscriber
	prefix   string
	runner   JobRunner
	maxChars int
	sem      *semaphore.Weighted
	logger   *infra.Logger

	mu  sync.Mutex
	sub *nats.Subscription
	ctx context.Context
	wg  sync.WaitGroup
}

func NewConsumer(opts ConsumerOptions) *Consumer {
	maxJobs := opts.MaxJobs
	if maxJobs <= 0 {
		maxJobs = 16
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Consumer{
		conn:     opts.Conn,
		prefix:   opts.Prefix,
		runner:   opts.Runner,
		maxChars: opts.MaxIngredientChars,
		sem:      semaphore.NewWeighted(int64(maxJobs)),
		logger:   logger,
	}
}

// Start subscribes to the jobs subject. Jobs run on a context detached from
// ctx's cancellation; Stop is the way to end consumption.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil {
		return errors.New("workflow: consumer already started")
	}
	c.ctx = context.WithoutCancel(ctx)
	sub, err := c.conn.QueueSubscribe(JobsSubject(c.prefix), WorkerQueue, func(msg *nats.Msg) {
		reply := c.Dispatch(msg.Data)
		if msg.Reply == "" {
			return
		}
		data, _ := json.Marshal(reply)
		if err := msg.Respond(data); err != nil {
			c.logger.Warn().Err(err).Msg("answer start request")
		}
	})
	if err != nil {
		return fmt.Errorf("workflow: subscribe jobs: %w", err)
	}
	c.sub = sub
	c.logger.Info().Str("subject", JobsSubject(c.prefix)).Str("queue", WorkerQueue).Msg("consuming jobs")
	return nil
}

// Dispatch decodes one job request and runs it if a slot is free.
func (c *Consumer) Dispatch(data []byte) StartReply {
	var req domain.JobRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.logger.Warn().Err(err).Msg("drop malformed job")
		return StartReply{Status: StartRejected, Error: "malformed job"}
	}
	job, err := req.Execution(c.maxChars)
	if err != nil {
		c.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("drop invalid job")
		return StartReply{Status: StartRejected, Error: err.Error()}
	}
	if !c.sem.TryAcquire(1) {
		c.logger.Warn().Str("job_id", job.ID).Msg("refuse job, all slots busy")
		return StartReply{Status: StartBusy}
	}
	ctx := c.jobContext()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.sem.Release(1)
		_ = c.runner.Run(ctx, job)
	}()
	return StartReply{Status: StartAccepted}
}

func (c *Consumer) jobContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Stop drains the subscription and waits for running jobs until ctx is done.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub != nil {
		if err := sub.Drain(); err != nil {
			c.logger.Warn().Err(err).Msg("drain jobs subscription")
		}
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
