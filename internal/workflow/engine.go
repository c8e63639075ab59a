// Package workflow runs the two-stage recipe job: stream the recipe text to
// the client, then generate, store and announce one image.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"recipes/internal/domain"
	"recipes/internal/infra"
	"recipes/internal/metrics"
	"recipes/internal/providers"
	"recipes/internal/providers/image"
	"recipes/internal/providers/text"
	"recipes/internal/storage"
)

const (
	RecipeFailedNotice = "Sorry, the recipe could not be completed."
	ImageFailedNotice  = "Sorry, the image could not be generated."
	GeneratingNotice   = "Generating image..."
	SavingNotice       = "Saving image..."
	ImageSavedMessage  = "Image saved successfully"

	// maxSeed matches the seed range accepted by the image models.
	maxSeed = 858993460
)

// Relay delivers a message to a connection by id. *relay.Relay satisfies it.
type Relay interface {
	Deliver(ctx context.Context, connectionID string, msg domain.OutboundMessage) error
}

type Options struct {
	Text  text.Generator
	Image image.Generator
	Store storage.ContentStore
	Relay Relay
	Retry RetryConfig
	// Notices enables the "Generating image..." and "Saving image..." infos.
	Notices bool
	Logger  *infra.Logger
	Metrics *metrics.Metrics
	// Seed picks the image seed; defaults to a random value in [0, maxSeed].
	Seed func() int64
}

type Engine struct {
	text    text.Generator
	image   image.Generator
	store   storage.ContentStore
	relay   Relay
	retry   RetryConfig
	notices bool
	logger  *infra.Logger
	metrics *metrics.Metrics
	seed    func() int64
}

func New(opts Options) (*Engine, error) {
	switch {
	case opts.Text == nil:
		return nil, errors.New("workflow: text generator is required")
	case opts.Image == nil:
		return nil, errors.New("workflow: image generator is required")
	case opts.Store == nil:
		return nil, errors.New("workflow: content store is required")
	case opts.Relay == nil:
		return nil, errors.New("workflow: relay is required")
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	seed := opts.Seed
	if seed == nil {
		seed = func() int64 { return rand.Int64N(maxSeed + 1) }
	}
	retryCfg := opts.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = DefaultRetryConfig()
	}
	return &Engine{
		text:    opts.Text,
		image:   opts.Image,
		store:   opts.Store,
		relay:   opts.Relay,
		retry:   retryCfg,
		notices: opts.Notices,
		logger:  logger,
		metrics: opts.Metrics,
		seed:    seed,
	}, nil
}

// Run drives job from pending to a terminal stage. The returned error is the
// stage failure, if any; delivery failures are logged and never abort a run.
// Run does not stop when the client disconnects; only ctx ends it early.
func (e *Engine) Run(ctx context.Context, job *domain.JobExecution) error {
	if job.Stage != domain.StagePending {
		return fmt.Errorf("workflow: run job %s: %w: job is %s", job.ID, domain.ErrInvalidStage, job.Stage)
	}
	log := e.logger.With().Str("job_id", job.ID).Str("connection_id", job.ConnectionID).Logger()
	e.metrics.JobStarted()
	defer func() { e.metrics.JobFinished(string(job.Stage)) }()

	if err := job.Advance(domain.StageGeneratingRecipe); err != nil {
		return err
	}
	started := time.Now()
	if err := e.generateRecipe(ctx, job, &log); err != nil {
		e.metrics.StageDone(string(domain.StageGeneratingRecipe), "error", time.Since(started))
		return e.fail(ctx, job, &log, err, RecipeFailedNotice)
	}
	e.metrics.StageDone(string(domain.StageGeneratingRecipe), "ok", time.Since(started))

	if err := job.Advance(domain.StageGeneratingImage); err != nil {
		return err
	}
	started = time.Now()
	url, err := e.generateImage(ctx, job, &log)
	if err != nil {
		e.metrics.StageDone(string(domain.StageGeneratingImage), "error", time.Since(started))
		return e.fail(ctx, job, &log, err, ImageFailedNotice)
	}
	e.metrics.StageDone(string(domain.StageGeneratingImage), "ok", time.Since(started))

	if err := job.Advance(domain.StageCompleted); err != nil {
		return err
	}
	e.deliver(ctx, job, &log, domain.ImageMessage(ImageSavedMessage, url))
	log.Info().Dur("elapsed", time.Since(job.StartedAt)).Str("image_url", url).Msg("job completed")
	return nil
}

func (e *Engine) generateRecipe(ctx context.Context, job *domain.JobExecution, log *zerolog.Logger) error {
	prompt := RecipePrompt(job.Ingredients, job.Locale)
	provider := e.text.Name()
	return retry(ctx, e.retry, e.attemptFailed(log, provider, domain.StageGeneratingRecipe), func(ctx context.Context) error {
		err := e.streamRecipe(ctx, job, log, prompt)
		e.recordAttempt(provider, err)
		return err
	})
}

// streamRecipe relays every chunk as soon as it arrives. Once a chunk has
// been delivered a failure is final: retrying would duplicate text the
// client already has.
func (e *Engine) streamRecipe(ctx context.Context, job *domain.JobExecution, log *zerolog.Logger, prompt string) error {
	provider := e.text.Name()
	stream, err := e.text.Stream(ctx, prompt)
	if err != nil {
		return providers.Classify(provider, err)
	}
	defer stream.Close()

	received := 0
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			classified := providers.Classify(provider, err)
			if received > 0 {
				return domain.NewFatalError(provider, fmt.Errorf("stream interrupted after %d chunks: %w", received, classified))
			}
			return classified
		}
		if chunk == "" {
			continue
		}
		received++
		job.AppendRecipe(chunk)
		e.deliver(ctx, job, log, domain.RecipeChunkMessage(chunk))
	}
	if received == 0 {
		return domain.NewFatalError(provider, errors.New("empty recipe"))
	}
	log.Debug().Int("chunks", received).Msg("recipe streamed")
	return nil
}

func (e *Engine) generateImage(ctx context.Context, job *domain.JobExecution, log *zerolog.Logger) (string, error) {
	prompt := ImagePrompt(job.RecipeText(), job.Locale)
	seed := e.seed()
	provider := e.image.Name()

	if e.notices {
		e.deliver(ctx, job, log, domain.InfoMessage(GeneratingNotice))
	}
	var asset *image.Asset
	err := retry(ctx, e.retry, e.attemptFailed(log, provider, domain.StageGeneratingImage), func(ctx context.Context) error {
		a, err := e.image.Generate(ctx, prompt, seed)
		if err != nil {
			err = providers.Classify(provider, err)
		} else if a == nil || len(a.Data) == 0 {
			err = domain.NewFatalError(provider, errors.New("empty image"))
		}
		e.recordAttempt(provider, err)
		if err != nil {
			return err
		}
		asset = a
		return nil
	})
	if err != nil {
		return "", err
	}

	if e.notices {
		e.deliver(ctx, job, log, domain.InfoMessage(SavingNotice))
	}
	contentType := asset.Format
	if contentType == "" {
		contentType = "image/png"
	}
	key := ImageKey(job.ConnectionID, seed, contentType)
	url, err := e.store.Put(ctx, key, asset.Data, contentType)
	if err != nil {
		var serr *domain.StorageError
		if errors.As(err, &serr) {
			return "", err
		}
		return "", &domain.StorageError{Key: key, Err: err}
	}
	log.Debug().Str("key", key).Int("bytes", len(asset.Data)).Msg("image stored")
	return url, nil
}

// ImageKey is the object key of a job's image: images/<connection>/<seed>.<ext>.
func ImageKey(connectionID string, seed int64, contentType string) string {
	ext := "png"
	if contentType == "image/jpeg" {
		ext = "jpg"
	}
	return fmt.Sprintf("images/%s/%d.%s", connectionID, seed, ext)
}

func (e *Engine) fail(ctx context.Context, job *domain.JobExecution, log *zerolog.Logger, err error, notice string) error {
	stage := job.Stage
	job.Fail(err)
	log.Error().Err(err).Str("stage", string(stage)).Msg("job failed")
	e.deliver(ctx, job, log, domain.InfoMessage(notice))
	return fmt.Errorf("workflow: %s: %w", stage, err)
}

func (e *Engine) deliver(ctx context.Context, job *domain.JobExecution, log *zerolog.Logger, msg domain.OutboundMessage) {
	if err := e.relay.Deliver(ctx, job.ConnectionID, msg); err != nil {
		ev := log.Warn()
		if errors.Is(err, domain.ErrConnectionGone) {
			ev = log.Debug()
		}
		ev.Err(err).Str("stage", string(job.Stage)).Str("type", string(msg.Type)).Msg("delivery failed")
	}
}

func (e *Engine) attemptFailed(log *zerolog.Logger, provider string, stage domain.Stage) func(int, error) {
	return func(attempt int, err error) {
		log.Warn().Err(err).
			Str("provider", provider).
			Str("stage", string(stage)).
			Int("attempt", attempt).
			Bool("transient", domain.IsTransient(err)).
			Msg("provider attempt failed")
	}
}

func (e *Engine) recordAttempt(provider string, err error) {
	switch {
	case err == nil:
		e.metrics.ProviderAttempt(provider, "ok")
	case domain.IsTransient(err):
		e.metrics.ProviderAttempt(provider, "transient")
	default:
		e.metrics.ProviderAttempt(provider, "fatal")
	}
}
