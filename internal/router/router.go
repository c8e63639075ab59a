// Package router validates inbound WebSocket messages and hands accepted
// requests to the workflow. It never waits for generation to finish.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recipes/internal/domain"
	"recipes/internal/infra"
	"recipes/internal/metrics"
	"recipes/internal/middleware"
)

const (
	AckMessage        = "Starting generation..."
	StartFailedNotice = "Sorry, the request could not be started. Please try again."
)

// Starter launches a job without blocking on its completion.
type Starter interface {
	Start(ctx context.Context, job *domain.JobExecution) error
}

// Notifier sends an info message back to the requesting connection.
// *relay.Relay satisfies it.
type Notifier interface {
	Deliver(ctx context.Context, connectionID string, msg domain.OutboundMessage) error
}

type Options struct {
	Starter            Starter
	Notifier           Notifier
	MaxIngredientChars int
	Logger             *infra.Logger
	Metrics            *metrics.Metrics
	NewID              func() string
}

type Router struct {
	starter  Starter
	notifier Notifier
	maxChars int
	logger   *infra.Logger
	metrics  *metrics.Metrics
	newID    func() string
}

func New(opts Options) *Router {
	maxChars := opts.MaxIngredientChars
	if maxChars <= 0 {
		maxChars = domain.MaxIngredientChars
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Router{
		starter:  opts.Starter,
		notifier: opts.Notifier,
		maxChars: maxChars,
		logger:   logger,
		metrics:  opts.Metrics,
		newID:    newID,
	}
}

// Accept validates raw and, when it is a well-formed recipe request, starts
// exactly one job for connectionID. The locale stored in ctx by the
// connection handshake selects the prompt language.
//
// A rejected request returns a *domain.ValidationError and starts nothing.
// The connection is told why with an info message when a Notifier is set.
func (r *Router) Accept(ctx context.Context, connectionID string, raw []byte) error {
	job, err := r.parse(connectionID, middleware.LocaleFromContext(ctx), raw)
	if err != nil {
		r.metrics.Request("rejected")
		r.logger.Info().Err(err).Str("connection_id", connectionID).Msg("request rejected")
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			r.notify(ctx, connectionID, verr.Reason)
		}
		return err
	}
	if r.starter == nil {
		return errors.New("router: no starter configured")
	}

	r.notify(ctx, connectionID, AckMessage)
	if err := r.starter.Start(ctx, job); err != nil {
		r.metrics.Request("failed")
		r.logger.Error().Err(err).
			Str("connection_id", connectionID).
			Str("job_id", job.ID).
			Msg("start job")
		r.notify(ctx, connectionID, StartFailedNotice)
		return fmt.Errorf("router: start job: %w", err)
	}
	r.metrics.Request("accepted")
	r.logger.Info().
		Str("connection_id", connectionID).
		Str("job_id", job.ID).
		Str("locale", job.Locale).
		Int("ingredients", job.Ingredients.Len()).
		Msg("job started")
	return nil
}

func (r *Router) parse(connectionID, locale string, raw []byte) (*domain.JobExecution, error) {
	var req domain.InboundRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, domain.NewValidationError("payload", "message is not valid JSON")
	}
	if req.Action != domain.ActionMessage {
		return nil, domain.NewValidationError("action", fmt.Sprintf("unsupported action %q", req.Action))
	}
	blob, err := ingredientsBlob(req.Ingredients)
	if err != nil {
		return nil, err
	}
	list, err := domain.ParseIngredients(blob, r.maxChars)
	if err != nil {
		return nil, err
	}
	return domain.NewJobExecution(r.newID(), connectionID, list, locale), nil
}

// ingredientsBlob accepts either the free-text form or an array of lines.
func ingredientsBlob(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "\n"), nil
	}
	return "", domain.NewValidationError("ingredients", "ingredients must be a string or a list of strings")
}

func (r *Router) notify(ctx context.Context, connectionID, text string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Deliver(ctx, connectionID, domain.InfoMessage(text)); err != nil {
		r.logger.Debug().Err(err).Str("connection_id", connectionID).Msg("notify connection")
	}
}
