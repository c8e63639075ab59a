// Package relay delivers workflow output to the connection that asked for it.
//
// The relay never holds a socket. It resolves the connection id through the
// registry on every call and hands the encoded message to a Transport, so a
// workflow running in another process can still reach the client.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"recipes/internal/domain"
	"recipes/internal/infra"
	"recipes/internal/metrics"
	"recipes/internal/registry"
)

// DefaultTimeout bounds one delivery including the registry lookup.
const DefaultTimeout = 2 * time.Second

// Transport writes an encoded message to a live connection. Implementations
// must honour ctx's deadline and return an error matching
// domain.ErrConnectionGone when the peer no longer exists.
type Transport interface {
	Push(ctx context.Context, conn domain.Connection, payload []byte) error
}

// Options configures a Relay.
type Options struct {
	Registry  registry.Registry
	Transport Transport
	Timeout   time.Duration
	Logger    *infra.Logger
	Metrics   *metrics.Metrics
}

type Relay struct {
	registry  registry.Registry
	transport Transport
	timeout   time.Duration
	logger    *infra.Logger
	metrics   *metrics.Metrics
}

func New(opts Options) *Relay {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Relay{
		registry:  opts.Registry,
		transport: opts.Transport,
		timeout:   timeout,
		logger:    logger,
		metrics:   opts.Metrics,
	}
}

// Deliver pushes msg to connectionID. Failures are returned as
// *domain.DeliveryError and are never retried here.
func (r *Relay) Deliver(ctx context.Context, connectionID string, msg domain.OutboundMessage) error {
	err := r.deliver(ctx, connectionID, msg)
	outcome := "ok"
	if err != nil {
		var derr *domain.DeliveryError
		if errors.As(err, &derr) {
			outcome = string(derr.Reason)
		}
		r.logger.Debug().Err(err).
			Str("connection_id", connectionID).
			Str("type", string(msg.Type)).
			Msg("delivery failed")
	}
	r.metrics.Delivery(string(msg.Type), outcome)
	return err
}

func (r *Relay) deliver(ctx context.Context, connectionID string, msg domain.OutboundMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return &domain.DeliveryError{ConnectionID: connectionID, Reason: domain.ReasonTransport, Err: fmt.Errorf("encode message: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if r.registry == nil || r.transport == nil {
		return &domain.DeliveryError{ConnectionID: connectionID, Reason: domain.ReasonTransport, Err: errors.New("relay not configured")}
	}
	meta, ok, err := r.registry.Lookup(ctx, connectionID)
	if err != nil {
		return &domain.DeliveryError{ConnectionID: connectionID, Reason: classifyContext(ctx, domain.ReasonTransport), Err: err}
	}
	if !ok {
		return &domain.DeliveryError{ConnectionID: connectionID, Reason: domain.ReasonConnectionGone}
	}

	err = r.transport.Push(ctx, domain.Connection{ID: connectionID, Metadata: meta}, payload)
	if err == nil {
		return nil
	}
	reason := domain.ReasonTransport
	if errors.Is(err, domain.ErrConnectionGone) {
		reason = domain.ReasonConnectionGone
	} else {
		reason = classifyContext(ctx, reason)
	}
	return &domain.DeliveryError{ConnectionID: connectionID, Reason: reason, Err: err}
}

// classifyContext reports a timeout when the delivery deadline expired.
func classifyContext(ctx context.Context, fallback domain.DeliveryReason) domain.DeliveryReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ReasonTimeout
	}
	return fallback
}
