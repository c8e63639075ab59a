package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"recipes/internal/domain"
	"recipes/internal/infra"
	"recipes/internal/relay"
)

// Subscriber is the part of *nats.Conn the listener needs.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// PushListener answers relay pushes addressed to this gateway by writing
// them to the local socket. Pushes for one connection are written in arrival
// order; a stalled socket only holds up its own connection.
type PushListener struct {
	nc      Subscriber
	subject string
	local   relay.Transport
	logger  *infra.Logger

	mu  sync.Mutex
	sub *nats.Subscription

	// lanes holds the pushes waiting per connection id. An entry exists
	// while a goroutine is draining it.
	lanesMu sync.Mutex
	lanes   map[string][]pendingPush
}

type pendingPush struct {
	env     relay.PushEnvelope
	respond func(relay.PushReply)
}

func NewPushListener(nc Subscriber, prefix, gatewayID string, local relay.Transport, logger *infra.Logger) *PushListener {
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &PushListener{
		nc:      nc,
		subject: relay.PushSubject(prefix, gatewayID),
		local:   local,
		logger:  logger,
		lanes:   make(map[string][]pendingPush),
	}
}

func (l *PushListener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sub != nil {
		return errors.New("gateway: push listener already started")
	}
	sub, err := l.nc.Subscribe(l.subject, func(msg *nats.Msg) {
		l.dispatch(msg.Data, func(reply relay.PushReply) {
			data, _ := json.Marshal(reply)
			if err := msg.Respond(data); err != nil {
				l.logger.Debug().Err(err).Msg("respond to push")
			}
		})
	})
	if err != nil {
		return fmt.Errorf("gateway: subscribe %s: %w", l.subject, err)
	}
	l.sub = sub
	l.logger.Info().Str("subject", l.subject).Msg("listening for pushes")
	return nil
}

// Stop drains the subscription so in-flight pushes still get a reply.
func (l *PushListener) Stop() error {
	l.mu.Lock()
	sub := l.sub
	l.sub = nil
	l.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Drain()
}

// dispatch queues one push behind earlier pushes for the same connection.
func (l *PushListener) dispatch(data []byte, respond func(relay.PushReply)) {
	var env relay.PushEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.ConnectionID == "" {
		respond(relay.PushReply{Status: relay.StatusError, Error: "malformed push envelope"})
		return
	}
	l.lanesMu.Lock()
	queue, draining := l.lanes[env.ConnectionID]
	l.lanes[env.ConnectionID] = append(queue, pendingPush{env: env, respond: respond})
	l.lanesMu.Unlock()
	if !draining {
		go l.drain(env.ConnectionID)
	}
}

func (l *PushListener) drain(id string) {
	for {
		l.lanesMu.Lock()
		queue := l.lanes[id]
		if len(queue) == 0 {
			delete(l.lanes, id)
			l.lanesMu.Unlock()
			return
		}
		next := queue[0]
		l.lanes[id] = queue[1:]
		l.lanesMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), relay.DefaultTimeout)
		next.respond(l.deliver(ctx, next.env))
		cancel()
	}
}

func (l *PushListener) deliver(ctx context.Context, env relay.PushEnvelope) relay.PushReply {
	err := l.local.Push(ctx, domain.Connection{ID: env.ConnectionID}, env.Payload)
	switch {
	case err == nil:
		return relay.PushReply{Status: relay.StatusOK}
	case errors.Is(err, domain.ErrConnectionGone):
		return relay.PushReply{Status: relay.StatusGone}
	default:
		return relay.PushReply{Status: relay.StatusError, Error: err.Error()}
	}
}
