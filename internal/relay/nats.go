package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"recipes/internal/domain"
)

const (
	StatusOK    = "ok"
	StatusGone  = "gone"
	StatusError = "error"
)

// PushEnvelope is the request sent to the gateway owning a connection.
type PushEnvelope struct {
	ConnectionID string          `json:"connection_id"`
	Payload      json.RawMessage `json:"payload"`
}

// PushReply is the gateway's answer to a PushEnvelope.
type PushReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// PushSubject is the subject a gateway listens on for pushes to its sockets.
func PushSubject(prefix, gatewayID string) string {
	return fmt.Sprintf("%s.gateway.%s.push", prefix, gatewayID)
}

// Requester is the part of *nats.Conn the transport needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// NATSTransport reaches connections owned by other gateways with a NATS
// request to the owner's push subject.
type NATSTransport struct {
	nc     Requester
	prefix string
}

func NewNATSTransport(nc Requester, prefix string) *NATSTransport {
	return &NATSTransport{nc: nc, prefix: prefix}
}

func (t *NATSTransport) Push(ctx context.Context, conn domain.Connection, payload []byte) error {
	if conn.Metadata.GatewayID == "" {
		return fmt.Errorf("relay: connection %s has no gateway: %w", conn.ID, domain.ErrConnectionGone)
	}
	data, err := json.Marshal(PushEnvelope{ConnectionID: conn.ID, Payload: payload})
	if err != nil {
		return fmt.Errorf("relay: encode envelope: %w", err)
	}
	msg, err := t.nc.RequestWithContext(ctx, PushSubject(t.prefix, conn.Metadata.GatewayID), data)
	if err != nil {
		// Nobody listens on the subject: the owning gateway is gone and so is the socket.
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("relay: gateway %s: %w", conn.Metadata.GatewayID, domain.ErrConnectionGone)
		}
		return fmt.Errorf("relay: nats request: %w", err)
	}
	var reply PushReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("relay: decode reply: %w", err)
	}
	switch reply.Status {
	case StatusOK:
		return nil
	case StatusGone:
		return fmt.Errorf("relay: %s: %w", conn.ID, domain.ErrConnectionGone)
	default:
		return fmt.Errorf("relay: gateway error: %s", reply.Error)
	}
}

// Routed writes to local sockets directly and sends everything else over NATS.
type Routed struct {
	LocalID string
	Local   Transport
	Remote  Transport
}

func (r *Routed) Push(ctx context.Context, conn domain.Connection, payload []byte) error {
	if r.Local != nil && (conn.Metadata.GatewayID == r.LocalID || r.Remote == nil) {
		return r.Local.Push(ctx, conn, payload)
	}
	if r.Remote == nil {
		return errors.New("relay: no transport for remote gateway")
	}
	return r.Remote.Push(ctx, conn, payload)
}

var (
	_ Transport = (*NATSTransport)(nil)
	_ Transport = (*Routed)(nil)
)
