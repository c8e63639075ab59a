package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"recipes/internal/domain"
	"recipes/internal/infra"
	"recipes/internal/metrics"
	"recipes/internal/middleware"
	"recipes/internal/registry"
)

// registryTimeout bounds registry calls made outside a client request.
const registryTimeout = 5 * time.Second

// Acceptor receives every text frame a client sends. *router.Router
// satisfies it.
type Acceptor interface {
	Accept(ctx context.Context, connectionID string, raw []byte) error
}

type HandlerOptions struct {
	Hub            *Hub
	Registry       registry.Registry
	Acceptor       Acceptor
	GatewayID      string
	AllowedOrigins []string
	Logger         *infra.Logger
	Metrics        *metrics.Metrics
	NewID          func() string
	// PingPeriod is how often idle sockets are pinged and their registry
	// entry refreshed. Zero uses the default, a little under the pong wait.
	PingPeriod time.Duration
}

// Handler upgrades GET /ws, registers the connection and feeds its messages
// to the Acceptor until the client goes away.
type Handler struct {
	hub       *Hub
	registry  registry.Registry
	acceptor  Acceptor
	gatewayID string
	upgrader  websocket.Upgrader
	logger    *infra.Logger
	metrics   *metrics.Metrics
	newID     func() string
	ping      time.Duration
}

func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	ping := opts.PingPeriod
	if ping <= 0 {
		ping = pingPeriod
	}
	allow := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		allow[origin] = struct{}{}
	}
	return &Handler{
		hub:       opts.Hub,
		registry:  opts.Registry,
		acceptor:  opts.Acceptor,
		gatewayID: opts.GatewayID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(allow, origin)
			},
		},
		logger:  logger,
		metrics: opts.Metrics,
		newID:   newID,
		ping:    ping,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already wrote the HTTP error.
		h.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	ctx := r.Context()
	id := h.newID()
	meta := domain.Metadata{
		GatewayID:   h.gatewayID,
		RemoteAddr:  middleware.ClientIP(r),
		Country:     middleware.CountryFromContext(ctx),
		Locale:      middleware.LocaleFromContext(ctx),
		ConnectedAt: time.Now().UTC(),
	}
	log := h.logger.With().Str("connection_id", id).Str("gateway_id", h.gatewayID).Logger()

	c := h.hub.add(id, conn)
	if err := h.registry.Register(ctx, id, meta); err != nil {
		log.Error().Err(err).Msg("register connection")
		h.hub.remove(id)
		_ = c.close()
		return
	}
	h.metrics.ConnectionOpened()
	log.Info().Str("locale", meta.Locale).Str("country", meta.Country).Msg("connection opened")

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), registryTimeout)
		defer cancel()
		if err := h.registry.Unregister(cleanupCtx, id); err != nil {
			log.Warn().Err(err).Msg("unregister connection")
		}
		h.hub.remove(id)
		_ = conn.Close()
		h.metrics.ConnectionClosed()
		log.Info().Msg("connection closed")
	}()

	// keepAlive must be gone before the entry is unregistered, or a late
	// refresh could bring it back.
	done, stopped := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(stopped)
		h.keepAlive(c, id, meta, done, &log)
	}()
	defer func() {
		close(done)
		<-stopped
	}()

	h.readLoop(ctx, id, conn, &log)
}

func (h *Handler) readLoop(ctx context.Context, id string, conn *websocket.Conn, log *zerolog.Logger) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if messageType != websocket.TextMessage {
			continue
		}
		if err := h.acceptor.Accept(ctx, id, data); err != nil {
			log.Debug().Err(err).Msg("message not accepted")
		}
	}
}

func (h *Handler) keepAlive(c *client, id string, meta domain.Metadata, done <-chan struct{}, log *zerolog.Logger) {
	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				return
			}
			h.refresh(id, meta, log)
		}
	}
}

// refresh keeps the registry entry of a live socket from expiring. An entry
// that vanished anyway, for example after a registry restart, is written again.
func (h *Handler) refresh(id string, meta domain.Metadata, log *zerolog.Logger) {
	refresher, ok := h.registry.(registry.Refresher)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	present, err := refresher.Refresh(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("refresh connection")
		return
	}
	if present {
		return
	}
	if err := h.registry.Register(ctx, id, meta); err != nil {
		log.Warn().Err(err).Msg("re-register connection")
		return
	}
	log.Info().Msg("connection re-registered")
}
