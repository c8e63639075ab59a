package handlers

import (
	"context"
	"encoding/json"
	"net/http"
)

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

// App holds what the plain HTTP endpoints need.
type App struct {
	GatewayID string
	// Connections reports the number of sockets open on this gateway.
	Connections func() int
	Checks      map[string]Check
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
