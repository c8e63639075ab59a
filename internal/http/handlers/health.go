package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"
)

const checkTimeout = 2 * time.Second

type healthResponse struct {
	Status      string            `json:"status"`
	GatewayID   string            `json:"gateway_id,omitempty"`
	Connections int               `json:"connections"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// Health answers 200 when every dependency check passes and 503 otherwise.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", GatewayID: a.GatewayID}
	if a.Connections != nil {
		resp.Connections = a.Connections()
	}
	code := http.StatusOK
	if len(a.Checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()
		names := make([]string, 0, len(a.Checks))
		for name := range a.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		resp.Checks = make(map[string]string, len(names))
		for _, name := range names {
			if err := a.Checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}
	a.json(w, code, resp)
}
