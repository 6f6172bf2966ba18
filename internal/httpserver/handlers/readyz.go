package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/relay/internal/httpserver/deps"
)

type readyzResponse struct {
	Ready      bool   `json:"ready"`
	Reconciled bool   `json:"reconciled"`
	Backend    string `json:"backend"`
	BackendOK  bool   `json:"backend_ok"`
	Error      string `json:"error,omitempty"`
}

// Readyz is ready once boot reconciliation has finished and the state
// backend answers.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := readyzResponse{
			Reconciled: d.Ready == nil || d.Ready(),
			Backend:    d.Store.Name(),
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := d.Store.Ping(ctx); err != nil {
			resp.Error = "state backend unreachable"
		} else {
			resp.BackendOK = true
		}

		resp.Ready = resp.Reconciled && resp.BackendOK
		code := http.StatusOK
		if !resp.Ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	}
}
