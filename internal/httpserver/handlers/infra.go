package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/relay/internal/domain"
	"github.com/MrSnakeDoc/relay/internal/httpserver/deps"
)

type componentStatus struct {
	OK     bool   `json:"ok"`
	Mode   string `json:"mode,omitempty"`
	Impact string `json:"impact,omitempty"`
	Error  string `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

// Infra summarises the health of every collaborator the stream depends on.
func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]componentStatus{
			"state_store": checkStore(r.Context(), d),
			"supervisor":  checkSupervisor(d),
			"encoder":     checkEncoder(d),
		}
		writeJSON(w, http.StatusOK, infraResponse{
			Mode:       determineMode(components),
			Components: components,
		})
	}
}

func determineMode(components map[string]componentStatus) string {
	if store, ok := components["state_store"]; ok && !store.OK {
		return "critical" // transitions cannot be persisted
	}
	for _, c := range components {
		if !c.OK {
			return "degraded"
		}
	}
	return "operational"
}

func checkStore(parent context.Context, d deps.Deps) componentStatus {
	ctx, cancel := context.WithTimeout(parent, 2*time.Second)
	defer cancel()
	if err := d.Store.Ping(ctx); err != nil {
		return componentStatus{OK: false, Mode: d.Store.Name(), Impact: "stream-control-disabled", Error: "unreachable"}
	}
	return componentStatus{OK: true, Mode: d.Store.Name()}
}

func checkSupervisor(d deps.Deps) componentStatus {
	snap := d.Stream.Status()
	switch snap.Phase {
	case domain.PhaseError:
		return componentStatus{OK: false, Mode: string(snap.Phase), Impact: "manual-start-required", Error: snap.ErrorMessage}
	case domain.PhaseBackoff, domain.PhaseCrashed:
		return componentStatus{OK: false, Mode: string(snap.Phase), Impact: "retry-pending", Error: snap.ErrorMessage}
	default:
		return componentStatus{OK: true, Mode: string(snap.Phase)}
	}
}

func checkEncoder(d deps.Deps) componentStatus {
	snap := d.Stream.Status()
	if snap.Phase != domain.PhaseRunning {
		return componentStatus{OK: true, Mode: "idle"}
	}
	return componentStatus{
		OK:    snap.ConnectionError == "",
		Mode:  string(snap.Connection),
		Error: snap.ConnectionError,
	}
}
