// Package health reports process liveness and readiness over HTTP.
//
// /healthz answers 200 whenever the process is up at all. /readyz runs the
// registered probes (speech endpoints, audio device) and answers 503 when any
// of them fails. Both respond with a JSON body: a top-level "status" of "ok"
// or "fail" plus a "checks" map naming each probe and its outcome, so an
// operator can see which dependency is the broken one.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parley-ai/parley/internal/failover"
)

// checkTimeout caps each readiness probe so one stuck dependency cannot hang
// the whole /readyz response.
const checkTimeout = 5 * time.Second

// Checker is one named readiness probe.
type Checker struct {
	// Name labels the probe in the JSON response ("device", "stt_endpoints").
	Name string

	// Check returns nil when the dependency can serve and an error describing
	// what is wrong otherwise. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// EndpointsChecker reports on the last known reachability of the registry's
// endpoints of the given kind. It fails only when every endpoint has been
// observed unreachable: a single healthy endpoint is enough to serve, that is
// the point of failover. Endpoints not yet tried count as healthy.
func EndpointsChecker(name string, reg *failover.Registry, kind failover.Kind) Checker {
	return Checker{
		Name: name,
		Check: func(_ context.Context) error {
			eps := reg.Endpoints(kind)
			if len(eps) == 0 {
				return nil
			}
			unreachable := 0
			for _, ep := range eps {
				if ep.Status() == failover.StatusUnreachable {
					unreachable++
				}
			}
			if unreachable == len(eps) {
				return fmt.Errorf("all %d %s endpoints last seen unreachable", len(eps), kind)
			}
			return nil
		},
	}
}

// result is the JSON body of both probes.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the two probes. The checker list is fixed at construction,
// so a Handler is safe for concurrent requests.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given checkers. /readyz evaluates them in the
// order given.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz reports liveness. Serving the request at all is the proof, so the
// answer is always 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker under checkTimeout and reports 503 if any fails.
// A failure does not short-circuit the loop: the response names every broken
// dependency, not just the first.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON writes v with the given status. If encoding fails the response
// degrades to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
