package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"git.platform.alem.school/amibragim/order-intake/internal/ports"
	"git.platform.alem.school/amibragim/order-intake/internal/shared/rabbitmq"
)

const pingTimeout = 2 * time.Second

// BrokerState is read by the gate; only the broker client writes it.
type BrokerState interface {
	State() rabbitmq.State
}

// Gate computes readiness on every call. Nothing is cached.
type Gate struct {
	broker BrokerState
	store  ports.Pinger // nil when the process has no database
}

// NewGate builds a gate over the broker and an optional store.
func NewGate(broker BrokerState, store ports.Pinger) *Gate {
	return &Gate{broker: broker, store: store}
}

// Report is the readiness body.
type Report struct {
	Status   string `json:"status"`
	RabbitMQ string `json:"rabbitmq"`
	Database string `json:"database,omitempty"`
}

// Check inspects the broker state and pings the store.
func (g *Gate) Check(ctx context.Context) Report {
	ready := true

	state := g.broker.State()
	if state != rabbitmq.StateReady {
		ready = false
	}
	report := Report{RabbitMQ: state.String()}

	if g.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if err := g.store.Ping(pingCtx); err != nil {
			report.Database = "unreachable"
			ready = false
		} else {
			report.Database = "ok"
		}
	}

	report.Status = "ready"
	if !ready {
		report.Status = "not_ready"
	}
	return report
}

// IsReady is true when the broker is ready and the store answers a ping.
func (g *Gate) IsReady(ctx context.Context) bool {
	return g.Check(ctx).Status == "ready"
}

// Register mounts GET /health (liveness) and GET /ready (readiness).
func (g *Gate) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		report := g.Check(r.Context())

		status := http.StatusOK
		if report.Status != "ready" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
