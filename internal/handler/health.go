package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/lendcore/lending-engine/pkg/response"
)

// HealthHandler exposes liveness and readiness of the payment engine's two
// backing stores: the loan database and the outstanding-balance cache.
type HealthHandler struct {
	db    *sqlx.DB
	redis *redis.Client
}

func NewHealthHandler(db *sqlx.DB, redis *redis.Client) *HealthHandler {
	return &HealthHandler{
		db:    db,
		redis: redis,
	}
}

type HealthStatus struct {
	Service   string            `json:"service"`
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Health reports liveness only; no dependencies are touched.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.Success(w, HealthStatus{
		Service:   "lending-engine",
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Ready verifies both backing stores respond before the engine accepts
// traffic. A dead cache fails readiness even though reads degrade to the
// database, so the condition surfaces instead of hiding behind fallbacks.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Service:   "lending-engine",
		Status:    "ok",
		Timestamp: time.Now(),
		Checks:    make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		log.Warn().Err(err).Msg("readiness: loan store unreachable")
		status.Status = "error"
		status.Checks["loan_store"] = "failed: " + err.Error()
	} else {
		status.Checks["loan_store"] = "ok"
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("readiness: balance cache unreachable")
		status.Status = "error"
		status.Checks["balance_cache"] = "failed: " + err.Error()
	} else {
		status.Checks["balance_cache"] = "ok"
	}

	if status.Status == "error" {
		response.Error(w, http.StatusServiceUnavailable, "Service not ready", nil)
		return
	}

	response.Success(w, status)
}
