package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/kitforge-backend/api/responses"
	"github.com/angelmondragon/kitforge-backend/pkg/config"
	"github.com/angelmondragon/kitforge-backend/pkg/logger"
)

const envHeader = "X-Kitforge-Env"

const readyPingTimeout = 2 * time.Second

// Pinger is satisfied by the database and Redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

type readyResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the optional dependencies. A nil pinger is reported as
// disabled; a failing one degrades the status but still answers 200, since
// the service keeps serving webhooks without them.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
		defer cancel()

		resp := readyResponse{Status: "ready", Dependencies: map[string]string{}}
		for name, p := range map[string]Pinger{"database": dbP, "redis": redisP} {
			if p == nil {
				resp.Dependencies[name] = "disabled"
				continue
			}
			if err := p.Ping(ctx); err != nil {
				resp.Dependencies[name] = "unavailable"
				resp.Status = "degraded"
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", name), "health.ping_failed", err)
				}
				continue
			}
			resp.Dependencies[name] = "ok"
		}
		responses.WriteSuccess(w, resp)
	}
}
