package controllers

import (
	"net/http"

	"github.com/angelmondragon/kitforge-backend/api/responses"
	"github.com/angelmondragon/kitforge-backend/pkg/config"
)

// PublicFeatures exposes the resolved integration flags so the UI can hide
// disabled flows.
func PublicFeatures(cfg *config.Config) http.HandlerFunc {
	flags := cfg.Features.Map()
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]any{"features": flags})
	}
}
