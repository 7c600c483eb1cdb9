package api

import (
	"context"
	"net/http"
	"pastebox/svc/util"
	"time"

	"github.com/go-chi/render"
)

type HealthResponse struct {
	Status string `json:"status"`
}

type HealthzResponse struct {
	OK    bool   `json:"ok"`
	Store string `json:"store"`
}

// Health is liveness only.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{Status: "ok"})
}

// Healthz reports whether the store answers.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := HealthzResponse{OK: true, Store: "up"}
	if err := s.paste.Ping(ctx); err != nil {
		util.Error().Err(err).Msg("store health check failed")
		resp = HealthzResponse{OK: false, Store: "down"}
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}
