package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/scholar-ingest/internal/crawler"
)

type resolveRequest struct {
	Status crawler.Decision `json:"status"`
}

func (s *Server) listSimilarities(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.deps.Review.List(r.Context())
	if err != nil {
		s.fail(w, r, err, "failed to list similarities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"similarities": candidates})
}

func (s *Server) resolveSimilarity(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Review.Resolve(r.Context(), chi.URLParam(r, "candidate_id"), req.Status)
	if err != nil {
		s.fail(w, r, err, "failed to resolve similarity")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) getSystemConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.deps.Config.GetSystemConfig(r.Context())
	if err != nil {
		s.fail(w, r, err, "failed to load system config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) putSystemConfig(w http.ResponseWriter, r *http.Request) {
	var cfg crawler.SystemConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg.UpdatedAt = s.deps.Clock.Now()
	if err := s.deps.Config.SaveSystemConfig(r.Context(), cfg); err != nil {
		s.fail(w, r, err, "failed to save system config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
