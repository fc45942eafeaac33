package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tinoosan/fintrack/internal/dictionary"
)

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz pings the store with a short deadline.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
	defer cancel()
	if s.ready != nil {
		if err := s.ready.Ready(ctx); err != nil {
			s.log.Warn("readiness check failed", "err", err)
			writeErr(w, http.StatusServiceUnavailable, "UNAVAILABLE", "store is not ready")
			return
		}
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ready"})
}

// GET /api/dictionary/categories
func (s *Server) getCategories(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, dictionary.Categories())
}

// GET /api/dictionary/themes
func (s *Server) getThemes(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, dictionary.Themes)
}

// pathID parses the {id} URL parameter. It writes the 400 itself.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
