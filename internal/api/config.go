package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spyglass-apm/spyglass/internal/core"
)

// handleGetConfig returns the full configuration snapshot.
func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.gateway.Snapshot())
}

// readBody reads the request payload, responding with 400 on failure.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return payload, true
}

func (s *Server) handleUpdateGeneral(w http.ResponseWriter, r *http.Request) {
	payload, ok := readBody(w, r)
	if !ok {
		return
	}

	agg, err := s.gateway.UpdateGeneral(payload)
	if err != nil {
		s.respondDomainError(w, err, func() (interface{}, string) {
			cur := s.gateway.store.General()
			return cur, cur.VersionHash
		})
		return
	}

	w.Header().Set("ETag", fmt.Sprintf("%q", agg.VersionHash))
	respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handleUpdateCoarseProfiling(w http.ResponseWriter, r *http.Request) {
	payload, ok := readBody(w, r)
	if !ok {
		return
	}

	agg, err := s.gateway.UpdateCoarseProfiling(payload)
	if err != nil {
		s.respondDomainError(w, err, func() (interface{}, string) {
			cur := s.gateway.store.CoarseProfiling()
			return cur, cur.VersionHash
		})
		return
	}

	w.Header().Set("ETag", fmt.Sprintf("%q", agg.VersionHash))
	respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handleUpdateFineProfiling(w http.ResponseWriter, r *http.Request) {
	payload, ok := readBody(w, r)
	if !ok {
		return
	}

	agg, err := s.gateway.UpdateFineProfiling(payload)
	if err != nil {
		s.respondDomainError(w, err, func() (interface{}, string) {
			cur := s.gateway.store.FineProfiling()
			return cur, cur.VersionHash
		})
		return
	}

	w.Header().Set("ETag", fmt.Sprintf("%q", agg.VersionHash))
	respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	payload, ok := readBody(w, r)
	if !ok {
		return
	}

	agg, err := s.gateway.UpdateUser(payload)
	if err != nil {
		s.respondDomainError(w, err, func() (interface{}, string) {
			cur := s.gateway.store.User()
			return cur, cur.VersionHash
		})
		return
	}

	w.Header().Set("ETag", fmt.Sprintf("%q", agg.VersionHash))
	respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handleUpdatePlugin(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "pluginID")

	payload, ok := readBody(w, r)
	if !ok {
		return
	}

	agg, err := s.gateway.UpdatePlugin(pluginID, payload)
	if err != nil {
		s.respondDomainError(w, err, func() (interface{}, string) {
			cur, curErr := s.gateway.PluginAggregate(pluginID)
			if curErr != nil {
				return nil, ""
			}
			return cur, cur.VersionHash
		})
		return
	}

	w.Header().Set("ETag", fmt.Sprintf("%q", agg.VersionHash))
	respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handleAddPointcut(w http.ResponseWriter, r *http.Request) {
	payload, ok := readBody(w, r)
	if !ok {
		return
	}

	agg, err := s.gateway.AddPointcut(payload)
	if err != nil {
		s.respondDomainError(w, err, nil)
		return
	}

	w.Header().Set("ETag", fmt.Sprintf("%q", agg.VersionHash))
	respondJSON(w, http.StatusCreated, agg)
}

func (s *Server) handleUpdatePointcut(w http.ResponseWriter, r *http.Request) {
	priorHash := chi.URLParam(r, "versionHash")

	payload, ok := readBody(w, r)
	if !ok {
		return
	}

	agg, err := s.gateway.UpdatePointcut(priorHash, payload)
	if err != nil {
		s.respondDomainError(w, err, nil)
		return
	}

	w.Header().Set("ETag", fmt.Sprintf("%q", agg.VersionHash))
	respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handleDeletePointcut(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "versionHash")

	if err := s.gateway.RemovePointcut(hash); err != nil {
		s.respondDomainError(w, err, nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondDomainError maps a domain error onto an HTTP response. For version
// conflicts the response carries the winning hash and, when current is
// non-nil, the winning value so the client can rebase without a second
// round trip.
func (s *Server) respondDomainError(w http.ResponseWriter, err error, current func() (interface{}, string)) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) {
		s.logger.Error("config request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch {
	case core.IsOptimisticLock(err):
		s.logger.Warn("config update conflict", "error", domErr.Message)

		body := map[string]interface{}{
			"error": domErr.Message,
			"code":  "CONFLICT",
		}
		if current != nil {
			if value, hash := current(); hash != "" {
				w.Header().Set("ETag", fmt.Sprintf("%q", hash))
				body["currentVersionHash"] = hash
				body["currentConfig"] = value
			}
		}
		respondJSON(w, http.StatusPreconditionFailed, body)

	case core.IsNotFound(err):
		respondJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": domErr.Message,
			"code":  domErr.Code,
		})

	case core.IsCategory(err, core.ErrCatValidation):
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": domErr.Message,
			"code":  domErr.Code,
		})

	default:
		s.logger.Error("config operation failed", "error", err)
		respondError(w, http.StatusInternalServerError, domErr.Message)
	}
}
