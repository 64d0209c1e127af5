package main

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/animus-labs/release-registry/internal/domain"
	"github.com/animus-labs/release-registry/internal/platform/httpserver"
	"github.com/animus-labs/release-registry/internal/repo"
	"github.com/animus-labs/release-registry/internal/service/releases"
)

type releasesAPI struct {
	logger *slog.Logger
	svc    *releases.Service
	guard  func(http.Handler) http.Handler
}

func newReleasesAPI(logger *slog.Logger, svc *releases.Service, guard func(http.Handler) http.Handler) *releasesAPI {
	if guard == nil {
		guard = func(h http.Handler) http.Handler { return h }
	}
	return &releasesAPI{logger: logger, svc: svc, guard: guard}
}

func (api *releasesAPI) register(mux *http.ServeMux) {
	mux.Handle("POST /programs/{program}/releases", api.guard(http.HandlerFunc(api.handleIngest)))
	mux.Handle("POST /programs/{program}/releases/{version}/promote", api.guard(http.HandlerFunc(api.handlePromote)))
	mux.HandleFunc("GET /programs/{program}/versions/{version}", api.handleCheckVersion)
	mux.HandleFunc("GET /programs/{program}/changelog", api.handleChangelog)
}

func (api *releasesAPI) handleIngest(w http.ResponseWriter, r *http.Request) {
	release, err := api.svc.Ingest(r.Context(), r.PathValue("program"), r.Body)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusCreated, releases.ViewOf(release))
}

func (api *releasesAPI) handleCheckVersion(w http.ResponseWriter, r *http.Request) {
	check, err := api.svc.CheckVersion(r.Context(), r.PathValue("program"), r.PathValue("version"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, check)
}

func (api *releasesAPI) handleChangelog(w http.ResponseWriter, r *http.Request) {
	entries, err := api.svc.Changelog(r.Context(), r.PathValue("program"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, entries)
}

func (api *releasesAPI) handlePromote(w http.ResponseWriter, r *http.Request) {
	release, err := api.svc.Promote(r.Context(), r.PathValue("program"), r.PathValue("version"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, releases.ViewOf(release))
}

func (api *releasesAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		api.logger.Info("request rejected", "request_id", requestID, "field", verr.Field, "reason", verr.Reason)
		code := "invalid_payload"
		if verr.Field == "version" {
			code = "invalid_version"
		}
		httpserver.WriteError(w, r, http.StatusBadRequest, code)
	case errors.Is(err, repo.ErrConflict):
		httpserver.WriteError(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, repo.ErrNotFound):
		httpserver.WriteError(w, r, http.StatusNotFound, "not_found")
	default:
		api.logger.Error("request failed", "request_id", requestID, "path", r.URL.Path, "error", err)
		httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
	}
}
