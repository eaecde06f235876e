// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/okian/reelrank/internal/adapters/repository"
	service "github.com/okian/reelrank/internal/app"
	"github.com/okian/reelrank/internal/domain/model"
	"github.com/okian/reelrank/internal/domain/types"
	"github.com/okian/reelrank/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	Rankings(ctx context.Context, userID string, ct model.ContentType) (model.RankedList, error)

	// Mutations report true when requestID was already applied.
	Append(ctx context.Context, requestID, userID string, item model.RankedItem) (bool, error)
	Reorder(ctx context.Context, requestID, userID string, ct model.ContentType, from, to int) (bool, error)
	Delete(ctx context.Context, requestID, userID string, ct model.ContentType, itemID string) (bool, error)

	Ready(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	rankingsHandler *RankingsHandler
	logger          logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, log logger.Logger) *Server {
	if log == nil {
		log = logger.Get()
	}
	return &Server{
		healthHandler:   NewHealthHandler(deps),
		statsHandler:    NewStatsHandler(statsProvider),
		rankingsHandler: NewRankingsHandler(deps),
		logger:          log,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	wrap := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		return RequestLogger(MetricsMiddleware(h, endpoint), s.logger)
	}

	mux.HandleFunc("GET /healthz", wrap(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /readyz", wrap(s.healthHandler.HandleReady, "readyz"))
	mux.HandleFunc("GET /stats", wrap(s.statsHandler.HandleStats, "stats"))

	const partition = "/v1/users/{user}/rankings/{type}"
	mux.HandleFunc("GET "+partition, wrap(s.rankingsHandler.HandleList, "rankings"))
	mux.HandleFunc("POST "+partition, wrap(s.rankingsHandler.HandleAppend, "append"))
	mux.HandleFunc("POST "+partition+"/reorder", wrap(s.rankingsHandler.HandleReorder, "reorder"))
	mux.HandleFunc("DELETE "+partition+"/items/{item}", wrap(s.rankingsHandler.HandleDelete, "delete"))
}

const maxBodyBytes = 64 << 10

var validate = validator.New()

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: msg})
}

// classify maps an error onto a status code and a stable error code.
// Only transient failures map to 5xx.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, repository.ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidContentType):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ErrConflict), errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, service.ErrBusy), errors.Is(err, service.ErrNotStarted),
		errors.Is(err, ErrUnavailable), errors.Is(err, repository.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
