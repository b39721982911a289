// Package handlers exposes the REST API for mention resolution and
// entity lookups.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldledger/fieldledger/internal/config"
	"github.com/fieldledger/fieldledger/internal/entity"
	"github.com/fieldledger/fieldledger/internal/graph"
	"github.com/fieldledger/fieldledger/internal/matching"
	"github.com/fieldledger/fieldledger/internal/resolver"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Store is the read/admin surface the HTTP layer needs.
type Store interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*entity.Profile, error)
	ListProfiles(ctx context.Context, kind entity.Kind, status string, limit, offset int) ([]*entity.Profile, error)
	ListOccurrences(ctx context.Context, entityID uuid.UUID) ([]*entity.Occurrence, error)
	SetProfileStatus(ctx context.Context, id uuid.UUID, status string) error
	Ping(ctx context.Context) error
}

// HTTPHandler handles HTTP requests for the entity registry.
type HTTPHandler struct {
	resolver  *resolver.Resolver
	store     Store
	nameIndex *matching.NameIndex
	graph     *graph.Client
	config    *config.Config
	logger    *slog.Logger
}

// NewHTTPHandler creates a new HTTP handler. graphClient may be nil
// when the graph projection is disabled.
func NewHTTPHandler(
	res *resolver.Resolver,
	store Store,
	nameIndex *matching.NameIndex,
	graphClient *graph.Client,
	cfg *config.Config,
	logger *slog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		resolver:  res,
		store:     store,
		nameIndex: nameIndex,
		graph:     graphClient,
		config:    cfg,
		logger:    logger,
	}
}

// RegisterRoutes registers HTTP routes.
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/mentions/resolve", h.ResolveMention).Methods("POST")

	router.HandleFunc("/api/v1/entities/lookup", h.LookupByPrefix).Methods("GET")
	router.HandleFunc("/api/v1/entities", h.ListEntities).Methods("GET")
	router.HandleFunc("/api/v1/entities/{id}", h.GetEntity).Methods("GET")
	router.HandleFunc("/api/v1/entities/{id}/history", h.GetEntityHistory).Methods("GET")
	router.HandleFunc("/api/v1/entities/{id}/status", h.SetEntityStatus).Methods("PATCH")
	router.HandleFunc("/api/v1/entities/{id}/co-mentions", h.GetCoMentions).Methods("GET")

	router.HandleFunc("/api/v1/health", h.HealthCheck).Methods("GET")
}

type resolveRequest struct {
	Kind           string            `json:"kind"`
	FullName       string            `json:"full_name"`
	GoByName       string            `json:"go_by_name,omitempty"`
	ReportID       string            `json:"report_id"`
	OccurrenceID   string            `json:"occurrence_id"`
	OccurrenceDate time.Time         `json:"occurrence_date"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	Quantity       float64           `json:"quantity,omitempty"`
	Notes          string            `json:"notes,omitempty"`
}

type resolveResponse struct {
	EntityID      string  `json:"entity_id"`
	CanonicalName string  `json:"canonical_name"`
	Path          string  `json:"path"`
	MatchScore    float64 `json:"match_score,omitempty"`
	IsNew         bool    `json:"is_new"`
}

// ResolveMention resolves one candidate mention.
func (h *HTTPHandler) ResolveMention(w http.ResponseWriter, r *http.Request) {
	var request resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	mention := &entity.Mention{
		Kind:           entity.Kind(request.Kind),
		FullName:       request.FullName,
		GoByName:       request.GoByName,
		ReportID:       request.ReportID,
		OccurrenceID:   request.OccurrenceID,
		OccurrenceDate: request.OccurrenceDate,
		Attributes:     request.Attributes,
		Quantity:       request.Quantity,
		Notes:          request.Notes,
	}

	res, err := h.resolver.Resolve(r.Context(), mention)
	if err != nil {
		if errors.Is(err, entity.ErrInvalidMention) {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid mention", err)
			return
		}
		h.logger.Error("failed to resolve mention", "occurrence_id", request.OccurrenceID, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "failed to resolve mention", err)
		return
	}

	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}

	h.writeJSONResponse(w, status, &resolveResponse{
		EntityID:      res.EntityID.String(),
		CanonicalName: res.CanonicalName,
		Path:          string(res.Path),
		MatchScore:    res.MatchScore,
		IsNew:         res.IsNew,
	})
}

// GetEntity retrieves one entity profile by ID.
func (h *HTTPHandler) GetEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	profile, err := h.store.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, "entity not found", err)
			return
		}
		h.logger.Error("failed to get entity", "entity_id", id, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "failed to get entity", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, profile)
}

// GetEntityHistory returns the occurrence trail of an entity, newest
// first.
func (h *HTTPHandler) GetEntityHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	if _, err := h.store.GetProfile(r.Context(), id); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, "entity not found", err)
			return
		}
		h.logger.Error("failed to get entity", "entity_id", id, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "failed to get entity", err)
		return
	}

	occurrences, err := h.store.ListOccurrences(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list occurrences", "entity_id", id, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "failed to list occurrences", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"entity_id":   id.String(),
		"occurrences": occurrences,
		"count":       len(occurrences),
	})
}

// ListEntities lists profiles of a kind with pagination.
func (h *HTTPHandler) ListEntities(w http.ResponseWriter, r *http.Request) {
	kind := entity.Kind(r.URL.Query().Get("kind"))
	if !kind.Valid() {
		h.writeErrorResponse(w, http.StatusBadRequest, "kind must be person or vendor", nil)
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && status != entity.StatusActive && status != entity.StatusInactive {
		h.writeErrorResponse(w, http.StatusBadRequest, "status must be active or inactive", nil)
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	profiles, err := h.store.ListProfiles(r.Context(), kind, status, limit, offset)
	if err != nil {
		h.logger.Error("failed to list entities", "kind", kind, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "failed to list entities", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"kind":     kind,
		"entities": profiles,
		"count":    len(profiles),
		"limit":    limit,
		"offset":   offset,
	})
}

// SetEntityStatus flips a profile between active and inactive.
// Inactive profiles keep their history and stay reachable by ID and
// exact name, but leave the fuzzy-match population.
func (h *HTTPHandler) SetEntityStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	var request struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if request.Status != entity.StatusActive && request.Status != entity.StatusInactive {
		h.writeErrorResponse(w, http.StatusBadRequest, "status must be active or inactive", nil)
		return
	}

	profile, err := h.store.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, "entity not found", err)
			return
		}
		h.logger.Error("failed to get entity", "entity_id", id, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "failed to get entity", err)
		return
	}

	if err := h.store.SetProfileStatus(r.Context(), id, request.Status); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			h.writeErrorResponse(w, http.StatusNotFound, "entity not found", err)
			return
		}
		h.logger.Error("failed to set entity status", "entity_id", id, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "failed to set entity status", err)
		return
	}

	// Keep the name index aligned with the active population so the
	// lookup endpoint never serves a deactivated profile.
	switch request.Status {
	case entity.StatusInactive:
		h.nameIndex.Remove(profile.Kind, profile.CanonicalName)
	case entity.StatusActive:
		h.nameIndex.Insert(profile.Kind, profile.CanonicalName, profile.ID)
	}

	h.logger.Info("entity status changed", "entity_id", id, "status", request.Status)

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"entity_id": id.String(),
		"status":    request.Status,
	})
}

// LookupByPrefix returns active entities whose canonical name starts
// with the given prefix, served from the in-memory name index.
func (h *HTTPHandler) LookupByPrefix(w http.ResponseWriter, r *http.Request) {
	kind := entity.Kind(r.URL.Query().Get("kind"))
	if !kind.Valid() {
		h.writeErrorResponse(w, http.StatusBadRequest, "kind must be person or vendor", nil)
		return
	}

	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "prefix is required", nil)
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	entries := h.nameIndex.LookupPrefix(kind, prefix, limit)

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"kind":    kind,
		"prefix":  prefix,
		"entries": entries,
		"count":   len(entries),
	})
}

// GetCoMentions returns entities sharing reports with the given
// entity. Served from the graph projection; 503 when it is disabled.
func (h *HTTPHandler) GetCoMentions(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		h.writeErrorResponse(w, http.StatusServiceUnavailable, "graph projection is disabled", nil)
		return
	}

	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	rows, err := h.graph.CoMentionedEntities(r.Context(), id.String(), limit)
	if err != nil {
		h.logger.Error("failed to query co-mentions", "entity_id", id, "error", err)
		h.writeErrorResponse(w, http.StatusInternalServerError, "failed to query co-mentions", err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"entity_id":   id.String(),
		"co_mentions": rows,
		"count":       len(rows),
	})
}

// HealthCheck reports service and store health.
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"service":   "entity-registry",
		"timestamp": time.Now().UTC(),
	}

	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		health["status"] = "unhealthy"
		health["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	h.writeJSONResponse(w, status, health)
}

// Helper methods

func (h *HTTPHandler) entityID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid entity id", err)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func (h *HTTPHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *HTTPHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": statusCode,
	}
	if err != nil {
		response["details"] = err.Error()
	}

	h.writeJSONResponse(w, statusCode, response)
}
