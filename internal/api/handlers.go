// Package api exposes HTTP handlers for sample ingestion and day queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"example.com/daystats/internal/auth"
	"example.com/daystats/internal/domain"
	"example.com/daystats/internal/ledger"
	"example.com/daystats/internal/logging"
)

const maxSampleBodyBytes = 8 << 20

// Normalizer converts raw provider payloads into day samples.
type Normalizer interface {
	Normalize(raw []byte) ([]domain.DaySample, error)
}

// Ingester records day samples for a user.
type Ingester interface {
	IngestBatch(ctx context.Context, userID string, samples []domain.DaySample) ledger.BatchResult
}

// Querier serves range queries and profiles.
type Querier interface {
	Query(ctx context.Context, userID string, start, end time.Time) ([]domain.DayRecord, error)
	Profile(ctx context.Context, userID string) (domain.UserProfile, error)
}

// HealthCheck reports whether backing stores are reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies bundles the collaborators a Handler needs.
type Dependencies struct {
	Normalizer Normalizer
	Ingester   Ingester
	Querier    Querier
	Profiles   domain.ProfileWriter
	Health     HealthCheck
	Logger     *zerolog.Logger
}

// Handler coordinates HTTP requests with the ledger and query services.
type Handler struct {
	normalizer Normalizer
	ingester   Ingester
	querier    Querier
	profiles   domain.ProfileWriter
	health     HealthCheck
	logger     zerolog.Logger
}

// NewHandler builds a Handler.
func NewHandler(deps Dependencies) *Handler {
	h := &Handler{
		normalizer: deps.Normalizer,
		ingester:   deps.Ingester,
		querier:    deps.Querier,
		profiles:   deps.Profiles,
		health:     deps.Health,
		logger:     logging.Component("api"),
	}
	if deps.Logger != nil {
		h.logger = *deps.Logger
	}
	return h
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.healthz)
	r.Post("/v1/samples", h.ingestSamples)
	r.Get("/v1/days", h.queryDays)
	r.Get("/v1/profile", h.getProfile)
	r.Put("/v1/profile", h.putProfile)
}

// healthz reports OK when the store answers a ping.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ingestSamples(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeSamplesWrite)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSampleBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "unable to read body")
		return
	}

	samples, err := h.normalizer.Normalize(body)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedPayload) {
			writeError(w, http.StatusBadRequest, "malformed_payload", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	batchID := uuid.NewString()
	result := h.ingester.IngestBatch(r.Context(), claims.Subject, samples)

	resp := IngestResponse{
		BatchID:  batchID,
		Inserted: result.Inserted,
		Skipped:  result.Skipped,
		Failures: make([]DayFailureView, 0, len(result.Failures)),
	}
	status := http.StatusOK
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, DayFailureView{Date: formatDay(f.Day), Error: f.Err.Error()})
		if errors.Is(f.Err, domain.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
	}

	h.logger.Info().
		Str("batch_id", batchID).
		Str("user_id", claims.Subject).
		Int("days", len(samples)).
		Int("inserted", result.Inserted).
		Int("skipped", result.Skipped).
		Int("failed", len(result.Failures)).
		Msg("samples ingested")

	writeJSON(w, status, resp)
}

func (h *Handler) queryDays(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeDaysRead)
	if !ok {
		return
	}

	start, err := parseDay(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "start: "+err.Error())
		return
	}
	end, err := parseDay(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "end: "+err.Error())
		return
	}

	records, err := h.querier.Query(r.Context(), claims.Subject, start, end)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidRange):
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		case errors.Is(err, domain.ErrStoreUnavailable):
			writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}

	views := make([]DayView, 0, len(records))
	for _, rec := range records {
		views = append(views, toDayView(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}

	profile, err := h.querier.Profile(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "profile not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ProfileView{Name: profile.Name, Picture: profile.Picture})
}

// putProfile stores display information for the caller. Fields absent from
// the body fall back to the token's identity claims.
func (h *Handler) putProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeProfileWrite)
	if !ok {
		return
	}

	var req ProfileRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	profile := domain.UserProfile{
		UserID:  claims.Subject,
		Name:    firstNonEmpty(req.Name, claims.Name),
		Email:   firstNonEmpty(req.Email, claims.Email),
		Picture: firstNonEmpty(req.Picture, claims.Picture),
	}
	if err := h.profiles.UpsertProfile(r.Context(), profile); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ProfileView{Name: profile.Name, Picture: profile.Picture})
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

// parseDay accepts YYYY-MM-DD or epoch milliseconds.
// minMillisDigits keeps short integers such as compact dates (20240101) from
// being read as epoch milliseconds in January 1970.
const minMillisDigits = 10

func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("is required")
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	if len(raw) >= minMillisDigits {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return domain.DayKeyFromMillis(ms), nil
		}
	}
	return time.Time{}, errors.New("expected YYYY-MM-DD or epoch milliseconds")
}

func formatDay(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// IngestResponse describes the response body for POST /v1/samples.
type IngestResponse struct {
	BatchID  string           `json:"batch_id"`
	Inserted int              `json:"inserted"`
	Skipped  int              `json:"skipped"`
	Failures []DayFailureView `json:"failures"`
}

// DayFailureView reports a day that was not recorded.
type DayFailureView struct {
	Date  string `json:"date"`
	Error string `json:"error"`
}

// DayView is the flat record returned by GET /v1/days. Population fields are
// null when the day's statistic is missing.
type DayView struct {
	Date           string           `json:"date"`
	Steps          int64            `json:"steps"`
	Activities     map[string]int64 `json:"activities"`
	AverageSteps   *float64         `json:"averageSteps"`
	StdErrorOfMean *float64         `json:"stdErrorOfMean"`
}

// ProfileRequest is the payload for PUT /v1/profile.
type ProfileRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// ProfileView is returned by the profile endpoints.
type ProfileView struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func toDayView(rec domain.DayRecord) DayView {
	activities := rec.Activities
	if activities == nil {
		activities = map[string]int64{}
	}
	return DayView{
		Date:           formatDay(rec.Day),
		Steps:          rec.Steps,
		Activities:     activities,
		AverageSteps:   rec.PopulationMean,
		StdErrorOfMean: rec.PopulationSEM,
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
