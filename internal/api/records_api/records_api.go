// Package records_api is the HTTP surface: JSON handlers over the records
// service, with domain errors mapped onto status codes.
package records_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BearBump/PaxBox/internal/batch"
	"github.com/BearBump/PaxBox/internal/metrics"
	"github.com/BearBump/PaxBox/internal/models"
	"github.com/BearBump/PaxBox/internal/services/records"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type RecordsAPI struct {
	svc *records.Service

	rl          RateLimiter
	ingestLimit int64
}

func New(svc *records.Service, rl RateLimiter, ingestLimitPerMinute int64) *RecordsAPI {
	return &RecordsAPI{svc: svc, rl: rl, ingestLimit: ingestLimitPerMinute}
}

func (a *RecordsAPI) Routes(r chi.Router) {
	r.Route("/v1/flights/{flightKey}", func(r chi.Router) {
		r.Post("/ingest", a.ingest)
		r.Post("/sync", a.sync)
		r.Post("/match", a.match)

		r.Get("/stats", a.getStats)
		r.Get("/records", a.listRecords)
		r.Get("/missing", a.getMissing)

		r.Route("/records/{hbnb}", func(r chi.Router) {
			r.Get("/", a.getRecord)
			r.Post("/", a.createRecord)
			r.Put("/", a.replaceRecord)
			r.Get("/raw", a.getRecordRaw)
			r.Post("/validate", a.validateRecord)
			r.Get("/duplicates", a.listDuplicates)
			r.Post("/duplicates", a.archiveDuplicate)
		})

		r.Put("/simple/{hbnb}", a.createSimple)
		r.Delete("/simple/{hbnb}", a.deleteSimple)
	})
}

type ingestRequest struct {
	Dump    string `json:"dump"`
	Rebuild bool   `json:"rebuild"`
}

type syncRequest struct {
	Rebuild bool `json:"rebuild"`
}

type contentRequest struct {
	Content string `json:"content"`
}

type matchRequest struct {
	Text string `json:"text"`
}

type matchResponse struct {
	Match     bool   `json:"match"`
	FlightKey string `json:"flightKey"`
}

func (a *RecordsAPI) ingest(w http.ResponseWriter, r *http.Request) {
	flightKey := chi.URLParam(r, "flightKey")

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	if req.Dump == "" {
		writeBadRequest(w, "dump is required")
		return
	}
	if !a.allowIngest(w, r, flightKey) {
		return
	}

	start := time.Now()
	sum, err := a.svc.Ingest(r.Context(), flightKey, req.Dump, req.Rebuild)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.BatchesIngested.Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, sum)
}

func (a *RecordsAPI) sync(w http.ResponseWriter, r *http.Request) {
	flightKey := chi.URLParam(r, "flightKey")

	var req syncRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid json body")
			return
		}
	}
	if !a.allowIngest(w, r, flightKey) {
		return
	}

	start := time.Now()
	sum, err := a.svc.Sync(r.Context(), flightKey, req.Rebuild)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.BatchesIngested.Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, sum)
}

func (a *RecordsAPI) match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	ok, got := a.svc.Match(r.Context(), chi.URLParam(r, "flightKey"), req.Text)
	writeJSON(w, http.StatusOK, matchResponse{Match: ok, FlightKey: got})
}

func (a *RecordsAPI) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.GetStats(r.Context(), chi.URLParam(r, "flightKey"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *RecordsAPI) listRecords(w http.ResponseWriter, r *http.Request) {
	items, err := a.svc.ListRecords(r.Context(), chi.URLParam(r, "flightKey"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *RecordsAPI) getMissing(w http.ResponseWriter, r *http.Request) {
	missing, err := a.svc.GetMissing(r.Context(), chi.URLParam(r, "flightKey"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, missing)
}

func (a *RecordsAPI) getRecord(w http.ResponseWriter, r *http.Request) {
	hbnb, ok := hbnbParam(w, r)
	if !ok {
		return
	}
	rec, err := a.svc.GetRecord(r.Context(), chi.URLParam(r, "flightKey"), hbnb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// getRecordRaw serves the stored text untouched, for eyeballing dumps.
func (a *RecordsAPI) getRecordRaw(w http.ResponseWriter, r *http.Request) {
	hbnb, ok := hbnbParam(w, r)
	if !ok {
		return
	}
	rec, err := a.svc.GetRecord(r.Context(), chi.URLParam(r, "flightKey"), hbnb)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(rec.Content))
}

func (a *RecordsAPI) createRecord(w http.ResponseWriter, r *http.Request) {
	a.putRecord(w, r, a.svc.CreateRecord, http.StatusCreated)
}

func (a *RecordsAPI) replaceRecord(w http.ResponseWriter, r *http.Request) {
	a.putRecord(w, r, a.svc.ReplaceRecord, http.StatusOK)
}

func (a *RecordsAPI) putRecord(w http.ResponseWriter, r *http.Request, put func(ctx context.Context, flightKey string, hbnb int, content string) (*models.HbprRecord, error), okStatus int) {
	hbnb, ok := hbnbParam(w, r)
	if !ok {
		return
	}
	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	if req.Content == "" {
		writeBadRequest(w, "content is required")
		return
	}
	rec, err := put(r.Context(), chi.URLParam(r, "flightKey"), hbnb, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.Outcome != nil {
		metrics.ObserveOutcome(rec.Outcome.Valid(), "api", rec.Outcome.Errors)
	}
	writeJSON(w, okStatus, rec)
}

func (a *RecordsAPI) validateRecord(w http.ResponseWriter, r *http.Request) {
	hbnb, ok := hbnbParam(w, r)
	if !ok {
		return
	}
	out, err := a.svc.ValidateRecord(r.Context(), chi.URLParam(r, "flightKey"), hbnb)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.ObserveOutcome(out.Valid(), "api", out.Errors)
	writeJSON(w, http.StatusOK, out)
}

func (a *RecordsAPI) listDuplicates(w http.ResponseWriter, r *http.Request) {
	hbnb, ok := hbnbParam(w, r)
	if !ok {
		return
	}
	dups, err := a.svc.ListDuplicates(r.Context(), chi.URLParam(r, "flightKey"), hbnb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dups)
}

func (a *RecordsAPI) archiveDuplicate(w http.ResponseWriter, r *http.Request) {
	hbnb, ok := hbnbParam(w, r)
	if !ok {
		return
	}
	var req contentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json body")
		return
	}
	if req.Content == "" {
		writeBadRequest(w, "content is required")
		return
	}
	dup, err := a.svc.ArchiveDuplicate(r.Context(), chi.URLParam(r, "flightKey"), hbnb, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dup)
}

func (a *RecordsAPI) createSimple(w http.ResponseWriter, r *http.Request) {
	hbnb, ok := hbnbParam(w, r)
	if !ok {
		return
	}
	rec, err := a.svc.CreateSimple(r.Context(), chi.URLParam(r, "flightKey"), hbnb)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *RecordsAPI) deleteSimple(w http.ResponseWriter, r *http.Request) {
	hbnb, ok := hbnbParam(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeleteSimple(r.Context(), chi.URLParam(r, "flightKey"), hbnb); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// allowIngest applies the per-flight ingest rate limit. A limiter failure
// lets the request through: Redis being down must not block loads.
func (a *RecordsAPI) allowIngest(w http.ResponseWriter, r *http.Request, flightKey string) bool {
	if a.rl == nil || a.ingestLimit <= 0 {
		return true
	}
	minuteKey := fmt.Sprintf("rl:ingest:%s:%s", flightKey, time.Now().UTC().Format("200601021504"))
	allowed, n, err := a.rl.Allow(r.Context(), minuteKey, a.ingestLimit, 70*time.Second)
	if err != nil {
		slog.Warn("ingest rate limiter failed", "error", err.Error())
		return true
	}
	if !allowed {
		slog.Warn("ingest rate limit exceeded", "flightKey", flightKey, "count", n)
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "ingest rate limit exceeded"})
		return false
	}
	return true
}

func hbnbParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "hbnb"))
	if err != nil || n <= 0 || n >= models.InvalidHbnb {
		writeBadRequest(w, "hbnb must be a positive record number")
		return 0, false
	}
	return n, true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case models.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case models.IsDuplicateKey(err), models.IsFlightMismatch(err), errors.Is(err, batch.ErrRebuildRequired):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case models.IsFatalParse(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
