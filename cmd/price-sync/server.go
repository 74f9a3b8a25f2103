package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/catalog-price-sync/pkg/metrics"
	"github.com/Sternrassler/catalog-price-sync/pkg/repricer"
	"github.com/Sternrassler/catalog-price-sync/pkg/runstore"
)

// maxRequestBody bounds the update request payload.
const maxRequestBody = 1 << 16

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", a.readyHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /update-prices", a.updatePricesHandler)
	mux.HandleFunc("GET /runs/last", a.lastRunHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (a *app) readyHandler(w http.ResponseWriter, r *http.Request) {
	if a.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// updateRequest carries the market rate. goldRate is accepted as an alias.
type updateRequest struct {
	MarketRate *float64 `json:"marketRate"`
	GoldRate   *float64 `json:"goldRate"`
}

func (r updateRequest) rate() (float64, bool) {
	switch {
	case r.MarketRate != nil:
		return *r.MarketRate, true
	case r.GoldRate != nil:
		return *r.GoldRate, true
	default:
		return 0, false
	}
}

func (a *app) updatePricesHandler(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	rate, ok := req.rate()
	if !ok {
		writeError(w, http.StatusBadRequest, "marketRate is required")
		return
	}

	summary, err := a.engine.Run(r.Context(), rate)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, repricer.ErrInvalidMarketRate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, runstore.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, repricer.ErrFirstPage):
		writeJSON(w, http.StatusBadGateway, summary)
	default:
		a.logger.Error().Err(err).Msg("Bulk price update failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *app) lastRunHandler(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusNotFound, "run store not configured")
		return
	}
	entry, err := a.store.Last(r.Context(), a.cfg.ShopName())
	if errors.Is(err, runstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no run recorded")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
