// Package httpapi exposes the oracle over a small REST surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	app "github.com/R3E-Network/twap_oracle/internal/app"
	domain "github.com/R3E-Network/twap_oracle/internal/app/domain/twap"
	registrysvc "github.com/R3E-Network/twap_oracle/internal/app/services/registry"
	twapsvc "github.com/R3E-Network/twap_oracle/internal/app/services/twap"
	"github.com/R3E-Network/twap_oracle/pkg/fixedpoint"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the oracle REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.HandleFunc("/config", h.config).Methods(http.MethodGet)
	r.HandleFunc("/pairs", h.createPair).Methods(http.MethodPost)
	r.HandleFunc("/pairs", h.listPairs).Methods(http.MethodGet)
	r.HandleFunc("/pairs/{id}", h.getPair).Methods(http.MethodGet)
	r.HandleFunc("/pairs/{id}/observations", h.observations).Methods(http.MethodGet)
	r.HandleFunc("/update", h.update).Methods(http.MethodPost)
	r.HandleFunc("/update/batch", h.batchUpdate).Methods(http.MethodPost)
	r.HandleFunc("/consult", h.consult).Methods(http.MethodGet)
	r.HandleFunc("/timestamps", h.timestamps).Methods(http.MethodGet)
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) config(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"window_seconds": int(h.app.Oracle.WindowSize().Seconds()),
		"granularity":    h.app.Oracle.Granularity(),
		"period_seconds": int(h.app.Oracle.PeriodSize().Seconds()),
	})
}

func (h *handler) createPair(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TokenA string `json:"token_a"`
		TokenB string `json:"token_b"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pair, err := h.app.Registry.Register(r.Context(), payload.TokenA, payload.TokenB)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (h *handler) listPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.app.Registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pairs)
}

func (h *handler) getPair(w http.ResponseWriter, r *http.Request) {
	pair, err := h.app.Registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type observationResponse struct {
	Timestamp        uint64 `json:"timestamp"`
	Price0Cumulative string `json:"price0_cumulative"`
	Price1Cumulative string `json:"price1_cumulative"`
}

func (h *handler) observations(w http.ResponseWriter, r *http.Request) {
	pair, err := h.app.Registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	observations, err := h.app.Oracle.Observations(r.Context(), pair.Token0, pair.Token1)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	out := make([]observationResponse, len(observations))
	for i, obs := range observations {
		out[i] = observationResponse{
			Timestamp:        obs.Timestamp,
			Price0Cumulative: obs.Price0Cumulative.Dec(),
			Price1Cumulative: obs.Price1Cumulative.Dec(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TokenA string `json:"token_a"`
		TokenB string `json:"token_b"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.app.Oracle.Update(r.Context(), payload.TokenA, payload.TokenB); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchResultResponse struct {
	TokenA string `json:"token_a"`
	TokenB string `json:"token_b"`
	Error  string `json:"error,omitempty"`
}

func (h *handler) batchUpdate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TokensA []string `json:"tokens_a"`
		TokensB []string `json:"tokens_b"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results, err := h.app.Oracle.BatchUpdate(r.Context(), payload.TokensA, payload.TokensB)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out := make([]batchResultResponse, len(results))
	for i, res := range results {
		out[i] = batchResultResponse{TokenA: res.TokenA, TokenB: res.TokenB}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) consult(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenIn := strings.TrimSpace(q.Get("token_in"))
	tokenOut := strings.TrimSpace(q.Get("token_out"))
	rawAmount := strings.TrimSpace(q.Get("amount_in"))
	if tokenIn == "" || tokenOut == "" || rawAmount == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("token_in, token_out and amount_in are required"))
		return
	}

	amountIn, err := uint256.FromDecimal(rawAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse amount_in: %w", err))
		return
	}

	amountOut, ok, err := h.app.Oracle.Consult(r.Context(), tokenIn, amountIn, tokenOut)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "amount_out": amountOut.Dec()})
}

func (h *handler) timestamps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokensA := splitList(q.Get("tokens_a"))
	tokensB := splitList(q.Get("tokens_b"))

	timestamps, ok := h.app.Oracle.LastUpdateTimestamps(r.Context(), tokensA, tokensB)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "timestamps": []uint64{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "timestamps": timestamps})
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registrysvc.ErrUnknownPair):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIdenticalTokens),
		errors.Is(err, domain.ErrZeroToken),
		errors.Is(err, twapsvc.ErrInvalidBatch):
		return http.StatusBadRequest
	case errors.Is(err, fixedpoint.ErrOverflow),
		errors.Is(err, fixedpoint.ErrDivideByZero):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, dst any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
