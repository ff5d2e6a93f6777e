// Package predict exposes the range predictor over HTTP.
package predict

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	coremetrics "github.com/kilianp07/evrange/core/metrics"
	"github.com/kilianp07/evrange/core/prediction"
	"github.com/kilianp07/evrange/infra/logger"
	"github.com/kilianp07/evrange/internal/eventbus"
)

const maxBody = 8 << 20

// Info identifies the served model on /healthz.
type Info struct {
	RunID          string `json:"run_id"`
	Fingerprint    string `json:"fingerprint"`
	SequenceLength int    `json:"sequence_length"`
}

// Options configures the handler. Bus and AllowedOrigins are optional.
type Options struct {
	Predictor      prediction.RangePredictor
	Info           Info
	Bus            eventbus.EventBus
	AllowedOrigins []string
}

type rangeResponse struct {
	RangeKm float64 `json:"predicted_remaining_range_km"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler returns a mux serving POST /predict_range and GET /healthz.
func NewHandler(opts Options) http.Handler {
	h := &handler{opts: opts, log: logger.New("predict-api")}
	mux := http.NewServeMux()
	mux.HandleFunc("/predict_range", h.predictRange)
	mux.HandleFunc("/healthz", h.health)
	return h.cors(mux)
}

type handler struct {
	opts Options
	log  logger.Logger
}

func (h *handler) predictRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	rows, err := decodeRows(io.LimitReader(r.Body, maxBody))
	var km float64
	if err == nil {
		km, err = h.opts.Predictor.PredictRange(r.Context(), rows)
	}
	h.publish(km, err, time.Since(start))
	if err != nil {
		h.log.Warnf("predict_range: %v", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rangeResponse{RangeKm: km})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Info
	}{"ok", h.opts.Info})
}

func (h *handler) publish(km float64, err error, latency time.Duration) {
	if h.opts.Bus == nil {
		return
	}
	ev := coremetrics.PredictionEvent{Source: "http", RangeKm: km, Latency: latency, Time: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	h.opts.Bus.Publish(ev)
}

// cors allows the configured origins. "*" allows any origin.
func (h *handler) cors(next http.Handler) http.Handler {
	if len(h.opts.AllowedOrigins) == 0 {
		return next
	}
	allowed := map[string]bool{}
	for _, o := range h.opts.AllowedOrigins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowed["*"] || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// decodeRows accepts a JSON array of rows or an object {"data": [...]}. Field
// values are checked against the schema by the predictor, see prediction.Row.
func decodeRows(r io.Reader) ([]prediction.Row, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var rows []prediction.Row
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("rows must be JSON objects: %w", err)
		}
		return rows, nil
	}
	var env struct {
		Data *[]prediction.Row `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("rows must be JSON objects: %w", err)
	}
	if env.Data == nil {
		return nil, errors.New(`body must be a JSON array of rows or {"data": [...]}`)
	}
	return *env.Data, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
