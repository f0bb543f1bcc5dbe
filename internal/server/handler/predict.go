package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
	"github.com/alanyoungcy/cryptoboard/internal/predict"
)

// Predictor runs the collect then predict pipeline for one asset.
type Predictor interface {
	Run(ctx context.Context, assetID string) (domain.Prediction, error)
	Collect(ctx context.Context, assetID string) (string, error)
	PurgeCache(ctx context.Context) (int, error)
}

type collectResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Asset     string `json:"asset,omitempty"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	Help      string `json:"help,omitempty"`
	Timestamp string `json:"timestamp"`
}

// PredictHandler serves the prediction endpoint.
type PredictHandler struct {
	runner Predictor
	logger *slog.Logger
}

// NewPredictHandler creates a PredictHandler. A nil runner means prediction
// is disabled and every request answers 503.
func NewPredictHandler(runner Predictor, logger *slog.Logger) *PredictHandler {
	return &PredictHandler{runner: runner, logger: logHandler(logger, "predict")}
}

// Predict runs the pipeline and responds with the script's JSON object.
// GET /predict/{assetId}
func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "prediction disabled", predict.ErrDisabled.Error())
		return
	}

	assetID, ok := assetParam(w, r)
	if !ok {
		return
	}

	out, err := h.runner.Run(r.Context(), assetID)
	if err == nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
		return
	}

	var pe *predict.PipelineError
	switch {
	case errors.As(err, &pe):
		resp := errorResponse{
			Error:     "prediction failed",
			Message:   pe.Error(),
			Timestamp: nowRFC3339(),
			Help:      pipelineHelp(pe),
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	case errors.Is(err, predict.ErrInvalidAsset):
		writeError(w, http.StatusBadRequest, "invalid asset id", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller gave up while waiting for a free slot.
		writeError(w, http.StatusServiceUnavailable, "prediction busy", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "prediction failed",
			slog.String("asset", assetID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "prediction failed", err.Error())
	}
}

// Collect runs only the data-collection script for an asset.
// POST /predict/{assetId}/collect
func (h *PredictHandler) Collect(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "prediction disabled", predict.ErrDisabled.Error())
		return
	}
	assetID, ok := assetParam(w, r)
	if !ok {
		return
	}

	out, err := h.runner.Collect(r.Context(), assetID)
	if err == nil {
		writeJSON(w, http.StatusOK, collectResponse{
			Success:   true,
			Message:   "data collected",
			Asset:     assetID,
			Output:    out,
			Timestamp: nowRFC3339(),
		})
		return
	}

	var pe *predict.PipelineError
	switch {
	case errors.As(err, &pe):
		msg := pe.Stderr
		if msg == "" {
			msg = pe.Error()
		}
		writeJSON(w, http.StatusInternalServerError, collectResponse{
			Message:   msg,
			Asset:     assetID,
			Error:     "data collection failed",
			Help:      pipelineHelp(pe),
			Timestamp: nowRFC3339(),
		})
	case errors.Is(err, predict.ErrInvalidAsset):
		writeError(w, http.StatusBadRequest, "invalid asset id", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "prediction busy", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "collection failed",
			slog.String("asset", assetID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "data collection failed", err.Error())
	}
}

// PurgeCache deletes the scripts' per-asset cache and data files.
// DELETE /predict/cache
func (h *PredictHandler) PurgeCache(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "prediction disabled", predict.ErrDisabled.Error())
		return
	}

	removed, err := h.runner.PurgeCache(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "purge script cache failed",
			slog.Int("removed", removed),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusServiceUnavailable, "prediction busy", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "purge failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"removed":   removed,
		"timestamp": nowRFC3339(),
	})
}

func assetParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	assetID := strings.ToLower(strings.TrimSpace(r.PathValue("assetId")))
	if !predict.ValidAssetID(assetID) {
		writeError(w, http.StatusBadRequest, "invalid asset id",
			"asset ids are lowercase letters, digits and dashes, e.g. bitcoin")
		return "", false
	}
	return assetID, true
}

func pipelineHelp(pe *predict.PipelineError) string {
	switch {
	case pe.Kind == predict.KindTimeout:
		return "the " + string(pe.Stage) + " step did not finish in time; retry later"
	case strings.Contains(pe.Stderr, "429") || strings.Contains(pe.Message, "429"):
		return "the market data API is rate limiting; wait a few minutes or configure an API key"
	case pe.Stage == predict.StageCollect:
		return "data collection failed; check the collector logs"
	default:
		return "check that data was collected for this asset"
	}
}
