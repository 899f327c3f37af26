package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Brownie44l1/food-classifier/internal/metrics"
	"github.com/Brownie44l1/food-classifier/internal/model"
	"github.com/Brownie44l1/food-classifier/internal/preprocess"
	"github.com/Brownie44l1/food-classifier/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Predictor runs inference on an image file.
type Predictor interface {
	PredictFile(ctx context.Context, path string, k int) ([]model.Prediction, error)
}

// PredictionLog persists prediction rows.
type PredictionLog interface {
	SavePredictions(ctx context.Context, recs []store.Record) error
}

// Options configures a Handler.
type Options struct {
	TopK int
	// UploadDir holds temporary upload files; empty means os.TempDir().
	UploadDir string
	MaxBytes  int64
	// Metrics may be nil.
	Metrics *metrics.Metrics
}

type Handler struct {
	predictor Predictor
	log       PredictionLog
	opts      Options
	logger    *zap.Logger
}

func NewHandler(predictor Predictor, log PredictionLog, opts Options, logger *zap.Logger) *Handler {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.UploadDir == "" {
		opts.UploadDir = os.TempDir()
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 20
	}
	return &Handler{
		predictor: predictor,
		log:       log,
		opts:      opts,
		logger:    logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Predict accepts a multipart upload in the "image" field, logs the top
// labels and returns them as [{"label", "confidence"}].
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBytes)
	if err := r.ParseMultipartForm(h.opts.MaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes", h.opts.MaxBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "No image uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image uploaded")
		return
	}
	defer file.Close()

	h.logger.Info("received file", zap.String("filename", header.Filename), zap.Int64("size", header.Size))

	tempPath, err := h.saveUpload(file, header.Filename)
	if err != nil {
		h.logger.Error("failed to store upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}
	defer func() {
		if err := os.Remove(tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("failed to remove temporary file", zap.String("path", tempPath), zap.Error(err))
		}
	}()

	results, err := h.predictor.PredictFile(r.Context(), tempPath, h.opts.TopK)
	if err != nil {
		if errors.Is(err, preprocess.ErrDecode) {
			writeError(w, http.StatusBadRequest, "Invalid image format. Supported: JPEG, PNG, GIF")
			return
		}
		h.logger.Error("prediction failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Prediction failed")
		return
	}

	recs := make([]store.Record, len(results))
	for i, res := range results {
		recs[i] = store.Record{Filename: header.Filename, Label: res.Label, Confidence: res.Confidence}
	}
	if err := h.log.SavePredictions(r.Context(), recs); err != nil {
		h.logger.Error("failed to save predictions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to save predictions")
		return
	}
	if h.opts.Metrics != nil && len(results) > 0 {
		h.opts.Metrics.ObservePrediction(results[0].Label)
	}

	writeJSON(w, http.StatusOK, results)
}

// saveUpload copies the upload to a uniquely named file in UploadDir,
// keeping the original extension.
func (h *Handler) saveUpload(src io.Reader, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	path := filepath.Join(h.opts.UploadDir, "temp_"+uuid.NewString()+ext)

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// EnableCORS allows browser clients on other origins.
func EnableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Routes registers the API on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/predict", h.Predict)
	if h.opts.Metrics != nil {
		mux.Handle("/metrics", h.opts.Metrics.Handler())
	}
	return mux
}
