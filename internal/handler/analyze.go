package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"neurovision/internal/config"
	"neurovision/internal/dto"
	"neurovision/internal/logger"
	"neurovision/internal/middleware"
	"neurovision/internal/service/pipeline"
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Analyzer runs one analysis. Implemented by *pipeline.Orchestrator.
type Analyzer interface {
	Analyze(ctx context.Context, req pipeline.Request) (*dto.AnalysisResult, error)
}

// AnalyzeHandler handles POST /api/neural/analyze. The upload is the
// multipart field "image"; the optional correlation id comes from the "uuid"
// field or the X-Correlation-ID header.
func AnalyzeHandler(analyzer Analyzer, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	maxBytes := int64(cfg.MaxUploadMB) << 20

	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.GetUserFromContext(r.Context())
		if claims == nil {
			respondError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(w, "image is too large", http.StatusRequestEntityTooLarge)
				return
			}
			respondError(w, "invalid multipart form", http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("image")
		if err != nil {
			respondError(w, "no image provided", http.StatusBadRequest)
			return
		}
		defer file.Close()

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !allowedExtensions[ext] {
			respondError(w, "unsupported file type, allowed: png, jpg, jpeg", http.StatusBadRequest)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			logger.Error("Error reading upload: %v", err)
			respondError(w, "could not read image", http.StatusBadRequest)
			return
		}

		correlationID := r.FormValue("uuid")
		if correlationID == "" {
			correlationID = r.Header.Get("X-Correlation-ID")
		}

		result, err := analyzer.Analyze(r.Context(), pipeline.Request{
			Image:         data,
			Filename:      header.Filename,
			UserID:        claims.UserID(),
			CorrelationID: correlationID,
		})
		if err != nil {
			if errors.Is(err, pipeline.ErrInvalidInput) {
				respondJSON(w, dto.ErrorResponse{Error: "invalid request", Message: pipeline.SafeMessage(err)}, http.StatusBadRequest)
				return
			}
			respondJSON(w, dto.ErrorResponse{Error: "failed to process image", Message: pipeline.SafeMessage(err)}, http.StatusInternalServerError)
			return
		}

		respondJSON(w, dto.Envelope{Message: "analysis completed", Data: result}, http.StatusOK)
	}
}
