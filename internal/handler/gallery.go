package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"neurovision/internal/dto"
	"neurovision/internal/logger"
	"neurovision/internal/middleware"
	"neurovision/internal/model"
	"neurovision/internal/repository"
	"neurovision/internal/service/analysis"
	"neurovision/internal/service/storage"
)

const (
	maxPageSize = 100
	maxPage     = 1_000_000
)

// HistoryHandler returns the caller's analyses, newest first.
func HistoryHandler(logger *logger.Logger, imageRepo repository.ImageRepository,
	recognitionRepo repository.RecognitionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.GetUserFromContext(r.Context())
		if claims == nil {
			respondError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q := r.URL.Query()
		page := min(atoiDefault(q.Get("page"), 1), maxPage)
		limit := min(atoiDefault(q.Get("limit"), 24), maxPageSize)

		filter := &dto.ImageFilters{
			UserID:     claims.UserID(),
			Object:     q.Get("object"),
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: parseDate(q.Get("dateBefore")),
			Limit:      limit,
			Offset:     (page - 1) * limit,
		}

		images, err := imageRepo.GetAll(r.Context(), filter)
		if err != nil {
			logger.Error("Error querying images from database: %v", err)
			respondError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		totalCount, err := imageRepo.GetTotalCount(r.Context(), filter)
		if err != nil {
			logger.Error("Error counting images: %v", err)
			totalCount = len(images)
		}

		pictures := make([]dto.ImageInfo, 0, len(images))
		for _, img := range images {
			info := dto.ImageInfo{
				ImageID:   img.ID,
				ImageURL:  img.ImagePath,
				Date:      img.UploadedAt,
				TimeOfDay: img.UploadedAt,
			}

			res, err := recognitionRepo.GetByImageID(r.Context(), img.ID)
			if err != nil {
				logger.Error("Error getting result for image %d: %v", img.ID, err)
			}
			if res != nil {
				info.Accuracy = res.Accuracy
				info.ObjectsCount = res.ObjectsCount
				info.Objects = objectNames(logger, res)
			}

			pictures = append(pictures, info)
		}

		data := dto.ImagesData{
			Images:      pictures,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}

		respondJSON(w, data, http.StatusOK)
	}
}

func objectNames(logger *logger.Logger, res *model.RecognitionResult) []string {
	detections, err := analysis.DecodeDetections([]byte(res.RecognizedObjects))
	if err != nil {
		logger.Error("Error decoding objects of result %d: %v", res.ID, err)
		return []string{}
	}
	names := make([]string, 0, len(detections))
	for _, d := range detections {
		names = append(names, d.ClassName)
	}
	return names
}

// ownedImage loads the image named by the {imageID} route variable and checks
// that it belongs to the caller. It writes the error response itself.
func ownedImage(w http.ResponseWriter, r *http.Request, logger *logger.Logger,
	imageRepo repository.ImageRepository) (*model.Image, bool) {
	claims := middleware.GetUserFromContext(r.Context())
	if claims == nil {
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	id, ok := parseID(mux.Vars(r)["imageID"])
	if !ok {
		respondError(w, "invalid image id", http.StatusBadRequest)
		return nil, false
	}

	img, err := imageRepo.GetByID(r.Context(), id)
	if err != nil {
		logger.Error("Error getting image %d: %v", id, err)
		respondError(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if img == nil || img.UserID != claims.UserID() {
		respondError(w, "image not found", http.StatusNotFound)
		return nil, false
	}
	return img, true
}

// ResultHandler returns the stored recognition result of one image with its
// decoded detections.
func ResultHandler(logger *logger.Logger, imageRepo repository.ImageRepository,
	recognitionRepo repository.RecognitionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		img, ok := ownedImage(w, r, logger, imageRepo)
		if !ok {
			return
		}

		res, err := recognitionRepo.GetByImageID(r.Context(), img.ID)
		if err != nil {
			logger.Error("Error getting result for image %d: %v", img.ID, err)
			respondError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if res == nil {
			respondError(w, "result not found", http.StatusNotFound)
			return
		}

		details := dto.ResultDetails{
			ImageID:            img.ID,
			ImageURL:           img.ImagePath,
			CorrelationID:      img.CorrelationID,
			UploadedAt:         img.UploadedAt,
			ProcessedImagePath: res.ProcessedImagePath,
			Accuracy:           res.Accuracy,
			ObjectsCount:       res.ObjectsCount,
			AnalyzedAt:         res.AnalyzedAt,
			Detections:         []model.Detection{},
		}
		if res.InferenceTimeMs != nil {
			details.Metrics.InferenceTime = *res.InferenceTimeMs
		}
		details.Metrics.TotalTime = res.TotalTimeMs

		if blob, err := analysis.DecodeDetails([]byte(res.DetectionDetails)); err != nil {
			logger.Warning("Result %d has unreadable details: %v", res.ID, err)
		} else {
			details.ModelVersion = blob.ModelVersion
			details.ProcessedAt = blob.ProcessedAt
			if blob.Detections != nil {
				details.Detections = blob.Detections
			}
		}

		respondJSON(w, details, http.StatusOK)
	}
}

// DeleteImageHandler removes an image with its result, and the locally
// stored file when the image was never published remotely.
func DeleteImageHandler(logger *logger.Logger, imageRepo repository.ImageRepository,
	fallback *storage.FallbackStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		img, ok := ownedImage(w, r, logger, imageRepo)
		if !ok {
			return
		}

		if err := imageRepo.Delete(r.Context(), img.ID); err != nil {
			logger.Error("Failed to delete image %d: %v", img.ID, err)
			respondError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		if name, local := fallback.NameFromURL(img.ImagePath); local {
			if err := fallback.Remove(name); err != nil {
				logger.Warning("Failed to remove stored file %s: %v", name, err)
			}
		}

		logger.Info("Deleted image %d", img.ID)
		respondJSON(w, map[string]interface{}{"status": "deleted", "image_id": img.ID}, http.StatusOK)
	}
}

// StatsHandler returns analysis statistics for the caller.
func StatsHandler(logger *logger.Logger, imageRepo repository.ImageRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.GetUserFromContext(r.Context())
		if claims == nil {
			respondError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		stats, err := imageRepo.GetStats(r.Context(), claims.UserID())
		if err != nil {
			logger.Error("Error getting stats: %v", err)
			respondError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		respondJSON(w, stats, http.StatusOK)
	}
}
