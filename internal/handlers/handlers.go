package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/petclassify/internal/auth"
	"github.com/example/petclassify/internal/features"
	"github.com/example/petclassify/internal/repository"
	"github.com/example/petclassify/internal/usecase"
)

// MaxUploadSize is the default cap on an uploaded image.
const MaxUploadSize = 10 << 20

// multipartSlack covers multipart framing around the image part.
const multipartSlack = 1 << 20

// Service is the use case surface the HTTP layer depends on.
type Service interface {
	ClassifyImage(ctx context.Context, userID string, imageBytes []byte) (string, *usecase.Result, error)
	ExtractFeatures(ctx context.Context, imageBytes []byte) (features.Features, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.ClassificationLog, error)
	GetDuplicateReport(ctx context.Context, userID, requestID string) (*usecase.DuplicateReport, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. A non-positive
// maxUploadSize selects MaxUploadSize.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc, maxUploadSize int64) {
	if maxUploadSize <= 0 {
		maxUploadSize = MaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(authMiddleware)

	protected.POST("/classify", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		data, ok := readUpload(c, maxUploadSize)
		if !ok {
			return
		}

		requestID, result, err := svc.ClassifyImage(c.Request.Context(), userID, data)
		if err != nil {
			if features.IsDecodeError(err) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "image could not be decoded"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":         requestID,
			"prediction":         result.Classification.Prediction,
			"confidence":         result.Classification.Confidence,
			"processing_time_ms": result.Classification.ProcessingTimeMs,
			"fallback":           result.Fallback,
			"features":           result.Features,
		})
	})

	protected.POST("/features", func(c *gin.Context) {
		data, ok := readUpload(c, maxUploadSize)
		if !ok {
			return
		}

		f, err := svc.ExtractFeatures(c.Request.Context(), data)
		if err != nil {
			if features.IsDecodeError(err) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, f)
	})

	protected.GET("/result/:id", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		log, err := svc.GetResult(c.Request.Context(), userID, requestID)
		if err != nil {
			respondLookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, logResponse(log))
	})

	protected.GET("/result/:id/duplicates", func(c *gin.Context) {
		userID, ok := requireUser(c)
		if !ok {
			return
		}

		report, err := svc.GetDuplicateReport(c.Request.Context(), userID, c.Param("id"))
		if err != nil {
			respondLookupError(c, err)
			return
		}

		duplicates := make([]gin.H, 0, len(report.Duplicates))
		for _, d := range report.Duplicates {
			duplicates = append(duplicates, logResponse(d))
		}
		c.JSON(http.StatusOK, gin.H{
			"request":    logResponse(report.Request),
			"duplicates": duplicates,
			"count":      len(duplicates),
		})
	})

	protected.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return "", false
	}
	return userID, true
}

// readUpload reads the "image" multipart part, answering 400/413/415 itself.
func readUpload(c *gin.Context, maxUploadSize int64) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize+multipartSlack)

	file, err := c.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return nil, false
	}
	if file.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return nil, false
	}

	mediaType, _, err := mime.ParseMediaType(file.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "image content type required"})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, false
	}
	return data, true
}

func respondLookupError(c *gin.Context, err error) {
	if errors.Is(err, usecase.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func logResponse(log *repository.ClassificationLog) gin.H {
	return gin.H{
		"request_id":         log.RequestID,
		"prediction":         log.Prediction,
		"confidence":         log.Confidence,
		"processing_time_ms": log.ProcessingTimeMs,
		"fallback":           log.Fallback,
		"aspect_ratio":       log.AspectRatio,
		"brightness":         log.Brightness,
		"contrast":           log.Contrast,
		"dominant_colors":    log.DominantColors,
		"sha1_hash":          log.SHA1Hash,
		"details":            log.Details,
		"created_at":         log.CreatedAt,
	}
}
