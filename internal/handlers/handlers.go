package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/skin-advisor/internal/catalog"
	"github.com/example/skin-advisor/internal/imaging"
	"github.com/example/skin-advisor/internal/usecase"
	"github.com/example/skin-advisor/internal/vision"
)

// MaxUploadSize caps the multipart image payload.
const MaxUploadSize = 10 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router. authMiddleware
// may be nil; the reference deployment leaves the analysis surface open.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalysisUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	analysis := router.Group("/analysis")
	products := router.Group("/products")
	metrics := router.Group("/metrics")
	if authMiddleware != nil {
		analysis.Use(authMiddleware)
		products.Use(authMiddleware)
		metrics.Use(authMiddleware)
	}

	analysis.POST("/analyze_skin", func(c *gin.Context) {
		file, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		resp, err := uc.AnalyzeSkin(c.Request.Context(), data, file.Filename)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	})

	analysis.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		log, err := uc.GetResult(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":    log.RequestID,
			"face_detected": log.FaceDetected,
			"analysis":      log.Concerns,
			"product_count": log.ProductCount,
			"latency_ms":    log.LatencyMs,
			"created_at":    log.CreatedAt,
		})
	})

	products.GET("/recommendations", func(c *gin.Context) {
		skinType := c.Query("skin_type")
		if skinType == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "skin_type is required"})
			return
		}

		rows, err := uc.RecommendBySkinType(c.Request.Context(), skinType)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"skin_type":            skinType,
			"recommended_products": rows,
		})
	})

	metrics.GET("/summary", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// statusForError maps the pipeline error taxonomy onto HTTP statuses so a
// bad upload, a model failure and a store outage stay distinguishable.
func statusForError(err error) int {
	switch {
	case errors.Is(err, imaging.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, imaging.ErrDecodeFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrEmptySkinType):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, vision.ErrInference):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
