package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ufindi/docintel/internal/service/document"
	"github.com/ufindi/docintel/internal/store"
	"github.com/ufindi/docintel/pkg/logger"
)

// ReviewHandler serves the human review surface: the review queue,
// corrections, suggestions and dashboard metrics.
type ReviewHandler struct {
	service *document.Service
	logger  logger.Logger
}

func NewReviewHandler(service *document.Service, logger logger.Logger) *ReviewHandler {
	return &ReviewHandler{service: service, logger: logger}
}

// CorrectionRequest is the body for applying one correction.
type CorrectionRequest struct {
	FieldPath   string `json:"fieldPath" binding:"required"`
	NewValue    string `json:"newValue" binding:"required"`
	CorrectedBy string `json:"correctedBy" binding:"required"`
}

// Queue lists documents waiting for review.
func (h *ReviewHandler) Queue(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.handleError(c, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = parsed
	}

	docs, err := h.service.ReviewQueue(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to load review queue", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

// ApplyCorrection writes one reviewer correction.
func (h *ReviewHandler) ApplyCorrection(c *gin.Context) {
	var req CorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid correction", err)
		return
	}

	correction, err := h.service.ApplyCorrection(c.Request.Context(), c.Param("id"),
		req.FieldPath, req.NewValue, req.CorrectedBy)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.handleError(c, http.StatusNotFound, "Document not found", err)
			return
		}
		h.handleError(c, http.StatusBadRequest, "Failed to apply correction", err)
		return
	}
	c.JSON(http.StatusCreated, correction)
}

// Corrections lists a document's corrections.
func (h *ReviewHandler) Corrections(c *gin.Context) {
	corrections, err := h.service.Corrections(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to get corrections", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"corrections": corrections})
}

// Suggestions proposes replacement values for one field.
func (h *ReviewHandler) Suggestions(c *gin.Context) {
	fieldPath := c.Query("fieldPath")
	if fieldPath == "" {
		h.handleError(c, http.StatusBadRequest, "fieldPath query parameter is required", nil)
		return
	}

	suggestions, err := h.service.Suggestions(c.Request.Context(), c.Param("id"), fieldPath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.handleError(c, http.StatusNotFound, "Document not found", err)
			return
		}
		h.handleError(c, http.StatusInternalServerError, "Failed to get suggestions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fieldPath": fieldPath, "suggestions": suggestions})
}

// Clusters aggregates correction history by document type and field.
func (h *ReviewHandler) Clusters(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.handleError(c, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = parsed
	}

	clusters, err := h.service.CorrectionClusters(c.Request.Context(), limit)
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to aggregate corrections", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": clusters})
}

// Metrics serves the dashboard summary.
func (h *ReviewHandler) Metrics(c *gin.Context) {
	metrics, err := h.service.Metrics(c.Request.Context())
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to compute metrics", err)
		return
	}
	c.JSON(http.StatusOK, metrics)
}

func (h *ReviewHandler) handleError(c *gin.Context, status int, message string, err error) {
	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
		h.logger.Error(message, logger.Error(err))
	}
	c.JSON(status, response)
}
