package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/internal/service/document"
	"github.com/ufindi/docintel/internal/store"
	"github.com/ufindi/docintel/pkg/logger"
	"github.com/ufindi/docintel/pkg/queue"
)

type DocumentHandler struct {
	service *document.Service
	queue   queue.Queue
	logger  logger.Logger
}

func NewDocumentHandler(service *document.Service, q queue.Queue, logger logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		queue:   q,
		logger:  logger,
	}
}

// UploadResponse describes an accepted upload.
type UploadResponse struct {
	DocumentID string `json:"documentId"`
	Status     string `json:"status"`
	Filename   string `json:"filename"`
	FileSize   int64  `json:"fileSize"`
	Duplicate  bool   `json:"duplicate"`
	TaskID     string `json:"taskId,omitempty"`
	UploadedAt string `json:"uploadedAt"`
}

// Upload accepts one document for processing.
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	metadata := map[string]string{}
	if customerID := c.PostForm("customer_id"); customerID != "" {
		metadata["customer_id"] = customerID
	}

	doc, duplicate, err := h.service.Upload(c.Request.Context(), header.Filename,
		header.Header.Get("Content-Type"), file, metadata)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Failed to accept file", err)
		return
	}

	status := http.StatusAccepted
	if duplicate {
		status = http.StatusOK
	}
	c.JSON(status, UploadResponse{
		DocumentID: doc.ID,
		Status:     string(doc.Status),
		Filename:   doc.Filename,
		FileSize:   doc.FileSize,
		Duplicate:  duplicate,
		TaskID:     doc.Metadata["task_id"],
		UploadedAt: doc.UploadedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// List returns documents matching the query filters.
func (h *DocumentHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.handleError(c, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = parsed
	}

	docs, err := h.service.List(c.Request.Context(), store.Filter{
		Status:     models.DocumentStatus(c.Query("status")),
		Type:       models.DocumentType(c.Query("type")),
		CustomerID: c.Query("customerId"),
		Limit:      limit,
	})
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to list documents", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

// Get returns one document record.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, "Failed to get document", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Extraction returns the latest extraction for a document.
func (h *DocumentHandler) Extraction(c *gin.Context) {
	extraction, err := h.service.Extraction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, "Failed to get extraction", err)
		return
	}
	c.JSON(http.StatusOK, extraction)
}

// Validations returns the validation history for a document.
func (h *DocumentHandler) Validations(c *gin.Context) {
	validations, err := h.service.Validations(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to get validations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"validations": validations})
}

// Logs returns the audit trail for a document.
func (h *DocumentHandler) Logs(c *gin.Context) {
	logs, err := h.service.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, http.StatusInternalServerError, "Failed to get logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// Reprocess queues another pipeline run for a document.
func (h *DocumentHandler) Reprocess(c *gin.Context) {
	force := c.Query("force") == "true"
	taskID, err := h.service.Reprocess(c.Request.Context(), c.Param("id"), force)
	if err != nil {
		h.notFoundOr500(c, "Failed to queue reprocessing", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskId": taskID, "force": force})
}

// TaskStatus reports queue progress for a task.
func (h *DocumentHandler) TaskStatus(c *gin.Context) {
	status, err := h.queue.TaskStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.handleError(c, http.StatusNotFound, "Task not found", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *DocumentHandler) notFoundOr500(c *gin.Context, message string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		h.handleError(c, http.StatusNotFound, message, err)
		return
	}
	h.handleError(c, http.StatusInternalServerError, message, err)
}

func (h *DocumentHandler) handleError(c *gin.Context, status int, message string, err error) {
	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
		h.logger.Error(message, logger.Error(err))
	}
	c.JSON(status, response)
}
