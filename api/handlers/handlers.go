package handlers

import (
	"github.com/ufindi/docintel/internal/service/document"
	"github.com/ufindi/docintel/pkg/logger"
	"github.com/ufindi/docintel/pkg/queue"
)

type Handlers struct {
	Document *DocumentHandler
	Review   *ReviewHandler
}

func NewHandlers(
	documentService *document.Service,
	q queue.Queue,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Document: NewDocumentHandler(documentService, q, logger),
		Review:   NewReviewHandler(documentService, logger),
	}
}

// ErrorResponse is the error body shape for every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
