// Package store persists pipeline records: documents, extractions,
// validations, corrections and the audit trail. Validations and logs are
// append-only; extractions keep the latest version per document.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ufindi/docintel/internal/models"
)

var ErrNotFound = errors.New("store: record not found")

// Filter narrows document listings. Zero-value fields are ignored.
type Filter struct {
	Status         models.DocumentStatus
	Type           models.DocumentType
	CustomerID     string
	ContentHash    string
	UploadedBefore time.Time
	Limit          int
}

// Store is the pipeline's record store.
type Store interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, f Filter) ([]*models.Document, error)

	// DeleteDocument removes the document and all of its dependent
	// records. It backs the retention sweep.
	DeleteDocument(ctx context.Context, id string) error

	SaveExtraction(ctx context.Context, ex *models.Extraction) error
	LatestExtraction(ctx context.Context, documentID string) (*models.Extraction, error)

	AppendValidation(ctx context.Context, v *models.Validation) error
	Validations(ctx context.Context, documentID string) ([]*models.Validation, error)

	SaveCorrection(ctx context.Context, c *models.Correction) error
	Corrections(ctx context.Context, documentID string) ([]*models.Correction, error)

	AppendLog(ctx context.Context, entry *models.ProcessingLog) error
	Logs(ctx context.Context, documentID string) ([]*models.ProcessingLog, error)

	Close() error
}

// matches applies a filter to one document.
func matches(doc *models.Document, f Filter) bool {
	if f.Status != "" && doc.Status != f.Status {
		return false
	}
	if f.Type != "" && doc.Type != f.Type {
		return false
	}
	if f.CustomerID != "" && doc.CustomerID() != f.CustomerID {
		return false
	}
	if f.ContentHash != "" && doc.Metadata["sha256"] != f.ContentHash {
		return false
	}
	if !f.UploadedBefore.IsZero() && !doc.UploadedAt.Before(f.UploadedBefore) {
		return false
	}
	return true
}
