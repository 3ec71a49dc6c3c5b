// Package memory learns from reviewer corrections: it stores structural
// patterns of processed documents, retrieves similar past documents, and
// turns repeated corrections into suggestions and retraining signals.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/ufindi/docintel/internal/models"
)

// ErrPatternExists is returned when a signature is stored a second time.
// Patterns are write-once.
var ErrPatternExists = errors.New("memory: pattern already stored")

// CorrectionRecord is the propagated copy of a reviewer correction kept
// inside correction memory.
type CorrectionRecord struct {
	DocumentType models.DocumentType `json:"documentType"`
	DocumentID   string              `json:"documentId"`
	FieldPath    string              `json:"fieldPath"`
	NewValue     string              `json:"newValue"`
	RecordedAt   time.Time           `json:"recordedAt"`
}

// Store persists patterns and propagated corrections.
type Store interface {
	// PutPattern stores a write-once pattern; storing an existing
	// signature returns ErrPatternExists.
	PutPattern(ctx context.Context, p *models.Pattern) error

	// PatternsByType returns every stored pattern for one document type.
	PatternsByType(ctx context.Context, t models.DocumentType) ([]*models.Pattern, error)

	// AppendCorrection records one correction and returns the updated
	// count for its (document type, field path) pair.
	AppendCorrection(ctx context.Context, rec CorrectionRecord) (int, error)

	// Corrections returns every recorded correction for one document type.
	Corrections(ctx context.Context, t models.DocumentType) ([]CorrectionRecord, error)

	Close() error
}
