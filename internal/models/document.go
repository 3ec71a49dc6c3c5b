package models

import (
	"time"
)

// DocumentType identifies the kind of financial document.
type DocumentType string

const (
	BankStatement DocumentType = "bank_statement"
	Payslip       DocumentType = "payslip"
	Invoice       DocumentType = "invoice"
	Agreement     DocumentType = "agreement"
	Unknown       DocumentType = "unknown"
)

// DocumentStatus tracks a document through the pipeline. A document only
// moves forward through the stage order, except for StatusError which is
// reachable from anywhere.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusIngested   DocumentStatus = "ingested"
	StatusClassified DocumentStatus = "classified"
	StatusExtracted  DocumentStatus = "extracted"
	StatusValidated  DocumentStatus = "validated"
	StatusError      DocumentStatus = "error"
)

var statusOrder = map[DocumentStatus]int{
	StatusUploaded:   0,
	StatusIngested:   1,
	StatusClassified: 2,
	StatusExtracted:  3,
	StatusValidated:  4,
}

// CanAdvance reports whether a document may move from to a new status.
// Error is always reachable; otherwise only forward moves are allowed.
func CanAdvance(from, to DocumentStatus) bool {
	if to == StatusError {
		return true
	}
	a, ok := statusOrder[from]
	if !ok {
		return false
	}
	b, ok := statusOrder[to]
	if !ok {
		return false
	}
	return b > a
}

// Document is the record created at upload and mutated by each stage.
type Document struct {
	ID           string            `json:"id"`
	Filename     string            `json:"filename"`
	StorageKey   string            `json:"storageKey"`
	FileSize     int64             `json:"fileSize"`
	MimeType     string            `json:"mimeType"`
	Status       DocumentStatus    `json:"status"`
	Type         DocumentType      `json:"type"`
	Language     string            `json:"language,omitempty"`
	QualityScore float64           `json:"qualityScore"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	UploadedAt   time.Time         `json:"uploadedAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// CustomerID returns the owning party identifier, if recorded at upload.
func (d *Document) CustomerID() string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata["customer_id"]
}

// Region is a typed page region found by layout analysis.
type Region struct {
	Type        string  `json:"type"` // text, table, separator, image
	BBox        [4]int  `json:"bbox"` // x0, y0, x1, y1
	Area        float64 `json:"area"`
	AspectRatio float64 `json:"aspectRatio"`
}

// TableRegion is a table candidate found by line morphology.
type TableRegion struct {
	BBox       [4]int  `json:"bbox"`
	CellCount  int     `json:"cellCount"`
	Confidence float64 `json:"confidence"`
}

// PatternMatchRef points at a stored pattern whose layout resembles the
// current page, with its similarity score.
type PatternMatchRef struct {
	Signature string  `json:"signature"`
	Score     float64 `json:"score"`
}

// LayoutResult is the outcome of analyzing one rasterized page. A failed
// analysis yields empty lists with Error set, never an aborted page.
// SimilarPatterns lists previously stored layouts that resemble this one;
// it is diagnostic context for reviewers, not a control input.
type LayoutResult struct {
	Regions         []Region          `json:"regions"`
	Tables          []TableRegion     `json:"tables"`
	Width           int               `json:"width"`
	Height          int               `json:"height"`
	Orientation     string            `json:"orientation"` // horizontal or vertical
	SimilarPatterns []PatternMatchRef `json:"similarPatterns,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Extraction holds the typed field map produced for one document.
// Field values may be scalars, []any row lists, or nested maps.
type Extraction struct {
	ID          string             `json:"id"`
	DocumentID  string             `json:"documentId"`
	Fields      map[string]any     `json:"fields"`
	Tables      []ExtractedTable   `json:"tables"`
	Layout      *LayoutResult      `json:"layout,omitempty"`
	Confidence  map[string]float64 `json:"confidence"`
	ExtractedAt time.Time          `json:"extractedAt"`
}

// ExtractedTable is a table passed through from layout analysis.
type ExtractedTable struct {
	TableID    string  `json:"tableId"`
	BBox       [4]int  `json:"bbox"`
	CellCount  int     `json:"cellCount"`
	Confidence float64 `json:"confidence"`
}

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is a single validation finding.
type Issue struct {
	Code      string   `json:"code"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	FieldPath string   `json:"fieldPath,omitempty"`
	Expected  any      `json:"expected,omitempty"`
	Actual    any      `json:"actual,omitempty"`
}

// ValidationStatus is the overall outcome of a validation run.
type ValidationStatus string

const (
	ValidationPassed       ValidationStatus = "passed"
	ValidationWithWarnings ValidationStatus = "passed_with_warnings"
	ValidationNeedsReview  ValidationStatus = "needs_review"
	ValidationFailed       ValidationStatus = "failed"
)

// CrossDocumentSummary records what a validation run was compared against.
type CrossDocumentSummary struct {
	CheckedAgainst []string `json:"checkedAgainst,omitempty"`
	FieldsCompared []string `json:"fieldsCompared,omitempty"`
}

// Validation is immutable once written; re-validation appends a new record.
type Validation struct {
	ID            string               `json:"id"`
	DocumentID    string               `json:"documentId"`
	Status        ValidationStatus     `json:"status"`
	Issues        []Issue              `json:"issues"`
	RulesApplied  []string             `json:"rulesApplied"`
	CrossDocument CrossDocumentSummary `json:"crossDocument"`
	ValidatedAt   time.Time            `json:"validatedAt"`
}

// Correction is a human-supplied replacement for an extracted value.
// OldValue is nil when the field was absent before the correction.
type Correction struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"documentId"`
	FieldPath   string    `json:"fieldPath"`
	OldValue    *string   `json:"oldValue,omitempty"`
	NewValue    string    `json:"newValue"`
	CorrectedBy string    `json:"correctedBy"`
	CorrectedAt time.Time `json:"correctedAt"`
	Propagated  bool      `json:"propagated"`
}

// ProcessingLog is an append-only audit trail entry. It is diagnostic
// only and never drives control flow.
type ProcessingLog struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"documentId"`
	Stage      string         `json:"stage"`
	Status     string         `json:"status"` // started, success, error, warning
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Pattern is a write-once correction-memory record: a structural signature
// plus the layout feature vector and field snapshot it was derived from.
type Pattern struct {
	Signature  string             `json:"signature"`
	DocumentID string             `json:"documentId"`
	Type       DocumentType       `json:"type"`
	Features   map[string]float64 `json:"features"`
	Fields     map[string]any     `json:"fields"`
	StoredAt   time.Time          `json:"storedAt"`
}
