// Package document is the service layer behind the API and the worker:
// upload intake, record access, reviewer corrections, suggestions and
// retention.
package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ufindi/docintel/internal/fieldpath"
	"github.com/ufindi/docintel/internal/memory"
	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/internal/store"
	"github.com/ufindi/docintel/pkg/logger"
	"github.com/ufindi/docintel/pkg/queue"
	"github.com/ufindi/docintel/pkg/storage"
)

const (
	// maxUploadSize bounds one uploaded file.
	maxUploadSize = 20 << 20

	// defaultRetention is how long documents are kept before the sweep
	// removes them.
	defaultRetention = 90 * 24 * time.Hour
)

var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/tiff":      true,
}

type Service struct {
	store     store.Store
	objects   storage.Storage
	queue     queue.Queue
	memory    *memory.Memory
	logger    logger.Logger
	retention time.Duration
}

type Option func(*Service)

func WithRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.retention = d
		}
	}
}

func NewService(records store.Store, objects storage.Storage, q queue.Queue, mem *memory.Memory, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:     records,
		objects:   objects,
		queue:     q,
		memory:    mem,
		logger:    log,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload takes a file in, stores its bytes, creates the document record
// and queues pipeline processing. A file whose content hash matches an
// existing document is not stored again; the existing document is
// returned with duplicate set.
func (s *Service) Upload(ctx context.Context, filename, contentType string, reader io.Reader, metadata map[string]string) (*models.Document, bool, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxUploadSize+1))
	if err != nil {
		return nil, false, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, false, fmt.Errorf("empty upload")
	}
	if len(data) > maxUploadSize {
		return nil, false, fmt.Errorf("upload exceeds %d bytes", maxUploadSize)
	}

	mimeType := normalizeMime(contentType, data)
	if !allowedMimeTypes[mimeType] {
		return nil, false, fmt.Errorf("unsupported file type %q", mimeType)
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	existing, err := s.store.ListDocuments(ctx, store.Filter{ContentHash: contentHash, Limit: 1})
	if err != nil {
		return nil, false, fmt.Errorf("check for duplicate: %w", err)
	}
	if len(existing) > 0 {
		s.logger.Info("Duplicate upload detected",
			logger.String("documentID", existing[0].ID),
			logger.String("filename", filename),
		)
		return existing[0], true, nil
	}

	id := uuid.NewString()
	key := fmt.Sprintf("documents/%s/%s", id, filename)
	if _, err := s.objects.Store(ctx, bytes.NewReader(data), key); err != nil {
		return nil, false, fmt.Errorf("store upload: %w", err)
	}

	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["sha256"] = contentHash

	now := time.Now().UTC()
	doc := &models.Document{
		ID:         id,
		Filename:   filename,
		StorageKey: key,
		FileSize:   int64(len(data)),
		MimeType:   mimeType,
		Status:     models.StatusUploaded,
		Type:       models.Unknown,
		Metadata:   metadata,
		UploadedAt: now,
		UpdatedAt:  now,
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, false, fmt.Errorf("save document: %w", err)
	}
	s.audit(ctx, doc.ID, "upload", "success", filename, map[string]any{
		"size": doc.FileSize,
		"mime": mimeType,
	})

	taskID, err := s.queue.EnqueuePipelineRun(ctx, queue.PipelineRunPayload{DocumentID: doc.ID})
	if err != nil {
		// The document stays in uploaded state; reprocessing can pick it
		// up later.
		s.logger.Error("Failed to queue processing",
			logger.String("documentID", doc.ID),
			logger.Error(err),
		)
		return doc, false, nil
	}
	doc.Metadata["task_id"] = taskID
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		s.logger.Warn("Failed to persist task id", logger.Error(err))
	}

	s.logger.Info("Document accepted",
		logger.String("documentID", doc.ID),
		logger.String("taskID", taskID),
	)
	return doc, false, nil
}

// Reprocess queues another pipeline run. Force reruns a document that
// already finished.
func (s *Service) Reprocess(ctx context.Context, documentID string, force bool) (string, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return "", err
	}
	taskID, err := s.queue.EnqueuePipelineRun(ctx, queue.PipelineRunPayload{
		DocumentID: documentID,
		Force:      force,
	})
	if err != nil {
		return "", fmt.Errorf("queue reprocessing: %w", err)
	}
	return taskID, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.store.GetDocument(ctx, id)
}

func (s *Service) List(ctx context.Context, f store.Filter) ([]*models.Document, error) {
	return s.store.ListDocuments(ctx, f)
}

func (s *Service) Extraction(ctx context.Context, documentID string) (*models.Extraction, error) {
	return s.store.LatestExtraction(ctx, documentID)
}

func (s *Service) Validations(ctx context.Context, documentID string) ([]*models.Validation, error) {
	return s.store.Validations(ctx, documentID)
}

func (s *Service) Logs(ctx context.Context, documentID string) ([]*models.ProcessingLog, error) {
	return s.store.Logs(ctx, documentID)
}

func (s *Service) Corrections(ctx context.Context, documentID string) ([]*models.Correction, error) {
	return s.store.Corrections(ctx, documentID)
}

// ApplyCorrection replaces one extracted value, records the correction
// and queues its propagation into correction memory. Numeric fields stay
// numeric: a value that parses as a number is written back as one.
func (s *Service) ApplyCorrection(ctx context.Context, documentID, path, newValue, correctedBy string) (*models.Correction, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	extraction, err := s.store.LatestExtraction(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("document has no extraction: %w", err)
	}

	var oldValue *string
	if prev, ok := fieldpath.Get(extraction.Fields, path); ok {
		str := stringify(prev)
		oldValue = &str
	}

	if err := fieldpath.Set(extraction.Fields, path, parseValue(newValue)); err != nil {
		return nil, fmt.Errorf("apply correction: %w", err)
	}
	if err := s.store.SaveExtraction(ctx, extraction); err != nil {
		return nil, fmt.Errorf("save corrected extraction: %w", err)
	}

	correction := &models.Correction{
		ID:          uuid.NewString(),
		DocumentID:  documentID,
		FieldPath:   path,
		OldValue:    oldValue,
		NewValue:    newValue,
		CorrectedBy: correctedBy,
		CorrectedAt: time.Now().UTC(),
	}
	if err := s.store.SaveCorrection(ctx, correction); err != nil {
		return nil, fmt.Errorf("save correction: %w", err)
	}
	s.audit(ctx, documentID, "correction", "success", path, map[string]any{
		"correctedBy": correctedBy,
	})

	_, err = s.queue.EnqueueMemoryPropagate(ctx, queue.MemoryPropagatePayload{
		DocumentID:   documentID,
		CorrectionID: correction.ID,
		DocumentType: string(doc.Type),
	})
	if err != nil {
		// At-most-once: a correction that fails to enqueue is never
		// replayed into memory.
		s.logger.Warn("Failed to queue correction propagation",
			logger.String("correctionID", correction.ID),
			logger.Error(err),
		)
	}

	return correction, nil
}

// PropagateCorrection is the worker-side half of a correction: it records
// the correction in memory, marks it propagated, and reports whether the
// retraining threshold was hit.
func (s *Service) PropagateCorrection(ctx context.Context, documentID, correctionID string) error {
	if s.memory == nil {
		return nil
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	corrections, err := s.store.Corrections(ctx, documentID)
	if err != nil {
		return err
	}
	var correction *models.Correction
	for _, c := range corrections {
		if c.ID == correctionID {
			correction = c
			break
		}
	}
	if correction == nil {
		return fmt.Errorf("correction %s not found", correctionID)
	}
	if correction.Propagated {
		return nil
	}

	retrain, err := s.memory.RecordCorrection(ctx, doc.Type, correction)
	if err != nil {
		return err
	}
	correction.Propagated = true
	if err := s.store.SaveCorrection(ctx, correction); err != nil {
		return fmt.Errorf("mark correction propagated: %w", err)
	}

	if retrain {
		_, err := s.queue.EnqueueMemoryRetrain(ctx, queue.MemoryRetrainPayload{
			DocumentType: string(doc.Type),
			FieldPath:    correction.FieldPath,
		})
		if err != nil {
			s.logger.Error("Failed to queue retraining signal", logger.Error(err))
		}
	}
	return nil
}

// Suggestions proposes replacement values for a field based on the
// customer base's correction history for this document type.
func (s *Service) Suggestions(ctx context.Context, documentID, path string) ([]memory.Suggestion, error) {
	if s.memory == nil {
		return nil, nil
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.memory.Suggestions(ctx, doc.Type, path)
}

// ReviewQueue lists documents whose latest validation asks for a human,
// plus documents flagged during processing (low page quality).
func (s *Service) ReviewQueue(ctx context.Context, limit int) ([]*models.Document, error) {
	docs, err := s.store.ListDocuments(ctx, store.Filter{Status: models.StatusValidated})
	if err != nil {
		return nil, err
	}

	var out []*models.Document
	for _, doc := range docs {
		flagged := doc.Metadata["review_reason"] != ""
		if !flagged {
			validations, err := s.store.Validations(ctx, doc.ID)
			if err != nil || len(validations) == 0 {
				continue
			}
			latest := validations[len(validations)-1]
			flagged = latest.Status == models.ValidationNeedsReview || latest.Status == models.ValidationFailed
		}
		if flagged {
			out = append(out, doc)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Metrics summarizes pipeline state for the dashboard.
type Metrics struct {
	TotalDocuments    int                           `json:"totalDocuments"`
	ByStatus          map[models.DocumentStatus]int `json:"byStatus"`
	ByType            map[models.DocumentType]int   `json:"byType"`
	NeedsReview       int                           `json:"needsReview"`
	FailureRate       float64                       `json:"failureRate"`
	TopIssues         map[string]int                `json:"topIssues"`
	RecentCorrections int                           `json:"recentCorrections"`
}

// recentCorrectionWindow scopes the dashboard's correction count.
const recentCorrectionWindow = 7 * 24 * time.Hour

func (s *Service) Metrics(ctx context.Context) (*Metrics, error) {
	docs, err := s.store.ListDocuments(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		ByStatus:  map[models.DocumentStatus]int{},
		ByType:    map[models.DocumentType]int{},
		TopIssues: map[string]int{},
	}
	recentCutoff := time.Now().UTC().Add(-recentCorrectionWindow)
	validated, failed := 0, 0

	for _, doc := range docs {
		m.TotalDocuments++
		m.ByStatus[doc.Status]++
		m.ByType[doc.Type]++

		if validations, err := s.store.Validations(ctx, doc.ID); err == nil && len(validations) > 0 {
			latest := validations[len(validations)-1]
			validated++
			if latest.Status == models.ValidationFailed {
				failed++
			}
			for _, issue := range latest.Issues {
				m.TopIssues[issue.Code]++
			}
		}
		if corrections, err := s.store.Corrections(ctx, doc.ID); err == nil {
			for _, c := range corrections {
				if c.CorrectedAt.After(recentCutoff) {
					m.RecentCorrections++
				}
			}
		}
	}
	if validated > 0 {
		m.FailureRate = float64(failed) / float64(validated)
	}

	review, err := s.ReviewQueue(ctx, 0)
	if err != nil {
		return nil, err
	}
	m.NeedsReview = len(review)
	return m, nil
}

// CorrectionCluster groups corrections hitting the same field across
// one document type.
type CorrectionCluster struct {
	DocumentType models.DocumentType `json:"documentType"`
	FieldPath    string              `json:"fieldPath"`
	Count        int                 `json:"count"`
}

// CorrectionClusters aggregates correction history by (type, field path),
// most corrected first.
func (s *Service) CorrectionClusters(ctx context.Context, limit int) ([]CorrectionCluster, error) {
	docs, err := s.store.ListDocuments(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}

	counts := map[CorrectionCluster]int{}
	for _, doc := range docs {
		corrections, err := s.store.Corrections(ctx, doc.ID)
		if err != nil {
			continue
		}
		for _, c := range corrections {
			key := CorrectionCluster{DocumentType: doc.Type, FieldPath: c.FieldPath}
			counts[key]++
		}
	}

	clusters := make([]CorrectionCluster, 0, len(counts))
	for key, n := range counts {
		key.Count = n
		clusters = append(clusters, key)
	}
	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Count != clusters[j].Count {
			return clusters[i].Count > clusters[j].Count
		}
		if clusters[i].DocumentType != clusters[j].DocumentType {
			return clusters[i].DocumentType < clusters[j].DocumentType
		}
		return clusters[i].FieldPath < clusters[j].FieldPath
	})
	if limit > 0 && len(clusters) > limit {
		clusters = clusters[:limit]
	}
	return clusters, nil
}

// SweepExpired deletes documents past retention, object bytes included.
// It returns how many documents were removed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	threshold := time.Now().UTC().Add(-s.retention)
	docs, err := s.store.ListDocuments(ctx, store.Filter{UploadedBefore: threshold})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, doc := range docs {
		// In-flight documents are never swept, however old.
		if doc.Status != models.StatusValidated && doc.Status != models.StatusError {
			continue
		}
		if err := s.objects.Delete(ctx, doc.StorageKey); err != nil {
			s.logger.Error("Failed to delete stored object",
				logger.String("documentID", doc.ID),
				logger.Error(err),
			)
			continue
		}
		if err := s.store.DeleteDocument(ctx, doc.ID); err != nil {
			s.logger.Error("Failed to delete document records",
				logger.String("documentID", doc.ID),
				logger.Error(err),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Retention sweep complete", logger.Int("removed", removed))
	}
	return removed, nil
}

func (s *Service) audit(ctx context.Context, documentID, stage, status, message string, details map[string]any) {
	entry := &models.ProcessingLog{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Stage:      stage,
		Status:     status,
		Message:    message,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.AppendLog(ctx, entry); err != nil {
		s.logger.Warn("Failed to append audit log", logger.Error(err))
	}
}

func normalizeMime(contentType string, data []byte) string {
	mimeType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
		mimeType = strings.Split(mimeType, ";")[0]
	}
	return mimeType
}

// parseValue keeps corrected numbers numeric.
func parseValue(raw string) any {
	if f, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64); err == nil {
		return f
	}
	return raw
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
