package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ufindi/docintel/internal/models"
)

// InMemStore keeps all records in process memory, for tests and local
// development.
type InMemStore struct {
	mu          sync.RWMutex
	documents   map[string]*models.Document
	extractions map[string]*models.Extraction // latest per document
	validations map[string][]*models.Validation
	corrections map[string][]*models.Correction
	logs        map[string][]*models.ProcessingLog
}

func NewInMemStore() *InMemStore {
	return &InMemStore{
		documents:   map[string]*models.Document{},
		extractions: map[string]*models.Extraction{},
		validations: map[string][]*models.Validation{},
		corrections: map[string][]*models.Correction{},
		logs:        map[string][]*models.ProcessingLog{},
	}
}

func (s *InMemStore) SaveDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.documents[doc.ID] = &cp
	return nil
}

func (s *InMemStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *InMemStore) ListDocuments(_ context.Context, f Filter) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Document
	for _, doc := range s.documents {
		if matches(doc, f) {
			cp := *doc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[id]; !ok {
		return ErrNotFound
	}
	delete(s.documents, id)
	delete(s.extractions, id)
	delete(s.validations, id)
	delete(s.corrections, id)
	delete(s.logs, id)
	return nil
}

func (s *InMemStore) SaveExtraction(_ context.Context, ex *models.Extraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ex
	s.extractions[ex.DocumentID] = &cp
	return nil
}

func (s *InMemStore) LatestExtraction(_ context.Context, documentID string) (*models.Extraction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.extractions[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ex
	return &cp, nil
}

func (s *InMemStore) AppendValidation(_ context.Context, v *models.Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.validations[v.DocumentID] = append(s.validations[v.DocumentID], &cp)
	return nil
}

func (s *InMemStore) Validations(_ context.Context, documentID string) ([]*models.Validation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Validation, 0, len(s.validations[documentID]))
	for _, v := range s.validations[documentID] {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemStore) SaveCorrection(_ context.Context, c *models.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	for i, existing := range s.corrections[c.DocumentID] {
		if existing.ID == c.ID {
			s.corrections[c.DocumentID][i] = &cp
			return nil
		}
	}
	s.corrections[c.DocumentID] = append(s.corrections[c.DocumentID], &cp)
	return nil
}

func (s *InMemStore) Corrections(_ context.Context, documentID string) ([]*models.Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Correction, 0, len(s.corrections[documentID]))
	for _, c := range s.corrections[documentID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemStore) AppendLog(_ context.Context, entry *models.ProcessingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.logs[entry.DocumentID] = append(s.logs[entry.DocumentID], &cp)
	return nil
}

func (s *InMemStore) Logs(_ context.Context, documentID string) ([]*models.ProcessingLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ProcessingLog, 0, len(s.logs[documentID]))
	for _, entry := range s.logs[documentID] {
		cp := *entry
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemStore) Close() error { return nil }
