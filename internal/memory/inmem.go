package memory

import (
	"context"
	"sync"

	"github.com/ufindi/docintel/internal/models"
)

// InMemStore keeps patterns and corrections in process memory. It backs
// tests and single-node development runs.
type InMemStore struct {
	mu          sync.RWMutex
	patterns    map[string]*models.Pattern // keyed by signature
	corrections []CorrectionRecord
	counts      map[string]int // keyed by type|fieldPath
}

func NewInMemStore() *InMemStore {
	return &InMemStore{
		patterns: map[string]*models.Pattern{},
		counts:   map[string]int{},
	}
}

func countKey(t models.DocumentType, fieldPath string) string {
	return string(t) + "|" + fieldPath
}

func (s *InMemStore) PutPattern(_ context.Context, p *models.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.patterns[p.Signature]; exists {
		return ErrPatternExists
	}
	cp := *p
	s.patterns[p.Signature] = &cp
	return nil
}

func (s *InMemStore) PatternsByType(_ context.Context, t models.DocumentType) ([]*models.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Pattern
	for _, p := range s.patterns {
		if p.Type == t {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemStore) AppendCorrection(_ context.Context, rec CorrectionRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrections = append(s.corrections, rec)
	key := countKey(rec.DocumentType, rec.FieldPath)
	s.counts[key]++
	return s.counts[key], nil
}

func (s *InMemStore) Corrections(_ context.Context, t models.DocumentType) ([]CorrectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CorrectionRecord
	for _, rec := range s.corrections {
		if rec.DocumentType == t {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemStore) Close() error { return nil }
