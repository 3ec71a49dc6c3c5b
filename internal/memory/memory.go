package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ufindi/docintel/internal/fieldpath"
	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/pkg/logger"
)

const (
	// defaultRetrainThreshold is the correction count per (type, field
	// path) at which a retraining signal fires. It fires exactly once,
	// when the count reaches the threshold.
	defaultRetrainThreshold = 10

	// similarityFloor drops weak pattern matches.
	similarityFloor = 0.5

	maxSuggestions = 3

	exactPathDivisor = 10.0
	leafPathDivisor  = 20.0
	leafScoreCap     = 0.5

	// signatureKeyFields is how many field names feed the pattern
	// signature.
	signatureKeyFields = 5
)

// Match is a stored pattern with its similarity to the query features.
type Match struct {
	Pattern *models.Pattern
	Score   float64
}

// Suggestion is a candidate replacement value derived from correction
// history.
type Suggestion struct {
	Value       string  `json:"value"`
	Score       float64 `json:"score"`
	Occurrences int     `json:"occurrences"`
}

type Memory struct {
	store     Store
	logger    logger.Logger
	threshold int
}

type Option func(*Memory)

func WithRetrainThreshold(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.threshold = n
		}
	}
}

func New(store Store, log logger.Logger, opts ...Option) *Memory {
	m := &Memory{
		store:     store,
		logger:    log,
		threshold: defaultRetrainThreshold,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordPattern stores the structural fingerprint of a processed
// document. Patterns are write-once; recording a signature twice is a
// no-op.
func (m *Memory) RecordPattern(ctx context.Context, doc *models.Document, features map[string]float64, fields map[string]any) (*models.Pattern, error) {
	pattern := &models.Pattern{
		Signature:  Signature(doc.Type, features, fields),
		DocumentID: doc.ID,
		Type:       doc.Type,
		Features:   features,
		Fields:     fields,
		StoredAt:   time.Now().UTC(),
	}

	err := m.store.PutPattern(ctx, pattern)
	if errors.Is(err, ErrPatternExists) {
		m.logger.Debug("Pattern already stored", logger.String("signature", pattern.Signature))
		return pattern, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store pattern: %w", err)
	}

	m.logger.Info("Pattern stored",
		logger.String("documentID", doc.ID),
		logger.String("signature", pattern.Signature),
	)
	return pattern, nil
}

// FindSimilar returns stored patterns of the same type scoring above the
// similarity floor, best first.
func (m *Memory) FindSimilar(ctx context.Context, t models.DocumentType, features map[string]float64) ([]Match, error) {
	patterns, err := m.store.PatternsByType(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}

	var matches []Match
	for _, p := range patterns {
		score := Similarity(features, p.Features)
		if score > similarityFloor {
			matches = append(matches, Match{Pattern: p, Score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Pattern.Signature < matches[j].Pattern.Signature
	})
	return matches, nil
}

// RecordCorrection stores a propagated correction and reports whether it
// pushed its (type, field path) count exactly to the retraining
// threshold.
func (m *Memory) RecordCorrection(ctx context.Context, t models.DocumentType, c *models.Correction) (bool, error) {
	count, err := m.store.AppendCorrection(ctx, CorrectionRecord{
		DocumentType: t,
		DocumentID:   c.DocumentID,
		FieldPath:    c.FieldPath,
		NewValue:     c.NewValue,
		RecordedAt:   c.CorrectedAt,
	})
	if err != nil {
		return false, fmt.Errorf("record correction: %w", err)
	}

	retrain := count == m.threshold
	if retrain {
		m.logger.Info("Retraining threshold reached",
			logger.String("type", string(t)),
			logger.String("fieldPath", c.FieldPath),
			logger.Int("count", count),
		)
	}
	return retrain, nil
}

// Suggestions derives candidate values for a field from correction
// history. Corrections on the exact path weigh twice as much as
// corrections on other paths sharing the leaf name, and same-leaf scores
// are capped.
func (m *Memory) Suggestions(ctx context.Context, t models.DocumentType, path string) ([]Suggestion, error) {
	records, err := m.store.Corrections(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("load corrections: %w", err)
	}

	leaf := fieldpath.Leaf(path)
	exact := map[string]int{}
	sameLeaf := map[string]int{}
	for _, rec := range records {
		switch {
		case rec.FieldPath == path:
			exact[rec.NewValue]++
		case fieldpath.Leaf(rec.FieldPath) == leaf:
			sameLeaf[rec.NewValue]++
		}
	}

	scores := map[string]Suggestion{}
	for value, freq := range exact {
		scores[value] = Suggestion{
			Value:       value,
			Score:       min(float64(freq)/exactPathDivisor, 1.0),
			Occurrences: freq,
		}
	}
	for value, freq := range sameLeaf {
		score := min(float64(freq)/leafPathDivisor, leafScoreCap)
		if existing, ok := scores[value]; ok {
			if score > existing.Score {
				existing.Score = score
			}
			existing.Occurrences += freq
			scores[value] = existing
			continue
		}
		scores[value] = Suggestion{Value: value, Score: score, Occurrences: freq}
	}

	out := make([]Suggestion, 0, len(scores))
	for _, s := range scores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return out[i].Value < out[j].Value
	})
	if len(out) > maxSuggestions {
		out = out[:maxSuggestions]
	}
	return out, nil
}

// Signature fingerprints a document's structure: type, quantized layout
// features, and the shape of the extracted field set (field count plus
// the first few field names). Same layout with different fields yields
// different signatures.
func Signature(t models.DocumentType, features map[string]float64, fields map[string]any) string {
	keys := make([]string, 0, len(features))
	for k := range features {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	if len(names) > signatureKeyFields {
		names = names[:signatureKeyFields]
	}

	h := sha256.New()
	fmt.Fprintf(h, "%s|", t)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%.1f;", k, features[k])
	}
	fmt.Fprintf(h, "|fields=%d|", len(fields))
	for _, k := range names {
		fmt.Fprintf(h, "%s;", k)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
