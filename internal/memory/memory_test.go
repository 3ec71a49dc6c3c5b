package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/pkg/logger"
)

func newMemory(t *testing.T, opts ...Option) *Memory {
	t.Helper()
	return New(NewInMemStore(), logger.NewTestLogger(), opts...)
}

func TestSimilarity(t *testing.T) {
	a := map[string]float64{"text_regions": 4, "table_regions": 1}

	assert.Equal(t, 1.0, Similarity(a, a))
	assert.Equal(t, 0.0, Similarity(a, map[string]float64{"other": 1}))
	assert.Equal(t, 0.0, Similarity(nil, nil))

	// One shared key, 4 vs 2: 1 - 2/4 = 0.5.
	b := map[string]float64{"text_regions": 2}
	assert.InDelta(t, 0.5, Similarity(a, b), 1e-9)

	// Small magnitudes are compared against a floor of 1.
	assert.InDelta(t, 0.9, Similarity(
		map[string]float64{"x": 0.1},
		map[string]float64{"x": 0.2},
	), 1e-9)
}

func TestSignatureDeterministic(t *testing.T) {
	f := map[string]float64{"a": 1.0, "b": 2.0}
	g := map[string]float64{"b": 2.0, "a": 1.0}
	fields := map[string]any{"total_amount": 10.0}

	assert.Equal(t, Signature(models.Invoice, f, fields), Signature(models.Invoice, g, fields))
	assert.NotEqual(t, Signature(models.Invoice, f, fields), Signature(models.Payslip, f, fields))
	assert.NotEqual(t, Signature(models.Invoice, f, fields), Signature(models.Invoice, map[string]float64{"a": 9}, fields))
}

func TestSignatureIncludesFieldShape(t *testing.T) {
	features := map[string]float64{"text_regions": 3, "table_regions": 1}
	invoiceFields := map[string]any{"invoice_number": "INV-1", "total_amount": 10.0}
	receiptFields := map[string]any{"merchant_name": "Acme", "total_amount": 10.0}

	// Same layout, different field sets: distinct signatures.
	assert.NotEqual(t,
		Signature(models.Invoice, features, invoiceFields),
		Signature(models.Invoice, features, receiptFields),
	)
	// Field count matters even when the leading names agree.
	assert.NotEqual(t,
		Signature(models.Invoice, features, invoiceFields),
		Signature(models.Invoice, features, map[string]any{
			"invoice_number": "INV-1", "total_amount": 10.0, "vendor_name": "Acme",
		}),
	)
}

func TestRecordPatternDistinctFieldsBothStored(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()
	features := map[string]float64{"text_regions": 3}

	_, err := m.RecordPattern(ctx, &models.Document{ID: "doc-1", Type: models.Invoice}, features, map[string]any{"total_amount": 10.0})
	require.NoError(t, err)
	_, err = m.RecordPattern(ctx, &models.Document{ID: "doc-2", Type: models.Invoice}, features, map[string]any{"merchant_name": "Acme"})
	require.NoError(t, err)

	patterns, err := m.store.PatternsByType(ctx, models.Invoice)
	require.NoError(t, err)
	assert.Len(t, patterns, 2)
}

func TestRecordPatternWriteOnce(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()
	doc := &models.Document{ID: "doc-1", Type: models.Invoice}
	features := map[string]float64{"text_regions": 3}

	fields := map[string]any{"total_amount": 10.0}
	first, err := m.RecordPattern(ctx, doc, features, fields)
	require.NoError(t, err)

	// Same signature again is a no-op, not an error.
	again, err := m.RecordPattern(ctx, doc, features, fields)
	require.NoError(t, err)
	assert.Equal(t, first.Signature, again.Signature)

	patterns, err := m.store.PatternsByType(ctx, models.Invoice)
	require.NoError(t, err)
	assert.Len(t, patterns, 1)
}

func TestFindSimilar(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()

	close := map[string]float64{"text_regions": 4, "table_regions": 1}
	far := map[string]float64{"text_regions": 40, "table_regions": 9}
	_, err := m.RecordPattern(ctx, &models.Document{ID: "d1", Type: models.Invoice}, close, nil)
	require.NoError(t, err)
	_, err = m.RecordPattern(ctx, &models.Document{ID: "d2", Type: models.Invoice}, far, nil)
	require.NoError(t, err)
	_, err = m.RecordPattern(ctx, &models.Document{ID: "d3", Type: models.Payslip}, close, nil)
	require.NoError(t, err)

	matches, err := m.FindSimilar(ctx, models.Invoice, map[string]float64{"text_regions": 4, "table_regions": 1})
	require.NoError(t, err)

	require.Len(t, matches, 1, "distant pattern and other type should be excluded")
	assert.Equal(t, "d1", matches[0].Pattern.DocumentID)
	assert.Equal(t, 1.0, matches[0].Score)
}

func TestRetrainingTriggerFiresExactlyOnce(t *testing.T) {
	m := newMemory(t, WithRetrainThreshold(3))
	ctx := context.Background()

	correction := func(i int) *models.Correction {
		return &models.Correction{
			DocumentID:  fmt.Sprintf("doc-%d", i),
			FieldPath:   "total_amount",
			NewValue:    "100.00",
			CorrectedAt: time.Now(),
		}
	}

	retrain, err := m.RecordCorrection(ctx, models.Invoice, correction(1))
	require.NoError(t, err)
	assert.False(t, retrain)

	retrain, err = m.RecordCorrection(ctx, models.Invoice, correction(2))
	require.NoError(t, err)
	assert.False(t, retrain)

	retrain, err = m.RecordCorrection(ctx, models.Invoice, correction(3))
	require.NoError(t, err)
	assert.True(t, retrain, "fires when the count reaches the threshold")

	retrain, err = m.RecordCorrection(ctx, models.Invoice, correction(4))
	require.NoError(t, err)
	assert.False(t, retrain, "does not fire again past the threshold")

	// A different field path counts separately.
	retrain, err = m.RecordCorrection(ctx, models.Invoice, &models.Correction{FieldPath: "due_date", NewValue: "2024-01-01"})
	require.NoError(t, err)
	assert.False(t, retrain)
}

func TestSuggestions(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()

	record := func(path, value string, times int) {
		for i := 0; i < times; i++ {
			_, err := m.RecordCorrection(ctx, models.Invoice, &models.Correction{
				FieldPath: path, NewValue: value, CorrectedAt: time.Now(),
			})
			require.NoError(t, err)
		}
	}

	record("total_amount", "100.00", 5)
	record("total_amount", "200.00", 2)
	record("line_items.0.total_amount", "50.00", 4)
	record("due_date", "2024-01-01", 8)

	suggestions, err := m.Suggestions(ctx, models.Invoice, "total_amount")
	require.NoError(t, err)

	require.Len(t, suggestions, 3)
	assert.Equal(t, "100.00", suggestions[0].Value)
	assert.InDelta(t, 0.5, suggestions[0].Score, 1e-9)
	assert.Equal(t, 5, suggestions[0].Occurrences)

	// Same leaf name on a different path scores on the halved scale; at
	// equal score the more frequent value ranks first.
	assert.Equal(t, "50.00", suggestions[1].Value)
	assert.InDelta(t, 0.2, suggestions[1].Score, 1e-9)
	assert.Equal(t, 4, suggestions[1].Occurrences)

	assert.Equal(t, "200.00", suggestions[2].Value)
	assert.InDelta(t, 0.2, suggestions[2].Score, 1e-9)
}

func TestSuggestionsCapped(t *testing.T) {
	m := newMemory(t)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := m.RecordCorrection(ctx, models.Payslip, &models.Correction{
			FieldPath: "net_pay", NewValue: fmt.Sprintf("%d.00", i), CorrectedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	suggestions, err := m.Suggestions(ctx, models.Payslip, "net_pay")
	require.NoError(t, err)
	assert.Len(t, suggestions, maxSuggestions)
}

func TestBoltStoreRoundTrip(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	pattern := &models.Pattern{
		Signature:  "sig-1",
		DocumentID: "doc-1",
		Type:       models.BankStatement,
		Features:   map[string]float64{"text_regions": 2},
		StoredAt:   time.Now().UTC(),
	}
	require.NoError(t, store.PutPattern(ctx, pattern))
	assert.ErrorIs(t, store.PutPattern(ctx, pattern), ErrPatternExists)

	patterns, err := store.PatternsByType(ctx, models.BankStatement)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "doc-1", patterns[0].DocumentID)

	count, err := store.AppendCorrection(ctx, CorrectionRecord{
		DocumentType: models.BankStatement, FieldPath: "closing_balance", NewValue: "10.00",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.AppendCorrection(ctx, CorrectionRecord{
		DocumentType: models.BankStatement, FieldPath: "closing_balance", NewValue: "12.00",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	records, err := store.Corrections(ctx, models.BankStatement)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
