package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufindi/docintel/internal/models"
)

// Both backends run the same behavioral suite.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	boltStore, err := NewBoltStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { boltStore.Close() })
	return map[string]Store{
		"inmem": NewInMemStore(),
		"bolt":  boltStore,
	}
}

func testDocument(id string, uploadedAt time.Time) *models.Document {
	return &models.Document{
		ID:         id,
		Filename:   id + ".pdf",
		Status:     models.StatusUploaded,
		Type:       models.Invoice,
		Metadata:   map[string]string{"customer_id": "cust-1", "sha256": "hash-" + id},
		UploadedAt: uploadedAt,
	}
}

func TestDocumentLifecycle(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			doc := testDocument("doc-1", time.Now().UTC())

			require.NoError(t, s.SaveDocument(ctx, doc))

			got, err := s.GetDocument(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, doc.Filename, got.Filename)

			doc.Status = models.StatusClassified
			require.NoError(t, s.SaveDocument(ctx, doc))
			got, err = s.GetDocument(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, models.StatusClassified, got.Status)

			_, err = s.GetDocument(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListDocumentsFiltering(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			old := testDocument("doc-old", now.Add(-48*time.Hour))
			recent := testDocument("doc-new", now)
			other := testDocument("doc-other", now)
			other.Metadata["customer_id"] = "cust-2"
			other.Type = models.Payslip

			for _, doc := range []*models.Document{old, recent, other} {
				require.NoError(t, s.SaveDocument(ctx, doc))
			}

			docs, err := s.ListDocuments(ctx, Filter{CustomerID: "cust-1"})
			require.NoError(t, err)
			require.Len(t, docs, 2)
			assert.Equal(t, "doc-new", docs[0].ID, "newest first")

			docs, err = s.ListDocuments(ctx, Filter{Type: models.Payslip})
			require.NoError(t, err)
			require.Len(t, docs, 1)
			assert.Equal(t, "doc-other", docs[0].ID)

			docs, err = s.ListDocuments(ctx, Filter{UploadedBefore: now.Add(-24 * time.Hour)})
			require.NoError(t, err)
			require.Len(t, docs, 1)
			assert.Equal(t, "doc-old", docs[0].ID)

			docs, err = s.ListDocuments(ctx, Filter{ContentHash: "hash-doc-new"})
			require.NoError(t, err)
			require.Len(t, docs, 1)

			docs, err = s.ListDocuments(ctx, Filter{Limit: 1})
			require.NoError(t, err)
			assert.Len(t, docs, 1)
		})
	}
}

func TestExtractionLatestWins(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.SaveExtraction(ctx, &models.Extraction{
				ID: "ex-1", DocumentID: "doc-1",
				Fields: map[string]any{"total_amount": 10.0},
			}))
			require.NoError(t, s.SaveExtraction(ctx, &models.Extraction{
				ID: "ex-2", DocumentID: "doc-1",
				Fields: map[string]any{"total_amount": 20.0},
			}))

			ex, err := s.LatestExtraction(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, "ex-2", ex.ID)
			assert.Equal(t, 20.0, ex.Fields["total_amount"])

			_, err = s.LatestExtraction(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestValidationsAppendOnly(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, s.AppendValidation(ctx, &models.Validation{ID: "v-1", DocumentID: "doc-1", Status: models.ValidationFailed}))
			require.NoError(t, s.AppendValidation(ctx, &models.Validation{ID: "v-2", DocumentID: "doc-1", Status: models.ValidationPassed}))

			vals, err := s.Validations(ctx, "doc-1")
			require.NoError(t, err)
			require.Len(t, vals, 2)
			assert.Equal(t, "v-1", vals[0].ID)
			assert.Equal(t, "v-2", vals[1].ID)
		})
	}
}

func TestCorrectionsUpsertByID(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &models.Correction{
				ID: "c-1", DocumentID: "doc-1",
				FieldPath: "total_amount", NewValue: "10.00",
				CorrectedAt: time.Now().UTC(),
			}
			require.NoError(t, s.SaveCorrection(ctx, c))

			c.Propagated = true
			require.NoError(t, s.SaveCorrection(ctx, c))

			got, err := s.Corrections(ctx, "doc-1")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.True(t, got[0].Propagated)
		})
	}
}

func TestLogsKeepOrder(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, stage := range []string{"ingest", "classify", "extract"} {
				require.NoError(t, s.AppendLog(ctx, &models.ProcessingLog{
					ID: stage, DocumentID: "doc-1", Stage: stage, Status: "success",
				}))
			}

			logs, err := s.Logs(ctx, "doc-1")
			require.NoError(t, err)
			require.Len(t, logs, 3)
			assert.Equal(t, "ingest", logs[0].Stage)
			assert.Equal(t, "extract", logs[2].Stage)
		})
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveDocument(ctx, testDocument("doc-1", time.Now())))
			require.NoError(t, s.SaveExtraction(ctx, &models.Extraction{ID: "ex-1", DocumentID: "doc-1"}))
			require.NoError(t, s.AppendValidation(ctx, &models.Validation{ID: "v-1", DocumentID: "doc-1"}))
			require.NoError(t, s.AppendLog(ctx, &models.ProcessingLog{ID: "l-1", DocumentID: "doc-1", Stage: "ingest"}))

			require.NoError(t, s.DeleteDocument(ctx, "doc-1"))

			_, err := s.GetDocument(ctx, "doc-1")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.LatestExtraction(ctx, "doc-1")
			assert.ErrorIs(t, err, ErrNotFound)
			vals, err := s.Validations(ctx, "doc-1")
			require.NoError(t, err)
			assert.Empty(t, vals)

			assert.ErrorIs(t, s.DeleteDocument(ctx, "doc-1"), ErrNotFound)
		})
	}
}
