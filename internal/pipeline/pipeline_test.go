package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufindi/docintel/internal/classify"
	"github.com/ufindi/docintel/internal/extract"
	"github.com/ufindi/docintel/internal/layout"
	"github.com/ufindi/docintel/internal/memory"
	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/internal/store"
	"github.com/ufindi/docintel/internal/validate"
	"github.com/ufindi/docintel/pkg/logger"
	"github.com/ufindi/docintel/pkg/ocr"
)

const invoiceText = `INVOICE
Invoice Number: INV-100
Invoice Date: 01/03/2024
Due Date: 31/03/2024
Widget A  2  10.00  20.00
Subtotal: 25.00
VAT (20%): 5.00
Total: 30.00`

// fakeObjects is an in-process object store.
type fakeObjects struct {
	files map[string][]byte
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{files: map[string][]byte{}}
}

func (f *fakeObjects) Store(_ context.Context, reader io.Reader, key string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	f.files[key] = data
	return key, nil
}

func (f *fakeObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.files[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	delete(f.files, key)
	return nil
}

func (f *fakeObjects) CleanupBefore(_ context.Context, _ time.Time) error { return nil }

func pagePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	pipeline *Pipeline
	store    store.Store
	objects  *fakeObjects
	memory   *memory.Memory
}

func newFixture(t *testing.T, engine ocr.Engine) *fixture {
	t.Helper()
	log := logger.NewTestLogger()
	records := store.NewInMemStore()
	objects := newFakeObjects()
	mem := memory.New(memory.NewInMemStore(), log)

	p := New(Deps{
		Store:      records,
		Objects:    objects,
		OCR:        engine,
		Classifier: classify.NewClassifier(log),
		Layout:     layout.NewAnalyzer(log, nil),
		Extractor:  extract.NewExtractor(log),
		Validator:  validate.NewValidator(log),
		Memory:     mem,
		Logger:     log,
	})
	return &fixture{pipeline: p, store: records, objects: objects, memory: mem}
}

func (f *fixture) upload(t *testing.T, id string, data []byte) *models.Document {
	t.Helper()
	ctx := context.Background()
	key := "uploads/" + id
	_, err := f.objects.Store(ctx, bytes.NewReader(data), key)
	require.NoError(t, err)

	doc := &models.Document{
		ID:         id,
		Filename:   id + ".png",
		StorageKey: key,
		MimeType:   "image/png",
		Status:     models.StatusUploaded,
		Type:       models.Unknown,
		Metadata:   map[string]string{"customer_id": "cust-1"},
		UploadedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.SaveDocument(ctx, doc))
	return doc
}

func TestRunProcessesDocumentEndToEnd(t *testing.T) {
	f := newFixture(t, ocr.NewStubEngine(invoiceText))
	ctx := context.Background()
	f.upload(t, "doc-1", pagePNG(t))

	require.NoError(t, f.pipeline.Run(ctx, "doc-1", false))

	doc, err := f.store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusValidated, doc.Status)
	assert.Equal(t, models.Invoice, doc.Type)
	assert.Equal(t, "en", doc.Language)
	assert.Equal(t, "1", doc.Metadata["pages"])
	assert.Equal(t, "scanned", doc.Metadata["source"])

	extraction, err := f.store.LatestExtraction(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "INV-100", extraction.Fields["invoice_number"])
	assert.Equal(t, 30.0, extraction.Fields["total_amount"])

	validations, err := f.store.Validations(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, validations, 1)
	assert.Equal(t, models.ValidationPassed, validations[0].Status)

	logs, err := f.store.Logs(ctx, "doc-1")
	require.NoError(t, err)
	stages := map[string]bool{}
	for _, entry := range logs {
		if entry.Status == "success" {
			stages[entry.Stage] = true
		}
	}
	for _, stage := range []string{"ingest", "classify", "extract", "validate"} {
		assert.True(t, stages[stage], "expected a success log for %s", stage)
	}

	matches, err := f.memory.FindSimilar(ctx, models.Invoice, layout.Features(extraction.Layout))
	require.NoError(t, err)
	assert.NotEmpty(t, matches, "pattern should be recorded after processing")
}

func TestRunIsIdempotentUnlessForced(t *testing.T) {
	f := newFixture(t, ocr.NewStubEngine(invoiceText))
	ctx := context.Background()
	f.upload(t, "doc-1", pagePNG(t))

	require.NoError(t, f.pipeline.Run(ctx, "doc-1", false))
	require.NoError(t, f.pipeline.Run(ctx, "doc-1", false))

	validations, err := f.store.Validations(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, validations, 1, "second run without force is a no-op")

	require.NoError(t, f.pipeline.Run(ctx, "doc-1", true))
	validations, err = f.store.Validations(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, validations, 2, "forced run re-validates")
}

func TestRunMarksDocumentErroredOnFailure(t *testing.T) {
	f := newFixture(t, ocr.NewStubEngine(invoiceText))
	ctx := context.Background()

	doc := f.upload(t, "doc-1", pagePNG(t))
	doc.StorageKey = "uploads/missing"
	require.NoError(t, f.store.SaveDocument(ctx, doc))

	err := f.pipeline.Run(ctx, "doc-1", false)
	require.Error(t, err)

	got, err := f.store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, got.Status)

	logs, err := f.store.Logs(ctx, "doc-1")
	require.NoError(t, err)
	var sawError bool
	for _, entry := range logs {
		if entry.Stage == "ingest" && entry.Status == "error" {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestRunOCRFailureDegradesToEmptyText(t *testing.T) {
	engine := ocr.NewStubEngine("")
	engine.Err = fmt.Errorf("recognition backend down")
	f := newFixture(t, engine)
	ctx := context.Background()
	f.upload(t, "doc-1", pagePNG(t))

	require.NoError(t, f.pipeline.Run(ctx, "doc-1", false))

	doc, err := f.store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusValidated, doc.Status)
	assert.Equal(t, models.Unknown, doc.Type)

	logs, err := f.store.Logs(ctx, "doc-1")
	require.NoError(t, err)
	var sawWarning bool
	for _, entry := range logs {
		if entry.Stage == "ingest" && entry.Status == "warning" {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning, "expected an ingest warning for the recognition failure")
}

func TestRunAttachesSimilarPatternsOnRerun(t *testing.T) {
	f := newFixture(t, ocr.NewStubEngine(invoiceText))
	ctx := context.Background()
	f.upload(t, "doc-1", pagePNG(t))

	require.NoError(t, f.pipeline.Run(ctx, "doc-1", false))
	require.NoError(t, f.pipeline.Run(ctx, "doc-1", true))

	extraction, err := f.store.LatestExtraction(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, extraction.Layout)
	require.NotEmpty(t, extraction.Layout.SimilarPatterns, "rerun should surface the pattern from the first run")
	assert.Equal(t, 1.0, extraction.Layout.SimilarPatterns[0].Score)
	assert.NotEmpty(t, extraction.Layout.SimilarPatterns[0].Signature)
}

func TestRunCrossDocumentUsesRelatedExtractions(t *testing.T) {
	payslip := func(gross string) string {
		return `Pay Slip
Employee: John Smith
Employer: Acme Ltd
Gross Pay: ` + gross + `
Net Pay: 1,500.00
Tax and national insurance deducted as salary deduction`
	}

	f := newFixture(t, ocr.NewStubEngine(payslip("2,000.00")))
	ctx := context.Background()
	f.upload(t, "doc-1", pagePNG(t))
	require.NoError(t, f.pipeline.Run(ctx, "doc-1", false))

	// An errored document keeps its stale extraction but is not comparable.
	errored := f.upload(t, "doc-err", pagePNG(t))
	errored.Status = models.StatusError
	require.NoError(t, f.store.SaveDocument(ctx, errored))
	require.NoError(t, f.store.SaveExtraction(ctx, &models.Extraction{
		ID: "ex-err", DocumentID: "doc-err", Fields: map[string]any{"gross_pay": 9999.0},
	}))

	// Second document for the same customer with a big pay jump.
	f2 := New(Deps{
		Store:      f.store.(*store.InMemStore),
		Objects:    f.objects,
		OCR:        ocr.NewStubEngine(payslip("3,000.00")),
		Classifier: classify.NewClassifier(logger.NewTestLogger()),
		Layout:     layout.NewAnalyzer(logger.NewTestLogger(), nil),
		Extractor:  extract.NewExtractor(logger.NewTestLogger()),
		Validator:  validate.NewValidator(logger.NewTestLogger()),
		Logger:     logger.NewTestLogger(),
	})
	f.upload(t, "doc-2", pagePNG(t))
	require.NoError(t, f2.Run(ctx, "doc-2", false))

	validations, err := f.store.Validations(ctx, "doc-2")
	require.NoError(t, err)
	require.Len(t, validations, 1)
	assert.Equal(t, models.ValidationWithWarnings, validations[0].Status)
	assert.Equal(t, []string{"doc-1"}, validations[0].CrossDocument.CheckedAgainst)
}
