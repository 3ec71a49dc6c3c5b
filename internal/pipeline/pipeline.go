// Package pipeline drives a document through its processing stages:
// ingest, classify, extract, validate. Every stage commits its results
// and an audit entry before the next stage starts, so a crash leaves the
// document at its last completed stage.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ufindi/docintel/internal/classify"
	"github.com/ufindi/docintel/internal/extract"
	"github.com/ufindi/docintel/internal/layout"
	"github.com/ufindi/docintel/internal/memory"
	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/internal/store"
	"github.com/ufindi/docintel/internal/validate"
	"github.com/ufindi/docintel/pkg/logger"
	"github.com/ufindi/docintel/pkg/ocr"
	"github.com/ufindi/docintel/pkg/quality"
	"github.com/ufindi/docintel/pkg/raster"
	"github.com/ufindi/docintel/pkg/storage"
)

const (
	// ocrConcurrency bounds parallel page recognition.
	ocrConcurrency = 3

	// maxRelatedDocuments bounds the cross-document lookup.
	maxRelatedDocuments = 5

	// maxSimilarPatterns bounds the historical-pattern lookup during
	// extraction.
	maxSimilarPatterns = 5

	// lowQualityThreshold marks a page too degraded to trust without
	// a human look.
	lowQualityThreshold = 0.3
)

// Deps carries everything the pipeline needs. All fields are required
// except Memory, which may be nil when correction memory is disabled.
type Deps struct {
	Store      store.Store
	Objects    storage.Storage
	OCR        ocr.Engine
	Classifier *classify.Classifier
	Layout     *layout.Analyzer
	Extractor  *extract.Extractor
	Validator  *validate.Validator
	Memory     *memory.Memory
	Logger     logger.Logger
}

type Pipeline struct {
	deps Deps
	log  logger.Logger
}

func New(deps Deps) *Pipeline {
	return &Pipeline{deps: deps, log: deps.Logger}
}

// Run processes one document end to end. A document that already
// finished is left alone unless force is set, in which case it is
// re-processed from its stored bytes.
func (p *Pipeline) Run(ctx context.Context, documentID string, force bool) error {
	doc, err := p.deps.Store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", documentID, err)
	}

	if doc.Status == models.StatusValidated && !force {
		p.log.Info("Document already processed", logger.String("documentID", doc.ID))
		return nil
	}
	if force {
		doc.Status = models.StatusUploaded
		if err := p.deps.Store.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("reset document %s: %w", doc.ID, err)
		}
		p.audit(ctx, doc.ID, "pipeline", "started", "re-processing forced", nil)
	}

	pages, text, qualityScore, err := p.ingest(ctx, doc)
	if err != nil {
		return p.fail(ctx, doc, "ingest", err)
	}

	if err := p.classify(ctx, doc, text, qualityScore); err != nil {
		return p.fail(ctx, doc, "classify", err)
	}

	extraction, layoutResult, err := p.extract(ctx, doc, text, pages)
	if err != nil {
		return p.fail(ctx, doc, "extract", err)
	}

	if err := p.validate(ctx, doc, extraction); err != nil {
		return p.fail(ctx, doc, "validate", err)
	}

	p.remember(ctx, doc, extraction, layoutResult)

	p.log.Info("Pipeline complete",
		logger.String("documentID", doc.ID),
		logger.String("type", string(doc.Type)),
	)
	return nil
}

// ingest loads the stored bytes, rasterizes pages, measures quality, and
// recovers text either from the PDF text layer or via OCR.
func (p *Pipeline) ingest(ctx context.Context, doc *models.Document) ([]image.Image, string, float64, error) {
	p.audit(ctx, doc.ID, "ingest", "started", "", nil)

	reader, err := p.deps.Objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, "", 0, fmt.Errorf("fetch stored file: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", 0, fmt.Errorf("read stored file: %w", err)
	}

	pages, err := raster.Pages(data, doc.MimeType)
	if err != nil {
		return nil, "", 0, fmt.Errorf("rasterize document: %w", err)
	}
	if len(pages) == 0 {
		return nil, "", 0, fmt.Errorf("document has no pages")
	}

	report := quality.Score(pages[0])

	text := ""
	source := "scanned"
	if strings.Contains(doc.MimeType, "pdf") {
		if layer, err := raster.TextLayer(data); err == nil {
			text = strings.TrimSpace(layer)
		}
	}
	if text == "" {
		text, err = p.recognizePages(ctx, pages)
		if err != nil {
			// Recognition failure degrades to empty text; classification
			// falls back to unknown and the run keeps going.
			text = ""
			p.log.Warn("Text recognition failed",
				logger.String("documentID", doc.ID),
				logger.Error(err),
			)
			p.audit(ctx, doc.ID, "ingest", "warning", "text recognition failed: "+err.Error(), nil)
		}
	} else {
		source = "digital"
	}

	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}
	doc.Metadata["pages"] = strconv.Itoa(len(pages))
	doc.Metadata["source"] = source

	if err := p.advance(ctx, doc, models.StatusIngested); err != nil {
		return nil, "", 0, err
	}
	p.audit(ctx, doc.ID, "ingest", "success", "", map[string]any{
		"pages":   len(pages),
		"quality": report.Overall,
		"chars":   len(text),
		"source":  source,
	})
	return pages, text, report.Overall, nil
}

// recognizePages runs OCR over all pages with bounded concurrency and
// joins the results in page order.
func (p *Pipeline) recognizePages(ctx context.Context, pages []image.Image) (string, error) {
	texts := make([]string, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ocrConcurrency)

	for i, page := range pages {
		g.Go(func() error {
			text, err := p.deps.OCR.Recognize(gctx, page)
			if err != nil {
				return fmt.Errorf("page %d: %w", i, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(texts, "\n\n"), nil
}

func (p *Pipeline) classify(ctx context.Context, doc *models.Document, text string, qualityScore float64) error {
	p.audit(ctx, doc.ID, "classify", "started", "", nil)

	result := p.deps.Classifier.Classify(text, qualityScore)
	doc.Type = result.Type
	doc.Language = result.Language
	doc.QualityScore = result.QualityScore

	if result.QualityScore < lowQualityThreshold {
		doc.Metadata["review_reason"] = "low_quality"
		p.audit(ctx, doc.ID, "classify", "warning", "page quality below review threshold", map[string]any{
			"quality": result.QualityScore,
		})
	}

	if err := p.advance(ctx, doc, models.StatusClassified); err != nil {
		return err
	}
	p.audit(ctx, doc.ID, "classify", "success", "", map[string]any{
		"type":       string(result.Type),
		"confidence": result.Confidence,
		"language":   result.Language,
	})
	return nil
}

func (p *Pipeline) extract(ctx context.Context, doc *models.Document, text string, pages []image.Image) (*models.Extraction, *models.LayoutResult, error) {
	p.audit(ctx, doc.ID, "extract", "started", "", nil)

	layoutResult := p.deps.Layout.Analyze(ctx, pages[0], doc.Type)
	if layoutResult.Error != "" {
		p.audit(ctx, doc.ID, "extract", "warning", "layout analysis degraded: "+layoutResult.Error, nil)
	}

	if p.deps.Memory != nil {
		matches, err := p.deps.Memory.FindSimilar(ctx, doc.Type, layout.Features(layoutResult))
		if err != nil {
			p.log.Warn("Pattern lookup failed", logger.Error(err))
		} else {
			if len(matches) > maxSimilarPatterns {
				matches = matches[:maxSimilarPatterns]
			}
			for _, m := range matches {
				layoutResult.SimilarPatterns = append(layoutResult.SimilarPatterns, models.PatternMatchRef{
					Signature: m.Pattern.Signature,
					Score:     m.Score,
				})
			}
		}
	}

	extraction, err := p.deps.Extractor.Extract(ctx, doc, text, layoutResult)
	if err != nil {
		return nil, nil, err
	}
	if err := p.deps.Store.SaveExtraction(ctx, extraction); err != nil {
		return nil, nil, fmt.Errorf("save extraction: %w", err)
	}

	if err := p.advance(ctx, doc, models.StatusExtracted); err != nil {
		return nil, nil, err
	}
	p.audit(ctx, doc.ID, "extract", "success", "", map[string]any{
		"fields":           len(extraction.Fields),
		"regions":          len(layoutResult.Regions),
		"tables":           len(extraction.Tables),
		"similar_patterns": len(layoutResult.SimilarPatterns),
	})
	return extraction, layoutResult, nil
}

func (p *Pipeline) validate(ctx context.Context, doc *models.Document, extraction *models.Extraction) error {
	p.audit(ctx, doc.ID, "validate", "started", "", nil)

	related, err := p.relatedDocuments(ctx, doc)
	if err != nil {
		p.log.Warn("Cross-document lookup failed", logger.Error(err))
	}

	validation := p.deps.Validator.Validate(doc, extraction, related)
	if err := p.deps.Store.AppendValidation(ctx, validation); err != nil {
		return fmt.Errorf("save validation: %w", err)
	}

	if err := p.advance(ctx, doc, models.StatusValidated); err != nil {
		return err
	}
	p.audit(ctx, doc.ID, "validate", "success", "", map[string]any{
		"status": string(validation.Status),
		"issues": len(validation.Issues),
	})
	return nil
}

// relatedDocuments finds the customer's other processed documents for
// cross-document checks.
func (p *Pipeline) relatedDocuments(ctx context.Context, doc *models.Document) ([]validate.Related, error) {
	customerID := doc.CustomerID()
	if customerID == "" {
		return nil, nil
	}

	docs, err := p.deps.Store.ListDocuments(ctx, store.Filter{
		CustomerID: customerID,
		Limit:      maxRelatedDocuments + 1,
	})
	if err != nil {
		return nil, err
	}

	var related []validate.Related
	for _, other := range docs {
		if other.ID == doc.ID || len(related) == maxRelatedDocuments {
			continue
		}
		// Only documents with a committed extraction are comparable.
		if other.Status != models.StatusExtracted && other.Status != models.StatusValidated {
			continue
		}
		extraction, err := p.deps.Store.LatestExtraction(ctx, other.ID)
		if err != nil {
			continue
		}
		related = append(related, validate.Related{Document: other, Extraction: extraction})
	}
	return related, nil
}

// remember records the document's structural pattern. Failures are
// logged, never fatal: memory is advisory.
func (p *Pipeline) remember(ctx context.Context, doc *models.Document, extraction *models.Extraction, layoutResult *models.LayoutResult) {
	if p.deps.Memory == nil {
		return
	}
	features := layout.Features(layoutResult)
	if _, err := p.deps.Memory.RecordPattern(ctx, doc, features, extraction.Fields); err != nil {
		p.log.Warn("Failed to record pattern",
			logger.String("documentID", doc.ID),
			logger.Error(err),
		)
	}
}

// advance moves the document forward and commits it. Backward moves are
// rejected.
func (p *Pipeline) advance(ctx context.Context, doc *models.Document, to models.DocumentStatus) error {
	if !models.CanAdvance(doc.Status, to) {
		return fmt.Errorf("illegal status move %s -> %s for document %s", doc.Status, to, doc.ID)
	}
	doc.Status = to
	doc.UpdatedAt = time.Now().UTC()
	if err := p.deps.Store.SaveDocument(ctx, doc); err != nil {
		return fmt.Errorf("commit document %s at %s: %w", doc.ID, to, err)
	}
	return nil
}

// fail marks the document as errored and records the failure.
func (p *Pipeline) fail(ctx context.Context, doc *models.Document, stage string, cause error) error {
	doc.Status = models.StatusError
	doc.UpdatedAt = time.Now().UTC()
	if err := p.deps.Store.SaveDocument(ctx, doc); err != nil {
		p.log.Error("Failed to persist error status", logger.Error(err))
	}
	p.audit(ctx, doc.ID, stage, "error", cause.Error(), nil)

	p.log.Error("Pipeline stage failed",
		logger.String("documentID", doc.ID),
		logger.String("stage", stage),
		logger.Error(cause),
	)
	return fmt.Errorf("%s stage: %w", stage, cause)
}

func (p *Pipeline) audit(ctx context.Context, documentID, stage, status, message string, details map[string]any) {
	entry := &models.ProcessingLog{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Stage:      stage,
		Status:     status,
		Message:    message,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.deps.Store.AppendLog(ctx, entry); err != nil {
		p.log.Warn("Failed to append audit log",
			logger.String("documentID", documentID),
			logger.String("stage", stage),
			logger.Error(err),
		)
	}
}
