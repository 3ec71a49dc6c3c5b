// Package extract pulls structured fields out of recognized text using
// per-document-type rule tables, and lifts table regions from layout
// analysis into the extraction result.
package extract

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/internal/normalize"
	"github.com/ufindi/docintel/pkg/logger"
)

const (
	maxTransactions = 20
	maxDeductions   = 10
	maxLineItems    = 20
	maxTables       = 5
)

// fieldRule binds one extraction field to a regular expression. The first
// capture group is the raw value; norm converts it to its stored shape.
type fieldRule struct {
	field string
	re    *regexp.Regexp
	conf  float64
	norm  func(string) any
}

type Extractor struct {
	logger logger.Logger
}

func NewExtractor(log logger.Logger) *Extractor {
	return &Extractor{logger: log}
}

// Extract applies the rule table for the document's type to the recognized
// text. Unknown types fall back to generic date and amount harvesting.
// Table regions found during layout analysis are carried over, capped.
func (e *Extractor) Extract(ctx context.Context, doc *models.Document, text string, layout *models.LayoutResult) (*models.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("extract: nil document")
	}

	fields := map[string]any{}
	confidence := map[string]float64{}

	switch doc.Type {
	case models.BankStatement:
		applyRules(text, bankStatementRules, fields, confidence)
		if rows := extractTransactions(text); len(rows) > 0 {
			fields["transactions"] = rows
			confidence["transactions"] = rowConfidence
		}
	case models.Payslip:
		applyRules(text, payslipRules, fields, confidence)
		if rows := extractDeductions(text); len(rows) > 0 {
			fields["deductions"] = rows
			confidence["deductions"] = rowConfidence
		}
	case models.Invoice:
		applyRules(text, invoiceRules, fields, confidence)
		if rows := extractLineItems(text); len(rows) > 0 {
			fields["line_items"] = rows
			confidence["line_items"] = rowConfidence
		}
	case models.Agreement:
		applyRules(text, agreementRules, fields, confidence)
	default:
		extractGeneric(text, fields, confidence)
	}

	extraction := &models.Extraction{
		ID:          uuid.NewString(),
		DocumentID:  doc.ID,
		Fields:      fields,
		Tables:      liftTables(layout),
		Layout:      layout,
		Confidence:  confidence,
		ExtractedAt: time.Now().UTC(),
	}

	e.logger.Info("Fields extracted",
		logger.String("documentID", doc.ID),
		logger.String("type", string(doc.Type)),
		logger.Int("fields", len(fields)),
		logger.Int("tables", len(extraction.Tables)),
	)
	return extraction, nil
}

func applyRules(text string, rules []fieldRule, fields map[string]any, confidence map[string]float64) {
	for _, rule := range rules {
		m := rule.re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		value := rule.norm(m[1])
		if value == nil {
			continue
		}
		fields[rule.field] = value
		confidence[rule.field] = rule.conf
	}
}

// extractGeneric harvests bare dates and amounts when no type-specific
// rule table applies.
func extractGeneric(text string, fields map[string]any, confidence map[string]float64) {
	dates := []any{}
	for _, m := range genericDateRe.FindAllString(text, maxTransactions) {
		dates = append(dates, normalize.Date(m))
	}
	if len(dates) > 0 {
		fields["dates"] = dates
		confidence["dates"] = genericConfidence
	}

	amounts := []any{}
	for _, m := range genericAmountRe.FindAllString(text, maxTransactions) {
		amounts = append(amounts, normalize.Amount(m))
	}
	if len(amounts) > 0 {
		fields["amounts"] = amounts
		confidence["amounts"] = genericConfidence
	}
}

func liftTables(layout *models.LayoutResult) []models.ExtractedTable {
	if layout == nil {
		return nil
	}
	tables := make([]models.ExtractedTable, 0, len(layout.Tables))
	for i, t := range layout.Tables {
		if i >= maxTables {
			break
		}
		tables = append(tables, models.ExtractedTable{
			TableID:    uuid.NewString(),
			BBox:       t.BBox,
			CellCount:  t.CellCount,
			Confidence: t.Confidence,
		})
	}
	return tables
}
