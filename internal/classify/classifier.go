// Package classify determines document type, language and quality from
// recognized text plus the external image-quality signal.
package classify

import (
	"strings"

	"github.com/abadojack/whatlanggo"

	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/pkg/logger"
)

const (
	// minKeywordRatio is the keyword-hit ratio below which a document is
	// classified as unknown.
	minKeywordRatio = 0.3

	// detectSampleLen bounds the text fed to language detection.
	detectSampleLen = 1000

	// storedSampleLen bounds the sample kept on the result.
	storedSampleLen = 500

	fallbackLanguage = "en"
)

// Result carries the classification outcome. Classification never fails:
// internal problems degrade to unknown type, low confidence and the
// fallback language so downstream stages can still run.
type Result struct {
	Type         models.DocumentType `json:"type"`
	Confidence   float64             `json:"confidence"`
	Language     string              `json:"language"`
	QualityScore float64             `json:"qualityScore"`
	TextSample   string              `json:"textSample"`
}

var typeKeywords = map[models.DocumentType][]string{
	models.BankStatement: {
		"account", "balance", "transaction", "debit", "credit",
		"statement", "bank", "withdrawal", "deposit",
	},
	models.Payslip: {
		"salary", "pay slip", "net pay", "gross pay", "deduction",
		"employee", "employer", "tax", "national insurance",
	},
	models.Invoice: {
		"invoice", "bill to", "ship to", "quantity", "total",
		"subtotal", "tax", "amount due", "item",
	},
	models.Agreement: {
		"agreement", "contract", "terms", "conditions",
		"party", "signature", "effective date",
	},
}

type Classifier struct {
	logger logger.Logger
}

func NewClassifier(log logger.Logger) *Classifier {
	return &Classifier{logger: log}
}

// Classify scores the recognized text against each document type's keyword
// list and picks the best. quality is the external image-quality signal and
// is passed through unchanged.
func (c *Classifier) Classify(text string, quality float64) Result {
	if len(strings.TrimSpace(text)) < 10 {
		return Result{
			Type:         models.Unknown,
			Confidence:   0.1,
			Language:     fallbackLanguage,
			QualityScore: quality,
		}
	}

	docType, confidence := scoreKeywords(text)
	language := detectLanguage(text)

	c.logger.Info("Document classified",
		logger.String("type", string(docType)),
		logger.Float64("confidence", confidence),
		logger.String("language", language),
	)

	sample := text
	if len(sample) > storedSampleLen {
		sample = sample[:storedSampleLen]
	}

	return Result{
		Type:         docType,
		Confidence:   confidence,
		Language:     language,
		QualityScore: quality,
		TextSample:   sample,
	}
}

// scoreKeywords computes the keyword-hit ratio per document type and picks
// the highest; below minKeywordRatio the document stays unknown.
func scoreKeywords(text string) (models.DocumentType, float64) {
	lower := strings.ToLower(text)

	best := models.Unknown
	bestScore := 0.0
	for docType, keywords := range typeKeywords {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		score := float64(hits) / float64(len(keywords))
		if score > bestScore || (score == bestScore && best != models.Unknown && docType < best) {
			best = docType
			bestScore = score
		}
	}

	if bestScore > minKeywordRatio {
		return best, bestScore
	}
	return models.Unknown, 0.1
}

// iso3to1 maps detector output to the two-letter codes stored on documents.
var iso3to1 = map[string]string{
	"eng": "en", "fra": "fr", "deu": "de", "spa": "es",
	"nld": "nl", "por": "pt", "ita": "it", "pol": "pl",
}

func detectLanguage(text string) string {
	if len(text) > detectSampleLen {
		text = text[:detectSampleLen]
	}

	info := whatlanggo.Detect(text)
	code := whatlanggo.LangToString(info.Lang)
	if code == "" {
		return fallbackLanguage
	}
	if short, ok := iso3to1[code]; ok {
		return short
	}
	return code
}
