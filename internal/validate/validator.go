// Package validate runs consistency rules over an extraction and decides
// the document's review outcome. Rules are grouped into type-specific
// checks, general checks applied to every document, and cross-document
// comparisons against the same customer's earlier documents.
package validate

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ufindi/docintel/internal/fieldpath"
	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/pkg/logger"
)

const (
	// amountTolerance absorbs rounding noise in balance and total checks.
	amountTolerance = 0.01

	// highDeductionRatio flags payslips whose deductions exceed this share
	// of gross pay.
	highDeductionRatio = 0.5

	// longPaymentTermDays flags invoices due unusually far out.
	longPaymentTermDays = 90

	// grossDeviationRatio flags pay that moved more than this share from
	// the customer's recent average.
	grossDeviationRatio = 0.10

	// maxRelatedDocuments bounds cross-document comparison work.
	maxRelatedDocuments = 5

	dateLayout = "2006-01-02"
)

// Issue codes.
const (
	CodeBalanceMismatch      = "BALANCE_MISMATCH"
	CodeNetExceedsGross      = "NET_EXCEEDS_GROSS"
	CodeHighDeductionRatio   = "HIGH_DEDUCTION_RATIO"
	CodeInvoiceTotalMismatch = "INVOICE_TOTAL_MISMATCH"
	CodeDueDateBeforeInvoice = "DUE_DATE_BEFORE_INVOICE"
	CodeLongPaymentTerm      = "LONG_PAYMENT_TERM"
	CodeNegativeValue        = "NEGATIVE_VALUE"
	CodeInvalidDateFormat    = "INVALID_DATE_FORMAT"
	CodeDateSequencing       = "DATE_SEQUENCING"
	CodeFutureDate           = "FUTURE_DATE"
	CodeCrossDocMismatch     = "CROSS_DOC_FIELD_MISMATCH"
	CodeCrossGrossDeviation  = "CROSS_DOC_GROSS_DEVIATION"
	CodeValidationError      = "VALIDATION_ERROR"
)

// Related pairs a prior document with its extraction for cross-document
// checks.
type Related struct {
	Document   *models.Document
	Extraction *models.Extraction
}

type Validator struct {
	logger logger.Logger
	now    func() time.Time
}

func NewValidator(log logger.Logger) *Validator {
	return &Validator{logger: log, now: time.Now}
}

// Validate runs every applicable rule and returns a new immutable record.
// It never fails: a malformed extraction simply produces issues, and a
// crash inside the rule engine yields a failed validation record.
func (v *Validator) Validate(doc *models.Document, ex *models.Extraction, related []Related) *models.Validation {
	issues, rules, crossSummary, engineErr := v.runRules(doc, ex, related)

	status := DetermineStatus(issues)
	if engineErr != nil {
		status = models.ValidationFailed
		issues = append(issues, models.Issue{
			Code:     CodeValidationError,
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("validation process failed: %v", engineErr),
		})
	}
	if issues == nil {
		issues = []models.Issue{}
	}

	v.logger.Info("Validation complete",
		logger.String("documentID", doc.ID),
		logger.String("status", string(status)),
		logger.Int("issues", len(issues)),
	)

	return &models.Validation{
		ID:            uuid.NewString(),
		DocumentID:    doc.ID,
		Status:        status,
		Issues:        issues,
		RulesApplied:  rules,
		CrossDocument: crossSummary,
		ValidatedAt:   v.now().UTC(),
	}
}

// runRules executes every applicable rule. A panic inside a rule is
// returned as an engine error instead of crashing the pipeline; "failed"
// status is reserved for that case.
func (v *Validator) runRules(doc *models.Document, ex *models.Extraction, related []Related) (issues []models.Issue, rules []string, crossSummary models.CrossDocumentSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule engine: %v", r)
		}
	}()

	fields := map[string]any{}
	if ex != nil && ex.Fields != nil {
		fields = ex.Fields
	}

	switch doc.Type {
	case models.BankStatement:
		rules = append(rules, "balance_reconciliation", "transaction_dates")
		issues = append(issues, checkBalances(fields)...)
		issues = append(issues, checkTransactionDates(fields, v.now())...)
	case models.Payslip:
		rules = append(rules, "net_vs_gross", "deduction_ratio")
		issues = append(issues, checkPayslip(fields)...)
	case models.Invoice:
		rules = append(rules, "invoice_totals", "payment_terms")
		issues = append(issues, checkInvoice(fields)...)
	}

	rules = append(rules, "non_negative_amounts", "date_formats", "date_sequencing", "future_dates")
	issues = append(issues, checkGeneral(fields, v.now())...)

	if len(related) > 0 {
		rules = append(rules, "cross_document")
		var crossIssues []models.Issue
		crossIssues, crossSummary = checkCrossDocument(fields, related)
		issues = append(issues, crossIssues...)
	}

	return issues, rules, crossSummary, nil
}

// DetermineStatus is a pure function of the issue severities: any error
// sends the document to review, warnings alone pass with warnings.
// "failed" is never produced here; it is reserved for the rule engine
// itself breaking.
func DetermineStatus(issues []models.Issue) models.ValidationStatus {
	hasError, hasWarning := false, false
	for _, issue := range issues {
		switch issue.Severity {
		case models.SeverityError:
			hasError = true
		case models.SeverityWarning:
			hasWarning = true
		}
	}
	switch {
	case hasError:
		return models.ValidationNeedsReview
	case hasWarning:
		return models.ValidationWithWarnings
	default:
		return models.ValidationPassed
	}
}

func checkBalances(fields map[string]any) []models.Issue {
	opening, okO := numberAt(fields, "opening_balance")
	closing, okC := numberAt(fields, "closing_balance")
	if !okO || !okC {
		return nil
	}

	sum := opening
	if rows, ok := fields["transactions"].([]any); ok {
		for _, r := range rows {
			if amount, ok := numberIn(r, "amount"); ok {
				sum += amount
			}
		}
	}

	if math.Abs(sum-closing) > amountTolerance {
		return []models.Issue{{
			Code:      CodeBalanceMismatch,
			Severity:  models.SeverityError,
			Message:   "closing balance does not reconcile with opening balance plus transactions",
			FieldPath: "closing_balance",
			Expected:  round2(sum),
			Actual:    closing,
		}}
	}
	return nil
}

// checkTransactionDates verifies chronological order and rejects future
// transaction dates.
func checkTransactionDates(fields map[string]any, now time.Time) []models.Issue {
	rows, ok := fields["transactions"].([]any)
	if !ok {
		return nil
	}

	var dates []time.Time
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		raw, _ := m["date"].(string)
		if parsed, err := time.Parse(dateLayout, raw); err == nil {
			dates = append(dates, parsed)
		}
	}

	var issues []models.Issue
	for i := 1; i < len(dates); i++ {
		if dates[i].Before(dates[i-1]) {
			issues = append(issues, models.Issue{
				Code:      CodeDateSequencing,
				Severity:  models.SeverityWarning,
				Message:   "transactions are not in chronological order",
				FieldPath: "transactions",
			})
			break
		}
	}

	future := 0
	for _, d := range dates {
		if d.After(now) {
			future++
		}
	}
	if future > 0 {
		issues = append(issues, models.Issue{
			Code:      CodeFutureDate,
			Severity:  models.SeverityError,
			Message:   fmt.Sprintf("%d transaction date(s) lie in the future", future),
			FieldPath: "transactions",
		})
	}
	return issues
}

func checkPayslip(fields map[string]any) []models.Issue {
	var issues []models.Issue

	gross, okG := numberAt(fields, "gross_pay")
	net, okN := numberAt(fields, "net_pay")

	if okG && okN && net > gross+amountTolerance {
		issues = append(issues, models.Issue{
			Code:      CodeNetExceedsGross,
			Severity:  models.SeverityError,
			Message:   "net pay exceeds gross pay",
			FieldPath: "net_pay",
			Expected:  fmt.Sprintf("<= %.2f", gross),
			Actual:    net,
		})
	}

	// Deduction ratio is (gross - net) / gross, independent of the
	// extracted deduction rows.
	if okG && okN && gross > 0 {
		ratio := (gross - net) / gross
		if ratio > highDeductionRatio {
			issues = append(issues, models.Issue{
				Code:      CodeHighDeductionRatio,
				Severity:  models.SeverityWarning,
				Message:   "deductions exceed half of gross pay",
				FieldPath: "net_pay",
				Actual:    round2(ratio),
			})
		}
	}

	return issues
}

func checkInvoice(fields map[string]any) []models.Issue {
	var issues []models.Issue

	subtotal, okS := numberAt(fields, "subtotal")
	tax, okT := numberAt(fields, "tax_amount")
	total, okTot := numberAt(fields, "total_amount")
	if okS && okTot {
		expected := subtotal
		if okT {
			expected += tax
		}
		if math.Abs(expected-total) > amountTolerance {
			issues = append(issues, models.Issue{
				Code:      CodeInvoiceTotalMismatch,
				Severity:  models.SeverityError,
				Message:   "total does not equal subtotal plus tax",
				FieldPath: "total_amount",
				Expected:  round2(expected),
				Actual:    total,
			})
		}
	}

	invDate, okI := dateAt(fields, "invoice_date")
	dueDate, okD := dateAt(fields, "due_date")
	if okI && okD {
		if dueDate.Before(invDate) {
			issues = append(issues, models.Issue{
				Code:      CodeDueDateBeforeInvoice,
				Severity:  models.SeverityError,
				Message:   "due date precedes invoice date",
				FieldPath: "due_date",
			})
		} else if dueDate.Sub(invDate) > longPaymentTermDays*24*time.Hour {
			issues = append(issues, models.Issue{
				Code:      CodeLongPaymentTerm,
				Severity:  models.SeverityWarning,
				Message:   fmt.Sprintf("payment term exceeds %d days", longPaymentTermDays),
				FieldPath: "due_date",
			})
		}
	}

	return issues
}

// nonNegativeFields are amounts that can never legitimately be negative.
// Transaction amounts are excluded; debits are real.
var nonNegativeFields = []string{"gross_pay", "net_pay", "subtotal", "tax_amount", "total_amount", "closing_balance"}

func checkGeneral(fields map[string]any, now time.Time) []models.Issue {
	var issues []models.Issue

	for _, field := range nonNegativeFields {
		if value, ok := numberAt(fields, field); ok && value < 0 {
			issues = append(issues, models.Issue{
				Code:      CodeNegativeValue,
				Severity:  models.SeverityWarning,
				Message:   "amount is negative",
				FieldPath: field,
				Actual:    value,
			})
		}
	}

	// Every field whose name mentions a date gets the format and
	// future-value checks.
	for field, value := range fields {
		if !strings.Contains(strings.ToLower(field), "date") {
			continue
		}
		raw, ok := value.(string)
		if !ok || raw == "" {
			continue
		}
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			issues = append(issues, models.Issue{
				Code:      CodeInvalidDateFormat,
				Severity:  models.SeverityWarning,
				Message:   "date is not in ISO format",
				FieldPath: field,
				Actual:    raw,
			})
			continue
		}
		// Due dates legitimately sit in the future.
		if field != "due_date" && parsed.After(now.Add(24*time.Hour)) {
			issues = append(issues, models.Issue{
				Code:      CodeFutureDate,
				Severity:  models.SeverityWarning,
				Message:   "date lies in the future",
				FieldPath: field,
				Actual:    raw,
			})
		}
	}

	start, okS := dateAt(fields, "period_start")
	end, okE := dateAt(fields, "period_end")
	if okS && okE && end.Before(start) {
		issues = append(issues, models.Issue{
			Code:      CodeDateSequencing,
			Severity:  models.SeverityError,
			Message:   "period end precedes period start",
			FieldPath: "period_end",
		})
	}

	return issues
}

// crossCompareFields are identity fields expected to stay stable across a
// customer's documents.
var crossCompareFields = []string{"employer_name", "bank_name", "account_number"}

func checkCrossDocument(fields map[string]any, related []Related) ([]models.Issue, models.CrossDocumentSummary) {
	if len(related) > maxRelatedDocuments {
		related = related[:maxRelatedDocuments]
	}

	var issues []models.Issue
	summary := models.CrossDocumentSummary{}
	for _, r := range related {
		if r.Document != nil {
			summary.CheckedAgainst = append(summary.CheckedAgainst, r.Document.ID)
		}
	}

	for _, field := range crossCompareFields {
		current, ok := fields[field].(string)
		if !ok || current == "" {
			continue
		}
		compared := false
		for _, r := range related {
			if r.Extraction == nil {
				continue
			}
			prior, ok := r.Extraction.Fields[field].(string)
			if !ok || prior == "" {
				continue
			}
			compared = true
			if prior != current {
				issues = append(issues, models.Issue{
					Code:      CodeCrossDocMismatch,
					Severity:  models.SeverityWarning,
					Message:   "value differs from an earlier document",
					FieldPath: field,
					Expected:  prior,
					Actual:    current,
				})
				break
			}
		}
		if compared {
			summary.FieldsCompared = append(summary.FieldsCompared, field)
		}
	}

	if gross, ok := numberAt(fields, "gross_pay"); ok {
		var sum float64
		var n int
		for _, r := range related {
			if r.Extraction == nil {
				continue
			}
			if prior, ok := numberAt(r.Extraction.Fields, "gross_pay"); ok {
				sum += prior
				n++
			}
		}
		if n > 0 {
			mean := sum / float64(n)
			if mean > 0 && math.Abs(gross-mean)/mean > grossDeviationRatio {
				issues = append(issues, models.Issue{
					Code:      CodeCrossGrossDeviation,
					Severity:  models.SeverityWarning,
					Message:   "gross pay deviates from the customer's recent average",
					FieldPath: "gross_pay",
					Expected:  round2(mean),
					Actual:    gross,
				})
			}
			summary.FieldsCompared = append(summary.FieldsCompared, "gross_pay")
		}
	}

	return issues, summary
}

func numberAt(fields map[string]any, path string) (float64, bool) {
	value, ok := fieldpath.Get(fields, path)
	if !ok {
		return 0, false
	}
	return asNumber(value)
}

func numberIn(row any, key string) (float64, bool) {
	m, ok := row.(map[string]any)
	if !ok {
		return 0, false
	}
	return asNumber(m[key])
}

func asNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func dateAt(fields map[string]any, field string) (time.Time, bool) {
	raw, ok := fields[field].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
