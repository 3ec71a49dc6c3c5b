package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/pkg/logger"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newValidator() *Validator {
	v := NewValidator(logger.NewTestLogger())
	v.now = func() time.Time { return testNow }
	return v
}

func extraction(fields map[string]any) *models.Extraction {
	return &models.Extraction{ID: "ex-1", DocumentID: "doc-1", Fields: fields}
}

func document(t models.DocumentType) *models.Document {
	return &models.Document{ID: "doc-1", Type: t}
}

func findIssue(issues []models.Issue, code string) *models.Issue {
	for i := range issues {
		if issues[i].Code == code {
			return &issues[i]
		}
	}
	return nil
}

func TestBalanceReconciliation(t *testing.T) {
	fields := map[string]any{
		"opening_balance": 100.0,
		"closing_balance": 130.0,
		"transactions": []any{
			map[string]any{"amount": 50.0},
			map[string]any{"amount": -20.0},
		},
	}

	val := newValidator().Validate(document(models.BankStatement), extraction(fields), nil)
	assert.Equal(t, models.ValidationPassed, val.Status)
	assert.Empty(t, val.Issues)
	assert.Contains(t, val.RulesApplied, "balance_reconciliation")
}

func TestBalanceMismatch(t *testing.T) {
	fields := map[string]any{
		"opening_balance": 100.0,
		"closing_balance": 200.0,
		"transactions":    []any{map[string]any{"amount": 50.0}},
	}

	val := newValidator().Validate(document(models.BankStatement), extraction(fields), nil)

	require.Equal(t, models.ValidationNeedsReview, val.Status)
	issue := findIssue(val.Issues, CodeBalanceMismatch)
	require.NotNil(t, issue)
	assert.Equal(t, models.SeverityError, issue.Severity)
	assert.Equal(t, 150.0, issue.Expected)
}

func TestTransactionDateSequencing(t *testing.T) {
	fields := map[string]any{
		"transactions": []any{
			map[string]any{"date": "2024-05-03", "amount": 10.0},
			map[string]any{"date": "2024-05-01", "amount": 10.0},
		},
	}

	val := newValidator().Validate(document(models.BankStatement), extraction(fields), nil)

	issue := findIssue(val.Issues, CodeDateSequencing)
	require.NotNil(t, issue)
	assert.Equal(t, models.SeverityWarning, issue.Severity)
	assert.Equal(t, models.ValidationWithWarnings, val.Status)
}

func TestFutureTransactionDateIsAnError(t *testing.T) {
	fields := map[string]any{
		"transactions": []any{
			map[string]any{"date": "2030-05-02", "amount": 10.0},
			map[string]any{"date": "2024-05-01", "amount": 10.0},
		},
	}

	val := newValidator().Validate(document(models.BankStatement), extraction(fields), nil)

	assert.NotNil(t, findIssue(val.Issues, CodeDateSequencing))
	issue := findIssue(val.Issues, CodeFutureDate)
	require.NotNil(t, issue)
	assert.Equal(t, models.SeverityError, issue.Severity)
	assert.Equal(t, models.ValidationNeedsReview, val.Status)
}

func TestBalanceToleranceAbsorbsRounding(t *testing.T) {
	fields := map[string]any{
		"opening_balance": 100.0,
		"closing_balance": 150.005,
		"transactions":    []any{map[string]any{"amount": 50.0}},
	}

	val := newValidator().Validate(document(models.BankStatement), extraction(fields), nil)
	assert.Nil(t, findIssue(val.Issues, CodeBalanceMismatch))
}

func TestNetExceedsGross(t *testing.T) {
	fields := map[string]any{"gross_pay": 2000.0, "net_pay": 2500.0}

	val := newValidator().Validate(document(models.Payslip), extraction(fields), nil)

	assert.Equal(t, models.ValidationNeedsReview, val.Status)
	assert.NotNil(t, findIssue(val.Issues, CodeNetExceedsGross))
}

func TestHighDeductionRatio(t *testing.T) {
	// Ratio is (gross - net) / gross; no deduction rows needed.
	fields := map[string]any{"gross_pay": 2000.0, "net_pay": 900.0}

	val := newValidator().Validate(document(models.Payslip), extraction(fields), nil)

	assert.Equal(t, models.ValidationWithWarnings, val.Status)
	issue := findIssue(val.Issues, CodeHighDeductionRatio)
	require.NotNil(t, issue)
	assert.Equal(t, models.SeverityWarning, issue.Severity)
	assert.Equal(t, 0.55, issue.Actual)
}

func TestDeductionRatioBelowThresholdPasses(t *testing.T) {
	fields := map[string]any{"gross_pay": 2000.0, "net_pay": 1100.0}

	val := newValidator().Validate(document(models.Payslip), extraction(fields), nil)

	assert.Nil(t, findIssue(val.Issues, CodeHighDeductionRatio))
	assert.Equal(t, models.ValidationPassed, val.Status)
}

func TestInvoiceTotalMismatch(t *testing.T) {
	fields := map[string]any{
		"subtotal":     100.0,
		"tax_amount":   20.0,
		"total_amount": 130.0,
	}

	val := newValidator().Validate(document(models.Invoice), extraction(fields), nil)

	assert.Equal(t, models.ValidationNeedsReview, val.Status)
	issue := findIssue(val.Issues, CodeInvoiceTotalMismatch)
	require.NotNil(t, issue)
	assert.Equal(t, 120.0, issue.Expected)
}

func TestDueDateBeforeInvoice(t *testing.T) {
	fields := map[string]any{
		"invoice_date": "2024-03-10",
		"due_date":     "2024-03-01",
	}

	val := newValidator().Validate(document(models.Invoice), extraction(fields), nil)
	assert.NotNil(t, findIssue(val.Issues, CodeDueDateBeforeInvoice))
	assert.Equal(t, models.ValidationNeedsReview, val.Status)
}

func TestLongPaymentTerm(t *testing.T) {
	fields := map[string]any{
		"invoice_date": "2024-01-01",
		"due_date":     "2024-06-01",
	}

	val := newValidator().Validate(document(models.Invoice), extraction(fields), nil)
	issue := findIssue(val.Issues, CodeLongPaymentTerm)
	require.NotNil(t, issue)
	assert.Equal(t, models.SeverityWarning, issue.Severity)
}

func TestGeneralRules(t *testing.T) {
	fields := map[string]any{
		"gross_pay":    -100.0,
		"pay_date":     "31/12/2024",
		"period_start": "2024-02-01",
		"period_end":   "2024-01-01",
	}

	val := newValidator().Validate(document(models.Payslip), extraction(fields), nil)

	assert.NotNil(t, findIssue(val.Issues, CodeNegativeValue))
	assert.NotNil(t, findIssue(val.Issues, CodeInvalidDateFormat))
	assert.NotNil(t, findIssue(val.Issues, CodeDateSequencing))
	assert.Equal(t, models.ValidationNeedsReview, val.Status)
}

func TestNegativeClosingBalanceWarns(t *testing.T) {
	fields := map[string]any{"closing_balance": -50.0}

	val := newValidator().Validate(document(models.BankStatement), extraction(fields), nil)

	issue := findIssue(val.Issues, CodeNegativeValue)
	require.NotNil(t, issue)
	assert.Equal(t, "closing_balance", issue.FieldPath)
}

func TestDateFormatCheckCoversAnyDateField(t *testing.T) {
	fields := map[string]any{"settlement_date": "soon"}

	val := newValidator().Validate(document(models.Agreement), extraction(fields), nil)

	issue := findIssue(val.Issues, CodeInvalidDateFormat)
	require.NotNil(t, issue)
	assert.Equal(t, "settlement_date", issue.FieldPath)
}

func TestFutureDateFlaggedExceptDueDate(t *testing.T) {
	fields := map[string]any{
		"invoice_date": "2024-05-01",
		"due_date":     "2024-07-15",
		"subtotal":     10.0,
		"total_amount": 10.0,
	}
	val := newValidator().Validate(document(models.Invoice), extraction(fields), nil)
	assert.Nil(t, findIssue(val.Issues, CodeFutureDate))

	fields["invoice_date"] = "2024-07-01"
	val = newValidator().Validate(document(models.Invoice), extraction(fields), nil)
	assert.NotNil(t, findIssue(val.Issues, CodeFutureDate))
}

func TestCrossDocumentMismatch(t *testing.T) {
	fields := map[string]any{"employer_name": "Acme Ltd", "gross_pay": 2000.0}
	prior := Related{
		Document: &models.Document{ID: "doc-0", Type: models.Payslip},
		Extraction: extraction(map[string]any{
			"employer_name": "Other Corp",
			"gross_pay":     2000.0,
		}),
	}

	val := newValidator().Validate(document(models.Payslip), extraction(fields), []Related{prior})

	assert.Equal(t, models.ValidationWithWarnings, val.Status)
	issue := findIssue(val.Issues, CodeCrossDocMismatch)
	require.NotNil(t, issue)
	assert.Equal(t, "employer_name", issue.FieldPath)
	assert.Equal(t, []string{"doc-0"}, val.CrossDocument.CheckedAgainst)
	assert.Contains(t, val.CrossDocument.FieldsCompared, "employer_name")
}

func TestCrossDocumentGrossDeviation(t *testing.T) {
	fields := map[string]any{"gross_pay": 3000.0}
	prior := Related{
		Document:   &models.Document{ID: "doc-0", Type: models.Payslip},
		Extraction: extraction(map[string]any{"gross_pay": 2000.0}),
	}

	val := newValidator().Validate(document(models.Payslip), extraction(fields), []Related{prior})

	assert.Equal(t, models.ValidationWithWarnings, val.Status)
	issue := findIssue(val.Issues, CodeCrossGrossDeviation)
	require.NotNil(t, issue)
	assert.Equal(t, 2000.0, issue.Expected)
}

func TestCrossDocumentCapsRelated(t *testing.T) {
	var related []Related
	for i := 0; i < 8; i++ {
		related = append(related, Related{
			Document:   &models.Document{ID: "prior", Type: models.Payslip},
			Extraction: extraction(map[string]any{"gross_pay": 2000.0}),
		})
	}

	val := newValidator().Validate(document(models.Payslip), extraction(map[string]any{"gross_pay": 2000.0}), related)
	assert.Len(t, val.CrossDocument.CheckedAgainst, maxRelatedDocuments)
}

func TestDetermineStatusPrecedence(t *testing.T) {
	assert.Equal(t, models.ValidationPassed, DetermineStatus(nil))
	assert.Equal(t, models.ValidationWithWarnings, DetermineStatus([]models.Issue{
		{Code: CodeLongPaymentTerm, Severity: models.SeverityWarning},
	}))
	// Cross-document warnings carry no special weight.
	assert.Equal(t, models.ValidationWithWarnings, DetermineStatus([]models.Issue{
		{Code: CodeCrossDocMismatch, Severity: models.SeverityWarning},
	}))
	// Errors send the document to review; "failed" is reserved for the
	// rule engine itself breaking.
	assert.Equal(t, models.ValidationNeedsReview, DetermineStatus([]models.Issue{
		{Code: CodeCrossDocMismatch, Severity: models.SeverityWarning},
		{Code: CodeBalanceMismatch, Severity: models.SeverityError},
	}))
}
