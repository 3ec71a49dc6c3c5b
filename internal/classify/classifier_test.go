package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/pkg/logger"
)

func newClassifier() *Classifier {
	return NewClassifier(logger.NewTestLogger())
}

func TestClassifyBankStatement(t *testing.T) {
	text := `ACME BANK
	Statement of Account
	Account: 12345678
	Opening Balance: 100.00
	Debit Credit Transaction
	Withdrawal Deposit
	Closing Balance: 130.00`

	res := newClassifier().Classify(text, 0.8)

	assert.Equal(t, models.BankStatement, res.Type)
	assert.Greater(t, res.Confidence, 0.3)
	assert.Equal(t, 0.8, res.QualityScore)
	assert.NotEmpty(t, res.TextSample)
}

func TestClassifyPayslip(t *testing.T) {
	text := `Pay Slip for Employee John Smith
	Employer: Acme Ltd
	Gross Pay: 2000.00
	Net Pay: 1500.00
	Tax and National Insurance deduction details
	Salary period March`

	res := newClassifier().Classify(text, 0.7)
	assert.Equal(t, models.Payslip, res.Type)
}

func TestClassifyInvoice(t *testing.T) {
	text := `INVOICE #100
	Bill To: Acme Ltd
	Ship To: Acme Warehouse
	Item Quantity Subtotal Tax Total
	Amount Due: 120.00`

	res := newClassifier().Classify(text, 0.9)
	assert.Equal(t, models.Invoice, res.Type)
}

func TestClassifyBelowThresholdIsUnknown(t *testing.T) {
	// Mentions one keyword of several types; no ratio clears 0.3.
	res := newClassifier().Classify("this letter mentions a tax item once in passing", 0.5)

	assert.Equal(t, models.Unknown, res.Type)
	assert.Equal(t, 0.1, res.Confidence)
}

func TestClassifyShortTextIsUnknown(t *testing.T) {
	res := newClassifier().Classify("   hi   ", 0.4)

	assert.Equal(t, models.Unknown, res.Type)
	assert.Equal(t, 0.1, res.Confidence)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, 0.4, res.QualityScore)
}

func TestTextSampleCapped(t *testing.T) {
	text := "account balance statement bank " + strings.Repeat("credit debit deposit ", 100)
	res := newClassifier().Classify(text, 0.6)
	assert.LessOrEqual(t, len(res.TextSample), storedSampleLen)
}

func TestDetectLanguageFallback(t *testing.T) {
	assert.Equal(t, "en", detectLanguage("account balance statement for the holder of this bank account"))
}
