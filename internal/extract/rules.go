package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ufindi/docintel/internal/normalize"
)

// Confidence tiers. Header fields matched by anchored labels score
// highest; totals and amounts slightly lower; repeated rows lowest.
const (
	headerConfidence  = 0.9
	labelConfidence   = 0.85
	amountConfidence  = 0.8
	rowConfidence     = 0.7
	genericConfidence = 0.5
)

var (
	genericDateRe   = regexp.MustCompile(`\b\d{1,4}[/-]\d{1,2}[/-]\d{1,4}\b`)
	genericAmountRe = regexp.MustCompile(`-?[\d,]+\.\d{2}\b`)
)

func asDate(s string) any    { return normalize.Date(strings.TrimSpace(s)) }
func asAmount(s string) any  { return normalize.Amount(s) }
func asName(s string) any    { return normalize.Name(s) }
func asAccount(s string) any { return normalize.AccountNumber(s) }
func asText(s string) any    { return strings.TrimSpace(s) }

var bankStatementRules = []fieldRule{
	{
		field: "bank_name",
		re:    regexp.MustCompile(`(?m)^\s*([A-Z][A-Za-z&' ]*Bank[A-Za-z ]*)\s*$`),
		conf:  headerConfidence,
		norm:  asName,
	},
	{
		field: "account_number",
		re:    regexp.MustCompile(`(?i)account\s*(?:no\.?|number)?\s*[:#]?\s*([\d][\d\s-]{5,})`),
		conf:  headerConfidence,
		norm:  asAccount,
	},
	{
		field: "period_start",
		re:    regexp.MustCompile(`(?i)(?:statement\s+)?period\s*[:\s]\s*(\d{1,4}[/-]\d{1,2}[/-]\d{1,4})`),
		conf:  headerConfidence,
		norm:  asDate,
	},
	{
		field: "period_end",
		re:    regexp.MustCompile(`(?i)(?:statement\s+)?period\s*[:\s]\s*\d{1,4}[/-]\d{1,2}[/-]\d{1,4}\s*(?:to|-|–)\s*(\d{1,4}[/-]\d{1,2}[/-]\d{1,4})`),
		conf:  headerConfidence,
		norm:  asDate,
	},
	{
		field: "opening_balance",
		re:    regexp.MustCompile(`(?i)opening\s+balance\s*[:\s]\s*[£$€]?\s*(-?[\d,]+\.?\d*)`),
		conf:  amountConfidence,
		norm:  asAmount,
	},
	{
		field: "closing_balance",
		re:    regexp.MustCompile(`(?i)closing\s+balance\s*[:\s]\s*[£$€]?\s*(-?[\d,]+\.?\d*)`),
		conf:  amountConfidence,
		norm:  asAmount,
	},
}

// transactionRe matches one statement row: date, description, amount and
// an optional running balance.
var transactionRe = regexp.MustCompile(`(?m)^\s*(\d{1,4}[/-]\d{1,2}[/-]\d{1,4})\s+(.{3,60}?)\s+(-?[\d,]+\.\d{2})(?:\s+(-?[\d,]+\.\d{2}))?\s*$`)

func extractTransactions(text string) []any {
	rows := []any{}
	for _, m := range transactionRe.FindAllStringSubmatch(text, maxTransactions) {
		row := map[string]any{
			"date":        normalize.Date(m[1]),
			"description": strings.TrimSpace(m[2]),
			"amount":      normalize.Amount(m[3]),
		}
		if m[4] != "" {
			row["balance"] = normalize.Amount(m[4])
		}
		rows = append(rows, row)
	}
	return rows
}

var payslipRules = []fieldRule{
	{
		field: "employee_name",
		re:    regexp.MustCompile(`(?im)^\s*employee(?:\s+name)?\s*[:\s]\s*([A-Za-z][A-Za-z .'-]+)$`),
		conf:  labelConfidence,
		norm:  asName,
	},
	{
		field: "employer_name",
		re:    regexp.MustCompile(`(?im)^\s*employer(?:\s+name)?\s*[:\s]\s*([A-Za-z][A-Za-z0-9 .,'&-]+)$`),
		conf:  labelConfidence,
		norm:  asName,
	},
	{
		field: "pay_period",
		re:    regexp.MustCompile(`(?i)pay\s+period\s*[:\s]\s*([A-Za-z0-9 /-]+)`),
		conf:  labelConfidence,
		norm:  asText,
	},
	{
		field: "pay_date",
		re:    regexp.MustCompile(`(?i)pay(?:ment)?\s+date\s*[:\s]\s*(\d{1,4}[/-]\d{1,2}[/-]\d{1,4})`),
		conf:  labelConfidence,
		norm:  asDate,
	},
	{
		field: "gross_pay",
		re:    regexp.MustCompile(`(?i)gross\s+pay\s*[:\s]\s*[£$€]?\s*(-?[\d,]+\.?\d*)`),
		conf:  amountConfidence,
		norm:  asAmount,
	},
	{
		field: "net_pay",
		re:    regexp.MustCompile(`(?i)net\s+pay\s*[:\s]\s*[£$€]?\s*(-?[\d,]+\.?\d*)`),
		conf:  amountConfidence,
		norm:  asAmount,
	},
}

// deductionRe matches known deduction labels followed by an amount.
var deductionRe = regexp.MustCompile(`(?im)^\s*(tax|paye|income tax|national insurance|ni|pension|student loan)\s*[:\s]\s*[£$€]?\s*([\d,]+\.\d{2})\s*$`)

func extractDeductions(text string) []any {
	rows := []any{}
	for _, m := range deductionRe.FindAllStringSubmatch(text, maxDeductions) {
		rows = append(rows, map[string]any{
			"label":  strings.ToLower(strings.TrimSpace(m[1])),
			"amount": normalize.Amount(m[2]),
		})
	}
	return rows
}

var invoiceRules = []fieldRule{
	{
		field: "invoice_number",
		re:    regexp.MustCompile(`(?i)invoice\s*(?:#|no\.?|number)?\s*[:#]\s*([A-Za-z0-9/-]+)`),
		conf:  labelConfidence,
		norm:  asText,
	},
	{
		field: "invoice_date",
		re:    regexp.MustCompile(`(?i)invoice\s+date\s*[:\s]\s*(\d{1,4}[/-]\d{1,2}[/-]\d{1,4})`),
		conf:  labelConfidence,
		norm:  asDate,
	},
	{
		field: "due_date",
		re:    regexp.MustCompile(`(?i)due\s+date\s*[:\s]\s*(\d{1,4}[/-]\d{1,2}[/-]\d{1,4})`),
		conf:  labelConfidence,
		norm:  asDate,
	},
	{
		field: "subtotal",
		re:    regexp.MustCompile(`(?i)subtotal\s*[:\s]\s*[£$€]?\s*(-?[\d,]+\.?\d*)`),
		conf:  amountConfidence,
		norm:  asAmount,
	},
	{
		field: "tax_amount",
		re:    regexp.MustCompile(`(?im)^\s*(?:tax|vat)\s*(?:\(\d+%\))?\s*[:\s]\s*[£$€]?\s*(-?[\d,]+\.?\d*)\s*$`),
		conf:  amountConfidence,
		norm:  asAmount,
	},
	{
		field: "total_amount",
		re:    regexp.MustCompile(`(?i)\b(?:amount\s+due|total(?:\s+amount)?)\b\s*[:\s]\s*[£$€]?\s*(-?[\d,]+\.?\d*)`),
		conf:  amountConfidence,
		norm:  asAmount,
	},
}

// lineItemRe matches one invoice line: description, quantity, unit price
// and line total.
var lineItemRe = regexp.MustCompile(`(?m)^\s*(.{3,60}?)\s+(\d{1,4})\s+([\d,]+\.\d{2})\s+([\d,]+\.\d{2})\s*$`)

func extractLineItems(text string) []any {
	rows := []any{}
	for _, m := range lineItemRe.FindAllStringSubmatch(text, maxLineItems) {
		qty, _ := strconv.Atoi(m[2])
		rows = append(rows, map[string]any{
			"description": strings.TrimSpace(m[1]),
			"quantity":    float64(qty),
			"unit_price":  normalize.Amount(m[3]),
			"line_total":  normalize.Amount(m[4]),
		})
	}
	return rows
}

var agreementRules = []fieldRule{
	{
		field: "party_1",
		re:    regexp.MustCompile(`(?i)between\s+(.+?)\s+and\s+`),
		conf:  rowConfidence,
		norm:  asName,
	},
	{
		field: "party_2",
		re:    regexp.MustCompile(`(?i)between\s+.+?\s+and\s+([A-Za-z][A-Za-z0-9 .,'&-]+?)[\n(]`),
		conf:  rowConfidence,
		norm:  asName,
	},
	{
		field: "effective_date",
		re:    regexp.MustCompile(`(?i)effective\s+date\s*[:\s]\s*(\d{1,4}[/-]\d{1,2}[/-]\d{1,4})`),
		conf:  labelConfidence,
		norm:  asDate,
	},
	{
		field: "term",
		re:    regexp.MustCompile(`(?i)term\s*[:\s]\s*([A-Za-z0-9 ]+?(?:months?|years?))`),
		conf:  rowConfidence,
		norm:  asText,
	},
}
