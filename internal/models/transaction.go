package models

import "github.com/shopspring/decimal"

type TransactionType string

const (
	TransactionExpense TransactionType = "expense"
	TransactionIncome  TransactionType = "income"
)

// ParsedTransaction is the structured result of the extraction stage.
// A zero Amount means the text did not contain enough information.
type ParsedTransaction struct {
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Type        TransactionType `json:"type"`
}

// NeedsClarification reports whether the caller should re-prompt the user.
func (t *ParsedTransaction) NeedsClarification() bool {
	return t == nil || t.Amount.IsZero()
}
