package model

import "github.com/shopspring/decimal"

// TransactionCandidate is the structured output of the extraction stage.
type TransactionCandidate struct {
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	SenderName      string          `json:"sender_name"`
	BankReference   string          `json:"bank_reference"`
	TransactionType string          `json:"transaction_type"`
	Date            string          `json:"date"`
	Confidence      int             `json:"confidence"`
	Summary         string          `json:"summary"`
}
