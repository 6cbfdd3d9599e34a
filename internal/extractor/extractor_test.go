package extractor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topup-reconciler/internal/config"
)

func TestParseResponseCleanJSON(t *testing.T) {
	raw := `{"amount": 1250.50, "currency": "usd", "sender_name": "Jane Doe", "bank_reference": "TX998", "transaction_type": "transfer", "date": "2026-08-30", "confidence": 92, "summary": "Incoming transfer"}`

	candidate, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.True(t, candidate.Amount.Equal(decimal.NewFromFloat(1250.50)))
	assert.Equal(t, "USD", candidate.Currency)
	assert.Equal(t, "Jane Doe", candidate.SenderName)
	assert.Equal(t, "TX998", candidate.BankReference)
	assert.Equal(t, 92, candidate.Confidence)
}

func TestParseResponseCodeFenced(t *testing.T) {
	raw := "```json\n{\"amount\": 75, \"currency\": \"USD\", \"sender_name\": \"Jane Doe\", \"confidence\": 88}\n```"

	candidate, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.True(t, candidate.Amount.Equal(decimal.NewFromInt(75)))
	assert.Equal(t, 88, candidate.Confidence)
}

func TestParseResponseSurroundedByProse(t *testing.T) {
	raw := `Here is the extraction you asked for:
{"amount": 200, "currency": "EUR", "sender_name": "ACME GmbH", "confidence": 70}
Let me know if you need anything else.`

	candidate, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.True(t, candidate.Amount.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, "EUR", candidate.Currency)
}

func TestParseResponseStringAmount(t *testing.T) {
	raw := `{"amount": "$1,250.00", "currency": "USD", "confidence": 85}`

	candidate, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.True(t, candidate.Amount.Equal(decimal.NewFromInt(1250)))
}

func TestParseResponseDefaultsCurrency(t *testing.T) {
	raw := `{"amount": 50, "confidence": 80}`

	candidate, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "USD", candidate.Currency)
}

func TestParseResponseFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty reply", ""},
		{"no JSON object", "I could not find a transaction in this email."},
		{"truncated object", `{"amount": 50,`},
		{"unparsable amount", `{"amount": "lots", "confidence": 90}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestQualifies(t *testing.T) {
	e := NewGeminiExtractor(config.ExtractorConfig{ConfidenceThreshold: 30})

	candidate, err := ParseResponse(`{"amount": 75, "confidence": 88}`)
	require.NoError(t, err)
	_, ok := e.Qualifies(candidate)
	assert.True(t, ok)

	candidate, err = ParseResponse(`{"amount": 75, "confidence": 20}`)
	require.NoError(t, err)
	reason, ok := e.Qualifies(candidate)
	assert.False(t, ok)
	assert.Contains(t, reason, "below threshold")

	candidate, err = ParseResponse(`{"amount": 0, "confidence": 95, "summary": "not a transaction"}`)
	require.NoError(t, err)
	reason, ok = e.Qualifies(candidate)
	assert.False(t, ok)
	assert.Contains(t, reason, "non-positive amount")

	// Exactly at the threshold still qualifies.
	candidate, err = ParseResponse(`{"amount": 75, "confidence": 30}`)
	require.NoError(t, err)
	_, ok = e.Qualifies(candidate)
	assert.True(t, ok)
}
