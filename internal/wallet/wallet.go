package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"topup-reconciler/internal/config"
	"topup-reconciler/internal/model"
)

// Ledger is the external wallet API: a black-box deposit call that is
// idempotent by reference.
type Ledger interface {
	Deposit(ctx context.Context, amount decimal.Decimal, currency, reference, description string) error
}

// HTTPLedger implements Ledger against the wallet service's HTTP API.
type HTTPLedger struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPLedger creates a new wallet API client
func NewHTTPLedger(cfg config.WalletConfig) *HTTPLedger {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPLedger{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type depositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
}

// Deposit credits the wallet. The ledger deduplicates on reference, and a
// 409 means the reference was already applied, which counts as success here.
func (l *HTTPLedger) Deposit(ctx context.Context, amount decimal.Decimal, currency, reference, description string) error {
	payload, err := json.Marshal(depositRequest{
		Amount:      amount,
		Currency:    currency,
		Reference:   reference,
		Description: description,
	})
	if err != nil {
		return fmt.Errorf("failed to encode deposit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/deposits", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create deposit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", l.apiKey)
	req.Header.Set("Idempotency-Key", reference)

	resp, err := l.http.Do(req)
	if err != nil {
		return fmt.Errorf("wallet API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusConflict {
		if resp.StatusCode == http.StatusConflict {
			logrus.Warnf("Wallet deposit %s already applied, treating as success", reference)
		}
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("wallet API returned status %d: %s", resp.StatusCode, string(body))
}

// Store is the slice of the pending store the bridge writes.
type Store interface {
	TransitionStatus(id string, from, to model.TopupStatus, actor string) error
	SetCreditError(id, message string) error
}

// CreditReference derives the deterministic ledger reference for a topup.
// Same topup, same reference, so a replayed approval can never double-credit.
func CreditReference(topupID string) string {
	return "monday_item_" + topupID
}

// Bridge translates an approved topup into exactly one ledger mutation.
type Bridge struct {
	ledger Ledger
	store  Store
}

// NewBridge creates a new wallet bridge
func NewBridge(ledger Ledger, store Store) *Bridge {
	return &Bridge{ledger: ledger, store: store}
}

// Credit deposits the topup amount and marks the topup credited. On ledger
// failure the topup stays approved with the error recorded for operator
// remediation; the credit is never retried automatically.
func (b *Bridge) Credit(ctx context.Context, topup *model.PendingTopup, actor string) error {
	reference := CreditReference(topup.ID)
	description := fmt.Sprintf("Top-up from %s", topup.SenderName)

	if err := b.ledger.Deposit(ctx, topup.Amount, topup.Currency, reference, description); err != nil {
		logrus.Errorf("Wallet credit failed for topup %s: %v", topup.ID, err)
		if storeErr := b.store.SetCreditError(topup.ID, err.Error()); storeErr != nil {
			logrus.Errorf("Failed to record credit error for topup %s: %v", topup.ID, storeErr)
		}
		return fmt.Errorf("wallet credit failed: %w", err)
	}

	if err := b.store.TransitionStatus(topup.ID, model.StatusApproved, model.StatusCredited, actor); err != nil {
		// The deposit went through; the reference keeps a retry safe.
		logrus.Errorf("Failed to mark topup %s credited: %v", topup.ID, err)
		return fmt.Errorf("failed to mark topup credited: %w", err)
	}

	logrus.Infof("Credited topup %s: %s %s (reference %s)", topup.ID, topup.Amount.String(), topup.Currency, reference)
	return nil
}
