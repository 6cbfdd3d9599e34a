package dedup

import (
	"fmt"
	"strings"
	"time"

	"topup-reconciler/internal/model"
)

const (
	fingerprintWindow = 24 * time.Hour
	amountOnlyWindow  = 2 * time.Hour
)

// Repository is the slice of the store the engine reads.
type Repository interface {
	FindByBankReference(reference string, statuses []model.TopupStatus) ([]model.PendingTopup, error)
	FindCreatedSince(since time.Time) ([]model.PendingTopup, error)
}

// Classification annotates a candidate with the engine's risk verdict. It
// never blocks creation; the reject decision belongs to the reviewer.
type Classification struct {
	RiskLevel    model.RiskLevel     `json:"risk_level"`
	Warning      string              `json:"warning"`
	Warnings     []string            `json:"warnings"`
	MatchedItems []model.MatchedItem `json:"matched_items"`
}

// Engine runs four independent checks against previously staged items,
// ordered strict to fuzzy. The first layer that hits decides the risk level.
type Engine struct {
	repo Repository
}

// New creates a new dedup engine
func New(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// Classify runs the layered checks for a candidate.
func (e *Engine) Classify(candidate model.TransactionCandidate) (Classification, error) {
	now := time.Now()

	// Layer 1: exact bank reference on a pending or approved item.
	if candidate.BankReference != "" {
		matches, err := e.repo.FindByBankReference(candidate.BankReference,
			[]model.TopupStatus{model.StatusPending, model.StatusApproved})
		if err != nil {
			return Classification{}, fmt.Errorf("reference check failed: %w", err)
		}
		if len(matches) > 0 {
			return classification(model.RiskDuplicate,
				fmt.Sprintf("bank reference %q already exists on a staged item", candidate.BankReference),
				matches), nil
		}
	}

	recent, err := e.repo.FindCreatedSince(now.Add(-fingerprintWindow))
	if err != nil {
		return Classification{}, fmt.Errorf("recent-items check failed: %w", err)
	}

	// Layer 2: same amount within 24h from a matching sender.
	var fingerprint []model.PendingTopup
	for _, item := range recent {
		if item.Amount.Equal(candidate.Amount) && senderMatches(item.SenderName, candidate.SenderName) {
			fingerprint = append(fingerprint, item)
		}
	}
	if len(fingerprint) > 0 {
		return classification(model.RiskPotentialDuplicate,
			fmt.Sprintf("same amount %s from a matching sender within 24h", candidate.Amount.String()),
			fingerprint), nil
	}

	// Layer 3: same amount within 2h, any sender.
	var amountOnly []model.PendingTopup
	for _, item := range recent {
		if now.Sub(item.CreatedAt) <= amountOnlyWindow && item.Amount.Equal(candidate.Amount) {
			amountOnly = append(amountOnly, item)
		}
	}
	if len(amountOnly) > 0 {
		return classification(model.RiskLow,
			fmt.Sprintf("same amount %s staged within the last 2h", candidate.Amount.String()),
			amountOnly), nil
	}

	// Layer 4: nothing hit.
	return Classification{RiskLevel: model.RiskClear}, nil
}

// senderMatches reports whether one sender name contains the other,
// case-insensitively. Bank notifications truncate or decorate names, so an
// exact comparison would miss obvious repeats.
func senderMatches(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func classification(level model.RiskLevel, warning string, matches []model.PendingTopup) Classification {
	c := Classification{
		RiskLevel: level,
		Warning:   warning,
		Warnings:  []string{warning},
	}
	for _, m := range matches {
		c.MatchedItems = append(c.MatchedItems, model.MatchedItem{
			ID:     m.ID,
			Amount: m.Amount,
			Sender: m.SenderName,
			Status: m.Status,
			Date:   m.CreatedAt,
		})
	}
	return c
}
