package dedup

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topup-reconciler/internal/model"
)

type fakeRepo struct {
	byReference []model.PendingTopup
	recent      []model.PendingTopup
}

func (f *fakeRepo) FindByBankReference(reference string, statuses []model.TopupStatus) ([]model.PendingTopup, error) {
	var out []model.PendingTopup
	for _, item := range f.byReference {
		if item.BankReference != reference {
			continue
		}
		for _, status := range statuses {
			if item.Status == status {
				out = append(out, item)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRepo) FindCreatedSince(since time.Time) ([]model.PendingTopup, error) {
	var out []model.PendingTopup
	for _, item := range f.recent {
		if !item.CreatedAt.Before(since) {
			out = append(out, item)
		}
	}
	return out, nil
}

func staged(id string, amount int64, sender string, age time.Duration) model.PendingTopup {
	return model.PendingTopup{
		ID:         id,
		Amount:     decimal.NewFromInt(amount),
		SenderName: sender,
		Status:     model.StatusPending,
		CreatedAt:  time.Now().Add(-age),
	}
}

func TestClassifyExactReferenceWinsOverFuzzyLayers(t *testing.T) {
	existing := staged("t1", 120, "Jane Doe", 10*time.Minute)
	existing.BankReference = "TX998"

	engine := New(&fakeRepo{
		byReference: []model.PendingTopup{existing},
		recent:      []model.PendingTopup{existing},
	})

	candidate := model.TransactionCandidate{
		Amount:        decimal.NewFromInt(120),
		SenderName:    "Jane Doe",
		BankReference: "TX998",
	}

	c, err := engine.Classify(candidate)
	require.NoError(t, err)
	assert.Equal(t, model.RiskDuplicate, c.RiskLevel)
	assert.Contains(t, c.Warning, "TX998")
	require.Len(t, c.MatchedItems, 1)
	assert.Equal(t, "t1", c.MatchedItems[0].ID)
}

func TestClassifyReferenceIgnoresResolvedItems(t *testing.T) {
	rejected := staged("t1", 120, "Jane Doe", 10*time.Minute)
	rejected.BankReference = "TX998"
	rejected.Status = model.StatusRejected

	engine := New(&fakeRepo{byReference: []model.PendingTopup{rejected}})

	c, err := engine.Classify(model.TransactionCandidate{
		Amount:        decimal.NewFromInt(50),
		BankReference: "TX998",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskClear, c.RiskLevel)
}

func TestClassifyAmountAndSenderWithin24h(t *testing.T) {
	engine := New(&fakeRepo{
		recent: []model.PendingTopup{staged("t1", 120, "JANE DOE S.A.", 6*time.Hour)},
	})

	// Different reference, same amount, sender is a substring match.
	c, err := engine.Classify(model.TransactionCandidate{
		Amount:        decimal.NewFromInt(120),
		SenderName:    "jane doe",
		BankReference: "TX999",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskPotentialDuplicate, c.RiskLevel)
	assert.Contains(t, c.Warning, "24h")
}

func TestClassifyAmountOnlyWithin2h(t *testing.T) {
	engine := New(&fakeRepo{
		recent: []model.PendingTopup{staged("t1", 120, "Carlos Perez", 90*time.Minute)},
	})

	c, err := engine.Classify(model.TransactionCandidate{
		Amount:     decimal.NewFromInt(120),
		SenderName: "Jane Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskLow, c.RiskLevel)
	assert.Contains(t, c.Warning, "2h")
}

func TestClassifyAmountOnlyOutside2hIsClear(t *testing.T) {
	// Same amount from an unrelated sender, but three hours old.
	engine := New(&fakeRepo{
		recent: []model.PendingTopup{staged("t1", 120, "Carlos Perez", 3*time.Hour)},
	})

	c, err := engine.Classify(model.TransactionCandidate{
		Amount:     decimal.NewFromInt(120),
		SenderName: "Jane Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskClear, c.RiskLevel)
	assert.Empty(t, c.MatchedItems)
}

func TestClassifyDifferentAmountIsClear(t *testing.T) {
	engine := New(&fakeRepo{
		recent: []model.PendingTopup{staged("t1", 120, "Jane Doe", 10*time.Minute)},
	})

	c, err := engine.Classify(model.TransactionCandidate{
		Amount:     decimal.NewFromFloat(120.01),
		SenderName: "Jane Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskClear, c.RiskLevel)
}

func TestClassifyNoReferenceSkipsLayerOne(t *testing.T) {
	existing := staged("t1", 120, "Jane Doe", 10*time.Minute)
	existing.BankReference = ""

	engine := New(&fakeRepo{
		byReference: []model.PendingTopup{existing},
		recent:      []model.PendingTopup{existing},
	})

	// Candidate also has no reference; layer 2 still hits.
	c, err := engine.Classify(model.TransactionCandidate{
		Amount:     decimal.NewFromInt(120),
		SenderName: "Jane Doe",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskPotentialDuplicate, c.RiskLevel)
}

func TestSenderMatches(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Jane Doe", "jane doe", true},
		{"JANE DOE S.A.", "jane doe", true},
		{"jane", "Jane Doe", true},
		{"Jane Doe", "Carlos Perez", false},
		{"", "Jane Doe", false},
		{"  ", "", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, senderMatches(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}
