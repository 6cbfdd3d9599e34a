package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"topup-reconciler/internal/dedup"
	"topup-reconciler/internal/extractor"
	"topup-reconciler/internal/metrics"
	"topup-reconciler/internal/model"
	"topup-reconciler/internal/rules"
	"topup-reconciler/internal/store"
)

// ActorSystem is recorded as the reviewer for auto-approved topups.
const ActorSystem = "system:gmail"

const previewLength = 500

// Syncer mirrors a freshly created topup out to the approval board and
// pushes later status changes onto its item.
type Syncer interface {
	MirrorOut(ctx context.Context, topup *model.PendingTopup) error
	MirrorStatus(ctx context.Context, topupID string, status model.TopupStatus) error
}

// Bridge applies the ledger credit for an approved topup.
type Bridge interface {
	Credit(ctx context.Context, topup *model.PendingTopup, actor string) error
}

// Pipeline turns one inbox message into at most one pending topup:
// processed-marker check, extraction, rule filter, dedup annotation,
// creation, board mirror, and the optional auto-approve path.
type Pipeline struct {
	store     *store.Store
	extractor extractor.Client
	dedup     *dedup.Engine
	syncer    Syncer
	bridge    Bridge
	metrics   *metrics.Metrics
}

// New creates a new pipeline
func New(st *store.Store, ext extractor.Client, engine *dedup.Engine, syncer Syncer, bridge Bridge, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		store:     st,
		extractor: ext,
		dedup:     engine,
		syncer:    syncer,
		bridge:    bridge,
		metrics:   m,
	}
}

// ProcessEmail runs one email through the pipeline. It reports whether a
// pending topup was created. A returned error means the email was NOT
// marked processed and will be retried on the next scan.
func (p *Pipeline) ProcessEmail(ctx context.Context, email model.EmailMessage) (bool, error) {
	p.metrics.EmailsSeen.Inc()

	processed, err := p.store.IsEmailProcessed(email.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check processed marker: %w", err)
	}
	if processed {
		logrus.Debugf("Email %s already processed, skipping", email.ID)
		return false, nil
	}

	candidate, raw, err := p.extractor.Extract(ctx, email)
	if err != nil {
		if errors.Is(err, extractor.ErrNotTransaction) {
			p.metrics.EmailsSkipped.Inc()
			logrus.Infof("Email %s skipped: %v", email.ID, err)
			if markErr := p.store.MarkEmailProcessed(email.ID, model.OutcomeSkippedNotTransaction, err.Error()); markErr != nil {
				return false, markErr
			}
			return false, nil
		}
		// Transport failure: leave unmarked so the next cycle retries.
		return false, fmt.Errorf("extraction failed: %w", err)
	}

	ruleSet, err := p.store.GetRuleSet()
	if err != nil {
		return false, fmt.Errorf("failed to load rule set: %w", err)
	}

	verdict := rules.Evaluate(email, *candidate, ruleSet)
	if !verdict.Pass {
		p.metrics.RuleRejections.Inc()
		logrus.Infof("Email %s rejected by rules: %s", email.ID, verdict.Reason)
		if markErr := p.store.MarkEmailProcessed(email.ID, model.OutcomeRejectedByRules, verdict.Reason); markErr != nil {
			return false, markErr
		}
		return false, nil
	}

	classification, err := p.dedup.Classify(*candidate)
	if err != nil {
		return false, fmt.Errorf("dedup classification failed: %w", err)
	}
	if classification.RiskLevel != model.RiskClear {
		p.metrics.DuplicatesFound.Inc()
	}

	topup := p.buildTopup(email, candidate, raw, verdict, classification)

	if err := p.store.CreateTopupForEmail(topup); err != nil {
		if errors.Is(err, store.ErrEmailAlreadyProcessed) {
			logrus.Debugf("Email %s processed concurrently, skipping", email.ID)
			return false, nil
		}
		return false, fmt.Errorf("failed to stage topup: %w", err)
	}

	p.metrics.TopupsCreated.Inc()
	logrus.Infof("Staged topup %s: %s %s from %s (risk %s)",
		topup.ID, topup.Amount.String(), topup.Currency, topup.SenderName, topup.RiskLevel)

	// Board mirroring is best-effort; the topup already exists locally.
	if err := p.syncer.MirrorOut(ctx, topup); err != nil {
		logrus.Warnf("Failed to mirror topup %s to board: %v", topup.ID, err)
	}

	if verdict.AutoApprove && classification.RiskLevel == model.RiskClear {
		p.autoApprove(ctx, topup)
	}

	p.refreshPendingGauge()
	return true, nil
}

// refreshPendingGauge re-derives the pending population from the store so
// the gauge survives restarts instead of drifting from incremental updates.
func (p *Pipeline) refreshPendingGauge() {
	count, err := p.store.CountByStatus(model.StatusPending)
	if err != nil {
		logrus.Warnf("Failed to count pending topups: %v", err)
		return
	}
	p.metrics.PendingTopups.Set(float64(count))
}

// autoApprove runs the same approve-then-credit sequence the webhook path
// uses, with the system actor. Failures leave the topup for normal review.
func (p *Pipeline) autoApprove(ctx context.Context, topup *model.PendingTopup) {
	if err := p.store.TransitionStatus(topup.ID, model.StatusPending, model.StatusApproved, ActorSystem); err != nil {
		logrus.Warnf("Auto-approval of topup %s failed: %v", topup.ID, err)
		return
	}

	logrus.Infof("Topup %s auto-approved (%s)", topup.ID, ActorSystem)

	topup.Status = model.StatusApproved
	if err := p.bridge.Credit(ctx, topup, ActorSystem); err != nil {
		p.metrics.CreditFailures.Inc()
		logrus.Errorf("Auto-approve credit for topup %s failed: %v", topup.ID, err)
		return
	}
	p.metrics.CreditSuccesses.Inc()

	if err := p.syncer.MirrorStatus(ctx, topup.ID, model.StatusCredited); err != nil {
		logrus.Warnf("Failed to mirror credited status for topup %s: %v", topup.ID, err)
	}
}

func (p *Pipeline) buildTopup(email model.EmailMessage, candidate *model.TransactionCandidate, raw string, verdict rules.Result, classification dedup.Classification) *model.PendingTopup {
	preview := email.Body
	runes := []rune(preview)
	if len(runes) > previewLength {
		preview = string(runes[:previewLength])
	}

	emailDate := email.Date
	topup := &model.PendingTopup{
		ID:            uuid.NewString(),
		Amount:        candidate.Amount,
		Currency:      candidate.Currency,
		SenderName:    candidate.SenderName,
		BankReference: candidate.BankReference,
		Source:        model.SourceInbox,
		SourceEmailID: email.ID,
		EmailSubject:  email.Subject,
		EmailFrom:     email.From,
		EmailPreview:  preview,
		ExtractorRaw:  raw,
		Confidence:    candidate.Confidence,
		RiskLevel:     classification.RiskLevel,
		Warning:       classification.Warning,
		Warnings:      classification.Warnings,
		MatchedItems:  classification.MatchedItems,
		RuleReason:    verdict.Reason,
		AutoApprove:   verdict.AutoApprove,
		Status:        model.StatusPending,
	}
	if !emailDate.IsZero() {
		topup.EmailDate = &emailDate
	}
	return topup
}
