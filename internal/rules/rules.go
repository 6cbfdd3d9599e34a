package rules

import (
	"fmt"
	"strings"

	"topup-reconciler/internal/model"
)

// Result is the outcome of evaluating a candidate against the rule set.
type Result struct {
	Pass        bool   `json:"pass"`
	Reason      string `json:"reason"`
	AutoApprove bool   `json:"auto_approve"`
}

// Evaluate applies the operator-configured rule set to an email and its
// extracted candidate. Checks run in order and the first failing check
// short-circuits: sender allowlist, deny keywords, require keywords, amount
// ceiling. A disabled rule set always passes without auto-approval.
func Evaluate(email model.EmailMessage, candidate model.TransactionCandidate, rs *model.RuleSet) Result {
	if rs == nil || !rs.Enabled {
		return Result{Pass: true, Reason: "rules disabled"}
	}

	if len(rs.SenderWhitelist) > 0 && !senderAllowed(email, candidate, rs.SenderWhitelist) {
		return Result{Pass: false, Reason: fmt.Sprintf("sender %q not in whitelist", email.From)}
	}

	text := strings.ToLower(email.Subject + " " + email.Body)

	for _, keyword := range rs.MustNotContainKeywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(keyword)) {
			return Result{Pass: false, Reason: fmt.Sprintf("contains denied keyword %q", keyword)}
		}
	}

	if len(rs.MustContainKeywords) > 0 {
		found := false
		for _, keyword := range rs.MustContainKeywords {
			if keyword == "" {
				continue
			}
			if strings.Contains(text, strings.ToLower(keyword)) {
				found = true
				break
			}
		}
		if !found {
			return Result{Pass: false, Reason: "no required keyword present"}
		}
	}

	if rs.AmountMaxThreshold.IsPositive() && candidate.Amount.GreaterThan(rs.AmountMaxThreshold) {
		return Result{Pass: false, Reason: fmt.Sprintf("amount %s exceeds threshold %s",
			candidate.Amount.String(), rs.AmountMaxThreshold.String())}
	}

	autoApprove := rs.AutoApproveThreshold.IsPositive() &&
		candidate.Amount.LessThanOrEqual(rs.AutoApproveThreshold)

	return Result{Pass: true, Reason: "all checks passed", AutoApprove: autoApprove}
}

// senderAllowed matches the whitelist against the raw From header and the
// extracted sender name, case-insensitively in both directions.
func senderAllowed(email model.EmailMessage, candidate model.TransactionCandidate, whitelist []string) bool {
	from := strings.ToLower(email.From)
	sender := strings.ToLower(candidate.SenderName)

	for _, entry := range whitelist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.Contains(from, entry) || strings.Contains(sender, entry) {
			return true
		}
	}
	return false
}
