package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"topup-reconciler/internal/config"
	"topup-reconciler/internal/model"
)

// ErrNotTransaction is returned when the completion service could not
// produce a usable transaction candidate: malformed output, confidence
// below the operator threshold, or a non-positive amount. The email is
// marked processed-but-skipped and never reaches the rule filter.
var ErrNotTransaction = errors.New("email is not a transaction")

// Client extracts a structured transaction candidate from an email.
type Client interface {
	Extract(ctx context.Context, email model.EmailMessage) (*model.TransactionCandidate, string, error)
}

// GeminiExtractor implements Client using the Gemini API.
type GeminiExtractor struct {
	cfg    config.ExtractorConfig
	client *genai.Client
	model  *genai.GenerativeModel
	mu     sync.Mutex
}

// NewGeminiExtractor creates a new Gemini-backed extractor. The API client
// is initialized lazily on first use.
func NewGeminiExtractor(cfg config.ExtractorConfig) *GeminiExtractor {
	return &GeminiExtractor{cfg: cfg}
}

// ensureClient ensures the Gemini client is initialized
func (e *GeminiExtractor) ensureClient(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return nil
	}

	if e.cfg.APIKey == "" {
		return fmt.Errorf("extractor API key not configured")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(e.cfg.APIKey))
	if err != nil {
		return fmt.Errorf("failed to create Gemini client: %w", err)
	}

	e.client = client
	e.model = client.GenerativeModel(e.cfg.Model)
	return nil
}

// Extract calls the completion service and returns the parsed candidate,
// plus the raw reply for provenance. Transport errors come back as plain
// errors; policy skips come back as ErrNotTransaction.
func (e *GeminiExtractor) Extract(ctx context.Context, email model.EmailMessage) (*model.TransactionCandidate, string, error) {
	if err := e.ensureClient(ctx); err != nil {
		return nil, "", err
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	prompt := e.buildPrompt(email)

	resp, err := e.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, "", fmt.Errorf("Gemini API error: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, "", fmt.Errorf("%w: empty completion response", ErrNotTransaction)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(fmt.Sprintf("%v", part))
	}
	raw := sb.String()

	candidate, err := ParseResponse(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"email_id": email.ID,
			"error":    err.Error(),
		}).Debug("Completion reply was not a usable candidate")
		return nil, raw, fmt.Errorf("%w: %v", ErrNotTransaction, err)
	}

	if reason, ok := e.Qualifies(candidate); !ok {
		return candidate, raw, fmt.Errorf("%w: %s", ErrNotTransaction, reason)
	}

	return candidate, raw, nil
}

// Qualifies applies the skip policy to a parsed candidate.
func (e *GeminiExtractor) Qualifies(candidate *model.TransactionCandidate) (string, bool) {
	if !candidate.Amount.IsPositive() {
		return fmt.Sprintf("non-positive amount %s", candidate.Amount.String()), false
	}
	if candidate.Confidence < e.cfg.ConfidenceThreshold {
		return fmt.Sprintf("confidence %d below threshold %d", candidate.Confidence, e.cfg.ConfidenceThreshold), false
	}
	return "", true
}

// buildPrompt renders the extraction prompt with the email truncated to the
// completion service's input limit.
func (e *GeminiExtractor) buildPrompt(email model.EmailMessage) string {
	body := email.Body
	if e.cfg.MaxBodyLength > 0 {
		runes := []rune(body)
		if len(runes) > e.cfg.MaxBodyLength {
			body = string(runes[:e.cfg.MaxBodyLength])
		}
	}

	return fmt.Sprintf(`You are a bank notification parser. Analyze the email below and decide whether it announces money received into an account.

Subject: %s
From: %s
Body:
%s

Reply with a single JSON object and nothing else, using exactly these keys:
{"amount": <number>, "currency": "<ISO code>", "sender_name": "<who sent the money>", "bank_reference": "<transfer reference or empty string>", "transaction_type": "<deposit|transfer|other>", "date": "<date in the email or empty string>", "confidence": <0-100>, "summary": "<one sentence>"}

If the email does not describe money received, reply with {"amount": 0, "confidence": 0, "summary": "not a transaction"}.`,
		email.Subject, email.From, body)
}

// ParseResponse turns the completion reply into a candidate. Replies wrapped
// in markdown code fences or surrounded by prose are tolerated; anything
// without a parsable JSON object is an extraction failure.
func ParseResponse(raw string) (*model.TransactionCandidate, error) {
	payload := extractJSONObject(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	fields, err := decodeLoose(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed JSON in reply: %w", err)
	}

	candidate := &model.TransactionCandidate{
		Currency:        strings.ToUpper(asString(fields["currency"])),
		SenderName:      asString(fields["sender_name"]),
		BankReference:   asString(fields["bank_reference"]),
		TransactionType: asString(fields["transaction_type"]),
		Date:            asString(fields["date"]),
		Summary:         asString(fields["summary"]),
	}

	amount, err := asDecimal(fields["amount"])
	if err != nil {
		return nil, fmt.Errorf("unparsable amount: %w", err)
	}
	candidate.Amount = amount
	candidate.Confidence = asInt(fields["confidence"])

	if candidate.Currency == "" {
		candidate.Currency = "USD"
	}

	return candidate, nil
}

// extractJSONObject returns the substring from the first '{' to the last
// '}' of the reply, stripping code fences first.
func extractJSONObject(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
