package fetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"topup-reconciler/internal/config"
	"topup-reconciler/internal/model"
)

// EmailFetcher fetches the most recent inbox messages, newest first.
// Per-message outcomes downstream are independent, so ordering carries no
// cross-item meaning.
type EmailFetcher interface {
	FetchRecent(ctx context.Context, count int) ([]model.EmailMessage, error)
	Close() error
}

// GmailAPIFetcher implements EmailFetcher using the Gmail API
type GmailAPIFetcher struct {
	service   *gmail.Service
	userEmail string
}

// IMAPFetcher implements EmailFetcher using IMAP
type IMAPFetcher struct {
	client *client.Client
}

// NewGmailAPIFetcher creates a new Gmail API fetcher
func NewGmailAPIFetcher(cfg *config.GmailConfig) (*GmailAPIFetcher, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailAPIFetcher{
		service:   service,
		userEmail: cfg.UserEmail,
	}, nil
}

// NewIMAPFetcher creates a new IMAP fetcher
func NewIMAPFetcher(cfg *config.GmailConfig) (*IMAPFetcher, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPFetcher{client: c}, nil
}

// FetchRecent fetches the most recent inbox messages using the Gmail API.
func (f *GmailAPIFetcher) FetchRecent(ctx context.Context, count int) ([]model.EmailMessage, error) {
	call := f.service.Users.Messages.List(f.userEmail).
		LabelIds("INBOX").
		MaxResults(int64(count)).
		Context(ctx)

	response, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var emails []model.EmailMessage

	for _, msg := range response.Messages {
		full, err := f.service.Users.Messages.Get(f.userEmail, msg.Id).Format("full").Context(ctx).Do()
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", msg.Id, err)
			continue
		}

		email, err := f.parseGmailMessage(full)
		if err != nil {
			logrus.Warnf("Failed to parse message %s: %v", msg.Id, err)
			continue
		}

		emails = append(emails, email)
	}

	return emails, nil
}

// parseGmailMessage parses a Gmail API message into an EmailMessage
func (f *GmailAPIFetcher) parseGmailMessage(msg *gmail.Message) (model.EmailMessage, error) {
	email := model.EmailMessage{
		ID:      msg.Id,
		Date:    time.UnixMilli(msg.InternalDate),
		Headers: make(map[string]string),
	}

	for _, header := range msg.Payload.Headers {
		email.Headers[header.Name] = header.Value

		switch header.Name {
		case "Subject":
			email.Subject = header.Value
		case "From":
			email.From = header.Value
		}
	}

	if err := f.parseGmailBody(msg.Payload, &email); err != nil {
		return email, err
	}

	return email, nil
}

// parseGmailBody recursively parses Gmail message body parts. HTML-only
// messages fall back to the HTML content so the extractor still has text
// to work with.
func (f *GmailAPIFetcher) parseGmailBody(part *gmail.MessagePart, email *model.EmailMessage) error {
	if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return fmt.Errorf("failed to decode body data: %w", err)
		}

		content := string(data)

		switch part.MimeType {
		case "text/plain":
			email.Body = content
		case "text/html":
			if email.Body == "" {
				email.Body = content
			}
		}
	}

	if part.Parts != nil {
		for _, subPart := range part.Parts {
			if err := f.parseGmailBody(subPart, email); err != nil {
				return err
			}
		}
	}

	return nil
}

// Close closes the Gmail API fetcher
func (f *GmailAPIFetcher) Close() error {
	// Gmail API service doesn't need explicit closing
	return nil
}

// FetchRecent fetches the most recent inbox messages using IMAP.
func (f *IMAPFetcher) FetchRecent(ctx context.Context, count int) ([]model.EmailMessage, error) {
	mbox, err := f.client.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	if mbox.Messages == 0 {
		return []model.EmailMessage{}, nil
	}

	from := uint32(1)
	if mbox.Messages > uint32(count) {
		from = mbox.Messages - uint32(count) + 1
	}

	seqset := new(imap.SeqSet)
	seqset.AddRange(from, mbox.Messages)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, count)
	done := make(chan error, 1)

	go func() {
		done <- f.client.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem(), imap.FetchUid}, messages)
	}()

	var emails []model.EmailMessage

	for msg := range messages {
		email, err := f.parseIMAPMessage(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	// Sequence numbers ascend oldest-first; reverse to newest-first.
	for i, j := 0, len(emails)-1; i < j; i, j = i+1, j-1 {
		emails[i], emails[j] = emails[j], emails[i]
	}

	return emails, nil
}

// parseIMAPMessage parses an IMAP message into an EmailMessage
func (f *IMAPFetcher) parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (model.EmailMessage, error) {
	email := model.EmailMessage{
		ID:      fmt.Sprintf("imap-%d", msg.Uid),
		Headers: make(map[string]string),
	}

	if msg.Envelope != nil {
		email.Subject = msg.Envelope.Subject
		email.Date = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 {
			email.From = msg.Envelope.From[0].Address()
		}
		if msg.Envelope.MessageId != "" {
			email.ID = msg.Envelope.MessageId
		}
	}

	if err := f.parseIMAPBody(msg, section, &email); err != nil {
		return email, err
	}

	return email, nil
}

// parseIMAPBody parses the IMAP message body
func (f *IMAPFetcher) parseIMAPBody(msg *imap.Message, section *imap.BodySectionName, email *model.EmailMessage) error {
	if msg.Body == nil {
		return nil
	}

	r := msg.GetBody(section)
	if r == nil {
		return fmt.Errorf("failed to get message body")
	}

	entity, err := message.Read(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("failed to read part body: %w", err)
			}

			contentType := p.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") {
				email.Body = string(content)
			} else if strings.Contains(contentType, "text/html") && email.Body == "" {
				email.Body = string(content)
			}
		}
	} else {
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return fmt.Errorf("failed to read message body: %w", err)
		}
		email.Body = string(content)
	}

	return nil
}

// Close closes the IMAP fetcher
func (f *IMAPFetcher) Close() error {
	return f.client.Logout()
}
