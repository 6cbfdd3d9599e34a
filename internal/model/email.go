package model

import "time"

// EmailMessage represents an inbox message as returned by a fetcher.
type EmailMessage struct {
	ID      string            `json:"id"`
	Subject string            `json:"subject"`
	From    string            `json:"from"`
	Date    time.Time         `json:"date"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}
