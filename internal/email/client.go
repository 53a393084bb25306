// Package email defines the interface for invoice email delivery and provides
// two SMTP-backed implementations: Office365 (password auth) and Gmail
// (OAuth2 refresh-token flow). The provider is chosen once at startup from
// configuration.
package email

import "context"

// Message is one provider-agnostic outbound email. The recipient fields are
// semicolon-delimited address lists, matching how the mailing-list table
// stores them; empty strings mean the role has no recipients.
type Message struct {
	Subject string
	Body    string // plain text; line breaks become <br> before send
	To      string
	Cc      string
	Bcc     string
}

// Result reports a successful delivery.
type Result struct {
	// Accepted is the recipient list the server accepted the message for.
	Accepted []string
}

// Sender is the interface the pipeline uses to send invoice emails. Tests
// inject a stub that records calls without hitting the network.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}
