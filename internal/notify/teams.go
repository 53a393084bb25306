// Package notify posts run outcomes to a Teams incoming webhook. Delivery is
// best-effort: a webhook failure is logged and swallowed so it can never mask
// or replace the run outcome it is reporting.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Notifier is the interface the pipeline uses to report terminal run state.
// Both methods are fire-and-forget; neither returns an error.
type Notifier interface {
	// Success reports a completed run with a human-readable detail line
	// (e.g. "3 email(s) sent.").
	Success(ctx context.Context, runID uuid.UUID, title, detail string)

	// Failure reports an aborted run with the causing error.
	Failure(ctx context.Context, runID uuid.UUID, title string, runErr error)
}

// teamsClient is the concrete Notifier backed by a Teams incoming webhook.
type teamsClient struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTeams returns a Notifier that posts MessageCard payloads to webhookURL.
func NewTeams(webhookURL string, logger *slog.Logger) Notifier {
	return &teamsClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// ─── MESSAGECARD SHAPES ──────────────────────────────────────────────────────

type messageCard struct {
	Type       string    `json:"@type"`
	ThemeColor string    `json:"themeColor"`
	Summary    string    `json:"summary"`
	Sections   []section `json:"sections"`
}

type section struct {
	Text  string `json:"text,omitempty"`
	Facts []fact `json:"facts,omitempty"`
}

type fact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

const themeColor = "0072C6"

// ─── NOTIFIER IMPLEMENTATION ─────────────────────────────────────────────────

func (c *teamsClient) Success(ctx context.Context, runID uuid.UUID, title, detail string) {
	card := messageCard{
		Type:       "MessageCard",
		ThemeColor: themeColor,
		Summary:    "-",
		Sections: []section{
			{
				Text: title,
				Facts: []fact{
					{Name: "Success", Value: fmt.Sprintf("<p>%s</p>", detail)},
					{Name: "Run ID", Value: runID.String()},
				},
			},
			{Text: "Logs may be delayed for up to 5 minutes."},
		},
	}

	if err := c.post(ctx, card); err != nil {
		c.logger.Error("notify: failed to post success notification", "run_id", runID, "error", err)
	}
}

func (c *teamsClient) Failure(ctx context.Context, runID uuid.UUID, title string, runErr error) {
	card := messageCard{
		Type:       "MessageCard",
		ThemeColor: themeColor,
		Summary:    "-",
		Sections: []section{
			{
				Text: title,
				Facts: []fact{
					{Name: "Error", Value: fmt.Sprintf("<p>%s</p>", runErr)},
					{Name: "Detail", Value: fmt.Sprintf("<pre>%+v</pre>", runErr)},
					{Name: "Run ID", Value: runID.String()},
				},
			},
			{Text: "Logs may be delayed for up to 5 minutes."},
		},
	}

	if err := c.post(ctx, card); err != nil {
		c.logger.Error("notify: failed to post failure notification", "run_id", runID, "error", err)
	}
}

// ─── HTTP POST ───────────────────────────────────────────────────────────────

func (c *teamsClient) post(ctx context.Context, card messageCard) error {
	bodyBytes, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("notify: marshal card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: http request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("notify: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: unexpected status %d: %.200s", resp.StatusCode, string(respBytes))
	}

	return nil
}
