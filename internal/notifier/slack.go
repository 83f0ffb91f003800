package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/amishk599/runwatch/internal/model"
)

// Ensure SlackNotifier implements model.Notifier.
var _ model.Notifier = (*SlackNotifier)(nil)

// maxResultPreview bounds the result excerpt posted to Slack.
const maxResultPreview = 600

// SlackNotifier posts job outcomes to a Slack channel via Incoming Webhooks.
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSlackNotifier returns a notifier that posts each outcome to Slack via webhook.
func NewSlackNotifier(webhookURL string, httpClient *http.Client, logger *slog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Notify sends the outcome as a Block Kit message. A 429 is retried once
// after the Retry-After delay.
func (s *SlackNotifier) Notify(snap model.Snapshot) error {
	body, err := json.Marshal(buildPayload(snap))
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	resp, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		if secs <= 0 {
			secs = 1
		}
		s.logger.Warn("slack rate limited, retrying", "retry_after_secs", secs)
		time.Sleep(time.Duration(secs) * time.Second)

		resp2, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("post to slack (retry): %w", err)
		}
		defer resp2.Body.Close()

		if resp2.StatusCode != http.StatusOK {
			return fmt.Errorf("slack returned %d on retry", resp2.StatusCode)
		}
		s.logger.Info("slack message sent", "task_id", snap.Handle, "retried", true)
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	s.logger.Info("slack message sent", "task_id", snap.Handle)
	return nil
}

// Block Kit payload types.

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SampleRun returns a made-up finished run with the given terminal status,
// used to check a notifier end to end.
func SampleRun(status model.Status, now time.Time) model.Snapshot {
	snap := model.Snapshot{
		Handle:    "test-0001",
		Status:    status,
		CreatedAt: now.Add(-2 * time.Minute),
		UpdatedAt: now,
	}
	if status == model.StatusFailed {
		snap.Error = "sample failure: resume could not be parsed"
	} else {
		snap.Result = json.RawMessage(`{"message":"runwatch integration verified"}`)
	}
	return snap
}

// SendTestMessage sends a sample run with the given outcome through n.
func SendTestMessage(n model.Notifier, status model.Status) error {
	if !status.IsTerminal() {
		return fmt.Errorf("test notification needs a terminal status, got %q", status)
	}
	return n.Notify(SampleRun(status, time.Now().UTC()))
}

func buildPayload(snap model.Snapshot) slackPayload {
	header := "✅ Agent run completed"
	if snap.Status == model.StatusFailed {
		header = "❌ Agent run failed"
	}

	elapsed := "unknown"
	if !snap.CreatedAt.IsZero() && !snap.UpdatedAt.IsZero() {
		elapsed = snap.UpdatedAt.Sub(snap.CreatedAt).Round(time.Second).String()
	}

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: header},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: "*Task:*\n`" + string(snap.Handle) + "`"},
				{Type: "mrkdwn", Text: "*Duration:*\n" + elapsed},
			},
		},
	}

	if snap.Status == model.StatusFailed {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Error:*\n" + snap.Error},
		})
	} else if len(snap.Result) > 0 {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "*Result:*\n```" + preview(snap.Result) + "```"},
		})
	}

	blocks = append(blocks, slackBlock{Type: "divider"})
	return slackPayload{Blocks: blocks}
}

// preview returns an indented excerpt of the result, cut at maxResultPreview bytes.
func preview(result json.RawMessage) string {
	var buf bytes.Buffer
	text := string(result)
	if err := json.Indent(&buf, result, "", "  "); err == nil {
		text = buf.String()
	}
	if len(text) > maxResultPreview {
		text = text[:maxResultPreview] + "\n…"
	}
	return text
}
