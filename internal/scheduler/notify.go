package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
)

// slackSender sends job-completion notifications via the Slack Web API.
// Grounded on the teacher's internal/channels/slack adapter's use of
// github.com/slack-go/slack, narrowed to the single PostMessage-shaped call
// the scheduler needs — none of the socket-mode/event-subscription
// machinery that adapter also carries.
type slackSender struct {
	client *slack.Client
}

// NewSlackSender creates a SlackMessageSender backed by a bot token.
func NewSlackSender(botToken string) SlackMessageSender {
	return &slackSender{client: slack.New(botToken)}
}

func (s *slackSender) Send(ctx context.Context, channelID, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	return err
}

// teamsSender posts a plain-text card to a Teams incoming webhook URL.
// Grounded on the teacher's internal/cron executeWebhook request-building
// idiom (context-bound http.Client, timeout, status-code check).
type teamsSender struct {
	client  *http.Client
	timeout time.Duration
}

// NewTeamsSender creates a TeamsMessageSender that POSTs a MessageCard
// payload to whatever incoming-webhook URL is passed to Send.
func NewTeamsSender(client *http.Client) TeamsMessageSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &teamsSender{client: client, timeout: 30 * time.Second}
}

type teamsMessageCard struct {
	Type    string `json:"@type"`
	Context string `json:"@context"`
	Text    string `json:"text"`
}

func (s *teamsSender) Send(ctx context.Context, webhookURL, text string) error {
	body, err := json.Marshal(teamsMessageCard{
		Type:    "MessageCard",
		Context: "http://schema.org/extensions",
		Text:    text,
	})
	if err != nil {
		return fmt.Errorf("marshal teams payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create teams request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("teams webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("teams webhook returned status %d", resp.StatusCode)
	}
	return nil
}
