package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ogulcanaydogan/ops-sentinel/pkg/model"
)

// SlackSender posts notifications to a Slack incoming webhook.
type SlackSender struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackSender creates a Slack webhook sender.
func NewSlackSender(webhookURL, channel string) *SlackSender {
	return &SlackSender{
		webhookURL: webhookURL,
		channel:    channel,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackSender) Name() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, req model.NotificationRequest) error {
	color := "#36a64f" // green
	switch req.Priority {
	case model.PriorityHigh:
		color = "#ff9900" // orange
	case model.PriorityUrgent:
		color = "#ff0000" // red
	case model.PriorityLow:
		color = "#cccccc"
	}

	channel := s.channel
	if req.Recipient != "" && req.Recipient[0] == '#' {
		channel = req.Recipient
	}

	title := req.Subject
	if title == "" {
		title = "Ops Sentinel"
	}
	fields := []slackField{
		{Title: "Priority", Value: string(req.Priority), Short: true},
	}
	keys := make([]string, 0, len(req.Metadata))
	for k := range req.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, slackField{Title: k, Value: req.Metadata[k], Short: true})
	}

	payload := slackPayload{
		Channel: channel,
		Attachments: []slackAttachment{
			{
				Color:  color,
				Title:  title,
				Text:   req.Message,
				Fields: fields,
				Footer: "Ops Sentinel",
				Ts:     time.Now().Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send slack notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
