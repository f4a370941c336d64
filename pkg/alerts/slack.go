package alerts

import (
	"context"
	"fmt"
	"net/http"
)

var slackColors = map[Severity]string{
	SeverityInfo:     "#36a64f",
	SeverityWarning:  "#ff9900",
	SeverityCritical: "#ff0000",
	SeverityExceeded: "#cc0000",
}

// SlackChannel sends alerts to a Slack incoming webhook as a colored
// attachment holding Block Kit sections.
type SlackChannel struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackChannel creates a Slack channel. An empty channel posts to the
// webhook's default channel.
func NewSlackChannel(webhookURL, channel string) *SlackChannel {
	return &SlackChannel{webhookURL: webhookURL, channel: channel, client: httpClient}
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, alert Alert) error {
	return postJSON(ctx, s.client, "slack", s.webhookURL, s.message(alert), nil)
}

func (s *SlackChannel) message(alert Alert) slackMessage {
	color, ok := slackColors[alert.Severity]
	if !ok {
		color = slackColors[SeverityInfo]
	}

	fields := []slackText{
		mrkdwn("*Kind*\n" + string(alert.Kind)),
		mrkdwn("*Severity*\n" + string(alert.Severity)),
		mrkdwn("*Value*\n$" + alert.TriggeringValue.StringFixed(4)),
	}
	// spike alerts carry the window ceiling, not a budget limit
	if alert.Kind.IsBudget() {
		fields = append(fields,
			mrkdwn("*Limit*\n$"+alert.LimitUSD.StringFixed(2)),
			mrkdwn(fmt.Sprintf("*Usage*\n%.1f%%", alert.Percent)),
		)
	}

	return slackMessage{
		Channel: s.channel,
		Text:    fmt.Sprintf("costwatch %s: %s", alert.Kind, alert.Message),
		Attachments: []slackAttachment{{
			Color: color,
			Blocks: []slackBlock{
				{Type: "section", Text: ptr(mrkdwn("*costwatch: " + string(alert.Kind) + "*\n" + alert.Message))},
				{Type: "section", Fields: fields},
				{Type: "context", Elements: []slackText{
					mrkdwn(alert.Timestamp.UTC().Format("2006-01-02 15:04:05 MST")),
				}},
			},
		}},
	}
}

func mrkdwn(s string) slackText { return slackText{Type: "mrkdwn", Text: s} }

func ptr[T any](v T) *T { return &v }

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
