package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
)

// SlackNotifier sends alerts to Slack, either through an incoming webhook or
// as a bot message to a channel.
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client

	api       *slack.Client
	channelID string
}

// NewSlackNotifier creates a webhook-based SlackNotifier.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// NewSlackBotNotifier creates a SlackNotifier posting with a bot token.
func NewSlackBotNotifier(botToken, channelID string, opts ...slack.Option) *SlackNotifier {
	if channelID == "" {
		channelID = "#general"
	}
	return &SlackNotifier{
		api:       slack.New(botToken, opts...),
		channelID: channelID,
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) blocks(msg Message) []slack.Block {
	header := slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, msg.Title, true, false))
	body := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, msg.Text, false, false), nil, nil)
	blocks := []slack.Block{header, body}
	if msg.URL != "" {
		link := slack.NewContextBlock("", slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("<%s|View run>", msg.URL), false, false))
		blocks = append(blocks, link)
	}
	return blocks
}

// Notify posts msg to Slack.
func (s *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	if s.api != nil {
		_, _, err := s.api.PostMessageContext(ctx, s.channelID,
			slack.MsgOptionText(msg.Title+"\n"+msg.Text, false),
			slack.MsgOptionBlocks(s.blocks(msg)...),
		)
		if err != nil {
			return fmt.Errorf("failed to send slack notification: %w", err)
		}
		return nil
	}

	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL is not configured")
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	payload := &slack.WebhookMessage{
		Text:   msg.Title + "\n" + msg.Text,
		Blocks: &slack.Blocks{BlockSet: s.blocks(msg)},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.WebhookURL, client, payload); err != nil {
		return fmt.Errorf("failed to send slack notification: %w", err)
	}
	return nil
}
