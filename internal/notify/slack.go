// Package notify posts issue-transition notifications to Slack. Posting is
// asynchronous: the dispatcher hook only enqueues, so a slow Slack API
// never stalls event processing.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/fleet-dashboard/internal/model"
)

// Poster is the Slack API subset the notifier needs.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier implements dispatch.TransitionHook.
type Notifier struct {
	poster  Poster
	channel string
	logger  zerolog.Logger
	queue   chan message
}

type message struct {
	text  string
	color string
}

// New creates a notifier posting to the given channel.
func New(poster Poster, channel string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		poster:  poster,
		channel: channel,
		logger:  logger.With().Str("component", "notify").Logger(),
		queue:   make(chan message, 128),
	}
}

// Run drains the queue until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			n.post(ctx, msg)
		}
	}
}

// IssueOpened implements dispatch.TransitionHook.
func (n *Notifier) IssueOpened(shoot *model.Shoot) {
	text := fmt.Sprintf(":rotating_light: cluster `%s` has an issue", shoot.Key())
	if desc := issueDescription(shoot); desc != "" {
		text += "\n> " + desc
	}
	n.enqueue(message{text: text, color: "#d40e0d"})
}

// IssueResolved implements dispatch.TransitionHook.
func (n *Notifier) IssueResolved(shoot *model.Shoot) {
	n.enqueue(message{
		text:  fmt.Sprintf(":white_check_mark: cluster `%s` recovered", shoot.Key()),
		color: "#2eb886",
	})
}

func (n *Notifier) enqueue(msg message) {
	select {
	case n.queue <- msg:
	default:
		n.logger.Warn().Msg("notification queue full, message dropped")
	}
}

func (n *Notifier) post(ctx context.Context, msg message) {
	_, _, err := n.poster.PostMessageContext(ctx, n.channel,
		slack.MsgOptionAttachments(slack.Attachment{
			Text:  msg.text,
			Color: msg.color,
		}),
	)
	if err != nil {
		n.logger.Warn().Err(err).Msg("slack post failed")
	}
}

func issueDescription(shoot *model.Shoot) string {
	if len(shoot.LastErrors) > 0 {
		return shoot.LastErrors[0].Description
	}
	for _, c := range shoot.Conditions {
		if c.Status != model.ConditionTrue && c.Message != "" {
			return fmt.Sprintf("%s: %s", c.Type, c.Message)
		}
	}
	return ""
}
