// Package slack delivers briefings as Block Kit messages with a plain-text
// fallback.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/djlord-it/morning-brief/internal/dispatcher"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/render"
	"github.com/slack-go/slack"
)

// DefaultEventCap is the number of events listed before "...and N more".
const DefaultEventCap = 5

// Slack rejects header text over 150 characters and section text over 3000.
const (
	maxHeaderLen  = 150
	maxSectionLen = 3000
)

// Poster is the subset of *slack.Client used here.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Adapter struct {
	client   Poster
	eventCap int
}

// New returns an adapter. eventCap <= 0 uses DefaultEventCap.
func New(client Poster, eventCap int) *Adapter {
	if eventCap <= 0 {
		eventCap = DefaultEventCap
	}
	return &Adapter{client: client, eventCap: eventCap}
}

// NewClient builds a Web API client. apiURL overrides the Slack endpoint
// and is mostly useful in tests.
func NewClient(token, apiURL string) *slack.Client {
	var opts []slack.Option
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return slack.New(token, opts...)
}

func (a *Adapter) Channel() domain.Channel { return domain.ChannelSlack }

// Format builds the block payload. Native is []slack.Block.
func (a *Adapter) Format(snap domain.Snapshot, content domain.NarrativeContent) dispatcher.Payload {
	v := render.Build(snap, content, render.Options{EventCap: a.eventCap})
	return dispatcher.Payload{
		Text:   render.PlainText(v),
		Native: Blocks(v),
	}
}

// Blocks lays the view out as Block Kit blocks.
func Blocks(v render.View) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain(render.Truncate(nonEmpty(v.Greeting, v.Date), maxHeaderLen))),
		slack.NewContextBlock("", plain(v.Date)),
	}
	if v.Summary != "" {
		blocks = append(blocks, section(escape(v.Summary)))
	}

	if len(v.Events) > 0 || v.CalendarIntro != "" {
		var b strings.Builder
		b.WriteString("*Calendar*")
		if v.CalendarIntro != "" {
			b.WriteString("\n" + escape(v.CalendarIntro))
		}
		for _, e := range v.Events {
			line := fmt.Sprintf("\n• `%s` %s", e.Time, escape(e.Title))
			if e.Attendees > 1 {
				line += fmt.Sprintf(" _(%d people)_", e.Attendees)
			}
			if e.Important {
				line += " :star:"
			}
			b.WriteString(line)
		}
		if v.MoreEvents > 0 {
			b.WriteString("\n_" + render.More(v.MoreEvents) + "_")
		}
		blocks = append(blocks, slack.NewDividerBlock(), section(b.String()))
	}

	if len(v.Overdue) > 0 {
		blocks = append(blocks, section(taskList(":warning: *Overdue*", v.Overdue, v.MoreOverdue)))
	}
	if len(v.DueToday) > 0 {
		blocks = append(blocks, section(taskList(":spiral_calendar_pad: *Due today*", v.DueToday, v.MoreDueToday)))
	}
	if v.TasksIntro != "" && (len(v.Overdue) > 0 || len(v.DueToday) > 0) {
		blocks = append(blocks, slack.NewContextBlock("", markdown(escape(v.TasksIntro))))
	}

	if len(v.Actions) > 0 {
		var b strings.Builder
		b.WriteString("*Priority actions*")
		for i, act := range v.Actions {
			fmt.Fprintf(&b, "\n%d. %s", i+1, escape(act))
		}
		blocks = append(blocks, slack.NewDividerBlock(), section(b.String()))
	}

	if v.Email != "" {
		blocks = append(blocks, section(":email: "+escape(v.Email)))
	}
	if v.Insights != "" {
		blocks = append(blocks, section(":bulb: "+escape(v.Insights)))
	}
	if v.Closing != "" {
		blocks = append(blocks, slack.NewContextBlock("", markdown(escape(v.Closing))))
	}
	return blocks
}

func taskList(title string, tasks []render.TaskLine, more int) string {
	var b strings.Builder
	b.WriteString(title)
	for _, t := range tasks {
		b.WriteString("\n• " + escape(t.Title))
		if t.DaysOverdue > 0 {
			fmt.Fprintf(&b, " _(%s overdue)_", render.Count(t.DaysOverdue, "day"))
		}
		if t.Priority == domain.PriorityHigh {
			b.WriteString(" *!*")
		}
	}
	if more > 0 {
		b.WriteString("\n_" + render.More(more) + "_")
	}
	return b.String()
}

// Send posts the message. address is a channel or user ID.
func (a *Adapter) Send(ctx context.Context, address string, p dispatcher.Payload) error {
	if a.client == nil {
		return errors.New("slack: client not configured")
	}
	opts := []slack.MsgOption{slack.MsgOptionText(p.Text, false)}
	if blocks, ok := p.Native.([]slack.Block); ok && len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	if _, _, err := a.client.PostMessageContext(ctx, address, opts...); err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func plain(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.PlainTextType, s, true, false)
}

func markdown(s string) *slack.TextBlockObject {
	return slack.NewTextBlockObject(slack.MarkdownType, s, false, false)
}

func section(text string) *slack.SectionBlock {
	return slack.NewSectionBlock(markdown(render.Truncate(text, maxSectionLen)), nil, nil)
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string { return escaper.Replace(s) }

func nonEmpty(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
