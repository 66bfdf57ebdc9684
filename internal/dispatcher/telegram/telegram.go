// Package telegram delivers briefings as HTML-formatted bot messages keyed
// by chat ID.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/djlord-it/morning-brief/internal/dispatcher"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/render"
)

// MaxMessageLen is Telegram's limit on message text after entity parsing.
// The HTML source is kept under it, which is stricter.
const MaxMessageLen = 4096

const DefaultEventCap = 5

// MessageSender is the subset of *bot.Bot used here.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

type Adapter struct {
	sender   MessageSender
	eventCap int
}

func New(sender MessageSender, eventCap int) *Adapter {
	if eventCap <= 0 {
		eventCap = DefaultEventCap
	}
	return &Adapter{sender: sender, eventCap: eventCap}
}

// NewBot builds a send-only bot client. serverURL overrides the Bot API
// endpoint when set.
func NewBot(token, serverURL string) (*bot.Bot, error) {
	opts := []bot.Option{bot.WithSkipGetMe()}
	if serverURL != "" {
		opts = append(opts, bot.WithServerURL(serverURL))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return b, nil
}

func (a *Adapter) Channel() domain.Channel { return domain.ChannelTelegram }

// Format renders HTML. Native holds the HTML string; Text the plain form.
func (a *Adapter) Format(snap domain.Snapshot, content domain.NarrativeContent) dispatcher.Payload {
	v := render.Build(snap, content, render.Options{EventCap: a.eventCap})
	return dispatcher.Payload{
		Text:   render.Truncate(render.PlainText(v), MaxMessageLen),
		Native: HTML(v),
	}
}

// HTML renders the view with Telegram's HTML subset. Every line closes its
// own tags so the message can be cut at any line boundary.
func HTML(v render.View) string {
	var lines []string
	add := func(s ...string) { lines = append(lines, s...) }

	add("<b>"+esc(v.Greeting)+"</b>", "<i>"+esc(v.Date)+"</i>")
	if v.Summary != "" {
		add("", esc(v.Summary))
	}

	if len(v.Events) > 0 || v.CalendarIntro != "" {
		add("", "<b>Calendar</b>")
		if v.CalendarIntro != "" {
			add(esc(v.CalendarIntro))
		}
		for _, e := range v.Events {
			line := "• <code>" + esc(e.Time) + "</code> " + esc(e.Title)
			if e.Attendees > 1 {
				line += fmt.Sprintf(" <i>(%d people)</i>", e.Attendees)
			}
			if e.Important {
				line += " ⭐"
			}
			add(line)
		}
		if v.MoreEvents > 0 {
			add("<i>" + render.More(v.MoreEvents) + "</i>")
		}
	}

	if v.TasksIntro != "" && (len(v.Overdue) > 0 || len(v.DueToday) > 0) {
		add("", esc(v.TasksIntro))
	}
	if len(v.Overdue) > 0 {
		add("", "⚠️ <b>Overdue</b>")
		for _, t := range v.Overdue {
			add(fmt.Sprintf("• %s <i>(%s overdue)</i>", esc(t.Title), render.Count(t.DaysOverdue, "day")))
		}
		if v.MoreOverdue > 0 {
			add("<i>" + render.More(v.MoreOverdue) + "</i>")
		}
	}
	if len(v.DueToday) > 0 {
		add("", "📌 <b>Due today</b>")
		for _, t := range v.DueToday {
			add("• " + esc(t.Title))
		}
		if v.MoreDueToday > 0 {
			add("<i>" + render.More(v.MoreDueToday) + "</i>")
		}
	}

	if len(v.Actions) > 0 {
		add("", "<b>Priority actions</b>")
		for i, act := range v.Actions {
			add(strconv.Itoa(i+1) + ". " + esc(act))
		}
	}
	if v.Email != "" {
		add("", "✉️ "+esc(v.Email))
	}
	if v.Insights != "" {
		add("", "💡 "+esc(v.Insights))
	}
	if v.Closing != "" {
		add("", "<i>"+esc(v.Closing)+"</i>")
	}
	return fitLines(lines, MaxMessageLen)
}

// fitLines joins lines and drops whole lines from the end until the result
// fits max runes. A line longer than half of max is first shortened so an
// oversized greeting or summary cannot push out everything after it.
func fitLines(lines []string, max int) string {
	lines = append([]string(nil), lines...)
	for i, l := range lines {
		lines[i] = shrinkLine(l, max/2)
	}

	out := strings.Join(lines, "\n")
	if utf8.RuneCountInString(out) <= max {
		return out
	}
	const marker = "\n…"
	n := utf8.RuneCountInString(marker)
	var b strings.Builder
	for _, l := range lines {
		if utf8.RuneCountInString(b.String())+utf8.RuneCountInString(l)+1+n > max {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(l)
	}
	return b.String() + marker
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// shrinkLine cuts l to max runes. A single wrapping tag is kept; inner
// markup is dropped and the text re-escaped, so no tag or entity is split.
func shrinkLine(l string, max int) string {
	if utf8.RuneCountInString(l) <= max {
		return l
	}
	var open, closing string
	if strings.HasPrefix(l, "<") {
		if i := strings.IndexByte(l, '>'); i > 0 {
			tag := l[1:i]
			if !strings.ContainsAny(tag, " /") && strings.HasSuffix(l, "</"+tag+">") && len(l) > 2*i+1 {
				open, closing = l[:i+1], "</"+tag+">"
				l = l[len(open) : len(l)-len(closing)]
			}
		}
	}

	plain := html.UnescapeString(tagPattern.ReplaceAllString(l, ""))
	room := max - utf8.RuneCountInString(open+closing)
	for budget := room; budget > 0; {
		s := esc(render.Truncate(plain, budget))
		over := utf8.RuneCountInString(s) - room
		if over <= 0 {
			return open + s + closing
		}
		// An escaped rune is at most six runes long.
		budget -= (over + 5) / 6
	}
	return ""
}

func esc(s string) string {
	return html.EscapeString(s)
}

// Send delivers to a chat. Numeric addresses are chat IDs; anything else is
// passed through as a channel username such as @briefings.
func (a *Adapter) Send(ctx context.Context, address string, p dispatcher.Payload) error {
	if a.sender == nil {
		return errors.New("telegram: bot not configured")
	}
	params := &bot.SendMessageParams{ChatID: chatID(address)}
	if h, ok := p.Native.(string); ok && h != "" {
		params.Text = h
		params.ParseMode = models.ParseModeHTML
	} else {
		params.Text = p.Text
	}
	if _, err := a.sender.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

func chatID(address string) any {
	if id, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64); err == nil {
		return id
	}
	return address
}
