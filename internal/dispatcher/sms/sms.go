// Package sms delivers plain-text briefings through the Twilio Messages API.
package sms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/djlord-it/morning-brief/internal/dispatcher"
	"github.com/djlord-it/morning-brief/internal/domain"
	"github.com/djlord-it/morning-brief/internal/render"
)

// DefaultBaseURL is the Twilio REST root.
const DefaultBaseURL = "https://api.twilio.com/2010-04-01"

// MaxBodyLen is the longest body Twilio accepts for a single message.
const MaxBodyLen = 1600

const DefaultEventCap = 4

type Config struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	EventCap   int
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config, client *http.Client) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.EventCap <= 0 {
		cfg.EventCap = DefaultEventCap
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Channel() domain.Channel { return domain.ChannelSMS }

// Format renders a compact plain-text body that fits one Twilio message.
// Email and insights are left to richer channels.
func (a *Adapter) Format(snap domain.Snapshot, content domain.NarrativeContent) dispatcher.Payload {
	v := render.Build(snap, content, render.Options{EventCap: a.cfg.EventCap, TaskCap: 3})
	v.Email = ""
	v.Insights = ""
	v.CalendarIntro = ""
	v.TasksIntro = ""
	return dispatcher.Payload{Text: render.Truncate(render.PlainText(v), MaxBodyLen)}
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send posts the message. address is an E.164 phone number.
func (a *Adapter) Send(ctx context.Context, address string, p dispatcher.Payload) error {
	if a.cfg.AccountSID == "" || a.cfg.AuthToken == "" || a.cfg.From == "" {
		return errors.New("sms: twilio credentials not configured")
	}

	data := url.Values{}
	data.Set("To", address)
	data.Set("From", a.cfg.From)
	data.Set("Body", p.Text)

	apiURL := fmt.Sprintf("%s/Accounts/%s/Messages.json", a.cfg.BaseURL, a.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("sms: create request: %w", err)
	}
	req.SetBasicAuth(a.cfg.AccountSID, a.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr apiError
	if jsoniter.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		return fmt.Errorf("sms: twilio status %d: code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("sms: twilio status %d", resp.StatusCode)
}
