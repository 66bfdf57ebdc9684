// Package httptasks reads tasks from external task providers that expose a
// JSON task list over HTTP.
//
// Each provider is registered by name with a base URL. A user is linked to a
// provider through a connection whose Secret is the bearer token and whose
// Endpoint, when set, overrides the base URL.
package httptasks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/djlord-it/morning-brief/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxResponseBytes = 4 << 20

// ConnectionStore looks up the user's token for a provider.
type ConnectionStore interface {
	GetConnection(ctx context.Context, userID, provider string) (domain.Connection, error)
}

// Provider implements aggregator.TaskSource for one external service.
type Provider struct {
	name    string
	baseURL string
	conns   ConnectionStore
	client  *http.Client
}

// New creates a provider. The name becomes TaskItem.Source.
func New(name, baseURL string, conns ConnectionStore, client *http.Client) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	return &Provider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		conns:   conns,
		client:  client,
	}
}

func (p *Provider) Name() string { return p.name }

type taskList struct {
	Tasks []taskJSON `json:"tasks"`
}

type taskJSON struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Due      string `json:"due"`
	Status   string `json:"status"`
}

// Tasks fetches open tasks that are undated or due before the given instant.
func (p *Provider) Tasks(ctx context.Context, userID string, before time.Time) ([]domain.TaskItem, error) {
	conn, err := p.conns.GetConnection(ctx, userID, p.name)
	if err != nil {
		return nil, err
	}

	base := p.baseURL
	if conn.Endpoint != "" {
		base = strings.TrimRight(conn.Endpoint, "/")
	}
	if base == "" {
		return nil, fmt.Errorf("httptasks: %s: no endpoint configured", p.name)
	}

	q := url.Values{}
	q.Set("due_before", before.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/tasks?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("httptasks: %s: build request: %w", p.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if conn.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+conn.Secret)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httptasks: %s: %w", p.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("httptasks: %s: read body: %w", p.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("httptasks: %s: token rejected (status %d)", p.name, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("httptasks: %s: unexpected status %d", p.name, resp.StatusCode)
	}

	var list taskList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("httptasks: %s: decode: %w", p.name, err)
	}

	out := make([]domain.TaskItem, 0, len(list.Tasks))
	for _, t := range list.Tasks {
		item, ok := p.convert(t, before.Location())
		if !ok {
			continue
		}
		if item.Due != nil && !item.Due.Before(before) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (p *Provider) convert(t taskJSON, loc *time.Location) (domain.TaskItem, bool) {
	if t.ID == "" || strings.TrimSpace(t.Title) == "" {
		return domain.TaskItem{}, false
	}
	item := domain.TaskItem{
		ID:       t.ID,
		Title:    strings.TrimSpace(t.Title),
		Priority: domain.ParsePriority(strings.ToLower(t.Priority)),
		Source:   p.name,
		Status:   parseStatus(t.Status),
	}
	if t.Due != "" {
		due, err := parseDue(t.Due, loc)
		if err != nil {
			return domain.TaskItem{}, false
		}
		item.Due = &due
	}
	return item, true
}

func parseStatus(s string) domain.TaskStatus {
	switch strings.ToLower(s) {
	case "done", "completed", "closed":
		return domain.TaskStatusDone
	case "in_progress", "started", "doing":
		return domain.TaskStatusInProgress
	default:
		return domain.TaskStatusOpen
	}
}

// parseDue accepts RFC 3339 timestamps and bare dates; a bare date is the
// start of that day in loc.
func parseDue(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(domain.DayLayout, s, loc)
}

// ParseProviders parses "name=url,name2=url2" into name to base URL.
func ParseProviders(spec string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, rawURL, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		rawURL = strings.TrimSpace(rawURL)
		if !ok || name == "" {
			return nil, fmt.Errorf("task provider %q: want name=url", part)
		}
		if name == domain.TaskSourceInternal {
			return nil, fmt.Errorf("task provider name %q is reserved", name)
		}
		if rawURL != "" {
			u, err := url.Parse(rawURL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return nil, fmt.Errorf("task provider %s: invalid url %q", name, rawURL)
			}
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("task provider %s listed twice", name)
		}
		out[name] = rawURL
	}
	return out, nil
}

// NewAll builds one provider per entry, ordered by name.
func NewAll(providers map[string]string, conns ConnectionStore, client *http.Client) []*Provider {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Provider, 0, len(names))
	for _, name := range names {
		out = append(out, New(name, providers[name], conns, client))
	}
	return out
}
