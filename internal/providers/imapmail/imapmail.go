// Package imapmail summarizes a user's inbox over IMAP. Only counts and
// sender names leave this package; message bodies are never fetched.
package imapmail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/djlord-it/morning-brief/internal/domain"
)

// ProviderName is the connection provider key for IMAP mailboxes.
const ProviderName = "imap"

const (
	defaultMailbox    = "INBOX"
	defaultTopSenders = 3

	// maxEnvelopes bounds how many recent unread envelopes are inspected
	// for the top-senders list.
	maxEnvelopes = 50
)

// ConnectionStore looks up the user's linked mailbox. Endpoint is host:port,
// Username and Secret are the login credentials.
type ConnectionStore interface {
	GetConnection(ctx context.Context, userID, provider string) (domain.Connection, error)
}

// Session is the subset of *client.Client the source uses.
type Session interface {
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// DialFunc opens an authenticated session for a connection.
type DialFunc func(ctx context.Context, conn domain.Connection) (Session, error)

// Source implements aggregator.EmailSource.
type Source struct {
	conns      ConnectionStore
	dial       DialFunc
	mailbox    string
	topSenders int
}

// New creates an IMAP source using TLS dialing.
func New(conns ConnectionStore) *Source {
	return &Source{
		conns:      conns,
		dial:       DialTLS,
		mailbox:    defaultMailbox,
		topSenders: defaultTopSenders,
	}
}

// WithDialer replaces the session dialer.
func (s *Source) WithDialer(dial DialFunc) *Source {
	s.dial = dial
	return s
}

// WithMailbox selects a mailbox other than INBOX.
func (s *Source) WithMailbox(name string) *Source {
	if name != "" {
		s.mailbox = name
	}
	return s
}

// DialTLS connects with implicit TLS and logs in. The context deadline bounds
// the dial and every subsequent command.
func DialTLS(ctx context.Context, conn domain.Connection) (Session, error) {
	host, _, err := net.SplitHostPort(conn.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("imapmail: endpoint %q: %w", conn.Endpoint, err)
	}

	dialer := &net.Dialer{}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	c, err := client.DialWithDialerTLS(dialer, conn.Endpoint, &tls.Config{ServerName: host})
	if err != nil {
		return nil, fmt.Errorf("imapmail: dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.Timeout = time.Until(deadline)
	}

	if err := c.Login(conn.Username, conn.Secret); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("imapmail: login: %w", err)
	}
	return c, nil
}

// Signals counts unread and flagged messages and names the most frequent
// recent unread senders since the given instant.
func (s *Source) Signals(ctx context.Context, userID string, since time.Time) (domain.EmailSignals, error) {
	conn, err := s.conns.GetConnection(ctx, userID, ProviderName)
	if err != nil {
		return domain.EmailSignals{}, err
	}

	sess, err := s.dial(ctx, conn)
	if err != nil {
		return domain.EmailSignals{}, err
	}
	defer func() { _ = sess.Logout() }()

	if _, err := sess.Select(s.mailbox, true); err != nil {
		return domain.EmailSignals{}, fmt.Errorf("imapmail: select %s: %w", s.mailbox, err)
	}

	unseen := imap.NewSearchCriteria()
	unseen.WithoutFlags = []string{imap.SeenFlag}
	unread, err := sess.Search(unseen)
	if err != nil {
		return domain.EmailSignals{}, fmt.Errorf("imapmail: search unseen: %w", err)
	}

	flaggedCriteria := imap.NewSearchCriteria()
	flaggedCriteria.WithFlags = []string{imap.FlaggedFlag}
	flagged, err := sess.Search(flaggedCriteria)
	if err != nil {
		return domain.EmailSignals{}, fmt.Errorf("imapmail: search flagged: %w", err)
	}

	recent := recentUnread(sess, since)
	envelopes, err := fetchEnvelopes(sess, recent)
	if err != nil {
		return domain.EmailSignals{}, err
	}

	return domain.EmailSignals{
		Available:  true,
		Unread:     len(unread),
		Flagged:    len(flagged),
		TopSenders: TopSenders(envelopes, s.topSenders),
	}, nil
}

// recentUnread returns the newest unread sequence numbers received since the
// given instant. A failed search leaves the sender list empty.
func recentUnread(sess Session, since time.Time) []uint32 {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = since
	ids, err := sess.Search(criteria)
	if err != nil {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > maxEnvelopes {
		ids = ids[len(ids)-maxEnvelopes:]
	}
	return ids
}

func fetchEnvelopes(sess Session, ids []uint32) ([]*imap.Envelope, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- sess.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	var out []*imap.Envelope
	for msg := range messages {
		if msg != nil && msg.Envelope != nil {
			out = append(out, msg.Envelope)
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imapmail: fetch envelopes: %w", err)
	}
	return out, nil
}

// TopSenders returns up to n sender names ordered by message count, ties
// broken alphabetically.
func TopSenders(envelopes []*imap.Envelope, n int) []string {
	counts := make(map[string]int)
	for _, env := range envelopes {
		if env == nil || len(env.From) == 0 {
			continue
		}
		name := senderName(env.From[0])
		if name == "" {
			continue
		}
		counts[name]++
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}

func senderName(addr *imap.Address) string {
	if addr == nil {
		return ""
	}
	if name := strings.TrimSpace(addr.PersonalName); name != "" {
		return name
	}
	if addr.MailboxName == "" || addr.HostName == "" {
		return ""
	}
	return addr.Address()
}
