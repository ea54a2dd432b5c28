// Package mailer provides the email delivery implementations behind the
// magic link flow. Real delivery is an external collaborator; these cover
// development and tests.
package mailer

import (
	"context"
	"log/slog"
	"sync"
)

// Log writes the link to the logger instead of sending mail. Development
// default for cmd/server.
type Log struct {
	Logger *slog.Logger
}

func (m *Log) SendMagicLink(ctx context.Context, email, link string) error {
	m.Logger.InfoContext(ctx, "magic link issued", "email", email, "link", link)
	return nil
}

// Capture records delivered links so tests can click them.
type Capture struct {
	mu    sync.Mutex
	links map[string][]string
}

func NewCapture() *Capture {
	return &Capture{links: make(map[string][]string)}
}

func (m *Capture) SendMagicLink(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[email] = append(m.links[email], link)
	return nil
}

// Last returns the most recent link delivered to the address, or "".
func (m *Capture) Last(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls := m.links[email]
	if len(ls) == 0 {
		return ""
	}
	return ls[len(ls)-1]
}
