// Package mail delivers magic links. No SMTP transport is bundled: LogMailer
// prints links for local development and Outbox captures them for tests and
// the in-process dev server.
package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrNoMessage is returned by Outbox.Last when nothing was sent to the address.
var ErrNoMessage = errors.New("no message for address")

// LogMailer logs each link at INFO under "mail.magic_link".
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer returns a mailer that only logs.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendMagicLink(ctx context.Context, email, link string) error {
	m.logger.InfoContext(ctx, "mail.magic_link", "to", email, "link", link)
	return nil
}

// Message is one captured delivery.
type Message struct {
	To   string
	Link string
}

// Outbox records every delivery in memory and optionally forwards to Next.
type Outbox struct {
	Next interface {
		SendMagicLink(ctx context.Context, email, link string) error
	}

	mu       sync.Mutex
	messages []Message
	notify   chan Message
}

// NewOutbox returns an Outbox whose Deliveries channel buffers up to buffer
// messages; once full, further messages are only recorded.
func NewOutbox(buffer int) *Outbox {
	if buffer < 0 {
		buffer = 0
	}
	return &Outbox{notify: make(chan Message, buffer)}
}

func (o *Outbox) SendMagicLink(ctx context.Context, email, link string) error {
	if o.Next != nil {
		if err := o.Next.SendMagicLink(ctx, email, link); err != nil {
			return err
		}
	}

	msg := Message{To: email, Link: link}

	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()

	select {
	case o.notify <- msg:
	default:
	}
	return nil
}

// Deliveries streams messages as they are sent.
func (o *Outbox) Deliveries() <-chan Message {
	return o.notify
}

// Last returns the most recent message sent to email.
func (o *Outbox) Last(email string) (Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].To == email {
			return o.messages[i], nil
		}
	}
	return Message{}, ErrNoMessage
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}
