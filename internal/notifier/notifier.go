// Package notifier delivers verification, reset and second-factor codes.
// Delivery is best effort: the auth flows hand a Message to the Dispatcher and
// never wait for, or fail on, the outcome.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FilipeAphrody/farmhand-auth/internal/lib/sl"
)

// Channel selects the delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is the unit handed to a Sender.
type Message struct {
	Channel Channel `json:"channel"`
	To      string  `json:"to"`
	Subject string  `json:"subject"`
	Text    string  `json:"text"`
	HTML    string  `json:"html,omitempty"`
}

// Sender delivers one message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var ErrUnsupportedChannel = errors.New("unsupported channel")

// Router picks a Sender per channel.
type Router struct {
	Email Sender
	SMS   Sender
}

func (r Router) Send(ctx context.Context, msg Message) error {
	var s Sender
	switch msg.Channel {
	case ChannelEmail, "":
		s = r.Email
	case ChannelSMS:
		s = r.SMS
	}
	if s == nil {
		return fmt.Errorf("notifier.Router: %w: %q", ErrUnsupportedChannel, msg.Channel)
	}
	return s.Send(ctx, msg)
}

// Dispatcher sends messages on background goroutines, each bounded by a timeout.
type Dispatcher struct {
	sender  Sender
	log     *slog.Logger
	timeout time.Duration

	// mu orders the closed check and wg.Add in Notify against Close.
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

func NewDispatcher(sender Sender, log *slog.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sender:  sender,
		log:     log.With(slog.String("component", "notifier")),
		timeout: timeout,
	}
}

// Notify queues msg for delivery and returns immediately.
func (d *Dispatcher) Notify(msg Message) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("dispatcher closed, message dropped", slog.String("subject", msg.Subject))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sender.Send(ctx, msg); err != nil {
			d.log.Error("failed to deliver message",
				slog.String("channel", string(msg.Channel)),
				slog.String("subject", msg.Subject),
				sl.Err(err),
			)
			return
		}
		d.log.Debug("message delivered", slog.String("channel", string(msg.Channel)), slog.String("subject", msg.Subject))
	}()
}

// Close stops accepting messages and waits for in-flight sends or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogSender writes messages to the log instead of delivering them. Intended for local runs.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info("outgoing message",
		slog.String("channel", string(msg.Channel)),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
	)
	return nil
}
