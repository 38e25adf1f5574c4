package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// Publisher is the part of *amqp.Channel the AMQP sender needs.
type Publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSender hands messages to a downstream delivery worker through RabbitMQ.
// Each channel gets its own routing key, e.g. "notify.email" and "notify.sms".
type AMQPSender struct {
	mu       sync.Mutex
	ch       Publisher
	exchange string
	prefix   string
}

func NewAMQPSender(ch Publisher, exchange, routingPrefix string) *AMQPSender {
	return &AMQPSender{ch: ch, exchange: exchange, prefix: routingPrefix}
}

// DialAMQP opens a connection and channel and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	const op = "notifier.DialAMQP"

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return conn, ch, nil
}

func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	const op = "notifier.AMQPSender.Send"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	channel := msg.Channel
	if channel == "" {
		channel = ChannelEmail
	}

	// amqp.Channel is not safe for concurrent publishing.
	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.ch.Publish(
		s.exchange,
		s.prefix+"."+string(channel),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
