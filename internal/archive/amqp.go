package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher sends each record as a persistent JSON message to a durable
// queue on the default exchange. It dials per publish; results are rare.
type AMQPPublisher struct {
	url   string
	queue string
	dial  func(ctx context.Context, url string) (*amqp.Connection, error)
}

func NewAMQPPublisher(url, queue string) *AMQPPublisher {
	if strings.TrimSpace(queue) == "" {
		queue = "chess.results"
	}
	return &AMQPPublisher{url: strings.TrimSpace(url), queue: queue, dial: dialAMQP}
}

// dialAMQP bounds the TCP connect and the AMQP handshake by ctx's deadline.
// The library clears the deadline once the connection is open.
func dialAMQP(ctx context.Context, url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Locale: "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: 30 * time.Second}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			deadline := time.Now().Add(30 * time.Second)
			if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
				deadline = dl
			}
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}

func (p *AMQPPublisher) Save(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("amqp: marshal: %w", err)
	}
	conn, err := p.dial(ctx, p.url)
	if err != nil {
		return fmt.Errorf("amqp: dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp: channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("amqp: queue declare: %w", err)
	}
	return ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.GameID,
		Timestamp:    time.Now().UTC(),
		Type:         "game.finished",
		Body:         body,
	})
}
