package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/config"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// DefaultExchange receives every export progress event
const DefaultExchange = "export_events"

// channel is the part of *amqp.Channel the publisher needs
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes export progress events to a topic exchange. Routing
// keys are "export.<stage>", so consumers can bind to "export.#" or to
// terminal stages only.
type Publisher struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch channel
}

// New connects to RabbitMQ and declares the events exchange
func New(cfg config.EventsConfig) (*Publisher, error) {
	conn, ch, exchange, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func dial(cfg config.EventsConfig) (*amqp.Connection, *amqp.Channel, string, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, "", fmt.Errorf("failed to open channel: %w", err)
	}

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, "", fmt.Errorf("failed to declare exchange: %w", err)
	}
	return conn, ch, exchange, nil
}

// RoutingKey returns the routing key an event is published under
func RoutingKey(ev models.ProgressEvent) string {
	stage := ev.Stage
	if stage == "" {
		stage = models.StageProcessing
	}
	return "export." + string(stage)
}

// Publish sends one progress event. Terminal events are persistent;
// intermediate progress is transient.
func (p *Publisher) Publish(ctx context.Context, ev models.ProgressEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	mode := amqp.Transient
	switch ev.Stage {
	case models.StageComplete, models.StageFailed, models.StageCancelled:
		mode = amqp.Persistent
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(ev),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: mode,
			ContentType:  "application/json",
			MessageId:    fmt.Sprintf("%s-%d", ev.JobID, ts.UnixNano()),
			Body:         body,
			Timestamp:    ts,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the channel and connection
func (p *Publisher) Close() error {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Watch binds a private queue to the exchange and calls handler for every
// event matching bindingKey until ctx is done
func Watch(ctx context.Context, cfg config.EventsConfig, bindingKey string, handler func(models.ProgressEvent)) error {
	conn, ch, exchange, err := dial(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if bindingKey == "" {
		bindingKey = "export.#"
	}
	if err := ch.QueueBind(q.Name, bindingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",    // consumer
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("event stream closed by broker")
			}
			ev, err := Decode(msg.Body)
			if err != nil {
				continue
			}
			handler(ev)
		}
	}
}

// Decode parses a published event body
func Decode(body []byte) (models.ProgressEvent, error) {
	var ev models.ProgressEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}
