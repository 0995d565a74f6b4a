package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/config"
	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/health"
)

// Handler processes one consumed message body.
type Handler func(ctx context.Context, body []byte)

// channelHolder is a publish target that survives reconnects: the
// consumer swaps the underlying channel in after each successful dial.
type channelHolder struct {
	mu       sync.RWMutex
	exchange string
	channel  *amqp.Channel
}

func (h *channelHolder) set(channel *amqp.Channel) {
	h.mu.Lock()
	h.channel = channel
	h.mu.Unlock()
}

func (h *channelHolder) Publish(ctx context.Context, routingKey string, body []byte) error {
	h.mu.RLock()
	channel := h.channel
	h.mu.RUnlock()
	if channel == nil {
		return core.Errorf(core.CodeBrokerChannel, true, "broker channel unavailable")
	}
	return channel.PublishWithContext(ctx, h.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Consumer owns the AMQP connection: it declares the topology,
// consumes task messages in auto-ack mode and dispatches them to a
// bounded worker pool. Connection loss flips the health flag and
// triggers a reconnect with exponential backoff.
type Consumer struct {
	cfg    config.AMQPConfig
	holder *channelHolder
	health *health.State
	logger *zap.Logger

	dial func(url string) (*amqp.Connection, error)
}

// NewConsumer builds a consumer for the configured broker.
func NewConsumer(cfg config.AMQPConfig, state *health.State, logger *zap.Logger) *Consumer {
	return &Consumer{
		cfg:    cfg,
		holder: &channelHolder{exchange: cfg.ExchangeName},
		health: state,
		logger: logger,
		dial:   amqp.Dial,
	}
}

// Exchange returns the publish target bound to the consumer's current
// channel. Valid to wire before Run establishes the first connection;
// publishes fail until then.
func (c *Consumer) Exchange() Exchange {
	return c.holder
}

// Run consumes until the context is cancelled. Messages are auto-acked
// on delivery: a crash mid-processing loses the message rather than
// redelivering it. On shutdown, in-flight work is drained for up to
// WaitBeforeShutdown.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	tasks := make(chan []byte, c.cfg.TaskQueueLength)

	var workers sync.WaitGroup
	// Workers run on a detached context so in-flight retrievals finish
	// during the shutdown drain window.
	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < c.cfg.ParallelismLimit; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for body := range tasks {
				handler(workCtx, body)
			}
		}()
	}

	for {
		err := c.consumeOnce(ctx, tasks)
		if ctx.Err() != nil {
			break
		}
		c.health.SetBrokerDisconnected(true)
		c.logger.Warn("broker connection lost, reconnecting", zap.Error(err))
	}

	close(tasks)
	drained := make(chan struct{})
	go func() {
		workers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(c.cfg.WaitBeforeShutdown):
		c.logger.Warn("shutdown drain window elapsed, abandoning in-flight tasks")
	}
	return ctx.Err()
}

// consumeOnce connects, declares the topology and pumps deliveries
// into the task channel until the connection drops or ctx ends.
func (c *Consumer) consumeOnce(ctx context.Context, tasks chan<- []byte) error {
	connection, channel, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer connection.Close()

	c.holder.set(channel)
	c.health.SetBrokerDisconnected(false)
	c.logger.Info("broker connected",
		zap.String("exchange", c.cfg.ExchangeName),
		zap.String("queue", c.cfg.QueueName))

	deliveries, err := channel.ConsumeWithContext(ctx, c.cfg.QueueName, "", true, false, false, false, nil)
	if err != nil {
		return core.WrapError(core.CodeBrokerChannel, true, err)
	}
	closed := connection.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("broker connection closed")
			}
			return amqpErr
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			// Blocking send: a full task queue pauses consumption.
			select {
			case tasks <- delivery.Body:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// connect dials with exponential backoff and declares the exchange,
// queue and binding.
func (c *Consumer) connect(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	var connection *amqp.Connection
	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	err := backoff.Retry(func() error {
		var dialErr error
		connection, dialErr = c.dial(c.cfg.URL())
		if dialErr != nil {
			c.logger.Warn("broker dial failed", zap.Error(dialErr))
		}
		return dialErr
	}, policy)
	if err != nil {
		return nil, nil, err
	}

	channel, err := connection.Channel()
	if err != nil {
		connection.Close()
		return nil, nil, core.WrapError(core.CodeBrokerChannel, true, err)
	}
	if err := channel.ExchangeDeclare(c.cfg.ExchangeName, "topic", true, false, false, false, nil); err != nil {
		connection.Close()
		return nil, nil, core.WrapError(core.CodeBrokerChannel, true, err)
	}
	if err := channel.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		connection.Close()
		return nil, nil, core.WrapError(core.CodeBrokerChannel, true, err)
	}
	queueArgs := amqp.Table{"x-consumer-timeout": c.cfg.ConsumerAckTimeout.Milliseconds()}
	if _, err := channel.QueueDeclare(c.cfg.QueueName, true, false, false, false, queueArgs); err != nil {
		connection.Close()
		return nil, nil, core.WrapError(core.CodeBrokerChannel, true, err)
	}
	if err := channel.QueueBind(c.cfg.QueueName, c.cfg.RetrievalRoutingKey, c.cfg.ExchangeName, false, nil); err != nil {
		connection.Close()
		return nil, nil, core.WrapError(core.CodeBrokerChannel, true, err)
	}
	return connection, channel, nil
}
