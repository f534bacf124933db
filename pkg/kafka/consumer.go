package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"PortfolioAgents/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// messageReader is the subset of *kafka.Reader used by Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads each registered topic on its own goroutine and hands
// messages to the topic handler one at a time, in partition order.
// Offsets are committed after handling, or after a failed message has
// been written to the DLQ.
type Consumer struct {
	cfg       *ConsumerConfig
	handlers  map[string]MessageHandler
	readers   map[string]messageReader
	newReader func(topic string) messageReader
	dlq       messageWriter
	hook      ConsumerHook
	logger    *logger.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(l *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	c := newConsumer(cfg, l, func(topic string) messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
			MaxWait:  cfg.MaxWait,
		})
	})
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}, AllowAutoTopicCreation: true}
	}
	return c, nil
}

func newConsumer(cfg *ConsumerConfig, l *logger.Logger, newReader func(string) messageReader) *Consumer {
	if l == nil {
		l = logger.Nop()
	}
	initConsumerMetrics()
	return &Consumer{
		cfg:       cfg,
		handlers:  make(map[string]MessageHandler),
		readers:   make(map[string]messageReader),
		newReader: newReader,
		hook:      NoopHook{},
		logger:    l,
	}
}

// RegisterHandler registers a message handler for its topic. The first
// handler registered for a topic wins.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.logger.Warn("kafka handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens a reader per registered topic and begins consuming.
func (c *Consumer) Start(ctx context.Context) error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	for topic := range c.handlers {
		reader := c.newReader(topic)
		c.readers[topic] = reader
		c.wg.Add(1)
		go c.consume(ctx, topic, reader)
		c.logger.Info("kafka consumer started", logger.String("topic", topic), logger.String("group", c.cfg.GroupID))
	}
	return nil
}

// Stop cancels consumption, waits for in-flight handlers and closes readers.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		case <-done:
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.logger.Warn("close kafka reader failed", logger.String("topic", topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.logger.Warn("close dlq writer failed", logger.Error(err))
			}
		}
	})
	return stopErr
}

func (c *Consumer) consume(ctx context.Context, topic string, reader messageReader) {
	defer c.wg.Done()
	handler := c.handlers[topic]
	failures := 0

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.logger.Warn("kafka fetch failed", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, failures)) {
				return
			}
			continue
		}
		failures = 0

		start := time.Now()
		err = c.handle(ctx, handler, msg)
		consumerHandleLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())

		if err != nil {
			consumerMessagesTotal.WithLabelValues(topic, "error").Inc()
			c.logger.Error("kafka message failed", logger.String("topic", topic),
				logger.Int64("offset", msg.Offset), logger.Error(err))
			if !c.deadLetter(ctx, topic, msg, err) {
				// Uncommitted offsets are redelivered after a restart or rebalance.
				continue
			}
		} else {
			consumerMessagesTotal.WithLabelValues(topic, "ok").Inc()
		}
		if err := c.commit(ctx, reader, msg); err != nil {
			c.logger.Error("kafka commit failed", logger.String("topic", topic), logger.Error(err))
		}
	}
}

// handle runs the handler with retries. A panic in the handler counts as a failure.
func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = c.handleOnce(ctx, handler, msg)
		if err == nil || attempt > c.cfg.RetryMax || ctx.Err() != nil {
			return err
		}
		c.hook.OnError(ctx, msg.Topic, msg, msg.Value, err)
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return err
		}
	}
}

func (c *Consumer) handleOnce(ctx context.Context, handler MessageHandler, msg kafka.Message) (err error) {
	hctx, hmsg, data, err := c.hook.BeforeHandle(ctx, msg.Topic, msg, msg.Value)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		c.hook.AfterHandle(hctx, msg.Topic, hmsg, data, err)
	}()
	return handler.Handle(hctx, data)
}

// deadLetter reports whether the message may be committed.
func (c *Consumer) deadLetter(ctx context.Context, topic string, msg kafka.Message, cause error) bool {
	if c.dlq == nil || c.cfg.DLQTopic == "" {
		return true
	}
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "source_topic", Value: []byte(topic)},
			{Key: "error", Value: []byte(cause.Error())},
		},
	})
	if err != nil {
		c.logger.Error("dlq write failed", logger.String("dlq", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(ctx context.Context, reader messageReader, msg kafka.Message) error {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err = reader.CommitMessages(cctx, msg)
		cancel()
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		if !sleepCtx(ctx, backoffWithJitter(50*time.Millisecond, 500*time.Millisecond, attempt)) {
			break
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func backoffWithJitter(lo, hi time.Duration, attempt int) time.Duration {
	if lo <= 0 {
		lo = 50 * time.Millisecond
	}
	if hi < lo {
		hi = lo
	}
	exp := lo
	for i := 1; i < attempt && exp < hi; i++ {
		exp *= 2
	}
	if exp > hi {
		exp = hi
	}
	// jitter up to 50%
	return exp - time.Duration(rand.Int64N(int64(exp)/2+1))
}

var (
	consumerMessagesTotal *prometheus.CounterVec
	consumerHandleLatency *prometheus.HistogramVec
	consumerOnce          sync.Once
)

func initConsumerMetrics() {
	consumerOnce.Do(func() {
		consumerMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "portfolio_kafka_consumer_messages_total", Help: "Messages handled by topic and result"},
			[]string{"topic", "result"},
		)
		consumerHandleLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "portfolio_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
	})
}
