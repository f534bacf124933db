package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioAgents/pkg/logger"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type funcHandler struct {
	topic string
	fn    func([]byte) error
}

func (h funcHandler) Topic() string                          { return h.topic }
func (h funcHandler) Handle(_ context.Context, b []byte) error { return h.fn(b) }

func testConsumer(reader *fakeReader, retries int) *Consumer {
	cfg := defaultConsumerConfig()
	cfg.RetryMax = retries
	cfg.BackoffMin = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	return newConsumer(cfg, logger.Nop(), func(string) messageReader { return reader })
}

func TestProducerPublishEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "snappy")

	require.NoError(t, p.Publish(context.Background(), "decisions", []byte("AAPL"), map[string]string{"decision": "BUY"}))
	require.NoError(t, p.PublishMessage(context.Background(), "logs", "raw"))

	msgs := w.written()
	require.Len(t, msgs, 2)
	assert.Equal(t, "decisions", msgs[0].Topic)
	assert.Equal(t, []byte("AAPL"), msgs[0].Key)
	assert.JSONEq(t, `{"decision":"BUY"}`, string(msgs[0].Value))
	assert.Equal(t, "raw", string(msgs[1].Value))
	assert.Nil(t, msgs[1].Key)
}

func TestProducerPublishError(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("broker down")}, "snappy")
	err := p.Publish(context.Background(), "decisions", nil, []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decisions")

	err = p.Publish(context.Background(), "decisions", nil, func() {})
	require.Error(t, err)
}

func TestConsumerHandlesAndCommits(t *testing.T) {
	reader := newFakeReader(
		kafka.Message{Topic: "control", Offset: 1, Value: []byte("a")},
		kafka.Message{Topic: "control", Offset: 2, Value: []byte("b")},
	)
	var mu sync.Mutex
	var got []string
	c := testConsumer(reader, 0)
	c.RegisterHandler(funcHandler{topic: "control", fn: func(b []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(b))
		return nil
	}})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(reader.commits()) == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, []int64{1, 2}, reader.commits())
}

func TestConsumerRetriesThenDeadLetters(t *testing.T) {
	reader := newFakeReader(kafka.Message{Topic: "control", Offset: 7, Value: []byte("bad")})
	dlq := &fakeWriter{}
	var mu sync.Mutex
	attempts := 0

	c := testConsumer(reader, 2)
	c.cfg.DLQTopic = "control.dlq"
	c.dlq = dlq
	c.RegisterHandler(funcHandler{topic: "control", fn: func([]byte) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("nope")
	}})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
	msgs := dlq.written()
	require.Len(t, msgs, 1)
	assert.Equal(t, "control.dlq", msgs[0].Topic)
	assert.Equal(t, "bad", string(msgs[0].Value))
	assert.Equal(t, "source_topic", msgs[0].Headers[0].Key)
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	reader := newFakeReader(kafka.Message{Topic: "control", Offset: 3})
	var hookErr error
	var mu sync.Mutex

	c := testConsumer(reader, 0)
	c.WithConsumerHook(HookFuncs{After: func(_ context.Context, _ string, _ kafka.Message, _ []byte, err error) {
		mu.Lock()
		defer mu.Unlock()
		hookErr = err
	}})
	c.RegisterHandler(funcHandler{topic: "control", fn: func([]byte) error { panic("boom") }})

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Error(t, hookErr)
	assert.Contains(t, hookErr.Error(), "boom")
}

func TestConsumerStartWithoutHandlers(t *testing.T) {
	c := testConsumer(newFakeReader(), 0)
	require.Error(t, c.Start(context.Background()))
}

func TestHookChain(t *testing.T) {
	var order []string
	mk := func(name string) ConsumerHook {
		return HookFuncs{
			Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
				order = append(order, "before-"+name)
				return ctx, km, append(data, name...), nil
			},
			After: func(context.Context, string, kafka.Message, []byte, error) {
				order = append(order, "after-"+name)
			},
		}
	}
	chain := NewHookChain(mk("a"), nil, mk("b"))

	_, _, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte(">"))
	require.NoError(t, err)
	chain.AfterHandle(context.Background(), "t", kafka.Message{}, data, nil)

	assert.Equal(t, ">ab", string(data))
	assert.Equal(t, []string{"before-a", "before-b", "after-b", "after-a"}, order)
}

func TestHookChainPanicBecomesError(t *testing.T) {
	chain := NewHookChain(HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("bad hook")
		},
	})
	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_PANIC", he.Code)
}

func TestLoggingHookCarriesTraceID(t *testing.T) {
	h := LoggingHook(logger.Nop())
	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}}}
	ctx, _, _, err := h.BeforeHandle(context.Background(), "t", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", TraceID(ctx))
	h.AfterHandle(ctx, "t", km, nil, errors.New("x"))
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 40*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
}
