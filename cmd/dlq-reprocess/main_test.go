package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordersvc/internal/domain"
	"github.com/vladislavdragonenkov/ordersvc/internal/messaging/kafka"
)

type fakeReader struct {
	messages []*sarama.ConsumerMessage
	topic    string
	opts     kafka.ReadOptions
	closed   bool
}

func (r *fakeReader) Read(ctx context.Context, topic string, opts kafka.ReadOptions, handle kafka.MessageHandler) (int, error) {
	r.topic, r.opts = topic, opts
	for i, msg := range r.messages {
		if err := handle(ctx, msg); err != nil {
			return i, err
		}
	}
	return len(r.messages), nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

type republished struct {
	exchange   string
	routingKey string
	key        string
	body       string
}

type fakePublisher struct {
	err    error
	calls  []republished
	closed bool
}

func (p *fakePublisher) Publish(_ context.Context, exchange, routingKey string, payload any) error {
	if p.err != nil {
		return p.err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	call := republished{exchange: exchange, routingKey: routingKey, body: string(body)}
	if keyer, ok := payload.(interface{ PartitionKey() string }); ok {
		call.key = keyer.PartitionKey()
	}
	p.calls = append(p.calls, call)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func deadLetterMessage(offset int64, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "orders.exchange.dlq", Offset: offset, Value: []byte(value)}
}

const (
	confirmedLetter = `{"outboxId":"m-1","aggregateType":"order","aggregateId":"o-1","exchange":"orders.exchange",` +
		`"routingKey":"order.confirmed","payload":{"orderId":"o-1","totalAmount":"51"},"publishError":"broker down"}`
	legacyLetter = `{"outboxId":"m-2","aggregateId":"o-2","routingKey":"order.created","payload":{"orderId":"o-2"}}`
)

type harness struct {
	reader    *fakeReader
	publisher *fakePublisher
	brokers   []string
	execute   bool
}

func (h *harness) open(brokers []string, execute bool) (dlqReader, domain.EventPublisher, error) {
	h.brokers, h.execute = brokers, execute
	if !execute {
		return h.reader, nil, nil
	}
	return h.reader, h.publisher, nil
}

func run(t *testing.T, h *harness, env map[string]string, args ...string) (string, error) {
	t.Helper()

	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	cmd := newRootCmd(h.open, lookup)

	if args == nil {
		args = []string{}
	}

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func newHarness(values ...string) *harness {
	reader := &fakeReader{}
	for i, v := range values {
		reader.messages = append(reader.messages, deadLetterMessage(int64(i), v))
	}
	return &harness{reader: reader, publisher: &fakePublisher{}}
}

func TestDryRunDoesNotPublish(t *testing.T) {
	h := newHarness(confirmedLetter, `not-json`)

	out, err := run(t, h, nil, "--brokers", "k1:9092, k2:9092")
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, h.brokers)
	assert.False(t, h.execute)
	assert.Equal(t, "orders.exchange.dlq", h.reader.topic)
	assert.Equal(t, defaultLimit, h.reader.opts.Limit)
	assert.Empty(t, h.publisher.calls)
	assert.True(t, h.reader.closed)
	assert.Contains(t, out, "dry-run orders.exchange.dlq: scanned=2 replayable=1 replayed=0 skipped=1")
}

func TestExecuteRepublishesOriginalPayload(t *testing.T) {
	h := newHarness(confirmedLetter, legacyLetter)

	out, err := run(t, h, map[string]string{envKafkaBrokers: "k1:9092"},
		"--execute", "--limit", "10", "--from-newest")
	require.NoError(t, err)

	require.Len(t, h.publisher.calls, 2)
	first := h.publisher.calls[0]
	assert.Equal(t, "orders.exchange", first.exchange)
	assert.Equal(t, "order.confirmed", first.routingKey)
	assert.Equal(t, "o-1", first.key)
	assert.JSONEq(t, `{"orderId":"o-1","totalAmount":"51"}`, first.body)

	// Конверт без exchange переотправляется в exchange, чей DLQ читается.
	assert.Equal(t, "orders.exchange", h.publisher.calls[1].exchange)
	assert.Equal(t, "order.created", h.publisher.calls[1].routingKey)

	assert.True(t, h.reader.opts.FromNewest)
	assert.Equal(t, 10, h.reader.opts.Limit)
	assert.True(t, h.publisher.closed)
	assert.Contains(t, out, "execute orders.exchange.dlq: scanned=2 replayable=2 replayed=2 skipped=0")
}

func TestExchangeAndTargetOverrides(t *testing.T) {
	h := newHarness(legacyLetter)

	_, err := run(t, h, map[string]string{envKafkaBrokers: "k1:9092", envExchange: "shop.events"},
		"--execute", "--target-exchange", "shop.replay")
	require.NoError(t, err)

	assert.Equal(t, "shop.events.dlq", h.reader.topic)
	require.Len(t, h.publisher.calls, 1)
	assert.Equal(t, "shop.replay", h.publisher.calls[0].exchange)
}

func TestPublishFailureStopsReplay(t *testing.T) {
	h := newHarness(confirmedLetter, legacyLetter)
	h.publisher.err = errors.New("broker unavailable")

	out, err := run(t, h, nil, "--brokers", "k1:9092", "--execute")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "republish outbox message m-1")
	assert.Contains(t, out, "scanned=1 replayable=1 replayed=0")
}

func TestInvalidFlags(t *testing.T) {
	cases := map[string]struct {
		env  map[string]string
		args []string
		want string
	}{
		"no brokers":       {args: nil, want: "kafka brokers are required"},
		"blank brokers":    {env: map[string]string{envKafkaBrokers: " , "}, want: "kafka brokers are required"},
		"zero limit":       {args: []string{"--brokers", "k1", "--limit", "0"}, want: "limit must be > 0"},
		"zero idle":        {args: []string{"--brokers", "k1", "--idle-timeout", "0s"}, want: "idle-timeout must be > 0"},
		"unexpected arg":   {args: []string{"--brokers", "k1", "extra"}, want: "unknown command"},
		"negative timeout": {args: []string{"--brokers", "k1", "--timeout", "-1s"}, want: "timeout must be > 0"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			_, err := run(t, h, tc.env, tc.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
			assert.Nil(t, h.brokers, "broker must not be contacted")
		})
	}
}

func TestConnectFailure(t *testing.T) {
	cmd := newRootCmd(func([]string, bool) (dlqReader, domain.EventPublisher, error) {
		return nil, nil, errors.New("dial tcp: connection refused")
	}, func(string) (string, bool) { return "", false })
	cmd.SetArgs([]string{"--brokers", "k1:9092"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to kafka")
}
