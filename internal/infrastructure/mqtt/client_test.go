package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-fluent/internal/infrastructure/config"
)

// ─── Fakes ─────────────────────────────────────────────────────────

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho is an in-memory pahomqtt.Client.
type fakePaho struct {
	mu           sync.Mutex
	connected    bool
	disconnected bool
	published    []published
	handlers     map[string]pahomqtt.MessageHandler
	unsubscribed []string
	publishErr   error
	subscribeErr error
}

var (
	_ pahomqtt.Client  = (*fakePaho)(nil)
	_ pahomqtt.Message = (*fakeMessage)(nil)
)

func newFakePaho() *fakePaho {
	return &fakePaho{connected: true, handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakePaho) IsConnected() bool      { return f.connected }
func (f *fakePaho) IsConnectionOpen() bool { return f.connected }
func (f *fakePaho) Connect() pahomqtt.Token {
	return &fakeToken{}
}

func (f *fakePaho) Disconnect(uint) {
	f.disconnected = true
	f.connected = false
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, _ := payload.([]byte)
	f.published = append(f.published, published{topic: topic, qos: qos, retained: retained, payload: b})
	return &fakeToken{err: f.publishErr}
}

func (f *fakePaho) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr == nil {
		f.handlers[topic] = callback
	}
	return &fakeToken{err: f.subscribeErr}
}

func (f *fakePaho) SubscribeMultiple(map[string]byte, pahomqtt.MessageHandler) pahomqtt.Token {
	return &fakeToken{}
}

func (f *fakePaho) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return &fakeToken{}
}

func (f *fakePaho) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakePaho) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver invokes the handler registered for topic.
func (f *fakePaho) deliver(topic, payload string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	h(f, &fakeMessage{topic: topic, payload: []byte(payload)})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type captureLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *captureLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *captureLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "graylogic-fluent-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     30,
		},
	}
}

func connectedClient(t *testing.T) (*Client, *fakePaho) {
	t.Helper()
	fake := newFakePaho()
	c := newClient(testConfig(), fake)
	c.setConnected(true)
	return c, fake
}

// ─── Topics ────────────────────────────────────────────────────────

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ItemCommand", topics.ItemCommand("Kitchen_Light"), "graylogic/item/Kitchen_Light/command"},
		{"ItemState", topics.ItemState("Kitchen_Light"), "graylogic/item/Kitchen_Light/state"},
		{"BridgeState", topics.BridgeState("knx", "Kitchen_Light"), "graylogic/state/knx/Kitchen_Light"},
		{"AllBridgeStates", topics.AllBridgeStates(), "graylogic/state/+/+"},
		{"AllItemCommands", topics.AllItemCommands(), "graylogic/item/+/command"},
		{"SystemStatus", topics.SystemStatus(), "graylogic/system/status"},
		{"AllTopics", topics.AllTopics(), "graylogic/#"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

// ─── Options ───────────────────────────────────────────────────────

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "core", Password: "secret"}

	opts := buildClientOptions(cfg)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://localhost:1883", opts.Servers[0].String())
	assert.Equal(t, "graylogic-fluent-test", opts.ClientID)
	assert.Equal(t, "core", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.True(t, opts.CleanSession)
	assert.True(t, opts.AutoReconnect)
	assert.Equal(t, 30*time.Second, opts.MaxReconnectInterval)
	assert.Nil(t, opts.TLSConfig)
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)
	assert.Equal(t, "ssl://localhost:8883", opts.Servers[0].String())
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tlsMinVersion), opts.TLSConfig.MinVersion)
	assert.Empty(t, opts.Username)
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "graylogic-fluent-test")

	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "graylogic/system/status", opts.WillTopic)
	assert.True(t, opts.WillRetained)

	var p statusPayload
	require.NoError(t, json.Unmarshal(opts.WillPayload, &p))
	assert.Equal(t, "offline", p.Status)
	assert.Equal(t, "unexpected_disconnect", p.Reason)
}

func TestStatusPayloads(t *testing.T) {
	var online, offline statusPayload
	require.NoError(t, json.Unmarshal(buildOnlinePayload("c1"), &online))
	require.NoError(t, json.Unmarshal(buildOfflinePayload("c1"), &offline))

	assert.Equal(t, "online", online.Status)
	assert.Empty(t, online.Reason)
	assert.Equal(t, "c1", online.ClientID)
	_, err := time.Parse(time.RFC3339, online.Timestamp)
	assert.NoError(t, err)

	assert.Equal(t, "offline", offline.Status)
	assert.Equal(t, "graceful_shutdown", offline.Reason)
}

// ─── Publish ───────────────────────────────────────────────────────

func TestPublishItemCommand(t *testing.T) {
	c, fake := connectedClient(t)

	require.NoError(t, c.PublishItemCommand("Kitchen_Light", "ON"))
	require.Len(t, fake.published, 1)
	msg := fake.published[0]
	assert.Equal(t, "graylogic/item/Kitchen_Light/command", msg.topic)
	assert.Equal(t, "ON", string(msg.payload))
	assert.Equal(t, byte(1), msg.qos)
	assert.False(t, msg.retained, "commands are never retained")

	assert.ErrorIs(t, c.PublishItemCommand("", "ON"), ErrInvalidTopic)
}

func TestPublishItemState(t *testing.T) {
	c, fake := connectedClient(t)

	require.NoError(t, c.PublishItemState("Door", "OPEN"))
	require.Len(t, fake.published, 1)
	msg := fake.published[0]
	assert.Equal(t, "graylogic/item/Door/state", msg.topic)
	assert.Equal(t, "OPEN", string(msg.payload))
	assert.True(t, msg.retained)
}

func TestPublish_Validation(t *testing.T) {
	c, fake := connectedClient(t)

	assert.ErrorIs(t, c.Publish("", nil, 1, false), ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish("t", nil, 3, false), ErrInvalidQoS)
	assert.ErrorIs(t, c.Publish("t", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed)
	assert.Empty(t, fake.published)

	fake.publishErr = errors.New("broker rejected")
	err := c.Publish("t", []byte("x"), 1, false)
	assert.ErrorIs(t, err, ErrPublishFailed)
	assert.Contains(t, err.Error(), "broker rejected")
}

func TestPublish_NotConnected(t *testing.T) {
	c := newClient(testConfig(), nil)
	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.PublishItemCommand("Light", "ON"), ErrNotConnected)

	c, fake := connectedClient(t)
	fake.connected = false
	assert.ErrorIs(t, c.PublishItemState("Light", "ON"), ErrNotConnected)
}

// ─── Subscribe ─────────────────────────────────────────────────────

func TestSubscribe_DeliversMessages(t *testing.T) {
	c, fake := connectedClient(t)

	var gotTopic, gotPayload string
	err := c.Subscribe(Topics{}.AllBridgeStates(), 1, func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, c.HasSubscription("graylogic/state/+/+"))
	assert.Equal(t, 1, c.SubscriptionCount())

	fake.deliver("graylogic/state/+/+", `{"state":"ON"}`)
	assert.Equal(t, "graylogic/state/+/+", gotTopic)
	assert.Equal(t, `{"state":"ON"}`, gotPayload)
}

func TestSubscribe_Validation(t *testing.T) {
	c, _ := connectedClient(t)
	noop := func(string, []byte) error { return nil }

	assert.ErrorIs(t, c.Subscribe("", 1, noop), ErrInvalidTopic)
	assert.ErrorIs(t, c.Subscribe("t", 5, noop), ErrInvalidQoS)
	assert.ErrorIs(t, c.Subscribe("t", 1, nil), ErrSubscribeFailed)

	disconnected := newClient(testConfig(), nil)
	assert.ErrorIs(t, disconnected.Subscribe("t", 1, noop), ErrNotConnected)
}

func TestSubscribe_FailureIsNotTracked(t *testing.T) {
	c, fake := connectedClient(t)
	fake.subscribeErr = errors.New("not authorised")

	err := c.Subscribe("graylogic/#", 1, func(string, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrSubscribeFailed)
	assert.False(t, c.HasSubscription("graylogic/#"))
}

func TestUnsubscribe(t *testing.T) {
	c, fake := connectedClient(t)
	require.NoError(t, c.Subscribe("a", 1, func(string, []byte) error { return nil }))

	require.NoError(t, c.Unsubscribe("a"))
	assert.Equal(t, 0, c.SubscriptionCount())
	assert.Equal(t, []string{"a"}, fake.unsubscribed)
	assert.ErrorIs(t, c.Unsubscribe(""), ErrInvalidTopic)
}

// ─── Handlers ──────────────────────────────────────────────────────

func TestWrapHandler_RecoversPanic(t *testing.T) {
	c, _ := connectedClient(t)
	logger := &captureLogger{}
	c.SetLogger(logger)

	h := c.wrapHandler(func(string, []byte) error { panic("boom") })
	assert.NotPanics(t, func() { h(nil, &fakeMessage{topic: "t"}) })
	assert.Equal(t, []string{"MQTT handler panic recovered"}, logger.errors)
}

func TestWrapHandler_LogsErrors(t *testing.T) {
	c, _ := connectedClient(t)
	logger := &captureLogger{}
	c.SetLogger(logger)

	h := c.wrapHandler(func(string, []byte) error { return errors.New("bad payload") })
	h(nil, &fakeMessage{topic: "t"})
	assert.Equal(t, []string{"MQTT handler returned error"}, logger.warns)

	// Without a logger errors are dropped silently.
	c.SetLogger(nil)
	assert.NotPanics(t, func() { h(nil, &fakeMessage{topic: "t"}) })
}

// ─── Connection lifecycle ──────────────────────────────────────────

func TestHandleConnect_RestoresSubscriptions(t *testing.T) {
	c, fake := connectedClient(t)
	require.NoError(t, c.Subscribe("graylogic/state/+/+", 1, func(string, []byte) error { return nil }))

	fake.handlers = make(map[string]pahomqtt.MessageHandler)
	called := false
	c.SetOnConnect(func() { called = true })
	c.handleConnect()

	assert.Contains(t, fake.handlers, "graylogic/state/+/+")
	assert.True(t, called)

	last := fake.published[len(fake.published)-1]
	assert.Equal(t, "graylogic/system/status", last.topic)
	assert.True(t, last.retained)
	assert.True(t, strings.Contains(string(last.payload), `"status":"online"`))
}

func TestHandleDisconnect(t *testing.T) {
	c, _ := connectedClient(t)
	logger := &captureLogger{}
	c.SetLogger(logger)

	var gotErr error
	c.SetOnDisconnect(func(err error) { gotErr = err })
	c.handleDisconnect(errors.New("eof"))

	assert.False(t, c.IsConnected())
	assert.EqualError(t, gotErr, "eof")
	assert.Equal(t, []string{"MQTT connection lost"}, logger.warns)
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)
}

func TestClose_PublishesOffline(t *testing.T) {
	c, fake := connectedClient(t)

	require.NoError(t, c.HealthCheck(context.Background()))
	require.NoError(t, c.Close())

	assert.True(t, fake.disconnected)
	assert.False(t, c.IsConnected())
	require.Len(t, fake.published, 1)
	assert.Contains(t, string(fake.published[0].payload), "graceful_shutdown")

	assert.NoError(t, newClient(testConfig(), nil).Close())
}

func TestHealthCheck_CancelledContext(t *testing.T) {
	c, _ := connectedClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.HealthCheck(ctx), context.Canceled)
}
