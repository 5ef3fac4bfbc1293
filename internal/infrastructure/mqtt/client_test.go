package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andr2000/camera-be/internal/infrastructure/config"
)

const testBroker = "127.0.0.1:1883"

// testConfig returns an MQTT configuration for the local test broker.
func testConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips the test unless a broker listens on testBroker.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", testBroker, 200*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s: %v", testBroker, err)
	}
	conn.Close()
}

// mockLogger records logged messages.
type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestTopics(t *testing.T) {
	topics := Topics{Backend: "dom0"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"Status", topics.Status(), "camerabe/dom0/status"},
		{"Sessions", topics.Sessions(), "camerabe/dom0/sessions"},
		{"CameraState", topics.CameraState("cam0"), "camerabe/dom0/camera/cam0/state"},
		{"CameraControl", topics.CameraControl("cam0", "Contrast"), "camerabe/dom0/camera/cam0/control/contrast"},
		{"CameraControlSet", topics.CameraControlSet("cam0", "hue"), "camerabe/dom0/camera/cam0/control/hue/set"},
		{"AllControlSets", topics.AllControlSets(), "camerabe/dom0/camera/+/control/+/set"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestParseControlSet(t *testing.T) {
	topics := Topics{Backend: "dom0"}

	tests := []struct {
		topic       string
		wantID      string
		wantControl string
		wantOK      bool
	}{
		{"camerabe/dom0/camera/cam0/control/contrast/set", "cam0", "contrast", true},
		{topics.CameraControlSet("usb-046d_HD_Webcam-video-index0", "hue"), "usb-046d_HD_Webcam-video-index0", "hue", true},
		{"camerabe/other/camera/cam0/control/contrast/set", "", "", false},
		{"camerabe/dom0/camera/cam0/control/contrast", "", "", false},
		{"camerabe/dom0/camera/cam0/state", "", "", false},
		{"camerabe/dom0/camera//control/contrast/set", "", "", false},
		{"camerabe/dom0/camera/cam0/control/contrast/set/extra", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, control, ok := topics.ParseControlSet(tt.topic)
			if ok != tt.wantOK || id != tt.wantID || control != tt.wantControl {
				t.Errorf("ParseControlSet() = (%q, %q, %v), want (%q, %q, %v)",
					id, control, ok, tt.wantID, tt.wantControl, tt.wantOK)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("camera-be-test")
	cfg.Auth = config.MQTTAuthConfig{Username: "cam", Password: "secret"}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "camera-be-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "cam" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS configured without broker.tls")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS minimum version not set")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig("camera-be-test"))
	configureLWT(opts, Topics{Backend: "dom0"}, "camera-be-test")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("will enabled=%v retained=%v qos=%d", opts.WillEnabled, opts.WillRetained, opts.WillQos)
	}
	if opts.WillTopic != "camerabe/dom0/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if p.Status != statusOffline || p.Reason != reasonUnexpected || p.Backend != "dom0" {
		t.Errorf("will payload = %+v", p)
	}
	if _, err := time.Parse(time.RFC3339, p.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", p.Timestamp, err)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("a", nil, 3, false), ErrInvalidQoS},
		{"publish too large", c.Publish("a", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("a", []byte("x"), 1, false), ErrNotConnected},
		{"publish json disconnected", c.PublishJSON("a", map[string]int{"v": 1}, true), ErrNotConnected},
		{"publish json unmarshallable", c.PublishJSON("a", make(chan int), true), ErrPublishFailed},
		{"subscribe empty topic", c.Subscribe("", 1, handler), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("a", 3, handler), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("a", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("a", 1, handler), ErrNotConnected},
		{"unsubscribe empty topic", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe disconnected", c.Unsubscribe("a"), ErrNotConnected},
		{"health check", c.HealthCheck(context.Background()), ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}

	if c.SubscriptionCount() != 0 || c.HasSubscription("a") {
		t.Error("failed subscribe was tracked")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
}

func TestWrapHandler(t *testing.T) {
	logger := &mockLogger{}
	c := &Client{}
	c.SetLogger(logger)

	var got []string
	ok := c.wrapHandler(func(topic string, payload []byte) error {
		got = append(got, topic+"="+string(payload))
		return nil
	})
	ok(nil, fakeMessage{topic: "t/ok", payload: []byte("1")})
	if len(got) != 1 || got[0] != "t/ok=1" {
		t.Errorf("handler saw %v", got)
	}

	c.wrapHandler(func(string, []byte) error {
		return errors.New("bad payload")
	})(nil, fakeMessage{topic: "t/err"})

	c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})(nil, fakeMessage{topic: "t/panic"})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 || !strings.Contains(logger.warns[0], "returned error") {
		t.Errorf("warns = %v", logger.warns)
	}
	if len(logger.errors) != 1 || !strings.Contains(logger.errors[0], "panic") {
		t.Errorf("errors = %v", logger.errors)
	}
}

func TestConnectBrokerRefused(t *testing.T) {
	cfg := testConfig("camera-be-refused")
	cfg.Broker.Port = 1

	_, err := Connect(cfg, "dom0")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestControlSetRoundtrip(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig("camera-be-test-roundtrip"), "test-roundtrip")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	type override struct {
		id, control, payload string
	}
	received := make(chan override, 1)
	topics := client.Topics()
	err = client.Subscribe(topics.AllControlSets(), 1, func(topic string, payload []byte) error {
		id, control, ok := topics.ParseControlSet(topic)
		if !ok {
			return errors.New("unexpected topic " + topic)
		}
		received <- override{id, control, string(payload)}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topics.AllControlSets()) {
		t.Error("subscription not tracked")
	}

	if err := client.PublishString(topics.CameraControlSet("cam0", "contrast"), "40", 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got.id != "cam0" || got.control != "contrast" || got.payload != "40" {
			t.Errorf("received %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("control set not delivered")
	}

	if err := client.Unsubscribe(topics.AllControlSets()); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe", client.SubscriptionCount())
	}
}

func TestStatusRetained(t *testing.T) {
	requireBroker(t)

	client, err := Connect(testConfig("camera-be-test-status"), "test-status")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	watcher, err := Connect(testConfig("camera-be-test-status-watcher"), "test-status-watcher")
	if err != nil {
		t.Fatalf("Connect() watcher error = %v", err)
	}
	defer watcher.Close()

	statuses := make(chan statusPayload, 4)
	err = watcher.Subscribe(client.Topics().Status(), 1, func(_ string, payload []byte) error {
		var p statusPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		statuses <- p
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case p := <-statuses:
			if p.Status == statusOnline && p.Backend == "test-status" {
				return
			}
		case <-deadline:
			t.Fatal("online status not retained")
		}
	}
}
