package Sinks

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startBroker runs an in-process broker and returns its address and a
// channel of payloads published to topic.
func startBroker(t *testing.T, topic string) (string, <-chan []byte) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "test",
		Address: addr,
	})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })

	got := make(chan []byte, 16)
	require.NoError(t, server.Subscribe(topic, 1, func(cl *mochi.Client, sub packets.Subscription, pk packets.Packet) {
		got <- append([]byte(nil), pk.Payload...)
	}))
	return addr, got
}

func TestPublisher_PublishesJSONRecords(t *testing.T) {
	addr, got := startBroker(t, "rfburst/events")
	ctx := context.Background()

	p, err := DialMQTT(ctx, MQTTConfig{
		Broker:      addr,
		Topic:       "rfburst/events",
		ClientID:    "rfburst-test",
		FrequencyHz: 315e6,
	})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Emit(ctx, entered()))
	require.NoError(t, p.Emit(ctx, cleared()))

	for _, want := range []string{"entered", "cleared"} {
		select {
		case payload := <-got:
			var r Record
			require.NoError(t, json.Unmarshal(payload, &r))
			assert.Equal(t, want, r.Kind)
			assert.Equal(t, 315e6, r.FrequencyHz)
			assert.NotEmpty(t, r.ID)
		case <-time.After(5 * time.Second):
			t.Fatalf("no %s message received", want)
		}
	}
}

func TestDialMQTT_Errors(t *testing.T) {
	_, err := DialMQTT(context.Background(), MQTTConfig{Broker: "127.0.0.1:1", Topic: ""})
	assert.ErrorContains(t, err, "empty topic")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = DialMQTT(context.Background(), MQTTConfig{Broker: addr, Topic: "x", ClientID: "c"})
	assert.ErrorContains(t, err, "mqtt dial")
}

func TestPublisher_CloseIsIdempotent(t *testing.T) {
	addr, _ := startBroker(t, "rfburst/events")
	p, err := DialMQTT(context.Background(), MQTTConfig{Broker: addr, Topic: "rfburst/events", ClientID: "c2"})
	require.NoError(t, err)

	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
}

func TestPublisher_SilentBrokerDoesNotBlockEmit(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	go func() {
		// accept and never answer CONNECT
		var held []net.Conn
		defer func() {
			for _, c := range held {
				c.Close()
			}
		}()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, c)
		}
	}()

	p := &Publisher{cfg: MQTTConfig{
		Broker:   ln.Addr().String(),
		Topic:    "rfburst/events",
		ClientID: "stalled",
		Timeout:  200 * time.Millisecond,
	}}

	done := make(chan error, 1)
	go func() { done <- p.Emit(context.Background(), entered()) }()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "mqtt connect")
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked on a broker that never sends CONNACK")
	}
}

func TestDialMQTT_DefaultTimeout(t *testing.T) {
	addr, _ := startBroker(t, "rfburst/events")
	p, err := DialMQTT(context.Background(), MQTTConfig{Broker: addr, Topic: "rfburst/events", ClientID: "c3"})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, 5*time.Second, p.cfg.Timeout)
}
