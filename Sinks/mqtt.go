package Sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"rfburst/Filters"
)

// MQTTConfig describes where events are published.
type MQTTConfig struct {
	Broker      string // host:port
	Topic       string
	ClientID    string
	FrequencyHz float64
	KeepAlive   uint16        // seconds
	Timeout     time.Duration // bounds connect and publish, default 5s
}

// Publisher publishes each event as a JSON Record with QoS 1. A lost
// connection is re-dialled on the next event.
type Publisher struct {
	cfg MQTTConfig

	mu     sync.Mutex
	client *paho.Client
}

// DialMQTT connects to the broker.
func DialMQTT(ctx context.Context, cfg MQTTConfig) (*Publisher, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt: empty topic")
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	p := &Publisher{cfg: cfg}
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// connect dials and waits for CONNACK. Both are bounded by cfg.Timeout so a
// silent broker cannot stall the caller.
func (p *Publisher) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	d := net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("mqtt dial %s: %w", p.cfg.Broker, err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: p.cfg.ClientID,
		Conn:     conn,
		OnClientError: func(err error) {
			p.drop()
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			p.drop()
		},
	})

	ack, err := client.Connect(ctx, &paho.Connect{
		ClientID:   p.cfg.ClientID,
		KeepAlive:  p.cfg.KeepAlive,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return fmt.Errorf("mqtt connect: %w", err)
	}
	if ack.ReasonCode != 0 {
		conn.Close()
		return fmt.Errorf("mqtt connect refused: reason 0x%02X", ack.ReasonCode)
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()
	return nil
}

func (p *Publisher) drop() {
	p.mu.Lock()
	p.client = nil
	p.mu.Unlock()
}

// Emit publishes ev.
func (p *Publisher) Emit(ctx context.Context, ev Filters.Event) error {
	payload, err := json.Marshal(NewRecord(ev, p.cfg.FrequencyHz))
	if err != nil {
		return err
	}

	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		if err := p.connect(ctx); err != nil {
			return err
		}
		p.mu.Lock()
		client = p.client
		p.mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	if _, err := client.Publish(ctx, &paho.Publish{
		QoS:     1,
		Topic:   p.cfg.Topic,
		Payload: payload,
	}); err != nil {
		p.drop()
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

// Close disconnects cleanly.
func (p *Publisher) Close() error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
