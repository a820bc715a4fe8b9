package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/relay-control/internal/relay"
)

// queueCapacity bounds the number of messages held while disconnected.
const queueCapacity = 128

// RealPublisher publishes to an actual MQTT broker. Events published while
// the broker is unreachable are queued and replayed on reconnect.
type RealPublisher struct {
	client paho.Client

	mu    sync.Mutex
	queue *offlineQueue
}

// NewRealPublisher creates a publisher for the given broker. The connection
// is established in the background with automatic retry; publishing before
// the first connect queues messages rather than failing.
func NewRealPublisher(broker string) *RealPublisher {
	p := &RealPublisher{
		queue: newOfflineQueue(queueCapacity),
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("relay-control").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// Notify sends a relay event to the broker at QoS 0.
func (p *RealPublisher) Notify(event relay.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(Topic, payload, 0, false)
}

// PublishSystem sends a lifecycle event at QoS 1 — shutdown events in
// particular should survive a flaky link.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, payload, 1, event.Retained)
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) publish(topic string, payload []byte, qos byte, retained bool) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.queue.push(queuedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		n := p.queue.len()
		p.mu.Unlock()
		log.Printf("mqtt: broker unreachable, queued message (%d pending)", n)
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// onConnect replays any messages queued while disconnected.
func (p *RealPublisher) onConnect(client paho.Client) {
	p.mu.Lock()
	msgs := p.queue.drain()
	p.mu.Unlock()

	if len(msgs) == 0 {
		log.Printf("mqtt: connected")
		return
	}

	log.Printf("mqtt: connected, replaying %d queued messages", len(msgs))
	for _, m := range msgs {
		token := client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5 * time.Second) {
			log.Printf("mqtt: replay timeout on %s", m.topic)
			continue
		}
		if err := token.Error(); err != nil {
			log.Printf("mqtt: replay failed on %s: %v", m.topic, err)
		}
	}
}
