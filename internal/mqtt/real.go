package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// bufferCapacity bounds how many alert/system messages are held while the
// broker is unreachable.
const bufferCapacity = 256

// RealClient publishes to an actual MQTT broker and receives commands.
type RealClient struct {
	client paho.Client

	mu      sync.Mutex
	pending *ringBuffer
}

// NewRealClient creates a client connected to the given broker. A last-will
// OFFLINE event is registered on the system topic so watchers notice a
// crashed controller.
func NewRealClient(broker, clientID string) (*RealClient, error) {
	c := &RealClient{pending: newRingBuffer(bufferCapacity)}

	lwt, _ := FormatSystemPayload(SystemEvent{Event: "OFFLINE", Timestamp: time.Now()})
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, lwt, 1, false).
		SetOnConnectHandler(func(paho.Client) { c.drainPending() })

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

// PublishTelemetry sends a readings snapshot. QoS 0: a dropped sample is
// replaced by the next one, so nothing is buffered.
func (c *RealClient) PublishTelemetry(payload []byte) error {
	if !c.client.IsConnected() {
		return nil
	}
	token := c.client.Publish(TopicTelemetry, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish telemetry timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish telemetry: %w", err)
	}
	return nil
}

// PublishAlert sends a confirmation or relay-change alert at QoS 1. While
// disconnected the alert is held and replayed on reconnect.
func (c *RealClient) PublishAlert(payload []byte) error {
	return c.publishOrBuffer(TopicAlerts, payload, false)
}

// PublishSystem sends a system lifecycle event at QoS 1.
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publishOrBuffer(TopicSystem, payload, event.Retained)
}

func (c *RealClient) publishOrBuffer(topic string, payload []byte, retained bool) error {
	if !c.client.IsConnected() {
		c.mu.Lock()
		c.pending.push(bufferedMsg{topic: topic, payload: payload, qos: 1, retained: retained})
		c.mu.Unlock()
		return nil
	}
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// drainPending replays messages held while disconnected. Runs on the paho
// connect callback.
func (c *RealClient) drainPending() {
	c.mu.Lock()
	msgs := c.pending.drainAll()
	c.mu.Unlock()
	if len(msgs) == 0 {
		return
	}
	log.Printf("mqtt: replaying %d buffered messages", len(msgs))
	for _, m := range msgs {
		token := c.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if !token.WaitTimeout(5 * time.Second) {
			log.Printf("mqtt: replay timeout on %s", m.topic)
		} else if err := token.Error(); err != nil {
			log.Printf("mqtt: replay on %s: %v", m.topic, err)
		}
	}
}

// SubscribeCommands registers the handler for the command topic. Malformed
// payloads are logged and dropped.
func (c *RealClient) SubscribeCommands(handler func(Command)) error {
	token := c.client.Subscribe(TopicCommands, 1, func(_ paho.Client, msg paho.Message) {
		cmd, err := ParseCommand(msg.Payload())
		if err != nil {
			log.Printf("mqtt: ignoring command: %v", err)
			return
		}
		handler(cmd)
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicCommands, err)
	}
	return nil
}

// SubscribeEnvironment registers the handler for the environment topic.
func (c *RealClient) SubscribeEnvironment(handler func(Environment)) error {
	token := c.client.Subscribe(TopicEnvironment, 0, func(_ paho.Client, msg paho.Message) {
		env, err := ParseEnvironment(msg.Payload())
		if err != nil {
			log.Printf("mqtt: ignoring environment reading: %v", err)
			return
		}
		handler(env)
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicEnvironment, err)
	}
	return nil
}

// IsConnected reports the broker connection state.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker.
func (c *RealClient) Close() error {
	c.client.Disconnect(1000) // 1 second timeout
	return nil
}
