package mqtt

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/brew-controller/internal/brew"
)

// DefaultBufferSize is how many messages are held while the broker is unreachable.
const DefaultBufferSize = 64

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	BufferSize int

	// OnConnectionChange, if set, is called from paho's goroutines whenever
	// the connection is established or lost.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are buffered and replayed on reconnect.
type RealPublisher struct {
	client   paho.Client
	buf      *ringBuffer
	onChange func(bool)

	mu        sync.Mutex
	connected bool
	everUp    bool
}

var (
	_ Publisher        = (*RealPublisher)(nil)
	_ ConnectionStatus = (*RealPublisher)(nil)
)

// NewRealPublisher creates a publisher connected to the given broker.
// The broker is told to publish a retained SHUTDOWN event if the
// controller disappears without disconnecting.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.ClientID == "" {
		opts.ClientID = "brew-controller"
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	p := &RealPublisher{
		buf:      newRingBuffer(opts.BufferSize),
		onChange: opts.OnConnectionChange,
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     EventShutdown,
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.handleConnect).
		SetConnectionLostHandler(p.handleConnectionLost)

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// PublishShot sends a finished shot. QoS 1: shots must not be lost.
func (p *RealPublisher) PublishShot(shot brew.Shot) error {
	msg, err := shotMessage(shot)
	if err != nil {
		return err
	}
	return p.publish(msg)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	msg, err := systemMessage(event)
	if err != nil {
		return err
	}
	return p.publish(msg)
}

func shotMessage(shot brew.Shot) (bufferedMsg, error) {
	payload, err := FormatShotPayload(shot)
	if err != nil {
		return bufferedMsg{}, fmt.Errorf("format shot: %w", err)
	}
	return bufferedMsg{topic: TopicShots, payload: payload, qos: 1}, nil
}

func systemMessage(event SystemEvent) (bufferedMsg, error) {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return bufferedMsg{}, fmt.Errorf("format system payload: %w", err)
	}
	return bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained}, nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns how many messages are waiting for a reconnect.
func (p *RealPublisher) Buffered() int {
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	if n := p.buf.len(); n > 0 {
		log.Printf("mqtt: closing with %d undelivered messages", n)
	}
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.IsConnected() {
		p.buf.push(msg)
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		p.buf.push(msg)
		return fmt.Errorf("publish to %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		p.buf.push(msg)
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) handleConnect(c paho.Client) {
	p.mu.Lock()
	reconnect := p.everUp
	p.connected = true
	p.everUp = true
	p.mu.Unlock()

	if p.onChange != nil {
		p.onChange(true)
	}

	pending, dropped := p.buf.drain()
	if len(pending) > 0 || dropped > 0 {
		log.Printf("mqtt: replaying %d buffered messages (%d dropped)", len(pending), dropped)
	}
	var errs []error
	for _, msg := range pending {
		token := c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(5 * time.Second) {
			errs = append(errs, fmt.Errorf("replay to %s: timeout", msg.topic))
			continue
		}
		if err := token.Error(); err != nil {
			errs = append(errs, fmt.Errorf("replay to %s: %w", msg.topic, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Printf("mqtt: %v", err)
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventReconnected})
		c.Publish(TopicSystem, 1, false, payload)
		log.Printf("mqtt: reconnected")
	}
}

func (p *RealPublisher) handleConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	log.Printf("mqtt: connection lost: %v", err)
	if p.onChange != nil {
		p.onChange(false)
	}
}
