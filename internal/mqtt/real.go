package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/motor-valve/internal/logger"
	"github.com/sweeney/motor-valve/internal/logic"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// ErrBuffered is returned when a message was queued because the client is
// disconnected. It will be sent after reconnection.
var ErrBuffered = errors.New("mqtt not connected, message buffered")

// Options configures a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int
	// OnCommand receives payloads published to any valve's set topic.
	OnCommand CommandHandler
}

// RealPublisher publishes to an actual MQTT broker and subscribes to valve
// command topics. Messages published while disconnected are kept in a ring
// buffer and replayed after reconnection.
type RealPublisher struct {
	client    paho.Client
	topics    Topics
	onCommand CommandHandler
	log       *zap.SugaredLogger

	// mu guards the buffer and the connection flags. Live publishes are
	// only allowed once ready is set, which happens after the buffer has
	// been replayed, so a replayed state never lands after a newer one.
	mu            sync.Mutex
	buffer        *ringBuffer
	everConnected bool
	ready         bool
}

// NewRealPublisher creates a publisher for the given broker. The client keeps
// retrying in the background if the broker is unreachable, so a connect
// timeout is logged rather than returned.
func NewRealPublisher(opts Options) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	p := newRealPublisher(opts)
	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(p.topics.System(), string(WillPayload()), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.log.Warnf("broker %s not reachable yet, retrying in background", opts.Broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// newRealPublisher applies option defaults. The caller attaches the client.
func newRealPublisher(opts Options) *RealPublisher {
	if opts.Topics.Prefix == "" {
		opts.Topics.Prefix = DefaultPrefix
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	return &RealPublisher{
		topics:    opts.Topics,
		onCommand: opts.OnCommand,
		log:       logger.Named("mqtt"),
		buffer:    newRingBuffer(opts.BufferSize),
	}
}

// onConnect runs on every (re)connection. Publishes keep going to the
// buffer until it has been replayed empty.
func (p *RealPublisher) onConnect(client paho.Client) {
	token := client.Subscribe(p.topics.SetWildcard(), 1, p.onMessage)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		p.log.Errorf("subscribe %s: %v", p.topics.SetWildcard(), token.Error())
	}

	p.mu.Lock()
	reconnected := p.everConnected
	p.everConnected = true
	p.mu.Unlock()

	if reconnected {
		p.log.Infof("reconnected to broker")
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventReconnected})
		p.send(p.topics.System(), 1, true, payload)
	} else {
		p.log.Infof("connected to broker")
	}

	replayed := 0
	for {
		p.mu.Lock()
		pending := p.buffer.drainAll()
		if len(pending) == 0 {
			p.ready = true
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		for _, msg := range pending {
			p.send(msg.topic, msg.qos, msg.retained, msg.payload)
		}
		replayed += len(pending)
	}
	if replayed > 0 {
		p.log.Infof("replayed %d buffered message(s)", replayed)
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.ready = false
	p.mu.Unlock()
	p.log.Warnf("connection lost: %v", err)
}

func (p *RealPublisher) onMessage(_ paho.Client, msg paho.Message) {
	valve, ok := p.topics.ValveFromSet(msg.Topic())
	if !ok {
		p.log.Warnf("ignoring message on unexpected topic %s", msg.Topic())
		return
	}
	if p.onCommand != nil {
		p.onCommand(valve, string(msg.Payload()))
	}
}

// send publishes without buffering; used for replay from the connect handler.
func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.log.Warnf("publish %s: timeout", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warnf("publish %s: %v", topic, err)
	}
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.ready || !p.client.IsConnectionOpen() {
		p.buffer.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return ErrBuffered
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Publish sends a valve state change to the valve's retained state topic.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 1, retained so late subscribers see the last known state
	return p.publish(p.topics.State(event.Valve.Label), 1, true, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) for lifecycle events - we want to ensure delivery
	return p.publish(p.topics.System(), 1, event.Retained, payload)
}

// IsConnected reports whether the client currently has an open connection.
// Publishes may still be buffered briefly after connecting while the replay
// runs.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
