package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/SentientRoom/internal/events"
)

const (
	defaultConnectTimeout   = 10 * time.Second
	defaultOperationTimeout = 5 * time.Second
	// publishWriteTimeout bounds how long paho may hold Publish while its
	// outbound queue is blocked by a stalled connection.
	publishWriteTimeout     = 250 * time.Millisecond
	commandQoS              = 1
)

// ClientOptions configures the bus connection.
type ClientOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Client wraps the Paho MQTT client. Subscriptions are remembered and
// restored on every reconnect.
type Client struct {
	client paho.Client
	broker string
	// ackTimeout is how long a queued publish may wait for the broker.
	ackTimeout time.Duration

	mu            sync.Mutex
	subscriptions map[string]paho.MessageHandler
}

// NewClient creates a new MQTT client but does not connect.
func NewClient(o ClientOptions) *Client {
	c := &Client{
		broker:        o.Broker,
		ackTimeout:    defaultOperationTimeout,
		subscriptions: make(map[string]paho.MessageHandler),
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetWriteTimeout(publishWriteTimeout).
		// Handlers publish; they must not run on the ordered router.
		SetOrderMatters(false).
		SetOnConnectHandler(func(paho.Client) { c.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { c.handleConnectionLost(err) })
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	c.client = paho.NewClient(opts)
	return c
}

// newClientWith wraps an existing paho client.
func newClientWith(pc paho.Client, broker string) *Client {
	return &Client{
		client:        pc,
		broker:        broker,
		ackTimeout:    defaultOperationTimeout,
		subscriptions: make(map[string]paho.MessageHandler),
	}
}

// Connect attempts to connect to the broker.
// Returns an error if connection fails, but does not block indefinitely.
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return &ConnectTimeoutError{Broker: c.broker}
	}
	return token.Error()
}

// Subscribe registers handler for topic and subscribes now if connected.
// The subscription is replayed after every reconnect.
func (c *Client) Subscribe(topic string, handler paho.MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	c.mu.Lock()
	c.subscriptions[topic] = handler
	c.mu.Unlock()

	if !c.client.IsConnected() {
		return nil
	}
	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler paho.MessageHandler) error {
	token := c.client.Subscribe(topic, commandQoS, handler)
	if !token.WaitTimeout(defaultOperationTimeout) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	return token.Error()
}

// Publish hands payload to paho and returns without waiting for the
// broker. Errors paho reports at once are returned; a delivery that fails
// or is not acknowledged within ackTimeout is reported as action.failed.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, commandQoS, retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		return nil
	default:
	}

	go c.awaitDelivery(topic, token)
	return nil
}

func (c *Client) awaitDelivery(topic string, token paho.Token) {
	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-token.Done():
		err = token.Error()
	case <-timer.C:
		err = fmt.Errorf("no acknowledgement after %v", c.ackTimeout)
	}
	if err == nil {
		return
	}
	events.Emit("error", "action.failed", "publish not delivered", map[string]interface{}{
		"kind":  "mqtt",
		"topic": topic,
		"error": fmt.Errorf("%w: %w", ErrPublishFailed, err).Error(),
	})
}

// Disconnect cleanly disconnects from the broker.
func (c *Client) Disconnect() {
	c.client.Disconnect(1000)
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Broker returns the broker URL the client was configured with.
func (c *Client) Broker() string {
	return c.broker
}

func (c *Client) handleConnect() {
	events.Emit("info", "mqtt.connected", "", map[string]interface{}{
		"broker": c.broker,
	})

	c.mu.Lock()
	subs := make(map[string]paho.MessageHandler, len(c.subscriptions))
	for topic, h := range c.subscriptions {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			log.Printf("mqtt: failed to subscribe to %s: %v", topic, err)
			events.Emit("error", "system.error", "mqtt subscribe failed", map[string]interface{}{
				"topic": topic,
				"error": err.Error(),
			})
		}
	}
}

func (c *Client) handleConnectionLost(err error) {
	fields := map[string]interface{}{"broker": c.broker}
	if err != nil {
		fields["error"] = err.Error()
	}
	events.Emit("warn", "mqtt.disconnected", "connection lost", fields)
}
