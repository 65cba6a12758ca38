// Package mqttclient wraps github.com/eclipse/paho.mqtt.golang with topic
// prefixing, resubscribe-on-reconnect, and safe inbound dispatch (spec.md
// §4.7).
package mqttclient

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "modbus"

// DefaultReconnectPeriod is used when Config.ReconnectPeriod is zero.
const DefaultReconnectPeriod = 5000 * time.Millisecond

// DefaultConnectTimeout bounds Connect's wait for the initial handshake.
const DefaultConnectTimeout = 10 * time.Second

// Handler processes an inbound message on a subscribed topic. Returning an
// error (or panicking) is recorded via Config.OnHandlerError and logged;
// it never brings the client down.
type Handler func(topic string, payload []byte, qos byte, retain bool) error

// Config configures a Client.
type Config struct {
	BrokerURL       string
	ClientID        string
	Username        string
	Password        string
	ReconnectPeriod time.Duration
	ConnectTimeout  time.Duration
	TopicPrefix     string

	// OnHandlerError, if set, is invoked whenever an inbound handler
	// returns an error or panics. The bridge wires this into its bounded
	// error list (spec.md §4.10).
	OnHandlerError func(topic string, err error)
}

func (c Config) topicPrefix() string {
	if c.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return c.TopicPrefix
}

func (c Config) reconnectPeriod() time.Duration {
	if c.ReconnectPeriod == 0 {
		return DefaultReconnectPeriod
	}
	return c.ReconnectPeriod
}

func (c Config) connectTimeout() time.Duration {
	if c.ConnectTimeout == 0 {
		return DefaultConnectTimeout
	}
	return c.ConnectTimeout
}

type subscription struct {
	handler Handler
	qos     byte
}

// ErrNotInitialized is returned by publish/subscribe/unsubscribe called
// before Connect has ever been invoked.
var ErrNotInitialized = errors.New("mqtt client not initialized")

// ErrNotConnected is returned by publish/subscribe/unsubscribe called while
// the client exists but is not currently connected to the broker.
var ErrNotConnected = errors.New("mqtt client not connected")

// Client wraps a paho.mqtt.golang client, adding topic prefixing and
// transparent resubscription (spec.md §4.7).
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.RWMutex
	client        mqtt.Client
	subscriptions map[string]*subscription
}

// NewClient returns a Client. Connect must be called before any publish,
// subscribe, or unsubscribe. A nil logger is replaced with a no-op logger.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger, subscriptions: make(map[string]*subscription)}
}

func (c *Client) fullTopic(topic string) string {
	return fmt.Sprintf("%s/%s", c.cfg.topicPrefix(), topic)
}

// Connect builds the underlying paho client and blocks until the initial
// handshake completes or times out.
func (c *Client) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.cfg.BrokerURL)
	if c.cfg.ClientID != "" {
		opts.SetClientID(c.cfg.ClientID)
	}
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(c.cfg.reconnectPeriod())
	opts.SetConnectTimeout(c.cfg.connectTimeout())
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetDefaultPublishHandler(c.onMessage)

	client := mqtt.NewClient(opts)

	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(c.cfg.connectTimeout()) {
		return errors.New("mqtt: connect timed out")
	}
	return token.Error()
}

// IsConnected reports the underlying client's live connected state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	return client != nil && client.IsConnected()
}

// Publish sends payload to topic (after prefixing) at the given QoS.
func (c *Client) Publish(topic string, qos byte, retain bool, payload []byte) error {
	client, err := c.connectedClient()
	if err != nil {
		return err
	}
	token := client.Publish(c.fullTopic(topic), qos, retain, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers handler for topic (after prefixing). A second call
// for the same topic replaces the handler without dispatching twice.
func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	c.mu.Lock()
	client := c.client
	if client == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	full := c.fullTopic(topic)
	c.subscriptions[full] = &subscription{handler: handler, qos: qos}
	c.mu.Unlock()

	if !client.IsConnected() {
		return ErrNotConnected
	}

	token := client.Subscribe(full, qos, c.dispatch)
	token.Wait()
	return token.Error()
}

// Unsubscribe removes a topic's handler, both at the broker and locally.
func (c *Client) Unsubscribe(topic string) error {
	client, err := c.connectedClient()
	if err != nil {
		return err
	}
	full := c.fullTopic(topic)

	token := client.Unsubscribe(full)
	token.Wait()
	if err := token.Error(); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.subscriptions, full)
	c.mu.Unlock()
	return nil
}

// Stop disconnects the client, if connected, and drains all registered
// subscriptions. Idempotent and safe to call from any state.
func (c *Client) Stop() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.subscriptions = make(map[string]*subscription)
	c.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
}

func (c *Client) connectedClient() (mqtt.Client, error) {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		return nil, ErrNotInitialized
	}
	if !client.IsConnected() {
		return nil, ErrNotConnected
	}
	return client, nil
}

// onConnect re-establishes every active subscription at the broker. It
// reuses the same dispatch function rather than registering a fresh
// closure per topic, so reconnect never duplicates in-process handlers.
func (c *Client) onConnect(client mqtt.Client) {
	c.mu.RLock()
	topics := make(map[string]byte, len(c.subscriptions))
	for full, sub := range c.subscriptions {
		topics[full] = sub.qos
	}
	c.mu.RUnlock()

	for full, qos := range topics {
		token := client.Subscribe(full, qos, c.dispatch)
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Warn("resubscribe failed", zap.String("topic", full), zap.Error(err))
		}
	}
	c.logger.Info("mqtt connected", zap.String("broker", c.cfg.BrokerURL))
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("mqtt connection lost", zap.Error(err))
}

// onMessage is the default handler for messages on topics with no explicit
// subscription (should not normally fire, since we always subscribe with
// c.dispatch directly).
func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.dispatch(nil, msg)
}

// dispatch looks up the handler for msg's topic and invokes it, recovering
// from panics and recording handler failures without ever propagating them
// (spec.md §4.7 "the bridge must NOT terminate").
func (c *Client) dispatch(_ mqtt.Client, msg mqtt.Message) {
	c.mu.RLock()
	sub, ok := c.subscriptions[msg.Topic()]
	c.mu.RUnlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			c.logger.Error("mqtt handler panicked", zap.String("topic", msg.Topic()))
			if c.cfg.OnHandlerError != nil {
				c.cfg.OnHandlerError(msg.Topic(), err)
			}
		}
	}()

	if err := sub.handler(msg.Topic(), msg.Payload(), msg.Qos(), msg.Retained()); err != nil {
		c.logger.Error("mqtt handler error", zap.String("topic", msg.Topic()), zap.Error(err))
		if c.cfg.OnHandlerError != nil {
			c.cfg.OnHandlerError(msg.Topic(), err)
		}
	}
}
