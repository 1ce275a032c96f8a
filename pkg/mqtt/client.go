// Package mqtt connects the bridge to an MQTT broker.
//
// The Mirror publishes bridged attribute changes and the device list,
// CommandSender carries binding commands to targets outside this bridge
// and CommandReceiver applies commands other nodes address to it.
package mqtt

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pion/logging"
)

// Connection defaults.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
	DefaultKeepAlive      = 60 * time.Second
	DefaultPrefix         = "matterbridge"

	disconnectQuiesce = 250 // milliseconds
	maxQoS            = 2
)

// Status payloads published to the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Publisher publishes one message. *Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, retain bool) error
}

// MessageHandler receives a message. Handlers run on paho goroutines.
type MessageHandler func(topic string, payload []byte)

// ClientConfig holds configuration for a Client.
type ClientConfig struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883. Required.
	Broker string

	// ClientID identifies the bridge to the broker. Default: the prefix.
	ClientID string

	Username string
	Password string

	// QoS for published messages. Default: 0.
	QoS byte

	// Prefix is the root of every topic. Default: "matterbridge".
	Prefix string

	// ConnectTimeout bounds the initial connection. Default: 10s.
	ConnectTimeout time.Duration

	// PublishTimeout bounds each publish. Default: 5s.
	PublishTimeout time.Duration

	// LoggerFactory for MQTT logging (optional).
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c *ClientConfig) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("%w: no broker", ErrConnectionFailed)
	}
	if c.QoS > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

func (c *ClientConfig) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.ClientID == "" {
		c.ClientID = c.Prefix
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
}

// Client wraps a paho client. It is safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	config ClientConfig
	topics Topics

	log logging.LeveledLogger
}

// Connect connects to the broker and publishes the online status. The
// broker publishes the offline status if the bridge disappears.
func Connect(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	c := &Client{config: config, topics: Topics{Prefix: config.Prefix}}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("mqtt")
	}

	opts := buildClientOptions(config)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		if c.log != nil {
			c.log.Infof("Connected to %s", config.Broker)
		}
		c.client.Publish(c.topics.Status(), config.QoS, true, StatusOnline)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if c.log != nil {
			c.log.Warnf("Connection to %s lost: %v", config.Broker, err)
		}
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(config.ConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, config.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return c, nil
}

// buildClientOptions creates paho options from the configuration.
func buildClientOptions(config ClientConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(config.ConnectTimeout)
	opts.SetKeepAlive(DefaultKeepAlive)
	opts.SetWill(Topics{Prefix: config.Prefix}.Status(), StatusOffline, 1, true)
	return opts
}

// Topics returns the topic layout of the client.
func (c *Client) Topics() Topics { return c.topics }

// Publish implements Publisher.
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	token := c.client.Publish(topic, c.config.QoS, retain, payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("%w: publish to %s", ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic, which may contain wildcards.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, c.config.QoS, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.config.PublishTimeout) {
		return fmt.Errorf("%w: subscribe to %s", ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
	}
	return nil
}

// Close publishes the offline status and disconnects.
func (c *Client) Close() error {
	if c.client.IsConnected() {
		token := c.client.Publish(c.topics.Status(), c.config.QoS, true, StatusOffline)
		token.WaitTimeout(c.config.PublishTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	return nil
}

var _ Publisher = (*Client)(nil)
