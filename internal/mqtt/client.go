package mqtt

import (
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/dunehd-driver-go/internal/config"
)

// MessageHandler is called for each received message, on a paho goroutine.
type MessageHandler func(topic string, payload []byte)

// Client wraps paho with subscription restore on reconnect and a
// retained online/offline status for the driver.
type Client struct {
	client   pahomqtt.Client
	settings config.MQTTSettings
	topics   Topics
	logger   logrus.FieldLogger

	subMu         sync.RWMutex
	subscriptions map[string]MessageHandler
}

// Connect dials the broker and publishes the driver's online status.
func Connect(settings config.MQTTSettings, logger logrus.FieldLogger) (*Client, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	topics := Topics{Prefix: settings.TopicPrefix}
	opts := buildClientOptions(settings)
	configureLWT(opts, topics, settings.ClientID)

	c := &Client{
		settings:      settings,
		topics:        topics,
		logger:        logger.WithField("component", "mqtt"),
		subscriptions: make(map[string]MessageHandler),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.logger.WithError(err).Warn("mqtt connection lost")
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.logger.Debug("mqtt reconnecting")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.logger.WithField("settings", settings.String()).Info("mqtt connected")
	return c, nil
}

func (c *Client) handleConnect() {
	c.subMu.RLock()
	for topic, handler := range c.subscriptions {
		c.client.Subscribe(topic, c.qos(), c.wrapHandler(handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(c.topics.DriverStatus(), c.qos(), true, statusPayload("online", c.settings.ClientID, ""))
}

func (c *Client) qos() byte {
	return byte(c.settings.QoS)
}

// IsConnected reports whether paho currently holds a connection.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Publish sends payload and waits for the broker acknowledgment.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, c.qos(), retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Subscribe registers handler for topic. It is restored on every reconnect.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = handler
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, c.qos(), c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Close publishes a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.topics.DriverStatus(), c.qos(), true,
			statusPayload("offline", c.settings.ClientID, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithFields(logrus.Fields{"topic": msg.Topic(), "panic": r}).Error("mqtt handler panic recovered")
			}
		}()
		handler(msg.Topic(), msg.Payload())
	}
}
