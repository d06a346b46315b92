package survey

import (
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/kwv/roadmesh/pose"
)

// Handlers receives decoded messages. Any field may be nil.
type Handlers struct {
	OnPosition    func(sourceID string, s pose.PositionSample)
	OnOrientation func(sourceID string, s pose.OrientationSample)
	OnCapture     func(sourceID string, c Capture)
	// OnError is called when a payload cannot be decoded
	OnError func(sourceID, topic string, err error)
}

// MQTTClient manages the broker connection and per-source subscriptions
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handlers    Handlers
	log         *zap.Logger
	isConnected bool
	mu          sync.RWMutex

	stop     chan struct{} // closed by Disconnect
	stopOnce sync.Once
}

// InitMQTT creates and connects a client for the configured sources.
// If neither MQTT_BROKER nor mqtt.broker is set, MQTT is disabled and this
// returns nil.
func InitMQTT(config *Config, handlers Handlers, log *zap.Logger) (*MQTTClient, error) {
	if log == nil {
		log = zap.NewNop()
	}

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Info("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || len(config.Sources) == 0 {
		return nil, fmt.Errorf("MQTT enabled but no source configuration provided")
	}

	client := &MQTTClient{
		config:   config,
		handlers: handlers,
		log:      log,
		stop:     make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "roadmesh"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Samples of one device must reach its store in arrival order.
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// connectWithRetry attempts to connect to the broker with exponential backoff
// until it succeeds or Disconnect is called
func (c *MQTTClient) connectWithRetry() {
	b := DefaultBackoff()
	for attempt := 1; ; attempt++ {
		select {
		case <-c.stop:
			c.log.Info("MQTT connect retry stopped")
			return
		default:
		}

		c.log.Info("connecting to MQTT broker", zap.Int("attempt", attempt))

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.log.Info("connected to MQTT broker")
				c.setConnected(true)
				return
			}
			c.log.Warn("MQTT connection failed", zap.Error(token.Error()))
		} else {
			c.log.Warn("MQTT connection timeout")
		}

		delay := b.delay(attempt)
		c.log.Info("retrying MQTT connection", zap.Duration("in", delay))
		select {
		case <-c.stop:
			c.log.Info("MQTT connect retry stopped")
			return
		case <-time.After(delay):
		}
	}
}

// onConnect subscribes to the three topics of every source
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.log.Info("MQTT connected, subscribing to source topics")
	c.setConnected(true)

	for _, src := range c.config.Sources {
		if src.Topic == "" {
			c.log.Warn("source has no topic configured", zap.String("source", src.ID))
			continue
		}

		subs := []struct {
			topic   string
			handler mqtt.MessageHandler
		}{
			{src.PositionTopic(), c.createPositionHandler(src.ID)},
			{src.OrientationTopic(), c.createOrientationHandler(src.ID)},
			{src.CaptureTopic(), c.createCaptureHandler(src.ID)},
		}
		for _, s := range subs {
			token := client.Subscribe(s.topic, 0, s.handler)
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				c.log.Error("subscribe failed",
					zap.String("topic", s.topic),
					zap.String("source", src.ID),
					zap.Error(token.Error()))
				continue
			}
			c.log.Debug("subscribed", zap.String("topic", s.topic), zap.String("source", src.ID))
		}
	}
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	c.log.Warn("MQTT connection interrupted, auto-reconnect will retry", zap.Error(err))
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.log.Info("MQTT reconnecting")
}

func (c *MQTTClient) createPositionHandler(sourceID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		s, err := DecodePosition(msg.Payload())
		if err != nil {
			c.decodeFailed(sourceID, msg.Topic(), err)
			return
		}
		if c.handlers.OnPosition != nil {
			c.handlers.OnPosition(sourceID, s)
		}
	}
}

func (c *MQTTClient) createOrientationHandler(sourceID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		s, err := DecodeOrientation(msg.Payload())
		if err != nil {
			c.decodeFailed(sourceID, msg.Topic(), err)
			return
		}
		if c.handlers.OnOrientation != nil {
			c.handlers.OnOrientation(sourceID, s)
		}
	}
}

func (c *MQTTClient) createCaptureHandler(sourceID string) mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		capture, err := DecodeCapture(msg.Payload())
		if err != nil {
			c.decodeFailed(sourceID, msg.Topic(), err)
			return
		}
		c.log.Debug("capture received",
			zap.String("source", sourceID),
			zap.String("label", capture.Label),
			zap.Int64("captureNs", capture.CaptureNs))
		if c.handlers.OnCapture != nil {
			c.handlers.OnCapture(sourceID, capture)
		}
	}
}

func (c *MQTTClient) decodeFailed(sourceID, topic string, err error) {
	c.log.Warn("dropping undecodable message",
		zap.String("source", sourceID),
		zap.String("topic", topic),
		zap.Error(err))
	if c.handlers.OnError != nil {
		c.handlers.OnError(sourceID, topic, err)
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect stops any pending connect retry and gracefully closes the
// MQTT connection
func (c *MQTTClient) Disconnect() {
	c.stopOnce.Do(func() {
		if c.stop != nil {
			close(c.stop)
		}
	})
	if c.client != nil && c.client.IsConnected() {
		c.log.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// SourceByTopic returns the source ID owning a subscribed topic
func (c *MQTTClient) SourceByTopic(topic string) (string, bool) {
	for _, src := range c.config.Sources {
		switch topic {
		case src.PositionTopic(), src.OrientationTopic(), src.CaptureTopic():
			return src.ID, true
		}
	}
	return "", false
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client
func newMQTTClientWithMock(client mqtt.Client, config *Config, handlers Handlers) *MQTTClient {
	return &MQTTClient{
		client:   client,
		config:   config,
		handlers: handlers,
		log:      zap.NewNop(),
		stop:     make(chan struct{}),
	}
}
