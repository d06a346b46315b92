package survey

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// Publisher publishes the road graph and resolved poses to MQTT. Messages
// that fail to go out are kept and retried with backoff by RetryPending.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	log           *zap.Logger

	mu      sync.Mutex
	pending map[string]pendingMessage // item key -> undelivered message
	retries *RetryTracker
}

// pendingMessage is an undelivered message. The roads document is keyed by
// its topic, so a newer graph replaces an older one; each capture is keyed
// by its ID and retried on its own.
type pendingMessage struct {
	topic   string
	payload []byte
}

// NewPublisher creates a new publisher.
// If client is nil, publishing is disabled (for testing).
func NewPublisher(client mqtt.Client, prefix string, log *zap.Logger) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "roadmesh"
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // QoS 0, the next tick supersedes a lost message
		retain:        true, // late subscribers get the current graph
		log:           log,
		pending:       make(map[string]pendingMessage),
		retries:       NewRetryTracker(DefaultBackoff()),
	}
}

// RoadsTopic returns the topic carrying the edge FeatureCollection
func (p *Publisher) RoadsTopic() string {
	return fmt.Sprintf("%s/roads", p.publishPrefix)
}

// PoseTopic returns the topic carrying resolved captures of a source
func (p *Publisher) PoseTopic(sourceID string) string {
	return fmt.Sprintf("%s/%s/pose", p.publishPrefix, sourceID)
}

// PublishRoads publishes a GeoJSON document (or any JSON value) of the
// current road graph
func (p *Publisher) PublishRoads(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling roads: %w", err)
	}
	topic := p.RoadsTopic()
	return p.publish(topic, topic, payload)
}

// PublishCapture publishes a resolved capture on its source's pose topic
func (p *Publisher) PublishCapture(rec CaptureRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling capture %s: %w", rec.ID, err)
	}
	return p.publish(rec.ID, p.PoseTopic(rec.SourceID), payload)
}

// RetryPending re-sends undelivered messages whose backoff has elapsed and
// returns how many went out
func (p *Publisher) RetryPending() int {
	sent := 0
	for _, key := range p.retries.Due() {
		p.mu.Lock()
		msg, ok := p.pending[key]
		p.mu.Unlock()
		if !ok {
			p.retries.Succeed(key)
			continue
		}
		if err := p.publish(key, msg.topic, msg.payload); err == nil {
			sent++
		}
	}
	return sent
}

// Pending returns the number of undelivered messages
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// RetryState returns the retry bookkeeping for an undelivered message: the
// roads topic for the graph, or a capture ID for a resolved capture
func (p *Publisher) RetryState(key string) (RetryState, bool) {
	return p.retries.State(key)
}

func (p *Publisher) publish(key, topic string, payload []byte) error {
	err := p.send(topic, payload)
	if err == nil {
		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()
		p.retries.Succeed(key)
		return nil
	}

	st, retrying := p.retries.Fail(key, err)
	p.mu.Lock()
	if retrying {
		p.pending[key] = pendingMessage{topic: topic, payload: payload}
	} else {
		delete(p.pending, key)
	}
	p.mu.Unlock()

	if retrying {
		p.log.Warn("publish failed, will retry",
			zap.String("key", key),
			zap.String("topic", topic),
			zap.Int("attempts", st.Attempts),
			zap.Time("nextEligible", st.NextEligible),
			zap.Error(err))
	} else {
		p.log.Error("publish failed, giving up",
			zap.String("key", key),
			zap.String("topic", topic),
			zap.Int("attempts", st.Attempts),
			zap.Error(err))
	}
	return err
}

func (p *Publisher) send(topic string, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timed out after %s", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}

	p.log.Debug("published", zap.String("topic", topic), zap.Int("bytes", len(payload)))
	return nil
}
