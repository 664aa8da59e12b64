// Package forward publishes metric batches of the active device to an MQTT broker.
package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/srg/sdcmon/internal/device"
	"github.com/srg/sdcmon/internal/groutine"
	"github.com/srg/sdcmon/internal/ringchan"
	"github.com/srg/sdcmon/pipeline"
)

// DefaultQueueSize is the number of encoded batches waiting for the broker
const DefaultQueueSize = 64

// Publisher is the subset of mqtt.Client used for forwarding
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Config holds broker connection settings
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	PublishTimeout time.Duration
	// QueueSize bounds the batches waiting for the broker; the oldest is dropped when full
	QueueSize int
}

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Dial connects to the broker described by cfg
func Dial(cfg Config) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

// Message is the JSON payload published per batch
type Message struct {
	DeviceID string            `json:"device_id"`
	Device   string            `json:"device"`
	Location string            `json:"location,omitempty"`
	Samples  []pipeline.Sample `json:"samples"`
}

// Stats are the forwarding counters
type Stats struct {
	Published int64
	Failed    int64
	Dropped   int64
}

type outgoing struct {
	topic   string
	payload []byte
	samples int
}

// Forwarder is a pipeline observer publishing each batch to
// <prefix>/<device short id>/metrics.
// Observe only encodes and queues; a publishing goroutine started by Start
// waits for the broker, so a slow broker never holds up the pipeline.
type Forwarder struct {
	pub     Publisher
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *logrus.Logger

	current atomic.Pointer[device.DeviceRecord]
	queue   *ringchan.RingChannel[outgoing]

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func NewForwarder(pub Publisher, cfg Config, logger *logrus.Logger) *Forwarder {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 2 * time.Second
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "sdc"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Forwarder{
		pub:     pub,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:     cfg.QoS,
		timeout: cfg.PublishTimeout,
		logger:  logger,
		queue:   ringchan.New[outgoing](cfg.QueueSize),
	}
}

// Start launches the publishing goroutine. It is a no-op when already started
// or after Close.
func (f *Forwarder) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.done != nil || f.stopped {
		return
	}

	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	done := f.done
	groutine.GoRecover(ctx, "mqtt-forwarder", f.logger, func(ctx context.Context) {
		defer close(done)
		f.run(ctx)
	})
}

// Close stops the publishing goroutine and discards batches not yet published
func (f *Forwarder) Close() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	if n := f.queue.Drain(); n > 0 {
		f.logger.WithField("batches", n).Warn("Discarded unpublished metrics")
	}
}

// Stats returns a snapshot of the forwarding counters
func (f *Forwarder) Stats() Stats {
	return Stats{
		Published: f.published.Load(),
		Failed:    f.failed.Load(),
		Dropped:   f.dropped.Load(),
	}
}

// SetDevice selects the device whose batches are published; nil stops publishing
func (f *Forwarder) SetDevice(record *device.DeviceRecord) {
	if record == nil {
		f.current.Store(nil)
		return
	}
	r := *record
	f.current.Store(&r)
}

// Topic returns the metrics topic of record
func (f *Forwarder) Topic(record device.DeviceRecord) string {
	return fmt.Sprintf("%s/%s/metrics", f.prefix, strings.TrimSuffix(record.ShortID(), "..."))
}

// Observe queues samples of the current device for publishing. It never
// waits for the broker; only an encoding failure is returned.
func (f *Forwarder) Observe(samples []pipeline.Sample) error {
	record := f.current.Load()
	if record == nil {
		return nil
	}

	msg := Message{
		DeviceID: record.ID,
		Device:   record.DisplayName(),
		Samples:  samples,
	}
	if !record.Location.IsEmpty() {
		msg.Location = record.Location.String()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	topic := f.Topic(*record)
	if f.queue.Send(outgoing{topic: topic, payload: payload, samples: len(samples)}) {
		f.dropped.Add(1)
		f.logger.WithFields(logrus.Fields{
			"topic":       topic,
			"overwritten": f.queue.Metrics().Overwritten,
		}).Warn("Forwarding queue full, oldest batch dropped")
	}
	return nil
}

func (f *Forwarder) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-f.queue.C():
			if err := f.publish(msg); err != nil {
				f.logger.WithError(err).Warn("Failed to forward metrics")
				f.failed.Add(1)
			} else {
				f.published.Add(1)
			}
			f.queue.MarkProcessed()
		}
	}
}

func (f *Forwarder) publish(msg outgoing) error {
	token := f.pub.Publish(msg.topic, f.qos, false, msg.payload)
	if !token.WaitTimeout(f.timeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", msg.topic, err)
	}

	f.logger.WithFields(logrus.Fields{
		"topic":   msg.topic,
		"samples": msg.samples,
	}).Debug("Published metrics")
	return nil
}
