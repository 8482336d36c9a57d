package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"zone-tracker/internal/observability/metrics"
	application "zone-tracker/internal/occupancy/application"
	occupancy "zone-tracker/internal/occupancy/domain"
)

// DefaultTopic is a shared subscription so a pool of consumer instances
// splits the stream while the broker preserves per-device ordering within a
// connection.
const DefaultTopic = "$share/workers/site/+/device/+/location"

// EventProcessor applies a normalized event to the visit ledger.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event occupancy.LocationEvent) error
}

// ConsumerConfig configures the MQTT consumer.
type ConsumerConfig struct {
	BrokerURL     string
	ClientID      string
	Topic         string
	DefaultSiteID string
	Workers       int
	QueueSize     int
}

// Consumer subscribes to location events at QoS 1 and feeds them through a
// worker pool into the tracker service. Acknowledgement is manual: a
// successfully applied or malformed (dropped) event is acked, a ledger
// failure leaves the message unacked so the broker redelivers it.
type Consumer struct {
	cfg       ConsumerConfig
	client    paho.Client
	processor EventProcessor
	logger    *log.Logger

	jobs      chan paho.Message
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConsumer constructs a consumer.
func NewConsumer(cfg ConsumerConfig, processor EventProcessor, logger *log.Logger) (*Consumer, error) {
	if processor == nil {
		return nil, errors.New("mqtt consumer: nil processor")
	}
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt consumer: broker url required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "zone-tracker-ingestor"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{
		cfg:       cfg,
		processor: processor,
		logger:    logger,
		jobs:      make(chan paho.Message, cfg.QueueSize),
		done:      make(chan struct{}),
	}, nil
}

// Start connects to the broker, subscribes and launches the worker pool.
// Workers stop when ctx is cancelled; Close disconnects the client.
func (c *Consumer) Start(ctx context.Context) error {
	if c == nil || c.processor == nil {
		return errors.New("mqtt consumer: not initialized")
	}

	opts := paho.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetOrderMatters(false).
		SetAutoAckDisabled(true)

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		metrics.SetMQTTConnected(false)
		c.logger.Printf("mqtt consumer: connection lost: %v", err)
	})
	opts.SetOnConnectHandler(func(client paho.Client) {
		metrics.SetMQTTConnected(true)
		token := client.Subscribe(c.cfg.Topic, 1, func(_ paho.Client, msg paho.Message) {
			c.enqueue(ctx, msg)
		})
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Printf("mqtt consumer: subscribe %s failed: %v", c.cfg.Topic, err)
			return
		}
		c.logger.Printf("mqtt consumer: subscribed to %s", c.cfg.Topic)
	})

	c.client = paho.NewClient(opts)

	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}

	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt consumer: connect %s: %w", c.cfg.BrokerURL, err)
	}
	return nil
}

// Close disconnects from the broker and waits for in-flight workers. The
// jobs channel is never closed: a paho callback may still be blocked in
// enqueue, so shutdown is signalled through done instead. A message caught
// mid-enqueue is simply left unacked for the broker to redeliver.
func (c *Consumer) Close() {
	if c == nil {
		return
	}
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	metrics.SetMQTTConnected(false)
	c.closeOnce.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Consumer) enqueue(ctx context.Context, msg paho.Message) {
	select {
	case c.jobs <- msg:
	case <-c.done:
	case <-ctx.Done():
	}
}

func (c *Consumer) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case msg := <-c.jobs:
			c.handle(ctx, msg)
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handle runs one message through normalize + state machine. Only malformed
// events are dropped; a processing failure leaves the message unacked and the
// at-least-once transport recovers it.
func (c *Consumer) handle(ctx context.Context, msg paho.Message) {
	start := time.Now()

	event, err := application.NormalizeEvent(msg.Payload(), msg.Topic(), c.cfg.DefaultSiteID)
	if err != nil {
		c.logger.Printf("mqtt consumer: dropping malformed event on %s: %v", msg.Topic(), err)
		metrics.IncEventError("malformed")
		metrics.ObserveEvent(metrics.EventResultMalformed, time.Since(start))
		msg.Ack()
		return
	}

	if err := c.processor.ProcessEvent(ctx, event); err != nil {
		c.logger.Printf("mqtt consumer: process event site=%s device=%s zone=%s: %v",
			event.SiteID, event.DeviceID, event.ZoneID, err)
		metrics.IncEventError("process")
		metrics.ObserveEvent(metrics.EventResultFailed, time.Since(start))
		return
	}

	metrics.ObserveEvent(metrics.EventResultStored, time.Since(start))
	msg.Ack()
}
