package chirpstack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/lora-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/lora-relay/internal/lorawan"
)

// MQTTClient is the subset of *mqtt.Client the bridge uses. Tests supply a
// mock.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// UplinkHandler receives every decoded LoRa uplink.
type UplinkHandler func(ctx context.Context, up Uplink)

// Options configures a Bridge.
type Options struct {
	// MQTTClient is the broker connection.
	MQTTClient MQTTClient

	// Topics is the gateway bridge topic layout.
	Topics Topics

	// Codec decodes uplinks and encodes downlinks.
	Codec Codec

	// Gateways is the flood target set. A new empty set is used when nil.
	Gateways *GatewaySet

	// Handler receives decoded uplinks. Required.
	Handler UplinkHandler

	// QoS is used for subscriptions and downlink publishes.
	QoS byte

	// Health reports bridge status. Optional.
	Health *HealthReporter

	// Logger is optional.
	Logger Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// FloodResult summarises one Flood call.
type FloodResult struct {
	Sent    []string
	Skipped []string
	Failed  []string
}

// Stats are the bridge's running counters.
type Stats struct {
	Connected       bool   `json:"connected"`
	Gateways        int    `json:"gateways"`
	UplinksReceived uint64 `json:"uplinks_received"`
	UplinksRejected uint64 `json:"uplinks_rejected"`
	DownlinksSent   uint64 `json:"downlinks_sent"`
	DownlinksFailed uint64 `json:"downlinks_failed"`
	DutyCycleSkips  uint64 `json:"duty_cycle_skips"`
}

// Bridge connects the relay to the ChirpStack MQTT gateway bridge. It
// subscribes to the event topics of every gateway, hands LoRa uplinks to the
// handler and floods downlinks to every known gateway.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt     MQTTClient
	topics   Topics
	codec    Codec
	gateways *GatewaySet
	handler  UplinkHandler
	qos      byte
	health   *HealthReporter
	now      func() time.Time

	uplinks         atomic.Uint64
	uplinksRejected atomic.Uint64
	downlinks       atomic.Uint64
	downlinksFailed atomic.Uint64
	dutySkips       atomic.Uint64

	// ctx is live between Start and Stop; uplink handlers run under it.
	ctx       context.Context
	ctxCancel context.CancelFunc

	done     chan struct{}
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge validates opts and returns a stopped bridge.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("uplink handler is required")
	}
	if opts.Topics.Prefix == "" {
		return nil, fmt.Errorf("topic prefix is required")
	}

	gateways := opts.Gateways
	if gateways == nil {
		gateways = NewGatewaySet(nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		mqtt:      opts.MQTTClient,
		topics:    opts.Topics,
		codec:     opts.Codec,
		gateways:  gateways,
		handler:   opts.Handler,
		qos:       opts.QoS,
		health:    opts.Health,
		now:       now,
		ctx:       ctx,
		ctxCancel: cancel,
		done:      make(chan struct{}),
		logger:    opts.Logger,
	}
	if b.health != nil {
		b.health.setSource(b)
		if opts.Logger != nil {
			b.health.SetLogger(opts.Logger)
		}
	}
	return b, nil
}

// Start subscribes to gateway events and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	topic := b.topics.AllEvents()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleEvent); err != nil {
		return fmt.Errorf("subscribe to gateway events: %w", err)
	}
	b.logInfo("subscribed to gateway events", "topic", topic, "gateways", b.gateways.Len())

	if b.health != nil {
		b.health.Start(ctx)
	}
	return nil
}

// Stop cancels in-flight handlers and stops health reporting. Safe to call
// more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		if b.health != nil {
			b.health.Stop()
		}
		b.logInfo("gateway bridge stopped")
	})
}

// handleEvent is the MQTT callback for every gateway event. Only uplinks are
// processed; stats, ack and exec events are ignored.
func (b *Bridge) handleEvent(topic string, payload []byte) error {
	select {
	case <-b.done:
		return nil
	default:
	}

	parsed, err := ParseTopic(topic)
	if err != nil {
		return err
	}
	if parsed.Kind != KindEvent || parsed.Type != EventUp {
		return nil
	}

	up, err := b.codec.DecodeUplink(parsed.GatewayID, payload, b.now())
	if err != nil {
		b.uplinksRejected.Add(1)
		if errors.Is(err, ErrNotLoRa) {
			b.logDebug("ignoring non-LoRa uplink", "gateway", parsed.GatewayID)
			return nil
		}
		return fmt.Errorf("gateway %s: %w", parsed.GatewayID, err)
	}

	b.uplinks.Add(1)
	if b.gateways.Learn(up.GatewayID, up.ReceivedAt) {
		b.logInfo("learned gateway", "gateway", up.GatewayID)
	}

	b.handler(b.ctx, *up)
	return nil
}

// Flood publishes phy to every known gateway. admit is consulted per
// gateway before publishing; a non-nil error skips that gateway. admit may
// be nil. Gateways admitted but not published to are listed in
// FloodResult.Failed, also when an error is returned.
func (b *Bridge) Flood(phy []byte, params lorawan.Params, power int32, admit func(gateway string) error) (FloodResult, error) {
	var result FloodResult

	ids := b.gateways.IDs()
	if len(ids) == 0 {
		return result, ErrNoGateways
	}

	for _, id := range ids {
		if admit != nil {
			if err := admit(id); err != nil {
				if errors.Is(err, lorawan.ErrDutyCycleExceeded) {
					b.dutySkips.Add(1)
				}
				b.logDebug("gateway skipped", "gateway", id, "reason", err)
				result.Skipped = append(result.Skipped, id)
				continue
			}
		}

		payload, err := b.codec.EncodeDownlink(Downlink{
			ID:         uuid.New().ID(),
			GatewayID:  id,
			PHYPayload: phy,
			Params:     params,
			Power:      power,
		})
		if err != nil {
			result.Failed = append(result.Failed, id)
			return result, fmt.Errorf("encode downlink: %w", err)
		}

		if err := b.mqtt.Publish(b.topics.Downlink(id), payload, b.qos, false); err != nil {
			b.downlinksFailed.Add(1)
			b.logWarn("downlink publish failed", "gateway", id, "error", err)
			result.Failed = append(result.Failed, id)
			continue
		}
		b.downlinks.Add(1)
		b.gateways.RecordDownlink(id)
		result.Sent = append(result.Sent, id)
	}
	return result, nil
}

// Gateways returns the flood target set.
func (b *Bridge) Gateways() *GatewaySet {
	return b.gateways
}

// Stats returns current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Connected:       b.mqtt.IsConnected(),
		Gateways:        b.gateways.Len(),
		UplinksReceived: b.uplinks.Load(),
		UplinksRejected: b.uplinksRejected.Load(),
		DownlinksSent:   b.downlinks.Load(),
		DownlinksFailed: b.downlinksFailed.Load(),
		DutyCycleSkips:  b.dutySkips.Load(),
	}
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, args ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, args...)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, args...)
	}
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, args...)
	}
}
