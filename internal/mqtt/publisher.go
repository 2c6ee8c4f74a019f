package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/moxley/arbiter/internal/buildinfo"
	"github.com/moxley/arbiter/internal/capability"
	"github.com/moxley/arbiter/internal/config"
)

// StatsSource provides routing activity for sensor state publishing.
// The concrete implementation is [*Stats], fed by the event bus; the
// interface keeps the publisher testable without a running bus.
type StatsSource interface {
	// Uptime returns the process uptime.
	Uptime() time.Duration
	// Snapshot returns the current routing counters.
	Snapshot() Snapshot
}

// Publisher manages the MQTT connection, publishes HA discovery config
// messages on (re-)connect, and runs a periodic loop that pushes
// sensor state updates to the broker.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	stats      StatsSource
	model      func() string // active generative-backend model; nil = unknown
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop. model reports the active
// generative-backend model name and may change across config reloads.
func New(cfg config.MQTTConfig, instanceID string, stats StatsSource, model func() string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		stats:      stats,
		model:      model,
		logger:     logger,
	}
}

// Start connects to the MQTT broker and begins the periodic publish
// loop. It blocks until ctx is cancelled. On every (re-)connect it
// publishes discovery configs and a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "arbiter-" + p.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection before starting the publish loop.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "arbiter/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

// sensor builds a discovery config with the shared availability topic
// and device block. Names are short; HasEntityName makes HA prefix
// them with the device name without doubling it in entity IDs.
func (p *Publisher) sensor(entitySuffix, name, icon string) SensorConfig {
	return SensorConfig{
		Name:              name,
		ObjectID:          entitySuffix,
		HasEntityName:     true,
		UniqueID:          p.instanceID + "_" + entitySuffix,
		StateTopic:        p.stateTopic(entitySuffix),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
		Icon:              icon,
	}
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	uptime := p.sensor("uptime", "Uptime", "mdi:clock-outline")
	uptime.EntityCategory = "diagnostic"

	version := p.sensor("version", "Version", "mdi:tag")
	version.EntityCategory = "diagnostic"

	model := p.sensor("model", "Model", "mdi:brain")
	model.EntityCategory = "diagnostic"

	routed := p.sensor("messages_routed", "Messages Routed", "mdi:call-split")
	routed.StateClass = "total_increasing"
	routed.UnitOfMeasurement = "messages"

	today := p.sensor("routed_today", "Routed Today", "mdi:counter")
	today.StateClass = "total_increasing"
	today.UnitOfMeasurement = "messages"

	busy := p.sensor("busy_rejections", "Busy Rejections", "mdi:cancel")
	busy.StateClass = "total_increasing"

	defs := []sensorDef{
		{"uptime", uptime},
		{"version", version},
		{"model", model},
		{"messages_routed", routed},
		{"routed_today", today},
		{"busy_rejections", busy},
	}

	for _, id := range capability.All {
		suffix := "dispatch_" + string(id)
		s := p.sensor(suffix, "Dispatched "+string(id), "mdi:arrow-decision")
		s.StateClass = "total_increasing"
		defs = append(defs, sensorDef{suffix, s})
	}
	return defs
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", s.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", s.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", s.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- Periodic state loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	interval := time.Duration(p.cfg.PublishIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Publish immediately on start.
	p.publishStates(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	snap := p.stats.Snapshot()
	states := map[string]string{
		"uptime":          p.stats.Uptime().Truncate(time.Second).String(),
		"version":         buildinfo.Version,
		"messages_routed": strconv.FormatInt(snap.Routed, 10),
		"routed_today":    strconv.FormatInt(snap.RoutedToday, 10),
		"busy_rejections": strconv.FormatInt(snap.BusyRejections, 10),
	}

	if p.model != nil {
		states["model"] = p.model()
	} else {
		states["model"] = "unknown"
	}

	for _, id := range capability.All {
		states["dispatch_"+string(id)] = strconv.FormatInt(snap.ByCapability[string(id)], 10)
	}

	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt sensor states published",
		"entities", len(states))
}
