// Package hass publishes readings to Home Assistant through MQTT discovery.
//
// Every descriptor in reading.Sensors and reading.BinarySensors becomes one
// entity. Values go to a single JSON state topic; a second JSON topic carries
// per-entity availability so an unknown value shows as unavailable instead
// of a stale or zero state.
package hass

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flowbike/ebike-monitor/internal/coordinator"
	"github.com/flowbike/ebike-monitor/internal/log"
	"github.com/flowbike/ebike-monitor/internal/reading"
)

const (
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultBaseTopic       = "ebike"

	payloadOnline  = "online"
	payloadOffline = "offline"

	publishTimeout = 10 * time.Second
)

// Publisher is the part of mqtt.Client the bridge uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Config names the bike and the topic layout.
type Config struct {
	DiscoveryPrefix string
	BaseTopic       string
	BikeID          string
	BikeName        string
}

// Bridge maps coordinator snapshots to MQTT messages.
type Bridge struct {
	client Publisher
	cfg    Config
	log    log.Logger

	objectPrefix string
}

// NewBridge creates a bridge publishing through client.
func NewBridge(client Publisher, cfg Config, logger log.Logger) *Bridge {
	if cfg.DiscoveryPrefix == "" {
		cfg.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = DefaultBaseTopic
	}
	if cfg.BikeName == "" {
		cfg.BikeName = cfg.BikeID
	}
	return &Bridge{
		client:       client,
		cfg:          cfg,
		log:          log.OrNop(logger).WithName("hass"),
		objectPrefix: "ebike_" + objectID(cfg.BikeID),
	}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func objectID(s string) string {
	return strings.ToLower(unsafeChars.ReplaceAllString(s, "_"))
}

// StateTopic carries a JSON object with one value per descriptor key.
func (b *Bridge) StateTopic() string {
	return fmt.Sprintf("%s/%s/state", b.cfg.BaseTopic, b.cfg.BikeID)
}

// AvailabilityTopic carries a JSON object with "online"/"offline" per key.
func (b *Bridge) AvailabilityTopic() string {
	return fmt.Sprintf("%s/%s/availability", b.cfg.BaseTopic, b.cfg.BikeID)
}

// StatusTopic is the bridge-wide online/offline topic, also used as the
// MQTT last will.
func (b *Bridge) StatusTopic() string {
	return StatusTopic(b.cfg.BaseTopic, b.cfg.BikeID)
}

// StatusTopic returns the bridge status topic for bikeID under base.
func StatusTopic(base, bikeID string) string {
	if base == "" {
		base = DefaultBaseTopic
	}
	return fmt.Sprintf("%s/%s/status", base, bikeID)
}

func (b *Bridge) configTopic(component, key string) string {
	return fmt.Sprintf("%s/%s/%s_%s/config", b.cfg.DiscoveryPrefix, component, b.objectPrefix, key)
}

type device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type availability struct {
	Topic         string `json:"topic"`
	ValueTemplate string `json:"value_template,omitempty"`
}

type discovery struct {
	Name             string         `json:"name"`
	UniqueID         string         `json:"unique_id"`
	ObjectID         string         `json:"object_id"`
	StateTopic       string         `json:"state_topic"`
	ValueTemplate    string         `json:"value_template"`
	Unit             string         `json:"unit_of_measurement,omitempty"`
	DeviceClass      string         `json:"device_class,omitempty"`
	StateClass       string         `json:"state_class,omitempty"`
	PayloadOn        string         `json:"payload_on,omitempty"`
	PayloadOff       string         `json:"payload_off,omitempty"`
	EnabledByDefault bool           `json:"enabled_by_default"`
	Availability     []availability `json:"availability"`
	AvailabilityMode string         `json:"availability_mode"`
	Device           device         `json:"device"`
}

func (b *Bridge) base(key, name string, enabled bool) discovery {
	return discovery{
		Name:             name,
		UniqueID:         b.objectPrefix + "_" + key,
		ObjectID:         b.objectPrefix + "_" + key,
		StateTopic:       b.StateTopic(),
		EnabledByDefault: enabled,
		Availability: []availability{
			{Topic: b.StatusTopic()},
			{Topic: b.AvailabilityTopic(), ValueTemplate: fmt.Sprintf("{{ value_json.%s }}", key)},
		},
		AvailabilityMode: "all",
		Device: device{
			Identifiers:  []string{"ebike_" + b.cfg.BikeID},
			Name:         b.cfg.BikeName,
			Manufacturer: "Bosch",
			Model:        "eBike with ConnectModule",
		},
	}
}

// Announce publishes retained discovery configs for every descriptor and
// marks the bridge online.
func (b *Bridge) Announce() error {
	for _, s := range reading.Sensors {
		d := b.base(s.Key, s.Name, s.EnabledByDefault)
		d.ValueTemplate = fmt.Sprintf("{{ value_json.%s }}", s.Key)
		d.Unit = s.Unit
		d.DeviceClass = s.DeviceClass
		d.StateClass = s.StateClass
		if err := b.publishJSON(b.configTopic("sensor", s.Key), true, d); err != nil {
			return err
		}
	}

	for _, s := range reading.BinarySensors {
		d := b.base(s.Key, s.Name, s.EnabledByDefault)
		d.ValueTemplate = fmt.Sprintf("{{ 'ON' if value_json.%s else 'OFF' }}", s.Key)
		d.DeviceClass = s.DeviceClass
		d.PayloadOn = "ON"
		d.PayloadOff = "OFF"
		if err := b.publishJSON(b.configTopic("binary_sensor", s.Key), true, d); err != nil {
			return err
		}
	}

	b.log.Info("published discovery configs", "sensors", len(reading.Sensors), "binary_sensors", len(reading.BinarySensors))
	return b.publish(b.StatusTopic(), true, []byte(payloadOnline))
}

// Publish sends the state and per-entity availability of s. Before the first
// successful cycle there is nothing to publish besides availability.
func (b *Bridge) Publish(s coordinator.Snapshot) error {
	n := len(reading.Sensors) + len(reading.BinarySensors)
	state := make(map[string]any, n)
	avail := make(map[string]string, n)

	for _, d := range reading.Sensors {
		avail[d.Key] = onlineIf(reading.Available(s.LastUpdateSuccess, s.Reading, d.Value))
		state[d.Key] = nil
		if s.Reading != nil {
			if v := d.Value(s.Reading); v != nil {
				state[d.Key] = *v
			}
		}
	}
	for _, d := range reading.BinarySensors {
		avail[d.Key] = onlineIf(reading.Available(s.LastUpdateSuccess, s.Reading, d.Value))
		state[d.Key] = nil
		if s.Reading != nil {
			if v := d.Value(s.Reading); v != nil {
				state[d.Key] = *v
			}
		}
	}

	if s.Reading != nil {
		if err := b.publishJSON(b.StateTopic(), true, state); err != nil {
			return err
		}
	}
	return b.publishJSON(b.AvailabilityTopic(), true, avail)
}

// Observe publishes s and logs failures. It is meant for coordinator.OnUpdate.
func (b *Bridge) Observe(s coordinator.Snapshot) {
	if err := b.Publish(s); err != nil {
		b.log.Error(err, "failed to publish state")
	}
}

// Offline marks the bridge offline, e.g. on shutdown.
func (b *Bridge) Offline() error {
	return b.publish(b.StatusTopic(), true, []byte(payloadOffline))
}

func onlineIf(ok bool) string {
	if ok {
		return payloadOnline
	}
	return payloadOffline
}

func (b *Bridge) publishJSON(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	return b.publish(topic, retained, payload)
}

func (b *Bridge) publish(topic string, retained bool, payload []byte) error {
	token := b.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}
