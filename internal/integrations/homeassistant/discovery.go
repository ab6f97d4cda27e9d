package homeassistant

import (
	"fmt"

	"people-counter-go/internal/integrations/mqtt"

	log "github.com/sirupsen/logrus"
)

const (
	// Component-Typ für Sensoren
	ComponentSensor = "sensor"

	// Node-ID für den Personenzähler
	NodeID = "people_counter"
)

// MessagePublisher ist der Teil des MQTT-Clients, den die Integration nutzt
type MessagePublisher interface {
	PublishMessage(topic string, payload interface{}, retain bool) error
}

// SensorConfig repräsentiert die MQTT-Discovery-Konfiguration für einen Sensor in Home Assistant
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	Icon                string  `json:"icon,omitempty"`
	ValueTemplate       string  `json:"value_template,omitempty"`
	StateClass          string  `json:"state_class,omitempty"`
	UnitOfMeasurement   string  `json:"unit_of_measurement,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device repräsentiert die Geräteinformationen für Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// sensor beschreibt einen Wert aus dem State-Topic
type sensor struct {
	key        string
	name       string
	icon       string
	stateClass string
}

var sensors = []sensor{
	{"in_count", "In", "mdi:account-arrow-right", "total_increasing"},
	{"out_count", "Out", "mdi:account-arrow-left", "total_increasing"},
	{"occupancy", "Occupancy", "mdi:account-group", "measurement"},
	{"active_tracks", "Active Tracks", "mdi:motion-sensor", "measurement"},
}

// DiscoveryManager verwaltet die Home Assistant MQTT Discovery
type DiscoveryManager struct {
	publisher       MessagePublisher
	discoveryPrefix string
	topicPrefix     string
	camera          string
}

// NewDiscoveryManager erstellt einen neuen Manager für Home Assistant Discovery
func NewDiscoveryManager(publisher MessagePublisher, discoveryPrefix, topicPrefix, camera string) *DiscoveryManager {
	if discoveryPrefix == "" {
		discoveryPrefix = "homeassistant"
	}
	return &DiscoveryManager{
		publisher:       publisher,
		discoveryPrefix: discoveryPrefix,
		topicPrefix:     topicPrefix,
		camera:          camera,
	}
}

// SensorConfigs liefert die Discovery-Konfigurationen, indiziert nach Topic
func (dm *DiscoveryManager) SensorConfigs() map[string]SensorConfig {
	objectID := NodeID + "_" + slug(dm.camera)
	device := &Device{
		Identifiers:  []string{objectID},
		Name:         fmt.Sprintf("People Counter %s", dm.camera),
		Manufacturer: "People Counter Go",
		Model:        "Line Counter",
	}

	configs := make(map[string]SensorConfig, len(sensors))
	for _, s := range sensors {
		cfg := SensorConfig{
			Name:                s.name,
			UniqueID:            fmt.Sprintf("%s_%s", objectID, s.key),
			StateTopic:          mqtt.CameraTopic(dm.topicPrefix, dm.camera, "state"),
			Icon:                s.icon,
			ValueTemplate:       fmt.Sprintf("{{ value_json.%s }}", s.key),
			StateClass:          s.stateClass,
			UnitOfMeasurement:   "people",
			AvailabilityTopic:   mqtt.StatusTopic(dm.topicPrefix),
			PayloadAvailable:    mqtt.PayloadOnline,
			PayloadNotAvailable: mqtt.PayloadOffline,
			Device:              device,
		}
		if s.key == "active_tracks" {
			cfg.UnitOfMeasurement = ""
		}
		topic := fmt.Sprintf("%s/%s/%s/%s/config", dm.discoveryPrefix, ComponentSensor, objectID, s.key)
		configs[topic] = cfg
	}
	return configs
}

// Register veröffentlicht alle Sensor-Konfigurationen (retained)
func (dm *DiscoveryManager) Register() error {
	for topic, cfg := range dm.SensorConfigs() {
		if err := dm.publisher.PublishMessage(topic, cfg, true); err != nil {
			return fmt.Errorf("failed to publish discovery configuration: %w", err)
		}
	}
	log.Infof("Home Assistant Sensoren für Kamera %s registriert", dm.camera)
	return nil
}

// PublishAvailability veröffentlicht den Online-Status
func (dm *DiscoveryManager) PublishAvailability(online bool) error {
	status := mqtt.PayloadOffline
	if online {
		status = mqtt.PayloadOnline
	}
	return dm.publisher.PublishMessage(mqtt.StatusTopic(dm.topicPrefix), status, true)
}
