package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"people-counter-go/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Verfügbarkeits-Payloads
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Client ist der MQTT-Client für Zählerstände, Ereignisse und Steuerbefehle
type Client struct {
	config   config.MQTTConfig
	camera   string
	client   mqtt.Client
	mu       sync.RWMutex
	handlers []MessageHandler
}

// MessageHandler ist ein Interface für Handler, die MQTT-Nachrichten verarbeiten
type MessageHandler interface {
	HandleMessage(topic string, payload []byte)
}

// NewClient erstellt einen neuen MQTT-Client für eine Kamera
func NewClient(cfg config.MQTTConfig, camera string) *Client {
	return &Client{
		config: cfg,
		camera: camera,
	}
}

// RegisterHandler registriert einen neuen MessageHandler für Steuerbefehle
func (c *Client) RegisterHandler(handler MessageHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, handler)
	c.mu.Unlock()
	log.Debug("Registered new MQTT message handler")
}

// Start verbindet den Client mit dem Broker
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	// Optionale Authentifizierung
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// Broker meldet "offline", wenn die Verbindung abreißt
	opts.SetWill(StatusTopic(c.config.TopicPrefix), PayloadOffline, 1, true)

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)

	// Automatische Wiederverbindung
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop meldet "offline" und trennt die Verbindung
func (c *Client) Stop() {
	if c.IsConnected() {
		if err := c.PublishRetain(StatusTopic(c.config.TopicPrefix), PayloadOffline); err != nil {
			log.Warnf("Failed to publish offline status: %v", err)
		}
		log.Info("Disconnecting MQTT client...")
		c.client.Disconnect(250) // 250ms Wartezeit
		log.Info("MQTT client disconnected")
	}
}

// IsConnected prüft, ob der Client verbunden ist
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

// onConnectHandler wird nach jedem (Wieder-)Verbinden aufgerufen
func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)

	status := StatusTopic(c.config.TopicPrefix)
	if token := client.Publish(status, 1, true, PayloadOnline); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to publish online status: %v", token.Error())
	}

	c.mu.RLock()
	subscribe := len(c.handlers) > 0
	c.mu.RUnlock()
	if !subscribe {
		return
	}

	topic := CommandTopic(c.config.TopicPrefix, c.camera, "+")
	log.Infof("Subscribing to MQTT topic: %s", topic)
	if token := client.Subscribe(topic, 1, c.messageHandler); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to subscribe to topic %s: %v", topic, token.Error())
	}
}

// connectionLostHandler wird aufgerufen, wenn die Verbindung verloren geht
func (c *Client) connectionLostHandler(_ mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
}

// messageHandler leitet eingehende Nachrichten an alle Handler weiter
func (c *Client) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	log.Debugf("Received MQTT message on topic: %s", msg.Topic())

	c.mu.RLock()
	handlers := append([]MessageHandler(nil), c.handlers...)
	c.mu.RUnlock()

	for _, handler := range handlers {
		go handler.HandleMessage(msg.Topic(), msg.Payload())
	}
}

// PublishMessage veröffentlicht eine Nachricht an ein MQTT-Topic
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	payloadBytes, err := encodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, token.Error())
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRetain veröffentlicht eine Nachricht mit dem Retain-Flag
func (c *Client) PublishRetain(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish veröffentlicht eine Nachricht ohne Retain-Flag
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, false)
}

// encodePayload wandelt Zeichenketten und Zahlen direkt um, alles andere als JSON
func encodePayload(payload interface{}) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return []byte(fmt.Sprintf("%v", p)), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return b, nil
	}
}
