package homeassistant

import (
	"fmt"
	"strings"

	"people-counter-go/internal/events"
	"people-counter-go/internal/integrations/mqtt"
)

// Publisher veröffentlicht Zählerereignisse via MQTT und implementiert
// events.Handler
type Publisher struct {
	publisher   MessagePublisher
	topicPrefix string
}

// NewPublisher erstellt einen neuen Publisher
func NewPublisher(publisher MessagePublisher, topicPrefix string) *Publisher {
	return &Publisher{publisher: publisher, topicPrefix: topicPrefix}
}

// Name implementiert events.Handler
func (p *Publisher) Name() string { return "mqtt" }

// Handle veröffentlicht Durchgänge und Identitäten als Ereignis, Zählerstände
// retained im State-Topic
func (p *Publisher) Handle(e events.Event) error {
	var (
		camera string
		leaf   string
		retain bool
	)
	switch ev := e.(type) {
	case events.CrossingEvent:
		camera, leaf = ev.Camera, "crossing"
	case events.IdentityEvent:
		camera, leaf = ev.Camera, "identity"
	case events.StatsEvent:
		camera, leaf, retain = ev.Camera, "state", true
	default:
		return fmt.Errorf("unbekannter Ereignistyp %s", e.Kind())
	}

	topic := mqtt.CameraTopic(p.topicPrefix, camera, leaf)
	if err := p.publisher.PublishMessage(topic, e, retain); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// slug normalisiert einen Namen für IDs (Kleinbuchstaben, Unterstriche)
func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s)
}
