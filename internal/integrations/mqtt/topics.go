package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Befehle, die über <prefix>/<camera>/command/<name> empfangen werden
const (
	CommandReset = "reset"
	CommandLine  = "line"
)

// StatusTopic ist das Verfügbarkeits-Topic der Anwendung
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// CameraTopic liefert <prefix>/<camera>/<leaf>
func CameraTopic(prefix, camera, leaf string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, topicSafe(camera), leaf)
}

// CommandTopic liefert das Topic eines Steuerbefehls; "+" abonniert alle
func CommandTopic(prefix, camera, command string) string {
	return CameraTopic(prefix, camera, "command/"+command)
}

// topicSafe ersetzt Zeichen, die in MQTT-Topics Sonderbedeutung haben
func topicSafe(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_").Replace(strings.ToLower(s))
}

// CommandTarget wird von Steuerbefehlen angesprochen
type CommandTarget interface {
	Reset()
	SetLine(ctx context.Context, x float64) error
}

// CommandHandler setzt MQTT-Steuerbefehle in Aufrufe am Zähler um
type CommandHandler struct {
	prefix string
	camera string
	target CommandTarget
}

// NewCommandHandler erstellt einen Handler für die Befehle einer Kamera
func NewCommandHandler(prefix, camera string, target CommandTarget) *CommandHandler {
	return &CommandHandler{prefix: prefix, camera: camera, target: target}
}

// HandleMessage implementiert MessageHandler
func (h *CommandHandler) HandleMessage(topic string, payload []byte) {
	switch topic {
	case CommandTopic(h.prefix, h.camera, CommandReset):
		log.Info("MQTT: Zähler wird zurückgesetzt")
		h.target.Reset()
	case CommandTopic(h.prefix, h.camera, CommandLine):
		x, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		if err != nil {
			log.Warnf("MQTT: ungültige Linienposition %q", payload)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.target.SetLine(ctx, x); err != nil {
			log.Warnf("MQTT: Linie konnte nicht gesetzt werden: %v", err)
			return
		}
		log.Infof("MQTT: Linie auf x=%.1f gesetzt", x)
	default:
		log.Debugf("MQTT: unbekannter Befehl auf %s", topic)
	}
}
