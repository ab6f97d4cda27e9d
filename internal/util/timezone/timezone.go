package timezone

import (
	"os"
	"sync"
	"time"
	_ "time/tzdata" // Zeitzonen auch in minimalen Containern

	log "github.com/sirupsen/logrus"
)

var (
	mu              sync.RWMutex
	currentLocation *time.Location
)

// Initialize setzt die Zeitzone. Reihenfolge: Konfiguration, TZ-Umgebungsvariable, UTC.
// Sollte beim Programmstart aufgerufen werden.
func Initialize(name string) *time.Location {
	tzName := name
	if tzName == "" {
		tzName = os.Getenv("TZ")
	}
	if tzName == "" {
		tzName = "UTC"
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", tzName, err)
		loc = time.UTC
	} else {
		log.Infof("Timezone initialized to %s", tzName)
	}

	mu.Lock()
	currentLocation = loc
	mu.Unlock()
	return loc
}

// Location liefert die konfigurierte Zeitzone, UTC falls nicht initialisiert
func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	if currentLocation == nil {
		return time.UTC
	}
	return currentLocation
}

// Now gibt die aktuelle Zeit in der konfigurierten Zeitzone zurück
func Now() time.Time {
	return time.Now().In(Location())
}

// ISO8601 formatiert die Zeit im RFC3339-Format in der konfigurierten Zeitzone
func ISO8601(t time.Time) string {
	return t.In(Location()).Format(time.RFC3339)
}

// StartOfDay liefert Mitternacht des Tages von t in der konfigurierten Zeitzone
func StartOfDay(t time.Time) time.Time {
	t = t.In(Location())
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Parse liest einen Zeitpunkt aus einer Abfrage. Akzeptiert werden RFC3339
// und Datumsangaben ohne Zone, die in der konfigurierten Zeitzone gelten.
func Parse(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", value, Location()); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", value, Location())
}
