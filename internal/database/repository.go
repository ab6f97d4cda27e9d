package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"people-counter-go/internal/counter"
	"people-counter-go/internal/events"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Standard-Seitengröße für Event-Listen
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// ListOptions filtert und paginiert Crossing-Events.
type ListOptions struct {
	Skip      int
	Limit     int
	Start     *time.Time
	End       *time.Time
	Direction string
}

// DirectionCounts enthält die Summen pro Richtung.
type DirectionCounts struct {
	In  int64 `json:"in"`
	Out int64 `json:"out"`
}

// Store kapselt alle Datenbank-Operationen
type Store struct {
	db *gorm.DB
}

// NewStore erstellt eine neue Store-Instanz
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Crossing-Methoden

// SaveCrossing speichert ein Crossing-Event
func (s *Store) SaveCrossing(ctx context.Context, e events.CrossingEvent) error {
	row := CrossingEvent{
		EventID:   e.ID.String(),
		TrackID:   e.TrackID,
		PersonID:  e.PersonID,
		Direction: string(e.Direction),
		Camera:    e.Camera,
		Timestamp: e.Timestamp.UTC(),
		BBox:      datatypes.NewJSONType(e.BBox),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert crossing event: %w", err)
	}
	return nil
}

// ListCrossings holt Events mit Filter und Pagination, neueste zuerst
func (s *Store) ListCrossings(ctx context.Context, opts ListOptions) ([]CrossingEvent, int64, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)

	query := func() *gorm.DB {
		q := s.filtered(ctx, opts.Start, opts.End)
		if opts.Direction != "" {
			q = q.Where("direction = ?", opts.Direction)
		}
		return q
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count crossing events: %w", err)
	}

	var rows []CrossingEvent
	if err := query().Order("timestamp DESC").Order("id DESC").
		Limit(limit).Offset(max(opts.Skip, 0)).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list crossing events: %w", err)
	}
	return rows, total, nil
}

// CountByDirection zählt Events pro Richtung im Zeitraum
func (s *Store) CountByDirection(ctx context.Context, start, end *time.Time) (DirectionCounts, error) {
	var rows []struct {
		Direction string
		N         int64
	}
	err := s.filtered(ctx, start, end).
		Select("direction, COUNT(*) AS n").
		Group("direction").
		Scan(&rows).Error
	if err != nil {
		return DirectionCounts{}, fmt.Errorf("failed to count crossings by direction: %w", err)
	}

	var counts DirectionCounts
	for _, r := range rows {
		switch counter.Direction(r.Direction) {
		case counter.DirectionIn:
			counts.In = r.N
		case counter.DirectionOut:
			counts.Out = r.N
		}
	}
	return counts, nil
}

// ClearCrossings löscht alle Crossing-Events endgültig
func (s *Store) ClearCrossings(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Unscoped().Where("1 = 1").Delete(&CrossingEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clear crossing events: %w", result.Error)
	}
	log.Infof("Deleted %d crossing events", result.RowsAffected)
	return result.RowsAffected, nil
}

func (s *Store) filtered(ctx context.Context, start, end *time.Time) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&CrossingEvent{})
	if start != nil {
		q = q.Where("timestamp >= ?", start.UTC())
	}
	if end != nil {
		q = q.Where("timestamp <= ?", end.UTC())
	}
	return q
}

// Sighting-Methoden

// SaveSighting speichert eine Re-ID Zuordnung
func (s *Store) SaveSighting(ctx context.Context, e events.IdentityEvent) error {
	row := IdentitySighting{
		PersonID:   e.PersonID,
		TrackID:    e.TrackID,
		Similarity: e.Similarity,
		New:        e.New,
		Camera:     e.Camera,
		Timestamp:  e.Timestamp.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert identity sighting: %w", err)
	}
	return nil
}

// SightingsForPerson holt die letzten Sichtungen einer Person
func (s *Store) SightingsForPerson(ctx context.Context, personID string, limit int) ([]IdentitySighting, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var rows []IdentitySighting
	err := s.db.WithContext(ctx).
		Where("person_id = ?", personID).
		Order("timestamp DESC").Order("id DESC").
		Limit(min(limit, MaxListLimit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sightings for %s: %w", personID, err)
	}
	return rows, nil
}

// Aufräum-Methoden

// DeleteOlderThan entfernt Events und Sichtungen vor cutoff endgültig
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().Where("timestamp < ?", cutoff.UTC()).Delete(&CrossingEvent{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete old crossing events: %w", res.Error)
		}
		total += res.RowsAffected

		res = tx.Unscoped().Where("timestamp < ?", cutoff.UTC()).Delete(&IdentitySighting{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete old identity sightings: %w", res.Error)
		}
		total += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Kamera-Einstellungen

// CameraSettings holt die gespeicherte Linie einer Kamera. Kein Eintrag ist kein Fehler.
func (s *Store) CameraSettings(ctx context.Context, camera string) (*CameraSettings, error) {
	var cs CameraSettings
	err := s.db.WithContext(ctx).Where("camera = ?", camera).First(&cs).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load camera settings for %s: %w", camera, err)
	}
	return &cs, nil
}

// SaveCameraSettings legt die Linie einer Kamera an oder aktualisiert sie
func (s *Store) SaveCameraSettings(ctx context.Context, camera string, lineX float64, directionIn string) error {
	cs := CameraSettings{Camera: camera, LineX: lineX, DirectionIn: directionIn}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "camera"}},
		DoUpdates: clause.AssignmentColumns([]string{"line_x", "direction_in", "updated_at"}),
	}).Create(&cs).Error
	if err != nil {
		return fmt.Errorf("failed to save camera settings for %s: %w", camera, err)
	}
	return nil
}

// Event-Handler

// Name implementiert events.Handler
func (s *Store) Name() string { return "database" }

// Handle persistiert Crossing- und Identity-Events; Stats-Events werden ignoriert
func (s *Store) Handle(e events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch ev := e.(type) {
	case events.CrossingEvent:
		return s.SaveCrossing(ctx, ev)
	case events.IdentityEvent:
		return s.SaveSighting(ctx, ev)
	}
	return nil
}
