package config

import (
	"fmt"
	"math"
	"time"
)

// Validate checks if the configuration is valid
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Counter
	if cfg.Counter.LineX < 0 {
		return fmt.Errorf("counter.line_x must be >= 0")
	}
	if math.IsNaN(cfg.Counter.HysteresisPx) || math.IsInf(cfg.Counter.HysteresisPx, 0) || cfg.Counter.HysteresisPx < 0 {
		return fmt.Errorf("counter.hysteresis_px must be >= 0")
	}
	if cfg.Counter.DirectionIn != "L->R" && cfg.Counter.DirectionIn != "R->L" {
		return fmt.Errorf("counter.direction_in must be \"L->R\" or \"R->L\", got %q", cfg.Counter.DirectionIn)
	}
	if cfg.Counter.TrackMaxAge <= 0 {
		return fmt.Errorf("counter.track_max_age must be > 0")
	}
	if cfg.Counter.TrackCleanupInterval <= 0 {
		cfg.Counter.TrackCleanupInterval = time.Second
	}

	// Re-ID
	if cfg.ReID.SimilarityThreshold < 0 || cfg.ReID.SimilarityThreshold > 1 {
		return fmt.Errorf("reid.similarity_threshold must be within [0,1], got %v", cfg.ReID.SimilarityThreshold)
	}
	if cfg.ReID.MaxPersons <= 0 {
		return fmt.Errorf("reid.max_persons must be > 0")
	}
	if cfg.ReID.Retention <= 0 {
		return fmt.Errorf("reid.retention must be > 0")
	}
	if cfg.ReID.SaveEvery <= 0 {
		return fmt.Errorf("reid.save_every must be > 0")
	}

	// MQTT
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "people-counter"
	}

	if cfg.Cleanup.Interval <= 0 {
		cfg.Cleanup.Interval = 24 * time.Hour
	}

	return nil
}
