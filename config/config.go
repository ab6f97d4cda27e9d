package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config repräsentiert die Hauptkonfiguration der Anwendung
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Camera  CameraConfig  `mapstructure:"camera"`
	Counter CounterConfig `mapstructure:"counter"`
	ReID    ReIDConfig    `mapstructure:"reid"`
	OpenCV  OpenCVConfig  `mapstructure:"opencv"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Cleanup CleanupConfig `mapstructure:"cleanup"`
}

// ServerConfig enthält Server-bezogene Einstellungen
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DataDir  string `mapstructure:"data_dir"`
	Timezone string `mapstructure:"timezone"`
	// Erlaubte Origins für CORS; leer = alle
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LogConfig enthält Log-Einstellungen
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DBConfig enthält Datenbankeinstellungen
type DBConfig struct {
	File string `mapstructure:"file"` // SQLite-Datei
}

// CameraConfig beschreibt die Videoquelle
type CameraConfig struct {
	Name   string `mapstructure:"name"`
	Source string `mapstructure:"source"` // Geräteindex ("0") oder Stream-URL
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
}

// CounterConfig enthält die Parameter der Linienzählung
type CounterConfig struct {
	LineX                int           `mapstructure:"line_x"` // 0 = Bildmitte
	HysteresisPx         float64       `mapstructure:"hysteresis_px"`
	DirectionIn          string        `mapstructure:"direction_in"` // "L->R" oder "R->L"
	TrackMaxAge          time.Duration `mapstructure:"track_max_age"`
	TrackCleanupInterval time.Duration `mapstructure:"track_cleanup_interval"`
}

// ReIDConfig enthält die Parameter der Wiedererkennung
type ReIDConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	MaxPersons          int           `mapstructure:"max_persons"`
	Retention           time.Duration `mapstructure:"retention"`
	LedgerFile          string        `mapstructure:"ledger_file"`
	SaveEvery           int           `mapstructure:"save_every"`
}

// PersonDetectionConfig enthält Konfigurationsoptionen für die OpenCV-Personenerkennung
type PersonDetectionConfig struct {
	Method              string  `mapstructure:"method"`               // "hog" oder "dnn"
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"` // Schwellenwert für die Erkennungskonfidenz
	Backend             string  `mapstructure:"backend"`              // DNN-Backend: "default", "cuda", "opencl"
	Target              string  `mapstructure:"target"`               // DNN-Target: "cpu", "cuda", "opencl"
	ModelPath           string  `mapstructure:"model_path"`
	ConfigPath          string  `mapstructure:"config_path"`
}

// OpenCVConfig enthält Einstellungen für die OpenCV-Integration
type OpenCVConfig struct {
	Enabled         bool                  `mapstructure:"enabled"`
	UseGPU          bool                  `mapstructure:"use_gpu"`
	PersonDetection PersonDetectionConfig `mapstructure:"person_detection"`
	// Tracker-Parameter für die Zuordnung von Erkennungen zu Track-IDs
	IoUThreshold float64 `mapstructure:"iou_threshold"`
	MaxNoMatch   int     `mapstructure:"max_no_match"`
}

// MQTTConfig enthält die Konfiguration für den MQTT-Client
type MQTTConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	Broker        string              `mapstructure:"broker"`
	Port          int                 `mapstructure:"port"`
	Username      string              `mapstructure:"username"`
	Password      string              `mapstructure:"password"`
	ClientID      string              `mapstructure:"client_id"`
	TopicPrefix   string              `mapstructure:"topic_prefix"`
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
}

// HomeAssistantConfig enthält die Konfiguration für die Home Assistant Integration
type HomeAssistantConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// CleanupConfig enthält Bereinigungseinstellungen
type CleanupConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	Interval      time.Duration `mapstructure:"interval"`
}

// Load lädt die Konfiguration aus Datei, Umgebungsvariablen und Standardwerten
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	// Umgebungsvariablen überlagern die Konfiguration
	v.AutomaticEnv()
	v.SetEnvPrefix("PEOPLE_COUNTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// setDefaults legt Standardwerte für die Konfiguration fest
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.data_dir", "/data")
	v.SetDefault("server.timezone", "UTC")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/data/logs/people-counter.log")

	v.SetDefault("db.file", "/data/people-counter.db")

	v.SetDefault("camera.name", "entrance")
	v.SetDefault("camera.source", "0")
	v.SetDefault("camera.width", 1280)
	v.SetDefault("camera.height", 720)

	v.SetDefault("counter.line_x", 0)
	v.SetDefault("counter.hysteresis_px", 5.0)
	v.SetDefault("counter.direction_in", "L->R")
	v.SetDefault("counter.track_max_age", "10s")
	v.SetDefault("counter.track_cleanup_interval", "1s")

	v.SetDefault("reid.enabled", false)
	v.SetDefault("reid.similarity_threshold", 0.65)
	v.SetDefault("reid.max_persons", 100)
	v.SetDefault("reid.retention", "168h") // 7 Tage
	v.SetDefault("reid.ledger_file", "/data/reid_ledger.msgpack")
	v.SetDefault("reid.save_every", 10)

	v.SetDefault("opencv.enabled", true)
	v.SetDefault("opencv.use_gpu", false)
	v.SetDefault("opencv.person_detection.method", "hog")
	v.SetDefault("opencv.person_detection.confidence_threshold", 0.5)
	v.SetDefault("opencv.person_detection.backend", "default")
	v.SetDefault("opencv.person_detection.target", "cpu")
	v.SetDefault("opencv.iou_threshold", 0.3)
	v.SetDefault("opencv.max_no_match", 30)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "people-counter-go")
	v.SetDefault("mqtt.topic_prefix", "people-counter")
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discovery_prefix", "homeassistant")

	v.SetDefault("cleanup.retention_days", 90)
	v.SetDefault("cleanup.interval", "24h")
}

// ensureDirectories stellt sicher, dass alle erforderlichen Verzeichnisse existieren
func ensureDirectories(cfg *Config) error {
	if cfg.Server.DataDir != "" {
		if err := os.MkdirAll(cfg.Server.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	if cfg.DB.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DB.File), 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	if cfg.ReID.LedgerFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.ReID.LedgerFile), 0755); err != nil {
			return fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	return nil
}
