package opencv

import (
	"context"
	"fmt"
	"sync"

	"people-counter-go/config"
	"people-counter-go/internal/detection"
	"people-counter-go/internal/worker"

	log "github.com/sirupsen/logrus"
)

// Service ist der Hauptdienst für die OpenCV-Integration und stellt den
// Detector für den Worker bereit
type Service struct {
	detector *PersonDetector
	mutex    sync.Mutex
	closed   bool
}

// NewService erstellt und initialisiert den OpenCV-Service
func NewService(cfg config.OpenCVConfig) (*Service, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("OpenCV ist in der Konfiguration deaktiviert")
	}

	detector := NewPersonDetector(cfg)
	if err := detector.Initialize(); err != nil {
		return nil, fmt.Errorf("konnte OpenCV Personendetektor nicht initialisieren: %w", err)
	}
	log.Infof("OpenCV-Service bereit (Methode: %s)", detector.Method())

	return &Service{detector: detector}, nil
}

// Detect implementiert worker.Detector
func (s *Service) Detect(ctx context.Context, frame worker.Frame) ([]detection.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil, fmt.Errorf("OpenCV-Service ist geschlossen")
	}
	if frame.Image == nil {
		return nil, fmt.Errorf("Bild fehlt")
	}
	return s.detector.DetectImage(frame.Image)
}

// Close gibt die Ressourcen des OpenCV-Service frei
func (s *Service) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.detector.Close()
}
