package opencv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"people-counter-go/config"
	"people-counter-go/internal/worker"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// ErrNoFrame wird geliefert, wenn die Kamera kein Bild liefert
var ErrNoFrame = errors.New("no frame from camera")

// Nach so vielen Fehlversuchen in Folge wird die Quelle neu geöffnet
const reopenAfter = 50

// Capture liest Bilder aus einer Kamera oder einem Stream und implementiert
// worker.FrameSource
type Capture struct {
	cfg      config.CameraConfig
	mu       sync.Mutex
	vc       *gocv.VideoCapture
	mat      gocv.Mat
	failures int
	closed   bool
}

// OpenCapture öffnet die konfigurierte Quelle. Eine rein numerische Quelle
// ist ein Geräteindex, alles andere eine Datei oder Stream-URL.
func OpenCapture(cfg config.CameraConfig) (*Capture, error) {
	c := &Capture{cfg: cfg, mat: gocv.NewMat()}
	if err := c.open(); err != nil {
		c.mat.Close()
		return nil, err
	}
	return c, nil
}

func (c *Capture) open() error {
	var device interface{} = c.cfg.Source
	if idx, err := strconv.Atoi(c.cfg.Source); err == nil {
		device = idx
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("konnte Kamera %q nicht öffnen: %w", c.cfg.Source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("Kamera %q ist nicht verfügbar", c.cfg.Source)
	}

	if c.cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	}
	if c.cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	}

	log.Infof("Kamera %s geöffnet (%s, %.0fx%.0f)", c.cfg.Name, c.cfg.Source,
		vc.Get(gocv.VideoCaptureFrameWidth), vc.Get(gocv.VideoCaptureFrameHeight))
	c.vc = vc
	c.failures = 0
	return nil
}

// Read liefert das nächste Bild
func (c *Capture) Read(ctx context.Context) (worker.Frame, error) {
	if err := ctx.Err(); err != nil {
		return worker.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return worker.Frame{}, fmt.Errorf("Kamera ist geschlossen")
	}

	if c.vc == nil || !c.vc.Read(&c.mat) || c.mat.Empty() {
		c.failures++
		if c.failures >= reopenAfter {
			c.reopen()
		}
		return worker.Frame{}, ErrNoFrame
	}
	c.failures = 0

	img, err := c.mat.ToImage()
	if err != nil {
		return worker.Frame{}, fmt.Errorf("konnte Bild nicht konvertieren: %w", err)
	}
	return worker.Frame{Image: img, Timestamp: time.Now()}, nil
}

func (c *Capture) reopen() {
	log.Warnf("Kamera %s liefert keine Bilder, öffne neu", c.cfg.Name)
	if c.vc != nil {
		c.vc.Close()
		c.vc = nil
	}
	if err := c.open(); err != nil {
		log.Errorf("Neu öffnen fehlgeschlagen: %v", err)
		c.failures = 0
	}
}

// Close schließt die Kamera
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	var err error
	if c.vc != nil {
		err = c.vc.Close()
	}
	if cerr := c.mat.Close(); err == nil {
		err = cerr
	}
	return err
}
