package main

import (
	"context"
	"fmt"
	"math"

	"people-counter-go/config"
	"people-counter-go/internal/counter"
	"people-counter-go/internal/database"
	"people-counter-go/internal/events"
	"people-counter-go/internal/integrations/opencv"
	"people-counter-go/internal/metrics"
	"people-counter-go/internal/reid"
	"people-counter-go/internal/tracker"
	"people-counter-go/internal/worker"

	log "github.com/sirupsen/logrus"
)

// pipeline owns the camera, detector, Re-ID persistence and the worker
// driving them.
type pipeline struct {
	worker    *worker.Worker
	capture   *opencv.Capture
	detector  *opencv.Service
	ledger    *reid.Ledger
	persister *reid.Persister
}

func newPipeline(ctx context.Context, cfg *config.Config, store *database.Store, pub *events.Dispatcher, m *metrics.Metrics) (*pipeline, error) {
	lineX := float64(cfg.Counter.LineX)
	dirIn := cfg.Counter.DirectionIn
	lineSet := cfg.Counter.LineX > 0

	// A line moved at runtime wins over the config file.
	saved, err := store.CameraSettings(ctx, cfg.Camera.Name)
	if err != nil {
		log.Warnf("Failed to load camera settings, using config: %v", err)
	} else if saved != nil && (math.IsNaN(saved.LineX) || math.IsInf(saved.LineX, 0)) {
		log.Warnf("Ignoring stored line x=%v for camera '%s', using config", saved.LineX, cfg.Camera.Name)
	} else if saved != nil {
		lineX, dirIn, lineSet = saved.LineX, saved.DirectionIn, true
		log.Infof("Restored counting line x=%.1f (%s) for camera '%s'", lineX, dirIn, cfg.Camera.Name)
	}

	orientation, err := counter.ParseOrientation(dirIn)
	if err != nil {
		return nil, err
	}
	c, err := counter.New(counter.Config{
		LineX:        lineX,
		HysteresisPx: cfg.Counter.HysteresisPx,
		DirectionIn:  orientation,
		MaxAge:       cfg.Counter.TrackMaxAge,
	})
	if err != nil {
		return nil, err
	}

	p := &pipeline{}

	var matcher *reid.Matcher
	if cfg.ReID.Enabled {
		fileStore := reid.NewFileStore(cfg.ReID.LedgerFile)
		p.persister = reid.NewPersister(fileStore)
		p.ledger, err = reid.NewLedger(reid.LedgerConfig{
			SimilarityThreshold: cfg.ReID.SimilarityThreshold,
			MaxPersons:          cfg.ReID.MaxPersons,
			SaveEvery:           cfg.ReID.SaveEvery,
		}, reid.WithSaver(p.persister))
		if err != nil {
			p.close()
			return nil, err
		}
		fileStore.LoadInto(p.ledger)
		matcher = reid.NewMatcher(p.ledger)
	}

	p.detector, err = opencv.NewService(cfg.OpenCV)
	if err != nil {
		p.close()
		return nil, err
	}
	p.capture, err = opencv.OpenCapture(cfg.Camera)
	if err != nil {
		p.close()
		return nil, err
	}

	p.worker, err = worker.New(worker.Config{
		Camera:          cfg.Camera.Name,
		LineSet:         lineSet,
		CleanupInterval: cfg.Counter.TrackCleanupInterval,
	}, worker.Deps{
		Source:    p.capture,
		Detector:  p.detector,
		Tracker:   tracker.NewIoUTracker(cfg.OpenCV.IoUThreshold, cfg.OpenCV.MaxNoMatch),
		Counter:   c,
		Matcher:   matcher,
		Publisher: pub,
		Settings:  store,
		Metrics:   m,
	})
	if err != nil {
		p.close()
		return nil, fmt.Errorf("worker: %w", err)
	}
	return p, nil
}

// close releases the camera and detector and flushes the Re-ID ledger. The
// worker must have stopped.
func (p *pipeline) close() {
	if p.capture != nil {
		if err := p.capture.Close(); err != nil {
			log.Warnf("Failed to close camera: %v", err)
		}
	}
	if p.detector != nil {
		if err := p.detector.Close(); err != nil {
			log.Warnf("Failed to close detector: %v", err)
		}
	}
	if p.persister != nil {
		if p.ledger != nil {
			p.persister.Save(p.ledger.Snapshot())
		}
		if err := p.persister.Close(); err != nil {
			log.Warnf("Failed to flush Re-ID ledger: %v", err)
		}
	}
}
