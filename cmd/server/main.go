package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"people-counter-go/config"
	"people-counter-go/internal/api/handlers"
	"people-counter-go/internal/cleanup"
	"people-counter-go/internal/database"
	"people-counter-go/internal/events"
	"people-counter-go/internal/integrations/homeassistant"
	"people-counter-go/internal/integrations/mqtt"
	"people-counter-go/internal/logger"
	"people-counter-go/internal/metrics"
	"people-counter-go/internal/sse"
	"people-counter-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

const defaultConfigPath = "/config/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCloser, err := logger.Init(cfg.Log)
	if err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	defer logCloser.Close()

	timezone.Initialize(cfg.Server.Timezone)
	startedAt := time.Now()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Database ---
	log.Info("Initializing database...")
	db, err := database.Open(cfg.DB)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Warnf("Failed to close database: %v", err)
		}
	}()
	store := database.NewStore(db)

	// --- Event fan-out ---
	m := metrics.New()
	hub := sse.NewHub()
	go hub.Run(ctx)

	dispatcher := events.NewDispatcher(events.DefaultQueueSize, store, hub)
	m.RegisterGauge("people_counter_events_dropped", "Events dropped because the dispatcher queue was full",
		func() float64 { return float64(dispatcher.Dropped()) })

	// --- Camera pipeline ---
	var p *pipeline
	if cfg.OpenCV.Enabled {
		p, err = newPipeline(ctx, cfg, store, dispatcher, m)
		if err != nil {
			log.Errorf("Camera pipeline unavailable: %v. Serving API only.", err)
			p = nil
		}
	} else {
		log.Info("OpenCV is disabled in config, camera pipeline not started.")
	}

	// --- MQTT ---
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(cfg.MQTT, cfg.Camera.Name)
		if p != nil {
			mqttClient.RegisterHandler(mqtt.NewCommandHandler(cfg.MQTT.TopicPrefix, cfg.Camera.Name, p.worker))
		}
		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to start MQTT client: %v. Continuing without MQTT.", err)
			mqttClient = nil
		} else {
			dispatcher.AddHandler(homeassistant.NewPublisher(mqttClient, cfg.MQTT.TopicPrefix))
			if cfg.MQTT.HomeAssistant.Enabled {
				dm := homeassistant.NewDiscoveryManager(mqttClient, cfg.MQTT.HomeAssistant.DiscoveryPrefix, cfg.MQTT.TopicPrefix, cfg.Camera.Name)
				if err := dm.Register(); err != nil {
					log.Warnf("Home Assistant discovery failed: %v", err)
				}
			}
		}
	} else {
		log.Info("MQTT is disabled in config.")
	}

	dispatcher.Start()

	var wg sync.WaitGroup
	if p != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.worker.Run(ctx); err != nil {
				log.Errorf("CV worker failed: %v", err)
			}
		}()
	}

	// --- Cleanup ---
	var pruner cleanup.PersonPruner
	if p != nil && cfg.ReID.Enabled {
		pruner = p.worker
	}
	cleanupService := cleanup.NewService(cleanup.Options{
		Store:           store,
		Pruner:          pruner,
		RetentionDays:   cfg.Cleanup.RetentionDays,
		PersonRetention: cfg.ReID.Retention,
		CheckInterval:   cfg.Cleanup.Interval,
	})
	cleanupService.StartBackgroundCleanup()

	// --- HTTP ---
	var counterAPI handlers.Counter
	if p != nil {
		counterAPI = p.worker
	}
	apiHandler := handlers.NewAPIHandler(handlers.Deps{
		Counter:   counterAPI,
		Store:     store,
		Hub:       hub,
		Metrics:   m.Handler(),
		StartedAt: startedAt,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handlers.NewRouter(apiHandler, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	// Worker zuerst, damit keine Events mehr entstehen
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown: %v", err)
	}

	cleanupService.StopBackgroundCleanup(true)
	dispatcher.Stop()
	if mqttClient != nil {
		mqttClient.Stop()
	}
	if p != nil {
		p.close()
	}

	log.Info("Server stopped.")
}
