package handlers

import (
	"context"
	"net/http"
	"time"

	"people-counter-go/internal/database"
	"people-counter-go/internal/reid"
	"people-counter-go/internal/sse"
	"people-counter-go/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Counter ist die Sicht der API auf den Worker
type Counter interface {
	Stats() worker.Snapshot
	Reset()
	SetLine(ctx context.Context, x float64) error
	Persons() []reid.Person
	Person(id string) (reid.Person, bool)
	ResetPersons()
}

// EventStore liest und löscht gespeicherte Durchgänge
type EventStore interface {
	ListCrossings(ctx context.Context, opts database.ListOptions) ([]database.CrossingEvent, int64, error)
	CountByDirection(ctx context.Context, start, end *time.Time) (database.DirectionCounts, error)
	ClearCrossings(ctx context.Context) (int64, error)
	SightingsForPerson(ctx context.Context, personID string, limit int) ([]database.IdentitySighting, error)
}

// Deps sind die Abhängigkeiten der API. Counter ist nil, wenn die
// Kamera-Pipeline deaktiviert ist; Hub und Metrics sind optional.
type Deps struct {
	Counter   Counter
	Store     EventStore
	Hub       *sse.Hub
	Metrics   http.Handler
	StartedAt time.Time
}

// APIHandler behandelt alle HTTP-Anfragen
type APIHandler struct {
	deps Deps
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(deps Deps) *APIHandler {
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	return &APIHandler{deps: deps}
}

// NewRouter erstellt die gin-Engine mit Recovery, Request-Logging und CORS
func NewRouter(h *APIHandler, corsOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	corsCfg := cors.DefaultConfig()
	if len(corsOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = corsOrigins
	}
	corsCfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}
	router.Use(cors.New(corsCfg))

	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes registriert alle Routen
func (h *APIHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	if h.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.deps.Metrics))
	}

	api := router.Group("/api")
	{
		// Zählerstand und Steuerung
		api.GET("/stats/current", h.CurrentStats)
		api.POST("/reset", h.ResetCounters)
		api.GET("/camera/settings", h.CameraSettings)
		api.POST("/camera/line", h.SetLine)
		api.GET("/system/status", h.SystemStatus)

		// Gespeicherte Durchgänge
		api.GET("/events", h.ListEvents)
		api.POST("/events/clear", h.ClearEvents)
		api.GET("/analytics/day", h.DayStats)

		// Wiedererkennung
		api.GET("/persons", h.ListPersons)
		api.POST("/persons/reset", h.ResetPersons)
		api.GET("/persons/:id", h.GetPerson)

		// Live-Updates
		api.GET("/stream", h.Stream)
	}
}

// Health antwortet immer mit 200, solange der Prozess läuft
func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// requestLogger protokolliert jede Anfrage über logrus
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("HTTP request failed")
		case c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics":
			entry.Trace("HTTP request")
		default:
			entry.Debug("HTTP request")
		}
	}
}

// counterUnavailable antwortet mit 503, wenn keine Kamera läuft
func (h *APIHandler) counterUnavailable(c *gin.Context) bool {
	if h.deps.Counter != nil {
		return false
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Kamera-Pipeline läuft nicht"})
	return true
}
