package handlers

import (
	"errors"
	"net/http"
	"time"

	"people-counter-go/internal/util/timezone"
	"people-counter-go/internal/utils"
	"people-counter-go/internal/worker"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// SystemStatus ist die Antwort von /api/system/status
type SystemStatus struct {
	CameraOnline  bool               `json:"camera_online"`
	CameraStatus  worker.Status      `json:"camera_status"`
	FPS           float64            `json:"fps"`
	ActiveTracks  int                `json:"active_tracks"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	LocalTime     string             `json:"local_time"`
	System        *utils.SystemStats `json:"system"`
}

// lineRequest ist der Body von /api/camera/line
type lineRequest struct {
	LineX *float64 `json:"line_x" binding:"required"`
}

// snapshot liefert den Zählerstand oder einen Offline-Stand ohne Kamera
func (h *APIHandler) snapshot() worker.Snapshot {
	if h.deps.Counter == nil {
		return worker.Snapshot{Status: worker.StatusOffline}
	}
	return h.deps.Counter.Stats()
}

// CurrentStats liefert den aktuellen Zählerstand
func (h *APIHandler) CurrentStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot())
}

// ResetCounters setzt die Zähler im Speicher zurück; die Datenbank bleibt
func (h *APIHandler) ResetCounters(c *gin.Context) {
	if h.counterUnavailable(c) {
		return
	}
	h.deps.Counter.Reset()
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Zähler zurückgesetzt",
		"new_stats": h.deps.Counter.Stats(),
	})
}

// CameraSettings liefert Linie und Richtung
func (h *APIHandler) CameraSettings(c *gin.Context) {
	s := h.snapshot()
	c.JSON(http.StatusOK, gin.H{
		"line_x":       s.LineX,
		"direction_in": s.DirectionIn,
		"frame_width":  s.FrameWidth,
		"frame_height": s.FrameHeight,
	})
}

// SetLine verschiebt die Zähllinie
func (h *APIHandler) SetLine(c *gin.Context) {
	if h.counterUnavailable(c) {
		return
	}

	var req lineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "line_x fehlt oder ist ungültig"})
		return
	}

	if err := h.deps.Counter.SetLine(c.Request.Context(), *req.LineX); err != nil {
		if errors.Is(err, worker.ErrInvalidLine) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		// Linie ist verschoben, nur das Speichern schlug fehl
		log.Warnf("Linienposition nicht gespeichert: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"new_stats": h.deps.Counter.Stats(),
	})
}

// SystemStatus liefert Kamera- und Prozesszustand
func (h *APIHandler) SystemStatus(c *gin.Context) {
	s := h.snapshot()
	c.JSON(http.StatusOK, SystemStatus{
		CameraOnline:  s.Status == worker.StatusOnline,
		CameraStatus:  s.Status,
		FPS:           s.FPS,
		ActiveTracks:  s.ActiveTracks,
		UptimeSeconds: time.Since(h.deps.StartedAt).Seconds(),
		LocalTime:     timezone.ISO8601(time.Now()),
		System:        utils.GetSystemStats(h.deps.StartedAt),
	})
}

// DayStats liefert die gespeicherten Summen eines Tages in der konfigurierten
// Zeitzone; ohne ?date= der heutige Tag
func (h *APIHandler) DayStats(c *gin.Context) {
	day := timezone.Now()
	if v := c.Query("date"); v != "" {
		t, err := timezone.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ungültiges Datum"})
			return
		}
		day = t
	}

	start := timezone.StartOfDay(day)
	end := start.AddDate(0, 0, 1)
	// Ende ist exklusiv
	last := end.Add(-time.Nanosecond)

	counts, err := h.deps.Store.CountByDirection(c.Request.Context(), &start, &last)
	if err != nil {
		log.Errorf("Tagesstatistik fehlgeschlagen: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Fehler beim Laden der Statistik"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"period":       "day",
		"start_date":   start,
		"end_date":     end,
		"in_count":     counts.In,
		"out_count":    counts.Out,
		"net_flow":     counts.In - counts.Out,
		"total_events": counts.In + counts.Out,
	})
}
