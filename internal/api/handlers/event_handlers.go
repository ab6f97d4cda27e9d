package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"people-counter-go/internal/counter"
	"people-counter-go/internal/database"
	"people-counter-go/internal/detection"
	"people-counter-go/internal/util/timezone"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// eventResponse ist die API-Darstellung eines gespeicherten Durchgangs
type eventResponse struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	TrackID   int            `json:"track_id"`
	PersonID  string         `json:"person_id,omitempty"`
	Direction string         `json:"direction"`
	Camera    string         `json:"camera"`
	BBox      detection.BBox `json:"bbox"`
}

func toEventResponse(e database.CrossingEvent) eventResponse {
	return eventResponse{
		ID:        e.EventID,
		Timestamp: e.Timestamp.In(timezone.Location()),
		TrackID:   e.TrackID,
		PersonID:  e.PersonID,
		Direction: e.Direction,
		Camera:    e.Camera,
		BBox:      e.BBox.Data(),
	}
}

// ListEvents liefert gespeicherte Durchgänge, neueste zuerst.
// Parameter: skip, limit, start/start_date, end/end_date, direction
func (h *APIHandler) ListEvents(c *gin.Context) {
	opts := database.ListOptions{}

	var err error
	if opts.Skip, err = intQuery(c, "skip", 0); err != nil || opts.Skip < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ungültiger Parameter skip"})
		return
	}
	if opts.Limit, err = intQuery(c, "limit", 50); err != nil || opts.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ungültiger Parameter limit"})
		return
	}
	if opts.Start, err = timeQuery(c, "start", "start_date"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ungültiges Startdatum"})
		return
	}
	if opts.End, err = timeQuery(c, "end", "end_date"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ungültiges Enddatum"})
		return
	}
	if d := strings.ToUpper(c.Query("direction")); d != "" {
		if counter.Direction(d) != counter.DirectionIn && counter.Direction(d) != counter.DirectionOut {
			c.JSON(http.StatusBadRequest, gin.H{"error": "direction muss IN oder OUT sein"})
			return
		}
		opts.Direction = d
	}

	rows, total, err := h.deps.Store.ListCrossings(c.Request.Context(), opts)
	if err != nil {
		log.Errorf("Events konnten nicht geladen werden: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Fehler beim Laden der Events"})
		return
	}

	out := make([]eventResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, toEventResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"skip":   opts.Skip,
		"events": out,
	})
}

// ClearEvents löscht alle gespeicherten Durchgänge
func (h *APIHandler) ClearEvents(c *gin.Context) {
	n, err := h.deps.Store.ClearCrossings(c.Request.Context())
	if err != nil {
		log.Errorf("Events konnten nicht gelöscht werden: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Fehler beim Löschen der Events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Alle Events gelöscht",
		"deleted": n,
	})
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// timeQuery liest den ersten gesetzten Parameter aus keys
func timeQuery(c *gin.Context, keys ...string) (*time.Time, error) {
	for _, k := range keys {
		v := c.Query(k)
		if v == "" {
			continue
		}
		t, err := timezone.Parse(v)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	return nil, nil
}
