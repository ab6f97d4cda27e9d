package handlers

import (
	"net/http"

	"people-counter-go/internal/reid"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ListPersons liefert alle bekannten Personen in Registrierungsreihenfolge
func (h *APIHandler) ListPersons(c *gin.Context) {
	if h.counterUnavailable(c) {
		return
	}
	persons := h.deps.Counter.Persons()
	if persons == nil {
		persons = []reid.Person{}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(persons),
		"persons": persons,
	})
}

// GetPerson liefert eine Person mit ihren letzten Sichtungen
func (h *APIHandler) GetPerson(c *gin.Context) {
	if h.counterUnavailable(c) {
		return
	}
	id := c.Param("id")
	person, ok := h.deps.Counter.Person(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Person nicht gefunden"})
		return
	}

	resp := gin.H{"person": person}
	sightings, err := h.deps.Store.SightingsForPerson(c.Request.Context(), id, 20)
	if err != nil {
		log.Warnf("Sichtungen für %s nicht ladbar: %v", id, err)
	} else {
		list := make([]gin.H, 0, len(sightings))
		for _, s := range sightings {
			list = append(list, gin.H{
				"track_id":   s.TrackID,
				"similarity": s.Similarity,
				"new":        s.New,
				"camera":     s.Camera,
				"timestamp":  s.Timestamp,
			})
		}
		resp["sightings"] = list
	}
	c.JSON(http.StatusOK, resp)
}

// ResetPersons leert das Personenregister
func (h *APIHandler) ResetPersons(c *gin.Context) {
	if h.counterUnavailable(c) {
		return
	}
	h.deps.Counter.ResetPersons()
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Personenregister geleert"})
}
