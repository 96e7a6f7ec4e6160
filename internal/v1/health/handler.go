package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GameCounter reports how many game hubs are live; satisfied by the
// relay directory.
type GameCounter interface {
	Count() int
}

// Handler manages health check endpoints.
type Handler struct {
	games GameCounter
}

// NewHandler creates a new health check handler.
func NewHandler(games GameCounter) *Handler {
	return &Handler{games: games}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status      string `json:"status"`
	ActiveGames int    `json:"active_games"`
	Timestamp   string `json:"timestamp"`
}

// Liveness handles GET /health/live. Returns 200 if the process is
// alive; no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /health/ready. The relay is in-memory and has
// no external dependencies, so readiness is liveness plus a view of the
// game directory.
func (h *Handler) Readiness(c *gin.Context) {
	games := 0
	if h.games != nil {
		games = h.games.Count()
	}
	c.JSON(http.StatusOK, ReadinessResponse{
		Status:      "ready",
		ActiveGames: games,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}
