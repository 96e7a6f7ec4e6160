package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCounter int

func (s staticCounter) Count() int { return int(s) }

func setupRouter(games GameCounter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(games)
	r := gin.New()
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)
	return r
}

func TestLiveness(t *testing.T) {
	router := setupRouter(staticCounter(0))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body LivenessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alive", body.Status)
	assert.NotEmpty(t, body.Timestamp)
}

func TestReadiness(t *testing.T) {
	router := setupRouter(staticCounter(3))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, 3, body.ActiveGames)
}

func TestReadinessNilCounter(t *testing.T) {
	router := setupRouter(nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body ReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.ActiveGames)
}
