package transport

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gamewire/relay/internal/v1/identity"
	"github.com/gamewire/relay/internal/v1/logging"
	"github.com/gamewire/relay/internal/v1/ratelimit"
	"github.com/gamewire/relay/internal/v1/relay"
)

// Handler upgrades game requests to WebSockets and hands the
// connections to the relay directory.
type Handler struct {
	directory *relay.Directory
	limiter   *ratelimit.Limiter // nil disables rate limiting
	upgrader  websocket.Upgrader
}

// NewHandler creates a Handler. allowedOrigins restricts the Origin
// header on upgrades; an empty list allows any origin, which is only
// appropriate for local development.
func NewHandler(directory *relay.Directory, limiter *ratelimit.Limiter, allowedOrigins []string) *Handler {
	return &Handler{
		directory: directory,
		limiter:   limiter,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
	}
}

// Register attaches the relay routes. The game segment is a wildcard
// because game IDs may contain slashes.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/g/*game", h.ServeGame)
}

// ServeGame validates the request, upgrades it, and starts a client
// actor on the game's hub.
//
// GET /g/<gameID>?id=<clientID>&lastnum=<n>
func (h *Handler) ServeGame(c *gin.Context) {
	ctx := c.Request.Context()

	gameID := strings.TrimPrefix(c.Param("game"), "/")
	if !relay.ValidGameID(gameID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
		return
	}

	if h.limiter != nil && !h.limiter.AllowUpgrade(c) {
		return // response already written
	}

	// The id query parameter overrides the cookie; either way the
	// response re-sets the cookie so the browser keeps the identity.
	clientID := c.Query("id")
	if clientID == "" {
		clientID = identity.ClientIDOrNew(c.Request.Cookies())
	}
	lastNum := parseLastNum(c.Query("lastnum"))

	header := http.Header{}
	header.Add("Set-Cookie", identity.Cookie(clientID).String())

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		logging.Warn(ctx, "upgrade failed", zap.Error(err))
		return
	}

	hub, err := h.directory.Acquire(gameID)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		_ = conn.Close()
		logging.Warn(ctx, "refused client", zap.String("gameId", gameID), zap.Error(err))
		return
	}

	client := relay.NewClient(hub, conn, clientID, lastNum,
		h.directory.Settings().ClientQueueSize,
		func() { h.directory.Release(hub) })
	if err := client.Start(); err != nil {
		// Unreachable for a fresh client; fail closed anyway.
		h.directory.Release(hub)
		_ = conn.Close()
		logging.Error(ctx, "starting client", zap.Error(err))
		return
	}
	logging.Info(ctx, "connected client",
		zap.String("gameId", gameID),
		zap.String("clientId", clientID),
		zap.Int("lastnum", lastNum))
}

// parseLastNum reads the lastnum query value; absent or malformed means
// "no resume".
func parseLastNum(raw string) int {
	if raw == "" {
		return -1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// originChecker allows any origin when the list is empty, otherwise
// requires an exact match. Requests without an Origin header (non-
// browser clients, tests) are always allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
