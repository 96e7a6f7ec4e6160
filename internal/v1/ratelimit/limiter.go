// Package ratelimit limits WebSocket upgrades per source IP using an
// in-memory store.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/gamewire/relay/internal/v1/logging"
	"github.com/gamewire/relay/internal/v1/metrics"
)

// Limiter throttles connection attempts before any upgrade work is done.
type Limiter struct {
	upgrades *limiter.Limiter
}

// New creates a Limiter from a formatted rate such as "600-M".
func New(rate string) (*Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid upgrade rate: %w", err)
	}
	return &Limiter{
		upgrades: limiter.New(memory.NewStore(), parsed),
	}, nil
}

// AllowUpgrade reports whether this request may proceed to the
// WebSocket upgrade. When the limit is hit it writes the 429 itself.
// Store errors fail open: availability beats throttling here.
func (l *Limiter) AllowUpgrade(c *gin.Context) bool {
	ctx := c.Request.Context()

	res, err := l.upgrades.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}

	if res.Reached {
		metrics.RateLimitExceeded.WithLabelValues("upgrade_ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(res.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}

	return true
}
