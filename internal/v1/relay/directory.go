package relay

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/gamewire/relay/internal/v1/logging"
	"github.com/gamewire/relay/internal/v1/metrics"
)

// ErrGameFull is returned by Acquire when a game already holds its
// maximum number of connections.
var ErrGameFull = errors.New("relay: maximum number of clients in game")

// Settings sizes the directory's hubs. ClientQueueSize must exceed
// ReplayCapacity so a full replay plus the Welcome always fits in a
// fresh client's queue; NewDirectory widens undersized queues.
type Settings struct {
	MaxClientsPerGame int // connection cap per game
	HubQueueSize      int // hub inbound event queue
	ClientQueueSize   int // per-client envelope queue (high-water mark)
	ReplayCapacity    int // emissions retained for resumption
}

// DefaultSettings match browser board games: a room of dozens, and a
// replay window covering tens of seconds of brisk traffic.
func DefaultSettings() Settings {
	return Settings{
		MaxClientsPerGame: 50,
		HubQueueSize:      64,
		ClientQueueSize:   512,
		ReplayCapacity:    256,
	}
}

// Directory maps game IDs to hubs and refcounts the connections using
// each hub. The mutex is held only for lookup, insert and release,
// never while dispatching messages.
type Directory struct {
	mu       sync.Mutex
	hubs     map[string]*Hub
	counts   map[*Hub]int
	settings Settings
}

// NewDirectory creates an empty directory.
func NewDirectory(settings Settings) *Directory {
	if settings.ClientQueueSize <= settings.ReplayCapacity {
		settings.ClientQueueSize = settings.ReplayCapacity + 1
	}
	return &Directory{
		hubs:     make(map[string]*Hub),
		counts:   make(map[*Hub]int),
		settings: settings,
	}
}

// Settings returns the directory's sizing.
func (d *Directory) Settings() Settings {
	return d.settings
}

// Acquire returns the hub for gameID, creating and starting one if
// needed, and counts the caller as a user of it. Every successful
// Acquire must be paired with exactly one Release.
func (d *Directory) Acquire(gameID string) (*Hub, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if h, ok := d.hubs[gameID]; ok {
		if d.counts[h] >= d.settings.MaxClientsPerGame {
			return nil, ErrGameFull
		}
		d.counts[h]++
		return h, nil
	}

	h := NewHub(gameID, d.settings.HubQueueSize, d.settings.ReplayCapacity)
	d.hubs[gameID] = h
	d.counts[h] = 1
	go h.Run()
	metrics.ActiveGames.Inc()
	logging.Info(context.Background(), "created hub", zap.String("gameId", gameID))
	return h, nil
}

// Release drops one hold on a hub. When the last hold goes, the hub is
// removed from the directory and its dispatcher stopped; a later
// Acquire for the same game ID gets a fresh hub with nums starting at 0.
func (d *Directory) Release(h *Hub) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.counts[h]; !ok {
		return
	}
	d.counts[h]--
	if d.counts[h] > 0 {
		return
	}
	delete(d.counts, h)
	if d.hubs[h.gameID] == h {
		delete(d.hubs, h.gameID)
	}
	close(h.stop)
	metrics.ActiveGames.Dec()
	logging.Info(context.Background(), "removed hub", zap.String("gameId", h.gameID))
}

// Count returns the number of live hubs.
func (d *Directory) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.hubs)
}

// Shutdown disconnects every client of every hub and waits for the hubs
// to wind down, or for ctx to expire.
func (d *Directory) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	hubs := make([]*Hub, 0, len(d.hubs))
	for _, h := range d.hubs {
		hubs = append(hubs, h)
	}
	d.mu.Unlock()

	for _, h := range hubs {
		h.post(event{kind: eventShutdown})
	}
	for _, h := range hubs {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	logging.Info(ctx, "all hubs stopped", zap.Int("count", len(hubs)))
	return nil
}
