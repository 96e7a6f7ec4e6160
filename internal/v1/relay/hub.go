package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/gamewire/relay/internal/v1/logging"
	"github.com/gamewire/relay/internal/v1/metrics"
)

type eventKind int

const (
	eventAdmit eventKind = iota
	eventMessage
	eventStop
	eventShutdown
)

// event is the hub's single inbound unit: a client admission, a client
// message to relay, a stop request, or a server-wide shutdown.
type event struct {
	kind   eventKind
	client *Client
	body   []byte
}

// Hub relays messages between the clients of one game. All room state
// (the member set, the envelope counter and the replay buffer) is owned
// by the dispatcher goroutine and mutated nowhere else.
type Hub struct {
	gameID  string
	inbound chan event
	stop    chan struct{} // closed by the directory when the last user releases
	done    chan struct{} // closed when the dispatcher exits

	clients map[string]*Client // current members by client ID
	nextNum int
	buffer  *Buffer
}

// NewHub creates a hub for one game ID. Run must be started for the hub
// to make progress.
func NewHub(gameID string, queueSize, replayCapacity int) *Hub {
	return &Hub{
		gameID:  gameID,
		inbound: make(chan event, queueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		clients: make(map[string]*Client),
		buffer:  NewBuffer(replayCapacity),
	}
}

// GameID returns the game this hub serves.
func (h *Hub) GameID() string {
	return h.gameID
}

// Run is the dispatcher loop. It exits when the directory closes the
// stop channel, which only happens once no connection holds the hub.
func (h *Hub) Run() {
	defer close(h.done)
	ctx := context.WithValue(context.Background(), logging.GameIDKey, h.gameID)

	for {
		select {
		case <-h.stop:
			for id, c := range h.clients {
				close(c.pending)
				delete(h.clients, id)
			}
			logging.Info(ctx, "hub stopped", zap.Int("lastNum", h.nextNum-1))
			return
		case ev := <-h.inbound:
			switch ev.kind {
			case eventAdmit:
				h.admit(ctx, ev.client)
			case eventMessage:
				h.relay(ctx, ev.client, ev.body)
			case eventStop:
				h.farewell(ctx, ev.client)
			case eventShutdown:
				for id, c := range h.clients {
					close(c.pending)
					delete(h.clients, id)
				}
				logging.Info(ctx, "hub shut down, members disconnected")
			}
		}
	}
}

// post delivers an event to the dispatcher, blocking while the hub is
// saturated. Backpressure deliberately propagates to the posting
// client's socket. A post to a finished hub is discarded; that can only
// be a stale stop request from a connection that outlived its hub.
func (h *Hub) post(ev event) {
	select {
	case h.inbound <- ev:
	case <-h.done:
	}
}

// admit handles a new connection: replay first if asked for, then
// either a silent takeover of an existing membership or a fresh
// Joiner/Welcome admission.
func (h *Hub) admit(ctx context.Context, c *Client) {
	log := logging.With(ctx, zap.String("clientId", c.id), zap.String("ref", c.ref))

	if !h.buffer.CanResume(c.lastNum, h.nextNum) {
		log.Info("resume window missed, rejecting", zap.Int("lastnum", c.lastNum))
		metrics.ResumeRejections.Inc()
		c.pending <- &Envelope{Intent: intentResumeReject}
		close(c.pending)
		return
	}

	if c.lastNum >= 0 {
		replayed := h.buffer.ReplayFor(c.id, c.lastNum)
		for _, env := range replayed {
			if !h.deliver(c, env) {
				// Queue overflow before the client is even a member;
				// nothing to tell the room about.
				log.Warn("replay overflowed client queue, dropping connection")
				close(c.pending)
				return
			}
		}
		if len(replayed) > 0 {
			log.Info("replayed envelopes", zap.Int("count", len(replayed)))
			metrics.ReplayedEnvelopes.Add(float64(len(replayed)))
		}
	}

	if old, ok := h.clients[c.id]; ok {
		// Same identity reconnected while the previous connection is
		// still a member. Swap connections without disturbing peers: no
		// Leaver, no Joiner, just a fresh Welcome.
		log.Info("taking over existing membership", zap.String("oldRef", old.ref))
		close(old.pending)
		h.clients[c.id] = c
		h.welcome(c)
		return
	}

	if len(h.clients) > 0 {
		h.joiner(ctx, c)
	}
	h.clients[c.id] = c
	h.welcome(c)
	log.Info("client joined", zap.Int("members", len(h.clients)))
}

// relay fans a client payload out: one Peer per other member and one
// Receipt back to the sender, all sharing a single Num, Time and Body.
func (h *Hub) relay(ctx context.Context, c *Client, body []byte) {
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		// Sender was removed or replaced before the dispatcher got here.
		return
	}

	num := h.nextNum
	h.nextNum++
	now := nowMillis()

	peerIDs := make([]string, 0, len(h.clients)-1)
	for id := range h.clients {
		if id != c.id {
			peerIDs = append(peerIDs, id)
		}
	}

	peer := &Envelope{
		Intent: IntentPeer,
		From:   []string{c.id},
		To:     peerIDs,
		Num:    num,
		Time:   now,
		Body:   body,
	}
	receipt := &Envelope{
		Intent: IntentReceipt,
		From:   peer.From,
		To:     peer.To,
		Num:    peer.Num,
		Time:   peer.Time,
		Body:   peer.Body,
	}

	recorded := make(map[string]*Envelope, len(h.clients))
	for _, id := range peerIDs {
		recorded[id] = peer
	}
	recorded[c.id] = receipt
	h.buffer.Record(num, recorded)
	metrics.Envelopes.WithLabelValues(IntentPeer).Add(float64(len(peerIDs)))
	metrics.Envelopes.WithLabelValues(IntentReceipt).Inc()

	var failed []*Client
	for _, id := range peerIDs {
		if !h.deliver(h.clients[id], peer) {
			failed = append(failed, h.clients[id])
		}
	}
	if !h.deliver(c, receipt) {
		failed = append(failed, c)
	}
	for _, f := range failed {
		logging.Warn(ctx, "client queue overflowed, dropping",
			zap.String("clientId", f.id), zap.String("ref", f.ref))
		metrics.DroppedClients.Inc()
		h.farewell(ctx, f)
	}
}

// farewell removes a member: the hub acks the stop by closing the
// client's queue, then tells the survivors. Stop requests from
// connections that no longer own their membership slot are ignored.
func (h *Hub) farewell(ctx context.Context, c *Client) {
	cur, ok := h.clients[c.id]
	if !ok || cur != c {
		return
	}
	delete(h.clients, c.id)
	close(c.pending)
	logging.Info(ctx, "client left",
		zap.String("clientId", c.id), zap.String("ref", c.ref),
		zap.Int("members", len(h.clients)))
	if len(h.clients) > 0 {
		h.leaver(ctx, c.id)
	}
}

// welcome emits a Welcome to just this client. From lists everyone else
// already in the room; Num is the first num the newcomer will observe.
func (h *Hub) welcome(c *Client) {
	num := h.nextNum
	h.nextNum++
	env := &Envelope{
		Intent: IntentWelcome,
		From:   h.memberIDsExcept(c.id),
		To:     []string{c.id},
		Num:    num,
		Time:   nowMillis(),
	}
	h.buffer.Record(num, map[string]*Envelope{c.id: env})
	metrics.Envelopes.WithLabelValues(IntentWelcome).Inc()
	h.deliver(c, env)
}

// joiner emits a Joiner about c to every existing member. Callers only
// invoke this when the room is non-empty, so the emission always has
// recipients and always consumes a num. A member that cannot take the
// Joiner is dropped like any other overflow; letting it stay would have
// it see later Peers without the admission that precedes them.
func (h *Hub) joiner(ctx context.Context, c *Client) {
	num := h.nextNum
	h.nextNum++
	env := &Envelope{
		Intent: IntentJoiner,
		From:   []string{c.id},
		To:     h.memberIDsExcept(c.id),
		Num:    num,
		Time:   nowMillis(),
	}
	recorded := make(map[string]*Envelope, len(h.clients))
	var failed []*Client
	for id, member := range h.clients {
		recorded[id] = env
		if !h.deliver(member, env) {
			failed = append(failed, member)
		}
	}
	h.buffer.Record(num, recorded)
	metrics.Envelopes.WithLabelValues(IntentJoiner).Add(float64(len(recorded)))
	for _, f := range failed {
		logging.Warn(ctx, "client queue overflowed, dropping",
			zap.String("clientId", f.id), zap.String("ref", f.ref))
		metrics.DroppedClients.Inc()
		h.farewell(ctx, f)
	}
}

// leaver emits a Leaver about the departed ID to every survivor.
func (h *Hub) leaver(ctx context.Context, departedID string) {
	num := h.nextNum
	h.nextNum++
	env := &Envelope{
		Intent: IntentLeaver,
		From:   []string{departedID},
		To:     h.memberIDsExcept(departedID),
		Num:    num,
		Time:   nowMillis(),
	}
	recorded := make(map[string]*Envelope, len(h.clients))
	var failed []*Client
	for id, member := range h.clients {
		recorded[id] = env
		if !h.deliver(member, env) {
			failed = append(failed, member)
		}
	}
	h.buffer.Record(num, recorded)
	metrics.Envelopes.WithLabelValues(IntentLeaver).Add(float64(len(recorded)))
	for _, f := range failed {
		metrics.DroppedClients.Inc()
		h.farewell(ctx, f)
	}
}

// deliver enqueues an envelope without blocking the dispatcher. A false
// return means the client's queue is past its high-water mark; the
// caller decides what that costs the client, uniformly for everyone.
func (h *Hub) deliver(c *Client, env *Envelope) bool {
	select {
	case c.pending <- env:
		return true
	default:
		return false
	}
}

func (h *Hub) memberIDsExcept(exclude string) []string {
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
