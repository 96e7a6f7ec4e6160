package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMember builds a bare client wired to nothing, so tests can drive
// the hub's dispatch handlers directly and read envelopes off pending.
func newMember(id string, queueSize int) *Client {
	return &Client{
		id:      id,
		ref:     "test-" + id,
		lastNum: -1,
		pending: make(chan *Envelope, queueSize),
	}
}

func takeEnvelope(t *testing.T, c *Client) *Envelope {
	t.Helper()
	select {
	case env, ok := <-c.pending:
		require.True(t, ok, "pending closed while an envelope was expected")
		return env
	default:
		t.Fatal("no envelope pending")
		return nil
	}
}

func assertNoEnvelope(t *testing.T, c *Client) {
	t.Helper()
	select {
	case env := <-c.pending:
		t.Fatalf("unexpected envelope %+v", env)
	default:
	}
}

func assertClosed(t *testing.T, c *Client) {
	t.Helper()
	for {
		select {
		case _, ok := <-c.pending:
			if !ok {
				return
			}
		default:
			t.Fatal("pending not closed")
		}
	}
}

func TestHubTwoClientEcho(t *testing.T) {
	ctx := context.Background()
	h := NewHub("aa-bb", 8, 16)
	a := newMember("A", 8)
	b := newMember("B", 8)

	h.admit(ctx, a)
	welcomeA := takeEnvelope(t, a)
	assert.Equal(t, IntentWelcome, welcomeA.Intent)
	assert.Empty(t, welcomeA.From)
	assert.Equal(t, []string{"A"}, welcomeA.To)
	assert.Equal(t, 0, welcomeA.Num)

	h.admit(ctx, b)
	joiner := takeEnvelope(t, a)
	assert.Equal(t, IntentJoiner, joiner.Intent)
	assert.Equal(t, []string{"B"}, joiner.From)
	assert.Equal(t, []string{"A"}, joiner.To)
	assert.Equal(t, 1, joiner.Num)

	welcomeB := takeEnvelope(t, b)
	assert.Equal(t, IntentWelcome, welcomeB.Intent)
	assert.Equal(t, []string{"A"}, welcomeB.From)
	assert.Equal(t, []string{"B"}, welcomeB.To)
	assert.Equal(t, 2, welcomeB.Num)

	h.relay(ctx, a, []byte("hi"))
	receipt := takeEnvelope(t, a)
	peer := takeEnvelope(t, b)

	assert.Equal(t, IntentReceipt, receipt.Intent)
	assert.Equal(t, IntentPeer, peer.Intent)
	for _, env := range []*Envelope{receipt, peer} {
		assert.Equal(t, []string{"A"}, env.From)
		assert.Equal(t, []string{"B"}, env.To)
		assert.Equal(t, 3, env.Num)
		assert.Equal(t, []byte("hi"), env.Body)
	}
	assert.Equal(t, receipt.Time, peer.Time, "receipt and peer share one emission")
}

func TestHubLeaver(t *testing.T) {
	ctx := context.Background()
	h := NewHub("aa-bb", 8, 16)
	a := newMember("A", 8)
	b := newMember("B", 8)
	h.admit(ctx, a)
	h.admit(ctx, b)
	h.relay(ctx, a, []byte("hi"))

	h.farewell(ctx, a)
	assertClosed(t, a)

	// Drain B up to the leaver.
	takeEnvelope(t, b) // Welcome 2
	takeEnvelope(t, b) // Peer 3
	leaver := takeEnvelope(t, b)
	assert.Equal(t, IntentLeaver, leaver.Intent)
	assert.Equal(t, []string{"A"}, leaver.From)
	assert.Equal(t, []string{"B"}, leaver.To)
	assert.Equal(t, 4, leaver.Num)

	// A message from the sole survivor still consumes a num, but only
	// produces a receipt.
	h.relay(ctx, b, []byte("alone"))
	receipt := takeEnvelope(t, b)
	assert.Equal(t, IntentReceipt, receipt.Intent)
	assert.Equal(t, 5, receipt.Num)
	assert.Empty(t, receipt.To)
}

func TestHubPerClientNumsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	h := NewHub("aa-bb", 8, 64)
	a := newMember("A", 64)
	b := newMember("B", 64)
	h.admit(ctx, a)
	h.admit(ctx, b)
	for i := 0; i < 10; i++ {
		h.relay(ctx, a, []byte{byte(i)})
		h.relay(ctx, b, []byte{byte(i)})
	}

	for _, c := range []*Client{a, b} {
		last := -1
		for {
			select {
			case env := <-c.pending:
				assert.Greater(t, env.Num, last)
				last = env.Num
				continue
			default:
			}
			break
		}
		assert.Greater(t, last, 0)
	}
}

func TestHubReplayThenFreshAdmission(t *testing.T) {
	ctx := context.Background()
	h := NewHub("aa-bb", 8, 16)
	a := newMember("A", 8)
	b := newMember("B", 8)
	h.admit(ctx, a)              // Welcome 0 -> A
	h.admit(ctx, b)              // Joiner 1 -> A, Welcome 2 -> B
	h.relay(ctx, a, []byte("x")) // 3
	h.farewell(ctx, a)           // Leaver 4 -> B

	a2 := newMember("A", 8)
	a2.lastNum = 1
	h.admit(ctx, a2)

	// Missed envelopes addressed to A first: only the receipt for 3.
	replayed := takeEnvelope(t, a2)
	assert.Equal(t, IntentReceipt, replayed.Intent)
	assert.Equal(t, 3, replayed.Num)
	assert.Equal(t, []byte("x"), replayed.Body)

	welcome := takeEnvelope(t, a2)
	assert.Equal(t, IntentWelcome, welcome.Intent)
	assert.Equal(t, 6, welcome.Num)
	assert.Equal(t, []string{"B"}, welcome.From)

	// B sees the rejoin as an ordinary joiner.
	takeEnvelope(t, b) // Welcome 2
	takeEnvelope(t, b) // Peer 3
	takeEnvelope(t, b) // Leaver 4
	joiner := takeEnvelope(t, b)
	assert.Equal(t, IntentJoiner, joiner.Intent)
	assert.Equal(t, 5, joiner.Num)
}

func TestHubResumeOutsideWindowRejected(t *testing.T) {
	ctx := context.Background()
	h := NewHub("aa-bb", 8, 2)
	a := newMember("A", 8)
	b := newMember("B", 8)
	h.admit(ctx, a)              // 0
	h.admit(ctx, b)              // 1, 2
	h.relay(ctx, a, []byte("x")) // 3; buffer now retains 2 and 3

	a2 := newMember("A", 8)
	a2.lastNum = 0
	h.admit(ctx, a2)

	reject := takeEnvelope(t, a2)
	assert.Equal(t, intentResumeReject, reject.Intent)
	assertClosed(t, a2)

	// The rejected connection never became the member; A's slot is intact.
	assert.Same(t, a, h.clients["A"])
}

func TestHubResumeClaimBeyondEmittedRejected(t *testing.T) {
	ctx := context.Background()
	h := NewHub("aa-bb", 8, 16)
	a := newMember("A", 8)
	a.lastNum = 5
	h.admit(ctx, a)

	reject := takeEnvelope(t, a)
	assert.Equal(t, intentResumeReject, reject.Intent)
	assertClosed(t, a)
}

func TestHubTakeoverIsSilent(t *testing.T) {
	ctx := context.Background()
	h := NewHub("aa-bb", 8, 16)
	a := newMember("A", 8)
	b := newMember("B", 8)
	h.admit(ctx, a)
	h.admit(ctx, b)
	takeEnvelope(t, a) // Welcome 0
	takeEnvelope(t, a) // Joiner 1
	takeEnvelope(t, b) // Welcome 2

	a2 := newMember("A", 8)
	h.admit(ctx, a2)

	// The old connection is acked out; the new one gets a fresh
	// Welcome; the room hears nothing.
	assertClosed(t, a)
	welcome := takeEnvelope(t, a2)
	assert.Equal(t, IntentWelcome, welcome.Intent)
	assert.Equal(t, 3, welcome.Num)
	assert.Equal(t, []string{"B"}, welcome.From)
	assertNoEnvelope(t, b)

	// The stale connection's stop request no longer owns the slot.
	h.farewell(ctx, a)
	assert.Same(t, a2, h.clients["A"])
	assertNoEnvelope(t, b)
}

func TestHubSlowClientDropped(t *testing.T) {
	ctx := context.Background()
	h := NewHub("aa-bb", 8, 16)
	a := newMember("A", 8)
	b := newMember("B", 1)
	h.admit(ctx, a)
	h.admit(ctx, b) // B's Welcome fills its one-slot queue

	h.relay(ctx, a, []byte("x")) // Peer overflows B

	// B is treated as failed: queue closed, leaver to A.
	takeEnvelope(t, a) // Welcome 0
	takeEnvelope(t, a) // Joiner 1
	receipt := takeEnvelope(t, a)
	assert.Equal(t, IntentReceipt, receipt.Intent)
	assert.Equal(t, 3, receipt.Num)
	leaver := takeEnvelope(t, a)
	assert.Equal(t, IntentLeaver, leaver.Intent)
	assert.Equal(t, []string{"B"}, leaver.From)
	assert.Equal(t, 4, leaver.Num)

	takeEnvelope(t, b) // buffered Welcome 2 still readable
	assertClosed(t, b)
	_, stillMember := h.clients["B"]
	assert.False(t, stillMember)
}

func TestHubSlowClientMissesJoinerDropped(t *testing.T) {
	ctx := context.Background()
	h := NewHub("aa-bb", 8, 16)
	a := newMember("A", 8)
	b := newMember("B", 1)
	c := newMember("C", 8)
	h.admit(ctx, a)
	h.admit(ctx, b) // B's Welcome fills its one-slot queue

	// C's admission must reach B before any of C's Peers can; since it
	// cannot, B goes out like any other overflowing member.
	h.admit(ctx, c)

	takeEnvelope(t, a) // Welcome 0
	takeEnvelope(t, a) // Joiner 1 (B)
	joiner := takeEnvelope(t, a)
	assert.Equal(t, IntentJoiner, joiner.Intent)
	assert.Equal(t, []string{"C"}, joiner.From)
	assert.Equal(t, 3, joiner.Num)
	leaver := takeEnvelope(t, a)
	assert.Equal(t, IntentLeaver, leaver.Intent)
	assert.Equal(t, []string{"B"}, leaver.From)
	assert.Equal(t, 4, leaver.Num)

	takeEnvelope(t, b) // buffered Welcome 2 still readable
	assertClosed(t, b)
	_, stillMember := h.clients["B"]
	assert.False(t, stillMember)

	welcome := takeEnvelope(t, c)
	assert.Equal(t, IntentWelcome, welcome.Intent)
	assert.Equal(t, 5, welcome.Num)
	assert.Equal(t, []string{"A"}, welcome.From, "dropped member must not appear in the roster")

	// B never rejoins the flow: a later Peer cannot reach it.
	h.relay(ctx, c, []byte("x"))
	peerA := takeEnvelope(t, a)
	assert.Equal(t, IntentPeer, peerA.Intent)
	assert.ElementsMatch(t, []string{"A"}, peerA.To)
}

func TestHubRunStops(t *testing.T) {
	h := NewHub("aa-bb", 8, 16)
	go h.Run()

	a := newMember("A", 8)
	h.post(event{kind: eventAdmit, client: a})

	select {
	case env := <-a.pending:
		assert.Equal(t, IntentWelcome, env.Intent)
	case <-time.After(2 * time.Second):
		t.Fatal("no welcome from running hub")
	}

	close(h.stop)
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	// Posts to a finished hub are discarded, not blocked on.
	h.post(event{kind: eventStop, client: a})
}
