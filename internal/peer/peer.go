// Package peer defines the contract untrusted peer servers must satisfy
// and multiplexes a pool of them into a single stream of (peer, header)
// tip events for the chain extender, following the structure of
// original_source/lib/blockchain.py's BlockchainVerifier
// (get_new_response/request_header/retrieve_header) translated from
// Python threads+Queue into goroutines+channels, per spec.md §4.E and §9
// ("Coroutine control flow").
//
// The peer wire transport itself — opening sockets, framing JSON-RPC to
// Electrum-style servers — is explicitly out of scope (spec.md §1,
// contracted via §6); this package only consumes the Client interface.
package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/rootSig/electrum-atom-t/internal/header"
	"github.com/rootSig/electrum-atom-t/internal/metrics"
)

// ErrPeerTimeout is returned by FetchHeader when no matching response
// arrives before ctx is done.
var ErrPeerTimeout = errors.New("peer: timed out waiting for response")

// TipEvent is a tip notification delivered by a peer's "verifier" channel,
// i.e. the result of blockchain.headers.subscribe.
type TipEvent struct {
	Peer   Client
	Header *header.Header
}

// Client is the contract a peer connection must satisfy. Implementations
// live outside this module's scope; this package only consumes them.
type Client interface {
	// Address identifies the peer for logging and for flag bookkeeping.
	Address() string

	// Tips returns the channel of decoded tip notifications from this
	// peer's "verifier" subscription (blockchain.headers.subscribe). The
	// channel is closed when the peer's connection ends.
	Tips() <-chan *header.Header

	// GetHeader issues blockchain.block.get_header(height) on the peer's
	// "get_header" channel and returns the decoded result, or an error
	// (including context cancellation/timeout).
	GetHeader(ctx context.Context, height int64) (*header.Header, error)

	// Close tears down the peer's connection and its queues.
	Close()
}

// peerState tracks suspicion/cooldown bookkeeping for one client.
type peerState struct {
	client       Client
	suspectUntil time.Time
	failures     int
	flagged      bool
}

// Multiplexer maintains a pool of peer clients and multiplexes their tip
// notifications into a single stream, per spec.md §4.E. It enforces no
// cross-peer ordering; NextTip is fair only in the weak round-robin sense
// over the peer list, matching get_new_response's plain for-loop scan.
type Multiplexer struct {
	mu    sync.Mutex
	peers []*peerState
	rr    int // round-robin cursor
}

// NewMultiplexer returns an empty Multiplexer; peers are added with Add.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{}
}

// Add registers a peer client with the multiplexer.
func (m *Multiplexer) Add(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = append(m.peers, &peerState{client: c})
}

// Remove unregisters and closes a peer client.
func (m *Multiplexer) Remove(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ps := range m.peers {
		if ps.client == c {
			if ps.flagged {
				metrics.PeersFlagged.Dec()
			}
			m.peers = append(m.peers[:i], m.peers[i+1:]...)
			metrics.PeersActive.Set(float64(len(m.peers)))
			c.Close()
			return
		}
	}
}

// activePeers returns the peers not currently in cooldown, in the
// multiplexer's current round-robin order.
func (m *Multiplexer) activePeers() []*peerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var active []*peerState
	for i := 0; i < len(m.peers); i++ {
		ps := m.peers[(m.rr+i)%len(m.peers)]
		if ps.suspectUntil.IsZero() || now.After(ps.suspectUntil) {
			if ps.flagged {
				ps.flagged = false
				metrics.PeersFlagged.Dec()
			}
			active = append(active, ps)
		}
	}
	if len(m.peers) > 0 {
		m.rr = (m.rr + 1) % len(m.peers)
	}
	return active
}

// NextTip performs one non-blocking scan across peers' tip-notification
// channels, returning the first available event. If none is ready it
// sleeps briefly (~1s, matching the source's time.sleep(1), or less if
// ctx is done first) and returns (TipEvent{}, false) so the caller can
// check for shutdown between scans.
func (m *Multiplexer) NextTip(ctx context.Context) (TipEvent, bool) {
	for _, ps := range m.activePeers() {
		select {
		case h, ok := <-ps.client.Tips():
			if !ok {
				m.Remove(ps.client)
				continue
			}
			return TipEvent{Peer: ps.client, Header: h}, true
		default:
		}
	}
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	return TipEvent{}, false
}

// FetchHeader requests blockchain.block.get_header(height) from the given
// peer, retrying on timeout until ctx is cancelled or the peer itself
// fails, matching retrieve_header's "keep polling with a 1s timeout"
// behavior translated into a context deadline/cancellation.
func (m *Multiplexer) FetchHeader(ctx context.Context, c Client, height int64) (*header.Header, error) {
	for {
		h, err := c.GetHeader(ctx, height)
		if err == nil {
			return h, nil
		}
		if ctx.Err() != nil {
			return nil, ErrPeerTimeout
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return nil, ErrPeerTimeout
		}
	}
}

// FlagPeer marks a peer as suspect. Subsequent NextTip scans skip it
// until its cooldown lapses. Cooldown grows exponentially per repeated
// offense (1m, 2m, 4m, ... capped at 30m) rather than a permanent ban —
// see DESIGN.md's Open Question decision on peer ban policy.
func (m *Multiplexer) FlagPeer(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ps := range m.peers {
		if ps.client == c {
			ps.failures++
			backoff := min(time.Minute<<uint(min(ps.failures-1, 5)), 30*time.Minute)
			ps.suspectUntil = time.Now().Add(backoff)
			if !ps.flagged {
				ps.flagged = true
				metrics.PeersFlagged.Inc()
			}
			return
		}
	}
}

// Peers returns the current, unordered list of registered peer clients,
// for status reporting.
func (m *Multiplexer) Peers() []Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Client, len(m.peers))
	for i, ps := range m.peers {
		out[i] = ps.client
	}
	return out
}

// Contains reports whether c is still registered, for callers that hold
// a reference across an async boundary.
func (m *Multiplexer) Contains(c Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.ContainsFunc(m.peers, func(ps *peerState) bool { return ps.client == c })
}
