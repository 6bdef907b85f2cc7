// Package engine ties the codec, store, consensus, extender, multiplexer
// and bootstrapper together into the exposed programmatic surface of
// spec.md §6: start/stop/is_running, tip_height, read_header, and a
// tip-advanced callback. Structured the way common.go centralizes the
// teacher's Options/Log/Time globals and start/stop-channel bookkeeping
// around BlockIngestor, adapted into a struct instead of package
// globals so multiple engines can coexist in tests.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rootSig/electrum-atom-t/internal/bootstrap"
	"github.com/rootSig/electrum-atom-t/internal/consensus"
	"github.com/rootSig/electrum-atom-t/internal/extend"
	"github.com/rootSig/electrum-atom-t/internal/header"
	"github.com/rootSig/electrum-atom-t/internal/metrics"
	"github.com/rootSig/electrum-atom-t/internal/peer"
	"github.com/rootSig/electrum-atom-t/internal/store"
)

// Options configures an Engine, mirroring the shape of the teacher's
// common.Options: grouped, JSON-tagged, one field per operational knob.
type Options struct {
	DataDir          string `json:"data_dir"`
	BootstrapURL     string `json:"bootstrap_url,omitempty"`
	NoBootstrap      bool   `json:"no_bootstrap,omitempty"`
	ValidateArchive  bool   `json:"validate_archive,omitempty"`
	LogLevel         uint32 `json:"log_level,omitempty"`
}

// Time allows time-related functions to be mocked in tests, exactly as
// common.Time does for the teacher's BlockIngestor loop.
var Time = struct {
	Sleep func(d time.Duration)
	Now   func() time.Time
}{
	Sleep: time.Sleep,
	Now:   time.Now,
}

// Log is the package-level structured logger, populated by cmd/ at
// startup the same way common.Log is assigned once from cmd/root.go.
var Log = logrus.WithField("app", "spvheaders")

// OnTipAdvanced is invoked after every successful commit with the new
// tip height — the "event or callback surface" of spec.md §6.
type OnTipAdvanced func(height int64)

// Engine owns one header store and its extension loop.
type Engine struct {
	Store *store.Store
	Rules *consensus.Rules
	Mux   *peer.Multiplexer
	Ext   *extend.Extender

	onTip OnTipAdvanced

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New constructs an Engine backed by a header store at
// opts.DataDir/blockchain_headers (spec.md §6's persistent file name).
func New(opts Options) (*Engine, error) {
	path := opts.DataDir + "/blockchain_headers"
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	rules := consensus.New(s)
	mux := peer.NewMultiplexer()
	ext := &extend.Extender{Store: s, Rules: rules, Mux: mux}

	e := &Engine{Store: s, Rules: rules, Mux: mux, Ext: ext}
	ext.OnReorg = func(rolledBackFrom int64) {
		Log.WithField("height", rolledBackFrom).Info("reorg: rolling back verified state from height")
	}
	return e, nil
}

// OnTipAdvanced registers the callback invoked after each committed
// extension. Only one callback is supported; registering again replaces
// the previous one.
func (e *Engine) OnTipAdvanced(f OnTipAdvanced) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTip = f
}

// AddPeer registers a peer client with the engine's multiplexer.
func (e *Engine) AddPeer(c peer.Client) {
	e.Mux.Add(c)
	metrics.PeersActive.Set(float64(len(e.Mux.Peers())))
}

// TipHeight returns the height of the highest stored, validated header,
// or -1 for an empty store.
func (e *Engine) TipHeight() (int64, error) {
	return e.Store.TipHeight()
}

// ReadHeader returns the header at height, or nil if the store doesn't
// extend that far.
func (e *Engine) ReadHeader(height int64) (*header.Header, error) {
	return e.Store.Read(height)
}

// IsRunning reports whether the verifier loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start bootstraps the store (if empty) and launches the verifier loop
// as a background goroutine. It returns once bootstrapping completes;
// the extension loop itself runs until Stop is called.
func (e *Engine) Start(ctx context.Context, bootstrapOpts bootstrap.Options) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine: already running")
	}
	e.mu.Unlock()

	if err := bootstrap.Bootstrap(ctx, e.Store, bootstrapOpts); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	go e.run(runCtx)

	if tip, err := e.TipHeight(); err == nil {
		metrics.TipHeight.Set(float64(tip))
	}
	return nil
}

// Stop signals the verifier loop to terminate. Shutdown is cooperative
// and bounded by the longest single poll (<=1s), per spec.md §5.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// run is the verifier loop: pull (peer, tip) events from the
// multiplexer and feed them to the extender, one at a time, exactly as
// spec.md §4.D's single-logical-worker model requires.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev, ok := e.Mux.NextTip(ctx)
		if !ok {
			continue
		}

		result, err := e.Ext.Extend(ctx, ev)
		if err != nil {
			e.handleExtendError(ev, err)
			continue
		}
		metrics.HeadersValidatedTotal.Add(float64(result.CommittedTo - result.CommittedFrom + 1))
		metrics.TipHeight.Set(float64(result.CommittedTo))
		if result.Reorg {
			metrics.ReorgsTotal.Inc()
		}
		Log.WithFields(logrus.Fields{
			"height": result.CommittedTo,
			"peer":   ev.Peer.Address(),
			"reorg":  result.Reorg,
		}).Info("extended chain")

		e.mu.Lock()
		cb := e.onTip
		e.mu.Unlock()
		if cb != nil {
			cb(result.CommittedTo)
		}
	}
}

func (e *Engine) handleExtendError(ev peer.TipEvent, err error) {
	if errors.Is(err, extend.ErrNotAhead) {
		// Stale notification; not a peer fault.
		return
	}
	if errors.Is(err, store.ErrStoreIO) {
		// A genuine disk fault, not a peer misbehaving; per spec.md §7
		// this is the one fatal error kind, so stop rather than flag.
		Log.WithFields(logrus.Fields{
			"peer":  ev.Peer.Address(),
			"error": err,
		}).Fatal("fatal store I/O error, stopping engine")
		return
	}
	metrics.HeadersRejectedTotal.WithLabelValues(reasonLabel(err)).Inc()
	Log.WithFields(logrus.Fields{
		"peer":  ev.Peer.Address(),
		"error": err,
	}).Warn("extension failed, flagging peer")
	e.Mux.FlagPeer(ev.Peer)
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, consensus.ErrLinkMismatch):
		return "link_mismatch"
	case errors.Is(err, consensus.ErrBadBits):
		return "bad_bits"
	case errors.Is(err, consensus.ErrInsufficientWork):
		return "insufficient_work"
	case errors.Is(err, extend.ErrReorgTooDeep):
		return "reorg_too_deep"
	case errors.Is(err, peer.ErrPeerTimeout):
		return "peer_timeout"
	case errors.Is(err, header.ErrMalformed):
		return "malformed_header"
	default:
		return "other"
	}
}
