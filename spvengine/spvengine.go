// Package spvengine re-exports the header-chain engine's programmatic
// surface (spec.md §6: start/stop/is_running, tip_height, read_header,
// a tip-advanced callback) from the module root, since internal/engine
// itself cannot be imported outside this module.
package spvengine

import (
	"github.com/rootSig/electrum-atom-t/internal/bootstrap"
	"github.com/rootSig/electrum-atom-t/internal/engine"
	"github.com/rootSig/electrum-atom-t/internal/header"
	"github.com/rootSig/electrum-atom-t/internal/peer"
)

// Engine verifies and stores a header-only block chain.
type Engine = engine.Engine

// Options configures an Engine; see engine.Options.
type Options = engine.Options

// BootstrapOptions configures the initial archive fetch passed to Start.
type BootstrapOptions = bootstrap.Options

// Header is the decoded, 80-byte block header type used throughout the
// exposed surface.
type Header = header.Header

// PeerClient is the contract a peer connection must satisfy to be
// registered with an Engine via AddPeer.
type PeerClient = peer.Client

// OnTipAdvanced is invoked with the new tip height after every
// successful chain extension.
type OnTipAdvanced = engine.OnTipAdvanced

// DefaultBootstrapURL is the well-known header archive used when
// BootstrapOptions.URL is left empty.
const DefaultBootstrapURL = bootstrap.DefaultURL

// New opens (creating if absent) the header store under opts.DataDir and
// returns an Engine ready to be started.
func New(opts Options) (*Engine, error) {
	return engine.New(opts)
}
