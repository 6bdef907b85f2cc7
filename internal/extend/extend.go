// Package extend implements the chain extender: given a candidate tip
// header from a peer, walk backwards requesting ancestors until the
// chain connects to the local store, validate the assembled chain
// end-to-end, and commit it. Grounded on
// original_source/lib/blockchain.py's get_chain/verify_chain/verify_header,
// translated from the Python "prepend and loop" shape into Go with
// explicit errors instead of assert, per spec.md §4.D and DESIGN.md's
// Open Question 2 decision.
package extend

import (
	"context"
	"errors"

	"github.com/rootSig/electrum-atom-t/internal/consensus"
	"github.com/rootSig/electrum-atom-t/internal/header"
	"github.com/rootSig/electrum-atom-t/internal/peer"
	"github.com/rootSig/electrum-atom-t/internal/store"
)

// ErrReorgTooDeep is returned when the walk-back exceeds MaxWalkBack
// without finding a common ancestor with the local store.
var ErrReorgTooDeep = errors.New("extend: reorg walk-back exceeded depth limit")

// ErrNotAhead is returned when the candidate's height is not strictly
// greater than the local tip, so there is nothing to extend.
var ErrNotAhead = errors.New("extend: candidate is not ahead of the local tip")

// MaxWalkBack bounds how far the extender will walk back requesting
// ancestors before giving up, per spec.md §4.D's SHOULD.
const MaxWalkBack = 2016

// Extender owns the single-flight chain-extension algorithm: only one
// extension attempt runs at a time (spec.md §5's "Concurrency" clause),
// enforced by the caller serializing calls to Extend (the engine's
// verifier loop does this naturally by being single-threaded).
type Extender struct {
	Store   *store.Store
	Rules   *consensus.Rules
	Mux     *peer.Multiplexer
	// OnReorg, if set, is invoked with the height the store is being
	// rolled back from whenever a commit overwrites previously-stored
	// headers — the resolution of spec.md §9's undefined
	// verifier.undo_verifications() hook (see DESIGN.md).
	OnReorg func(rolledBackFrom int64)
}

// Result reports what Extend did, for logging/metrics at the call site.
type Result struct {
	CommittedFrom int64 // lowest height written
	CommittedTo   int64 // highest height written (new tip)
	Reorg         bool
}

// Extend runs the algorithm of spec.md §4.D for a single (peer, tip)
// event: walk back to a common ancestor, validate the assembled chain,
// and on success commit it to the store.
func (e *Extender) Extend(ctx context.Context, ev peer.TipEvent) (*Result, error) {
	tip, err := e.Store.TipHeight()
	if err != nil {
		return nil, err
	}
	if ev.Header.BlockHeight <= tip {
		return nil, ErrNotAhead
	}

	chain, err := e.assemble(ctx, ev.Peer, ev.Header)
	if err != nil {
		return nil, err
	}

	if err := e.validateChain(chain); err != nil {
		return nil, err
	}

	return e.commit(chain)
}

// assemble walks backwards from candidate, requesting ancestors from the
// same peer, until the chain connects to the local store — i.e. the
// store's header at height-1 hashes to the candidate's prev_block_hash.
// A disagreement (the local store has a different header at that height)
// is treated as a reorg signal and also triggers a walk-back request,
// exactly as get_chain does.
func (e *Extender) assemble(ctx context.Context, p peer.Client, candidate *header.Header) ([]*header.Header, error) {
	chain := []*header.Header{candidate}
	for depth := 0; ; depth++ {
		if depth > MaxWalkBack {
			return nil, ErrReorgTooDeep
		}
		head := chain[0]
		if head.BlockHeight == 0 {
			// Walked all the way back to genesis; nothing precedes it.
			break
		}
		localParent, err := e.Store.Read(head.BlockHeight - 1)
		if err != nil {
			return nil, err
		}
		if localParent != nil && header.Hash(localParent) == head.PrevBlockHash {
			// Connects to the local chain; done.
			break
		}
		// Either absent locally, or the local header disagrees
		// (reorg) — in both cases request the parent from the peer.
		parent, err := e.Mux.FetchHeader(ctx, p, head.BlockHeight-1)
		if err != nil {
			return nil, err
		}
		parent.BlockHeight = head.BlockHeight - 1
		chain = append([]*header.Header{parent}, chain...)
	}
	return chain, nil
}

// validateChain validates the assembled chain end-to-end in ascending
// height order, matching verify_chain: the predecessor of chain[0] is
// whatever is already in the store (or, for a chain rooted at genesis,
// validation starts from chain[0] itself having no predecessor to check
// against the link-mismatch rule, only bits/work).
func (e *Extender) validateChain(chain []*header.Header) error {
	var prev *header.Header
	if chain[0].BlockHeight > 0 {
		p, err := e.Store.Read(chain[0].BlockHeight - 1)
		if err != nil {
			return err
		}
		prev = p
	}
	for _, h := range chain {
		if prev != nil {
			if err := e.Rules.ValidateHeader(h, prev); err != nil {
				return err
			}
		} else {
			// Genesis: no predecessor to link against, only bits/work apply.
			epoch := h.BlockHeight / consensus.EpochLength
			expectedBits, target, err := e.Rules.ExpectedTarget(epoch)
			if err != nil {
				return err
			}
			if h.Bits != expectedBits {
				return consensus.ErrBadBits
			}
			if !header.BelowTarget(h, target) {
				return consensus.ErrInsufficientWork
			}
		}
		prev = h
	}
	return nil
}

// commit writes every header in chain to the store in ascending height
// order as a single logical commit, then reports whether this was a
// reorg (any member height already held a different header).
func (e *Extender) commit(chain []*header.Header) (*Result, error) {
	reorg := false
	lowest := chain[0].BlockHeight
	for _, h := range chain {
		existing, err := e.Store.Read(h.BlockHeight)
		if err != nil {
			return nil, err
		}
		if existing != nil && header.Hash(existing) != header.Hash(h) {
			reorg = true
		}
	}
	tip, err := e.Store.WriteChain(chain)
	if err != nil {
		return nil, err
	}
	if reorg && e.OnReorg != nil {
		e.OnReorg(lowest - 1)
	}
	return &Result{CommittedFrom: lowest, CommittedTo: tip, Reorg: reorg}, nil
}
