// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package changeset

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Merge policy
//
// Merging folds an incoming changeset into the receiver so that persisting
// the result is equivalent to persisting both in order.  Per field:
//
//   - Set-valued maps (txs, txouts, anchors, script cache): union by key.
//     If both sides define a different value for the same key the incoming
//     value wins.  These entities are immutable so a conflicting rewrite is
//     not expected in normal operation; the tie-break makes the literal
//     merge non-commutative and tests document that.
//   - FirstSeen keeps the minimum timestamp per key, LastSeen and
//     LastEvicted keep the maximum, LastRevealed keeps the maximum index.
//     Equal values are a no-op, so merging is idempotent.
//   - Blocks entries are upserted positionally, tombstones (nil hash)
//     included.  A tombstone deletes the stored row when the changeset is
//     applied to a store; it is kept verbatim during merge so that the
//     deletion survives further merging.
//   - Network and descriptors are write-once: the receiver keeps its value
//     when already set.

// Merge folds other into c.
func (c *ChangeSet) Merge(other *ChangeSet) {
	if c.Network == "" {
		c.Network = other.Network
	}
	if c.Descriptor == "" {
		c.Descriptor = other.Descriptor
	}
	if c.ChangeDescriptor == "" {
		c.ChangeDescriptor = other.ChangeDescriptor
	}
	c.Chain.Merge(&other.Chain)
	c.TxGraph.Merge(&other.TxGraph)
	c.Indexer.Merge(&other.Indexer)
}

// Merge folds other into c.
func (c *LocalChain) Merge(other *LocalChain) {
	if len(other.Blocks) == 0 {
		return
	}
	if c.Blocks == nil {
		c.Blocks = make(map[uint32]*chainhash.Hash, len(other.Blocks))
	}
	for height, hash := range other.Blocks {
		c.Blocks[height] = hash
	}
}

// Merge folds other into g.
func (g *TxGraph) Merge(other *TxGraph) {
	for txid, tx := range other.Txs {
		if g.Txs == nil {
			g.Txs = make(map[chainhash.Hash]*wire.MsgTx)
		}
		g.Txs[txid] = tx
	}
	for op, txOut := range other.TxOuts {
		if g.TxOuts == nil {
			g.TxOuts = make(map[wire.OutPoint]*wire.TxOut)
		}
		g.TxOuts[op] = txOut
	}
	for key, anchor := range other.Anchors {
		if g.Anchors == nil {
			g.Anchors = make(map[AnchorKey]Anchor)
		}
		g.Anchors[key] = anchor
	}
	g.FirstSeen = mergeTimes(g.FirstSeen, other.FirstSeen, keepMin)
	g.LastSeen = mergeTimes(g.LastSeen, other.LastSeen, keepMax)
	g.LastEvicted = mergeTimes(g.LastEvicted, other.LastEvicted, keepMax)
}

// Merge folds other into i.
func (i *Indexer) Merge(other *Indexer) {
	for descID, index := range other.LastRevealed {
		if i.LastRevealed == nil {
			i.LastRevealed = make(map[chainhash.Hash]uint32)
		}
		if cur, ok := i.LastRevealed[descID]; !ok || index > cur {
			i.LastRevealed[descID] = index
		}
	}
	for descID, scripts := range other.SpkCache {
		if i.SpkCache == nil {
			i.SpkCache = make(map[chainhash.Hash]map[uint32][]byte)
		}
		cached := i.SpkCache[descID]
		if cached == nil {
			cached = make(map[uint32][]byte, len(scripts))
			i.SpkCache[descID] = cached
		}
		for index, script := range scripts {
			cached[index] = script
		}
	}
}

const (
	keepMin = iota
	keepMax
)

func mergeTimes(dst, src map[chainhash.Hash]uint64,
	policy int) map[chainhash.Hash]uint64 {

	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[chainhash.Hash]uint64, len(src))
	}
	for txid, t := range src {
		cur, ok := dst[txid]
		switch {
		case !ok:
			dst[txid] = t
		case policy == keepMin && t < cur:
			dst[txid] = t
		case policy == keepMax && t > cur:
			dst[txid] = t
		}
	}
	return dst
}
