// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package changeset

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Keychain identifies which of the two wallet keychains a descriptor belongs
// to.
type Keychain uint8

// The two keychains a wallet tracks.  External descriptors derive receive
// addresses, internal descriptors derive change addresses.
const (
	KeychainExternal Keychain = 0
	KeychainInternal Keychain = 1
)

// BlockID points to a block at a particular height in the chain.
type BlockID struct {
	Height uint32
	Hash   chainhash.Hash
}

// AnchorBlock returns the block the anchor points to.  A bare BlockID is the
// anchor variant that carries no extra metadata.
func (b BlockID) AnchorBlock() BlockID {
	return b
}

// Anchor asserts that a transaction is confirmed at a particular chain
// position.  Implementations may carry variant-specific metadata beyond the
// position itself; see ConfirmationBlockTime.
type Anchor interface {
	// AnchorBlock returns the chain position the anchor asserts.
	AnchorBlock() BlockID
}

// ConfirmationBlockTime is an anchor variant that additionally records the
// unix timestamp of the confirming block.
type ConfirmationBlockTime struct {
	Block            BlockID
	ConfirmationTime uint64
}

// AnchorBlock returns the confirming block.
func (c ConfirmationBlockTime) AnchorBlock() BlockID {
	return c.Block
}

// AnchorKey uniquely identifies an anchor record.  A transaction can be
// anchored in multiple blocks (across competing chains) and a block anchors
// many transactions, so both halves are part of the key.
type AnchorKey struct {
	TxID  chainhash.Hash
	Block BlockID
}

// LocalChain describes additions to and removals from the wallet's view of
// the best chain.  A nil hash for a height is a tombstone: the block at that
// height was reorged out and its row must be removed.
type LocalChain struct {
	Blocks map[uint32]*chainhash.Hash
}

// TxGraph describes additions to the wallet's transaction graph: whole
// transactions, floating outputs, confirmation anchors, and the three
// per-transaction observation timestamps.
type TxGraph struct {
	Txs     map[chainhash.Hash]*wire.MsgTx
	TxOuts  map[wire.OutPoint]*wire.TxOut
	Anchors map[AnchorKey]Anchor

	// FirstSeen, LastSeen and LastEvicted record unix timestamps per
	// transaction id.  FirstSeen only ever decreases across merges, the
	// other two only ever increase.
	FirstSeen   map[chainhash.Hash]uint64
	LastSeen    map[chainhash.Hash]uint64
	LastEvicted map[chainhash.Hash]uint64
}

// Indexer describes additions to the descriptor indexer: the highest revealed
// derivation index per descriptor and the cache of derived scripts.
type Indexer struct {
	LastRevealed map[chainhash.Hash]uint32
	SpkCache     map[chainhash.Hash]map[uint32][]byte
}

// ChangeSet is a partial, mergeable description of wallet state additions.
// Zero-value string fields mean "not part of this changeset".
type ChangeSet struct {
	Network          string
	Descriptor       string
	ChangeDescriptor string

	Chain   LocalChain
	TxGraph TxGraph
	Indexer Indexer
}

// DescriptorID returns the stable 32-byte identifier of a descriptor, the
// SHA-256 of its string form.
func DescriptorID(desc string) chainhash.Hash {
	return chainhash.Hash(sha256.Sum256([]byte(desc)))
}

// IsEmpty returns true if applying the changeset would change nothing.
func (c *LocalChain) IsEmpty() bool {
	return len(c.Blocks) == 0
}

// IsEmpty returns true if applying the changeset would change nothing.
func (g *TxGraph) IsEmpty() bool {
	return len(g.Txs) == 0 && len(g.TxOuts) == 0 && len(g.Anchors) == 0 &&
		len(g.FirstSeen) == 0 && len(g.LastSeen) == 0 &&
		len(g.LastEvicted) == 0
}

// IsEmpty returns true if applying the changeset would change nothing.
func (i *Indexer) IsEmpty() bool {
	return len(i.LastRevealed) == 0 && len(i.SpkCache) == 0
}

// IsEmpty returns true if applying the changeset would change nothing.
func (c *ChangeSet) IsEmpty() bool {
	return c.Network == "" && c.Descriptor == "" &&
		c.ChangeDescriptor == "" && c.Chain.IsEmpty() &&
		c.TxGraph.IsEmpty() && c.Indexer.IsEmpty()
}
