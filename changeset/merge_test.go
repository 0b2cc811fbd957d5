// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package changeset

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func hashOf(s string) chainhash.Hash {
	return chainhash.HashH([]byte(s))
}

func hashPtr(s string) *chainhash.Hash {
	h := hashOf(s)
	return &h
}

func makeTx(prev chainhash.Hash, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: prev},
	})
	tx.AddTxOut(wire.NewTxOut(value, []byte{0x51}))
	return tx
}

func testChangeSet() *ChangeSet {
	tx1 := makeTx(hashOf("prev1"), 30_000)
	tx2 := makeTx(hashOf("prev2"), 20_000)
	desc := DescriptorID("wpkh(tpub.../0/*)")

	return &ChangeSet{
		Network:          "mainnet",
		Descriptor:       "wpkh(tpub.../0/*)",
		ChangeDescriptor: "wpkh(tpub.../1/*)",
		Chain: LocalChain{
			Blocks: map[uint32]*chainhash.Hash{
				0: hashPtr("B"),
				1: hashPtr("D"),
				2: nil,
			},
		},
		TxGraph: TxGraph{
			Txs: map[chainhash.Hash]*wire.MsgTx{
				tx1.TxHash(): tx1,
				tx2.TxHash(): tx2,
			},
			TxOuts: map[wire.OutPoint]*wire.TxOut{
				{Hash: tx1.TxHash(), Index: 0}: wire.NewTxOut(
					30_000, []byte{0x51},
				),
			},
			Anchors: map[AnchorKey]Anchor{
				{
					TxID: tx1.TxHash(),
					Block: BlockID{
						Height: 1,
						Hash:   hashOf("D"),
					},
				}: ConfirmationBlockTime{
					Block: BlockID{
						Height: 1,
						Hash:   hashOf("D"),
					},
					ConfirmationTime: 1234,
				},
			},
			FirstSeen: map[chainhash.Hash]uint64{
				tx1.TxHash(): 100,
			},
			LastSeen: map[chainhash.Hash]uint64{
				tx1.TxHash(): 120,
			},
			LastEvicted: map[chainhash.Hash]uint64{
				tx2.TxHash(): 90,
			},
		},
		Indexer: Indexer{
			LastRevealed: map[chainhash.Hash]uint32{desc: 5},
			SpkCache: map[chainhash.Hash]map[uint32][]byte{
				desc: {0: {0x00, 0x14}, 1: {0x00, 0x20}},
			},
		},
	}
}

// TestMergeIdempotent asserts that merging a changeset into a copy of itself
// changes nothing, for every entity kind, tombstones included.
func TestMergeIdempotent(t *testing.T) {
	cs := testChangeSet()
	merged := testChangeSet()
	merged.Merge(testChangeSet())
	require.Equal(t, cs, merged)
}

// TestMergeMonotonic asserts the per-field policies for the monotonic scalar
// maps: first_seen keeps the minimum, last_seen and last_evicted keep the
// maximum, last_revealed never decreases.
func TestMergeMonotonic(t *testing.T) {
	txid := hashOf("tx")
	desc := hashOf("desc")

	g := TxGraph{
		FirstSeen:   map[chainhash.Hash]uint64{txid: 100},
		LastSeen:    map[chainhash.Hash]uint64{txid: 100},
		LastEvicted: map[chainhash.Hash]uint64{txid: 100},
	}
	g.Merge(&TxGraph{
		FirstSeen:   map[chainhash.Hash]uint64{txid: 50},
		LastSeen:    map[chainhash.Hash]uint64{txid: 50},
		LastEvicted: map[chainhash.Hash]uint64{txid: 50},
	})
	require.Equal(t, uint64(50), g.FirstSeen[txid])
	require.Equal(t, uint64(100), g.LastSeen[txid])
	require.Equal(t, uint64(100), g.LastEvicted[txid])

	// The same incoming values applied in the other order land on the
	// same result: the monotonic policies are commutative.
	g2 := TxGraph{
		FirstSeen:   map[chainhash.Hash]uint64{txid: 50},
		LastSeen:    map[chainhash.Hash]uint64{txid: 50},
		LastEvicted: map[chainhash.Hash]uint64{txid: 50},
	}
	g2.Merge(&TxGraph{
		FirstSeen:   map[chainhash.Hash]uint64{txid: 100},
		LastSeen:    map[chainhash.Hash]uint64{txid: 100},
		LastEvicted: map[chainhash.Hash]uint64{txid: 100},
	})
	require.Equal(t, g.FirstSeen, g2.FirstSeen)
	require.Equal(t, g.LastSeen, g2.LastSeen)
	require.Equal(t, g.LastEvicted, g2.LastEvicted)

	i := Indexer{LastRevealed: map[chainhash.Hash]uint32{desc: 5}}
	i.Merge(&Indexer{LastRevealed: map[chainhash.Hash]uint32{desc: 3}})
	require.Equal(t, uint32(5), i.LastRevealed[desc])

	i.Merge(&Indexer{LastRevealed: map[chainhash.Hash]uint32{desc: 8}})
	require.Equal(t, uint32(8), i.LastRevealed[desc])
}

// TestMergeIncomingWins documents that the union fields resolve conflicting
// values for the same key in favor of the incoming fragment, which makes the
// literal merge deliberately non-commutative.  Immutable entities should
// never hit this path in normal operation.
func TestMergeIncomingWins(t *testing.T) {
	op := wire.OutPoint{Hash: hashOf("tx"), Index: 0}
	stored := wire.NewTxOut(10_000, []byte{0x51})
	incoming := wire.NewTxOut(20_000, []byte{0x52})

	a := TxGraph{TxOuts: map[wire.OutPoint]*wire.TxOut{op: stored}}
	a.Merge(&TxGraph{TxOuts: map[wire.OutPoint]*wire.TxOut{op: incoming}})
	require.Equal(t, incoming, a.TxOuts[op])

	b := TxGraph{TxOuts: map[wire.OutPoint]*wire.TxOut{op: incoming}}
	b.Merge(&TxGraph{TxOuts: map[wire.OutPoint]*wire.TxOut{op: stored}})
	require.Equal(t, stored, b.TxOuts[op])

	// Same keys, opposite merge order, different results.
	require.NotEqual(t, a.TxOuts[op], b.TxOuts[op])
}

// TestMergeBlocks asserts that block entries are upserted positionally and
// that tombstones survive merging so a reorged height is still removed when
// the merged changeset is applied to a store.
func TestMergeBlocks(t *testing.T) {
	chain := LocalChain{
		Blocks: map[uint32]*chainhash.Hash{
			0: hashPtr("B"),
			1: hashPtr("D"),
			2: hashPtr("K"),
		},
	}
	chain.Merge(&LocalChain{
		Blocks: map[uint32]*chainhash.Hash{
			1: hashPtr("E"),
			2: nil,
			3: hashPtr("F"),
		},
	})

	require.Equal(t, map[uint32]*chainhash.Hash{
		0: hashPtr("B"),
		1: hashPtr("E"),
		2: nil,
		3: hashPtr("F"),
	}, chain.Blocks)
}

// TestMergeWriteOnce asserts that network and descriptors already present in
// the receiver are kept.
func TestMergeWriteOnce(t *testing.T) {
	cs := &ChangeSet{Network: "mainnet", Descriptor: "desc0"}
	cs.Merge(&ChangeSet{
		Network:          "testnet",
		Descriptor:       "desc1",
		ChangeDescriptor: "desc2",
	})
	require.Equal(t, "mainnet", cs.Network)
	require.Equal(t, "desc0", cs.Descriptor)
	require.Equal(t, "desc2", cs.ChangeDescriptor)
}

// TestIsEmpty asserts IsEmpty over the zero value and each fragment kind.
func TestIsEmpty(t *testing.T) {
	var cs ChangeSet
	require.True(t, cs.IsEmpty())

	cs.Chain.Blocks = map[uint32]*chainhash.Hash{0: nil}
	require.False(t, cs.IsEmpty())

	require.False(t, testChangeSet().IsEmpty())
}
