// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/chainstate/changeset"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/stretchr/testify/require"
)

// defaultDBTimeout is the timeout used when opening the test databases.
const defaultDBTimeout = 10 * time.Second

// Signet descriptors, for tests only.
const (
	testDescriptor = "tr(tprv8ZgxMBicQKsPdrjwWCyXqqJ4YqcyG4DmKtjjsRt29v1" +
		"PtD3r3PuFJAjWytzcvSTKnZAGAkPSmnrdnuHWxCAwy3i1iPhrtKAfXRH7dVC" +
		"NGp6/86'/1'/0'/0/*)"
	testChangeDescriptor = "tr(tprv8ZgxMBicQKsPdrjwWCyXqqJ4YqcyG4DmKtjjs" +
		"Rt29v1PtD3r3PuFJAjWytzcvSTKnZAGAkPSmnrdnuHWxCAwy3i1iPhrtKAfX" +
		"RH7dVCNGp6/86'/1'/0'/1/*)"
)

func newTestDB(t *testing.T) walletdb.DB {
	t.Helper()

	db, err := walletdb.Create(
		"bdb", filepath.Join(t.TempDir(), "test.db"), true,
		defaultDBTimeout,
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func newTestStore(t *testing.T, db walletdb.DB, namespace string,
	opts ...Option) *Store {

	t.Helper()

	s, err := New(db, namespace, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Init())
	return s
}

func hashOf(s string) chainhash.Hash {
	return chainhash.HashH([]byte(s))
}

func hashPtr(s string) *chainhash.Hash {
	h := hashOf(s)
	return &h
}

// makeTx creates a minimal transaction spending the first output of prev
// and paying amt to an anyone-can-spend script.
func makeTx(prev chainhash.Hash, amt btcutil.Amount) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: prev},
	})
	tx.AddTxOut(wire.NewTxOut(int64(amt), []byte{0x51}))
	return tx
}

// persistTxs stores the given transactions so that dependent records can
// reference them.
func persistTxs(t *testing.T, s *Store, txs ...*wire.MsgTx) {
	t.Helper()

	cs := &changeset.ChangeSet{
		TxGraph: changeset.TxGraph{
			Txs: make(map[chainhash.Hash]*wire.MsgTx),
		},
	}
	for _, tx := range txs {
		cs.TxGraph.Txs[tx.TxHash()] = tx
	}
	require.NoError(t, s.PersistChangeSet(cs))
}
