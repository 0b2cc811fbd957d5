// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/chainstate/changeset"
	"github.com/btcsuite/btcwallet/walletdb"
)

// Naming
//
// The following variables are commonly used in this file and given
// reserved names:
//
//   b:  The bucket for the table being operated on
//   k:  A single bucket key
//   v:  A single bucket value
//
// Functions use the naming scheme `Op[Raw]Type[Field]`, which performs the
// operation `Op` on the type `Type`, optionally dealing with raw keys and
// values if `Raw` is used.  The following operations are used:
//
//   key:     return a db key for some data
//   value:   return a db value for some data
//   put:     insert or replace a value into a bucket
//   fetch:   read and return a value
//   read:    read a value into an out parameter
//   exists:  return whether a key is present
//   delete:  remove a k/v pair

// Big endian is the only byte order used by this package, for keys and
// values alike.  Range-scanned numeric keys (block heights, script indices)
// require it so that cursor iteration in byte-lexicographic order matches
// numeric order, and mixing byte orders across tables is how that property
// gets silently lost.
var byteOrder = binary.BigEndian

// Database versions.  Versions start at 1 and increment for each database
// change.
const (
	// LatestVersion is the most recent store version.
	LatestVersion = 1
)

// This package makes assumptions that the width of a chainhash.Hash is always
// 32 bytes.  If this is ever changed (unlikely for bitcoin, possible for
// alts), offsets have to be rewritten.  Use a compile-time assertion that
// this assumption holds true.
var _ [32]byte = chainhash.Hash{}

// Each wallet namespace owns one top-level bucket per table, named by
// appending one of these suffixes to the namespace.  The network table is the
// exception: it is shared by every namespace in the database and keyed by
// namespace.
var (
	tableNetwork = []byte("network")

	suffixKeychain     = []byte("keychain")
	suffixBlocks       = []byte("blocks")
	suffixTxs          = []byte("txs")
	suffixTxOuts       = []byte("txouts")
	suffixAnchors      = []byte("anchors")
	suffixFirstSeen    = []byte("first_seen")
	suffixLastSeen     = []byte("last_seen")
	suffixLastEvicted  = []byte("last_evicted")
	suffixLastRevealed = []byte("last_revealed")
	suffixSpk          = []byte("spk")
	suffixMeta         = []byte("meta")
)

// Meta table keys.
var (
	metaVersion    = []byte("vers")
	metaCreateDate = []byte("date")
)

// tableKey derives the bucket name for one of a namespace's tables.  The
// derivation is a pure function of namespace and suffix; the result is never
// cached as store state.
func tableKey(namespace string, suffix []byte) []byte {
	k := make([]byte, 0, len(namespace)+1+len(suffix))
	k = append(k, namespace...)
	k = append(k, '_')
	k = append(k, suffix...)
	return k
}

// tableSuffixes lists every per-namespace table, in the order tables are
// created.
var tableSuffixes = [][]byte{
	suffixMeta,
	suffixKeychain,
	suffixBlocks,
	suffixTxs,
	suffixTxOuts,
	suffixAnchors,
	suffixFirstSeen,
	suffixLastSeen,
	suffixLastEvicted,
	suffixLastRevealed,
	suffixSpk,
}

// The meta table records the store version and creation date for the
// namespace.  Both are written once by Init.

func putMeta(b walletdb.ReadWriteBucket, version uint32, created time.Time) error {
	v := make([]byte, 4)
	byteOrder.PutUint32(v, version)
	if err := b.Put(metaVersion, v); err != nil {
		str := "failed to store version"
		return storeError(ErrDatabase, str, err)
	}
	v = make([]byte, 8)
	byteOrder.PutUint64(v, uint64(created.Unix()))
	if err := b.Put(metaCreateDate, v); err != nil {
		str := "failed to store creation date"
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

func fetchVersion(b walletdb.ReadBucket) (uint32, error) {
	v := b.Get(metaVersion)
	if len(v) != 4 {
		str := fmt.Sprintf("version: short read (expected 4 bytes, "+
			"read %d)", len(v))
		return 0, storeError(ErrData, str, nil)
	}
	return byteOrder.Uint32(v), nil
}

// Several data structures are given canonical serialization formats as
// either keys or values.  These common formats allow keys and values to be
// reused across different tables.
//
// The canonical outpoint serialization format is:
//
//   [0:32] Transaction hash (32 bytes)
//   [32:36] Output index (4 bytes)
//
// The same layout keys the script cache table, with a descriptor id in place
// of the transaction hash and a derivation index in place of the output
// index.

func canonicalOutPoint(txHash *chainhash.Hash, index uint32) []byte {
	k := make([]byte, 36)
	copy(k, txHash[:])
	byteOrder.PutUint32(k[32:36], index)
	return k
}

func readCanonicalOutPoint(k []byte, op *wire.OutPoint) error {
	if len(k) < 36 {
		str := "short canonical outpoint"
		return storeError(ErrData, str, nil)
	}
	copy(op.Hash[:], k)
	op.Index = byteOrder.Uint32(k[32:36])
	return nil
}

// The canonical block id serialization format is:
//
//   [0:4]  Height (4 bytes)
//   [4:36] Block hash (32 bytes)
//
// The leading big endian height keeps block ids for the same transaction in
// height order under the anchor table's composite keys.

func canonicalBlockID(block changeset.BlockID) []byte {
	v := make([]byte, 36)
	byteOrder.PutUint32(v, block.Height)
	copy(v[4:36], block.Hash[:])
	return v
}

func readCanonicalBlockID(v []byte, block *changeset.BlockID) error {
	if len(v) < 36 {
		str := "short canonical block id"
		return storeError(ErrData, str, nil)
	}
	block.Height = byteOrder.Uint32(v)
	copy(block.Hash[:], v[4:36])
	return nil
}

// The keychain table maps a one byte keychain label (0 external, 1 internal)
// to the descriptor string for that keychain.  Rows are append-once; an
// existing row is never rewritten.

func keyKeychain(keychain changeset.Keychain) []byte {
	return []byte{byte(keychain)}
}

func putKeychain(b walletdb.ReadWriteBucket, keychain changeset.Keychain,
	desc string) error {

	k := keyKeychain(keychain)
	if v := b.Get(k); v != nil {
		if string(v) == desc {
			return nil
		}
		str := fmt.Sprintf("descriptor for keychain %d is immutable",
			keychain)
		return storeError(ErrImmutableRow, str, nil)
	}
	if err := b.Put(k, []byte(desc)); err != nil {
		str := "failed to store descriptor"
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

// Blocks are keyed by their big endian height so that cursor scans iterate
// the chain in height order.  The value is the 32 byte block hash.  A
// tombstone in a changeset (nil hash) deletes the row; deleting an absent
// height is a no-op.

func keyBlock(height uint32) []byte {
	k := make([]byte, 4)
	byteOrder.PutUint32(k, height)
	return k
}

func putBlock(b walletdb.ReadWriteBucket, height uint32,
	hash *chainhash.Hash) error {

	err := b.Put(keyBlock(height), hash[:])
	if err != nil {
		str := fmt.Sprintf("failed to store block %d", height)
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

func deleteBlock(b walletdb.ReadWriteBucket, height uint32) error {
	err := b.Delete(keyBlock(height))
	if err != nil {
		str := fmt.Sprintf("failed to delete block %d", height)
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

func readRawBlock(k, v []byte, height *uint32, hash *chainhash.Hash) error {
	if len(k) < 4 {
		str := fmt.Sprintf("%s: short key (expected 4 bytes, read %d)",
			suffixBlocks, len(k))
		return storeError(ErrData, str, nil)
	}
	if len(v) != 32 {
		str := fmt.Sprintf("%s: short read (expected 32 bytes, read %d)",
			suffixBlocks, len(v))
		return storeError(ErrData, str, nil)
	}
	*height = byteOrder.Uint32(k)
	copy(hash[:], v)
	return nil
}

// Transaction records are keyed by the transaction hash and hold the wire
// serialization of the whole transaction.  Records are immutable once
// inserted.

func putTxRecord(b walletdb.ReadWriteBucket, txid *chainhash.Hash,
	tx *wire.MsgTx) error {

	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		str := fmt.Sprintf("unable to serialize transaction %v", txid)
		return storeError(ErrData, str, err)
	}
	if err := b.Put(txid[:], buf.Bytes()); err != nil {
		str := fmt.Sprintf("%s: put failed for %v", suffixTxs, txid)
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

func readRawTxRecord(txid *chainhash.Hash, v []byte) (*wire.MsgTx, error) {
	tx := new(wire.MsgTx)
	if err := tx.Deserialize(bytes.NewReader(v)); err != nil {
		str := fmt.Sprintf("%s: failed to deserialize transaction %v",
			suffixTxs, txid)
		return nil, storeError(ErrData, str, err)
	}
	return tx, nil
}

func existsTxRecord(b walletdb.ReadBucket, txid *chainhash.Hash) bool {
	return b.Get(txid[:]) != nil
}

// checkTxRef enforces referential integrity for dependent records.  Anchors
// and observation flags may only be inserted for a transaction that already
// has a record, either committed before this batch or written earlier within
// it; both cases are visible through the transaction bucket of the current
// database transaction.
func checkTxRef(txs walletdb.ReadBucket, txid *chainhash.Hash) error {
	if !existsTxRecord(txs, txid) {
		return DanglingRefError{TxID: *txid}
	}
	return nil
}

// Transaction outputs are keyed by canonical outpoint.  The value is
// serialized as such:
//
//   [0:8] Amount (8 bytes)
//   [8:]  Output script (varies)

func valueTxOut(txOut *wire.TxOut) []byte {
	v := make([]byte, 8+len(txOut.PkScript))
	byteOrder.PutUint64(v, uint64(txOut.Value))
	copy(v[8:], txOut.PkScript)
	return v
}

func readRawTxOut(v []byte) (*wire.TxOut, error) {
	if len(v) < 8 {
		str := fmt.Sprintf("%s: short read (expected %d bytes, read %d)",
			suffixTxOuts, 8, len(v))
		return nil, storeError(ErrData, str, nil)
	}
	pkScript := make([]byte, len(v)-8)
	copy(pkScript, v[8:])
	return &wire.TxOut{
		Value:    int64(byteOrder.Uint64(v)),
		PkScript: pkScript,
	}, nil
}

// Anchor records are keyed as such:
//
//   [0:32]  Transaction hash (32 bytes)
//   [32:68] Canonical block id (36 bytes)
//
// The value is the anchor variant's metadata payload, which may be empty.
// The leading transaction hash allows prefix filtering for every chain
// position a transaction is anchored at.

func keyAnchor(txid *chainhash.Hash, block changeset.BlockID) []byte {
	k := make([]byte, 68)
	copy(k, txid[:])
	copy(k[32:68], canonicalBlockID(block))
	return k
}

func readAnchorKey(k []byte, key *changeset.AnchorKey) error {
	if len(k) < 68 {
		str := fmt.Sprintf("%s: short key (expected 68 bytes, read %d)",
			suffixAnchors, len(k))
		return storeError(ErrData, str, nil)
	}
	copy(key.TxID[:], k[0:32])
	return readCanonicalBlockID(k[32:68], &key.Block)
}

// Observation timestamps and reveal indices are stored as bare big endian
// integers: 8 bytes for unix timestamps, 4 bytes for derivation indices.

func valueTime(t uint64) []byte {
	v := make([]byte, 8)
	byteOrder.PutUint64(v, t)
	return v
}

func readRawTime(table []byte, v []byte) (uint64, error) {
	if len(v) != 8 {
		str := fmt.Sprintf("%s: short read (expected 8 bytes, read %d)",
			table, len(v))
		return 0, storeError(ErrData, str, nil)
	}
	return byteOrder.Uint64(v), nil
}

func valueIndex(index uint32) []byte {
	v := make([]byte, 4)
	byteOrder.PutUint32(v, index)
	return v
}

func readRawIndex(v []byte) (uint32, error) {
	if len(v) != 4 {
		str := fmt.Sprintf("%s: short read (expected 4 bytes, read %d)",
			suffixLastRevealed, len(v))
		return 0, storeError(ErrData, str, nil)
	}
	return byteOrder.Uint32(v), nil
}
