// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/chainstate/changeset"
	"github.com/btcsuite/btcwallet/walletdb"
	"github.com/lightninglabs/neutrino/cache/lru"
)

// Store persists wallet changesets for one namespace into a walletdb
// database.  A database may host any number of namespaces; each owns a
// private set of tables and never observes another namespace's writes.
//
// A Store performs no locking of its own.  Writes serialize through
// walletdb's single-writer transaction model, and callers must not issue two
// concurrent PersistChangeSet calls for the same namespace.
type Store struct {
	db        walletdb.DB
	namespace string
	anchors   AnchorCodec

	scripts    *lru.Cache[scriptKey, cachedScript]
	scriptsCap uint64
}

// Option alters the behavior of a Store.
type Option func(*Store)

// WithAnchorCodec selects the anchor variant persisted by the store.  The
// default is ConfirmationTimeAnchors.
func WithAnchorCodec(codec AnchorCodec) Option {
	return func(s *Store) {
		s.anchors = codec
	}
}

// WithScriptCacheCapacity sets the capacity, in bytes of cached script, of
// the in-memory cache fronting the script table.
func WithScriptCacheCapacity(capacity uint64) Option {
	return func(s *Store) {
		s.scriptsCap = capacity
	}
}

// New creates a store for the given wallet namespace backed by db.  The
// database is untouched until Init is called.
func New(db walletdb.DB, namespace string, opts ...Option) (*Store, error) {
	if namespace == "" {
		return nil, storeError(ErrData, "namespace must not be empty",
			nil)
	}

	s := &Store{
		db:         db,
		namespace:  namespace,
		anchors:    ConfirmationTimeAnchors,
		scriptsCap: DefaultScriptCacheCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.scripts = lru.NewCache[scriptKey, cachedScript](s.scriptsCap)

	return s, nil
}

// Init creates the namespace's tables if they do not exist and records the
// store version on first creation.  It must be called once before any other
// store operation, and is safe to call on every open.
func (s *Store) Init() error {
	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		if _, err := tx.CreateTopLevelBucket(tableNetwork); err != nil {
			str := fmt.Sprintf("failed to create %s table",
				tableNetwork)
			return storeError(ErrDatabase, str, err)
		}
		for _, suffix := range tableSuffixes {
			k := tableKey(s.namespace, suffix)
			if _, err := tx.CreateTopLevelBucket(k); err != nil {
				str := fmt.Sprintf("failed to create %s table",
					k)
				return storeError(ErrDatabase, str, err)
			}
		}

		meta := tx.ReadWriteBucket(tableKey(s.namespace, suffixMeta))
		if meta.Get(metaVersion) == nil {
			log.Debugf("Creating chainstate tables for "+
				"namespace %q", s.namespace)
			return putMeta(meta, LatestVersion, time.Now())
		}
		version, err := fetchVersion(meta)
		if err != nil {
			return err
		}
		if version > LatestVersion {
			str := fmt.Sprintf("store version %d is newer than "+
				"the latest understood version %d", version,
				LatestVersion)
			return storeError(ErrUnknownVersion, str, nil)
		}
		return nil
	})
	return convertErr(err)
}

// PersistChangeSet folds the changeset into the stored wallet state.  The
// whole changeset is written in one database transaction: either every table
// mutation becomes visible or, on the first error, none does.  Root entities
// (transactions in particular) are written before the records that reference
// them so the referential check observes roots added by this same batch.
func (s *Store) PersistChangeSet(cs *changeset.ChangeSet) error {
	if cs.IsEmpty() {
		return nil
	}

	err := walletdb.Update(s.db, func(tx walletdb.ReadWriteTx) error {
		if err := s.persistNetwork(tx, cs.Network); err != nil {
			return err
		}
		if err := s.persistKeychains(tx, cs); err != nil {
			return err
		}
		if err := s.persistBlocks(tx, &cs.Chain); err != nil {
			return err
		}
		if err := s.persistTxGraph(tx, &cs.TxGraph); err != nil {
			return err
		}
		return s.persistIndexer(tx, &cs.Indexer)
	})
	if err != nil {
		return convertErr(err)
	}

	s.cacheScripts(cs.Indexer.SpkCache)

	log.Tracef("Persisted changeset for namespace %q: %d txs, %d "+
		"txouts, %d anchors, %d blocks", s.namespace,
		len(cs.TxGraph.Txs), len(cs.TxGraph.TxOuts),
		len(cs.TxGraph.Anchors), len(cs.Chain.Blocks))
	return nil
}

// LoadChangeSet reconstructs the full stored wallet state as one changeset,
// read from a single database snapshot.  A namespace that has never been
// written loads an empty changeset.  A namespace holding data without a
// network record fails with ErrMissingNetwork; one with a network but no
// external descriptor fails with ErrMissingDescriptor.
func (s *Store) LoadChangeSet() (*changeset.ChangeSet, error) {
	cs := new(changeset.ChangeSet)
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		if err := s.readNetwork(tx, cs); err != nil {
			return err
		}
		if err := s.readKeychains(tx, cs); err != nil {
			return err
		}
		if err := s.readBlocks(tx, cs); err != nil {
			return err
		}
		if err := s.readTxGraph(tx, cs); err != nil {
			return err
		}
		return s.readIndexer(tx, cs)
	})
	if err != nil {
		return nil, convertErr(err)
	}

	if cs.IsEmpty() {
		return cs, nil
	}
	if cs.Network == "" {
		str := fmt.Sprintf("no network recorded for namespace %q",
			s.namespace)
		return nil, storeError(ErrMissingNetwork, str, nil)
	}
	if cs.Descriptor == "" {
		str := fmt.Sprintf("no external descriptor recorded for "+
			"namespace %q", s.namespace)
		return nil, storeError(ErrMissingDescriptor, str, nil)
	}

	s.cacheScripts(cs.Indexer.SpkCache)
	return cs, nil
}

// Network returns the network identifier recorded for the namespace, or
// ErrMissingNetwork if none has been persisted yet.
func (s *Store) Network() (string, error) {
	var network string
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		if b := tx.ReadBucket(tableNetwork); b != nil {
			if v := b.Get([]byte(s.namespace)); v != nil {
				network = string(v)
			}
		}
		return nil
	})
	if err != nil {
		return "", convertErr(err)
	}
	if network == "" {
		str := fmt.Sprintf("no network recorded for namespace %q",
			s.namespace)
		return "", storeError(ErrMissingNetwork, str, nil)
	}
	return network, nil
}

// Version returns the store version recorded for the namespace.
func (s *Store) Version() (uint32, error) {
	var version uint32
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		b := tx.ReadBucket(tableKey(s.namespace, suffixMeta))
		if b == nil {
			str := fmt.Sprintf("namespace %q is not initialized",
				s.namespace)
			return storeError(ErrDatabase, str,
				walletdb.ErrBucketNotFound)
		}
		var err error
		version, err = fetchVersion(b)
		return err
	})
	if err != nil {
		return 0, convertErr(err)
	}
	return version, nil
}

// table returns the namespace's read-write bucket for the given suffix,
// which must have been created by Init.
func (s *Store) table(tx walletdb.ReadWriteTx,
	suffix []byte) (walletdb.ReadWriteBucket, error) {

	b := tx.ReadWriteBucket(tableKey(s.namespace, suffix))
	if b == nil {
		str := fmt.Sprintf("%s: table missing (store not initialized)",
			suffix)
		return nil, storeError(ErrDatabase, str,
			walletdb.ErrBucketNotFound)
	}
	return b, nil
}

func (s *Store) persistNetwork(tx walletdb.ReadWriteTx, network string) error {
	if network == "" {
		return nil
	}
	b := tx.ReadWriteBucket(tableNetwork)
	if b == nil {
		str := "network: table missing (store not initialized)"
		return storeError(ErrDatabase, str, walletdb.ErrBucketNotFound)
	}

	// The network is written at most once per namespace.
	k := []byte(s.namespace)
	if v := b.Get(k); v != nil {
		if string(v) == network {
			return nil
		}
		str := fmt.Sprintf("network for namespace %q already "+
			"recorded as %q", s.namespace, v)
		return storeError(ErrImmutableRow, str, nil)
	}
	if err := b.Put(k, []byte(network)); err != nil {
		str := "failed to store network"
		return storeError(ErrDatabase, str, err)
	}
	return nil
}

func (s *Store) persistKeychains(tx walletdb.ReadWriteTx,
	cs *changeset.ChangeSet) error {

	if cs.Descriptor == "" && cs.ChangeDescriptor == "" {
		return nil
	}
	b, err := s.table(tx, suffixKeychain)
	if err != nil {
		return err
	}
	if cs.Descriptor != "" {
		err := putKeychain(b, changeset.KeychainExternal, cs.Descriptor)
		if err != nil {
			return err
		}
	}
	if cs.ChangeDescriptor != "" {
		err := putKeychain(b, changeset.KeychainInternal,
			cs.ChangeDescriptor)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) persistBlocks(tx walletdb.ReadWriteTx,
	chain *changeset.LocalChain) error {

	if chain.IsEmpty() {
		return nil
	}
	b, err := s.table(tx, suffixBlocks)
	if err != nil {
		return err
	}
	for height, hash := range chain.Blocks {
		// A nil hash is a tombstone: the block was reorged out.
		// Removing a height that was never stored is a no-op.
		if hash == nil {
			if err := deleteBlock(b, height); err != nil {
				return err
			}
			continue
		}
		if err := putBlock(b, height, hash); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) persistTxGraph(tx walletdb.ReadWriteTx,
	g *changeset.TxGraph) error {

	if g.IsEmpty() {
		return nil
	}

	// Transaction records are the roots every anchor and observation flag
	// refers to, so they are written first.
	txs, err := s.table(tx, suffixTxs)
	if err != nil {
		return err
	}
	for txid, msgTx := range g.Txs {
		txid := txid
		if err := putTxRecord(txs, &txid, msgTx); err != nil {
			return err
		}
	}

	txOuts, err := s.table(tx, suffixTxOuts)
	if err != nil {
		return err
	}
	for op, txOut := range g.TxOuts {
		op := op
		k := canonicalOutPoint(&op.Hash, op.Index)
		if err := txOuts.Put(k, valueTxOut(txOut)); err != nil {
			str := fmt.Sprintf("%s: put failed for %v",
				suffixTxOuts, op)
			return storeError(ErrDatabase, str, err)
		}
	}

	anchors, err := s.table(tx, suffixAnchors)
	if err != nil {
		return err
	}
	for key, anchor := range g.Anchors {
		key := key
		if err := checkTxRef(txs, &key.TxID); err != nil {
			return err
		}
		metadata, err := s.anchors.EncodeMetadata(anchor)
		if err != nil {
			return err
		}
		k := keyAnchor(&key.TxID, key.Block)
		if err := anchors.Put(k, metadata); err != nil {
			str := fmt.Sprintf("%s: put failed for %v",
				suffixAnchors, key.TxID)
			return storeError(ErrDatabase, str, err)
		}
	}

	err = s.persistTimes(tx, suffixFirstSeen, txs, g.FirstSeen, false)
	if err != nil {
		return err
	}
	err = s.persistTimes(tx, suffixLastSeen, txs, g.LastSeen, true)
	if err != nil {
		return err
	}
	return s.persistTimes(tx, suffixLastEvicted, txs, g.LastEvicted, true)
}

// persistTimes folds a map of observation timestamps into its table.  With
// keepLater set the stored value only ever increases (last_seen,
// last_evicted); otherwise it only ever decreases (first_seen).  Every
// referenced transaction must already have a record.
func (s *Store) persistTimes(tx walletdb.ReadWriteTx, suffix []byte,
	txs walletdb.ReadBucket, times map[chainhash.Hash]uint64,
	keepLater bool) error {

	if len(times) == 0 {
		return nil
	}
	b, err := s.table(tx, suffix)
	if err != nil {
		return err
	}
	for txid, t := range times {
		txid := txid
		if err := checkTxRef(txs, &txid); err != nil {
			return err
		}
		if v := b.Get(txid[:]); v != nil {
			stored, err := readRawTime(suffix, v)
			if err != nil {
				return err
			}
			if keepLater && stored >= t {
				continue
			}
			if !keepLater && stored <= t {
				continue
			}
		}
		if err := b.Put(txid[:], valueTime(t)); err != nil {
			str := fmt.Sprintf("%s: put failed for %v", suffix,
				txid)
			return storeError(ErrDatabase, str, err)
		}
	}
	return nil
}

func (s *Store) persistIndexer(tx walletdb.ReadWriteTx,
	indexer *changeset.Indexer) error {

	if indexer.IsEmpty() {
		return nil
	}

	revealed, err := s.table(tx, suffixLastRevealed)
	if err != nil {
		return err
	}
	for descID, index := range indexer.LastRevealed {
		descID := descID
		// The reveal index never decreases.
		if v := revealed.Get(descID[:]); v != nil {
			stored, err := readRawIndex(v)
			if err != nil {
				return err
			}
			if stored >= index {
				continue
			}
		}
		err := revealed.Put(descID[:], valueIndex(index))
		if err != nil {
			str := fmt.Sprintf("%s: put failed for %v",
				suffixLastRevealed, descID)
			return storeError(ErrDatabase, str, err)
		}
	}

	spk, err := s.table(tx, suffixSpk)
	if err != nil {
		return err
	}
	for descID, scripts := range indexer.SpkCache {
		descID := descID
		for index, script := range scripts {
			k := canonicalOutPoint(&descID, index)
			if err := spk.Put(k, script); err != nil {
				str := fmt.Sprintf("%s: put failed for %v",
					suffixSpk, descID)
				return storeError(ErrDatabase, str, err)
			}
		}
	}
	return nil
}

func (s *Store) readNetwork(tx walletdb.ReadTx,
	cs *changeset.ChangeSet) error {

	b := tx.ReadBucket(tableNetwork)
	if b == nil {
		return nil
	}
	if v := b.Get([]byte(s.namespace)); v != nil {
		cs.Network = string(v)
	}
	return nil
}

func (s *Store) readKeychains(tx walletdb.ReadTx,
	cs *changeset.ChangeSet) error {

	b := tx.ReadBucket(tableKey(s.namespace, suffixKeychain))
	if b == nil {
		return nil
	}
	return b.ForEach(func(k, v []byte) error {
		if len(k) != 1 {
			str := fmt.Sprintf("%s: short key (expected 1 byte, "+
				"read %d)", suffixKeychain, len(k))
			return storeError(ErrData, str, nil)
		}
		switch changeset.Keychain(k[0]) {
		case changeset.KeychainExternal:
			cs.Descriptor = string(v)
		case changeset.KeychainInternal:
			cs.ChangeDescriptor = string(v)
		default:
			str := fmt.Sprintf("%s: unknown keychain label %d",
				suffixKeychain, k[0])
			return storeError(ErrData, str, nil)
		}
		return nil
	})
}

func (s *Store) readBlocks(tx walletdb.ReadTx,
	cs *changeset.ChangeSet) error {

	b := tx.ReadBucket(tableKey(s.namespace, suffixBlocks))
	if b == nil {
		return nil
	}
	return b.ForEach(func(k, v []byte) error {
		var (
			height uint32
			hash   chainhash.Hash
		)
		if err := readRawBlock(k, v, &height, &hash); err != nil {
			return err
		}
		if cs.Chain.Blocks == nil {
			cs.Chain.Blocks = make(map[uint32]*chainhash.Hash)
		}
		cs.Chain.Blocks[height] = &hash
		return nil
	})
}

func (s *Store) readTxGraph(tx walletdb.ReadTx,
	cs *changeset.ChangeSet) error {

	g := &cs.TxGraph

	txs := tx.ReadBucket(tableKey(s.namespace, suffixTxs))
	if txs != nil {
		err := txs.ForEach(func(k, v []byte) error {
			txid, err := chainhash.NewHash(k)
			if err != nil {
				str := fmt.Sprintf("%s: malformed key",
					suffixTxs)
				return storeError(ErrData, str, err)
			}
			msgTx, err := readRawTxRecord(txid, v)
			if err != nil {
				return err
			}
			if g.Txs == nil {
				g.Txs = make(map[chainhash.Hash]*wire.MsgTx)
			}
			g.Txs[*txid] = msgTx
			return nil
		})
		if err != nil {
			return err
		}
	}

	txOuts := tx.ReadBucket(tableKey(s.namespace, suffixTxOuts))
	if txOuts != nil {
		err := txOuts.ForEach(func(k, v []byte) error {
			var op wire.OutPoint
			if err := readCanonicalOutPoint(k, &op); err != nil {
				return err
			}
			txOut, err := readRawTxOut(v)
			if err != nil {
				return err
			}
			if g.TxOuts == nil {
				g.TxOuts = make(map[wire.OutPoint]*wire.TxOut)
			}
			g.TxOuts[op] = txOut
			return nil
		})
		if err != nil {
			return err
		}
	}

	anchors := tx.ReadBucket(tableKey(s.namespace, suffixAnchors))
	if anchors != nil {
		err := anchors.ForEach(func(k, v []byte) error {
			var key changeset.AnchorKey
			if err := readAnchorKey(k, &key); err != nil {
				return err
			}
			anchor, err := s.anchors.DecodeAnchor(key.Block, v)
			if err != nil {
				return err
			}
			if g.Anchors == nil {
				g.Anchors = make(
					map[changeset.AnchorKey]changeset.Anchor,
				)
			}
			g.Anchors[key] = anchor
			return nil
		})
		if err != nil {
			return err
		}
	}

	var err error
	g.FirstSeen, err = s.readTimes(tx, suffixFirstSeen)
	if err != nil {
		return err
	}
	g.LastSeen, err = s.readTimes(tx, suffixLastSeen)
	if err != nil {
		return err
	}
	g.LastEvicted, err = s.readTimes(tx, suffixLastEvicted)
	return err
}

func (s *Store) readTimes(tx walletdb.ReadTx,
	suffix []byte) (map[chainhash.Hash]uint64, error) {

	b := tx.ReadBucket(tableKey(s.namespace, suffix))
	if b == nil {
		return nil, nil
	}
	var times map[chainhash.Hash]uint64
	err := b.ForEach(func(k, v []byte) error {
		txid, err := chainhash.NewHash(k)
		if err != nil {
			str := fmt.Sprintf("%s: malformed key", suffix)
			return storeError(ErrData, str, err)
		}
		t, err := readRawTime(suffix, v)
		if err != nil {
			return err
		}
		if times == nil {
			times = make(map[chainhash.Hash]uint64)
		}
		times[*txid] = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return times, nil
}

func (s *Store) readIndexer(tx walletdb.ReadTx,
	cs *changeset.ChangeSet) error {

	revealed := tx.ReadBucket(tableKey(s.namespace, suffixLastRevealed))
	if revealed != nil {
		err := revealed.ForEach(func(k, v []byte) error {
			descID, err := chainhash.NewHash(k)
			if err != nil {
				str := fmt.Sprintf("%s: malformed key",
					suffixLastRevealed)
				return storeError(ErrData, str, err)
			}
			index, err := readRawIndex(v)
			if err != nil {
				return err
			}
			if cs.Indexer.LastRevealed == nil {
				cs.Indexer.LastRevealed = make(
					map[chainhash.Hash]uint32,
				)
			}
			cs.Indexer.LastRevealed[*descID] = index
			return nil
		})
		if err != nil {
			return err
		}
	}

	spk := tx.ReadBucket(tableKey(s.namespace, suffixSpk))
	if spk != nil {
		err := spk.ForEach(func(k, v []byte) error {
			var op wire.OutPoint
			if err := readCanonicalOutPoint(k, &op); err != nil {
				return err
			}
			if cs.Indexer.SpkCache == nil {
				cs.Indexer.SpkCache = make(
					map[chainhash.Hash]map[uint32][]byte,
				)
			}
			scripts := cs.Indexer.SpkCache[op.Hash]
			if scripts == nil {
				scripts = make(map[uint32][]byte)
				cs.Indexer.SpkCache[op.Hash] = scripts
			}
			script := make([]byte, len(v))
			copy(script, v)
			scripts[op.Index] = script
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// convertErr ensures every failure surfaces as one of this package's typed
// errors.  Errors already typed pass through; anything else came from the
// database transaction machinery itself.
func convertErr(err error) error {
	switch err.(type) {
	case nil:
		return nil
	case StoreError, DanglingRefError:
		return err
	}
	return storeError(ErrDatabase, "database transaction failed", err)
}
