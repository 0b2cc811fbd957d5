// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcwallet/walletdb"
)

// DefaultScriptCacheCapacity is the default capacity, in bytes of cached
// script, of the in-memory cache fronting the script table.
const DefaultScriptCacheCapacity = 1 << 20

// scriptKey identifies one cached script: the descriptor it derives from and
// its derivation index.
type scriptKey struct {
	descID chainhash.Hash
	index  uint32
}

// cachedScript wraps a raw script so the cache can account for its size.
type cachedScript []byte

// Size returns the script length in bytes.
func (s cachedScript) Size() (uint64, error) {
	return uint64(len(s)), nil
}

// Script returns the cached script for the descriptor id and derivation
// index, reading through to the script table on a cache miss.  It returns a
// nil script without error when no entry exists; entries are derived data
// the caller can regenerate.
func (s *Store) Script(descID chainhash.Hash, index uint32) ([]byte, error) {
	key := scriptKey{descID: descID, index: index}
	if script, err := s.scripts.Get(key); err == nil {
		return script, nil
	}

	var script []byte
	err := walletdb.View(s.db, func(tx walletdb.ReadTx) error {
		b := tx.ReadBucket(tableKey(s.namespace, suffixSpk))
		if b == nil {
			return nil
		}
		if v := b.Get(canonicalOutPoint(&descID, index)); v != nil {
			script = make([]byte, len(v))
			copy(script, v)
		}
		return nil
	})
	if err != nil {
		return nil, convertErr(err)
	}

	if script != nil {
		if _, err := s.scripts.Put(key, script); err != nil {
			log.Debugf("Unable to cache script for %v/%d: %v",
				descID, index, err)
		}
	}
	return script, nil
}

// cacheScripts primes the script cache with the entries of a persisted or
// loaded changeset.
func (s *Store) cacheScripts(spkCache map[chainhash.Hash]map[uint32][]byte) {
	for descID, scripts := range spkCache {
		for index, script := range scripts {
			key := scriptKey{descID: descID, index: index}
			if _, err := s.scripts.Put(key, script); err != nil {
				log.Debugf("Unable to cache script for "+
					"%v/%d: %v", descID, index, err)
				return
			}
		}
	}
}
