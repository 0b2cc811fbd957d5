// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package changeset defines the mergeable wallet state fragments persisted by
the chainstate package.

A ChangeSet is an append-mostly description of wallet state additions: new
descriptors, chain blocks (or reorg tombstones), transactions, outputs,
confirmation anchors, observation timestamps and key-reveal indices.
Successive changesets combine through Merge, which applies an entity-specific
policy: set-valued fields union by key, observation timestamps and reveal
indices move monotonically, and block tombstones survive merging so that a
reorged height is removed when the merged changeset is eventually applied to
a store.
*/
package changeset
