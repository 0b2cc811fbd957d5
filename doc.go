// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package chainstate persists wallet chain state into a walletdb database.

The wallet's state (descriptors, chain blocks, transactions, outputs,
confirmation anchors, observation timestamps and key-reveal indices) arrives
as append-mostly changesets (package changeset).  This package decomposes a
changeset into normalized per-entity tables with byte-encoded composite keys,
writes the whole changeset in one atomic database transaction, and
reassembles the full state from a single snapshot on load.

Dependent records are checked for referential integrity before insertion: an
anchor or observation flag may only reference a transaction whose record is
already committed or written earlier in the same batch, and a violation is
reported as a DanglingRefError rather than corrupting the store.

One database hosts any number of wallet namespaces.  Tables are private per
namespace, so namespaces never observe each other's writes, though they share
the database's write-serialization domain.

Anchor records are polymorphic: each anchor variant supplies an AnchorCodec
describing its metadata payload, and one physical table layout serves every
variant.
*/
package chainstate
