// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"testing"

	"github.com/btcsuite/btcwallet/chainstate/changeset"
	"github.com/stretchr/testify/require"
)

// TestBlockAnchorCodec asserts the zero-metadata anchor variant: the payload
// is empty and decoding reconstructs the bare chain position.
func TestBlockAnchorCodec(t *testing.T) {
	block := changeset.BlockID{Height: 7, Hash: hashOf("D")}

	metadata, err := BlockAnchors.EncodeMetadata(block)
	require.NoError(t, err)
	require.Empty(t, metadata)

	anchor, err := BlockAnchors.DecodeAnchor(block, metadata)
	require.NoError(t, err)
	require.Equal(t, block, anchor)
	require.Equal(t, block, anchor.AnchorBlock())

	// Metadata from a different variant is rejected.
	_, err = BlockAnchors.DecodeAnchor(block, valueTime(99))
	require.True(t, IsError(err, ErrData))

	// As is an anchor of a different variant.
	_, err = BlockAnchors.EncodeMetadata(changeset.ConfirmationBlockTime{
		Block: block,
	})
	require.True(t, IsError(err, ErrData))
}

// TestConfirmationTimeAnchorCodec asserts the timestamp-carrying variant.
func TestConfirmationTimeAnchorCodec(t *testing.T) {
	block := changeset.BlockID{Height: 7, Hash: hashOf("D")}
	cbt := changeset.ConfirmationBlockTime{
		Block:            block,
		ConfirmationTime: 1_700_000_000,
	}

	metadata, err := ConfirmationTimeAnchors.EncodeMetadata(cbt)
	require.NoError(t, err)
	require.Len(t, metadata, 8)

	anchor, err := ConfirmationTimeAnchors.DecodeAnchor(block, metadata)
	require.NoError(t, err)
	require.Equal(t, cbt, anchor)

	// An empty payload is a short read for this variant.
	_, err = ConfirmationTimeAnchors.DecodeAnchor(block, nil)
	require.True(t, IsError(err, ErrData))

	_, err = ConfirmationTimeAnchors.EncodeMetadata(block)
	require.True(t, IsError(err, ErrData))
}
