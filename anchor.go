// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstate

import (
	"fmt"

	"github.com/btcsuite/btcwallet/chainstate/changeset"
)

// AnchorCodec lets multiple logical anchor variants share the one physical
// anchor table.  The table key carries the chain position (transaction hash
// plus canonical block id); the value is whatever variant-specific metadata
// the codec produces, possibly nothing at all.  The store is written once
// against this interface and works unmodified for any variant.
type AnchorCodec interface {
	// EncodeMetadata returns the metadata payload for the anchor.  The
	// chain position is not part of the payload; it is recovered from
	// the table key on decode.
	EncodeMetadata(anchor changeset.Anchor) ([]byte, error)

	// DecodeAnchor reconstructs a full anchor value from a chain
	// position and a metadata payload previously produced by
	// EncodeMetadata.
	DecodeAnchor(block changeset.BlockID,
		metadata []byte) (changeset.Anchor, error)
}

// BlockAnchors is the codec for plain chain-position anchors.  The variant
// carries no metadata, so values in the anchor table are empty.
var BlockAnchors AnchorCodec = blockAnchorCodec{}

// ConfirmationTimeAnchors is the codec for anchors carrying the unix
// timestamp of the confirming block as an 8 byte payload.  It is the default
// codec for new stores.
var ConfirmationTimeAnchors AnchorCodec = confirmationTimeCodec{}

type blockAnchorCodec struct{}

func (blockAnchorCodec) EncodeMetadata(anchor changeset.Anchor) ([]byte, error) {
	if _, ok := anchor.(changeset.BlockID); !ok {
		str := fmt.Sprintf("unexpected anchor variant %T", anchor)
		return nil, storeError(ErrData, str, nil)
	}
	return []byte{}, nil
}

func (blockAnchorCodec) DecodeAnchor(block changeset.BlockID,
	metadata []byte) (changeset.Anchor, error) {

	if len(metadata) != 0 {
		str := fmt.Sprintf("%s: unexpected metadata (expected 0 "+
			"bytes, read %d)", suffixAnchors, len(metadata))
		return nil, storeError(ErrData, str, nil)
	}
	return block, nil
}

type confirmationTimeCodec struct{}

func (confirmationTimeCodec) EncodeMetadata(
	anchor changeset.Anchor) ([]byte, error) {

	cbt, ok := anchor.(changeset.ConfirmationBlockTime)
	if !ok {
		str := fmt.Sprintf("unexpected anchor variant %T", anchor)
		return nil, storeError(ErrData, str, nil)
	}
	return valueTime(cbt.ConfirmationTime), nil
}

func (confirmationTimeCodec) DecodeAnchor(block changeset.BlockID,
	metadata []byte) (changeset.Anchor, error) {

	confTime, err := readRawTime(suffixAnchors, metadata)
	if err != nil {
		return nil, err
	}
	return changeset.ConfirmationBlockTime{
		Block:            block,
		ConfirmationTime: confTime,
	}, nil
}
