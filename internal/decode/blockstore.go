// Package decode turns a firehose commit frame into typed records and
// normalized commit events.
package decode

import (
	"context"
	"fmt"
	"io"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
)

// MemBlockstore indexes one commit's CAR blocks by CID for the direct,
// non-MST-walk record lookup in the common case where a commit op's
// record block is embedded alongside the other changed blocks. A fresh
// one is built per commit from the CAR payload embedded in the firehose
// frame, then discarded once the commit's record CIDs have been
// resolved. When a lookup misses, DecodeCommit falls back to a real MST
// walk via indigo's repo package instead of this blockstore.
type MemBlockstore struct {
	blocks map[string]blocks.Block
}

// NewMemBlockstore creates an empty in-memory blockstore.
func NewMemBlockstore() *MemBlockstore {
	return &MemBlockstore{blocks: make(map[string]blocks.Block, 64)}
}

// LoadCAR reads a CAR v1 archive (the `blocks` field of a firehose
// #commit frame) into a new MemBlockstore and returns the archive's
// root CID alongside it.
func LoadCAR(ctx context.Context, r io.Reader) (*MemBlockstore, cid.Cid, error) {
	cr, err := car.NewCarReader(r)
	if err != nil {
		return nil, cid.Undef, fmt.Errorf("decode: read car header: %w", err)
	}

	bs := NewMemBlockstore()
	for {
		blk, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, cid.Undef, fmt.Errorf("decode: read car block: %w", err)
		}
		bs.blocks[blk.Cid().KeyString()] = blk
	}

	var root cid.Cid
	if len(cr.Header.Roots) > 0 {
		root = cr.Header.Roots[0]
	}
	return bs, root, nil
}

// RecordBytes resolves a record CID (taken from a commit op) to its raw
// CBOR bytes, without going through the MST walk. Most commits carry
// the record block directly alongside the path block, so this avoids
// building a full MST reader for the common single-op case.
func (m *MemBlockstore) RecordBytes(c cid.Cid) ([]byte, bool) {
	blk, ok := m.blocks[c.KeyString()]
	if !ok {
		return nil, false
	}
	return blk.RawData(), true
}
