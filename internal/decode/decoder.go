// Package decode turns upstream firehose frames into the normalized
// Event union the rest of the pipeline consumes.
package decode

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/repo"
	"github.com/ipfs/go-cid"
	cbornode "github.com/ipfs/go-ipld-cbor"
)

// Skip records why one op in a commit was dropped before becoming a
// Commit event, so the caller can log it at WARN and count it per §7's
// "malformed event — log at WARN, skip, increment a counter" contract.
type Skip struct {
	Path   string
	Reason string
}

// DecodeCommit expands one #commit frame into zero or more Commit
// events, one per op whose collection is in InterestedCollections, plus
// the ops that were dropped as malformed. The commit's CAR blocks are
// loaded once and reused across every op.
func DecodeCommit(ctx context.Context, evt *atproto.SyncSubscribeRepos_Commit) ([]Commit, []Skip, error) {
	bs, _, err := LoadCAR(ctx, bytes.NewReader(evt.Blocks))
	if err != nil {
		return nil, nil, fmt.Errorf("decode: load commit car for %s: %w", evt.Repo, err)
	}

	var mstRepo *repo.Repo
	indexedAt := time.Now().UTC()
	var out []Commit
	var skips []Skip
	for _, op := range evt.Ops {
		collection, rkey, err := splitPath(op.Path)
		if err != nil {
			skips = append(skips, Skip{Path: op.Path, Reason: "malformed path"})
			continue
		}
		if !InterestedCollections[collection] {
			continue
		}

		c := Commit{
			Repo:       evt.Repo,
			Seq:        evt.Seq,
			Operation:  op.Action,
			Collection: collection,
			Rkey:       rkey,
			IndexedAt:  indexedAt,
		}

		if op.Action != "delete" {
			recCid, ok := opCID(op)
			if !ok {
				skips = append(skips, Skip{Path: op.Path, Reason: "op missing cid"})
				continue
			}

			raw, ok := bs.RecordBytes(recCid)
			if !ok {
				raw, err = mstRecordBytes(ctx, evt, &mstRepo, op.Path, recCid)
				if err != nil {
					skips = append(skips, Skip{Path: op.Path, Reason: err.Error()})
					continue
				}
			}

			record, err := decodeRecord(raw)
			if err != nil {
				skips = append(skips, Skip{Path: op.Path, Reason: "cbor decode: " + err.Error()})
				continue
			}
			c.Record = record
		}

		out = append(out, c)
	}
	return out, skips, nil
}

// mstRecordBytes resolves a record's bytes by walking the commit's MST
// from its root, for the rare multi-op commit where the changed
// record's block isn't directly keyed by its op CID in the CAR (so the
// fast path in DecodeCommit misses). The MST-aware repo reader is built
// at most once per commit and reused across any further fallbacks.
func mstRecordBytes(ctx context.Context, evt *atproto.SyncSubscribeRepos_Commit, mstRepo **repo.Repo, path string, want cid.Cid) ([]byte, error) {
	if *mstRepo == nil {
		r, err := repo.ReadRepoFromCar(ctx, bytes.NewReader(evt.Blocks))
		if err != nil {
			return nil, fmt.Errorf("mst read repo: %w", err)
		}
		*mstRepo = r
	}

	got, raw, err := (*mstRepo).GetRecordBytes(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("mst get record: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("mst record not found for %s", path)
	}
	if got != want {
		return nil, fmt.Errorf("mst cid mismatch for %s", path)
	}
	return *raw, nil
}

// decodeRecord decodes a record's raw CBOR bytes into a loosely typed
// map, matching the framework-level dynamic typing the extractor
// expects (§9).
func decodeRecord(raw []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := cbornode.DecodeInto(raw, &m); err != nil {
		return nil, fmt.Errorf("decode: record cbor: %w", err)
	}
	return m, nil
}

// opCID extracts the record block's CID from a commit op, guarding
// against the nil case (create/update ops always carry one; tombstone
// replays occasionally omit it).
func opCID(op *atproto.SyncSubscribeRepos_RepoOp) (cid.Cid, bool) {
	if op.Cid == nil {
		return cid.Undef, false
	}
	return cid.Cid(*op.Cid), true
}

// splitPath splits a commit op's "<collection>/<rkey>" path.
func splitPath(path string) (collection, rkey string, err error) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", fmt.Errorf("decode: malformed path %q", path)
	}
	return path[:idx], path[idx+1:], nil
}

// AccountEvent builds an Event from a #account frame.
func AccountEvent(evt *atproto.SyncSubscribeRepos_Account) Event {
	status := ""
	if evt.Status != nil {
		status = *evt.Status
	}
	return Event{
		Kind: KindAccount,
		Account: &Account{
			DID:    evt.Did,
			Active: evt.Active,
			Status: status,
		},
	}
}

// IdentityEvent builds an Event from a #identity frame.
func IdentityEvent(evt *atproto.SyncSubscribeRepos_Identity) Event {
	handle := ""
	if evt.Handle != nil {
		handle = *evt.Handle
	}
	return Event{
		Kind: KindIdentity,
		Identity: &Identity{
			DID:    evt.Did,
			Handle: handle,
		},
	}
}
