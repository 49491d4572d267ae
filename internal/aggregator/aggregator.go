// Package aggregator builds and runs the per-counterparty aggregation
// pipelines that back the query service, per §4.6.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/hpmartins/bsky-codes/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

// Direction is which side of an interaction edge the DID occupies.
type Direction string

const (
	Sent Direction = "sent" // did is the author (a)
	Rcvd Direction = "rcvd" // did is the subject (s)
)

// Kind is one of the three interaction collections.
type Kind string

const (
	KindLike   Kind = "like"
	KindRepost Kind = "repost"
	KindPost   Kind = "post"
)

var kindCollection = map[Kind]string{
	KindLike:   store.CollLike,
	KindRepost: store.CollRepost,
	KindPost:   store.CollPost,
}

// kindRow is one group-stage result row for a single kind/direction
// pipeline.
type kindRow struct {
	ID    string `bson:"_id"`
	Count int64  `bson:"count"`
	Chars int64  `bson:"c"`
}

// Counterparty is one merged per-counterparty record: l/r/p counts,
// total character count, and t = l+r+p.
type Counterparty struct {
	ID    string `bson:"_id" json:"_id"`
	Likes int64  `bson:"l" json:"l"`
	Repos int64  `bson:"r" json:"r"`
	Posts int64  `bson:"p" json:"p"`
	Chars int64  `bson:"c" json:"c"`
	Total int64  `bson:"t" json:"t"`
}

// Result is the {sent, rcvd} shape returned to callers.
type Result struct {
	Sent []Counterparty `json:"sent"`
	Rcvd []Counterparty `json:"rcvd"`
}

const defaultLimit = 100

// partialResult is one kind/direction pipeline's raw group-stage rows,
// awaiting merge into the final per-counterparty records.
type partialResult struct {
	direction Direction
	kind      Kind
	rows      []kindRow
}

// Aggregate runs the full set of kind × direction pipelines for did
// over [since, now) concurrently and merges them into Result.
func Aggregate(ctx context.Context, s *store.Store, did string, since time.Time, limit int) (Result, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	g, gctx := errgroup.WithContext(ctx)
	resultsCh := make(chan partialResult, 6)

	for _, kind := range []Kind{KindLike, KindRepost, KindPost} {
		for _, dir := range []Direction{Sent, Rcvd} {
			kind, dir := kind, dir
			g.Go(func() error {
				rows, err := runPipeline(gctx, s, kind, dir, did, since, limit)
				if err != nil {
					return err
				}
				resultsCh <- partialResult{direction: dir, kind: kind, rows: rows}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	close(resultsCh)

	results := make([]partialResult, 0, 6)
	for p := range resultsCh {
		results = append(results, p)
	}

	return mergeResults(results), nil
}

func mergeResults(parts []partialResult) Result {
	sentMerge := map[string]*Counterparty{}
	rcvdMerge := map[string]*Counterparty{}

	for _, p := range parts {
		target := sentMerge
		if p.direction == Rcvd {
			target = rcvdMerge
		}
		for _, row := range p.rows {
			cp, ok := target[row.ID]
			if !ok {
				cp = &Counterparty{ID: row.ID}
				target[row.ID] = cp
			}
			switch p.kind {
			case KindLike:
				cp.Likes += row.Count
			case KindRepost:
				cp.Repos += row.Count
			case KindPost:
				cp.Posts += row.Count
				cp.Chars += row.Chars
			}
		}
	}

	return Result{
		Sent: sortedByTotal(sentMerge),
		Rcvd: sortedByTotal(rcvdMerge),
	}
}

func sortedByTotal(m map[string]*Counterparty) []Counterparty {
	out := make([]Counterparty, 0, len(m))
	for _, cp := range m {
		cp.Total = cp.Likes + cp.Repos + cp.Posts
		out = append(out, *cp)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Total > out[j-1].Total; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func runPipeline(ctx context.Context, s *store.Store, kind Kind, dir Direction, did string, since time.Time, limit int) ([]kindRow, error) {
	matchField, groupField := "a", "s"
	if dir == Rcvd {
		matchField, groupField = "s", "a"
	}

	group := bson.D{
		{Key: "_id", Value: "$" + groupField},
		{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
	}
	if kind == KindPost {
		group = append(group, bson.E{Key: "c", Value: bson.D{{Key: "$sum", Value: "$c"}}})
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: matchField, Value: did},
			{Key: "t", Value: bson.D{{Key: "$gte", Value: since}}},
		}}},
		bson.D{{Key: "$group", Value: group}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
		bson.D{{Key: "$limit", Value: limit}},
	}

	var rows []kindRow
	if err := s.Aggregate(ctx, kindCollection[kind], pipeline, &rows); err != nil {
		return nil, fmt.Errorf("aggregator: %s/%s: %w", kind, dir, err)
	}
	return rows, nil
}
