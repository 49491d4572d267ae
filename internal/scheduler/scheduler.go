// Package scheduler runs the cron-triggered leaderboard jobs described
// in §4.8: periodic recomputation of top interactions and top blocks,
// each appended as a new dynamic-data snapshot.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hpmartins/bsky-codes/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

const (
	lookback     = 24 * time.Hour
	topN         = 100
	profileBatch = 25
)

var interactionKinds = []string{"like", "repost", "post"}

func kindCollection(kind string) string {
	switch kind {
	case "like":
		return store.CollLike
	case "repost":
		return store.CollRepost
	default:
		return store.CollPost
	}
}

// directionCount is one row of a $facet leaderboard bucket.
type directionCount struct {
	ID    string `bson:"_id"`
	Count int64  `bson:"count"`
}

// leaderboardEntry is a directionCount enriched with the actor's
// profile, as stored in the dynamic-data document.
type leaderboardEntry struct {
	DID         string `bson:"did" json:"did"`
	Handle      string `bson:"handle,omitempty" json:"handle,omitempty"`
	DisplayName string `bson:"displayName,omitempty" json:"displayName,omitempty"`
	Count       int64  `bson:"count" json:"count"`
}

// Scheduler owns the cron runtime and its job dependencies.
type Scheduler struct {
	store *store.Store
	log   zerolog.Logger
	cron  *cron.Cron
}

// New constructs a Scheduler backed by s, registering both jobs on
// the given cron spec (e.g. "0 */3 * * *" for every 3 hours).
func New(s *store.Store, log zerolog.Logger, spec string) (*Scheduler, error) {
	c := cron.New()
	sched := &Scheduler{store: s, log: log, cron: c}

	jobCtx := context.Background()
	if _, err := c.AddFunc(spec, func() { sched.runJob(jobCtx, "top_interactions", sched.recomputeTopInteractions) }); err != nil {
		return nil, fmt.Errorf("scheduler: register top_interactions job: %w", err)
	}
	if _, err := c.AddFunc(spec, func() { sched.runJob(jobCtx, "top_blocks", sched.recomputeTopBlocks) }); err != nil {
		return nil, fmt.Errorf("scheduler: register top_blocks job: %w", err)
	}
	return sched, nil
}

// Run starts the cron scheduler and blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, name string, job func(context.Context) (interface{}, error)) {
	start := time.Now()
	data, err := job(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("job", name).Msg("scheduler: job failed")
		return
	}
	if err := s.store.AppendDynamicData(ctx, name, data); err != nil {
		s.log.Warn().Err(err).Str("job", name).Msg("scheduler: append dynamic data")
		return
	}
	s.log.Info().Str("job", name).Dur("elapsed", time.Since(start)).Msg("scheduler: job complete")
}

// recomputeTopInteractions runs one $facet pipeline per interaction
// kind (three total, concurrently), each producing top-100 senders
// and top-100 receivers over the last 24h, then enriches every
// resulting DID with its profile in batches of 25.
func (s *Scheduler) recomputeTopInteractions(ctx context.Context) (interface{}, error) {
	type kindResult struct {
		kind string
		sent []directionCount
		rcvd []directionCount
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([]kindResult, len(interactionKinds))
	since := time.Now().UTC().Add(-lookback)

	for i, kind := range interactionKinds {
		i, kind := i, kind
		g.Go(func() error {
			sent, rcvd, err := facetByDirection(gctx, s.store, kindCollection(kind), since)
			if err != nil {
				return fmt.Errorf("top interactions %s: %w", kind, err)
			}
			results[i] = kindResult{kind: kind, sent: sent, rcvd: rcvd}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]map[string][]leaderboardEntry, len(results))
	for _, r := range results {
		sent, err := s.enrich(ctx, r.sent)
		if err != nil {
			return nil, err
		}
		rcvd, err := s.enrich(ctx, r.rcvd)
		if err != nil {
			return nil, err
		}
		out[r.kind] = map[string][]leaderboardEntry{"sent": sent, "rcvd": rcvd}
	}
	return out, nil
}

// recomputeTopBlocks runs a single $facet pipeline over the block
// collection producing top-100 blockers and top-100 blocked, then
// enriches both lists with profiles.
func (s *Scheduler) recomputeTopBlocks(ctx context.Context) (interface{}, error) {
	since := time.Now().UTC().Add(-lookback)
	blockers, blocked, err := facetBlocks(ctx, s.store, since)
	if err != nil {
		return nil, fmt.Errorf("top blocks: %w", err)
	}

	blockersEnriched, err := s.enrich(ctx, blockers)
	if err != nil {
		return nil, err
	}
	blockedEnriched, err := s.enrich(ctx, blocked)
	if err != nil {
		return nil, err
	}
	return map[string][]leaderboardEntry{"blockers": blockersEnriched, "blocked": blockedEnriched}, nil
}

// enrich looks up profiles for rows in batches of 25, modeling the
// upstream actor-profile API's per-request actor limit, and merges
// handle/display-name into each leaderboard row.
func (s *Scheduler) enrich(ctx context.Context, rows []directionCount) ([]leaderboardEntry, error) {
	entries := make([]leaderboardEntry, len(rows))
	for i, row := range rows {
		entries[i] = leaderboardEntry{DID: row.ID, Count: row.Count}
	}

	profiles := make(map[string]store.Profile)
	for start := 0; start < len(rows); start += profileBatch {
		end := start + profileBatch
		if end > len(rows) {
			end = len(rows)
		}
		dids := make([]string, end-start)
		for i := start; i < end; i++ {
			dids[i-start] = rows[i].ID
		}
		batch, err := s.store.Profiles(ctx, dids)
		if err != nil {
			return nil, fmt.Errorf("scheduler: enrich profiles: %w", err)
		}
		for _, p := range batch {
			profiles[p.DID] = p
		}
	}

	for i := range entries {
		if p, ok := profiles[entries[i].DID]; ok {
			entries[i].Handle = p.Handle
			entries[i].DisplayName = p.DisplayName
		}
	}
	return entries, nil
}

func facetByDirection(ctx context.Context, s *store.Store, collName string, since time.Time) (sent, rcvd []directionCount, err error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "t", Value: bson.D{{Key: "$gte", Value: since}}}}}},
		bson.D{{Key: "$facet", Value: bson.D{
			{Key: "sent", Value: leaderboardFacet("a", topN)},
			{Key: "rcvd", Value: leaderboardFacet("s", topN)},
		}}},
	}

	var rows []struct {
		Sent []directionCount `bson:"sent"`
		Rcvd []directionCount `bson:"rcvd"`
	}
	if err := s.Aggregate(ctx, collName, pipeline, &rows); err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return rows[0].Sent, rows[0].Rcvd, nil
}

func facetBlocks(ctx context.Context, s *store.Store, since time.Time) (blockers, blocked []directionCount, err error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "created_at", Value: bson.D{{Key: "$gte", Value: since}}}}}},
		bson.D{{Key: "$facet", Value: bson.D{
			{Key: "blockers", Value: leaderboardFacet("author", topN)},
			{Key: "blocked", Value: leaderboardFacet("subject", topN)},
		}}},
	}

	var rows []struct {
		Blockers []directionCount `bson:"blockers"`
		Blocked  []directionCount `bson:"blocked"`
	}
	if err := s.Aggregate(ctx, store.CollBlock, pipeline, &rows); err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return rows[0].Blockers, rows[0].Blocked, nil
}

func leaderboardFacet(groupField string, limit int) bson.A {
	return bson.A{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + groupField},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
		bson.D{{Key: "$limit", Value: limit}},
	}
}
