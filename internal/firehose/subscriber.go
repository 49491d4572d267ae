// Package firehose maintains the upstream repository-sync subscription
// and republishes typed events onto the internal durable queue.
package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/events"
	"github.com/bluesky-social/indigo/events/schedulers/sequential"
	"github.com/gorilla/websocket"
	"github.com/hpmartins/bsky-codes/internal/decode"
	"github.com/hpmartins/bsky-codes/internal/metrics"
	"github.com/hpmartins/bsky-codes/internal/queue"
	"github.com/rs/zerolog"
)

const cursorKey = "cursor"

// Subscriber owns the single long-lived upstream websocket connection
// and the queue client it republishes onto.
type Subscriber struct {
	host          string
	q             *queue.Queue
	subjectPrefix string
	checkpoint    int
	log           zerolog.Logger
	mx            *metrics.Firehose
}

// New constructs a Subscriber against the given upstream host (e.g.
// "bsky.network").
func New(host string, q *queue.Queue, subjectPrefix string, checkpoint int, log zerolog.Logger, mx *metrics.Firehose) *Subscriber {
	return &Subscriber{host: host, q: q, subjectPrefix: subjectPrefix, checkpoint: checkpoint, log: log, mx: mx}
}

// Run maintains the subscription until ctx is canceled, reconnecting
// with bounded exponential backoff on transient disconnects. It never
// returns a non-nil error for transient failures; it returns nil on
// clean shutdown.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 2 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		cursor, err := s.loadCursor(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("firehose: load cursor, starting from zero")
		}

		err = s.runOnce(ctx, cursor)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		s.mx.Reconnects.Inc()
		s.log.Warn().Err(err).Dur("backoff", backoff).Msg("firehose: disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Subscriber) loadCursor(ctx context.Context) (int64, error) {
	kv, err := s.q.GetOrCreateKV(ctx, "cursors", 0)
	if err != nil {
		return 0, err
	}
	entry, err := kv.Get(ctx, cursorKey)
	if err != nil {
		return 0, nil
	}
	v, err := strconv.ParseInt(string(entry.Value()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("firehose: parse cursor: %w", err)
	}
	return v, nil
}

func (s *Subscriber) saveCursor(ctx context.Context, seq int64) error {
	kv, err := s.q.GetOrCreateKV(ctx, "cursors", 0)
	if err != nil {
		return err
	}
	_, err = kv.Put(ctx, cursorKey, []byte(strconv.FormatInt(seq, 10)))
	return err
}

func (s *Subscriber) runOnce(ctx context.Context, cursor int64) error {
	u := url.URL{
		Scheme:   "wss",
		Host:     s.host,
		Path:     "/xrpc/com.atproto.sync.subscribeRepos",
		RawQuery: fmt.Sprintf("cursor=%d", cursor),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("firehose: dial: %w", err)
	}
	defer conn.Close()

	since := 0
	rsc := &events.RepoStreamCallbacks{
		RepoCommit: func(evt *atproto.SyncSubscribeRepos_Commit) error {
			return s.handleCommit(ctx, evt, &since)
		},
		RepoIdentity: func(evt *atproto.SyncSubscribeRepos_Identity) error {
			return s.publishEvent(ctx, "identity", decode.IdentityEvent(evt))
		},
		RepoAccount: func(evt *atproto.SyncSubscribeRepos_Account) error {
			return s.publishEvent(ctx, "account", decode.AccountEvent(evt))
		},
	}

	sched := sequential.NewScheduler("bsky-codes-firehose", rsc.EventHandler)
	return events.HandleRepoStream(ctx, conn, sched)
}

func (s *Subscriber) handleCommit(ctx context.Context, evt *atproto.SyncSubscribeRepos_Commit, since *int) error {
	s.mx.EventsTotal.Inc()
	s.mx.BytesTotal.Add(float64(len(evt.Blocks)))

	commits, skips, err := decode.DecodeCommit(ctx, evt)
	if err != nil {
		s.log.Warn().Err(err).Str("repo", evt.Repo).Msg("firehose: decode commit")
		return nil
	}

	for _, sk := range skips {
		s.mx.OpDecodeErrors.Inc()
		s.log.Warn().Str("repo", evt.Repo).Str("path", sk.Path).Str("reason", sk.Reason).Msg("firehose: skip malformed op")
	}

	for _, c := range commits {
		s.mx.OpsByCollection.WithLabelValues(c.Operation, c.Collection).Inc()
		if c.Collection == "app.bsky.feed.post" && c.Record != nil {
			if lang, ok := firstLang(c.Record); ok {
				s.mx.PostLanguages.WithLabelValues(lang).Inc()
			}
		}

		body, err := json.Marshal(decode.Event{Kind: decode.KindCommit, Commit: &c})
		if err != nil {
			s.log.Warn().Err(err).Msg("firehose: marshal commit event")
			continue
		}

		subject := fmt.Sprintf("%s.%s", s.subjectPrefix, c.Collection)
		if err := s.q.Publish(ctx, subject, body); err != nil {
			s.log.Warn().Err(err).Str("subject", subject).Msg("firehose: publish")
		}
	}

	*since++
	if s.checkpoint > 0 && *since%s.checkpoint == 0 {
		if err := s.saveCursor(ctx, evt.Seq); err != nil {
			s.log.Warn().Err(err).Msg("firehose: checkpoint cursor")
		}
	}
	return nil
}

func (s *Subscriber) publishEvent(ctx context.Context, kind string, evt decode.Event) error {
	s.mx.EventsTotal.Inc()
	switch kind {
	case "account":
		s.mx.AccountEvents.Inc()
	case "identity":
		s.mx.IdentityEvents.Inc()
	}

	body, err := json.Marshal(evt)
	if err != nil {
		s.log.Warn().Err(err).Msg("firehose: marshal event")
		return nil
	}
	subject := fmt.Sprintf("%s.%s", s.subjectPrefix, kind)
	if err := s.q.Publish(ctx, subject, body); err != nil {
		s.log.Warn().Err(err).Str("subject", subject).Msg("firehose: publish")
	}
	return nil
}

func firstLang(record map[string]interface{}) (string, bool) {
	langs, ok := record["langs"].([]interface{})
	if !ok || len(langs) == 0 {
		return "", false
	}
	s, ok := langs[0].(string)
	return s, ok
}
