// Package metrics holds the process's Prometheus collectors. Each
// service binary registers only the collectors its components touch.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Firehose holds the subscriber's observability counters (spec §4.1:
// bytes/s, events/s, per-(operation,collection) counts, post language
// histogram, account/identity counts).
type Firehose struct {
	BytesTotal      prometheus.Counter
	EventsTotal     prometheus.Counter
	OpsByCollection *prometheus.CounterVec
	PostLanguages   *prometheus.CounterVec
	AccountEvents   prometheus.Counter
	IdentityEvents  prometheus.Counter
	Reconnects      prometheus.Counter
	OpDecodeErrors  prometheus.Counter
}

// NewFirehose creates and registers the firehose subscriber's
// collectors against reg.
func NewFirehose(reg prometheus.Registerer) *Firehose {
	f := &Firehose{
		BytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsky_firehose_bytes_total",
			Help: "Total commit block (CAR) bytes received from the upstream firehose.",
		}),
		EventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsky_firehose_events_total",
			Help: "Total frames decoded from the upstream firehose.",
		}),
		OpsByCollection: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bsky_firehose_ops_total",
			Help: "Commit ops republished, labeled by operation and collection.",
		}, []string{"operation", "collection"}),
		PostLanguages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bsky_firehose_post_languages_total",
			Help: "Post creations observed, labeled by declared language.",
		}, []string{"lang"}),
		AccountEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsky_firehose_account_events_total",
			Help: "Account events observed.",
		}),
		IdentityEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsky_firehose_identity_events_total",
			Help: "Identity events observed.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsky_firehose_reconnects_total",
			Help: "Upstream reconnect attempts.",
		}),
		OpDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsky_firehose_op_decode_errors_total",
			Help: "Commit ops skipped as malformed (bad path, missing cid, unresolvable record block, or cbor decode failure).",
		}),
	}
	reg.MustRegister(f.BytesTotal, f.EventsTotal, f.OpsByCollection, f.PostLanguages,
		f.AccountEvents, f.IdentityEvents, f.Reconnects, f.OpDecodeErrors)
	return f
}

// Indexer holds the indexer worker's collectors.
type Indexer struct {
	MessagesProcessed prometheus.Counter
	DecodeErrors      prometheus.Counter
	BulkWriteErrors   *prometheus.CounterVec
	BatchSize         prometheus.Histogram
}

// NewIndexer creates and registers the indexer's collectors against reg.
func NewIndexer(reg prometheus.Registerer) *Indexer {
	i := &Indexer{
		MessagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsky_indexer_messages_total",
			Help: "Queue messages processed by the indexer.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsky_indexer_decode_errors_total",
			Help: "Messages skipped due to decode or extraction errors.",
		}),
		BulkWriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bsky_indexer_bulk_write_errors_total",
			Help: "Bulk write failures, labeled by target collection.",
		}, []string{"collection"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bsky_indexer_batch_size",
			Help:    "Size of batches pulled from the queue.",
			Buckets: prometheus.LinearBuckets(0, 100, 11),
		}),
	}
	reg.MustRegister(i.MessagesProcessed, i.DecodeErrors, i.BulkWriteErrors, i.BatchSize)
	return i
}
