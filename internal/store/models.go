package store

import "time"

// Interaction is one directed edge derived from a like, repost, or
// reply/quote post. Stored in interactions.{like,repost,post} keyed by
// _id, per §3.
type Interaction struct {
	ID     string    `bson:"_id"`
	Author string    `bson:"a"`
	Subject string   `bson:"s"`
	Time   time.Time `bson:"t"`
	Chars  *int      `bson:"c,omitempty"`
}

// Profile mirrors the upstream app.bsky.actor.profile record plus the
// lifecycle fields owned by the indexer.
type Profile struct {
	DID       string    `bson:"_id"`
	Handle    string    `bson:"handle,omitempty"`
	Active    bool      `bson:"active"`
	Status    string    `bson:"status,omitempty"`
	CreatedAt time.Time `bson:"created_at,omitempty"`
	UpdatedAt time.Time `bson:"updated_at"`
	IndexedAt time.Time `bson:"indexed_at"`
	Deleted   bool      `bson:"deleted,omitempty"`

	DisplayName string `bson:"displayName,omitempty"`
	Description string `bson:"description,omitempty"`
	Avatar      string `bson:"avatar,omitempty"`
	Banner      string `bson:"banner,omitempty"`
}

// BlockEdge is a block relationship, keyed by author+collection+rkey.
type BlockEdge struct {
	ID        string    `bson:"_id"`
	Author    string    `bson:"author"`
	Subject   string    `bson:"subject"`
	CreatedAt time.Time `bson:"created_at"`
}

// PostTally holds the optional counter enrichment on a post document.
type PostTally struct {
	ID          string `bson:"_id"`
	Likes       int64  `bson:"likes"`
	Reposts     int64  `bson:"reposts"`
	Replies     int64  `bson:"replies"`
	RootReplies int64  `bson:"root_replies"`
	Quotes      int64  `bson:"quotes"`
	SelfLikes   int64  `bson:"self_likes"`
	SelfReposts int64  `bson:"self_reposts"`
	SelfReplies int64  `bson:"self_replies"`
	SelfQuotes  int64  `bson:"self_quotes"`
}

// DynamicData is a leaderboard snapshot appended by the scheduler and
// read by the query service.
type DynamicData struct {
	Name      string      `bson:"name"`
	Data      interface{} `bson:"data"`
	CreatedAt time.Time   `bson:"created_at"`
}

// Names for dynamic-data documents, per §4.8.
const (
	DynamicTopInteractions = "top_interactions"
	DynamicTopBlocks       = "top_blocks"
)
