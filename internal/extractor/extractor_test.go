package extractor

import (
	"testing"
	"time"

	"github.com/hpmartins/bsky-codes/internal/decode"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

func replacement(t *testing.T, w *Writes, collection string) bson.M {
	t.Helper()
	models := w.ByCollection[collection]
	require.Len(t, models, 1)
	rep, ok := models[0].(*mongo.ReplaceOneModel)
	require.True(t, ok)
	doc, ok := rep.Replacement.(bson.M)
	require.True(t, ok)
	return doc
}

func TestLikeCreatesOneInteractionRow(t *testing.T) {
	c := decode.Commit{
		Repo:       "did:A",
		Operation:  "create",
		Collection: "app.bsky.feed.like",
		Rkey:       "k1",
		Record: map[string]interface{}{
			"createdAt": "2025-01-01T12:34:56Z",
			"subject":   map[string]interface{}{"uri": "at://did:B/app.bsky.feed.post/p1"},
		},
	}

	w := Extract(c)
	doc := replacement(t, w, "interactions.like")

	require.Equal(t, "did:A/k1", doc["_id"])
	require.Equal(t, "did:A", doc["a"])
	require.Equal(t, "did:B", doc["s"])
	require.Equal(t, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), doc["t"])
}

func TestSelfLikeDropped(t *testing.T) {
	c := decode.Commit{
		Repo:       "did:A",
		Operation:  "create",
		Collection: "app.bsky.feed.like",
		Rkey:       "k1",
		Record: map[string]interface{}{
			"createdAt": "2025-01-01T12:34:56Z",
			"subject":   map[string]interface{}{"uri": "at://did:A/app.bsky.feed.post/p1"},
		},
	}

	w := Extract(c)
	require.Empty(t, w.ByCollection["interactions.like"])
	require.Empty(t, w.ByCollection["app.bsky.feed.post"])
}

func TestReplyPostWith42CharacterText(t *testing.T) {
	text := ""
	for i := 0; i < 42; i++ {
		text += "x"
	}

	c := decode.Commit{
		Repo:       "did:A",
		Operation:  "create",
		Collection: "app.bsky.feed.post",
		Rkey:       "p2",
		Record: map[string]interface{}{
			"createdAt": "2025-01-01T00:00:00Z",
			"text":      text,
			"reply": map[string]interface{}{
				"parent": map[string]interface{}{"uri": "at://did:B/app.bsky.feed.post/pp"},
			},
		},
	}

	w := Extract(c)
	doc := replacement(t, w, "interactions.post")

	require.Equal(t, "did:A/p2", doc["_id"])
	require.Equal(t, "did:A", doc["a"])
	require.Equal(t, "did:B", doc["s"])
	require.Equal(t, 42, doc["c"])

	tallies := w.ByCollection["app.bsky.feed.post"]
	require.Len(t, tallies, 1)
}

func TestPostWithNoReplyOrEmbedYieldsNoInteraction(t *testing.T) {
	c := decode.Commit{
		Repo:       "did:A",
		Operation:  "create",
		Collection: "app.bsky.feed.post",
		Rkey:       "p3",
		Record: map[string]interface{}{
			"createdAt": "2025-01-01T00:00:00Z",
			"text":      "just a post",
		},
	}

	w := Extract(c)
	require.Empty(t, w.ByCollection["interactions.post"])
}

func TestQuotePostBumpsQuotesTally(t *testing.T) {
	c := decode.Commit{
		Repo:       "did:A",
		Operation:  "create",
		Collection: "app.bsky.feed.post",
		Rkey:       "p4",
		Record: map[string]interface{}{
			"createdAt": "2025-01-01T00:00:00Z",
			"text":      "quoting",
			"embed": map[string]interface{}{
				"$type":  "app.bsky.embed.record",
				"record": map[string]interface{}{"uri": "at://did:C/app.bsky.feed.post/q1"},
			},
		},
	}

	w := Extract(c)
	doc := replacement(t, w, "interactions.post")
	require.Equal(t, "did:C", doc["s"])

	tallies := w.ByCollection["app.bsky.feed.post"]
	require.Len(t, tallies, 1)
	upd, ok := tallies[0].(*mongo.UpdateOneModel)
	require.True(t, ok)
	update, ok := upd.Update.(bson.M)
	require.True(t, ok)
	inc, ok := update["$inc"].(bson.M)
	require.True(t, ok)
	require.Equal(t, 1, inc["quotes"])
}

func TestDeleteProducesDeleteOneModel(t *testing.T) {
	c := decode.Commit{
		Repo:       "did:A",
		Operation:  "delete",
		Collection: "app.bsky.feed.like",
		Rkey:       "k1",
	}

	w := Extract(c)
	models := w.ByCollection["interactions.like"]
	require.Len(t, models, 1)
	_, ok := models[0].(*mongo.DeleteOneModel)
	require.True(t, ok)
}

func TestProfileUpsertSetsTimestampsAndSkipsAvatarBanner(t *testing.T) {
	c := decode.Commit{
		Repo:       "did:A",
		Operation:  "create",
		Collection: "app.bsky.actor.profile",
		Rkey:       "self",
		Record: map[string]interface{}{
			"displayName": "Alice",
			"avatar":      map[string]interface{}{"cid": "bafy..."},
		},
	}

	w := Extract(c)
	models := w.ByCollection["app.bsky.actor.profile"]
	require.Len(t, models, 1)
	upd, ok := models[0].(*mongo.UpdateOneModel)
	require.True(t, ok)
	update, ok := upd.Update.(bson.M)
	require.True(t, ok)
	set, ok := update["$set"].(bson.M)
	require.True(t, ok)
	require.Equal(t, "Alice", set["displayName"])
	require.NotContains(t, set, "avatar")
	require.Contains(t, set, "updated_at")
}

func TestExtractAccountUpsertsActiveAndStatus(t *testing.T) {
	a := decode.Account{DID: "did:A", Active: false, Status: "takendown"}

	w := ExtractAccount(a)
	models := w.ByCollection["app.bsky.actor.profile"]
	require.Len(t, models, 1)
	upd, ok := models[0].(*mongo.UpdateOneModel)
	require.True(t, ok)
	require.Equal(t, bson.M{"_id": "did:A"}, upd.Filter)
	update, ok := upd.Update.(bson.M)
	require.True(t, ok)
	set, ok := update["$set"].(bson.M)
	require.True(t, ok)
	require.Equal(t, false, set["active"])
	require.Equal(t, "takendown", set["status"])
}

func TestExtractIdentityUpsertsHandle(t *testing.T) {
	id := decode.Identity{DID: "did:A", Handle: "alice.bsky.social"}

	w := ExtractIdentity(id)
	models := w.ByCollection["app.bsky.actor.profile"]
	require.Len(t, models, 1)
	upd, ok := models[0].(*mongo.UpdateOneModel)
	require.True(t, ok)
	require.Equal(t, bson.M{"_id": "did:A"}, upd.Filter)
	update, ok := upd.Update.(bson.M)
	require.True(t, ok)
	set, ok := update["$set"].(bson.M)
	require.True(t, ok)
	require.Equal(t, "alice.bsky.social", set["handle"])
}

func TestHostOfHandlesDIDColons(t *testing.T) {
	require.Equal(t, "did:plc:abc123", hostOf("at://did:plc:abc123/app.bsky.feed.post/xyz"))
	require.Equal(t, "", hostOf("not-an-at-uri"))
}
