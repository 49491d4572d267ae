// Package extractor implements the pure function that turns one
// decoded commit op into zero or one interaction edge plus tally
// mutations, per §4.3.
package extractor

import (
	"strings"
	"time"

	"github.com/hpmartins/bsky-codes/internal/decode"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Writes groups the database operations produced by one commit,
// keyed by target collection name.
type Writes struct {
	ByCollection map[string][]mongo.WriteModel
}

func newWrites() *Writes {
	return &Writes{ByCollection: make(map[string][]mongo.WriteModel)}
}

func (w *Writes) add(collection string, model mongo.WriteModel) {
	w.ByCollection[collection] = append(w.ByCollection[collection], model)
}

// Extract dispatches one Commit to the rule for its collection and
// returns the resulting write operations. A nil/empty Writes is a
// valid result (e.g. a post with no reply and no embed).
func Extract(c decode.Commit) *Writes {
	w := newWrites()

	switch c.Collection {
	case "app.bsky.actor.profile":
		extractProfile(c, w)
	case "app.bsky.graph.block":
		extractBlock(c, w)
	case "app.bsky.feed.like":
		extractLike(c, w)
	case "app.bsky.feed.repost":
		extractRepost(c, w)
	case "app.bsky.feed.post":
		extractPost(c, w)
	}
	return w
}

func compositeID(repo, rkey string) string {
	return repo + "/" + rkey
}

// hostOf extracts the DID/authority portion of an at:// URI, e.g.
// "at://did:plc:abc/app.bsky.feed.post/xyz" → "did:plc:abc". Plain
// net/url parsing mishandles this because DIDs contain embedded
// colons that look like a host:port split, so the authority is
// extracted by hand instead.
func hostOf(uri string) string {
	const prefix = "at://"
	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	rest := uri[len(prefix):]
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		return rest[:idx]
	}
	return rest
}

func truncateHour(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), 0, 0, 0, time.UTC)
}

func parseCreatedAt(record map[string]interface{}) (time.Time, bool) {
	raw, ok := record["createdAt"].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func textLen(record map[string]interface{}) int {
	s, _ := record["text"].(string)
	return len([]rune(s))
}

// --- likes / reposts -------------------------------------------------

func extractLike(c decode.Commit, w *Writes) {
	extractSimpleEdge(c, w, "interactions.like", "likes", "self_likes")
}

func extractRepost(c decode.Commit, w *Writes) {
	extractSimpleEdge(c, w, "interactions.repost", "reposts", "self_reposts")
}

func extractSimpleEdge(c decode.Commit, w *Writes, collection, tallyField, selfTallyField string) {
	id := compositeID(c.Repo, c.Rkey)

	if c.Operation == "delete" {
		w.add(collection, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id}))
		return
	}

	subjectURI, _ := nestedString(c.Record, "subject", "uri")
	subject := hostOf(subjectURI)
	if subject == "" || subject == c.Repo {
		return
	}

	createdAt, ok := parseCreatedAt(c.Record)
	if !ok {
		return
	}

	edge := bson.M{
		"_id": id,
		"a":   c.Repo,
		"s":   subject,
		"t":   truncateHour(createdAt),
	}
	w.add(collection, mongo.NewReplaceOneModel().SetFilter(bson.M{"_id": id}).SetReplacement(edge).SetUpsert(true))

	bumpTally(w, c.Repo, subjectURI, tallyField, selfTallyField)
}

// --- posts ------------------------------------------------------------

func extractPost(c decode.Commit, w *Writes) {
	id := compositeID(c.Repo, c.Rkey)

	if c.Operation == "delete" {
		w.add("interactions.post", mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id}))
		return
	}

	subjectURI, kind := postSubject(c.Record)
	if subjectURI == "" {
		return
	}
	subject := hostOf(subjectURI)
	if subject == "" || subject == c.Repo {
		return
	}

	createdAt, ok := parseCreatedAt(c.Record)
	if !ok {
		return
	}

	chars := textLen(c.Record)
	edge := bson.M{
		"_id": id,
		"a":   c.Repo,
		"s":   subject,
		"t":   truncateHour(createdAt),
		"c":   chars,
	}
	w.add("interactions.post", mongo.NewReplaceOneModel().SetFilter(bson.M{"_id": id}).SetReplacement(edge).SetUpsert(true))

	switch kind {
	case postKindReply:
		bumpTally(w, c.Repo, subjectURI, "replies", "self_replies")
		if rootURI, ok := nestedString(c.Record, "reply", "root", "uri"); ok && rootURI != "" && rootURI != subjectURI {
			bumpTally(w, c.Repo, rootURI, "root_replies", "self_replies")
		}
	case postKindQuote:
		bumpTally(w, c.Repo, subjectURI, "quotes", "self_quotes")
	}
}

// bumpTally increments field (or selfField when the referenced post's
// author is the commit's own repo) on the post targeted by targetURI.
func bumpTally(w *Writes, repo, targetURI, field, selfField string) {
	targetRepo := hostOf(targetURI)
	targetRkey := rkeyOf(targetURI)
	if targetRepo == "" || targetRkey == "" {
		return
	}
	eff := field
	if targetRepo == repo {
		eff = selfField
	}
	w.add("app.bsky.feed.post", mongo.NewUpdateOneModel().
		SetFilter(bson.M{"_id": compositeID(targetRepo, targetRkey)}).
		SetUpdate(bson.M{"$inc": bson.M{eff: 1}}))
}

// postKind distinguishes the two ways a post can reference another
// post (reply or quote), for tally field selection.
type postKind int

const (
	postKindReply postKind = iota
	postKindQuote
)

// postSubject derives the subject URI by first-match, per §4.3:
// reply-parent, then record-embed, then record-with-media's nested
// record-embed, else no interaction.
func postSubject(record map[string]interface{}) (uri string, kind postKind) {
	if parentURI, ok := nestedString(record, "reply", "parent", "uri"); ok && parentURI != "" {
		return parentURI, postKindReply
	}

	embed, _ := record["embed"].(map[string]interface{})
	if embed == nil {
		return "", 0
	}

	embedType, _ := embed["$type"].(string)
	switch embedType {
	case "app.bsky.embed.record":
		if u, ok := nestedString(embed, "record", "uri"); ok {
			return u, postKindQuote
		}
	case "app.bsky.embed.recordWithMedia":
		if inner, ok := embed["record"].(map[string]interface{}); ok {
			if u, ok := nestedString(inner, "record", "uri"); ok {
				return u, postKindQuote
			}
		}
	}
	return "", 0
}

func nestedString(m map[string]interface{}, path ...string) (string, bool) {
	cur := interface{}(m)
	for i, key := range path {
		mm, ok := cur.(map[string]interface{})
		if !ok {
			return "", false
		}
		v, ok := mm[key]
		if !ok {
			return "", false
		}
		if i == len(path)-1 {
			s, ok := v.(string)
			return s, ok
		}
		cur = v
	}
	return "", false
}

func rkeyOf(uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 || idx == len(uri)-1 {
		return ""
	}
	return uri[idx+1:]
}

// --- profiles -----------------------------------------------------------

func extractProfile(c decode.Commit, w *Writes) {
	if c.Operation == "delete" {
		w.add("app.bsky.actor.profile", mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": c.Repo}).
			SetUpdate(bson.M{"$set": bson.M{"deleted": true, "updated_at": time.Now().UTC()}}))
		return
	}

	set := bson.M{"updated_at": time.Now().UTC()}
	for k, v := range c.Record {
		if k == "avatar" || k == "banner" || k == "$type" {
			continue
		}
		set[k] = v
	}

	w.add("app.bsky.actor.profile", mongo.NewUpdateOneModel().
		SetFilter(bson.M{"_id": c.Repo}).
		SetUpdate(bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"indexed_at": time.Now().UTC()},
		}).
		SetUpsert(true))
}

// ExtractAccount converts a #account event into a profile upsert,
// creating the profile document on first sighting per §3 ("created on
// first sighting... mutated by any such event").
func ExtractAccount(a decode.Account) *Writes {
	w := newWrites()
	set := bson.M{"active": a.Active, "updated_at": time.Now().UTC()}
	if a.Status != "" {
		set["status"] = a.Status
	}
	w.add("app.bsky.actor.profile", mongo.NewUpdateOneModel().
		SetFilter(bson.M{"_id": a.DID}).
		SetUpdate(bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"indexed_at": time.Now().UTC()},
		}).
		SetUpsert(true))
	return w
}

// ExtractIdentity converts a #identity event into a profile upsert,
// recording the resolved handle. The profile record itself never
// carries a handle, so this is the handle's only write path.
func ExtractIdentity(id decode.Identity) *Writes {
	w := newWrites()
	set := bson.M{"updated_at": time.Now().UTC()}
	if id.Handle != "" {
		set["handle"] = id.Handle
	}
	w.add("app.bsky.actor.profile", mongo.NewUpdateOneModel().
		SetFilter(bson.M{"_id": id.DID}).
		SetUpdate(bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"indexed_at": time.Now().UTC()},
		}).
		SetUpsert(true))
	return w
}

// --- blocks -----------------------------------------------------------

func extractBlock(c decode.Commit, w *Writes) {
	id := compositeID(c.Repo, c.Collection+"/"+c.Rkey)

	if c.Operation == "delete" {
		w.add("app.bsky.graph.block", mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": id}))
		return
	}

	subject, _ := c.Record["subject"].(string)
	if subject == "" {
		return
	}
	createdAt, ok := parseCreatedAt(c.Record)
	if !ok {
		createdAt = time.Now().UTC()
	}

	w.add("app.bsky.graph.block", mongo.NewReplaceOneModel().
		SetFilter(bson.M{"_id": id}).
		SetReplacement(bson.M{
			"_id":        id,
			"author":     c.Repo,
			"subject":    subject,
			"created_at": createdAt,
		}).
		SetUpsert(true))
}
