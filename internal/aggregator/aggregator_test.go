package aggregator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeResultsCombinesKindsAndSortsByTotal(t *testing.T) {
	parts := []partialResult{
		{direction: Sent, kind: KindLike, rows: []kindRow{{ID: "did:B", Count: 2}}},
		{direction: Sent, kind: KindPost, rows: []kindRow{{ID: "did:B", Count: 1, Chars: 42}}},
		{direction: Sent, kind: KindRepost, rows: []kindRow{{ID: "did:C", Count: 5}}},
	}

	res := mergeResults(parts)

	require.Len(t, res.Sent, 2)
	require.Equal(t, "did:C", res.Sent[0].ID, "higher total sorts first")
	require.Equal(t, int64(5), res.Sent[0].Total)

	b := findCounterparty(t, res.Sent, "did:B")
	require.Equal(t, int64(2), b.Likes)
	require.Equal(t, int64(1), b.Posts)
	require.Equal(t, int64(42), b.Chars)
	require.Equal(t, int64(3), b.Total)
}

func TestMergeResultsEmpty(t *testing.T) {
	res := mergeResults(nil)
	require.Empty(t, res.Sent)
	require.Empty(t, res.Rcvd)
}

func findCounterparty(t *testing.T, cps []Counterparty, id string) Counterparty {
	t.Helper()
	for _, cp := range cps {
		if cp.ID == id {
			return cp
		}
	}
	t.Fatalf("counterparty %s not found", id)
	return Counterparty{}
}
