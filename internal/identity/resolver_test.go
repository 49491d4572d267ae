package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveDIDInput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"alsoKnownAs": []string{"at://alice.example.com"},
		})
	}))
	defer srv.Close()

	r, err := New(srv.URL)
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), "did:plc:abc")
	require.NoError(t, err)
	require.Equal(t, "did:plc:abc", res.DID)
	require.Equal(t, "alice.example.com", res.Handle)
}

func TestResolveDIDNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r, err := New(srv.URL)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "did:plc:missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveCachesDIDLookup(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]interface{}{"alsoKnownAs": []string{"at://bob.example.com"}})
	}))
	defer srv.Close()

	r, err := New(srv.URL)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "did:plc:bob")
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "did:plc:bob")
	require.NoError(t, err)

	require.Equal(t, 1, calls)
}
