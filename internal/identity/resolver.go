// Package identity resolves handles and DIDs against the upstream
// identity directory, caching results in memory per §4.5.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// ErrNotFound is returned when the upstream directory has no record
// for the requested handle or DID.
var ErrNotFound = errors.New("identity: not found")

const cacheSize = 100_000

// Resolved is the canonical identity pair for an actor.
type Resolved struct {
	Handle string
	DID    string
}

// Resolver wraps an HTTP client against the upstream identity
// directory with an in-memory LRU cache in front of each method.
type Resolver struct {
	client      *http.Client
	handleCache *lru.Cache
	didCache    *lru.Cache
	baseURL     string
}

// New constructs a Resolver. baseURL points at the DID directory used
// for DID lookups (e.g. the PLC directory); handles are resolved through
// each handle's own https://<handle>/.well-known/atproto-did endpoint,
// not through baseURL.
func New(baseURL string) (*Resolver, error) {
	handleCache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("identity: new handle cache: %w", err)
	}
	didCache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("identity: new did cache: %w", err)
	}
	return &Resolver{
		client:      &http.Client{Timeout: 10 * time.Second},
		handleCache: handleCache,
		didCache:    didCache,
		baseURL:     strings.TrimRight(baseURL, "/"),
	}, nil
}

// Resolve accepts either a handle (optionally "@"-prefixed) or a DID
// string and returns the canonical {handle, did} pair.
func (r *Resolver) Resolve(ctx context.Context, input string) (Resolved, error) {
	if strings.HasPrefix(input, "did:") {
		handles, err := r.ensureResolveDID(ctx, input)
		if err != nil {
			return Resolved{}, err
		}
		handle := ""
		if len(handles) > 0 {
			handle = handles[0]
		}
		return Resolved{DID: input, Handle: handle}, nil
	}

	handle := strings.TrimPrefix(input, "@")
	did, err := r.ensureResolveHandle(ctx, handle)
	if err != nil {
		return Resolved{}, err
	}
	return Resolved{DID: did, Handle: handle}, nil
}

// ensureResolveHandle resolves a handle to a DID, consulting the
// cache first.
func (r *Resolver) ensureResolveHandle(ctx context.Context, handle string) (string, error) {
	if v, ok := r.handleCache.Get(handle); ok {
		return v.(string), nil
	}

	url := fmt.Sprintf("https://%s/.well-known/atproto-did", handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("identity: build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotFound, handle, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	var buf strings.Builder
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", fmt.Errorf("identity: read response: %w", err)
	}
	did := strings.TrimSpace(buf.String())
	if did == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, handle)
	}

	r.handleCache.Add(handle, did)
	return did, nil
}

// ensureResolveDID resolves a DID document and returns its
// also-known-as handles with the "at://" prefix stripped.
func (r *Resolver) ensureResolveDID(ctx context.Context, did string) ([]string, error) {
	if v, ok := r.didCache.Get(did); ok {
		return v.([]string), nil
	}

	url := fmt.Sprintf("%s/%s", r.baseURL, did)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, did, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, did)
	}

	var doc struct {
		AlsoKnownAs []string `json:"alsoKnownAs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("identity: decode did document: %w", err)
	}

	handles := make([]string, 0, len(doc.AlsoKnownAs))
	for _, aka := range doc.AlsoKnownAs {
		handles = append(handles, strings.TrimPrefix(aka, "at://"))
	}

	r.didCache.Add(did, handles)
	return handles, nil
}
