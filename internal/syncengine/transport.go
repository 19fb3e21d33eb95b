package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

// errUnresolvedBatch is reported when a push-everything request cannot be
// packed because some record still lacks its parent's server id.
var errUnresolvedBatch = errors.New("push-all batch contains unresolved parent ids")

// Transport performs one request/response exchange with the server.
type Transport interface {
	// Fetch polls for changes after the given commit.
	Fetch(ctx context.Context, lastCommit int64) (*types.SyncResponse, error)
	// FetchAll downloads the entire database.
	FetchAll(ctx context.Context) (*types.SyncResponse, error)
	// Push uploads a batch. The response carries receipts and the new
	// commit; changed data is collected by a follow-up Fetch.
	Push(ctx context.Context, batch *types.Batch) (*types.SyncResponse, error)
}

// HTTPTransport talks to the server's /api endpoints. The client id is sent
// on every request so the server can keep a roster of known replicas.
type HTTPTransport struct {
	baseURL  string
	clientID string
	client   *http.Client
}

// NewHTTPTransport builds a transport for the given server base URL, e.g.
// "http://cellar.local:8080".
func NewHTTPTransport(baseURL, clientID string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:  baseURL,
		clientID: clientID,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *HTTPTransport) Fetch(ctx context.Context, lastCommit int64) (*types.SyncResponse, error) {
	url := t.baseURL + "/api/get?last_commit=" + strconv.FormatInt(lastCommit, 10)
	return t.do(ctx, http.MethodGet, url, nil)
}

func (t *HTTPTransport) FetchAll(ctx context.Context) (*types.SyncResponse, error) {
	return t.do(ctx, http.MethodGet, t.baseURL+"/api/get?all=1", nil)
}

func (t *HTTPTransport) Push(ctx context.Context, batch *types.Batch) (*types.SyncResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return t.do(ctx, http.MethodPost, t.baseURL+"/api/set", bytes.NewReader(body))
}

func (t *HTTPTransport) do(ctx context.Context, method, url string, body io.Reader) (*types.SyncResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.clientID != "" {
		req.Header.Set("X-Cellar-Client", t.clientID)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s", resp.Status)
	}
	var decoded types.SyncResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &decoded, nil
}
