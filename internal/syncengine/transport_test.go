package syncengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

func TestHTTPTransportRequestShapes(t *testing.T) {
	type seen struct {
		method string
		path   string
		query  string
		client string
	}
	var requests []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, seen{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			client: r.Header.Get("X-Cellar-Client"),
		})
		json.NewEncoder(w).Encode(&types.SyncResponse{Commit: 1})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "kitchen-tablet")
	ctx := context.Background()

	if _, err := tr.Fetch(ctx, 7); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := tr.FetchAll(ctx); err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if _, err := tr.Push(ctx, &types.Batch{Vineyards: []types.Vineyard{{LocalID: 1, Name: "Acme"}}}); err != nil {
		t.Fatalf("Push: %v", err)
	}

	want := []seen{
		{method: http.MethodGet, path: "/api/get", query: "last_commit=7", client: "kitchen-tablet"},
		{method: http.MethodGet, path: "/api/get", query: "all=1", client: "kitchen-tablet"},
		{method: http.MethodPost, path: "/api/set", query: "", client: "kitchen-tablet"},
	}
	if len(requests) != len(want) {
		t.Fatalf("requests = %d, want %d", len(requests), len(want))
	}
	for i, w := range want {
		if requests[i] != w {
			t.Errorf("request %d = %+v, want %+v", i, requests[i], w)
		}
	}
}

func TestHTTPTransportRejectsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, "")
	if _, err := tr.Fetch(context.Background(), 0); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
