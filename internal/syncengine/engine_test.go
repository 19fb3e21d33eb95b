package syncengine

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jakobkummerow/weinkeller-sub000/internal/store"
	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

var errScripted = errors.New("scripted transport failure")

type exchange struct {
	kind       string
	batch      *types.Batch
	lastCommit int64
}

// fakeTransport replays scripted responses and records every exchange.
type fakeTransport struct {
	responses []*types.SyncResponse
	errs      []error
	calls     []exchange
}

func (f *fakeTransport) next() (*types.SyncResponse, error) {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.responses) == 0 {
		return &types.SyncResponse{}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeTransport) Fetch(ctx context.Context, lastCommit int64) (*types.SyncResponse, error) {
	f.calls = append(f.calls, exchange{kind: "fetch", lastCommit: lastCommit})
	return f.next()
}

func (f *fakeTransport) FetchAll(ctx context.Context) (*types.SyncResponse, error) {
	f.calls = append(f.calls, exchange{kind: "fetch_all"})
	return f.next()
}

func (f *fakeTransport) Push(ctx context.Context, batch *types.Batch) (*types.SyncResponse, error) {
	f.calls = append(f.calls, exchange{kind: "push", batch: batch})
	return f.next()
}

func newTestEngine(t *testing.T, transport Transport, confirm ConfirmFunc) (*Engine, *store.Store) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	st := store.New(store.Options{Logger: logger})
	e := New(Options{
		Store:     st,
		Transport: transport,
		Logger:    logger,
		Confirm:   confirm,
	})
	return e, st
}

func TestCycleUploadsDirtyRecords(t *testing.T) {
	ft := &fakeTransport{}
	e, st := newTestEngine(t, ft, nil)
	v := st.GetOrCreateVineyard("Acme")
	ft.responses = []*types.SyncResponse{
		{Receipts: &types.Receipts{Vineyards: []types.Receipt{{LocalID: v.LocalID(), ServerID: 9}}}, Commit: 1},
	}

	delay := e.RunCycle(context.Background())
	if len(ft.calls) != 1 || ft.calls[0].kind != "push" {
		t.Fatalf("expected one push, got %+v", ft.calls)
	}
	if got := ft.calls[0].batch.Size(); got != 1 {
		t.Fatalf("expected one record in the batch, got %d", got)
	}
	if v.ServerID() != 9 {
		t.Fatalf("receipt not applied, server id %d", v.ServerID())
	}
	if delay != 0 {
		t.Fatalf("receipts must trigger an immediate follow-up, got %v", delay)
	}

	// The follow-up has nothing to send and polls instead.
	e.RunCycle(context.Background())
	if len(ft.calls) != 2 || ft.calls[1].kind != "fetch" {
		t.Fatalf("expected a poll, got %+v", ft.calls)
	}
	if ft.calls[1].lastCommit != 1 {
		t.Fatalf("poll must resume from the commit cursor, got %d", ft.calls[1].lastCommit)
	}
}

func TestHeartbeatBackoffAndReset(t *testing.T) {
	ft := &fakeTransport{}
	e, _ := newTestEngine(t, ft, nil)

	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second,
		80 * time.Second, 160 * time.Second, 5 * time.Minute, 5 * time.Minute,
	}
	for i, w := range want {
		if got := e.RunCycle(context.Background()); got != w {
			t.Fatalf("cycle %d: expected delay %v, got %v", i, w, got)
		}
	}

	// New data resets the ladder.
	ft.responses = []*types.SyncResponse{
		{Vineyards: []types.Vineyard{{ServerID: 1, Name: "Acme"}}, Commit: 3},
	}
	if got := e.RunCycle(context.Background()); got != 5*time.Second {
		t.Fatalf("data must reset the heartbeat, got %v", got)
	}
}

func TestErrorBackoff(t *testing.T) {
	ft := &fakeTransport{errs: []error{
		errScripted, errScripted, errScripted, nil,
	}}
	e, _ := newTestEngine(t, ft, nil)

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	for i, w := range want {
		if got := e.RunCycle(context.Background()); got != w {
			t.Fatalf("error cycle %d: expected delay %v, got %v", i, w, got)
		}
	}
	// Success resets the error ladder; the empty response walks the
	// heartbeat ladder from the start.
	if got := e.RunCycle(context.Background()); got != 5*time.Second {
		t.Fatalf("success must reset backoff, got %v", got)
	}
	ft.errs = []error{errScripted}
	if got := e.RunCycle(context.Background()); got != 5*time.Second {
		t.Fatalf("error ladder must have reset, got %v", got)
	}
}

func TestServerIdentityAdopted(t *testing.T) {
	ft := &fakeTransport{responses: []*types.SyncResponse{{UUID: "db-1", Commit: 0}}}
	e, st := newTestEngine(t, ft, nil)

	e.RunCycle(context.Background())
	if st.ServerUUID() != "db-1" {
		t.Fatalf("first contact must adopt the server identity, got %q", st.ServerUUID())
	}
}

func TestServerIdentityMismatchDisables(t *testing.T) {
	declined := func(string) bool { return false }
	ft := &fakeTransport{responses: []*types.SyncResponse{
		{UUID: "db-1"},
		{UUID: "db-2", Vineyards: []types.Vineyard{{ServerID: 1, Name: "Ghost"}}, Commit: 5},
	}}
	e, st := newTestEngine(t, ft, declined)

	e.RunCycle(context.Background())
	e.RunCycle(context.Background())
	if e.State() != StateDisabled {
		t.Fatalf("declined wipe must disable the engine, got %v", e.State())
	}
	if st.VineyardByName("Ghost") != nil {
		t.Fatalf("records from a foreign database must not be applied")
	}
	if st.ServerUUID() != "db-1" {
		t.Fatalf("stored identity must be unchanged, got %q", st.ServerUUID())
	}

	// A manual request re-arms the engine.
	e.Request(FlagManual)
	if e.State() != StateIdle {
		t.Fatalf("manual request must leave the disabled state, got %v", e.State())
	}
}

func TestServerIdentityMismatchWipesOnConfirm(t *testing.T) {
	accepted := func(string) bool { return true }
	ft := &fakeTransport{responses: []*types.SyncResponse{
		{UUID: "db-1"},
		{UUID: "db-2", Commit: 5},
		{UUID: "db-2", Vineyards: []types.Vineyard{{ServerID: 1, Name: "Fresh"}}, Commit: 5},
	}}
	e, st := newTestEngine(t, ft, accepted)
	st.GetOrCreateVineyard("Stale")
	e.RunCycle(context.Background()) // pushes Stale, adopts db-1

	delay := e.RunCycle(context.Background())
	if delay != 0 {
		t.Fatalf("accepted wipe must re-enter immediately, got %v", delay)
	}
	if st.ServerUUID() != "db-2" {
		t.Fatalf("wipe must adopt the new identity, got %q", st.ServerUUID())
	}
	if st.VineyardByName("Stale") != nil {
		t.Fatalf("local data must be gone after the wipe")
	}

	e.RunCycle(context.Background())
	last := ft.calls[len(ft.calls)-1]
	if last.kind != "fetch_all" {
		t.Fatalf("wipe must be followed by a full fetch, got %+v", ft.calls)
	}
	if st.VineyardByName("Fresh") == nil {
		t.Fatalf("full fetch results must be applied")
	}
}

func TestResendFlow(t *testing.T) {
	ft := &fakeTransport{responses: []*types.SyncResponse{
		{Vineyards: []types.Vineyard{{ServerID: 4, Name: "Acme"}}, Commit: 2},
		{Resend: &types.Resend{Vineyards: []types.ServerID{4}}, Commit: 2},
		{Commit: 2},
	}}
	e, _ := newTestEngine(t, ft, nil)

	e.RunCycle(context.Background())
	delay := e.RunCycle(context.Background())
	if delay != 0 {
		t.Fatalf("a resend request must re-enter immediately, got %v", delay)
	}

	e.RunCycle(context.Background())
	last := ft.calls[len(ft.calls)-1]
	if last.kind != "push" || last.batch == nil || len(last.batch.Vineyards) != 1 {
		t.Fatalf("expected a resend push, got %+v", last)
	}
	if last.batch.Vineyards[0].ServerID != 4 {
		t.Fatalf("resend must target the requested record, got %+v", last.batch.Vineyards[0])
	}
}

func TestRequestPriorities(t *testing.T) {
	ft := &fakeTransport{responses: []*types.SyncResponse{
		{Vineyards: []types.Vineyard{{ServerID: 1, Name: "Acme"}}, Commit: 1},
		{Commit: 1},
	}}
	e, _ := newTestEngine(t, ft, nil)
	e.Request(FlagFetchAll | FlagPushAll)

	e.RunCycle(context.Background())
	if ft.calls[0].kind != "fetch_all" {
		t.Fatalf("fetch-all must outrank push-all, got %+v", ft.calls)
	}

	e.RunCycle(context.Background())
	if len(ft.calls) != 2 || ft.calls[1].kind != "push" {
		t.Fatalf("push-all must follow, got %+v", ft.calls)
	}
	if len(ft.calls[1].batch.Vineyards) != 1 {
		t.Fatalf("push-all must include clean records, got %+v", ft.calls[1].batch)
	}
}

func TestKickCoalesces(t *testing.T) {
	e, _ := newTestEngine(t, &fakeTransport{}, nil)
	for i := 0; i < 5; i++ {
		e.Kick()
	}
	select {
	case <-e.kickCh:
	default:
		t.Fatalf("kick must be pending")
	}
	select {
	case <-e.kickCh:
		t.Fatalf("kicks must coalesce into one wakeup")
	default:
	}
}

func TestStatusTracksCycles(t *testing.T) {
	ft := &fakeTransport{errs: []error{errScripted}}
	e, _ := newTestEngine(t, ft, nil)

	e.RunCycle(context.Background())
	status := e.Status()
	if status.LastRequest != "poll" || status.LastError == "" {
		t.Fatalf("failed cycle must record the error, got %+v", status)
	}
	if !status.LastSuccess.IsZero() {
		t.Fatalf("failed cycle must not claim success, got %+v", status)
	}

	ft.responses = []*types.SyncResponse{{UUID: "db-1", Commit: 1}}
	e.RunCycle(context.Background())
	status = e.Status()
	if status.LastError != "" || status.LastSuccess.IsZero() {
		t.Fatalf("successful cycle must clear the error, got %+v", status)
	}
	if !status.NextCycle.After(status.LastSuccess) {
		t.Fatalf("next cycle must be scheduled after the last success, got %+v", status)
	}
}

func TestRequestConcurrentWithCycles(t *testing.T) {
	e, _ := newTestEngine(t, &fakeTransport{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			e.Request(FlagManual)
			e.State()
		}
	}()

	for i := 0; i < 50; i++ {
		e.RunCycle(context.Background())
	}
	<-done

	if e.State() == StateDisabled {
		t.Fatalf("manual requests must never disable the engine")
	}
}
