// Package syncengine drives the exchange loop between a client replica and
// the cellar server. One engine owns one store; all store access happens on
// the engine's goroutine.
package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jakobkummerow/weinkeller-sub000/internal/store"
	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

// RequestFlag marks special work queued for the next cycle. Flags combine;
// the cycle serves the highest-priority flag first and keeps the rest queued.
type RequestFlag uint8

const (
	FlagManual RequestFlag = 1 << iota
	FlagFetchAll
	FlagPushAll
	FlagConsistency
)

// State is the engine's scheduling state.
type State int

const (
	StateIdle State = iota
	StateScheduled
	StateInFlight
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateInFlight:
		return "inflight"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

const (
	minHeartbeatDelay = 5 * time.Second
	maxHeartbeatDelay = 5 * time.Minute
	minErrorDelay     = 5 * time.Second
	maxErrorDelay     = 5 * time.Hour
)

// ConfirmFunc asks the operator a yes/no question, used when the server
// identity changes underneath a replica.
type ConfirmFunc func(question string) bool

// Options configures a sync engine.
type Options struct {
	Store     *store.Store
	Transport Transport
	Logger    zerolog.Logger
	Confirm   ConfirmFunc
	Now       func() time.Time
}

// Engine schedules and executes sync cycles. Kick, Request, State and
// Status are safe to call from any goroutine; the store and the transport
// are only touched on the loop goroutine.
type Engine struct {
	store     *store.Store
	transport Transport
	logger    zerolog.Logger
	confirm   ConfirmFunc
	now       func() time.Time

	// mu guards state and flags, which Request mutates from other
	// goroutines while a cycle is running.
	mu    sync.Mutex
	state State
	flags RequestFlag

	pendingResend *types.Resend

	heartbeatDelay time.Duration
	errorDelay     time.Duration

	kickCh chan struct{}

	statusMu sync.Mutex
	status   Status
}

// Status is the snapshot a status widget reads: what the last cycle did,
// when the server last answered, and when the next cycle is due.
type Status struct {
	LastRequest string
	LastError   string
	LastSuccess time.Time
	NextCycle   time.Time
}

// New builds an engine. The store's kicker is wired by the caller.
func New(opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:          opts.Store,
		transport:      opts.Transport,
		logger:         opts.Logger.With().Str("component", "syncengine").Logger(),
		confirm:        opts.Confirm,
		now:            now,
		state:          StateIdle,
		heartbeatDelay: minHeartbeatDelay,
		errorDelay:     minErrorDelay,
		kickCh:         make(chan struct{}, 1),
	}
}

// State returns the current scheduling state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) currentFlags() RequestFlag {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags
}

func (e *Engine) addFlags(f RequestFlag) {
	e.mu.Lock()
	e.flags |= f
	e.mu.Unlock()
}

func (e *Engine) clearFlags(f RequestFlag) {
	e.mu.Lock()
	e.flags &^= f
	e.mu.Unlock()
}

// Status returns the latest status snapshot. Safe from any goroutine.
func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

func (e *Engine) recordStatus(kind string, err error, nextDelay time.Duration) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	e.status.LastRequest = kind
	e.status.NextCycle = e.now().Add(nextDelay)
	if err != nil {
		e.status.LastError = err.Error()
		return
	}
	e.status.LastError = ""
	e.status.LastSuccess = e.now()
}

// Kick notes that local data changed and wakes the loop. Coalesces: multiple
// kicks before the next cycle run one cycle.
func (e *Engine) Kick() {
	select {
	case e.kickCh <- struct{}{}:
	default:
	}
}

// Request queues special work and wakes the loop. A manual request also
// leaves the disabled state.
func (e *Engine) Request(flags RequestFlag) {
	e.mu.Lock()
	e.flags |= flags
	if flags&FlagManual != 0 && e.state == StateDisabled {
		e.state = StateIdle
	}
	e.mu.Unlock()
	e.Kick()
}

// Start runs the exchange loop until the context is cancelled. A kick
// interrupts the current wait; a disabled engine waits for a kick alone.
func (e *Engine) Start(ctx context.Context) {
	go e.loop(ctx)
}

func (e *Engine) loop(ctx context.Context) {
	delay := time.Duration(0)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		if e.State() == StateDisabled {
			// Only a manual request resumes a disabled engine.
			select {
			case <-e.kickCh:
				if e.State() == StateDisabled {
					continue
				}
			case <-ctx.Done():
				return
			}
		} else {
			e.setState(StateScheduled)
			select {
			case <-timer.C:
			case <-e.kickCh:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
			case <-ctx.Done():
				return
			}
		}
		delay = e.RunCycle(ctx)
		if e.State() == StateDisabled {
			continue
		}
		timer.Reset(delay)
	}
}

// RunCycle performs one request/response exchange and returns the delay
// until the next cycle. A zero delay means re-enter immediately, typically
// because receipts arrived or queued work remains.
func (e *Engine) RunCycle(ctx context.Context) time.Duration {
	e.setState(StateInFlight)
	defer func() {
		e.mu.Lock()
		if e.state == StateInFlight {
			e.state = StateIdle
		}
		e.mu.Unlock()
	}()

	ctx, span := tracer.Start(ctx, "sync.cycle")
	defer span.End()

	start := e.now()
	kind, resp, err := e.exchange(ctx)
	cycleDuration.WithLabelValues(kind).Observe(e.now().Sub(start).Seconds())
	if err != nil {
		cyclesTotal.WithLabelValues(kind, "error").Inc()
		e.logger.Warn().Err(err).Str("request", kind).Dur("retry_in", e.errorDelay).Msg("sync cycle failed")
		delay := e.errorDelay
		e.errorDelay *= 2
		if e.errorDelay > maxErrorDelay {
			e.errorDelay = maxErrorDelay
		}
		e.recordStatus(kind, err, delay)
		return delay
	}
	e.errorDelay = minErrorDelay
	e.store.SetLastServerContact(e.now())

	immediate, dataReceived := e.handleResponse(resp)
	if e.State() == StateDisabled {
		cyclesTotal.WithLabelValues(kind, "disabled").Inc()
		e.recordStatus(kind, nil, 0)
		return 0
	}
	cyclesTotal.WithLabelValues(kind, "ok").Inc()

	if immediate || e.currentFlags() != 0 {
		e.recordStatus(kind, nil, 0)
		return 0
	}
	var delay time.Duration
	if dataReceived {
		e.heartbeatDelay = minHeartbeatDelay
		delay = e.heartbeatDelay
	} else {
		delay = e.heartbeatDelay
		e.heartbeatDelay *= 2
		if e.heartbeatDelay > maxHeartbeatDelay {
			e.heartbeatDelay = maxHeartbeatDelay
		}
	}
	e.recordStatus(kind, nil, delay)
	return delay
}

// exchange picks and executes the highest-priority pending request.
func (e *Engine) exchange(ctx context.Context) (string, *types.SyncResponse, error) {
	e.clearFlags(FlagManual)
	flags := e.currentFlags()
	switch {
	case flags&FlagFetchAll != 0:
		resp, err := e.transport.FetchAll(ctx)
		if err == nil {
			e.clearFlags(FlagFetchAll)
		}
		return "fetch_all", resp, err
	case flags&FlagPushAll != 0:
		batch := e.store.PackAll()
		if batch == nil {
			e.clearFlags(FlagPushAll)
			return "push_all", nil, errUnresolvedBatch
		}
		resp, err := e.transport.Push(ctx, batch)
		if err == nil {
			e.clearFlags(FlagPushAll)
			uploadedRecords.Add(float64(batch.Size()))
		}
		return "push_all", resp, err
	case flags&FlagConsistency != 0:
		resend := e.pendingResend
		if resend == nil || resend.IsEmpty() {
			e.clearFlags(FlagConsistency)
			e.pendingResend = nil
			return e.normalExchange(ctx)
		}
		batch := e.store.PackResend(resend)
		resp, err := e.transport.Push(ctx, batch)
		if err == nil {
			e.clearFlags(FlagConsistency)
			e.pendingResend = nil
			uploadedRecords.Add(float64(batch.Size()))
		}
		return "consistency", resp, err
	default:
		return e.normalExchange(ctx)
	}
}

func (e *Engine) normalExchange(ctx context.Context) (string, *types.SyncResponse, error) {
	if batch := e.store.FindWork(); batch != nil {
		resp, err := e.transport.Push(ctx, batch)
		if err == nil {
			uploadedRecords.Add(float64(batch.Size()))
		}
		return "push", resp, err
	}
	resp, err := e.transport.Fetch(ctx, e.store.LastServerCommit())
	return "poll", resp, err
}

// handleResponse applies a server response to the store. It returns whether
// the loop should re-enter immediately and whether the response carried new
// data.
func (e *Engine) handleResponse(resp *types.SyncResponse) (immediate, dataReceived bool) {
	if resp == nil {
		return false, false
	}

	if resp.UUID != "" {
		stored := e.store.ServerUUID()
		switch {
		case stored == "":
			e.store.SetServerUUID(resp.UUID)
		case stored != resp.UUID:
			return e.handleServerIdentityChange(resp.UUID), false
		}
	}

	if resp.Receipts != nil && !resp.Receipts.IsEmpty() {
		if e.store.ApplyReceipts(resp.Receipts) {
			immediate = true
		}
	}
	if resp.Resend != nil && !resp.Resend.IsEmpty() {
		e.logger.Info().Msg("server requested record resend")
		e.pendingResend = resp.Resend
		e.addFlags(FlagConsistency)
		immediate = true
	}

	if e.store.ApplyData(resp) {
		dataReceived = true
		downloadedBatches.Inc()
	}
	return immediate, dataReceived
}

// handleServerIdentityChange runs when the server reports a database uuid
// that differs from the remembered one, which means the replica's local
// state belongs to a different database. The operator chooses between
// wiping the replica and re-fetching, or disabling sync on this replica.
func (e *Engine) handleServerIdentityChange(uuid string) bool {
	e.logger.Warn().Str("stored", e.store.ServerUUID()).Str("server", uuid).Msg("server database identity changed")
	wipe := false
	if e.confirm != nil {
		wipe = e.confirm("The server's database has changed. Discard local data and download the server's data?")
	}
	if !wipe {
		e.setState(StateDisabled)
		e.logger.Warn().Msg("sync disabled until a manual request")
		return false
	}
	if err := e.store.ClearAll(); err != nil {
		e.logger.Error().Err(err).Msg("wiping local state failed")
		e.setState(StateDisabled)
		return false
	}
	e.store.SetServerUUID(uuid)
	e.store.SetLastServerCommit(0)
	e.addFlags(FlagFetchAll)
	return true
}
