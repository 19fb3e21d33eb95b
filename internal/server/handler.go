package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/jakobkummerow/weinkeller-sub000/internal/observability"
	"github.com/jakobkummerow/weinkeller-sub000/internal/types"
)

// Persister write-through-persists accepted pushes.
type Persister interface {
	SaveChanges(ctx context.Context, changes *ChangeSet) error
}

// Presence tracks which client replicas have been seen recently.
type Presence interface {
	Touch(ctx context.Context, clientID string)
	List(ctx context.Context) ([]string, error)
}

// BackupTrigger requests an out-of-schedule backup.
type BackupTrigger interface {
	Trigger()
}

// Handler serves the sync API. Persistence, presence and backups are
// optional; a nil collaborator disables that concern.
type Handler struct {
	data     *Data
	persist  Persister
	presence Presence
	backup   BackupTrigger
	logger   zerolog.Logger
}

// NewHandler wires the API around the authoritative store.
func NewHandler(data *Data, persist Persister, presence Presence, backup BackupTrigger, logger zerolog.Logger) *Handler {
	return &Handler{
		data:     data,
		persist:  persist,
		presence: presence,
		backup:   backup,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes returns the API mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/get", h.handleGet)
	mux.HandleFunc("/api/set", h.handleSet)
	mux.HandleFunc("/api/clients", h.handleClients)
	mux.HandleFunc("/healthz", h.handleHealth)
	return mux
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.touchClient(r)

	since := int64(0)
	if r.URL.Query().Get("all") == "" {
		var err error
		since, err = strconv.ParseInt(r.URL.Query().Get("last_commit"), 10, 64)
		if err != nil {
			http.Error(w, "bad last_commit", http.StatusBadRequest)
			return
		}
	}
	resp := h.data.GetAll(since)
	getsTotal.Inc()
	h.writeJSON(w, resp)
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.touchClient(r)
	ctx, span := tracer.Start(r.Context(), "api.set")
	defer span.End()

	var batch types.Batch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, "bad batch: "+err.Error(), http.StatusBadRequest)
		return
	}

	resp, changes := h.data.SetAll(&batch)
	pushesTotal.Inc()
	pushedRecords.Add(float64(batch.Size()))

	if h.persist != nil && !changes.IsEmpty() {
		if err := h.persist.SaveChanges(ctx, changes); err != nil {
			// The in-memory store already advanced; losing the write-through
			// is recoverable via the next backup, so log and keep serving.
			logger := observability.LoggerWithTrace(ctx, h.logger)
			logger.Error().Err(err).Int64("commit", changes.Commit).Msg("write-through persistence failed")
		}
	}
	if h.backup != nil && batch.ExtraBackup {
		h.logger.Info().Msg("client requested an extra backup")
		h.backup.Trigger()
	}
	h.writeJSON(w, resp)
}

func (h *Handler) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.presence == nil {
		h.writeJSON(w, []string{})
		return
	}
	clients, err := h.presence.List(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("listing clients failed")
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, clients)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) touchClient(r *http.Request) {
	if h.presence == nil {
		return
	}
	if id := r.Header.Get("X-Cellar-Client"); id != "" {
		h.presence.Touch(r.Context(), id)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn().Err(err).Msg("writing response failed")
	}
}
