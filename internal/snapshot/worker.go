package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/jakobkummerow/weinkeller-sub000/internal/server"
)

const (
	defaultInterval        = 1 * time.Hour
	defaultCommitThreshold = int64(1)
)

// Exporter yields the current database state and commit counter. Satisfied
// by the in-memory database.
type Exporter interface {
	Export() *server.Archive
	Commit() int64
}

// Worker periodically uploads full database archives to object storage.
// Clients can also demand an immediate backup through Trigger; the push
// handler forwards the extra_backup flag here.
type Worker struct {
	data   Exporter
	object *minio.Client
	bucket string

	interval        time.Duration
	commitThreshold int64

	trigger          chan struct{}
	lastBackupCommit int64

	logger zerolog.Logger
}

// Option configures the worker.
type Option func(*Worker)

// WithInterval sets the periodic backup interval.
func WithInterval(d time.Duration) Option {
	return func(w *Worker) {
		w.interval = d
	}
}

// WithCommitThreshold sets how far the commit counter must have advanced
// since the last backup before a periodic tick uploads a new archive.
func WithCommitThreshold(n int64) Option {
	return func(w *Worker) {
		w.commitThreshold = n
	}
}

// NewWorker constructs a backup worker with sane defaults.
func NewWorker(data Exporter, object *minio.Client, bucket string, logger zerolog.Logger, opts ...Option) *Worker {
	w := &Worker{
		data:            data,
		object:          object,
		bucket:          bucket,
		interval:        defaultInterval,
		commitThreshold: defaultCommitThreshold,
		trigger:         make(chan struct{}, 1),
		logger:          logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Trigger requests an immediate backup. Safe to call from any goroutine;
// requests arriving while one is already queued coalesce.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Start begins the periodic backup loop.
func (w *Worker) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.runOnce(ctx, false); err != nil {
				w.logger.Error().Err(err).Msg("periodic backup failed")
			}
		case <-w.trigger:
			if err := w.runOnce(ctx, true); err != nil {
				w.logger.Error().Err(err).Msg("requested backup failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) runOnce(ctx context.Context, forced bool) error {
	if w.object == nil {
		return fmt.Errorf("object storage client not configured")
	}

	commit := w.data.Commit()
	if !forced && commit-w.lastBackupCommit < w.commitThreshold {
		return nil
	}

	archive := w.data.Export()
	data, err := json.Marshal(archive)
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}

	objectPath := fmt.Sprintf("backups/%s/%s-commit-%d.json",
		archive.UUID, time.Now().UTC().Format("20060102T150405"), commit)
	if _, err := w.object.PutObject(ctx, w.bucket, objectPath, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	w.lastBackupCommit = commit
	backupsTotal.Inc()
	backupSizeBytes.Set(float64(len(data)))
	w.logger.Info().Str("object", objectPath).Int64("commit", commit).Bool("forced", forced).Msg("backup uploaded")
	return nil
}

// DecodeArchive unmarshals a backup object back into an archive, for
// restore tooling.
func DecodeArchive(data []byte) (*server.Archive, error) {
	archive := &server.Archive{}
	if err := json.Unmarshal(data, archive); err != nil {
		return nil, err
	}
	return archive, nil
}
