package presence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultTTL    = 45 * time.Second
	defaultPrefix = "cellar:client:"
	scanBatchSize = 100
)

// Service tracks which client replicas have contacted the server recently.
// Each replica's request handler refreshes a Redis key with a TTL; a replica
// that stops syncing falls off the roster on its own when the key expires.
type Service struct {
	client *redis.Client
	logger zerolog.Logger

	ttl    time.Duration
	prefix string
}

// Option configures the service.
type Option func(*Service)

// WithTTL sets how long a replica stays on the roster after its last contact.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		s.ttl = d
	}
}

// NewService constructs a presence service backed by Redis.
func NewService(client *redis.Client, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		client: client,
		logger: logger,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Touch refreshes the roster entry for a replica. Failures are logged and
// swallowed; presence is advisory and must never fail a sync request.
func (s *Service) Touch(ctx context.Context, clientID string) {
	if s.client == nil || clientID == "" {
		return
	}
	key := s.key(clientID)
	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.client.Set(ctx, key, now, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Str("client", clientID).Msg("failed to refresh presence key")
	}
}

// List returns the identifiers of all replicas seen within the TTL window,
// sorted for stable output.
func (s *Service) List(ctx context.Context) ([]string, error) {
	if s.client == nil {
		return nil, nil
	}

	iter := s.client.Scan(ctx, 0, s.key("*"), scanBatchSize).Iterator()

	var clients []string
	for iter.Next(ctx) {
		clients = append(clients, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence keys: %w", err)
	}

	sort.Strings(clients)
	return clients, nil
}

// LastSeen reports when a replica last contacted the server, or false if it
// has fallen off the roster.
func (s *Service) LastSeen(ctx context.Context, clientID string) (time.Time, bool, error) {
	if s.client == nil {
		return time.Time{}, false, nil
	}
	raw, err := s.client.Get(ctx, s.key(clientID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("fetch presence key: %w", err)
	}
	seen, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("decode presence timestamp: %w", err)
	}
	return seen, true, nil
}

func (s *Service) key(clientID string) string {
	return s.prefix + clientID
}
