package session

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/teemow/inboxdigest/internal/logging"
)

// DefaultKeyPrefix namespaces session keys in Valkey.
const DefaultKeyPrefix = "inboxdigest:session:"

// ValkeyConfig configures a ValkeyStore.
type ValkeyConfig struct {
	// URL is the server address, e.g. "valkey.namespace.svc:6379".
	URL        string
	Password   string
	DB         int
	TLSEnabled bool
	KeyPrefix  string

	// TTL is applied to every key on save.
	TTL time.Duration

	// EncryptionKey enables AES-256-GCM encryption of stored sessions.
	EncryptionKey []byte

	// CleanupInterval is how often expired entries are pruned from the
	// session index. Defaults to 10 minutes.
	CleanupInterval time.Duration

	// OnExpire, if set, is called with the number of sessions that expired
	// since the last cleanup.
	OnExpire func(count int)

	Logger *slog.Logger
}

// ValkeyStore keeps sessions in Valkey so several replicas can share them.
// Besides the session keys it keeps a sorted set of session IDs scored by
// expiry time, so that TTL expiry can be counted exactly once across replicas.
type ValkeyStore struct {
	client   valkey.Client
	prefix   string
	ttl      time.Duration
	sealer   *Sealer
	onExpire func(count int)
	logger   *slog.Logger
	now      func() time.Time

	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	stopOnce      sync.Once
}

// NewValkeyStore connects to Valkey.
func NewValkeyStore(cfg ValkeyConfig) (*ValkeyStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("valkey URL is required")
	}

	opt := valkey.ClientOption{
		InitAddress: []string{cfg.URL},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	}
	if cfg.TLSEnabled {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	store, err := newValkeyStore(client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	store.cleanupTicker = time.NewTicker(interval)
	go store.cleanupLoop()

	return store, nil
}

func newValkeyStore(client valkey.Client, cfg ValkeyConfig) (*ValkeyStore, error) {
	sealer, err := NewSealer(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ValkeyStore{
		client:      client,
		prefix:      prefix,
		ttl:         ttl,
		sealer:      sealer,
		onExpire:    cfg.OnExpire,
		logger:      logger,
		now:         time.Now,
		cleanupDone: make(chan struct{}),
	}, nil
}

func (s *ValkeyStore) key(id string) string {
	return s.prefix + id
}

func (s *ValkeyStore) indexKey() string {
	return s.prefix + "index"
}

// Get loads a session.
func (s *ValkeyStore) Get(ctx context.Context, id string) (*Session, error) {
	payload, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(id)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	data, err := s.sealer.Open(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

// Save writes a session and resets its TTL.
func (s *ValkeyStore) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	payload, err := s.sealer.Seal(data)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}

	expiry := s.now().Add(s.ttl)
	results := s.client.DoMulti(ctx,
		s.client.B().Set().Key(s.key(sess.ID)).Value(payload).ExSeconds(int64(s.ttl/time.Second)).Build(),
		s.client.B().Zadd().Key(s.indexKey()).ScoreMember().ScoreMember(float64(expiry.Unix()), sess.ID).Build(),
	)
	for _, res := range results {
		if err := res.Error(); err != nil {
			return fmt.Errorf("failed to write session: %w", err)
		}
	}
	return nil
}

// Delete removes a session. It reports true when the session was still
// listed in the index, which is the case until Delete or a cleanup removes it.
func (s *ValkeyStore) Delete(ctx context.Context, id string) (bool, error) {
	results := s.client.DoMulti(ctx,
		s.client.B().Del().Key(s.key(id)).Build(),
		s.client.B().Zrem().Key(s.indexKey()).Member(id).Build(),
	)
	if err := results[0].Error(); err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	removed, err := results[1].AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return removed > 0, nil
}

// Cleanup prunes index entries whose TTL has passed and returns how many
// were removed. Concurrent callers on different replicas never count the
// same entry twice.
func (s *ValkeyStore) Cleanup(ctx context.Context) (int, error) {
	upper := strconv.FormatInt(s.now().Unix(), 10)
	cmd := s.client.B().Zremrangebyscore().Key(s.indexKey()).Min("-inf").Max(upper).Build()
	n, err := s.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("Cleaned up expired sessions", "count", n)
		if s.onExpire != nil {
			s.onExpire(int(n))
		}
	}
	return int(n), nil
}

func (s *ValkeyStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := s.Cleanup(ctx); err != nil {
				s.logger.Warn("Session cleanup failed", logging.Err(err))
			}
			cancel()
		case <-s.cleanupDone:
			return
		}
	}
}

// Ping checks connectivity.
func (s *ValkeyStore) Ping(ctx context.Context) error {
	return s.client.Do(ctx, s.client.B().Ping().Build()).Error()
}

// Close stops the cleanup loop and closes the client.
func (s *ValkeyStore) Close() error {
	s.stopOnce.Do(func() {
		if s.cleanupTicker != nil {
			s.cleanupTicker.Stop()
		}
		close(s.cleanupDone)
		s.client.Close()
	})
	return nil
}
