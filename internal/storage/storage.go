package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keshon/playerstate/datastore"
	"github.com/keshon/playerstate/internal/config"
	"github.com/keshon/playerstate/internal/logging"
	"github.com/keshon/playerstate/pkg/retrylimit"
)

var (
	ErrNilBackend = errors.New("storage backend is nil")
	ErrCorrupt    = errors.New("stored document is corrupt")
	// ErrSkipWrite returned from an Update callback aborts the write
	// without error.
	ErrSkipWrite = errors.New("skip write")
)

// Storage is the record store: whole-document read-modify-write over a
// Backend, serialized per key in submission order.
type Storage struct {
	backend Backend
	locks   *keyLock
	limiter *retrylimit.AdaptiveLimiter
	policy  retrylimit.Policy
	log     *slog.Logger
	now     func() time.Time
}

type Option func(*Storage)

// WithRetryPolicy overrides the retry policy used for backend calls.
func WithRetryPolicy(p retrylimit.Policy) Option {
	return func(s *Storage) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Storage) { s.log = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) { s.now = now }
}

// New wraps a backend. A nil backend is a programming error and fails here,
// before any event traffic reaches the store.
func New(backend Backend, opts ...Option) (*Storage, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	s := &Storage{
		backend: backend,
		locks:   newKeyLock(),
		limiter: retrylimit.NewAdaptiveLimiter(200, 10, 1000, 20, 0.5),
		policy:  retrylimit.DefaultPolicy(),
		log:     logging.Component("storage"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.policy.Logger = s.log
	return s, nil
}

// Open builds the backend selected by cfg and wraps it.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Storage, error) {
	var backend Backend
	switch cfg.StorageBackend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rb, err := NewRedisBackend(ctx, rdb, cfg.RedisPrefix)
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		backend = rb
	default:
		dsCfg := datastore.DefaultConfig(cfg.StoragePath)
		dsCfg.AutoSaveInterval = cfg.StorageAutosave
		fb, err := NewFileBackend(dsCfg)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.StoragePath, err)
		}
		backend = fb
	}

	s, err := New(backend, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	s.log.Info("record store opened", slog.String("backend", cfg.StorageBackend))
	return s, nil
}

func (s *Storage) Close() error {
	return s.backend.Close()
}

func lockKey(coll, key string) string {
	return coll + "/" + key
}

func (s *Storage) retry(ctx context.Context, fn func(context.Context) error) error {
	return retrylimit.Do(ctx, s.limiter, s.policy, fn)
}

func (s *Storage) get(ctx context.Context, coll, key string) ([]byte, bool, error) {
	var (
		doc []byte
		ok  bool
	)
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		doc, ok, err = s.backend.Get(ctx, coll, key)
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", coll, key, err)
	}
	return doc, ok, nil
}

func (s *Storage) put(ctx context.Context, coll, key string, doc []byte) error {
	err := s.retry(ctx, func(ctx context.Context) error {
		return s.backend.Put(ctx, coll, key, doc)
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", coll, key, err)
	}
	return nil
}

func (s *Storage) delete(ctx context.Context, coll, key string) error {
	err := s.retry(ctx, func(ctx context.Context) error {
		return s.backend.Delete(ctx, coll, key)
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", coll, key, err)
	}
	return nil
}

func (s *Storage) keys(ctx context.Context, coll string) ([]string, error) {
	var keys []string
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		keys, err = s.backend.Keys(ctx, coll)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", coll, err)
	}
	return keys, nil
}
