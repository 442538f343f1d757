package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

/*
	Persistent document store: named collections of JSON documents over
	a single badger backend, with a ttl read cache in front of by-id
	lookups and a per-collection operation rate limiter.

	One Store outlives sessions; collections are cheap handles. Every
	update runs read-modify-write inside one badger transaction, which
	is the atomic-update contract the quota/budget policies rely on.
*/

var DefaultCacheTTL = 1 * time.Minute

// backendLogger funnels badger's printf-style log lines into the
// store's slog tree. Badger terminates its lines itself, so the
// trailing newline is trimmed before it reaches a handler that adds
// its own.
type backendLogger struct {
	log *slog.Logger
}

var _ badger.Logger = backendLogger{}

func (l backendLogger) Errorf(format string, args ...any) {
	l.log.Error(backendLine(format, args))
}

func (l backendLogger) Warningf(format string, args ...any) {
	l.log.Warn(backendLine(format, args))
}

func (l backendLogger) Infof(format string, args ...any) {
	l.log.Info(backendLine(format, args))
}

func (l backendLogger) Debugf(format string, args ...any) {
	l.log.Debug(backendLine(format, args))
}

func backendLine(format string, args []any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

// RateLimit configures one collection's operation limiter.
type RateLimit struct {
	Limit float64 // operations per second
	Burst int
}

type Config struct {
	Logger     *slog.Logger
	Directory  string
	AppCtx     context.Context // store-lifetime context; operations refuse once it ends
	CacheTTL   time.Duration
	RateLimits map[string]RateLimit // per collection name; "default" is the fallback
}

type Store struct {
	logger   *slog.Logger
	appCtx   context.Context
	db       *badger.DB
	cache    *ttlcache.Cache[string, string]
	cacheTTL time.Duration

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter
	limitCfg   map[string]RateLimit

	collectionsMu sync.Mutex
	collections   map[string]*Collection
}

func New(config Config) (*Store, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(config.Directory, 0755); err != nil {
		return nil, &ErrInternal{Err: err}
	}

	dbOpts := badger.DefaultOptions(config.Directory).
		WithLogger(backendLogger{log: logger.WithGroup("backend")}).
		WithLoggingLevel(badger.WARNING).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, &ErrInternal{Err: err}
	}

	cacheTTL := config.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = DefaultCacheTTL
	}

	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](cacheTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()

	return &Store{
		logger:      logger.WithGroup("docstore"),
		appCtx:      config.AppCtx,
		db:          db,
		cache:       cache,
		cacheTTL:    cacheTTL,
		limiters:    make(map[string]*rate.Limiter),
		limitCfg:    config.RateLimits,
		collections: make(map[string]*Collection),
	}, nil
}

// Collection returns the handle for name, creating it on first use.
func (s *Store) Collection(name string) *Collection {
	s.collectionsMu.Lock()
	defer s.collectionsMu.Unlock()

	if c, ok := s.collections[name]; ok {
		return c
	}
	c := &Collection{
		store:   s,
		name:    name,
		logger:  s.logger.With("collection", name),
		limiter: s.limiterFor(name),
	}
	s.collections[name] = c
	return c
}

// limiterFor resolves the configured limiter for a collection, falling
// back to "default", then to unlimited.
func (s *Store) limiterFor(name string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	if limiter, ok := s.limiters[name]; ok {
		return limiter
	}

	cfg, ok := s.limitCfg[name]
	if !ok {
		cfg, ok = s.limitCfg["default"]
	}
	if !ok || cfg.Limit <= 0 {
		return nil
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Limit), cfg.Burst)
	s.limiters[name] = limiter
	s.logger.Debug("initialized collection rate limiter", "collection", name, "limit", cfg.Limit, "burst", cfg.Burst)
	return limiter
}

func (s *Store) Close() error {
	var firstErr error

	if s.cache != nil {
		s.cache.Stop()
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing backend", "error", err)
		firstErr = &ErrInternal{Err: err}
	}
	return firstErr
}
