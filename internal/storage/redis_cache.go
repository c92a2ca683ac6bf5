package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/models"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	TTL      time.Duration `yaml:"ttl"`
}

// NewRedisClient creates a go-redis client from the config.
func NewRedisClient(cfg *RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

const (
	defaultTrapCacheTTL = 30 * time.Second
	activeTrapsKey      = "logtrap:traps:active:"
)

// CachedTrapRepository wraps a TrapRepository with a Redis read-through
// cache of each team's active traps. Every write invalidates the team's
// entry. Cache failures fall back to the wrapped repository.
type CachedTrapRepository struct {
	TrapRepository

	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedTrapRepository creates a cached trap repository.
func NewCachedTrapRepository(repo TrapRepository, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedTrapRepository {
	if ttl <= 0 {
		ttl = defaultTrapCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedTrapRepository{
		TrapRepository: repo,
		client:         client,
		ttl:            ttl,
		logger:         logger.Named("trap_cache"),
	}
}

// ListActiveByTeam returns the team's active traps, from Redis when cached.
func (r *CachedTrapRepository) ListActiveByTeam(ctx context.Context, teamID string) ([]*models.Trap, error) {
	key := activeTrapsKey + teamID

	data, err := r.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var traps []*models.Trap
		if err := json.Unmarshal(data, &traps); err == nil {
			metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
			return traps, nil
		}
		r.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	default:
		r.logger.Warn("trap cache get failed", zap.String("key", key), zap.Error(err))
		metrics.CacheRequestsTotal.WithLabelValues("error").Inc()
	}

	traps, err := r.TrapRepository.ListActiveByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(traps); err == nil {
		if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.logger.Warn("trap cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
	return traps, nil
}

func (r *CachedTrapRepository) Create(ctx context.Context, trap *models.Trap) error {
	if err := r.TrapRepository.Create(ctx, trap); err != nil {
		return err
	}
	r.invalidate(ctx, trap.TeamID)
	return nil
}

func (r *CachedTrapRepository) Update(ctx context.Context, trap *models.Trap) error {
	if err := r.TrapRepository.Update(ctx, trap); err != nil {
		return err
	}
	r.invalidate(ctx, trap.TeamID)
	return nil
}

func (r *CachedTrapRepository) Delete(ctx context.Context, id string) error {
	teamID := r.teamOf(ctx, id)
	if err := r.TrapRepository.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, teamID)
	return nil
}

func (r *CachedTrapRepository) SetActive(ctx context.Context, id string, active bool) error {
	if err := r.TrapRepository.SetActive(ctx, id, active); err != nil {
		return err
	}
	r.invalidate(ctx, r.teamOf(ctx, id))
	return nil
}

func (r *CachedTrapRepository) teamOf(ctx context.Context, id string) string {
	trap, err := r.TrapRepository.GetByID(ctx, id)
	if err != nil || trap == nil {
		return ""
	}
	return trap.TeamID
}

func (r *CachedTrapRepository) invalidate(ctx context.Context, teamID string) {
	if teamID == "" {
		return
	}
	if err := r.client.Del(ctx, activeTrapsKey+teamID).Err(); err != nil {
		r.logger.Warn("trap cache invalidation failed", zap.String("team_id", teamID), zap.Error(err))
	}
}

// CachedStorage is a Storage whose trap repository is cached in Redis.
type CachedStorage struct {
	Storage
	traps *CachedTrapRepository
}

// NewCachedStorage wraps an opened Storage's trap repository with the cache.
func NewCachedStorage(store Storage, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStorage {
	return &CachedStorage{
		Storage: store,
		traps:   NewCachedTrapRepository(store.Traps(), client, ttl, logger),
	}
}

// Traps returns the cached trap repository.
func (s *CachedStorage) Traps() TrapRepository {
	return s.traps
}
