package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"fsvault/internal/application"
	"fsvault/internal/domain"

	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"
)

const (
	balanceCacheVersionKey = "fsvault:balances:version"
	balanceCacheKeyPrefix  = "fsvault:balances:v"
	defaultCacheTTL        = time.Hour
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository serves reads from redis. Every committed Update bumps the
// version that all cache keys embed.
type CachedRepository struct {
	*Repository
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base *Repository, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Repository: base}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newCachedRepository(base, client, cfg.TTL), nil
}

func newCachedRepository(base *Repository, client *redis.Client, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedRepository{Repository: base, cache: client, ttl: ttl}
}

func (r *CachedRepository) Close() error {
	if r.cache != nil {
		_ = r.cache.Close()
	}
	return r.Repository.Close()
}

func (r *CachedRepository) Update(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) error {
	if err := r.Repository.Update(ctx, fn); err != nil {
		return err
	}
	r.invalidateBalanceCache(ctx)
	return nil
}

func (r *CachedRepository) Get(ctx context.Context, key domain.BalanceKey) (*uint256.Int, error) {
	if r.cache == nil {
		return r.Repository.Get(ctx, key)
	}
	version, ok := r.cacheVersion(ctx)
	if !ok {
		return r.Repository.Get(ctx, key)
	}
	cacheKey := balanceCacheKeyPrefix + version + ":key=" + key.String()
	if cached, err := r.cache.Get(ctx, cacheKey).Result(); err == nil {
		if amount, err := uint256.FromDecimal(cached); err == nil {
			return amount, nil
		}
	}

	amount, err := r.Repository.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = r.cache.Set(ctx, cacheKey, amount.Dec(), r.ttl).Err()
	return amount, nil
}

type cachedBalance struct {
	Key    string `json:"key"`
	Amount string `json:"amount"`
}

func (r *CachedRepository) QueryBalances(ctx context.Context, filter application.BalanceQueryFilter) ([]domain.Balance, error) {
	if r.cache == nil {
		return r.Repository.QueryBalances(ctx, filter)
	}
	version, ok := r.cacheVersion(ctx)
	if !ok {
		return r.Repository.QueryBalances(ctx, filter)
	}
	key := balanceQueryCacheKey(version, filter)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		if balances, err := decodeCachedBalances(cached); err == nil {
			return balances, nil
		}
	}

	balances, err := r.Repository.QueryBalances(ctx, filter)
	if err != nil {
		return nil, err
	}
	entries := make([]cachedBalance, 0, len(balances))
	for _, balance := range balances {
		entries = append(entries, cachedBalance{Key: balance.Key.String(), Amount: balance.Amount.Dec()})
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return balances, nil
	}
	_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	return balances, nil
}

func decodeCachedBalances(raw string) ([]domain.Balance, error) {
	var entries []cachedBalance
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}
	balances := make([]domain.Balance, 0, len(entries))
	for _, entry := range entries {
		key, err := domain.ParseBalanceKey(entry.Key)
		if err != nil {
			return nil, err
		}
		amount, err := uint256.FromDecimal(entry.Amount)
		if err != nil {
			return nil, err
		}
		balances = append(balances, domain.Balance{Key: key, Amount: amount})
	}
	return balances, nil
}

func (r *CachedRepository) cacheVersion(ctx context.Context) (string, bool) {
	version, err := r.cache.Get(ctx, balanceCacheVersionKey).Result()
	if err == nil {
		return version, true
	}
	if errors.Is(err, redis.Nil) {
		return "0", true
	}
	return "", false
}

func (r *CachedRepository) invalidateBalanceCache(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, balanceCacheVersionKey).Err()
}

func balanceQueryCacheKey(version string, filter application.BalanceQueryFilter) string {
	var b strings.Builder
	b.Grow(160)
	b.WriteString(balanceCacheKeyPrefix)
	b.WriteString(version)
	b.WriteString(":book=")
	if filter.Book != "" {
		b.WriteString(string(filter.Book))
	} else {
		b.WriteString("all")
	}
	b.WriteString(":owner=")
	if filter.Owner != nil {
		b.WriteString(domain.FormatAddress(*filter.Owner))
	} else {
		b.WriteString("any")
	}
	b.WriteString(":asset=")
	if filter.Asset != nil {
		b.WriteString(filter.Asset.String())
	} else {
		b.WriteString("any")
	}
	b.WriteString(":nonzero=")
	b.WriteString(strconv.FormatBool(filter.NonZero))
	b.WriteString(":limit=")
	b.WriteString(strconv.Itoa(application.NormalizeLimit(filter.Limit)))
	return b.String()
}
