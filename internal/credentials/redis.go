package credentials

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const redisKeyPrefix = "veda:credentials:"

// RedisStore keeps one record per profile in Redis, expiring with the token.
type RedisStore struct {
	client  redis.UniversalClient
	profile string
	now     Clock
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore for profile. A nil clock uses time.Now.
func NewRedisStore(client redis.UniversalClient, profile string, now Clock) *RedisStore {
	if profile == "" {
		profile = "default"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, profile: profile, now: now}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis URL")
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "connecting to redis")
	}
	return client, nil
}

// Profile is the name the record is stored under.
func (s *RedisStore) Profile() string {
	return s.profile
}

func (s *RedisStore) key() string {
	return redisKeyPrefix + s.profile
}

// Load reads the record. Missing keys and backend failures are reported as absent.
func (s *RedisStore) Load(ctx context.Context) (Record, bool) {
	data, err := s.client.Get(ctx, s.key()).Bytes()
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.AccessToken == "" {
		return Record{}, false
	}
	return rec, true
}

// Save stores rec with a TTL equal to its remaining lifetime.
// Records without an expiry are stored without a TTL.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshaling credentials")
	}
	var ttl time.Duration
	if !rec.ExpiresAt.IsZero() {
		ttl = rec.Remaining(s.now())
		if ttl <= 0 {
			return errors.Newf("credentials for %s already expired at %s", s.profile, rec.ExpiresAt.Format(time.RFC3339))
		}
	}
	if err := s.client.Set(ctx, s.key(), data, ttl).Err(); err != nil {
		return errors.Wrap(err, "saving credentials")
	}
	return nil
}

func (s *RedisStore) IsExpired(ctx context.Context) bool {
	return isExpired(ctx, s, s.now)
}

// Clear deletes the key. Deleting a missing key is not an error.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key()).Err(); err != nil {
		return errors.Wrap(err, "clearing credentials")
	}
	return nil
}
