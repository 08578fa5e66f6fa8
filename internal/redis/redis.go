package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/recipe"
)

const defaultPrefix = "recipe:"

// Service caches finished recipes by source URL so a link shared twice is
// only downloaded and transcribed once.
type Service struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func New(redisURL string, ttl time.Duration) (*Service, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, ttl, defaultPrefix), nil
}

// NewWithClient wraps an existing client. Keys are stored under prefix.
func NewWithClient(client *redis.Client, ttl time.Duration, prefix string) *Service {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Service{client: client, ttl: ttl, prefix: prefix}
}

func (s *Service) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client
func (s *Service) Client() *redis.Client {
	return s.client
}

func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the cached recipe for sourceURL or common.ErrCacheMiss.
func (s *Service) Get(ctx context.Context, sourceURL string) (*recipe.Recipe, error) {
	data, err := s.client.Get(ctx, s.key(sourceURL)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, common.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached recipe: %w", err)
	}

	var r recipe.Recipe
	if err := json.Unmarshal(data, &r); err != nil {
		// A corrupt entry is dropped and treated as a miss.
		s.client.Del(ctx, s.key(sourceURL))
		return nil, common.ErrCacheMiss
	}
	return &r, nil
}

func (s *Service) Put(ctx context.Context, sourceURL string, r *recipe.Recipe) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode recipe: %w", err)
	}
	return s.client.Set(ctx, s.key(sourceURL), data, s.ttl).Err()
}

func (s *Service) Forget(ctx context.Context, sourceURL string) error {
	return s.client.Del(ctx, s.key(sourceURL)).Err()
}

func (s *Service) key(sourceURL string) string {
	sum := sha256.Sum256([]byte(NormalizeURL(sourceURL)))
	return s.prefix + hex.EncodeToString(sum[:])
}

// NormalizeURL reduces a link to the form used as cache identity: lower-case
// scheme and host, no fragment, no tracking parameters, sorted query and no
// trailing slash.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for k := range q {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "utm_") || lk == "is_from_webapp" || lk == "sender_device" || lk == "igsh" || lk == "fbclid" {
			q.Del(k)
		}
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range q[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	u.RawQuery = strings.Join(parts, "&")
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
