package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/recipe"
)

func getTestRedisClient(t *testing.T) *redis.Client {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		t.Skipf("Skipping Redis cache test: invalid Redis URL: %v", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis cache test: Redis not available: %v", err)
	}

	return client
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.TikTok.com/@chef/video/1?is_from_webapp=1&sender_device=pc", "https://tiktok.com/@chef/video/1"},
		{"https://vm.tiktok.com/ZMabc/", "https://vm.tiktok.com/ZMabc"},
		{"https://www.instagram.com/reel/Cx1/?igsh=abc#comments", "https://instagram.com/reel/Cx1"},
		{"https://example.com/r?b=2&a=1&utm_source=x", "https://example.com/r?a=1&b=2"},
		{"  https://example.com/r  ", "https://example.com/r"},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(tt.in))
		})
	}
}

func TestService_KeyIgnoresTrackingNoise(t *testing.T) {
	s := NewWithClient(nil, 0, "")
	assert.Equal(t,
		s.key("https://www.tiktok.com/@chef/video/1?utm_source=copy"),
		s.key("https://tiktok.com/@chef/video/1/"))
	assert.NotEqual(t,
		s.key("https://tiktok.com/@chef/video/1"),
		s.key("https://tiktok.com/@chef/video/2"))
	assert.Equal(t, 7*24*time.Hour, s.ttl)
}

func TestService_PutGet(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	prefix := "test:recipe:" + uuid.New().String()[:8] + ":"
	s := NewWithClient(client, time.Minute, prefix)
	ctx := context.Background()
	u := "https://vm.tiktok.com/" + uuid.New().String()
	defer s.Forget(ctx, u)

	_, err := s.Get(ctx, u)
	assert.ErrorIs(t, err, common.ErrCacheMiss)

	want := &recipe.Recipe{
		Title:       "Simple Cake",
		Ingredients: []string{"flour", "sugar"},
		Steps:       []string{"mix flour and sugar", "bake 20 minutes"},
	}
	require.NoError(t, s.Put(ctx, u, want))

	got, err := s.Get(ctx, u+"?utm_medium=share")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ttl, err := client.TTL(ctx, s.key(u)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestService_CorruptEntryIsMiss(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	client := getTestRedisClient(t)
	defer client.Close()

	s := NewWithClient(client, time.Minute, "test:recipe:"+uuid.New().String()[:8]+":")
	ctx := context.Background()
	u := "https://example.com/" + uuid.New().String()
	require.NoError(t, client.Set(ctx, s.key(u), "{not json", time.Minute).Err())

	_, err := s.Get(ctx, u)
	assert.ErrorIs(t, err, common.ErrCacheMiss)
	n, err := client.Exists(ctx, s.key(u)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
