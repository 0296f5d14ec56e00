package db

import (
	"context"
	"testing"
	"time"

	"clipd/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFromClient(client, 2*time.Second)
}

func TestCacheClipRoundTrip(t *testing.T) {
	r := newTestRedis(t)
	exp := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	clip := &domain.Clip{
		ID:        "abc123",
		Content:   "cached content",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		ExpiresAt: &exp,
	}
	if err := r.CacheClip(context.Background(), clip, time.Hour); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetClip(context.Background(), "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("cached clip missing")
	}
	if got.Content != "cached content" {
		t.Errorf("content = %q", got.Content)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("expires_at lost on round trip: %v", got.ExpiresAt)
	}
}

func TestGetClipMissIsNilNil(t *testing.T) {
	r := newTestRedis(t)
	got, err := r.GetClip(context.Background(), "nosuch")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil on cache miss")
	}
}

func TestDeleteClip(t *testing.T) {
	r := newTestRedis(t)
	clip := &domain.Clip{ID: "gone00", Content: "x", CreatedAt: time.Now().UTC()}
	if err := r.CacheClip(context.Background(), clip, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteClip(context.Background(), "gone00"); err != nil {
		t.Fatal(err)
	}
	got, err := r.GetClip(context.Background(), "gone00")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("clip survived delete")
	}
}

func TestRateLimitWindow(t *testing.T) {
	r := newTestRedis(t)
	ctx := context.Background()
	limit := 5
	for i := 1; i <= limit; i++ {
		usage, err := r.RateLimit(ctx, "global:create", limit, time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if usage != i {
			t.Fatalf("usage = %d on call %d", usage, i)
		}
	}
	// at the limit the counter stops advancing and reports saturation
	usage, err := r.RateLimit(ctx, "global:create", limit, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if usage < limit {
		t.Fatalf("usage = %d, want >= %d", usage, limit)
	}
}
