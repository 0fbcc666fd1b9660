package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	l, err := New(client, limit, window)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, mr
}

func TestNew_Validation(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	tests := []struct {
		name   string
		client *redis.Client
		max    int
		window time.Duration
	}{
		{"nil client", nil, 5, time.Minute},
		{"zero max", client, 0, time.Minute},
		{"zero window", client, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.client, tt.max, tt.window); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestAllow_FixedWindow(t *testing.T) {
	l, mr := newTestLimiter(t, 3, 15*time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, err := l.Allow(ctx, "reset:email:a@x.com")
		if err != nil {
			t.Fatalf("Allow() #%d error = %v", i, err)
		}
		if !ok {
			t.Fatalf("Allow() #%d = false, want true", i)
		}
	}

	ok, err := l.Allow(ctx, "reset:email:a@x.com")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if ok {
		t.Error("fourth request in the window should be refused")
	}

	if ttl := mr.TTL(keyPrefix + "reset:email:a@x.com"); ttl <= 0 || ttl > 15*time.Minute {
		t.Errorf("TTL = %v, want (0, 15m]", ttl)
	}

	mr.FastForward(15 * time.Minute)

	ok, err = l.Allow(ctx, "reset:email:a@x.com")
	if err != nil {
		t.Fatalf("Allow() after window error = %v", err)
	}
	if !ok {
		t.Error("a new window should allow requests again")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "reset:ip:10.0.0.1"); !ok {
		t.Fatal("first request should be allowed")
	}
	if ok, _ := l.Allow(ctx, "reset:ip:10.0.0.1"); ok {
		t.Error("second request for the same key should be refused")
	}
	if ok, _ := l.Allow(ctx, "reset:ip:10.0.0.2"); !ok {
		t.Error("a different key has its own budget")
	}
}

func TestAllow_RedisDown(t *testing.T) {
	l, mr := newTestLimiter(t, 5, time.Minute)
	mr.Close()

	if _, err := l.Allow(context.Background(), "k"); err == nil {
		t.Error("Allow() should report the Redis failure")
	}
}
