package redis

import (
	"context"
	"os"
	"testing"
	"time"
)

func testRedis(t *testing.T) *Store {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	s, err := NewStore(addr, "", 15)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAllow_FixedWindow(t *testing.T) {
	s := testRedis(t)
	ctx := context.Background()
	s.Reset(ctx, "forgot-password", "10.0.0.1")

	for i := 0; i < 5; i++ {
		ok, err := s.Allow(ctx, "forgot-password", "10.0.0.1", 5, time.Minute)
		if err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
		if !ok {
			t.Fatalf("call #%d should be allowed", i+1)
		}
	}

	ok, err := s.Allow(ctx, "forgot-password", "10.0.0.1", 5, time.Minute)
	if err != nil {
		t.Fatalf("Allow #6: %v", err)
	}
	if ok {
		t.Fatal("6th call within window should be rejected")
	}

	// 不同 subject 互不影响
	ok, err = s.Allow(ctx, "forgot-password", "10.0.0.2", 5, time.Minute)
	if err != nil || !ok {
		t.Fatalf("different subject should be allowed: ok=%v err=%v", ok, err)
	}
}
