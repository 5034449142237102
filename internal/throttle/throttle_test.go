package throttle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestAllowFixedWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	th := New(client, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := th.Allow(ctx, "login", "10.0.0.1")
		if err != nil || !ok {
			t.Fatalf("attempt %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	ok, retry, err := th.Allow(ctx, "login", "10.0.0.1")
	if err != nil || ok {
		t.Fatalf("expected fourth attempt to be throttled: ok=%v err=%v", ok, err)
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("unexpected retry-after %v", retry)
	}

	if ok, _, _ := th.Allow(ctx, "forgot", "10.0.0.1"); !ok {
		t.Fatalf("scopes must be independent")
	}
	if ok, _, _ := th.Allow(ctx, "login", "10.0.0.2"); !ok {
		t.Fatalf("keys must be independent")
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _, _ := th.Allow(ctx, "login", "10.0.0.1"); !ok {
		t.Fatalf("expected window to reset")
	}
}

func TestReset(t *testing.T) {
	_, client := newTestRedis(t)
	th := New(client, 1, time.Minute)
	ctx := context.Background()
	_, _, _ = th.Allow(ctx, "login", "ip")
	if ok, _, _ := th.Allow(ctx, "login", "ip"); ok {
		t.Fatalf("expected throttled")
	}
	if err := th.Reset(ctx, "login", "ip"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if ok, _, _ := th.Allow(ctx, "login", "ip"); !ok {
		t.Fatalf("expected allowed after reset")
	}
}

func TestNilThrottleAllows(t *testing.T) {
	var th *Throttle
	if ok, _, err := th.Allow(context.Background(), "login", "ip"); !ok || err != nil {
		t.Fatalf("nil throttle must allow")
	}
	if New(nil, 5, time.Minute) != nil {
		t.Fatalf("expected nil throttle without a client")
	}
}

func TestRedisFailureIsReported(t *testing.T) {
	mr, client := newTestRedis(t)
	th := New(client, 1, time.Minute)
	mr.SetError("boom")
	ok, _, err := th.Allow(context.Background(), "login", "ip")
	if !ok || !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected fail-open with ErrUnavailable, got ok=%v err=%v", ok, err)
	}
}
