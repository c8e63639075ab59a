package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"recipes/internal/domain"
)

func newRedisRegistry(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, opts...), mr
}

// exerciseRegistry checks the contract every backend must satisfy.
func exerciseRegistry(t *testing.T, reg Registry) {
	t.Helper()
	ctx := context.Background()
	meta := domain.Metadata{GatewayID: "gw-1", Locale: "es", ConnectedAt: time.Now().UTC().Truncate(time.Second)}

	if _, ok, err := reg.Lookup(ctx, "c1"); err != nil || ok {
		t.Fatalf("Lookup before Register = (%v, %v), want absent", ok, err)
	}
	if err := reg.Register(ctx, "c1", meta); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	got, ok, err := reg.Lookup(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("Lookup after Register = (%v, %v), want present", ok, err)
	}
	if got.GatewayID != "gw-1" || got.Locale != "es" {
		t.Fatalf("Lookup metadata = %+v", got)
	}

	meta.GatewayID = "gw-2"
	if err := reg.Register(ctx, "c1", meta); err != nil {
		t.Fatalf("re-Register error: %v", err)
	}
	got, _, _ = reg.Lookup(ctx, "c1")
	if got.GatewayID != "gw-2" {
		t.Fatalf("GatewayID = %q, want last write gw-2", got.GatewayID)
	}

	if err := reg.Unregister(ctx, "c1"); err != nil {
		t.Fatalf("Unregister error: %v", err)
	}
	if err := reg.Unregister(ctx, "c1"); err != nil {
		t.Fatalf("second Unregister error: %v", err)
	}
	if err := reg.Unregister(ctx, "never-seen"); err != nil {
		t.Fatalf("Unregister unknown error: %v", err)
	}
	if _, ok, err := reg.Lookup(ctx, "c1"); err != nil || ok {
		t.Fatalf("Lookup after Unregister = (%v, %v), want absent", ok, err)
	}
	if err := reg.Register(ctx, "", meta); err != ErrInvalidID {
		t.Fatalf("Register empty id err = %v, want ErrInvalidID", err)
	}
}

func TestMemoryRegistry(t *testing.T) {
	exerciseRegistry(t, NewMemory())
}

func TestRedisRegistry(t *testing.T) {
	reg, _ := newRedisRegistry(t)
	exerciseRegistry(t, reg)
}

func TestRedisRegistryKeyAndTTL(t *testing.T) {
	reg, mr := newRedisRegistry(t, WithPrefix("test"), WithTTL(time.Minute))
	if err := reg.Register(context.Background(), "abc", domain.Metadata{GatewayID: "gw"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if !mr.Exists("test:conn:abc") {
		t.Fatalf("expected key test:conn:abc, have %v", mr.Keys())
	}
	if ttl := mr.TTL("test:conn:abc"); ttl != time.Minute {
		t.Fatalf("TTL = %s, want 1m", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := reg.Lookup(context.Background(), "abc"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestRedisRegistryRefreshKeepsLiveEntry(t *testing.T) {
	reg, mr := newRedisRegistry(t, WithTTL(time.Minute))
	ctx := context.Background()
	if err := reg.Register(ctx, "live", domain.Metadata{GatewayID: "gw"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	// Well past the TTL in total, but refreshed before each expiry.
	for i := 0; i < 5; i++ {
		mr.FastForward(50 * time.Second)
		ok, err := reg.Refresh(ctx, "live")
		if err != nil || !ok {
			t.Fatalf("Refresh #%d = %v, %v", i, ok, err)
		}
	}
	if _, ok, _ := reg.Lookup(ctx, "live"); !ok {
		t.Fatal("refreshed entry expired")
	}
	if ttl := mr.TTL("recipes:conn:live"); ttl != time.Minute {
		t.Fatalf("TTL after refresh = %s, want 1m", ttl)
	}

	mr.FastForward(61 * time.Second)
	ok, err := reg.Refresh(ctx, "live")
	if err != nil || ok {
		t.Fatalf("Refresh after expiry = %v, %v, want false", ok, err)
	}
	if _, err := reg.Refresh(ctx, ""); err != ErrInvalidID {
		t.Fatalf("Refresh empty id = %v, want ErrInvalidID", err)
	}
}

func TestRedisRegistryRefreshWithoutTTL(t *testing.T) {
	reg, mr := newRedisRegistry(t, WithTTL(0))
	ctx := context.Background()
	_ = reg.Register(ctx, "forever", domain.Metadata{GatewayID: "gw"})
	ok, err := reg.Refresh(ctx, "forever")
	if err != nil || !ok {
		t.Fatalf("Refresh = %v, %v", ok, err)
	}
	if !mr.Exists("recipes:conn:forever") || mr.TTL("recipes:conn:forever") != 0 {
		t.Fatalf("entry without TTL changed: ttl=%s", mr.TTL("recipes:conn:forever"))
	}
	if ok, _ := reg.Refresh(ctx, "missing"); ok {
		t.Fatal("Refresh reported a missing entry as present")
	}
}

func TestRedisRegistryCorruptValue(t *testing.T) {
	reg, mr := newRedisRegistry(t)
	if err := mr.Set("recipes:conn:bad", "{not json"); err != nil {
		t.Fatalf("seed error: %v", err)
	}
	if _, _, err := reg.Lookup(context.Background(), "bad"); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestPostgresRegistry(t *testing.T) {
	exerciseRegistry(t, NewPostgres(newTableExecutor()))
}

func TestPostgresPurgeGateway(t *testing.T) {
	exec := newTableExecutor()
	reg := NewPostgres(exec)
	ctx := context.Background()
	_ = reg.Register(ctx, "a", domain.Metadata{GatewayID: "gw-1"})
	_ = reg.Register(ctx, "b", domain.Metadata{GatewayID: "gw-1"})
	_ = reg.Register(ctx, "c", domain.Metadata{GatewayID: "gw-2"})

	n, err := reg.PurgeGateway(ctx, "gw-1")
	if err != nil {
		t.Fatalf("PurgeGateway error: %v", err)
	}
	if n != 2 {
		t.Fatalf("PurgeGateway removed %d, want 2", n)
	}
	if _, ok, _ := reg.Lookup(ctx, "c"); !ok {
		t.Fatal("connection on other gateway must survive")
	}
}

func TestMemoryRegistryConcurrentAccess(t *testing.T) {
	reg := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c-%d", i)
			_ = reg.Register(ctx, id, domain.Metadata{GatewayID: "gw"})
			_, _, _ = reg.Lookup(ctx, id)
			if i%2 == 0 {
				_ = reg.Unregister(ctx, id)
			}
		}(i)
	}
	wg.Wait()
	if reg.Len() != 25 {
		t.Fatalf("Len = %d, want 25", reg.Len())
	}
}
