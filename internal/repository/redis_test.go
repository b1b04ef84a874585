package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"intercept/internal/exchange"
	"intercept/internal/rules"
)

func getRedisAddr() string {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	return addr
}

func skipIfNoRedis(t *testing.T) {
	t.Helper()
	addr := getRedisAddr()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping test")
	}
}

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := getRedisAddr()
	prefix := "intercept:test:" + uuid.NewString() + ":"

	store, err := NewRedisStore(RedisConfig{Addr: addr, KeyPrefix: prefix})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() {
		cleanupTestKeys(t, addr, prefix)
		store.Close()
	})
	return store
}

func cleanupTestKeys(t *testing.T, addr, prefix string) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	keys, _ := client.Keys(ctx, prefix+"*").Result()
	if len(keys) > 0 {
		client.Del(ctx, keys...)
	}
}

func TestRedisStoreExchangePutGetDelete(t *testing.T) {
	skipIfNoRedis(t)
	store := newTestRedisStore(t)
	ctx := context.Background()

	ex := &exchange.Exchange{ID: "ex-1", Request: exchange.Request{Method: "GET", Host: "example.com", PathQuery: "/a"}}
	if err := store.PutExchange(ctx, ex); err != nil {
		t.Fatalf("PutExchange: %v", err)
	}

	got, err := store.GetExchange(ctx, "ex-1")
	if err != nil {
		t.Fatalf("GetExchange: %v", err)
	}
	if got.Request.Host != "example.com" {
		t.Fatalf("unexpected host: %q", got.Request.Host)
	}

	if err := store.DeleteExchange(ctx, "ex-1"); err != nil {
		t.Fatalf("DeleteExchange: %v", err)
	}
	if _, err := store.GetExchange(ctx, "ex-1"); err == nil {
		t.Fatal("expected error fetching a deleted exchange")
	}
}

func TestRedisStoreExchangeListAndFilter(t *testing.T) {
	skipIfNoRedis(t)
	store := newTestRedisStore(t)
	ctx := context.Background()

	for i, host := range []string{"a.com", "b.com", "a.com"} {
		ex := &exchange.Exchange{
			ID:      uuid.NewString(),
			Request: exchange.Request{Method: "GET", Host: host, PathQuery: "/x"},
		}
		_ = i
		if err := store.PutExchange(ctx, ex); err != nil {
			t.Fatalf("PutExchange: %v", err)
		}
	}

	all, err := store.ListExchanges(ctx, ExchangeFilter{}, Page{Limit: 100})
	if err != nil {
		t.Fatalf("ListExchanges: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 exchanges, got %d", len(all))
	}

	filtered, err := store.ListExchanges(ctx, ExchangeFilter{Host: "a.com"}, Page{Limit: 100})
	if err != nil {
		t.Fatalf("ListExchanges filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 exchanges for a.com, got %d", len(filtered))
	}
}

func TestRedisStoreCrawlURLDedup(t *testing.T) {
	skipIfNoRedis(t)
	store := newTestRedisStore(t)
	ctx := context.Background()

	exists, err := store.HasCrawlURL(ctx, "session-1", "http://example.com/")
	if err != nil {
		t.Fatalf("HasCrawlURL: %v", err)
	}
	if exists {
		t.Fatal("did not expect the URL to be seen yet")
	}

	if err := store.PutCrawlURLs(ctx, []*CrawlURL{{ID: "u1", SessionID: "session-1", URL: "http://example.com/"}}); err != nil {
		t.Fatalf("PutCrawlURLs: %v", err)
	}

	exists, err = store.HasCrawlURL(ctx, "session-1", "http://example.com/")
	if err != nil {
		t.Fatalf("HasCrawlURL: %v", err)
	}
	if !exists {
		t.Fatal("expected the URL to be marked seen after PutCrawlURLs")
	}
}

func TestRedisStoreRulePriorityOrdering(t *testing.T) {
	skipIfNoRedis(t)
	store := newTestRedisStore(t)
	ctx := context.Background()

	low := &rules.Rule{ID: "low", Name: "low", Scope: rules.ScopeBoth, MatchType: rules.MatchURL, Action: rules.ActionBlock, Priority: 1, Enabled: true}
	high := &rules.Rule{ID: "high", Name: "high", Scope: rules.ScopeBoth, MatchType: rules.MatchURL, Action: rules.ActionBlock, Priority: 100, Enabled: true}
	if err := store.PutRule(ctx, low); err != nil {
		t.Fatalf("PutRule low: %v", err)
	}
	if err := store.PutRule(ctx, high); err != nil {
		t.Fatalf("PutRule high: %v", err)
	}

	list, err := store.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(list) != 2 || list[0].ID != "high" {
		t.Fatalf("expected high-priority rule first, got %+v", list)
	}
}
