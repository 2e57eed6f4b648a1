//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestManager_Integration_RoundTrip(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	manager := NewManager(client, time.Hour)
	ctx := context.Background()
	key := PageKey{Operation: "GET_EVENT_LISTINGS", GTE: "2019-06-01", LTE: "2019-06-30", PageSize: 100, Page: 7}

	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() on empty Redis = %v, want ErrCacheMiss", err)
	}

	body := []byte(`{"data":{"eventListings":{"data":[{"id":"1"}],"totalResults":1}}}`)
	if err := manager.Set(ctx, key, body); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	ttl, err := client.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("Redis TTL = %v, want within (0, 1h]", ttl)
	}

	entry, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(entry.Data) != string(body) {
		t.Errorf("Data = %s, want %s", entry.Data, body)
	}
}
