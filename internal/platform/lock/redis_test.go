package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clinic/clinic/internal/platform/conflict"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set, skipping redis lock tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedis_MutualExclusion(t *testing.T) {
	l := NewRedis(redisClient(t), 2*time.Second, 2*time.Second)
	id := uuid.New()

	var mu sync.Mutex
	holders := 0
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithPractitionerLock(context.Background(), id, func(ctx context.Context) error {
				mu.Lock()
				holders++
				if holders > 1 {
					t.Error("two holders of the same practitioner lock")
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				holders--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestRedis_WaitExpires(t *testing.T) {
	client := redisClient(t)
	id := uuid.New()
	if err := client.Set(context.Background(), practitionerKey(id), "someone-else", time.Second).Err(); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	l := NewRedis(client, time.Second, 50*time.Millisecond)
	err := l.WithPractitionerLock(context.Background(), id, func(ctx context.Context) error { return nil })
	if !errors.Is(err, conflict.ErrLockTimeout) {
		t.Errorf("expected lock timeout, got %v", err)
	}
}
