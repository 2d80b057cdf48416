package infra

import (
	"context"
	"testing"
	"time"
)

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6380/2")
	if err != nil {
		t.Fatalf("NewRedisClient returned error: %v", err)
	}
	defer client.Close()

	opts := client.Options()
	if opts.Addr != "localhost:6380" || opts.DB != 2 {
		t.Fatalf("addr=%q db=%d", opts.Addr, opts.DB)
	}
	if opts.DialTimeout != 2*time.Second || opts.PoolSize != 4 {
		t.Fatalf("dial=%s pool=%d", opts.DialTimeout, opts.PoolSize)
	}

	if _, err := NewRedisClient("http://localhost:6379"); err == nil {
		t.Fatalf("expected error for non-redis scheme")
	}
}

func TestLocalLeaseAlwaysOwns(t *testing.T) {
	var lease Lease = LocalLease{}
	for i := 0; i < 2; i++ {
		ok, err := lease.Acquire(context.Background())
		if err != nil || !ok {
			t.Fatalf("Acquire() = %v, %v", ok, err)
		}
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
}
