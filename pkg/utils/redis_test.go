package utils

import (
	"context"
	"testing"
	"time"
)

func TestLockScriptsCompile(t *testing.T) {
	if lockAcquireScript == nil || lockReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestTryLock_RejectsBadArgs(t *testing.T) {
	if _, err := TryLock(context.Background(), nil, "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := Unlock(context.Background(), nil, "k", "t"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if c.PoolSize != 20 || c.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}
