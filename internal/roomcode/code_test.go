package roomcode

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestGenerateAlphabet(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := Generate(6)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("len(%q) = %d", code, len(code))
		}
		for _, r := range code {
			if !strings.ContainsRune(alphabet, r) {
				t.Fatalf("unexpected rune %q in %q", r, code)
			}
		}
	}
	if code, _ := Generate(0); len(code) != DefaultLength {
		t.Fatalf("zero length should fall back to default, got %q", code)
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("  ab12cd \n"); got != "AB12CD" {
		t.Fatalf("Normalize = %q", got)
	}
}

func TestMemoryAllocatorUnique(t *testing.T) {
	a := NewMemoryAllocator(6)
	ctx := context.Background()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code, err := a.Reserve(ctx)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
	}
	for code := range seen {
		_ = a.Release(ctx, strings.ToLower(code))
	}
	if a.Len() != 0 {
		t.Fatalf("release left %d codes", a.Len())
	}
}

func TestMemoryAllocatorExhausted(t *testing.T) {
	a := NewMemoryAllocator(6)
	a.gen = func(int) (string, error) { return "AAAAAA", nil }
	ctx := context.Background()
	if _, err := a.Reserve(ctx); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}
	if _, err := a.Reserve(ctx); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestRedisAllocator(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	a := NewRedisAllocator(rdb, 6, time.Hour, "node-1")
	code, err := a.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if v, err := mr.Get(keyPrefix + code); err != nil || v != "node-1" {
		t.Fatalf("stored value = %q, %v", v, err)
	}
	if ttl := mr.TTL(keyPrefix + code); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}

	other := NewRedisAllocator(rdb, 6, time.Hour, "node-2")
	other.gen = func(int) (string, error) { return code, nil }
	if _, err := other.Reserve(ctx); !errors.Is(err, ErrExhausted) {
		t.Fatalf("collision should exhaust retries, got %v", err)
	}

	if err := a.Release(ctx, code); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if mr.Exists(keyPrefix + code) {
		t.Fatalf("code still reserved after release")
	}
	if got, err := other.Reserve(ctx); err != nil || got != code {
		t.Fatalf("reuse after release = %q, %v", got, err)
	}
}
