package roomcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultLength is the code length used when none is configured.
const DefaultLength = 6

const maxAttempts = 5

var ErrExhausted = errors.New("roomcode: no free code after retries")

// Allocator hands out room codes that are unique among live rooms.
type Allocator interface {
	Reserve(ctx context.Context) (string, error)
	Release(ctx context.Context, code string) error
}

// Generate returns length characters drawn from [A-Z0-9].
func Generate(length int) (string, error) {
	if length <= 0 {
		length = DefaultLength
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("roomcode: read random: %w", err)
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b), nil
}

// Normalize trims and upper-cases a code typed by a user.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// MemoryAllocator keeps reserved codes in process memory.
type MemoryAllocator struct {
	mu     sync.Mutex
	length int
	used   map[string]struct{}
	gen    func(int) (string, error)
}

func NewMemoryAllocator(length int) *MemoryAllocator {
	return &MemoryAllocator{length: length, used: make(map[string]struct{}), gen: Generate}
}

func (a *MemoryAllocator) Reserve(ctx context.Context) (string, error) {
	for i := 0; i < maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := a.gen(a.length)
		if err != nil {
			return "", err
		}
		a.mu.Lock()
		if _, taken := a.used[code]; !taken {
			a.used[code] = struct{}{}
			a.mu.Unlock()
			return code, nil
		}
		a.mu.Unlock()
	}
	return "", ErrExhausted
}

func (a *MemoryAllocator) Release(_ context.Context, code string) error {
	a.mu.Lock()
	delete(a.used, Normalize(code))
	a.mu.Unlock()
	return nil
}

// Len reports how many codes are currently reserved.
func (a *MemoryAllocator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}
