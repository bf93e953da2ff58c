package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/park285/chess-relay/internal/obslog"
	"github.com/park285/chess-relay/pkg/chessproto"
	"go.uber.org/zap"
)

var ErrNotRegistered = errors.New("channel not registered")

// Channel is one connected client. Identity is the interface value itself;
// implementations are expected to be pointers.
type Channel interface {
	ID() string
	// Send queues an encoded frame. It must not block.
	Send(frame []byte) error
}

// Registry tracks every live channel and pushes encoded envelopes to them.
type Registry struct {
	mu       sync.RWMutex
	channels map[Channel]struct{}
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = obslog.L()
	}
	return &Registry{channels: make(map[Channel]struct{}), logger: logger}
}

func (r *Registry) Register(ch Channel) {
	if ch == nil {
		return
	}
	r.mu.Lock()
	r.channels[ch] = struct{}{}
	n := len(r.channels)
	r.mu.Unlock()
	r.logger.Debug("relay_register", zap.String("channel_id", ch.ID()), zap.Int("channels", n))
}

// Unregister forgets ch. Game state owned by other components is untouched.
func (r *Registry) Unregister(ch Channel) bool {
	if ch == nil {
		return false
	}
	r.mu.Lock()
	_, ok := r.channels[ch]
	delete(r.channels, ch)
	n := len(r.channels)
	r.mu.Unlock()
	if ok {
		r.logger.Debug("relay_unregister", zap.String("channel_id", ch.ID()), zap.Int("channels", n))
	}
	return ok
}

func (r *Registry) Has(ch Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[ch]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

// Send encodes env and hands it to ch. Failures are logged and returned;
// there is no retry.
func (r *Registry) Send(ch Channel, env *chessproto.Envelope) error {
	if ch == nil {
		return ErrNotRegistered
	}
	if !r.Has(ch) {
		r.logger.Warn("relay_send_dropped",
			zap.String("channel_id", ch.ID()),
			zap.String("type", typeOf(env)),
			zap.Error(ErrNotRegistered),
		)
		return ErrNotRegistered
	}
	frame, err := chessproto.Encode(env)
	if err != nil {
		r.logger.Error("relay_encode_error", zap.String("type", typeOf(env)), zap.Error(err))
		return fmt.Errorf("encode: %w", err)
	}
	if err := ch.Send(frame); err != nil {
		r.logger.Warn("relay_send_failed",
			zap.String("channel_id", ch.ID()),
			zap.String("type", env.Type),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func typeOf(env *chessproto.Envelope) string {
	if env == nil {
		return ""
	}
	return env.Type
}
