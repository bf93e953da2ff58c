package wsserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/park285/chess-relay/internal/obslog"
	"github.com/park285/chess-relay/internal/relay"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	writeTimeout = 5 * time.Second
	flushTimeout = time.Second
)

// Handler receives connection lifecycle events and inbound text frames.
// Handle is called sequentially per connection.
type Handler interface {
	Connect(ch relay.Channel)
	Handle(ctx context.Context, ch relay.Channel, raw []byte)
	Disconnect(ctx context.Context, ch relay.Channel)
}

type Options struct {
	// OriginPatterns are host patterns accepted in the Origin header.
	// A single "*" disables the origin check.
	OriginPatterns  []string
	SendQueue       int
	MaxMessageBytes int64
	PingInterval    time.Duration
	Logger          *zap.Logger
}

// Server upgrades HTTP requests and runs one read, write and ping loop per client.
type Server struct {
	handler Handler
	opts    Options
	logger  *zap.Logger

	mu      sync.Mutex
	conns   map[*Conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

func New(h Handler, opts Options) *Server {
	if opts.SendQueue <= 0 {
		opts.SendQueue = 32
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 4096
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = obslog.L()
	}
	return &Server{handler: h, opts: opts, logger: logger, conns: make(map[*Conn]struct{})}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	ao := &websocket.AcceptOptions{CompressionMode: websocket.CompressionDisabled}
	if len(s.opts.OriginPatterns) == 1 && s.opts.OriginPatterns[0] == "*" {
		ao.InsecureSkipVerify = true
	} else {
		ao.OriginPatterns = s.opts.OriginPatterns
	}
	return ao
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closing := s.closing
	if !closing {
		s.wg.Add(1)
	}
	s.mu.Unlock()
	if closing {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	ws, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.logger.Info("ws_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	ws.SetReadLimit(s.opts.MaxMessageBytes)

	conn := newConn(ws, s.opts.SendQueue)
	logger := s.logger.With(zap.String("channel_id", conn.ID()))
	if !s.track(conn) {
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.untrack(conn)

	logger.Info("ws_connected", zap.String("remote", r.RemoteAddr))
	s.handler.Connect(conn)

	ctx, cancel := context.WithCancel(r.Context())
	var loops sync.WaitGroup
	loops.Add(2)
	go func() { defer loops.Done(); s.writeLoop(ctx, conn, logger) }()
	go func() { defer loops.Done(); s.pingLoop(ctx, conn, logger) }()

	err = s.readLoop(ctx, conn, logger)
	conn.markClosed()
	cancel()
	loops.Wait()

	s.handler.Disconnect(context.Background(), conn)
	_ = ws.Close(websocket.StatusNormalClosure, "")
	logger.Info("ws_disconnected", zap.String("status", websocket.CloseStatus(err).String()))
}

func (s *Server) readLoop(ctx context.Context, conn *Conn, logger *zap.Logger) error {
	for {
		typ, data, err := conn.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			logger.Debug("ws_non_text_frame_dropped", zap.Int("bytes", len(data)))
			continue
		}
		s.handler.Handle(ctx, conn, data)
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *Conn, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-conn.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.ws.Write(wctx, websocket.MessageText, frame)
			cancel()
			conn.written()
			if err != nil {
				logger.Info("ws_write_failed", zap.Error(err))
				_ = conn.ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, conn *Conn, logger *zap.Logger) {
	t := time.NewTicker(s.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.ws.Ping(pctx)
			cancel()
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Info("ws_ping_failed", zap.Error(err))
				_ = conn.ws.Close(websocket.StatusGoingAway, "ping timeout")
				return
			}
		}
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// Count reports open connections.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown refuses new upgrades, lets each connection flush its queued frames
// for up to a second, closes it with StatusGoingAway and waits for the
// handlers to finish or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		go func(c *Conn) {
			fctx, cancel := context.WithTimeout(ctx, flushTimeout)
			c.flush(fctx)
			cancel()
			_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		}(c)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
