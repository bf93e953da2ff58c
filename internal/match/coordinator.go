package match

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/chess-relay/internal/archive"
	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/obslog"
	"github.com/park285/chess-relay/internal/relay"
	"github.com/park285/chess-relay/internal/roomcode"
	"github.com/park285/chess-relay/internal/rules"
	"github.com/park285/chess-relay/internal/session"
	"github.com/park285/chess-relay/pkg/chessproto"
	"go.uber.org/zap"
)

// Archiver accepts finished games without blocking. *archive.Async satisfies it.
type Archiver interface {
	Submit(rec archive.Record) error
}

// Coordinator owns the waiting slot, the room table and the live sessions.
// One mutex guards all three; session operations run while it is held.
type Coordinator struct {
	mu sync.Mutex

	registry *relay.Registry
	codes    roomcode.Allocator
	archiver Archiver
	msgs     *msgcat.Catalog
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	trustClientGameOver bool

	closed    bool
	waiting   relay.Channel
	rooms     map[string]relay.Channel
	roomOf    map[relay.Channel]string
	sessions  map[relay.Channel]*session.Session
	roomCodes map[*session.Session]string
}

type Option func(*Coordinator)

func WithAllocator(a roomcode.Allocator) Option {
	return func(c *Coordinator) {
		if a != nil {
			c.codes = a
		}
	}
}

func WithArchiver(a Archiver) Option {
	return func(c *Coordinator) { c.archiver = a }
}

func WithCatalog(m *msgcat.Catalog) Option {
	return func(c *Coordinator) { c.msgs = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithIDGenerator(f func() string) Option {
	return func(c *Coordinator) {
		if f != nil {
			c.newID = f
		}
	}
}

// WithTrustClientGameOver broadcasts a client's game_over winner verbatim
// instead of treating the message as the sender leaving.
func WithTrustClientGameOver(trust bool) Option {
	return func(c *Coordinator) { c.trustClientGameOver = trust }
}

func New(registry *relay.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:  registry,
		codes:     roomcode.NewMemoryAllocator(roomcode.DefaultLength),
		logger:    obslog.L(),
		now:       time.Now,
		newID:     uuid.NewString,
		rooms:     make(map[string]relay.Channel),
		roomOf:    make(map[relay.Channel]string),
		sessions:  make(map[relay.Channel]*session.Session),
		roomCodes: make(map[*session.Session]string),
	}
	if c.registry == nil {
		c.registry = relay.NewRegistry(nil)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.msgs == nil {
		c.msgs = msgcat.MustDefault()
	}
	return c
}

// 락 해제 후 적용할 부수효과 (코드 반환, 기록 전송).
type effects struct {
	release  []string
	finished []archive.Record
}

func (c *Coordinator) apply(ctx context.Context, fx *effects) {
	for _, code := range fx.release {
		if err := c.codes.Release(ctx, code); err != nil {
			c.logger.Warn("room_code_release_failed", zap.String("room_code", code), zap.Error(err))
		}
	}
	if c.archiver == nil {
		return
	}
	for _, rec := range fx.finished {
		if err := c.archiver.Submit(rec); err != nil {
			c.logger.Warn("archive_submit_failed", zap.String("session_id", rec.GameID), zap.Error(err))
		}
	}
}

// Connect makes ch reachable for outbound messages.
func (c *Coordinator) Connect(ch relay.Channel) {
	c.registry.Register(ch)
}

// Disconnect purges every record of ch. A live session is abandoned and the
// remaining player is told they won.
func (c *Coordinator) Disconnect(ctx context.Context, ch relay.Channel) {
	var fx effects
	c.mu.Lock()
	if c.waiting == ch {
		c.waiting = nil
	}
	c.dropRoomLocked(ch, &fx)
	// 진행 중인 대국은 남은 플레이어 승리로 종료
	if s := c.sessions[ch]; s != nil {
		if err := s.Forfeit(ch, session.ReasonAbandoned, false); err != nil && !errors.Is(err, session.ErrFinished) {
			c.logger.Warn("match_forfeit_failed", zap.String("session_id", s.ID()), zap.Error(err))
		}
		c.reapLocked(s, &fx)
	}
	c.mu.Unlock()

	c.registry.Unregister(ch)
	c.apply(ctx, &fx)
}

// Shutdown aborts every live session without a result and clears the
// waiting slot and the room table.
// 이후 매칭 요청은 무시되고, 뒤따르는 Disconnect는 기권 처리할 세션이 없음.
func (c *Coordinator) Shutdown(ctx context.Context) {
	var fx effects
	c.mu.Lock()
	c.closed = true
	c.waiting = nil
	for ch := range c.roomOf {
		c.dropRoomLocked(ch, &fx)
	}
	for s := range c.roomCodes {
		if err := s.Abort(session.ReasonShutdown); err != nil && !errors.Is(err, session.ErrFinished) {
			c.logger.Warn("match_abort_failed", zap.String("session_id", s.ID()), zap.Error(err))
		}
		c.reapLocked(s, &fx)
	}
	c.mu.Unlock()

	c.logger.Info("match_shutdown", zap.Int("aborted", len(fx.finished)), zap.Int("rooms_released", len(fx.release)))
	c.apply(ctx, &fx)
}

// Handle decodes one inbound frame from ch and dispatches it.
// Malformed frames are logged and dropped.
func (c *Coordinator) Handle(ctx context.Context, ch relay.Channel, raw []byte) {
	env, err := chessproto.Decode(raw)
	if err != nil {
		c.logger.Info("relay_protocol_error", zap.String("channel_id", ch.ID()), zap.Error(err))
		return
	}
	switch env.Type {
	case chessproto.TypeInitGame:
		c.queue(ctx, ch)
	case chessproto.TypeCreateRoom:
		c.createRoom(ctx, ch)
	case chessproto.TypeJoinRoom:
		c.joinRoom(ctx, ch, env.RoomID)
	case chessproto.TypeMove:
		c.move(ctx, ch, env.Move)
	case chessproto.TypeGameOver:
		c.clientGameOver(ctx, ch, env.Winner)
	case chessproto.TypeResign:
		c.withSession(ctx, ch, env.Type, func(s *session.Session) error { return s.Resign(ch) })
	case chessproto.TypeOfferDraw:
		c.withSession(ctx, ch, env.Type, func(s *session.Session) error { return s.OfferDraw(ch) })
	case chessproto.TypeDrawAccepted:
		c.withSession(ctx, ch, env.Type, func(s *session.Session) error { return s.RespondDraw(ch, true) })
	case chessproto.TypeDrawRejected:
		c.withSession(ctx, ch, env.Type, func(s *session.Session) error { return s.RespondDraw(ch, false) })
	}
}

func (c *Coordinator) queue(ctx context.Context, ch relay.Channel) {
	var fx effects
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		c.apply(ctx, &fx)
	}()

	if c.busyLocked(ch, chessproto.TypeInitGame) {
		return
	}
	if c.closed {
		return
	}
	if c.waiting == ch {
		c.logger.Debug("match_already_waiting", zap.String("channel_id", ch.ID()))
		return
	}
	if c.waiting == nil {
		c.waiting = ch
		c.logger.Info("match_waiting", zap.String("channel_id", ch.ID()))
		return
	}
	white := c.waiting
	s := c.pairLocked(white, ch, "", &fx)
	if s == nil {
		return
	}
	c.send(white, &chessproto.Envelope{Type: chessproto.TypeInitGame, Payload: &chessproto.Payload{Color: string(rules.White)}})
	c.send(ch, &chessproto.Envelope{Type: chessproto.TypeInitGame, Payload: &chessproto.Payload{Color: string(rules.Black)}})
}

func (c *Coordinator) createRoom(ctx context.Context, ch relay.Channel) {
	c.mu.Lock()
	busy := c.busyLocked(ch, chessproto.TypeCreateRoom)
	c.mu.Unlock()
	if busy {
		return
	}

	code, err := c.codes.Reserve(ctx)
	if err != nil {
		c.logger.Error("room_code_reserve_failed", zap.String("channel_id", ch.ID()), zap.Error(err))
		c.sendError(ch, "room.unavailable", "Could not create a room, please try again")
		return
	}

	var fx effects
	c.mu.Lock()
	if c.closed || c.busyLocked(ch, chessproto.TypeCreateRoom) {
		c.mu.Unlock()
		fx.release = append(fx.release, code)
		c.apply(ctx, &fx)
		return
	}
	c.dropRoomLocked(ch, &fx)
	c.rooms[code] = ch
	c.roomOf[ch] = code
	c.send(ch, &chessproto.Envelope{Type: chessproto.TypeRoomCreated, RoomID: code})
	c.mu.Unlock()

	c.logger.Info("room_created", zap.String("channel_id", ch.ID()), zap.String("room_code", code))
	c.apply(ctx, &fx)
}

func (c *Coordinator) joinRoom(ctx context.Context, ch relay.Channel, rawCode string) {
	code := roomcode.Normalize(rawCode)
	var fx effects
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		c.apply(ctx, &fx)
	}()

	if _, playing := c.sessions[ch]; playing {
		c.logger.Info("match_join_while_playing", zap.String("channel_id", ch.ID()), zap.String("room_code", code))
		c.sendError(ch, "room.busy", "You are already playing a game")
		return
	}
	creator, ok := c.rooms[code]
	if !ok {
		c.logger.Info("room_not_found", zap.String("channel_id", ch.ID()), zap.String("room_code", code))
		c.sendError(ch, "room.invalid", "Invalid room ID")
		return
	}
	if creator == ch {
		c.sendError(ch, "room.own", "You cannot join your own room")
		return
	}
	s := c.pairLocked(creator, ch, code, &fx)
	if s == nil {
		return
	}
	c.send(creator, &chessproto.Envelope{Type: chessproto.TypeRoomJoined, RoomID: code, Payload: &chessproto.Payload{Color: string(rules.White)}})
	c.send(ch, &chessproto.Envelope{Type: chessproto.TypeRoomJoined, RoomID: code, Payload: &chessproto.Payload{Color: string(rules.Black)}})
}

func (c *Coordinator) move(ctx context.Context, ch relay.Channel, wm *chessproto.Move) {
	if wm == nil {
		return
	}
	mv, err := rules.NewMove(wm.From, wm.To, wm.Promotion)
	if err != nil {
		c.logger.Info("relay_move_malformed", zap.String("channel_id", ch.ID()), zap.Error(err))
		return
	}
	c.withSession(ctx, ch, chessproto.TypeMove, func(s *session.Session) error { return s.ApplyMove(ch, mv) })
}

func (c *Coordinator) clientGameOver(ctx context.Context, ch relay.Channel, winner string) {
	c.withSession(ctx, ch, chessproto.TypeGameOver, func(s *session.Session) error {
		if c.trustClientGameOver {
			return s.Declare(ch, rules.ParseColor(winner))
		}
		return s.Forfeit(ch, session.ReasonAbandoned, true)
	})
}

// withSession runs op on ch's live session, then reaps it if op finished the game.
func (c *Coordinator) withSession(ctx context.Context, ch relay.Channel, kind string, op func(*session.Session) error) {
	var fx effects
	c.mu.Lock()
	s := c.sessions[ch]
	if s == nil {
		c.mu.Unlock()
		c.logger.Info("relay_no_session", zap.String("channel_id", ch.ID()), zap.String("type", kind))
		return
	}
	if err := op(s); err != nil {
		c.logger.Debug("relay_rejected",
			zap.String("channel_id", ch.ID()),
			zap.String("session_id", s.ID()),
			zap.String("type", kind),
			zap.Error(err),
		)
	}
	c.reapLocked(s, &fx)
	c.mu.Unlock()
	c.apply(ctx, &fx)
}

// pairLocked starts a session. 두 플레이어의 대기열/대기방 항목은 모두 정리.
func (c *Coordinator) pairLocked(white, black relay.Channel, code string, fx *effects) *session.Session {
	if c.closed {
		return nil
	}
	if c.waiting == white || c.waiting == black {
		c.waiting = nil
	}
	c.dropRoomLocked(white, fx)
	c.dropRoomLocked(black, fx)

	s, err := session.New(c.newID(), white, black, c.registry,
		session.WithClock(c.now),
		session.WithLogger(c.logger),
		session.WithCatalog(c.msgs),
	)
	if err != nil {
		c.logger.Error("match_session_failed", zap.Error(err))
		return nil
	}
	c.sessions[white] = s
	c.sessions[black] = s
	c.roomCodes[s] = code
	c.logger.Info("match_paired",
		zap.String("session_id", s.ID()),
		zap.String("white", white.ID()),
		zap.String("black", black.ID()),
		zap.String("room_code", code),
	)
	return s
}

func (c *Coordinator) dropRoomLocked(ch relay.Channel, fx *effects) {
	code, ok := c.roomOf[ch]
	if !ok {
		return
	}
	delete(c.roomOf, ch)
	delete(c.rooms, code)
	fx.release = append(fx.release, code)
}

func (c *Coordinator) reapLocked(s *session.Session, fx *effects) {
	if !s.Finished() {
		return
	}
	if c.sessions[s.White()] == s {
		delete(c.sessions, s.White())
	}
	if c.sessions[s.Black()] == s {
		delete(c.sessions, s.Black())
	}
	code := c.roomCodes[s]
	delete(c.roomCodes, s)
	fx.finished = append(fx.finished, recordOf(s, code))
}

func (c *Coordinator) busyLocked(ch relay.Channel, kind string) bool {
	s, ok := c.sessions[ch]
	if ok {
		c.logger.Info("match_busy", zap.String("channel_id", ch.ID()), zap.String("session_id", s.ID()), zap.String("type", kind))
	}
	return ok
}

func (c *Coordinator) send(ch relay.Channel, env *chessproto.Envelope) {
	_ = c.registry.Send(ch, env)
}

func (c *Coordinator) sendError(ch relay.Channel, key, fallback string) {
	c.send(ch, &chessproto.Envelope{Type: chessproto.TypeError, Message: c.msgs.Text(key, nil, fallback)})
}

// Stats is a point-in-time view for the ops endpoint.
type Stats struct {
	Connections int `json:"connections"`
	Sessions    int `json:"sessions"`
	Waiting     int `json:"waiting"`
	Rooms       int `json:"rooms"`
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	st := Stats{Sessions: len(c.roomCodes), Rooms: len(c.rooms)}
	if c.waiting != nil {
		st.Waiting = 1
	}
	c.mu.Unlock()
	st.Connections = c.registry.Count()
	return st
}

// SessionOf returns ch's live session, if any.
func (c *Coordinator) SessionOf(ch relay.Channel) *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[ch]
}
