package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/park285/chess-relay/internal/msgcat"
	"github.com/park285/chess-relay/internal/obslog"
	"github.com/park285/chess-relay/internal/relay"
	"github.com/park285/chess-relay/internal/rules"
	"github.com/park285/chess-relay/pkg/chessproto"
	"go.uber.org/zap"
)

// Session is one two-player game. Both channels are fixed at creation.
type Session struct {
	mu sync.Mutex

	id    string
	white relay.Channel
	black relay.Channel

	board  *rules.Board
	moves  []MoveRecord
	status Status

	startedAt time.Time
	endedAt   time.Time

	out    Sender
	msgs   *msgcat.Catalog
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithCatalog(c *msgcat.Catalog) Option {
	return func(s *Session) { s.msgs = c }
}

// WithBoard starts the game from a given position instead of the initial one.
func WithBoard(b *rules.Board) Option {
	return func(s *Session) {
		if b != nil {
			s.board = b
		}
	}
}

// New creates an in-progress session. 색 배정 알림은 매칭한 쪽 책임이라 여기서는 아무것도 보내지 않음.
func New(id string, white, black relay.Channel, out Sender, opts ...Option) (*Session, error) {
	if white == nil || black == nil || white == black {
		return nil, fmt.Errorf("session: need two distinct channels")
	}
	if out == nil {
		return nil, fmt.Errorf("session: nil sender")
	}
	s := &Session{
		id:     id,
		white:  white,
		black:  black,
		board:  rules.NewBoard(),
		status: Status{State: StateInProgress},
		out:    out,
		logger: obslog.L(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	s.logger = s.logger.With(zap.String("session_id", id))
	return s, nil
}

func (s *Session) ID() string           { return s.id }
func (s *Session) White() relay.Channel { return s.white }
func (s *Session) Black() relay.Channel { return s.black }
func (s *Session) StartedAt() time.Time { return s.startedAt }

// ColorOf returns the color played by ch, or NoColor for outsiders.
func (s *Session) ColorOf(ch relay.Channel) rules.Color {
	switch ch {
	case s.white:
		return rules.White
	case s.black:
		return rules.Black
	}
	return rules.NoColor
}

// Opponent returns the other participant, or nil when ch is not one.
func (s *Session) Opponent(ch relay.Channel) relay.Channel {
	switch ch {
	case s.white:
		return s.black
	case s.black:
		return s.white
	}
	return nil
}

func (s *Session) channelOf(c rules.Color) relay.Channel {
	if c == rules.White {
		return s.white
	}
	return s.black
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Terminal()
}

func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Board returns the current position. Boards are never mutated in place.
func (s *Session) Board() *rules.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

func (s *Session) Moves() []MoveRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MoveRecord(nil), s.moves...)
}

// ApplyMove validates and applies a move from requester. On any rejection
// nothing is sent and no state changes.
func (s *Session) ApplyMove(requester relay.Channel, m rules.Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	color := s.ColorOf(requester)
	if color == rules.NoColor {
		return ErrNotParticipant
	}
	if s.status.Terminal() {
		return ErrFinished
	}
	if s.status.State != StateInProgress {
		return ErrNotInProgress
	}
	// 턴 검증
	if s.board.Turn() != color {
		return ErrWrongTurn
	}
	// 적용: 기존 보드는 그대로 두고 다음 보드로 교체
	next, err := rules.TryMove(s.board, m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	if applied, ok := next.LastMove(); ok {
		m = applied
	}

	s.board = next
	s.moves = append(s.moves, MoveRecord{Mover: color, At: s.now(), Move: m})
	s.logger.Debug("session_move",
		zap.String("color", string(color)),
		zap.String("move", m.UCI()),
		zap.Int("ply", len(s.moves)),
	)

	if next.IsTerminal() {
		res := next.Result()
		s.finish(Status{State: StateOver, Winner: res.Winner, Reason: res.Reason})
		env := s.gameOverEnvelope(res.Winner, res.Reason)
		env.Move = moveRef(m)
		s.broadcast(env)
		return nil
	}

	wm := wireMove(m)
	s.broadcast(&chessproto.Envelope{
		Type:     chessproto.TypeMove,
		Move:     &wm,
		Board:    next.Encode(),
		Turn:     next.Turn().Short(),
		AllMoves: s.wireLog(),
	})
	return nil
}

// OfferDraw forwards an offer to the opponent.
func (s *Session) OfferDraw(requester relay.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	color := s.ColorOf(requester)
	if color == rules.NoColor {
		return ErrNotParticipant
	}
	if s.status.Terminal() {
		return ErrFinished
	}
	if s.status.State != StateInProgress {
		return ErrNotInProgress
	}
	s.status = Status{
		State:     StateDrawOffered,
		OfferedBy: color,
		OfferedTo: color.Other(),
		OfferedAt: s.now(),
	}
	s.send(s.channelOf(color.Other()), &chessproto.Envelope{Type: chessproto.TypeOfferDraw})
	return nil
}

// RespondDraw answers a pending offer. Only the offered player may answer.
func (s *Session) RespondDraw(requester relay.Channel, accept bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	color := s.ColorOf(requester)
	if color == rules.NoColor {
		return ErrNotParticipant
	}
	if s.status.Terminal() {
		return ErrFinished
	}
	if s.status.State != StateDrawOffered {
		return ErrNoDrawOffer
	}
	if s.status.OfferedTo != color {
		return ErrNotOfferee
	}
	if accept {
		s.finish(Status{State: StateDrawn, Reason: ReasonAgreement})
		s.broadcast(&chessproto.Envelope{Type: chessproto.TypeDrawAccepted})
		return nil
	}
	s.status = Status{State: StateInProgress}
	s.broadcast(&chessproto.Envelope{Type: chessproto.TypeDrawRejected})
	return nil
}

// Resign ends the game in the opponent's favor; only the opponent is told.
func (s *Session) Resign(requester relay.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	color := s.ColorOf(requester)
	if color == rules.NoColor {
		return ErrNotParticipant
	}
	if s.status.Terminal() {
		return ErrFinished
	}
	s.finish(Status{State: StateResigned, By: color, Winner: color.Other(), Reason: ReasonResignation})
	s.send(s.channelOf(color.Other()), &chessproto.Envelope{Type: chessproto.TypeResign})
	return nil
}

// Forfeit ends the game against leaver. 연결이 이미 끊긴 경우 notifyLeaver=false.
func (s *Session) Forfeit(leaver relay.Channel, reason string, notifyLeaver bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	color := s.ColorOf(leaver)
	if color == rules.NoColor {
		return ErrNotParticipant
	}
	if s.status.Terminal() {
		return ErrFinished
	}
	if reason == "" {
		reason = ReasonAbandoned
	}
	winner := color.Other()
	s.finish(Status{State: StateAbandoned, By: color, Winner: winner, Reason: reason})
	env := s.gameOverEnvelope(winner, reason)
	s.send(s.channelOf(winner), env)
	if notifyLeaver {
		s.send(leaver, env)
	}
	return nil
}

// Declare ends the game with a winner named by a client. NoColor declares
// a result without a winner.
func (s *Session) Declare(requester relay.Channel, winner rules.Color) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ColorOf(requester) == rules.NoColor {
		return ErrNotParticipant
	}
	if s.status.Terminal() {
		return ErrFinished
	}
	s.finish(Status{State: StateOver, Winner: winner, Reason: ReasonDeclared})
	s.broadcast(s.gameOverEnvelope(winner, ReasonDeclared))
	return nil
}

// Abort는 승패 없이 대국을 종료하고 양쪽에 알림 (서버 종료 시 사용).
func (s *Session) Abort(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return ErrFinished
	}
	if reason == "" {
		reason = ReasonShutdown
	}
	s.finish(Status{State: StateAborted, Reason: reason})
	s.broadcast(s.gameOverEnvelope(rules.NoColor, reason))
	return nil
}

func (s *Session) finish(st Status) {
	s.status = st
	s.endedAt = s.now()
	s.logger.Info("session_finished",
		zap.String("state", string(st.State)),
		zap.String("winner", string(st.Winner)),
		zap.String("reason", st.Reason),
		zap.Int("plies", len(s.moves)),
	)
}

func (s *Session) gameOverEnvelope(winner rules.Color, reason string) *chessproto.Envelope {
	return &chessproto.Envelope{
		Type:     chessproto.TypeGameOver,
		Message:  s.msgs.Text("game.over", nil, "Game Over"),
		Winner:   winner.Title(),
		Reason:   reason,
		Board:    s.board.Encode(),
		AllMoves: s.wireLog(),
	}
}

func (s *Session) wireLog() []chessproto.MoveRecord {
	out := make([]chessproto.MoveRecord, len(s.moves))
	for i, r := range s.moves {
		out[i] = r.wire()
	}
	return out
}

// broadcast sends the same envelope to both players. A failure toward one
// player never stops delivery to the other.
func (s *Session) broadcast(env *chessproto.Envelope) {
	s.send(s.white, env)
	s.send(s.black, env)
}

func (s *Session) send(ch relay.Channel, env *chessproto.Envelope) {
	if err := s.out.Send(ch, env); err != nil && !errors.Is(err, relay.ErrNotRegistered) {
		s.logger.Debug("session_send_failed", zap.String("channel_id", ch.ID()), zap.String("type", env.Type), zap.Error(err))
	}
}

func moveRef(m rules.Move) *chessproto.Move {
	wm := wireMove(m)
	return &wm
}
