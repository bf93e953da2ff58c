package session

import (
	"errors"
	"time"

	"github.com/park285/chess-relay/internal/relay"
	"github.com/park285/chess-relay/internal/rules"
	"github.com/park285/chess-relay/pkg/chessproto"
)

// 거절 사유. 코디네이터는 로그만 남기고 클라이언트에는 아무것도 보내지 않음.
var (
	ErrNotParticipant = errors.New("session: channel is not a participant")
	ErrNotInProgress  = errors.New("session: game is not in progress")
	ErrWrongTurn      = errors.New("session: not this player's turn")
	ErrIllegalMove    = errors.New("session: illegal move")
	ErrNoDrawOffer    = errors.New("session: no draw offer pending")
	ErrNotOfferee     = errors.New("session: only the offered player may answer")
	ErrFinished       = errors.New("session: game already finished")
)

type State string

const (
	StateInProgress  State = "IN_PROGRESS"
	StateDrawOffered State = "DRAW_OFFERED"
	StateDrawn       State = "DRAWN"
	StateResigned    State = "RESIGNED"
	StateOver        State = "OVER"
	StateAbandoned   State = "ABANDONED"
	StateAborted     State = "ABORTED"
)

// Result reasons recorded on terminal statuses.
const (
	ReasonAgreement   = "agreement"
	ReasonResignation = "resignation"
	ReasonAbandoned   = "abandoned"
	ReasonDeclared    = "declared"
	ReasonShutdown    = "server_shutdown"
)

// Status is a tagged union; only the fields belonging to State are set.
//
//	DrawOffered: OfferedBy, OfferedTo, OfferedAt
//	Resigned, Abandoned: By, Winner, Reason
//	Over: Winner (NoColor on draws), Reason
//	Drawn, Aborted: Reason
type Status struct {
	State     State
	OfferedBy rules.Color
	OfferedTo rules.Color
	OfferedAt time.Time
	By        rules.Color
	Winner    rules.Color
	Reason    string
}

// Terminal reports whether the game has a final result.
func (s Status) Terminal() bool {
	switch s.State {
	case StateDrawn, StateResigned, StateOver, StateAbandoned, StateAborted:
		return true
	}
	return false
}

// MoveRecord is one accepted ply.
type MoveRecord struct {
	Mover rules.Color
	At    time.Time
	Move  rules.Move
}

func (r MoveRecord) wire() chessproto.MoveRecord {
	return chessproto.MoveRecord{
		Player:   string(r.Mover),
		MoveTime: r.At.UTC(),
		Move:     wireMove(r.Move),
	}
}

func wireMove(m rules.Move) chessproto.Move {
	return chessproto.Move{From: string(m.From), To: string(m.To), Promotion: string(m.Promotion)}
}

// Sender pushes one envelope to one channel. *relay.Registry satisfies it.
type Sender interface {
	Send(ch relay.Channel, env *chessproto.Envelope) error
}
