package match

import (
	"github.com/park285/chess-relay/internal/archive"
	"github.com/park285/chess-relay/internal/rules"
	"github.com/park285/chess-relay/internal/session"
)

func recordOf(s *session.Session, roomCode string) archive.Record {
	st := s.Status()
	board := s.Board()
	uci, san := board.History()
	return archive.Record{
		GameID:    s.ID(),
		WhiteID:   s.White().ID(),
		BlackID:   s.Black().ID(),
		RoomCode:  roomCode,
		State:     string(st.State),
		Result:    resultOf(st),
		Method:    st.Reason,
		MovesUCI:  uci,
		MovesSAN:  san,
		FinalFEN:  board.Encode(),
		StartedAt: s.StartedAt(),
		EndedAt:   s.EndedAt(),
	}
}

func resultOf(st session.Status) string {
	if st.Winner != rules.NoColor {
		return string(st.Winner)
	}
	switch st.State {
	case session.StateDrawn, session.StateOver:
		return "draw"
	}
	return ""
}
