package archive

import (
	"fmt"
	"strings"
	"time"
)

// Record is the archived summary of one finished game.
type Record struct {
	GameID    string    `json:"gameId"`
	WhiteID   string    `json:"whiteId"`
	BlackID   string    `json:"blackId"`
	RoomCode  string    `json:"roomCode,omitempty"`
	State     string    `json:"state"`
	Result    string    `json:"result"` // white | black | draw | "" when unknown
	Method    string    `json:"method,omitempty"`
	MovesUCI  []string  `json:"movesUci"`
	MovesSAN  []string  `json:"movesSan"`
	FinalFEN  string    `json:"finalFen"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

// Duration is EndedAt-StartedAt, never negative.
func (r Record) Duration() time.Duration {
	d := r.EndedAt.Sub(r.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

func mapResultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

// PGN renders the record as a PGN game with seven-tag roster headers.
func PGN(r Record) string {
	var b strings.Builder
	date := r.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	result := mapResultToPGN(r.Result)
	b.WriteString("[Event \"Online game\"]\n")
	b.WriteString("[Site \"chess-relay\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString("[Round \"-\"]\n")
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(r.WhiteID)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(r.BlackID)))
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n", result))
	if m := strings.TrimSpace(r.Method); m != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(m))))
	}
	b.WriteString("\n")

	for i := 0; i < len(r.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(r.MovesSAN[i])))
		if i+1 < len(r.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(r.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
