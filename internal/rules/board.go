package rules

import (
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// Board is an immutable-by-convention position plus the moves that produced it.
// TryMove never mutates its input; it returns a successor board.
type Board struct {
	game  *nchess.Game
	start string
	moves []string
}

// NewBoard returns the standard initial position.
func NewBoard() *Board {
	return &Board{game: nchess.NewGame()}
}

// Decode builds a board from a portable board string (FEN).
func Decode(fen string) (*Board, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFEN)
	}
	game, err := newGame(fen)
	if err != nil {
		return nil, err
	}
	return &Board{game: game, start: fen}, nil
}

func newGame(start string) (*nchess.Game, error) {
	if start == "" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return nchess.NewGame(opt), nil
}

// Encode returns the portable board string.
func (b *Board) Encode() string { return b.game.FEN() }

// Turn returns the side to move.
func (b *Board) Turn() Color { return colorFrom(b.game.Position().Turn()) }

// Ply is the number of half-moves applied since the starting position.
func (b *Board) Ply() int { return len(b.moves) }

// IsTerminal reports checkmate, stalemate or an automatic draw.
func (b *Board) IsTerminal() bool { return b.game.Outcome() != nchess.NoOutcome }

// Result describes the outcome; zero value while the game is still running.
func (b *Board) Result() Result {
	switch b.game.Outcome() {
	case nchess.WhiteWon:
		return Result{Winner: White, Reason: methodName(b.game.Method())}
	case nchess.BlackWon:
		return Result{Winner: Black, Reason: methodName(b.game.Method())}
	case nchess.Draw:
		return Result{Draw: true, Reason: methodName(b.game.Method())}
	default:
		return Result{}
	}
}

// LegalMoves lists destination squares reachable from sq for the side to move.
func (b *Board) LegalMoves(sq Square) []Square {
	var out []Square
	seen := make(map[Square]struct{})
	for _, mv := range b.game.ValidMoves() {
		if mv.S1().String() != string(sq) {
			continue
		}
		to := Square(mv.S2().String())
		if _, dup := seen[to]; dup {
			// promotions yield one entry per piece kind
			continue
		}
		seen[to] = struct{}{}
		out = append(out, to)
	}
	return out
}

// LastMove returns the most recent applied move, with any implied promotion filled in.
func (b *Board) LastMove() (Move, bool) {
	if len(b.moves) == 0 {
		return Move{}, false
	}
	uci := b.moves[len(b.moves)-1]
	if len(uci) < 4 {
		return Move{}, false
	}
	m, err := NewMove(uci[:2], uci[2:4], uci[4:])
	if err != nil {
		return Move{}, false
	}
	return m, true
}

// History returns the applied moves in UCI and SAN notation.
func (b *Board) History() (uci, san []string) {
	positions := b.game.Positions()
	moves := b.game.Moves()
	uci = append([]string(nil), b.moves...)
	san = make([]string, len(moves))
	notation := nchess.AlgebraicNotation{}
	for i, mv := range moves {
		if i < len(positions) {
			san[i] = notation.Encode(positions[i], mv)
		}
	}
	return uci, san
}

// TryMove validates m against the position and returns the successor board.
func TryMove(b *Board, m Move) (*Board, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: no board", ErrIllegalMove)
	}
	next, err := b.clone()
	if err != nil {
		return nil, err
	}
	uci, err := next.push(m.UCI())
	if err != nil && m.Promotion == "" && (m.To.rank() == '8' || m.To.rank() == '1') {
		// bare pawn pushes to the last rank promote to a queen
		m.Promotion = Queen
		uci, err = next.push(m.UCI())
	}
	if err != nil {
		return nil, err
	}
	next.moves = append(next.moves, uci)
	return next, nil
}

func (b *Board) push(uci string) (string, error) {
	notation := nchess.UCINotation{}
	mv, err := notation.Decode(b.game.Position(), uci)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrIllegalMove, uci, err)
	}
	if err := b.game.Move(mv, nil); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrIllegalMove, uci, err)
	}
	return uci, nil
}

// clone replays the move list onto a fresh game so repetition history survives.
func (b *Board) clone() (*Board, error) {
	game, err := newGame(b.start)
	if err != nil {
		return nil, err
	}
	for _, mv := range b.moves {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay %s: %w", mv, err)
		}
	}
	return &Board{game: game, start: b.start, moves: append([]string(nil), b.moves...)}, nil
}

func colorFrom(c nchess.Color) Color {
	if c == nchess.White {
		return White
	}
	return Black
}

func methodName(m nchess.Method) string {
	return strings.ToLower(m.String())
}
