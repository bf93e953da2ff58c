package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSquare    = errors.New("invalid square")
	ErrInvalidPromotion = errors.New("invalid promotion piece")
	ErrIllegalMove      = errors.New("illegal move")
	ErrInvalidFEN       = errors.New("invalid board encoding")
)

// Color identifies chess side.
type Color string

const (
	White   Color = "white"
	Black   Color = "black"
	NoColor Color = ""
)

// Other returns the opposing side. NoColor stays NoColor.
func (c Color) Other() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoColor
	}
}

// Short is the single-letter side marker used by board strings ("w"/"b").
func (c Color) Short() string {
	switch c {
	case White:
		return "w"
	case Black:
		return "b"
	default:
		return ""
	}
}

// Title is the capitalised name used in game_over announcements.
func (c Color) Title() string {
	switch c {
	case White:
		return "White"
	case Black:
		return "Black"
	default:
		return ""
	}
}

// ParseColor accepts white/black in any case plus the w/b shorthands.
func ParseColor(s string) Color {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White
	case "black", "b":
		return Black
	default:
		return NoColor
	}
}

// Square is an algebraic coordinate, a1..h8.
type Square string

func ParseSquare(s string) (Square, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if len(v) != 2 || v[0] < 'a' || v[0] > 'h' || v[1] < '1' || v[1] > '8' {
		return "", fmt.Errorf("%w: %q", ErrInvalidSquare, s)
	}
	return Square(v), nil
}

func (s Square) rank() byte {
	if len(s) != 2 {
		return 0
	}
	return s[1]
}

// PieceKind names a promotion target.
type PieceKind string

const (
	Queen  PieceKind = "q"
	Rook   PieceKind = "r"
	Bishop PieceKind = "b"
	Knight PieceKind = "n"
)

func ParsePieceKind(s string) (PieceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "q", "queen":
		return Queen, nil
	case "r", "rook":
		return Rook, nil
	case "b", "bishop":
		return Bishop, nil
	case "n", "knight":
		return Knight, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPromotion, s)
	}
}

// Move is a single requested move. Promotion is empty unless a pawn promotes.
type Move struct {
	From      Square
	To        Square
	Promotion PieceKind
}

// NewMove validates raw wire fields.
func NewMove(from, to, promotion string) (Move, error) {
	f, err := ParseSquare(from)
	if err != nil {
		return Move{}, err
	}
	t, err := ParseSquare(to)
	if err != nil {
		return Move{}, err
	}
	p, err := ParsePieceKind(promotion)
	if err != nil {
		return Move{}, err
	}
	return Move{From: f, To: t, Promotion: p}, nil
}

// UCI renders the move in long algebraic form, e.g. e7e8q.
func (m Move) UCI() string {
	return string(m.From) + string(m.To) + string(m.Promotion)
}

func (m Move) String() string { return m.UCI() }

// Result summarises a finished position.
type Result struct {
	Winner Color
	Draw   bool
	Reason string
}
