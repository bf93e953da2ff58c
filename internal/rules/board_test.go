package rules

import (
	"errors"
	"sort"
	"strings"
	"testing"
)

func mustMove(t *testing.T, from, to, promo string) Move {
	t.Helper()
	m, err := NewMove(from, to, promo)
	if err != nil {
		t.Fatalf("NewMove(%s,%s,%s): %v", from, to, promo, err)
	}
	return m
}

func play(t *testing.T, b *Board, uci ...string) *Board {
	t.Helper()
	for _, s := range uci {
		m := mustMove(t, s[:2], s[2:4], s[4:])
		next, err := TryMove(b, m)
		if err != nil {
			t.Fatalf("TryMove %s: %v", s, err)
		}
		b = next
	}
	return b
}

func TestInitialPosition(t *testing.T) {
	b := NewBoard()
	if b.Turn() != White {
		t.Fatalf("expected white to move, got %q", b.Turn())
	}
	if b.IsTerminal() {
		t.Fatalf("initial position must not be terminal")
	}
	if !strings.HasPrefix(b.Encode(), "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w") {
		t.Fatalf("unexpected FEN: %s", b.Encode())
	}
}

func TestTryMoveE4(t *testing.T) {
	b := NewBoard()
	next := play(t, b, "e2e4")
	if next.Turn() != Black {
		t.Fatalf("expected black to move")
	}
	if next.Ply() != 1 {
		t.Fatalf("ply = %d", next.Ply())
	}
	if !strings.HasPrefix(next.Encode(), "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b") {
		t.Fatalf("unexpected FEN after e4: %s", next.Encode())
	}
	// input board untouched
	if b.Turn() != White || b.Ply() != 0 {
		t.Fatalf("TryMove mutated its input")
	}
}

func TestTryMoveRejectsIllegal(t *testing.T) {
	b := NewBoard()
	cases := [][2]string{
		{"e2", "e5"}, // pawn cannot jump three
		{"e7", "e5"}, // black piece on white's turn
		{"e1", "e2"}, // own piece on target
		{"d4", "d5"}, // empty origin
	}
	for _, c := range cases {
		if _, err := TryMove(b, mustMove(t, c[0], c[1], "")); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("%s%s: expected ErrIllegalMove, got %v", c[0], c[1], err)
		}
	}
}

func TestNewMoveValidatesFields(t *testing.T) {
	if _, err := NewMove("e9", "e4", ""); !errors.Is(err, ErrInvalidSquare) {
		t.Fatalf("expected ErrInvalidSquare, got %v", err)
	}
	if _, err := NewMove("e2", "", ""); !errors.Is(err, ErrInvalidSquare) {
		t.Fatalf("expected ErrInvalidSquare, got %v", err)
	}
	if _, err := NewMove("e7", "e8", "k"); !errors.Is(err, ErrInvalidPromotion) {
		t.Fatalf("expected ErrInvalidPromotion, got %v", err)
	}
	m, err := NewMove("E7", "E8", "Queen")
	if err != nil || m.UCI() != "e7e8q" {
		t.Fatalf("normalisation failed: %v %q", err, m.UCI())
	}
}

func TestFoolsMateIsTerminal(t *testing.T) {
	b := play(t, NewBoard(), "f2f3", "e7e5", "g2g4", "d8h4")
	if !b.IsTerminal() {
		t.Fatalf("expected checkmate")
	}
	res := b.Result()
	if res.Winner != Black || res.Draw {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Reason != "checkmate" {
		t.Fatalf("reason = %q", res.Reason)
	}
	// the side to move is the loser
	if b.Turn() != White {
		t.Fatalf("expected white to move in the mated position")
	}
}

func TestStalemateHasNoWinner(t *testing.T) {
	b, err := Decode("7k/8/6K1/8/8/8/5Q2/8 w - - 0 1")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	b = play(t, b, "f2f7")
	if !b.IsTerminal() {
		t.Fatalf("expected stalemate")
	}
	res := b.Result()
	if !res.Draw || res.Winner != NoColor {
		t.Fatalf("stalemate must be a draw without winner: %+v", res)
	}
	if res.Reason != "stalemate" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestPromotionDefaultsToQueen(t *testing.T) {
	b, err := Decode("8/P7/8/8/8/8/8/k6K w - - 0 1")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	q := play(t, b, "a7a8")
	if !strings.HasPrefix(q.Encode(), "Q7/") {
		t.Fatalf("expected queen on a8: %s", q.Encode())
	}
	n := play(t, b, "a7a8n")
	if !strings.HasPrefix(n.Encode(), "N7/") {
		t.Fatalf("expected knight on a8: %s", n.Encode())
	}
}

func TestLegalMoves(t *testing.T) {
	b := NewBoard()
	got := b.LegalMoves("e2")
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != 2 || got[0] != "e3" || got[1] != "e4" {
		t.Fatalf("e2 targets = %v", got)
	}
	knight := b.LegalMoves("g1")
	sort.Slice(knight, func(i, j int) bool { return knight[i] < knight[j] })
	if len(knight) != 2 || knight[0] != "f3" || knight[1] != "h3" {
		t.Fatalf("g1 targets = %v", knight)
	}
	if len(b.LegalMoves("e7")) != 0 {
		t.Fatalf("black pieces have no moves on white's turn")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := play(t, NewBoard(), "e2e4", "c7c5", "g1f3", "d7d6", "d2d4")
	fen := b.Encode()
	back, err := Decode(fen)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.Encode() != fen {
		t.Fatalf("round trip mismatch:\n%s\n%s", fen, back.Encode())
	}
	if back.Turn() != b.Turn() {
		t.Fatalf("turn mismatch")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(""); !errors.Is(err, ErrInvalidFEN) {
		t.Fatalf("expected ErrInvalidFEN, got %v", err)
	}
	if _, err := Decode("not a fen"); !errors.Is(err, ErrInvalidFEN) {
		t.Fatalf("expected ErrInvalidFEN, got %v", err)
	}
}

func TestHistorySAN(t *testing.T) {
	b := play(t, NewBoard(), "e2e4", "e7e5", "g1f3")
	uci, san := b.History()
	if strings.Join(uci, " ") != "e2e4 e7e5 g1f3" {
		t.Fatalf("uci = %v", uci)
	}
	if strings.Join(san, " ") != "e4 e5 Nf3" {
		t.Fatalf("san = %v", san)
	}
}

func TestColorHelpers(t *testing.T) {
	if White.Other() != Black || Black.Other() != White || NoColor.Other() != NoColor {
		t.Fatalf("Other broken")
	}
	if ParseColor("W") != White || ParseColor("Black") != Black || ParseColor("x") != NoColor {
		t.Fatalf("ParseColor broken")
	}
	if White.Short() != "w" || Black.Title() != "Black" {
		t.Fatalf("labels broken")
	}
}
