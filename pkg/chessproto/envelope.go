package chessproto

import "time"

// Message kinds. Some kinds travel in both directions with different fields.
const (
	TypeInitGame     = "init_game"
	TypeCreateRoom   = "create_room"
	TypeRoomCreated  = "room_created"
	TypeJoinRoom     = "join_room"
	TypeRoomJoined   = "room_joined"
	TypeError        = "error"
	TypeMove         = "move"
	TypeGameOver     = "game_over"
	TypeResign       = "resign"
	TypeOfferDraw    = "offering_draw"
	TypeDrawAccepted = "draw_accepted"
	TypeDrawRejected = "draw_rejected"
)

// Envelope is the single JSON object exchanged over a client connection.
// Only the fields relevant to Type are populated.
type Envelope struct {
	Type     string       `json:"type"`
	Payload  *Payload     `json:"payload,omitempty"`
	RoomID   string       `json:"roomID,omitempty"`
	Message  string       `json:"message,omitempty"`
	Move     *Move        `json:"move,omitempty"`
	Board    string       `json:"board,omitempty"`
	Turn     string       `json:"turn,omitempty"`
	AllMoves []MoveRecord `json:"AllMoves,omitempty"`
	Winner   string       `json:"winner,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// Payload carries the color assignment on init_game / room_joined.
type Payload struct {
	Color string `json:"color,omitempty"`
}

type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// MoveRecord is one entry of the AllMoves log.
type MoveRecord struct {
	Player   string    `json:"player"`
	MoveTime time.Time `json:"moveTime"`
	Move     Move      `json:"move"`
}
