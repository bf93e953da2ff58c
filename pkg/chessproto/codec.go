package chessproto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// inbound lists the kinds a client may send.
var inbound = map[string]struct{}{
	TypeInitGame:     {},
	TypeCreateRoom:   {},
	TypeJoinRoom:     {},
	TypeMove:         {},
	TypeGameOver:     {},
	TypeResign:       {},
	TypeOfferDraw:    {},
	TypeDrawAccepted: {},
	TypeDrawRejected: {},
}

// Decode parses a client frame and checks the fields its kind requires.
func Decode(raw []byte) (*Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if _, ok := inbound[env.Type]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	switch env.Type {
	case TypeMove:
		if env.Move == nil || strings.TrimSpace(env.Move.From) == "" || strings.TrimSpace(env.Move.To) == "" {
			return nil, fmt.Errorf("%w: move requires from and to", ErrMalformed)
		}
	case TypeJoinRoom:
		if strings.TrimSpace(env.RoomID) == "" {
			return nil, fmt.Errorf("%w: join_room requires roomID", ErrMalformed)
		}
	}
	return &env, nil
}

// Encode renders an outbound envelope.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil || env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return json.Marshal(env)
}
