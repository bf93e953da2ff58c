package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/chess-relay/pkg/chessproto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// relaycheck dials a running relay, asks for a game and prints every frame it
// receives for a short window.
func main() {
	url := flag.String("url", os.Getenv("RELAY_URL"), "relay websocket URL, e.g. ws://localhost:8000/")
	room := flag.String("room", "", "join this room code instead of random matchmaking")
	create := flag.Bool("create", false, "create a private room")
	window := flag.Duration("window", 30*time.Second, "how long to observe")
	flag.Parse()

	if *url == "" {
		log.Fatal("RELAY_URL or -url is required")
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dcancel()
	conn, _, err := websocket.Dial(dctx, *url, nil)
	if err != nil {
		log.Fatalf("dial error: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	req := chessproto.Envelope{Type: chessproto.TypeInitGame}
	switch {
	case *room != "":
		req = chessproto.Envelope{Type: chessproto.TypeJoinRoom, RoomID: *room}
	case *create:
		req = chessproto.Envelope{Type: chessproto.TypeCreateRoom}
	}
	if err := wsjson.Write(dctx, conn, req); err != nil {
		log.Fatalf("write error: %v", err)
	}
	log.Printf("sent %s", req.Type)

	ctx, cancel := context.WithTimeout(context.Background(), *window)
	defer cancel()
	for {
		var env chessproto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			log.Printf("stopped: %v", err)
			return
		}
		fmt.Printf("%s room=%s color=%s winner=%s message=%q board=%s\n",
			env.Type, env.RoomID, colorOf(env), env.Winner, env.Message, env.Board)
	}
}

func colorOf(env chessproto.Envelope) string {
	if env.Payload == nil {
		return ""
	}
	return env.Payload.Color
}
