package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/chess-relay/internal/archive"
	"github.com/park285/chess-relay/internal/match"
	"github.com/park285/chess-relay/internal/relay"
	"github.com/park285/chess-relay/pkg/chessproto"
	"nhooyr.io/websocket"
)

func newTestServer(t *testing.T) (*Server, *match.Coordinator, string) {
	t.Helper()
	coord := match.New(relay.NewRegistry(nil))
	srv := New(coord, Options{PingInterval: time.Minute})
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return srv, coord, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func write(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, c *websocket.Conn) chessproto.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("unexpected frame type %v", typ)
	}
	var env chessproto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPairMoveAndDisconnect(t *testing.T) {
	_, coord, url := newTestServer(t)
	a := dial(t, url)
	b := dial(t, url)
	waitFor(t, func() bool { return coord.Stats().Connections == 2 })

	write(t, a, `{"type":"init_game"}`)
	waitFor(t, func() bool { return coord.Stats().Waiting == 1 })
	write(t, b, `{"type":"init_game"}`)
	if env := read(t, a); env.Type != chessproto.TypeInitGame || env.Payload.Color != "white" {
		t.Fatalf("a got %+v", env)
	}
	if env := read(t, b); env.Type != chessproto.TypeInitGame || env.Payload.Color != "black" {
		t.Fatalf("b got %+v", env)
	}

	// binary frames are ignored
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	_ = a.Write(ctx, websocket.MessageBinary, []byte(`{"type":"resign"}`))
	cancel()

	write(t, a, `{"type":"move","move":{"from":"e2","to":"e4"}}`)
	ea, eb := read(t, a), read(t, b)
	if ea.Type != chessproto.TypeMove || ea.Board != eb.Board || ea.Turn != "b" {
		t.Fatalf("move broadcast a=%+v b=%+v", ea, eb)
	}

	_ = a.Close(websocket.StatusNormalClosure, "bye")
	env := read(t, b)
	if env.Type != chessproto.TypeGameOver || env.Winner != "Black" || env.Reason != "abandoned" {
		t.Fatalf("b got %+v", env)
	}
	waitFor(t, func() bool { st := coord.Stats(); return st.Connections == 1 && st.Sessions == 0 })
}

func TestShutdownClosesConnections(t *testing.T) {
	srv, coord, url := newTestServer(t)
	c := dial(t, url)
	waitFor(t, func() bool { return srv.Count() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Shutdown(ctx) }()

	rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rcancel()
	_, _, err := c.Read(rctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("expected going-away close, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if srv.Count() != 0 || coord.Stats().Connections != 0 {
		t.Fatalf("connections left after shutdown")
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dcancel()
	if _, _, err := websocket.Dial(dctx, url, nil); err == nil {
		t.Fatalf("upgrades must be refused after shutdown")
	}
}

type recordingArchiver struct {
	mu      sync.Mutex
	records []archive.Record
}

func (r *recordingArchiver) Submit(rec archive.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingArchiver) all() []archive.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]archive.Record(nil), r.records...)
}

func TestShutdownAbortsLiveGameWithoutWinner(t *testing.T) {
	arch := &recordingArchiver{}
	coord := match.New(relay.NewRegistry(nil), match.WithArchiver(arch))
	srv := New(coord, Options{PingInterval: time.Minute})
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	url := "ws" + strings.TrimPrefix(hs.URL, "http")

	a, b := dial(t, url), dial(t, url)
	write(t, a, `{"type":"init_game"}`)
	waitFor(t, func() bool { return coord.Stats().Waiting == 1 })
	write(t, b, `{"type":"init_game"}`)
	read(t, a)
	read(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	coord.Shutdown(ctx)
	done := make(chan error, 1)
	go func() { done <- srv.Shutdown(ctx) }()

	for name, c := range map[string]*websocket.Conn{"a": a, "b": b} {
		env := read(t, c)
		if env.Type != chessproto.TypeGameOver || env.Winner != "" || env.Reason != "server_shutdown" {
			t.Fatalf("%s got %+v", name, env)
		}
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _, err := c.Read(rctx)
		rcancel()
		if websocket.CloseStatus(err) != websocket.StatusGoingAway {
			t.Fatalf("%s: expected going-away close, got %v", name, err)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	recs := arch.all()
	if len(recs) != 1 {
		t.Fatalf("records = %+v", recs)
	}
	if recs[0].Result != "" || recs[0].State != "ABORTED" || recs[0].Method != "server_shutdown" {
		t.Fatalf("archived after shutdown: %+v", recs[0])
	}
}

func TestConnFlush(t *testing.T) {
	c := newConn(nil, 2)
	_ = c.Send([]byte("a"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	c.flush(ctx)
	cancel()
	if len(c.out) != 1 {
		t.Fatalf("flush must not drop frames")
	}

	go func() {
		<-c.out
		time.Sleep(20 * time.Millisecond)
		c.written()
	}()
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.flush(ctx)
	if ctx.Err() != nil {
		t.Fatalf("flush did not return after the queue drained")
	}
}

func TestConnSendQueue(t *testing.T) {
	c := newConn(nil, 1)
	if err := c.Send([]byte("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send([]byte("b")); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("expected ErrSendQueueFull, got %v", err)
	}
	c.markClosed()
	c.markClosed()
	if err := c.Send([]byte("c")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if c.ID() == "" {
		t.Fatalf("connection id must be set")
	}
}
