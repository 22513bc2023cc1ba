package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"jukebox/internal/engine"
	"jukebox/internal/playback"
	"jukebox/internal/protocol"
)

func startSocketServer(t *testing.T, seed []playback.Track) (*httptest.Server, *Server) {
	t.Helper()
	srv := New(Options{
		AllowedOrigins: []string{"http://localhost:3000"},
		Engine:         engine.Config{AutoAdvance: true},
		Seed:           seed,
	}, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Sessions().CloseAll()
		ts.Close()
	})
	return ts, srv
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func sendIntent(t *testing.T, conn *websocket.Conn, typ protocol.Type, reqID string, payload any) {
	t.Helper()
	msg, err := protocol.NewIntent(typ, reqID, payload)
	if err != nil {
		t.Fatalf("NewIntent() error = %v", err)
	}
	frame, _ := protocol.Encode(msg)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func waitForClients(t *testing.T, srv *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Sessions().Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, srv.Sessions().Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSocket_SyncOnConnect(t *testing.T) {
	ts, srv := startSocketServer(t, seedTracks())
	conn := dial(t, ts)

	msg := readMessage(t, conn)
	if msg.Type != protocol.TypeSyncState {
		t.Fatalf("expected sync-state, got %s", msg.Type)
	}
	var state protocol.SyncState
	if err := protocol.DecodePayload(msg, &state); err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if len(state.Playlist) != 1 || state.CurrentIndex != 0 || state.IsPlaying {
		t.Errorf("unexpected initial state %+v", state)
	}
	waitForClients(t, srv, 1)
}

func TestSocket_AddOnEmptyReachesOtherClient(t *testing.T) {
	ts, srv := startSocketServer(t, nil)
	a := dial(t, ts)
	b := dial(t, ts)
	readMessage(t, a)
	readMessage(t, b)
	waitForClients(t, srv, 2)

	sendIntent(t, a, protocol.TypeAddSong, "req-1", protocol.AddSong{Name: "Imagine", Artist: "John Lennon"})

	msg := readMessage(t, b)
	if msg.Type != protocol.TypePlaylistUpdated {
		t.Fatalf("expected playlist-updated, got %s", msg.Type)
	}
	if msg.RequestID != "req-1" {
		t.Errorf("expected request id req-1, got %q", msg.RequestID)
	}
	var pl protocol.PlaylistUpdated
	protocol.DecodePayload(msg, &pl)
	if len(pl.Playlist) != 1 || pl.Playlist[0].Name != "Imagine" {
		t.Errorf("unexpected playlist %+v", pl.Playlist)
	}
	if pl.Playlist[0].VideoID != nil {
		t.Errorf("expected source-less track, got %v", *pl.Playlist[0].VideoID)
	}

	msg = readMessage(t, b)
	if msg.Type != protocol.TypeSyncState {
		t.Fatalf("expected sync-state after first add, got %s", msg.Type)
	}
	var state protocol.SyncState
	protocol.DecodePayload(msg, &state)
	if state.CurrentIndex != 0 || state.IsPlaying {
		t.Errorf("expected paused at index 0, got %+v", state)
	}

	// The sender hears its own change too.
	if msg := readMessage(t, a); msg.Type != protocol.TypePlaylistUpdated || msg.RequestID != "req-1" {
		t.Errorf("expected echo of req-1, got %s %q", msg.Type, msg.RequestID)
	}
}

func TestSocket_PlayBroadcastsToAll(t *testing.T) {
	ts, srv := startSocketServer(t, seedTracks())
	a := dial(t, ts)
	b := dial(t, ts)
	readMessage(t, a)
	readMessage(t, b)
	waitForClients(t, srv, 2)

	sendIntent(t, b, protocol.TypePlay, "p1", nil)

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		if msg.Type != protocol.TypePlaybackChanged {
			t.Fatalf("expected playback-changed, got %s", msg.Type)
		}
		var pc protocol.PlaybackChanged
		protocol.DecodePayload(msg, &pc)
		if !pc.IsPlaying {
			t.Error("expected isPlaying true")
		}
	}
}

func TestSocket_URLVideoIDIsNormalized(t *testing.T) {
	ts, srv := startSocketServer(t, nil)
	conn := dial(t, ts)
	readMessage(t, conn)
	waitForClients(t, srv, 1)

	sendIntent(t, conn, protocol.TypeAddSong, "", protocol.AddSong{
		Name:    "Imagine",
		Artist:  "John Lennon",
		VideoID: "https://youtu.be/YkgkThdzX-8",
	})

	msg := readMessage(t, conn)
	var pl protocol.PlaylistUpdated
	protocol.DecodePayload(msg, &pl)
	if len(pl.Playlist) != 1 || pl.Playlist[0].VideoID == nil || *pl.Playlist[0].VideoID != "YkgkThdzX-8" {
		t.Errorf("expected normalized video id, got %+v", pl.Playlist)
	}
}

func TestSocket_InvalidFrameErrorsSenderOnly(t *testing.T) {
	ts, srv := startSocketServer(t, seedTracks())
	a := dial(t, ts)
	b := dial(t, ts)
	readMessage(t, a)
	readMessage(t, b)
	waitForClients(t, srv, 2)

	sendIntent(t, a, protocol.TypeAddSong, "bad", protocol.AddSong{Name: "Imagine"})

	msg := readMessage(t, a)
	if msg.Type != protocol.TypeError || msg.RequestID != "bad" {
		t.Fatalf("expected error for bad, got %s %q", msg.Type, msg.RequestID)
	}

	// b must see nothing until the next real change.
	sendIntent(t, a, protocol.TypePlay, "ok", nil)
	if msg := readMessage(t, b); msg.Type != protocol.TypePlaybackChanged || msg.RequestID != "ok" {
		t.Errorf("expected playback-changed ok, got %s %q", msg.Type, msg.RequestID)
	}
}

func TestSocket_OutOfRangeIsNoOp(t *testing.T) {
	ts, srv := startSocketServer(t, seedTracks())
	conn := dial(t, ts)
	readMessage(t, conn)
	waitForClients(t, srv, 1)

	sendIntent(t, conn, protocol.TypeChangeSong, "oob", protocol.Index{Index: 7})
	sendIntent(t, conn, protocol.TypePlay, "play", nil)
	msg := readMessage(t, conn)
	if msg.RequestID != "play" {
		t.Errorf("expected first event from play, got %s %q", msg.Type, msg.RequestID)
	}
	if got := srv.Engine().Snapshot().CurrentIndex; got != 0 {
		t.Errorf("expected index 0, got %d", got)
	}
}

func TestSocket_NegativeIndexIsSilent(t *testing.T) {
	ts, srv := startSocketServer(t, seedTracks())
	a := dial(t, ts)
	b := dial(t, ts)
	readMessage(t, a)
	readMessage(t, b)
	waitForClients(t, srv, 2)

	sendIntent(t, a, protocol.TypeRemoveSong, "neg-remove", protocol.Index{Index: -1})
	sendIntent(t, a, protocol.TypeChangeSong, "neg-change", protocol.Index{Index: -1})
	sendIntent(t, a, protocol.TypePlay, "play", nil)

	// Neither the sender nor the other listener hears anything before play.
	for _, conn := range []*websocket.Conn{a, b} {
		if msg := readMessage(t, conn); msg.Type != protocol.TypePlaybackChanged || msg.RequestID != "play" {
			t.Errorf("expected playback-changed play first, got %s %q", msg.Type, msg.RequestID)
		}
	}
	if got := len(srv.Engine().Snapshot().Playlist); got != 1 {
		t.Errorf("expected playlist untouched, got %d tracks", got)
	}
}

func TestSocket_NegativeSeekClampsToStart(t *testing.T) {
	ts, srv := startSocketServer(t, seedTracks())
	conn := dial(t, ts)
	readMessage(t, conn)
	waitForClients(t, srv, 1)

	srv.Engine().Seek("", 50)
	if msg := readMessage(t, conn); msg.Type != protocol.TypePlaybackChanged {
		t.Fatalf("expected playback-changed, got %s", msg.Type)
	}

	sendIntent(t, conn, protocol.TypeSeek, "rewind", protocol.Seconds{Seconds: -5})

	msg := readMessage(t, conn)
	if msg.Type != protocol.TypePlaybackChanged || msg.RequestID != "rewind" {
		t.Fatalf("expected playback-changed rewind, got %s %q", msg.Type, msg.RequestID)
	}
	var pc protocol.PlaybackChanged
	protocol.DecodePayload(msg, &pc)
	if pc.Position != 0 {
		t.Errorf("Position = %v, want 0", pc.Position)
	}
	if got := srv.Engine().Snapshot().Position; got != 0 {
		t.Errorf("engine position = %v, want 0", got)
	}
}

func TestSocket_DisconnectUnregisters(t *testing.T) {
	ts, srv := startSocketServer(t, nil)
	conn := dial(t, ts)
	readMessage(t, conn)
	waitForClients(t, srv, 1)

	conn.Close()
	waitForClients(t, srv, 0)
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{[]string{"*"}, "http://anything", true},
		{[]string{"http://localhost:3000"}, "", true},
		{[]string{"http://localhost:3000"}, "http://localhost:3000", true},
		{[]string{"http://localhost:3000/"}, "http://LOCALHOST:3000", true},
		{[]string{"http://localhost:3000"}, "http://localhost:4000", false},
		{nil, "http://localhost:3000", false},
	}

	for _, tt := range tests {
		if got := originAllowed(tt.allowed, tt.origin); got != tt.want {
			t.Errorf("originAllowed(%v, %q) = %v, want %v", tt.allowed, tt.origin, got, tt.want)
		}
	}
}
