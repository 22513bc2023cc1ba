// Package client connects a listener to a jukebox server. It feeds server
// events into a reflector, sends the intents the reflector produces and
// falls back to offline playback when the server cannot be reached.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"jukebox/internal/protocol"
	"jukebox/internal/reflector"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxRetries    = 3
	DefaultBackoffBase   = 2 * time.Second
	DefaultBackoffMax    = 10 * time.Second
	DefaultSearchTimeout = 10 * time.Second
	NotificationTTL      = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrSearch       = errors.New("search failed")
)

// Status is the connection state shown to the listener.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusOffline    Status = "offline"
)

// Level grades a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a short message for the listener. It should be
// dismissed after TTL.
type Notification struct {
	Level   Level
	Message string
	TTL     time.Duration
}

// Notifier receives status changes and notifications.
type Notifier interface {
	SetStatus(Status)
	Notify(Notification)
}

// Config holds client settings.
type Config struct {
	ServerURL     string // http(s) base URL of the server
	MaxRetries    int    // reconnect attempts before staying offline; negative means 0
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	SearchTimeout time.Duration
	HTTPClient    *http.Client
	Dialer        *websocket.Dialer
}

// Client is one listener's connection.
type Client struct {
	cfg      Config
	refl     *reflector.Reflector
	notifier Notifier
	log      zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	status Status

	writeMu sync.Mutex
}

// New creates a client. notifier may be nil.
func New(cfg Config, refl *reflector.Reflector, notifier Notifier, log zerolog.Logger) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Client{
		cfg:      cfg,
		refl:     refl,
		notifier: notifier,
		log:      log,
		status:   StatusOffline,
	}
}

// Reflector returns the local state this client drives.
func (c *Client) Reflector() *reflector.Reflector { return c.refl }

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Backoff is the wait before reconnect attempt n (starting at 1): base
// doubled per attempt, capped at max.
func Backoff(n int, base, ceiling time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

// Run connects and reconnects until ctx is cancelled. After MaxRetries
// consecutive failures it stays offline for good and keeps playing
// locally. Run returns nil when ctx ends.
func (c *Client) Run(ctx context.Context) error {
	failures := 0
	for {
		c.setStatus(StatusConnecting)
		conn, err := c.dial(ctx)
		if err == nil {
			if failures > 0 {
				c.notify(LevelSuccess, "Reconnected to server")
			} else {
				c.notify(LevelSuccess, "Connected to server")
			}
			failures = 0
			c.attach(conn)
			err = c.readLoop(ctx, conn)
			c.detach()
		}

		if ctx.Err() != nil {
			return nil
		}

		c.log.Warn().Err(err).Int("attempt", failures+1).Msg("connection failed")
		c.refl.GoOffline(ctx)
		c.setStatus(StatusOffline)

		failures++
		if failures > c.cfg.MaxRetries {
			c.notify(LevelError, "Server unavailable, playing offline")
			<-ctx.Done()
			return nil
		}

		wait := Backoff(failures, c.cfg.BackoffBase, c.cfg.BackoffMax)
		c.notify(LevelError, fmt.Sprintf("Disconnected from server, retrying in %s (%d/%d)", wait, failures, c.cfg.MaxRetries))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := SocketURL(c.cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	conn, _, err := c.cfg.Dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return conn, nil
}

// attach makes conn the live connection. The reflector goes online before
// the first frame is read so the sync-state is accepted.
func (c *Client) attach(conn *websocket.Conn) {
	c.refl.GoOnline()

	c.mu.Lock()
	c.conn = conn
	c.status = StatusConnected
	c.mu.Unlock()
	c.notifier.SetStatus(StatusConnected)
}

func (c *Client) detach() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("bad frame from server")
			continue
		}
		if !msg.Type.IsEvent() {
			c.log.Warn().Str("type", string(msg.Type)).Msg("unexpected frame from server")
			continue
		}
		if msg.Type == protocol.TypeError {
			var e protocol.ErrorEvent
			protocol.DecodePayload(msg, &e)
			c.notify(LevelError, "Server rejected request: "+e.Message)
		}
		c.refl.Receive(msg)
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	changed := c.status != s
	c.status = s
	c.mu.Unlock()

	if changed {
		c.notifier.SetStatus(s)
	}
}

func (c *Client) notify(level Level, message string) {
	c.notifier.Notify(Notification{Level: level, Message: message, TTL: NotificationTTL})
}

// send writes msg on the live connection.
func (c *Client) send(msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// dispatch sends what a reflector action produced, if anything.
func (c *Client) dispatch(msg protocol.Message, send bool) {
	if !send {
		return
	}
	if err := c.send(msg); err != nil {
		c.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("send intent")
		c.notify(LevelError, "Could not reach server: "+string(msg.Type))
	}
}

// AddSong queues a track. While connected the server is asked for a
// matching video first; when that fails the track is queued without one.
func (c *Client) AddSong(ctx context.Context, name, artist string) {
	var videoID string
	if c.Status() == StatusConnected {
		id, err := c.Search(ctx, strings.TrimSpace(name+" "+artist))
		switch {
		case err != nil:
			c.log.Warn().Err(err).Msg("search")
			c.notify(LevelError, "No video found, added without playback")
		case id == "":
			c.notify(LevelInfo, "No video found, added without playback")
		default:
			videoID = id
		}
	}

	msg, send := c.refl.AddTrack(name, artist, videoID, 0)
	c.dispatch(msg, send)
}

// searchResponse is the body returned by POST /search.
type searchResponse struct {
	VideoID *string `json:"videoId"`
	Error   string  `json:"error"`
}

// Search asks the server for the top video matching query. It returns ""
// when nothing matched.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(c.cfg.ServerURL, "/") + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSearch, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSearch, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSearch, err)
	}

	var out searchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: status %d", ErrSearch, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrSearch, resp.StatusCode, out.Error)
	}
	if out.VideoID == nil {
		return "", nil
	}
	return *out.VideoID, nil
}

// Play starts playback.
func (c *Client) Play() { c.dispatch(c.refl.Play()) }

// Pause pauses playback.
func (c *Client) Pause() { c.dispatch(c.refl.Pause()) }

// Seek moves within the current track.
func (c *Client) Seek(seconds float64) { c.dispatch(c.refl.Seek(seconds)) }

// Next selects the following track.
func (c *Client) Next() { c.dispatch(c.refl.NextSong()) }

// Previous selects the preceding track.
func (c *Client) Previous() { c.dispatch(c.refl.PreviousSong()) }

// ChangeSong selects the track at index.
func (c *Client) ChangeSong(index int) { c.dispatch(c.refl.ChangeSong(index)) }

// RemoveSong removes the track at index.
func (c *Client) RemoveSong(index int) { c.dispatch(c.refl.RemoveTrack(index)) }

// ReportPosition tells the server where the local player is.
func (c *Client) ReportPosition(seconds float64) { c.dispatch(c.refl.TimeUpdate(seconds)) }

// SetVolume changes the local volume.
func (c *Client) SetVolume(v int) { c.refl.SetVolume(v) }

// SocketURL turns the server's base URL into its WebSocket endpoint.
func SocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server url %q: unsupported scheme", serverURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server url %q: missing host", serverURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

type nopNotifier struct{}

func (nopNotifier) SetStatus(Status)    {}
func (nopNotifier) Notify(Notification) {}
