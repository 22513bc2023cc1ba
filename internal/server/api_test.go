package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"jukebox/internal/engine"
	"jukebox/internal/platform"
	"jukebox/internal/playback"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeSearcher returns a fixed result.
type fakeSearcher struct {
	id         string
	err        error
	configured bool
	queries    []string
}

func (f *fakeSearcher) Name() string     { return "fake" }
func (f *fakeSearcher) Configured() bool { return f.configured }
func (f *fakeSearcher) Search(ctx context.Context, query string) (string, error) {
	f.queries = append(f.queries, query)
	return f.id, f.err
}

func seedTracks() []playback.Track {
	return []playback.Track{playback.NewTrack("Imagine", "John Lennon", "YkgkThdzX-8", 187, 0)}
}

func setupTestRouter(searcher platform.Searcher) (*gin.Engine, *Server) {
	srv := New(Options{
		AllowedOrigins: []string{"*"},
		Engine:         engine.Config{AutoAdvance: true},
		Seed:           seedTracks(),
		Searcher:       searcher,
	}, zerolog.Nop())
	return srv.Handler().(*gin.Engine), srv
}

func doJSON(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupTestRouter(&fakeSearcher{configured: true})

	w := doJSON(router, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "OK" {
		t.Errorf("expected status OK, got %s", resp.Status)
	}
	if resp.ConnectedClients != 0 {
		t.Errorf("expected 0 clients, got %d", resp.ConnectedClients)
	}
	if !resp.YouTubeAPIConfigured {
		t.Error("expected youtubeApiConfigured to be true")
	}
	if resp.Timestamp == "" {
		t.Error("expected timestamp")
	}
}

func TestHealthEndpoint_NoSearcher(t *testing.T) {
	router, _ := setupTestRouter(nil)

	var resp HealthResponse
	json.Unmarshal(doJSON(router, "GET", "/health", "").Body.Bytes(), &resp)
	if resp.YouTubeAPIConfigured {
		t.Error("expected youtubeApiConfigured to be false")
	}
}

func TestStateEndpoint(t *testing.T) {
	router, srv := setupTestRouter(nil)
	srv.Engine().Play("")

	for _, path := range []string{"/state", "/api/state"} {
		w := doJSON(router, "GET", path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, w.Code)
		}

		var resp StateResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if len(resp.Playlist) != 1 || resp.Playlist[0].Name != "Imagine" {
			t.Errorf("%s: unexpected playlist %+v", path, resp.Playlist)
		}
		if !resp.IsPlaying || resp.CurrentIndex != 0 {
			t.Errorf("%s: expected playing index 0, got %+v", path, resp.SyncState)
		}
		if resp.EffectivePosition < resp.Position {
			t.Errorf("%s: effective position %v behind stamped %v", path, resp.EffectivePosition, resp.Position)
		}
	}
}

func TestIndexEndpoint(t *testing.T) {
	router, _ := setupTestRouter(nil)

	w := doJSON(router, "GET", "/", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp IndexResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.CurrentSong != "Imagine - John Lennon" {
		t.Errorf("expected current song Imagine - John Lennon, got %s", resp.CurrentSong)
	}
	if resp.PlaylistLength != 1 {
		t.Errorf("expected playlist length 1, got %d", resp.PlaylistLength)
	}
}

func TestNotFound(t *testing.T) {
	router, _ := setupTestRouter(nil)

	w := doJSON(router, "GET", "/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		t.Errorf("expected JSON body, got %s", w.Header().Get("Content-Type"))
	}
}

func TestSearchEndpoint_Found(t *testing.T) {
	searcher := &fakeSearcher{id: "YkgkThdzX-8", configured: true}
	router, _ := setupTestRouter(searcher)

	for _, path := range []string{"/search", "/api/youtube-search"} {
		w := doJSON(router, "POST", path, `{"query":"Imagine John Lennon"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, w.Code)
		}

		var resp SearchResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.VideoID == nil || *resp.VideoID != "YkgkThdzX-8" {
			t.Errorf("%s: expected videoId YkgkThdzX-8, got %v", path, resp.VideoID)
		}
	}
	if len(searcher.queries) != 2 || searcher.queries[0] != "Imagine John Lennon" {
		t.Errorf("unexpected queries %v", searcher.queries)
	}
}

func TestSearchEndpoint_NoResult(t *testing.T) {
	router, _ := setupTestRouter(&fakeSearcher{configured: true})

	w := doJSON(router, "POST", "/search", `{"query":"zzz"}`)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"videoId":null`) {
		t.Errorf("expected null videoId, got %s", w.Body.String())
	}
}

func TestSearchEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name     string
		searcher platform.Searcher
		body     string
		want     int
	}{
		{"missing query", &fakeSearcher{configured: true}, `{}`, http.StatusBadRequest},
		{"blank query", &fakeSearcher{configured: true}, `{"query":"   "}`, http.StatusBadRequest},
		{"invalid json", &fakeSearcher{configured: true}, `{`, http.StatusBadRequest},
		{"no searcher", nil, `{"query":"q"}`, http.StatusInternalServerError},
		{"no key", &fakeSearcher{}, `{"query":"q"}`, http.StatusInternalServerError},
		{"quota", &fakeSearcher{configured: true, err: fmt.Errorf("%w: quota", platform.ErrQuotaExceeded)}, `{"query":"q"}`, http.StatusForbidden},
		{"timeout", &fakeSearcher{configured: true, err: platform.ErrTimeout}, `{"query":"q"}`, http.StatusRequestTimeout},
		{"upstream", &fakeSearcher{configured: true, err: platform.ErrUpstream}, `{"query":"q"}`, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := setupTestRouter(tt.searcher)

			w := doJSON(router, "POST", "/search", tt.body)
			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}

			var resp SearchResponse
			json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.Error == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"any", []string{"*"}, "http://example.com", "*"},
		{"listed", []string{"http://localhost:3000"}, "http://localhost:3000", "http://localhost:3000"},
		{"unlisted", []string{"http://localhost:3000"}, "http://evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(Options{AllowedOrigins: tt.allowed}, zerolog.Nop())

			req, _ := http.NewRequest("OPTIONS", "/search", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("expected status 204, got %d", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("expected allow origin %q, got %q", tt.want, got)
			}
		})
	}
}
