package playback

import (
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func tracks(names ...string) []Track {
	out := make([]Track, len(names))
	for i, n := range names {
		out[i] = NewTrack(n, "Artist", "", 0, 0)
	}
	return out
}

func TestNew(t *testing.T) {
	empty := New(nil, t0)
	if empty.CurrentIndex != NoTrack || empty.Playlist == nil {
		t.Errorf("empty state = %+v", empty)
	}

	s := New(tracks("a", "b"), t0)
	if s.CurrentIndex != 0 || s.IsPlaying || s.Position != 0 {
		t.Errorf("seeded state = %+v", s)
	}
	if !s.LastUpdate.Equal(t0) {
		t.Errorf("LastUpdate = %v, want %v", s.LastUpdate, t0)
	}
}

func TestNewTrack_Defaults(t *testing.T) {
	tr := NewTrack("  Imagine ", "John Lennon", "", 0, 0)
	if tr.Name != "Imagine" {
		t.Errorf("expected trimmed name, got %q", tr.Name)
	}
	if tr.Duration != DefaultDuration {
		t.Errorf("Duration = %d, want %d", tr.Duration, DefaultDuration)
	}
	if tr.VideoID != nil || tr.HasSource() {
		t.Error("expected source-less track")
	}
	if tr.ID == "" {
		t.Error("expected an id")
	}

	withVideo := NewTrack("Imagine", "John Lennon", "YkgkThdzX-8", 200, 0)
	if !withVideo.HasSource() || *withVideo.VideoID != "YkgkThdzX-8" || withVideo.Duration != 200 {
		t.Errorf("unexpected track %+v", withVideo)
	}
}

func TestAddTrack_FirstSelects(t *testing.T) {
	s := New(nil, t0)

	if !s.AddTrack(NewTrack("Imagine", "John Lennon", "", 0, 0), t0.Add(time.Second)) {
		t.Fatal("expected add to apply")
	}
	if s.CurrentIndex != 0 {
		t.Errorf("CurrentIndex = %d, want 0", s.CurrentIndex)
	}
	if s.IsPlaying {
		t.Error("expected not playing")
	}

	s.AddTrack(NewTrack("Yesterday", "The Beatles", "", 0, 0), t0)
	if s.CurrentIndex != 0 || len(s.Playlist) != 2 {
		t.Errorf("second add moved cursor: %+v", s)
	}
}

func TestAddTrack_Rejects(t *testing.T) {
	s := New(nil, t0)
	bad := []Track{
		{Name: "", Artist: "x", Duration: 10},
		{Name: "x", Artist: " ", Duration: 10},
		{Name: "x", Artist: "y", Duration: 0},
	}
	for _, tr := range bad {
		if s.AddTrack(tr, t0) {
			t.Errorf("expected %+v to be rejected", tr)
		}
	}
	if len(s.Playlist) != 0 {
		t.Error("playlist should be unchanged")
	}
}

func TestNextPrevious_Wrap(t *testing.T) {
	s := New(tracks("a", "b", "c"), t0)

	s.ChangeSong(2, t0)
	s.Next(t0)
	if s.CurrentIndex != 0 {
		t.Errorf("next from 2 = %d, want 0", s.CurrentIndex)
	}

	s.Previous(t0)
	if s.CurrentIndex != 2 {
		t.Errorf("previous from 0 = %d, want 2", s.CurrentIndex)
	}

	// Any sequence stays in range.
	moves := []bool{true, true, false, true, false, false, false, true, true, true, true}
	for _, next := range moves {
		if next {
			s.Next(t0)
		} else {
			s.Previous(t0)
		}
		if s.CurrentIndex < 0 || s.CurrentIndex > 2 {
			t.Fatalf("index out of range: %d", s.CurrentIndex)
		}
	}
}

func TestNextPrevious_Empty(t *testing.T) {
	s := New(nil, t0)
	if s.Next(t0) || s.Previous(t0) {
		t.Error("expected no-op on empty playlist")
	}
	if s.CurrentIndex != NoTrack {
		t.Errorf("CurrentIndex = %d", s.CurrentIndex)
	}
}

func TestChangeSong_ResetsPosition(t *testing.T) {
	s := New(tracks("a", "b"), t0)
	s.Seek(30, t0)

	if !s.ChangeSong(1, t0.Add(time.Second)) {
		t.Fatal("expected change to apply")
	}
	if s.Position != 0 {
		t.Errorf("Position = %v, want 0", s.Position)
	}
	if s.ChangeSong(2, t0) || s.ChangeSong(-1, t0) {
		t.Error("expected out of range change to be a no-op")
	}
}

func TestRemoveTrack(t *testing.T) {
	tests := []struct {
		name          string
		playlist      []string
		current       int
		playing       bool
		remove        int
		wantApplied   bool
		wantIndex     int
		wantPlaying   bool
		wantSelection string
	}{
		{"only track while playing", []string{"a"}, 0, true, 0, true, NoTrack, false, ""},
		{"before current", []string{"a", "b", "c"}, 2, true, 0, true, 1, true, "c"},
		{"after current", []string{"a", "b", "c"}, 0, false, 2, true, 0, false, "a"},
		{"current in middle", []string{"a", "b", "c"}, 1, true, 1, true, 1, true, "c"},
		{"current at end wraps", []string{"a", "b", "c"}, 2, false, 2, true, 0, false, "a"},
		{"out of range", []string{"a"}, 0, false, 5, false, 0, false, "a"},
		{"negative", []string{"a"}, 0, false, -1, false, 0, false, "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tracks(tt.playlist...), t0)
			s.ChangeSong(tt.current, t0)
			if tt.playing {
				s.Play(t0)
			}

			now := t0.Add(time.Minute)
			applied := s.RemoveTrack(tt.remove, now)
			if applied != tt.wantApplied {
				t.Fatalf("applied = %v, want %v", applied, tt.wantApplied)
			}
			if s.CurrentIndex != tt.wantIndex {
				t.Errorf("CurrentIndex = %d, want %d", s.CurrentIndex, tt.wantIndex)
			}
			if s.IsPlaying != tt.wantPlaying {
				t.Errorf("IsPlaying = %v, want %v", s.IsPlaying, tt.wantPlaying)
			}
			if cur, ok := s.Current(); ok && cur.Name != tt.wantSelection {
				t.Errorf("selected %q, want %q", cur.Name, tt.wantSelection)
			}
			if applied && !s.LastUpdate.Equal(now) {
				t.Error("expected LastUpdate to be stamped")
			}
			if !s.Valid() {
				t.Errorf("invariants broken: %+v", s)
			}
		})
	}
}

func TestRemoveTrack_BeforeCurrentKeepsPosition(t *testing.T) {
	s := New(tracks("a", "b"), t0)
	s.ChangeSong(1, t0)
	s.Seek(42, t0)

	s.RemoveTrack(0, t0.Add(time.Second))
	if s.CurrentIndex != 0 || s.Position != 42 {
		t.Errorf("got index %d position %v, want 0 and 42", s.CurrentIndex, s.Position)
	}
}

func TestPlayPause(t *testing.T) {
	empty := New(nil, t0)
	if empty.Play(t0) || empty.Pause(t0) {
		t.Error("expected play/pause to no-op on empty playlist")
	}
	if empty.IsPlaying {
		t.Error("empty playlist must never play")
	}

	s := New(tracks("a"), t0)
	s.Play(t0)
	s.Pause(t0.Add(4 * time.Second))
	if s.IsPlaying {
		t.Error("expected paused")
	}
	if s.Position != 4 {
		t.Errorf("Position = %v, want 4", s.Position)
	}
	if !s.LastUpdate.Equal(t0.Add(4 * time.Second)) {
		t.Error("expected pause to stamp LastUpdate")
	}
}

func TestSeek_Clamps(t *testing.T) {
	s := New([]Track{NewTrack("a", "b", "", 100, 0)}, t0)

	s.Seek(250, t0)
	if s.Position != 100 {
		t.Errorf("Position = %v, want 100", s.Position)
	}
	s.Seek(-5, t0)
	if s.Position != 0 {
		t.Errorf("Position = %v, want 0", s.Position)
	}

	empty := New(nil, t0)
	if empty.Seek(10, t0) {
		t.Error("expected seek on empty playlist to no-op")
	}
}

func TestAdvance(t *testing.T) {
	s := New([]Track{NewTrack("a", "b", "", 10, 0)}, t0)

	if s.Advance(t0.Add(time.Second)) || s.Position != 0 {
		t.Error("paused state must not advance")
	}

	s.Play(t0)
	for i := 1; i <= 3; i++ {
		s.Advance(t0.Add(time.Duration(i) * time.Second))
	}
	if s.Position != 3 {
		t.Errorf("Position = %v, want 3", s.Position)
	}

	if !s.Advance(t0.Add(12 * time.Second)) {
		t.Error("expected end of track")
	}
	s.ClampToEnd(t0.Add(12 * time.Second))
	if s.Position != 10 {
		t.Errorf("Position = %v, want 10", s.Position)
	}
}

func TestStep(t *testing.T) {
	s := New([]Track{NewTrack("a", "b", "", 2, 0)}, t0)
	s.Play(t0)

	if s.Step(time.Second, t0) {
		t.Error("track should not have ended after one step")
	}
	if !s.Step(time.Second, t0) {
		t.Error("expected end after two steps")
	}
}

func TestNormalize(t *testing.T) {
	s := State{CurrentIndex: 3, IsPlaying: true, Position: 12}
	s.Normalize()
	if s.CurrentIndex != NoTrack || s.IsPlaying || s.Position != 0 || s.Playlist == nil {
		t.Errorf("normalized empty = %+v", s)
	}

	s = State{Playlist: tracks("a", "b"), CurrentIndex: 7, Position: 9}
	s.Normalize()
	if s.CurrentIndex != 0 || s.Position != 0 {
		t.Errorf("normalized = %+v", s)
	}
}

func TestClone_IsDeep(t *testing.T) {
	s := New([]Track{NewTrack("a", "b", "vid00000001", 0, 0)}, t0)
	c := s.Clone()

	c.Playlist[0].Name = "changed"
	*c.Playlist[0].VideoID = "other"
	if s.Playlist[0].Name != "a" || *s.Playlist[0].VideoID != "vid00000001" {
		t.Error("clone shares memory with original")
	}
}
