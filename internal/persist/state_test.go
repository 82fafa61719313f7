package persist

import (
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

type syncState struct {
	AutoSync     bool      `json:"autoSync"`
	LastSyncTime time.Time `json:"lastSyncTime"`
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestOpen_DefaultWhenMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open("sync", syncState{AutoSync: true}, Options{Fs: fs, Dir: "/state", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if !s.Get().AutoSync {
		t.Error("Get().AutoSync = false, want default true")
	}
	if exists, _ := afero.Exists(fs, "/state/sync.json"); exists {
		t.Error("state file written before any Set")
	}
}

func TestSet_DebouncesWrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	s, err := Open("counter", 0, Options{Fs: fs, Dir: "/state", Debounce: 20 * time.Millisecond, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	for i := 1; i <= 10; i++ {
		s.Set(i)
	}
	if s.Get() != 10 {
		t.Errorf("Get() = %d, want 10 immediately", s.Get())
	}

	time.Sleep(100 * time.Millisecond)

	data, err := afero.ReadFile(fs, "/state/counter.json")
	if err != nil {
		t.Fatalf("state file not written: %v", err)
	}
	var got int
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got != 10 {
		t.Errorf("persisted = %d, want 10", got)
	}
}

func TestFlushAndReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := Options{Fs: fs, Dir: "/state", Debounce: time.Hour, Logger: quietLogger()}

	s, err := Open("sync", syncState{AutoSync: true}, opts)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	ts := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	s.Update(func(v syncState) syncState {
		v.AutoSync = false
		v.LastSyncTime = ts
		return v
	})
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open("sync", syncState{AutoSync: true}, opts)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer reopened.Close()

	got := reopened.Get()
	if got.AutoSync || !got.LastSyncTime.Equal(ts) {
		t.Errorf("reopened value = %+v", got)
	}
}

func TestOpen_CorruptFileUsesDefault(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/state/sync.json", []byte("{not json"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	s, err := Open("sync", syncState{AutoSync: true}, Options{Fs: fs, Dir: "/state", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if !s.Get().AutoSync {
		t.Error("corrupt state not replaced by default")
	}
}

func TestSubscribe(t *testing.T) {
	s, err := Open("flag", false, Options{Fs: afero.NewMemMapFs(), Dir: "/state", Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	var seen []bool
	unsubscribe := s.Subscribe(func(v bool) { seen = append(seen, v) })
	s.Set(true)
	unsubscribe()
	s.Set(false)

	if len(seen) != 1 || !seen[0] {
		t.Errorf("seen = %v, want [true]", seen)
	}
}

func TestFileNotifier_PropagatesExternalChanges(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	notifier, err := NewFileNotifier(dir, quietLogger())
	if err != nil {
		t.Fatalf("NewFileNotifier() failed: %v", err)
	}
	defer notifier.Close()

	opts := Options{Dir: dir, Debounce: 5 * time.Millisecond, Logger: quietLogger()}

	// reader observes changes through the notifier; writer plays the other process.
	readerOpts := opts
	readerOpts.Notifier = notifier
	reader, err := Open("prefs", "light", readerOpts)
	if err != nil {
		t.Fatalf("Open(reader) failed: %v", err)
	}
	defer reader.Close()

	changed := make(chan string, 4)
	reader.Subscribe(func(v string) { changed <- v })

	writer, err := Open("prefs", "light", opts)
	if err != nil {
		t.Fatalf("Open(writer) failed: %v", err)
	}
	defer writer.Close()
	writer.Set("dark")
	if err := writer.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	select {
	case v := <-changed:
		if v != "dark" {
			t.Errorf("reader saw %q, want dark", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not observe the external change")
	}
	if reader.Get() != "dark" {
		t.Errorf("reader.Get() = %q, want dark", reader.Get())
	}
}

func TestKeyFromPath(t *testing.T) {
	tests := []struct {
		path string
		key  string
		ok   bool
	}{
		{"/s/sync.json", "sync", true},
		{"/s/.sync.json.tmp", "", false},
		{"/s/sync.json.lock", "", false},
		{"/s/notes.txt", "", false},
	}
	for _, tt := range tests {
		key, ok := keyFromPath(tt.path)
		if key != tt.key || ok != tt.ok {
			t.Errorf("keyFromPath(%q) = (%q, %v), want (%q, %v)", tt.path, key, ok, tt.key, tt.ok)
		}
	}
}
