package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/zawalid/watchfolio/internal/library/schema"
	"github.com/zawalid/watchfolio/internal/library/store"
	"github.com/zawalid/watchfolio/internal/persist"
	"github.com/zawalid/watchfolio/internal/remote"
)

const testUser = "user-1"

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newTestEngine opens a store in a temp dir and an engine against mem.
// Auto-sync uses a one hour debounce so that only Flush triggers it.
func newTestEngine(t *testing.T, mem *remote.MemoryBackend) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "library.db"), store.WithLogger(quiet()))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}

	var adapter *remote.Adapter
	if mem != nil {
		adapter = remote.NewAdapter(mem, quiet())
	}
	e, err := New(st, adapter, &Config{
		UserID:           testUser,
		DebounceInterval: time.Hour,
		Logger:           quiet(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() {
		e.Close()
		st.Close()
	})
	return e, st
}

func addItem(t *testing.T, st *store.Store, mt schema.MediaType, id int, status schema.Status) {
	t.Helper()
	_, err := st.AddOrUpdateItem(context.Background(), schema.ItemPatch{
		MediaType: mt,
		TMDBID:    id,
		Status:    schema.Ptr(status),
	})
	if err != nil {
		t.Fatalf("AddOrUpdateItem(%s-%d) failed: %v", mt, id, err)
	}
}

func cloudItem(mt schema.MediaType, id int, status schema.Status) *schema.LibraryItem {
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	return &schema.LibraryItem{
		ID:            schema.ItemID(mt, id),
		TMDBID:        id,
		MediaType:     mt,
		Status:        status,
		Title:         "Cloud " + schema.ItemID(mt, id),
		AddedAt:       ts,
		LastUpdatedAt: ts,
	}
}

func cloudLibrary(t *testing.T, mem *remote.MemoryBackend) string {
	t.Helper()
	lib, err := mem.LibraryForUser(context.Background(), testUser)
	if err != nil {
		t.Fatalf("LibraryForUser() failed: %v", err)
	}
	return lib.ID
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, nil, nil); err == nil {
		t.Error("New() with nil store should fail")
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	defer st.Close()
	if _, err := New(st, nil, &Config{}); err == nil {
		t.Error("New() without user id should fail")
	}
}

func TestGateClosed_IsNoOp(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	ctx := context.Background()
	addItem(t, st, schema.MediaMovie, 603, schema.StatusWatching)

	// Online but never authenticated.
	if e.CanSync() {
		t.Fatal("CanSync() = true before authentication")
	}

	if err := e.SyncToCloud(ctx); err != nil {
		t.Errorf("SyncToCloud() error = %v", err)
	}
	if _, err := e.SyncFromCloud(ctx, MergeOptions{}); err != nil {
		t.Errorf("SyncFromCloud() error = %v", err)
	}
	if err := e.TriggerSync(ctx); err != nil {
		t.Errorf("TriggerSync() error = %v", err)
	}
	if err := e.RemoveFromCloud(ctx, schema.MediaMovie, 603); err != nil {
		t.Errorf("RemoveFromCloud() error = %v", err)
	}
	if _, err := e.ClearRemote(ctx); err != nil {
		t.Errorf("ClearRemote() error = %v", err)
	}
	if _, err := e.CompareWithCloud(ctx); err != nil {
		t.Errorf("CompareWithCloud() error = %v", err)
	}
	if err := e.SyncItem(ctx, cloudItem(schema.MediaMovie, 603, schema.StatusWatching)); err != nil {
		t.Errorf("SyncItem() error = %v", err)
	}

	if n := mem.TotalCalls(); n != 0 {
		t.Errorf("remote calls = %d, want 0", n)
	}
	status := e.Status()
	if status.Error != "" || status.LastSyncTime != nil || status.IsSyncing {
		t.Errorf("status changed while gate closed: %+v", status)
	}
}

func TestSyncToCloud_PushesEveryItem(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	ctx := context.Background()
	libID := cloudLibrary(t, mem)
	mem.Put(libID, cloudItem(schema.MediaTV, 99, schema.StatusDropped))

	e.SetAutoSync(false)
	e.SetAuthenticated(true)
	addItem(t, st, schema.MediaMovie, 1, schema.StatusWatching)
	addItem(t, st, schema.MediaMovie, 2, schema.StatusCompleted)
	addItem(t, st, schema.MediaTV, 3, schema.StatusOnHold)

	if err := e.SyncToCloud(ctx); err != nil {
		t.Fatalf("SyncToCloud() failed: %v", err)
	}

	if got := mem.Len(libID); got != 4 {
		t.Errorf("remote rows = %d, want 4 (remote-only row kept)", got)
	}
	pushed := mem.Get(libID, "movie-2")
	if pushed == nil || pushed.Status != schema.StatusCompleted || pushed.LibraryID != libID {
		t.Errorf("pushed row = %+v", pushed)
	}
	if e.Status().LastSyncTime == nil {
		t.Error("LastSyncTime not set after push")
	}

	lib, err := st.EnsureLibrary(ctx, testUser)
	if err != nil {
		t.Fatalf("EnsureLibrary() failed: %v", err)
	}
	if lib.ID != libID {
		t.Errorf("local library id = %s, want cloud id %s", lib.ID, libID)
	}
}

func TestAutoSync_CollapsesBurst(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	e.SetAuthenticated(true)

	for i := 1; i <= 5; i++ {
		addItem(t, st, schema.MediaMovie, i, schema.StatusWatching)
	}
	if mem.Calls("upsert") != 0 {
		t.Fatal("push ran before the debounce fired")
	}

	if !e.Flush() {
		t.Fatal("Flush() = false, want a pending push")
	}
	if got := mem.Calls("upsert"); got != 5 {
		t.Errorf("upserts = %d, want 5 from a single push", got)
	}
	if e.Flush() {
		t.Error("second Flush() should have nothing pending")
	}
}

func TestAutoSync_Disabled(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	e.SetAuthenticated(true)
	e.SetAutoSync(false)

	addItem(t, st, schema.MediaMovie, 1, schema.StatusWatching)
	if e.Flush() {
		t.Error("no push should be scheduled with auto-sync off")
	}
	if e.AutoSyncEnabled() {
		t.Error("AutoSyncEnabled() = true")
	}
}

func TestOfflineQueue_DrainsOnReconnect(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	ctx := context.Background()
	e.SetOnline(false)
	e.SetAuthenticated(true)

	addItem(t, st, schema.MediaMovie, 1, schema.StatusWillWatch)
	addItem(t, st, schema.MediaMovie, 1, schema.StatusWatching)
	addItem(t, st, schema.MediaTV, 2, schema.StatusWatching)
	if err := st.DeleteItem(ctx, "tv-2"); err != nil {
		t.Fatalf("DeleteItem() failed: %v", err)
	}

	ops, err := st.PendingOperations(ctx)
	if err != nil {
		t.Fatalf("PendingOperations() failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("queued ops = %d, want 2 (coalesced per key)", len(ops))
	}
	types := map[string]schema.OperationType{}
	for _, op := range ops {
		types[op.Key] = op.Type
	}
	if types["movie-1"] != schema.OpCreate || types["tv-2"] != schema.OpDelete {
		t.Errorf("queued types = %v", types)
	}
	if got := e.Status().PendingOperations; got != 2 {
		t.Errorf("PendingOperations = %d, want 2", got)
	}
	if mem.TotalCalls() != 0 {
		t.Errorf("remote calls while offline = %d", mem.TotalCalls())
	}

	e.SetOnline(true)
	waitFor(t, "queue drain", func() bool { return e.Status().PendingOperations == 0 && !e.Status().IsSyncing })

	libID := cloudLibrary(t, mem)
	got := mem.Get(libID, "movie-1")
	if got == nil || got.Status != schema.StatusWatching {
		t.Errorf("drained row = %+v, want latest local state", got)
	}
	if mem.Calls("delete") != 1 {
		t.Errorf("deletes = %d, want 1", mem.Calls("delete"))
	}
}

func TestOfflineQueue_BulkChanges(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	ctx := context.Background()
	addItem(t, st, schema.MediaMovie, 1, schema.StatusWatching)

	// Unauthenticated: every change is queued.
	_, err := st.BulkAddOrUpdate(ctx, []schema.ItemPatch{
		{MediaType: schema.MediaMovie, TMDBID: 1, Status: schema.Ptr(schema.StatusNone)},
		{MediaType: schema.MediaTV, TMDBID: 5, IsFavorite: schema.Ptr(true)},
	})
	if err != nil {
		t.Fatalf("BulkAddOrUpdate() failed: %v", err)
	}

	ops, err := st.PendingOperations(ctx)
	if err != nil {
		t.Fatalf("PendingOperations() failed: %v", err)
	}
	types := map[string]schema.OperationType{}
	for _, op := range ops {
		types[op.Key] = op.Type
	}
	if types["movie-1"] != schema.OpDelete || types["tv-5"] != schema.OpUpdate {
		t.Errorf("queued types = %v", types)
	}
	if e.Status().PendingOperations != 2 {
		t.Errorf("PendingOperations = %d, want 2", e.Status().PendingOperations)
	}
}

func TestLocalOnly_NothingQueued(t *testing.T) {
	e, st := newTestEngine(t, nil)
	e.SetAuthenticated(true)
	addItem(t, st, schema.MediaMovie, 1, schema.StatusWatching)

	if e.CanSync() {
		t.Error("CanSync() = true without a remote")
	}
	n, err := st.CountPendingOperations(context.Background())
	if err != nil {
		t.Fatalf("CountPendingOperations() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("queued ops = %d, want 0", n)
	}
}

func TestSyncFromCloud_SmartMerge(t *testing.T) {
	tests := []struct {
		name         string
		keepFavs     bool
		wantFavorite bool
	}{
		{"cloud wins", false, false},
		{"keep existing favorites", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := remote.NewMemoryBackend()
			e, st := newTestEngine(t, mem)
			ctx := context.Background()

			_, err := st.AddOrUpdateItem(ctx, schema.ItemPatch{
				MediaType:  schema.MediaMovie,
				TMDBID:     1,
				Status:     schema.Ptr(schema.StatusWatching),
				IsFavorite: schema.Ptr(true),
				UserRating: schema.Ptr(5),
				PosterPath: schema.Ptr("/local.jpg"),
			})
			if err != nil {
				t.Fatalf("AddOrUpdateItem() failed: %v", err)
			}
			addItem(t, st, schema.MediaMovie, 2, schema.StatusWillWatch)

			libID := cloudLibrary(t, mem)
			conflict := cloudItem(schema.MediaMovie, 1, schema.StatusCompleted)
			conflict.UserRating = schema.Ptr(9)
			conflict.Title = "Remote Title"
			mem.Put(libID, conflict)
			mem.Put(libID, cloudItem(schema.MediaTV, 3, schema.StatusWatching))
			mem.Put(libID, cloudItem(schema.MediaTV, 4, schema.StatusNone))

			e.SetAutoSync(false)
			e.SetAuthenticated(true)
			result, err := e.SyncFromCloud(ctx, MergeOptions{KeepExistingFavorites: tt.keepFavs})
			if err != nil {
				t.Fatalf("SyncFromCloud() failed: %v", err)
			}
			want := MergeResult{Added: 1, Updated: 1, Ignored: 1, LocalOnly: 1}
			if result != want {
				t.Errorf("result = %+v, want %+v", result, want)
			}

			merged, err := st.GetItem(ctx, "movie-1")
			if err != nil {
				t.Fatalf("GetItem() failed: %v", err)
			}
			if merged.Status != schema.StatusCompleted || *merged.UserRating != 9 || merged.Title != "Remote Title" {
				t.Errorf("merged = %+v, cloud should win", merged)
			}
			if merged.PosterPath != "/local.jpg" {
				t.Errorf("PosterPath = %q, empty cloud metadata must not erase local", merged.PosterPath)
			}
			if merged.IsFavorite != tt.wantFavorite {
				t.Errorf("IsFavorite = %v, want %v", merged.IsFavorite, tt.wantFavorite)
			}

			if local, err := st.GetItem(ctx, "movie-2"); err != nil || local.Status != schema.StatusWillWatch {
				t.Errorf("local-only item changed: %+v, %v", local, err)
			}
			if _, err := st.GetItem(ctx, "tv-4"); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("empty cloud row should be ignored, GetItem err = %v", err)
			}

			again, err := e.SyncFromCloud(ctx, MergeOptions{KeepExistingFavorites: tt.keepFavs})
			if err != nil {
				t.Fatalf("second SyncFromCloud() failed: %v", err)
			}
			if again.Added != 0 || again.Updated != 0 || again.Unchanged != 2 {
				t.Errorf("second pull = %+v, want everything unchanged", again)
			}
		})
	}
}

func TestAuthError_PausesUntilReauthenticated(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	ctx := context.Background()
	e.SetAutoSync(false)
	e.SetAuthenticated(true)
	addItem(t, st, schema.MediaMovie, 1, schema.StatusWatching)

	mem.Fail = func(op string) error { return remote.ErrUnauthorized }
	err := e.SyncToCloud(ctx)
	if !remote.IsAuth(err) {
		t.Fatalf("SyncToCloud() error = %v, want AuthError", err)
	}

	status := e.Status()
	if !status.AuthRequired || status.Error == "" {
		t.Errorf("status = %+v, want authRequired with error", status)
	}
	if e.CanSync() {
		t.Error("gate should be closed after an auth error")
	}

	calls := mem.TotalCalls()
	if err := e.SyncToCloud(ctx); err != nil {
		t.Errorf("SyncToCloud() while paused = %v", err)
	}
	if mem.TotalCalls() != calls {
		t.Error("remote called while auth required")
	}

	mem.Fail = nil
	e.SetAuthenticated(true)
	status = e.Status()
	if status.AuthRequired || status.Error != "" {
		t.Errorf("status after re-auth = %+v", status)
	}
	if err := e.SyncToCloud(ctx); err != nil {
		t.Errorf("SyncToCloud() after re-auth failed: %v", err)
	}
}

func TestSyncToCloud_NetworkErrorKeepsLocal(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	ctx := context.Background()
	e.SetAutoSync(false)
	e.SetAuthenticated(true)
	addItem(t, st, schema.MediaMovie, 1, schema.StatusWatching)
	addItem(t, st, schema.MediaMovie, 2, schema.StatusWatching)

	mem.Fail = func(op string) error {
		if op == "upsert" {
			return remote.ErrUnavailable
		}
		return nil
	}
	err := e.SyncToCloud(ctx)
	var ne *remote.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("SyncToCloud() error = %v, want NetworkError", err)
	}
	if !strings.Contains(err.Error(), "2 of 2") {
		t.Errorf("error = %q, want per-item failures counted", err)
	}
	if e.Status().Error == "" || e.Status().AuthRequired {
		t.Errorf("status = %+v", e.Status())
	}
	if n, _ := st.CountItems(ctx); n != 2 {
		t.Errorf("local items = %d, want 2", n)
	}
	if !e.CanSync() {
		t.Error("network errors must not close the gate")
	}
}

func TestRemoveFromCloud(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	ctx := context.Background()
	libID := cloudLibrary(t, mem)
	mem.Put(libID, cloudItem(schema.MediaMovie, 1, schema.StatusWatching))
	mem.Put(libID, cloudItem(schema.MediaMovie, 2, schema.StatusWatching))
	e.SetAuthenticated(true)

	if err := e.RemoveFromCloud(ctx, schema.MediaMovie, 1); err != nil {
		t.Fatalf("RemoveFromCloud() failed: %v", err)
	}
	if mem.Get(libID, "movie-1") != nil {
		t.Error("remote row still present")
	}

	mem.Fail = func(op string) error {
		if op == "delete" {
			return remote.ErrUnavailable
		}
		return nil
	}
	if err := e.RemoveFromCloud(ctx, schema.MediaMovie, 2); err == nil {
		t.Fatal("RemoveFromCloud() should report the network error")
	}
	n, err := st.CountPendingOperations(ctx)
	if err != nil {
		t.Fatalf("CountPendingOperations() failed: %v", err)
	}
	if n != 1 || e.Status().PendingOperations != 1 {
		t.Errorf("queued deletions = %d (status %d), want 1", n, e.Status().PendingOperations)
	}
}

func TestRemoveFromCloud_AuthFailureIsReplayed(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	ctx := context.Background()
	libID := cloudLibrary(t, mem)
	e.SetAutoSync(false)
	e.SetAuthenticated(true)

	addItem(t, st, schema.MediaMovie, 7, schema.StatusWatching)
	if err := e.SyncToCloud(ctx); err != nil {
		t.Fatalf("SyncToCloud() failed: %v", err)
	}

	mem.Fail = func(op string) error {
		if op == "delete" {
			return remote.ErrUnauthorized
		}
		return nil
	}
	if err := st.DeleteItem(ctx, "movie-7"); err != nil {
		t.Fatalf("DeleteItem() failed: %v", err)
	}
	if err := e.RemoveFromCloud(ctx, schema.MediaMovie, 7); !remote.IsAuth(err) {
		t.Fatalf("RemoveFromCloud() error = %v, want AuthError", err)
	}
	if !e.IsAuthenticated() || e.CanSync() {
		t.Errorf("IsAuthenticated() = %v, CanSync() = %v, want signed in with the gate closed", e.IsAuthenticated(), e.CanSync())
	}
	if e.Status().PendingOperations != 1 {
		t.Fatalf("PendingOperations = %d, want the deletion queued", e.Status().PendingOperations)
	}

	mem.Fail = nil
	e.SetAuthenticated(true)
	if err := e.TriggerSync(ctx); err != nil {
		t.Fatalf("TriggerSync() failed: %v", err)
	}
	if mem.Get(libID, "movie-7") != nil {
		t.Error("remote row still present after replay")
	}
	if _, err := st.GetItem(ctx, "movie-7"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetItem() error = %v, deleted item came back", err)
	}
}

func TestClearRemote(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	ctx := context.Background()
	libID := cloudLibrary(t, mem)
	for i := 1; i <= 3; i++ {
		mem.Put(libID, cloudItem(schema.MediaMovie, i, schema.StatusWatching))
	}
	if err := st.EnqueueOperation(ctx, schema.SyncOperation{Key: "movie-9", Type: schema.OpDelete}); err != nil {
		t.Fatalf("EnqueueOperation() failed: %v", err)
	}
	e.SetAutoSync(false)
	e.SetAuthenticated(true)

	deleted, err := e.ClearRemote(ctx)
	if err != nil {
		t.Fatalf("ClearRemote() failed: %v", err)
	}
	if deleted != 3 || mem.Len(libID) != 0 {
		t.Errorf("deleted = %d, remaining = %d", deleted, mem.Len(libID))
	}
	if e.Status().PendingOperations != 0 {
		t.Errorf("PendingOperations = %d, want 0", e.Status().PendingOperations)
	}
}

func TestTriggerSync(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	ctx := context.Background()
	libID := cloudLibrary(t, mem)
	mem.Put(libID, cloudItem(schema.MediaTV, 7, schema.StatusCompleted))

	e.SetAutoSync(false)
	addItem(t, st, schema.MediaMovie, 1, schema.StatusWatching) // queued: not authenticated
	e.SetAuthenticated(true)

	if err := e.TriggerSync(ctx); err != nil {
		t.Fatalf("TriggerSync() failed: %v", err)
	}
	if mem.Get(libID, "movie-1") == nil {
		t.Error("local item not pushed")
	}
	if _, err := st.GetItem(ctx, "tv-7"); err != nil {
		t.Errorf("cloud item not pulled: %v", err)
	}
	if e.Status().PendingOperations != 0 {
		t.Errorf("PendingOperations = %d, want 0", e.Status().PendingOperations)
	}
}

func TestCompareWithCloud(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, st := newTestEngine(t, mem)
	ctx := context.Background()
	libID := cloudLibrary(t, mem)

	addItem(t, st, schema.MediaMovie, 1, schema.StatusWatching)
	addItem(t, st, schema.MediaMovie, 2, schema.StatusWatching)
	addItem(t, st, schema.MediaMovie, 3, schema.StatusWatching)
	mem.Put(libID, cloudItem(schema.MediaMovie, 2, schema.StatusWatching))
	mem.Put(libID, cloudItem(schema.MediaMovie, 3, schema.StatusCompleted))
	mem.Put(libID, cloudItem(schema.MediaTV, 4, schema.StatusWatching))

	e.SetAutoSync(false)
	e.SetAuthenticated(true)
	cmp, err := e.CompareWithCloud(ctx)
	if err != nil {
		t.Fatalf("CompareWithCloud() failed: %v", err)
	}
	if cmp.IsInSync || cmp.LocalItemCount != 3 || cmp.CloudItemCount != 3 {
		t.Errorf("comparison = %+v", cmp)
	}
	if strings.Join(cmp.NeedsUpload, ",") != "movie-1" ||
		strings.Join(cmp.NeedsDownload, ",") != "tv-4" ||
		strings.Join(cmp.Conflicts, ",") != "movie-3" {
		t.Errorf("comparison = %+v", cmp)
	}
	if e.Status().LastSyncTime != nil {
		t.Error("compare must not stamp lastSyncTime")
	}
}

func TestSubscribe(t *testing.T) {
	mem := remote.NewMemoryBackend()
	e, _ := newTestEngine(t, mem)
	e.SetAutoSync(false)
	e.SetAuthenticated(true)

	var mu sync.Mutex
	var seen []bool
	unsubscribe := e.Subscribe(func(s Status) {
		mu.Lock()
		seen = append(seen, s.IsSyncing)
		mu.Unlock()
	})

	if err := e.SyncToCloud(context.Background()); err != nil {
		t.Fatalf("SyncToCloud() failed: %v", err)
	}
	unsubscribe()
	e.SetOnline(false)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Errorf("syncing transitions = %v, want [true false]", seen)
	}
}

func TestWatchConnectivity(t *testing.T) {
	mem := remote.NewMemoryBackend()
	var down atomic.Bool
	down.Store(true)
	mem.Fail = func(op string) error {
		if op == "ping" && down.Load() {
			return remote.ErrUnavailable
		}
		return nil
	}
	e, _ := newTestEngine(t, mem)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.WatchConnectivity(ctx, 20*time.Millisecond)
		close(done)
	}()

	waitFor(t, "offline", func() bool { return !e.Status().IsOnline })
	if e.Status().Text(time.Now()) != "Offline" {
		t.Errorf("Text() = %q", e.Status().Text(time.Now()))
	}

	down.Store(false)
	waitFor(t, "online", func() bool { return e.Status().IsOnline })

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WatchConnectivity did not stop")
	}
}

func TestSettingsPersisted(t *testing.T) {
	fs := afero.NewMemMapFs()
	settings, err := persist.Open(SettingsKey, DefaultSettings(), persist.Options{Fs: fs, Dir: "/state", Logger: quiet()})
	if err != nil {
		t.Fatalf("persist.Open() failed: %v", err)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	defer st.Close()

	e, err := New(st, remote.NewAdapter(remote.NewMemoryBackend(), quiet()), &Config{
		UserID:   testUser,
		Settings: settings,
		Logger:   quiet(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	e.SetAuthenticated(true)
	if err := e.SyncToCloud(context.Background()); err != nil {
		t.Fatalf("SyncToCloud() failed: %v", err)
	}
	e.SetAutoSync(false)
	if err := e.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := afero.ReadFile(fs, "/state/"+SettingsKey+".json")
	if err != nil {
		t.Fatalf("settings file not written: %v", err)
	}
	var got Settings
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("settings file invalid: %v", err)
	}
	if got.AutoSyncEnabled || got.LastSyncTime == nil {
		t.Errorf("persisted settings = %+v", got)
	}
}

func TestCheckConnectivity(t *testing.T) {
	mem := remote.NewMemoryBackend()
	mem.Fail = func(op string) error {
		if op == "ping" {
			return remote.ErrUnavailable
		}
		return nil
	}
	e, _ := newTestEngine(t, mem)

	if e.CheckConnectivity(context.Background(), time.Second) {
		t.Error("CheckConnectivity() = true with an unreachable backend")
	}
	mem.Fail = nil
	if !e.CheckConnectivity(context.Background(), time.Second) {
		t.Error("CheckConnectivity() = false with a reachable backend")
	}

	local, _ := newTestEngine(t, nil)
	if local.CheckConnectivity(context.Background(), time.Second) {
		t.Error("CheckConnectivity() = true without an adapter")
	}
}
