package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devfocus/devfocus/internal/identity"
	"github.com/devfocus/devfocus/internal/model"
	"github.com/devfocus/devfocus/internal/remote"
	"github.com/devfocus/devfocus/internal/store"
)

// fakeGateway is an in-memory Gateway with switchable failure modes.
type fakeGateway struct {
	mu           sync.Mutex
	docs         map[string]map[string]json.RawMessage // collection -> id -> data
	offline      bool
	rejectWrites bool
	writes       int
	deletes      int
	snapshots    map[string]remote.SnapshotFunc
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		docs:      make(map[string]map[string]json.RawMessage),
		snapshots: make(map[string]remote.SnapshotFunc),
	}
}

func (f *fakeGateway) setOffline(offline bool) {
	f.mu.Lock()
	f.offline = offline
	f.mu.Unlock()
}

func (f *fakeGateway) WriteEntity(ctx context.Context, namespace, collection, id string, data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return remote.Offline(errors.New("connection refused"))
	}
	if f.rejectWrites {
		return errors.New("document rejected")
	}
	f.writes++
	if f.docs[collection] == nil {
		f.docs[collection] = make(map[string]json.RawMessage)
	}
	f.docs[collection][id] = data
	return nil
}

func (f *fakeGateway) DeleteEntity(ctx context.Context, namespace, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return remote.Offline(errors.New("connection refused"))
	}
	f.deletes++
	if docs := f.docs[collection]; docs != nil {
		delete(docs, id)
	}
	return nil
}

func (f *fakeGateway) ReadAll(ctx context.Context, namespace, collection string) ([]remote.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, remote.Offline(errors.New("connection refused"))
	}
	var docs []remote.Document
	for id, data := range f.docs[collection] {
		docs = append(docs, remote.Document{ID: id, Data: data})
	}
	return docs, nil
}

func (f *fakeGateway) Subscribe(ctx context.Context, namespace, collection string, onSnapshot remote.SnapshotFunc, onError remote.ErrorFunc) (func(), error) {
	f.mu.Lock()
	f.snapshots[collection] = onSnapshot
	f.mu.Unlock()
	return func() {}, nil
}

func (f *fakeGateway) docCount(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs[collection])
}

func (f *fakeGateway) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

// testEngine returns an engine wired to temporary storage and the
// given gateway. The engine starts unauthenticated and without the
// background loops, so tests drive draining explicitly.
func testEngine(t *testing.T, gateway remote.Gateway) (*Engine, *store.Store) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := log.New(io.Discard, "", 0)
	provider, err := identity.New(identity.Config{
		Dir:    filepath.Join(dir, "identity"),
		Store:  st,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("identity.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = provider.Close() })

	e, err := New(st, gateway, provider, &Config{Logger: logger})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(e.Stop)
	return e, st
}

// settle lets stray background drain attempts finish before a test
// flips authentication on.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

// TestAddTask_VisibleImmediately tests optimistic local application
func TestAddTask_VisibleImmediately(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	task, err := e.AddTask(ctx, &model.Task{Title: "Offline work"})
	if err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}
	if task.ID == "" || task.Status != model.StatusBacklog {
		t.Errorf("AddTask() = %+v", task)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("task not in local store: %v", err)
	}
	if got.Title != "Offline work" {
		t.Errorf("Title = %q", got.Title)
	}

	count, _ := st.QueueCount(ctx)
	if count != 1 {
		t.Errorf("QueueCount() = %d, want 1", count)
	}
}

// TestDrain_RequiresSession tests that unauthenticated engines queue
// without draining
func TestDrain_RequiresSession(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	if _, err := e.AddTask(ctx, &model.Task{Title: "Local only"}); err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}
	settle()

	e.Drain(ctx)

	count, _ := st.QueueCount(ctx)
	if count != 1 {
		t.Errorf("QueueCount() = %d, want 1 (no drain without session)", count)
	}
	if fake.writeCount() != 0 {
		t.Errorf("gateway saw %d writes while unauthenticated", fake.writeCount())
	}
	if e.Status() != StatusUnauthenticated {
		t.Errorf("Status() = %s, want unauthenticated", e.Status())
	}
}

// TestDrain_FlushesQueue tests the basic offline-then-online
// convergence: queued mutations reach the remote and the queue empties
func TestDrain_FlushesQueue(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	for _, title := range []string{"One", "Two", "Three"} {
		if _, err := e.AddTask(ctx, &model.Task{Title: title}); err != nil {
			t.Fatalf("AddTask(%s) failed: %v", title, err)
		}
	}
	settle()

	e.setAuthenticated(true, "alice")
	e.Drain(ctx)

	count, _ := st.QueueCount(ctx)
	if count != 0 {
		t.Errorf("QueueCount() after drain = %d, want 0", count)
	}
	if fake.docCount(remote.CollectionTasks) != 3 {
		t.Errorf("remote has %d tasks, want 3", fake.docCount(remote.CollectionTasks))
	}
	if e.Status() != StatusIdle {
		t.Errorf("Status() = %s, want idle", e.Status())
	}
}

// TestDrain_EmptyQueueNoOp tests that re-draining an empty queue does
// nothing
func TestDrain_EmptyQueueNoOp(t *testing.T) {
	fake := newFakeGateway()
	e, _ := testEngine(t, fake)
	ctx := context.Background()

	e.setAuthenticated(true, "alice")
	e.Drain(ctx)
	e.Drain(ctx)

	if fake.writeCount() != 0 {
		t.Errorf("empty drains performed %d writes", fake.writeCount())
	}
	if e.Status() != StatusIdle {
		t.Errorf("Status() = %s, want idle", e.Status())
	}
}

// TestDrain_OfflinePausesWithoutRetryPenalty tests that unreachability
// stops the pass and leaves retry counts untouched
func TestDrain_OfflinePausesWithoutRetryPenalty(t *testing.T) {
	fake := newFakeGateway()
	fake.setOffline(true)
	e, st := testEngine(t, fake)
	ctx := context.Background()

	if _, err := e.AddTask(ctx, &model.Task{Title: "Stuck"}); err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}
	settle()

	e.setAuthenticated(true, "alice")
	e.Drain(ctx)

	if e.Online() {
		t.Error("engine still online after offline drain")
	}
	if e.Status() != StatusOffline {
		t.Errorf("Status() = %s, want offline", e.Status())
	}

	items, err := st.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("queue = %d items, want 1", len(items))
	}
	if items[0].RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 (offline must not burn retries)", items[0].RetryCount)
	}

	// Back online the queued item goes through.
	fake.setOffline(false)
	e.SetOnline(true)
	e.Drain(ctx)
	settle()
	e.Drain(ctx)

	count, _ := st.QueueCount(ctx)
	if count != 0 {
		t.Errorf("QueueCount() after reconnect = %d, want 0", count)
	}
}

// TestDrain_RetryExhaustionDrops tests that persistent rejections drop
// the item after the retry budget
func TestDrain_RetryExhaustionDrops(t *testing.T) {
	fake := newFakeGateway()
	fake.rejectWrites = true
	e, st := testEngine(t, fake)
	ctx := context.Background()

	task, err := e.AddTask(ctx, &model.Task{Title: "Poison"})
	if err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}
	settle()

	e.setAuthenticated(true, "alice")
	for i := 0; i < 3; i++ {
		e.Drain(ctx)
	}

	count, _ := st.QueueCount(ctx)
	if count != 0 {
		t.Errorf("QueueCount() = %d, want 0 (item dropped after retries)", count)
	}
	// The optimistic local copy stays.
	if _, err := st.GetTask(ctx, task.ID); err != nil {
		t.Errorf("local task gone after drop: %v", err)
	}
}

// TestRapidUpdates_SingleRemoteWrite tests queue collapse: a create
// plus a burst of updates costs one remote write with the final state
func TestRapidUpdates_SingleRemoteWrite(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	task, err := e.AddTask(ctx, &model.Task{Title: "v0"})
	if err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}
	for _, title := range []string{"v1", "v2", "v3"} {
		v := title
		if _, err := e.UpdateTask(ctx, task.ID, model.TaskPatch{Title: &v}); err != nil {
			t.Fatalf("UpdateTask(%s) failed: %v", title, err)
		}
	}
	settle()

	e.setAuthenticated(true, "alice")
	e.Drain(ctx)

	if fake.writeCount() != 1 {
		t.Errorf("remote writes = %d, want 1 (collapsed)", fake.writeCount())
	}

	fake.mu.Lock()
	data := fake.docs[remote.CollectionTasks][task.ID]
	fake.mu.Unlock()
	var got model.Task
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to parse remote doc: %v", err)
	}
	if got.Title != "v3" {
		t.Errorf("remote title = %q, want v3", got.Title)
	}

	count, _ := st.QueueCount(ctx)
	if count != 0 {
		t.Errorf("QueueCount() = %d, want 0", count)
	}
}

// TestCreateThenDelete_OnlyDeleteReachesRemote tests that a delete
// supersedes the queued create
func TestCreateThenDelete_OnlyDeleteReachesRemote(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	task, err := e.AddTask(ctx, &model.Task{Title: "Ephemeral"})
	if err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}
	if err := e.DeleteTask(ctx, task.ID); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}
	settle()

	e.setAuthenticated(true, "alice")
	e.Drain(ctx)

	if fake.writeCount() != 0 {
		t.Errorf("remote writes = %d, want 0", fake.writeCount())
	}
	if fake.docCount(remote.CollectionTasks) != 0 {
		t.Error("remote should have no tasks")
	}
	count, _ := st.QueueCount(ctx)
	if count != 0 {
		t.Errorf("QueueCount() = %d, want 0", count)
	}
}

// TestDeleteTask_UnknownID tests the not-found path
func TestDeleteTask_UnknownID(t *testing.T) {
	fake := newFakeGateway()
	e, _ := testEngine(t, fake)

	err := e.DeleteTask(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteTask() error = %v, want ErrNotFound", err)
	}
}

// TestMoveTask tests column transitions
func TestMoveTask(t *testing.T) {
	fake := newFakeGateway()
	e, _ := testEngine(t, fake)
	ctx := context.Background()

	task, err := e.AddTask(ctx, &model.Task{Title: "Mover"})
	if err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}

	moved, err := e.MoveTask(ctx, task.ID, model.StatusInProgress)
	if err != nil {
		t.Fatalf("MoveTask() failed: %v", err)
	}
	if moved.Status != model.StatusInProgress {
		t.Errorf("Status = %s, want IN_PROGRESS", moved.Status)
	}

	if _, err := e.MoveTask(ctx, task.ID, "INVALID"); err == nil {
		t.Error("MoveTask() accepted an invalid status")
	}
}

// TestReorderTask tests neighbor-averaged manual ordering
func TestReorderTask(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	orders := []float64{100, 200, 300}
	ids := make([]string, 3)
	for i, o := range orders {
		order := o
		task := &model.Task{ID: model.NewID(), Title: "Task", Order: &order}
		task.SetDefaults()
		if err := st.PutTask(ctx, task); err != nil {
			t.Fatalf("PutTask() failed: %v", err)
		}
		ids[i] = task.ID
	}

	// Move the last task to the front: past the edge by 1000.
	moved, err := e.ReorderTask(ctx, ids[2], 0)
	if err != nil {
		t.Fatalf("ReorderTask() failed: %v", err)
	}
	if moved.Order == nil || *moved.Order != 100-1000 {
		t.Errorf("Order = %v, want -900", moved.Order)
	}
	if moved.Status != model.StatusBacklog {
		t.Errorf("Status changed to %s during reorder", moved.Status)
	}

	// Move it between the remaining two: averaged.
	moved, err = e.ReorderTask(ctx, ids[2], 1)
	if err != nil {
		t.Fatalf("ReorderTask() failed: %v", err)
	}
	if moved.Order == nil || *moved.Order != 150 {
		t.Errorf("Order = %v, want 150", moved.Order)
	}

	// Out-of-range positions clamp to the end.
	moved, err = e.ReorderTask(ctx, ids[0], 99)
	if err != nil {
		t.Fatalf("ReorderTask() failed: %v", err)
	}
	if moved.Order == nil || *moved.Order != 200+1000 {
		t.Errorf("Order = %v, want 1200", moved.Order)
	}

	// Final relative order: c(150), b(200), a(1200).
	tasks, _ := st.GetAllTasks(ctx)
	column := model.TasksInStatus(tasks, model.StatusBacklog)
	want := []string{ids[2], ids[1], ids[0]}
	for i, id := range want {
		if column[i].ID != id {
			t.Errorf("column[%d] = %s, want %s", i, column[i].ID, id)
		}
	}
}

// TestHydrate_RemoteOverwritesLocal tests last-write-wins hydration
func TestHydrate_RemoteOverwritesLocal(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	local := &model.Task{Title: "Stale local"}
	local.SetDefaults()
	if err := st.PutTask(ctx, local); err != nil {
		t.Fatalf("PutTask() failed: %v", err)
	}

	for _, id := range []string{"r1", "r2"} {
		remoteTask := &model.Task{ID: id, Title: "Remote " + id}
		remoteTask.SetDefaults()
		data, _ := json.Marshal(remoteTask)
		if err := fake.WriteEntity(ctx, "alice", remote.CollectionTasks, id, data); err != nil {
			t.Fatalf("seed write failed: %v", err)
		}
	}

	e.setAuthenticated(true, "alice")
	if err := e.hydrate(ctx); err != nil {
		t.Fatalf("hydrate() failed: %v", err)
	}

	tasks, err := st.GetAllTasks(ctx)
	if err != nil {
		t.Fatalf("GetAllTasks() failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("local tasks = %d, want 2 (remote snapshot)", len(tasks))
	}
	for _, task := range tasks {
		if task.ID == local.ID {
			t.Error("stale local task survived hydration")
		}
	}
}

// TestHydrate_EmptyRemoteKeepsLocalTasks tests that an empty remote
// task set does not wipe local data
func TestHydrate_EmptyRemoteKeepsLocalTasks(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	local := &model.Task{Title: "Keep me"}
	local.SetDefaults()
	if err := st.PutTask(ctx, local); err != nil {
		t.Fatalf("PutTask() failed: %v", err)
	}

	e.setAuthenticated(true, "alice")
	if err := e.hydrate(ctx); err != nil {
		t.Fatalf("hydrate() failed: %v", err)
	}

	tasks, _ := st.GetAllTasks(ctx)
	if len(tasks) != 1 || tasks[0].ID != local.ID {
		t.Errorf("local tasks after empty hydration = %d", len(tasks))
	}
}

// TestHydrate_SeedsFreshNamespace tests default project seeding
func TestHydrate_SeedsFreshNamespace(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	e.setAuthenticated(true, "alice")
	if err := e.hydrate(ctx); err != nil {
		t.Fatalf("hydrate() failed: %v", err)
	}

	projects, err := st.GetAllProjects(ctx)
	if err != nil {
		t.Fatalf("GetAllProjects() failed: %v", err)
	}
	if len(projects) != 3 {
		t.Fatalf("seeded projects = %d, want 3", len(projects))
	}

	// The seeds are queued so they reach the remote too.
	count, _ := st.QueueCount(ctx)
	if count != 3 {
		t.Errorf("QueueCount() = %d, want 3", count)
	}

	e.Drain(ctx)
	if fake.docCount(remote.CollectionProjects) != 3 {
		t.Errorf("remote projects = %d, want 3", fake.docCount(remote.CollectionProjects))
	}
}

// TestHydrate_EmptyRemoteKeepsLocalProjects tests that seeding only
// happens when there is no local project data either
func TestHydrate_EmptyRemoteKeepsLocalProjects(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	local := &model.Project{ID: "mine", Name: "Mine", UpdatedAt: model.NowMillis()}
	if err := st.PutProject(ctx, local); err != nil {
		t.Fatalf("PutProject() failed: %v", err)
	}

	e.setAuthenticated(true, "alice")
	if err := e.hydrate(ctx); err != nil {
		t.Fatalf("hydrate() failed: %v", err)
	}

	projects, err := st.GetAllProjects(ctx)
	if err != nil {
		t.Fatalf("GetAllProjects() failed: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "mine" {
		t.Errorf("local projects after empty hydration = %d, want the existing one", len(projects))
	}
}

// TestSnapshot_OverwritesLocal tests that live snapshots replace the
// local collection and mark it remote-authoritative
func TestSnapshot_OverwritesLocal(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	local := &model.Task{Title: "Old"}
	local.SetDefaults()
	if err := st.PutTask(ctx, local); err != nil {
		t.Fatalf("PutTask() failed: %v", err)
	}

	remoteTask := &model.Task{ID: "snap1", Title: "From snapshot"}
	remoteTask.SetDefaults()
	data, _ := json.Marshal(remoteTask)

	if e.Authoritative(remote.CollectionTasks) {
		t.Error("collection authoritative before any snapshot")
	}

	e.applyTaskSnapshot([]remote.Document{{ID: "snap1", Data: data}})

	if !e.Authoritative(remote.CollectionTasks) {
		t.Error("collection not authoritative after snapshot")
	}
	tasks, _ := st.GetAllTasks(ctx)
	if len(tasks) != 1 || tasks[0].ID != "snap1" {
		t.Errorf("local tasks after snapshot = %+v", tasks)
	}
	if !e.Online() {
		t.Error("snapshot should prove the remote reachable")
	}
}

// TestStatusProjection tests the state machine transitions
func TestStatusProjection(t *testing.T) {
	fake := newFakeGateway()
	e, _ := testEngine(t, fake)
	ctx := context.Background()

	if e.Status() != StatusUnauthenticated {
		t.Errorf("initial Status() = %s, want unauthenticated", e.Status())
	}

	// Session with nothing queued: idle.
	e.setAuthenticated(true, "alice")
	if e.Status() != StatusIdle {
		t.Errorf("Status() after auth = %s, want idle", e.Status())
	}
	e.setAuthenticated(false, "")

	// Queue work while signed out, then sign in: syncing. No drain
	// runs here since nothing kicks one after authentication.
	if _, err := e.AddTask(ctx, &model.Task{Title: "Pending"}); err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}
	settle()
	e.setAuthenticated(true, "alice")
	if e.Status() != StatusSyncing {
		t.Errorf("Status() with pending work = %s, want syncing", e.Status())
	}

	e.SetOnline(false)
	if e.Status() != StatusOffline {
		t.Errorf("Status() offline = %s, want offline", e.Status())
	}

	e.setAuthenticated(false, "")
	if e.Status() != StatusUnauthenticated {
		t.Errorf("Status() signed out = %s, want unauthenticated", e.Status())
	}
}

// TestCallbacks tests that listeners observe mutations
func TestCallbacks(t *testing.T) {
	fake := newFakeGateway()
	e, _ := testEngine(t, fake)
	ctx := context.Background()

	var mu sync.Mutex
	var lastTasks []*model.Task
	var lastPending int
	e.On(Callbacks{
		OnTasks:        func(tasks []*model.Task) { mu.Lock(); lastTasks = tasks; mu.Unlock() },
		OnPendingCount: func(count int) { mu.Lock(); lastPending = count; mu.Unlock() },
	})

	if _, err := e.AddTask(ctx, &model.Task{Title: "Observed"}); err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lastTasks) != 1 || lastTasks[0].Title != "Observed" {
		t.Errorf("OnTasks saw %+v", lastTasks)
	}
	if lastPending != 1 {
		t.Errorf("OnPendingCount saw %d, want 1", lastPending)
	}
}

// TestDebouncer tests burst coalescing with trailing-edge delivery
func TestDebouncer(t *testing.T) {
	var mu sync.Mutex
	var applied [][]remote.Document
	d := newDebouncer(80*time.Millisecond, func(docs []remote.Document) {
		mu.Lock()
		applied = append(applied, docs)
		mu.Unlock()
	})
	defer d.Stop()

	// First delivery applies immediately.
	d.Deliver([]remote.Document{{ID: "a"}})
	mu.Lock()
	if len(applied) != 1 {
		t.Fatalf("applied = %d, want 1 immediate", len(applied))
	}
	mu.Unlock()

	// A burst inside the window coalesces to the latest snapshot.
	d.Deliver([]remote.Document{{ID: "b"}})
	d.Deliver([]remote.Document{{ID: "c"}})
	d.Deliver([]remote.Document{{ID: "d"}})

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 2 {
		t.Fatalf("applied = %d, want 2 (burst coalesced)", len(applied))
	}
	if applied[1][0].ID != "d" {
		t.Errorf("trailing snapshot = %s, want d (latest wins)", applied[1][0].ID)
	}
}

// TestDegradedMode_TaskMutations tests that local storage failures
// never escape past the mutation API: the session keeps working on
// in-memory state
func TestDegradedMode_TaskMutations(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	created, err := e.AddTask(ctx, &model.Task{Title: "Durable"})
	if err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}

	// Closing the database makes every later store call fail.
	_ = st.Close()

	tasks := e.Tasks(ctx)
	if len(tasks) != 1 || tasks[0].ID != created.ID {
		t.Fatalf("Tasks() in degraded mode = %d, want the last-seen task", len(tasks))
	}
	if !e.Degraded() {
		t.Error("Degraded() = false after a storage failure")
	}

	added, err := e.AddTask(ctx, &model.Task{Title: "In memory"})
	if err != nil {
		t.Fatalf("AddTask() with failed storage returned error: %v", err)
	}

	title := "Renamed"
	updated, err := e.UpdateTask(ctx, created.ID, model.TaskPatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateTask() with failed storage returned error: %v", err)
	}
	if updated.Title != "Renamed" {
		t.Errorf("UpdateTask() title = %q, want Renamed", updated.Title)
	}

	if _, err := e.ReorderTask(ctx, created.ID, 0); err != nil {
		t.Fatalf("ReorderTask() with failed storage returned error: %v", err)
	}

	// Unknown ids still surface ErrNotFound, degraded or not.
	if _, err := e.UpdateTask(ctx, "ghost", model.TaskPatch{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTask(ghost) = %v, want ErrNotFound", err)
	}

	if err := e.DeleteTask(ctx, added.ID); err != nil {
		t.Fatalf("DeleteTask() with failed storage returned error: %v", err)
	}
	for _, task := range e.Tasks(ctx) {
		if task.ID == added.ID {
			t.Error("deleted task still served from memory")
		}
		if task.ID == created.ID && task.Title != "Renamed" {
			t.Errorf("served task title = %q, want Renamed", task.Title)
		}
	}
}

// TestDegradedMode_ProjectMutations tests the same degradation for
// projects
func TestDegradedMode_ProjectMutations(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	project, err := e.AddProject(ctx, &model.Project{Name: "Work"})
	if err != nil {
		t.Fatalf("AddProject() failed: %v", err)
	}

	_ = st.Close()

	project.Name = "Renamed"
	if _, err := e.UpdateProject(ctx, project); err != nil {
		t.Fatalf("UpdateProject() with failed storage returned error: %v", err)
	}

	projects := e.Projects(ctx)
	if len(projects) != 1 || projects[0].Name != "Renamed" {
		t.Fatalf("Projects() in degraded mode = %d, want the renamed project", len(projects))
	}

	if err := e.DeleteProject(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteProject(ghost) = %v, want ErrNotFound", err)
	}

	if err := e.DeleteProject(ctx, project.ID); err != nil {
		t.Fatalf("DeleteProject() with failed storage returned error: %v", err)
	}
	if len(e.Projects(ctx)) != 0 {
		t.Error("deleted project still served from memory")
	}
}

// TestTasks_CallerMutationDoesNotCorruptFallback tests that filtering
// the returned slice in place cannot shuffle the engine's fallback copy
func TestTasks_CallerMutationDoesNotCorruptFallback(t *testing.T) {
	fake := newFakeGateway()
	e, st := testEngine(t, fake)
	ctx := context.Background()

	if _, err := e.AddTask(ctx, &model.Task{Title: "Keep"}); err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}
	if _, err := e.AddTask(ctx, &model.Task{Title: "Drop"}); err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}

	tasks := e.Tasks(ctx)
	filtered := tasks[:0]
	for _, task := range tasks {
		if task.Title == "Keep" {
			filtered = append(filtered, task)
		}
	}

	_ = st.Close()

	again := e.Tasks(ctx)
	if len(again) != 2 {
		t.Fatalf("fallback Tasks() = %d, want 2 after caller filtered its slice", len(again))
	}
}
