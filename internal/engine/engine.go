// Package engine orchestrates offline-first synchronization: it owns
// the mutation API the UI calls, the persisted mutation queue, queue
// draining against the remote gateway, live remote subscriptions, and
// the sync status signal.
//
// All local state lives in an explicit Engine instance constructed per
// session and torn down on sign-out; there is no package-level mutable
// state. Mutations are optimistic: they are applied to the local store
// and made visible before any network round-trip. Once a live
// subscription has delivered a snapshot, the remote store is
// authoritative for that collection and every snapshot fully replaces
// the local copy.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devfocus/devfocus/internal/identity"
	"github.com/devfocus/devfocus/internal/model"
	"github.com/devfocus/devfocus/internal/remote"
	"github.com/devfocus/devfocus/internal/store"
)

// Status is the engine's sync state as projected for the UI. It is a
// best-effort projection of network reachability and queue depth,
// recomputed on every relevant event.
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusSyncing         Status = "syncing"
	StatusIdle            Status = "idle"
	StatusOffline         Status = "offline"
	StatusError           Status = "error"
)

// Config holds engine configuration.
type Config struct {
	// DrainInterval is how often the queue is drained (default: 3s)
	DrainInterval time.Duration

	// DebounceInterval coalesces bursts of remote snapshots
	// (default: 100ms)
	DebounceInterval time.Duration

	// MaxRetries bounds remote attempts per queue item; past it the
	// item is dropped (default: 3)
	MaxRetries int

	// SeedProjects are written when a fresh namespace has no remote
	// projects (default: model.DefaultProjects())
	SeedProjects []*model.Project

	// Logger for engine activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DrainInterval:    3 * time.Second,
		DebounceInterval: 100 * time.Millisecond,
		MaxRetries:       3,
		SeedProjects:     model.DefaultProjects(),
		Logger:           log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Callbacks are the push channels toward the UI. Nil callbacks are
// skipped.
type Callbacks struct {
	OnTasks        func(tasks []*model.Task)
	OnProjects     func(projects []*model.Project)
	OnPendingCount func(count int)
	OnStatus       func(status Status)
}

// Engine is one session's sync engine.
type Engine struct {
	store    *store.Store
	gateway  remote.Gateway
	provider *identity.Provider
	config   *Config
	logger   *log.Logger

	mu            sync.Mutex
	status        Status
	online        bool
	authenticated bool
	namespace     string
	pendingCount  int
	failed        bool // draining cannot start at all
	callbacks     Callbacks

	// authoritative marks collections whose live subscription has
	// delivered at least one snapshot; from then on the remote copy
	// wins unconditionally.
	authoritative map[string]bool

	// memTasks/memProjects are the degraded in-memory fallback used
	// when local storage fails: the session keeps functioning on
	// last-seen state.
	memTasks    []*model.Task
	memProjects []*model.Project
	degraded    bool

	// draining is the mutual-exclusion flag guarding queue drains. A
	// drain attempt that finds it set is skipped; the next trigger
	// retries.
	draining atomic.Bool

	unsubscribes []func()
	debouncers   map[string]*debouncer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an engine. Use Start to begin syncing.
func New(st *store.Store, gateway remote.Gateway, provider *identity.Provider, config *Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DrainInterval == 0 {
		config.DrainInterval = 3 * time.Second
	}
	if config.DebounceInterval == 0 {
		config.DebounceInterval = 100 * time.Millisecond
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.SeedProjects == nil {
		config.SeedProjects = model.DefaultProjects()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		store:         st,
		gateway:       gateway,
		provider:      provider,
		config:        config,
		logger:        config.Logger,
		status:        StatusUnauthenticated,
		online:        true,
		authoritative: make(map[string]bool),
		debouncers:    make(map[string]*debouncer),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// On registers the UI callbacks. Call before Start.
func (e *Engine) On(callbacks Callbacks) {
	e.mu.Lock()
	e.callbacks = callbacks
	e.mu.Unlock()
}

// Start resolves the session, performs hydration when signed in, sets
// up live subscriptions, and begins periodic draining. Non-blocking;
// call Stop to tear down.
func (e *Engine) Start() error {
	if err := e.provider.Watch(e.onIdentityChanged); err != nil {
		return fmt.Errorf("failed to watch identity: %w", err)
	}

	e.startSession()

	e.wg.Add(1)
	go e.drainLoop()

	return nil
}

// Stop tears down subscriptions and the drain ticker. The engine
// cannot be restarted.
func (e *Engine) Stop() {
	e.cancel()
	e.teardownSubscriptions()
	e.wg.Wait()
}

// startSession resolves identity and, when a session exists, runs
// hydration and subscription setup.
func (e *Engine) startSession() {
	session, err := e.provider.CurrentSession()
	if err != nil {
		e.logger.Printf("Identity resolution failed, running local-only: %v", err)
		e.setAuthenticated(false, "")
		return
	}
	if session == nil {
		e.setAuthenticated(false, "")
		return
	}

	e.setAuthenticated(true, session.AccountID)
	e.forceStatus(StatusSyncing)

	if err := e.hydrate(e.ctx); err != nil {
		if remote.IsOffline(err) {
			e.SetOnline(false)
		} else {
			e.logger.Printf("Hydration failed: %v", err)
		}
	}
	e.setupSubscriptions()
	e.refreshPending()
	e.recomputeStatus()
	e.kickDrain()
}

// onIdentityChanged reacts to sign-in/sign-out by resetting
// subscriptions and namespace.
func (e *Engine) onIdentityChanged() {
	e.logger.Println("Identity changed, resetting session")
	e.teardownSubscriptions()

	e.mu.Lock()
	e.authoritative = make(map[string]bool)
	e.mu.Unlock()

	e.startSession()
}

// Status returns the current sync status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Namespace returns the namespace the engine is syncing under, or ""
// when unauthenticated.
func (e *Engine) Namespace() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.namespace
}

// Online reports the last known network reachability.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// PendingCount returns the number of queued, unconfirmed mutations.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingCount
}

// SetOnline records a network reachability transition. Going online
// recomputes status and immediately attempts a drain.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	changed := e.online != online
	e.online = online
	e.mu.Unlock()

	if !changed {
		return
	}
	e.recomputeStatus()
	if online {
		e.kickDrain()
	}
}

func (e *Engine) setAuthenticated(authenticated bool, namespace string) {
	e.mu.Lock()
	e.authenticated = authenticated
	e.namespace = namespace
	e.mu.Unlock()
	e.recomputeStatus()
}

// forceStatus sets a status directly and notifies on change.
func (e *Engine) forceStatus(status Status) {
	e.mu.Lock()
	changed := e.status != status
	e.status = status
	cb := e.callbacks.OnStatus
	e.mu.Unlock()
	if changed && cb != nil {
		cb(status)
	}
}

// recomputeStatus projects status from the independent signals:
// session presence, network reachability, and queue depth. Status is
// always recomputed rather than toggled so stale transitions cannot
// stick.
func (e *Engine) recomputeStatus() {
	e.mu.Lock()
	var status Status
	switch {
	case e.failed:
		status = StatusError
	case !e.authenticated:
		status = StatusUnauthenticated
	case !e.online:
		status = StatusOffline
	case e.pendingCount > 0:
		status = StatusSyncing
	default:
		status = StatusIdle
	}
	changed := e.status != status
	e.status = status
	cb := e.callbacks.OnStatus
	e.mu.Unlock()

	if changed && cb != nil {
		cb(status)
	}
}

// refreshPending re-reads the queue depth and notifies on change.
func (e *Engine) refreshPending() {
	count, err := e.store.QueueCount(e.ctx)
	if err != nil {
		e.logger.Printf("Failed to read queue count: %v", err)
		return
	}

	e.mu.Lock()
	changed := e.pendingCount != count
	e.pendingCount = count
	cb := e.callbacks.OnPendingCount
	e.mu.Unlock()

	if changed && cb != nil {
		cb(count)
	}
}

// notifyTasks pushes the current task list to the UI.
func (e *Engine) notifyTasks(tasks []*model.Task) {
	e.mu.Lock()
	e.memTasks = tasks
	cb := e.callbacks.OnTasks
	e.mu.Unlock()
	if cb != nil {
		cb(tasks)
	}
}

// notifyProjects pushes the current project list to the UI.
func (e *Engine) notifyProjects(projects []*model.Project) {
	e.mu.Lock()
	e.memProjects = projects
	cb := e.callbacks.OnProjects
	e.mu.Unlock()
	if cb != nil {
		cb(projects)
	}
}

// Degraded reports whether local storage has failed and the engine is
// serving last-seen in-memory state.
func (e *Engine) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// Tasks returns the current task collection: the durable copy, or the
// last-seen in-memory state when storage is unavailable.
func (e *Engine) Tasks(ctx context.Context) []*model.Task {
	tasks, err := e.store.GetAllTasks(ctx)
	if err != nil {
		e.logger.Printf("Local storage unavailable, serving in-memory state: %v", err)
		e.mu.Lock()
		defer e.mu.Unlock()
		e.degraded = true
		// Callers get their own slice; the fallback copy must survive
		// whatever they do with it.
		return append([]*model.Task(nil), e.memTasks...)
	}
	e.mu.Lock()
	e.memTasks = append([]*model.Task(nil), tasks...)
	e.mu.Unlock()
	return tasks
}

// Projects returns the current project collection with the same
// degradation behavior as Tasks.
func (e *Engine) Projects(ctx context.Context) []*model.Project {
	projects, err := e.store.GetAllProjects(ctx)
	if err != nil {
		e.logger.Printf("Local storage unavailable, serving in-memory state: %v", err)
		e.mu.Lock()
		defer e.mu.Unlock()
		e.degraded = true
		return append([]*model.Project(nil), e.memProjects...)
	}
	e.mu.Lock()
	e.memProjects = append([]*model.Project(nil), projects...)
	e.mu.Unlock()
	return projects
}
