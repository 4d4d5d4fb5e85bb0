// Package identity resolves the namespace id that scopes all remote
// documents: the signed-in account id when a session exists, or a
// stable per-device id generated once and persisted in the local
// store's metadata table.
//
// Sessions live in a small JSON file so separate processes (the CLI
// and a long-running engine) observe the same sign-in state. The
// provider watches that file and emits identity-changed events, which
// the sync engine answers by resetting its subscriptions.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/devfocus/devfocus/internal/model"
	"github.com/devfocus/devfocus/internal/store"
	"github.com/fsnotify/fsnotify"
)

const (
	sessionFileName = "session.json"
	deviceIDKey     = "device_id"
)

// Session is the persisted sign-in state.
type Session struct {
	AccountID  string `json:"accountId"`
	Token      string `json:"token,omitempty"`
	SignedInAt int64  `json:"signedInAt"`
}

// ChangeFunc is called when the resolved identity may have changed.
type ChangeFunc func()

// Provider resolves namespaces and tracks sign-in state.
type Provider struct {
	dir    string
	store  *store.Store
	logger *log.Logger

	watcher  *fsnotify.Watcher
	onChange ChangeFunc
	mu       sync.Mutex
	done     chan struct{}
	wg       sync.WaitGroup
}

// Config holds provider configuration.
type Config struct {
	// Dir is the directory holding the session file.
	Dir string

	// Store persists the generated device id.
	Store *store.Store

	// Logger for provider activity (default: stderr logger)
	Logger *log.Logger
}

// New creates a provider. Use Watch to receive identity-change events.
func New(config Config) (*Provider, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[identity] ", log.LstdFlags)
	}
	if err := os.MkdirAll(config.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}
	return &Provider{
		dir:    config.Dir,
		store:  config.Store,
		logger: config.Logger,
		done:   make(chan struct{}),
	}, nil
}

func (p *Provider) sessionPath() string {
	return filepath.Join(p.dir, sessionFileName)
}

// CurrentSession returns the active session, or nil when signed out.
func (p *Provider) CurrentSession() (*Session, error) {
	data, err := os.ReadFile(p.sessionPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	if session.AccountID == "" {
		return nil, nil
	}
	return &session, nil
}

// Authenticated reports whether a session is active.
func (p *Provider) Authenticated() bool {
	session, err := p.CurrentSession()
	return err == nil && session != nil
}

// ResolveNamespace returns the account id when signed in, else the
// persisted device id, generating and storing one on first use.
func (p *Provider) ResolveNamespace(ctx context.Context) (string, error) {
	session, err := p.CurrentSession()
	if err != nil {
		return "", err
	}
	if session != nil {
		return session.AccountID, nil
	}
	return p.DeviceID(ctx)
}

// DeviceID returns the stable per-device identifier.
func (p *Provider) DeviceID(ctx context.Context) (string, error) {
	id, err := p.store.GetMetadata(ctx, deviceIDKey)
	if err != nil {
		return "", fmt.Errorf("failed to load device id: %w", err)
	}
	if id != "" {
		return id, nil
	}

	nid := model.NewID()
	id = "device_" + strconv.FormatInt(time.Now().UnixMilli(), 36) + nid[len(nid)-9:]
	if err := p.store.SetMetadata(ctx, deviceIDKey, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	p.logger.Printf("Generated device id %s", id)
	return id, nil
}

// SignIn records a session for the given account.
func (p *Provider) SignIn(accountID, token string) error {
	if accountID == "" {
		return fmt.Errorf("account id cannot be empty")
	}
	session := Session{
		AccountID:  accountID,
		Token:      token,
		SignedInAt: model.NowMillis(),
	}
	data, err := json.MarshalIndent(&session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := os.WriteFile(p.sessionPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	p.logger.Printf("Signed in as %s", accountID)
	return nil
}

// SignOut removes the session. Signing out twice is a no-op.
func (p *Provider) SignOut() error {
	if err := os.Remove(p.sessionPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	p.logger.Println("Signed out")
	return nil
}

// Watch starts emitting identity-change events to fn whenever the
// session file is created, rewritten, or removed. Only one callback is
// supported; calling Watch again replaces it.
func (p *Provider) Watch(fn ChangeFunc) error {
	p.mu.Lock()
	p.onChange = fn
	alreadyWatching := p.watcher != nil
	p.mu.Unlock()

	if alreadyWatching {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(p.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", p.dir, err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()

	p.wg.Add(1)
	go p.watchLoop(watcher)
	return nil
}

func (p *Provider) watchLoop(watcher *fsnotify.Watcher) {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != sessionFileName {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			p.logger.Printf("Session change: %s", event.Op)
			p.mu.Lock()
			fn := p.onChange
			p.mu.Unlock()
			if fn != nil {
				fn()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Printf("Watcher error: %v", err)
		}
	}
}

// Close stops the watcher.
func (p *Provider) Close() error {
	close(p.done)
	p.mu.Lock()
	watcher := p.watcher
	p.watcher = nil
	p.mu.Unlock()
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			return fmt.Errorf("failed to close watcher: %w", err)
		}
	}
	p.wg.Wait()
	return nil
}
