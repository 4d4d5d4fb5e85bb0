// Package remote translates local entities into documents in a remote
// per-namespace document store and exposes live change subscriptions.
//
// The remote layout is users/{namespace}/{collection}/{id}; documents
// carry the entity attributes plus a server-assigned syncedAt
// timestamp. Network unreachability is classified separately from
// other failures so the sync engine can pause draining without burning
// retry budgets.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Collection names used by the sync engine.
const (
	CollectionTasks    = "tasks"
	CollectionProjects = "projects"
)

// Document is one remote record: the entity id plus its attributes.
type Document struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// SnapshotFunc receives the full collection contents after a change.
type SnapshotFunc func(docs []Document)

// ErrorFunc receives subscription errors.
type ErrorFunc func(err error)

// Gateway is the remote document store the engine drains into.
type Gateway interface {
	// WriteEntity upserts one document. Attributes with explicit null
	// values are stripped before sending; the remote store rejects them.
	WriteEntity(ctx context.Context, namespace, collection, id string, data json.RawMessage) error

	// DeleteEntity removes one document. Deleting an absent id is not
	// an error.
	DeleteEntity(ctx context.Context, namespace, collection, id string) error

	// ReadAll performs a one-shot bulk read, used for hydration.
	ReadAll(ctx context.Context, namespace, collection string) ([]Document, error)

	// Subscribe registers for live snapshots of a collection. The
	// returned function tears the subscription down; it is safe to call
	// more than once.
	Subscribe(ctx context.Context, namespace, collection string, onSnapshot SnapshotFunc, onError ErrorFunc) (func(), error)
}

// ErrOffline marks failures caused by network or service
// unavailability. Drain passes stop on this error without penalizing
// the item's retry count.
var ErrOffline = errors.New("remote unavailable")

// offlineError wraps a cause while matching ErrOffline via errors.Is.
type offlineError struct {
	cause error
}

func (e *offlineError) Error() string {
	return fmt.Sprintf("remote unavailable: %v", e.cause)
}

func (e *offlineError) Unwrap() error { return e.cause }

func (e *offlineError) Is(target error) bool { return target == ErrOffline }

// Offline wraps err as an offline-classified failure.
func Offline(err error) error {
	if err == nil {
		return nil
	}
	return &offlineError{cause: err}
}

// IsOffline reports whether err indicates the remote is unreachable
// rather than rejecting the request.
func IsOffline(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOffline) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	return false
}

// StripNulls removes attributes whose value is an explicit null from a
// JSON object. The remote store rejects null attributes, so they must
// be dropped before a write.
func StripNulls(data json.RawMessage) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	for k, v := range obj {
		if string(v) == "null" {
			delete(obj, k)
		}
	}
	clean, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return clean, nil
}
