package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// Client talks to a devfocus document store server over HTTP, with
// live snapshots delivered over WebSocket.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	// BaseURL is the server root, e.g. http://localhost:8600
	BaseURL string

	// Timeout bounds individual HTTP calls (default: 10s)
	Timeout time.Duration

	// Logger for client activity (default: stderr logger)
	Logger *log.Logger
}

// NewClient creates a gateway client for the given server.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    &http.Client{Timeout: config.Timeout},
		logger:  config.Logger,
	}, nil
}

func (c *Client) docURL(namespace, collection, id string) string {
	u := fmt.Sprintf("%s/v1/users/%s/%s", c.baseURL, url.PathEscape(namespace), url.PathEscape(collection))
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

// WriteEntity implements Gateway.WriteEntity.
func (c *Client) WriteEntity(ctx context.Context, namespace, collection, id string, data json.RawMessage) error {
	clean, err := StripNulls(data)
	if err != nil {
		return fmt.Errorf("failed to prepare document %s: %w", id, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.docURL(namespace, collection, id), bytes.NewReader(clean))
	if err != nil {
		return fmt.Errorf("failed to build write request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Offline(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return Offline(fmt.Errorf("server returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("write %s/%s rejected: %d %s", collection, id, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// DeleteEntity implements Gateway.DeleteEntity. Deleting an absent id
// succeeds.
func (c *Client) DeleteEntity(ctx context.Context, namespace, collection, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.docURL(namespace, collection, id), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Offline(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return Offline(fmt.Errorf("server returned %d", resp.StatusCode))
	}
	// 404 is success: the document is already gone.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete %s/%s rejected: %d", collection, id, resp.StatusCode)
	}
	return nil
}

// ReadAll implements Gateway.ReadAll.
func (c *Client) ReadAll(ctx context.Context, namespace, collection string) ([]Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.docURL(namespace, collection, ""), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build read request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, Offline(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, Offline(fmt.Errorf("server returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("read %s failed: %d", collection, resp.StatusCode)
	}

	var payload struct {
		Docs []Document `json:"docs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s snapshot: %w", collection, err)
	}
	return payload.Docs, nil
}

// Health probes the server's health endpoint. An error means the
// server is unreachable or unhealthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Offline(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Offline(fmt.Errorf("health check returned %d", resp.StatusCode))
	}
	return nil
}

// Subscribe implements Gateway.Subscribe. The connection is re-dialed
// with backoff until the subscription is torn down or ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, namespace, collection string, onSnapshot SnapshotFunc, onError ErrorFunc) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)

	wsURL := c.docURL(namespace, collection, "") + "/watch"
	wsURL = "ws" + strings.TrimPrefix(wsURL, "http")

	go c.watchLoop(subCtx, wsURL, collection, onSnapshot, onError)

	return cancel, nil
}

// watchLoop keeps one watch connection alive, reconnecting with
// exponential backoff capped at 30 seconds.
func (c *Client) watchLoop(ctx context.Context, wsURL, collection string, onSnapshot SnapshotFunc, onError ErrorFunc) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.Dial(ctx, wsURL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if onError != nil {
				onError(Offline(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		c.logger.Printf("Watching %s", collection)
		c.readSnapshots(ctx, conn, onSnapshot, onError)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

// readSnapshots consumes snapshot messages until the connection drops.
func (c *Client) readSnapshots(ctx context.Context, conn *websocket.Conn, onSnapshot SnapshotFunc, onError ErrorFunc) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && onError != nil {
				onError(Offline(err))
			}
			return
		}

		var msg snapshotMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Printf("Ignoring malformed snapshot: %v", err)
			continue
		}
		if onSnapshot != nil {
			onSnapshot(msg.Docs)
		}
	}
}

// snapshotMessage is the wire format for watch updates: the full
// collection contents after each change.
type snapshotMessage struct {
	Collection string     `json:"collection"`
	Docs       []Document `json:"docs"`
}
