// Package client is a Go board client: it keeps a live WebSocket to the
// server, mirrors the board's task list, and reconnects with exponential
// backoff. Missed events are reconciled by the fresh snapshot every
// successful (re)join produces; the client replays nothing.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/ommvpatel/Real-Time-Taskboard/domain"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

const (
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffCap  = 8 * time.Second
	defaultMaxAttempts = 8
)

// Event is any server frame, decoded. Which fields are set depends on Type.
type Event struct {
	Type     string         `json:"type"`
	OK       bool           `json:"ok"`
	Protocol []string       `json:"protocol"`
	BoardID  string         `json:"boardId"`
	Tasks    []domain.Task  `json:"tasks"`
	Task     domain.Task    `json:"task"`
	TaskID   string         `json:"taskId"`
	Error    string         `json:"error"`
	Issues   []domain.Issue `json:"issues"`
}

// Options configures a Controller. Zero values get defaults.
type Options struct {
	// BaseURL is the server's HTTP base, e.g. "http://127.0.0.1:3002".
	BaseURL string
	// OnEvent, if set, is invoked for every server frame after the local
	// task list has been updated. Called from the read goroutine.
	OnEvent func(Event)

	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *log.Logger
}

// Controller owns the connection lifecycle for one board at a time.
type Controller struct {
	opts Options

	mu       sync.Mutex
	boardID  string
	ctx      context.Context
	sock     *websocket.Conn
	status   Status
	attempts int
	retry    *time.Timer
	tasks    []domain.Task
	closed   bool
}

func New(opts Options) *Controller {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Controller{opts: opts, status: StatusDisconnected}
}

// Connect tears down any existing connection, fetches a one-shot HTTP
// snapshot (best effort), then opens the live channel and joins the board.
// Also the only way to resume after the retry budget is exhausted.
func (c *Controller) Connect(ctx context.Context, boardID string) error {
	boardID = strings.TrimSpace(boardID)
	if boardID == "" {
		return fmt.Errorf("boardID required")
	}
	c.Disconnect()

	c.mu.Lock()
	c.boardID = boardID
	c.ctx = ctx
	c.closed = false
	c.mu.Unlock()

	if tasks, err := c.fetchSnapshot(ctx, boardID); err != nil {
		c.opts.Logger.WithError(err).WithField("board", boardID).Warn("snapshot fetch failed")
	} else {
		c.mu.Lock()
		c.tasks = tasks
		c.mu.Unlock()
	}

	c.openSocket()
	return nil
}

// Disconnect closes the connection and stops any pending retry. Idempotent.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.attempts = 0
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.status = StatusDisconnected
}

// Status returns the current lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Tasks returns a copy of the client's view of the board.
func (c *Controller) Tasks() []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Create sends a create frame for a new task.
func (c *Controller) Create(title, description string) error {
	c.mu.Lock()
	board := c.boardID
	c.mu.Unlock()
	task := map[string]any{"title": title}
	if description != "" {
		task["description"] = description
	}
	return c.send(map[string]any{"type": "create", "boardId": board, "task": task})
}

// Update sends a partial update; nil patch fields are omitted from the frame
// and left untouched by the server.
func (c *Controller) Update(patch domain.TaskPatch) error {
	c.mu.Lock()
	board := c.boardID
	c.mu.Unlock()
	return c.send(map[string]any{"type": "update", "boardId": board, "task": patch})
}

// Toggle flips a task's done flag, leaving the rest of the task untouched.
func (c *Controller) Toggle(id string, done bool) error {
	return c.Update(domain.TaskPatch{ID: id, Done: &done})
}

// Delete removes a task.
func (c *Controller) Delete(taskID string) error {
	c.mu.Lock()
	board := c.boardID
	c.mu.Unlock()
	return c.send(map[string]any{"type": "delete", "boardId": board, "taskId": taskID})
}

func (c *Controller) send(frame map[string]any) error {
	data, err := sonic.Marshal(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil || c.status != StatusConnected {
		return fmt.Errorf("not connected")
	}
	return c.sock.WriteMessage(websocket.TextMessage, data)
}

func (c *Controller) fetchSnapshot(ctx context.Context, boardID string) ([]domain.Task, error) {
	url := strings.TrimRight(c.opts.BaseURL, "/") + "/tasks?boardId=" + boardID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot request returned %d", resp.StatusCode)
	}
	var tasks []domain.Task
	dec := sonic.ConfigStd.NewDecoder(resp.Body)
	if err := dec.Decode(&tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Controller) openSocket() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.sock != nil {
		c.sock.Close()
		c.sock = nil
	}
	c.status = StatusConnecting
	ctx := c.ctx
	board := c.boardID
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	sock, _, err := c.opts.Dialer.DialContext(ctx, wsURL(c.opts.BaseURL)+"/ws", nil)
	if err != nil {
		c.opts.Logger.WithError(err).Debug("dial failed")
		c.mu.Lock()
		c.status = StatusDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	join, _ := sonic.Marshal(map[string]any{"type": "join", "boardId": board})
	if err := sock.WriteMessage(websocket.TextMessage, join); err != nil {
		sock.Close()
		c.mu.Lock()
		c.status = StatusDisconnected
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.sock = sock
	c.attempts = 0
	c.status = StatusConnected
	c.mu.Unlock()

	go c.readLoop(sock)
}

func (c *Controller) readLoop(sock *websocket.Conn) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			c.mu.Lock()
			// A stale loop for a socket we already replaced must not
			// touch the controller state.
			if c.sock == sock {
				c.sock = nil
				c.status = StatusDisconnected
				c.scheduleReconnectLocked()
			}
			c.mu.Unlock()
			return
		}
		var evt Event
		if err := sonic.Unmarshal(data, &evt); err != nil {
			continue
		}
		c.apply(evt)
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(evt)
		}
	}
}

// apply folds a server event into the local task list. Snapshot replaces the
// whole list; that replacement is the sole reconciliation mechanism after an
// outage.
func (c *Controller) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case domain.EventSnapshot:
		c.tasks = evt.Tasks
		if c.tasks == nil {
			c.tasks = []domain.Task{}
		}
	case domain.EventCreated:
		c.tasks = append(c.tasks, evt.Task)
	case domain.EventUpdated:
		for i := range c.tasks {
			if c.tasks[i].ID == evt.Task.ID {
				c.tasks[i] = evt.Task
			}
		}
	case domain.EventDeleted:
		kept := c.tasks[:0]
		for _, t := range c.tasks {
			if t.ID != evt.TaskID {
				kept = append(kept, t)
			}
		}
		c.tasks = kept
	case domain.EventError:
		c.opts.Logger.WithField("code", evt.Error).Warn("server error event")
	}
}

func (c *Controller) scheduleReconnectLocked() {
	if c.closed || c.attempts >= c.opts.MaxAttempts {
		return
	}
	c.attempts++
	delay := backoffDelay(c.attempts, c.opts.BackoffBase, c.opts.BackoffCap)
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(delay, c.openSocket)
}

// backoffDelay is min(max, base * 2^(attempt-1)).
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func wsURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https"):
		return "wss" + strings.TrimPrefix(baseURL, "https")
	case strings.HasPrefix(baseURL, "http"):
		return "ws" + strings.TrimPrefix(baseURL, "http")
	}
	return baseURL
}
