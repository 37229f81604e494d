package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/ommvpatel/Real-Time-Taskboard/domain"
	"github.com/ommvpatel/Real-Time-Taskboard/fanout"
	"github.com/ommvpatel/Real-Time-Taskboard/registry"
	"github.com/ommvpatel/Real-Time-Taskboard/storage"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent [][]byte
}

func (f *fakeConn) ID() string { return f.id }
func (f *fakeConn) Send(d []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, d)
	return nil
}
func (f *fakeConn) Ping() error { return nil }
func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.sent))
	for _, d := range f.sent {
		var m map[string]any
		if err := json.Unmarshal(d, &m); err != nil {
			t.Fatalf("bad frame %s: %v", d, err)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) lastEvent(t *testing.T) map[string]any {
	t.Helper()
	evts := f.events(t)
	if len(evts) == 0 {
		t.Fatal("no events sent")
	}
	return evts[len(evts)-1]
}

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeStore keeps per-board ordered task lists and mirrors the merge
// semantics of the real table storage.
type fakeStore struct {
	tasks map[string][]domain.Task

	selectErr error
	insertErr error
	updateErr error
	deleteErr error

	selectCalls int
	insertCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string][]domain.Task{}}
}

func (s *fakeStore) SelectTasks(_ context.Context, boardID string) ([]domain.Task, error) {
	s.selectCalls++
	if s.selectErr != nil {
		return nil, s.selectErr
	}
	return append([]domain.Task{}, s.tasks[boardID]...), nil
}

func (s *fakeStore) InsertTask(_ context.Context, boardID string, task domain.Task) (domain.Task, error) {
	s.insertCalls++
	if s.insertErr != nil {
		return domain.Task{}, s.insertErr
	}
	s.tasks[boardID] = append(s.tasks[boardID], task)
	return task, nil
}

func (s *fakeStore) UpdateTask(_ context.Context, boardID string, patch domain.TaskPatch) (domain.Task, error) {
	if s.updateErr != nil {
		return domain.Task{}, s.updateErr
	}
	list := s.tasks[boardID]
	for i := range list {
		if list[i].ID != patch.ID {
			continue
		}
		if patch.Title != nil {
			list[i].Title = *patch.Title
		}
		if patch.Description != nil {
			list[i].Description = *patch.Description
		}
		if patch.Done != nil {
			list[i].Done = *patch.Done
		}
		return list[i], nil
	}
	return domain.Task{}, storage.ErrNotFound
}

func (s *fakeStore) DeleteTask(_ context.Context, boardID, id string) (bool, error) {
	if s.deleteErr != nil {
		return false, s.deleteErr
	}
	list := s.tasks[boardID]
	for i := range list {
		if list[i].ID == id {
			s.tasks[boardID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type fakeCache struct {
	invalidated []string
}

func (c *fakeCache) Invalidate(_ context.Context, boardID string) {
	c.invalidated = append(c.invalidated, boardID)
}

type fixture struct {
	store *fakeStore
	cache *fakeCache
	reg   *registry.Registry
}

func newFixture() *fixture {
	return &fixture{store: newFakeStore(), cache: &fakeCache{}, reg: registry.New()}
}

func (fx *fixture) session(conn *fakeConn) *session {
	logger, _ := test.NewNullLogger()
	engine := fanout.New("test-instance", fx.reg, nil, "chan")
	return newSession(conn, fx.reg, engine, fx.store, fx.cache, logger)
}

func handle(s *session, frame string) {
	s.Handle(context.Background(), []byte(frame))
}

func TestMutationBeforeJoin(t *testing.T) {
	fx := newFixture()
	conn := &fakeConn{id: "a"}
	s := fx.session(conn)

	handle(s, `{"type":"create","boardId":"alpha","task":{"title":"x"}}`)

	evt := conn.lastEvent(t)
	if evt["error"] != domain.ErrJoinFirst {
		t.Fatalf("expected join_first, got %v", evt)
	}
	if fx.store.insertCalls != 0 {
		t.Fatal("storage must not be called before join")
	}
}

func TestJoinSendsSnapshotInOrder(t *testing.T) {
	fx := newFixture()
	fx.store.tasks["alpha"] = []domain.Task{{ID: "1", Title: "first"}, {ID: "2", Title: "second"}}
	conn := &fakeConn{id: "a"}
	s := fx.session(conn)

	handle(s, `{"type":"join","boardId":"alpha"}`)

	evt := conn.lastEvent(t)
	if evt["type"] != domain.EventSnapshot || evt["boardId"] != "alpha" {
		t.Fatalf("unexpected event %v", evt)
	}
	tasks := evt["tasks"].([]any)
	if len(tasks) != 2 || tasks[0].(map[string]any)["id"] != "1" || tasks[1].(map[string]any)["id"] != "2" {
		t.Fatalf("unexpected snapshot %v", tasks)
	}
}

func TestJoinEmptyBoardSendsEmptySnapshot(t *testing.T) {
	fx := newFixture()
	conn := &fakeConn{id: "a"}
	s := fx.session(conn)

	handle(s, `{"type":"join","boardId":"fresh"}`)

	evt := conn.lastEvent(t)
	tasks, ok := evt["tasks"].([]any)
	if !ok || len(tasks) != 0 {
		t.Fatalf("expected empty task array, got %v", evt["tasks"])
	}
}

func TestJoinStorageFailureStaysJoined(t *testing.T) {
	fx := newFixture()
	fx.store.selectErr = errors.New("boom")
	conn := &fakeConn{id: "a"}
	s := fx.session(conn)

	handle(s, `{"type":"join","boardId":"alpha"}`)
	if evt := conn.lastEvent(t); evt["error"] != domain.ErrDBSelectFailed {
		t.Fatalf("expected db_select_failed, got %v", evt)
	}

	// Still joined: a mutation goes through without join_first.
	fx.store.selectErr = nil
	handle(s, `{"type":"create","boardId":"alpha","task":{"title":"x"}}`)
	if evt := conn.lastEvent(t); evt["type"] != domain.EventCreated {
		t.Fatalf("expected created after failed snapshot, got %v", evt)
	}
}

func TestCreateOnDifferentBoardRejected(t *testing.T) {
	fx := newFixture()
	conn := &fakeConn{id: "a"}
	s := fx.session(conn)

	handle(s, `{"type":"join","boardId":"alpha"}`)
	handle(s, `{"type":"create","boardId":"beta","task":{"title":"x"}}`)
	if evt := conn.lastEvent(t); evt["error"] != domain.ErrJoinFirst {
		t.Fatalf("expected join_first for mismatched board, got %v", evt)
	}
}

func TestCreateAcksSenderAndBroadcastsToOthers(t *testing.T) {
	fx := newFixture()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	sa := fx.session(a)
	sb := fx.session(b)
	handle(sa, `{"type":"join","boardId":"alpha"}`)
	handle(sb, `{"type":"join","boardId":"alpha"}`)
	aBefore := a.count()

	handle(sa, `{"type":"create","boardId":"alpha","task":{"id":"t1","title":"buy milk"}}`)

	// A gets exactly one frame: its ack, never a broadcast copy.
	if got := a.count() - aBefore; got != 1 {
		t.Fatalf("originator received %d frames, want 1", got)
	}
	ack := a.lastEvent(t)
	if ack["type"] != domain.EventCreated {
		t.Fatalf("unexpected ack %v", ack)
	}
	evt := b.lastEvent(t)
	if evt["type"] != domain.EventCreated {
		t.Fatalf("peer missing broadcast, got %v", evt)
	}
	task := evt["task"].(map[string]any)
	if task["id"] != "t1" || task["title"] != "buy milk" || task["done"] != false {
		t.Fatalf("unexpected task %v", task)
	}
}

func TestCreateGeneratesIDWhenOmitted(t *testing.T) {
	fx := newFixture()
	conn := &fakeConn{id: "a"}
	s := fx.session(conn)
	handle(s, `{"type":"join","boardId":"alpha"}`)

	handle(s, `{"type":"create","boardId":"alpha","task":{"title":"  trimmed  "}}`)

	task := conn.lastEvent(t)["task"].(map[string]any)
	if task["id"] == "" {
		t.Fatal("expected server-generated id")
	}
	if task["title"] != "trimmed" {
		t.Fatalf("title not trimmed: %v", task["title"])
	}
}

func TestCreateEmptyTitleNeverReachesStorage(t *testing.T) {
	fx := newFixture()
	conn := &fakeConn{id: "a"}
	s := fx.session(conn)
	handle(s, `{"type":"join","boardId":"alpha"}`)

	handle(s, `{"type":"create","boardId":"alpha","task":{"title":"   "}}`)

	evt := conn.lastEvent(t)
	if evt["error"] != domain.ErrValidation {
		t.Fatalf("expected validation_error, got %v", evt)
	}
	issues := evt["issues"].([]any)
	if len(issues) != 1 || issues[0].(map[string]any)["path"] != "task.title" {
		t.Fatalf("unexpected issues %v", issues)
	}
	if fx.store.insertCalls != 0 {
		t.Fatal("empty title must be rejected before storage")
	}
}

func TestCreateStorageFailureNoFanout(t *testing.T) {
	fx := newFixture()
	fx.store.insertErr = errors.New("boom")
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	sa := fx.session(a)
	sb := fx.session(b)
	handle(sa, `{"type":"join","boardId":"alpha"}`)
	handle(sb, `{"type":"join","boardId":"alpha"}`)
	bBefore := b.count()

	handle(sa, `{"type":"create","boardId":"alpha","task":{"title":"x"}}`)

	if evt := a.lastEvent(t); evt["error"] != domain.ErrDBInsertFailed {
		t.Fatalf("expected db_insert_failed, got %v", evt)
	}
	if b.count() != bBefore {
		t.Fatal("failed mutation must not fan out")
	}
	if len(fx.cache.invalidated) != 0 {
		t.Fatal("failed mutation must not invalidate cache")
	}
}

func TestUpdatePartialMergeLaw(t *testing.T) {
	fx := newFixture()
	fx.store.tasks["alpha"] = []domain.Task{{ID: "t1", Title: "keep", Description: "desc"}}
	conn := &fakeConn{id: "a"}
	s := fx.session(conn)
	handle(s, `{"type":"join","boardId":"alpha"}`)

	handle(s, `{"type":"update","boardId":"alpha","task":{"id":"t1","done":true}}`)
	task := conn.lastEvent(t)["task"].(map[string]any)
	if task["title"] != "keep" || task["description"] != "desc" || task["done"] != true {
		t.Fatalf("done-only update touched other fields: %v", task)
	}

	handle(s, `{"type":"update","boardId":"alpha","task":{"id":"t1","title":"X"}}`)
	task = conn.lastEvent(t)["task"].(map[string]any)
	if task["title"] != "X" || task["done"] != true {
		t.Fatalf("title-only update touched done: %v", task)
	}
}

func TestUpdateUnknownIDNotFound(t *testing.T) {
	fx := newFixture()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	sa := fx.session(a)
	sb := fx.session(b)
	handle(sa, `{"type":"join","boardId":"alpha"}`)
	handle(sb, `{"type":"join","boardId":"alpha"}`)
	bBefore := b.count()

	handle(sa, `{"type":"update","boardId":"alpha","task":{"id":"ghost","done":true}}`)

	if evt := a.lastEvent(t); evt["error"] != domain.ErrNotFound {
		t.Fatalf("expected not_found, got %v", evt)
	}
	if b.count() != bBefore {
		t.Fatal("not_found must not fan out")
	}
}

func TestDeleteTwice(t *testing.T) {
	fx := newFixture()
	fx.store.tasks["alpha"] = []domain.Task{{ID: "t1", Title: "x"}}
	conn := &fakeConn{id: "a"}
	s := fx.session(conn)
	handle(s, `{"type":"join","boardId":"alpha"}`)

	handle(s, `{"type":"delete","boardId":"alpha","taskId":"t1"}`)
	evt := conn.lastEvent(t)
	if evt["type"] != domain.EventDeleted || evt["taskId"] != "t1" {
		t.Fatalf("unexpected event %v", evt)
	}

	handle(s, `{"type":"delete","boardId":"alpha","taskId":"t1"}`)
	if evt := conn.lastEvent(t); evt["error"] != domain.ErrNotFound {
		t.Fatalf("second delete must be not_found, got %v", evt)
	}
}

func TestRejoinMovesBoard(t *testing.T) {
	fx := newFixture()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	sa := fx.session(a)
	sb := fx.session(b)
	handle(sa, `{"type":"join","boardId":"alpha"}`)
	handle(sa, `{"type":"join","boardId":"beta"}`)
	handle(sb, `{"type":"join","boardId":"alpha"}`)
	aBefore := a.count()

	handle(sb, `{"type":"create","boardId":"alpha","task":{"title":"x"}}`)

	if a.count() != aBefore {
		t.Fatal("conn moved to another board must not receive old board events")
	}
}

func TestMalformedInputReplies(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		code  string
	}{
		{"invalid json", "{nope", domain.ErrInvalidJSON},
		{"unknown type", `{"type":"rename","boardId":"b"}`, domain.ErrUnknownType},
		{"validation", `{"type":"join"}`, domain.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture()
			conn := &fakeConn{id: "a"}
			s := fx.session(conn)
			handle(s, tc.frame)
			if evt := conn.lastEvent(t); evt["error"] != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, evt)
			}
		})
	}
}

func TestMutationsInvalidateCache(t *testing.T) {
	fx := newFixture()
	fx.store.tasks["alpha"] = []domain.Task{{ID: "t1", Title: "x"}}
	conn := &fakeConn{id: "a"}
	s := fx.session(conn)
	handle(s, `{"type":"join","boardId":"alpha"}`)

	handle(s, `{"type":"create","boardId":"alpha","task":{"title":"y"}}`)
	handle(s, `{"type":"update","boardId":"alpha","task":{"id":"t1","done":true}}`)
	handle(s, `{"type":"delete","boardId":"alpha","taskId":"t1"}`)

	if len(fx.cache.invalidated) != 3 {
		t.Fatalf("expected 3 invalidations, got %v", fx.cache.invalidated)
	}
	for _, board := range fx.cache.invalidated {
		if board != "alpha" {
			t.Fatalf("wrong board invalidated: %v", fx.cache.invalidated)
		}
	}
}
