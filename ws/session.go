// Package ws serves the WebSocket protocol: one session per connection,
// join-before-mutate, storage-backed mutations acknowledged to the sender
// and fanned out to everyone else.
package ws

import (
	"context"
	"errors"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ommvpatel/Real-Time-Taskboard/domain"
	"github.com/ommvpatel/Real-Time-Taskboard/fanout"
	"github.com/ommvpatel/Real-Time-Taskboard/protocol"
	"github.com/ommvpatel/Real-Time-Taskboard/registry"
	"github.com/ommvpatel/Real-Time-Taskboard/storage"
)

// Storage abstracts task persistence for sessions.
type Storage interface {
	SelectTasks(ctx context.Context, boardID string) ([]domain.Task, error)
	InsertTask(ctx context.Context, boardID string, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, boardID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, boardID, id string) (bool, error)
}

// Cache is notified after successful mutations so stale snapshots are not
// served to reconnecting clients.
type Cache interface {
	Invalidate(ctx context.Context, boardID string)
}

// session is the per-connection protocol state machine. A connection starts
// unjoined; board holds the joined board key once a join succeeds. Messages
// from one connection arrive strictly in order (single read loop), so board
// needs no lock.
type session struct {
	conn   registry.Conn
	reg    *registry.Registry
	engine *fanout.Engine
	store  Storage
	cache  Cache
	logger *log.Logger

	board string
}

func newSession(conn registry.Conn, reg *registry.Registry, engine *fanout.Engine, store Storage, cache Cache, logger *log.Logger) *session {
	return &session{conn: conn, reg: reg, engine: engine, store: store, cache: cache, logger: logger}
}

// Handle processes one inbound frame. Every failure mode replies to the
// sender; nothing here closes the connection.
func (s *session) Handle(ctx context.Context, data []byte) {
	m, ctx := newMessageMetrics(ctx, s.logger)
	msg, err := protocol.Decode(data)
	if err != nil {
		code := decodeErrorCode(err)
		m.SetType("invalid")
		m.SetErrorCode(code)
		var verr *protocol.ValidationError
		if errors.As(err, &verr) {
			s.sendError(code, verr.Issues)
		} else {
			s.sendError(code, nil)
		}
		m.Log()
		return
	}
	m.SetType(msg.Type)

	switch msg.Type {
	case protocol.TypeJoin:
		s.handleJoin(ctx, m, msg)
	case protocol.TypeCreate:
		s.handleCreate(ctx, m, msg)
	case protocol.TypeUpdate:
		s.handleUpdate(ctx, m, msg)
	case protocol.TypeDelete:
		s.handleDelete(ctx, m, msg)
	}
	m.Log()
}

func decodeErrorCode(err error) string {
	var (
		uerr *protocol.UnknownTypeError
		verr *protocol.ValidationError
	)
	switch {
	case errors.Is(err, protocol.ErrInvalidJSON):
		return domain.ErrInvalidJSON
	case errors.As(err, &uerr):
		return domain.ErrUnknownType
	case errors.As(err, &verr):
		return domain.ErrValidation
	}
	return domain.ErrInvalidJSON
}

// handleJoin is valid in any state; re-join replaces the prior board. The
// registry drops the connection from its previous board on re-register.
func (s *session) handleJoin(ctx context.Context, m *messageMetrics, msg *protocol.Message) {
	s.reg.Register(msg.BoardID, s.conn)
	s.board = msg.BoardID

	tasks, err := s.store.SelectTasks(ctx, msg.BoardID)
	if err != nil {
		// Still joined: snapshot retry is the client's call via re-join.
		s.logger.WithError(err).WithField("board", msg.BoardID).Error("snapshot read failed")
		m.SetErrorCode(domain.ErrDBSelectFailed)
		s.sendError(domain.ErrDBSelectFailed, nil)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	s.sendEvent(domain.SnapshotEvent{Type: domain.EventSnapshot, BoardID: msg.BoardID, Tasks: tasks})
}

func (s *session) handleCreate(ctx context.Context, m *messageMetrics, msg *protocol.Message) {
	if !s.joined(msg.BoardID) {
		m.SetErrorCode(domain.ErrJoinFirst)
		s.sendError(domain.ErrJoinFirst, nil)
		return
	}
	t := msg.Task
	task := domain.Task{
		ID:    uuid.NewString(),
		Title: strings.TrimSpace(*t.Title),
	}
	if t.ID != nil {
		task.ID = *t.ID
	}
	if t.Description != nil {
		task.Description = *t.Description
	}
	if t.Done != nil {
		task.Done = *t.Done
	}

	stored, err := s.store.InsertTask(ctx, msg.BoardID, task)
	if err != nil {
		s.logger.WithError(err).WithField("board", msg.BoardID).Error("task insert failed")
		m.SetErrorCode(domain.ErrDBInsertFailed)
		s.sendError(domain.ErrDBInsertFailed, nil)
		return
	}
	s.cache.Invalidate(ctx, msg.BoardID)
	s.ackAndFan(ctx, msg.BoardID, domain.TaskEvent{Type: domain.EventCreated, BoardID: msg.BoardID, Task: stored})
}

func (s *session) handleUpdate(ctx context.Context, m *messageMetrics, msg *protocol.Message) {
	if !s.joined(msg.BoardID) {
		m.SetErrorCode(domain.ErrJoinFirst)
		s.sendError(domain.ErrJoinFirst, nil)
		return
	}
	t := msg.Task
	patch := domain.TaskPatch{ID: *t.ID, Description: t.Description, Done: t.Done}
	if t.Title != nil {
		trimmed := strings.TrimSpace(*t.Title)
		patch.Title = &trimmed
	}

	merged, err := s.store.UpdateTask(ctx, msg.BoardID, patch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.SetErrorCode(domain.ErrNotFound)
			s.sendError(domain.ErrNotFound, nil)
			return
		}
		s.logger.WithError(err).WithFields(log.Fields{"board": msg.BoardID, "task": patch.ID}).Error("task update failed")
		m.SetErrorCode(domain.ErrDBUpdateFailed)
		s.sendError(domain.ErrDBUpdateFailed, nil)
		return
	}
	s.cache.Invalidate(ctx, msg.BoardID)
	s.ackAndFan(ctx, msg.BoardID, domain.TaskEvent{Type: domain.EventUpdated, BoardID: msg.BoardID, Task: merged})
}

func (s *session) handleDelete(ctx context.Context, m *messageMetrics, msg *protocol.Message) {
	if !s.joined(msg.BoardID) {
		m.SetErrorCode(domain.ErrJoinFirst)
		s.sendError(domain.ErrJoinFirst, nil)
		return
	}
	existed, err := s.store.DeleteTask(ctx, msg.BoardID, msg.TaskID)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"board": msg.BoardID, "task": msg.TaskID}).Error("task delete failed")
		m.SetErrorCode(domain.ErrDBDeleteFailed)
		s.sendError(domain.ErrDBDeleteFailed, nil)
		return
	}
	if !existed {
		m.SetErrorCode(domain.ErrNotFound)
		s.sendError(domain.ErrNotFound, nil)
		return
	}
	s.cache.Invalidate(ctx, msg.BoardID)
	s.ackAndFan(ctx, msg.BoardID, domain.DeletedEvent{Type: domain.EventDeleted, BoardID: msg.BoardID, TaskID: msg.TaskID})
}

func (s *session) joined(boardID string) bool {
	return s.board != "" && s.board == boardID
}

// ackAndFan sends the event to the originator as its ack, then broadcasts to
// everyone else locally and relays to other instances.
func (s *session) ackAndFan(ctx context.Context, boardID string, event any) {
	data, err := sonic.Marshal(event)
	if err != nil {
		s.logger.WithError(err).Error("failed to marshal event")
		return
	}
	if err := s.conn.Send(data); err != nil {
		s.logger.WithError(err).WithField("conn", s.conn.ID()).Debug("ack send failed")
	}
	s.engine.Fan(ctx, boardID, data, s.conn.ID())
}

func (s *session) sendEvent(event any) {
	data, err := sonic.Marshal(event)
	if err != nil {
		s.logger.WithError(err).Error("failed to marshal event")
		return
	}
	if err := s.conn.Send(data); err != nil {
		s.logger.WithError(err).WithField("conn", s.conn.ID()).Debug("send failed")
	}
}

func (s *session) sendError(code string, issues []domain.Issue) {
	s.sendEvent(domain.ErrorEvent{Type: domain.EventError, Error: code, Issues: issues})
}
