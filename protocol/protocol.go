// Package protocol decodes and validates inbound client frames. Handlers
// receive either a fully typed message or a structured failure; nothing past
// this package needs to re-check message shape.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/ommvpatel/Real-Time-Taskboard/domain"
)

const (
	TypeJoin   = "join"
	TypeCreate = "create"
	TypeUpdate = "update"
	TypeDelete = "delete"
)

// Verbs lists the message types a client may send, in protocol order.
var Verbs = []string{TypeJoin, TypeCreate, TypeUpdate, TypeDelete}

const maxDescriptionLen = 10_000

// ErrInvalidJSON reports an unparsable frame body.
var ErrInvalidJSON = errors.New("invalid json")

// UnknownTypeError reports a frame whose type field names no known verb.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// ValidationError aggregates field-level issues for a parsed but invalid
// frame.
type ValidationError struct {
	Issues []domain.Issue
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed with %d issue(s)", len(e.Issues))
}

// TaskFrame mirrors the task object of create/update frames. Pointer fields
// distinguish "absent" from "zero"; update merges only what is present.
type TaskFrame struct {
	ID          *string `json:"id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Done        *bool   `json:"done"`
}

// Message is a validated inbound frame. Task is non-nil for create and
// update; TaskID is set for delete.
type Message struct {
	Type    string
	BoardID string
	Task    *TaskFrame
	TaskID  string
}

type frame struct {
	Type    string     `json:"type"`
	BoardID *string    `json:"boardId"`
	Task    *TaskFrame `json:"task"`
	TaskID  *string    `json:"taskId"`
}

// Decode parses and validates a raw frame. On failure the returned error is
// ErrInvalidJSON, *UnknownTypeError, or *ValidationError.
func Decode(data []byte) (*Message, error) {
	var f frame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return nil, ErrInvalidJSON
	}

	switch f.Type {
	case TypeJoin, TypeCreate, TypeUpdate, TypeDelete:
	default:
		return nil, &UnknownTypeError{Type: f.Type}
	}

	var issues []domain.Issue
	boardID := deref(f.BoardID)
	if boardID == "" {
		issues = append(issues, domain.Issue{Path: "boardId", Message: "boardId required"})
	}

	msg := &Message{Type: f.Type, BoardID: boardID}

	switch f.Type {
	case TypeCreate:
		issues = append(issues, validateCreateTask(f.Task)...)
		msg.Task = f.Task
	case TypeUpdate:
		issues = append(issues, validateUpdateTask(f.Task)...)
		msg.Task = f.Task
	case TypeDelete:
		msg.TaskID = deref(f.TaskID)
		if msg.TaskID == "" {
			issues = append(issues, domain.Issue{Path: "taskId", Message: "id required"})
		}
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return msg, nil
}

func validateCreateTask(t *TaskFrame) []domain.Issue {
	if t == nil {
		return []domain.Issue{{Path: "task", Message: "task required"}}
	}
	var issues []domain.Issue
	if t.Title == nil || strings.TrimSpace(*t.Title) == "" {
		issues = append(issues, domain.Issue{Path: "task.title", Message: "title required"})
	}
	if t.ID != nil && *t.ID == "" {
		issues = append(issues, domain.Issue{Path: "task.id", Message: "id required"})
	}
	issues = append(issues, validateDescription(t.Description)...)
	return issues
}

func validateUpdateTask(t *TaskFrame) []domain.Issue {
	if t == nil {
		return []domain.Issue{{Path: "task", Message: "task required"}}
	}
	var issues []domain.Issue
	if t.ID == nil || *t.ID == "" {
		issues = append(issues, domain.Issue{Path: "task.id", Message: "id required"})
	}
	if t.Title != nil && strings.TrimSpace(*t.Title) == "" {
		issues = append(issues, domain.Issue{Path: "task.title", Message: "title required"})
	}
	issues = append(issues, validateDescription(t.Description)...)
	return issues
}

func validateDescription(d *string) []domain.Issue {
	if d != nil && len(*d) > maxDescriptionLen {
		return []domain.Issue{{Path: "task.description", Message: "description too long"}}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
