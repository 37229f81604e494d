package domain

const (
	EventHello    = "hello"
	EventSnapshot = "snapshot"
	EventCreated  = "created"
	EventUpdated  = "updated"
	EventDeleted  = "deleted"
	EventError    = "error"
)

// Error codes surfaced to clients.
const (
	ErrInvalidJSON    = "invalid_json"
	ErrUnknownType    = "unknown_type"
	ErrValidation     = "validation_error"
	ErrJoinFirst      = "join_first"
	ErrNotFound       = "not_found"
	ErrDBSelectFailed = "db_select_failed"
	ErrDBInsertFailed = "db_insert_failed"
	ErrDBUpdateFailed = "db_update_failed"
	ErrDBDeleteFailed = "db_delete_failed"
)

// HelloEvent greets a freshly opened connection with the supported verbs.
type HelloEvent struct {
	Type     string   `json:"type"`
	OK       bool     `json:"ok"`
	Protocol []string `json:"protocol"`
}

// SnapshotEvent carries the full ordered task list for a board.
type SnapshotEvent struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
	Tasks   []Task `json:"tasks"`
}

// TaskEvent announces a created or updated task.
type TaskEvent struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
	Task    Task   `json:"task"`
}

// DeletedEvent announces a removed task.
type DeletedEvent struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
	TaskID  string `json:"taskId"`
}

// Issue is a field-level validation failure. Path addresses the offending
// position within the client message, e.g. "task.title".
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ErrorEvent reports a protocol, validation, state or storage failure to the
// sender. Issues is only set for validation errors.
type ErrorEvent struct {
	Type   string  `json:"type"`
	Error  string  `json:"error"`
	Issues []Issue `json:"issues,omitempty"`
}
