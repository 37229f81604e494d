package domain

// Task is a single item on a board. Identity is ID, unique per board.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Done        bool   `json:"done"`
}

// TaskPatch carries a partial update. Nil fields are left untouched by
// storage; only fields that were explicitly present in the client message
// overwrite the stored value.
type TaskPatch struct {
	ID          string  `json:"id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Done        *bool   `json:"done,omitempty"`
}
