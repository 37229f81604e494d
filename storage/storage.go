// Package storage persists board tasks in Azure Table Storage. A board is a
// partition; a task id is a row key within it.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/ommvpatel/Real-Time-Taskboard/domain"
)

// ErrNotFound is returned when an update or delete names a task id that does
// not exist on the board.
var ErrNotFound = errors.New("task not found")

// Storage wraps the Azure Tables client used for task persistence.
type Storage struct {
	taskTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable string) (*Storage, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: svc.NewClient(tasksTable)}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Done        bool   `json:"Done"`
	CreatedAt   int64  `json:"CreatedAt"`
}

// taskMerge carries only the fields present in a partial update so the
// service-side merge leaves everything else untouched.
type taskMerge struct {
	aztables.Entity
	Title       *string `json:"Title,omitempty"`
	Description *string `json:"Description,omitempty"`
	Done        *bool   `json:"Done,omitempty"`
}

func taskFromEntity(ent taskEntity) domain.Task {
	return domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Done:        ent.Done,
	}
}

// SelectTasks retrieves every task on the board, ordered by creation time.
func (s *Storage) SelectTasks(ctx context.Context, boardID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + escapeKey(boardID) + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	ents := []taskEntity{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			ents = append(ents, ent)
		}
	}
	sort.SliceStable(ents, func(i, j int) bool { return ents[i].CreatedAt < ents[j].CreatedAt })
	tasks := make([]domain.Task, 0, len(ents))
	for _, ent := range ents {
		tasks = append(tasks, taskFromEntity(ent))
	}
	return tasks, nil
}

// InsertTask stores a new task on the board and returns it as persisted.
func (s *Storage) InsertTask(ctx context.Context, boardID string, task domain.Task) (domain.Task, error) {
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: boardID, RowKey: task.ID},
		Title:       task.Title,
		Description: task.Description,
		Done:        task.Done,
		CreatedAt:   time.Now().UnixNano(),
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// UpdateTask merges the patch into the stored task and returns the merged
// result. Fields absent from the patch keep their stored value. ErrNotFound
// when the id does not exist on the board.
func (s *Storage) UpdateTask(ctx context.Context, boardID string, patch domain.TaskPatch) (domain.Task, error) {
	merge := taskMerge{
		Entity:      aztables.Entity{PartitionKey: boardID, RowKey: patch.ID},
		Title:       patch.Title,
		Description: patch.Description,
		Done:        patch.Done,
	}
	payload, err := json.Marshal(merge)
	if err != nil {
		return domain.Task{}, err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &et,
		UpdateMode: aztables.UpdateModeMerge,
	})
	if err != nil {
		if isStatus(err, 404) {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, err
	}
	return s.getTask(ctx, boardID, patch.ID)
}

// DeleteTask removes the task. The boolean reports whether it existed.
func (s *Storage) DeleteTask(ctx context.Context, boardID, id string) (bool, error) {
	_, err := s.taskTable.DeleteEntity(ctx, boardID, id, nil)
	if err != nil {
		if isStatus(err, 404) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Storage) getTask(ctx context.Context, boardID, id string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, boardID, id, nil)
	if err != nil {
		if isStatus(err, 404) {
			return domain.Task{}, ErrNotFound
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	return taskFromEntity(ent), nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// escapeKey doubles single quotes for use inside an OData filter literal.
func escapeKey(k string) string {
	out := make([]byte, 0, len(k))
	for i := 0; i < len(k); i++ {
		if k[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, k[i])
	}
	return string(out)
}
