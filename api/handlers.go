// Package api registers the HTTP surface: health, board snapshots, and the
// WebSocket endpoint.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/ommvpatel/Real-Time-Taskboard/domain"
)

// Storage abstracts the task read path for the snapshot endpoint.
type Storage interface {
	SelectTasks(ctx context.Context, boardID string) ([]domain.Task, error)
}

// Cache serves recent snapshots without a storage round trip.
type Cache interface {
	Get(ctx context.Context, boardID string) ([]domain.Task, bool)
	Set(ctx context.Context, boardID string, tasks []domain.Task)
}

type healthResponse struct {
	OK bool `json:"ok"`
}

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, cache Cache, wsHandler echo.HandlerFunc, logger *log.Logger) {
	e.GET("/health", health)
	e.GET("/tasks", getTasks(store, cache, logger))
	e.GET("/ws", wsHandler)
}

func health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{OK: true})
}

// getTasks returns the board's tasks in creation order. Clients hit this for
// a one-shot snapshot before opening the live channel.
func getTasks(store Storage, cache Cache, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		boardID := c.QueryParam("boardId")
		if boardID == "" {
			return c.String(http.StatusBadRequest, "boardId required")
		}
		ctx := c.Request().Context()
		if tasks, ok := cache.Get(ctx, boardID); ok {
			return c.JSON(http.StatusOK, tasks)
		}
		tasks, err := store.SelectTasks(ctx, boardID)
		if err != nil {
			logger.WithError(err).WithField("board", boardID).Error("snapshot read failed")
			return c.String(http.StatusInternalServerError, "storage failure")
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		cache.Set(ctx, boardID, tasks)
		return c.JSON(http.StatusOK, tasks)
	}
}
