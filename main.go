package main

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ommvpatel/Real-Time-Taskboard/api"
	"github.com/ommvpatel/Real-Time-Taskboard/fanout"
	"github.com/ommvpatel/Real-Time-Taskboard/internal/consts"
	"github.com/ommvpatel/Real-Time-Taskboard/registry"
	"github.com/ommvpatel/Real-Time-Taskboard/storage"
	"github.com/ommvpatel/Real-Time-Taskboard/ws"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	if connStr == "" || tasksTableName == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, tasksTableName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(parseRedisOptions(redisConn))

	cacheTTL := 30 * time.Second
	if v := os.Getenv("SNAPSHOT_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid SNAPSHOT_CACHE_TTL: %v", err)
		}
		cacheTTL = d
	}
	cache := storage.NewCache(rc, cacheTTL)

	instanceID := uuid.NewString()
	reg := registry.New()
	engine := fanout.New(instanceID, reg, rc, consts.EventsChannel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	heartbeat := ws.DefaultHeartbeatInterval
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid HEARTBEAT_INTERVAL: %v", err)
		}
		heartbeat = d
	}
	go ws.RunHeartbeat(ctx, reg, heartbeat)

	logger := log.StandardLogger()
	wsHandler := ws.NewHandler(reg, engine, store, cache, logger)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	api.Register(e, store, cache, wsHandler.Serve, logger)

	log.WithField("instance", instanceID).Info("taskboard instance starting")

	listenAddr := ":3002"
	if val, ok := os.LookupEnv("TASKBOARD_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// parseRedisOptions accepts a redis URL or an Azure-style comma-separated
// connection string.
func parseRedisOptions(connStr string) *redis.Options {
	opts, err := redis.ParseURL(connStr)
	if err == nil {
		return opts
	}
	parts := strings.Split(connStr, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
