package consts

const (
	// EventsChannel is the Redis pub/sub channel shared by every server
	// instance for cross-instance fanout.
	EventsChannel = "taskboard-events"

	// TasksCachePrefix prefixes Redis keys holding cached board snapshots.
	TasksCachePrefix = "ts:"
)
