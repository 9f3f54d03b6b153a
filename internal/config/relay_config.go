package config

import "time"

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	// Broker channels
	MessagesChannel    = "messages"
	ConnectionsChannel = "connections"

	DefaultSubscriberBuffer = 64

	// Publishing after a commit is detached from the caller's context and
	// bounded by this timeout instead.
	PublishTimeout = 5 * time.Second

	// Cached connection indexes are rebuilt from the store once this old.
	DefaultIndexTTL = 5 * time.Minute

	// WebSocket
	WriteWait      = 10 * time.Second
	PongWait       = 60 * time.Second
	PingPeriod     = (PongWait * 9) / 10
	MaxFrameSize   = 8192
	ClientSendSize = 256

	// Postgres listener reconnect window
	ListenerMinReconnect = 2 * time.Second
	ListenerMaxReconnect = time.Minute
)
