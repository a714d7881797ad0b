package internal

import "time"

type Config struct {
	Host           string `env:"HOST,default=0.0.0.0"`
	Port           int    `env:"PORT,default=4000"`
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`

	// HistoryLimit caps the replayed history inside on_join.
	HistoryLimit int `env:"HISTORY_LIMIT,default=20"`
	// DeleteEmptyRooms discards the durable room row and its history
	// when the last member leaves. Off by default: an empty room keeps
	// its history until deleted explicitly.
	DeleteEmptyRooms bool `env:"DELETE_EMPTY_ROOMS,default=false"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=256"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=30s"`
	GCInterval           time.Duration `env:"GC_INTERVAL,default=5m"`
	DebugPort            int           `env:"DEBUG_PORT,default=8081"`
}
