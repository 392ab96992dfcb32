package config

import (
	"path/filepath"
	"time"
)

// Config holds runtime settings for the datavis storage engine CLI.
//
// Units: sizes are bytes, intervals are time.Duration.
type Config struct {
	DataDir         string
	StorageBackend  string // sqlite or badger
	StorageCapacity int64  // 0 means unlimited
	Compress        bool

	RemoteKind          string // grpc, s3, http or none
	RemoteAddr          string
	S3Region            string
	S3Endpoint          string
	S3Bucket            string
	S3AccessKey         string
	S3SecretKey         string
	RemoteTimeout       time.Duration
	OnlineCheckInterval time.Duration
	SyncMaxAttempts     int

	RetentionFloor int
	MaxRows        int
	MaxFieldLength int
	RetentionDays  int

	TiersFile   string
	AuthSecret  string
	LogLevel    string
	MetricsAddr string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = ".datavis"
	c.StorageBackend = "sqlite"
	c.StorageCapacity = 100 << 20
	c.RemoteKind = "none"
	c.RemoteAddr = "127.0.0.1:50051"
	c.S3Region = "us-east-1"
	c.RemoteTimeout = 10 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.SyncMaxAttempts = 8
	c.RetentionFloor = 1
	c.MaxRows = 1000
	c.MaxFieldLength = 1024
	c.RetentionDays = 90
	c.LogLevel = "info"
}

// DatabasePath is the SQLite file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "datavis.db")
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
