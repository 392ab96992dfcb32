package config

import (
	"encoding/json"
	"os"

	"github.com/NadirInab/datavis-sub001/internal/client/policy"
	"github.com/NadirInab/datavis-sub001/internal/flagx"
	"github.com/NadirInab/datavis-sub001/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Sizes accept
// integers or strings like "64MiB"; intervals accept "3s" or nanoseconds.
// Absent or zero fields leave the current value alone.
type JsonConfig struct {
	DataDir         string          `json:"data_dir"`
	StorageBackend  string          `json:"storage_backend"`
	StorageCapacity policy.ByteSize `json:"storage_capacity"`
	Compress        *bool           `json:"compress"`

	RemoteKind          string         `json:"remote_kind"`
	RemoteAddr          string         `json:"remote_addr"`
	S3Region            string         `json:"s3_region"`
	S3Endpoint          string         `json:"s3_endpoint"`
	S3Bucket            string         `json:"s3_bucket"`
	S3AccessKey         string         `json:"s3_access_key"`
	S3SecretKey         string         `json:"s3_secret_key"`
	RemoteTimeout       timex.Duration `json:"remote_timeout"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	SyncMaxAttempts     int            `json:"sync_max_attempts"`

	RetentionFloor int `json:"retention_floor"`
	MaxRows        int `json:"max_rows"`
	MaxFieldLength int `json:"max_field_length"`
	RetentionDays  int `json:"retention_days"`

	TiersFile   string `json:"tiers_file"`
	AuthSecret  string `json:"auth_secret"`
	LogLevel    string `json:"log_level"`
	MetricsAddr string `json:"metrics_addr"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. It panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.StorageBackend, jc.StorageBackend)
	if jc.StorageCapacity != 0 {
		cfg.StorageCapacity = int64(jc.StorageCapacity)
	}
	if jc.Compress != nil {
		cfg.Compress = *jc.Compress
	}

	setString(&cfg.RemoteKind, jc.RemoteKind)
	setString(&cfg.RemoteAddr, jc.RemoteAddr)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	if jc.RemoteTimeout.Duration != 0 {
		cfg.RemoteTimeout = jc.RemoteTimeout.Duration
	}
	if jc.OnlineCheckInterval.Duration != 0 {
		cfg.OnlineCheckInterval = jc.OnlineCheckInterval.Duration
	}
	setInt(&cfg.SyncMaxAttempts, jc.SyncMaxAttempts)

	setInt(&cfg.RetentionFloor, jc.RetentionFloor)
	setInt(&cfg.MaxRows, jc.MaxRows)
	setInt(&cfg.MaxFieldLength, jc.MaxFieldLength)
	setInt(&cfg.RetentionDays, jc.RetentionDays)

	setString(&cfg.TiersFile, jc.TiersFile)
	setString(&cfg.AuthSecret, jc.AuthSecret)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.MetricsAddr, jc.MetricsAddr)
}
