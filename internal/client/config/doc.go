// Package config loads runtime configuration for the datavis CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-d string   data directory
//	-a string   remote address
//	-k string   remote kind: grpc, s3, http or none
//	-i int      online status check interval (seconds)
//	-t string   tier table YAML file
//	-s string   storage capacity, e.g. 64MiB
//
// # JSON schema
//
// Intervals use timex.Duration and sizes policy.ByteSize, so both accept
// human strings or plain integers:
//
//	{
//	  "data_dir": "/var/lib/datavis",
//	  "storage_backend": "badger",
//	  "storage_capacity": "64MiB",
//	  "remote_kind": "s3",
//	  "s3_endpoint": "http://127.0.0.1:9000",
//	  "s3_bucket": "datavis",
//	  "online_check_interval": "3s",
//	  "metrics_addr": ":9102"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
