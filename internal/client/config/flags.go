package config

import (
	"flag"
	"os"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/policy"
	"github.com/NadirInab/datavis-sub001/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   data directory
//	-a string   remote address (host:port for grpc, base URL for http)
//	-k string   remote kind: grpc, s3, http or none
//	-i int      online check interval in seconds
//	-t string   tier table YAML file
//	-s string   storage capacity, e.g. 64MiB
//
// os.Args is filtered with flagx.FilterArgs so flags owned by other layers
// (-c/-config) do not trip the parser.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-a", "-k", "-i", "-t", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.RemoteAddr, "a", cfg.RemoteAddr, "remote address")
	fs.StringVar(&cfg.RemoteKind, "k", cfg.RemoteKind, "remote kind (grpc, s3, http, none)")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.TiersFile, "t", cfg.TiersFile, "tier table YAML file")
	capacity := fs.String("s", "", "storage capacity (e.g. 64MiB)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	if *capacity != "" {
		n, err := policy.ParseByteSize(*capacity)
		if err != nil {
			panic(err)
		}
		cfg.StorageCapacity = n
	}
}
