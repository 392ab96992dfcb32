// Package flagx lets several configuration layers pick their own flags out of
// os.Args without tripping over each other's unknown flags.
package flagx

import (
	"flag"
	"io"
	"os"
	"strings"
)

// FilterArgs returns the subset of args made of allowed flags and their values.
//
// Supported formats:
//  1. Flag and value as separate arguments:  -c conf.json
//  2. Flag and value combined with '=':      -config=conf.json
//
// A token that starts with '-' is never taken as a value. The result is never nil.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; !ok {
			continue
		}
		filtered = append(filtered, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// StringFlag looks up a single string flag in os.Args under any of the given
// names (without the leading dash). The last occurrence wins; "" if absent.
func StringFlag(names ...string) string {
	var value string

	dashed := make([]string, len(names))
	for i, n := range names {
		dashed[i] = "-" + n
	}
	args := FilterArgs(os.Args[1:], dashed)

	fs := flag.NewFlagSet(names[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	for _, n := range names {
		fs.StringVar(&value, n, "", "")
	}
	_ = fs.Parse(args)

	return value
}

// JsonConfigFlags returns the config file path given via -c or -config.
func JsonConfigFlags() string {
	return StringFlag("config", "c")
}
