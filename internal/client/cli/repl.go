package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
// Commands receive the words following the command name.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context, args []string) error
	Logout(ctx context.Context) error
	Whoami(ctx context.Context) error
	Upload(ctx context.Context, args []string) error
	Paste(ctx context.Context, args []string) error
	List(ctx context.Context) error
	Show(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Stats(ctx context.Context) error
	Feature(ctx context.Context, args []string) error
	Share(ctx context.Context, args []string) error
	Sync(ctx context.Context) error
	Pending(ctx context.Context) error
	Cleanup(ctx context.Context, args []string) error
}

// commandUsage lists the commands that take a mandatory argument.
var commandUsage = map[string]string{
	"upload":  "upload <path> [format]",
	"paste":   "paste <name> [format]",
	"show":    "show <id>",
	"delete":  "delete <id>",
	"rm":      "rm <id>",
	"feature": "feature <name>",
	"share":   "share <id> [ttl]",
}

// runREPL reads commands line by line from in and dispatches them to a.
// Commands that need more input (paste) keep reading from the same reader.
// The loop exits on EOF or when the user types "exit" or "quit".
//
// Errors returned by command handlers are ignored here; handlers report
// their own failures to the user.
func runREPL(ctx context.Context, a execIface, statusFn func() string, in *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("dv> %s > ", statusFn()))
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if u, ok := commandUsage[cmd]; ok && len(args) == 0 {
			printlnFn("usage:", u)
			continue
		}

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: upload, paste, (l)ist, show, delete, stats, feature, share, sync, pending, cleanup, whoami, logout, exit")
			} else {
				printlnFn("Available commands: upload, paste, (l)ist, show, delete, stats, feature, sync, pending, whoami, login, exit")
			}

		case "login":
			_ = a.Login(ctx, args)

		case "logout":
			_ = a.Logout(ctx)

		case "whoami":
			_ = a.Whoami(ctx)

		case "upload":
			_ = a.Upload(ctx, args)

		case "paste":
			_ = a.Paste(ctx, args)

		case "l", "list":
			_ = a.List(ctx)

		case "show":
			_ = a.Show(ctx, args)

		case "delete", "rm":
			_ = a.Delete(ctx, args)

		case "stats":
			_ = a.Stats(ctx)

		case "feature":
			_ = a.Feature(ctx, args)

		case "share":
			_ = a.Share(ctx, args)

		case "sync":
			_ = a.Sync(ctx)

		case "pending":
			_ = a.Pending(ctx)

		case "cleanup":
			_ = a.Cleanup(ctx, args)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
