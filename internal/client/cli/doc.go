// Package cli provides the interactive datavis command-line client.
//
// It wires configuration, the local store, the quota gate, the usage
// tracker and the remote mirror into an interactive REPL. Visitors can use
// it straight away: the device identity is resolved on first use and every
// command runs against the visitor tier until a token is supplied.
//
// Key features:
//   - login / logout with a signed access token
//   - upload, paste, list, show and delete of stored files
//   - stats, feature checks and share links
//   - sync and pending for the remote mirror queue
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// A background watcher pings the remote and drains queued operations when
// it becomes reachable.
package cli
