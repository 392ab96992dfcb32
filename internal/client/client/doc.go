// Package client contains the remote file API collaborators the sync
// coordinator mirrors local writes to.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic contract (see the Remote interface): Ping,
//     Upload, Delete and List, each scoped to an owner identity.
//  2. A gRPC implementation (GRPCClient) that injects the bearer token and
//     the idempotency key as call metadata.
//  3. An S3 implementation (S3Client) storing one object per record under
//     <owner>/<recordID>.json.
//  4. A plain HTTP implementation (HTTPClient) for JSON REST backends.
//
// # Error Handling
//
// Transport failures surface as ErrUnavailable (which matches
// common.ErrNetworkUnavailable), rejected credentials as ErrUnauthorized,
// and anything else wraps common.ErrSyncFailed.
//
// Use New to build the implementation named in the configuration.
package client
