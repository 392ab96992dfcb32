package client

import (
	"context"
	"fmt"
	"net/http"
)

// Remote kinds accepted by New.
const (
	KindGRPC = "grpc"
	KindS3   = "s3"
	KindHTTP = "http"
	KindNone = "none"
)

// Settings selects and configures a Remote.
type Settings struct {
	Kind string
	Addr string
	S3   S3Options
}

// New builds the Remote named by s.Kind. KindNone (or "") yields a nil
// Remote: the engine then keeps every write local.
func New(ctx context.Context, s Settings) (Remote, error) {
	switch s.Kind {
	case KindGRPC:
		c, err := NewGRPCClient(s.Addr)
		if err != nil {
			return nil, err
		}
		return c, nil
	case KindS3:
		c, err := NewS3Client(ctx, s.S3)
		if err != nil {
			return nil, err
		}
		return c, nil
	case KindHTTP:
		return NewHTTPClient(s.Addr, &http.Client{}), nil
	case KindNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown remote kind %q", s.Kind)
	}
}
