package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

/*************
 * In-process file service
 *************/

type call struct {
	method string
	req    map[string]any
	token  string
	key    string
}

type fakeFileService struct {
	mu    sync.Mutex
	calls []call
	files map[string]map[string]any
	fail  error
}

func (f *fakeFileService) handle(method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		md, _ := metadata.FromIncomingContext(ctx)
		c := call{method: method, req: in.AsMap()}
		if v := md.Get(common.AuthorizationHeaderName); len(v) > 0 {
			c.token = strings.TrimPrefix(v[0], "Bearer ")
		}
		if v := md.Get(common.IdempotencyKeyHeaderName); len(v) > 0 {
			c.key = v[0]
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls = append(f.calls, c)
		if f.fail != nil {
			return nil, f.fail
		}

		switch method {
		case "Ping":
			return structpb.NewStruct(map[string]any{"status": "OK"})
		case "Upload":
			r := c.req
			f.files[r["record_id"].(string)] = map[string]any{
				"owner":      r["owner"],
				"record_id":  r["record_id"],
				"name":       r["name"],
				"size":       float64(len(r["data"].(string))),
				"updated_at": "2025-05-01T10:00:00Z",
			}
			return &structpb.Struct{}, nil
		case "Delete":
			delete(f.files, c.req["record_id"].(string))
			return &structpb.Struct{}, nil
		case "List":
			var list []any
			for _, v := range f.files {
				if v["owner"] == c.req["owner"] {
					list = append(list, v)
				}
			}
			return structpb.NewStruct(map[string]any{"files": list})
		}
		return nil, status.Error(codes.Unimplemented, method)
	}
}

func (f *fakeFileService) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func startServer(t *testing.T) (*GRPCClient, *fakeFileService) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	fs := &fakeFileService{files: map[string]map[string]any{}}

	desc := grpc.ServiceDesc{ServiceName: ServiceName, HandlerType: (*interface{})(nil)}
	for _, m := range []string{"Ping", "Upload", "Delete", "List"} {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: m, Handler: fs.handle(m)})
	}
	srv.RegisterService(&desc, fs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := NewGRPCClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, fs
}

func TestGRPC_UploadListDelete(t *testing.T) {
	c, fs := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Ping(ctx))

	c.SetAccessToken("T1")
	require.NoError(t, c.Upload(ctx, &UploadRequest{
		Owner: "u1", RecordID: "r1", Name: "a.csv", Format: "csv",
		Data: []byte(`{"rows":[]}`), IdempotencyKey: "upload:r1:1",
	}))

	files, err := c.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "r1", files[0].RecordID)
	assert.Equal(t, "a.csv", files[0].Name)
	assert.Equal(t, int64(len(`{"rows":[]}`)), files[0].Size)
	assert.Equal(t, 2025, files[0].UpdatedAt.Year())

	require.NoError(t, c.Delete(ctx, "u1", "r1", "delete:r1"))
	files, err = c.List(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, files)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Len(t, fs.calls, 5)
	assert.Equal(t, "", fs.calls[0].token)
	assert.Equal(t, "T1", fs.calls[1].token)
	assert.Equal(t, "upload:r1:1", fs.calls[1].key)
	assert.Equal(t, "delete:r1", fs.calls[3].key)
	assert.Equal(t, "", fs.calls[2].key)
}

func TestGRPC_ServerErrorsAreMapped(t *testing.T) {
	c, fs := startServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fs.setFail(status.Error(codes.PermissionDenied, "nope"))
	require.ErrorIs(t, c.Upload(ctx, &UploadRequest{Owner: "u", RecordID: "r"}), ErrUnauthorized)

	fs.setFail(status.Error(codes.InvalidArgument, "bad payload"))
	err := c.Upload(ctx, &UploadRequest{Owner: "u", RecordID: "r"})
	require.ErrorIs(t, err, common.ErrSyncFailed)
	assert.Contains(t, err.Error(), "bad payload")
}

func TestGRPC_UnreachableServerIsUnavailable(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	require.NoError(t, lis.Close())

	c, err := NewGRPCClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = c.Ping(ctx)
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, common.ErrNetworkUnavailable)
}

/*************
 * Fake conn
 *************/

type fakeConn struct {
	lastMethod string
	lastCtx    context.Context
	reply      map[string]any
	err        error
}

func (f *fakeConn) Invoke(ctx context.Context, method string, args any, reply any, _ ...grpc.CallOption) error {
	f.lastMethod = method
	f.lastCtx = ctx
	if f.err != nil {
		return f.err
	}
	if f.reply != nil {
		s, err := structpb.NewStruct(f.reply)
		if err != nil {
			return err
		}
		reply.(*structpb.Struct).Fields = s.Fields
	}
	return nil
}

func (f *fakeConn) Close() error { return nil }

func TestPing_NotOK_ReturnsUnavailable(t *testing.T) {
	c := &GRPCClient{conn: &fakeConn{reply: map[string]any{"status": "DRAINING"}}}
	require.ErrorIs(t, c.Ping(context.Background()), ErrUnavailable)
}

func TestUpload_CarriesIdempotencyKeyInContext(t *testing.T) {
	f := &fakeConn{}
	c := &GRPCClient{conn: f}
	require.NoError(t, c.Upload(context.Background(), &UploadRequest{IdempotencyKey: "k"}))
	assert.Equal(t, MethodUpload, f.lastMethod)
	assert.Equal(t, "k", f.lastCtx.Value(idempotencyKey{}))
}

func TestInterceptor_InjectsMetadata(t *testing.T) {
	c := &GRPCClient{accessToken: "A1"}

	invoker := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		require.Equal(t, []string{"Bearer A1"}, md.Get(common.AuthorizationHeaderName))
		require.Equal(t, []string{"k1"}, md.Get(common.IdempotencyKeyHeaderName))
		return nil
	}

	ctx := WithIdempotencyKey(context.Background(), "k1")
	require.NoError(t, c.metadataInterceptor(ctx, "/svc/Method", nil, nil, nil, invoker))
}

func TestMapError(t *testing.T) {
	c := &GRPCClient{}

	require.Equal(t, ErrUnauthorized, c.mapError("m", status.Error(codes.Unauthenticated, "x")))
	require.Equal(t, ErrUnauthorized, c.mapError("m", status.Error(codes.PermissionDenied, "x")))
	require.Equal(t, ErrUnavailable, c.mapError("m", status.Error(codes.Unavailable, "x")))
	require.Equal(t, ErrUnavailable, c.mapError("m", status.Error(codes.DeadlineExceeded, "x")))
	require.ErrorIs(t, c.mapError("m", errors.New("plain")), common.ErrSyncFailed)
	require.NoError(t, c.mapError("m", nil))
}
