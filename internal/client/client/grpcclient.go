package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/NadirInab/datavis-sub001/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names of the remote file API. Requests and responses
// are google.protobuf.Struct messages.
const (
	ServiceName   = "datavis.files.v1.FileService"
	MethodPing    = "/" + ServiceName + "/Ping"
	MethodUpload  = "/" + ServiceName + "/Upload"
	MethodDelete  = "/" + ServiceName + "/Delete"
	MethodList    = "/" + ServiceName + "/List"
	pingStatusOK  = "OK"
	listFilesKey  = "files"
	timeLayoutRPC = time.RFC3339Nano
)

type invoker interface {
	Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error
	Close() error
}

type GRPCClient struct {
	endpointURL string
	conn        invoker

	mu          sync.RWMutex
	accessToken string
}

type idempotencyKey struct{}

// WithIdempotencyKey attaches key to calls made with ctx.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

func withOutgoing(ctx context.Context, token, key string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	if token != "" {
		md.Set(common.AuthorizationHeaderName, "Bearer "+token)
	}
	if key != "" {
		md.Set(common.IdempotencyKeyHeaderName, key)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) metadataInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	key, _ := ctx.Value(idempotencyKey{}).(string)
	ctx = withOutgoing(ctx, s.token(), key)
	return invoker(ctx, method, req, reply, cc, opts...)
}

func NewGRPCClient(endpointURL string, opts ...grpc.DialOption) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.metadataInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(endpointURL, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (s *GRPCClient) token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *GRPCClient) SetAccessToken(token string) {
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func (s *GRPCClient) call(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	out := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, method, in, out); err != nil {
		return nil, s.mapError(method, err)
	}
	return out, nil
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	resp, err := s.call(ctx, MethodPing, nil)
	if err != nil {
		return err
	}
	if resp.GetFields()["status"].GetStringValue() != pingStatusOK {
		return ErrUnavailable
	}
	return nil
}

func (s *GRPCClient) Upload(ctx context.Context, req *UploadRequest) error {
	ctx = WithIdempotencyKey(ctx, req.IdempotencyKey)
	_, err := s.call(ctx, MethodUpload, map[string]any{
		"owner":     req.Owner,
		"record_id": req.RecordID,
		"name":      req.Name,
		"format":    req.Format,
		"data":      string(req.Data),
	})
	return err
}

func (s *GRPCClient) Delete(ctx context.Context, owner, recordID, key string) error {
	ctx = WithIdempotencyKey(ctx, key)
	_, err := s.call(ctx, MethodDelete, map[string]any{"owner": owner, "record_id": recordID})
	return err
}

func (s *GRPCClient) List(ctx context.Context, owner string) ([]models.RemoteFile, error) {
	resp, err := s.call(ctx, MethodList, map[string]any{"owner": owner})
	if err != nil {
		return nil, err
	}

	var files []models.RemoteFile
	for _, v := range resp.GetFields()[listFilesKey].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		updated, _ := time.Parse(timeLayoutRPC, f["updated_at"].GetStringValue())
		files = append(files, models.RemoteFile{
			Owner:     f["owner"].GetStringValue(),
			RecordID:  f["record_id"].GetStringValue(),
			Name:      f["name"].GetStringValue(),
			Size:      int64(f["size"].GetNumberValue()),
			UpdatedAt: updated,
		})
	}
	return files, nil
}

func (s *GRPCClient) mapError(method string, err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return ErrUnavailable
	default:
		return syncFailed("rpc "+method, err)
	}
}
