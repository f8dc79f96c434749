package grpcx

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client — клиент ChatService для gateway и интеграционных тестов.
type Client struct {
	cc      grpc.ClientConnInterface
	timeout time.Duration
}

type ClientOptions struct {
	Target  string
	Timeout time.Duration
}

// Dial создаёт клиент поверх нового соединения (insecure, TLS терминирует балансировщик).
func Dial(opts ClientOptions, dialOpts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	if opts.Target == "" {
		return nil, nil, fmt.Errorf("chat client: empty target")
	}
	dialOpts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, dialOpts...)
	conn, err := grpc.NewClient(opts.Target, dialOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("chat client: new client failed: %w", err)
	}
	return NewClient(conn, opts.Timeout), conn, nil
}

func NewClient(cc grpc.ClientConnInterface, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{cc: cc, timeout: timeout}
}

// Call вызывает метод ChatService от имени владельца токена.
func (c *Client) Call(ctx context.Context, token, method string, in map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, fmt.Errorf("chat client: encode %s: %w", method, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, mdAuthorization, "Bearer "+token)
	}

	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
