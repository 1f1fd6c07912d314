package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	imageencrypt "github.com/zhulinyv/anr-plugin-image-encrypt"
)

// DefaultTimeout bounds each client call.
const DefaultTimeout = 30 * time.Second

// Client talks to a Scrambler server.
type Client struct {
	conn    *grpc.ClientConn
	Timeout time.Duration
}

// NewClient connects to target over an insecure channel. Extra options are
// applied after the defaults.
func NewClient(target string, opts ...grpc.DialOption) (*Client, error) {
	defaults := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		),
	}
	conn, err := grpc.NewClient(target, append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, Timeout: DefaultTimeout}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Transform sends an encoded image and returns the transformed encoding.
func (c *Client) Transform(ctx context.Context, data []byte, dir imageencrypt.Direction) ([]byte, error) {
	method := EncryptMethod
	if dir == imageencrypt.Inverse {
		method = DecryptMethod
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out := new(wrapperspb.BytesValue)
	if err := c.conn.Invoke(ctx, method, wrapperspb.Bytes(data), out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

// Capabilities calls the Capabilities RPC.
func (c *Client) Capabilities(ctx context.Context) (*structpb.Struct, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, CapabilitiesMethod, new(emptypb.Empty), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}
