package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	pb "github.com/gusmmm/theparser/proto"
)

// DefaultTimeout bounds one ParseDocuments call.
const DefaultTimeout = 5 * time.Minute

// GRPCClient sends batches to a ParseService.
type GRPCClient struct {
	conn    *grpc.ClientConn
	client  pb.ParseServiceClient
	timeout time.Duration
}

// WithMaxMessageBytes sets the send and receive limits of every call on the
// connection.
func WithMaxMessageBytes(n int) grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(n), grpc.MaxCallSendMsgSize(n))
}

// Dial connects to a ParseService at addr over plaintext. Message limits
// default to pb.DefaultMaxMessageBytes; opts are applied after the defaults.
func Dial(addr string, timeout time.Duration, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		WithMaxMessageBytes(pb.DefaultMaxMessageBytes),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("parser: dial %s: %w", addr, err)
	}
	c := NewGRPCClient(conn, timeout)
	c.conn = conn
	return c, nil
}

// NewGRPCClient wraps an existing connection. timeout <= 0 uses DefaultTimeout.
func NewGRPCClient(cc grpc.ClientConnInterface, timeout time.Duration) *GRPCClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GRPCClient{client: pb.NewParseServiceClient(cc), timeout: timeout}
}

// Close releases the connection opened by Dial.
func (c *GRPCClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Parse submits every path in one call.
func (c *GRPCClient) Parse(ctx context.Context, paths []string) ([]Result, error) {
	req := &pb.ParseRequest{Files: make([]pb.File, 0, len(paths))}
	for _, p := range paths {
		f, err := readFile(p)
		if err != nil {
			return nil, err
		}
		req.Files = append(req.Files, f)
	}
	if len(paths) > 0 {
		req.Subject = filepath.Base(filepath.Dir(paths[0]))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.ParseDocuments(ctx, req)
	if err != nil {
		st := status.Convert(err)
		return nil, fmt.Errorf("parser: ParseDocuments (%s): %s: %w", st.Code(), st.Message(), err)
	}
	out := make([]Result, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, fromProto(r))
	}
	return out, nil
}

// Capabilities asks the backend what it accepts.
func (c *GRPCClient) Capabilities(ctx context.Context) (*pb.CapabilitiesResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	resp, err := c.client.Capabilities(ctx, &pb.CapabilitiesRequest{})
	if err != nil {
		return nil, fmt.Errorf("parser: Capabilities: %w", err)
	}
	return resp, nil
}
