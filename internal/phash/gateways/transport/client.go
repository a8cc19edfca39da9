package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
	"github.com/user1303836/x-gif-blocker/internal/phash/gateways/wire"
)

const DefaultClientTimeout = 20 * time.Second

const (
	errCodecRequired   = "codec is required"
	errFailedToConnect = "failed to connect: %w"
	errEncodeFailed    = "encode failed: %w"
	errWriteFailed     = "write failed: %w"
	errReadFailed      = "read failed: %w"
)

// DialFunc opens a network connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Client sends requests to a UDPTransport.
type Client struct {
	addr    string
	codec   wire.Codec
	timeout time.Duration
	dial    DialFunc
}

type ClientOptions struct {
	Addr    string
	Codec   wire.Codec
	Timeout time.Duration
	Dial    DialFunc
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Codec == nil {
		return nil, fmt.Errorf(errCodecRequired)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultClientTimeout
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{}).DialContext
	}
	return &Client{addr: opts.Addr, codec: opts.Codec, timeout: opts.Timeout, dial: opts.Dial}, nil
}

// Do sends req and waits for the matching reply. An ID is assigned when req
// has none.
func (c *Client) Do(ctx context.Context, req domain.ServiceRequest) (domain.ServiceReply, error) {
	if req.ID == "" {
		req.ID = xid.New().String()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.dial(ctx, "udp", c.addr)
	if err != nil {
		return domain.ServiceReply{}, fmt.Errorf(errFailedToConnect, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	data, err := c.codec.EncodeRequest(req)
	if err != nil {
		return domain.ServiceReply{}, fmt.Errorf(errEncodeFailed, err)
	}

	type result struct {
		reply domain.ServiceReply
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		if _, err := conn.Write(data); err != nil {
			resultCh <- result{err: fmt.Errorf(errWriteFailed, err)}
			return
		}
		buffer := make([]byte, wire.MaxMessageSize)
		n, err := conn.Read(buffer)
		if err != nil {
			resultCh <- result{err: fmt.Errorf(errReadFailed, err)}
			return
		}
		reply, err := c.codec.DecodeReply(buffer[:n], req.ID)
		resultCh <- result{reply: reply, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.reply, r.err
	case <-ctx.Done():
		return domain.ServiceReply{}, ctx.Err()
	}
}
