package crpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

type ServerError string

func (e ServerError) Error() string {
	return string(e)
}

var ErrShutdown = errors.New("connection is shut down")
var ErrSequenceMismatch = errors.New("rpc: response sequence mismatch")

// Client is a synchronous RPC client. One call is in flight at a time;
// probe traffic is strictly request/response, so there is no need for
// the pending-call bookkeeping of an asynchronous client.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	enc    *cbor.Encoder
	dec    *cbor.Decoder
	seq    uint64
	closed bool
}

func NewClient(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		enc:  cbor.NewEncoder(conn),
		dec:  cbor.NewDecoder(conn),
	}
}

// Dial connects to an RPC server at the specified network address.
func Dial(network, address string) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// DialContext connects honoring the context's deadline and cancellation.
func DialContext(ctx context.Context, network, address string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// Call invokes the named method and waits for the reply. The context
// deadline bounds the whole exchange via the connection deadline.
func (c *Client) Call(ctx context.Context, serviceMethod string, args any, reply any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrShutdown
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return err
		}
	} else {
		if err := c.conn.SetDeadline(time.Time{}); err != nil {
			return err
		}
	}

	c.seq++
	req := &RequestHeader{
		Seq:    c.seq,
		Method: serviceMethod,
	}

	if err := c.enc.Encode(req); err != nil {
		return err
	}
	if err := c.enc.Encode(args); err != nil {
		return err
	}

	res := &ResponseHeader{}
	if err := c.dec.Decode(res); err != nil {
		return err
	}
	if res.Seq != req.Seq {
		return ErrSequenceMismatch
	}
	if res.Err != "" {
		return ServerError(res.Err)
	}

	return c.dec.Decode(reply)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrShutdown
	}
	c.closed = true
	return c.conn.Close()
}
