package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"chatbridge/config"
	"chatbridge/internal/history"
	"chatbridge/internal/protocol"
)

// requestTimeout bounds requests that do not wait on the chat handler.
const requestTimeout = 10 * time.Second

// Client speaks the daemon protocol over one connection. A Client is not safe
// for concurrent use; open one per goroutine.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// NewClient connects to the daemon. address may be unix:///path/to.sock or a
// bare socket path.
func NewClient(address string) (*Client, error) {
	addr := strings.TrimPrefix(address, "unix://")

	conn, err := net.DialTimeout("unix", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	return &Client{conn: conn, reader: bufio.NewReader(conn)}, nil
}

// NewDefaultClient connects to the daemon socket in the config directory.
func NewDefaultClient() (*Client, error) {
	socketPath, err := config.GetSocketPath()
	if err != nil {
		return nil, err
	}
	return NewClient(socketPath)
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) write(req Request) error {
	data, err := EncodeRequest(req)
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(requestTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

func (c *Client) readLine() ([]byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return nil, fmt.Errorf("no response from daemon")
		}
		if !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read response: %w", err)
		}
	}
	return line, nil
}

// sendRequest writes req and reads a single response. A zero timeout waits
// until the daemon answers.
func (c *Client) sendRequest(req Request, timeout time.Duration) (Response, error) {
	if err := c.write(req); err != nil {
		return Response{}, err
	}

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	line, err := c.readLine()
	if err != nil {
		return Response{}, err
	}
	return DecodeResponse(line)
}

// Check asks the daemon whether its interpreter is available.
func (c *Client) Check() (bool, error) {
	resp, err := c.sendRequest(Request{Type: RequestCheck}, requestTimeout)
	if err != nil {
		return false, err
	}
	if err := resp.Err(); err != nil {
		return false, err
	}
	return resp.Available != nil && *resp.Available, nil
}

// Send runs a synchronous invocation through the daemon and returns the result
// with the history id it was recorded under, if any.
func (c *Client) Send(message string) (protocol.ChatResult, string, error) {
	resp, err := c.sendRequest(Request{Type: RequestSend, Message: message}, 0)
	if err != nil {
		return protocol.ChatResult{}, "", err
	}
	if err := resp.Err(); err != nil {
		return protocol.ChatResult{}, resp.ExchangeID, err
	}
	if resp.Result == nil {
		return protocol.ChatResult{}, resp.ExchangeID, fmt.Errorf("daemon returned no result")
	}
	return *resp.Result, resp.ExchangeID, nil
}

// Stream runs a streaming invocation through the daemon. fn receives every
// chunk in order; returning an error closes the connection, which makes the
// daemon abort the handler. The final response is returned once the daemon
// reports completion.
func (c *Client) Stream(message string, fn func(ChunkEvent) error) (Response, error) {
	if err := c.write(Request{Type: RequestStream, Message: message}); err != nil {
		return Response{}, err
	}

	for {
		line, err := c.readLine()
		if err != nil {
			return Response{}, err
		}
		ev, resp, err := decodeStreamLine(line)
		if err != nil {
			return Response{}, fmt.Errorf("decode stream line: %w", err)
		}
		if resp != nil {
			return *resp, resp.Err()
		}
		if err := fn(*ev); err != nil {
			c.Close()
			return Response{}, err
		}
	}
}

// Watch subscribes to every chunk the daemon publishes until ctx is done or
// the daemon goes away.
func (c *Client) Watch(ctx context.Context, fn func(ChunkEvent) error) error {
	resp, err := c.sendRequest(Request{Type: RequestWatch}, requestTimeout)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		ev, _, err := decodeStreamLine(line)
		if err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if ev == nil {
			continue
		}
		if err := fn(*ev); err != nil {
			return err
		}
	}
}

// History lists recent exchanges.
func (c *Client) History(limit int) ([]history.Exchange, error) {
	resp, err := c.sendRequest(Request{Type: RequestHistory, Limit: limit}, requestTimeout)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Exchanges, nil
}

// Exchange fetches one exchange with its units.
func (c *Client) Exchange(id string) (history.Exchange, error) {
	resp, err := c.sendRequest(Request{Type: RequestHistory, ExchangeID: id}, requestTimeout)
	if err != nil {
		return history.Exchange{}, err
	}
	if err := resp.Err(); err != nil {
		return history.Exchange{}, err
	}
	if len(resp.Exchanges) == 0 {
		return history.Exchange{}, history.ErrNotFound
	}
	return resp.Exchanges[0], nil
}

func (c *Client) Shutdown() error {
	resp, err := c.sendRequest(Request{Type: RequestShutdown}, requestTimeout)
	if err != nil {
		return err
	}
	return resp.Err()
}
