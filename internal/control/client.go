package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/drewfead/ticketd/internal/receive"
	"github.com/drewfead/ticketd/internal/ticket"
)

// RemoteError is an error returned by a daemon handler.
type RemoteError struct {
	Message string
	Code    string
}

func (e *RemoteError) Error() string { return e.Message }

// IsRejected reports whether err is a push rejection from the daemon.
func IsRejected(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == CodeRejected
}

// IsNotTicketRef reports whether the daemon ignored the ref.
func IsNotTicketRef(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == CodeNotTicketRef
}

// Client connects to the ticketd daemon.
type Client struct {
	conn      net.Conn
	scanner   *bufio.Scanner
	mu        sync.Mutex
	wmu       sync.Mutex
	pending   map[string]chan *Response
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

// NewClient creates a new daemon client.
func NewClient(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	c := &Client{
		conn:    conn,
		scanner: scanner,
		pending: make(map[string]chan *Response),
		events:  make(chan Event, 100),
		done:    make(chan struct{}),
	}
	c.connected.Store(true)

	go c.readLoop()
	return c, nil
}

// Close disconnects from the daemon.
func (c *Client) Close() error {
	c.connected.Store(false)
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}

// Events returns a channel of events from the daemon. It is closed when the
// connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Call makes an RPC call to the daemon and decodes the response data into
// out, which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	if !c.connected.Load() {
		return fmt.Errorf("not connected to daemon")
	}

	id := uuid.NewString()
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}

	respChan := make(chan *Response, 1)
	c.mu.Lock()
	c.pending[id] = respChan
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	encoded, err := json.Marshal(Request{Method: method, Params: paramsJSON, ID: id})
	if err != nil {
		return err
	}
	c.wmu.Lock()
	_, err = c.conn.Write(append(encoded, '\n'))
	c.wmu.Unlock()
	if err != nil {
		return err
	}

	var resp *Response
	select {
	case resp = <-respChan:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("client closed")
	}

	if resp.Error != "" {
		return &RemoteError{Message: resp.Error, Code: resp.Code}
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", method, err)
		}
	}
	return nil
}

// ReceivePush submits a ref update.
func (c *Client) ReceivePush(ctx context.Context, req ReceivePushRequest) (*receive.Result, error) {
	var res receive.Result
	if err := c.Call(ctx, MethodReceivePush, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetTicket retrieves a ticket snapshot. It returns (nil, nil) when the
// ticket does not exist.
func (c *Client) GetTicket(ctx context.Context, number int64) (*ticket.Ticket, error) {
	var t *ticket.Ticket
	if err := c.Call(ctx, MethodGetTicket, GetTicketRequest{Number: number}, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTickets retrieves ticket headers, optionally filtered by status.
func (c *Client) ListTickets(ctx context.Context, status ...ticket.Status) ([]*ticket.Ticket, error) {
	var tickets []*ticket.Ticket
	if err := c.Call(ctx, MethodListTickets, ListTicketsRequest{Status: status}, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// ListChanges retrieves the change journal of a ticket.
func (c *Client) ListChanges(ctx context.Context, number int64) ([]*ticket.Change, error) {
	var changes []*ticket.Change
	if err := c.Call(ctx, MethodListChanges, ListChangesRequest{Number: number}, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// readLoop is the only sender on events and closes it on disconnect.
func (c *Client) readLoop() {
	defer close(c.events)
	for c.scanner.Scan() {
		select {
		case <-c.done:
			return
		default:
		}

		line := c.scanner.Bytes()

		var envelope struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(line, &envelope) == nil && envelope.Type != "" {
			var event Event
			if json.Unmarshal(line, &event) == nil {
				select {
				case c.events <- event:
				default: // Drop if channel full
				}
			}
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.ID != "" {
			c.mu.Lock()
			if ch, ok := c.pending[resp.ID]; ok {
				ch <- &resp
			}
			c.mu.Unlock()
		}
	}

	c.connected.Store(false)
	c.closeOnce.Do(func() { close(c.done) })
}
