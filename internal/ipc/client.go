package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/voxline-ai/voxline/internal/billing"
	"github.com/voxline-ai/voxline/internal/history"
	"github.com/voxline-ai/voxline/internal/store"
)

// Client is the host-shell side of the agent socket. Each agent method has
// a typed wrapper; Subscribe turns the connection into an event stream.
type Client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	mu      sync.Mutex
	nextID  atomic.Int64

	// responses and events are demuxed by a background reader.
	pending map[string]chan Response
	eventCh chan Event
	pendMu  sync.Mutex
	done    chan struct{}
}

// Dial connects to the agent IPC socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial IPC socket: %w", err)
	}

	c := &Client{
		conn:    conn,
		scanner: bufio.NewScanner(conn),
		pending: make(map[string]chan Response),
		eventCh: make(chan Event, 64),
		done:    make(chan struct{}),
	}
	c.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	go c.readLoop()
	return c, nil
}

// Status reports the agent's call phase and balance view.
func (c *Client) Status() (*StatusResult, error) {
	var status StatusResult
	if err := c.call("status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Plans lists the purchasable offers.
func (c *Client) Plans() ([]billing.Offer, error) {
	var result PlansResult
	if err := c.call("plans", nil, &result); err != nil {
		return nil, err
	}
	return result.Offers, nil
}

// StartCall asks the agent to start a call. Balance gating happens on the
// agent side; a rejection comes back as an error.
func (c *Client) StartCall() error {
	return c.call("call.start", nil, nil)
}

// EndCall hangs up the active call.
func (c *Client) EndCall() error {
	return c.call("call.end", nil, nil)
}

// History returns up to limit recent calls, newest first.
func (c *Client) History(limit int) ([]history.Entry, error) {
	var result HistoryResult
	if err := c.call("history", HistoryParams{Limit: limit}, &result); err != nil {
		return nil, err
	}
	return result.Calls, nil
}

// BeginUpgrade creates a payment order for the offer.
func (c *Client) BeginUpgrade(offerID string) (*billing.Order, error) {
	var order billing.Order
	if err := c.call("upgrade.begin", UpgradeBeginParams{OfferID: offerID}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CompletePayment submits the checkout result and returns the credited
// balance.
func (c *Client) CompletePayment(res billing.PaymentResult) (*store.UsageRecord, error) {
	var rec store.UsageRecord
	params := UpgradeCompleteParams{
		OrderID:   res.OrderID,
		PaymentID: res.PaymentID,
		Signature: res.Signature,
	}
	if err := c.call("upgrade.complete", params, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CancelUpgrade abandons a pending order after a dismissed checkout.
func (c *Client) CancelUpgrade(orderID string) error {
	return c.call("upgrade.cancel", UpgradeCancelParams{OrderID: orderID}, nil)
}

// call sends one request and decodes the result into out (when non-nil).
// An error-typed response comes back as a Go error.
func (c *Client) call(method string, params any, out any) error {
	id := fmt.Sprintf("%d", c.nextID.Add(1))

	ch := make(chan Response, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()

	defer func() {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
	}()

	req := Request{ID: id, Method: method}
	if params != nil {
		req.Params, _ = json.Marshal(params)
	}

	if err := c.send(req); err != nil {
		return err
	}

	select {
	case resp := <-ch:
		if resp.Type == "error" {
			var e ErrorResult
			_ = json.Unmarshal(resp.Data, &e)
			if e.Error == "" {
				e.Error = "request failed"
			}
			return fmt.Errorf("%s: %s", method, e.Error)
		}
		if out != nil {
			return json.Unmarshal(resp.Data, out)
		}
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

// Subscribe sends a subscribe request. Events are delivered on the channel
// returned by Events().
func (c *Client) Subscribe(events ...string) error {
	id := fmt.Sprintf("%d", c.nextID.Add(1))
	req := Request{ID: id, Method: "subscribe"}
	if len(events) > 0 {
		req.Params, _ = json.Marshal(SubscribeParams{Events: events})
	}
	return c.send(req)
}

// Events returns the channel that receives subscribed events.
func (c *Client) Events() <-chan Event {
	return c.eventCh
}

// Close closes the connection.
func (c *Client) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.conn.Close()
}

func (c *Client) send(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

func (c *Client) readLoop() {
	defer func() {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
		close(c.eventCh)
	}()

	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			continue
		}

		if resp.Type == "event" {
			var evt Event
			if err := json.Unmarshal(resp.Data, &evt); err == nil {
				select {
				case c.eventCh <- evt:
				default:
				}
			}
			continue
		}

		if resp.ID != "" {
			c.pendMu.Lock()
			ch, ok := c.pending[resp.ID]
			c.pendMu.Unlock()
			if ok {
				ch <- resp
			}
		}
	}
}
