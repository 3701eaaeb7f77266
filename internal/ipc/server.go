package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/voxline-ai/voxline/internal/billing"
	"github.com/voxline-ai/voxline/internal/eventbus"
)

// Server listens on a Unix socket and serves IPC requests.
type Server struct {
	path     string
	listener net.Listener
	provider Provider
	bus      *eventbus.Bus
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[net.Conn]struct{}
	done    chan struct{}
}

// NewServer creates an IPC server.
func NewServer(socketPath string, provider Provider, bus *eventbus.Bus, logger *slog.Logger) *Server {
	return &Server{
		path:     socketPath,
		provider: provider,
		bus:      bus,
		logger:   logger.With("component", "ipc-server"),
		clients:  make(map[net.Conn]struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins listening on the Unix socket. Non-blocking.
func (s *Server) Start() error {
	// Remove stale socket.
	_ = os.Remove(s.path)

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	s.listener = ln

	// Only the owning user may drive calls and purchases.
	_ = os.Chmod(s.path, 0600)

	go s.acceptLoop()
	s.logger.Info("IPC server listening", "path", s.path)
	return nil
}

// Close shuts down the server and all client connections.
func (s *Server) Close() error {
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for c := range s.clients {
		_ = c.Close()
	}
	s.clients = make(map[net.Conn]struct{})
	s.mu.Unlock()

	_ = os.Remove(s.path)
	return err
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Warn("accept error", "error", err)
				continue
			}
		}

		s.mu.Lock()
		s.clients[conn] = struct{}{}
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

func (s *Server) removeClient(conn net.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.removeClient(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = s.writeResponse(conn, Response{Type: "error", Data: marshalRaw(ErrorResult{Error: "invalid request"})})
			continue
		}

		s.handleRequest(conn, req)
	}
}

func (s *Server) handleRequest(conn net.Conn, req Request) {
	ctx := context.Background()

	switch req.Method {
	case "status":
		_ = s.writeResponse(conn, Response{ID: req.ID, Type: "result", Data: marshalRaw(s.provider.Status())})

	case "plans":
		_ = s.writeResponse(conn, Response{ID: req.ID, Type: "result", Data: marshalRaw(PlansResult{Offers: s.provider.Offers()})})

	case "call.start":
		if err := s.provider.StartCall(ctx); err != nil {
			s.writeError(conn, req.ID, err)
			return
		}
		_ = s.writeResponse(conn, Response{ID: req.ID, Type: "result", Data: marshalRaw(map[string]string{"status": "starting"})})

	case "call.end":
		s.provider.EndCall()
		_ = s.writeResponse(conn, Response{ID: req.ID, Type: "result", Data: marshalRaw(map[string]string{"status": "ending"})})

	case "history":
		var params HistoryParams
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &params)
		}
		calls, err := s.provider.History(ctx, params.Limit)
		if err != nil {
			s.writeError(conn, req.ID, err)
			return
		}
		_ = s.writeResponse(conn, Response{ID: req.ID, Type: "result", Data: marshalRaw(HistoryResult{Calls: calls})})

	case "upgrade.begin":
		var params UpgradeBeginParams
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &params)
		}
		order, err := s.provider.BeginUpgrade(ctx, params.OfferID)
		if err != nil {
			s.writeError(conn, req.ID, err)
			return
		}
		_ = s.writeResponse(conn, Response{ID: req.ID, Type: "result", Data: marshalRaw(order)})

	case "upgrade.complete":
		var params UpgradeCompleteParams
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &params)
		}
		rec, err := s.provider.CompletePayment(ctx, billing.PaymentResult{
			OrderID:   params.OrderID,
			PaymentID: params.PaymentID,
			Signature: params.Signature,
		})
		if err != nil {
			s.writeError(conn, req.ID, err)
			return
		}
		_ = s.writeResponse(conn, Response{ID: req.ID, Type: "result", Data: marshalRaw(rec)})

	case "upgrade.cancel":
		var params UpgradeCancelParams
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &params)
		}
		s.provider.CancelUpgrade(params.OrderID)
		_ = s.writeResponse(conn, Response{ID: req.ID, Type: "result", Data: marshalRaw(map[string]string{"status": "cancelled"})})

	case "subscribe":
		var params SubscribeParams
		if req.Params != nil {
			_ = json.Unmarshal(req.Params, &params)
		}
		s.handleSubscribe(conn, req.ID, params)

	default:
		_ = s.writeResponse(conn, Response{ID: req.ID, Type: "error", Data: marshalRaw(ErrorResult{Error: "unknown method: " + req.Method})})
	}
}

func (s *Server) writeError(conn net.Conn, reqID string, err error) {
	_ = s.writeResponse(conn, Response{ID: reqID, Type: "error", Data: marshalRaw(ErrorResult{Error: err.Error()})})
}

// handleSubscribe streams bus events to the client until it disconnects.
// The connection is dedicated to the stream from this point on.
func (s *Server) handleSubscribe(conn net.Conn, reqID string, params SubscribeParams) {
	sub := s.bus.Subscribe(params.Events...)
	defer s.bus.Unsubscribe(sub)

	_ = s.writeResponse(conn, Response{ID: reqID, Type: "result", Data: marshalRaw(map[string]string{"status": "subscribed"})})

	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			resp := Response{
				Type: "event",
				Data: marshalRaw(Event{
					Type:      evt.Type,
					Timestamp: evt.Timestamp,
					Data:      evt.Data,
				}),
			}
			if err := s.writeResponse(conn, resp); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	if err != nil {
		if !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("write error", "error", err)
		}
	}
	return err
}

func marshalRaw(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
